package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/lunaris-team/bindery/internal/api"
	"github.com/lunaris-team/bindery/internal/binding"
	"github.com/lunaris-team/bindery/internal/bot"
	"github.com/lunaris-team/bindery/internal/codegen"
	"github.com/lunaris-team/bindery/internal/config"
	"github.com/lunaris-team/bindery/internal/events"
	"github.com/lunaris-team/bindery/internal/gameserver"
	"github.com/lunaris-team/bindery/internal/logging"
	"github.com/lunaris-team/bindery/internal/relay"
	"github.com/lunaris-team/bindery/internal/storage"
	"github.com/lunaris-team/bindery/internal/twofactor"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"gopkg.in/telebot.v4"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func main() {
	config.SetupCommon()
	logging.Init()

	cfg := config.New()
	logrus.Debugf("config: %+v", cfg)

	db, err := gorm.Open(openDialector(cfg), &gorm.Config{})
	if err != nil {
		logrus.Fatalf("Failed to connect to database: %v", err)
	}

	store := storage.New(db)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	initCtx, migrateCancel := context.WithTimeout(ctx, 10*time.Second)
	defer migrateCancel()

	if err := store.Migrate(initCtx); err != nil {
		logrus.Fatalf("Failed to migrate database: %v", err)
	}

	offset, err := store.GetOffset(initCtx)
	if err != nil {
		logrus.Fatalf("Failed to load poll offset: %v", err)
	}

	b, err := telebot.NewBot(botSettings(cfg, offset))
	if err != nil {
		logrus.Fatalf("Failed to create bot: %v", err)
	}

	codes, err := codegen.New(cfg.CodeBytes)
	if err != nil {
		logrus.Fatalf("Failed to create code generator: %v", err)
	}

	bus := events.NewBus()
	bindings := binding.New(store, codes, bus, cfg.BindingCodeTimeout)
	gateway := gameserver.NewClient(cfg.GameServerURL, cfg.GameServerToken)
	twoFactor := twofactor.New(b, bindings, gateway, codes, cfg.TwoFactorTimeout, cfg.TwoFactorMode)
	notifier := relay.New(b, bindings)
	bus.SubscribeUnbound(notifier.HandleUnbound)

	bot.New(cfg, store, bindings, twoFactor, gateway, b.Me.Username).Register(b)

	e := echo.New()
	e.HideBanner = true
	api.NewService(cfg, bindings, twoFactor, notifier).Register(e)

	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		b.Start()
		return nil
	})
	eg.Go(func() error {
		if err := e.Start(cfg.APIListenAddr); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	eg.Go(func() error {
		bindings.RunCleaner(ctx, cfg.CleanupInterval)
		return nil
	})
	eg.Go(func() error {
		twoFactor.RunCleaner(ctx, cfg.CleanupInterval)
		return nil
	})
	eg.Go(func() error {
		<-ctx.Done()
		b.Stop()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		return e.Shutdown(shutdownCtx)
	})

	logrus.Info("bindery is up")
	if err := eg.Wait(); err != nil {
		logrus.Fatalf("Service stopped with error: %v", err)
	}
}

// botSettings builds the poller resuming from the persisted offset. The
// stored offset is the next update to fetch, telebot wants the last one
// already confirmed. Synchronous dispatch is required: handlers persist the
// offset and mutate per-player state in update order.
func botSettings(cfg *config.Config, offset int) telebot.Settings {
	lastUpdateID := 0
	if offset > 0 {
		lastUpdateID = offset - 1
	}
	return telebot.Settings{
		Token:       cfg.TelegramToken,
		Synchronous: true,
		Poller: &telebot.LongPoller{
			Timeout:        cfg.PollTimeout,
			LastUpdateID:   lastUpdateID,
			AllowedUpdates: []string{"message", "callback_query"},
		},
	}
}

func openDialector(cfg *config.Config) gorm.Dialector {
	if cfg.StorageProvider == config.StorageProviderSqlite {
		return sqlite.Open(cfg.SqlitePath)
	}
	return postgres.Open(cfg.PostgresDSN)
}
