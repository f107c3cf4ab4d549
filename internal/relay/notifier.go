// Package relay fans game-server notifications out to bound Telegram
// identities.
package relay

import (
	"context"
	"fmt"

	"github.com/lunaris-team/bindery/internal/binding"
	"github.com/lunaris-team/bindery/internal/events"
	"github.com/lunaris-team/bindery/internal/lang"
	"github.com/lunaris-team/bindery/internal/models"
	"github.com/sirupsen/logrus"
	"gopkg.in/telebot.v4"
)

type Notifier struct {
	bot      telebot.API
	bindings *binding.Service
}

func New(bot telebot.API, bindings *binding.Service) *Notifier {
	return &Notifier{bot: bot, bindings: bindings}
}

// NotifyPlayer relays a message to the player's bound identity, honoring the
// per-account notification preference. Unbound players and disabled
// preferences drop the message silently.
func (n *Notifier) NotifyPlayer(ctx context.Context, playerName, message string) error {
	enabled, err := n.bindings.NotificationsEnabled(ctx, playerName)
	if err != nil {
		return fmt.Errorf("checking preference: %w", err)
	}
	if !enabled {
		return nil
	}

	telegramID, ok, err := n.bindings.TelegramIDByPlayerName(ctx, playerName)
	if err != nil {
		return fmt.Errorf("resolving identity: %w", err)
	}
	if !ok {
		return nil
	}

	if _, err := n.bot.Send(&telebot.Chat{ID: telegramID}, message, telebot.ModeHTML); err != nil {
		return fmt.Errorf("sending notification: %w", err)
	}
	return nil
}

// HandleUnbound notifies the identity about security-relevant unbinds (admin
// force, external deauthorization), bypassing the notification preference.
// User-requested unbinds get their feedback in the unbind flow itself.
func (n *Notifier) HandleUnbound(ctx context.Context, ev events.AccountUnbound) {
	if !ev.Cause.SecurityRelevant() {
		return
	}

	key := "admin-unbind-notification"
	if ev.Cause == models.UnbindCauseDeauth {
		key = "deauth-unbind-notification"
	}
	message := lang.Get(key, map[string]string{"player": ev.PlayerName})

	if _, err := n.bot.Send(&telebot.Chat{ID: ev.TelegramID}, message, telebot.ModeHTML); err != nil {
		logrus.Errorf("failed to notify %d about unbind of %q: %v", ev.TelegramID, ev.PlayerName, err)
	}
}
