// Package twofactor owns the ephemeral login-confirmation requests: one live
// request per player, resolved by a Telegram button press carrying the
// request's own code, or expired by timeout.
package twofactor

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/lunaris-team/bindery/internal/binding"
	"github.com/lunaris-team/bindery/internal/codegen"
	"github.com/lunaris-team/bindery/internal/config"
	"github.com/lunaris-team/bindery/internal/gameserver"
	"github.com/lunaris-team/bindery/internal/lang"
	"github.com/lunaris-team/bindery/internal/models"
	"github.com/patrickmn/go-cache"
	"github.com/sirupsen/logrus"
	"gopkg.in/telebot.v4"
)

// Request is a pending confirmation. Held in memory only: a restart simply
// drops outstanding prompts, which then read as invalid.
type Request struct {
	PlayerName string
	ChatID     int64
	MessageID  int
	Code       string
	Expiry     time.Time
}

// MessageSig implements telebot.Editable so the prompt can be edited later.
func (r *Request) MessageSig() (string, int64) {
	return strconv.Itoa(r.MessageID), r.ChatID
}

type Resolution int

const (
	// ResolveInvalid covers a missing request and a code mismatch; a
	// mismatch does not consume the live request.
	ResolveInvalid Resolution = iota
	ResolveConfirmed
	ResolveDenied
)

type Service struct {
	bot      telebot.API
	bindings *binding.Service
	gateway  gameserver.Gateway
	codes    *codegen.Generator

	// requests is keyed by normalized player name. Logical expiry lives in
	// Request.Expiry; the cache TTL only guards against leaked entries.
	requests *cache.Cache

	timeout time.Duration
	mode    string
	now     func() time.Time
}

func New(bot telebot.API, bindings *binding.Service, gateway gameserver.Gateway, codes *codegen.Generator, timeout time.Duration, mode string) *Service {
	return &Service{
		bot:      bot,
		bindings: bindings,
		gateway:  gateway,
		codes:    codes,
		requests: cache.New(timeout+time.Hour, 10*time.Minute),
		timeout:  timeout,
		mode:     mode,
		now:      time.Now,
	}
}

// Start begins a confirmation for a player who just logged in. No-op unless
// the player's bound identity enabled 2FA and, in after_password mode, the
// primary authentication step completed. The session is frozen until the
// request resolves or expires.
func (s *Service) Start(ctx context.Context, playerName, ip string) error {
	enabled, err := s.bindings.TwoFactorEnabled(ctx, playerName)
	if err != nil {
		return fmt.Errorf("checking 2fa flag: %w", err)
	}
	if !enabled {
		return nil
	}

	if s.mode == config.TwoFactorModeAfterPassword {
		done, err := s.gateway.PrimaryAuthCompleted(ctx, playerName)
		if err != nil {
			return fmt.Errorf("checking primary auth: %w", err)
		}
		if !done {
			return nil
		}
	}

	telegramID, ok, err := s.bindings.TelegramIDByPlayerName(ctx, playerName)
	if err != nil {
		return fmt.Errorf("resolving identity: %w", err)
	}
	if !ok {
		return nil
	}

	code, err := s.codes.Generate()
	if err != nil {
		return fmt.Errorf("generating code: %w", err)
	}

	name := models.NormalizeName(playerName)
	markup := &telebot.ReplyMarkup{
		InlineKeyboard: [][]telebot.InlineButton{{
			{
				Text: lang.Get("twofactor-confirm-button", nil),
				Data: fmt.Sprintf("2fa:confirm:%s:%s", name, code),
			},
			{
				Text: lang.Get("twofactor-deny-button", nil),
				Data: fmt.Sprintf("2fa:deny:%s:%s", name, code),
			},
		}},
	}

	prompt := lang.Get("twofactor-prompt", map[string]string{"player": playerName, "ip": ip})
	msg, err := s.bot.Send(&telebot.Chat{ID: telegramID}, prompt, markup, telebot.ModeHTML)
	if err != nil {
		return fmt.Errorf("sending prompt: %w", err)
	}

	if err := s.gateway.Freeze(ctx, playerName); err != nil {
		return fmt.Errorf("freezing session: %w", err)
	}

	// A rapid second login supersedes the previous request; its stale
	// prompt fails the code check from now on.
	s.requests.Set(name, &Request{
		PlayerName: name,
		ChatID:     telegramID,
		MessageID:  msg.ID,
		Code:       code,
		Expiry:     s.now().Add(s.timeout),
	}, cache.DefaultExpiration)

	return nil
}

// Request returns the live request for the player, deleting it lazily when
// already past expiry.
func (s *Service) Request(playerName string) (*Request, bool) {
	name := models.NormalizeName(playerName)
	raw, ok := s.requests.Get(name)
	if !ok {
		return nil, false
	}
	req := raw.(*Request)
	if s.now().After(req.Expiry) {
		s.requests.Delete(name)
		return nil, false
	}
	return req, true
}

// Resolve handles a confirm/deny button press. The supplied code must match
// the live request's code exactly; otherwise the request is left untouched
// and the press reported invalid.
func (s *Service) Resolve(ctx context.Context, playerName, code string, confirm bool) (Resolution, error) {
	name := models.NormalizeName(playerName)

	req, ok := s.Request(name)
	if !ok || req.Code != code {
		return ResolveInvalid, nil
	}

	s.requests.Delete(name)

	if confirm {
		if err := s.gateway.CompleteAuthStep(ctx, name); err != nil {
			return ResolveConfirmed, fmt.Errorf("completing auth step: %w", err)
		}
		if err := s.gateway.Unfreeze(ctx, name); err != nil {
			return ResolveConfirmed, fmt.Errorf("unfreezing session: %w", err)
		}
		return ResolveConfirmed, nil
	}

	if err := s.gateway.Kick(ctx, name, lang.Get("twofactor-denied-kick", nil)); err != nil {
		return ResolveDenied, fmt.Errorf("kicking player: %w", err)
	}
	return ResolveDenied, nil
}

// CleanupExpired terminates every request past expiry: the waiting session is
// kicked (timeout counts as denial) and the prompt edited to say so.
func (s *Service) CleanupExpired(ctx context.Context) {
	now := s.now()
	for name, item := range s.requests.Items() {
		req, ok := item.Object.(*Request)
		if !ok || !now.After(req.Expiry) {
			continue
		}

		logger := logrus.WithField("player", name)

		if err := s.gateway.Kick(ctx, name, lang.Get("twofactor-expired-kick", nil)); err != nil {
			logger.Errorf("failed to kick on 2fa expiry: %v", err)
		}

		expired := lang.Get("twofactor-expired", map[string]string{"player": req.PlayerName})
		if _, err := s.bot.Edit(req, expired); err != nil {
			logger.Errorf("failed to edit expired prompt: %v", err)
		}

		s.requests.Delete(name)
	}
}

// Toggle flips the per-account 2FA preference.
func (s *Service) Toggle(ctx context.Context, playerName string) (bool, error) {
	return s.bindings.ToggleTwoFactor(ctx, playerName)
}

func (s *Service) Status(ctx context.Context, playerName string) (bool, error) {
	return s.bindings.TwoFactorEnabled(ctx, playerName)
}

// RunCleaner sweeps expired requests on a fixed interval until ctx is done.
// The sweep is independent of the poll loop; the lazy checks in Request and
// Resolve remain the correctness backstop.
func (s *Service) RunCleaner(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		select {
		case <-t.C:
			s.CleanupExpired(ctx)
		case <-ctx.Done():
			return
		}
	}
}
