// Package binding owns the bind/unbind state machine. A player name's state
// is derived, never stored: a permanent row means confirmed, a live temporary
// code means pending, anything else is not bound.
package binding

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/lunaris-team/bindery/internal/codegen"
	"github.com/lunaris-team/bindery/internal/events"
	"github.com/lunaris-team/bindery/internal/models"
	"github.com/lunaris-team/bindery/internal/storage"
	"github.com/sirupsen/logrus"
)

var (
	// ErrAlreadyBound is returned when the player name has a permanent
	// binding, to this or any other identity.
	ErrAlreadyBound = errors.New("player name is already bound")
	// ErrPendingExists is returned when the player name already has an
	// outstanding binding code.
	ErrPendingExists = errors.New("player name has a pending binding")
	// ErrNotBoundToIdentity is returned when unbinding a name the identity
	// does not own.
	ErrNotBoundToIdentity = errors.New("player name is not bound to this identity")
)

type Service struct {
	storage *storage.Storage
	codes   *codegen.Generator
	bus     *events.Bus

	codeTimeout time.Duration
	now         func() time.Time
}

func New(store *storage.Storage, codes *codegen.Generator, bus *events.Bus, codeTimeout time.Duration) *Service {
	return &Service{
		storage:     store,
		codes:       codes,
		bus:         bus,
		codeTimeout: codeTimeout,
		now:         time.Now,
	}
}

// Status derives the player's binding state. A confirmed binding always wins
// over a pending code.
func (s *Service) Status(ctx context.Context, playerName string) (models.BindingStatus, error) {
	bound, err := s.storage.IsPlayerNameBound(ctx, playerName)
	if err != nil {
		return "", fmt.Errorf("checking binding: %w", err)
	}
	if bound {
		return models.BindingStatusConfirmed, nil
	}

	code, err := s.storage.FindTemporaryCodeByPlayerName(ctx, models.CodeKindBind, playerName)
	if err != nil {
		return "", fmt.Errorf("checking temporary binding: %w", err)
	}
	if code != nil && !code.Expired(s.now()) {
		return models.BindingStatusPending, nil
	}
	return models.BindingStatusNotBound, nil
}

// InitiateBinding issues a bind code for the (player, identity) pair. The
// returned code is confirmed in-game; nothing permanent is written here.
func (s *Service) InitiateBinding(ctx context.Context, playerName string, telegramID int64) (string, error) {
	bound, err := s.storage.IsPlayerNameBound(ctx, playerName)
	if err != nil {
		return "", fmt.Errorf("checking binding: %w", err)
	}
	if bound {
		return "", ErrAlreadyBound
	}

	existing, err := s.storage.FindTemporaryCodeByPlayerName(ctx, models.CodeKindBind, playerName)
	if err != nil {
		return "", fmt.Errorf("checking temporary binding: %w", err)
	}
	if existing != nil {
		if !existing.Expired(s.now()) {
			return "", ErrPendingExists
		}
		// Stale leftover; lazily replaced rather than blocking the player.
		if err := s.storage.DeleteTemporaryCode(ctx, models.CodeKindBind, existing.Code); err != nil {
			return "", fmt.Errorf("deleting stale code: %w", err)
		}
	}

	code, err := s.codes.Generate()
	if err != nil {
		return "", fmt.Errorf("generating code: %w", err)
	}

	if err := s.storage.CreateTemporaryCode(ctx, &models.TemporaryCode{
		Code:       code,
		Kind:       models.CodeKindBind,
		TelegramID: telegramID,
		PlayerName: playerName,
		ExpiresAt:  s.now().Add(s.codeTimeout),
	}); err != nil {
		return "", fmt.Errorf("creating temporary binding: %w", err)
	}
	return code, nil
}

// ConfirmBinding consumes a bind code and promotes it to a permanent binding.
// Bound-event subscribers may veto the result, in which case the permanent
// record is rolled back and the confirmation reports failure.
func (s *Service) ConfirmBinding(ctx context.Context, playerName, code string) (bool, error) {
	bound, outcome, err := s.storage.ConfirmBindCode(ctx, playerName, code, s.now())
	if err != nil {
		return false, fmt.Errorf("confirming bind code: %w", err)
	}
	if outcome != storage.ConsumeOK {
		return false, nil
	}

	if err := s.bus.PublishBound(ctx, events.AccountBound{
		TelegramID: bound.TelegramID,
		PlayerName: bound.PlayerName,
	}); err != nil {
		logrus.Warnf("binding of %q to %d vetoed: %v", bound.PlayerName, bound.TelegramID, err)
		if _, rmErr := s.storage.RemoveBinding(ctx, bound.TelegramID, bound.PlayerName); rmErr != nil {
			return false, fmt.Errorf("rolling back vetoed binding: %w", rmErr)
		}
		return false, nil
	}
	return true, nil
}

// InitiateUnbinding issues an unbind code for a name the identity owns.
func (s *Service) InitiateUnbinding(ctx context.Context, telegramID int64, playerName string) (string, error) {
	binding, err := s.storage.GetBindingByPlayerName(ctx, playerName)
	if err != nil {
		return "", fmt.Errorf("getting binding: %w", err)
	}
	if binding == nil || binding.TelegramID != telegramID {
		return "", ErrNotBoundToIdentity
	}

	// One outstanding unbind code per (identity, player) pair.
	if err := s.storage.DeleteTemporaryCodesForPair(ctx, models.CodeKindUnbind, telegramID, playerName); err != nil {
		return "", fmt.Errorf("dropping previous unbind codes: %w", err)
	}

	code, err := s.codes.Generate()
	if err != nil {
		return "", fmt.Errorf("generating code: %w", err)
	}

	if err := s.storage.CreateTemporaryCode(ctx, &models.TemporaryCode{
		Code:       code,
		Kind:       models.CodeKindUnbind,
		TelegramID: telegramID,
		PlayerName: playerName,
		ExpiresAt:  s.now().Add(s.codeTimeout),
	}); err != nil {
		return "", fmt.Errorf("creating unbind code: %w", err)
	}
	return code, nil
}

// ConfirmUnbinding consumes an unbind code and removes the permanent binding.
func (s *Service) ConfirmUnbinding(ctx context.Context, playerName, code string) (bool, error) {
	row, outcome, err := s.storage.ConfirmUnbindCode(ctx, playerName, code, s.now())
	if err != nil {
		return false, fmt.Errorf("confirming unbind code: %w", err)
	}
	if outcome != storage.ConsumeOK {
		return false, nil
	}

	s.bus.PublishUnbound(ctx, events.AccountUnbound{
		TelegramID: row.TelegramID,
		PlayerName: row.PlayerName,
		Cause:      models.UnbindCauseUserRequest,
	})
	return true, nil
}

// RemoveBinding unconditionally severs a binding; used for admin force-unbind
// and external deauthorization as well as internal rollbacks.
func (s *Service) RemoveBinding(ctx context.Context, telegramID int64, playerName string, cause models.UnbindCause) (bool, error) {
	removed, err := s.storage.RemoveBinding(ctx, telegramID, playerName)
	if err != nil {
		return false, fmt.Errorf("removing binding: %w", err)
	}
	if removed {
		s.bus.PublishUnbound(ctx, events.AccountUnbound{
			TelegramID: telegramID,
			PlayerName: models.NormalizeName(playerName),
			Cause:      cause,
		})
	}
	return removed, nil
}

// CancelTemporaryBinding discards a pending bind code (cancel button).
func (s *Service) CancelTemporaryBinding(ctx context.Context, code string) error {
	return s.storage.DeleteTemporaryCode(ctx, models.CodeKindBind, code)
}

func (s *Service) BoundPlayerNames(ctx context.Context, telegramID int64) ([]string, error) {
	return s.storage.BoundPlayerNames(ctx, telegramID)
}

func (s *Service) IsPlayerNameBound(ctx context.Context, playerName string) (bool, error) {
	return s.storage.IsPlayerNameBound(ctx, playerName)
}

// TelegramIDByPlayerName resolves the bound identity, reporting whether one
// exists.
func (s *Service) TelegramIDByPlayerName(ctx context.Context, playerName string) (int64, bool, error) {
	binding, err := s.storage.GetBindingByPlayerName(ctx, playerName)
	if err != nil {
		return 0, false, err
	}
	if binding == nil {
		return 0, false, nil
	}
	return binding.TelegramID, true, nil
}

func (s *Service) ToggleNotifications(ctx context.Context, playerName string) (bool, error) {
	return s.storage.ToggleNotifications(ctx, playerName)
}

func (s *Service) NotificationsEnabled(ctx context.Context, playerName string) (bool, error) {
	binding, err := s.storage.GetBindingByPlayerName(ctx, playerName)
	if err != nil {
		return false, err
	}
	return binding != nil && binding.NotificationsEnabled, nil
}

func (s *Service) TwoFactorEnabled(ctx context.Context, playerName string) (bool, error) {
	binding, err := s.storage.GetBindingByPlayerName(ctx, playerName)
	if err != nil {
		return false, err
	}
	return binding != nil && binding.TwoFactorEnabled, nil
}

func (s *Service) SetTwoFactor(ctx context.Context, playerName string, enabled bool) error {
	return s.storage.SetTwoFactor(ctx, playerName, enabled)
}

// ToggleTwoFactor flips the per-account 2FA preference and returns the new
// value.
func (s *Service) ToggleTwoFactor(ctx context.Context, playerName string) (bool, error) {
	enabled, err := s.TwoFactorEnabled(ctx, playerName)
	if err != nil {
		return false, err
	}
	if err := s.SetTwoFactor(ctx, playerName, !enabled); err != nil {
		return false, err
	}
	return !enabled, nil
}

// CleanupExpired drops all temporary codes past expiry. The confirm paths
// check expiry on their own, so the sweep is pure hygiene.
func (s *Service) CleanupExpired(ctx context.Context) (int64, error) {
	return s.storage.DeleteExpiredTemporaryCodes(ctx, s.now())
}

// RunCleaner sweeps expired codes on a fixed interval until ctx is done.
func (s *Service) RunCleaner(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()

	logger := logrus.WithField("component", "binding_cleaner")

	for {
		select {
		case <-t.C:
			deleted, err := s.CleanupExpired(ctx)
			if err != nil {
				logger.Errorf("failed to clean up expired codes: %v", err)
				continue
			}
			if deleted > 0 {
				logger.Infof("removed %d expired codes", deleted)
			}
		case <-ctx.Done():
			return
		}
	}
}
