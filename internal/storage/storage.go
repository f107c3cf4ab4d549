package storage

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/lunaris-team/bindery/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ConsumeOutcome classifies the result of a transactional code confirmation.
type ConsumeOutcome int

const (
	ConsumeOK ConsumeOutcome = iota
	// ConsumeNotFound means no code row exists (never issued, already
	// consumed, or cancelled).
	ConsumeNotFound
	// ConsumeMismatch means the code exists but belongs to a different
	// player name. The row is left untouched.
	ConsumeMismatch
	// ConsumeExpired means the code was past its expiry; the stale row has
	// been deleted as a side effect.
	ConsumeExpired
	// ConsumeConflict means the code was valid but the binding insert or
	// delete had no effect (name already bound, or binding already gone).
	// The transaction is rolled back, so the code row survives.
	ConsumeConflict
)

var errConsumeConflict = errors.New("binding row conflict")

type Storage struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Storage {
	return &Storage{db: db}
}

func (s *Storage) Migrate(ctx context.Context) error {
	if err := s.db.WithContext(ctx).AutoMigrate(
		&models.Binding{},
		&models.TemporaryCode{},
		&models.MetaEntry{},
	); err != nil {
		return fmt.Errorf("migrating database: %w", err)
	}
	return nil
}

func (s *Storage) GetBindingByPlayerName(ctx context.Context, playerName string) (*models.Binding, error) {
	var binding models.Binding
	err := s.db.WithContext(ctx).
		Where("player_name = ?", models.NormalizeName(playerName)).
		First(&binding).
		Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting binding: %w", err)
	}
	return &binding, nil
}

func (s *Storage) BoundPlayerNames(ctx context.Context, telegramID int64) ([]string, error) {
	var names []string
	if err := s.db.WithContext(ctx).
		Model(&models.Binding{}).
		Where("telegram_id = ?", telegramID).
		Order("player_name").
		Pluck("player_name", &names).
		Error; err != nil {
		return nil, fmt.Errorf("getting bound player names: %w", err)
	}
	return names, nil
}

// AddBinding inserts a permanent binding unless the player name is already
// taken. Reports whether the row was actually created.
func (s *Storage) AddBinding(ctx context.Context, telegramID int64, playerName string) (bool, error) {
	res := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "player_name"}},
			DoNothing: true,
		}).
		Create(&models.Binding{
			ID:                   uuid.New().String(),
			TelegramID:           telegramID,
			PlayerName:           models.NormalizeName(playerName),
			NotificationsEnabled: true,
		})
	if res.Error != nil {
		return false, fmt.Errorf("creating binding: %w", res.Error)
	}
	return res.RowsAffected > 0, nil
}

func (s *Storage) RemoveBinding(ctx context.Context, telegramID int64, playerName string) (bool, error) {
	res := s.db.WithContext(ctx).
		Where("telegram_id = ? AND player_name = ?", telegramID, models.NormalizeName(playerName)).
		Delete(&models.Binding{})
	if res.Error != nil {
		return false, fmt.Errorf("deleting binding: %w", res.Error)
	}
	return res.RowsAffected > 0, nil
}

func (s *Storage) IsPlayerNameBound(ctx context.Context, playerName string) (bool, error) {
	var count int64
	if err := s.db.WithContext(ctx).
		Model(&models.Binding{}).
		Where("player_name = ?", models.NormalizeName(playerName)).
		Count(&count).
		Error; err != nil {
		return false, fmt.Errorf("counting bindings: %w", err)
	}
	return count > 0, nil
}

// ToggleNotifications flips the per-account notification preference and
// returns the new value.
func (s *Storage) ToggleNotifications(ctx context.Context, playerName string) (bool, error) {
	var enabled bool
	if err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var binding models.Binding
		if err := tx.
			Where("player_name = ?", models.NormalizeName(playerName)).
			First(&binding).
			Error; err != nil {
			return fmt.Errorf("getting binding: %w", err)
		}

		enabled = !binding.NotificationsEnabled
		if err := tx.
			Model(&binding).
			Update("notifications_enabled", enabled).
			Error; err != nil {
			return fmt.Errorf("updating binding: %w", err)
		}
		return nil
	}); err != nil {
		return false, fmt.Errorf("in tx: %w", err)
	}
	return enabled, nil
}

func (s *Storage) SetTwoFactor(ctx context.Context, playerName string, enabled bool) error {
	if err := s.db.WithContext(ctx).
		Model(&models.Binding{}).
		Where("player_name = ?", models.NormalizeName(playerName)).
		Update("two_factor_enabled", enabled).
		Error; err != nil {
		return fmt.Errorf("updating binding: %w", err)
	}
	return nil
}

func (s *Storage) CreateTemporaryCode(ctx context.Context, code *models.TemporaryCode) error {
	code.PlayerName = models.NormalizeName(code.PlayerName)
	if err := s.db.WithContext(ctx).Create(code).Error; err != nil {
		return fmt.Errorf("creating temporary code: %w", err)
	}
	return nil
}

func (s *Storage) FindTemporaryCode(ctx context.Context, kind models.CodeKind, code string) (*models.TemporaryCode, error) {
	var row models.TemporaryCode
	err := s.db.WithContext(ctx).
		Where("code = ? AND kind = ?", code, kind).
		First(&row).
		Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting temporary code: %w", err)
	}
	return &row, nil
}

func (s *Storage) FindTemporaryCodeByPlayerName(ctx context.Context, kind models.CodeKind, playerName string) (*models.TemporaryCode, error) {
	var row models.TemporaryCode
	err := s.db.WithContext(ctx).
		Where("kind = ? AND player_name = ?", kind, models.NormalizeName(playerName)).
		First(&row).
		Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting temporary code: %w", err)
	}
	return &row, nil
}

func (s *Storage) DeleteTemporaryCode(ctx context.Context, kind models.CodeKind, code string) error {
	if err := s.db.WithContext(ctx).
		Where("kind = ?", kind).
		Delete(&models.TemporaryCode{Code: code}).
		Error; err != nil {
		return fmt.Errorf("deleting temporary code: %w", err)
	}
	return nil
}

// DeleteTemporaryCodesForPair drops any outstanding codes of the given kind
// for an (identity, player) pair, keeping at most one live code per pair.
func (s *Storage) DeleteTemporaryCodesForPair(ctx context.Context, kind models.CodeKind, telegramID int64, playerName string) error {
	if err := s.db.WithContext(ctx).
		Where("kind = ? AND telegram_id = ? AND player_name = ?", kind, telegramID, models.NormalizeName(playerName)).
		Delete(&models.TemporaryCode{}).
		Error; err != nil {
		return fmt.Errorf("deleting temporary codes: %w", err)
	}
	return nil
}

// DeleteTemporaryCodesForTelegramID drops every outstanding code of the
// given kind issued to the identity, regardless of player name.
func (s *Storage) DeleteTemporaryCodesForTelegramID(ctx context.Context, kind models.CodeKind, telegramID int64) error {
	if err := s.db.WithContext(ctx).
		Where("kind = ? AND telegram_id = ?", kind, telegramID).
		Delete(&models.TemporaryCode{}).
		Error; err != nil {
		return fmt.Errorf("deleting temporary codes: %w", err)
	}
	return nil
}

func (s *Storage) DeleteExpiredTemporaryCodes(ctx context.Context, now time.Time) (int64, error) {
	res := s.db.WithContext(ctx).
		Where("expires_at < ?", now).
		Delete(&models.TemporaryCode{})
	if res.Error != nil {
		return 0, fmt.Errorf("deleting expired codes: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// ConfirmBindCode atomically consumes a bind code and creates the permanent
// binding. The temp-code delete claims the row, so two racing confirmations
// of the same code cannot both succeed; a failed binding insert rolls the
// whole transaction back and the code row survives.
func (s *Storage) ConfirmBindCode(ctx context.Context, playerName, code string, now time.Time) (*models.Binding, ConsumeOutcome, error) {
	var (
		binding *models.Binding
		outcome ConsumeOutcome
	)

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		row, out, err := consumeCode(tx, models.CodeKindBind, playerName, code, now)
		if err != nil || out != ConsumeOK {
			outcome = out
			return err
		}

		toCreate := &models.Binding{
			ID:                   uuid.New().String(),
			TelegramID:           row.TelegramID,
			PlayerName:           row.PlayerName,
			NotificationsEnabled: true,
		}
		res := tx.
			Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "player_name"}},
				DoNothing: true,
			}).
			Create(toCreate)
		if res.Error != nil {
			return fmt.Errorf("creating binding: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return errConsumeConflict
		}

		binding = toCreate
		outcome = ConsumeOK
		return nil
	})
	if errors.Is(err, errConsumeConflict) {
		return nil, ConsumeConflict, nil
	}
	if err != nil {
		return nil, outcome, fmt.Errorf("in tx: %w", err)
	}
	return binding, outcome, nil
}

// ConfirmUnbindCode atomically consumes an unbind code and deletes the
// permanent binding, returning the consumed row so callers can report which
// identity was unbound.
func (s *Storage) ConfirmUnbindCode(ctx context.Context, playerName, code string, now time.Time) (*models.TemporaryCode, ConsumeOutcome, error) {
	var (
		consumed *models.TemporaryCode
		outcome  ConsumeOutcome
	)

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		row, out, err := consumeCode(tx, models.CodeKindUnbind, playerName, code, now)
		if err != nil || out != ConsumeOK {
			outcome = out
			return err
		}

		res := tx.
			Where("telegram_id = ? AND player_name = ?", row.TelegramID, row.PlayerName).
			Delete(&models.Binding{})
		if res.Error != nil {
			return fmt.Errorf("deleting binding: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return errConsumeConflict
		}

		consumed = row
		outcome = ConsumeOK
		return nil
	})
	if errors.Is(err, errConsumeConflict) {
		return nil, ConsumeConflict, nil
	}
	if err != nil {
		return nil, outcome, fmt.Errorf("in tx: %w", err)
	}
	return consumed, outcome, nil
}

// consumeCode validates a code row inside tx and deletes it when claimable.
// The delete's rows-affected is the race decider between concurrent
// confirmations, including the expired case so the stale-row cleanup stays
// idempotent.
func consumeCode(tx *gorm.DB, kind models.CodeKind, playerName, code string, now time.Time) (*models.TemporaryCode, ConsumeOutcome, error) {
	var row models.TemporaryCode
	err := tx.Where("code = ? AND kind = ?", code, kind).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ConsumeNotFound, nil
	}
	if err != nil {
		return nil, ConsumeNotFound, fmt.Errorf("getting temporary code: %w", err)
	}

	if row.PlayerName != models.NormalizeName(playerName) {
		return nil, ConsumeMismatch, nil
	}

	res := tx.Where("kind = ?", kind).Delete(&models.TemporaryCode{Code: code})
	if res.Error != nil {
		return nil, ConsumeNotFound, fmt.Errorf("deleting temporary code: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, ConsumeNotFound, nil
	}

	if row.Expired(now) {
		return nil, ConsumeExpired, nil
	}
	return &row, ConsumeOK, nil
}

func (s *Storage) GetOffset(ctx context.Context) (int, error) {
	var entry models.MetaEntry
	err := s.db.WithContext(ctx).
		Where("key = ?", models.MetaKeyOffset).
		First(&entry).
		Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("getting offset: %w", err)
	}

	offset, err := strconv.Atoi(entry.Value)
	if err != nil {
		return 0, fmt.Errorf("parsing offset %q: %w", entry.Value, err)
	}
	return offset, nil
}

func (s *Storage) SetOffset(ctx context.Context, offset int) error {
	return s.setMeta(ctx, models.MetaKeyOffset, strconv.Itoa(offset))
}

// GetUserState returns the identity's pending free-text state, or "" when
// none is set.
func (s *Storage) GetUserState(ctx context.Context, telegramID int64) (string, error) {
	var entry models.MetaEntry
	err := s.db.WithContext(ctx).
		Where("key = ?", models.UserStateKey(telegramID)).
		First(&entry).
		Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("getting user state: %w", err)
	}
	return entry.Value, nil
}

func (s *Storage) SetUserState(ctx context.Context, telegramID int64, state string) error {
	if state == "" {
		return s.ClearUserState(ctx, telegramID)
	}
	return s.setMeta(ctx, models.UserStateKey(telegramID), state)
}

func (s *Storage) ClearUserState(ctx context.Context, telegramID int64) error {
	if err := s.db.WithContext(ctx).
		Delete(&models.MetaEntry{Key: models.UserStateKey(telegramID)}).
		Error; err != nil {
		return fmt.Errorf("clearing user state: %w", err)
	}
	return nil
}

func (s *Storage) setMeta(ctx context.Context, key, value string) error {
	if err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "key"}},
			DoUpdates: clause.AssignmentColumns([]string{"value"}),
		}).
		Create(&models.MetaEntry{Key: key, Value: value}).
		Error; err != nil {
		return fmt.Errorf("upserting meta %q: %w", key, err)
	}
	return nil
}
