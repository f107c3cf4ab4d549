package storage

import (
	"context"
	"testing"
	"time"

	"github.com/lunaris-team/bindery/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestStorage(t *testing.T) *Storage {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	s := New(db)
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

func TestAddBindingEnforcesNameUniqueness(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	created, err := s.AddBinding(ctx, 1001, "Alice")
	require.NoError(t, err)
	assert.True(t, created)

	// Same name, different identity: no second row.
	created, err = s.AddBinding(ctx, 2002, "alice")
	require.NoError(t, err)
	assert.False(t, created)

	binding, err := s.GetBindingByPlayerName(ctx, "ALICE")
	require.NoError(t, err)
	require.NotNil(t, binding)
	assert.Equal(t, int64(1001), binding.TelegramID)
	assert.Equal(t, "alice", binding.PlayerName)
	assert.True(t, binding.NotificationsEnabled)
	assert.False(t, binding.TwoFactorEnabled)
}

func TestBoundPlayerNames(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	for _, name := range []string{"bob", "alice"} {
		_, err := s.AddBinding(ctx, 1001, name)
		require.NoError(t, err)
	}
	_, err := s.AddBinding(ctx, 2002, "carol")
	require.NoError(t, err)

	names, err := s.BoundPlayerNames(ctx, 1001)
	require.NoError(t, err)
	assert.Equal(t, []string{"alice", "bob"}, names)
}

func TestConfirmBindCode(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, s.CreateTemporaryCode(ctx, &models.TemporaryCode{
		Code:       "ab12cd",
		Kind:       models.CodeKindBind,
		TelegramID: 1001,
		PlayerName: "Alice",
		ExpiresAt:  now.Add(5 * time.Minute),
	}))

	// Wrong code.
	_, outcome, err := s.ConfirmBindCode(ctx, "Alice", "ab13ce", now)
	require.NoError(t, err)
	assert.Equal(t, ConsumeNotFound, outcome)

	// Wrong player: the row must survive.
	_, outcome, err = s.ConfirmBindCode(ctx, "Bob", "ab12cd", now)
	require.NoError(t, err)
	assert.Equal(t, ConsumeMismatch, outcome)

	row, err := s.FindTemporaryCode(ctx, models.CodeKindBind, "ab12cd")
	require.NoError(t, err)
	require.NotNil(t, row)

	// Correct confirmation.
	binding, outcome, err := s.ConfirmBindCode(ctx, "alice", "ab12cd", now)
	require.NoError(t, err)
	assert.Equal(t, ConsumeOK, outcome)
	require.NotNil(t, binding)
	assert.Equal(t, int64(1001), binding.TelegramID)

	// Idempotence: the code is gone.
	_, outcome, err = s.ConfirmBindCode(ctx, "alice", "ab12cd", now)
	require.NoError(t, err)
	assert.Equal(t, ConsumeNotFound, outcome)
}

func TestConfirmBindCodeExpiryBoundary(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, s.CreateTemporaryCode(ctx, &models.TemporaryCode{
		Code:       "dead01",
		Kind:       models.CodeKindBind,
		TelegramID: 1001,
		PlayerName: "alice",
		ExpiresAt:  now.Add(-time.Second),
	}))

	_, outcome, err := s.ConfirmBindCode(ctx, "alice", "dead01", now)
	require.NoError(t, err)
	assert.Equal(t, ConsumeExpired, outcome)

	// The stale row was removed as a side effect.
	row, err := s.FindTemporaryCode(ctx, models.CodeKindBind, "dead01")
	require.NoError(t, err)
	assert.Nil(t, row)

	require.NoError(t, s.CreateTemporaryCode(ctx, &models.TemporaryCode{
		Code:       "beef02",
		Kind:       models.CodeKindBind,
		TelegramID: 1001,
		PlayerName: "alice",
		ExpiresAt:  now.Add(time.Second),
	}))

	_, outcome, err = s.ConfirmBindCode(ctx, "alice", "beef02", now)
	require.NoError(t, err)
	assert.Equal(t, ConsumeOK, outcome)
}

func TestConfirmBindCodeConflictKeepsCode(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()
	now := time.Now()

	_, err := s.AddBinding(ctx, 2002, "alice")
	require.NoError(t, err)

	require.NoError(t, s.CreateTemporaryCode(ctx, &models.TemporaryCode{
		Code:       "cafe03",
		Kind:       models.CodeKindBind,
		TelegramID: 1001,
		PlayerName: "alice",
		ExpiresAt:  now.Add(time.Minute),
	}))

	_, outcome, err := s.ConfirmBindCode(ctx, "alice", "cafe03", now)
	require.NoError(t, err)
	assert.Equal(t, ConsumeConflict, outcome)

	// Rolled back: the temporary record is still there.
	row, err := s.FindTemporaryCode(ctx, models.CodeKindBind, "cafe03")
	require.NoError(t, err)
	require.NotNil(t, row)
}

func TestConfirmUnbindCode(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()
	now := time.Now()

	_, err := s.AddBinding(ctx, 1001, "bob")
	require.NoError(t, err)

	require.NoError(t, s.CreateTemporaryCode(ctx, &models.TemporaryCode{
		Code:       "0ddba1",
		Kind:       models.CodeKindUnbind,
		TelegramID: 1001,
		PlayerName: "bob",
		ExpiresAt:  now.Add(time.Minute),
	}))

	row, outcome, err := s.ConfirmUnbindCode(ctx, "Bob", "0ddba1", now)
	require.NoError(t, err)
	assert.Equal(t, ConsumeOK, outcome)
	require.NotNil(t, row)
	assert.Equal(t, int64(1001), row.TelegramID)

	bound, err := s.IsPlayerNameBound(ctx, "bob")
	require.NoError(t, err)
	assert.False(t, bound)
}

func TestBindAndUnbindCodesDoNotCollide(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, s.CreateTemporaryCode(ctx, &models.TemporaryCode{
		Code:       "aaaa01",
		Kind:       models.CodeKindBind,
		TelegramID: 1001,
		PlayerName: "alice",
		ExpiresAt:  now.Add(time.Minute),
	}))

	// An unbind confirmation must not see a bind code.
	_, outcome, err := s.ConfirmUnbindCode(ctx, "alice", "aaaa01", now)
	require.NoError(t, err)
	assert.Equal(t, ConsumeNotFound, outcome)
}

func TestDeleteExpiredTemporaryCodes(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, s.CreateTemporaryCode(ctx, &models.TemporaryCode{
		Code: "aaaa02", Kind: models.CodeKindBind, TelegramID: 1, PlayerName: "a",
		ExpiresAt: now.Add(-time.Hour),
	}))
	require.NoError(t, s.CreateTemporaryCode(ctx, &models.TemporaryCode{
		Code: "aaaa03", Kind: models.CodeKindUnbind, TelegramID: 2, PlayerName: "b",
		ExpiresAt: now.Add(-time.Minute),
	}))
	require.NoError(t, s.CreateTemporaryCode(ctx, &models.TemporaryCode{
		Code: "aaaa04", Kind: models.CodeKindBind, TelegramID: 3, PlayerName: "c",
		ExpiresAt: now.Add(time.Hour),
	}))

	deleted, err := s.DeleteExpiredTemporaryCodes(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, int64(2), deleted)

	// Idempotent.
	deleted, err = s.DeleteExpiredTemporaryCodes(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, int64(0), deleted)
}

func TestToggleNotifications(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	_, err := s.AddBinding(ctx, 1001, "alice")
	require.NoError(t, err)

	enabled, err := s.ToggleNotifications(ctx, "alice")
	require.NoError(t, err)
	assert.False(t, enabled)

	enabled, err = s.ToggleNotifications(ctx, "Alice")
	require.NoError(t, err)
	assert.True(t, enabled)

	// Toggling preferences must not disturb the binding itself.
	binding, err := s.GetBindingByPlayerName(ctx, "alice")
	require.NoError(t, err)
	require.NotNil(t, binding)
	assert.Equal(t, int64(1001), binding.TelegramID)
}

func TestSetTwoFactor(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	_, err := s.AddBinding(ctx, 1001, "alice")
	require.NoError(t, err)

	require.NoError(t, s.SetTwoFactor(ctx, "alice", true))

	binding, err := s.GetBindingByPlayerName(ctx, "alice")
	require.NoError(t, err)
	require.NotNil(t, binding)
	assert.True(t, binding.TwoFactorEnabled)
}

func TestOffsetRoundTrip(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	offset, err := s.GetOffset(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, offset)

	require.NoError(t, s.SetOffset(ctx, 8))
	require.NoError(t, s.SetOffset(ctx, 9))

	offset, err = s.GetOffset(ctx)
	require.NoError(t, err)
	assert.Equal(t, 9, offset)
}

func TestUserStateLifecycle(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	state, err := s.GetUserState(ctx, 1001)
	require.NoError(t, err)
	assert.Empty(t, state)

	require.NoError(t, s.SetUserState(ctx, 1001, models.UserStateAwaitingNickname))

	state, err = s.GetUserState(ctx, 1001)
	require.NoError(t, err)
	assert.Equal(t, models.UserStateAwaitingNickname, state)

	require.NoError(t, s.ClearUserState(ctx, 1001))

	state, err = s.GetUserState(ctx, 1001)
	require.NoError(t, err)
	assert.Empty(t, state)
}
