package twofactor

import (
	"context"
	"testing"
	"time"

	"github.com/lunaris-team/bindery/internal/binding"
	"github.com/lunaris-team/bindery/internal/codegen"
	"github.com/lunaris-team/bindery/internal/config"
	"github.com/lunaris-team/bindery/internal/events"
	"github.com/lunaris-team/bindery/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/telebot.v4"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type fakeBot struct {
	telebot.API

	sent   []string
	edited []string
	nextID int
}

func (f *fakeBot) Send(to telebot.Recipient, what interface{}, opts ...interface{}) (*telebot.Message, error) {
	f.sent = append(f.sent, what.(string))
	f.nextID++
	return &telebot.Message{ID: f.nextID}, nil
}

func (f *fakeBot) Edit(msg telebot.Editable, what interface{}, opts ...interface{}) (*telebot.Message, error) {
	f.edited = append(f.edited, what.(string))
	return &telebot.Message{}, nil
}

type fakeGateway struct {
	online      bool
	primaryDone bool
	frozen      []string
	unfrozen    []string
	kicked      []string
	completed   []string
	messages    []string
}

func (g *fakeGateway) IsOnline(ctx context.Context, name string) (bool, error) {
	return g.online, nil
}

func (g *fakeGateway) PrimaryAuthCompleted(ctx context.Context, name string) (bool, error) {
	return g.primaryDone, nil
}

func (g *fakeGateway) SendMessage(ctx context.Context, name, message string) error {
	g.messages = append(g.messages, message)
	return nil
}

func (g *fakeGateway) Kick(ctx context.Context, name, reason string) error {
	g.kicked = append(g.kicked, name)
	return nil
}

func (g *fakeGateway) Freeze(ctx context.Context, name string) error {
	g.frozen = append(g.frozen, name)
	return nil
}

func (g *fakeGateway) Unfreeze(ctx context.Context, name string) error {
	g.unfrozen = append(g.unfrozen, name)
	return nil
}

func (g *fakeGateway) CompleteAuthStep(ctx context.Context, name string) error {
	g.completed = append(g.completed, name)
	return nil
}

func newTestService(t *testing.T, mode string) (*Service, *fakeBot, *fakeGateway, *binding.Service) {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	store := storage.New(db)
	require.NoError(t, store.Migrate(context.Background()))

	codes, err := codegen.New(4)
	require.NoError(t, err)

	bindings := binding.New(store, codes, events.NewBus(), 5*time.Minute)

	bot := &fakeBot{}
	gateway := &fakeGateway{online: true, primaryDone: true}
	return New(bot, bindings, gateway, codes, 2*time.Minute, mode), bot, gateway, bindings
}

func bindPlayer(t *testing.T, bindings *binding.Service, name string, telegramID int64, twoFactor bool) {
	t.Helper()
	ctx := context.Background()

	code, err := bindings.InitiateBinding(ctx, name, telegramID)
	require.NoError(t, err)
	ok, err := bindings.ConfirmBinding(ctx, name, code)
	require.NoError(t, err)
	require.True(t, ok)
	if twoFactor {
		require.NoError(t, bindings.SetTwoFactor(ctx, name, true))
	}
}

func TestStartNoopWithout2FA(t *testing.T) {
	s, bot, gateway, bindings := newTestService(t, config.TwoFactorModeAlways)
	ctx := context.Background()

	bindPlayer(t, bindings, "Alice", 1001, false)

	require.NoError(t, s.Start(ctx, "Alice", "127.0.0.1"))
	assert.Empty(t, bot.sent)
	assert.Empty(t, gateway.frozen)

	_, ok := s.Request("Alice")
	assert.False(t, ok)
}

func TestStartNoopWithoutPrimaryAuth(t *testing.T) {
	s, bot, gateway, bindings := newTestService(t, config.TwoFactorModeAfterPassword)
	ctx := context.Background()

	bindPlayer(t, bindings, "Alice", 1001, true)
	gateway.primaryDone = false

	require.NoError(t, s.Start(ctx, "Alice", "127.0.0.1"))
	assert.Empty(t, bot.sent)
}

func TestStartSendsPromptAndFreezes(t *testing.T) {
	s, bot, gateway, bindings := newTestService(t, config.TwoFactorModeAlways)
	ctx := context.Background()

	bindPlayer(t, bindings, "Alice", 1001, true)

	require.NoError(t, s.Start(ctx, "Alice", "10.0.0.7"))
	require.Len(t, bot.sent, 1)
	assert.Contains(t, bot.sent[0], "Alice")
	assert.Contains(t, bot.sent[0], "10.0.0.7")
	assert.Equal(t, []string{"Alice"}, gateway.frozen)

	req, ok := s.Request("alice")
	require.True(t, ok)
	assert.Equal(t, int64(1001), req.ChatID)
	assert.NotEmpty(t, req.Code)
}

func TestResolveRejectsMismatchedCode(t *testing.T) {
	s, _, gateway, bindings := newTestService(t, config.TwoFactorModeAlways)
	ctx := context.Background()

	bindPlayer(t, bindings, "Alice", 1001, true)
	require.NoError(t, s.Start(ctx, "Alice", "127.0.0.1"))

	res, err := s.Resolve(ctx, "Alice", "not-the-code", true)
	require.NoError(t, err)
	assert.Equal(t, ResolveInvalid, res)

	// The live request survives a forged press.
	_, ok := s.Request("Alice")
	assert.True(t, ok)
	assert.Empty(t, gateway.completed)
}

func TestResolveConfirmOnce(t *testing.T) {
	s, _, gateway, bindings := newTestService(t, config.TwoFactorModeAlways)
	ctx := context.Background()

	bindPlayer(t, bindings, "Alice", 1001, true)
	require.NoError(t, s.Start(ctx, "Alice", "127.0.0.1"))

	req, ok := s.Request("Alice")
	require.True(t, ok)

	res, err := s.Resolve(ctx, "Alice", req.Code, true)
	require.NoError(t, err)
	assert.Equal(t, ResolveConfirmed, res)
	assert.Equal(t, []string{"alice"}, gateway.completed)
	assert.Equal(t, []string{"alice"}, gateway.unfrozen)

	// Second press finds no request.
	res, err = s.Resolve(ctx, "Alice", req.Code, true)
	require.NoError(t, err)
	assert.Equal(t, ResolveInvalid, res)
}

func TestResolveDenyKicks(t *testing.T) {
	s, _, gateway, bindings := newTestService(t, config.TwoFactorModeAlways)
	ctx := context.Background()

	bindPlayer(t, bindings, "Alice", 1001, true)
	require.NoError(t, s.Start(ctx, "Alice", "127.0.0.1"))

	req, ok := s.Request("Alice")
	require.True(t, ok)

	res, err := s.Resolve(ctx, "Alice", req.Code, false)
	require.NoError(t, err)
	assert.Equal(t, ResolveDenied, res)
	assert.Equal(t, []string{"alice"}, gateway.kicked)
}

func TestSupersededRequestInvalidatesOldCode(t *testing.T) {
	s, _, _, bindings := newTestService(t, config.TwoFactorModeAlways)
	ctx := context.Background()

	bindPlayer(t, bindings, "Alice", 1001, true)

	require.NoError(t, s.Start(ctx, "Alice", "127.0.0.1"))
	first, ok := s.Request("Alice")
	require.True(t, ok)

	require.NoError(t, s.Start(ctx, "Alice", "127.0.0.1"))
	second, ok := s.Request("Alice")
	require.True(t, ok)
	require.NotEqual(t, first.Code, second.Code)

	// Stale button press from the first prompt.
	res, err := s.Resolve(ctx, "Alice", first.Code, true)
	require.NoError(t, err)
	assert.Equal(t, ResolveInvalid, res)

	res, err = s.Resolve(ctx, "Alice", second.Code, true)
	require.NoError(t, err)
	assert.Equal(t, ResolveConfirmed, res)
}

func TestExpirySweepKicksAndEdits(t *testing.T) {
	s, bot, gateway, bindings := newTestService(t, config.TwoFactorModeAlways)
	ctx := context.Background()

	bindPlayer(t, bindings, "Alice", 1001, true)

	base := time.Now()
	s.now = func() time.Time { return base }
	require.NoError(t, s.Start(ctx, "Alice", "127.0.0.1"))

	s.now = func() time.Time { return base.Add(3 * time.Minute) }
	s.CleanupExpired(ctx)

	assert.Equal(t, []string{"alice"}, gateway.kicked)
	require.Len(t, bot.edited, 1)
	assert.Contains(t, bot.edited[0], "expired")

	_, ok := s.Request("Alice")
	assert.False(t, ok)
}

func TestRequestLazyExpiry(t *testing.T) {
	s, _, _, bindings := newTestService(t, config.TwoFactorModeAlways)
	ctx := context.Background()

	bindPlayer(t, bindings, "Alice", 1001, true)

	base := time.Now()
	s.now = func() time.Time { return base }
	require.NoError(t, s.Start(ctx, "Alice", "127.0.0.1"))

	s.now = func() time.Time { return base.Add(2*time.Minute + time.Second) }

	_, ok := s.Request("Alice")
	assert.False(t, ok)
}
