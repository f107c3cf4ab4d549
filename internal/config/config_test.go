package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNewReadsEnvironment(t *testing.T) {
	t.Setenv("BINDERY_TELEGRAM_TOKEN", "123:abc")
	t.Setenv("BINDERY_GAME_SERVER_URL", "http://game:8081")
	t.Setenv("BINDERY_POSTGRES_DSN", "host=db user=bindery")
	t.Setenv("BINDERY_GAME_SERVER_TOKEN", "s3cret")
	t.Setenv("BINDERY_ADMINS", "1001,2002")

	SetupCommon()
	cfg := New()

	assert.Equal(t, "123:abc", cfg.TelegramToken)
	assert.Equal(t, "http://game:8081", cfg.GameServerURL)
	assert.Equal(t, "host=db user=bindery", cfg.PostgresDSN)
	assert.Equal(t, "s3cret", cfg.GameServerToken)
	assert.Equal(t, []int64{1001, 2002}, cfg.Admins)
}

func TestNewDefaults(t *testing.T) {
	t.Setenv("BINDERY_TELEGRAM_TOKEN", "123:abc")
	t.Setenv("BINDERY_GAME_SERVER_URL", "http://game:8081")

	SetupCommon()
	cfg := New()

	assert.Equal(t, StorageProviderPostgres, cfg.StorageProvider)
	assert.Equal(t, TwoFactorModeAfterPassword, cfg.TwoFactorMode)
	assert.Equal(t, 5*time.Minute, cfg.BindingCodeTimeout)
	assert.Equal(t, 2*time.Minute, cfg.TwoFactorTimeout)
	assert.Equal(t, ":8080", cfg.APIListenAddr)
}
