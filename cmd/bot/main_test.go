package main

import (
	"testing"
	"time"

	"github.com/lunaris-team/bindery/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/telebot.v4"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
)

func TestBotSettings(t *testing.T) {
	cfg := &config.Config{TelegramToken: "123:abc", PollTimeout: 10 * time.Second}

	s := botSettings(cfg, 8)
	assert.True(t, s.Synchronous)

	poller, ok := s.Poller.(*telebot.LongPoller)
	require.True(t, ok)
	assert.Equal(t, 7, poller.LastUpdateID)
	assert.Equal(t, 10*time.Second, poller.Timeout)

	// No persisted offset yet: start with telebot's zero value.
	s = botSettings(cfg, 0)
	poller = s.Poller.(*telebot.LongPoller)
	assert.Equal(t, 0, poller.LastUpdateID)
}

func TestOpenDialector(t *testing.T) {
	cfg := &config.Config{StorageProvider: config.StorageProviderSqlite, SqlitePath: "test.sqlite"}
	_, ok := openDialector(cfg).(*sqlite.Dialector)
	assert.True(t, ok)

	cfg = &config.Config{StorageProvider: config.StorageProviderPostgres, PostgresDSN: "host=db"}
	_, ok = openDialector(cfg).(*postgres.Dialector)
	assert.True(t, ok)
}
