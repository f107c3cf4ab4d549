package models

import (
	"fmt"
	"time"
)

type CodeKind string

const (
	CodeKindBind   CodeKind = "bind"
	CodeKindUnbind CodeKind = "unbind"
)

// TemporaryCode is a pending bind or unbind request awaiting in-game
// confirmation. Rows past ExpiresAt are dead: the confirm paths delete them
// lazily and the periodic cleaner sweeps the rest.
type TemporaryCode struct {
	Code string   `gorm:"primaryKey"`
	Kind CodeKind `gorm:"index:idx_codes_kind_player"`

	TelegramID int64  `gorm:"index"`
	PlayerName string `gorm:"index:idx_codes_kind_player"`

	ExpiresAt time.Time
	CreatedAt time.Time `gorm:"autoCreateTime"`
}

func (c *TemporaryCode) Expired(now time.Time) bool {
	return now.After(c.ExpiresAt)
}

func (c *TemporaryCode) String() string {
	return fmt.Sprintf("TemporaryCode(%s, %q, %d, expires %s)", c.Kind, c.PlayerName, c.TelegramID, c.ExpiresAt.Format(time.RFC3339))
}
