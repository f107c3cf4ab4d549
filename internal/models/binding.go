package models

import (
	"strings"
	"time"
)

type BindingStatus string

const (
	BindingStatusNotBound  BindingStatus = "not_bound"
	BindingStatusPending   BindingStatus = "pending"
	BindingStatusConfirmed BindingStatus = "confirmed"
)

// UnbindCause tells notification logic how an unbind happened. Admin and
// external causes notify the identity even when notifications are disabled.
type UnbindCause string

const (
	UnbindCauseUserRequest UnbindCause = "user_request"
	UnbindCauseAdminForce  UnbindCause = "admin_force"
	UnbindCauseDeauth      UnbindCause = "external_deauthorization"
)

func (c UnbindCause) SecurityRelevant() bool {
	return c == UnbindCauseAdminForce || c == UnbindCauseDeauth
}

// Binding is a confirmed telegram identity <-> player name association.
// PlayerName is stored lower-cased; a name maps to at most one identity,
// while one identity may own several names.
type Binding struct {
	ID         string `gorm:"type:uuid;primaryKey"`
	TelegramID int64  `gorm:"index"`
	PlayerName string `gorm:"uniqueIndex"`

	NotificationsEnabled bool `gorm:"default:true"`
	TwoFactorEnabled     bool `gorm:"default:false"`

	CreatedAt time.Time `gorm:"autoCreateTime"`
	UpdatedAt time.Time `gorm:"autoUpdateTime"`
}

// NormalizeName is the canonical form player names are stored and compared in.
func NormalizeName(playerName string) string {
	return strings.ToLower(strings.TrimSpace(playerName))
}
