package models

import "fmt"

const (
	MetaKeyOffset = "telegram_offset"

	// UserState values interpret an identity's next free-text message.
	UserStateAwaitingNickname      = "awaiting_nickname"
	UserStateAwaitingUnbindConfirm = "awaiting_unbind_confirm"
)

// MetaEntry holds small service-level key-value rows: the poll offset and
// per-identity transient user state.
type MetaEntry struct {
	Key   string `gorm:"primaryKey"`
	Value string
}

func UserStateKey(telegramID int64) string {
	return fmt.Sprintf("user_state_%d", telegramID)
}
