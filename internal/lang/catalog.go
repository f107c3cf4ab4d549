// Package lang renders user-facing message templates. Keys may be overridden
// through viper ("messages.<key>"), defaults ship in code.
package lang

import (
	"strings"

	"github.com/spf13/viper"
)

var defaults = map[string]string{
	"start":                      "Welcome! Use the menu below to link your game accounts to this Telegram account.",
	"help":                       "Link a game account, then confirm with /confirm <code> in game. Manage notifications and login confirmation per account from the menu.",
	"unknown-command":            "Unknown command. Try /help.",
	"private-only":               "This bot only works in a private chat.",
	"enter-nickname":             "Send me the player name you want to link, or /cancel to stop.",
	"binding-code":               "Your binding code is <code>{code}</code>. Run <b>/confirm {code}</b> in game to finish linking.",
	"binding-cancelled":          "Binding cancelled.",
	"binding-refused-bound":      "That player name is already linked.",
	"binding-refused-pending":    "There is already a pending link for that player name.",
	"unbind-code":                "To unlink <b>{player}</b>, run <b>/confirm {code}</b> in game.",
	"unbind-cancelled":           "Unlinking cancelled.",
	"unbind-usage":               "Usage: /unbind <player name>.",
	"unbind-not-yours":           "The account {player} is not linked to you.",
	"no-accounts":                "You have no linked accounts yet.",
	"select-account":             "Select an account to manage:",
	"manage-account":             "Managing account <b>{player}</b>.",
	"account-not-found":          "That account is not linked to you.",
	"notifications-enabled":      "Notifications for {player} are now enabled.",
	"notifications-disabled":     "Notifications for {player} are now disabled.",
	"twofactor-enabled":          "Login confirmation for {player} is now enabled.",
	"twofactor-disabled":         "Login confirmation for {player} is now disabled.",
	"myinfo-usage":               "Usage: /myinfo <player name>.",
	"myinfo":                     "Account <b>{player}</b>\nStatus: {status}\nNotifications: {notifications}\nLogin confirmation: {twofactor}",
	"admin-denied":               "You are not allowed to use this command.",
	"admin-playerinfo-usage":     "Usage: /playerinfo <telegram id> (or reply to a message).",
	"admin-playerinfo":           "Telegram id {telegram_id} owns: {player_list}",
	"admin-playerinfo-none":      "Telegram id {telegram_id} owns no accounts.",
	"admin-reset-usage":          "Usage: /reset <player name>.",
	"admin-reset-done":           "Binding for {player} removed.",
	"admin-reset-not-bound":      "{player} is not bound.",
	"admin-unbind-notification":  "Your account {player} was unlinked by an administrator.",
	"deauth-unbind-notification": "Your account {player} was unlinked because its game registration was removed.",
	"twofactor-prompt":           "Login attempt for <b>{player}</b> from {ip}. Was this you?",
	"twofactor-confirm-button":   "✅ It's me",
	"twofactor-deny-button":      "⛔ Deny",
	"twofactor-resolved":         "Thanks, your choice has been recorded.",
	"twofactor-expired":          "The login confirmation for {player} expired.",
	"twofactor-invalid-code":     "This confirmation is no longer valid.",
	"twofactor-denied-kick":      "Login denied via Telegram.",
	"twofactor-expired-kick":     "Login confirmation timed out.",
	"keyboard-bind":              "🔗 Link an account",
	"keyboard-help":              "❓ Help",
	"keyboard-add-account":       "➕ Link another account",
	"keyboard-back":              "⬅️ Back",
	"keyboard-account-info":      "ℹ️ Info",
	"keyboard-notifications-on":  "🔔 Notifications: on",
	"keyboard-notifications-off": "🔕 Notifications: off",
	"keyboard-twofactor-on":      "🔐 Login confirmation: on",
	"keyboard-twofactor-off":     "🔓 Login confirmation: off",
	"keyboard-unbind":            "🗑 Unlink",
	"keyboard-cancel-binding":    "Cancel",
	"keyboard-cancel-unbind":     "Cancel",
	"status-online":              "online",
	"status-offline":             "offline",
	"on":                         "enabled",
	"off":                        "disabled",
}

// Get renders a message key, substituting {name} placeholders.
func Get(key string, placeholders map[string]string) string {
	tmpl := viper.GetString("messages." + key)
	if tmpl == "" {
		tmpl = defaults[key]
	}
	if tmpl == "" {
		return key
	}
	for name, value := range placeholders {
		tmpl = strings.ReplaceAll(tmpl, "{"+name+"}", value)
	}
	return tmpl
}
