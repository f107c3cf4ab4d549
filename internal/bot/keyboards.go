package bot

import (
	"fmt"

	"github.com/lunaris-team/bindery/internal/lang"
	"gopkg.in/telebot.v4"
)

// Keyboards carry their routing in the button payloads; the callback
// dispatcher in handler.go is the other half of this file.

func initialMenu() *telebot.ReplyMarkup {
	return &telebot.ReplyMarkup{
		InlineKeyboard: [][]telebot.InlineButton{
			{{Text: lang.Get("keyboard-bind", nil), Data: "menu:binding"}},
			{{Text: lang.Get("keyboard-help", nil), Data: "menu:help"}},
		},
	}
}

func accountListMenu(playerNames []string) *telebot.ReplyMarkup {
	rows := make([][]telebot.InlineButton, 0, len(playerNames)+2)
	for _, name := range playerNames {
		rows = append(rows, []telebot.InlineButton{
			{Text: "👤 " + name, Data: "account:select:" + name},
		})
	}
	rows = append(rows,
		[]telebot.InlineButton{{Text: lang.Get("keyboard-add-account", nil), Data: "binding:bind"}},
		[]telebot.InlineButton{{Text: lang.Get("keyboard-back", nil), Data: "menu:initial"}},
	)
	return &telebot.ReplyMarkup{InlineKeyboard: rows}
}

func accountManageMenu(playerName string, notificationsEnabled, twoFactorEnabled bool) *telebot.ReplyMarkup {
	notifKey := "keyboard-notifications-off"
	if notificationsEnabled {
		notifKey = "keyboard-notifications-on"
	}
	tfaKey := "keyboard-twofactor-off"
	if twoFactorEnabled {
		tfaKey = "keyboard-twofactor-on"
	}

	return &telebot.ReplyMarkup{
		InlineKeyboard: [][]telebot.InlineButton{
			{{Text: lang.Get("keyboard-account-info", nil), Data: "account:info:" + playerName}},
			{{Text: lang.Get(notifKey, nil), Data: "account:notifications:" + playerName}},
			{{Text: lang.Get(tfaKey, nil), Data: "account:2fa:" + playerName}},
			{{Text: lang.Get("keyboard-unbind", nil), Data: "account:unbind:" + playerName}},
			{{Text: lang.Get("keyboard-back", nil), Data: "menu:binding"}},
		},
	}
}

func bindCancelKeyboard(code string) *telebot.ReplyMarkup {
	return &telebot.ReplyMarkup{
		InlineKeyboard: [][]telebot.InlineButton{
			{{Text: lang.Get("keyboard-cancel-binding", nil), Data: fmt.Sprintf("binding:cancel:%s", code)}},
		},
	}
}

func unbindCancelKeyboard(playerName string) *telebot.ReplyMarkup {
	return &telebot.ReplyMarkup{
		InlineKeyboard: [][]telebot.InlineButton{
			{{Text: lang.Get("keyboard-cancel-unbind", nil), Data: "unbind:cancel:" + playerName}},
		},
	}
}
