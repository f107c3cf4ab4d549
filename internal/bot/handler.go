// Package bot drives the Telegram side: the long-poll update stream is
// dispatched to a command table for direct messages and a payload-routed
// menu/action table for callback buttons. The poll offset is persisted after
// every fully handled update so a restart resumes where it left off.
package bot

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/lunaris-team/bindery/internal/binding"
	"github.com/lunaris-team/bindery/internal/config"
	"github.com/lunaris-team/bindery/internal/gameserver"
	"github.com/lunaris-team/bindery/internal/lang"
	"github.com/lunaris-team/bindery/internal/models"
	"github.com/lunaris-team/bindery/internal/storage"
	"github.com/lunaris-team/bindery/internal/twofactor"
	"gopkg.in/telebot.v4"
)

type Handler struct {
	config    *config.Config
	storage   *storage.Storage
	bindings  *binding.Service
	twoFactor *twofactor.Service
	gateway   gameserver.Gateway

	botName  string
	commands map[string]func(*UpdateContext, []string) error
}

func New(cfg *config.Config, store *storage.Storage, bindings *binding.Service, twoFactor *twofactor.Service, gateway gameserver.Gateway, botName string) *Handler {
	h := &Handler{
		config:    cfg,
		storage:   store,
		bindings:  bindings,
		twoFactor: twoFactor,
		gateway:   gateway,
		botName:   botName,
	}
	h.commands = map[string]func(*UpdateContext, []string) error{
		"start":      h.cmdStart,
		"help":       h.cmdHelp,
		"binding":    h.cmdBinding,
		"unbind":     h.cmdUnbind,
		"myinfo":     h.cmdMyInfo,
		"playerinfo": h.cmdPlayerInfo,
		"reset":      h.cmdReset,
	}
	return h
}

func (h *Handler) Register(b *telebot.Bot) {
	b.Handle(telebot.OnText, h.wrap(h.handleText))
	b.Handle(telebot.OnCallback, h.wrap(h.handleCallback))
}

// wrap runs the handler with a deadline and advances the persisted poll
// offset once the update has been fully dispatched. Handler errors are
// logged, never returned: one bad update must not stall the stream.
func (h *Handler) wrap(fn func(*UpdateContext) error) telebot.HandlerFunc {
	return func(c telebot.Context) error {
		ctx, cancel := context.WithTimeout(context.Background(), h.config.BotHandleTimeout)
		defer cancel()

		uc := NewUpdateContext(ctx, c)

		if err := fn(uc); err != nil {
			uc.L().Errorf("failed to handle update: %v", err)
		}

		if err := h.storage.SetOffset(ctx, c.Update().ID+1); err != nil {
			uc.L().Errorf("failed to persist poll offset: %v", err)
		}
		return nil
	}
}

func (h *Handler) handleText(uc *UpdateContext) error {
	if uc.Chat() == nil || uc.Sender() == nil {
		return nil
	}
	if uc.Chat().Type != telebot.ChatPrivate {
		uc.L().Debugf("ignoring text from non-private chat")
		return nil
	}

	text := strings.TrimSpace(uc.TC().Text())
	if text == "" {
		return nil
	}

	state, err := h.storage.GetUserState(uc, uc.Sender().ID)
	if err != nil {
		return fmt.Errorf("getting user state: %w", err)
	}

	if strings.EqualFold(text, "/cancel") && state != "" {
		if err := h.storage.ClearUserState(uc, uc.Sender().ID); err != nil {
			return fmt.Errorf("clearing user state: %w", err)
		}
		key := "binding-cancelled"
		if state == models.UserStateAwaitingUnbindConfirm {
			key = "unbind-cancelled"
			if err := h.storage.DeleteTemporaryCodesForTelegramID(uc, models.CodeKindUnbind, uc.Sender().ID); err != nil {
				return fmt.Errorf("discarding unbind codes: %w", err)
			}
		}
		return uc.TC().Send(lang.Get(key, nil), telebot.ModeHTML)
	}

	// A pending free-text state consumes the message before any command
	// dispatch.
	if state == models.UserStateAwaitingNickname && !strings.HasPrefix(text, "/") {
		if err := h.storage.ClearUserState(uc, uc.Sender().ID); err != nil {
			return fmt.Errorf("clearing user state: %w", err)
		}
		return h.initiateBinding(uc, text)
	}

	name, args, ok := parseCommand(text, h.botName)
	if !ok {
		return nil
	}

	cmd, found := h.commands[name]
	if !found {
		return uc.TC().Send(lang.Get("unknown-command", nil), telebot.ModeHTML)
	}

	uc.L().Infof("dispatching command /%s", name)
	return cmd(uc, args)
}

func (h *Handler) cmdStart(uc *UpdateContext, _ []string) error {
	return uc.TC().Send(lang.Get("start", nil), initialMenu(), telebot.ModeHTML)
}

func (h *Handler) cmdHelp(uc *UpdateContext, _ []string) error {
	return uc.TC().Send(lang.Get("help", nil), telebot.ModeHTML)
}

func (h *Handler) cmdBinding(uc *UpdateContext, args []string) error {
	if len(args) == 0 {
		if err := h.storage.SetUserState(uc, uc.Sender().ID, models.UserStateAwaitingNickname); err != nil {
			return fmt.Errorf("setting user state: %w", err)
		}
		return uc.TC().Send(lang.Get("enter-nickname", nil), telebot.ModeHTML)
	}
	return h.initiateBinding(uc, args[0])
}

func (h *Handler) initiateBinding(uc *UpdateContext, playerName string) error {
	code, err := h.bindings.InitiateBinding(uc, playerName, uc.Sender().ID)
	switch {
	case errors.Is(err, binding.ErrAlreadyBound):
		return uc.TC().Send(lang.Get("binding-refused-bound", nil), telebot.ModeHTML)
	case errors.Is(err, binding.ErrPendingExists):
		return uc.TC().Send(lang.Get("binding-refused-pending", nil), telebot.ModeHTML)
	case err != nil:
		return fmt.Errorf("initiating binding: %w", err)
	}

	uc.L().Infof("issued bind code for %q", playerName)
	return uc.TC().Send(
		lang.Get("binding-code", map[string]string{"code": code}),
		bindCancelKeyboard(code),
		telebot.ModeHTML,
	)
}

func (h *Handler) cmdUnbind(uc *UpdateContext, args []string) error {
	if len(args) == 0 {
		return uc.TC().Send(lang.Get("unbind-usage", nil), telebot.ModeHTML)
	}
	return h.initiateUnbinding(uc, args[0])
}

func (h *Handler) initiateUnbinding(uc *UpdateContext, playerName string) error {
	code, err := h.bindings.InitiateUnbinding(uc, uc.Sender().ID, playerName)
	if errors.Is(err, binding.ErrNotBoundToIdentity) {
		return uc.TC().Send(lang.Get("unbind-not-yours", map[string]string{"player": playerName}), telebot.ModeHTML)
	}
	if err != nil {
		return fmt.Errorf("initiating unbinding: %w", err)
	}

	// The state makes a later /cancel discard the issued code.
	if err := h.storage.SetUserState(uc, uc.Sender().ID, models.UserStateAwaitingUnbindConfirm); err != nil {
		return fmt.Errorf("setting user state: %w", err)
	}

	uc.L().Infof("issued unbind code for %q", playerName)
	return uc.TC().Send(
		lang.Get("unbind-code", map[string]string{"code": code, "player": playerName}),
		unbindCancelKeyboard(models.NormalizeName(playerName)),
		telebot.ModeHTML,
	)
}

func (h *Handler) cmdMyInfo(uc *UpdateContext, args []string) error {
	if len(args) == 0 {
		return uc.TC().Send(lang.Get("myinfo-usage", nil), telebot.ModeHTML)
	}
	owned, err := h.ownsPlayer(uc, args[0])
	if err != nil {
		return err
	}
	if !owned {
		return uc.TC().Send(lang.Get("account-not-found", nil), telebot.ModeHTML)
	}
	return h.sendPlayerInfo(uc, args[0])
}

func (h *Handler) sendPlayerInfo(uc *UpdateContext, playerName string) error {
	online, err := h.gateway.IsOnline(uc, playerName)
	if err != nil {
		uc.L().Warnf("failed to query player status: %v", err)
	}

	notifications, err := h.bindings.NotificationsEnabled(uc, playerName)
	if err != nil {
		return fmt.Errorf("checking notifications: %w", err)
	}
	tfa, err := h.bindings.TwoFactorEnabled(uc, playerName)
	if err != nil {
		return fmt.Errorf("checking 2fa: %w", err)
	}

	onOff := func(v bool) string {
		if v {
			return lang.Get("on", nil)
		}
		return lang.Get("off", nil)
	}
	status := lang.Get("status-offline", nil)
	if online {
		status = lang.Get("status-online", nil)
	}

	return uc.TC().Send(lang.Get("myinfo", map[string]string{
		"player":        playerName,
		"status":        status,
		"notifications": onOff(notifications),
		"twofactor":     onOff(tfa),
	}), telebot.ModeHTML)
}

func (h *Handler) cmdPlayerInfo(uc *UpdateContext, args []string) error {
	if !h.isAdmin(uc.Sender().ID) {
		return uc.TC().Send(lang.Get("admin-denied", nil), telebot.ModeHTML)
	}

	var targetID int64
	switch {
	case len(args) > 0:
		parsed, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return uc.TC().Send(lang.Get("admin-playerinfo-usage", nil), telebot.ModeHTML)
		}
		targetID = parsed
	case uc.TC().Message() != nil && uc.TC().Message().ReplyTo != nil && uc.TC().Message().ReplyTo.Sender != nil:
		targetID = uc.TC().Message().ReplyTo.Sender.ID
	default:
		return uc.TC().Send(lang.Get("admin-playerinfo-usage", nil), telebot.ModeHTML)
	}

	names, err := h.bindings.BoundPlayerNames(uc, targetID)
	if err != nil {
		return fmt.Errorf("getting bound names: %w", err)
	}

	id := strconv.FormatInt(targetID, 10)
	if len(names) == 0 {
		return uc.TC().Send(lang.Get("admin-playerinfo-none", map[string]string{"telegram_id": id}), telebot.ModeHTML)
	}
	return uc.TC().Send(lang.Get("admin-playerinfo", map[string]string{
		"telegram_id": id,
		"player_list": strings.Join(names, ", "),
	}), telebot.ModeHTML)
}

func (h *Handler) cmdReset(uc *UpdateContext, args []string) error {
	if !h.isAdmin(uc.Sender().ID) {
		return uc.TC().Send(lang.Get("admin-denied", nil), telebot.ModeHTML)
	}
	if len(args) == 0 {
		return uc.TC().Send(lang.Get("admin-reset-usage", nil), telebot.ModeHTML)
	}

	playerName := args[0]
	telegramID, ok, err := h.bindings.TelegramIDByPlayerName(uc, playerName)
	if err != nil {
		return fmt.Errorf("resolving identity: %w", err)
	}
	if !ok {
		return uc.TC().Send(lang.Get("admin-reset-not-bound", map[string]string{"player": playerName}), telebot.ModeHTML)
	}

	if _, err := h.bindings.RemoveBinding(uc, telegramID, playerName, models.UnbindCauseAdminForce); err != nil {
		return fmt.Errorf("removing binding: %w", err)
	}
	uc.L().Infof("admin reset binding of %q", playerName)
	return uc.TC().Send(lang.Get("admin-reset-done", map[string]string{"player": playerName}), telebot.ModeHTML)
}

func (h *Handler) handleCallback(uc *UpdateContext) error {
	cb := uc.Callback()
	if cb == nil || uc.Sender() == nil {
		return nil
	}

	// Callbacks carry account actions; honoring one from a group chat
	// would let bystanders drive someone else's menu.
	if uc.Chat() == nil || uc.Chat().Type != telebot.ChatPrivate {
		return uc.TC().Respond(&telebot.CallbackResponse{
			Text:      lang.Get("private-only", nil),
			ShowAlert: true,
		})
	}

	if err := uc.TC().Respond(&telebot.CallbackResponse{}); err != nil {
		uc.L().Warnf("failed to answer callback: %v", err)
	}

	p := ParsePayload(cb.Data)
	switch p.Menu {
	case "menu":
		return h.handleMenu(uc, p)
	case "binding":
		return h.handleBindingMenu(uc, p)
	case "unbind":
		if p.Action == "cancel" {
			if err := h.storage.ClearUserState(uc, uc.Sender().ID); err != nil {
				return fmt.Errorf("clearing user state: %w", err)
			}
			if player := p.Arg(0); player != "" {
				if err := h.storage.DeleteTemporaryCodesForPair(uc, models.CodeKindUnbind, uc.Sender().ID, player); err != nil {
					return fmt.Errorf("discarding unbind codes: %w", err)
				}
			}
			return uc.TC().Edit(lang.Get("unbind-cancelled", nil), telebot.ModeHTML)
		}
	case "account":
		return h.handleAccountMenu(uc, p)
	case "2fa":
		return h.handleTwoFactorCallback(uc, p)
	}

	uc.L().Debugf("dropping unrecognized callback payload")
	return nil
}

func (h *Handler) handleMenu(uc *UpdateContext, p Payload) error {
	switch p.Action {
	case "help":
		return uc.TC().Send(lang.Get("help", nil), telebot.ModeHTML)
	case "initial":
		return uc.TC().Edit(lang.Get("start", nil), initialMenu(), telebot.ModeHTML)
	case "binding":
		names, err := h.bindings.BoundPlayerNames(uc, uc.Sender().ID)
		if err != nil {
			return fmt.Errorf("getting bound names: %w", err)
		}
		text := lang.Get("select-account", nil)
		if len(names) == 0 {
			text = lang.Get("no-accounts", nil)
		}
		return uc.TC().Edit(text, accountListMenu(names), telebot.ModeHTML)
	}
	return nil
}

func (h *Handler) handleBindingMenu(uc *UpdateContext, p Payload) error {
	switch p.Action {
	case "bind":
		if err := h.storage.SetUserState(uc, uc.Sender().ID, models.UserStateAwaitingNickname); err != nil {
			return fmt.Errorf("setting user state: %w", err)
		}
		return uc.TC().Send(lang.Get("enter-nickname", nil), telebot.ModeHTML)
	case "cancel":
		if err := h.storage.ClearUserState(uc, uc.Sender().ID); err != nil {
			return fmt.Errorf("clearing user state: %w", err)
		}
		if code := p.Arg(0); code != "" {
			if err := h.bindings.CancelTemporaryBinding(uc, code); err != nil {
				return fmt.Errorf("cancelling binding: %w", err)
			}
		}
		return uc.TC().Edit(lang.Get("binding-cancelled", nil), telebot.ModeHTML)
	}
	return nil
}

func (h *Handler) handleAccountMenu(uc *UpdateContext, p Payload) error {
	playerName := p.Arg(0)
	owned, err := h.ownsPlayer(uc, playerName)
	if err != nil {
		return err
	}
	if !owned {
		return uc.TC().Send(lang.Get("account-not-found", nil), telebot.ModeHTML)
	}

	switch p.Action {
	case "select":
		return h.editManageMenu(uc, playerName, lang.Get("manage-account", map[string]string{"player": playerName}))
	case "info":
		return h.sendPlayerInfo(uc, playerName)
	case "notifications":
		enabled, err := h.bindings.ToggleNotifications(uc, playerName)
		if err != nil {
			return fmt.Errorf("toggling notifications: %w", err)
		}
		key := "notifications-disabled"
		if enabled {
			key = "notifications-enabled"
		}
		if err := uc.TC().Send(lang.Get(key, map[string]string{"player": playerName}), telebot.ModeHTML); err != nil {
			return err
		}
		return h.editManageMenu(uc, playerName, lang.Get("manage-account", map[string]string{"player": playerName}))
	case "2fa":
		enabled, err := h.twoFactor.Toggle(uc, playerName)
		if err != nil {
			return fmt.Errorf("toggling 2fa: %w", err)
		}
		key := "twofactor-disabled"
		if enabled {
			key = "twofactor-enabled"
		}
		if err := uc.TC().Send(lang.Get(key, map[string]string{"player": playerName}), telebot.ModeHTML); err != nil {
			return err
		}
		return h.editManageMenu(uc, playerName, lang.Get("manage-account", map[string]string{"player": playerName}))
	case "unbind":
		return h.initiateUnbinding(uc, playerName)
	}
	return nil
}

func (h *Handler) editManageMenu(uc *UpdateContext, playerName, text string) error {
	notifications, err := h.bindings.NotificationsEnabled(uc, playerName)
	if err != nil {
		return fmt.Errorf("checking notifications: %w", err)
	}
	tfa, err := h.bindings.TwoFactorEnabled(uc, playerName)
	if err != nil {
		return fmt.Errorf("checking 2fa: %w", err)
	}
	return uc.TC().Edit(text, accountManageMenu(playerName, notifications, tfa), telebot.ModeHTML)
}

func (h *Handler) handleTwoFactorCallback(uc *UpdateContext, p Payload) error {
	playerName, code := p.Arg(0), p.Arg(1)
	if playerName == "" || code == "" {
		uc.L().Debugf("dropping malformed 2fa payload")
		return nil
	}

	confirm := p.Action == "confirm"
	if !confirm && p.Action != "deny" {
		uc.L().Debugf("dropping unknown 2fa action %q", p.Action)
		return nil
	}

	res, err := h.twoFactor.Resolve(uc, playerName, code, confirm)
	if err != nil {
		return fmt.Errorf("resolving 2fa request: %w", err)
	}
	if res == twofactor.ResolveInvalid {
		return uc.TC().Edit(lang.Get("twofactor-invalid-code", nil), telebot.ModeHTML)
	}
	return uc.TC().Edit(lang.Get("twofactor-resolved", nil), telebot.ModeHTML)
}

func (h *Handler) ownsPlayer(uc *UpdateContext, playerName string) (bool, error) {
	if playerName == "" {
		return false, nil
	}
	names, err := h.bindings.BoundPlayerNames(uc, uc.Sender().ID)
	if err != nil {
		return false, fmt.Errorf("getting bound names: %w", err)
	}
	return slices.Contains(names, models.NormalizeName(playerName)), nil
}

func (h *Handler) isAdmin(telegramID int64) bool {
	return slices.Contains(h.config.Admins, telegramID)
}
