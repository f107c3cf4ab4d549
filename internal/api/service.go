// Package api exposes the HTTP surface the game server calls into: binding
// status lookups, confirmation of codes entered in game, login notifications
// and the relay of in-game events to Telegram.
package api

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/lunaris-team/bindery/internal/binding"
	"github.com/lunaris-team/bindery/internal/config"
	"github.com/lunaris-team/bindery/internal/models"
	"github.com/lunaris-team/bindery/internal/relay"
	"github.com/lunaris-team/bindery/internal/twofactor"
	"github.com/sirupsen/logrus"
)

type Service struct {
	config    *config.Config
	bindings  *binding.Service
	twoFactor *twofactor.Service
	notifier  *relay.Notifier
}

func NewService(cfg *config.Config, bindings *binding.Service, twoFactor *twofactor.Service, notifier *relay.Notifier) *Service {
	return &Service{
		config:    cfg,
		bindings:  bindings,
		twoFactor: twoFactor,
		notifier:  notifier,
	}
}

// Register mounts all routes. Every route requires the shared token when one
// is configured.
func (s *Service) Register(e *echo.Echo) {
	g := e.Group("/v1", s.requireToken)

	g.GET("/players/:name/binding", s.handleBindingStatus())
	g.DELETE("/players/:name/binding", s.handleForceUnbind())
	g.POST("/players/:name/deauthorized", s.handleDeauthorized())
	g.POST("/confirmations", s.handleConfirmation())
	g.POST("/logins", s.handleLogin())
	g.POST("/notifications", s.handleNotification())
}

func (s *Service) requireToken(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if s.config.GameServerToken == "" {
			return next(c)
		}
		auth := c.Request().Header.Get(echo.HeaderAuthorization)
		if strings.TrimPrefix(auth, "Bearer ") != s.config.GameServerToken {
			return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid token"})
		}
		return next(c)
	}
}

func (s *Service) handleBindingStatus() echo.HandlerFunc {
	return func(c echo.Context) error {
		playerName := c.Param("name")

		status, err := s.bindings.Status(c.Request().Context(), playerName)
		if err != nil {
			logrus.Errorf("failed to get binding status for %q: %v", playerName, err)
			return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to get binding status"})
		}

		resp := echo.Map{"player": models.NormalizeName(playerName), "status": string(status)}
		if status == models.BindingStatusConfirmed {
			telegramID, ok, err := s.bindings.TelegramIDByPlayerName(c.Request().Context(), playerName)
			if err != nil {
				logrus.Errorf("failed to resolve identity for %q: %v", playerName, err)
				return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to resolve identity"})
			}
			if ok {
				resp["telegram_id"] = telegramID
			}
		}
		return c.JSON(http.StatusOK, resp)
	}
}

func (s *Service) handleForceUnbind() echo.HandlerFunc {
	return func(c echo.Context) error {
		playerName := c.Param("name")

		telegramID, ok, err := s.bindings.TelegramIDByPlayerName(c.Request().Context(), playerName)
		if err != nil {
			logrus.Errorf("failed to resolve identity for %q: %v", playerName, err)
			return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to resolve identity"})
		}
		if !ok {
			return c.JSON(http.StatusNotFound, echo.Map{"error": "player is not bound"})
		}

		removed, err := s.bindings.RemoveBinding(c.Request().Context(), telegramID, playerName, models.UnbindCauseAdminForce)
		if err != nil {
			logrus.Errorf("failed to force-unbind %q: %v", playerName, err)
			return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to remove binding"})
		}
		if !removed {
			return c.JSON(http.StatusNotFound, echo.Map{"error": "player is not bound"})
		}

		logrus.Infof("force-unbound %q from %d", playerName, telegramID)
		return c.NoContent(http.StatusNoContent)
	}
}

func (s *Service) handleDeauthorized() echo.HandlerFunc {
	return func(c echo.Context) error {
		playerName := c.Param("name")

		telegramID, ok, err := s.bindings.TelegramIDByPlayerName(c.Request().Context(), playerName)
		if err != nil {
			logrus.Errorf("failed to resolve identity for %q: %v", playerName, err)
			return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to resolve identity"})
		}
		if !ok {
			// Nothing bound, nothing to tear down.
			return c.NoContent(http.StatusNoContent)
		}

		if _, err := s.bindings.RemoveBinding(c.Request().Context(), telegramID, playerName, models.UnbindCauseDeauth); err != nil {
			logrus.Errorf("failed to unbind deauthorized %q: %v", playerName, err)
			return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to remove binding"})
		}

		logrus.Infof("unbound %q after external deauthorization", playerName)
		return c.NoContent(http.StatusNoContent)
	}
}

type confirmationRequest struct {
	Player string `json:"player"`
	Code   string `json:"code"`
}

// handleConfirmation consumes a code typed in game. Bind codes are tried
// first, then unbind codes, so a single in-game command serves both flows.
func (s *Service) handleConfirmation() echo.HandlerFunc {
	return func(c echo.Context) error {
		var req confirmationRequest
		if err := c.Bind(&req); err != nil {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
		}
		if req.Player == "" || req.Code == "" {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "player and code are required"})
		}

		ctx := c.Request().Context()

		confirmed, err := s.bindings.ConfirmBinding(ctx, req.Player, req.Code)
		if err != nil {
			logrus.Errorf("failed to confirm binding for %q: %v", req.Player, err)
			return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to confirm"})
		}
		if confirmed {
			return c.JSON(http.StatusOK, echo.Map{"result": "bound"})
		}

		confirmed, err = s.bindings.ConfirmUnbinding(ctx, req.Player, req.Code)
		if err != nil {
			logrus.Errorf("failed to confirm unbinding for %q: %v", req.Player, err)
			return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to confirm"})
		}
		if confirmed {
			return c.JSON(http.StatusOK, echo.Map{"result": "unbound"})
		}

		return c.JSON(http.StatusNotFound, echo.Map{"result": "invalid_code"})
	}
}

type loginRequest struct {
	Player  string `json:"player"`
	Address string `json:"address"`
}

func (s *Service) handleLogin() echo.HandlerFunc {
	return func(c echo.Context) error {
		var req loginRequest
		if err := c.Bind(&req); err != nil {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
		}
		if req.Player == "" {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "player is required"})
		}

		if err := s.twoFactor.Start(c.Request().Context(), req.Player, req.Address); err != nil {
			logrus.Errorf("failed to start login confirmation for %q: %v", req.Player, err)
			return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to start login confirmation"})
		}
		return c.NoContent(http.StatusAccepted)
	}
}

type notificationRequest struct {
	Player  string `json:"player"`
	Message string `json:"message"`
}

func (s *Service) handleNotification() echo.HandlerFunc {
	return func(c echo.Context) error {
		var req notificationRequest
		if err := c.Bind(&req); err != nil {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
		}
		if req.Player == "" || req.Message == "" {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "player and message are required"})
		}

		if err := s.notifier.NotifyPlayer(c.Request().Context(), req.Player, req.Message); err != nil {
			logrus.Errorf("failed to relay notification to %q: %v", req.Player, err)
			return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to deliver notification"})
		}
		return c.NoContent(http.StatusNoContent)
	}
}
