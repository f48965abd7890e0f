package handlers

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"time"

	config "github.com/distributo/api/configs"
	"github.com/distributo/api/internal/service"
	"github.com/distributo/api/pkg/utils"
	"github.com/gofiber/fiber/v2"
)

const (
	stateCookie    = "x_oauth_state"
	verifierCookie = "x_code_verifier"

	handshakeCookieMaxAge = 600 // seconds, matches the handshake TTL
)

type PlatformHandler struct {
	ps  service.PlatformService
	xo  service.XOAuthService
	cfg config.Config
}

func NewPlatformHandler(ps service.PlatformService, xo service.XOAuthService, cfg config.Config) *PlatformHandler {
	return &PlatformHandler{
		ps:  ps,
		xo:  xo,
		cfg: cfg,
	}
}

// ConnectX starts the PKCE handshake: generates state and verifier, parks
// them AES-GCM encrypted in httpOnly cookies, and redirects to the X
// authorization page.
func (h *PlatformHandler) ConnectX(c *fiber.Ctx) error {
	if _, err := h.sessionUserID(c); err != nil {
		return c.Redirect("/login", fiber.StatusTemporaryRedirect)
	}

	authReq, err := h.xo.BeginAuth(c.Context())
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Unable to start authorization",
		})
	}

	encryptedState, err := utils.Encrypt([]byte(authReq.State), []byte(h.cfg.SecretKey))
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Unable to start authorization",
		})
	}
	encryptedVerifier, err := utils.Encrypt([]byte(authReq.CodeVerifier), []byte(h.cfg.SecretKey))
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Unable to start authorization",
		})
	}

	h.setHandshakeCookie(c, stateCookie, encryptedState)
	h.setHandshakeCookie(c, verifierCookie, encryptedVerifier)

	return c.Redirect(authReq.URL)
}

// CallbackX finishes the handshake. The state and verifier cookies are
// cleared on every exit path, success or failure, so a replayed callback
// cannot reuse them.
func (h *PlatformHandler) CallbackX(c *fiber.Ctx) error {
	code := c.Query("code")
	returnedState := c.Query("state")
	providerError := c.Query("error")

	storedState := h.readHandshakeCookie(c, stateCookie)
	storedVerifier := h.readHandshakeCookie(c, verifierCookie)

	h.clearHandshakeCookie(c, stateCookie)
	h.clearHandshakeCookie(c, verifierCookie)

	userID, err := h.sessionUserID(c)
	if err != nil {
		return c.Redirect("/login", fiber.StatusTemporaryRedirect)
	}

	err = h.xo.CompleteAuth(c.Context(), userID, code, returnedState, storedState, storedVerifier, providerError)
	if err != nil {
		var oauthErr *service.OAuthError
		errorCode := "unknown_error"
		if errors.As(err, &oauthErr) {
			errorCode = oauthErr.Code
		}
		slog.Info("x oauth callback failed", "user_id", userID, "code", errorCode)
		return c.Redirect(h.integrationsURL("error", errorCode), fiber.StatusTemporaryRedirect)
	}

	return c.Redirect(h.integrationsURL("success", "x_connected"), fiber.StatusTemporaryRedirect)
}

func (h *PlatformHandler) ListAccounts(c *fiber.Ctx) error {
	userID := GetUserID(c)

	accountList, err := h.ps.List(c.Context(), userID)
	if err != nil {
		slog.Info(err.Error())
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to fetch connected accounts",
		})
	}

	return c.Status(fiber.StatusOK).JSON(accountList)
}

func (h *PlatformHandler) DisconnectAccount(c *fiber.Ctx) error {
	userID := GetUserID(c)
	accountID := c.QueryInt("id", 0)

	err := h.ps.Disconnect(c.Context(), userID, int64(accountID))
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Unable to disconnect account",
		})
	}

	return c.SendStatus(fiber.StatusOK)
}

func (h *PlatformHandler) sessionUserID(c *fiber.Ctx) (int64, error) {
	tokenString := c.Cookies(h.cfg.CookieName)
	if tokenString == "" {
		return 0, errors.New("missing session cookie")
	}

	claims, err := utils.ValidateToken(h.cfg.SecretKey, tokenString)
	if err != nil {
		return 0, err
	}

	return strconv.ParseInt(claims.UserID, 10, 64)
}

func (h *PlatformHandler) setHandshakeCookie(c *fiber.Ctx, name, value string) {
	c.Cookie(&fiber.Cookie{
		Name:     name,
		Value:    value,
		HTTPOnly: true,
		Secure:   h.cfg.IsProduction(),
		SameSite: fiber.CookieSameSiteLaxMode,
		Path:     "/",
		MaxAge:   handshakeCookieMaxAge,
		Expires:  time.Now().Add(handshakeCookieMaxAge * time.Second),
	})
}

func (h *PlatformHandler) readHandshakeCookie(c *fiber.Ctx, name string) string {
	value := c.Cookies(name)
	if value == "" {
		return ""
	}

	decrypted, err := utils.Decrypt(value, []byte(h.cfg.SecretKey))
	if err != nil {
		slog.Info("invalid handshake cookie", "name", name)
		return ""
	}
	return decrypted
}

func (h *PlatformHandler) clearHandshakeCookie(c *fiber.Ctx, name string) {
	c.Cookie(&fiber.Cookie{
		Name:     name,
		Value:    "",
		HTTPOnly: true,
		Path:     "/",
		MaxAge:   -1,
		Expires:  time.Now().Add(-time.Hour),
	})
}

func (h *PlatformHandler) integrationsURL(key, value string) string {
	return fmt.Sprintf("%s/dashboard/settings/integrations?%s=%s",
		h.cfg.FrontendURL, key, url.QueryEscape(value))
}
