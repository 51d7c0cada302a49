package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/Enriquefft/openclaw-whatsapp-inbound/internal/config"
	"github.com/Enriquefft/openclaw-whatsapp-inbound/internal/delivery"
	"github.com/Enriquefft/openclaw-whatsapp-inbound/internal/payload"
	"github.com/Enriquefft/openclaw-whatsapp-inbound/internal/security"
)

// SignatureHeader carries "sha256=<hex hmac of body>" when a secret is set.
const SignatureHeader = "X-Webhook-Signature"

const maxBodyBytes int64 = 4 << 20

// Submitter accepts deliveries for asynchronous processing.
type Submitter interface {
	Submit(d delivery.Delivery) error
}

// Handler receives provider webhooks for configured inboxes, checks them,
// and hands the body to the delivery pool. Processing happens after the
// response is written.
type Handler struct {
	logger  *slog.Logger
	guard   *security.Guard
	pool    Submitter
	secret  string
	secrets map[int64]string
	now     func() time.Time
}

func NewHandler(log *slog.Logger, cfg config.WebhookConfig, channels []config.ChannelConfig, guard *security.Guard, pool Submitter) *Handler {
	if log == nil {
		log = slog.Default()
	}
	secrets := make(map[int64]string, len(channels))
	for _, ch := range channels {
		if ch.Secret != "" {
			secrets[ch.InboxID] = ch.Secret
		}
	}
	return &Handler{
		logger:  log.With(slog.String("component", "webhook")),
		guard:   guard,
		pool:    pool,
		secret:  cfg.Secret,
		secrets: secrets,
		now:     time.Now,
	}
}

// Register registers the webhook and health routes.
func (h *Handler) Register(e *echo.Echo) {
	e.POST("/webhooks/:inbox_id", h.HandleEvent)
	e.GET("/health", h.HandleHealth)
}

// HandleEvent validates one webhook POST and queues it.
func (h *Handler) HandleEvent(c echo.Context) error {
	inboxID, err := strconv.ParseInt(strings.TrimSpace(c.Param("inbox_id")), 10, 64)
	if err != nil || inboxID <= 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid inbox id")
	}

	switch h.guard.Check(inboxID) {
	case security.Deny:
		return echo.NewHTTPError(http.StatusNotFound, "unknown inbox")
	case security.RateLimited:
		h.logger.Warn("webhook rate limited", slog.Int64("inbox_id", inboxID))
		return echo.NewHTTPError(http.StatusTooManyRequests, "rate limited")
	}

	body, err := io.ReadAll(io.LimitReader(c.Request().Body, maxBodyBytes+1))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("read body: %v", err))
	}
	if int64(len(body)) > maxBodyBytes {
		return echo.NewHTTPError(http.StatusRequestEntityTooLarge, fmt.Sprintf("payload too large: max %d bytes", maxBodyBytes))
	}

	if secret := h.secretFor(inboxID); secret != "" {
		if !validSignature(secret, body, c.Request().Header.Get(SignatureHeader)) {
			h.logger.Warn("webhook: invalid signature", slog.Int64("inbox_id", inboxID))
			return echo.NewHTTPError(http.StatusUnauthorized, "invalid signature")
		}
	}

	if _, err := payload.Parse(body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid JSON")
	}

	err = h.pool.Submit(delivery.New(inboxID, body, h.now()))
	switch {
	case err == nil:
	case errors.Is(err, delivery.ErrDuplicate):
		h.logger.Debug("webhook: coalesced duplicate delivery", slog.Int64("inbox_id", inboxID))
	case errors.Is(err, delivery.ErrQueueFull), errors.Is(err, delivery.ErrClosed):
		h.logger.Error("webhook: delivery not queued", slog.Int64("inbox_id", inboxID), slog.Any("error", err))
		return echo.NewHTTPError(http.StatusServiceUnavailable, "busy")
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.NoContent(http.StatusOK)
}

// HandleHealth returns 200 OK; used by the CLI status command.
func (h *Handler) HandleHealth(c echo.Context) error {
	return c.String(http.StatusOK, "ok")
}

func (h *Handler) secretFor(inboxID int64) string {
	if s, ok := h.secrets[inboxID]; ok {
		return s
	}
	return h.secret
}

// validSignature checks the X-Webhook-Signature HMAC.
func validSignature(secret string, body []byte, header string) bool {
	if header == "" {
		return false
	}
	sig := strings.TrimPrefix(header, "sha256=")
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(sig), []byte(expected))
}

// Sign returns the X-Webhook-Signature value for body.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}
