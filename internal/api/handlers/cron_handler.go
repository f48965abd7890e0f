package handlers

import (
	"crypto/subtle"
	"log/slog"
	"strings"

	config "github.com/distributo/api/configs"
	"github.com/distributo/api/internal/scheduler"
	"github.com/gofiber/fiber/v2"
)

// CronHandler exposes the sweep to an external time-based trigger. The
// trigger authenticates with a shared secret; redundant or overlapping
// invocations are safe because the scheduler claims each post.
type CronHandler struct {
	sched *scheduler.Scheduler
	cfg   config.Config
}

func NewCronHandler(cfg config.Config, sched *scheduler.Scheduler) *CronHandler {
	return &CronHandler{sched: sched, cfg: cfg}
}

// PostScheduled runs one sweep and returns its report.
func (h *CronHandler) PostScheduled(c *fiber.Ctx) error {
	if !h.authorized(c) {
		slog.Warn("unauthorized cron trigger", "ip", c.IP())
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "Unauthorized",
		})
	}

	report := h.sched.Sweep(c.Context())

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"success":    true,
		"processed":  report.Processed,
		"failed":     report.Failed,
		"results":    report.Results,
		"timestamp":  report.Timestamp,
		"durationMs": report.Duration.Milliseconds(),
	})
}

// Liveness answers HEAD probes with a bare 200.
func (h *CronHandler) Liveness(c *fiber.Ctx) error {
	return c.SendStatus(fiber.StatusOK)
}

// authorized checks the Bearer shared secret. Production fails closed;
// development allows unauthenticated sweeps for local testing.
func (h *CronHandler) authorized(c *fiber.Ctx) bool {
	header := c.Get(fiber.HeaderAuthorization)
	if h.cfg.CronSecret != "" && strings.HasPrefix(header, "Bearer ") {
		secret := strings.TrimPrefix(header, "Bearer ")
		if subtle.ConstantTimeCompare([]byte(secret), []byte(h.cfg.CronSecret)) == 1 {
			return true
		}
	}

	return !h.cfg.IsProduction()
}
