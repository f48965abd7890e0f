package handlers

import (
	"errors"
	"log/slog"

	"github.com/distributo/api/internal/service"
	"github.com/distributo/api/internal/transfer"
	"github.com/gofiber/fiber/v2"
)

type WaitlistHandler struct {
	s service.WaitlistService
}

func NewWaitlistHandler(s service.WaitlistService) *WaitlistHandler {
	return &WaitlistHandler{s: s}
}

func (h *WaitlistHandler) Join(c *fiber.Ctx) error {
	var req transfer.WaitlistRequest
	if err := c.BodyParser(&req); err != nil {
		slog.Info(err.Error())
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Unable to parse request body",
		})
	}

	if err := h.s.Join(c.Context(), req.Email); err != nil {
		if errors.Is(err, service.ErrInvalidEmail) {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "Invalid email address",
			})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Unable to join waitlist",
		})
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"success": true,
	})
}
