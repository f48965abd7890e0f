package handlers

import (
	"errors"
	"log/slog"

	"github.com/distributo/api/internal/models"
	"github.com/distributo/api/internal/queue"
	"github.com/distributo/api/internal/service"
	"github.com/distributo/api/internal/transfer"
	"github.com/gofiber/fiber/v2"
	"github.com/hibiken/asynq"
)

type PostHandler struct {
	s           service.PostService
	AsynqClient *asynq.Client
}

func NewPostHandler(service service.PostService, asynqClient *asynq.Client) *PostHandler {
	return &PostHandler{s: service, AsynqClient: asynqClient}
}

func (h *PostHandler) CreatePost(c *fiber.Ctx) error {
	userID := GetUserID(c)

	var pc transfer.PostCreation
	if err := c.BodyParser(&pc); err != nil {
		slog.Info(err.Error())
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Unable to parse request body",
		})
	}

	post, delay, err := h.s.CreatePost(c.Context(), userID, &pc)
	if err != nil {
		if errors.Is(err, service.ErrContentInvalid) {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": err.Error(),
			})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	if post.Status == models.PostStatusScheduled {
		err = queue.EnqueuePublish(h.AsynqClient, queue.PublishPostPayload{PostID: post.ID}, delay)
		if err != nil {
			// The sweep will still pick the post up; the fast path is
			// best effort.
			slog.Info("failed to enqueue publish task", "post_id", post.ID, "error", err)
		}
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"success": true,
		"post":    post,
	})
}

// PublishX is the interactive "publish now" path.
func (h *PostHandler) PublishX(c *fiber.Ctx) error {
	userID := GetUserID(c)

	var req transfer.PublishRequest
	if err := c.BodyParser(&req); err != nil {
		slog.Info(err.Error())
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Unable to parse request body",
		})
	}

	result, err := h.s.PublishNow(c.Context(), userID, &req)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrContentInvalid):
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": err.Error(),
			})
		case errors.Is(err, service.ErrAccountNotConnected):
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "X account not connected. Please connect your account first.",
			})
		case errors.Is(err, service.ErrReconnectRequired):
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Session expired. Please reconnect your X account.",
			})
		default:
			var platformErr *service.PlatformError
			if errors.As(err, &platformErr) {
				return c.Status(platformErr.StatusCode).JSON(fiber.Map{
					"error": platformErr.Message,
				})
			}
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "Failed to post to X",
			})
		}
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"success":    true,
		"externalId": result.ExternalID,
		"url":        result.ExternalURL,
	})
}

func (h *PostHandler) ListPosts(c *fiber.Ctx) error {
	userID := GetUserID(c)
	postID := c.QueryInt("id", 0)

	if postID != 0 {
		post, err := h.s.PostInfo(c.Context(), int64(postID), userID)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "Unable to get post",
			})
		}
		return c.Status(fiber.StatusOK).JSON(post)
	}

	posts, err := h.s.List(c.Context(), userID, c.Query("status"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Unable to list posts",
		})
	}

	return c.Status(fiber.StatusOK).JSON(posts)
}

func (h *PostHandler) RemovePost(c *fiber.Ctx) error {
	userID := GetUserID(c)
	postID := c.QueryInt("id", 0)

	err := h.s.Remove(c.Context(), userID, int64(postID))
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Unable to remove post",
		})
	}

	return c.SendStatus(fiber.StatusOK)
}
