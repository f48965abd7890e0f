package service

import (
	"context"
	"errors"
	"log/slog"
	"net/mail"
	"strings"

	"github.com/distributo/api/internal/repository"
)

var ErrInvalidEmail = errors.New("invalid email address")

type WaitlistService interface {
	Join(ctx context.Context, email string) error
}

type waitlistService struct {
	w repository.WaitlistRepository
}

func NewWaitlistService(w repository.WaitlistRepository) WaitlistService {
	return &waitlistService{w: w}
}

func (s *waitlistService) Join(ctx context.Context, email string) error {
	email = strings.TrimSpace(strings.ToLower(email))
	if _, err := mail.ParseAddress(email); err != nil {
		slog.Info(err.Error())
		return ErrInvalidEmail
	}

	return s.w.Add(ctx, email)
}
