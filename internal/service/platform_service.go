package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/distributo/api/internal/models"
	"github.com/distributo/api/internal/repository"
)

type PlatformService interface {
	List(ctx context.Context, userID int64) ([]*models.ConnectedAccount, error)
	Disconnect(ctx context.Context, userID, accountID int64) error
}

type platformService struct {
	sa repository.AccountRepository
}

func NewPlatformService(sa repository.AccountRepository) PlatformService {
	return &platformService{sa: sa}
}

func (s *platformService) List(ctx context.Context, userID int64) ([]*models.ConnectedAccount, error) {
	if userID == 0 {
		err := errors.New("UserID is not valid")
		slog.Info(err.Error())
		return nil, err
	}

	accounts, err := s.sa.ListInfoByUserID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("error getting connected accounts")
	}
	return accounts, nil
}

// Disconnect soft-flags the account inactive. The row and its connected_at
// history survive; a later reconnect reactivates it through the upsert.
func (s *platformService) Disconnect(ctx context.Context, userID, accountID int64) error {
	if userID == 0 || accountID == 0 {
		err := errors.New("AccountID is not valid")
		slog.Info(err.Error())
		return err
	}

	account, err := s.sa.GetByID(ctx, accountID)
	if err != nil {
		return err
	}
	if account == nil || account.UserID != userID {
		err = errors.New("connected account doesn't exist")
		slog.Info(err.Error())
		return err
	}

	return s.sa.Deactivate(ctx, userID, accountID)
}
