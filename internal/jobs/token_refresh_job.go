package job

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/distributo/api/internal/models"
	"github.com/distributo/api/internal/repository"
	"github.com/distributo/api/internal/service"
)

// TokenRefreshJob proactively refreshes access tokens that are about to
// expire, so most sweeps and interactive publishes find a valid token and
// never pay the refresh round-trip inline.
type TokenRefreshJob struct {
	sr repository.AccountRepository
	ts service.TokenService
}

func NewTokenRefreshJob(sr repository.AccountRepository, ts service.TokenService) *TokenRefreshJob {
	return &TokenRefreshJob{
		sr: sr,
		ts: ts,
	}
}

func (c *TokenRefreshJob) RefreshTokens() {
	ctx := context.Background()

	accounts, err := c.sr.ListExpiring(ctx, time.Now().Add(30*time.Minute))
	if err != nil {
		slog.Info(err.Error())
		return
	}

	var wg sync.WaitGroup

	concurrencyLimit := 10
	semaphore := make(chan struct{}, concurrencyLimit)

	for _, acc := range accounts {
		wg.Add(1)
		semaphore <- struct{}{}

		go func(acc *models.ConnectedAccount) {
			defer wg.Done()
			defer func() { <-semaphore }()

			if _, err := c.ts.EnsureValidToken(ctx, acc); err != nil {
				slog.Info("unable to refresh token", "account_id", acc.ID, "error", err)
			}
		}(acc)
	}

	wg.Wait()
}
