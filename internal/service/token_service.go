package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	config "github.com/distributo/api/configs"
	"github.com/distributo/api/internal/models"
	"github.com/distributo/api/internal/repository"
	"github.com/distributo/api/internal/transfer"
	"github.com/distributo/api/pkg/utils"
)

// tokenExpirySkew treats tokens expiring within the next minute as already
// expired, so a token cannot lapse between the expiry check and the publish
// call.
const tokenExpirySkew = 60 * time.Second

// ErrNoRefreshToken means the account cannot be refreshed at all; the user
// has to re-authorize. Callers surface a reconnect prompt instead of retrying.
var ErrNoRefreshToken = errors.New("no refresh token available")

// ErrRefreshFailed means the provider rejected the refresh grant, typically
// because it was revoked or rotated away.
var ErrRefreshFailed = errors.New("token refresh failed")

type TokenService interface {
	EnsureValidToken(ctx context.Context, acc *models.ConnectedAccount) (string, error)
}

type tokenService struct {
	cfg    config.Config
	sa     repository.AccountRepository
	client *http.Client

	tokenURL string
	now      func() time.Time
}

func NewTokenService(cfg config.Config, sa repository.AccountRepository) TokenService {
	return &tokenService{
		cfg: cfg,
		sa:  sa,
		client: &http.Client{
			Timeout: 15 * time.Second,
		},
		tokenURL: xTokenURL,
		now:      time.Now,
	}
}

// EnsureValidToken returns a usable plaintext access token for the account,
// refreshing it first when it is expired or about to expire. A refresh writes
// the full credential triple in one guarded update; if a concurrent refresh
// got there first, the fresher stored token is returned instead of being
// overwritten.
func (s *tokenService) EnsureValidToken(ctx context.Context, acc *models.ConnectedAccount) (string, error) {
	if acc.TokenExpiresAt.After(s.now().Add(tokenExpirySkew)) {
		return utils.Decrypt(acc.AccessToken, []byte(s.cfg.SecretKey))
	}

	if acc.RefreshToken == "" {
		return "", ErrNoRefreshToken
	}

	refreshToken, err := utils.Decrypt(acc.RefreshToken, []byte(s.cfg.SecretKey))
	if err != nil {
		return "", err
	}

	tokenResponse, err := s.exchangeRefreshToken(ctx, refreshToken)
	if err != nil {
		return "", err
	}

	encryptedAccessToken, err := utils.Encrypt([]byte(tokenResponse.AccessToken), []byte(s.cfg.SecretKey))
	if err != nil {
		return "", err
	}

	// The provider is not required to rotate the refresh token; an empty
	// value keeps the stored one (COALESCE in the update).
	encryptedRefreshToken := ""
	if tokenResponse.RefreshToken != "" {
		encryptedRefreshToken, err = utils.Encrypt([]byte(tokenResponse.RefreshToken), []byte(s.cfg.SecretKey))
		if err != nil {
			return "", err
		}
	}

	expiresAt := s.now().Add(time.Duration(tokenResponse.ExpiresIn) * time.Second)

	updated, err := s.sa.UpdateTokens(ctx, acc.ID, acc.AccessToken, encryptedAccessToken, encryptedRefreshToken, expiresAt)
	if err != nil {
		return "", err
	}
	if !updated {
		// Lost the race against another refresh; use whatever won.
		slog.Info("concurrent token refresh detected", "account_id", acc.ID)
		fresh, err := s.sa.GetByID(ctx, acc.ID)
		if err != nil || fresh == nil {
			return tokenResponse.AccessToken, nil
		}
		acc.AccessToken = fresh.AccessToken
		acc.RefreshToken = fresh.RefreshToken
		acc.TokenExpiresAt = fresh.TokenExpiresAt
		return utils.Decrypt(fresh.AccessToken, []byte(s.cfg.SecretKey))
	}

	acc.AccessToken = encryptedAccessToken
	if encryptedRefreshToken != "" {
		acc.RefreshToken = encryptedRefreshToken
	}
	acc.TokenExpiresAt = expiresAt

	return tokenResponse.AccessToken, nil
}

func (s *tokenService) exchangeRefreshToken(ctx context.Context, refreshToken string) (*transfer.XTokenResponse, error) {
	data := url.Values{}
	data.Set("grant_type", "refresh_token")
	data.Set("refresh_token", refreshToken)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.tokenURL, strings.NewReader(data.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(s.cfg.XClientID, s.cfg.XClientSecret)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRefreshFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var apiErr transfer.XAPIError
		_ = json.NewDecoder(resp.Body).Decode(&apiErr)
		return nil, fmt.Errorf("%w: status %d: %s", ErrRefreshFailed, resp.StatusCode, apiErr.Message())
	}

	var tokenResponse transfer.XTokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tokenResponse); err != nil {
		return nil, fmt.Errorf("%w: failed to decode response: %v", ErrRefreshFailed, err)
	}
	if tokenResponse.AccessToken == "" {
		return nil, fmt.Errorf("%w: response missing access_token", ErrRefreshFailed)
	}

	return &tokenResponse, nil
}
