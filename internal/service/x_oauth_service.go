package service

import (
	"context"
	"crypto/subtle"
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

const (
	xAuthorizeURL = "https://twitter.com/i/oauth2/authorize"
	xTokenURL     = "https://api.twitter.com/2/oauth2/token"
	xUserInfoURL  = "https://api.twitter.com/2/users/me?user.fields=profile_image_url,name,username"

	xScopes = "tweet.read tweet.write users.read offline.access"

	// HandshakeTTL bounds how long the state/verifier pair stays valid.
	HandshakeTTL = 10 * time.Minute
)

// Redirect error codes carried back to the integrations page.
const (
	OAuthCodeStateMismatch = "state_mismatch"
	OAuthCodeMissingParams = "missing_params"
	OAuthCodeTokenExchange = "token_exchange_failed"
	OAuthCodeProfileFetch  = "profile_fetch_failed"
	OAuthCodeStoreFailed   = "db_error"
)

// OAuthError is a typed handshake failure. Code is machine-readable and safe
// to put in a redirect query string; Detail is for logs only.
type OAuthError struct {
	Code   string
	Detail string
}

func (e *OAuthError) Error() string {
	if e.Detail == "" {
		return e.Code
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Detail)
}

// AuthRequest is the outcome of starting a handshake. State and CodeVerifier
// must be persisted in session-scoped storage until the callback.
type AuthRequest struct {
	URL          string
	State        string
	CodeVerifier string
}

type XOAuthService interface {
	BeginAuth(ctx context.Context) (*AuthRequest, error)
	CompleteAuth(ctx context.Context, userID int64, code, returnedState, storedState, storedVerifier, providerError string) error
}

type xOAuthService struct {
	cfg    config.Config
	sa     repository.AccountRepository
	client *http.Client

	tokenURL    string
	userInfoURL string
}

func NewXOAuthService(cfg config.Config, sa repository.AccountRepository) XOAuthService {
	return &xOAuthService{
		cfg: cfg,
		sa:  sa,
		client: &http.Client{
			Timeout: 15 * time.Second,
		},
		tokenURL:    xTokenURL,
		userInfoURL: xUserInfoURL,
	}
}

func (s *xOAuthService) BeginAuth(ctx context.Context) (*AuthRequest, error) {
	codeVerifier, err := utils.GenerateCodeVerifier()
	if err != nil {
		slog.Error(err.Error())
		return nil, err
	}

	state, err := utils.GenerateState()
	if err != nil {
		slog.Error(err.Error())
		return nil, err
	}

	params := url.Values{}
	params.Add("response_type", "code")
	params.Add("client_id", s.cfg.XClientID)
	params.Add("redirect_uri", s.cfg.XRedirectURI)
	params.Add("scope", xScopes)
	params.Add("state", state)
	params.Add("code_challenge", utils.CodeChallengeS256(codeVerifier))
	params.Add("code_challenge_method", "S256")

	return &AuthRequest{
		URL:          fmt.Sprintf("%s?%s", xAuthorizeURL, params.Encode()),
		State:        state,
		CodeVerifier: codeVerifier,
	}, nil
}

// CompleteAuth finishes the handshake: validates the returned state against
// the stored one, exchanges the code with the PKCE verifier, fetches the
// provider profile, and upserts the connected account. The caller must discard
// the stored state/verifier on every exit path, success or failure.
func (s *xOAuthService) CompleteAuth(ctx context.Context, userID int64, code, returnedState, storedState, storedVerifier, providerError string) error {
	if providerError != "" {
		slog.Info("x oauth provider error", "error", providerError)
		return &OAuthError{Code: providerError}
	}

	if returnedState == "" || storedState == "" ||
		subtle.ConstantTimeCompare([]byte(returnedState), []byte(storedState)) != 1 {
		slog.Warn("x oauth state mismatch", "user_id", userID)
		return &OAuthError{Code: OAuthCodeStateMismatch}
	}

	if code == "" || storedVerifier == "" {
		return &OAuthError{Code: OAuthCodeMissingParams}
	}

	tokenResponse, err := s.exchangeCodeForToken(ctx, code, storedVerifier)
	if err != nil {
		slog.Info(err.Error())
		return &OAuthError{Code: OAuthCodeTokenExchange, Detail: err.Error()}
	}

	userInfo, err := s.fetchUserInfo(ctx, tokenResponse.AccessToken)
	if err != nil {
		slog.Info(err.Error())
		return &OAuthError{Code: OAuthCodeProfileFetch, Detail: err.Error()}
	}

	encryptedAccessToken, err := utils.Encrypt([]byte(tokenResponse.AccessToken), []byte(s.cfg.SecretKey))
	if err != nil {
		return &OAuthError{Code: OAuthCodeStoreFailed, Detail: err.Error()}
	}

	encryptedRefreshToken := ""
	if tokenResponse.RefreshToken != "" {
		encryptedRefreshToken, err = utils.Encrypt([]byte(tokenResponse.RefreshToken), []byte(s.cfg.SecretKey))
		if err != nil {
			return &OAuthError{Code: OAuthCodeStoreFailed, Detail: err.Error()}
		}
	}

	account := &models.ConnectedAccount{
		UserID:              userID,
		Platform:            models.PlatformX,
		PlatformUserID:      userInfo.Data.ID,
		PlatformUsername:    userInfo.Data.Username,
		PlatformDisplayName: userInfo.Data.Name,
		PlatformAvatarURL:   userInfo.Data.ProfileImageURL,
		AccessToken:         encryptedAccessToken,
		RefreshToken:        encryptedRefreshToken,
		TokenExpiresAt:      GetExpiresAt(tokenResponse.ExpiresIn),
	}

	if _, err := s.sa.Upsert(ctx, account); err != nil {
		return &OAuthError{Code: OAuthCodeStoreFailed, Detail: err.Error()}
	}

	return nil
}

func (s *xOAuthService) exchangeCodeForToken(ctx context.Context, code, codeVerifier string) (*transfer.XTokenResponse, error) {
	data := url.Values{}
	data.Set("grant_type", "authorization_code")
	data.Set("code", code)
	data.Set("redirect_uri", s.cfg.XRedirectURI)
	data.Set("code_verifier", codeVerifier)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.tokenURL, strings.NewReader(data.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(s.cfg.XClientID, s.cfg.XClientSecret)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("token exchange request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var apiErr transfer.XAPIError
		_ = json.NewDecoder(resp.Body).Decode(&apiErr)
		return nil, fmt.Errorf("token endpoint returned %d: %s", resp.StatusCode, apiErr.Message())
	}

	var tokenResponse transfer.XTokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tokenResponse); err != nil {
		return nil, fmt.Errorf("failed to decode token response: %w", err)
	}
	if tokenResponse.AccessToken == "" {
		return nil, errors.New("token response missing access_token")
	}

	return &tokenResponse, nil
}

func (s *xOAuthService) fetchUserInfo(ctx context.Context, accessToken string) (*transfer.XUserResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.userInfoURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("user info request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var apiErr transfer.XAPIError
		_ = json.NewDecoder(resp.Body).Decode(&apiErr)
		return nil, fmt.Errorf("user info endpoint returned %d: %s", resp.StatusCode, apiErr.Message())
	}

	var userInfo transfer.XUserResponse
	if err := json.NewDecoder(resp.Body).Decode(&userInfo); err != nil {
		return nil, fmt.Errorf("failed to decode user info response: %w", err)
	}

	return &userInfo, nil
}
