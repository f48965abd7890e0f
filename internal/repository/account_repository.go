package repository

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"github.com/distributo/api/internal/models"
)

type AccountRepository interface {
	Upsert(ctx context.Context, sa *models.ConnectedAccount) (int64, error)
	GetByID(ctx context.Context, id int64) (*models.ConnectedAccount, error)
	GetActive(ctx context.Context, userID int64, platform string) (*models.ConnectedAccount, error)
	ListInfoByUserID(ctx context.Context, userID int64) ([]*models.ConnectedAccount, error)
	ListExpiring(ctx context.Context, before time.Time) ([]*models.ConnectedAccount, error)
	UpdateTokens(ctx context.Context, id int64, oldAccessToken, accessToken, refreshToken string, expiresAt time.Time) (bool, error)
	TouchLastUsed(ctx context.Context, id int64) error
	Deactivate(ctx context.Context, userID, accountID int64) error
}

type accountRepository struct {
	db *sql.DB
}

func NewAccountRepository(db *sql.DB) AccountRepository {
	return &accountRepository{db: db}
}

const accountColumns = `id, user_id, platform, platform_user_id, platform_username,
	platform_display_name, platform_avatar_url, access_token, refresh_token,
	token_expires_at, is_active, connected_at, last_used_at, updated_at`

func scanAccount(row interface{ Scan(...any) error }) (*models.ConnectedAccount, error) {
	var sa models.ConnectedAccount
	err := row.Scan(&sa.ID, &sa.UserID, &sa.Platform, &sa.PlatformUserID, &sa.PlatformUsername,
		&sa.PlatformDisplayName, &sa.PlatformAvatarURL, &sa.AccessToken, &sa.RefreshToken,
		&sa.TokenExpiresAt, &sa.IsActive, &sa.ConnectedAt, &sa.LastUsedAt, &sa.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &sa, nil
}

// Upsert is keyed on (user_id, platform): a reconnect overwrites the existing
// row's credentials and profile mirror instead of inserting a duplicate, and
// reactivates a soft-disconnected account.
func (r *accountRepository) Upsert(ctx context.Context, sa *models.ConnectedAccount) (int64, error) {
	query := `
		INSERT INTO connected_accounts (
			user_id,
			platform,
			platform_user_id,
			platform_username,
			platform_display_name,
			platform_avatar_url,
			access_token,
			refresh_token,
			token_expires_at,
			is_active,
			connected_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, TRUE, CURRENT_TIMESTAMP)
		ON CONFLICT (user_id, platform) DO UPDATE SET
			platform_user_id = EXCLUDED.platform_user_id,
			platform_username = EXCLUDED.platform_username,
			platform_display_name = EXCLUDED.platform_display_name,
			platform_avatar_url = EXCLUDED.platform_avatar_url,
			access_token = EXCLUDED.access_token,
			refresh_token = EXCLUDED.refresh_token,
			token_expires_at = EXCLUDED.token_expires_at,
			is_active = TRUE,
			connected_at = CURRENT_TIMESTAMP,
			updated_at = CURRENT_TIMESTAMP
		RETURNING id
	`

	var id int64
	err := r.db.QueryRowContext(ctx, query,
		sa.UserID,
		sa.Platform,
		sa.PlatformUserID,
		sa.PlatformUsername,
		sa.PlatformDisplayName,
		sa.PlatformAvatarURL,
		sa.AccessToken,
		sa.RefreshToken,
		sa.TokenExpiresAt,
	).Scan(&id)
	if err != nil {
		slog.Info(err.Error())
		return 0, err
	}

	return id, nil
}

func (r *accountRepository) GetByID(ctx context.Context, id int64) (*models.ConnectedAccount, error) {
	query := `SELECT ` + accountColumns + ` FROM connected_accounts WHERE id = $1`

	sa, err := scanAccount(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		slog.Info(err.Error())
		return nil, err
	}
	return sa, nil
}

func (r *accountRepository) GetActive(ctx context.Context, userID int64, platform string) (*models.ConnectedAccount, error) {
	query := `SELECT ` + accountColumns + `
		FROM connected_accounts
		WHERE user_id = $1 AND platform = $2 AND is_active = TRUE`

	sa, err := scanAccount(r.db.QueryRowContext(ctx, query, userID, platform))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		slog.Info(err.Error())
		return nil, err
	}
	return sa, nil
}

func (r *accountRepository) ListInfoByUserID(ctx context.Context, userID int64) ([]*models.ConnectedAccount, error) {
	query := `SELECT id, platform, platform_username, platform_display_name,
			platform_avatar_url, is_active, connected_at, last_used_at
		FROM connected_accounts WHERE user_id = $1`

	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		slog.Info(err.Error())
		return nil, err
	}
	defer rows.Close()

	var accounts []*models.ConnectedAccount
	for rows.Next() {
		var sa models.ConnectedAccount
		err := rows.Scan(&sa.ID, &sa.Platform, &sa.PlatformUsername, &sa.PlatformDisplayName,
			&sa.PlatformAvatarURL, &sa.IsActive, &sa.ConnectedAt, &sa.LastUsedAt)
		if err != nil {
			slog.Info(err.Error())
			return nil, err
		}
		accounts = append(accounts, &sa)
	}
	return accounts, rows.Err()
}

// ListExpiring returns active accounts whose token expires before the given
// instant (including already-expired ones) and that still hold a refresh
// token. Feeds the proactive refresh job.
func (r *accountRepository) ListExpiring(ctx context.Context, before time.Time) ([]*models.ConnectedAccount, error) {
	query := `SELECT ` + accountColumns + `
		FROM connected_accounts
		WHERE is_active = TRUE
		AND refresh_token <> ''
		AND token_expires_at < $1`

	rows, err := r.db.QueryContext(ctx, query, before)
	if err != nil {
		slog.Info(err.Error())
		return nil, err
	}
	defer rows.Close()

	var accounts []*models.ConnectedAccount
	for rows.Next() {
		sa, err := scanAccount(rows)
		if err != nil {
			slog.Info(err.Error())
			return nil, err
		}
		accounts = append(accounts, sa)
	}
	return accounts, rows.Err()
}

// UpdateTokens writes the credential triple in one statement, guarded by the
// access token the caller refreshed from. Returns false when no row matched,
// which means a concurrent refresh already replaced the token; the caller
// should re-read instead of overwriting the fresher credentials.
func (r *accountRepository) UpdateTokens(ctx context.Context, id int64, oldAccessToken, accessToken, refreshToken string, expiresAt time.Time) (bool, error) {
	query := `
		UPDATE connected_accounts
		SET access_token = $3,
			refresh_token = COALESCE(NULLIF($4, ''), refresh_token),
			token_expires_at = $5,
			updated_at = CURRENT_TIMESTAMP
		WHERE id = $1 AND access_token = $2
	`

	result, err := r.db.ExecContext(ctx, query, id, oldAccessToken, accessToken, refreshToken, expiresAt)
	if err != nil {
		slog.Info(err.Error())
		return false, err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		slog.Info(err.Error())
		return false, err
	}
	return affected == 1, nil
}

func (r *accountRepository) TouchLastUsed(ctx context.Context, id int64) error {
	query := `UPDATE connected_accounts SET last_used_at = CURRENT_TIMESTAMP WHERE id = $1`
	_, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		slog.Info(err.Error())
		return err
	}
	return nil
}

// Deactivate soft-disconnects instead of deleting so connected_at and the
// posting history keep their audit trail.
func (r *accountRepository) Deactivate(ctx context.Context, userID, accountID int64) error {
	query := `
		UPDATE connected_accounts
		SET is_active = FALSE, updated_at = CURRENT_TIMESTAMP
		WHERE id = $1 AND user_id = $2
	`
	_, err := r.db.ExecContext(ctx, query, accountID, userID)
	if err != nil {
		slog.Info(err.Error())
		return err
	}
	return nil
}
