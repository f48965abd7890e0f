package models

import (
	"database/sql"
	"time"
)

// ConnectedAccount links one user to one external platform account. Tokens are
// stored AES-GCM encrypted; at most one active row exists per (user, platform).
type ConnectedAccount struct {
	ID                  int64        `db:"id" json:"id"`
	UserID              int64        `db:"user_id" json:"user_id"`
	Platform            string       `db:"platform" json:"platform"`
	PlatformUserID      string       `db:"platform_user_id" json:"platform_user_id"`
	PlatformUsername    string       `db:"platform_username" json:"platform_username"`
	PlatformDisplayName string       `db:"platform_display_name" json:"platform_display_name"`
	PlatformAvatarURL   string       `db:"platform_avatar_url" json:"platform_avatar_url"`
	AccessToken         string       `db:"access_token" json:"-"`
	RefreshToken        string       `db:"refresh_token" json:"-"`
	TokenExpiresAt      time.Time    `db:"token_expires_at" json:"token_expires_at"`
	IsActive            bool         `db:"is_active" json:"is_active"`
	ConnectedAt         time.Time    `db:"connected_at" json:"connected_at"`
	LastUsedAt          sql.NullTime `db:"last_used_at" json:"last_used_at"`
	UpdatedAt           time.Time    `db:"updated_at" json:"updated_at"`
}

const PlatformX = "x"
