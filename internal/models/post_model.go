package models

import (
	"database/sql"
	"time"
)

type Post struct {
	ID           int64        `db:"id" json:"id"`
	UserID       int64        `db:"user_id" json:"user_id"`
	Platform     string       `db:"platform" json:"platform"`
	Content      string       `db:"content" json:"content"`
	CommunityID  string       `db:"community_id" json:"community_id,omitempty"`
	Status       string       `db:"status" json:"status"`
	ScheduledAt  sql.NullTime `db:"scheduled_at" json:"scheduled_at"`
	ExternalID   string       `db:"external_id" json:"external_id,omitempty"`
	ExternalURL  string       `db:"external_url" json:"external_url,omitempty"`
	ErrorMessage string       `db:"error_message" json:"error_message,omitempty"`
	RetryCount   int          `db:"retry_count" json:"retry_count"`
	PostedAt     sql.NullTime `db:"posted_at" json:"posted_at"`
	CreatedAt    time.Time    `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time    `db:"updated_at" json:"updated_at"`
}

const (
	PostStatusDraft     = "draft"
	PostStatusScheduled = "scheduled"
	PostStatusPosting   = "posting"
	PostStatusPosted    = "posted"
	PostStatusFailed    = "failed"
)

// MaxRetryCount is the bound on automatic publish retries. Once a post has
// failed this many times it becomes terminally failed and is excluded from
// future sweeps.
const MaxRetryCount = 3
