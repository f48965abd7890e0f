package repository

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"github.com/distributo/api/internal/models"
)

type PostRepository interface {
	Create(ctx context.Context, tx *sql.Tx, post *models.Post) (int64, error)
	GetByID(ctx context.Context, id int64) (*models.Post, error)
	ListByUserID(ctx context.Context, userID int64, status string) ([]*models.Post, error)
	ListDue(ctx context.Context, now time.Time, limit int) ([]*models.Post, error)
	ClaimForPosting(ctx context.Context, id int64) (bool, error)
	ReleaseStale(ctx context.Context, before time.Time) (int64, error)
	MarkPosted(ctx context.Context, id int64, externalID, externalURL string) error
	RecordFailure(ctx context.Context, id int64, errorMessage string, retryCount int, status string) error
	CheckByUserID(ctx context.Context, postID, userID int64) (bool, error)
	Remove(ctx context.Context, id int64) error
}

type postRepository struct {
	db *sql.DB
}

func NewPostRepository(db *sql.DB) PostRepository {
	return &postRepository{db: db}
}

const postColumns = `id, user_id, platform, content, community_id, status, scheduled_at,
	external_id, external_url, error_message, retry_count, posted_at, created_at, updated_at`

func scanPost(row interface{ Scan(...any) error }) (*models.Post, error) {
	var post models.Post
	err := row.Scan(&post.ID, &post.UserID, &post.Platform, &post.Content, &post.CommunityID,
		&post.Status, &post.ScheduledAt, &post.ExternalID, &post.ExternalURL,
		&post.ErrorMessage, &post.RetryCount, &post.PostedAt, &post.CreatedAt, &post.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &post, nil
}

func (r *postRepository) Create(ctx context.Context, tx *sql.Tx, post *models.Post) (int64, error) {
	query := `
		INSERT INTO posts (user_id, platform, content, community_id, status, scheduled_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`

	var id int64
	var err error

	if tx != nil {
		err = tx.QueryRowContext(ctx, query, post.UserID, post.Platform, post.Content,
			post.CommunityID, post.Status, post.ScheduledAt).Scan(&id)
	} else {
		err = r.db.QueryRowContext(ctx, query, post.UserID, post.Platform, post.Content,
			post.CommunityID, post.Status, post.ScheduledAt).Scan(&id)
	}
	if err != nil {
		slog.Info(err.Error())
		return 0, err
	}

	return id, nil
}

func (r *postRepository) GetByID(ctx context.Context, id int64) (*models.Post, error) {
	query := `SELECT ` + postColumns + ` FROM posts WHERE id = $1`

	post, err := scanPost(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		slog.Info(err.Error())
		return nil, err
	}
	return post, nil
}

func (r *postRepository) ListByUserID(ctx context.Context, userID int64, status string) ([]*models.Post, error) {
	query := `SELECT ` + postColumns + ` FROM posts WHERE user_id = $1`
	args := []any{userID}

	if status != "" {
		query += ` AND status = $2`
		args = append(args, status)
	}
	query += ` ORDER BY created_at DESC`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		slog.Info(err.Error())
		return nil, err
	}
	defer rows.Close()

	var posts []*models.Post
	for rows.Next() {
		post, err := scanPost(rows)
		if err != nil {
			slog.Info(err.Error())
			return nil, err
		}
		posts = append(posts, post)
	}
	return posts, rows.Err()
}

// ListDue returns scheduled posts whose scheduled_at has passed, earliest
// first, bounded to limit rows per sweep.
func (r *postRepository) ListDue(ctx context.Context, now time.Time, limit int) ([]*models.Post, error) {
	query := `SELECT ` + postColumns + `
		FROM posts
		WHERE status = $1 AND scheduled_at IS NOT NULL AND scheduled_at <= $2
		ORDER BY scheduled_at ASC
		LIMIT $3`

	rows, err := r.db.QueryContext(ctx, query, models.PostStatusScheduled, now, limit)
	if err != nil {
		slog.Info(err.Error())
		return nil, err
	}
	defer rows.Close()

	var posts []*models.Post
	for rows.Next() {
		post, err := scanPost(rows)
		if err != nil {
			slog.Info(err.Error())
			return nil, err
		}
		posts = append(posts, post)
	}
	return posts, rows.Err()
}

// ClaimForPosting moves a post scheduled -> posting only if it is still
// scheduled. Returns false when another sweep already claimed it, which makes
// redundant concurrent sweeps safe.
func (r *postRepository) ClaimForPosting(ctx context.Context, id int64) (bool, error) {
	query := `
		UPDATE posts
		SET status = $1, updated_at = CURRENT_TIMESTAMP
		WHERE id = $2 AND status = $3
	`

	result, err := r.db.ExecContext(ctx, query, models.PostStatusPosting, id, models.PostStatusScheduled)
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

// ReleaseStale returns posts stuck in posting since before the given instant
// to scheduled. Covers claims orphaned by a crashed process; a post a live
// sweep is working on has a recent updated_at and is left alone.
func (r *postRepository) ReleaseStale(ctx context.Context, before time.Time) (int64, error) {
	query := `
		UPDATE posts
		SET status = $1, updated_at = CURRENT_TIMESTAMP
		WHERE status = $2 AND updated_at < $3
	`

	result, err := r.db.ExecContext(ctx, query, models.PostStatusScheduled, models.PostStatusPosting, before)
	if err != nil {
		slog.Info(err.Error())
		return 0, err
	}

	return result.RowsAffected()
}

func (r *postRepository) MarkPosted(ctx context.Context, id int64, externalID, externalURL string) error {
	query := `
		UPDATE posts
		SET status = $1,
			posted_at = CURRENT_TIMESTAMP,
			external_id = $2,
			external_url = $3,
			error_message = '',
			updated_at = CURRENT_TIMESTAMP
		WHERE id = $4
	`

	_, err := r.db.ExecContext(ctx, query, models.PostStatusPosted, externalID, externalURL, id)
	if err != nil {
		slog.Info(err.Error())
		return err
	}
	return nil
}

// RecordFailure stores the failure message and the new retry count, and moves
// the post back to scheduled (requeue) or to terminal failed per the caller's
// retry-cap decision.
func (r *postRepository) RecordFailure(ctx context.Context, id int64, errorMessage string, retryCount int, status string) error {
	query := `
		UPDATE posts
		SET status = $1,
			error_message = $2,
			retry_count = $3,
			updated_at = CURRENT_TIMESTAMP
		WHERE id = $4
	`

	_, err := r.db.ExecContext(ctx, query, status, errorMessage, retryCount, id)
	if err != nil {
		slog.Info(err.Error())
		return err
	}
	return nil
}

func (r *postRepository) CheckByUserID(ctx context.Context, postID, userID int64) (bool, error) {
	query := `SELECT 1 FROM posts WHERE id = $1 AND user_id = $2`

	var result int
	err := r.db.QueryRowContext(ctx, query, postID, userID).Scan(&result)
	if err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		slog.Info(err.Error())
		return false, err
	}

	return result == 1, nil
}

func (r *postRepository) Remove(ctx context.Context, id int64) error {
	query := `DELETE FROM posts WHERE id = $1`
	_, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		slog.Info(err.Error())
		return err
	}
	return nil
}
