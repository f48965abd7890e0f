package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/distributo/api/internal/models"
	"github.com/distributo/api/internal/repository"
	"github.com/distributo/api/internal/transfer"
)

// ErrAccountNotConnected means the user has no active account for the
// platform; publishing is impossible until they connect one.
var ErrAccountNotConnected = errors.New("X account not connected")

// ErrReconnectRequired means the stored credentials are unrecoverable
// (missing or revoked refresh token); the user must re-authorize.
var ErrReconnectRequired = errors.New("session expired, please reconnect your X account")

type PostService interface {
	CreatePost(ctx context.Context, userID int64, pc *transfer.PostCreation) (*models.Post, time.Duration, error)
	PublishNow(ctx context.Context, userID int64, req *transfer.PublishRequest) (*PublishResult, error)
	List(ctx context.Context, userID int64, status string) ([]*models.Post, error)
	PostInfo(ctx context.Context, postID, userID int64) (*models.Post, error)
	Remove(ctx context.Context, userID, postID int64) error
}

type postService struct {
	pr  repository.PostRepository
	ar  repository.AccountRepository
	ts  TokenService
	pub Publisher
}

func NewPostService(
	pr repository.PostRepository,
	ar repository.AccountRepository,
	ts TokenService,
	pub Publisher) PostService {
	return &postService{
		pr:  pr,
		ar:  ar,
		ts:  ts,
		pub: pub,
	}
}

// CreatePost stores a draft, a scheduled post, or publishes immediately when
// PostNow is set. For scheduled posts it returns the delay until the post is
// due so the caller can enqueue a fast-path task; a scheduled_at in the past
// is accepted and simply becomes due for the next sweep (delay 0).
func (s *postService) CreatePost(ctx context.Context, userID int64, pc *transfer.PostCreation) (*models.Post, time.Duration, error) {
	if pc == nil {
		return nil, 0, errors.New("post creation data is nil")
	}
	if err := ValidateContent(pc.Content); err != nil {
		slog.Info(err.Error())
		return nil, 0, err
	}

	post := &models.Post{
		UserID:      userID,
		Platform:    models.PlatformX,
		Content:     pc.Content,
		CommunityID: pc.CommunityID,
	}

	switch {
	case pc.PostNow:
		post.Status = models.PostStatusPosting
	case pc.Draft:
		post.Status = models.PostStatusDraft
	default:
		scheduledAt, err := time.Parse(time.RFC3339, pc.ScheduledAt)
		if err != nil {
			err = fmt.Errorf("invalid scheduled time format: %w", err)
			slog.Info(err.Error())
			return nil, 0, err
		}
		post.Status = models.PostStatusScheduled
		post.ScheduledAt = sql.NullTime{Time: scheduledAt, Valid: true}
	}

	postID, err := s.pr.Create(ctx, nil, post)
	if err != nil {
		return nil, 0, fmt.Errorf("error creating post: %w", err)
	}
	post.ID = postID

	if pc.PostNow {
		result, account, err := s.resolveAndPublish(ctx, userID, pc.Content, pc.ReplyToID)
		if err != nil {
			if ferr := s.pr.RecordFailure(ctx, postID, err.Error(), post.RetryCount+1, models.PostStatusFailed); ferr != nil {
				slog.Info(ferr.Error())
			}
			post.Status = models.PostStatusFailed
			post.ErrorMessage = err.Error()
			return post, 0, err
		}

		if err := s.pr.MarkPosted(ctx, postID, result.ExternalID, result.ExternalURL); err != nil {
			return nil, 0, err
		}
		if err := s.ar.TouchLastUsed(ctx, account.ID); err != nil {
			slog.Info(err.Error())
		}
		post.Status = models.PostStatusPosted
		post.ExternalID = result.ExternalID
		post.ExternalURL = result.ExternalURL
		return post, 0, nil
	}

	var delay time.Duration
	if post.Status == models.PostStatusScheduled {
		delay = time.Until(post.ScheduledAt.Time)
		if delay < 0 {
			delay = 0
		}
	}

	return post, delay, nil
}

// PublishNow is the interactive publish path. With PostID it updates the
// existing post's outcome fields; without it a new posted row is created.
func (s *postService) PublishNow(ctx context.Context, userID int64, req *transfer.PublishRequest) (*PublishResult, error) {
	if err := ValidateContent(req.Content); err != nil {
		slog.Info(err.Error())
		return nil, err
	}

	if req.PostID != 0 {
		owned, err := s.pr.CheckByUserID(ctx, req.PostID, userID)
		if err != nil {
			return nil, err
		}
		if !owned {
			return nil, errors.New("post doesn't exist")
		}
	}

	result, account, err := s.resolveAndPublish(ctx, userID, req.Content, "")
	if err != nil {
		return nil, err
	}

	postID := req.PostID
	if postID == 0 {
		postID, err = s.pr.Create(ctx, nil, &models.Post{
			UserID:   userID,
			Platform: models.PlatformX,
			Content:  req.Content,
			Status:   models.PostStatusPosting,
		})
		if err != nil {
			return nil, fmt.Errorf("error saving post: %w", err)
		}
	}

	if err := s.pr.MarkPosted(ctx, postID, result.ExternalID, result.ExternalURL); err != nil {
		return nil, err
	}
	if err := s.ar.TouchLastUsed(ctx, account.ID); err != nil {
		slog.Info(err.Error())
	}

	return result, nil
}

func (s *postService) resolveAndPublish(ctx context.Context, userID int64, content, replyToID string) (*PublishResult, *models.ConnectedAccount, error) {
	account, err := s.ar.GetActive(ctx, userID, models.PlatformX)
	if err != nil {
		return nil, nil, err
	}
	if account == nil {
		return nil, nil, ErrAccountNotConnected
	}

	accessToken, err := s.ts.EnsureValidToken(ctx, account)
	if err != nil {
		if errors.Is(err, ErrNoRefreshToken) || errors.Is(err, ErrRefreshFailed) {
			return nil, nil, ErrReconnectRequired
		}
		return nil, nil, err
	}

	var opts *PublishOptions
	if replyToID != "" {
		opts = &PublishOptions{ReplyToID: replyToID}
	}

	result, err := s.pub.Publish(ctx, accessToken, account.PlatformUsername, content, opts)
	if err != nil {
		return nil, nil, err
	}

	return result, account, nil
}

func (s *postService) List(ctx context.Context, userID int64, status string) ([]*models.Post, error) {
	if userID == 0 {
		err := errors.New("UserID is not valid")
		slog.Info(err.Error())
		return nil, err
	}

	posts, err := s.pr.ListByUserID(ctx, userID, status)
	if err != nil {
		return nil, fmt.Errorf("error getting posts")
	}
	return posts, nil
}

func (s *postService) PostInfo(ctx context.Context, postID, userID int64) (*models.Post, error) {
	isValid, err := s.pr.CheckByUserID(ctx, postID, userID)
	if err != nil {
		return nil, err
	}
	if !isValid {
		err = errors.New("post doesn't exist")
		slog.Info(err.Error())
		return nil, err
	}

	return s.pr.GetByID(ctx, postID)
}

func (s *postService) Remove(ctx context.Context, userID, postID int64) error {
	isValid, err := s.pr.CheckByUserID(ctx, postID, userID)
	if err != nil {
		return err
	}
	if !isValid {
		err = errors.New("post doesn't exist")
		slog.Info(err.Error())
		return err
	}

	return s.pr.Remove(ctx, postID)
}
