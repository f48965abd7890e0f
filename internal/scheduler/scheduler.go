package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/distributo/api/internal/models"
	"github.com/distributo/api/internal/repository"
	"github.com/distributo/api/internal/service"
)

// SweepBatchSize bounds how many due posts one sweep processes, which bounds
// per-run latency and the burst rate against the X API.
const SweepBatchSize = 10

// StaleClaimAge is how long a post may sit in posting before a sweep assumes
// the claiming process died and returns the post to scheduled.
const StaleClaimAge = 10 * time.Minute

// PostResult is the per-post outcome inside a sweep report.
type PostResult struct {
	PostID     int64  `json:"id"`
	Status     string `json:"status"` // success, failed, skipped
	ExternalID string `json:"external_id,omitempty"`
	Error      string `json:"error,omitempty"`
}

// SweepReport aggregates one sweep for observability; correctness never
// depends on it.
type SweepReport struct {
	Processed int           `json:"processed"`
	Succeeded int           `json:"succeeded"`
	Failed    int           `json:"failed"`
	Results   []PostResult  `json:"results"`
	Timestamp time.Time     `json:"timestamp"`
	Duration  time.Duration `json:"duration"`
}

// Scheduler is the only component that mutates post status once a post is
// scheduled. It is triggered externally (HTTP cron, in-process cron, or the
// asynq fast path) and tolerates overlapping invocations: each post is
// claimed with a conditional scheduled->posting update before any work runs.
type Scheduler struct {
	pr  repository.PostRepository
	ar  repository.AccountRepository
	ph  repository.PostingHistoryRepository
	ts  service.TokenService
	pub service.Publisher

	now func() time.Time
}

func New(
	pr repository.PostRepository,
	ar repository.AccountRepository,
	ph repository.PostingHistoryRepository,
	ts service.TokenService,
	pub service.Publisher) *Scheduler {
	return &Scheduler{
		pr:  pr,
		ar:  ar,
		ph:  ph,
		ts:  ts,
		pub: pub,
		now: time.Now,
	}
}

// Sweep runs one scan-and-publish cycle over due posts, earliest first. A
// failure on one post never aborts the rest of the batch.
func (s *Scheduler) Sweep(ctx context.Context) *SweepReport {
	started := s.now()
	report := &SweepReport{
		Timestamp: started,
		Results:   []PostResult{},
	}

	released, err := s.pr.ReleaseStale(ctx, started.Add(-StaleClaimAge))
	if err != nil {
		slog.Error("failed to release stale claims", "error", err)
	} else if released > 0 {
		slog.Warn("released stale posting claims", "count", released)
	}

	due, err := s.pr.ListDue(ctx, started, SweepBatchSize)
	if err != nil {
		slog.Error("failed to fetch due posts", "error", err)
		report.Duration = s.now().Sub(started)
		return report
	}

	for _, post := range due {
		result := s.ProcessPost(ctx, post)
		if result.Status == "skipped" {
			continue
		}

		report.Processed++
		if result.Status == "success" {
			report.Succeeded++
		} else {
			report.Failed++
		}
		report.Results = append(report.Results, result)
	}

	report.Duration = s.now().Sub(started)
	slog.Info("sweep completed",
		"processed", report.Processed,
		"succeeded", report.Succeeded,
		"failed", report.Failed,
		"duration", report.Duration)
	return report
}

// ProcessPost runs the full pipeline for one due post: claim, resolve
// account, ensure a valid token, publish, record the outcome. A post another
// sweep already claimed is reported as skipped.
func (s *Scheduler) ProcessPost(ctx context.Context, post *models.Post) PostResult {
	claimed, err := s.pr.ClaimForPosting(ctx, post.ID)
	if err != nil {
		return s.fail(ctx, post, nil, err.Error())
	}
	if !claimed {
		return PostResult{PostID: post.ID, Status: "skipped"}
	}

	account, err := s.ar.GetActive(ctx, post.UserID, post.Platform)
	if err != nil {
		return s.fail(ctx, post, nil, err.Error())
	}
	if account == nil {
		return s.fail(ctx, post, nil, "X account not connected or inactive. Please reconnect your account.")
	}

	accessToken, err := s.ts.EnsureValidToken(ctx, account)
	if err != nil {
		if errors.Is(err, service.ErrNoRefreshToken) || errors.Is(err, service.ErrRefreshFailed) {
			return s.fail(ctx, post, account, "Could not refresh access token. Please reconnect your X account.")
		}
		return s.fail(ctx, post, account, err.Error())
	}

	result, err := s.pub.Publish(ctx, accessToken, account.PlatformUsername, post.Content, nil)
	if err != nil {
		return s.fail(ctx, post, account, err.Error())
	}

	if err := s.pr.MarkPosted(ctx, post.ID, result.ExternalID, result.ExternalURL); err != nil {
		// The tweet already exists; requeuing would publish it again. Record
		// the failure terminally instead.
		slog.Error("failed to mark post as posted",
			"post_id", post.ID, "external_id", result.ExternalID, "error", err)
		if ferr := s.pr.RecordFailure(ctx, post.ID, err.Error(), post.RetryCount, models.PostStatusFailed); ferr != nil {
			slog.Error("failed to record post failure", "post_id", post.ID, "error", ferr)
		}
		s.recordHistory(ctx, post, account, err.Error())
		return PostResult{PostID: post.ID, Status: "failed", ExternalID: result.ExternalID, Error: err.Error()}
	}

	if err := s.ar.TouchLastUsed(ctx, account.ID); err != nil {
		slog.Info(err.Error())
	}
	s.recordHistory(ctx, post, account, "")

	slog.Info("post published", "post_id", post.ID, "external_url", result.ExternalURL)
	return PostResult{PostID: post.ID, Status: "success", ExternalID: result.ExternalID}
}

// ProcessPostID is the fast-path entry used by the queue worker. It
// re-checks that the post is still scheduled and due before processing, so a
// task that raced a sweep becomes a no-op.
func (s *Scheduler) ProcessPostID(ctx context.Context, postID int64) error {
	post, err := s.pr.GetByID(ctx, postID)
	if err != nil {
		return err
	}
	if post == nil || post.Status != models.PostStatusScheduled {
		return nil
	}
	if !post.ScheduledAt.Valid || post.ScheduledAt.Time.After(s.now()) {
		return nil
	}

	s.ProcessPost(ctx, post)
	return nil
}

// fail applies the requeue retry policy: increment retry_count and leave the
// post scheduled for the next sweep, or mark it terminally failed once the
// cap is reached. The sweep interval is the effective backoff.
func (s *Scheduler) fail(ctx context.Context, post *models.Post, account *models.ConnectedAccount, message string) PostResult {
	retryCount := post.RetryCount + 1
	status := models.PostStatusScheduled
	if retryCount >= models.MaxRetryCount {
		status = models.PostStatusFailed
	}

	if err := s.pr.RecordFailure(ctx, post.ID, message, retryCount, status); err != nil {
		slog.Error("failed to record post failure", "post_id", post.ID, "error", err)
	}
	s.recordHistory(ctx, post, account, message)

	slog.Warn("post publish failed",
		"post_id", post.ID,
		"retry_count", retryCount,
		"terminal", status == models.PostStatusFailed,
		"error", message)
	return PostResult{PostID: post.ID, Status: "failed", Error: message}
}

func (s *Scheduler) recordHistory(ctx context.Context, post *models.Post, account *models.ConnectedAccount, errorMessage string) {
	history := &models.PostingHistory{
		UserID:       post.UserID,
		PostID:       post.ID,
		ErrorMessage: errorMessage,
	}
	if account != nil {
		history.AccountID = account.ID
	}
	if _, err := s.ph.Create(ctx, history); err != nil {
		slog.Info(err.Error())
	}
}
