package scheduler

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/distributo/api/internal/models"
	"github.com/distributo/api/internal/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type markPostedCall struct {
	postID      int64
	externalID  string
	externalURL string
}

type recordFailureCall struct {
	postID       int64
	errorMessage string
	retryCount   int
	status       string
}

type fakePostRepo struct {
	posts map[int64]*models.Post

	claimErr      error
	markPostedErr error
	marked        []markPostedCall
	failures      []recordFailureCall
}

func newFakePostRepo(posts ...*models.Post) *fakePostRepo {
	r := &fakePostRepo{posts: map[int64]*models.Post{}}
	for _, p := range posts {
		r.posts[p.ID] = p
	}
	return r
}

func (f *fakePostRepo) Create(ctx context.Context, tx *sql.Tx, post *models.Post) (int64, error) {
	f.posts[post.ID] = post
	return post.ID, nil
}

func (f *fakePostRepo) GetByID(ctx context.Context, id int64) (*models.Post, error) {
	return f.posts[id], nil
}

func (f *fakePostRepo) ListByUserID(ctx context.Context, userID int64, status string) ([]*models.Post, error) {
	return nil, nil
}

func (f *fakePostRepo) ListDue(ctx context.Context, now time.Time, limit int) ([]*models.Post, error) {
	var due []*models.Post
	for _, p := range f.posts {
		if p.Status == models.PostStatusScheduled && p.ScheduledAt.Valid && !p.ScheduledAt.Time.After(now) {
			due = append(due, p)
			if len(due) == limit {
				break
			}
		}
	}
	return due, nil
}

func (f *fakePostRepo) ClaimForPosting(ctx context.Context, id int64) (bool, error) {
	if f.claimErr != nil {
		return false, f.claimErr
	}
	post, ok := f.posts[id]
	if !ok || post.Status != models.PostStatusScheduled {
		return false, nil
	}
	post.Status = models.PostStatusPosting
	return true, nil
}

func (f *fakePostRepo) ReleaseStale(ctx context.Context, before time.Time) (int64, error) {
	var released int64
	for _, p := range f.posts {
		if p.Status == models.PostStatusPosting && p.UpdatedAt.Before(before) {
			p.Status = models.PostStatusScheduled
			released++
		}
	}
	return released, nil
}

func (f *fakePostRepo) MarkPosted(ctx context.Context, id int64, externalID, externalURL string) error {
	if f.markPostedErr != nil {
		return f.markPostedErr
	}
	f.marked = append(f.marked, markPostedCall{id, externalID, externalURL})
	if post, ok := f.posts[id]; ok {
		post.Status = models.PostStatusPosted
		post.ExternalID = externalID
		post.ExternalURL = externalURL
		post.ErrorMessage = ""
	}
	return nil
}

func (f *fakePostRepo) RecordFailure(ctx context.Context, id int64, errorMessage string, retryCount int, status string) error {
	f.failures = append(f.failures, recordFailureCall{id, errorMessage, retryCount, status})
	if post, ok := f.posts[id]; ok {
		post.Status = status
		post.ErrorMessage = errorMessage
		post.RetryCount = retryCount
	}
	return nil
}

func (f *fakePostRepo) CheckByUserID(ctx context.Context, postID, userID int64) (bool, error) {
	return false, nil
}

func (f *fakePostRepo) Remove(ctx context.Context, id int64) error {
	delete(f.posts, id)
	return nil
}

type fakeAccountRepo struct {
	accounts map[int64]*models.ConnectedAccount
	lastUsed []int64
	expiring []*models.ConnectedAccount
}

func newFakeAccountRepo(accounts ...*models.ConnectedAccount) *fakeAccountRepo {
	r := &fakeAccountRepo{accounts: map[int64]*models.ConnectedAccount{}}
	for _, a := range accounts {
		r.accounts[a.ID] = a
	}
	return r
}

func (f *fakeAccountRepo) Upsert(ctx context.Context, sa *models.ConnectedAccount) (int64, error) {
	f.accounts[sa.ID] = sa
	return sa.ID, nil
}

func (f *fakeAccountRepo) GetByID(ctx context.Context, id int64) (*models.ConnectedAccount, error) {
	return f.accounts[id], nil
}

func (f *fakeAccountRepo) GetActive(ctx context.Context, userID int64, platform string) (*models.ConnectedAccount, error) {
	for _, acc := range f.accounts {
		if acc.UserID == userID && acc.Platform == platform && acc.IsActive {
			return acc, nil
		}
	}
	return nil, nil
}

func (f *fakeAccountRepo) ListInfoByUserID(ctx context.Context, userID int64) ([]*models.ConnectedAccount, error) {
	return nil, nil
}

func (f *fakeAccountRepo) ListExpiring(ctx context.Context, before time.Time) ([]*models.ConnectedAccount, error) {
	return f.expiring, nil
}

func (f *fakeAccountRepo) UpdateTokens(ctx context.Context, id int64, oldAccessToken, accessToken, refreshToken string, expiresAt time.Time) (bool, error) {
	return true, nil
}

func (f *fakeAccountRepo) TouchLastUsed(ctx context.Context, id int64) error {
	f.lastUsed = append(f.lastUsed, id)
	return nil
}

func (f *fakeAccountRepo) Deactivate(ctx context.Context, userID, accountID int64) error {
	return nil
}

type fakeHistoryRepo struct {
	entries []*models.PostingHistory
}

func (f *fakeHistoryRepo) Create(ctx context.Context, history *models.PostingHistory) (int64, error) {
	f.entries = append(f.entries, history)
	return int64(len(f.entries)), nil
}

type fakeTokenService struct {
	token string
	err   error
	calls int
}

func (f *fakeTokenService) EnsureValidToken(ctx context.Context, acc *models.ConnectedAccount) (string, error) {
	f.calls++
	return f.token, f.err
}

type fakePublisher struct {
	result *service.PublishResult
	err    error
	calls  int

	gotToken   string
	gotContent string

	failContent string
}

func (f *fakePublisher) Publish(ctx context.Context, accessToken, username, content string, opts *service.PublishOptions) (*service.PublishResult, error) {
	f.calls++
	f.gotToken = accessToken
	f.gotContent = content

	if f.err != nil {
		return nil, f.err
	}
	if f.failContent != "" && content == f.failContent {
		return nil, &service.PlatformError{StatusCode: 403, Message: "duplicate content"}
	}
	if f.result != nil {
		return f.result, nil
	}
	return &service.PublishResult{
		ExternalID:  "100",
		ExternalURL: service.TweetURL(username, "100"),
	}, nil
}

func duePost(id int64, retryCount int) *models.Post {
	return &models.Post{
		ID:          id,
		UserID:      1,
		Platform:    models.PlatformX,
		Content:     "hello world",
		Status:      models.PostStatusScheduled,
		ScheduledAt: sql.NullTime{Time: time.Now().Add(-time.Minute), Valid: true},
		RetryCount:  retryCount,
	}
}

func activeAccount() *models.ConnectedAccount {
	return &models.ConnectedAccount{
		ID:               5,
		UserID:           1,
		Platform:         models.PlatformX,
		PlatformUsername: "jdoe",
		IsActive:         true,
	}
}

func newTestScheduler(pr *fakePostRepo, ar *fakeAccountRepo, ts *fakeTokenService, pub *fakePublisher) (*Scheduler, *fakeHistoryRepo) {
	ph := &fakeHistoryRepo{}
	s := New(pr, ar, ph, ts, pub)
	return s, ph
}

func TestSweepPublishesDuePost(t *testing.T) {
	pr := newFakePostRepo(duePost(1, 0))
	ar := newFakeAccountRepo(activeAccount())
	ts := &fakeTokenService{token: "access-token"}
	pub := &fakePublisher{}

	s, ph := newTestScheduler(pr, ar, ts, pub)

	report := s.Sweep(context.Background())

	assert.Equal(t, 1, report.Processed)
	assert.Equal(t, 1, report.Succeeded)
	assert.Equal(t, 0, report.Failed)

	assert.Equal(t, "access-token", pub.gotToken)
	assert.Equal(t, "hello world", pub.gotContent)

	require.Len(t, pr.marked, 1)
	assert.EqualValues(t, 1, pr.marked[0].postID)
	assert.Equal(t, "100", pr.marked[0].externalID)
	assert.Equal(t, "https://x.com/jdoe/status/100", pr.marked[0].externalURL)

	assert.Equal(t, models.PostStatusPosted, pr.posts[1].Status)
	assert.Equal(t, []int64{5}, ar.lastUsed)

	require.Len(t, ph.entries, 1)
	assert.Empty(t, ph.entries[0].ErrorMessage)
}

func TestSweepSkipsAlreadyClaimedPost(t *testing.T) {
	post := duePost(1, 0)
	pr := newFakePostRepo(post)
	ar := newFakeAccountRepo(activeAccount())
	ts := &fakeTokenService{token: "access-token"}
	pub := &fakePublisher{}

	s, _ := newTestScheduler(pr, ar, ts, pub)

	// another sweep already moved it to posting
	post.Status = models.PostStatusPosting

	result := s.ProcessPost(context.Background(), post)
	assert.Equal(t, "skipped", result.Status)
	assert.Zero(t, pub.calls)
	assert.Empty(t, pr.failures)
}

func TestSweepRequeuesFailureBelowCap(t *testing.T) {
	pr := newFakePostRepo(duePost(1, 0))
	ar := newFakeAccountRepo(activeAccount())
	ts := &fakeTokenService{token: "access-token"}
	pub := &fakePublisher{err: errors.New("connection reset")}

	s, _ := newTestScheduler(pr, ar, ts, pub)

	report := s.Sweep(context.Background())

	assert.Equal(t, 1, report.Failed)
	require.Len(t, pr.failures, 1)
	assert.Equal(t, 1, pr.failures[0].retryCount)
	assert.Equal(t, models.PostStatusScheduled, pr.failures[0].status)

	// still scheduled, so the next sweep picks it up again
	assert.Equal(t, models.PostStatusScheduled, pr.posts[1].Status)
}

func TestSweepMarksTerminalFailureAtCap(t *testing.T) {
	pr := newFakePostRepo(duePost(1, models.MaxRetryCount-1))
	ar := newFakeAccountRepo(activeAccount())
	ts := &fakeTokenService{token: "access-token"}
	pub := &fakePublisher{err: errors.New("still broken")}

	s, _ := newTestScheduler(pr, ar, ts, pub)

	s.Sweep(context.Background())

	require.Len(t, pr.failures, 1)
	assert.Equal(t, models.MaxRetryCount, pr.failures[0].retryCount)
	assert.Equal(t, models.PostStatusFailed, pr.failures[0].status)
	assert.Equal(t, models.PostStatusFailed, pr.posts[1].Status)

	// terminally failed posts never come back on later sweeps
	report := s.Sweep(context.Background())
	assert.Zero(t, report.Processed)
}

func TestSweepIsolatesFailures(t *testing.T) {
	bad := duePost(1, 0)
	bad.Content = "duplicate"
	good := duePost(2, 0)

	pr := newFakePostRepo(bad, good)
	ar := newFakeAccountRepo(activeAccount())
	ts := &fakeTokenService{token: "access-token"}
	pub := &fakePublisher{failContent: "duplicate"}

	s, _ := newTestScheduler(pr, ar, ts, pub)

	report := s.Sweep(context.Background())

	assert.Equal(t, 2, report.Processed)
	assert.Equal(t, 1, report.Succeeded)
	assert.Equal(t, 1, report.Failed)

	assert.Equal(t, models.PostStatusPosted, pr.posts[2].Status)
	require.Len(t, pr.failures, 1)
	assert.Contains(t, pr.failures[0].errorMessage, "duplicate content")
}

func TestSweepFailsWhenAccountMissing(t *testing.T) {
	pr := newFakePostRepo(duePost(1, 0))
	ar := newFakeAccountRepo() // nothing connected
	ts := &fakeTokenService{token: "access-token"}
	pub := &fakePublisher{}

	s, _ := newTestScheduler(pr, ar, ts, pub)

	report := s.Sweep(context.Background())

	assert.Equal(t, 1, report.Failed)
	assert.Zero(t, pub.calls)
	assert.Zero(t, ts.calls)

	require.Len(t, pr.failures, 1)
	assert.Contains(t, pr.failures[0].errorMessage, "reconnect")
}

func TestSweepFailsWhenTokenCannotBeRefreshed(t *testing.T) {
	pr := newFakePostRepo(duePost(1, 0))
	ar := newFakeAccountRepo(activeAccount())
	ts := &fakeTokenService{err: service.ErrNoRefreshToken}
	pub := &fakePublisher{}

	s, ph := newTestScheduler(pr, ar, ts, pub)

	report := s.Sweep(context.Background())

	assert.Equal(t, 1, report.Failed)
	assert.Zero(t, pub.calls)

	require.Len(t, pr.failures, 1)
	assert.Equal(t, 1, pr.failures[0].retryCount)
	assert.Equal(t, "Could not refresh access token. Please reconnect your X account.", pr.failures[0].errorMessage)

	require.Len(t, ph.entries, 1)
	assert.NotEmpty(t, ph.entries[0].ErrorMessage)
}

func TestSweepReportsRevokedRefreshSameAsMissing(t *testing.T) {
	pr := newFakePostRepo(duePost(1, 0))
	ar := newFakeAccountRepo(activeAccount())
	ts := &fakeTokenService{err: service.ErrRefreshFailed}
	pub := &fakePublisher{}

	s, _ := newTestScheduler(pr, ar, ts, pub)

	s.Sweep(context.Background())

	require.Len(t, pr.failures, 1)
	assert.Contains(t, pr.failures[0].errorMessage, "reconnect")
	assert.Zero(t, pub.calls)
}

func TestProcessPostIDPublishesDueScheduledPost(t *testing.T) {
	pr := newFakePostRepo(duePost(1, 0))
	ar := newFakeAccountRepo(activeAccount())
	ts := &fakeTokenService{token: "access-token"}
	pub := &fakePublisher{}

	s, _ := newTestScheduler(pr, ar, ts, pub)

	require.NoError(t, s.ProcessPostID(context.Background(), 1))
	assert.Equal(t, 1, pub.calls)
	assert.Equal(t, models.PostStatusPosted, pr.posts[1].Status)
}

func TestProcessPostIDNoopWhenNotDue(t *testing.T) {
	future := duePost(1, 0)
	future.ScheduledAt = sql.NullTime{Time: time.Now().Add(time.Hour), Valid: true}

	posted := duePost(2, 0)
	posted.Status = models.PostStatusPosted

	pr := newFakePostRepo(future, posted)
	ar := newFakeAccountRepo(activeAccount())
	ts := &fakeTokenService{token: "access-token"}
	pub := &fakePublisher{}

	s, _ := newTestScheduler(pr, ar, ts, pub)

	require.NoError(t, s.ProcessPostID(context.Background(), 1))
	require.NoError(t, s.ProcessPostID(context.Background(), 2))
	require.NoError(t, s.ProcessPostID(context.Background(), 999)) // unknown id

	assert.Zero(t, pub.calls)
}

func TestSweepDoesNotRequeueWhenMarkPostedFails(t *testing.T) {
	pr := newFakePostRepo(duePost(1, 0))
	pr.markPostedErr = errors.New("database gone")
	ar := newFakeAccountRepo(activeAccount())
	ts := &fakeTokenService{token: "access-token"}
	pub := &fakePublisher{}

	s, _ := newTestScheduler(pr, ar, ts, pub)

	report := s.Sweep(context.Background())
	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, 1, pub.calls)

	// the tweet exists, so the post must not go back to scheduled
	require.Len(t, pr.failures, 1)
	assert.Equal(t, models.PostStatusFailed, pr.failures[0].status)
	assert.Equal(t, models.PostStatusFailed, pr.posts[1].Status)

	report = s.Sweep(context.Background())
	assert.Zero(t, report.Processed)
	assert.Equal(t, 1, pub.calls)
}

func TestSweepReleasesStaleClaims(t *testing.T) {
	stale := duePost(1, 0)
	stale.Status = models.PostStatusPosting
	stale.UpdatedAt = time.Now().Add(-time.Hour)

	fresh := duePost(2, 0)
	fresh.Status = models.PostStatusPosting
	fresh.UpdatedAt = time.Now()

	pr := newFakePostRepo(stale, fresh)
	ar := newFakeAccountRepo(activeAccount())
	ts := &fakeTokenService{token: "access-token"}
	pub := &fakePublisher{}

	s, _ := newTestScheduler(pr, ar, ts, pub)

	report := s.Sweep(context.Background())

	// the orphaned claim is requeued and published; the recent one is
	// assumed to belong to a live worker and left alone
	assert.Equal(t, 1, report.Processed)
	assert.Equal(t, models.PostStatusPosted, pr.posts[1].Status)
	assert.Equal(t, models.PostStatusPosting, pr.posts[2].Status)
}

func TestSweepRespectsBatchSize(t *testing.T) {
	var posts []*models.Post
	for i := int64(1); i <= SweepBatchSize+5; i++ {
		posts = append(posts, duePost(i, 0))
	}

	pr := newFakePostRepo(posts...)
	ar := newFakeAccountRepo(activeAccount())
	ts := &fakeTokenService{token: "access-token"}
	pub := &fakePublisher{}

	s, _ := newTestScheduler(pr, ar, ts, pub)

	report := s.Sweep(context.Background())
	assert.Equal(t, SweepBatchSize, report.Processed)
}
