package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/distributo/api/internal/transfer"
)

const (
	xTweetsURL = "https://api.twitter.com/2/tweets"

	// MaxPostLength is the X character limit.
	MaxPostLength = 280
)

// ErrContentInvalid covers empty and over-length content. Checked at creation
// time and re-checked here because content can be edited between creation and
// publish.
var ErrContentInvalid = errors.New("content is empty or exceeds the 280 character limit")

// ErrMalformedResponse means the provider returned 2xx but an unusable body.
var ErrMalformedResponse = errors.New("unexpected response from X API")

// PlatformError is a typed rejection from the publish endpoint. The executor
// never retries it; retry policy belongs to the scheduler.
type PlatformError struct {
	StatusCode int
	Message    string
}

func (e *PlatformError) Error() string {
	return fmt.Sprintf("X API rejected post (%d): %s", e.StatusCode, e.Message)
}

type PublishResult struct {
	ExternalID  string `json:"external_id"`
	ExternalURL string `json:"external_url"`
}

type PublishOptions struct {
	// ReplyToID makes the new post a reply, for thread support.
	ReplyToID string
}

type Publisher interface {
	Publish(ctx context.Context, accessToken, username, content string, opts *PublishOptions) (*PublishResult, error)
}

type xPublisher struct {
	client *http.Client

	tweetsURL string
}

func NewXPublisher() Publisher {
	return &xPublisher{
		client: &http.Client{
			Timeout: 15 * time.Second,
		},
		tweetsURL: xTweetsURL,
	}
}

// ValidateContent rejects empty and over-length post content.
func ValidateContent(content string) error {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" || utf8.RuneCountInString(trimmed) > MaxPostLength {
		return ErrContentInvalid
	}
	return nil
}

func (p *xPublisher) Publish(ctx context.Context, accessToken, username, content string, opts *PublishOptions) (*PublishResult, error) {
	if err := ValidateContent(content); err != nil {
		return nil, err
	}

	tweet := transfer.TweetRequest{Text: strings.TrimSpace(content)}
	if opts != nil && opts.ReplyToID != "" {
		tweet.Reply = &transfer.TweetReply{InReplyToTweetID: opts.ReplyToID}
	}

	body, err := json.Marshal(tweet)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.tweetsURL, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("publish request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var apiErr transfer.XAPIError
		_ = json.NewDecoder(resp.Body).Decode(&apiErr)
		return nil, &PlatformError{StatusCode: resp.StatusCode, Message: apiErr.Message()}
	}

	var tweetResponse transfer.TweetResponse
	if err := json.NewDecoder(resp.Body).Decode(&tweetResponse); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if tweetResponse.Data.ID == "" {
		return nil, fmt.Errorf("%w: missing tweet id", ErrMalformedResponse)
	}

	return &PublishResult{
		ExternalID:  tweetResponse.Data.ID,
		ExternalURL: TweetURL(username, tweetResponse.Data.ID),
	}, nil
}

// TweetURL builds the canonical public URL of a post.
func TweetURL(username, tweetID string) string {
	return fmt.Sprintf("https://x.com/%s/status/%s", username, tweetID)
}
