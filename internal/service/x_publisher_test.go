package service

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/distributo/api/internal/transfer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestPublisher(url string) *xPublisher {
	return &xPublisher{
		client:    http.DefaultClient,
		tweetsURL: url,
	}
}

func TestValidateContent(t *testing.T) {
	assert.NoError(t, ValidateContent("hello"))
	assert.NoError(t, ValidateContent(strings.Repeat("a", 280)))
	// rune count, not byte count
	assert.NoError(t, ValidateContent(strings.Repeat("é", 280)))

	assert.ErrorIs(t, ValidateContent(""), ErrContentInvalid)
	assert.ErrorIs(t, ValidateContent("   \n\t "), ErrContentInvalid)
	assert.ErrorIs(t, ValidateContent(strings.Repeat("a", 281)), ErrContentInvalid)
}

func TestPublishRejectsInvalidContentBeforeNetwork(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
	}))
	defer srv.Close()

	p := newTestPublisher(srv.URL)

	_, err := p.Publish(context.Background(), "token", "jdoe", strings.Repeat("a", 281), nil)
	assert.ErrorIs(t, err, ErrContentInvalid)

	_, err = p.Publish(context.Background(), "token", "jdoe", "  ", nil)
	assert.ErrorIs(t, err, ErrContentInvalid)

	assert.EqualValues(t, 0, atomic.LoadInt32(&calls))
}

func TestPublishSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "Bearer the-token", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var req transfer.TweetRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "hello world", req.Text)
		assert.Nil(t, req.Reply)

		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"data":{"id":"1790000000000000001","text":"hello world"}}`))
	}))
	defer srv.Close()

	p := newTestPublisher(srv.URL)

	result, err := p.Publish(context.Background(), "the-token", "jdoe", "hello world", nil)
	require.NoError(t, err)
	assert.Equal(t, "1790000000000000001", result.ExternalID)
	assert.Equal(t, "https://x.com/jdoe/status/1790000000000000001", result.ExternalURL)
}

func TestPublishTrimsContent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req transfer.TweetRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "padded", req.Text)

		w.Write([]byte(`{"data":{"id":"42"}}`))
	}))
	defer srv.Close()

	p := newTestPublisher(srv.URL)

	_, err := p.Publish(context.Background(), "token", "jdoe", "  padded \n", nil)
	require.NoError(t, err)
}

func TestPublishReply(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req transfer.TweetRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.NotNil(t, req.Reply)
		assert.Equal(t, "111", req.Reply.InReplyToTweetID)

		w.Write([]byte(`{"data":{"id":"222"}}`))
	}))
	defer srv.Close()

	p := newTestPublisher(srv.URL)

	result, err := p.Publish(context.Background(), "token", "jdoe", "a reply", &PublishOptions{ReplyToID: "111"})
	require.NoError(t, err)
	assert.Equal(t, "222", result.ExternalID)
}

func TestPublishPlatformErrorMessages(t *testing.T) {
	tests := []struct {
		name       string
		statusCode int
		body       string
		want       string
	}{
		{"detail field", 403, `{"detail":"You are not allowed to create a Tweet with duplicate content."}`, "You are not allowed to create a Tweet with duplicate content."},
		{"title field", 429, `{"title":"Too Many Requests"}`, "Too Many Requests"},
		{"errors array", 400, `{"errors":[{"message":"text is too long"}]}`, "text is too long"},
		{"unknown shape", 500, `{"something":"else"}`, "X API error"},
		{"empty body", 502, ``, "X API error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.statusCode)
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			p := newTestPublisher(srv.URL)

			_, err := p.Publish(context.Background(), "token", "jdoe", "content", nil)
			require.Error(t, err)

			var platformErr *PlatformError
			require.ErrorAs(t, err, &platformErr)
			assert.Equal(t, tt.statusCode, platformErr.StatusCode)
			assert.Equal(t, tt.want, platformErr.Message)
		})
	}
}

func TestPublishMalformedResponse(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"missing id", `{"data":{}}`},
		{"empty object", `{}`},
		{"invalid json", `not json at all`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			p := newTestPublisher(srv.URL)

			_, err := p.Publish(context.Background(), "token", "jdoe", "content", nil)
			assert.ErrorIs(t, err, ErrMalformedResponse)
		})
	}
}

func TestTweetURL(t *testing.T) {
	assert.Equal(t, "https://x.com/jdoe/status/123", TweetURL("jdoe", "123"))
}
