package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeWaitlistRepo struct {
	emails []string
}

func (f *fakeWaitlistRepo) Add(ctx context.Context, email string) error {
	f.emails = append(f.emails, email)
	return nil
}

func TestWaitlistJoinNormalizesEmail(t *testing.T) {
	repo := &fakeWaitlistRepo{}
	s := NewWaitlistService(repo)

	require.NoError(t, s.Join(context.Background(), "  Jane.Doe@Example.COM "))
	require.Len(t, repo.emails, 1)
	assert.Equal(t, "jane.doe@example.com", repo.emails[0])
}

func TestWaitlistJoinRejectsInvalidEmail(t *testing.T) {
	repo := &fakeWaitlistRepo{}
	s := NewWaitlistService(repo)

	for _, email := range []string{"", "not-an-email", "@example.com", "jane@"} {
		assert.ErrorIs(t, s.Join(context.Background(), email), ErrInvalidEmail, email)
	}
	assert.Empty(t, repo.emails)
}
