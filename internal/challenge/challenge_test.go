package challenge

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSequence(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 32; i++ {
		seq, err := NewSequence()
		require.NoError(t, err)
		assert.Len(t, seq, ChallengeLength)
		for _, r := range seq {
			assert.Contains(t, alphanumerics, string(r))
		}
		assert.False(t, seen[seq], "sequences repeat")
		seen[seq] = true
	}
}

func TestMemoryStoreLifecycle(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	_, err := s.Outstanding(ctx, "did:x")
	assert.ErrorIs(t, err, ErrNone)

	attempts, err := s.Issue(ctx, "did:x", "c-1")
	require.NoError(t, err)
	assert.Equal(t, 1, attempts)

	rec, err := s.Outstanding(ctx, "did:x")
	require.NoError(t, err)
	assert.Equal(t, "c-1", rec.Challenge)
	assert.Equal(t, 1, rec.Attempts)

	// Re-issuing replaces the challenge and bumps the counter.
	attempts, err = s.Issue(ctx, "did:x", "c-2")
	require.NoError(t, err)
	assert.Equal(t, 2, attempts)
	rec, err = s.Outstanding(ctx, "did:x")
	require.NoError(t, err)
	assert.Equal(t, "c-2", rec.Challenge)

	require.NoError(t, s.Clear(ctx, "did:x"))
	_, err = s.Outstanding(ctx, "did:x")
	assert.ErrorIs(t, err, ErrNone)

	// A cleared peer starts over.
	attempts, err = s.Issue(ctx, "did:x", "c-3")
	require.NoError(t, err)
	assert.Equal(t, 1, attempts)
}

func TestMemoryStoreIsolatesPeers(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	_, err := s.Issue(ctx, "did:a", "c-a")
	require.NoError(t, err)
	_, err = s.Issue(ctx, "did:b", "c-b")
	require.NoError(t, err)

	recA, err := s.Outstanding(ctx, "did:a")
	require.NoError(t, err)
	recB, err := s.Outstanding(ctx, "did:b")
	require.NoError(t, err)
	assert.Equal(t, "c-a", recA.Challenge)
	assert.Equal(t, "c-b", recB.Challenge)

	require.NoError(t, s.Clear(ctx, "did:a"))
	_, err = s.Outstanding(ctx, "did:b")
	assert.NoError(t, err)
}
