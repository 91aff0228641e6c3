// Package challenge tracks the outstanding verification challenges the
// engine has issued to peers, keyed by DID. A returned proof is only
// accepted when its DID/challenge pair matches an outstanding record,
// and a peer that exhausts its attempts is marked unverifiable.
package challenge

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrNone is returned when no challenge is outstanding for a DID.
var ErrNone = errors.New("challenge: none outstanding")

// Record is one outstanding challenge.
type Record struct {
	DID       string
	Challenge string
	Attempts  int
}

// Store persists outstanding challenges. The Redis implementation
// survives node restarts; the in-memory one is for tests and
// single-process runs.
type Store interface {
	// Issue records challenge as the outstanding one for did and
	// returns the total attempt count including this one.
	Issue(ctx context.Context, did, challenge string) (int, error)

	// Outstanding returns the current record for did, or ErrNone.
	Outstanding(ctx context.Context, did string) (Record, error)

	// Clear forgets the record for did.
	Clear(ctx context.Context, did string) error
}

const alphanumerics = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// ChallengeLength is the length of a generated challenge sequence.
const ChallengeLength = 30

// NewSequence returns a fresh random alphanumeric challenge.
func NewSequence() (string, error) {
	buf := make([]byte, ChallengeLength)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("challenge: generate: %w", err)
	}
	for i, b := range buf {
		buf[i] = alphanumerics[int(b)%len(alphanumerics)]
	}
	return string(buf), nil
}

// ============================================================================
// IN-MEMORY STORE
// ============================================================================

// MemoryStore keeps outstanding challenges in process memory.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]*Record
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]*Record)}
}

func (s *MemoryStore) Issue(ctx context.Context, did, challenge string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[did]
	if !ok {
		rec = &Record{DID: did}
		s.records[did] = rec
	}
	rec.Challenge = challenge
	rec.Attempts++
	return rec.Attempts, nil
}

func (s *MemoryStore) Outstanding(ctx context.Context, did string) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[did]
	if !ok {
		return Record{}, ErrNone
	}
	return *rec, nil
}

func (s *MemoryStore) Clear(ctx context.Context, did string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, did)
	return nil
}

// ============================================================================
// REDIS STORE
// ============================================================================

// RedisStore persists outstanding challenges in Redis so that the
// attempt counter and the issued challenge survive a node restart.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisStore connects a store backed by the given Redis address.
func NewRedisStore(addr string, ttl time.Duration) *RedisStore {
	if ttl == 0 {
		ttl = 24 * time.Hour
	}
	return &RedisStore{
		client: redis.NewClient(&redis.Options{Addr: addr}),
		ttl:    ttl,
	}
}

func key(did string) string { return "challenge:" + did }

func (s *RedisStore) Issue(ctx context.Context, did, challenge string) (int, error) {
	k := key(did)
	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, k, "challenge", challenge)
	attempts := pipe.HIncrBy(ctx, k, "attempts", 1)
	pipe.Expire(ctx, k, s.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("challenge: redis issue: %w", err)
	}
	return int(attempts.Val()), nil
}

func (s *RedisStore) Outstanding(ctx context.Context, did string) (Record, error) {
	vals, err := s.client.HGetAll(ctx, key(did)).Result()
	if err != nil {
		return Record{}, fmt.Errorf("challenge: redis get: %w", err)
	}
	if len(vals) == 0 {
		return Record{}, ErrNone
	}
	rec := Record{DID: did, Challenge: vals["challenge"]}
	fmt.Sscanf(vals["attempts"], "%d", &rec.Attempts)
	return rec, nil
}

func (s *RedisStore) Clear(ctx context.Context, did string) error {
	if err := s.client.Del(ctx, key(did)).Err(); err != nil {
		return fmt.Errorf("challenge: redis clear: %w", err)
	}
	return nil
}

// Close releases the underlying Redis connection.
func (s *RedisStore) Close() error { return s.client.Close() }

var (
	_ Store = (*MemoryStore)(nil)
	_ Store = (*RedisStore)(nil)
)
