// Package idempotency caches responses to mutating requests so that a
// retried request carrying the same Idempotency-Key gets the first answer.
package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"sync"
	"time"
)

const DefaultTTL = 24 * time.Hour

// Response is a recorded HTTP response.
type Response struct {
	Status   int         `json:"status"`
	Header   http.Header `json:"header,omitempty"`
	Body     []byte      `json:"body"`
	StoredAt time.Time   `json:"stored_at"`
}

type Store interface {
	Get(ctx context.Context, key string) (Response, bool, error)
	Put(ctx context.Context, key string, resp Response, ttl time.Duration) error
	Ping(ctx context.Context) error
	Close() error
}

// Scope binds a client key to the caller and the request target, so two
// users (or two endpoints) never share a cached response.
func Scope(userID, method, path, clientKey string) string {
	sum := sha256.Sum256([]byte(userID + "\x00" + method + "\x00" + path + "\x00" + clientKey))
	return hex.EncodeToString(sum[:])
}

type memoryEntry struct {
	resp      Response
	expiresAt time.Time
}

// MemoryStore is the single-process fallback used when no Redis URL is
// configured.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]memoryEntry),
		now:     time.Now,
	}
}

func (s *MemoryStore) Get(_ context.Context, key string) (Response, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[key]
	if !ok {
		return Response{}, false, nil
	}
	if !s.now().Before(entry.expiresAt) {
		delete(s.entries, key)
		return Response{}, false, nil
	}
	return entry.resp, true, nil
}

// Put stores resp unless an unexpired response is already recorded for key.
// The first write wins, as with RedisStore.
func (s *MemoryStore) Put(_ context.Context, key string, resp Response, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	if existing, ok := s.entries[key]; ok && now.Before(existing.expiresAt) {
		return nil
	}
	if resp.StoredAt.IsZero() {
		resp.StoredAt = now
	}
	s.entries[key] = memoryEntry{resp: resp, expiresAt: now.Add(ttl)}
	s.sweepLocked(now)
	return nil
}

func (s *MemoryStore) sweepLocked(now time.Time) {
	for key, entry := range s.entries {
		if !now.Before(entry.expiresAt) {
			delete(s.entries, key)
		}
	}
}

func (s *MemoryStore) Ping(context.Context) error { return nil }

func (s *MemoryStore) Close() error { return nil }
