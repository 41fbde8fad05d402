package delivery

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
)

// PINStore keeps hashed one-time retrieval PINs until they expire or are redeemed
type PINStore interface {
	// Put replaces any PIN of the invoice and resets its failure count
	Put(ctx context.Context, invoiceID uuid.UUID, hash []byte, ttl time.Duration) error
	// Get returns the stored hash, nil when none is active
	Get(ctx context.Context, invoiceID uuid.UUID) ([]byte, error)
	// Delete removes the PIN and reports whether one was present
	Delete(ctx context.Context, invoiceID uuid.UUID) (bool, error)
	// RecordFailure counts a wrong guess against the active PIN and returns
	// the new count, 0 when no PIN is active
	RecordFailure(ctx context.Context, invoiceID uuid.UUID) (int, error)
}

// ConnectRedis initializes a Redis client from URL or host:port input
func ConnectRedis(_ context.Context, redisURL string) (*redis.Client, error) {
	if strings.HasPrefix(redisURL, "redis://") || strings.HasPrefix(redisURL, "rediss://") {
		opt, err := redis.ParseURL(redisURL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		return redis.NewClient(opt), nil
	}
	return redis.NewClient(&redis.Options{Addr: redisURL}), nil
}

// RedisPINStore stores PIN hashes in Redis hashes with a TTL
type RedisPINStore struct {
	client *redis.Client
}

// NewRedisPINStore creates a PIN store on client
func NewRedisPINStore(client *redis.Client) *RedisPINStore {
	return &RedisPINStore{client: client}
}

func pinKey(invoiceID uuid.UUID) string {
	return "invoice:pin:" + invoiceID.String()
}

func (s *RedisPINStore) Put(ctx context.Context, invoiceID uuid.UUID, hash []byte, ttl time.Duration) error {
	key := pinKey(invoiceID)
	_, err := s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Del(ctx, key)
		p.HSet(ctx, key, "hash", string(hash), "failed_count", 0)
		p.Expire(ctx, key, ttl)
		return nil
	})
	return err
}

func (s *RedisPINStore) Get(ctx context.Context, invoiceID uuid.UUID) ([]byte, error) {
	raw, err := s.client.HGet(ctx, pinKey(invoiceID), "hash").Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return []byte(raw), nil
}

func (s *RedisPINStore) Delete(ctx context.Context, invoiceID uuid.UUID) (bool, error) {
	n, err := s.client.Del(ctx, pinKey(invoiceID)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// recordFailureScript increments only an existing hash so a late guess
// cannot recreate an expired or redeemed PIN key without a TTL
var recordFailureScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 0 then
	return 0
end
return redis.call("HINCRBY", KEYS[1], "failed_count", 1)
`)

func (s *RedisPINStore) RecordFailure(ctx context.Context, invoiceID uuid.UUID) (int, error) {
	n, err := recordFailureScript.Run(ctx, s.client, []string{pinKey(invoiceID)}).Int64()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

type memoryPIN struct {
	hash     []byte
	failures int
	expires  time.Time
}

// MemoryPINStore is the in-process PIN store
type MemoryPINStore struct {
	mu    sync.Mutex
	pins  map[uuid.UUID]*memoryPIN
	clock clockwork.Clock
}

// NewMemoryPINStore creates an empty store; expiry follows clock
func NewMemoryPINStore(clock clockwork.Clock) *MemoryPINStore {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &MemoryPINStore{pins: make(map[uuid.UUID]*memoryPIN), clock: clock}
}

// active returns the unexpired entry; callers hold mu
func (s *MemoryPINStore) active(invoiceID uuid.UUID) *memoryPIN {
	pin, ok := s.pins[invoiceID]
	if !ok {
		return nil
	}
	if !s.clock.Now().Before(pin.expires) {
		delete(s.pins, invoiceID)
		return nil
	}
	return pin
}

func (s *MemoryPINStore) Put(_ context.Context, invoiceID uuid.UUID, hash []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pins[invoiceID] = &memoryPIN{hash: append([]byte(nil), hash...), expires: s.clock.Now().Add(ttl)}
	return nil
}

func (s *MemoryPINStore) Get(_ context.Context, invoiceID uuid.UUID) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pin := s.active(invoiceID)
	if pin == nil {
		return nil, nil
	}
	return append([]byte(nil), pin.hash...), nil
}

func (s *MemoryPINStore) Delete(_ context.Context, invoiceID uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active(invoiceID) == nil {
		return false, nil
	}
	delete(s.pins, invoiceID)
	return true, nil
}

func (s *MemoryPINStore) RecordFailure(_ context.Context, invoiceID uuid.UUID) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pin := s.active(invoiceID)
	if pin == nil {
		return 0, nil
	}
	pin.failures++
	return pin.failures, nil
}
