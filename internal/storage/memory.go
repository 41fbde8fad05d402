package storage

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

type memoryObject struct {
	content     []byte
	contentType string
}

// MemoryStore keeps objects in a map. Used by tests and the local profile.
type MemoryStore struct {
	mu      sync.RWMutex
	objects map[string]memoryObject
	puts    int
	clock   clockwork.Clock
}

// NewMemoryStore creates an empty store
func NewMemoryStore(clock clockwork.Clock) *MemoryStore {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &MemoryStore{objects: make(map[string]memoryObject), clock: clock}
}

func (s *MemoryStore) Put(_ context.Context, bucket, key string, content []byte, contentType string) error {
	if !validKey(key) {
		return invalidPath(bucket, key)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[bucket+"/"+key] = memoryObject{content: append([]byte(nil), content...), contentType: contentType}
	s.puts++
	return nil
}

func (s *MemoryStore) Get(_ context.Context, bucket, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	obj, ok := s.objects[bucket+"/"+key]
	if !ok {
		return nil, notFound(bucket, key, nil)
	}
	return append([]byte(nil), obj.content...), nil
}

func (s *MemoryStore) SignedURL(_ context.Context, bucket, key string, ttl time.Duration) (string, error) {
	s.mu.RLock()
	_, ok := s.objects[bucket+"/"+key]
	s.mu.RUnlock()
	if !ok {
		return "", notFound(bucket, key, nil)
	}
	q := url.Values{}
	q.Set("expires", fmt.Sprintf("%d", s.clock.Now().Add(ttl).Unix()))
	return fmt.Sprintf("memory://%s/%s?%s", bucket, key, q.Encode()), nil
}

// Len returns the number of stored objects
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.objects)
}

// Puts returns how many writes the store has accepted
func (s *MemoryStore) Puts() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.puts
}

// ContentType returns the stored content type of an object
func (s *MemoryStore) ContentType(bucket, key string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.objects[bucket+"/"+key].contentType
}
