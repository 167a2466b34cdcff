package utils

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

type ttlEntry struct {
	value     string
	expiresAt time.Time
}

// TTLStore keeps short-lived string values under a key prefix. Redis is preferred; without it values
// live in process memory, which is only correct for a single instance.
type TTLStore struct {
	prefix string

	mu  sync.Mutex
	mem map[string]ttlEntry
}

// NewTTLStore creates a store whose keys are namespaced by prefix.
func NewTTLStore(prefix string) *TTLStore {
	return &TTLStore{prefix: prefix, mem: map[string]ttlEntry{}}
}

// Set stores value under key until ttl elapses. Non-positive ttl is a no-op.
func (s *TTLStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	if rc := GetRedis(); rc != nil {
		return rc.Set(ctx, s.prefix+key, value, ttl).Err()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweepLocked()
	s.mem[key] = ttlEntry{value: value, expiresAt: time.Now().Add(ttl)}
	return nil
}

// Exists reports whether key holds an unexpired value.
func (s *TTLStore) Exists(ctx context.Context, key string) (bool, error) {
	if rc := GetRedis(); rc != nil {
		n, err := rc.Exists(ctx, s.prefix+key).Result()
		return n > 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.mem[key]
	if ok && time.Now().After(e.expiresAt) {
		delete(s.mem, key)
		return false, nil
	}
	return ok, nil
}

// Take returns and removes the value under key, so each value is consumed at most once.
func (s *TTLStore) Take(ctx context.Context, key string) (string, bool, error) {
	if rc := GetRedis(); rc != nil {
		v, err := rc.GetDel(ctx, s.prefix+key).Result()
		if errors.Is(err, redis.Nil) {
			return "", false, nil
		}
		if err != nil {
			return "", false, err
		}
		return v, true, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.mem[key]
	if !ok {
		return "", false, nil
	}
	delete(s.mem, key)
	if time.Now().After(e.expiresAt) {
		return "", false, nil
	}
	return e.value, true, nil
}

func (s *TTLStore) sweepLocked() {
	now := time.Now()
	for k, e := range s.mem {
		if now.After(e.expiresAt) {
			delete(s.mem, k)
		}
	}
}
