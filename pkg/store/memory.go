package store

import (
	"context"
	"sync/atomic"
	"time"
)

// MemoryStore implements Store on a TTLMap. Values are copied on the way in and out.
type MemoryStore struct {
	data   *TTLMap[string, []byte]
	closed atomic.Bool
}

// NewMemoryStore creates an in-memory store. opts are passed to the underlying TTLMap.
func NewMemoryStore(opts ...TTLOption) *MemoryStore {
	return &MemoryStore{data: NewTTLMap[string, []byte](0, opts...)}
}

func (s *MemoryStore) check(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.closed.Load() {
		return ErrClosed
	}
	return nil
}

// Get implements Store.
func (s *MemoryStore) Get(ctx context.Context, key string) ([]byte, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	v, ok := s.data.Get(key)
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), v...), nil
}

// Set implements Store.
func (s *MemoryStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := s.check(ctx); err != nil {
		return err
	}
	s.data.SetWithTTL(key, append([]byte(nil), value...), ttl)
	return nil
}

// SetNX implements Store.
func (s *MemoryStore) SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	if err := s.check(ctx); err != nil {
		return false, err
	}
	return s.data.SetIfAbsent(key, append([]byte(nil), value...), ttl), nil
}

// Delete implements Store.
func (s *MemoryStore) Delete(ctx context.Context, key string) error {
	if err := s.check(ctx); err != nil {
		return err
	}
	s.data.Delete(key)
	return nil
}

// Close implements Store.
func (s *MemoryStore) Close() error {
	s.closed.Store(true)
	return nil
}
