package tracker

import (
	"log"
	"os"
	"sync"
)

// Store is the key-value persistence interface behind the tracker.
// Get returns nil data (not an error) for a missing key.
type Store interface {
	Get(key string) ([]byte, error)
	Set(key string, data []byte) error
}

// Environment variables selecting the Redis store.
const (
	EnvRedisAddr     = "REDIS_ADDR"
	EnvRedisUsername = "REDIS_USERNAME"
	EnvRedisPassword = "REDIS_PASSWORD"
)

// NewStoreFromEnv returns a Redis-backed store when REDIS_ADDR is set
// and reachable, falling back to an in-memory store otherwise.
func NewStoreFromEnv() Store {
	addr := os.Getenv(EnvRedisAddr)
	if addr == "" {
		log.Println("Using in-memory tracker store")
		return NewMemoryStore()
	}

	store, err := NewRedisStore(addr, os.Getenv(EnvRedisUsername), os.Getenv(EnvRedisPassword))
	if err != nil {
		log.Printf("Redis connection failed: %v", err)
		log.Println("Falling back to in-memory tracker store")
		return NewMemoryStore()
	}
	log.Printf("Using Redis tracker store at %s", addr)
	return store
}

// MemoryStore is a process-local Store for setups without Redis.
type MemoryStore struct {
	mu   sync.Mutex
	data map[string][]byte
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string][]byte)}
}

func (s *MemoryStore) Get(key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.data[key]
	if !ok {
		return nil, nil
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

func (s *MemoryStore) Set(key string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored := make([]byte, len(data))
	copy(stored, data)
	s.data[key] = stored
	return nil
}
