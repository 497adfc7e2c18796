package tus

import "sync"

// Store associates an upload fingerprint with the upload URL assigned by the
// server. Any backing store works as long as Get, Set and Remove are each
// individually safe for concurrent use. Entries follow last-write-wins
// semantics; a removed or never-set fingerprint is simply absent.
type Store interface {
	Get(fingerprint string) (string, bool)
	Set(fingerprint, url string)
	Remove(fingerprint string)
}

// MemoryStore keeps fingerprint associations in process memory. It is the
// store to use when resumability across process restarts is not needed.
type MemoryStore struct {
	mu   sync.RWMutex
	urls map[string]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		urls: make(map[string]string),
	}
}

func (s *MemoryStore) Get(fingerprint string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	url, ok := s.urls[fingerprint]
	return url, ok
}

func (s *MemoryStore) Set(fingerprint, url string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.urls[fingerprint] = url
}

func (s *MemoryStore) Remove(fingerprint string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.urls, fingerprint)
}
