package store

import (
	"context"
	"sync"
)

// MemorySessions keeps sessions in a mutex-guarded map. Default backend when
// no Redis URL is configured.
type MemorySessions struct {
	mu       sync.RWMutex
	sessions map[string]Session
}

func NewMemorySessions() *MemorySessions {
	return &MemorySessions{sessions: make(map[string]Session)}
}

// Set merges sess into the stored session the same way the Redis backend's
// HSet does: Result, Start and End survive updates that do not carry them.
func (s *MemorySessions) Set(_ context.Context, id string, sess Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.sessions[id]
	if sess.Result == nil {
		sess.Result = prev.Result
	}
	if sess.Start == nil {
		sess.Start = prev.Start
	}
	if sess.End == nil {
		sess.End = prev.End
	}
	s.sessions[id] = sess
	return nil
}

func (s *MemorySessions) Get(_ context.Context, id string) (Session, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	return sess, ok, nil
}

func (s *MemorySessions) Close() error { return nil }
