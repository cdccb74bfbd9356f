package chat

import (
	"time"

	"housefees/internal/cache"
)

// State is a caller's position in the restore workflow.
type State int

const (
	StateIdle State = iota
	StateAwaitingRestoreFile
)

func (s State) String() string {
	if s == StateAwaitingRestoreFile {
		return "awaiting_restore_file"
	}
	return "idle"
}

// Sessions tracks per-caller state. Only non-idle states are stored, and
// they fall back to idle after the TTL.
type Sessions struct {
	states *cache.LRUCache[int64, State]
}

func NewSessions(ttl time.Duration) *Sessions {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &Sessions{states: cache.NewLRUCache[int64, State](4096, ttl)}
}

func (s *Sessions) State(userID int64) State {
	st, ok := s.states.Get(userID)
	if !ok {
		return StateIdle
	}
	return st
}

// AwaitRestoreFile moves the caller to StateAwaitingRestoreFile.
func (s *Sessions) AwaitRestoreFile(userID int64) {
	s.states.Set(userID, StateAwaitingRestoreFile)
}

// Reset returns the caller to idle and reports the state it left.
func (s *Sessions) Reset(userID int64) State {
	prev := s.State(userID)
	s.states.Delete(userID)
	return prev
}

// CleanExpired lets a cache.Manager drop expired sessions.
func (s *Sessions) CleanExpired() int {
	return s.states.CleanExpired()
}
