package history

import (
	"context"
	"sync"
)

type sessionKey struct {
	userID    string
	sessionID string
}

type sessionLog struct {
	mu    sync.Mutex
	turns []Turn
}

// MemoryStore keeps history in process. Each session has its own lock, so
// appends to different sessions never contend.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[sessionKey]*sessionLog
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[sessionKey]*sessionLog)}
}

func (s *MemoryStore) log(key sessionKey, create bool) *sessionLog {
	s.mu.RLock()
	l, ok := s.sessions[key]
	s.mu.RUnlock()
	if ok || !create {
		return l
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if l, ok = s.sessions[key]; !ok {
		l = &sessionLog{}
		s.sessions[key] = l
	}
	return l
}

// Append adds a turn to the end of its session
func (s *MemoryStore) Append(ctx context.Context, turn Turn) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	turn = prepare(turn)

	l := s.log(sessionKey{turn.UserID, turn.SessionID}, true)
	l.mu.Lock()
	l.turns = append(l.turns, turn)
	l.mu.Unlock()
	return nil
}

// Read returns a copy of the session's turns, oldest first
func (s *MemoryStore) Read(ctx context.Context, userID, sessionID string) ([]Turn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	l := s.log(sessionKey{userID, sessionID}, false)
	if l == nil {
		return []Turn{}, nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Turn, len(l.turns))
	copy(out, l.turns)
	return out, nil
}
