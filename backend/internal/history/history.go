// Package history stores conversation turns per (user, session) pair.
package history

import (
	"context"
	"net/url"
	"time"

	"github.com/google/uuid"
)

// Turn is one completed question/answer exchange produced by a tool
type Turn struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	SessionID string    `json:"session_id"`
	Tool      string    `json:"tool"`
	Question  string    `json:"question"`
	Query     string    `json:"query,omitempty"` // executed Cypher or standalone question
	Answer    string    `json:"answer"`
	CreatedAt time.Time `json:"created_at"`
}

// Store is the conversation history collaborator. Appends to one session are
// linearizable; Read returns every turn of the session oldest first.
type Store interface {
	Append(ctx context.Context, turn Turn) error
	Read(ctx context.Context, userID, sessionID string) ([]Turn, error)
}

// Window returns the n most recent turns; n <= 0 keeps all of them
func Window(turns []Turn, n int) []Turn {
	if n <= 0 || len(turns) <= n {
		return turns
	}
	return turns[len(turns)-n:]
}

// prepare fills the generated fields of a turn before it is persisted
func prepare(turn Turn) Turn {
	if turn.ID == "" {
		turn.ID = uuid.New().String()
	}
	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = time.Now().UTC()
	}
	return turn
}

// compositeKey identifies a session across users. Both parts are escaped so
// ("a:b", "c") and ("a", "b:c") never collide.
func compositeKey(userID, sessionID string) string {
	return url.QueryEscape(userID) + ":" + url.QueryEscape(sessionID)
}
