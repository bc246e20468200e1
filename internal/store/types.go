// Package store persists chat sessions and their message history so a
// conversation can continue across process restarts.
package store

import (
	"time"

	"github.com/policyradar/policyradar/internal/provider"
)

// Session is one conversation. Title is derived from the first user
// message. LastResponseID lets turn-based protocols resume without
// replaying the message history.
type Session struct {
	ID             string
	Title          string
	Model          string
	LastResponseID string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// History is the persistence interface the CLI drives.
type History interface {
	UpsertSession(session *Session) error
	GetSession(id string) (*Session, error)
	ListSessions(limit int) ([]*Session, error)
	DeleteSession(id string) error

	AppendMessages(sessionID string, messages []provider.Message) error
	Messages(sessionID string) ([]provider.Message, error)

	Close() error
}
