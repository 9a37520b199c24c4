// Package session tracks multi-turn conversations. Each session holds
// an ordered list of turns; recent turns feed back into generation so
// follow-up requests can build on earlier answers. An in-process
// Memory serves the hot path, a PostgreSQL store persists turns across
// restarts.
package session

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound indicates the requested session does not exist.
var ErrNotFound = errors.New("session not found")

// Session represents one conversation.
type Session struct {
	ID        uuid.UUID
	Title     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Turn is one completed request/response exchange.
type Turn struct {
	ID             uuid.UUID
	SessionID      uuid.UUID
	Request        string   // What the user asked
	PlanSteps      []string // Task descriptions in execution order
	Code           string   // Generated code, possibly partial
	Explanation    string
	Complete       bool // False when generation stopped early
	SequenceNumber int
	CreatedAt      time.Time
}
