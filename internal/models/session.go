package models

import (
	"time"

	"github.com/google/uuid"
)

// SessionStatus represents the session lifecycle.
const (
	SessionStatusActive = "active"
	SessionStatusEnded  = "ended"
)

// Session is one recording engagement with a host and zero-or-more participants.
type Session struct {
	ID        uuid.UUID  `json:"id"`
	Title     string     `json:"title"`
	HostID    uuid.UUID  `json:"host_id"`
	Status    string     `json:"status"`
	CreatedAt time.Time  `json:"created_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
}

// SessionWithParticipants is a session plus its membership, as returned by GET /sessions/:id.
type SessionWithParticipants struct {
	Session
	Participants []Participant `json:"participants"`
}
