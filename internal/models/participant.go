package models

import (
	"time"

	"github.com/google/uuid"
)

// Participant is one person's media-capture identity within a session.
// UserID is nil for anonymous joins.
type Participant struct {
	ID          uuid.UUID  `json:"id"`
	SessionID   uuid.UUID  `json:"session_id"`
	DisplayName string     `json:"display_name"`
	UserID      *uuid.UUID `json:"user_id,omitempty"`
	IsHost      bool       `json:"is_host"`
	JoinedAt    time.Time  `json:"joined_at"`
}
