package db

import (
	"time"

	"gorm.io/datatypes"
)

// Session holds one snapshot document per game session. The snapshot blob is
// the full shared state; version, coordinator_id and updated_at are mirrored
// into columns so CAS predicates stay single-statement.
type Session struct {
	ID             string         `gorm:"primaryKey;size:64"`
	JoinCode       string         `gorm:"size:12;uniqueIndex;not null"`
	Status         string         `gorm:"size:32;not null"`
	Version        int64          `gorm:"not null"`
	CoordinatorID  string         `gorm:"size:64;not null;default:''"`
	LastEventIndex int64          `gorm:"not null;default:0"`
	Snapshot       datatypes.JSON `gorm:"type:jsonb;not null"`
	CreatedAt      time.Time      `gorm:"not null"`
	UpdatedAt      time.Time      `gorm:"not null"`
	Events         []Event
	Mailboxes      []Mailbox
}

// Event is one immutable relay row. EventID is the client-chosen dedupe key;
// EventIndex comes from the session's counter at insertion time.
type Event struct {
	ID         uint           `gorm:"primaryKey"`
	SessionID  string         `gorm:"size:64;index;not null;uniqueIndex:idx_events_session_event"`
	EventID    string         `gorm:"size:64;not null;uniqueIndex:idx_events_session_event"`
	EventIndex int64          `gorm:"not null;index:idx_events_session_index"`
	Kind       string         `gorm:"size:32;not null"`
	Payload    datatypes.JSON `gorm:"type:jsonb;not null"`
	CreatedAt  time.Time      `gorm:"not null"`
}

// Mailbox is the per (session, participant) secret queue with its auth token.
type Mailbox struct {
	ID            uint           `gorm:"primaryKey"`
	SessionID     string         `gorm:"size:64;not null;uniqueIndex:idx_mailboxes_session_participant"`
	ParticipantID string         `gorm:"size:64;not null;uniqueIndex:idx_mailboxes_session_participant"`
	Token         string         `gorm:"size:64;not null"`
	Queue         datatypes.JSON `gorm:"type:jsonb;not null;default:'[]'"`
	CreatedAt     time.Time      `gorm:"not null"`
	UpdatedAt     time.Time      `gorm:"not null"`
}

// RoleVault is the coordinator-only role map, stored apart from the snapshot
// so it can never leak into shared state.
type RoleVault struct {
	SessionID string         `gorm:"primaryKey;size:64"`
	Roles     datatypes.JSON `gorm:"type:jsonb;not null;default:'{}'"`
	UpdatedAt time.Time      `gorm:"not null"`
}
