// Package store is the synchronization layer for game sessions: the versioned
// snapshot holder, the ordered event relay, the per-participant secret
// mailbox and the role vault. Two implementations exist, an in-memory one and
// a postgres one; both serialize snapshot writers purely through optimistic
// version comparison and takeover through compare-and-swap, never through
// locks visible to callers.
package store

import (
	"context"
	"errors"
	"time"

	"mafia-night/internal/game"
)

var (
	// ErrNotFound indicates the session (or mailbox owner) does not exist.
	ErrNotFound = errors.New("session not found")
	// ErrNotRegistered indicates no mailbox was registered for the player.
	ErrNotRegistered = errors.New("player not registered")
	// ErrUnauthorized indicates a token mismatch. Distinguishable from an
	// empty mailbox, which is a successful pull of zero messages.
	ErrUnauthorized = errors.New("invalid token")
	// ErrTakeoverConflict indicates the takeover CAS lost the race: the
	// stored coordinator tuple no longer matches what the challenger saw.
	ErrTakeoverConflict = errors.New("takeover failed")
)

// PublishResult reports the outcome of a snapshot publish. When the
// candidate's version did not exceed the stored one the publish is ignored,
// not failed, and Session carries the currently stored snapshot so the caller
// can reconcile.
type PublishResult struct {
	Session game.Session
	Ignored bool
}

// SubmitResult reports the outcome of an event submission. A duplicate client
// event id is a no-op: Index is the index assigned when the event was first
// stored and Duplicated is true.
type SubmitResult struct {
	Index      int64
	Duplicated bool
}

// Store is everything a coordinator or participant device needs from durable
// storage. All mutating calls are idempotent or CAS-protected and therefore
// safe to retry.
type Store interface {
	// CreateSession stores a brand-new session snapshot.
	CreateSession(ctx context.Context, session game.Session) error
	// GetSession returns the current snapshot.
	GetSession(ctx context.Context, id string) (game.Session, error)
	// FindSessionByJoinCode resolves a join code to its session.
	FindSessionByJoinCode(ctx context.Context, code string) (game.Session, error)
	// PublishSnapshot accepts the candidate only if its version exceeds the
	// stored one; otherwise the publish is silently ignored.
	PublishSnapshot(ctx context.Context, candidate game.Session) (PublishResult, error)

	// SubmitEvent appends an event, allocating the next per-session index.
	// Resubmitting an already-stored event id reports Duplicated.
	SubmitEvent(ctx context.Context, sessionID string, event game.RelayEvent) (SubmitResult, error)
	// ListEvents returns events with index > afterIndex, ascending.
	ListEvents(ctx context.Context, sessionID string, afterIndex int64) ([]game.RelayEvent, error)

	// RegisterMailbox creates the participant's mailbox with its auth token.
	RegisterMailbox(ctx context.Context, sessionID, participantID, token string) error
	// PushSecret appends to a registered mailbox (ErrNotRegistered if none).
	PushSecret(ctx context.Context, sessionID, participantID string, message game.SecretMessage) error
	// PullSecrets returns and clears the queue when the token matches.
	PullSecrets(ctx context.Context, sessionID, participantID, token string) ([]game.SecretMessage, error)
	// VerifyToken checks a participant token without touching the queue.
	VerifyToken(ctx context.Context, sessionID, participantID, token string) error

	// SaveRoles stores the session's private role map. Never part of the
	// shared snapshot document.
	SaveRoles(ctx context.Context, sessionID string, roles map[string]string) error
	// LoadRoles returns the private role map (empty map when unset).
	LoadRoles(ctx context.Context, sessionID string) (map[string]string, error)

	// RequestTakeover installs challengerID as coordinator iff the stored
	// (coordinator, updatedAt) tuple still matches what the challenger
	// observed. Returns the new snapshot or ErrTakeoverConflict.
	RequestTakeover(ctx context.Context, sessionID, challengerID string, observedCoordinator string, observedUpdatedAt time.Time) (game.Session, error)
}
