package game

import (
	"encoding/json"
	"fmt"
	"time"
)

const (
	EventJoin   = "join"
	EventAction = "action"
	EventVote   = "vote"
	EventRitual = "ritual"
)

const (
	SecretRoleAssignment   = "role_assignment"
	SecretInspectionResult = "inspection_result"
	SecretActionRejected   = "action_rejected"
	SecretGameReset        = "game_reset"
)

// RelayEvent is one input submitted into the per-session event relay. The ID
// is chosen by the client and deduplicates retries; Index is assigned by the
// relay at insertion time and strictly increases within a session.
type RelayEvent struct {
	ID        string          `json:"id"`
	Index     int64           `json:"index,omitempty"`
	Kind      string          `json:"kind"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
}

type JoinPayload struct {
	ParticipantID string `json:"participant_id"`
	DisplayName   string `json:"display_name"`
}

type ActionPayload struct {
	NightNumber   int    `json:"night_number"`
	ParticipantID string `json:"participant_id"`
	Kind          string `json:"kind"`
	TargetID      string `json:"target_id"`
}

type VotePayload struct {
	PhaseEpochID string `json:"phase_epoch_id"`
	VoterID      string `json:"voter_id"`
	TargetID     string `json:"target_id"`
}

type RitualPayload struct {
	ParticipantID string `json:"participant_id"`
	NightNumber   int    `json:"night_number"`
}

// SecretMessage is delivered through a participant's private mailbox.
type SecretMessage struct {
	Kind      string          `json:"kind"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
}

type RoleAssignmentPayload struct {
	Role string `json:"role"`
	// Teammates lists the other mafia members, sent only to mafia.
	Teammates []string `json:"teammates,omitempty"`
}

type InspectionResultPayload struct {
	NightNumber int    `json:"night_number"`
	TargetID    string `json:"target_id"`
	Role        string `json:"role"`
}

type ActionRejectedPayload struct {
	Kind   string `json:"kind"`
	Reason string `json:"reason"`
}

type GameResetPayload struct {
	Reason string `json:"reason"`
}

// NewSecret wraps a payload struct into a SecretMessage.
func NewSecret(kind string, payload any, at time.Time) (SecretMessage, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return SecretMessage{}, fmt.Errorf("encode secret payload: %w", err)
	}
	return SecretMessage{Kind: kind, Payload: raw, CreatedAt: at}, nil
}

// NewRelayEvent wraps a payload struct into a RelayEvent with the given
// client-chosen id.
func NewRelayEvent(id, kind string, payload any, at time.Time) (RelayEvent, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return RelayEvent{}, fmt.Errorf("encode event payload: %w", err)
	}
	return RelayEvent{ID: id, Kind: kind, Payload: raw, CreatedAt: at}, nil
}
