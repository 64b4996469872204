package game

import "time"

const (
	PhaseCreated    = "created"
	PhaseLobby      = "lobby"
	PhaseNight      = "night"
	PhaseDay        = "day"
	PhaseVoting     = "voting"
	PhaseResolution = "resolution"
	PhaseGameOver   = "game-over"
)

const (
	StatusActive    = "active"
	StatusCompleted = "completed"
)

const (
	RoleMafia     = "mafia"
	RoleDoctor    = "doctor"
	RoleDetective = "detective"
	RoleVillager  = "villager"
)

const (
	WinnerVillagers = "villagers"
	WinnerMafia     = "mafia"
)

const (
	ActionKill    = "kill"
	ActionSave    = "save"
	ActionInspect = "inspect"
)

type Settings struct {
	NightSeconds      int  `json:"night_seconds"`
	DaySeconds        int  `json:"day_seconds"`
	VotingSeconds     int  `json:"voting_seconds"`
	AutoAdvance       bool `json:"auto_advance"`
	RevealRoleOnDeath bool `json:"reveal_role_on_death"`
}

// Participant is the shared view of a player. Roles are deliberately not part
// of this struct: the snapshot distributed to every device must never carry
// live role information.
type Participant struct {
	ID          string    `json:"id"`
	DisplayName string    `json:"display_name"`
	Alive       bool      `json:"alive"`
	JoinedAt    time.Time `json:"joined_at"`
	LastSeenAt  time.Time `json:"last_seen_at"`
}

// Session is the full versioned snapshot visible to all participants.
type Session struct {
	ID                       string            `json:"id"`
	JoinCode                 string            `json:"join_code,omitempty"`
	Status                   string            `json:"status"`
	Phase                    string            `json:"phase"`
	CurrentNightNumber       int               `json:"current_night_number"`
	// RelayFloorIndex fences the event relay across restarts: events with an
	// index at or below it belong to a previous game on this session and are
	// skipped when a coordinator rebuilds from the relay.
	RelayFloorIndex          int64             `json:"relay_floor_index,omitempty"`
	PhaseEpochID             string            `json:"phase_epoch_id,omitempty"`
	PhaseStartedAt           time.Time         `json:"phase_started_at"`
	Settings                 Settings          `json:"settings"`
	CoordinatorParticipantID string            `json:"coordinator_participant_id,omitempty"`
	Version                  int64             `json:"version"`
	Participants             []Participant     `json:"participants"`
	LastNightResolution      *NightSummary     `json:"last_night_resolution,omitempty"`
	LastVoteResult           *VoteSummary      `json:"last_vote_result,omitempty"`
	Winner                   string            `json:"winner,omitempty"`
	RevealedRoles            map[string]string `json:"revealed_roles,omitempty"`
	CreatedAt                time.Time         `json:"created_at"`
	UpdatedAt                time.Time         `json:"updated_at"`
}

// NightSummary is the shared outcome of a resolved night. Inspection results
// never appear here; they travel through the secret mailbox.
type NightSummary struct {
	NightNumber  int    `json:"night_number"`
	KilledID     string `json:"killed_id,omitempty"`
	KilledRole   string `json:"killed_role,omitempty"`
	DoctorSaved  bool   `json:"doctor_saved"`
	NobodyDied   bool   `json:"nobody_died"`
}

type VoteSummary struct {
	PhaseEpochID   string         `json:"phase_epoch_id"`
	EliminatedID   string         `json:"eliminated_id,omitempty"`
	EliminatedRole string         `json:"eliminated_role,omitempty"`
	Tie            bool           `json:"tie"`
	Counts         map[string]int `json:"counts,omitempty"`
}

// Player is the role-augmented view the resolution engine operates on. The
// coordinator assembles it from the snapshot plus the role vault it alone may
// read.
type Player struct {
	Participant
	Role string
}

type Action struct {
	SessionID     string    `json:"session_id"`
	NightNumber   int       `json:"night_number"`
	ParticipantID string    `json:"participant_id"`
	Kind          string    `json:"kind"`
	TargetID      string    `json:"target_id"`
	CreatedAt     time.Time `json:"created_at"`
}

type Vote struct {
	SessionID    string    `json:"session_id"`
	PhaseEpochID string    `json:"phase_epoch_id"`
	VoterID      string    `json:"voter_id"`
	TargetID     string    `json:"target_id"`
	CreatedAt    time.Time `json:"created_at"`
}

// FindParticipant returns a pointer into the session's participant slice.
func (s *Session) FindParticipant(id string) *Participant {
	for i := range s.Participants {
		if s.Participants[i].ID == id {
			return &s.Participants[i]
		}
	}
	return nil
}

// AliveCount reports how many participants are currently alive.
func (s *Session) AliveCount() int {
	count := 0
	for _, p := range s.Participants {
		if p.Alive {
			count++
		}
	}
	return count
}
