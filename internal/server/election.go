package server

import (
	"time"

	"mafia-night/internal/game"
)

// ShouldAttemptTakeover is the challenger-side tie-break: among the alive
// participants other than the incumbent, only the one with the smallest id
// should race the takeover CAS. This only trims contention; the CAS itself is
// what keeps two winners impossible.
func ShouldAttemptTakeover(session game.Session, participantID string, now time.Time, staleAfter time.Duration) bool {
	if staleFor(session, now) < staleAfter {
		return false
	}
	if session.CoordinatorParticipantID == participantID {
		return false
	}
	challenger := session.FindParticipant(participantID)
	if challenger == nil || !challenger.Alive {
		return false
	}
	for _, other := range session.Participants {
		if !other.Alive || other.ID == session.CoordinatorParticipantID {
			continue
		}
		if other.ID < participantID {
			return false
		}
	}
	return true
}
