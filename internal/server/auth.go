package server

import (
	"context"
	"errors"
	"strings"

	"mafia-night/internal/game"
)

var errCoordinatorOnly = errors.New("only the coordinator can perform this action")

// authenticateParticipant checks a participant token against the mailbox
// registry, which is the session's credential store.
func (s *Server) authenticateParticipant(ctx context.Context, session game.Session, participantID, token string) (*game.Participant, error) {
	if participantID == "" {
		return nil, errors.New("participant_id is required")
	}
	participant := session.FindParticipant(participantID)
	if participant == nil {
		return nil, errors.New("participant not found")
	}
	if err := s.store.VerifyToken(ctx, session.ID, participantID, strings.TrimSpace(token)); err != nil {
		return nil, err
	}
	return participant, nil
}

func (s *Server) authenticateCoordinator(ctx context.Context, session game.Session, participantID, token string) (*game.Participant, error) {
	participant, err := s.authenticateParticipant(ctx, session, participantID, token)
	if err != nil {
		return nil, err
	}
	if session.CoordinatorParticipantID == "" || participant.ID != session.CoordinatorParticipantID {
		return nil, errCoordinatorOnly
	}
	return participant, nil
}
