package server

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"mafia-night/internal/game"
	"mafia-night/internal/store"
)

// runner drives one session while this process acts as its coordinator. All
// of its state is disposable: losing a publish race resets it and the next
// tick rebuilds the accumulator from the relay.
type runner struct {
	mu     sync.Mutex
	id     string
	rs     *roundState
	primed bool
}

func (s *Server) runnerFor(sessionID string) *runner {
	s.runnersMu.Lock()
	defer s.runnersMu.Unlock()
	if r, ok := s.runners[sessionID]; ok {
		return r
	}
	r := &runner{id: sessionID, rs: newRoundState()}
	s.runners[sessionID] = r
	return r
}

func (s *Server) dropRunner(sessionID string) {
	s.runnersMu.Lock()
	defer s.runnersMu.Unlock()
	delete(s.runners, sessionID)
}

// kick runs one coordinator tick synchronously. Called after any handler
// that feeds the relay so input is processed without waiting for the poll
// ticker; the ticker still fires for timeout-driven transitions.
func (s *Server) kick(sessionID string) {
	if !s.cfg.ServerCoordinates {
		return
	}
	s.tickSession(context.Background(), s.runnerFor(sessionID))
}

func (s *Server) tickAll() {
	s.runnersMu.Lock()
	runners := make([]*runner, 0, len(s.runners))
	for _, r := range s.runners {
		runners = append(runners, r)
	}
	s.runnersMu.Unlock()
	ctx := context.Background()
	for _, r := range runners {
		s.tickSession(ctx, r)
	}
}

// tickSession drains new relay events into the accumulator, evaluates phase
// transitions and publishes the resulting snapshot under version CAS. A lost
// CAS means another coordinator took over: the runner demotes itself by
// resetting, and the next tick rebuilds from scratch.
func (s *Server) tickSession(ctx context.Context, r *runner) {
	r.mu.Lock()
	defer r.mu.Unlock()

	session, err := s.store.GetSession(ctx, r.id)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			log.Printf("coordinator read failed session_id=%s error=%v", r.id, err)
		}
		return
	}
	roles, err := s.store.LoadRoles(ctx, r.id)
	if err != nil {
		log.Printf("coordinator role vault read failed session_id=%s error=%v", r.id, err)
		return
	}
	events, err := s.store.ListEvents(ctx, r.id, r.rs.cursor)
	if err != nil {
		log.Printf("coordinator relay read failed session_id=%s error=%v", r.id, err)
		return
	}

	rebuilding := !r.primed
	changed := false
	var rejections []rejection
	for _, event := range events {
		if event.Index <= session.RelayFloorIndex {
			// Predates the latest restart.
			r.rs.cursor = event.Index
			continue
		}
		eventChanged, rej := applyEvent(&session, r.rs, roles, event)
		changed = changed || eventChanged
		if rej != nil && !(rebuilding && event.CreatedAt.Before(session.UpdatedAt)) {
			// Replayed events from before the last publish were already
			// handled by the previous coordinator; re-mailing their
			// rejections would just duplicate noise.
			rejections = append(rejections, *rej)
		}
		r.rs.cursor = event.Index
	}
	r.primed = true

	advanced, secrets, err := evaluate(&session, r.rs, roles, transitionAuto, timeNowUTC())
	if err != nil {
		log.Printf("coordinator transition failed session_id=%s error=%v", r.id, err)
		return
	}
	changed = changed || advanced

	if changed {
		session.Version++
		result, err := s.store.PublishSnapshot(ctx, session)
		if err != nil {
			log.Printf("coordinator publish failed session_id=%s error=%v", r.id, err)
			return
		}
		if result.Ignored {
			// Superseded: someone else published a newer version. Discard
			// everything local and rebuild next tick.
			log.Printf("coordinator demoted session_id=%s stored_version=%d", r.id, result.Session.Version)
			r.rs.reset()
			r.primed = false
			return
		}
		s.broadcastSessionUpdate(result.Session)
		if advanced {
			log.Printf("session advanced session_id=%s phase=%s version=%d", r.id, result.Session.Phase, result.Session.Version)
		}
	}

	s.deliverSecrets(ctx, r.id, secrets)
	for _, rej := range rejections {
		message, err := game.NewSecret(game.SecretActionRejected, rej.payload, timeNowUTC())
		if err != nil {
			continue
		}
		s.deliverSecrets(ctx, r.id, []secretDelivery{{rej.participantID, message}})
	}
}

func (s *Server) deliverSecrets(ctx context.Context, sessionID string, secrets []secretDelivery) {
	for _, secret := range secrets {
		err := s.store.PushSecret(ctx, sessionID, secret.participantID, secret.message)
		if err != nil && !errors.Is(err, store.ErrNotRegistered) {
			log.Printf("secret delivery failed session_id=%s participant_id=%s error=%v", sessionID, secret.participantID, err)
		}
	}
}

// withSession runs fn while holding the runner's lock, with a freshly drained
// accumulator, then publishes whatever fn changed. Used by the handlers that
// trigger transitions directly (start, manual advance, restart).
func (s *Server) withSession(ctx context.Context, sessionID string, fn func(session *game.Session, rs *roundState, roles map[string]string) ([]secretDelivery, error)) (game.Session, error) {
	r := s.runnerFor(sessionID)
	r.mu.Lock()
	defer r.mu.Unlock()

	session, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return game.Session{}, err
	}
	roles, err := s.store.LoadRoles(ctx, sessionID)
	if err != nil {
		return game.Session{}, err
	}
	events, err := s.store.ListEvents(ctx, sessionID, r.rs.cursor)
	if err != nil {
		return game.Session{}, err
	}
	var rejections []rejection
	for _, event := range events {
		if event.Index <= session.RelayFloorIndex {
			r.rs.cursor = event.Index
			continue
		}
		_, rej := applyEvent(&session, r.rs, roles, event)
		if rej != nil {
			rejections = append(rejections, *rej)
		}
		r.rs.cursor = event.Index
	}
	r.primed = true

	secrets, err := fn(&session, r.rs, roles)
	if err != nil {
		return game.Session{}, err
	}

	session.Version++
	result, err := s.store.PublishSnapshot(ctx, session)
	if err != nil {
		return game.Session{}, err
	}
	if result.Ignored {
		r.rs.reset()
		r.primed = false
		return result.Session, errPublishSuperseded
	}
	s.broadcastSessionUpdate(result.Session)
	s.deliverSecrets(ctx, sessionID, secrets)
	for _, rej := range rejections {
		message, err := game.NewSecret(game.SecretActionRejected, rej.payload, timeNowUTC())
		if err != nil {
			continue
		}
		s.deliverSecrets(ctx, sessionID, []secretDelivery{{rej.participantID, message}})
	}
	return result.Session, nil
}

var errPublishSuperseded = errors.New("publish superseded by a newer snapshot")

// staleFor reports how long ago the snapshot was last updated.
func staleFor(session game.Session, now time.Time) time.Duration {
	return now.Sub(session.UpdatedAt)
}
