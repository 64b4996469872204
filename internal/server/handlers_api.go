package server

import (
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"mafia-night/internal/game"
	"mafia-night/internal/store"

	"github.com/google/uuid"
)

type settingsRequest struct {
	NightSeconds      int   `json:"night_seconds"`
	DaySeconds        int   `json:"day_seconds"`
	VotingSeconds     int   `json:"voting_seconds"`
	AutoAdvance       *bool `json:"auto_advance"`
	RevealRoleOnDeath *bool `json:"reveal_role_on_death"`
}

type createSessionRequest struct {
	DisplayName string           `json:"display_name"`
	Settings    *settingsRequest `json:"settings"`
}

type joinRequest struct {
	DisplayName string `json:"display_name"`
	EventID     string `json:"event_id"`
}

type submitEventRequest struct {
	ID      string `json:"id"`
	Kind    string `json:"kind"`
	Payload any    `json:"payload"`
}

type actionRequest struct {
	ParticipantID string `json:"participant_id"`
	Token         string `json:"token"`
	NightNumber   int    `json:"night_number"`
	Kind          string `json:"kind"`
	TargetID      string `json:"target_id"`
	EventID       string `json:"event_id"`
}

type voteRequest struct {
	VoterID      string `json:"voter_id"`
	Token        string `json:"token"`
	PhaseEpochID string `json:"phase_epoch_id"`
	TargetID     string `json:"target_id"`
	EventID      string `json:"event_id"`
}

type ritualRequest struct {
	ParticipantID string `json:"participant_id"`
	Token         string `json:"token"`
	NightNumber   int    `json:"night_number"`
	EventID       string `json:"event_id"`
}

type publishRequest struct {
	ParticipantID string       `json:"participant_id"`
	Token         string       `json:"token"`
	Snapshot      game.Session `json:"snapshot"`
}

type takeoverRequest struct {
	ParticipantID         string    `json:"participant_id"`
	Token                 string    `json:"token"`
	ObservedCoordinatorID string    `json:"observed_coordinator_id"`
	ObservedUpdatedAt     time.Time `json:"observed_updated_at"`
}

type coordinatorRequest struct {
	ParticipantID string `json:"participant_id"`
	Token         string `json:"token"`
}

type pushSecretRequest struct {
	ParticipantID string             `json:"participant_id"`
	Token         string             `json:"token"`
	Message       game.SecretMessage `json:"message"`
}

type pullSecretsRequest struct {
	Token string `json:"token"`
}

func (s *Server) settingsFrom(req *settingsRequest) game.Settings {
	settings := game.Settings{
		NightSeconds:      s.cfg.NightDurationSeconds,
		DaySeconds:        s.cfg.DayDurationSeconds,
		VotingSeconds:     s.cfg.VotingDurationSeconds,
		AutoAdvance:       s.cfg.AutoAdvance,
		RevealRoleOnDeath: s.cfg.RevealRoleOnDeath,
	}
	if req == nil {
		return settings
	}
	if req.NightSeconds > 0 {
		settings.NightSeconds = req.NightSeconds
	}
	if req.DaySeconds > 0 {
		settings.DaySeconds = req.DaySeconds
	}
	if req.VotingSeconds > 0 {
		settings.VotingSeconds = req.VotingSeconds
	}
	if req.AutoAdvance != nil {
		settings.AutoAdvance = *req.AutoAdvance
	}
	if req.RevealRoleOnDeath != nil {
		settings.RevealRoleOnDeath = *req.RevealRoleOnDeath
	}
	return settings
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := readJSON(r.Body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.DisplayName == "" {
		writeError(w, http.StatusBadRequest, "display_name is required")
		return
	}

	now := timeNowUTC()
	participantID := uuid.NewString()
	token := uuid.NewString()
	session := game.Session{
		ID:                       uuid.NewString(),
		JoinCode:                 newJoinCode(),
		Status:                   game.StatusActive,
		Phase:                    game.PhaseLobby,
		PhaseStartedAt:           now,
		Settings:                 s.settingsFrom(req.Settings),
		CoordinatorParticipantID: participantID,
		Version:                  1,
		Participants: []game.Participant{{
			ID:          participantID,
			DisplayName: req.DisplayName,
			Alive:       true,
			JoinedAt:    now,
			LastSeenAt:  now,
		}},
	}
	if err := s.store.CreateSession(r.Context(), session); err != nil {
		writeStoreError(w, err)
		return
	}
	if err := s.store.RegisterMailbox(r.Context(), session.ID, participantID, token); err != nil {
		writeStoreError(w, err)
		return
	}
	if s.cfg.ServerCoordinates {
		s.runnerFor(session.ID)
	}
	stored, err := s.store.GetSession(r.Context(), session.ID)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	log.Printf("session created session_id=%s join_code=%s", session.ID, session.JoinCode)
	writeJSON(w, http.StatusCreated, map[string]any{
		"session":        stored,
		"participant_id": participantID,
		"token":          token,
	})
}

func (s *Server) handleSessionSubroutes(w http.ResponseWriter, r *http.Request) {
	if sessionID, participantID, sub, ok := parseSecretsPath(r.URL.Path); ok {
		if r.Method != http.MethodPost {
			http.NotFound(w, r)
			return
		}
		switch sub {
		case "":
			s.handlePushSecret(w, r, sessionID, participantID)
		case "pull":
			s.handlePullSecrets(w, r, sessionID, participantID)
		default:
			http.NotFound(w, r)
		}
		return
	}

	sessionID, action, ok := parseSessionPath(r.URL.Path)
	if !ok {
		http.NotFound(w, r)
		return
	}
	if action == "" {
		if r.Method == http.MethodGet {
			s.handleGetSession(w, r, sessionID)
			return
		}
		http.NotFound(w, r)
		return
	}

	switch r.Method {
	case http.MethodGet:
		switch action {
		case "events":
			s.handleListEvents(w, r, sessionID)
		default:
			http.NotFound(w, r)
		}
	case http.MethodPost:
		switch action {
		case "events":
			s.handleSubmitEvent(w, r, sessionID)
		case "join":
			s.handleJoin(w, r, sessionID)
		case "snapshot":
			s.handlePublishSnapshot(w, r, sessionID)
		case "actions":
			s.handleAction(w, r, sessionID)
		case "votes":
			s.handleVote(w, r, sessionID)
		case "ritual":
			s.handleRitual(w, r, sessionID)
		case "takeover":
			s.handleTakeover(w, r, sessionID)
		case "start":
			s.handleStart(w, r, sessionID)
		case "advance":
			s.handleAdvance(w, r, sessionID)
		case "restart":
			s.handleRestart(w, r, sessionID)
		default:
			http.NotFound(w, r)
		}
	default:
		http.NotFound(w, r)
	}
}

// getSession resolves a session by id, falling back to join code so invite
// links can use the short code.
func (s *Server) getSession(r *http.Request, idOrCode string) (game.Session, error) {
	session, err := s.store.GetSession(r.Context(), idOrCode)
	if errors.Is(err, store.ErrNotFound) {
		return s.store.FindSessionByJoinCode(r.Context(), idOrCode)
	}
	return session, err
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request, sessionID string) {
	session, err := s.getSession(r, sessionID)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func (s *Server) handleJoin(w http.ResponseWriter, r *http.Request, sessionID string) {
	var req joinRequest
	if err := readJSON(r.Body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.DisplayName == "" {
		writeError(w, http.StatusBadRequest, "display_name is required")
		return
	}
	session, err := s.getSession(r, sessionID)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if session.Phase != game.PhaseLobby {
		writeError(w, http.StatusConflict, "game already started")
		return
	}

	participantID := uuid.NewString()
	token := uuid.NewString()
	if err := s.store.RegisterMailbox(r.Context(), session.ID, participantID, token); err != nil {
		writeStoreError(w, err)
		return
	}

	eventID := req.EventID
	if eventID == "" {
		eventID = uuid.NewString()
	}
	event, err := game.NewRelayEvent(eventID, game.EventJoin, game.JoinPayload{
		ParticipantID: participantID,
		DisplayName:   req.DisplayName,
	}, timeNowUTC())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to encode event")
		return
	}
	if _, err := s.store.SubmitEvent(r.Context(), session.ID, event); err != nil {
		writeStoreError(w, err)
		return
	}
	s.kick(session.ID)

	stored, err := s.store.GetSession(r.Context(), session.ID)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	log.Printf("participant joined session_id=%s participant_id=%s", session.ID, participantID)
	writeJSON(w, http.StatusOK, map[string]any{
		"session":        stored,
		"participant_id": participantID,
		"token":          token,
	})
}

func (s *Server) handleSubmitEvent(w http.ResponseWriter, r *http.Request, sessionID string) {
	var event game.RelayEvent
	if err := readJSON(r.Body, &event); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if event.ID == "" {
		writeError(w, http.StatusBadRequest, "id is required")
		return
	}
	switch event.Kind {
	case game.EventJoin, game.EventAction, game.EventVote, game.EventRitual:
	default:
		writeError(w, http.StatusBadRequest, "unknown event kind")
		return
	}
	event.Index = 0
	if event.CreatedAt.IsZero() {
		event.CreatedAt = timeNowUTC()
	}
	result, err := s.store.SubmitEvent(r.Context(), sessionID, event)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	s.kick(sessionID)
	writeJSON(w, http.StatusOK, map[string]any{
		"index":      result.Index,
		"duplicated": result.Duplicated,
	})
}

func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request, sessionID string) {
	afterIndex := int64(0)
	if raw := r.URL.Query().Get("after"); raw != "" {
		value, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || value < 0 {
			writeError(w, http.StatusBadRequest, "after must be a non-negative integer")
			return
		}
		afterIndex = value
	}
	if _, err := s.store.GetSession(r.Context(), sessionID); err != nil {
		writeStoreError(w, err)
		return
	}
	events, err := s.store.ListEvents(r.Context(), sessionID, afterIndex)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if events == nil {
		events = []game.RelayEvent{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

func (s *Server) handlePublishSnapshot(w http.ResponseWriter, r *http.Request, sessionID string) {
	var req publishRequest
	if err := readJSON(r.Body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	session, err := s.store.GetSession(r.Context(), sessionID)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if _, err := s.authenticateParticipant(r.Context(), session, req.ParticipantID, req.Token); err != nil {
		s.writeAuthError(w, err)
		return
	}
	if req.Snapshot.ID != sessionID {
		writeError(w, http.StatusBadRequest, "snapshot id does not match session")
		return
	}
	// Only the coordinator named by the candidate itself may publish it; the
	// version CAS resolves any disagreement about who that is.
	if req.Snapshot.CoordinatorParticipantID != req.ParticipantID {
		writeError(w, http.StatusForbidden, "only the coordinator can publish snapshots")
		return
	}
	result, err := s.store.PublishSnapshot(r.Context(), req.Snapshot)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if !result.Ignored {
		s.broadcastSessionUpdate(result.Session)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"session": result.Session,
		"ignored": result.Ignored,
	})
}

func (s *Server) handleAction(w http.ResponseWriter, r *http.Request, sessionID string) {
	var req actionRequest
	if err := readJSON(r.Body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	session, err := s.store.GetSession(r.Context(), sessionID)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	participant, err := s.authenticateParticipant(r.Context(), session, req.ParticipantID, req.Token)
	if err != nil {
		s.writeAuthError(w, err)
		return
	}
	if session.Phase != game.PhaseNight {
		writeError(w, http.StatusConflict, "actions are only accepted at night")
		return
	}
	if req.NightNumber != 0 && req.NightNumber != session.CurrentNightNumber {
		writeError(w, http.StatusConflict, "action is for a different night")
		return
	}
	if !participant.Alive {
		writeError(w, http.StatusConflict, "dead players cannot act")
		return
	}
	switch req.Kind {
	case game.ActionKill, game.ActionSave, game.ActionInspect:
	default:
		writeError(w, http.StatusBadRequest, "unknown action kind")
		return
	}
	roles, err := s.store.LoadRoles(r.Context(), session.ID)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if len(roles) > 0 {
		switch expected := nightKindFor(roles[participant.ID]); {
		case expected == "":
			writeError(w, http.StatusConflict, "role has no night action")
			return
		case req.Kind != expected:
			writeError(w, http.StatusConflict, "role cannot perform this action")
			return
		}
	}
	target := session.FindParticipant(req.TargetID)
	if target == nil || !target.Alive {
		writeError(w, http.StatusConflict, "invalid target")
		return
	}
	if s.pendingAction(session.ID, participant.ID) {
		writeError(w, http.StatusConflict, "action already submitted for this night")
		return
	}

	eventID := req.EventID
	if eventID == "" {
		eventID = uuid.NewString()
	}
	event, err := game.NewRelayEvent(eventID, game.EventAction, game.ActionPayload{
		NightNumber:   session.CurrentNightNumber,
		ParticipantID: participant.ID,
		Kind:          req.Kind,
		TargetID:      req.TargetID,
	}, timeNowUTC())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to encode event")
		return
	}
	result, err := s.store.SubmitEvent(r.Context(), session.ID, event)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	s.kick(session.ID)
	writeJSON(w, http.StatusOK, map[string]any{
		"index":      result.Index,
		"duplicated": result.Duplicated,
	})
}

func (s *Server) handleVote(w http.ResponseWriter, r *http.Request, sessionID string) {
	var req voteRequest
	if err := readJSON(r.Body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	session, err := s.store.GetSession(r.Context(), sessionID)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	voter, err := s.authenticateParticipant(r.Context(), session, req.VoterID, req.Token)
	if err != nil {
		s.writeAuthError(w, err)
		return
	}
	if session.Phase != game.PhaseVoting {
		writeError(w, http.StatusConflict, "votes are only accepted during voting")
		return
	}
	if req.PhaseEpochID != "" && req.PhaseEpochID != session.PhaseEpochID {
		writeError(w, http.StatusConflict, "vote is for a different voting round")
		return
	}
	if !voter.Alive {
		writeError(w, http.StatusConflict, "dead players cannot vote")
		return
	}
	target := session.FindParticipant(req.TargetID)
	if target == nil || !target.Alive {
		writeError(w, http.StatusConflict, "invalid target")
		return
	}
	if s.pendingVote(session.ID, voter.ID) {
		writeError(w, http.StatusConflict, "vote already submitted for this round")
		return
	}

	eventID := req.EventID
	if eventID == "" {
		eventID = uuid.NewString()
	}
	event, err := game.NewRelayEvent(eventID, game.EventVote, game.VotePayload{
		PhaseEpochID: session.PhaseEpochID,
		VoterID:      voter.ID,
		TargetID:     req.TargetID,
	}, timeNowUTC())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to encode event")
		return
	}
	result, err := s.store.SubmitEvent(r.Context(), session.ID, event)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	s.kick(session.ID)
	writeJSON(w, http.StatusOK, map[string]any{
		"index":      result.Index,
		"duplicated": result.Duplicated,
	})
}

func (s *Server) handleRitual(w http.ResponseWriter, r *http.Request, sessionID string) {
	var req ritualRequest
	if err := readJSON(r.Body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	session, err := s.store.GetSession(r.Context(), sessionID)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	participant, err := s.authenticateParticipant(r.Context(), session, req.ParticipantID, req.Token)
	if err != nil {
		s.writeAuthError(w, err)
		return
	}
	if session.Phase != game.PhaseDay {
		writeError(w, http.StatusConflict, "nothing to confirm right now")
		return
	}
	if req.NightNumber != 0 && req.NightNumber != session.CurrentNightNumber {
		writeError(w, http.StatusConflict, "confirmation is for a different day")
		return
	}
	if !participant.Alive {
		writeError(w, http.StatusConflict, "dead players cannot confirm")
		return
	}

	eventID := req.EventID
	if eventID == "" {
		eventID = uuid.NewString()
	}
	event, err := game.NewRelayEvent(eventID, game.EventRitual, game.RitualPayload{
		ParticipantID: participant.ID,
		NightNumber:   session.CurrentNightNumber,
	}, timeNowUTC())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to encode event")
		return
	}
	result, err := s.store.SubmitEvent(r.Context(), session.ID, event)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	s.kick(session.ID)
	writeJSON(w, http.StatusOK, map[string]any{
		"index":      result.Index,
		"duplicated": result.Duplicated,
	})
}

func (s *Server) handlePushSecret(w http.ResponseWriter, r *http.Request, sessionID, participantID string) {
	var req pushSecretRequest
	if err := readJSON(r.Body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	session, err := s.store.GetSession(r.Context(), sessionID)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if _, err := s.authenticateCoordinator(r.Context(), session, req.ParticipantID, req.Token); err != nil {
		s.writeAuthError(w, err)
		return
	}
	if req.Message.Kind == "" {
		writeError(w, http.StatusBadRequest, "message kind is required")
		return
	}
	if err := s.store.PushSecret(r.Context(), sessionID, participantID, req.Message); err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handlePullSecrets(w http.ResponseWriter, r *http.Request, sessionID, participantID string) {
	var req pullSecretsRequest
	if err := readJSON(r.Body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	messages, err := s.store.PullSecrets(r.Context(), sessionID, participantID, req.Token)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if messages == nil {
		messages = []game.SecretMessage{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": messages})
}

func (s *Server) handleTakeover(w http.ResponseWriter, r *http.Request, sessionID string) {
	var req takeoverRequest
	if err := readJSON(r.Body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	session, err := s.store.GetSession(r.Context(), sessionID)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	challenger, err := s.authenticateParticipant(r.Context(), session, req.ParticipantID, req.Token)
	if err != nil {
		s.writeAuthError(w, err)
		return
	}

	now := timeNowUTC()
	staleAfter := time.Duration(s.cfg.StaleThresholdSeconds) * time.Second
	if staleFor(session, now) < staleAfter {
		writeError(w, http.StatusConflict, "master_active")
		return
	}
	if !ShouldAttemptTakeover(session, challenger.ID, now, staleAfter) {
		// Not the preferred challenger; allowed anyway, the CAS arbitrates.
		log.Printf("takeover by non-preferred challenger session_id=%s participant_id=%s", sessionID, challenger.ID)
	}

	observedCoordinator := req.ObservedCoordinatorID
	observedUpdatedAt := req.ObservedUpdatedAt
	if observedCoordinator == "" {
		observedCoordinator = session.CoordinatorParticipantID
	}
	if observedUpdatedAt.IsZero() {
		observedUpdatedAt = session.UpdatedAt
	}

	updated, err := s.store.RequestTakeover(r.Context(), sessionID, challenger.ID, observedCoordinator, observedUpdatedAt)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	// Any accumulator built for the old coordinator is now meaningless.
	if s.cfg.ServerCoordinates {
		runner := s.runnerFor(sessionID)
		runner.mu.Lock()
		runner.rs.reset()
		runner.primed = false
		runner.mu.Unlock()
	}
	log.Printf("coordinator takeover session_id=%s new_coordinator=%s version=%d", sessionID, challenger.ID, updated.Version)
	s.broadcastSessionUpdate(updated)
	writeJSON(w, http.StatusOK, map[string]any{"session": updated})
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request, sessionID string) {
	var req coordinatorRequest
	if err := readJSON(r.Body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	session, err := s.store.GetSession(r.Context(), sessionID)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if _, err := s.authenticateCoordinator(r.Context(), session, req.ParticipantID, req.Token); err != nil {
		s.writeAuthError(w, err)
		return
	}

	updated, err := s.withSession(r.Context(), sessionID, func(session *game.Session, rs *roundState, _ map[string]string) ([]secretDelivery, error) {
		s.rngMu.Lock()
		roles, err := game.AssignRoles(s.rng, session.Participants)
		s.rngMu.Unlock()
		if err != nil {
			return nil, err
		}
		if err := s.store.SaveRoles(r.Context(), sessionID, roles); err != nil {
			return nil, err
		}
		return startGame(session, rs, roles, timeNowUTC())
	})
	if err != nil {
		s.writeTransitionError(w, err)
		return
	}
	log.Printf("game started session_id=%s participants=%d", sessionID, len(updated.Participants))
	writeJSON(w, http.StatusOK, updated)
}

func (s *Server) handleAdvance(w http.ResponseWriter, r *http.Request, sessionID string) {
	var req coordinatorRequest
	if err := readJSON(r.Body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	session, err := s.store.GetSession(r.Context(), sessionID)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if _, err := s.authenticateCoordinator(r.Context(), session, req.ParticipantID, req.Token); err != nil {
		s.writeAuthError(w, err)
		return
	}

	updated, err := s.withSession(r.Context(), sessionID, func(session *game.Session, rs *roundState, roles map[string]string) ([]secretDelivery, error) {
		changed, secrets, err := evaluate(session, rs, roles, transitionManual, timeNowUTC())
		if err != nil {
			return nil, err
		}
		if !changed {
			return nil, errors.New("no transition available from this phase")
		}
		return secrets, nil
	})
	if err != nil {
		s.writeTransitionError(w, err)
		return
	}
	log.Printf("phase advanced manually session_id=%s phase=%s", sessionID, updated.Phase)
	writeJSON(w, http.StatusOK, updated)
}

func (s *Server) handleRestart(w http.ResponseWriter, r *http.Request, sessionID string) {
	var req coordinatorRequest
	if err := readJSON(r.Body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	session, err := s.store.GetSession(r.Context(), sessionID)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if _, err := s.authenticateCoordinator(r.Context(), session, req.ParticipantID, req.Token); err != nil {
		s.writeAuthError(w, err)
		return
	}

	updated, err := s.withSession(r.Context(), sessionID, func(session *game.Session, rs *roundState, _ map[string]string) ([]secretDelivery, error) {
		secrets, err := resetGame(session, rs, timeNowUTC())
		if err != nil {
			return nil, err
		}
		// Erase the vault so the next start deals fresh roles.
		if err := s.store.SaveRoles(r.Context(), sessionID, map[string]string{}); err != nil {
			return nil, err
		}
		return secrets, nil
	})
	if err != nil {
		s.writeTransitionError(w, err)
		return
	}
	log.Printf("game reset session_id=%s version=%d", sessionID, updated.Version)
	writeJSON(w, http.StatusOK, updated)
}

func (s *Server) writeAuthError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrUnauthorized), errors.Is(err, store.ErrNotRegistered):
		writeError(w, http.StatusUnauthorized, "invalid token")
	case errors.Is(err, errCoordinatorOnly):
		writeError(w, http.StatusForbidden, err.Error())
	default:
		writeError(w, http.StatusBadRequest, err.Error())
	}
}

func (s *Server) writeTransitionError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, game.ErrInsufficientPlayers):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, errPublishSuperseded):
		writeError(w, http.StatusConflict, "superseded by a newer snapshot")
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "session not found")
	default:
		writeError(w, http.StatusConflict, err.Error())
	}
}

// pendingAction reports whether the embedded coordinator already holds an
// action for the participant this night. Best effort: in client-coordinated
// deployments duplicates are caught by the remote coordinator instead.
func (s *Server) pendingAction(sessionID, participantID string) bool {
	if !s.cfg.ServerCoordinates {
		return false
	}
	r := s.runnerFor(sessionID)
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.rs.actions[participantID]
	return ok
}

func (s *Server) pendingVote(sessionID, voterID string) bool {
	if !s.cfg.ServerCoordinates {
		return false
	}
	r := s.runnerFor(sessionID)
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.rs.votes[voterID]
	return ok
}
