package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"mafia-night/internal/game"

	"github.com/google/uuid"
)

type transitionMode int

const (
	transitionAuto transitionMode = iota
	transitionManual
)

// roundState is the coordinator's accumulator of pending round inputs. It is
// never persisted: any process that becomes coordinator rebuilds it by
// replaying the event relay from the start, so a mid-round coordinator change
// loses nothing.
type roundState struct {
	cursor  int64
	actions map[string]game.Action
	votes   map[string]game.Vote
	rituals map[string]bool
}

func newRoundState() *roundState {
	return &roundState{
		actions: make(map[string]game.Action),
		votes:   make(map[string]game.Vote),
		rituals: make(map[string]bool),
	}
}

func (rs *roundState) reset() {
	rs.cursor = 0
	rs.clearRound()
}

func (rs *roundState) clearRound() {
	rs.actions = make(map[string]game.Action)
	rs.votes = make(map[string]game.Vote)
	rs.rituals = make(map[string]bool)
}

type rejection struct {
	participantID string
	payload       game.ActionRejectedPayload
}

type secretDelivery struct {
	participantID string
	message       game.SecretMessage
}

func nightKindFor(role string) string {
	switch role {
	case game.RoleMafia:
		return game.ActionKill
	case game.RoleDoctor:
		return game.ActionSave
	case game.RoleDetective:
		return game.ActionInspect
	default:
		return ""
	}
}

// applyEvent validates one relay event against the snapshot and folds it into
// the accumulator. It reports whether the snapshot itself changed (only joins
// and last-seen updates do) and a rejection when the input is unusable, so
// the participant can be told through their mailbox.
func applyEvent(session *game.Session, rs *roundState, roles map[string]string, event game.RelayEvent) (bool, *rejection) {
	switch event.Kind {
	case game.EventJoin:
		var payload game.JoinPayload
		if err := json.Unmarshal(event.Payload, &payload); err != nil || payload.ParticipantID == "" {
			return false, nil
		}
		if existing := session.FindParticipant(payload.ParticipantID); existing != nil {
			existing.LastSeenAt = event.CreatedAt
			return true, nil
		}
		if session.Phase != game.PhaseLobby {
			return false, &rejection{payload.ParticipantID, game.ActionRejectedPayload{
				Kind: game.EventJoin, Reason: "game already started",
			}}
		}
		session.Participants = append(session.Participants, game.Participant{
			ID:          payload.ParticipantID,
			DisplayName: payload.DisplayName,
			Alive:       true,
			JoinedAt:    event.CreatedAt,
			LastSeenAt:  event.CreatedAt,
		})
		return true, nil

	case game.EventAction:
		var payload game.ActionPayload
		if err := json.Unmarshal(event.Payload, &payload); err != nil || payload.ParticipantID == "" {
			return false, nil
		}
		reject := func(reason string) (bool, *rejection) {
			return false, &rejection{payload.ParticipantID, game.ActionRejectedPayload{
				Kind: game.EventAction, Reason: reason,
			}}
		}
		actor := session.FindParticipant(payload.ParticipantID)
		if actor == nil {
			return false, nil
		}
		actor.LastSeenAt = event.CreatedAt
		if session.Phase != game.PhaseNight {
			return reject("actions are only accepted at night")
		}
		if payload.NightNumber != session.CurrentNightNumber {
			return reject("action is for a different night")
		}
		if !actor.Alive {
			return reject("dead players cannot act")
		}
		expected := nightKindFor(roles[actor.ID])
		if expected == "" {
			return reject("role has no night action")
		}
		if payload.Kind != expected {
			return reject("role cannot perform this action")
		}
		if _, dup := rs.actions[actor.ID]; dup {
			return reject("action already submitted for this night")
		}
		target := session.FindParticipant(payload.TargetID)
		if target == nil || !target.Alive {
			return reject("invalid target")
		}
		rs.actions[actor.ID] = game.Action{
			SessionID:     session.ID,
			NightNumber:   payload.NightNumber,
			ParticipantID: actor.ID,
			Kind:          payload.Kind,
			TargetID:      payload.TargetID,
			CreatedAt:     event.CreatedAt,
		}
		return true, nil

	case game.EventVote:
		var payload game.VotePayload
		if err := json.Unmarshal(event.Payload, &payload); err != nil || payload.VoterID == "" {
			return false, nil
		}
		reject := func(reason string) (bool, *rejection) {
			return false, &rejection{payload.VoterID, game.ActionRejectedPayload{
				Kind: game.EventVote, Reason: reason,
			}}
		}
		voter := session.FindParticipant(payload.VoterID)
		if voter == nil {
			return false, nil
		}
		voter.LastSeenAt = event.CreatedAt
		if session.Phase != game.PhaseVoting {
			return reject("votes are only accepted during voting")
		}
		if payload.PhaseEpochID != session.PhaseEpochID {
			return reject("vote is for a different voting round")
		}
		if !voter.Alive {
			return reject("dead players cannot vote")
		}
		if _, dup := rs.votes[voter.ID]; dup {
			return reject("vote already submitted for this round")
		}
		target := session.FindParticipant(payload.TargetID)
		if target == nil || !target.Alive {
			return reject("invalid target")
		}
		rs.votes[voter.ID] = game.Vote{
			SessionID:    session.ID,
			PhaseEpochID: payload.PhaseEpochID,
			VoterID:      voter.ID,
			TargetID:     payload.TargetID,
			CreatedAt:    event.CreatedAt,
		}
		return true, nil

	case game.EventRitual:
		var payload game.RitualPayload
		if err := json.Unmarshal(event.Payload, &payload); err != nil || payload.ParticipantID == "" {
			return false, nil
		}
		actor := session.FindParticipant(payload.ParticipantID)
		if actor == nil {
			return false, nil
		}
		actor.LastSeenAt = event.CreatedAt
		if session.Phase != game.PhaseDay {
			return false, &rejection{actor.ID, game.ActionRejectedPayload{
				Kind: game.EventRitual, Reason: "nothing to confirm right now",
			}}
		}
		// Replayed confirmations from an earlier day must not count toward
		// this one.
		if payload.NightNumber != session.CurrentNightNumber {
			return false, &rejection{actor.ID, game.ActionRejectedPayload{
				Kind: game.EventRitual, Reason: "confirmation is for a different day",
			}}
		}
		if !actor.Alive {
			return false, &rejection{actor.ID, game.ActionRejectedPayload{
				Kind: game.EventRitual, Reason: "dead players cannot confirm",
			}}
		}
		// Idempotent: confirming twice is fine.
		rs.rituals[actor.ID] = true
		return true, nil
	}
	return false, nil
}

// rolePlayers assembles the role-augmented player set the engine consumes.
func rolePlayers(session *game.Session, roles map[string]string) []game.Player {
	players := make([]game.Player, 0, len(session.Participants))
	for _, p := range session.Participants {
		players = append(players, game.Player{Participant: p, Role: roles[p.ID]})
	}
	return players
}

type phaseTransition struct {
	ready           func(session *game.Session, rs *roundState, roles map[string]string) bool
	timeoutAdvances bool
	advance         func(session *game.Session, rs *roundState, roles map[string]string, now time.Time) ([]secretDelivery, error)
}

var phaseTransitions = map[string]phaseTransition{
	game.PhaseNight: {
		ready: nightReady,
		// A night never resolves on inactivity alone: resolving with missing
		// action data would invent outcomes, so the timeout only matters once
		// readiness is reached or the coordinator forces the advance.
		timeoutAdvances: false,
		advance:         advanceNight,
	},
	game.PhaseDay: {
		ready:           dayReady,
		timeoutAdvances: true,
		advance:         advanceDay,
	},
	game.PhaseVoting: {
		ready:           votingReady,
		timeoutAdvances: true,
		advance:         advanceVoting,
	},
	game.PhaseResolution: {
		// Transient display phase: always moves on in the same pass.
		ready:   func(*game.Session, *roundState, map[string]string) bool { return true },
		advance: advanceResolution,
	},
}

func nightReady(session *game.Session, rs *roundState, roles map[string]string) bool {
	for _, p := range session.Participants {
		if !p.Alive {
			continue
		}
		if nightKindFor(roles[p.ID]) == "" {
			continue
		}
		if _, ok := rs.actions[p.ID]; !ok {
			return false
		}
	}
	return true
}

func dayReady(session *game.Session, rs *roundState, _ map[string]string) bool {
	for _, p := range session.Participants {
		if p.Alive && !rs.rituals[p.ID] {
			return false
		}
	}
	return true
}

func votingReady(session *game.Session, rs *roundState, _ map[string]string) bool {
	for _, p := range session.Participants {
		if p.Alive {
			if _, ok := rs.votes[p.ID]; !ok {
				return false
			}
		}
	}
	return true
}

func advanceNight(session *game.Session, rs *roundState, roles map[string]string, now time.Time) ([]secretDelivery, error) {
	actions := make([]game.Action, 0, len(rs.actions))
	for _, action := range rs.actions {
		actions = append(actions, action)
	}
	result := game.ResolveNight(rolePlayers(session, roles), actions)

	summary := game.NightSummary{
		NightNumber: session.CurrentNightNumber,
		DoctorSaved: result.SavedID != "",
		NobodyDied:  result.KilledID == "",
	}
	if result.KilledID != "" {
		if victim := session.FindParticipant(result.KilledID); victim != nil {
			victim.Alive = false
		}
		summary.KilledID = result.KilledID
		if session.Settings.RevealRoleOnDeath {
			summary.KilledRole = roles[result.KilledID]
		}
	}
	session.LastNightResolution = &summary

	var secrets []secretDelivery
	for _, inspection := range result.Inspections {
		message, err := game.NewSecret(game.SecretInspectionResult, game.InspectionResultPayload{
			NightNumber: session.CurrentNightNumber,
			TargetID:    inspection.TargetID,
			Role:        inspection.Role,
		}, now)
		if err != nil {
			return nil, err
		}
		secrets = append(secrets, secretDelivery{inspection.DetectiveID, message})
	}

	setPhase(session, game.PhaseDay, now)
	rs.rituals = make(map[string]bool)
	return secrets, nil
}

func advanceDay(session *game.Session, rs *roundState, _ map[string]string, now time.Time) ([]secretDelivery, error) {
	// A fresh epoch id fences this voting round: late votes scoped to an
	// earlier epoch can never be counted again.
	session.PhaseEpochID = uuid.NewString()
	rs.votes = make(map[string]game.Vote)
	setPhase(session, game.PhaseVoting, now)
	return nil, nil
}

func advanceVoting(session *game.Session, rs *roundState, roles map[string]string, now time.Time) ([]secretDelivery, error) {
	votes := make([]game.Vote, 0, len(rs.votes))
	for _, vote := range rs.votes {
		votes = append(votes, vote)
	}
	outcome := game.ResolveVotes(rolePlayers(session, roles), votes)

	summary := game.VoteSummary{
		PhaseEpochID: session.PhaseEpochID,
		Tie:          outcome.Tie,
		Counts:       outcome.Counts,
	}
	if outcome.EliminatedID != "" {
		if eliminated := session.FindParticipant(outcome.EliminatedID); eliminated != nil {
			eliminated.Alive = false
		}
		summary.EliminatedID = outcome.EliminatedID
		if session.Settings.RevealRoleOnDeath {
			summary.EliminatedRole = roles[outcome.EliminatedID]
		}
	}
	session.LastVoteResult = &summary

	setPhase(session, game.PhaseResolution, now)
	return nil, nil
}

func advanceResolution(session *game.Session, rs *roundState, roles map[string]string, now time.Time) ([]secretDelivery, error) {
	winner, over := game.CheckWin(rolePlayers(session, roles))
	if over {
		session.Winner = winner
		session.Status = game.StatusCompleted
		session.RevealedRoles = make(map[string]string, len(roles))
		for id, role := range roles {
			session.RevealedRoles[id] = role
		}
		setPhase(session, game.PhaseGameOver, now)
		return nil, nil
	}
	session.CurrentNightNumber++
	rs.actions = make(map[string]game.Action)
	rs.rituals = make(map[string]bool)
	setPhase(session, game.PhaseNight, now)
	return nil, nil
}

func setPhase(session *game.Session, phase string, at time.Time) {
	session.Phase = phase
	if at.IsZero() {
		at = timeNowUTC()
	}
	session.PhaseStartedAt = at
}

func phaseDuration(session *game.Session) time.Duration {
	switch session.Phase {
	case game.PhaseNight:
		return time.Duration(session.Settings.NightSeconds) * time.Second
	case game.PhaseDay:
		return time.Duration(session.Settings.DaySeconds) * time.Second
	case game.PhaseVoting:
		return time.Duration(session.Settings.VotingSeconds) * time.Second
	default:
		return 0
	}
}

// evaluate advances the session as far as the current inputs allow. In auto
// mode it loops until no transition fires; in manual mode it forces exactly
// one step regardless of readiness.
func evaluate(session *game.Session, rs *roundState, roles map[string]string, mode transitionMode, now time.Time) (bool, []secretDelivery, error) {
	changed := false
	var secrets []secretDelivery
	for {
		transition, ok := phaseTransitions[session.Phase]
		if !ok {
			break
		}
		trigger := mode == transitionManual
		if !trigger && transition.ready(session, rs, roles) {
			trigger = true
		}
		if !trigger && transition.timeoutAdvances && session.Settings.AutoAdvance {
			duration := phaseDuration(session)
			if duration > 0 && now.Sub(session.PhaseStartedAt) >= duration {
				trigger = true
			}
		}
		if !trigger {
			break
		}
		delivered, err := transition.advance(session, rs, roles, now)
		if err != nil {
			return changed, secrets, err
		}
		secrets = append(secrets, delivered...)
		changed = true
		if mode == transitionManual {
			// One forced step; anything further (like the transient
			// resolution phase) continues under the normal rules.
			mode = transitionAuto
		}
	}
	return changed, secrets, nil
}

// startGame performs the lobby -> night(1) transition: deals roles and
// produces each participant's private role assignment.
func startGame(session *game.Session, rs *roundState, roles map[string]string, now time.Time) ([]secretDelivery, error) {
	if session.Phase != game.PhaseLobby {
		return nil, errors.New("game already started")
	}
	if len(roles) != len(session.Participants) {
		return nil, fmt.Errorf("role map covers %d of %d participants", len(roles), len(session.Participants))
	}
	secrets := make([]secretDelivery, 0, len(session.Participants))
	for _, p := range session.Participants {
		payload := game.RoleAssignmentPayload{Role: roles[p.ID]}
		if roles[p.ID] == game.RoleMafia {
			payload.Teammates = game.MafiaTeammates(roles, p.ID)
		}
		message, err := game.NewSecret(game.SecretRoleAssignment, payload, now)
		if err != nil {
			return nil, err
		}
		secrets = append(secrets, secretDelivery{p.ID, message})
	}
	session.CurrentNightNumber = 1
	session.LastNightResolution = nil
	session.LastVoteResult = nil
	rs.clearRound()
	setPhase(session, game.PhaseNight, now)
	return secrets, nil
}

// resetGame returns a finished session to the lobby: roles erased, everyone
// alive again, round summaries dropped. The version keeps counting up so
// stale snapshots from the previous game can never win a publish race, and
// the relay floor moves to the accumulator's cursor so events from the
// finished game are never replayed into the next one.
func resetGame(session *game.Session, rs *roundState, now time.Time) ([]secretDelivery, error) {
	if session.Phase != game.PhaseGameOver {
		return nil, errors.New("game is not over")
	}
	session.RelayFloorIndex = rs.cursor
	session.Status = game.StatusActive
	session.Winner = ""
	session.RevealedRoles = nil
	session.LastNightResolution = nil
	session.LastVoteResult = nil
	session.CurrentNightNumber = 0
	session.PhaseEpochID = ""
	for i := range session.Participants {
		session.Participants[i].Alive = true
	}
	rs.clearRound()
	setPhase(session, game.PhaseLobby, now)

	secrets := make([]secretDelivery, 0, len(session.Participants))
	for _, p := range session.Participants {
		message, err := game.NewSecret(game.SecretGameReset, game.GameResetPayload{Reason: "restarted by coordinator"}, now)
		if err != nil {
			return nil, err
		}
		secrets = append(secrets, secretDelivery{p.ID, message})
	}
	return secrets, nil
}
