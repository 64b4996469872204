package store

import (
	"context"
	"crypto/subtle"
	"sync"
	"time"

	"mafia-night/internal/game"
)

type mailbox struct {
	token string
	queue []game.SecretMessage
}

// Memory is the in-memory Store used by tests and DB-less runs. A single
// mutex guards every map; the CAS semantics callers observe are identical to
// the postgres implementation.
type Memory struct {
	mu        sync.Mutex
	sessions  map[string]game.Session
	events    map[string][]game.RelayEvent
	eventIDs  map[string]map[string]int64
	lastIndex map[string]int64
	mailboxes map[string]map[string]*mailbox
	roles     map[string]map[string]string
	now       func() time.Time
}

func NewMemory() *Memory {
	return &Memory{
		sessions:  make(map[string]game.Session),
		events:    make(map[string][]game.RelayEvent),
		eventIDs:  make(map[string]map[string]int64),
		lastIndex: make(map[string]int64),
		mailboxes: make(map[string]map[string]*mailbox),
		roles:     make(map[string]map[string]string),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (m *Memory) CreateSession(_ context.Context, session game.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	session.CreatedAt = now
	session.UpdatedAt = now
	m.sessions[session.ID] = copySession(session)
	return nil
}

func (m *Memory) GetSession(_ context.Context, id string) (game.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	session, ok := m.sessions[id]
	if !ok {
		return game.Session{}, ErrNotFound
	}
	return copySession(session), nil
}

func (m *Memory) FindSessionByJoinCode(_ context.Context, code string) (game.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, session := range m.sessions {
		if session.JoinCode == code {
			return copySession(session), nil
		}
	}
	return game.Session{}, ErrNotFound
}

func (m *Memory) PublishSnapshot(_ context.Context, candidate game.Session) (PublishResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	current, ok := m.sessions[candidate.ID]
	if !ok {
		return PublishResult{}, ErrNotFound
	}
	if candidate.Version <= current.Version {
		return PublishResult{Session: copySession(current), Ignored: true}, nil
	}
	candidate.CreatedAt = current.CreatedAt
	candidate.UpdatedAt = m.now()
	m.sessions[candidate.ID] = copySession(candidate)
	return PublishResult{Session: copySession(candidate)}, nil
}

func (m *Memory) SubmitEvent(_ context.Context, sessionID string, event game.RelayEvent) (SubmitResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[sessionID]; !ok {
		return SubmitResult{}, ErrNotFound
	}
	ids, ok := m.eventIDs[sessionID]
	if !ok {
		ids = make(map[string]int64)
		m.eventIDs[sessionID] = ids
	}
	if index, dup := ids[event.ID]; dup {
		return SubmitResult{Index: index, Duplicated: true}, nil
	}
	m.lastIndex[sessionID]++
	event.Index = m.lastIndex[sessionID]
	if event.CreatedAt.IsZero() {
		event.CreatedAt = m.now()
	}
	ids[event.ID] = event.Index
	m.events[sessionID] = append(m.events[sessionID], event)
	return SubmitResult{Index: event.Index}, nil
}

func (m *Memory) ListEvents(_ context.Context, sessionID string, afterIndex int64) ([]game.RelayEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var list []game.RelayEvent
	for _, event := range m.events[sessionID] {
		if event.Index > afterIndex {
			list = append(list, event)
		}
	}
	return list, nil
}

func (m *Memory) RegisterMailbox(_ context.Context, sessionID, participantID, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	boxes, ok := m.mailboxes[sessionID]
	if !ok {
		boxes = make(map[string]*mailbox)
		m.mailboxes[sessionID] = boxes
	}
	if _, ok := boxes[participantID]; ok {
		// A retried join keeps the original token.
		return nil
	}
	boxes[participantID] = &mailbox{token: token}
	return nil
}

func (m *Memory) PushSecret(_ context.Context, sessionID, participantID string, message game.SecretMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	box, ok := m.mailboxes[sessionID][participantID]
	if !ok {
		return ErrNotRegistered
	}
	if message.CreatedAt.IsZero() {
		message.CreatedAt = m.now()
	}
	box.queue = append(box.queue, message)
	return nil
}

func (m *Memory) PullSecrets(_ context.Context, sessionID, participantID, token string) ([]game.SecretMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	box, ok := m.mailboxes[sessionID][participantID]
	if !ok {
		return nil, ErrNotRegistered
	}
	if subtle.ConstantTimeCompare([]byte(box.token), []byte(token)) != 1 {
		return nil, ErrUnauthorized
	}
	queue := box.queue
	box.queue = nil
	return queue, nil
}

func (m *Memory) VerifyToken(_ context.Context, sessionID, participantID, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	box, ok := m.mailboxes[sessionID][participantID]
	if !ok {
		return ErrNotRegistered
	}
	if subtle.ConstantTimeCompare([]byte(box.token), []byte(token)) != 1 {
		return ErrUnauthorized
	}
	return nil
}

func (m *Memory) SaveRoles(_ context.Context, sessionID string, roles map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := make(map[string]string, len(roles))
	for id, role := range roles {
		copied[id] = role
	}
	m.roles[sessionID] = copied
	return nil
}

func (m *Memory) LoadRoles(_ context.Context, sessionID string) (map[string]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := make(map[string]string, len(m.roles[sessionID]))
	for id, role := range m.roles[sessionID] {
		copied[id] = role
	}
	return copied, nil
}

func (m *Memory) RequestTakeover(_ context.Context, sessionID, challengerID string, observedCoordinator string, observedUpdatedAt time.Time) (game.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	current, ok := m.sessions[sessionID]
	if !ok {
		return game.Session{}, ErrNotFound
	}
	if current.CoordinatorParticipantID != observedCoordinator || !current.UpdatedAt.Equal(observedUpdatedAt) {
		return game.Session{}, ErrTakeoverConflict
	}
	current.CoordinatorParticipantID = challengerID
	current.Version++
	current.UpdatedAt = m.now()
	m.sessions[sessionID] = copySession(current)
	return copySession(current), nil
}

func copySession(session game.Session) game.Session {
	copied := session
	copied.Participants = append([]game.Participant(nil), session.Participants...)
	if session.RevealedRoles != nil {
		copied.RevealedRoles = make(map[string]string, len(session.RevealedRoles))
		for id, role := range session.RevealedRoles {
			copied.RevealedRoles[id] = role
		}
	}
	if session.LastNightResolution != nil {
		summary := *session.LastNightResolution
		copied.LastNightResolution = &summary
	}
	if session.LastVoteResult != nil {
		summary := *session.LastVoteResult
		if summary.Counts != nil {
			summary.Counts = make(map[string]int, len(session.LastVoteResult.Counts))
			for id, count := range session.LastVoteResult.Counts {
				summary.Counts[id] = count
			}
		}
		copied.LastVoteResult = &summary
	}
	return copied
}
