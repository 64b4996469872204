package store

import (
	"context"
	"strconv"
	"sync"
	"testing"
	"time"

	"mafia-night/internal/game"
)

func newSession(t *testing.T, m *Memory, id string) game.Session {
	t.Helper()
	session := game.Session{
		ID:      id,
		Status:  game.StatusActive,
		Phase:   game.PhaseLobby,
		Version: 1,
	}
	if err := m.CreateSession(context.Background(), session); err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}
	stored, err := m.GetSession(context.Background(), id)
	if err != nil {
		t.Fatalf("GetSession failed: %v", err)
	}
	return stored
}

func TestPublishSnapshotVersionCAS(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	session := newSession(t, m, "s1")

	session.Version = 2
	session.Phase = game.PhaseNight
	result, err := m.PublishSnapshot(ctx, session)
	if err != nil {
		t.Fatalf("publish failed: %v", err)
	}
	if result.Ignored {
		t.Fatal("expected publish to be accepted")
	}

	// Same version again: silently ignored, stored state untouched.
	session.Phase = game.PhaseDay
	result, err = m.PublishSnapshot(ctx, session)
	if err != nil {
		t.Fatalf("publish failed: %v", err)
	}
	if !result.Ignored {
		t.Fatal("expected stale publish to be ignored")
	}
	if result.Session.Phase != game.PhaseNight {
		t.Fatalf("stored phase changed to %q", result.Session.Phase)
	}

	// Lower version: also ignored.
	session.Version = 1
	result, err = m.PublishSnapshot(ctx, session)
	if err != nil {
		t.Fatalf("publish failed: %v", err)
	}
	if !result.Ignored {
		t.Fatal("expected lower-version publish to be ignored")
	}
}

func TestPublishRoundTrip(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	session := newSession(t, m, "s1")

	session.Version = 2
	session.Phase = game.PhaseNight
	session.CurrentNightNumber = 1
	session.Participants = []game.Participant{{ID: "p1", DisplayName: "Ada", Alive: true}}
	result, err := m.PublishSnapshot(ctx, session)
	if err != nil {
		t.Fatalf("publish failed: %v", err)
	}
	got, err := m.GetSession(ctx, "s1")
	if err != nil {
		t.Fatalf("GetSession failed: %v", err)
	}
	if got.Version != 2 || got.Phase != game.PhaseNight || got.CurrentNightNumber != 1 {
		t.Fatalf("read back mismatch: %+v", got)
	}
	if len(got.Participants) != 1 || got.Participants[0].DisplayName != "Ada" {
		t.Fatalf("participants not round-tripped: %+v", got.Participants)
	}
	if !got.UpdatedAt.Equal(result.Session.UpdatedAt) {
		t.Fatal("updated_at should match the accepted publish")
	}
}

func TestSubmitEventIndexesAndDedupe(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	newSession(t, m, "s1")

	first, err := m.SubmitEvent(ctx, "s1", game.RelayEvent{ID: "e1", Kind: game.EventJoin})
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	if first.Index != 1 || first.Duplicated {
		t.Fatalf("unexpected first submit result %+v", first)
	}
	second, err := m.SubmitEvent(ctx, "s1", game.RelayEvent{ID: "e2", Kind: game.EventVote})
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	if second.Index != 2 {
		t.Fatalf("expected index 2, got %d", second.Index)
	}

	retry, err := m.SubmitEvent(ctx, "s1", game.RelayEvent{ID: "e1", Kind: game.EventJoin})
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	if !retry.Duplicated || retry.Index != 1 {
		t.Fatalf("expected duplicate of index 1, got %+v", retry)
	}

	events, err := m.ListEvents(ctx, "s1", 0)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 stored events, got %d", len(events))
	}

	tail, err := m.ListEvents(ctx, "s1", 1)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(tail) != 1 || tail[0].ID != "e2" {
		t.Fatalf("cursor list wrong: %+v", tail)
	}
}

func TestSubmitEventConcurrentIndexesUnique(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	newSession(t, m, "s1")

	const n = 50
	indexes := make(chan int64, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			result, err := m.SubmitEvent(ctx, "s1", game.RelayEvent{
				ID:   "event-" + strconv.Itoa(i),
				Kind: game.EventRitual,
			})
			if err != nil {
				t.Errorf("submit failed: %v", err)
				return
			}
			indexes <- result.Index
		}(i)
	}
	wg.Wait()
	close(indexes)

	seen := make(map[int64]bool)
	for index := range indexes {
		if seen[index] {
			t.Fatalf("index %d allocated twice", index)
		}
		seen[index] = true
	}
}

func TestMailboxPullAndClear(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	newSession(t, m, "s1")

	if err := m.PushSecret(ctx, "s1", "p1", game.SecretMessage{Kind: game.SecretRoleAssignment}); err != ErrNotRegistered {
		t.Fatalf("expected ErrNotRegistered before join, got %v", err)
	}

	if err := m.RegisterMailbox(ctx, "s1", "p1", "tok-1"); err != nil {
		t.Fatalf("register failed: %v", err)
	}
	if err := m.PushSecret(ctx, "s1", "p1", game.SecretMessage{Kind: game.SecretRoleAssignment}); err != nil {
		t.Fatalf("push failed: %v", err)
	}

	if _, err := m.PullSecrets(ctx, "s1", "p1", "wrong"); err != ErrUnauthorized {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}

	// The failed pull must not have cleared anything.
	messages, err := m.PullSecrets(ctx, "s1", "p1", "tok-1")
	if err != nil {
		t.Fatalf("pull failed: %v", err)
	}
	if len(messages) != 1 || messages[0].Kind != game.SecretRoleAssignment {
		t.Fatalf("unexpected messages %+v", messages)
	}

	messages, err = m.PullSecrets(ctx, "s1", "p1", "tok-1")
	if err != nil {
		t.Fatalf("pull failed: %v", err)
	}
	if len(messages) != 0 {
		t.Fatalf("expected empty queue after pull, got %d messages", len(messages))
	}
}

func TestRegisterMailboxKeepsOriginalToken(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	newSession(t, m, "s1")

	if err := m.RegisterMailbox(ctx, "s1", "p1", "tok-1"); err != nil {
		t.Fatalf("register failed: %v", err)
	}
	if err := m.RegisterMailbox(ctx, "s1", "p1", "tok-2"); err != nil {
		t.Fatalf("re-register failed: %v", err)
	}
	if err := m.VerifyToken(ctx, "s1", "p1", "tok-1"); err != nil {
		t.Fatalf("original token rejected: %v", err)
	}
	if err := m.VerifyToken(ctx, "s1", "p1", "tok-2"); err != ErrUnauthorized {
		t.Fatalf("expected replacement token to be rejected, got %v", err)
	}
}

func TestRoleVault(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	newSession(t, m, "s1")

	roles, err := m.LoadRoles(ctx, "s1")
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if len(roles) != 0 {
		t.Fatalf("expected empty vault, got %v", roles)
	}

	if err := m.SaveRoles(ctx, "s1", map[string]string{"p1": game.RoleMafia}); err != nil {
		t.Fatalf("save failed: %v", err)
	}
	roles, err = m.LoadRoles(ctx, "s1")
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if roles["p1"] != game.RoleMafia {
		t.Fatalf("unexpected roles %v", roles)
	}

	if err := m.SaveRoles(ctx, "s1", map[string]string{}); err != nil {
		t.Fatalf("clear failed: %v", err)
	}
	roles, _ = m.LoadRoles(ctx, "s1")
	if len(roles) != 0 {
		t.Fatal("expected vault cleared")
	}
}

func TestRequestTakeoverCAS(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	session := newSession(t, m, "s1")
	session.Version = 2
	session.CoordinatorParticipantID = "old"
	published, err := m.PublishSnapshot(ctx, session)
	if err != nil {
		t.Fatalf("publish failed: %v", err)
	}
	observed := published.Session

	// Two challengers race with the same observation: exactly one wins.
	winner, err := m.RequestTakeover(ctx, "s1", "alice", observed.CoordinatorParticipantID, observed.UpdatedAt)
	if err != nil {
		t.Fatalf("first takeover failed: %v", err)
	}
	if winner.CoordinatorParticipantID != "alice" {
		t.Fatalf("expected alice coordinator, got %q", winner.CoordinatorParticipantID)
	}
	if winner.Version != observed.Version+1 {
		t.Fatalf("takeover should bump version, got %d", winner.Version)
	}

	if _, err := m.RequestTakeover(ctx, "s1", "bob", observed.CoordinatorParticipantID, observed.UpdatedAt); err != ErrTakeoverConflict {
		t.Fatalf("expected ErrTakeoverConflict for the loser, got %v", err)
	}

	current, err := m.GetSession(ctx, "s1")
	if err != nil {
		t.Fatalf("GetSession failed: %v", err)
	}
	if current.CoordinatorParticipantID != "alice" {
		t.Fatalf("loser overwrote coordinator: %q", current.CoordinatorParticipantID)
	}
}

func TestTakeoverConcurrentOnlyOneWins(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	session := newSession(t, m, "s1")
	session.Version = 2
	session.CoordinatorParticipantID = "old"
	published, err := m.PublishSnapshot(ctx, session)
	if err != nil {
		t.Fatalf("publish failed: %v", err)
	}
	observed := published.Session

	var wg sync.WaitGroup
	wins := make(chan string, 2)
	for _, challenger := range []string{"alice", "bob"} {
		wg.Add(1)
		go func(challenger string) {
			defer wg.Done()
			if _, err := m.RequestTakeover(ctx, "s1", challenger, observed.CoordinatorParticipantID, observed.UpdatedAt); err == nil {
				wins <- challenger
			}
		}(challenger)
	}
	wg.Wait()
	close(wins)

	var winners []string
	for w := range wins {
		winners = append(winners, w)
	}
	if len(winners) != 1 {
		t.Fatalf("expected exactly one winner, got %v", winners)
	}
}

func TestSubmitEventUnknownSession(t *testing.T) {
	m := NewMemory()
	if _, err := m.SubmitEvent(context.Background(), "missing", game.RelayEvent{ID: "e1"}); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestCreatedAtSurvivesPublish(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	session := newSession(t, m, "s1")
	created := session.CreatedAt

	time.Sleep(5 * time.Millisecond)
	session.Version = 2
	result, err := m.PublishSnapshot(ctx, session)
	if err != nil {
		t.Fatalf("publish failed: %v", err)
	}
	if !result.Session.CreatedAt.Equal(created) {
		t.Fatal("created_at should be preserved across publishes")
	}
}
