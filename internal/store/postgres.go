package store

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"mafia-night/internal/db"
	"mafia-night/internal/game"

	"github.com/jackc/pgconn"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Postgres is the durable Store backed by gorm. Snapshot CAS and takeover CAS
// are conditioned UPDATEs; event index allocation is a single-statement
// counter increment inside the insert transaction. Timestamps are truncated
// to microseconds so values round-trip exactly through timestamptz columns.
type Postgres struct {
	conn *gorm.DB
	now  func() time.Time
}

func NewPostgres(conn *gorm.DB) *Postgres {
	return &Postgres{
		conn: conn,
		now:  func() time.Time { return time.Now().UTC().Truncate(time.Microsecond) },
	}
}

func (p *Postgres) CreateSession(ctx context.Context, session game.Session) error {
	now := p.now()
	session.CreatedAt = now
	session.UpdatedAt = now
	blob, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	record := db.Session{
		ID:            session.ID,
		JoinCode:      session.JoinCode,
		Status:        session.Status,
		Version:       session.Version,
		CoordinatorID: session.CoordinatorParticipantID,
		Snapshot:      datatypes.JSON(blob),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	return p.conn.WithContext(ctx).Create(&record).Error
}

func (p *Postgres) GetSession(ctx context.Context, id string) (game.Session, error) {
	var record db.Session
	err := p.conn.WithContext(ctx).First(&record, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return game.Session{}, ErrNotFound
	}
	if err != nil {
		return game.Session{}, err
	}
	return decodeSnapshot(record)
}

func (p *Postgres) FindSessionByJoinCode(ctx context.Context, code string) (game.Session, error) {
	var record db.Session
	err := p.conn.WithContext(ctx).First(&record, "join_code = ?", code).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return game.Session{}, ErrNotFound
	}
	if err != nil {
		return game.Session{}, err
	}
	return decodeSnapshot(record)
}

func (p *Postgres) PublishSnapshot(ctx context.Context, candidate game.Session) (PublishResult, error) {
	now := p.now()
	candidate.UpdatedAt = now
	blob, err := json.Marshal(candidate)
	if err != nil {
		return PublishResult{}, fmt.Errorf("encode snapshot: %w", err)
	}
	result := p.conn.WithContext(ctx).Model(&db.Session{}).
		Where("id = ? AND version < ?", candidate.ID, candidate.Version).
		Updates(map[string]any{
			"status":         candidate.Status,
			"version":        candidate.Version,
			"coordinator_id": candidate.CoordinatorParticipantID,
			"snapshot":       datatypes.JSON(blob),
			"updated_at":     now,
		})
	if result.Error != nil {
		return PublishResult{}, result.Error
	}
	if result.RowsAffected == 1 {
		current, err := p.GetSession(ctx, candidate.ID)
		if err != nil {
			return PublishResult{}, err
		}
		return PublishResult{Session: current}, nil
	}
	// Stale version: not an error, hand back the stored snapshot.
	current, err := p.GetSession(ctx, candidate.ID)
	if err != nil {
		return PublishResult{}, err
	}
	return PublishResult{Session: current, Ignored: true}, nil
}

func (p *Postgres) SubmitEvent(ctx context.Context, sessionID string, event game.RelayEvent) (SubmitResult, error) {
	var submitted SubmitResult
	err := p.conn.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing db.Event
		err := tx.First(&existing, "session_id = ? AND event_id = ?", sessionID, event.ID).Error
		if err == nil {
			submitted = SubmitResult{Index: existing.EventIndex, Duplicated: true}
			return nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		var next int64
		result := tx.Raw(
			"UPDATE sessions SET last_event_index = last_event_index + 1 WHERE id = ? RETURNING last_event_index",
			sessionID,
		).Scan(&next)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return ErrNotFound
		}

		createdAt := event.CreatedAt
		if createdAt.IsZero() {
			createdAt = p.now()
		}
		payload := event.Payload
		if len(payload) == 0 {
			payload = json.RawMessage("{}")
		}
		record := db.Event{
			SessionID:  sessionID,
			EventID:    event.ID,
			EventIndex: next,
			Kind:       event.Kind,
			Payload:    datatypes.JSON(payload),
			CreatedAt:  createdAt,
		}
		if err := tx.Create(&record).Error; err != nil {
			return err
		}
		submitted = SubmitResult{Index: next}
		return nil
	})
	if err != nil && isUniqueViolation(err) {
		// Lost a duplicate race: the other writer's row is the event.
		var existing db.Event
		if lookupErr := p.conn.WithContext(ctx).First(&existing, "session_id = ? AND event_id = ?", sessionID, event.ID).Error; lookupErr == nil {
			return SubmitResult{Index: existing.EventIndex, Duplicated: true}, nil
		}
	}
	if err != nil {
		return SubmitResult{}, err
	}
	return submitted, nil
}

func (p *Postgres) ListEvents(ctx context.Context, sessionID string, afterIndex int64) ([]game.RelayEvent, error) {
	var records []db.Event
	err := p.conn.WithContext(ctx).
		Where("session_id = ? AND event_index > ?", sessionID, afterIndex).
		Order("event_index asc").
		Find(&records).Error
	if err != nil {
		return nil, err
	}
	events := make([]game.RelayEvent, 0, len(records))
	for _, record := range records {
		events = append(events, game.RelayEvent{
			ID:        record.EventID,
			Index:     record.EventIndex,
			Kind:      record.Kind,
			Payload:   json.RawMessage(record.Payload),
			CreatedAt: record.CreatedAt,
		})
	}
	return events, nil
}

func (p *Postgres) RegisterMailbox(ctx context.Context, sessionID, participantID, token string) error {
	now := p.now()
	record := db.Mailbox{
		SessionID:     sessionID,
		ParticipantID: participantID,
		Token:         token,
		Queue:         datatypes.JSON("[]"),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	// A retried join keeps the original token.
	return p.conn.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&record).Error
}

func (p *Postgres) PushSecret(ctx context.Context, sessionID, participantID string, message game.SecretMessage) error {
	if message.CreatedAt.IsZero() {
		message.CreatedAt = p.now()
	}
	blob, err := json.Marshal([]game.SecretMessage{message})
	if err != nil {
		return fmt.Errorf("encode secret: %w", err)
	}
	result := p.conn.WithContext(ctx).Exec(
		"UPDATE mailboxes SET queue = queue || ?::jsonb, updated_at = ? WHERE session_id = ? AND participant_id = ?",
		string(blob), p.now(), sessionID, participantID,
	)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrNotRegistered
	}
	return nil
}

func (p *Postgres) PullSecrets(ctx context.Context, sessionID, participantID, token string) ([]game.SecretMessage, error) {
	var messages []game.SecretMessage
	err := p.conn.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var record db.Mailbox
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&record, "session_id = ? AND participant_id = ?", sessionID, participantID).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNotRegistered
		}
		if err != nil {
			return err
		}
		if subtle.ConstantTimeCompare([]byte(record.Token), []byte(token)) != 1 {
			return ErrUnauthorized
		}
		if len(record.Queue) > 0 {
			if err := json.Unmarshal(record.Queue, &messages); err != nil {
				return fmt.Errorf("decode mailbox queue: %w", err)
			}
		}
		return tx.Model(&db.Mailbox{}).Where("id = ?", record.ID).
			Updates(map[string]any{"queue": datatypes.JSON("[]"), "updated_at": p.now()}).Error
	})
	if err != nil {
		return nil, err
	}
	return messages, nil
}

func (p *Postgres) VerifyToken(ctx context.Context, sessionID, participantID, token string) error {
	var record db.Mailbox
	err := p.conn.WithContext(ctx).
		First(&record, "session_id = ? AND participant_id = ?", sessionID, participantID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotRegistered
	}
	if err != nil {
		return err
	}
	if subtle.ConstantTimeCompare([]byte(record.Token), []byte(token)) != 1 {
		return ErrUnauthorized
	}
	return nil
}

func (p *Postgres) SaveRoles(ctx context.Context, sessionID string, roles map[string]string) error {
	blob, err := json.Marshal(roles)
	if err != nil {
		return fmt.Errorf("encode roles: %w", err)
	}
	record := db.RoleVault{
		SessionID: sessionID,
		Roles:     datatypes.JSON(blob),
		UpdatedAt: p.now(),
	}
	return p.conn.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "session_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"roles", "updated_at"}),
	}).Create(&record).Error
}

func (p *Postgres) LoadRoles(ctx context.Context, sessionID string) (map[string]string, error) {
	var record db.RoleVault
	err := p.conn.WithContext(ctx).First(&record, "session_id = ?", sessionID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, err
	}
	roles := make(map[string]string)
	if len(record.Roles) > 0 {
		if err := json.Unmarshal(record.Roles, &roles); err != nil {
			return nil, fmt.Errorf("decode roles: %w", err)
		}
	}
	return roles, nil
}

func (p *Postgres) RequestTakeover(ctx context.Context, sessionID, challengerID string, observedCoordinator string, observedUpdatedAt time.Time) (game.Session, error) {
	var updated game.Session
	err := p.conn.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var record db.Session
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&record, "id = ?", sessionID).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		if record.CoordinatorID != observedCoordinator || !record.UpdatedAt.Equal(observedUpdatedAt) {
			return ErrTakeoverConflict
		}
		session, err := decodeSnapshot(record)
		if err != nil {
			return err
		}
		session.CoordinatorParticipantID = challengerID
		session.Version++
		session.UpdatedAt = p.now()
		blob, err := json.Marshal(session)
		if err != nil {
			return fmt.Errorf("encode snapshot: %w", err)
		}
		if err := tx.Model(&db.Session{}).Where("id = ?", sessionID).Updates(map[string]any{
			"coordinator_id": challengerID,
			"version":        session.Version,
			"snapshot":       datatypes.JSON(blob),
			"updated_at":     session.UpdatedAt,
		}).Error; err != nil {
			return err
		}
		updated = session
		return nil
	})
	if err != nil {
		return game.Session{}, err
	}
	return updated, nil
}

func decodeSnapshot(record db.Session) (game.Session, error) {
	var session game.Session
	if err := json.Unmarshal(record.Snapshot, &session); err != nil {
		return game.Session{}, fmt.Errorf("decode snapshot for session %s: %w", record.ID, err)
	}
	// Columns are authoritative for the CAS fields.
	session.ID = record.ID
	session.JoinCode = record.JoinCode
	session.Status = record.Status
	session.Version = record.Version
	session.CoordinatorParticipantID = record.CoordinatorID
	session.CreatedAt = record.CreatedAt
	session.UpdatedAt = record.UpdatedAt
	return session, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}
