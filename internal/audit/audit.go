// Package audit records the consultation lifecycle for compliance review.
// Events carry who asked, which model answered and how the stream ended;
// they never carry the patient name, the notes, or the generated text.
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// EventType represents the lifecycle stage being recorded.
type EventType string

const (
	EventConsultationStarted   EventType = "consultation.started"
	EventConsultationCompleted EventType = "consultation.completed"
	EventConsultationFailed    EventType = "consultation.failed"
)

// Event is an immutable audit record.
type Event struct {
	ID             string          `json:"id"`
	EventType      EventType       `json:"event_type"`
	ConsultationID string          `json:"consultation_id"`
	Subject        string          `json:"subject"`
	SessionID      string          `json:"session_id,omitempty"`
	Provider       string          `json:"provider,omitempty"`
	Model          string          `json:"model,omitempty"`
	Fragments      int             `json:"fragments"`
	DurationMS     int64           `json:"duration_ms"`
	Details        json.RawMessage `json:"details,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
}

// Details holds event-specific extras.
type Details struct {
	// Error is the provider or transport error class, never model output.
	Error        string `json:"error,omitempty"`
	ClientAbort  bool   `json:"client_abort,omitempty"`
	FallbackUsed bool   `json:"fallback_used,omitempty"`
}

// Service handles audit logging. A nil *Service discards events, which is
// how the API runs without DATABASE_URL.
type Service struct {
	db *sql.DB
}

// NewService creates a new audit service.
func NewService(db *sql.DB) *Service {
	if db == nil {
		return nil
	}
	return &Service{db: db}
}

// LogEvent records an audit event.
func (s *Service) LogEvent(ctx context.Context, event Event) error {
	if s == nil {
		return nil
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO consultation_audit_events (
			id, event_type, consultation_id, subject, session_id,
			provider, model, fragments, duration_ms, details, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`

	_, err := s.db.ExecContext(ctx, query,
		event.ID,
		event.EventType,
		event.ConsultationID,
		event.Subject,
		nullString(event.SessionID),
		nullString(event.Provider),
		nullString(event.Model),
		event.Fragments,
		event.DurationMS,
		nullJSON(event.Details),
		event.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("audit: failed to log event: %w", err)
	}
	return nil
}

// LogStarted records that a caller opened a consultation stream.
func (s *Service) LogStarted(ctx context.Context, consultationID, subject, sessionID, provider, model string) error {
	return s.LogEvent(ctx, Event{
		EventType:      EventConsultationStarted,
		ConsultationID: consultationID,
		Subject:        subject,
		SessionID:      sessionID,
		Provider:       provider,
		Model:          model,
	})
}

// LogCompleted records a stream that finished normally.
func (s *Service) LogCompleted(ctx context.Context, consultationID, subject, provider, model string, fragments int, elapsed time.Duration, fallbackUsed bool) error {
	var details json.RawMessage
	if fallbackUsed {
		details, _ = json.Marshal(Details{FallbackUsed: true})
	}
	return s.LogEvent(ctx, Event{
		EventType:      EventConsultationCompleted,
		ConsultationID: consultationID,
		Subject:        subject,
		Provider:       provider,
		Model:          model,
		Fragments:      fragments,
		DurationMS:     elapsed.Milliseconds(),
		Details:        details,
	})
}

// LogFailed records a stream that ended with an error or a client abort.
func (s *Service) LogFailed(ctx context.Context, consultationID, subject, provider, model string, fragments int, elapsed time.Duration, cause error, clientAbort bool) error {
	d := Details{ClientAbort: clientAbort}
	if cause != nil {
		d.Error = cause.Error()
	}
	details, _ := json.Marshal(d)
	return s.LogEvent(ctx, Event{
		EventType:      EventConsultationFailed,
		ConsultationID: consultationID,
		Subject:        subject,
		Provider:       provider,
		Model:          model,
		Fragments:      fragments,
		DurationMS:     elapsed.Milliseconds(),
		Details:        details,
	})
}

// Filter narrows QueryEvents.
type Filter struct {
	Subject        string
	ConsultationID string
	EventType      EventType
	StartTime      time.Time
	EndTime        time.Time
	Limit          int
}

// QueryEvents retrieves audit events for one subject, newest first.
func (s *Service) QueryEvents(ctx context.Context, filter Filter) ([]Event, error) {
	if s == nil {
		return nil, nil
	}
	query := `
		SELECT id, event_type, consultation_id, subject, session_id,
			   provider, model, fragments, duration_ms, details, created_at
		FROM consultation_audit_events
		WHERE subject = $1
	`
	args := []interface{}{filter.Subject}
	argIdx := 2

	if filter.ConsultationID != "" {
		query += fmt.Sprintf(" AND consultation_id = $%d", argIdx)
		args = append(args, filter.ConsultationID)
		argIdx++
	}
	if filter.EventType != "" {
		query += fmt.Sprintf(" AND event_type = $%d", argIdx)
		args = append(args, filter.EventType)
		argIdx++
	}
	if !filter.StartTime.IsZero() {
		query += fmt.Sprintf(" AND created_at >= $%d", argIdx)
		args = append(args, filter.StartTime)
		argIdx++
	}
	if !filter.EndTime.IsZero() {
		query += fmt.Sprintf(" AND created_at <= $%d", argIdx)
		args = append(args, filter.EndTime)
	}

	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("audit: failed to query events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var e Event
		var sessionID, provider, model sql.NullString
		var details []byte
		if err := rows.Scan(
			&e.ID, &e.EventType, &e.ConsultationID, &e.Subject, &sessionID,
			&provider, &model, &e.Fragments, &e.DurationMS, &details, &e.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("audit: failed to scan event: %w", err)
		}
		e.SessionID = sessionID.String
		e.Provider = provider.String
		e.Model = model.String
		if len(details) > 0 {
			e.Details = json.RawMessage(details)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("audit: failed to read events: %w", err)
	}
	return events, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullJSON(raw json.RawMessage) interface{} {
	if len(raw) == 0 {
		return nil
	}
	return []byte(raw)
}
