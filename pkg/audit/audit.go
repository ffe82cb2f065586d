package audit

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Admin actions recorded in the trail.
const (
	ActionAuthorizeGroup   = "AUTHORIZE_GROUP"
	ActionDeauthorizeGroup = "DEAUTHORIZE_GROUP"
	ActionSetLimit         = "SET_LIMIT"
	ActionBroadcast        = "BROADCAST"
)

type auditDB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// Sink accepts audit records.
type Sink interface {
	Append(ctx context.Context, rec Record) error
}

type Record struct {
	ID        string          `json:"id"`
	Action    string          `json:"action"`
	Actor     string          `json:"actor"`
	Target    string          `json:"target"`
	Source    string          `json:"source"`
	Detail    json.RawMessage `json:"detail,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// NewRecord stamps a record with a fresh id and the current time.
func NewRecord(action, actor, target, source string, detail interface{}) Record {
	rec := Record{
		ID:        uuid.NewString(),
		Action:    action,
		Actor:     actor,
		Target:    target,
		Source:    source,
		CreatedAt: time.Now().UTC(),
	}
	if detail != nil {
		if b, err := json.Marshal(detail); err == nil {
			rec.Detail = b
		}
	}
	return rec
}

// Writer stores records in postgres.
type Writer struct {
	DB       auditDB
	HashSalt []byte
	Redact   bool
}

func (w *Writer) EnsureSchema(ctx context.Context) error {
	_, err := w.DB.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS likegate_audit (
			id         uuid PRIMARY KEY,
			action     text NOT NULL,
			actor      text NOT NULL,
			target     text NOT NULL,
			source     text NOT NULL,
			detail     jsonb,
			created_at timestamptz NOT NULL
		)
	`)
	return err
}

func (w *Writer) Append(ctx context.Context, rec Record) error {
	if rec.ID == "" {
		return errors.New("audit record id required")
	}
	if w.Redact {
		rec = redactRecord(rec, w.HashSalt)
	}
	_, err := w.DB.Exec(ctx, `
		INSERT INTO likegate_audit (id, action, actor, target, source, detail, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, rec.ID, rec.Action, rec.Actor, rec.Target, rec.Source, rec.Detail, rec.CreatedAt)
	return err
}

func (w *Writer) Get(ctx context.Context, id string) (Record, error) {
	var rec Record
	row := w.DB.QueryRow(ctx, `
		SELECT id, action, actor, target, source, detail, created_at
		FROM likegate_audit WHERE id=$1
	`, id)
	if err := row.Scan(&rec.ID, &rec.Action, &rec.Actor, &rec.Target, &rec.Source, &rec.Detail, &rec.CreatedAt); err != nil {
		return rec, err
	}
	return rec, nil
}

// Recent returns up to limit records, newest first.
func (w *Writer) Recent(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	rows, err := w.DB.Query(ctx, `
		SELECT id, action, actor, target, source, detail, created_at
		FROM likegate_audit ORDER BY created_at DESC LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []Record{}
	for rows.Next() {
		var rec Record
		if err := rows.Scan(&rec.ID, &rec.Action, &rec.Actor, &rec.Target, &rec.Source, &rec.Detail, &rec.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// LogSink writes records to the process log when no database is configured.
type LogSink struct{}

func (LogSink) Append(ctx context.Context, rec Record) error {
	log.Printf("audit: %s actor=%s target=%s source=%s detail=%s", rec.Action, rec.Actor, rec.Target, rec.Source, string(rec.Detail))
	return nil
}
