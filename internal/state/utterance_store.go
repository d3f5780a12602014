package state

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// DefaultMaxContextBytes bounds the serialised context of one utterance.
const DefaultMaxContextBytes = 1 << 20

const defaultListLimit = 50

var ErrUtteranceNotFound = errors.New("utterance not found")

// Utterance is one immutable ledger entry: the merged context produced for a
// finished utterance plus which parsers contributed to it.
type Utterance struct {
	ID           string          `json:"id"`
	Source       string          `json:"source"`
	AudioBytes   int             `json:"audio_bytes"`
	DurationMs   int64           `json:"duration_ms"`
	Context      json.RawMessage `json:"context"`
	Contributors []string        `json:"contributors"`
	Failed       []string        `json:"failed"`
	CreatedAt    time.Time       `json:"created_at"`
}

// UtteranceStore persists finished utterances.
type UtteranceStore struct {
	db              *sql.DB
	maxContextBytes int
	now             func() time.Time
}

func NewUtteranceStore(db *sql.DB) *UtteranceStore {
	return &UtteranceStore{
		db:              db,
		maxContextBytes: DefaultMaxContextBytes,
		now:             time.Now,
	}
}

// Record appends u to the ledger. An empty ID is replaced with a new UUID and
// CreatedAt is always set by the store.
func (s *UtteranceStore) Record(ctx context.Context, u *Utterance) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	if len(u.Context) == 0 {
		u.Context = json.RawMessage(`{}`)
	}
	if !json.Valid(u.Context) {
		return fmt.Errorf("utterance %s: context is not valid JSON", u.ID)
	}
	if len(u.Context) > s.maxContextBytes {
		return fmt.Errorf("utterance %s: context exceeds max size (%d bytes)", u.ID, s.maxContextBytes)
	}

	contributors, err := json.Marshal(nonNil(u.Contributors))
	if err != nil {
		return fmt.Errorf("marshal contributors: %w", err)
	}
	failed, err := json.Marshal(nonNil(u.Failed))
	if err != nil {
		return fmt.Errorf("marshal failed parsers: %w", err)
	}

	u.CreatedAt = s.now().UTC()
	_, err = s.db.ExecContext(ctx, `
INSERT INTO utterance(id, source, audio_bytes, duration_ms, context_json, contributors, failed, created_at)
VALUES(?, ?, ?, ?, ?, ?, ?, ?);
`, u.ID, u.Source, u.AudioBytes, u.DurationMs, string(u.Context), string(contributors), string(failed),
		u.CreatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("insert utterance: %w", err)
	}
	return nil
}

// Get returns one utterance by ID.
func (s *UtteranceStore) Get(ctx context.Context, id string) (*Utterance, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(id) == "" {
		return nil, fmt.Errorf("utterance id is empty")
	}

	row := s.db.QueryRowContext(ctx, `
SELECT id, source, audio_bytes, duration_ms, context_json, contributors, failed, created_at
FROM utterance
WHERE id = ?;
`, id)

	u, err := scanUtterance(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrUtteranceNotFound
	}
	return u, err
}

// List returns the most recent utterances, newest first. A limit <= 0 uses
// the default page size.
func (s *UtteranceStore) List(ctx context.Context, limit int) ([]*Utterance, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = defaultListLimit
	}

	rows, err := s.db.QueryContext(ctx, `
SELECT id, source, audio_bytes, duration_ms, context_json, contributors, failed, created_at
FROM utterance
ORDER BY created_at DESC, rowid DESC
LIMIT ?;
`, limit)
	if err != nil {
		return nil, fmt.Errorf("query utterances: %w", err)
	}
	defer rows.Close()

	out := []*Utterance{}
	for rows.Next() {
		u, err := scanUtterance(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate utterance rows: %w", err)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUtterance(row rowScanner) (*Utterance, error) {
	var (
		u                     Utterance
		ctxJSON, contributors string
		failed, createdAtS    string
	)
	if err := row.Scan(
		&u.ID,
		&u.Source,
		&u.AudioBytes,
		&u.DurationMs,
		&ctxJSON,
		&contributors,
		&failed,
		&createdAtS,
	); err != nil {
		return nil, err
	}

	if !json.Valid([]byte(ctxJSON)) {
		return nil, fmt.Errorf("stored context_json is invalid JSON for utterance=%q", u.ID)
	}
	u.Context = json.RawMessage(ctxJSON)
	if err := json.Unmarshal([]byte(contributors), &u.Contributors); err != nil {
		return nil, fmt.Errorf("decode utterance.contributors: %w", err)
	}
	if err := json.Unmarshal([]byte(failed), &u.Failed); err != nil {
		return nil, fmt.Errorf("decode utterance.failed: %w", err)
	}

	createdAt, err := time.Parse(time.RFC3339Nano, createdAtS)
	if err != nil {
		return nil, fmt.Errorf("parse utterance.created_at: %w", err)
	}
	u.CreatedAt = createdAt
	return &u, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
