package archive

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/lib/pq"
	"github.com/pressly/goose/v3"

	"github.com/mbd888/scamshield/internal/risk"
	"github.com/mbd888/scamshield/migrations"
)

// PostgresStore persists calls in the analyzed_calls table.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL-backed store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate applies pending schema migrations.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	return Migrate(ctx, s.db)
}

// Migrate applies the embedded goose migrations to db.
func Migrate(ctx context.Context, db *sql.DB) error {
	provider, err := goose.NewProvider(goose.DialectPostgres, db, migrations.FS)
	if err != nil {
		return fmt.Errorf("init migrations: %w", err)
	}
	if _, err := provider.Up(ctx); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

func (s *PostgresStore) Save(ctx context.Context, call *Call) error {
	speakers, err := json.Marshal(call.Speakers)
	if err != nil {
		return fmt.Errorf("encode speakers: %w", err)
	}
	keywords := call.Keywords
	if keywords == nil {
		keywords = []string{}
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO analyzed_calls (
			id, session_id, transcript, speakers, speaker_count, keywords,
			risk_score, risk_level, scam_detected, summary, suggestion,
			logic_scam_detected, logic_reason, duration_seconds, backend, degraded, created_at
		) VALUES ($1, $2, $3, $4::JSONB, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		ON CONFLICT (id) DO UPDATE SET
			transcript = EXCLUDED.transcript,
			speakers = EXCLUDED.speakers,
			speaker_count = EXCLUDED.speaker_count,
			keywords = EXCLUDED.keywords,
			risk_score = EXCLUDED.risk_score,
			risk_level = EXCLUDED.risk_level,
			scam_detected = EXCLUDED.scam_detected,
			summary = EXCLUDED.summary,
			suggestion = EXCLUDED.suggestion,
			logic_scam_detected = EXCLUDED.logic_scam_detected,
			logic_reason = EXCLUDED.logic_reason
	`, call.ID, call.SessionID, call.Transcript, string(speakers), call.SpeakerCount, pq.Array(keywords),
		call.RiskScore, string(call.RiskLevel), call.ScamDetected, call.Summary, call.Suggestion,
		call.LogicScamDetected, call.LogicReason, call.DurationSeconds, call.Backend, call.Degraded, call.CreatedAt)
	return err
}

const selectCalls = `
	SELECT id, session_id, transcript, speakers::TEXT, speaker_count, keywords,
		risk_score, risk_level, scam_detected, summary, suggestion,
		logic_scam_detected, logic_reason, duration_seconds, backend, degraded, created_at
	FROM analyzed_calls`

func (s *PostgresStore) Get(ctx context.Context, id string) (*Call, error) {
	row := s.db.QueryRowContext(ctx, selectCalls+` WHERE id = $1`, id)
	c, err := scanCall(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return c, err
}

func (s *PostgresStore) List(ctx context.Context, opts ListOptions) ([]*Call, string, error) {
	pos, err := decodeCursor(opts.Cursor)
	if err != nil {
		return nil, "", err
	}
	limit := opts.limit()

	var rows *sql.Rows
	if pos == nil {
		rows, err = s.db.QueryContext(ctx, selectCalls+`
			WHERE ($1 = FALSE OR scam_detected)
			ORDER BY created_at DESC, id DESC
			LIMIT $2`, opts.ScamOnly, limit+1)
	} else {
		rows, err = s.db.QueryContext(ctx, selectCalls+`
			WHERE ($1 = FALSE OR scam_detected) AND (created_at, id) < ($2, $3)
			ORDER BY created_at DESC, id DESC
			LIMIT $4`, opts.ScamOnly, pos.createdAt, pos.id, limit+1)
	}
	if err != nil {
		return nil, "", err
	}
	defer func() { _ = rows.Close() }()

	var calls []*Call
	for rows.Next() {
		c, err := scanCall(rows)
		if err != nil {
			return nil, "", err
		}
		calls = append(calls, c)
	}
	if err := rows.Err(); err != nil {
		return nil, "", err
	}
	calls, next := page(calls, limit)
	return calls, next, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanCall(sc scanner) (*Call, error) {
	var (
		c        Call
		speakers string
		level    string
	)
	err := sc.Scan(&c.ID, &c.SessionID, &c.Transcript, &speakers, &c.SpeakerCount, pq.Array(&c.Keywords),
		&c.RiskScore, &level, &c.ScamDetected, &c.Summary, &c.Suggestion,
		&c.LogicScamDetected, &c.LogicReason, &c.DurationSeconds, &c.Backend, &c.Degraded, &c.CreatedAt)
	if err != nil {
		return nil, err
	}
	c.RiskLevel = risk.Level(level)
	if err := json.Unmarshal([]byte(speakers), &c.Speakers); err != nil {
		return nil, fmt.Errorf("decode speakers for %s: %w", c.ID, err)
	}
	c.CreatedAt = c.CreatedAt.UTC()
	return &c, nil
}
