package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"

	"github.com/go-agora/agora/pkg/discussion"
	"github.com/go-agora/agora/pkg/participant"
)

// SQLiteTurnStore persists turns in a local SQLite database.
type SQLiteTurnStore struct {
	db *sql.DB
}

var _ TurnStore = &SQLiteTurnStore{}

func NewSQLiteTurnStore(dsn string) (*SQLiteTurnStore, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, errors.New("sqlite turn store: empty dsn")
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, err
	}
	s := &SQLiteTurnStore{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteTurnStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteTurnStore) migrate() error {
	if s == nil || s.db == nil {
		return errors.New("sqlite turn store: db is nil")
	}
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS turns (
			session_id TEXT NOT NULL,
			turn_id TEXT NOT NULL,
			round INTEGER NOT NULL,
			sequence INTEGER NOT NULL,
			participant_id TEXT NOT NULL,
			participant_name TEXT NOT NULL,
			turn_type TEXT NOT NULL,
			created_at_ms INTEGER NOT NULL,
			payload TEXT NOT NULL,
			PRIMARY KEY (session_id, turn_id)
		);`,
		`CREATE INDEX IF NOT EXISTS turns_by_session ON turns(session_id, round, sequence);`,
		`CREATE INDEX IF NOT EXISTS turns_by_participant ON turns(participant_id, created_at_ms DESC);`,
	}
	for _, st := range stmts {
		if _, err := s.db.Exec(st); err != nil {
			return errors.Wrap(err, "sqlite turn store: migrate")
		}
	}
	return nil
}

func (s *SQLiteTurnStore) SaveTurn(ctx context.Context, rec TurnRecord) error {
	if s == nil || s.db == nil {
		return errors.New("sqlite turn store: db is nil")
	}
	if strings.TrimSpace(rec.SessionID) == "" {
		return errors.New("sqlite turn store: session id is empty")
	}
	if strings.TrimSpace(rec.TurnID) == "" {
		return errors.New("sqlite turn store: turn id is empty")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if rec.CreatedAtMs <= 0 {
		rec.CreatedAtMs = time.Now().UnixMilli()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO turns(session_id, turn_id, round, sequence, participant_id, participant_name, turn_type, created_at_ms, payload)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, rec.SessionID, rec.TurnID, rec.Round, rec.Sequence, string(rec.ParticipantID), rec.ParticipantName, string(rec.TurnType), rec.CreatedAtMs, rec.Payload)
	if err != nil {
		return errors.Wrap(err, "sqlite turn store: insert")
	}
	return nil
}

func (s *SQLiteTurnStore) ListTurns(ctx context.Context, q TurnQuery) ([]TurnRecord, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("sqlite turn store: db is nil")
	}
	if strings.TrimSpace(q.SessionID) == "" {
		return nil, errors.New("sqlite turn store: session id required")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	limit := q.Limit
	if limit <= 0 {
		limit = 200
	}

	clauses := []string{"session_id = ?"}
	args := []any{q.SessionID}
	if v := strings.TrimSpace(string(q.ParticipantID)); v != "" {
		clauses = append(clauses, "participant_id = ?")
		args = append(args, v)
	}
	if q.SinceMs > 0 {
		clauses = append(clauses, "created_at_ms >= ?")
		args = append(args, q.SinceMs)
	}

	query := fmt.Sprintf(`
		SELECT session_id, turn_id, round, sequence, participant_id, participant_name, turn_type, created_at_ms, payload
		FROM turns
		WHERE %s
		ORDER BY round ASC, sequence ASC
		LIMIT ?
	`, strings.Join(clauses, " AND "))
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "sqlite turn store: query")
	}
	defer func() { _ = rows.Close() }()

	items := []TurnRecord{}
	for rows.Next() {
		var (
			item       TurnRecord
			pid, ttype string
		)
		if err := rows.Scan(&item.SessionID, &item.TurnID, &item.Round, &item.Sequence, &pid, &item.ParticipantName, &ttype, &item.CreatedAtMs, &item.Payload); err != nil {
			return nil, err
		}
		item.ParticipantID = participant.ID(pid)
		item.TurnType = discussion.TurnType(ttype)
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

// SQLiteDSNForFile builds a WAL-mode DSN for a database file.
func SQLiteDSNForFile(path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", errors.New("sqlite turn store: empty path")
	}
	return fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on", path), nil
}
