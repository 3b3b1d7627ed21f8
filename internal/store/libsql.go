package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/tursodatabase/go-libsql"

	"github.com/statelyvm/stately/pkg/asl"
)

// LibSQLStore implements the Store interface using libSQL (embedded SQLite fork).
type LibSQLStore struct {
	db *sql.DB
}

// NewLibSQLStore opens a libSQL database at the given path and returns a Store.
// The path should be a file URI, e.g. "file:/path/to/db.db".
func NewLibSQLStore(dbPath string) (*LibSQLStore, error) {
	db, err := sql.Open("libsql", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open libsql: %w", err)
	}
	db.SetMaxOpenConns(1)

	// Apply connection-level PRAGMAs. Some PRAGMAs return rows so we use QueryRow.
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA cache_size=-20000",
		"PRAGMA foreign_keys=ON",
		"PRAGMA temp_store=MEMORY",
	}
	for _, p := range pragmas {
		var result string
		_ = db.QueryRow(p).Scan(&result)
	}

	return &LibSQLStore{db: db}, nil
}

// DB returns the underlying *sql.DB for advanced usage.
func (s *LibSQLStore) DB() *sql.DB { return s.db }

// Close closes the database.
func (s *LibSQLStore) Close() error { return s.db.Close() }

// Migrate runs all pending database migrations.
func (s *LibSQLStore) Migrate(ctx context.Context) error {
	return runMigrations(ctx, s.db)
}

// Vacuum runs VACUUM on the database.
func (s *LibSQLStore) Vacuum(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, "VACUUM")
	return err
}

// --- Executions ---

func (s *LibSQLStore) CreateExecution(ctx context.Context, rec *ExecutionRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO executions (id, name, status, input, output, error, started_at, completed_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, nullStr(rec.Name), string(rec.Status),
		nullRaw(rec.Input), nullRaw(rec.Output), nullRaw(rec.Error),
		timeOrNow(rec.StartedAt), nullTime(rec.CompletedAt), timeOrNow(rec.UpdatedAt),
	)
	return err
}

func (s *LibSQLStore) GetExecution(ctx context.Context, id string) (*ExecutionRecord, error) {
	rec := &ExecutionRecord{}
	var (
		name                  sql.NullString
		input, output, errRaw sql.NullString
		completedAt           sql.NullTime
		status                string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, status, input, output, error, started_at, completed_at, updated_at
		 FROM executions WHERE id = ?`, id,
	).Scan(&rec.ID, &name, &status, &input, &output, &errRaw, &rec.StartedAt, &completedAt, &rec.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, notFound("execution", id)
	}
	if err != nil {
		return nil, err
	}
	rec.Name = name.String
	rec.Status = asl.ExecutionStatus(status)
	rec.Input = rawOrNil(input)
	rec.Output = rawOrNil(output)
	rec.Error = rawOrNil(errRaw)
	if completedAt.Valid {
		rec.CompletedAt = &completedAt.Time
	}
	return rec, nil
}

func (s *LibSQLStore) UpdateExecution(ctx context.Context, id string, update ExecutionUpdate) error {
	var sets []string
	var args []any

	if update.Status != nil {
		sets = append(sets, "status = ?")
		args = append(args, string(*update.Status))
	}
	if update.Output != nil {
		sets = append(sets, "output = ?")
		args = append(args, string(update.Output))
	}
	if update.Error != nil {
		sets = append(sets, "error = ?")
		args = append(args, string(update.Error))
	}
	if update.CompletedAt != nil {
		sets = append(sets, "completed_at = ?")
		args = append(args, *update.CompletedAt)
	}
	if len(sets) == 0 {
		return nil
	}
	sets = append(sets, "updated_at = CURRENT_TIMESTAMP")
	args = append(args, id)

	query := fmt.Sprintf("UPDATE executions SET %s WHERE id = ?", strings.Join(sets, ", "))
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "execution", id)
}

func (s *LibSQLStore) ListExecutions(ctx context.Context, filter ExecutionFilter) ([]*ExecutionRecord, error) {
	var where []string
	var args []any

	if filter.Status != nil {
		where = append(where, "status = ?")
		args = append(args, string(*filter.Status))
	}
	if filter.Since != nil {
		where = append(where, "started_at >= ?")
		args = append(args, *filter.Since)
	}

	query := `SELECT id, name, status, input, output, error, started_at, completed_at, updated_at FROM executions`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY started_at DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
		if filter.Offset > 0 {
			query += fmt.Sprintf(" OFFSET %d", filter.Offset)
		}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*ExecutionRecord
	for rows.Next() {
		rec := &ExecutionRecord{}
		var (
			name                  sql.NullString
			input, output, errRaw sql.NullString
			completedAt           sql.NullTime
			status                string
		)
		if err := rows.Scan(&rec.ID, &name, &status, &input, &output, &errRaw,
			&rec.StartedAt, &completedAt, &rec.UpdatedAt); err != nil {
			return nil, err
		}
		rec.Name = name.String
		rec.Status = asl.ExecutionStatus(status)
		rec.Input = rawOrNil(input)
		rec.Output = rawOrNil(output)
		rec.Error = rawOrNil(errRaw)
		if completedAt.Valid {
			rec.CompletedAt = &completedAt.Time
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func (s *LibSQLStore) DeleteExecution(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM history WHERE execution_id = ?`, id); err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM executions WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "execution", id)
}

// --- History ---

// AppendEvent appends one history event. Events arriving with a sequence
// already assigned (the interpreter's recorder stamps them) keep it; bare
// events get the next per-execution sequence inside a write transaction.
func (s *LibSQLStore) AppendEvent(ctx context.Context, ev *asl.HistoryEvent) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	seq := ev.Sequence
	if seq == 0 {
		err = tx.QueryRowContext(ctx,
			`SELECT COALESCE(MAX(sequence), 0) + 1 FROM history WHERE execution_id = ?`, ev.ExecutionID,
		).Scan(&seq)
		if err != nil {
			return fmt.Errorf("get next sequence: %w", err)
		}
		ev.Sequence = seq
	}

	ts := ev.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}

	input, err := marshalDoc(ev.Input)
	if err != nil {
		return fmt.Errorf("marshal event input: %w", err)
	}
	output, err := marshalDoc(ev.Output)
	if err != nil {
		return fmt.Errorf("marshal event output: %w", err)
	}
	var errJSON any
	if ev.Error != nil {
		b, err := json.Marshal(ev.Error)
		if err != nil {
			return fmt.Errorf("marshal event error: %w", err)
		}
		errJSON = string(b)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO history (execution_id, sequence, event_type, state, input, output, error, timestamp)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.ExecutionID, seq, ev.Type, nullStr(ev.State), input, output, errJSON, ts,
	)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit event: %w", err)
	}
	return nil
}

// Events returns the history of an execution with sequence > since, ordered
// by sequence ascending.
func (s *LibSQLStore) Events(ctx context.Context, executionID string, since int64) ([]*asl.HistoryEvent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT execution_id, sequence, event_type, state, input, output, error, timestamp
		 FROM history WHERE execution_id = ? AND sequence > ? ORDER BY sequence ASC`,
		executionID, since,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*asl.HistoryEvent
	for rows.Next() {
		ev := &asl.HistoryEvent{}
		var state, input, output, errJSON sql.NullString
		if err := rows.Scan(&ev.ExecutionID, &ev.Sequence, &ev.Type, &state, &input, &output, &errJSON, &ev.Timestamp); err != nil {
			return nil, err
		}
		ev.State = state.String
		if input.Valid && input.String != "" {
			_ = json.Unmarshal([]byte(input.String), &ev.Input)
		}
		if output.Valid && output.String != "" {
			_ = json.Unmarshal([]byte(output.String), &ev.Output)
		}
		if errJSON.Valid && errJSON.String != "" {
			var serr asl.StatesError
			if err := json.Unmarshal([]byte(errJSON.String), &serr); err == nil {
				ev.Error = &serr
			}
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// --- Helpers ---

func checkRowsAffected(res sql.Result, resource, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return notFound(resource, id)
	}
	return nil
}

func timeOrNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullRaw(r json.RawMessage) any {
	if len(r) == 0 {
		return nil
	}
	return string(r)
}

func rawOrNil(ns sql.NullString) json.RawMessage {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	return json.RawMessage(ns.String)
}

func marshalDoc(doc any) (any, error) {
	if doc == nil {
		return nil, nil
	}
	b, err := json.Marshal(doc)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}
