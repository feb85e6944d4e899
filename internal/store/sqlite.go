package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/distill-cli/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS runs (
	id         TEXT PRIMARY KEY,
	data_type  TEXT NOT NULL,
	status     TEXT NOT NULL,
	teacher_id TEXT NOT NULL DEFAULT '',
	student_id TEXT NOT NULL DEFAULT '',
	request    TEXT NOT NULL,
	response   TEXT,
	error      TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS pattern_cache (
	cache_key  TEXT PRIMARY KEY,
	data_type  TEXT NOT NULL,
	patterns   TEXT NOT NULL,
	updated_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_runs_data_type ON runs(data_type);
CREATE INDEX IF NOT EXISTS idx_runs_created_at ON runs(created_at);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) SaveRun(ctx context.Context, run *model.Run) error {
	if err := validateRun(run); err != nil {
		return err
	}
	requestJSON, err := json.Marshal(run.Request)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal request")
	}
	var responseJSON sql.NullString
	if run.Response != nil {
		b, err := json.Marshal(run.Response)
		if err != nil {
			return eris.Wrap(err, "sqlite: marshal response")
		}
		responseJSON = sql.NullString{String: string(b), Valid: true}
	}
	createdAt := run.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO runs (id, data_type, status, teacher_id, student_id, request, response, error, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			teacher_id = excluded.teacher_id,
			student_id = excluded.student_id,
			response = excluded.response,
			error = excluded.error`,
		run.ID, string(run.Request.DataType), string(run.Status), run.TeacherID, run.StudentID,
		string(requestJSON), responseJSON, run.Error, createdAt.UTC(),
	)
	return eris.Wrapf(err, "sqlite: save run %s", run.ID)
}

func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, status, teacher_id, student_id, request, response, error, created_at FROM runs WHERE id = ?`,
		runID,
	)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "sqlite: get run %s", runID)
	}
	return r, err
}

func (s *SQLiteStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error) {
	query := `SELECT id, status, teacher_id, student_id, request, response, error, created_at FROM runs WHERE 1=1`
	var args []any

	if filter.DataType != "" {
		query += ` AND data_type = ?`
		args = append(args, string(filter.DataType))
	}
	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	if !filter.CreatedAfter.IsZero() {
		query += ` AND created_at > ?`
		args = append(args, filter.CreatedAfter.UTC())
	}
	query += ` ORDER BY created_at DESC, id ASC LIMIT ?`
	args = append(args, filter.limit())

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close()

	var runs []model.Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: list runs iterate")
}

func (s *SQLiteStore) GetPatterns(ctx context.Context, cacheKey string) ([]model.KnowledgePattern, error) {
	var patternsJSON string
	err := s.db.QueryRowContext(ctx,
		`SELECT patterns FROM pattern_cache WHERE cache_key = ?`, cacheKey,
	).Scan(&patternsJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get patterns")
	}

	var patterns []model.KnowledgePattern
	if err := json.Unmarshal([]byte(patternsJSON), &patterns); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal patterns")
	}
	return patterns, nil
}

func (s *SQLiteStore) SetPatterns(ctx context.Context, cacheKey string, dataType model.DataType, patterns []model.KnowledgePattern) error {
	if patterns == nil {
		patterns = []model.KnowledgePattern{}
	}
	patternsJSON, err := json.Marshal(patterns)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal patterns")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO pattern_cache (cache_key, data_type, patterns, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(cache_key) DO UPDATE SET
			data_type = excluded.data_type,
			patterns = excluded.patterns,
			updated_at = excluded.updated_at`,
		cacheKey, string(dataType), string(patternsJSON), time.Now().UTC(),
	)
	return eris.Wrap(err, "sqlite: set patterns")
}

// helpers

type scannable interface {
	Scan(dest ...any) error
}

func scanRun(row scannable) (*model.Run, error) {
	var r model.Run
	var requestJSON string
	var responseJSON sql.NullString

	err := row.Scan(&r.ID, &r.Status, &r.TeacherID, &r.StudentID, &requestJSON, &responseJSON, &r.Error, &r.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan run")
	}
	if err := decodeRun(&r, []byte(requestJSON), nullBytes(responseJSON)); err != nil {
		return nil, eris.Wrap(err, "sqlite: decode run")
	}
	return &r, nil
}

func nullBytes(s sql.NullString) []byte {
	if !s.Valid {
		return nil
	}
	return []byte(s.String)
}

// decodeRun fills the JSON columns shared by the SQL backends.
func decodeRun(r *model.Run, request, response []byte) error {
	if err := json.Unmarshal(request, &r.Request); err != nil {
		return eris.Wrap(err, "unmarshal request")
	}
	if len(response) > 0 {
		r.Response = &model.GenerationResponse{}
		if err := json.Unmarshal(response, r.Response); err != nil {
			return eris.Wrap(err, "unmarshal response")
		}
	}
	return nil
}
