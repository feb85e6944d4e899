package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/distill-cli/internal/db"
	"github.com/sells-group/distill-cli/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// runItemColumns are the columns of the per-item table.
var runItemColumns = []string{"run_id", "position", "source", "content", "quality"}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS runs (
	id         TEXT PRIMARY KEY,
	data_type  TEXT NOT NULL,
	status     TEXT NOT NULL,
	teacher_id TEXT NOT NULL DEFAULT '',
	student_id TEXT NOT NULL DEFAULT '',
	request    JSONB NOT NULL,
	response   JSONB,
	error      TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS run_items (
	run_id   TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
	position INTEGER NOT NULL,
	source   TEXT NOT NULL,
	content  TEXT NOT NULL,
	quality  DOUBLE PRECISION NOT NULL,
	PRIMARY KEY (run_id, position)
);

CREATE TABLE IF NOT EXISTS pattern_cache (
	cache_key  TEXT PRIMARY KEY,
	data_type  TEXT NOT NULL,
	patterns   JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_runs_data_type ON runs(data_type);
CREATE INDEX IF NOT EXISTS idx_runs_created_at ON runs(created_at DESC);
CREATE INDEX IF NOT EXISTS idx_run_items_source ON run_items(run_id, source);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

// SaveRun upserts the run row and, when a response is present, its items.
func (s *PostgresStore) SaveRun(ctx context.Context, run *model.Run) error {
	if err := validateRun(run); err != nil {
		return err
	}
	requestJSON, err := json.Marshal(run.Request)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal request")
	}
	var responseJSON []byte
	if run.Response != nil {
		if responseJSON, err = json.Marshal(run.Response); err != nil {
			return eris.Wrap(err, "postgres: marshal response")
		}
	}
	createdAt := run.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO runs (id, data_type, status, teacher_id, student_id, request, response, error, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			teacher_id = EXCLUDED.teacher_id,
			student_id = EXCLUDED.student_id,
			response = EXCLUDED.response,
			error = EXCLUDED.error`,
		run.ID, string(run.Request.DataType), string(run.Status), run.TeacherID, run.StudentID,
		requestJSON, responseJSON, run.Error, createdAt.UTC(),
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: save run %s", run.ID)
	}

	if run.Response == nil || len(run.Response.Data) == 0 {
		return nil
	}
	rows := make([][]any, len(run.Response.Data))
	for i, item := range run.Response.Data {
		rows[i] = []any{run.ID, i, string(item.Source), item.Content, item.Quality}
	}
	if _, err := db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table:        "run_items",
		Columns:      runItemColumns,
		ConflictKeys: []string{"run_id", "position"},
	}, rows); err != nil {
		return eris.Wrapf(err, "postgres: save run items %s", run.ID)
	}
	return nil
}

func (s *PostgresStore) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, status, teacher_id, student_id, request, response, error, created_at FROM runs WHERE id = $1`,
		runID,
	)
	r, err := scanPostgresRun(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "postgres: get run %s", runID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get run %s", runID)
	}
	return r, nil
}

func (s *PostgresStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error) {
	query := `SELECT id, status, teacher_id, student_id, request, response, error, created_at FROM runs WHERE true`
	args := []any{}
	argIdx := 1

	if filter.DataType != "" {
		query += fmt.Sprintf(` AND data_type = $%d`, argIdx)
		args = append(args, string(filter.DataType))
		argIdx++
	}
	if filter.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, argIdx)
		args = append(args, string(filter.Status))
		argIdx++
	}
	if !filter.CreatedAfter.IsZero() {
		query += fmt.Sprintf(` AND created_at > $%d`, argIdx)
		args = append(args, filter.CreatedAfter.UTC())
		argIdx++
	}
	query += fmt.Sprintf(` ORDER BY created_at DESC, id ASC LIMIT $%d`, argIdx)
	args = append(args, filter.limit())
	argIdx++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list runs")
	}
	defer rows.Close()

	var runs []model.Run
	for rows.Next() {
		r, err := scanPostgresRun(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan run")
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "postgres: list runs iterate")
}

func (s *PostgresStore) GetPatterns(ctx context.Context, cacheKey string) ([]model.KnowledgePattern, error) {
	var patternsJSON []byte
	err := s.pool.QueryRow(ctx,
		`SELECT patterns FROM pattern_cache WHERE cache_key = $1`, cacheKey,
	).Scan(&patternsJSON)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get patterns")
	}

	var patterns []model.KnowledgePattern
	if err := json.Unmarshal(patternsJSON, &patterns); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal patterns")
	}
	return patterns, nil
}

func (s *PostgresStore) SetPatterns(ctx context.Context, cacheKey string, dataType model.DataType, patterns []model.KnowledgePattern) error {
	if patterns == nil {
		patterns = []model.KnowledgePattern{}
	}
	patternsJSON, err := json.Marshal(patterns)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal patterns")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO pattern_cache (cache_key, data_type, patterns, updated_at) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (cache_key) DO UPDATE SET
			data_type = EXCLUDED.data_type,
			patterns = EXCLUDED.patterns,
			updated_at = EXCLUDED.updated_at`,
		cacheKey, string(dataType), patternsJSON, time.Now().UTC(),
	)
	return eris.Wrap(err, "postgres: set patterns")
}

func scanPostgresRun(row scannable) (*model.Run, error) {
	var r model.Run
	var requestJSON []byte
	var responseJSON *[]byte

	if err := row.Scan(&r.ID, &r.Status, &r.TeacherID, &r.StudentID, &requestJSON, &responseJSON, &r.Error, &r.CreatedAt); err != nil {
		return nil, err
	}
	var response []byte
	if responseJSON != nil {
		response = *responseJSON
	}
	if err := decodeRun(&r, requestJSON, response); err != nil {
		return nil, eris.Wrap(err, "postgres: decode run")
	}
	return &r, nil
}
