package store

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/distill-cli/internal/model"
)

// newMockPostgresStore creates a PostgresStore backed by pgxmock for unit testing.
func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	s := &PostgresStore{pool: mock}
	return s, mock
}

var runColumns = []string{"id", "status", "teacher_id", "student_id", "request", "response", "error", "created_at"}

func TestPostgresStore_GetRun_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT id, status, teacher_id, student_id, request, response, error, created_at FROM runs WHERE id = \$1`).
		WithArgs("nonexistent-run").
		WillReturnError(pgx.ErrNoRows)

	_, err := s.GetRun(context.Background(), "nonexistent-run")
	require.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetRun(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	created := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	request, _ := json.Marshal(model.GenerationRequest{Keywords: []string{"go"}, DataType: model.DataTypeCode, Quantity: 20})
	response := []byte(`{"id":"run-1","quality_score":0.9,"data":[]}`)

	mock.ExpectQuery(`FROM runs WHERE id = \$1`).
		WithArgs("run-1").
		WillReturnRows(pgxmock.NewRows(runColumns).
			AddRow("run-1", model.RunStatusComplete, "claude", "haiku", request, &response, "", created))

	got, err := s.GetRun(context.Background(), "run-1")
	require.NoError(t, err)
	assert.Equal(t, model.DataTypeCode, got.Request.DataType)
	assert.Equal(t, "haiku", got.StudentID)
	require.NotNil(t, got.Response)
	assert.InDelta(t, 0.9, got.Response.QualityScore, 1e-9)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SaveRun_NoResponse(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`INSERT INTO runs .* ON CONFLICT \(id\) DO UPDATE`).
		WithArgs("run-1", "qa", "failed", "claude", "haiku",
			pgxmock.AnyArg(), pgxmock.AnyArg(), "boom", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	run := testRun("run-1", model.DataTypeQA, time.Now())
	run.StudentID = "haiku"
	run.Status = model.RunStatusFailed
	run.Error = "boom"
	require.NoError(t, s.SaveRun(context.Background(), run))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SaveRun_WithItems(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`INSERT INTO runs`).
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectBegin()
	mock.ExpectExec(`CREATE TEMP TABLE`).WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_tmp_upsert_run_items"}, runItemColumns).WillReturnResult(2)
	mock.ExpectExec(`INSERT INTO "run_items"`).WillReturnResult(pgxmock.NewResult("INSERT", 2))
	mock.ExpectCommit()

	run := testRun("run-1", model.DataTypeQA, time.Now())
	run.Response = &model.GenerationResponse{Data: []model.DataItem{
		{Content: "a", Source: model.SourceTeacher, Quality: 0.9},
		{Content: "b", Source: model.SourceStudent, Quality: 0.7},
	}}
	require.NoError(t, s.SaveRun(context.Background(), run))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListRuns_Filters(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	after := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	mock.ExpectQuery(`WHERE true AND data_type = \$1 AND created_at > \$2 ORDER BY created_at DESC, id ASC LIMIT \$3 OFFSET \$4`).
		WithArgs("qa", after, 5, 10).
		WillReturnRows(pgxmock.NewRows(runColumns))

	runs, err := s.ListRuns(context.Background(), RunFilter{DataType: model.DataTypeQA, CreatedAfter: after, Limit: 5, Offset: 10})
	require.NoError(t, err)
	assert.Empty(t, runs)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetPatterns_Miss(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT patterns FROM pattern_cache`).
		WithArgs("qa:unknown").
		WillReturnError(pgx.ErrNoRows)

	got, err := s.GetPatterns(context.Background(), "qa:unknown")
	require.NoError(t, err)
	assert.Nil(t, got)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetPatterns_Hit(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT patterns FROM pattern_cache`).
		WithArgs("qa:abc").
		WillReturnRows(pgxmock.NewRows([]string{"patterns"}).
			AddRow([]byte(`[{"pattern_id":"format_json","pattern_type":"format","confidence":0.9}]`)))

	got, err := s.GetPatterns(context.Background(), "qa:abc")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, model.PatternFormat, got[0].PatternType)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SetPatterns_Upsert(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`ON CONFLICT \(cache_key\)`).
		WithArgs("qa:abc", "qa", pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := s.SetPatterns(context.Background(), "qa:abc", model.DataTypeQA, []model.KnowledgePattern{{PatternID: "style_casual"}})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Migrate(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS runs`).WillReturnResult(pgxmock.NewResult("CREATE", 0))
	require.NoError(t, s.Migrate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}
