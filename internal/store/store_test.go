package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/distill-cli/internal/config"
	"github.com/sells-group/distill-cli/internal/model"
)

func newTestSQLite(t *testing.T) Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	s, err := NewSQLite(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() }) //nolint:errcheck
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

func newTestMemory(*testing.T) Store {
	return NewMemory()
}

func testRun(id string, dataType model.DataType, created time.Time) *model.Run {
	return &model.Run{
		ID: id,
		Request: model.GenerationRequest{
			Keywords:         []string{"finance"},
			DataType:         dataType,
			Quantity:         10,
			QualityThreshold: 0.8,
			Strategy:         model.StrategyResponseBased,
		},
		TeacherID: "claude",
		StudentID: "gpt-3.5",
		Status:    model.RunStatusComplete,
		CreatedAt: created,
	}
}

func storeTestSuite(t *testing.T, newStore func(t *testing.T) Store) {
	base := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	t.Run("SaveAndGetRun", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		run := testRun("run-1", model.DataTypeQA, base)
		run.Response = &model.GenerationResponse{
			ID:           "run-1",
			Data:         []model.DataItem{{Content: "q?", Source: model.SourceTeacher, Quality: 0.9}},
			QualityScore: 0.85,
			Cost:         0.12,
			ModelUsed:    "claude + gpt-3.5",
			Metadata:     model.ResponseMetadata{TeacherExamples: 1},
		}
		require.NoError(t, s.SaveRun(ctx, run))

		got, err := s.GetRun(ctx, "run-1")
		require.NoError(t, err)
		assert.Equal(t, "run-1", got.ID)
		assert.Equal(t, model.RunStatusComplete, got.Status)
		assert.Equal(t, "claude", got.TeacherID)
		assert.Equal(t, run.Request.Keywords, got.Request.Keywords)
		assert.True(t, base.Equal(got.CreatedAt))
		require.NotNil(t, got.Response)
		assert.InDelta(t, 0.85, got.Response.QualityScore, 1e-9)
		assert.Equal(t, 1, got.Response.Metadata.TeacherExamples)
		require.Len(t, got.Response.Data, 1)
		assert.Equal(t, model.SourceTeacher, got.Response.Data[0].Source)
	})

	t.Run("SaveRunOverwrites", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		run := testRun("run-1", model.DataTypeQA, base)
		run.Status = model.RunStatusFailed
		run.Error = "teacher down"
		require.NoError(t, s.SaveRun(ctx, run))

		run.Status = model.RunStatusComplete
		run.Error = ""
		require.NoError(t, s.SaveRun(ctx, run))

		got, err := s.GetRun(ctx, "run-1")
		require.NoError(t, err)
		assert.Equal(t, model.RunStatusComplete, got.Status)
		assert.Empty(t, got.Error)
		assert.Nil(t, got.Response)
	})

	t.Run("SaveRunRequiresID", func(t *testing.T) {
		s := newStore(t)
		require.Error(t, s.SaveRun(context.Background(), &model.Run{}))
		require.Error(t, s.SaveRun(context.Background(), nil))
	})

	t.Run("GetRunNotFound", func(t *testing.T) {
		s := newStore(t)
		_, err := s.GetRun(context.Background(), "missing")
		require.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("ListRuns", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		require.NoError(t, s.SaveRun(ctx, testRun("a", model.DataTypeQA, base)))
		require.NoError(t, s.SaveRun(ctx, testRun("b", model.DataTypeCode, base.Add(time.Hour))))
		require.NoError(t, s.SaveRun(ctx, testRun("c", model.DataTypeQA, base.Add(2*time.Hour))))

		runs, err := s.ListRuns(ctx, RunFilter{})
		require.NoError(t, err)
		require.Len(t, runs, 3)
		assert.Equal(t, "c", runs[0].ID, "newest first")
		assert.Equal(t, "a", runs[2].ID)

		runs, err = s.ListRuns(ctx, RunFilter{DataType: model.DataTypeQA})
		require.NoError(t, err)
		require.Len(t, runs, 2)
		assert.Equal(t, "c", runs[0].ID)

		runs, err = s.ListRuns(ctx, RunFilter{CreatedAfter: base.Add(30 * time.Minute)})
		require.NoError(t, err)
		assert.Len(t, runs, 2)

		runs, err = s.ListRuns(ctx, RunFilter{Limit: 1, Offset: 1})
		require.NoError(t, err)
		require.Len(t, runs, 1)
		assert.Equal(t, "b", runs[0].ID)

		runs, err = s.ListRuns(ctx, RunFilter{Status: model.RunStatusFailed})
		require.NoError(t, err)
		assert.Empty(t, runs)
	})

	t.Run("PatternCache", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		got, err := s.GetPatterns(ctx, "qa:abc")
		require.NoError(t, err)
		assert.Nil(t, got)

		first := []model.KnowledgePattern{{PatternID: "format_json", PatternType: model.PatternFormat, Confidence: 0.9, Keywords: []string{"go"}}}
		require.NoError(t, s.SetPatterns(ctx, "qa:abc", model.DataTypeQA, first))

		got, err = s.GetPatterns(ctx, "qa:abc")
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, "format_json", got[0].PatternID)
		assert.InDelta(t, 0.9, got[0].Confidence, 1e-9)
		assert.Equal(t, []string{"go"}, got[0].Keywords)

		second := []model.KnowledgePattern{{PatternID: "style_casual"}, {PatternID: "struct_1a2b3c4d"}}
		require.NoError(t, s.SetPatterns(ctx, "qa:abc", model.DataTypeQA, second))
		got, err = s.GetPatterns(ctx, "qa:abc")
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, "style_casual", got[0].PatternID)
	})

	t.Run("EmptyPatternsAreAHit", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		require.NoError(t, s.SetPatterns(ctx, "k", model.DataTypeQA, nil))
		got, err := s.GetPatterns(ctx, "k")
		require.NoError(t, err)
		assert.Empty(t, got)
	})
}

func TestMemoryStore(t *testing.T) {
	storeTestSuite(t, newTestMemory)
}

func TestSQLiteStore(t *testing.T) {
	storeTestSuite(t, newTestSQLite)
}

func TestSQLite_Migrate_Idempotent(t *testing.T) {
	s := newTestSQLite(t)
	require.NoError(t, s.Migrate(context.Background()))
}

func TestNewSQLite_InvalidDSN(t *testing.T) {
	_, err := NewSQLite(filepath.Join(t.TempDir(), "missing", "dir", "test.db"))
	require.Error(t, err)
}

func TestMemoryStore_ReturnsCopies(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()

	patterns := []model.KnowledgePattern{{PatternID: "a"}}
	require.NoError(t, s.SetPatterns(ctx, "k", model.DataTypeQA, patterns))
	patterns[0].PatternID = "mutated"

	got, err := s.GetPatterns(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "a", got[0].PatternID)
}

func TestOpen(t *testing.T) {
	ctx := context.Background()

	st, err := Open(ctx, config.StoreConfig{})
	require.NoError(t, err)
	assert.IsType(t, &MemoryStore{}, st)

	st, err = Open(ctx, config.StoreConfig{Driver: "sqlite", DatabaseURL: filepath.Join(t.TempDir(), "open.db")})
	require.NoError(t, err)
	assert.IsType(t, &SQLiteStore{}, st)
	require.NoError(t, st.Close())

	_, err = Open(ctx, config.StoreConfig{Driver: "mongo"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown driver")
}
