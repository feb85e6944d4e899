package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/sells-group/distill-cli/internal/cost"
	"github.com/sells-group/distill-cli/internal/export"
	"github.com/sells-group/distill-cli/internal/model"
	"github.com/sells-group/distill-cli/internal/pipeline"
	"github.com/sells-group/distill-cli/internal/store"
)

const (
	apiVersion       = "1.0.0"
	defaultPageLimit = 20
	maxPageLimit     = 200
)

// generateRequest is a GenerationRequest optionally pinned to a pair.
type generateRequest struct {
	model.GenerationRequest
	Teacher string `json:"teacher,omitempty"`
	Student string `json:"student,omitempty"`
}

type optimizeRequest struct {
	Request  model.GenerationRequest `json:"request"`
	Strategy string                  `json:"strategy,omitempty"`
	Budget   *cost.Budget            `json:"budget,omitempty"`
}

type runSummary struct {
	ID           string          `json:"id"`
	Status       model.RunStatus `json:"status"`
	DataType     model.DataType  `json:"data_type"`
	Keywords     []string        `json:"keywords"`
	Quantity     int             `json:"quantity"`
	Items        int             `json:"items"`
	QualityScore float64         `json:"quality_score"`
	Cost         float64         `json:"cost"`
	TeacherID    string          `json:"teacher_id"`
	StudentID    string          `json:"student_id"`
	Error        string          `json:"error,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
}

func summarize(r model.Run) runSummary {
	s := runSummary{
		ID:        r.ID,
		Status:    r.Status,
		DataType:  r.Request.DataType,
		Keywords:  r.Request.Keywords,
		Quantity:  r.Request.Quantity,
		TeacherID: r.TeacherID,
		StudentID: r.StudentID,
		Error:     r.Error,
		CreatedAt: r.CreatedAt,
	}
	if r.Response != nil {
		s.Items = len(r.Response.Data)
		s.QualityScore = r.Response.QualityScore
		s.Cost = r.Response.Cost
	}
	return s
}

func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		badRequest(w, "invalid request body: "+err.Error())
		return false
	}
	return true
}

// pinnedPair returns the pair named by teacher and student, or nil when
// both are empty. It writes a 400 and reports false when only one is set.
func pinnedPair(w http.ResponseWriter, teacher, student string) (*pipeline.PairKey, bool) {
	switch {
	case teacher != "" && student != "":
		return &pipeline.PairKey{TeacherID: teacher, StudentID: student}, true
	case teacher != "" || student != "":
		badRequest(w, "teacher and student must be given together")
		return nil, false
	}
	return nil, true
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "healthy",
		"version":   apiVersion,
		"pairs":     len(s.mgr.Pairs()),
		"uptime":    time.Since(s.started).Round(time.Second).String(),
		"timestamp": time.Now().UTC(),
	})
}

func (s *Server) handleProviders(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"providers": s.mgr.Providers(),
		"pairs":     s.mgr.Pairs(),
	})
}

func (s *Server) handleDataTypes(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"data_types": dataTypes})
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"service_status": "healthy",
		"system":         s.mgr.Status(),
		"timestamp":      time.Now().UTC(),
	})
}

func (s *Server) handleAnalytics(w http.ResponseWriter, r *http.Request) {
	hours := s.lookback
	if v := r.URL.Query().Get("hours"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			badRequest(w, "hours must be a non-negative integer")
			return
		}
		hours = n
	}
	snap, err := s.collector.Collect(r.Context(), hours)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	body := generateRequest{GenerationRequest: model.NewRequest()}
	if !decode(w, r, &body) {
		return
	}

	pin, ok := pinnedPair(w, body.Teacher, body.Student)
	if !ok {
		return
	}
	opts := pipeline.GenerateOptions{Pair: pin}

	zap.L().Info("api: generate",
		zap.String("request_id", middleware.GetReqID(r.Context())),
		zap.String("data_type", string(body.DataType)),
		zap.Int("quantity", body.Quantity),
	)
	run, err := s.mgr.Generate(r.Context(), body.GenerationRequest, opts)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (s *Server) handleListDatasets(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.RunFilter{
		DataType: model.DataType(q.Get("data_type")),
		Status:   model.RunStatus(q.Get("status")),
		Limit:    defaultPageLimit,
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			badRequest(w, "limit must be a positive integer")
			return
		}
		filter.Limit = min(n, maxPageLimit)
	}
	if v := q.Get("skip"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			badRequest(w, "skip must be a non-negative integer")
			return
		}
		filter.Offset = n
	}

	runs, err := s.mgr.Store().ListRuns(r.Context(), filter)
	if err != nil {
		writeError(w, r, err)
		return
	}
	out := make([]runSummary, len(runs))
	for i, run := range runs {
		out[i] = summarize(run)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"datasets": out,
		"limit":    filter.Limit,
		"skip":     filter.Offset,
	})
}

func (s *Server) handleGetDataset(w http.ResponseWriter, r *http.Request) {
	run, err := s.mgr.Store().GetRun(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	format := export.FormatJSON
	if v := q.Get("format"); v != "" {
		f, err := export.ParseFormat(v)
		if err != nil {
			badRequest(w, err.Error())
			return
		}
		format = f
	}
	includeMeta := true
	if v := q.Get("include_metadata"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			badRequest(w, "include_metadata must be a boolean")
			return
		}
		includeMeta = b
	}

	run, err := s.mgr.Store().GetRun(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if run.Response == nil {
		writeJSON(w, http.StatusConflict, errorBody{
			Error: "dataset has no generated data",
			Code:  "no_data",
		})
		return
	}

	var buf bytes.Buffer
	if err := export.Write(&buf, run, format, export.Options{IncludeMetadata: includeMeta}); err != nil {
		writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", export.ContentType(format))
	w.Header().Set("Content-Disposition", `attachment; filename="`+export.Filename(run.ID, format)+`"`)
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.WriteHeader(http.StatusOK)
	if _, err := buf.WriteTo(w); err != nil {
		zap.L().Warn("api: write export", zap.String("run_id", run.ID), zap.Error(err))
	}
}

func (s *Server) handleOptimize(w http.ResponseWriter, r *http.Request) {
	body := optimizeRequest{Request: model.NewRequest()}
	if !decode(w, r, &body) {
		return
	}
	if body.Strategy != "" {
		if _, err := cost.ParseStrategy(body.Strategy); err != nil {
			badRequest(w, err.Error())
			return
		}
	}
	out, err := s.mgr.Optimize(body.Request, body.Strategy, body.Budget)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

type dataTypeInfo struct {
	ID          model.DataType `json:"id"`
	Name        string         `json:"name"`
	Description string         `json:"description"`
}

var dataTypes = []dataTypeInfo{
	{model.DataTypeQA, "Question answering", "FAQ pairs, dialogue and knowledge QA"},
	{model.DataTypeClassification, "Text classification", "Topic, sentiment and intent labels"},
	{model.DataTypeGeneration, "Text generation", "Product copy, creative writing and docs"},
	{model.DataTypeCode, "Code generation", "Programming problems, solutions and completions"},
	{model.DataTypeTranslation, "Translation pairs", "Parallel sentences for translation training"},
	{model.DataTypeNER, "Entity recognition", "Entities, relations and extraction targets"},
}
