package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/sells-group/distill-cli/internal/batch"
	"github.com/sells-group/distill-cli/internal/model"
)

const defaultMaxBatchRequests = 10

type batchRequest struct {
	Requests model.Requests `json:"requests"`
	Parallel *bool          `json:"parallel_execution,omitempty"`
	Teacher  string         `json:"teacher,omitempty"`
	Student  string         `json:"student,omitempty"`
}

func (s *Server) maxBatchRequests() int {
	if s.batch.MaxRequests > 0 {
		return s.batch.MaxRequests
	}
	return defaultMaxBatchRequests
}

func (s *Server) handleBatch(w http.ResponseWriter, r *http.Request) {
	var body batchRequest
	if !decode(w, r, &body) {
		return
	}

	limit := s.maxBatchRequests()
	if n := len(body.Requests); n == 0 || n > limit {
		badRequest(w, fmt.Sprintf("requests must hold between 1 and %d entries", limit))
		return
	}
	for i, req := range body.Requests {
		if err := req.WithDefaults().Validate(); err != nil {
			eb := errorBody{Error: fmt.Sprintf("request %d: %s", i, err), Code: "invalid_request"}
			var reqErr *model.RequestError
			if errors.As(err, &reqErr) {
				eb.Field = reqErr.Field
			}
			writeJSON(w, http.StatusBadRequest, eb)
			return
		}
	}

	pin, ok := pinnedPair(w, body.Teacher, body.Student)
	if !ok {
		return
	}

	opts := batch.Options{
		Parallel:    body.Parallel == nil || *body.Parallel,
		Concurrency: s.batch.MaxConcurrentRuns,
		Pair:        pin,
	}
	zap.L().Info("api: batch",
		zap.String("request_id", middleware.GetReqID(r.Context())),
		zap.Int("requests", len(body.Requests)),
		zap.Bool("parallel", opts.Parallel),
	)

	res, err := batch.Run(r.Context(), s.mgr, body.Requests, opts)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
