package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/sells-group/distill-cli/internal/cost"
	"github.com/sells-group/distill-cli/internal/model"
	"github.com/sells-group/distill-cli/internal/pipeline"
	"github.com/sells-group/distill-cli/internal/store"
)

type errorBody struct {
	Error   string `json:"error"`
	Code    string `json:"code"`
	Field   string `json:"field,omitempty"`
	Details any    `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Warn("api: encode response", zap.Error(err))
	}
}

func badRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, errorBody{Error: msg, Code: "bad_request"})
}

// writeError maps domain errors onto HTTP statuses.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		reqErr     *model.RequestError
		pairErr    *pipeline.UnknownPairError
		budgetErr  *pipeline.BudgetExceededError
		noProvider *cost.NoViableProviderError
		noAlloc    *cost.NoViableAllocationError
		status     int
		body       errorBody
	)

	switch {
	case errors.As(err, &reqErr):
		status = http.StatusBadRequest
		body = errorBody{Error: reqErr.Error(), Code: "invalid_request", Field: reqErr.Field}
	case errors.As(err, &pairErr):
		status = http.StatusNotFound
		body = errorBody{Error: pairErr.Error(), Code: "unknown_pair"}
	case errors.Is(err, store.ErrNotFound):
		status = http.StatusNotFound
		body = errorBody{Error: "dataset not found", Code: "not_found"}
	case errors.As(err, &budgetErr):
		status = http.StatusPaymentRequired
		body = errorBody{Error: budgetErr.Error(), Code: "budget_exceeded", Details: budgetErr.Status}
	case errors.As(err, &noProvider):
		status = http.StatusUnprocessableEntity
		body = errorBody{Error: noProvider.Error(), Code: "no_viable_provider", Details: noProvider.Rejections}
	case errors.As(err, &noAlloc):
		status = http.StatusUnprocessableEntity
		body = errorBody{Error: noAlloc.Error(), Code: "no_viable_allocation", Details: noAlloc.Reasons}
	default:
		status = http.StatusInternalServerError
		body = errorBody{Error: "internal error", Code: "internal"}
	}

	log := zap.L().With(
		zap.String("path", r.URL.Path),
		zap.Int("status", status),
		zap.Error(err),
	)
	if status >= http.StatusInternalServerError {
		log.Error("api: request failed")
	} else {
		log.Info("api: request rejected")
	}
	writeJSON(w, status, body)
}
