package handler

import (
	"encoding/json"
	stderrors "errors"
	"net/http"

	"github.com/pesio-ai/be-plot-transfers/internal/platform/errors"
	"github.com/pesio-ai/be-plot-transfers/internal/workflow"
)

// errorBody is the failure payload of every endpoint.
type errorBody struct {
	Kind     string         `json:"kind"`
	Reason   string         `json:"reason"`
	Metadata map[string]any `json:"metadata,omitempty"`
	From     string         `json:"from_stage,omitempty"`
	To       string         `json:"to_stage,omitempty"`
}

var transitionStatus = map[workflow.Kind]int{
	workflow.KindInvalidTransition: http.StatusConflict,
	workflow.KindGuardRejected:     http.StatusUnprocessableEntity,
	workflow.KindUnauthorized:      http.StatusForbidden,
	workflow.KindNotFound:          http.StatusNotFound,
}

var codeStatus = map[errors.Code]int{
	errors.ErrCodeNotFound:     http.StatusNotFound,
	errors.ErrCodeInvalidInput: http.StatusBadRequest,
	errors.ErrCodeExists:       http.StatusConflict,
	errors.ErrCodeConflict:     http.StatusServiceUnavailable,
	errors.ErrCodeUnavailable:  http.StatusServiceUnavailable,
	errors.ErrCodeUnauthorized: http.StatusUnauthorized,
	errors.ErrCodeForbidden:    http.StatusForbidden,
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (h *HTTPHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	if te, ok := workflow.AsTransitionError(err); ok {
		status, known := transitionStatus[te.Kind]
		if !known {
			status = http.StatusInternalServerError
		}
		writeJSON(w, status, errorBody{
			Kind:     string(te.Kind),
			Reason:   te.Reason,
			Metadata: te.Metadata,
			From:     te.From,
			To:       te.To,
		})
		return
	}

	code := errors.CodeOf(err)
	status, known := codeStatus[code]
	if !known {
		h.log.Error().
			Err(err).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Msg("Request failed")
		writeJSON(w, http.StatusInternalServerError, errorBody{Kind: string(errors.ErrCodeInternal), Reason: "internal error"})
		return
	}
	if errors.IsRetryable(err) {
		w.Header().Set("Retry-After", "1")
	}

	body := errorBody{Kind: string(code), Reason: err.Error()}
	var coded *errors.Error
	if stderrors.As(err, &coded) {
		body.Reason = coded.Message
		if len(coded.Details) > 0 {
			body.Metadata = make(map[string]any, len(coded.Details))
			for k, v := range coded.Details {
				body.Metadata[k] = v
			}
		}
	}
	writeJSON(w, status, body)
}
