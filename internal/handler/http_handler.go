package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pesio-ai/be-plot-transfers/internal/platform/errors"
	"github.com/pesio-ai/be-plot-transfers/internal/platform/logger"
	"github.com/pesio-ai/be-plot-transfers/internal/repository"
	"github.com/pesio-ai/be-plot-transfers/internal/service"
)

const maxBodyBytes = 1 << 20

// Options tunes the HTTP surface.
type Options struct {
	Auth           AuthConfig
	RateLimit      int           // requests per window per IP on mutating routes; 0 disables
	RateWindow     time.Duration
	RequestTimeout time.Duration
	// Ready reports dependency health on /health. Optional.
	Ready func(ctx context.Context) error
}

// HTTPHandler handles HTTP requests
type HTTPHandler struct {
	service *service.CaseService
	auth    AuthConfig
	opts    Options
	log     *logger.Logger
}

// NewHTTPHandler creates a new HTTP handler
func NewHTTPHandler(svc *service.CaseService, opts Options, log *logger.Logger) *HTTPHandler {
	if opts.RateWindow <= 0 {
		opts.RateWindow = time.Minute
	}
	return &HTTPHandler{
		service: svc,
		auth:    opts.Auth,
		opts:    opts,
		log:     log.WithComponent("http"),
	}
}

// Routes builds the router.
func (h *HTTPHandler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(h.requestLogger)
	r.Use(middleware.Recoverer)
	if h.opts.RequestTimeout > 0 {
		r.Use(middleware.Timeout(h.opts.RequestTimeout))
	}

	r.Get("/health", h.Health)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(h.authenticate)

		r.Get("/stages", h.ListStages)
		r.Get("/cases/{caseID}", h.GetCase)
		r.Get("/cases/{caseID}/transitions", h.PreviewTransitions)
		r.Get("/cases/{caseID}/history", h.GetHistory)

		r.Group(func(r chi.Router) {
			if h.opts.RateLimit > 0 {
				r.Use(h.rateLimit())
			}
			r.Post("/cases", h.CreateCase)
			r.Post("/cases/{caseID}/transitions", h.ExecuteTransition)
			r.Post("/cases/{caseID}/send-back", h.SendBack)
			r.Put("/cases/{caseID}/reviews/{section}", h.RecordReview)
			r.Put("/cases/{caseID}/clearances/{section}", h.RecordClearance)
			r.Put("/cases/{caseID}/accounts", h.SaveAccounts)
			r.Post("/cases/{caseID}/documents", h.AttachDocument)
			r.Put("/cases/{caseID}/status", h.UpdateStatus)
			r.Post("/admin/workflow/reload", h.ReloadWorkflow)
		})
	})

	return r
}

func (h *HTTPHandler) rateLimit() func(http.Handler) http.Handler {
	window := h.opts.RateWindow
	return httprate.Limit(
		h.opts.RateLimit,
		window,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Retry-After", fmt.Sprintf("%d", int(window.Seconds())))
			writeJSON(w, http.StatusTooManyRequests, errorBody{Kind: "RATE_LIMITED", Reason: "too many requests"})
		}),
	)
}

func (h *HTTPHandler) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		h.log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("HTTP request")
	})
}

// decode reads a JSON body into v.
func decode(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return errors.InvalidInput("body", "invalid request body: "+err.Error())
	}
	return nil
}

// stageCodes maps stage IDs to codes for responses.
func (h *HTTPHandler) stageCodes() (map[string]string, error) {
	stages, err := h.service.Stages()
	if err != nil {
		return nil, err
	}
	codes := make(map[string]string, len(stages))
	for _, s := range stages {
		codes[s.ID] = s.Code
	}
	return codes, nil
}

func (h *HTTPHandler) writeCase(w http.ResponseWriter, r *http.Request, status int, c *repository.Case) {
	codes, err := h.stageCodes()
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, status, newCaseView(c, codes))
}

// Health handles liveness HTTP requests
func (h *HTTPHandler) Health(w http.ResponseWriter, r *http.Request) {
	if h.opts.Ready != nil {
		if err := h.opts.Ready(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ListStages handles stage catalogue HTTP requests
func (h *HTTPHandler) ListStages(w http.ResponseWriter, r *http.Request) {
	stages, err := h.service.Stages()
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	out := make([]stageView, 0, len(stages))
	for _, s := range stages {
		out = append(out, stageView{Code: s.Code, Name: s.Name, SortOrder: s.SortOrder})
	}
	writeJSON(w, http.StatusOK, map[string]any{"stages": out})
}

// CreateCase handles intake HTTP requests
func (h *HTTPHandler) CreateCase(w http.ResponseWriter, r *http.Request) {
	var req struct {
		FileNo  string `json:"file_no"`
		PlotNo  string `json:"plot_no"`
		Remarks string `json:"remarks"`
	}
	if err := decode(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	c, err := h.service.CreateCase(r.Context(), &service.CreateCaseRequest{
		FileNo:  req.FileNo,
		PlotNo:  req.PlotNo,
		Remarks: req.Remarks,
		Actor:   ActorFromContext(r.Context()),
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeCase(w, r, http.StatusCreated, c)
}

// GetCase handles get case HTTP requests
func (h *HTTPHandler) GetCase(w http.ResponseWriter, r *http.Request) {
	c, err := h.service.GetCase(r.Context(), chi.URLParam(r, "caseID"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeCase(w, r, http.StatusOK, c)
}

// PreviewTransitions handles dry-run HTTP requests
func (h *HTTPHandler) PreviewTransitions(w http.ResponseWriter, r *http.Request) {
	items, err := h.service.PreviewTransitions(r.Context(),
		chi.URLParam(r, "caseID"),
		r.URL.Query().Get("from"),
		ActorFromContext(r.Context()),
	)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	out := make([]previewView, 0, len(items))
	for _, it := range items {
		out = append(out, newPreviewView(it))
	}
	writeJSON(w, http.StatusOK, map[string]any{"transitions": out})
}

// ExecuteTransition handles transition HTTP requests
func (h *HTTPHandler) ExecuteTransition(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ToStage   string `json:"to_stage"`
		FromStage string `json:"from_stage"`
		Remarks   string `json:"remarks"`
	}
	if err := decode(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	c, err := h.service.Transition(r.Context(), &service.TransitionRequest{
		CaseID:    chi.URLParam(r, "caseID"),
		ToStage:   req.ToStage,
		FromStage: req.FromStage,
		Remarks:   req.Remarks,
		Actor:     ActorFromContext(r.Context()),
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeCase(w, r, http.StatusOK, c)
}

// SendBack handles send-back HTTP requests
func (h *HTTPHandler) SendBack(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Remarks string `json:"remarks"`
	}
	if r.ContentLength != 0 {
		if err := decode(w, r, &req); err != nil {
			h.writeError(w, r, err)
			return
		}
	}

	c, err := h.service.SendBack(r.Context(), chi.URLParam(r, "caseID"), ActorFromContext(r.Context()), req.Remarks)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeCase(w, r, http.StatusOK, c)
}

// GetHistory handles audit trail HTTP requests
func (h *HTTPHandler) GetHistory(w http.ResponseWriter, r *http.Request) {
	records, err := h.service.History(r.Context(), chi.URLParam(r, "caseID"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	codes, err := h.stageCodes()
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	out := make([]auditView, 0, len(records))
	for _, rec := range records {
		out = append(out, newAuditView(rec, codes))
	}
	writeJSON(w, http.StatusOK, map[string]any{"history": out})
}

// RecordReview handles review HTTP requests
func (h *HTTPHandler) RecordReview(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Status  string  `json:"status"`
		Remarks *string `json:"remarks"`
	}
	if err := decode(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	rv, err := h.service.RecordReview(r.Context(), &service.RecordReviewRequest{
		CaseID:  chi.URLParam(r, "caseID"),
		Section: chi.URLParam(r, "section"),
		Status:  req.Status,
		Remarks: req.Remarks,
		Actor:   ActorFromContext(r.Context()),
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newReviewView(rv))
}

// RecordClearance handles clearance HTTP requests
func (h *HTTPHandler) RecordClearance(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Status  string  `json:"status"`
		Remarks *string `json:"remarks"`
	}
	if err := decode(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	cl, err := h.service.RecordClearance(r.Context(), &service.RecordClearanceRequest{
		CaseID:  chi.URLParam(r, "caseID"),
		Section: chi.URLParam(r, "section"),
		Status:  req.Status,
		Remarks: req.Remarks,
		Actor:   ActorFromContext(r.Context()),
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newClearanceView(cl))
}

// SaveAccounts handles accounts breakdown HTTP requests
func (h *HTTPHandler) SaveAccounts(w http.ResponseWriter, r *http.Request) {
	var req struct {
		TransferFee     int64   `json:"transfer_fee"`
		StampDuty       int64   `json:"stamp_duty"`
		RegistrationFee int64   `json:"registration_fee"`
		ProcessingFee   int64   `json:"processing_fee"`
		OtherCharges    int64   `json:"other_charges"`
		PaymentVerified bool    `json:"payment_verified"`
		ChallanNo       *string `json:"challan_no"`
	}
	if err := decode(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	b, err := h.service.SaveAccounts(r.Context(), &service.SaveAccountsRequest{
		CaseID:          chi.URLParam(r, "caseID"),
		TransferFee:     req.TransferFee,
		StampDuty:       req.StampDuty,
		RegistrationFee: req.RegistrationFee,
		ProcessingFee:   req.ProcessingFee,
		OtherCharges:    req.OtherCharges,
		PaymentVerified: req.PaymentVerified,
		ChallanNo:       req.ChallanNo,
		Actor:           ActorFromContext(r.Context()),
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newAccountsView(b))
}

// AttachDocument handles document HTTP requests
func (h *HTTPHandler) AttachDocument(w http.ResponseWriter, r *http.Request) {
	var req struct {
		DocType string `json:"doc_type"`
		FileRef string `json:"file_ref"`
	}
	if err := decode(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	d, err := h.service.AttachDocument(r.Context(), &service.AttachDocumentRequest{
		CaseID:  chi.URLParam(r, "caseID"),
		DocType: req.DocType,
		FileRef: req.FileRef,
		Actor:   ActorFromContext(r.Context()),
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, newDocumentView(d))
}

// UpdateStatus handles case status HTTP requests
func (h *HTTPHandler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Status              string `json:"status"`
		PostEntriesComplete bool   `json:"post_entries_complete"`
	}
	if err := decode(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	c, err := h.service.UpdateStatus(r.Context(), &service.UpdateStatusRequest{
		CaseID:              chi.URLParam(r, "caseID"),
		Status:              req.Status,
		PostEntriesComplete: req.PostEntriesComplete,
		Actor:               ActorFromContext(r.Context()),
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeCase(w, r, http.StatusOK, c)
}

// ReloadWorkflow handles admin reload HTTP requests
func (h *HTTPHandler) ReloadWorkflow(w http.ResponseWriter, r *http.Request) {
	if err := h.service.ReloadWorkflow(r.Context(), ActorFromContext(r.Context())); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
