package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/shrimpsizemoose/trekker/logger"

	"github.com/moriyamalab/tokuten/internal/app"
	"github.com/moriyamalab/tokuten/internal/evaluation"
	"github.com/moriyamalab/tokuten/internal/metrics"
	"github.com/moriyamalab/tokuten/internal/models"
)

type EvaluationHandler struct {
	service *app.Service
	engine  *evaluation.Engine
}

func NewEvaluationHandler(service *app.Service, engine *evaluation.Engine) *EvaluationHandler {
	return &EvaluationHandler{
		service: service,
		engine:  engine,
	}
}

func (h *EvaluationHandler) sessionID(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("session_id"), 10, 64)
	return id, err == nil
}

// HandleSubmit accepts one peer evaluation for a session. No teacher
// identity required: submissions arrive through anonymized links.
func (h *EvaluationHandler) HandleSubmit(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	defer observeRequest(r, start, "200")

	if !h.service.ValidateHeaders(r.Header) {
		http.Error(w, "these are not the droids you are looking for", http.StatusForbidden)
		return
	}

	sessionID, ok := h.sessionID(r)
	if !ok {
		http.Error(w, "Invalid session id", http.StatusBadRequest)
		return
	}

	var req models.SubmitEvaluationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if err := req.Validate(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	eval, err := h.engine.Submit(sessionID, &req)
	if err != nil {
		writeError(w, err)
		return
	}

	sessionLabel := strconv.FormatInt(sessionID, 10)
	metrics.EvaluationsTotal.WithLabelValues(sessionLabel).Inc()
	for _, score := range req.Contributions {
		metrics.ContributionScoreHistogram.WithLabelValues(sessionLabel).Observe(float64(score))
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(eval); err != nil {
		logger.Debug.Printf("Error encoding response: %v", err)
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
		return
	}
}

// HandleIssueLinks hands out one stable anonymization token per group.
func (h *EvaluationHandler) HandleIssueLinks(w http.ResponseWriter, r *http.Request) {
	if !h.service.ValidateHeaders(r.Header) {
		http.Error(w, "these are not the droids you are looking for", http.StatusForbidden)
		return
	}

	actor, err := h.service.ResolveActor(r)
	if err != nil {
		writeError(w, err)
		return
	}

	sessionID, ok := h.sessionID(r)
	if !ok {
		http.Error(w, "Invalid session id", http.StatusBadRequest)
		return
	}

	links, err := h.engine.IssueLinks(actor, sessionID)
	if err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]interface{}{
		"links": links,
	}); err != nil {
		logger.Debug.Printf("Error encoding response: %v", err)
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
		return
	}
}

func (h *EvaluationHandler) HandleListLinks(w http.ResponseWriter, r *http.Request) {
	if !h.service.ValidateHeaders(r.Header) {
		http.Error(w, "these are not the droids you are looking for", http.StatusNotFound)
		return
	}

	actor, err := h.service.ResolveActor(r)
	if err != nil {
		writeError(w, err)
		return
	}

	sessionID, ok := h.sessionID(r)
	if !ok {
		http.Error(w, "Invalid session id", http.StatusBadRequest)
		return
	}

	links, err := h.engine.ListLinks(actor, sessionID)
	if err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]interface{}{
		"links": links,
	}); err != nil {
		logger.Debug.Printf("Error encoding response: %v", err)
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
		return
	}
}

// HandleClose shuts the submission gate for a session. Idempotent.
func (h *EvaluationHandler) HandleClose(w http.ResponseWriter, r *http.Request) {
	h.handleGate(w, r, h.engine.Close)
}

// HandleReopen reopens the gate. Idempotent.
func (h *EvaluationHandler) HandleReopen(w http.ResponseWriter, r *http.Request) {
	h.handleGate(w, r, h.engine.Reopen)
}

func (h *EvaluationHandler) handleGate(w http.ResponseWriter, r *http.Request, toggle func(*models.User, int64) error) {
	if !h.service.ValidateHeaders(r.Header) {
		http.Error(w, "these are not the droids you are looking for", http.StatusForbidden)
		return
	}

	actor, err := h.service.ResolveActor(r)
	if err != nil {
		writeError(w, err)
		return
	}

	sessionID, ok := h.sessionID(r)
	if !ok {
		http.Error(w, "Invalid session id", http.StatusBadRequest)
		return
	}

	if err := toggle(actor, sessionID); err != nil {
		writeError(w, err)
		return
	}

	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

// HandleRankings reports the session's group standings plus per-student
// contribution averages.
func (h *EvaluationHandler) HandleRankings(w http.ResponseWriter, r *http.Request) {
	if !h.service.ValidateHeaders(r.Header) {
		http.Error(w, "these are not the droids you are looking for", http.StatusNotFound)
		return
	}

	if _, err := h.service.ResolveActor(r); err != nil {
		writeError(w, err)
		return
	}

	sessionID, ok := h.sessionID(r)
	if !ok {
		http.Error(w, "Invalid session id", http.StatusBadRequest)
		return
	}

	rankings, err := h.engine.Rankings(sessionID)
	if err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(rankings); err != nil {
		logger.Debug.Printf("Error encoding response: %v", err)
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
		return
	}
}

// HandleSessionReport returns the combined per-student sheet: lesson QR
// points plus the peer contribution average.
func (h *EvaluationHandler) HandleSessionReport(w http.ResponseWriter, r *http.Request) {
	if !h.service.ValidateHeaders(r.Header) {
		http.Error(w, "these are not the droids you are looking for", http.StatusNotFound)
		return
	}

	if _, err := h.service.ResolveActor(r); err != nil {
		writeError(w, err)
		return
	}

	sessionID, ok := h.sessionID(r)
	if !ok {
		http.Error(w, "Invalid session id", http.StatusBadRequest)
		return
	}

	report, err := h.engine.SessionReport(sessionID)
	if err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]interface{}{
		"rows": report,
	}); err != nil {
		logger.Debug.Printf("Error encoding response: %v", err)
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
		return
	}
}
