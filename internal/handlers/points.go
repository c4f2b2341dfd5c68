package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/shrimpsizemoose/trekker/logger"

	"github.com/moriyamalab/tokuten/internal/app"
	"github.com/moriyamalab/tokuten/internal/models"
	"github.com/moriyamalab/tokuten/internal/points"
)

type PointsHandler struct {
	service *app.Service
	engine  *points.Engine
}

func NewPointsHandler(service *app.Service, engine *points.Engine) *PointsHandler {
	return &PointsHandler{
		service: service,
		engine:  engine,
	}
}

// HandleSetClassPoints replaces one student's class-points balance.
func (h *PointsHandler) HandleSetClassPoints(w http.ResponseWriter, r *http.Request) {
	if !h.service.ValidateHeaders(r.Header) {
		http.Error(w, "these are not the droids you are looking for", http.StatusForbidden)
		return
	}

	actor, err := h.service.ResolveActor(r)
	if err != nil {
		writeError(w, err)
		return
	}

	studentID, err := strconv.ParseInt(r.PathValue("student_id"), 10, 64)
	if err != nil {
		http.Error(w, "Invalid student id", http.StatusBadRequest)
		return
	}

	var req models.SetPointsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if err := req.Validate(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	balance, err := h.engine.SetClassPoints(actor, studentID, &req)
	if err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]interface{}{
		"student_id": studentID,
		"class_id":   *req.ClassID,
		"points":     balance,
	}); err != nil {
		logger.Debug.Printf("Error encoding response: %v", err)
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
		return
	}
}

// HandleClassStandings lists every student's class-points balance for
// one classroom, highest first.
func (h *PointsHandler) HandleClassStandings(w http.ResponseWriter, r *http.Request) {
	if !h.service.ValidateHeaders(r.Header) {
		http.Error(w, "these are not the droids you are looking for", http.StatusNotFound)
		return
	}

	if _, err := h.service.ResolveActor(r); err != nil {
		writeError(w, err)
		return
	}

	classroomID, err := strconv.ParseInt(r.PathValue("class_id"), 10, 64)
	if err != nil {
		http.Error(w, "Invalid class id", http.StatusBadRequest)
		return
	}

	rows, err := h.service.Store.ListClassPoints(classroomID)
	if err != nil {
		logger.Error.Printf("Failed to list class points for class %d: %v", classroomID, err)
		http.Error(w, "Failed to fetch class points", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]interface{}{
		"rows": rows,
	}); err != nil {
		logger.Debug.Printf("Error encoding response: %v", err)
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
		return
	}
}

// HandleLessonStandings lists per-lesson QR points for one session.
func (h *PointsHandler) HandleLessonStandings(w http.ResponseWriter, r *http.Request) {
	if !h.service.ValidateHeaders(r.Header) {
		http.Error(w, "these are not the droids you are looking for", http.StatusNotFound)
		return
	}

	if _, err := h.service.ResolveActor(r); err != nil {
		writeError(w, err)
		return
	}

	sessionID, err := strconv.ParseInt(r.PathValue("session_id"), 10, 64)
	if err != nil {
		http.Error(w, "Invalid session id", http.StatusBadRequest)
		return
	}

	rows, err := h.service.Store.ListLessonPoints(sessionID)
	if err != nil {
		logger.Error.Printf("Failed to list lesson points for session %d: %v", sessionID, err)
		http.Error(w, "Failed to fetch lesson points", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]interface{}{
		"rows": rows,
	}); err != nil {
		logger.Debug.Printf("Error encoding response: %v", err)
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
		return
	}
}
