package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/shrimpsizemoose/trekker/logger"
	qrcode "github.com/skip2/go-qrcode"

	"github.com/moriyamalab/tokuten/internal/app"
	"github.com/moriyamalab/tokuten/internal/apperr"
	"github.com/moriyamalab/tokuten/internal/metrics"
	"github.com/moriyamalab/tokuten/internal/points"
)

type ScanHandler struct {
	service *app.Service
	engine  *points.Engine
}

func NewScanHandler(service *app.Service, engine *points.Engine) *ScanHandler {
	return &ScanHandler{
		service: service,
		engine:  engine,
	}
}

// writeError maps domain errors onto HTTP statuses. Unknown errors are
// logged and reported as 500 without leaking internals.
func writeError(w http.ResponseWriter, err error) {
	switch apperr.KindOf(err) {
	case apperr.KindNotFound:
		http.Error(w, err.Error(), http.StatusNotFound)
	case apperr.KindPermission:
		http.Error(w, err.Error(), http.StatusForbidden)
	case apperr.KindValidation:
		http.Error(w, err.Error(), http.StatusBadRequest)
	case apperr.KindState:
		http.Error(w, err.Error(), http.StatusConflict)
	default:
		logger.Error.Printf("Internal error: %v", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
	}
}

func observeRequest(r *http.Request, start time.Time, status string) {
	metrics.APIRequestDuration.WithLabelValues(
		r.URL.Path,
		r.Method,
		status,
	).Observe(time.Since(start).Seconds())
}

// HandleScan records one scan of a student QR code. An optional
// ?class_id= narrows which class bucket receives the point.
func (h *ScanHandler) HandleScan(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	defer observeRequest(r, start, "200")

	if !h.service.ValidateHeaders(r.Header) {
		http.Error(w, "these are not the droids you are looking for", http.StatusForbidden)
		return
	}

	qrCodeID := r.PathValue("qr_code_id")
	if qrCodeID == "" {
		logger.Error.Printf("Failed to extract qr code id from path: %s", r.URL.Path)
		http.Error(w, "Invalid qr code id", http.StatusBadRequest)
		return
	}

	actor, err := h.service.ResolveActor(r)
	if err != nil {
		writeError(w, err)
		return
	}

	var classroomID *int64
	if raw := r.URL.Query().Get("class_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			http.Error(w, "Invalid class_id", http.StatusBadRequest)
			return
		}
		classroomID = &id
	}

	result, err := h.engine.RecordScan(actor, qrCodeID, classroomID)
	if err != nil {
		writeError(w, err)
		return
	}

	classroomLabel := "none"
	if result.ClassroomID != nil {
		classroomLabel = strconv.FormatInt(*result.ClassroomID, 10)
	}
	metrics.ScansTotal.WithLabelValues(
		classroomLabel,
		strconv.FormatBool(result.Session != nil),
	).Inc()

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(result); err != nil {
		logger.Debug.Printf("Error encoding response: %v", err)
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
		return
	}
}

// HandleIssueQRCode lazily creates the student's code and returns its
// identifier.
func (h *ScanHandler) HandleIssueQRCode(w http.ResponseWriter, r *http.Request) {
	if !h.service.ValidateHeaders(r.Header) {
		http.Error(w, "these are not the droids you are looking for", http.StatusForbidden)
		return
	}

	studentID, err := strconv.ParseInt(r.PathValue("student_id"), 10, 64)
	if err != nil {
		http.Error(w, "Invalid student id", http.StatusBadRequest)
		return
	}

	code, err := h.engine.IssueQRCode(studentID)
	if err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(code); err != nil {
		logger.Debug.Printf("Error encoding response: %v", err)
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
		return
	}
}

// HandleQRCodeImage renders the student's code as a scannable PNG that
// embeds the public scan URL.
func (h *ScanHandler) HandleQRCodeImage(w http.ResponseWriter, r *http.Request) {
	if !h.service.ValidateHeaders(r.Header) {
		http.Error(w, "these are not the droids you are looking for", http.StatusForbidden)
		return
	}

	studentID, err := strconv.ParseInt(r.PathValue("student_id"), 10, 64)
	if err != nil {
		http.Error(w, "Invalid student id", http.StatusBadRequest)
		return
	}

	code, err := h.engine.IssueQRCode(studentID)
	if err != nil {
		writeError(w, err)
		return
	}

	scanURL := fmt.Sprintf("%s/qr-codes/scan/%s", h.service.Config.Server.BaseURL, code.QRCodeID)
	png, err := qrcode.Encode(scanURL, qrcode.Medium, 256)
	if err != nil {
		logger.Error.Printf("Failed to render qr png for student %d: %v", studentID, err)
		http.Error(w, "Failed to render qr code", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Write(png)
}

// HandleSetQRCodeActive toggles a code on or off.
func (h *ScanHandler) HandleSetQRCodeActive(w http.ResponseWriter, r *http.Request) {
	if !h.service.ValidateHeaders(r.Header) {
		http.Error(w, "these are not the droids you are looking for", http.StatusForbidden)
		return
	}

	actor, err := h.service.ResolveActor(r)
	if err != nil {
		writeError(w, err)
		return
	}

	qrCodeID := r.PathValue("qr_code_id")
	if qrCodeID == "" {
		http.Error(w, "Invalid qr code id", http.StatusBadRequest)
		return
	}

	var req struct {
		Active bool `json:"active"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if err := h.engine.SetQRCodeActive(actor, qrCodeID, req.Active); err != nil {
		writeError(w, err)
		return
	}

	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

// HandleScanHistory lists the append-only scan audit for one code.
func (h *ScanHandler) HandleScanHistory(w http.ResponseWriter, r *http.Request) {
	if !h.service.ValidateHeaders(r.Header) {
		http.Error(w, "these are not the droids you are looking for", http.StatusNotFound)
		return
	}

	if _, err := h.service.ResolveActor(r); err != nil {
		writeError(w, err)
		return
	}

	qrCodeID := r.PathValue("qr_code_id")
	if qrCodeID == "" {
		http.Error(w, "Invalid qr code id", http.StatusBadRequest)
		return
	}

	scans, err := h.engine.ScanHistory(qrCodeID)
	if err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]interface{}{
		"rows": scans,
	}); err != nil {
		logger.Debug.Printf("Error encoding response: %v", err)
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
		return
	}
}
