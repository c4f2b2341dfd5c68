package main

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/shrimpsizemoose/trekker/logger"

	"github.com/moriyamalab/tokuten/internal/app"
	"github.com/moriyamalab/tokuten/internal/evaluation"
	"github.com/moriyamalab/tokuten/internal/handlers"
	"github.com/moriyamalab/tokuten/internal/points"
)

func main() {
	service, err := app.NewService("config.toml")
	if err != nil {
		logger.Error.Fatalf("Failed to load config: %v", err)
	}
	defer service.Close()

	if err := service.Store.ApplyMigrations(service.Config.Database.MigrationsDir); err != nil {
		logger.Error.Fatalf("Failed to apply migrations: %v", err)
	}

	scanHandler := handlers.NewScanHandler(service, points.NewEngine(service.Store))
	pointsHandler := handlers.NewPointsHandler(service, points.NewEngine(service.Store))
	evalHandler := handlers.NewEvaluationHandler(service, evaluation.NewEngine(service.Store))

	http.HandleFunc("GET /qr-codes/scan/{qr_code_id}", scanHandler.HandleScan)
	http.HandleFunc("GET /qr-codes/{qr_code_id}/scans", scanHandler.HandleScanHistory)
	http.HandleFunc("POST /qr-codes/{qr_code_id}/active", scanHandler.HandleSetQRCodeActive)
	http.HandleFunc("GET /api/v1/students/{student_id}/qr-code", scanHandler.HandleIssueQRCode)
	http.HandleFunc("GET /api/v1/students/{student_id}/qr-code.png", scanHandler.HandleQRCodeImage)

	http.HandleFunc("POST /api/v1/students/{student_id}/points", pointsHandler.HandleSetClassPoints)
	http.HandleFunc("GET /api/v1/classes/{class_id}/points", pointsHandler.HandleClassStandings)
	http.HandleFunc("GET /api/v1/sessions/{session_id}/points", pointsHandler.HandleLessonStandings)

	http.HandleFunc("POST /api/v1/sessions/{session_id}/evaluations", evalHandler.HandleSubmit)
	http.HandleFunc("POST /api/v1/sessions/{session_id}/evaluation/links", evalHandler.HandleIssueLinks)
	http.HandleFunc("GET /api/v1/sessions/{session_id}/evaluation/links", evalHandler.HandleListLinks)
	http.HandleFunc("POST /api/v1/sessions/{session_id}/evaluation/close", evalHandler.HandleClose)
	http.HandleFunc("POST /api/v1/sessions/{session_id}/evaluation/reopen", evalHandler.HandleReopen)
	http.HandleFunc("GET /api/v1/sessions/{session_id}/rankings", evalHandler.HandleRankings)
	http.HandleFunc("GET /api/v1/sessions/{session_id}/report", evalHandler.HandleSessionReport)

	http.Handle("/metrics", promhttp.Handler())

	logger.Info.Printf("Starting tokuten server on %s", service.Config.Server.Port)
	logger.Debug.Println("Requiring headers:")
	for _, h := range service.Config.API.RequiredHeaders {
		logger.Debug.Printf("  %s: %s", h.Name, h.Value)
	}
	if err := http.ListenAndServe(service.Config.Server.Port, nil); err != nil {
		logger.Error.Fatalf("Tokuten server failed: %v", err)
	}
}
