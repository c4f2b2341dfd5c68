package export

import (
	"context"
	"fmt"
	"math/rand"
	"strconv"
	"time"

	"github.com/go-co-op/gocron"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"

	"github.com/shrimpsizemoose/trekker/logger"

	"github.com/moriyamalab/tokuten/internal/app"
	"github.com/moriyamalab/tokuten/internal/store"
)

// GSheetExporter periodically pushes class-points standings into
// teacher-facing spreadsheets. One exporter owns the scheduler; each
// configured sheet gets its own job and sheets client.
type GSheetExporter struct {
	config    *app.Config
	store     store.Store
	scheduler *gocron.Scheduler
}

func NewGSheetExporter(config *app.Config, st store.Store) (*GSheetExporter, error) {
	ctx := context.Background()

	e := &GSheetExporter{
		config:    config,
		store:     st,
		scheduler: gocron.NewScheduler(time.UTC),
	}

	for classKey, configs := range config.GSheet {
		classroomID, err := strconv.ParseInt(classKey, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid classroom id %q in gsheet config: %w", classKey, err)
		}

		for _, cfg := range configs {
			svc, err := sheets.NewService(ctx, option.WithCredentialsFile(cfg.CredentialsPath))
			if err != nil {
				return nil, fmt.Errorf("failed to create sheets service: %w", err)
			}

			cfg := cfg
			_, err = e.scheduler.Cron(cfg.Schedule).Do(func() {
				if err := e.Export(svc, classroomID, &cfg); err != nil {
					logger.Error.Printf("Export failed for classroom %d: %v", classroomID, err)
				}
			})
			if err != nil {
				return nil, fmt.Errorf("failed to schedule export: %w", err)
			}
		}
	}

	e.scheduler.StartAsync()
	return e, nil
}

func (e *GSheetExporter) Stop() {
	e.scheduler.Stop()
}

// Export writes one standings table: rank, student name, points.
func (e *GSheetExporter) Export(svc *sheets.Service, classroomID int64, cfg *app.GSheetConfig) error {
	rows, err := e.store.ListClassPoints(classroomID)
	if err != nil {
		return fmt.Errorf("failed to fetch class points: %w", err)
	}

	values := make([][]interface{}, 0, len(rows))
	for i, row := range rows {
		name := row.FullName
		if row.StudentNumber != nil {
			name = fmt.Sprintf("%s (%s)", row.FullName, *row.StudentNumber)
		}
		values = append(values, []interface{}{i + 1, name, row.Points})
	}

	updateRange := fmt.Sprintf("%s!%s", cfg.SheetName, cfg.StandingsRange)
	_, err = svc.Spreadsheets.Values.Update(cfg.SheetID, updateRange,
		&sheets.ValueRange{Values: values}).ValueInputOption("RAW").Do()
	if err != nil {
		return fmt.Errorf("failed to update standings: %w", err)
	}

	timestamp := fmt.Sprintf("UPD: %s", time.Now().Format("2 January 15:04"))
	if len(e.config.EmojiVariants) > 0 {
		emoji := e.config.EmojiVariants[rand.Intn(len(e.config.EmojiVariants))]
		timestamp = fmt.Sprintf("%s %s", timestamp, emoji)
	}

	updateRange = fmt.Sprintf("%s!%s", cfg.SheetName, cfg.TimestampRange)
	_, err = svc.Spreadsheets.Values.Update(cfg.SheetID, updateRange,
		&sheets.ValueRange{Values: [][]interface{}{{timestamp}}}).ValueInputOption("RAW").Do()

	return err
}
