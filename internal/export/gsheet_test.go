package export

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moriyamalab/tokuten/internal/app"
)

func TestNewGSheetExporter(t *testing.T) {
	t.Run("no sheets configured", func(t *testing.T) {
		exporter, err := NewGSheetExporter(&app.Config{}, nil)
		require.NoError(t, err)
		require.NotNil(t, exporter)
		defer exporter.Stop()

		assert.Empty(t, exporter.scheduler.Jobs())
	})

	t.Run("non-numeric classroom key", func(t *testing.T) {
		cfg := &app.Config{
			GSheet: map[string][]app.GSheetConfig{
				"seminar-a": {{Schedule: "0 * * * *"}},
			},
		}

		_, err := NewGSheetExporter(cfg, nil)
		assert.Error(t, err)
	})
}
