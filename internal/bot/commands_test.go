package bot

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/moriyamalab/tokuten/internal/models"
)

func TestFormatChatMappings(t *testing.T) {
	t.Run("no bindings", func(t *testing.T) {
		got := formatChatMappings(nil)
		assert.Equal(t, "No chats are bound to classrooms yet", got)
	})

	t.Run("listing is sorted by chat id", func(t *testing.T) {
		when := time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC)
		mappings := map[string]*models.ChatClassMapping{
			"200": {ClassroomID: 2, Name: "Seminar B", AssociationTime: when, RegisteredBy: 42},
			"100": {ClassroomID: 1, Name: "Seminar A", AssociationTime: when, RegisteredBy: 42},
		}

		got := formatChatMappings(mappings)
		assert.Contains(t, got, "chat 100 → Seminar A (classroom 1)")
		assert.Contains(t, got, "chat 200 → Seminar B (classroom 2)")
		assert.Less(t, strings.Index(got, "Seminar A"), strings.Index(got, "Seminar B"))
		assert.Contains(t, got, "registered by 42 on 2024-01-15")
	})
}
