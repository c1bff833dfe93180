package progress

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKey(t *testing.T) {
	id := uuid.MustParse("6f1c6c1e-0d5e-4b61-9d0a-1d3c2b8b9a10")
	assert.Equal(t, "job:progress:6f1c6c1e-0d5e-4b61-9d0a-1d3c2b8b9a10", Key(id))
}

func TestParseSnapshot(t *testing.T) {
	s, err := parseSnapshot(map[string]string{
		"percent":    "42",
		"stage":      "1080p_webm",
		"updated_at": "2026-01-02T03:04:05Z",
	})
	require.NoError(t, err)

	assert.Equal(t, 42, s.Percent)
	assert.Equal(t, "1080p_webm", s.Stage)
	assert.True(t, s.UpdatedAt.Equal(time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)))

	_, err = parseSnapshot(map[string]string{"percent": "many"})
	assert.Error(t, err)
}
