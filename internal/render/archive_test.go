package render

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"justact/internal/archive"
)

func TestSessions(t *testing.T) {
	r := New(&bytes.Buffer{})
	assert.Equal(t, "no archived sessions", r.Sessions(nil))

	out := r.Sessions([]archive.Summary{{
		ID:        "s-1",
		Name:      "paper",
		Evaluator: "mangle",
		Head:      4,
		Commands:  7,
		SavedAt:   time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC),
	}})
	for _, want := range []string{"s-1", "paper", "mangle", "7"} {
		assert.Contains(t, out, want)
	}
}

func TestArchivedSession(t *testing.T) {
	s := scenarioSession(t)
	sess := archive.Capture(s)

	out := New(&bytes.Buffer{}).ArchivedSession(&sess)
	assert.Contains(t, out, `"render" at seq 7`)
	assert.Contains(t, out, sess.SnapshotID[:12])
	assert.Contains(t, out, "activate p1")
	assert.Contains(t, out, "no branches")
}
