package diff

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestUnifiedShowsChanges(t *testing.T) {
	old := "SELECT user_id\nFROM users"
	new := "SELECT COALESCE(user_id, 'anon')\nFROM users"
	out := Unified("stored", "current", old, new)
	assert.Contains(t, out, "--- stored")
	assert.Contains(t, out, "+++ current")
	assert.Contains(t, out, "-SELECT user_id")
	assert.Contains(t, out, "+SELECT COALESCE(user_id, 'anon')")
}

func TestUnifiedEmptyForIdenticalText(t *testing.T) {
	assert.Empty(t, Unified("a", "b", "same\n", "same\n"))
}

func TestChanged(t *testing.T) {
	assert.True(t, Changed("SELECT 1", "SELECT 2"))
	assert.False(t, Changed("SELECT 1  ", "SELECT 1"))
}
