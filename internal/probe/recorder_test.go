package probe

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorderPreservesInsertionOrder(t *testing.T) {
	t.Parallel()

	rec := NewRecorder(nil, "run-1")
	for i := 0; i < 5; i++ {
		rec.Append(LevelInfo, fmt.Sprintf("entry %d", i), nil)
	}

	entries := rec.Entries()
	require.Len(t, entries, 5)
	for i, e := range entries {
		assert.Equal(t, fmt.Sprintf("entry %d", i), e.Message)
	}
}

func TestRecorderEntriesReturnsCopyAndDoesNotClear(t *testing.T) {
	t.Parallel()

	rec := NewRecorder(nil, "run-2")
	rec.Append(LevelWarning, "original", map[string]any{"k": "v"})

	first := rec.Entries()
	require.Len(t, first, 1)
	first[0].Message = "mutated"

	second := rec.Entries()
	require.Len(t, second, 1)
	assert.Equal(t, "original", second[0].Message)
	assert.Equal(t, LevelWarning, second[0].Level)
}
