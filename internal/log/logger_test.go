// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package log

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecentWriter_Relevance(t *testing.T) {
	ClearRecentLogs()
	w := recentWriter{}

	_, _ = w.Write([]byte(`{"level":"info","component":"node","event":"node.connected","message":"ok"}` + "\n"))
	_, _ = w.Write([]byte(`{"level":"warn","component":"queue","message":"persist failed"}` + "\n"))
	_, _ = w.Write([]byte(`{"level":"debug","component":"node","message":"frame"}` + "\n"))

	logs := GetRecentLogs()
	require.Len(t, logs, 2)
	assert.Equal(t, "node", logs[0].Component)
	assert.Equal(t, "node.connected", logs[0].Fields[FieldEvent])
	assert.Equal(t, "warn", logs[1].Level)
	assert.Equal(t, uint64(1), GetBufferMetrics().DroppedIrrelevant)
}

func TestRecentWriter_Bounds(t *testing.T) {
	ClearRecentLogs()
	w := recentWriter{}

	giant := `{"level":"error","message":"` + strings.Repeat("B", maxLineBytes) + `"}` + "\n"
	_, _ = w.Write([]byte(giant))
	assert.Empty(t, GetRecentLogs())
	assert.Equal(t, uint64(1), GetBufferMetrics().DroppedTooLargeLines)

	_, _ = w.Write([]byte("not json\n"))
	assert.Equal(t, uint64(1), GetBufferMetrics().DroppedMalformed)
}

func TestRecentWriter_WrapsAround(t *testing.T) {
	ClearRecentLogs()
	w := recentWriter{}
	for i := 0; i < maxRecentEntries+5; i++ {
		_, _ = w.Write([]byte(`{"level":"error","message":"m"}`))
	}
	assert.Len(t, GetRecentLogs(), maxRecentEntries)
}

func TestSetLevel(t *testing.T) {
	prev := Level().String()
	t.Cleanup(func() { _ = SetLevel(prev) })

	require.NoError(t, SetLevel("debug"))
	assert.Equal(t, "debug", Level().String())
	assert.Error(t, SetLevel("loud"))
}
