package logger

import (
	"bytes"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingHub struct {
	mu       sync.Mutex
	messages []string
}

func (h *recordingHub) Broadcast(msgType string, payload interface{}) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.messages = append(h.messages, msgType)
	return nil
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"trace", "trace"},
		{"DEBUG", "debug"},
		{"warning", "warn"},
		{"error", "error"},
		{"bogus", "info"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, parseLevel(tt.in).String())
		})
	}
}

func TestNew_StreamingBuffersEntries(t *testing.T) {
	var out bytes.Buffer
	log := New(Config{Level: "info", Format: "json", EnableStreaming: true, BufferSize: 10, Output: &out})

	hub := &recordingHub{}
	log.SetBroadcastHub(hub)

	sub := log.WithComponent("reconciler")
	sub.Info().Str("mapping", "favorites").Msg("mapping synced")

	entries := log.GetRecentLogs()
	require.Len(t, entries, 1)
	assert.Equal(t, "info", entries[0].Level)
	assert.Equal(t, "reconciler", entries[0].Component)
	assert.Equal(t, "mapping synced", entries[0].Message)
	assert.Equal(t, "favorites", entries[0].Fields["mapping"])
	assert.Equal(t, []string{EventLogEntry}, hub.messages)
	assert.Contains(t, out.String(), "mapping synced")
}

func TestNew_WritesLogFile(t *testing.T) {
	dir := t.TempDir()
	var out bytes.Buffer
	log := New(Config{Level: "info", Format: "json", Path: dir, Output: &out})
	log.Info().Msg("hello file")
	require.NoError(t, log.Close())

	assert.Equal(t, filepath.Join(dir, logFileName), log.GetLogFilePath())
	data, err := os.ReadFile(log.GetLogFilePath())
	require.NoError(t, err)
	assert.Contains(t, string(data), "hello file")
}

func TestRingBuffer_Overwrites(t *testing.T) {
	rb := NewRingBuffer[int](3)
	for i := 1; i <= 5; i++ {
		rb.Push(i)
	}

	assert.Equal(t, 3, rb.Len())
	assert.Equal(t, []int{3, 4, 5}, rb.GetAll())
	assert.Equal(t, []int{4, 5}, rb.Last(2))
	assert.Equal(t, []int{3, 4, 5}, rb.Last(10))
}
