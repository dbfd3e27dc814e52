package storage

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type entry struct {
	N int `json:"n"`
}

func decodeAll(t *testing.T, raw []json.RawMessage) []int {
	t.Helper()
	out := make([]int, 0, len(raw))
	for _, r := range raw {
		var e entry
		require.NoError(t, json.Unmarshal(r, &e))
		out = append(out, e.N)
	}
	return out
}

func TestJournalWritesAndReadsBack(t *testing.T) {
	dir := t.TempDir()
	j := NewJournal(dir, "runs", 16, 1)
	for i := 1; i <= 3; i++ {
		require.NoError(t, j.Write(entry{N: i}))
	}
	require.NoError(t, j.Close())

	raw, err := j.Recent(10)
	require.NoError(t, err)
	assert.Equal(t, []int{3, 2, 1}, decodeAll(t, raw))

	raw, err = j.Recent(2)
	require.NoError(t, err)
	assert.Equal(t, []int{3, 2}, decodeAll(t, raw))
}

func TestJournalSplitsByDay(t *testing.T) {
	dir := t.TempDir()
	day := time.Date(2026, 5, 1, 23, 0, 0, 0, time.UTC)
	j := NewJournal(dir, "runs", 16, 1)
	j.mu.Lock()
	j.now = func() time.Time { return day }
	j.mu.Unlock()

	require.NoError(t, j.Write(entry{N: 1}))
	require.Eventually(t, func() bool {
		_, err := os.Stat(filepath.Join(dir, "2026-05-01", "runs.jsonl"))
		return err == nil
	}, time.Second, 5*time.Millisecond)

	j.mu.Lock()
	j.now = func() time.Time { return day.Add(2 * time.Hour) }
	j.mu.Unlock()
	require.NoError(t, j.Write(entry{N: 2}))
	require.NoError(t, j.Close())

	_, err := os.Stat(filepath.Join(dir, "2026-05-02", "runs.jsonl"))
	require.NoError(t, err)

	raw, err := j.Recent(5)
	require.NoError(t, err)
	assert.Equal(t, []int{2, 1}, decodeAll(t, raw))
}

func TestJournalWriteAfterClose(t *testing.T) {
	j := NewJournal(t.TempDir(), "runs", 1, 1)
	require.NoError(t, j.Close())
	assert.ErrorIs(t, j.Write(entry{N: 1}), ErrClosed)
	require.NoError(t, j.Close())
}

func TestRecentSkipsCorruptLines(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "2026-01-01"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "2026-01-01", "runs.jsonl"), []byte("{\"n\":1}\nnot json\n\n{\"n\":2}\n"), 0o644))

	j := &Journal{baseDir: dir, name: "runs"}
	raw, err := j.Recent(10)
	require.NoError(t, err)
	assert.Equal(t, []int{2, 1}, decodeAll(t, raw))
}
