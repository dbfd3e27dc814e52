package store

import (
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dgnsrekt/flowrec/internal/flow"
)

func TestSetGetOverwrite(t *testing.T) {
	s, err := New(t.TempDir())
	require.NoError(t, err)

	_, ok, err := s.Get("login")
	require.NoError(t, err)
	assert.False(t, ok)

	first := flow.Sequence{flow.Goto{URL: "https://a"}, flow.Click{Selector: "#one"}}
	second := flow.Sequence{flow.Goto{URL: "https://b"}}
	require.NoError(t, s.Set("login", first))
	require.NoError(t, s.Set("login", second))

	got, ok, err := s.Get("login")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, second, got)
}

func TestDeleteMissingIsNoop(t *testing.T) {
	dir := t.TempDir()
	s, err := New(dir)
	require.NoError(t, err)

	require.NoError(t, s.Delete("ghost"))
	_, statErr := os.Stat(filepath.Join(dir, FileName))
	assert.True(t, os.IsNotExist(statErr), "no-op delete must not create the file")

	require.NoError(t, s.Set("a", flow.Sequence{flow.Goto{URL: "https://a"}}))
	require.NoError(t, s.Delete("a"))
	require.NoError(t, s.Delete("a"))
	names, err := s.ListNames()
	require.NoError(t, err)
	assert.Empty(t, names)
}

func TestListNamesAndAll(t *testing.T) {
	s, err := New(t.TempDir())
	require.NoError(t, err)
	for _, name := range []string{"b", "a", "c"} {
		require.NoError(t, s.Set(name, flow.Sequence{flow.Goto{URL: "https://" + name}}))
	}

	names, err := s.ListNames()
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, names)

	all, err := s.All()
	require.NoError(t, err)
	assert.Len(t, all, 3)
	assert.Equal(t, flow.Sequence{flow.Goto{URL: "https://b"}}, all["b"])
}

func TestOnDiskFormat(t *testing.T) {
	dir := t.TempDir()
	s, err := New(dir)
	require.NoError(t, err)
	require.NoError(t, s.Set("f", flow.Sequence{flow.Goto{URL: "https://x"}, flow.Wait{DurationMs: 120}}))

	data, err := os.ReadFile(filepath.Join(dir, FileName))
	require.NoError(t, err)
	assert.JSONEq(t, `{"f":[{"type":"goto","url":"https://x"},{"type":"wait","durationMs":120}]}`, string(data))

	// A second store over the same directory sees the same flows.
	again, err := New(dir)
	require.NoError(t, err)
	_, ok, err := again.Get("f")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestCorruptFileSurfacesError(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, FileName), []byte("{not json"), 0o644))
	s, err := New(dir)
	require.NoError(t, err)
	_, _, err = s.Get("x")
	require.Error(t, err)
}

func TestEmptyNameRejected(t *testing.T) {
	s, err := New(t.TempDir())
	require.NoError(t, err)
	require.Error(t, s.Set("", flow.Sequence{}))
}

func TestConcurrentSetsLastWriteWins(t *testing.T) {
	s, err := New(t.TempDir())
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, s.Set("same", flow.Sequence{flow.Goto{URL: "https://x"}}))
		}()
	}
	wg.Wait()

	names, err := s.ListNames()
	require.NoError(t, err)
	assert.Equal(t, []string{"same"}, names)
}
