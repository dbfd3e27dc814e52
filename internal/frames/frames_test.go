package frames

import (
	"testing"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/page"
	"github.com/go-json-experiment/json/jsontext"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tree(id string, children ...*page.FrameTree) *page.FrameTree {
	return &page.FrameTree{Frame: &cdp.Frame{ID: cdp.FrameID(id)}, ChildFrames: children}
}

func TestOrdinalsDepthFirst(t *testing.T) {
	root := tree("top",
		tree("a", tree("a1"), tree("a2")),
		tree("b"),
	)
	assert.Equal(t, []cdp.FrameID{"top", "a", "a1", "a2", "b"}, Ordinals(root))

	n, ok := Ordinal(root, "a2")
	require.True(t, ok)
	assert.Equal(t, 3, n)
	_, ok = Ordinal(root, "zzz")
	assert.False(t, ok)

	id, ok := ByOrdinal(root, 0)
	require.True(t, ok)
	assert.Equal(t, cdp.FrameID("top"), id)
	_, ok = ByOrdinal(root, 5)
	assert.False(t, ok)
	_, ok = ByOrdinal(root, -1)
	assert.False(t, ok)
}

func TestOrdinalsNilTree(t *testing.T) {
	assert.Empty(t, Ordinals(nil))
	assert.Empty(t, Ordinals(&page.FrameTree{}))
}

func TestParseAuxData(t *testing.T) {
	aux, err := ParseAuxData(jsontext.Value(`{"isDefault":false,"type":"isolated","frameId":"F1"}`))
	require.NoError(t, err)
	assert.Equal(t, AuxData{FrameID: "F1", Type: "isolated"}, aux)

	_, err = ParseAuxData(nil)
	require.Error(t, err)
	_, err = ParseAuxData(jsontext.Value(`{"type":"default"}`))
	require.Error(t, err)
	_, err = ParseAuxData(jsontext.Value(`{`))
	require.Error(t, err)
}
