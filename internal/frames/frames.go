// Package frames numbers the frames of a page so recorded steps can name a
// frame that replay can find again. The top-level document is frame 0 and
// the rest follow in depth-first document order of the frame tree.
package frames

import (
	"encoding/json"
	"fmt"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/page"
	"github.com/go-json-experiment/json/jsontext"
)

// Ordinals lists the frame ids of tree; the slice index is the ordinal.
func Ordinals(tree *page.FrameTree) []cdp.FrameID {
	var out []cdp.FrameID
	var walk func(*page.FrameTree)
	walk = func(t *page.FrameTree) {
		if t == nil || t.Frame == nil {
			return
		}
		out = append(out, t.Frame.ID)
		for _, child := range t.ChildFrames {
			walk(child)
		}
	}
	walk(tree)
	return out
}

// Ordinal returns the ordinal of id within tree.
func Ordinal(tree *page.FrameTree, id cdp.FrameID) (int, bool) {
	for i, fid := range Ordinals(tree) {
		if fid == id {
			return i, true
		}
	}
	return 0, false
}

// ByOrdinal returns the frame id at ordinal n.
func ByOrdinal(tree *page.FrameTree, n int) (cdp.FrameID, bool) {
	ids := Ordinals(tree)
	if n < 0 || n >= len(ids) {
		return "", false
	}
	return ids[n], true
}

// AuxData is the auxData object Chrome attaches to an execution context.
type AuxData struct {
	FrameID   cdp.FrameID `json:"frameId"`
	IsDefault bool        `json:"isDefault"`
	Type      string      `json:"type"`
}

// ParseAuxData decodes the auxData of an execution context description.
func ParseAuxData(raw jsontext.Value) (AuxData, error) {
	var aux AuxData
	if len(raw) == 0 {
		return aux, fmt.Errorf("frames: context has no auxData")
	}
	if err := json.Unmarshal([]byte(raw), &aux); err != nil {
		return aux, fmt.Errorf("frames: decode auxData: %w", err)
	}
	if aux.FrameID == "" {
		return aux, fmt.Errorf("frames: auxData has no frameId")
	}
	return aux, nil
}
