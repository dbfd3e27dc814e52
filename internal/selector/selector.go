// Package selector computes stable CSS locators for DOM elements.
//
// Resolution order: a document-unique id, then the first priority attribute
// whose tag[attr="value"] form matches exactly one element, then a positional
// nth-of-type path rooted at body or at the nearest uniquely identified
// ancestor.
package selector

import (
	"fmt"
	"strings"
)

// PriorityAttrs lists the attributes tried after the id, in order.
var PriorityAttrs = []string{"data-testid", "name", "aria-label", "placeholder", "title", "alt"}

// Element is the view of a DOM element the resolver needs.
type Element interface {
	// Tag returns the lower-case tag name.
	Tag() string
	ID() string
	Attr(name string) (string, bool)
	// Parent returns nil at the document root or when the node is detached.
	Parent() Element
	// NthOfType returns the 1-based position among same-tag siblings.
	NthOfType() int
}

// Document answers match counts for candidate selectors.
type Document interface {
	CountID(id string) int
	CountAttr(tag, attr, value string) int
}

// Resolve returns the locator for el, or "" when el is not attached under body.
func Resolve(doc Document, el Element) string {
	if el == nil || !attached(el) {
		return ""
	}
	if id := el.ID(); id != "" && doc.CountID(id) == 1 {
		return "#" + EscapeIdent(id)
	}
	tag := el.Tag()
	for _, attr := range PriorityAttrs {
		v, ok := el.Attr(attr)
		if !ok || v == "" {
			continue
		}
		if doc.CountAttr(tag, attr, v) == 1 {
			return fmt.Sprintf(`%s[%s="%s"]`, tag, attr, EscapeString(v))
		}
	}
	return positional(doc, el)
}

func positional(doc Document, el Element) string {
	var levels []string
	root := "body"
	for cur, first := el, true; cur != nil && !isBody(cur); cur, first = cur.Parent(), false {
		if !first {
			if id := cur.ID(); id != "" && doc.CountID(id) == 1 {
				root = "#" + EscapeIdent(id)
				break
			}
		}
		levels = append(levels, fmt.Sprintf("%s:nth-of-type(%d)", cur.Tag(), cur.NthOfType()))
	}
	if len(levels) == 0 {
		return root
	}
	parts := make([]string, 0, len(levels)+1)
	parts = append(parts, root)
	for i := len(levels) - 1; i >= 0; i-- {
		parts = append(parts, levels[i])
	}
	return strings.Join(parts, " > ")
}

func attached(el Element) bool {
	for cur := el; cur != nil; cur = cur.Parent() {
		if isBody(cur) {
			return true
		}
	}
	return false
}

func isBody(el Element) bool { return el.Tag() == "body" }
