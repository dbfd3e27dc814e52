package selector

// Node is one element in a Lineage chain as gathered in the page.
type Node struct {
	Tag   string            `json:"tag"`
	ID    string            `json:"id,omitempty"`
	Attrs map[string]string `json:"attrs,omitempty"`
	Nth   int               `json:"nth"`
}

// AttrCount is the number of tag elements whose attr equals value.
type AttrCount struct {
	Tag   string `json:"tag"`
	Attr  string `json:"attr"`
	Value string `json:"value"`
	Count int    `json:"count"`
}

// Lineage is the set of DOM facts an in-page agent collects about an
// interacted element: its ancestor chain (element first, ending at body when
// attached) and the document-wide match counts the resolver will ask for.
type Lineage struct {
	Chain      []Node         `json:"chain"`
	IDCounts   map[string]int `json:"idCounts,omitempty"`
	AttrCounts []AttrCount    `json:"attrCounts,omitempty"`
}

// Resolve resolves the first node of the chain.
func (l *Lineage) Resolve() string {
	if l == nil || len(l.Chain) == 0 {
		return ""
	}
	return Resolve(l, lineageElement{l: l, i: 0})
}

func (l *Lineage) CountID(id string) int { return l.IDCounts[id] }

func (l *Lineage) CountAttr(tag, attr, value string) int {
	for _, c := range l.AttrCounts {
		if c.Tag == tag && c.Attr == attr && c.Value == value {
			return c.Count
		}
	}
	return 0
}

type lineageElement struct {
	l *Lineage
	i int
}

func (e lineageElement) node() Node { return e.l.Chain[e.i] }

func (e lineageElement) Tag() string    { return e.node().Tag }
func (e lineageElement) ID() string     { return e.node().ID }
func (e lineageElement) NthOfType() int { return e.node().Nth }

func (e lineageElement) Attr(name string) (string, bool) {
	v, ok := e.node().Attrs[name]
	return v, ok
}

func (e lineageElement) Parent() Element {
	if e.i+1 >= len(e.l.Chain) {
		return nil
	}
	return lineageElement{l: e.l, i: e.i + 1}
}
