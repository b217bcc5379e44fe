package editor

import (
	"math"

	"github.com/dgallion1/devistree/internal/devis"
	"github.com/dgallion1/devistree/internal/doctree"
)

// Highlight points the document viewer at a region of the source file:
// four corner points in document-space inches on a 1-based page.
type Highlight struct {
	Polygon [8]float64 `json:"polygon"`
	Page    int        `json:"page"`
}

// HighlightOf reads the spatial provenance of a node. It needs a polygon of
// exactly eight numbers and a positive integral page.
func HighlightOf(n *doctree.Node) (*Highlight, bool) {
	poly, ok := n.Field(devis.FieldPolygon)
	if !ok || !poly.IsArray() || poly.Len() != 8 {
		return nil, false
	}
	page, ok := n.Field(devis.FieldPage)
	if !ok {
		return nil, false
	}
	pf, ok := page.Float()
	if !ok || pf < 1 || pf != math.Trunc(pf) {
		return nil, false
	}
	h := &Highlight{Page: int(pf)}
	for i, it := range poly.Items() {
		f, ok := it.Float()
		if !ok {
			return nil, false
		}
		h.Polygon[i] = f
	}
	return h, true
}

// Viewer is the external paginated document viewer. A nil highlight clears
// the overlay.
type Viewer interface {
	Show(h *Highlight)
}

// ViewerFunc adapts a function to Viewer.
type ViewerFunc func(h *Highlight)

func (f ViewerFunc) Show(h *Highlight) { f(h) }

// Relay forwards hover highlights to a Viewer.
type Relay struct {
	viewer Viewer
	dedupe bool
	pages  int

	last    *Highlight
	emitted bool
}

// RelayOption configures a Relay.
type RelayOption func(*Relay)

// WithDedupe suppresses an event equal to the previously forwarded one.
func WithDedupe() RelayOption {
	return func(r *Relay) { r.dedupe = true }
}

// WithPageCount drops highlights pointing past the last page of the source
// file. Zero means the page count is unknown.
func WithPageCount(n int) RelayOption {
	return func(r *Relay) { r.pages = n }
}

// NewRelay returns a relay forwarding to v, which may be nil.
func NewRelay(v Viewer, opts ...RelayOption) *Relay {
	r := &Relay{viewer: v}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Emit forwards h (nil to clear) and reports whether it was forwarded.
func (r *Relay) Emit(h *Highlight) bool {
	if h != nil && r.pages > 0 && h.Page > r.pages {
		return false
	}
	if r.dedupe && r.emitted && sameHighlight(r.last, h) {
		return false
	}
	r.last = h
	r.emitted = true
	if r.viewer != nil {
		r.viewer.Show(h)
	}
	return true
}

// Last returns the most recently forwarded highlight.
func (r *Relay) Last() *Highlight { return r.last }

func sameHighlight(a, b *Highlight) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
