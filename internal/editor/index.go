package editor

import (
	"github.com/dgallion1/devistree/internal/devis"
	"github.com/dgallion1/devistree/internal/doctree"
)

// Index maps stable identifiers to their path in one document version. It
// is a snapshot: any structural change to the document invalidates it.
type Index map[string]doctree.Path

// BuildIndex walks the whole document and records the path of every object
// carrying an identifier. Objects without one are left out. If an identifier
// appears twice, the first occurrence in document order wins.
func BuildIndex(root *doctree.Node) Index {
	ix := make(Index)
	doctree.Walk(root, func(p doctree.Path, n *doctree.Node) bool {
		if id, ok := devis.ID(n); ok {
			if _, seen := ix[id]; !seen {
				ix[id] = p
			}
		}
		return true
	})
	return ix
}

// Lookup returns the path of id.
func (ix Index) Lookup(id string) (doctree.Path, bool) {
	p, ok := ix[id]
	return p, ok
}
