// Package editor is the structured-document editing core: normalization
// passes run on every inbound document, the identifier index used to
// resolve drag events, the move engine and the interaction controller that
// renders the tree and turns user events into new document versions.
//
// Every operation returns a new document root and leaves its input
// untouched. Operations that change nothing return the input root itself so
// callers can detect a no-op by pointer comparison.
package editor

import (
	"github.com/google/uuid"

	"github.com/dgallion1/devistree/internal/devis"
	"github.com/dgallion1/devistree/internal/doctree"
)

// IDFunc generates a fresh stable identifier.
type IDFunc func() string

// NewID is the default IDFunc.
func NewID() string { return uuid.NewString() }

// EnsureIDs gives every object below the root that lacks a stable
// identifier a fresh one. Existing identifiers are never touched, so running
// it again on its own output returns the same root.
func EnsureIDs(root *doctree.Node, gen IDFunc) *doctree.Node {
	if gen == nil {
		gen = NewID
	}
	return ensureIDs(root, gen, true)
}

func ensureIDs(n *doctree.Node, gen IDFunc, isRoot bool) *doctree.Node {
	switch n.Kind() {
	case doctree.Array:
		items := n.Items()
		changed := false
		for i, it := range items {
			if upd := ensureIDs(it, gen, false); upd != it {
				items[i] = upd
				changed = true
			}
		}
		if !changed {
			return n
		}
		return doctree.NewArray(items...).WithIssue(n.HasIssue())

	case doctree.Object:
		out := n
		for _, k := range n.Keys() {
			v, _ := n.Field(k)
			if upd := ensureIDs(v, gen, false); upd != v {
				out = out.With(k, upd)
			}
		}
		if !isRoot {
			if _, ok := devis.ID(n); !ok {
				out = out.With(devis.FieldID, doctree.NewString(gen()))
			}
		}
		return out
	}
	return n
}
