package editor

import (
	"github.com/dgallion1/devistree/internal/devis"
	"github.com/dgallion1/devistree/internal/doctree"
)

// FlagIssues recomputes the aggregated issue flag of the whole document.
//
// Every array held by the root is a collection of line items. A line item is
// flagged when it carries its own issue marker or when any of its sub-items
// is flagged; only the sub-item collection is descended into. A collection is
// flagged when any of its elements is, and so is the root. A sub-item field
// that is not an array counts as no children.
//
// Flags are recomputed from scratch, never patched, and the input root is
// returned when every flag already holds its computed value.
func FlagIssues(root *doctree.Node) *doctree.Node {
	if !root.IsObject() {
		return root
	}
	out := root
	flagged := false
	for _, k := range root.Keys() {
		v, _ := root.Field(k)
		if !v.IsArray() {
			continue
		}
		upd := flagCollection(v)
		if upd != v {
			out = out.With(k, upd)
		}
		flagged = flagged || upd.HasIssue()
	}
	return out.WithIssue(flagged)
}

func flagCollection(arr *doctree.Node) *doctree.Node {
	items := arr.Items()
	changed := false
	flagged := false
	for i, it := range items {
		upd := flagItem(it)
		if upd != it {
			items[i] = upd
			changed = true
		}
		flagged = flagged || upd.HasIssue()
	}
	out := arr
	if changed {
		out = doctree.NewArray(items...)
	}
	return out.WithIssue(flagged)
}

func flagItem(n *doctree.Node) *doctree.Node {
	switch {
	case n.IsArray():
		return flagCollection(n)
	case !n.IsObject():
		return n
	}
	out := n
	_, flag := devis.OwnIssue(n)
	if subs, ok := n.Field(devis.FieldSubItems); ok && subs.IsArray() {
		upd := flagCollection(subs)
		if upd != subs {
			out = out.With(devis.FieldSubItems, upd)
		}
		flag = flag || upd.HasIssue()
	}
	return out.WithIssue(flag)
}
