package editor

import (
	"github.com/dgallion1/devistree/internal/doctree"
)

// Move relocates the array element at src into the array at dst, at
// position index. dst is addressed in the document as it is before the move,
// while index counts positions in the destination array after the element
// has been taken out of its source. Within one array this means moving the
// first of [A B C] to index 2 yields [B C A].
//
// The input root is returned unchanged when src is not an array element,
// dst is not an array, index is out of range, dst lies inside the moved
// element, or the element would land where it already is.
func Move(root *doctree.Node, src, dst doctree.Path, index int) *doctree.Node {
	srcArr, srcIdx, ok := src.ArrayIndex()
	if !ok {
		return root
	}
	from, ok := doctree.Get(root, srcArr)
	if !ok || !from.IsArray() {
		return root
	}
	node, ok := from.Item(srcIdx)
	if !ok {
		return root
	}
	if to, ok := doctree.Get(root, dst); !ok || !to.IsArray() {
		return root
	}
	if dst.HasPrefix(src) {
		return root
	}
	if dst.Equal(srcArr) && index == srcIdx {
		return root
	}

	dst = shiftedPath(dst, srcArr, srcIdx)
	removed := doctree.Delete(root, src)
	to, _ := doctree.Get(removed, dst)
	if index < 0 || index > to.Len() {
		return root
	}
	return doctree.Insert(removed, dst, index, node)
}

// shiftedPath rewrites p for the document where element srcIdx of srcArr has
// been removed: a path running through a later sibling moves one slot left.
func shiftedPath(p, srcArr doctree.Path, srcIdx int) doctree.Path {
	if len(p) <= len(srcArr) || !p.HasPrefix(srcArr) {
		return p
	}
	step := p[len(srcArr)]
	if !step.IsIndex || step.Index <= srcIdx {
		return p
	}
	out := append(doctree.Path(nil), p...)
	out[len(srcArr)] = doctree.IndexStep(step.Index - 1)
	return out
}

// DropTarget is where a dragged node was released: on another node,
// identified by its stable identifier, or on an array's drop zone.
type DropTarget struct {
	NodeID string       `json:"node_id,omitempty"`
	Array  doctree.Path `json:"-"`
}

// OnNode targets the node with the given identifier.
func OnNode(id string) DropTarget { return DropTarget{NodeID: id} }

// OnArray targets the drop zone of the array at p.
func OnArray(p doctree.Path) DropTarget { return DropTarget{Array: p} }

// ResolveDrop turns a drop into Move arguments. Dropping on a node inserts
// before it in its own array; dropping on an array zone appends. ok is false
// when the dragged node or the target cannot be resolved, or when a node is
// dropped on itself.
func ResolveDrop(root *doctree.Node, ix Index, dragged string, target DropTarget) (src, dst doctree.Path, index int, ok bool) {
	src, ok = ix.Lookup(dragged)
	if !ok {
		return nil, nil, 0, false
	}
	srcArr, srcIdx, ok := src.ArrayIndex()
	if !ok {
		return nil, nil, 0, false
	}

	switch {
	case target.NodeID != "":
		if target.NodeID == dragged {
			return nil, nil, 0, false
		}
		tp, found := ix.Lookup(target.NodeID)
		if !found {
			return nil, nil, 0, false
		}
		arr, i, isElem := tp.ArrayIndex()
		if !isElem {
			return nil, nil, 0, false
		}
		if arr.Equal(srcArr) && i > srcIdx {
			i--
		}
		return src, arr, i, true

	case target.Array != nil:
		arr, found := doctree.Get(root, target.Array)
		if !found || !arr.IsArray() {
			return nil, nil, 0, false
		}
		n := arr.Len()
		if target.Array.Equal(srcArr) {
			n--
		}
		return src, target.Array, n, true
	}
	return nil, nil, 0, false
}
