package doctree

import (
	"math"
	"slices"
)

// Kind tags the variant held by a Node.
type Kind uint8

const (
	Null Kind = iota
	Number
	String
	Bool
	Object
	Array
)

func (k Kind) String() string {
	switch k {
	case Null:
		return "null"
	case Number:
		return "number"
	case String:
		return "string"
	case Bool:
		return "bool"
	case Object:
		return "object"
	case Array:
		return "array"
	}
	return "unknown"
}

// Node is one value of a structured document. A nil *Node means "absent".
//
// Nodes are immutable once built: every update copies the containers on the
// path to the change and shares everything else, so a document handed to a
// caller can never be changed behind its back.
type Node struct {
	kind  Kind
	num   float64
	str   string
	truth bool

	keys   []string // Object key order
	fields map[string]*Node
	items  []*Node

	hasIssue bool // Aggregated issue flag, never serialized
}

// Field is a key/value pair used to build objects in order.
type Field struct {
	Key   string
	Value *Node
}

func NewNull() *Node { return &Node{kind: Null} }

// NewNumber builds a number node. Non-finite values are stored as 0 so that
// NaN and ±Inf can never enter a document.
func NewNumber(v float64) *Node {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		v = 0
	}
	return &Node{kind: Number, num: v}
}

func NewString(s string) *Node { return &Node{kind: String, str: s} }

func NewBool(b bool) *Node { return &Node{kind: Bool, truth: b} }

// NewArray builds an array node. Nil items are stored as null.
func NewArray(items ...*Node) *Node {
	n := &Node{kind: Array, items: make([]*Node, 0, len(items))}
	for _, it := range items {
		n.items = append(n.items, orNull(it))
	}
	return n
}

// NewObject builds an object node keeping the given key order. A repeated key
// keeps its first position and its last value.
func NewObject(fields ...Field) *Node {
	n := &Node{kind: Object, fields: make(map[string]*Node, len(fields))}
	for _, f := range fields {
		if _, ok := n.fields[f.Key]; !ok {
			n.keys = append(n.keys, f.Key)
		}
		n.fields[f.Key] = orNull(f.Value)
	}
	return n
}

func orNull(n *Node) *Node {
	if n == nil {
		return NewNull()
	}
	return n
}

// Kind reports the node variant. An absent (nil) node reports Null.
func (n *Node) Kind() Kind {
	if n == nil {
		return Null
	}
	return n.kind
}

func (n *Node) IsObject() bool { return n != nil && n.kind == Object }
func (n *Node) IsArray() bool { return n != nil && n.kind == Array }

// IsContainer reports whether the node can hold children.
func (n *Node) IsContainer() bool { return n.IsObject() || n.IsArray() }

// IsScalar reports whether the node is a present non-container value.
func (n *Node) IsScalar() bool { return n != nil && !n.IsContainer() }

func (n *Node) Float() (float64, bool) {
	if n == nil || n.kind != Number {
		return 0, false
	}
	return n.num, true
}

func (n *Node) Text() (string, bool) {
	if n == nil || n.kind != String {
		return "", false
	}
	return n.str, true
}

func (n *Node) Truth() (bool, bool) {
	if n == nil || n.kind != Bool {
		return false, false
	}
	return n.truth, true
}

// Len returns the element count of an array or the key count of an object.
func (n *Node) Len() int {
	switch {
	case n.IsArray():
		return len(n.items)
	case n.IsObject():
		return len(n.keys)
	}
	return 0
}

// Keys returns the object keys in document order.
func (n *Node) Keys() []string {
	if !n.IsObject() {
		return nil
	}
	return slices.Clone(n.keys)
}

// Field returns the value stored under key.
func (n *Node) Field(key string) (*Node, bool) {
	if !n.IsObject() {
		return nil, false
	}
	v, ok := n.fields[key]
	return v, ok
}

// Item returns the i-th array element.
func (n *Node) Item(i int) (*Node, bool) {
	if !n.IsArray() || i < 0 || i >= len(n.items) {
		return nil, false
	}
	return n.items[i], true
}

// Items returns the array elements. The slice is a copy; the elements are shared.
func (n *Node) Items() []*Node {
	if !n.IsArray() {
		return nil
	}
	return slices.Clone(n.items)
}

// HasIssue reports the aggregated issue flag set by the issue pass.
func (n *Node) HasIssue() bool { return n != nil && n.hasIssue }

// WithIssue returns a copy of n carrying the given aggregated issue flag.
func (n *Node) WithIssue(flag bool) *Node {
	if n == nil || n.hasIssue == flag {
		return n
	}
	c := n.shallowCopy()
	c.hasIssue = flag
	return c
}

// With returns a copy of the object with key set to v. Non-objects are
// returned unchanged.
func (n *Node) With(key string, v *Node) *Node {
	if !n.IsObject() {
		return n
	}
	c := n.shallowCopy()
	if _, ok := c.fields[key]; !ok {
		c.keys = append(c.keys, key)
	}
	c.fields[key] = orNull(v)
	return c
}

// Without returns a copy of the object with key removed.
func (n *Node) Without(key string) *Node {
	if !n.IsObject() {
		return n
	}
	if _, ok := n.fields[key]; !ok {
		return n
	}
	c := n.shallowCopy()
	delete(c.fields, key)
	c.keys = slices.DeleteFunc(c.keys, func(k string) bool { return k == key })
	return c
}

func (n *Node) shallowCopy() *Node {
	c := *n
	if n.kind == Object {
		c.keys = slices.Clone(n.keys)
		c.fields = make(map[string]*Node, len(n.fields))
		for k, v := range n.fields {
			c.fields[k] = v
		}
	}
	if n.kind == Array {
		c.items = slices.Clone(n.items)
	}
	return &c
}

func (n *Node) withItem(i int, v *Node) *Node {
	c := n.shallowCopy()
	c.items[i] = orNull(v)
	return c
}

func (n *Node) insertItem(i int, v *Node) *Node {
	c := n.shallowCopy()
	c.items = slices.Insert(c.items, i, orNull(v))
	return c
}

func (n *Node) removeItem(i int) *Node {
	c := n.shallowCopy()
	c.items = slices.Delete(c.items, i, i+1)
	return c
}

// Equal reports deep equality of two documents. Object key order and the
// aggregated issue flag are ignored.
func Equal(a, b *Node) bool {
	if a == b {
		return true
	}
	if a == nil || b == nil || a.kind != b.kind {
		return false
	}
	switch a.kind {
	case Null:
		return true
	case Number:
		return a.num == b.num
	case String:
		return a.str == b.str
	case Bool:
		return a.truth == b.truth
	case Array:
		if len(a.items) != len(b.items) {
			return false
		}
		for i := range a.items {
			if !Equal(a.items[i], b.items[i]) {
				return false
			}
		}
		return true
	case Object:
		if len(a.fields) != len(b.fields) {
			return false
		}
		for k, av := range a.fields {
			bv, ok := b.fields[k]
			if !ok || !Equal(av, bv) {
				return false
			}
		}
		return true
	}
	return false
}
