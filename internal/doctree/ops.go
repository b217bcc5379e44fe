package doctree

// child resolves one step below n.
func child(n *Node, s Step) (*Node, bool) {
	switch {
	case n.IsArray():
		i, ok := s.arrayIndex()
		if !ok {
			return nil, false
		}
		return n.Item(i)
	case n.IsObject():
		return n.Field(s.objectKey())
	}
	return nil, false
}

// Get returns the node at p. It reports false as soon as a step does not
// exist; missing intermediate containers are not an error.
func Get(root *Node, p Path) (*Node, bool) {
	n := root
	if n == nil {
		return nil, false
	}
	for _, s := range p {
		next, ok := child(n, s)
		if !ok {
			return nil, false
		}
		n = next
	}
	return n, true
}

// GetString is Get on the textual path form.
func GetString(root *Node, path string) (*Node, bool) {
	return Get(root, ParsePath(path))
}

// Set returns a document with v stored at p. The empty path returns v itself.
//
// Containers on the path are copied; the input is left untouched. Absent
// intermediate containers are created (an array for an index step, an object
// otherwise). If an existing intermediate cannot hold the next step (a scalar,
// or an array addressed by a non-numeric key) the input root is returned
// unchanged.
func Set(root *Node, p Path, v *Node) *Node {
	if len(p) == 0 {
		return v
	}
	out, ok := setAt(root, p, orNull(v))
	if !ok {
		return root
	}
	return out
}

func setAt(n *Node, p Path, v *Node) (*Node, bool) {
	s := p[0]
	if n == nil {
		n = emptyFor(s)
	}
	if !n.IsContainer() {
		return n, false
	}
	next := v
	if len(p) > 1 {
		existing, _ := child(n, s)
		if existing == nil {
			existing = emptyFor(p[1])
		}
		var ok bool
		if next, ok = setAt(existing, p[1:], v); !ok {
			return n, false
		}
	}
	return assign(n, s, next)
}

func emptyFor(s Step) *Node {
	if s.IsIndex {
		return NewArray()
	}
	return NewObject()
}

// assign stores v under one step of a container. Writing one past the end of
// an array appends; writing further pads with nulls.
func assign(n *Node, s Step, v *Node) (*Node, bool) {
	if n.IsObject() {
		return n.With(s.objectKey(), v), true
	}
	i, ok := s.arrayIndex()
	if !ok {
		return n, false
	}
	if i < len(n.items) {
		return n.withItem(i, v), true
	}
	c := n.shallowCopy()
	for len(c.items) < i {
		c.items = append(c.items, NewNull())
	}
	c.items = append(c.items, v)
	return c, true
}

// SetString is Set on the textual path form.
func SetString(root *Node, path string, v *Node) *Node {
	return Set(root, ParsePath(path), v)
}

// Delete returns a document with the node at p removed. Removing an array
// element shifts the following elements left; removing an object key drops
// that key only. A path that does not resolve leaves the root unchanged, as
// does the empty path.
func Delete(root *Node, p Path) *Node {
	if len(p) == 0 {
		return root
	}
	out, ok := deleteAt(root, p)
	if !ok {
		return root
	}
	return out
}

func deleteAt(n *Node, p Path) (*Node, bool) {
	s := p[0]
	if len(p) == 1 {
		switch {
		case n.IsObject():
			key := s.objectKey()
			if _, ok := n.fields[key]; !ok {
				return n, false
			}
			return n.Without(key), true
		case n.IsArray():
			i, ok := s.arrayIndex()
			if !ok || i >= len(n.items) {
				return n, false
			}
			return n.removeItem(i), true
		}
		return n, false
	}
	next, ok := child(n, s)
	if !ok {
		return n, false
	}
	updated, ok := deleteAt(next, p[1:])
	if !ok {
		return n, false
	}
	return assign(n, s, updated)
}

// DeleteString is Delete on the textual path form.
func DeleteString(root *Node, path string) *Node {
	return Delete(root, ParsePath(path))
}

// Insert returns a document with v inserted at index i of the array at p.
// Indices past the end, negative indices and non-array targets leave the
// root unchanged.
func Insert(root *Node, p Path, i int, v *Node) *Node {
	arr, ok := Get(root, p)
	if !ok || !arr.IsArray() || i < 0 || i > len(arr.items) {
		return root
	}
	return Set(root, p, arr.insertItem(i, v))
}

// Walk visits every node depth-first with its path. Returning false from fn
// skips the node's children.
func Walk(root *Node, fn func(p Path, n *Node) bool) {
	walk(root, nil, fn)
}

func walk(n *Node, p Path, fn func(Path, *Node) bool) {
	if n == nil || !fn(p, n) {
		return
	}
	switch n.kind {
	case Array:
		for i, it := range n.items {
			walk(it, p.Index(i), fn)
		}
	case Object:
		for _, k := range n.keys {
			walk(n.fields[k], p.Key(k), fn)
		}
	}
}
