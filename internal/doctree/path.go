package doctree

import (
	"slices"
	"strconv"
	"strings"
)

// Step is one hop of a Path: an object key or an array index.
type Step struct {
	Key     string
	Index   int
	IsIndex bool
}

// KeyStep and IndexStep build steps.
func KeyStep(k string) Step { return Step{Key: k} }
func IndexStep(i int) Step { return Step{Index: i, IsIndex: true} }

// arrayIndex resolves the step against an array. Digit-only keys are accepted
// so that "items.0" addresses the same element as "items[0]".
func (s Step) arrayIndex() (int, bool) {
	if s.IsIndex {
		return s.Index, s.Index >= 0
	}
	if s.Key == "" {
		return 0, false
	}
	i, err := strconv.Atoi(s.Key)
	if err != nil || i < 0 || strconv.Itoa(i) != s.Key {
		return 0, false
	}
	return i, true
}

// objectKey resolves the step against an object.
func (s Step) objectKey() string {
	if s.IsIndex {
		return strconv.Itoa(s.Index)
	}
	return s.Key
}

// Path addresses a node from the document root. The empty path is the root.
//
// Textual form: dot-separated keys, array indices as a bracketed suffix
// attached to the previous segment, e.g. devis_produits[0].sous_produits[2].
type Path []Step

// ParsePath parses the textual path form. Closing brackets are stripped, the
// string is split on '.' and '[', and empty tokens are discarded. A token that
// followed '[' and is a non-negative integer becomes an index step.
func ParsePath(s string) Path {
	s = strings.ReplaceAll(s, "]", "")
	var p Path
	bracket := false
	start := 0
	flush := func(end int) {
		if tok := s[start:end]; tok != "" {
			p = append(p, newStep(tok, bracket))
		}
	}
	for i := 0; i < len(s); i++ {
		if s[i] == '.' || s[i] == '[' {
			flush(i)
			bracket = s[i] == '['
			start = i + 1
		}
	}
	flush(len(s))
	return p
}

func newStep(tok string, bracket bool) Step {
	if bracket {
		if i, err := strconv.Atoi(tok); err == nil && i >= 0 {
			return IndexStep(i)
		}
	}
	return KeyStep(tok)
}

func (p Path) String() string {
	var sb strings.Builder
	for _, s := range p {
		if s.IsIndex {
			sb.WriteByte('[')
			sb.WriteString(strconv.Itoa(s.Index))
			sb.WriteByte(']')
			continue
		}
		if sb.Len() > 0 {
			sb.WriteByte('.')
		}
		sb.WriteString(s.Key)
	}
	return sb.String()
}

// Key returns a new path extended by an object key.
func (p Path) Key(k string) Path { return append(slices.Clip(p), KeyStep(k)) }

// Index returns a new path extended by an array index.
func (p Path) Index(i int) Path { return append(slices.Clip(p), IndexStep(i)) }

// Parent drops the last step. The root's parent is the root.
func (p Path) Parent() Path {
	if len(p) == 0 {
		return p
	}
	return p[:len(p)-1:len(p)-1]
}

// Last returns the final step.
func (p Path) Last() (Step, bool) {
	if len(p) == 0 {
		return Step{}, false
	}
	return p[len(p)-1], true
}

// ArrayIndex splits a path ending in an index step into the array path and
// the index.
func (p Path) ArrayIndex() (Path, int, bool) {
	last, ok := p.Last()
	if !ok || !last.IsIndex {
		return nil, 0, false
	}
	return p.Parent(), last.Index, true
}

// HasPrefix reports whether q is a prefix of p (or equal to it).
func (p Path) HasPrefix(q Path) bool {
	return len(q) <= len(p) && slices.Equal(p[:len(q)], q)
}

func (p Path) Equal(q Path) bool { return slices.Equal(p, q) }
