package doctree

import (
	"fmt"
	"math"
	"strconv"

	"gopkg.in/yaml.v3"
)

// MarshalYAML renders the node as an ordered YAML tree.
func (n *Node) MarshalYAML() (any, error) {
	return toYAML(n), nil
}

// UnmarshalYAML decodes a YAML document into n, keeping mapping key order.
func (n *Node) UnmarshalYAML(value *yaml.Node) error {
	v, err := fromYAML(value)
	if err != nil {
		return err
	}
	*n = *v
	return nil
}

// DecodeYAMLDocument parses a structured quote written as YAML. The root must
// be a mapping.
func DecodeYAMLDocument(data []byte) (*Node, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode yaml document: %w", err)
	}
	n, err := fromYAML(&doc)
	if err != nil {
		return nil, fmt.Errorf("decode yaml document: %w", err)
	}
	if !n.IsObject() {
		return nil, ErrNotObject
	}
	return n, nil
}

func toYAML(n *Node) *yaml.Node {
	switch n.Kind() {
	case Bool:
		return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!bool", Value: strconv.FormatBool(n.truth)}
	case Number:
		tag := "!!float"
		if n.num == math.Trunc(n.num) && math.Abs(n.num) < 1<<53 {
			tag = "!!int"
		}
		return &yaml.Node{Kind: yaml.ScalarNode, Tag: tag, Value: strconv.FormatFloat(n.num, 'f', -1, 64)}
	case String:
		return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: n.str}
	case Array:
		out := &yaml.Node{Kind: yaml.SequenceNode, Tag: "!!seq"}
		for _, it := range n.items {
			out.Content = append(out.Content, toYAML(it))
		}
		return out
	case Object:
		out := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
		for _, k := range n.keys {
			out.Content = append(out.Content,
				&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: k},
				toYAML(n.fields[k]))
		}
		return out
	}
	return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!null", Value: "null"}
}

func fromYAML(y *yaml.Node) (*Node, error) {
	switch y.Kind {
	case yaml.DocumentNode:
		if len(y.Content) == 0 {
			return NewNull(), nil
		}
		return fromYAML(y.Content[0])
	case yaml.AliasNode:
		return fromYAML(y.Alias)
	case yaml.SequenceNode:
		arr := NewArray()
		for _, c := range y.Content {
			v, err := fromYAML(c)
			if err != nil {
				return nil, err
			}
			arr.items = append(arr.items, v)
		}
		return arr, nil
	case yaml.MappingNode:
		obj := NewObject()
		for i := 0; i+1 < len(y.Content); i += 2 {
			key := y.Content[i].Value
			v, err := fromYAML(y.Content[i+1])
			if err != nil {
				return nil, err
			}
			if _, seen := obj.fields[key]; !seen {
				obj.keys = append(obj.keys, key)
			}
			obj.fields[key] = v
		}
		return obj, nil
	case yaml.ScalarNode:
		switch y.ShortTag() {
		case "!!null":
			return NewNull(), nil
		case "!!bool":
			var b bool
			if err := y.Decode(&b); err != nil {
				return nil, err
			}
			return NewBool(b), nil
		case "!!int", "!!float":
			var f float64
			if err := y.Decode(&f); err != nil {
				return nil, err
			}
			return NewNumber(f), nil
		}
		return NewString(y.Value), nil
	}
	return nil, fmt.Errorf("line %d: unsupported yaml node", y.Line)
}
