package doctree

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"slices"
	"strconv"
)

// ErrNotObject is returned when a document root is not a JSON object.
var ErrNotObject = errors.New("document root must be an object")

// Decode parses any JSON value into a Node, keeping object key order.
func Decode(data []byte) (*Node, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	n, err := decodeValue(dec)
	if err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, fmt.Errorf("decode document: trailing data after value")
	}
	return n, nil
}

// DecodeDocument parses a structured quote. The root must be an object.
func DecodeDocument(data []byte) (*Node, error) {
	n, err := Decode(data)
	if err != nil {
		return nil, err
	}
	if !n.IsObject() {
		return nil, ErrNotObject
	}
	return n, nil
}

func decodeValue(dec *json.Decoder) (*Node, error) {
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	switch t := tok.(type) {
	case nil:
		return NewNull(), nil
	case bool:
		return NewBool(t), nil
	case string:
		return NewString(t), nil
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return nil, fmt.Errorf("number %q: %w", t.String(), err)
		}
		return NewNumber(f), nil
	case json.Delim:
		switch t {
		case '{':
			obj := NewObject()
			for dec.More() {
				keyTok, err := dec.Token()
				if err != nil {
					return nil, err
				}
				key, ok := keyTok.(string)
				if !ok {
					return nil, fmt.Errorf("unexpected object key %v", keyTok)
				}
				v, err := decodeValue(dec)
				if err != nil {
					return nil, err
				}
				if _, seen := obj.fields[key]; !seen {
					obj.keys = append(obj.keys, key)
				}
				obj.fields[key] = v
			}
			if _, err := dec.Token(); err != nil {
				return nil, err
			}
			return obj, nil
		case '[':
			arr := NewArray()
			for dec.More() {
				v, err := decodeValue(dec)
				if err != nil {
					return nil, err
				}
				arr.items = append(arr.items, v)
			}
			if _, err := dec.Token(); err != nil {
				return nil, err
			}
			return arr, nil
		}
	}
	return nil, fmt.Errorf("unexpected token %v", tok)
}

// MarshalJSON encodes the node with object keys in document order. The
// aggregated issue flag is not part of the encoding.
func (n *Node) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	if err := encode(&buf, n); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// UnmarshalJSON decodes into n, replacing its contents.
func (n *Node) UnmarshalJSON(data []byte) error {
	v, err := Decode(data)
	if err != nil {
		return err
	}
	*n = *v
	return nil
}

func encode(buf *bytes.Buffer, n *Node) error {
	switch n.Kind() {
	case Null:
		buf.WriteString("null")
	case Bool:
		buf.WriteString(strconv.FormatBool(n.truth))
	case Number:
		buf.Write(strconv.AppendFloat(nil, n.num, 'f', -1, 64))
	case String:
		b, err := json.Marshal(n.str)
		if err != nil {
			return err
		}
		buf.Write(b)
	case Array:
		buf.WriteByte('[')
		for i, it := range n.items {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := encode(buf, it); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	case Object:
		buf.WriteByte('{')
		for i, k := range n.keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			b, err := json.Marshal(k)
			if err != nil {
				return err
			}
			buf.Write(b)
			buf.WriteByte(':')
			if err := encode(buf, n.fields[k]); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	}
	return nil
}

// ToAny converts the node into plain Go values (map[string]any, []any,
// float64, string, bool, nil) for encoders that do not know about Node.
func ToAny(n *Node) any {
	switch n.Kind() {
	case Bool:
		return n.truth
	case Number:
		return n.num
	case String:
		return n.str
	case Array:
		out := make([]any, len(n.items))
		for i, it := range n.items {
			out[i] = ToAny(it)
		}
		return out
	case Object:
		out := make(map[string]any, len(n.keys))
		for _, k := range n.keys {
			out[k] = ToAny(n.fields[k])
		}
		return out
	}
	return nil
}

// FromAny converts plain Go values produced by encoding/json (or literals in
// tests) into a Node. Map keys are ordered lexically since Go maps carry no
// order. Unknown types become null.
func FromAny(v any) *Node {
	switch t := v.(type) {
	case nil:
		return NewNull()
	case *Node:
		return orNull(t)
	case bool:
		return NewBool(t)
	case float64:
		return NewNumber(t)
	case float32:
		return NewNumber(float64(t))
	case int:
		return NewNumber(float64(t))
	case int64:
		return NewNumber(float64(t))
	case json.Number:
		f, _ := t.Float64()
		return NewNumber(f)
	case string:
		return NewString(t)
	case []any:
		arr := NewArray()
		for _, it := range t {
			arr.items = append(arr.items, FromAny(it))
		}
		return arr
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		slices.Sort(keys)
		obj := NewObject()
		for _, k := range keys {
			obj.keys = append(obj.keys, k)
			obj.fields[k] = FromAny(t[k])
		}
		return obj
	}
	return NewNull()
}
