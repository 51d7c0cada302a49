// Package payload gives optional, path-based access to untrusted webhook JSON.
//
// Provider payloads are deep trees where almost every field may be missing or
// null. A Node never fails on lookup: absent paths, explicit nulls and type
// mismatches all read as the zero value.
package payload

import (
	"encoding/json"
	"errors"
	"strconv"
	"strings"

	"github.com/buger/jsonparser"
)

// ErrInvalid is returned by Parse when the body is not a well-formed JSON
// object or array.
var ErrInvalid = errors.New("payload: invalid JSON document")

// Node is a view over one JSON value.
type Node struct {
	data []byte
	typ  jsonparser.ValueType
}

// Parse wraps a raw JSON document.
func Parse(data []byte) (Node, error) {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "" || !json.Valid([]byte(trimmed)) {
		return Node{}, ErrInvalid
	}
	switch trimmed[0] {
	case '{':
		return Node{data: []byte(trimmed), typ: jsonparser.Object}, nil
	case '[':
		return Node{data: []byte(trimmed), typ: jsonparser.Array}, nil
	}
	return Node{}, ErrInvalid
}

// MustParse is Parse for literals in tests and fixtures.
func MustParse(s string) Node {
	n, err := Parse([]byte(s))
	if err != nil {
		panic(err)
	}
	return n
}

// Exists reports whether the node holds a non-null value.
func (n Node) Exists() bool {
	return n.typ != jsonparser.NotExist && n.typ != jsonparser.Null && n.typ != jsonparser.Unknown
}

// Raw returns the underlying bytes. Strings are returned without quotes.
func (n Node) Raw() []byte { return n.data }

// Get walks path and returns the node found there. Numeric segments in
// brackets ("[0]") index arrays.
func (n Node) Get(path ...string) Node {
	if !n.Exists() {
		return Node{}
	}
	if len(path) == 0 {
		return n
	}
	value, typ, _, err := jsonparser.Get(n.data, path...)
	if err != nil {
		return Node{}
	}
	return Node{data: value, typ: typ}
}

// Has reports whether path resolves to a present key, even if its value is
// null. This mirrors a key-presence check on the decoded object.
func (n Node) Has(path ...string) bool {
	if !n.Exists() || len(path) == 0 {
		return false
	}
	_, typ, _, err := jsonparser.Get(n.data, path...)
	return err == nil && typ != jsonparser.NotExist
}

// String returns the string at path. Numbers and booleans are rendered in
// their JSON form so identifiers sent as numbers still compare as text.
func (n Node) String(path ...string) string {
	v := n.Get(path...)
	switch v.typ {
	case jsonparser.String:
		s, err := jsonparser.ParseString(v.data)
		if err != nil {
			return string(v.data)
		}
		return s
	case jsonparser.Number, jsonparser.Boolean:
		return string(v.data)
	}
	return ""
}

// Bool returns the boolean at path. Only a JSON true is true.
func (n Node) Bool(path ...string) bool {
	v := n.Get(path...)
	if v.typ != jsonparser.Boolean {
		return false
	}
	b, err := jsonparser.ParseBoolean(v.data)
	return err == nil && b
}

// Int returns the integer at path. Numeric strings and floats are accepted.
func (n Node) Int(path ...string) (int64, bool) {
	v := n.Get(path...)
	switch v.typ {
	case jsonparser.Number:
		if i, err := jsonparser.ParseInt(v.data); err == nil {
			return i, true
		}
		if f, err := jsonparser.ParseFloat(v.data); err == nil {
			return int64(f), true
		}
	case jsonparser.String:
		if i, err := strconv.ParseInt(strings.TrimSpace(string(v.data)), 10, 64); err == nil {
			return i, true
		}
	}
	return 0, false
}

// IsObject reports whether the node is a JSON object.
func (n Node) IsObject() bool { return n.typ == jsonparser.Object }

// Keys lists the keys of an object node in document order.
func (n Node) Keys() []string {
	if n.typ != jsonparser.Object {
		return nil
	}
	var keys []string
	_ = jsonparser.ObjectEach(n.data, func(key []byte, _ []byte, _ jsonparser.ValueType, _ int) error {
		keys = append(keys, string(key))
		return nil
	})
	return keys
}

// Array returns the elements of the array at path.
func (n Node) Array(path ...string) []Node {
	v := n.Get(path...)
	if v.typ != jsonparser.Array {
		return nil
	}
	var out []Node
	_, _ = jsonparser.ArrayEach(v.data, func(value []byte, typ jsonparser.ValueType, _ int, _ error) {
		out = append(out, Node{data: value, typ: typ})
	})
	return out
}

// Strings returns the string elements of the array at path, skipping
// anything that is not a string or number.
func (n Node) Strings(path ...string) []string {
	var out []string
	for _, el := range n.Array(path...) {
		if s := el.String(); s != "" {
			out = append(out, s)
		}
	}
	return out
}
