// Package ast models the JSON syntax trees emitted by the Solidity compiler
// as a closed set of node variants: Mapping, Sequence and Scalar.
package ast

import "encoding/json"

// Kind identifies the variant of a Node.
type Kind uint8

const (
	KindMapping Kind = iota + 1
	KindSequence
	KindScalar
)

func (k Kind) String() string {
	switch k {
	case KindMapping:
		return "mapping"
	case KindSequence:
		return "sequence"
	case KindScalar:
		return "scalar"
	}
	return "unknown"
}

// Node is one of *Mapping, Sequence or Scalar. The interface is sealed.
type Node interface {
	Kind() Kind
	node()
}

// Mapping is an object node. Keys keep their document order.
type Mapping struct {
	keys   []string
	values map[string]Node
}

// NewMapping returns an empty mapping.
func NewMapping() *Mapping {
	return &Mapping{values: make(map[string]Node)}
}

// Set adds or replaces a field. A replaced field keeps its original position.
func (m *Mapping) Set(key string, value Node) {
	if _, ok := m.values[key]; !ok {
		m.keys = append(m.keys, key)
	}
	m.values[key] = value
}

// Len returns the number of fields.
func (m *Mapping) Len() int { return len(m.keys) }

// Keys returns the field names in document order.
func (m *Mapping) Keys() []string {
	out := make([]string, len(m.keys))
	copy(out, m.keys)
	return out
}

// Get returns the field value and whether it is present.
func (m *Mapping) Get(key string) (Node, bool) {
	if m == nil {
		return nil, false
	}
	v, ok := m.values[key]
	return v, ok
}

// GetString returns the field as a string. ok is false when the field is
// missing or is not a string scalar.
func (m *Mapping) GetString(key string) (string, bool) {
	v, ok := m.Get(key)
	if !ok {
		return "", false
	}
	return AsString(v)
}

// Mapping returns the field as a mapping.
func (m *Mapping) Mapping(key string) (*Mapping, bool) {
	v, ok := m.Get(key)
	if !ok {
		return nil, false
	}
	child, ok := v.(*Mapping)
	return child, ok
}

// Sequence returns the field as a sequence.
func (m *Mapping) Sequence(key string) (Sequence, bool) {
	v, ok := m.Get(key)
	if !ok {
		return nil, false
	}
	seq, ok := v.(Sequence)
	return seq, ok
}

// Each calls fn for every field in document order until fn returns false.
func (m *Mapping) Each(fn func(key string, value Node) bool) {
	for _, k := range m.keys {
		if !fn(k, m.values[k]) {
			return
		}
	}
}

func (*Mapping) Kind() Kind { return KindMapping }
func (*Mapping) node()      {}

// Sequence is an array node.
type Sequence []Node

func (Sequence) Kind() Kind { return KindSequence }
func (Sequence) node()      {}

// Scalar holds a string, json.Number, bool or nil.
type Scalar struct {
	Value any
}

func (Scalar) Kind() Kind { return KindScalar }
func (Scalar) node()      {}

// AsString returns the string held by a scalar node.
func AsString(n Node) (string, bool) {
	s, ok := n.(Scalar)
	if !ok {
		return "", false
	}
	str, ok := s.Value.(string)
	return str, ok
}

// AsInt returns the integer held by a numeric scalar node.
func AsInt(n Node) (int64, bool) {
	s, ok := n.(Scalar)
	if !ok {
		return 0, false
	}
	num, ok := s.Value.(json.Number)
	if !ok {
		return 0, false
	}
	i, err := num.Int64()
	if err != nil {
		return 0, false
	}
	return i, true
}

// Lookup follows a path of mapping keys starting at n. It reports false as
// soon as a key is missing or an intermediate node is not a mapping.
func Lookup(n Node, path ...string) (Node, bool) {
	cur := n
	for _, key := range path {
		m, ok := cur.(*Mapping)
		if !ok {
			return nil, false
		}
		cur, ok = m.Get(key)
		if !ok {
			return nil, false
		}
	}
	return cur, cur != nil
}

// LookupString is Lookup followed by AsString.
func LookupString(n Node, path ...string) (string, bool) {
	v, ok := Lookup(n, path...)
	if !ok {
		return "", false
	}
	return AsString(v)
}
