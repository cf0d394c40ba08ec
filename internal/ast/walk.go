package ast

// WalkFunc is called for each mapping visited by Walk.
// Return false to stop the traversal.
type WalkFunc func(m *Mapping) bool

// Walk visits every mapping reachable from node in pre-order: a mapping is
// passed to fn before any of its fields are descended. Mapping fields are
// descended when they are mappings, and sequence fields are descended one
// element at a time when the element is a mapping. Scalars, and sequence
// elements that are not mappings, end the descent. Walk reports whether the
// traversal ran to completion.
func Walk(node Node, fn WalkFunc) bool {
	m, ok := node.(*Mapping)
	if !ok {
		return true
	}
	return walkMapping(m, fn)
}

func walkMapping(m *Mapping, fn WalkFunc) bool {
	if !fn(m) {
		return false
	}
	for _, key := range m.keys {
		if !walkField(m.values[key], fn) {
			return false
		}
	}
	return true
}

func walkField(value Node, fn WalkFunc) bool {
	switch v := value.(type) {
	case *Mapping:
		return walkMapping(v, fn)
	case Sequence:
		for _, item := range v {
			if child, ok := item.(*Mapping); ok {
				if !walkMapping(child, fn) {
					return false
				}
			}
		}
	case Scalar:
	}
	return true
}

// Count returns the number of mappings Walk would visit from node.
func Count(node Node) int {
	n := 0
	Walk(node, func(*Mapping) bool {
		n++
		return true
	})
	return n
}
