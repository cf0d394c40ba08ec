// Package extract finds custom error declarations in a compiler syntax tree
// and rebuilds their canonical signatures.
package extract

import (
	"iter"
	"strings"

	"gitlab.com/tozd/go/errors"

	"github.com/DeusData/errsel/internal/ast"
)

// ErrorDefinitionType is the nodeType of a custom error declaration.
const ErrorDefinitionType = "ErrorDefinition"

// placeholderType stands in for a parameter whose type string is absent.
const placeholderType = "?"

// ErrIncomplete is returned for declarations that lack a name or a
// parameter type under MissingTypeFail.
var ErrIncomplete = errors.Base("incomplete error declaration")

// MissingTypePolicy decides what happens to a declaration when one of its
// parameters has no type string.
type MissingTypePolicy int

const (
	// MissingTypeFail rejects the whole signature.
	MissingTypeFail MissingTypePolicy = iota
	// MissingTypePlaceholder keeps the signature with "?" in place of the type.
	MissingTypePlaceholder
)

func (p MissingTypePolicy) String() string {
	switch p {
	case MissingTypeFail:
		return "fail"
	case MissingTypePlaceholder:
		return "placeholder"
	}
	return "unknown"
}

// ParseMissingTypePolicy parses "fail" or "placeholder". The empty string
// selects MissingTypeFail.
func ParseMissingTypePolicy(s string) (MissingTypePolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "fail":
		return MissingTypeFail, nil
	case "placeholder":
		return MissingTypePlaceholder, nil
	}
	return MissingTypeFail, errors.Errorf("unknown missing type policy %q", s)
}

// Param is one declared parameter. Known is false when the declaration
// carried no type string for it.
type Param struct {
	Type  string
	Known bool
}

// Definition is a custom error declaration found in a tree.
type Definition struct {
	Name   string
	Params []Param
	// ID is the compiler node id, or -1 when absent.
	ID int64
	// Src is the compiler source range ("start:length:file"), if present.
	Src string
}

// Complete reports whether the definition has a name and every parameter
// type is known.
func (d Definition) Complete() bool {
	if d.Name == "" {
		return false
	}
	for _, p := range d.Params {
		if !p.Known {
			return false
		}
	}
	return true
}

// String renders the definition with "?" for unknown types. It is meant for
// diagnostics and never fails.
func (d Definition) String() string {
	return d.render()
}

// Signature returns the canonical Name(T1,T2,...) text.
func (d Definition) Signature(policy MissingTypePolicy) (string, error) {
	if d.Name == "" {
		return "", errors.Errorf("%w: missing name in %s", ErrIncomplete, d.render())
	}
	if policy == MissingTypeFail {
		for i, p := range d.Params {
			if !p.Known {
				return "", errors.Errorf("%w: parameter %d of %s has no type", ErrIncomplete, i, d.render())
			}
		}
	}
	return d.render(), nil
}

func (d Definition) render() string {
	var b strings.Builder
	b.WriteString(d.Name)
	b.WriteByte('(')
	for i, p := range d.Params {
		if i > 0 {
			b.WriteByte(',')
		}
		if p.Known {
			b.WriteString(p.Type)
		} else {
			b.WriteString(placeholderType)
		}
	}
	b.WriteByte(')')
	return b.String()
}

// Definitions yields every error declaration reachable from root in
// pre-order. Each call walks the tree afresh, so the sequence can be ranged
// over any number of times.
func Definitions(root ast.Node) iter.Seq[Definition] {
	return func(yield func(Definition) bool) {
		ast.Walk(root, func(m *ast.Mapping) bool {
			if t, _ := m.GetString("nodeType"); t != ErrorDefinitionType {
				return true
			}
			return yield(definitionFrom(m))
		})
	}
}

// Signatures yields the canonical signature of every declaration, or the
// error explaining why a declaration has none.
func Signatures(root ast.Node, policy MissingTypePolicy) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		for def := range Definitions(root) {
			if !yield(def.Signature(policy)) {
				return
			}
		}
	}
}

func definitionFrom(m *ast.Mapping) Definition {
	def := Definition{ID: -1}
	def.Name, _ = m.GetString("name")
	if v, ok := m.Get("id"); ok {
		if id, ok := ast.AsInt(v); ok {
			def.ID = id
		}
	}
	def.Src, _ = m.GetString("src")
	def.Params = params(m)
	return def
}

// params reads parameters.parameters. Any other shape counts as no
// parameters.
func params(m *ast.Mapping) []Param {
	list, ok := m.Mapping("parameters")
	if !ok {
		return nil
	}
	seq, ok := list.Sequence("parameters")
	if !ok {
		return nil
	}
	out := make([]Param, 0, len(seq))
	for _, item := range seq {
		t, known := ast.LookupString(item, "typeDescriptions", "typeString")
		out = append(out, Param{Type: t, Known: known})
	}
	return out
}
