// Package report aggregates signatures and selectors per artifact and
// renders them.
package report

import (
	"github.com/DeusData/errsel/internal/selector"
)

// Entry is one signature and its selector.
type Entry struct {
	Signature string            `json:"signature"`
	Selector  selector.Selector `json:"selector"`
}

// File groups the entries of one artifact.
type File struct {
	Path    string  `json:"path"`
	Entries []Entry `json:"errors"`
}

// Report is the ordered result of one run. It is not modified after Build.
type Report struct {
	Files []File `json:"files"`
}

// Empty reports whether no file carries any entry.
func (r *Report) Empty() bool {
	return r == nil || len(r.Files) == 0
}

// Count returns the total number of entries.
func (r *Report) Count() int {
	if r == nil {
		return 0
	}
	n := 0
	for _, f := range r.Files {
		n += len(f.Entries)
	}
	return n
}

// Builder accumulates entries in insertion order. A Builder is not safe
// for concurrent use.
type Builder struct {
	order []string
	files map[string]*fileBuilder
}

type fileBuilder struct {
	entries []Entry
	seen    map[string]int
}

// NewBuilder returns an empty Builder.
func NewBuilder() *Builder {
	return &Builder{files: make(map[string]*fileBuilder)}
}

// Touch registers path without adding an entry. Files that never receive
// an entry are left out of the built report.
func (b *Builder) Touch(path string) {
	b.file(path)
}

// Add records signature under path. A signature already present for the
// same path keeps its first position and takes the latest selector.
func (b *Builder) Add(path, signature string, sel selector.Selector) {
	fb := b.file(path)
	if i, ok := fb.seen[signature]; ok {
		fb.entries[i].Selector = sel
		return
	}
	fb.seen[signature] = len(fb.entries)
	fb.entries = append(fb.entries, Entry{Signature: signature, Selector: sel})
}

func (b *Builder) file(path string) *fileBuilder {
	fb, ok := b.files[path]
	if !ok {
		fb = &fileBuilder{seen: make(map[string]int)}
		b.files[path] = fb
		b.order = append(b.order, path)
	}
	return fb
}

// Build returns the report. Files without entries are omitted.
func (b *Builder) Build() *Report {
	r := &Report{Files: []File{}}
	for _, path := range b.order {
		fb := b.files[path]
		if len(fb.entries) == 0 {
			continue
		}
		entries := make([]Entry, len(fb.entries))
		copy(entries, fb.entries)
		r.Files = append(r.Files, File{Path: path, Entries: entries})
	}
	return r
}
