package report

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"gitlab.com/tozd/go/errors"
)

const (
	Title       = "Custom Error Selectors"
	NoneMessage = "No custom errors found in the contracts."
)

// Format names an output rendering.
type Format string

const (
	FormatMarkdown Format = "markdown"
	FormatJSON     Format = "json"
	FormatHTML     Format = "html"
)

// ParseFormat maps a format name to a Format. Empty means markdown.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "markdown", "md":
		return FormatMarkdown, nil
	case "json":
		return FormatJSON, nil
	case "html":
		return FormatHTML, nil
	default:
		return "", errors.Errorf("unknown report format %q (want markdown, json or html)", s)
	}
}

// Write renders r in the given format.
func Write(w io.Writer, r *Report, format Format) error {
	switch format {
	case FormatMarkdown, "":
		return WriteMarkdown(w, r)
	case FormatJSON:
		return WriteJSON(w, r)
	case FormatHTML:
		return WriteHTML(w, r)
	default:
		return errors.Errorf("unknown report format %q", format)
	}
}

// WriteMarkdown renders the report:
//
//	# Custom Error Selectors
//
//	## File: `out/A.sol/A.json`
//
//	- **Unauthorized()** → `0x82b42900`
//
// A report without entries carries a single explanatory line instead of
// file sections.
func WriteMarkdown(w io.Writer, r *Report) error {
	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, "# %s\n\n", Title)
	if r.Empty() {
		fmt.Fprintf(bw, "%s\n", NoneMessage)
	} else {
		for _, f := range r.Files {
			fmt.Fprintf(bw, "## File: `%s`\n\n", f.Path)
			for _, e := range f.Entries {
				fmt.Fprintf(bw, "- **%s** → `%s`\n", e.Signature, e.Selector)
			}
			bw.WriteString("\n")
		}
	}
	return errors.WithStack(bw.Flush())
}

// WriteJSON renders the report as indented JSON.
func WriteJSON(w io.Writer, r *Report) error {
	if r == nil {
		r = &Report{}
	}
	if r.Files == nil {
		r = &Report{Files: []File{}}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return errors.WithStack(enc.Encode(r))
}

var htmlRenderer = goldmark.New(goldmark.WithExtensions(extension.GFM))

// WriteHTML renders the Markdown report as an HTML fragment.
func WriteHTML(w io.Writer, r *Report) error {
	var md bytes.Buffer
	if err := WriteMarkdown(&md, r); err != nil {
		return err
	}
	if err := htmlRenderer.Convert(md.Bytes(), w); err != nil {
		return errors.Errorf("render html: %w", err)
	}
	return nil
}
