package tools

import (
	"bytes"
	"context"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/DeusData/errsel/internal/report"
	"github.com/DeusData/errsel/internal/selector"
	"github.com/DeusData/errsel/internal/store"
)

type matchInfo struct {
	Signature string `json:"signature"`
	Project   string `json:"project,omitempty"`
	Path      string `json:"path,omitempty"`
	Builtin   bool   `json:"builtin,omitempty"`
}

func (s *Server) handleLookupSelector(_ context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, err := parseArgs(req)
	if err != nil {
		return errResult(err.Error()), nil
	}

	raw := getStringArg(args, "selector")
	if raw == "" {
		return errResult("selector is required"), nil
	}
	sel, err := selector.ParseRevert(raw)
	if err != nil {
		return errResult(err.Error()), nil
	}

	matches := []matchInfo{}
	if sig, ok := selector.Builtin(sel); ok {
		matches = append(matches, matchInfo{Signature: sig, Builtin: true})
	}
	recs, err := s.store.LookupSelector(sel)
	if err != nil {
		return errResult(fmt.Sprintf("lookup failed: %v", err)), nil
	}
	for _, r := range recs {
		matches = append(matches, matchInfo{Signature: r.Signature, Project: r.Project, Path: r.Path})
	}

	return jsonResult(map[string]any{
		"selector": sel.String(),
		"matches":  matches,
	}), nil
}

func (s *Server) handleListErrorSelectors(_ context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, err := parseArgs(req)
	if err != nil {
		return errResult(err.Error()), nil
	}

	project := getStringArg(args, "project")
	if project == "" {
		return errResult("project is required"), nil
	}
	name := getStringArg(args, "format")
	if name == "" {
		name = string(report.FormatJSON)
	}
	format, err := report.ParseFormat(name)
	if err != nil {
		return errResult(err.Error()), nil
	}
	if _, err := s.store.GetProject(project); err != nil {
		return errResult(fmt.Sprintf("project not found: %s", project)), nil
	}

	recs, err := s.store.ListErrors(project)
	if err != nil {
		return errResult(fmt.Sprintf("list errors: %v", err)), nil
	}
	r := reportFromRecords(recs)

	if format == report.FormatJSON {
		return jsonResult(map[string]any{
			"project": project,
			"count":   r.Count(),
			"files":   filesOrEmpty(r),
		}), nil
	}

	var buf bytes.Buffer
	if err := report.Write(&buf, r, format); err != nil {
		return errResult(fmt.Sprintf("render: %v", err)), nil
	}
	return textResult(buf.String()), nil
}

// reportFromRecords regroups stored rows by artifact, keeping their order.
func reportFromRecords(recs []store.ErrorRecord) *report.Report {
	b := report.NewBuilder()
	for _, r := range recs {
		b.Add(r.Path, r.Signature, r.Selector)
	}
	return b.Build()
}
