package tools

import (
	"encoding/json"
	"sync"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"gitlab.com/tozd/go/errors"

	"github.com/DeusData/errsel/internal/store"
)

// Version is reported to MCP clients.
var Version = "0.1.0"

// Server wraps the MCP server with tool handlers.
type Server struct {
	mcp   *mcp.Server
	store *store.Store
	// runMu serializes pipeline runs; each run writes the index in one transaction.
	runMu sync.Mutex
}

// NewServer creates a new MCP server with all tools registered.
func NewServer(s *store.Store) *Server {
	srv := &Server{
		store: s,
		mcp: mcp.NewServer(
			&mcp.Implementation{
				Name:    "errsel",
				Version: Version,
			},
			nil,
		),
	}
	srv.registerTools()
	return srv
}

// MCPServer returns the underlying MCP server.
func (s *Server) MCPServer() *mcp.Server {
	return s.mcp
}

func (s *Server) registerTools() {
	s.mcp.AddTool(&mcp.Tool{
		Name:        "extract_error_selectors",
		Description: "Extract every custom error declared in a Solidity project from its compiled AST artifacts, compute the 4-byte selector of each canonical signature (keccak256, first 4 bytes) and index them. Returns the errors grouped by artifact. Unchanged artifacts are served from the index.",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"project_path": {
					"type": "string",
					"description": "Path to the project root (the directory holding foundry.toml)."
				},
				"out_dir": {
					"type": "string",
					"description": "Artifact directory, absolute or relative to the project root. Defaults to the configured out_dir (out)."
				},
				"build": {
					"type": "boolean",
					"description": "Run the configured build command (forge build --ast) before extracting. Default false."
				}
			},
			"required": ["project_path"]
		}`),
	}, s.handleExtractErrorSelectors)

	s.mcp.AddTool(&mcp.Tool{
		Name:        "lookup_selector",
		Description: "Find which error a 4-byte selector belongs to, e.g. from revert data '0x82b42900...'. Searches every indexed project and the compiler's built-in Error(string) and Panic(uint256).",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"selector": {
					"type": "string",
					"description": "Selector as 8 hex digits, with or without 0x. Longer revert data is truncated to its first 4 bytes."
				}
			},
			"required": ["selector"]
		}`),
	}, s.handleLookupSelector)

	s.mcp.AddTool(&mcp.Tool{
		Name:        "list_error_selectors",
		Description: "List the indexed custom errors of one project, grouped by artifact, as JSON or as the Markdown report.",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"project": {
					"type": "string",
					"description": "Project name as returned by list_projects."
				},
				"format": {
					"type": "string",
					"description": "Output format: 'json' (default) or 'markdown'",
					"enum": ["json", "markdown"]
				}
			},
			"required": ["project"]
		}`),
	}, s.handleListErrorSelectors)

	s.mcp.AddTool(&mcp.Tool{
		Name:        "list_projects",
		Description: "List all indexed projects with their indexed_at timestamp, root path and error count.",
		InputSchema: json.RawMessage(`{"type": "object"}`),
	}, s.handleListProjects)

	s.mcp.AddTool(&mcp.Tool{
		Name:        "delete_project",
		Description: "Delete an indexed project and all its stored artifacts and selectors. This action is irreversible.",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"project_name": {
					"type": "string",
					"description": "Name of the project to delete"
				}
			},
			"required": ["project_name"]
		}`),
	}, s.handleDeleteProject)
}

// jsonResult marshals data to JSON and returns as tool result.
func jsonResult(data any) *mcp.CallToolResult {
	b, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return errResult("json marshal err=" + err.Error())
	}
	return textResult(string(b))
}

func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: text},
		},
	}
}

// errResult returns a tool result indicating an error.
func errResult(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: msg},
		},
		IsError: true,
	}
}

// parseArgs unmarshals the raw JSON arguments into a map.
func parseArgs(req *mcp.CallToolRequest) (map[string]any, error) {
	if req.Params == nil || len(req.Params.Arguments) == 0 {
		return map[string]any{}, nil
	}
	var m map[string]any
	if err := json.Unmarshal(req.Params.Arguments, &m); err != nil {
		return nil, errors.Errorf("invalid arguments: %w", err)
	}
	return m, nil
}

// getStringArg extracts a string argument from parsed args.
func getStringArg(args map[string]any, key string) string {
	v, ok := args[key]
	if !ok {
		return ""
	}
	s, ok := v.(string)
	if !ok {
		return ""
	}
	return s
}

// getBoolArg extracts a boolean argument from parsed args.
func getBoolArg(args map[string]any, key string) bool {
	v, ok := args[key]
	if !ok {
		return false
	}
	b, ok := v.(bool)
	if !ok {
		return false
	}
	return b
}
