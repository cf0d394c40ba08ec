package main

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/spf13/pflag"
	slogctx "github.com/veqryn/slog-context"

	"github.com/DeusData/errsel/internal/config"
	"github.com/DeusData/errsel/internal/selector"
	"github.com/DeusData/errsel/internal/tools"
)

// lookupCommand prints the known errors for each selector argument. It
// exits 1 when any selector matched nothing.
func lookupCommand(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	var indexPath, logLevel string
	fs := pflag.NewFlagSet("lookup", pflag.ContinueOnError)
	fs.StringVar(&indexPath, "index-path", "", "index database file (default ~/.cache/errsel/errsel.db)")
	fs.StringVar(&logLevel, "log-level", "warn", "log level: debug, info, warn or error")
	if code := parseFlags(fs, args, stderr); code >= 0 {
		return code
	}
	if fs.NArg() == 0 {
		fmt.Fprintln(stderr, "error: lookup needs at least one selector")
		return exitUsage
	}
	ctx, err := setupLogging(ctx, logLevel, stderr)
	if err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return exitUsage
	}

	sels := make([]selector.Selector, 0, fs.NArg())
	for _, a := range fs.Args() {
		sel, err := selector.ParseRevert(a)
		if err != nil {
			fmt.Fprintf(stderr, "error: %v\n", err)
			return exitUsage
		}
		sels = append(sels, sel)
	}

	cfg := config.DefaultConfig()
	if indexPath != "" {
		cfg.Index.Path = &indexPath
	}
	s, err := openStore(cfg)
	if err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return exitFail
	}
	defer s.Close()
	slogctx.Debug(ctx, "lookup.start", "db", s.Path(), "selectors", len(sels))

	tw := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
	code := exitOK
	for _, sel := range sels {
		found := false
		if sig, ok := selector.Builtin(sel); ok {
			fmt.Fprintf(tw, "%s\t%s\t(builtin)\n", sel, sig)
			found = true
		}
		recs, err := s.LookupSelector(sel)
		if err != nil {
			_ = tw.Flush()
			slogctx.Error(ctx, "lookup.err", "selector", sel.String(), "err", err)
			return exitFail
		}
		for _, r := range recs {
			fmt.Fprintf(tw, "%s\t%s\t%s\n", sel, r.Signature, r.Path)
			found = true
		}
		if !found {
			fmt.Fprintf(tw, "%s\t(no match)\t\n", sel)
			code = exitFail
		}
	}
	if err := tw.Flush(); err != nil {
		return exitFail
	}
	return code
}

func mcpCommand(ctx context.Context, args []string, stderr io.Writer) int {
	var indexPath, logLevel string
	fs := pflag.NewFlagSet("mcp", pflag.ContinueOnError)
	fs.StringVar(&indexPath, "index-path", "", "index database file (default ~/.cache/errsel/errsel.db)")
	fs.StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn or error")
	if code := parseFlags(fs, args, stderr); code >= 0 {
		return code
	}
	ctx, err := setupLogging(ctx, logLevel, stderr)
	if err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return exitUsage
	}

	cfg := config.DefaultConfig()
	if indexPath != "" {
		cfg.Index.Path = &indexPath
	}
	s, err := openStore(cfg)
	if err != nil {
		slogctx.Error(ctx, "store.open.err", "err", err)
		return exitFail
	}
	defer s.Close()

	srv := tools.NewServer(s)
	slogctx.Info(ctx, "mcp.start", "db", s.Path())
	if err := srv.MCPServer().Run(ctx, &mcp.StdioTransport{}); err != nil && ctx.Err() == nil {
		slogctx.Error(ctx, "mcp.err", "err", err)
		return exitFail
	}
	return exitOK
}
