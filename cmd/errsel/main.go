package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"
	"golang.org/x/term"

	"github.com/DeusData/errsel/internal/logging"
	"github.com/DeusData/errsel/internal/tools"
)

var version = "dev"

const (
	exitOK    = 0
	exitFail  = 1
	exitUsage = 2
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	if len(args) > 0 && args[0] == "--version" {
		fmt.Fprintln(stdout, "errsel", version)
		return exitOK
	}
	tools.Version = version

	cmd := "run"
	if len(args) > 0 && len(args[0]) > 0 && args[0][0] != '-' {
		cmd, args = args[0], args[1:]
	}

	switch cmd {
	case "run":
		return runCommand(ctx, "run", args, true, stdout, stderr)
	case "extract":
		return runCommand(ctx, "extract", args, false, stdout, stderr)
	case "watch":
		return watchCommand(ctx, args, stdout, stderr)
	case "lookup":
		return lookupCommand(ctx, args, stdout, stderr)
	case "mcp":
		return mcpCommand(ctx, args, stderr)
	case "help":
		printUsage(stdout)
		return exitOK
	default:
		fmt.Fprintf(stderr, "error: unknown command %q\n\n", cmd)
		printUsage(stderr)
		return exitUsage
	}
}

func printUsage(w io.Writer) {
	fmt.Fprint(w, `errsel extracts custom error selectors from compiled Solidity artifacts.

Usage:
  errsel [run] [flags]       build, extract and write the report
  errsel extract [flags]     extract from existing artifacts without building
  errsel watch [flags]       rebuild and re-extract whenever sources change
  errsel lookup <selector>   find the error a selector or revert data belongs to
  errsel mcp                 serve MCP tools over stdio
  errsel --version

Run "errsel <command> --help" for the flags of a command.
`)
}

// parseFlags parses args into fs. It returns -1 when the caller should go
// on, or the exit code to return.
func parseFlags(fs *pflag.FlagSet, args []string, stderr io.Writer) int {
	fs.SetOutput(stderr)
	if err := fs.Parse(args); err != nil {
		if err == pflag.ErrHelp {
			return exitOK
		}
		fmt.Fprintf(stderr, "error: %v\n", err)
		return exitUsage
	}
	return -1
}

// setupLogging attaches the console logger to ctx.
func setupLogging(ctx context.Context, level string, stderr io.Writer) (context.Context, error) {
	lvl, err := logging.ParseLevel(level)
	if err != nil {
		return ctx, err
	}
	return logging.Setup(ctx, stderr, logging.Options{
		Level:   lvl,
		NoColor: !isTerminal(stderr) || os.Getenv("NO_COLOR") != "",
	}), nil
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}
