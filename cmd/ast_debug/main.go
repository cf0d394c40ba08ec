package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/pflag"

	"github.com/DeusData/errsel/internal/artifact"
	"github.com/DeusData/errsel/internal/ast"
	"github.com/DeusData/errsel/internal/extract"
)

func printNode(key string, node ast.Node, indent, maxDepth int) {
	if maxDepth >= 0 && indent > maxDepth {
		return
	}
	prefix := strings.Repeat("  ", indent)
	switch n := node.(type) {
	case *ast.Mapping:
		label := ""
		if nt, ok := n.GetString("nodeType"); ok {
			label = nt
			if name, ok := n.GetString("name"); ok && name != "" {
				label += " " + name
			}
		}
		fmt.Printf("%s%s: {%s}\n", prefix, key, label)
		n.Each(func(k string, v ast.Node) bool {
			printNode(k, v, indent+1, maxDepth)
			return true
		})
	case ast.Sequence:
		fmt.Printf("%s%s: [%d]\n", prefix, key, len(n))
		for i, item := range n {
			printNode(fmt.Sprintf("%d", i), item, indent+1, maxDepth)
		}
	case ast.Scalar:
		text := fmt.Sprintf("%v", n.Value)
		if len(text) > 60 {
			text = text[:60] + "..."
		}
		fmt.Printf("%s%s = %q\n", prefix, key, text)
	}
}

func main() {
	var depth int
	var lenient, defsOnly bool
	fs := pflag.NewFlagSet("ast_debug", pflag.ExitOnError)
	fs.IntVar(&depth, "depth", -1, "maximum depth to print (-1 for all)")
	fs.BoolVar(&lenient, "lenient", false, "accept comments and trailing commas")
	fs.BoolVar(&defsOnly, "defs", false, "print only error definitions and their signatures")
	_ = fs.Parse(os.Args[1:])

	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: ast_debug [--depth N] [--defs] [--lenient] <artifact.json | out-dir>")
		os.Exit(2)
	}
	path := fs.Arg(0)
	if info, err := os.Stat(path); err == nil && info.IsDir() {
		printDir(path, lenient)
		return
	}
	data, err := os.ReadFile(path)
	if err != nil {
		fmt.Println("Error:", err)
		os.Exit(1)
	}
	a, err := artifact.Parse(path, data, artifact.Options{Lenient: lenient})
	if err != nil {
		fmt.Println("Error:", err)
		os.Exit(1)
	}

	fmt.Printf("=== %s (%d nodes, hash %s) ===\n", path, ast.Count(a.Root), artifact.Hash(data))
	if !defsOnly {
		printNode(artifact.ASTField, a.Root, 0, depth)
		return
	}
	printDefs(a.Root)
}

func printDefs(root ast.Node) {
	for def := range extract.Definitions(root) {
		sig, err := def.Signature(extract.MissingTypePlaceholder)
		if err != nil {
			fmt.Printf("%s: %v\n", def, err)
			continue
		}
		fmt.Printf("  id=%d src=%s %s complete=%t\n", def.ID, def.Src, sig, def.Complete())
	}
}

// printDir lists the error definitions of every artifact under dir.
func printDir(dir string, lenient bool) {
	arts, err := artifact.LoadDir(context.Background(), dir, artifact.Options{Lenient: lenient})
	if err != nil {
		fmt.Println("Error:", err)
		os.Exit(1)
	}
	for _, a := range arts {
		fmt.Printf("=== %s (%d nodes, hash %s) ===\n", a.Path, ast.Count(a.Root), a.Hash)
		printDefs(a.Root)
	}
}
