// Package app is the pulse command line: one subcommand per pipeline
// operation plus the long-running worker, scheduler and API server modes.
package app

import (
	"fmt"
	"os"
	"strings"
)

// Run executes the CLI command and returns a process exit code.
func Run(args []string) int {
	if len(args) == 0 {
		printUsage()
		return 2
	}

	switch strings.ToLower(strings.TrimSpace(args[0])) {
	case "help", "--help", "-h":
		printUsage()
		return 0
	case "health":
		return runHealth(args[1:])
	case "fetch":
		return runFetch(args[1:])
	case "analyze":
		return runAnalyze(args[1:])
	case "sweep":
		return runSweep(args[1:])
	case "match":
		return runMatch(args[1:])
	case "discover":
		return runDiscover(args[1:])
	case "worker":
		return runWorker(args[1:])
	case "sources":
		return runSources(args[1:])
	case "follow":
		return runFollow(args[1:])
	case "search":
		return runSearch(args[1:])
	case "serve":
		return runServe(args[1:])
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", args[0])
		printUsage()
		return 2
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "pulse CLI")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Usage:")
	fmt.Fprintln(os.Stderr, "  pulse <command> [flags]")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Commands:")
	fmt.Fprintln(os.Stderr, "  health    Verify database connectivity")
	fmt.Fprintln(os.Stderr, "  fetch     Run one fetch cycle for a source or all enabled sources")
	fmt.Fprintln(os.Stderr, "  analyze   Run the two-stage analysis for one item")
	fmt.Fprintln(os.Stderr, "  sweep     Re-drive ranked items with unconfirmed vector writes")
	fmt.Fprintln(os.Stderr, "  match     Run the follow-match pass for one item")
	fmt.Fprintln(os.Stderr, "  discover  Evaluate candidate source URLs and register survivors")
	fmt.Fprintln(os.Stderr, "  worker    Run the task queue worker, optionally with the scheduler")
	fmt.Fprintln(os.Stderr, "  sources   List or manage the source registry")
	fmt.Fprintln(os.Stderr, "  follow    List or add follow terms")
	fmt.Fprintln(os.Stderr, "  search    Semantic search over indexed items")
	fmt.Fprintln(os.Stderr, "  serve     Start the read API server")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Use \"pulse <command> -h\" for command-specific flags.")
}
