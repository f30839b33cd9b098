package app

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"signalfold.dev/pulse/internal/cli"
	"signalfold.dev/pulse/internal/globaltime"
)

// runFollow lists follow terms or adds one.
func runFollow(args []string) int {
	fs := flag.NewFlagSet("follow", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	addTerm := fs.String("add", "", "Add this follow term")
	isAuthor := fs.Bool("author", false, "Treat the added term as an author name")
	userID := fs.String("user", "default_user", "User the term belongs to")
	format := fs.String("format", outputFormatTable, "Output format: table or json")
	timeout := fs.Duration("timeout", 30*time.Second, "Command timeout")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}

	outputFormat, err := parseOutputFormat(*format, outputFormatTable)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid format: %v\n", err)
		return 2
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	rt, err := connect(ctx, envLoader)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer rt.Close()

	if term := strings.TrimSpace(*addTerm); term != "" {
		return addFollow(ctx, rt, *userID, term, *isAuthor)
	}

	terms, err := rt.pool.ListFollowTerms(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to list follow terms: %v\n", err)
		return 1
	}

	if outputFormat == outputFormatJSON {
		if err := printJSON(terms); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to encode JSON: %v\n", err)
			return 1
		}
		return 0
	}

	rows := make([][]string, 0, len(terms))
	for _, term := range terms {
		rows = append(rows, []string{
			fmt.Sprintf("%d", term.TermID),
			term.UserID,
			term.Term,
			fmt.Sprintf("%t", term.IsAuthor),
		})
	}
	if err := writeTable([]string{"id", "user", "term", "author"}, rows); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to render table: %v\n", err)
		return 1
	}
	return 0
}

func addFollow(ctx context.Context, rt *runtime, userID, term string, isAuthor bool) int {
	termID, err := rt.pool.AddFollowTerm(ctx, userID, term, isAuthor, globaltime.UTC())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to add follow term: %v\n", err)
		return 1
	}
	fmt.Printf("Added follow term %d (%q, author=%t)\n", termID, term, isAuthor)
	return 0
}
