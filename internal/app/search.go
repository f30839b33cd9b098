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
	"signalfold.dev/pulse/internal/embed"
	"signalfold.dev/pulse/internal/vector"
)

// runSearch embeds the query and runs it against the vector index.
func runSearch(args []string) int {
	fs := flag.NewFlagSet("search", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	limit := fs.Int("limit", 10, "Maximum results")
	format := fs.String("format", outputFormatTable, "Output format: table or json")
	timeout := fs.Duration("timeout", 1*time.Minute, "Command timeout")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}

	query := strings.TrimSpace(strings.Join(fs.Args(), " "))
	if query == "" {
		fmt.Fprintln(os.Stderr, "usage: pulse search [flags] <query>")
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

	embedder, err := embed.NewEmbedder(ctx, rt.cfg.GeminiAPIKey, rt.cfg.EmbeddingModel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to build embedder: %v\n", err)
		return 1
	}
	index, err := vector.NewIndex(ctx, rt.cfg.ChromaBaseURL(), rt.cfg.ChromaCollection)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to connect to vector index: %v\n", err)
		return 1
	}

	vec, err := embedder.EmbedQuery(ctx, query)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to embed query: %v\n", err)
		return 1
	}
	hits, err := index.Query(ctx, vec, *limit)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Search failed: %v\n", err)
		return 1
	}

	if outputFormat == outputFormatJSON {
		if err := printJSON(hits); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to encode JSON: %v\n", err)
			return 1
		}
		return 0
	}

	rows := make([][]string, 0, len(hits))
	for _, hit := range hits {
		title, _ := hit.Metadata["title"].(string)
		url, _ := hit.Metadata["url"].(string)
		rows = append(rows, []string{
			hit.ID,
			fmt.Sprintf("%.4f", hit.Distance),
			title,
			url,
		})
	}
	if err := writeTable([]string{"item_uuid", "distance", "title", "url"}, rows); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to render table: %v\n", err)
		return 1
	}
	return 0
}
