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

// runSources manages the registry: list sources, add one by hand, or toggle
// enabled state.
func runSources(args []string) int {
	fs := flag.NewFlagSet("sources", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	addName := fs.String("add", "", "Add a source with this name (requires --url and --kind)")
	feedURL := fs.String("url", "", "Feed URL for --add")
	kind := fs.String("kind", "", "Source kind for --add")
	enableID := fs.Int64("enable", 0, "Enable the source with this id")
	disableID := fs.Int64("disable", 0, "Disable the source with this id")
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

	switch {
	case strings.TrimSpace(*addName) != "":
		return addSource(ctx, rt, *addName, *feedURL, *kind)
	case *enableID > 0:
		return toggleSource(ctx, rt, *enableID, true)
	case *disableID > 0:
		return toggleSource(ctx, rt, *disableID, false)
	}

	sources, err := rt.pool.ListAllSources(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to list sources: %v\n", err)
		return 1
	}

	if outputFormat == outputFormatJSON {
		if err := printJSON(sources); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to encode JSON: %v\n", err)
			return 1
		}
		return 0
	}

	rows := make([][]string, 0, len(sources))
	for _, src := range sources {
		rows = append(rows, []string{
			fmt.Sprintf("%d", src.SourceID),
			src.Name,
			src.Kind,
			fmt.Sprintf("%t", src.Enabled),
			fmt.Sprintf("%d", src.FailureCount),
			formatUTCTimestampPtr(src.LastRunAt),
		})
	}
	if err := writeTable([]string{"id", "name", "kind", "enabled", "failures", "last_run"}, rows); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to render table: %v\n", err)
		return 1
	}
	return 0
}

func addSource(ctx context.Context, rt *runtime, name, feedURL, kind string) int {
	if strings.TrimSpace(feedURL) == "" || strings.TrimSpace(kind) == "" {
		fmt.Fprintln(os.Stderr, "--add requires --url and --kind")
		return 2
	}

	registry, err := newRegistry()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to build source registry: %v\n", err)
		return 1
	}
	if _, err := registry.Lookup(kind); err != nil {
		fmt.Fprintf(os.Stderr, "Unknown kind %q; known kinds: %s\n", kind, strings.Join(registry.Kinds(), ", "))
		return 2
	}

	sourceID, inserted, err := rt.pool.InsertSource(ctx, name, feedURL, kind, true, false, globaltime.UTC())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to add source: %v\n", err)
		return 1
	}
	if !inserted {
		fmt.Fprintln(os.Stderr, "A source with this name or URL already exists")
		return 1
	}

	fmt.Printf("Added source %d (%s)\n", sourceID, name)
	return 0
}

func toggleSource(ctx context.Context, rt *runtime, sourceID int64, enabled bool) int {
	if err := rt.pool.SetSourceEnabled(ctx, sourceID, enabled, globaltime.UTC()); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to update source: %v\n", err)
		return 1
	}
	fmt.Printf("Source %d enabled=%t\n", sourceID, enabled)
	return 0
}
