package app

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"signalfold.dev/pulse/internal/cli"
	"signalfold.dev/pulse/internal/globaltime"
	"signalfold.dev/pulse/internal/orchestrator"
)

// runFetch pulls one source (or every enabled source) synchronously and
// enqueues analysis tasks for admitted items. The same cycle the worker runs
// on its schedule, driven by hand.
func runFetch(args []string) int {
	fs := flag.NewFlagSet("fetch", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	sourceID := fs.Int64("source", 0, "Source id to fetch; 0 fetches every enabled source")
	timeout := fs.Duration("timeout", 10*time.Minute, "Command timeout")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
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

	pipe, _, _, err := newPipeline(ctx, rt)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to build pipeline: %v\n", err)
		return 1
	}
	registry, err := newRegistry()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to build source registry: %v\n", err)
		return 1
	}

	queue := orchestrator.NewQueue(rt.pool)
	worker := orchestrator.NewWorker(rt.pool, queue, rt.logger, registry, pipe, nil, orchestrator.WorkerOptions{
		CycleLeaseTTL:          rt.cfg.CycleLeaseTTL,
		SourceFailureThreshold: rt.cfg.SourceFailureThreshold,
		TaskAttemptCap:         rt.cfg.TaskAttemptCap,
	})

	var sourceIDs []int64
	if *sourceID > 0 {
		sourceIDs = []int64{*sourceID}
	} else {
		sources, err := rt.pool.ListEnabledSources(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to list sources: %v\n", err)
			return 1
		}
		for _, src := range sources {
			sourceIDs = append(sourceIDs, src.SourceID)
		}
	}
	if len(sourceIDs) == 0 {
		fmt.Fprintln(os.Stderr, "No enabled sources to fetch")
		return 0
	}

	for _, id := range sourceIDs {
		if err := worker.RunFetchCycle(ctx, id); err != nil {
			fmt.Fprintf(os.Stderr, "Fetch cycle for source %d failed: %v\n", id, err)
			return 1
		}
	}

	fmt.Printf("Fetched %d source(s) at %s\n", len(sourceIDs), globaltime.UTC().Format(time.RFC3339))
	return 0
}
