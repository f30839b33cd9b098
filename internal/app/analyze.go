package app

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"signalfold.dev/pulse/internal/cli"
	"signalfold.dev/pulse/internal/db"
	"signalfold.dev/pulse/internal/globaltime"
)

// runAnalyze drives the two-stage analysis for one item by hand. With
// --reset, a failed item is first moved back to the last state before its
// exhausted stage so analysis can be re-driven after the underlying issue
// is fixed.
func runAnalyze(args []string) int {
	fs := flag.NewFlagSet("analyze", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	itemID := fs.Int64("item", 0, "Item id to analyze")
	reset := fs.Bool("reset", false, "Reset a failed item before analyzing")
	timeout := fs.Duration("timeout", 15*time.Minute, "Command timeout")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	if *itemID <= 0 {
		fmt.Fprintln(os.Stderr, "--item is required")
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

	if *reset {
		item, err := rt.pool.GetItem(ctx, *itemID)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to load item: %v\n", err)
			return 1
		}
		target := db.ResetTargetState(item.FailStage)
		ok, err := rt.pool.ResetFailedItem(ctx, *itemID, target, globaltime.UTC())
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to reset item: %v\n", err)
			return 1
		}
		if !ok {
			fmt.Fprintf(os.Stderr, "Item %d is %s, not failed; nothing to reset\n", *itemID, item.State)
			return 2
		}
		fmt.Printf("Item %d reset to %s\n", *itemID, target)
	}

	if err := pipe.AnalyzeItem(ctx, *itemID); err != nil {
		fmt.Fprintf(os.Stderr, "Analysis failed: %v\n", err)
		return 1
	}

	item, err := rt.pool.GetItem(ctx, *itemID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to reload item: %v\n", err)
		return 1
	}
	fmt.Printf("Item %d is now %s\n", item.ItemID, item.State)
	return 0
}

func runSweep(args []string) int {
	fs := flag.NewFlagSet("sweep", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	limit := fs.Int("limit", 50, "Maximum items to re-drive")
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

	driven, err := pipe.SweepUnindexed(ctx, *limit)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Sweep failed: %v\n", err)
		return 1
	}

	fmt.Printf("Re-drove %d item(s)\n", driven)
	return 0
}

func runMatch(args []string) int {
	fs := flag.NewFlagSet("match", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	itemID := fs.Int64("item", 0, "Item id to run the follow-match pass for")
	timeout := fs.Duration("timeout", 2*time.Minute, "Command timeout")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	if *itemID <= 0 {
		fmt.Fprintln(os.Stderr, "--item is required")
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

	if err := pipe.MatchItem(ctx, *itemID); err != nil {
		fmt.Fprintf(os.Stderr, "Match pass failed: %v\n", err)
		return 1
	}

	fmt.Println("ok")
	return 0
}
