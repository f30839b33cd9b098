package app

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"golang.org/x/sync/errgroup"

	"signalfold.dev/pulse/internal/cli"
	"signalfold.dev/pulse/internal/discovery"
	"signalfold.dev/pulse/internal/orchestrator"
)

// runWorker is the long-running daemon mode: the task queue worker pool,
// optionally with the embedded scheduler enqueuing the recurring work.
func runWorker(args []string) int {
	fs := flag.NewFlagSet("worker", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	withScheduler := fs.Bool("with-scheduler", true, "Run the recurring-work scheduler in this process")
	candidateFlag := fs.String("discovery-candidates", "", "Comma-separated candidate feed URLs for discovery passes")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		<-sigCh
		cancel()
	}()

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

	var discoverer orchestrator.Discoverer
	if candidates := splitCandidates(*candidateFlag); len(candidates) > 0 {
		analyst, err := newAnalyst(rt)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to build model client: %v\n", err)
			return 1
		}
		bucket, err := newQuotaBucket(ctx, rt)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to prepare quota bucket: %v\n", err)
			return 1
		}
		discoverer = discovery.NewService(rt.pool, rt.logger, &discovery.StaticProvider{URLs: candidates}, analyst, registry, bucket)
	}

	queue := orchestrator.NewQueue(rt.pool)
	worker := orchestrator.NewWorker(rt.pool, queue, rt.logger, registry, pipe, discoverer, orchestrator.WorkerOptions{
		WorkerCount:            rt.cfg.WorkerCount,
		TaskAttemptCap:         rt.cfg.TaskAttemptCap,
		CycleLeaseTTL:          rt.cfg.CycleLeaseTTL,
		SourceFailureThreshold: rt.cfg.SourceFailureThreshold,
	})

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return worker.Run(groupCtx)
	})
	if *withScheduler {
		scheduler := orchestrator.NewScheduler(rt.pool, queue, rt.logger, orchestrator.SchedulerOptions{
			FetchInterval:     rt.cfg.FetchInterval,
			DiscoveryInterval: rt.cfg.DiscoveryInterval,
			SweepInterval:     rt.cfg.SweepInterval,
		})
		group.Go(func() error {
			return scheduler.Run(groupCtx)
		})
	}

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		rt.logger.Error().Err(err).Msg("worker exited with error")
		return 1
	}
	return 0
}

func splitCandidates(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	urls := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			urls = append(urls, trimmed)
		}
	}
	return urls
}
