package app

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"signalfold.dev/pulse/internal/cli"
	"signalfold.dev/pulse/internal/discovery"
)

// runDiscover evaluates candidate feed URLs from flags or a file and
// registers the ones that pass the model check and the smoke-test fetch.
func runDiscover(args []string) int {
	fs := flag.NewFlagSet("discover", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	candidateFlag := fs.String("candidates", "", "Comma-separated candidate feed URLs")
	candidateFile := fs.String("candidates-file", "", "File with one candidate feed URL per line")
	timeout := fs.Duration("timeout", 10*time.Minute, "Command timeout")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}

	candidates := splitCandidates(*candidateFlag)
	if *candidateFile != "" {
		fromFile, err := readCandidateFile(*candidateFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to read candidates file: %v\n", err)
			return 1
		}
		candidates = append(candidates, fromFile...)
	}
	if len(candidates) == 0 {
		fmt.Fprintln(os.Stderr, "No candidates given; use --candidates or --candidates-file")
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

	analyst, err := newAnalyst(rt)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to build model client: %v\n", err)
		return 1
	}
	registry, err := newRegistry()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to build source registry: %v\n", err)
		return 1
	}
	bucket, err := newQuotaBucket(ctx, rt)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to prepare quota bucket: %v\n", err)
		return 1
	}

	svc := discovery.NewService(rt.pool, rt.logger, &discovery.StaticProvider{URLs: candidates}, analyst, registry, bucket)
	added, err := svc.DiscoverOnce(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Discovery failed: %v\n", err)
		return 1
	}

	fmt.Printf("Evaluated %d candidate(s), added %d source(s)\n", len(candidates), added)
	return 0
}

func readCandidateFile(path string) ([]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var urls []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		urls = append(urls, line)
	}
	return urls, scanner.Err()
}
