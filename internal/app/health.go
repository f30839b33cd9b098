package app

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"signalfold.dev/pulse/internal/cli"
)

func runHealth(args []string) int {
	fs := flag.NewFlagSet("health", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	timeout := fs.Duration("timeout", 10*time.Second, "Command timeout")

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

	if err := rt.pool.Ping(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Database unreachable: %v\n", err)
		return 1
	}

	fmt.Println("ok")
	return 0
}
