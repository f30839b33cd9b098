package app

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"signalfold.dev/pulse/internal/cli"
	"signalfold.dev/pulse/internal/embed"
	"signalfold.dev/pulse/internal/httpapi"
	"signalfold.dev/pulse/internal/vector"
)

func runServe(args []string) int {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	host := fs.String("host", "", "Host interface to bind; defaults to PULSE_SERVE_HOST")
	port := fs.Int("port", 0, "HTTP port; defaults to PULSE_SERVE_PORT")
	readTimeout := fs.Duration("read-timeout", 10*time.Second, "HTTP read timeout")
	writeTimeout := fs.Duration("write-timeout", 30*time.Second, "HTTP write timeout")
	shutdownTimeout := fs.Duration("shutdown-timeout", 10*time.Second, "Graceful shutdown timeout")

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

	serveHost := *host
	if serveHost == "" {
		serveHost = rt.cfg.ServeHost
	}
	servePort := *port
	if servePort == 0 {
		servePort = rt.cfg.ServePort
	}

	// Search stays optional: the item and follow endpoints work without an
	// API key or a reachable vector store.
	var embedder httpapi.QueryEmbedder
	var index httpapi.SearchIndex
	if rt.cfg.GeminiAPIKey != "" {
		e, err := embed.NewEmbedder(ctx, rt.cfg.GeminiAPIKey, rt.cfg.EmbeddingModel)
		if err != nil {
			rt.logger.Warn().Err(err).Msg("embedder unavailable, search disabled")
		} else if idx, err := vector.NewIndex(ctx, rt.cfg.ChromaBaseURL(), rt.cfg.ChromaCollection); err != nil {
			rt.logger.Warn().Err(err).Msg("vector index unavailable, search disabled")
		} else {
			embedder = e
			index = idx
		}
	}

	srv := httpapi.NewServer(rt.pool, rt.logger, embedder, index, httpapi.Options{
		Host:            serveHost,
		Port:            servePort,
		ReadTimeout:     *readTimeout,
		WriteTimeout:    *writeTimeout,
		ShutdownTimeout: *shutdownTimeout,
	})

	if err := srv.Start(ctx); err != nil {
		rt.logger.Error().Err(err).Str("host", serveHost).Int("port", servePort).Msg("server failed")
		fmt.Fprintf(os.Stderr, "Server failed: %v\n", err)
		return 1
	}
	return 0
}
