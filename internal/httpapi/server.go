// Package httpapi serves the read surface: item listings, semantic search,
// follow management and operational stats. It never mutates pipeline state
// beyond registering follow terms.
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"signalfold.dev/pulse/internal/db"
	"signalfold.dev/pulse/internal/globaltime"
	"signalfold.dev/pulse/internal/vector"
)

const (
	defaultPageSize = 25
	maxPageSize     = 200
)

// QueryEmbedder embeds search queries. Satisfied by *embed.Embedder.
type QueryEmbedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// SearchIndex is the read surface of the vector store. Satisfied by
// *vector.Index.
type SearchIndex interface {
	Query(ctx context.Context, vec []float32, limit int) ([]vector.Hit, error)
}

type Options struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

type Server struct {
	pool     *db.Pool
	logger   zerolog.Logger
	embedder QueryEmbedder
	index    SearchIndex
	opts     Options
}

func NewServer(pool *db.Pool, logger zerolog.Logger, embedder QueryEmbedder, index SearchIndex, opts Options) *Server {
	host := strings.TrimSpace(opts.Host)
	if host == "" {
		host = "127.0.0.1"
	}
	port := opts.Port
	if port <= 0 {
		port = 8090
	}
	readTimeout := opts.ReadTimeout
	if readTimeout <= 0 {
		readTimeout = 10 * time.Second
	}
	writeTimeout := opts.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = 30 * time.Second
	}
	shutdownTimeout := opts.ShutdownTimeout
	if shutdownTimeout <= 0 {
		shutdownTimeout = 10 * time.Second
	}

	return &Server{
		pool:     pool,
		logger:   logger,
		embedder: embedder,
		index:    index,
		opts: Options{
			Host:            host,
			Port:            port,
			ReadTimeout:     readTimeout,
			WriteTimeout:    writeTimeout,
			ShutdownTimeout: shutdownTimeout,
		},
	}
}

func (s *Server) Start(ctx context.Context) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("server is not initialized")
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = s.httpErrorHandler

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders: []string{"Origin", "Content-Type", "Accept"},
		MaxAge:       3600,
	}))
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus:    true,
		LogURI:       true,
		LogMethod:    true,
		LogLatency:   true,
		LogRemoteIP:  true,
		LogRequestID: true,
		LogError:     true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			if v.Error != nil {
				s.logger.Error().
					Err(v.Error).
					Str("method", v.Method).
					Str("uri", v.URI).
					Int("status", v.Status).
					Dur("latency", v.Latency).
					Str("remote_ip", v.RemoteIP).
					Str("request_id", v.RequestID).
					Msg("http request failed")
				return nil
			}

			s.logger.Info().
				Str("method", v.Method).
				Str("uri", v.URI).
				Int("status", v.Status).
				Dur("latency", v.Latency).
				Str("remote_ip", v.RemoteIP).
				Str("request_id", v.RequestID).
				Msg("http request")
			return nil
		},
	}))

	api := e.Group("/api/v1")
	api.GET("/health", s.handleHealth)
	api.GET("/stats", s.handleStats)
	api.GET("/search", s.handleSearch)
	api.GET("/items", s.handleItems)
	api.GET("/items/failed", s.handleFailedItems)
	api.GET("/sources", s.handleSources)
	api.GET("/follows", s.handleFollows)
	api.POST("/follows", s.handleAddFollow)

	addr := fmt.Sprintf("%s:%d", s.opts.Host, s.opts.Port)
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      e,
		ReadTimeout:  s.opts.ReadTimeout,
		WriteTimeout: s.opts.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownTimeout)
		defer cancel()
		if shutdownErr := e.Shutdown(shutdownCtx); shutdownErr != nil {
			s.logger.Error().Err(shutdownErr).Msg("server shutdown failed")
		}
	}()

	s.logger.Info().Str("addr", addr).Msg("pulse api server started")

	if err := e.StartServer(httpServer); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("start server: %w", err)
	}
	s.logger.Info().Msg("pulse api server stopped")
	return nil
}

func (s *Server) httpErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	status := http.StatusInternalServerError
	message := "Internal server error"
	if he, ok := err.(*echo.HTTPError); ok {
		status = he.Code
		switch v := he.Message.(type) {
		case string:
			if strings.TrimSpace(v) != "" {
				message = v
			}
		default:
			if text := strings.TrimSpace(http.StatusText(status)); text != "" {
				message = text
			}
		}
	} else if err != nil {
		message = err.Error()
	}

	if status >= 500 {
		_ = internalError(c, "Internal server error")
		return
	}
	_ = fail(c, status, message, nil)
}

func (s *Server) handleHealth(c echo.Context) error {
	if err := s.pool.Ping(c.Request().Context()); err != nil {
		s.logger.Error().Err(err).Msg("health check database ping failed")
		return internalError(c, "Database unreachable")
	}
	return success(c, map[string]any{
		"service": "pulse",
		"time":    globaltime.UTC(),
	})
}

func (s *Server) handleStats(c echo.Context) error {
	stats, err := s.queryStats(c.Request().Context())
	if err != nil {
		s.logger.Error().Err(err).Msg("query stats failed")
		return internalError(c, "Failed to load stats")
	}
	return success(c, stats)
}

type searchResult struct {
	ItemUUID string         `json:"item_uuid"`
	Distance float64        `json:"distance"`
	Document string         `json:"document,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

func (s *Server) handleSearch(c echo.Context) error {
	if s.embedder == nil || s.index == nil {
		return fail(c, http.StatusServiceUnavailable, "Search is not configured", nil)
	}

	query := strings.TrimSpace(c.QueryParam("q"))
	if query == "" {
		return fail(c, http.StatusBadRequest, "Query parameter q is required", nil)
	}
	limit := parseLimit(c.QueryParam("limit"), 10)

	vec, err := s.embedder.EmbedQuery(c.Request().Context(), query)
	if err != nil {
		s.logger.Error().Err(err).Msg("query embedding failed")
		return internalError(c, "Failed to embed query")
	}

	hits, err := s.index.Query(c.Request().Context(), vec, limit)
	if err != nil {
		s.logger.Error().Err(err).Msg("vector query failed")
		return internalError(c, "Search failed")
	}

	results := make([]searchResult, 0, len(hits))
	for _, hit := range hits {
		results = append(results, searchResult{
			ItemUUID: hit.ID,
			Distance: hit.Distance,
			Document: hit.Document,
			Metadata: hit.Metadata,
		})
	}
	return success(c, map[string]any{
		"query":   query,
		"results": results,
	})
}

func (s *Server) handleItems(c echo.Context) error {
	state := strings.TrimSpace(c.QueryParam("state"))
	limit := parseLimit(c.QueryParam("limit"), defaultPageSize)

	items, err := s.queryItems(c.Request().Context(), state, limit)
	if err != nil {
		s.logger.Error().Err(err).Msg("query items failed")
		return internalError(c, "Failed to load items")
	}
	return success(c, map[string]any{"items": items})
}

func (s *Server) handleFailedItems(c echo.Context) error {
	limit := parseLimit(c.QueryParam("limit"), defaultPageSize)

	items, err := s.pool.ListFailedItems(c.Request().Context(), limit)
	if err != nil {
		s.logger.Error().Err(err).Msg("query failed items failed")
		return internalError(c, "Failed to load failed items")
	}
	return success(c, map[string]any{"items": items})
}

func (s *Server) handleSources(c echo.Context) error {
	sources, err := s.pool.ListAllSources(c.Request().Context())
	if err != nil {
		s.logger.Error().Err(err).Msg("query sources failed")
		return internalError(c, "Failed to load sources")
	}
	return success(c, map[string]any{"sources": sources})
}

func (s *Server) handleFollows(c echo.Context) error {
	terms, err := s.pool.ListFollowTerms(c.Request().Context())
	if err != nil {
		s.logger.Error().Err(err).Msg("query follow terms failed")
		return internalError(c, "Failed to load follow terms")
	}
	return success(c, map[string]any{"follows": terms})
}

type addFollowRequest struct {
	UserID   string `json:"user_id"`
	Term     string `json:"term"`
	IsAuthor bool   `json:"is_author"`
}

func (s *Server) handleAddFollow(c echo.Context) error {
	var req addFollowRequest
	if err := c.Bind(&req); err != nil {
		return fail(c, http.StatusBadRequest, "Invalid request body", nil)
	}

	term := strings.TrimSpace(req.Term)
	if term == "" {
		return fail(c, http.StatusBadRequest, "Field term is required", nil)
	}
	userID := strings.TrimSpace(req.UserID)
	if userID == "" {
		userID = "default_user"
	}

	termID, err := s.pool.AddFollowTerm(c.Request().Context(), userID, term, req.IsAuthor, globaltime.UTC())
	if err != nil {
		s.logger.Error().Err(err).Str("term", term).Msg("add follow term failed")
		return internalError(c, "Failed to add follow term")
	}

	return successWithStatus(c, http.StatusCreated, map[string]any{
		"term_id":   termID,
		"user_id":   userID,
		"term":      term,
		"is_author": req.IsAuthor,
	})
}

func parseLimit(raw string, fallback int) int {
	if strings.TrimSpace(raw) == "" {
		return fallback
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 1 {
		return fallback
	}
	if limit > maxPageSize {
		return maxPageSize
	}
	return limit
}
