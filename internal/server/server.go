// Package server exposes PVS conversion over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/atlas-foundry/pvs-go-sdk/internal/config"
	"github.com/atlas-foundry/pvs-go-sdk/internal/store"
	"github.com/atlas-foundry/pvs-go-sdk/pvs"
)

// Server is the HTTP conversion service.
type Server struct {
	cfg      *config.Config
	logger   *slog.Logger
	registry *pvs.ConverterRegistry
	sink     *store.SQLiteSink
	router   *chi.Mux
}

// Option customizes a Server.
type Option func(*Server)

// WithSink stores every converted scene whose request names a source.
func WithSink(sink *store.SQLiteSink) Option {
	return func(s *Server) { s.sink = sink }
}

// WithRegistry replaces the default converter registry.
func WithRegistry(reg *pvs.ConverterRegistry) Option {
	return func(s *Server) { s.registry = reg }
}

// New builds the router.
func New(cfg *config.Config, logger *slog.Logger, opts ...Option) *Server {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{cfg: cfg, logger: logger, registry: pvs.DefaultConverterRegistry}
	for _, opt := range opts {
		opt(s)
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)

	r.Get("/healthz", s.handleHealth)
	r.Route("/v1", func(r chi.Router) {
		r.Get("/converters", s.handleConverters)
		r.Post("/scene", s.handleScene)
		r.Post("/report", s.handleReport)
		if s.sink != nil {
			r.Get("/scene/{source}", s.handleStoredScene)
		}
	})
	s.router = r
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler { return s.router }

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Serve.Listen,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", "addr", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()
	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.logger.Info("http server shutting down")
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleConverters(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.registry.List())
}

// handleScene converts a PVS body into scene JSON (or DOT with format=dot).
func (s *Server) handleScene(w http.ResponseWriter, r *http.Request) {
	items, ok := s.flattenBody(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	if src := q.Get("source"); src != "" && s.sink != nil {
		if err := s.sink.Write(r.Context(), src, items); err != nil {
			s.writeError(w, http.StatusInternalServerError, "", err)
			return
		}
	}
	if q.Get("format") == "dot" {
		out, err := s.registry.Convert(r.Context(), "scene", "dot", items, nil)
		if err != nil {
			s.writePVSError(w, err)
			return
		}
		w.Header().Set("Content-Type", "text/vnd.graphviz")
		w.WriteHeader(http.StatusOK)
		w.Write(out.([]byte))
		return
	}
	pretty := s.cfg.Pretty
	if v := q.Get("pretty"); v != "" {
		pretty, _ = strconv.ParseBool(v)
	}
	out, err := s.registry.Convert(r.Context(), "scene", "scenejson", items, map[string]any{"pretty": pretty})
	if err != nil {
		s.writePVSError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(out.([]byte))
}

// handleReport converts a PVS body into an assembly report.
func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	format := pvs.TextFormat(r.URL.Query().Get("format"))
	if format == "" {
		format = pvs.FormatMarkdown
	}
	contentType := map[pvs.TextFormat]string{
		pvs.FormatMarkdown: "text/markdown; charset=utf-8",
		pvs.FormatOrg:      "text/plain; charset=utf-8",
		pvs.FormatHTML:     "text/html; charset=utf-8",
	}[format]
	if contentType == "" {
		s.writeError(w, http.StatusBadRequest, pvs.ErrArgument, fmt.Errorf("unsupported report format %q", format))
		return
	}
	source := pvs.TextFormat(r.URL.Query().Get("source"))
	if source == "" {
		source = pvs.TextFormat(s.cfg.Report.Source)
	}
	items, ok := s.flattenBody(w, r)
	if !ok {
		return
	}
	out, err := s.registry.Chain(r.Context(), items, map[string]any{"report_source": source}, "scene", "report", string(format))
	if err != nil {
		if errors.Is(err, pvs.ErrNotImplemented) {
			s.writeError(w, http.StatusBadRequest, pvs.ErrArgument, err)
			return
		}
		s.writePVSError(w, err)
		return
	}
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(http.StatusOK)
	io.WriteString(w, out.(string))
}

func (s *Server) handleStoredScene(w http.ResponseWriter, r *http.Request) {
	items, err := s.sink.Items(r.Context(), chi.URLParam(r, "source"))
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "", err)
		return
	}
	if len(items) == 0 {
		s.writeError(w, http.StatusNotFound, "", errors.New("unknown source"))
		return
	}
	writeJSON(w, http.StatusOK, items)
}

// flattenBody reads the request body and runs it through pvs -> document ->
// scene. On failure the error response has been written.
func (s *Server) flattenBody(w http.ResponseWriter, r *http.Request) ([]pvs.SceneItem, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.cfg.Serve.MaxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.writeError(w, http.StatusRequestEntityTooLarge, pvs.ErrIO, err)
			return nil, false
		}
		s.writeError(w, http.StatusBadRequest, pvs.ErrIO, err)
		return nil, false
	}
	if len(body) == 0 {
		s.writeError(w, http.StatusBadRequest, pvs.ErrArgument, errors.New("empty request body"))
		return nil, false
	}
	flattenOpts := s.cfg.FlattenOptions(s.logger)
	if v := r.URL.Query().Get("root"); v != "" {
		root, err := strconv.Atoi(v)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, pvs.ErrArgument, fmt.Errorf("root %q is not an integer", v))
			return nil, false
		}
		flattenOpts.Root = &root
	}
	opts := map[string]any{
		"strict":  s.cfg.Strict,
		"flatten": flattenOpts,
	}
	out, err := s.registry.Chain(r.Context(), body, opts, "pvs", "document", "scene")
	if err != nil {
		s.writePVSError(w, err)
		return nil, false
	}
	return out.([]pvs.SceneItem), true
}

// StatusFor maps an error kind onto an HTTP status.
func StatusFor(kind pvs.ErrorKind) int {
	switch kind {
	case pvs.ErrFormat:
		return http.StatusUnprocessableEntity
	case pvs.ErrSerialization:
		return http.StatusInternalServerError
	case pvs.ErrIO, pvs.ErrArgument:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writePVSError(w http.ResponseWriter, err error) {
	kind := pvs.KindOf(err)
	s.writeError(w, StatusFor(kind), kind, err)
}

type errorBody struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

func (s *Server) writeError(w http.ResponseWriter, status int, kind pvs.ErrorKind, err error) {
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", "status", status, "error", err)
	} else {
		s.logger.Debug("request rejected", "status", status, "error", err)
	}
	writeJSON(w, status, errorBody{Error: err.Error(), Kind: string(kind)})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
