package cli

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/lherron/iatisync/internal/config"
	"github.com/lherron/iatisync/internal/db"
	"github.com/lherron/iatisync/internal/domain"
	"github.com/lherron/iatisync/internal/id"
	"github.com/lherron/iatisync/internal/importer"
	"github.com/lherron/iatisync/internal/logging"
	"github.com/lherron/iatisync/internal/metrics"
	"github.com/lherron/iatisync/internal/parse"
	"github.com/lherron/iatisync/internal/store"
	"github.com/lherron/iatisync/internal/webhooks"
)

// maxRequestBody caps an import request body
const maxRequestBody = 10 << 20

// DaemonOptions configures the iatisyncd daemon.
type DaemonOptions struct {
	Addr   string
	Unix   string
	Token  string
	DBPath string
}

// ServeDaemon starts the iatisyncd daemon and blocks until ctx is cancelled
// or the listener fails.
func ServeDaemon(ctx context.Context, opts DaemonOptions) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if opts.DBPath != "" {
		cfg.DBPath = opts.DBPath
	}
	if opts.Token == "" {
		opts.Token = cfg.DaemonToken
	}

	database, err := db.Open(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer database.Close()

	if err := database.RequiresMigrationError(); err != nil {
		return err
	}

	log := logging.New(cfg)
	server := newDaemonServer(store.New(database), cfg, log, opts.Token)

	httpServer := &http.Server{
		Handler:      server.routes(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	var listener net.Listener
	if opts.Unix != "" {
		_ = os.Remove(opts.Unix)
		listener, err = net.Listen("unix", opts.Unix)
		if err != nil {
			return fmt.Errorf("failed to listen on unix socket: %w", err)
		}
	} else {
		addr := opts.Addr
		if addr == "" {
			addr = cfg.DaemonAddr
		}
		listener, err = net.Listen("tcp", addr)
		if err != nil {
			return fmt.Errorf("failed to listen on %s: %w", addr, err)
		}
	}

	errCh := make(chan error, 1)
	go func() {
		log.WithField("addr", listener.Addr().String()).Info("iatisyncd listening")
		errCh <- httpServer.Serve(listener)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		log.Info("iatisyncd shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	}
}

type daemonServer struct {
	store    *store.Store
	importer *importer.Importer
	registry *prometheus.Registry
	metrics  *metrics.Metrics
	tracer   trace.Tracer
	log      *logrus.Logger
	hooks    *webhooks.Dispatcher
	actor    string
	token    string
}

func newDaemonServer(s *store.Store, cfg *config.Config, log *logrus.Logger, token string, opts ...importer.Option) *daemonServer {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(registry)

	base := []importer.Option{
		importer.WithLogger(log),
		importer.WithMetrics(m),
		importer.WithActor(cfg.Actor()),
		importer.WithProduction(cfg.IsProduction()),
	}
	if len(cfg.SupportedCurrencies) > 0 {
		base = append(base, importer.WithSupportedCurrencies(cfg.SupportedCurrencies))
	}

	return &daemonServer{
		store:    s,
		importer: importer.New(s, append(base, opts...)...),
		registry: registry,
		metrics:  m,
		tracer:   otel.Tracer("github.com/lherron/iatisync/internal/cli"),
		log:      log,
		hooks:    newDispatcher(cfg, log),
		actor:    cfg.Actor(),
		token:    token,
	}
}

func (s *daemonServer) routes() http.Handler {
	r := mux.NewRouter()
	r.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})).Methods(http.MethodGet)

	v1 := r.PathPrefix("/v1").Subrouter()
	v1.Use(s.withRequestLogging, s.withAuth)
	v1.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	v1.HandleFunc("/import", s.handleImport).Methods(http.MethodPost)
	v1.HandleFunc("/activities/{id}/import", s.handleImport).Methods(http.MethodPost)
	v1.HandleFunc("/import-logs", s.handleImportLogsList).Methods(http.MethodGet)
	v1.HandleFunc("/import-logs/{id}", s.handleImportLogsGet).Methods(http.MethodGet)

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		s.writeError(w, http.StatusNotFound, fmt.Errorf("no such route"))
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		s.writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method not allowed"))
	})
	return r
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// withRequestLogging attaches a request id, a span and a request-scoped
// log entry, and records the outcome in metrics.
func (s *daemonServer) withRequestLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := r.Header.Get("X-Request-Id")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set("X-Request-Id", requestID)

		route := r.URL.Path
		if cur := mux.CurrentRoute(r); cur != nil {
			if tpl, err := cur.GetPathTemplate(); err == nil {
				route = tpl
			}
		}

		ctx, span := s.tracer.Start(r.Context(), r.Method+" "+route, trace.WithAttributes(
			attribute.String("http.method", r.Method),
			attribute.String("http.route", route),
			attribute.String("request.id", requestID),
		))
		defer span.End()

		entry := logrus.NewEntry(s.log).WithFields(logrus.Fields{
			"request_id": requestID,
			"method":     r.Method,
			"path":       r.URL.Path,
		})
		ctx = logging.WithEntry(ctx, entry)

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r.WithContext(ctx))

		span.SetAttributes(attribute.Int("http.status_code", rec.status))
		if rec.status >= http.StatusInternalServerError {
			span.SetStatus(codes.Error, http.StatusText(rec.status))
		}
		s.metrics.ObserveHTTP(route, rec.status)

		entry.WithFields(logrus.Fields{
			"status":      rec.status,
			"duration_ms": time.Since(start).Milliseconds(),
		}).Info("request completed")
	})
}

func (s *daemonServer) withAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.token != "" {
			token := r.Header.Get("Authorization")
			if strings.HasPrefix(token, "Bearer ") {
				token = strings.TrimPrefix(token, "Bearer ")
			}
			if token == "" {
				token = r.Header.Get("X-Iatisyncd-Token")
			}
			if !validToken(token, s.token) {
				s.writeError(w, http.StatusUnauthorized, fmt.Errorf("unauthorized"))
				return
			}
		}

		next.ServeHTTP(w, r)
	})
}

func validToken(got, want string) bool {
	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}

func (s *daemonServer) writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func (s *daemonServer) writeError(w http.ResponseWriter, status int, err error) {
	s.writeJSON(w, status, importer.ErrorResponse{Error: err.Error()})
}

// writeDomainError maps err through the import error taxonomy
func (s *daemonServer) writeDomainError(w http.ResponseWriter, err error) {
	status, body := importer.NewErrorResponse(err)
	s.writeJSON(w, status, body)
}

func (s *daemonServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"ok":   true,
		"time": time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *daemonServer) handleImport(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxRequestBody))
	if err != nil {
		s.writeDomainError(w, domain.WrapError(domain.CodeInvalidRequest, "failed to read request body", err))
		return
	}

	req, err := parse.ParseJSON(body)
	if err != nil {
		s.writeDomainError(w, domain.WrapError(domain.CodeInvalidRequest, "invalid request body", err))
		return
	}

	if id, ok := mux.Vars(r)["id"]; ok {
		if req.ActivityID != "" && req.ActivityID != id {
			s.writeDomainError(w, domain.NewError(domain.CodeInvalidRequest,
				"activityId in body does not match the path",
				map[string]interface{}{"activityId": req.ActivityID, "path": id}))
			return
		}
		req.ActivityID = id
	}

	req.Source = "api"
	req.Actor = s.actor
	if actor := r.Header.Get("X-Iatisync-Actor"); actor != "" {
		req.Actor = actor
	}

	resp, err := s.importer.Import(r.Context(), req)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	if s.hooks.Enabled() {
		go s.hooks.Dispatch(context.WithoutCancel(r.Context()), completionPayload(resp, req.Source))
	}
	s.writeJSON(w, http.StatusOK, resp)
}

type importLogsPage struct {
	Items      []*domain.ImportLog `json:"items"`
	NextCursor string              `json:"next_cursor,omitempty"`
}

func (s *daemonServer) handleImportLogsList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	opts := store.ListOptions{
		ActivityID: q.Get("activity"),
		Status:     q.Get("status"),
		Cursor:     q.Get("cursor"),
	}
	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			s.writeDomainError(w, domain.NewError(domain.CodeInvalidRequest, "limit must be a positive integer",
				map[string]interface{}{"limit": raw}))
			return
		}
		opts.Limit = limit
	}

	entries, next, err := s.store.ImportLogs.List(r.Context(), opts)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	if entries == nil {
		entries = []*domain.ImportLog{}
	}
	s.writeJSON(w, http.StatusOK, importLogsPage{Items: entries, NextCursor: next})
}

func (s *daemonServer) handleImportLogsGet(w http.ResponseWriter, r *http.Request) {
	ref := mux.Vars(r)["id"]
	if !id.IsImportRef(ref) {
		s.writeDomainError(w, domain.NewError(domain.CodeInvalidRequest, "import log id must be IMP-nnnnn or a UUID",
			map[string]interface{}{"id": ref}))
		return
	}

	entry, err := s.store.ImportLogs.Get(r.Context(), ref)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			s.writeDomainError(w, domain.NewError(domain.CodeNotFound, "import log not found",
				map[string]interface{}{"id": ref}))
			return
		}
		s.writeDomainError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, entry)
}
