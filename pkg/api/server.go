package api

import (
	"bufio"
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/net/websocket"

	"github.com/rmax-ai/graphsync/pkg/graph"
	"github.com/rmax-ai/graphsync/pkg/protocol"
	"github.com/rmax-ai/graphsync/pkg/relay"
	"github.com/rmax-ai/graphsync/pkg/reports"
	"github.com/rmax-ai/graphsync/pkg/store"
)

// Context keys
type contextKey string

const traceIDKey contextKey = "trace_id"

const maxEventBodyBytes = 64 << 10

// Interfaces for dependencies to enable mocking

type HubInterface interface {
	Handler() websocket.Handler
	Graph() *graph.Graph
	Inject(ctx context.Context, ev protocol.Event) error
	PeerCount() int
}

type JournalInterface interface {
	ReadEntries(ctx context.Context, filter store.EntryFilter) ([]*store.Entry, error)
}

// HealthResponse is the body of GET /v1/health
type HealthResponse struct {
	Status string `json:"status"`
	Peers  int    `json:"peers"`
}

// InjectResponse is the body returned by POST /v1/events
type InjectResponse struct {
	Status string `json:"status"`
	Type   string `json:"type"`
}

// Server encapsulates the HTTP API server
type Server struct {
	hub      HubInterface
	journal  JournalInterface
	server   *http.Server
	staticFS fs.FS
	logger   *zap.Logger

	// TLS Config
	tlsCertFile string
	tlsKeyFile  string
}

// NewServer creates a new API server instance
func NewServer(hub HubInterface, addr string, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		hub:    hub,
		logger: logger,
	}

	mux := http.NewServeMux()

	// Register routes
	mux.HandleFunc("/v1/health", s.handleHealth)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/v1/graph", s.handleGraph)
	mux.HandleFunc("/v1/events", s.handleEvents)
	mux.HandleFunc("/v1/reports", s.handleReports)
	mux.HandleFunc("/ws", s.handleWebsocket)

	// Static file handler (catch-all for the graph page)
	mux.Handle("/", s.handleStatic())

	// Middleware: Logging, Panic Recovery, Security Headers
	handler := s.withLogging(s.withRecovery(withSecureHeaders(mux)))

	// Use default port if addr is empty
	if addr == "" {
		addr = ":8090"
	}

	// No read/write timeouts: /ws connections are long lived.
	s.server = &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       15 * time.Second,
	}

	return s
}

// SetJournal enables GET /v1/events
func (s *Server) SetJournal(j JournalInterface) {
	s.journal = j
}

// SetStaticFS sets the filesystem for serving static web assets
func (s *Server) SetStaticFS(fs fs.FS) {
	s.staticFS = fs
}

// SetTLS configures the server to use TLS
func (s *Server) SetTLS(certFile, keyFile string) {
	s.tlsCertFile = certFile
	s.tlsKeyFile = keyFile
}

// Handler returns the fully wrapped HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Start runs the HTTP server (blocking)
func (s *Server) Start() error {
	if s.tlsCertFile != "" && s.tlsKeyFile != "" {
		s.logger.Info("server_starting_tls", zap.String("addr", s.server.Addr))
		if err := s.server.ListenAndServeTLS(s.tlsCertFile, s.tlsKeyFile); err != http.ErrServerClosed {
			return err
		}
	} else {
		s.logger.Info("server_starting", zap.String("addr", s.server.Addr))
		if err := s.server.ListenAndServe(); err != http.ErrServerClosed {
			return err
		}
	}
	return nil
}

// Stop gracefully shuts down the server
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("server_stopping")
	return s.server.Shutdown(ctx)
}

// handleWebsocket upgrades the connection and hands it to the relay hub.
func (s *Server) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	if s.hub == nil {
		http.Error(w, `{"error":"relay_not_available"}`, http.StatusServiceUnavailable)
		return
	}
	s.hub.Handler().ServeHTTP(w, r)
}

// handleGraph returns the relay's view of the graph.
func (s *Server) handleGraph(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, `{"error":"method_not_allowed"}`, http.StatusMethodNotAllowed)
		return
	}

	if s.hub == nil {
		http.Error(w, `{"error":"graph_not_available"}`, http.StatusServiceUnavailable)
		return
	}

	g := s.hub.Graph()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(g); err != nil {
		s.logger.Error("failed_to_encode_graph", zap.String("trace_id", getTraceID(r.Context())), zap.Error(err))
	}
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.listEvents(w, r)
	case http.MethodPost:
		s.injectEvent(w, r)
	default:
		http.Error(w, `{"error":"method_not_allowed"}`, http.StatusMethodNotAllowed)
	}
}

// listEvents returns recent journal entries, newest first.
func (s *Server) listEvents(w http.ResponseWriter, r *http.Request) {
	if s.journal == nil {
		http.Error(w, `{"error":"journal_not_available"}`, http.StatusServiceUnavailable)
		return
	}

	// Parse limit query param
	limit := 50
	if l := r.URL.Query().Get("limit"); l != "" {
		val, err := strconv.Atoi(l)
		if err != nil || val <= 0 {
			http.Error(w, `{"error":"invalid_limit"}`, http.StatusBadRequest)
			return
		}
		limit = val
	}

	filter := store.EntryFilter{
		PeerID: r.URL.Query().Get("peer_id"),
		Limit:  limit,
	}
	if t := r.URL.Query().Get("type"); t != "" {
		filter.EventTypes = strings.Split(t, ",")
	}

	entries, err := s.journal.ReadEntries(r.Context(), filter)
	if err != nil {
		s.logger.Error("failed_to_read_events", zap.String("trace_id", getTraceID(r.Context())), zap.Error(err))
		http.Error(w, `{"error":"internal_server_error"}`, http.StatusInternalServerError)
		return
	}
	if entries == nil {
		entries = []*store.Entry{}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(entries); err != nil {
		s.logger.Error("failed_to_encode_events", zap.String("trace_id", getTraceID(r.Context())), zap.Error(err))
	}
}

// handleReports streams a CSV export of the journal.
func (s *Server) handleReports(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, `{"error":"method_not_allowed"}`, http.StatusMethodNotAllowed)
		return
	}
	if s.journal == nil {
		http.Error(w, `{"error":"journal_not_available"}`, http.StatusServiceUnavailable)
		return
	}

	q := r.URL.Query()
	reportType := reports.ReportType(q.Get("type"))
	if reportType == "" {
		http.Error(w, `{"error":"missing_type"}`, http.StatusBadRequest)
		return
	}

	// Default time range: last 24h if not specified
	to := time.Now().UTC()
	if toStr := q.Get("to"); toStr != "" {
		var err error
		to, err = time.Parse(time.RFC3339, toStr)
		if err != nil {
			http.Error(w, `{"error":"invalid_to","format":"RFC3339"}`, http.StatusBadRequest)
			return
		}
	}
	from := to.Add(-24 * time.Hour)
	if fromStr := q.Get("from"); fromStr != "" {
		var err error
		from, err = time.Parse(time.RFC3339, fromStr)
		if err != nil {
			http.Error(w, `{"error":"invalid_from","format":"RFC3339"}`, http.StatusBadRequest)
			return
		}
	}

	params := reports.ReportParams{
		Start:   from,
		End:     to,
		Filters: make(map[string]interface{}),
	}
	for _, key := range []string{"peer_id", "event_type", "bucket"} {
		if v := q.Get(key); v != "" {
			params.Filters[key] = v
		}
	}

	gen, err := reports.NewReportGenerator(reportType, s.journal)
	if err != nil {
		http.Error(w, `{"error":"invalid_report_type"}`, http.StatusBadRequest)
		return
	}

	reader, err := gen.Generate(r.Context(), params)
	if errors.Is(err, reports.ErrInvalidParams) {
		http.Error(w, `{"error":"invalid_report_params"}`, http.StatusBadRequest)
		return
	}
	if err != nil {
		s.logger.Error("failed_to_generate_report", zap.String("trace_id", getTraceID(r.Context())), zap.Error(err))
		http.Error(w, `{"error":"report_generation_failed"}`, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/csv")
	filename := fmt.Sprintf("graphsync_%s_%d.csv", reportType, time.Now().Unix())
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s", filename))
	if _, err := io.Copy(w, reader); err != nil {
		s.logger.Error("failed_to_stream_report", zap.String("trace_id", getTraceID(r.Context())), zap.Error(err))
	}
}

// injectEvent relays one event as if a peer had sent it.
func (s *Server) injectEvent(w http.ResponseWriter, r *http.Request) {
	if s.hub == nil {
		http.Error(w, `{"error":"relay_not_available"}`, http.StatusServiceUnavailable)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxEventBodyBytes))
	if err != nil {
		http.Error(w, `{"error":"request_too_large"}`, http.StatusRequestEntityTooLarge)
		return
	}

	ev, err := protocol.Decode(body)
	if err != nil {
		http.Error(w, `{"error":"invalid_json_body"}`, http.StatusBadRequest)
		return
	}
	if !ev.Type.Known() {
		http.Error(w, `{"error":"unknown_event_type"}`, http.StatusBadRequest)
		return
	}

	if err := s.hub.Inject(r.Context(), ev); err != nil {
		if errors.Is(err, relay.ErrClosed) {
			http.Error(w, `{"error":"relay_closed"}`, http.StatusServiceUnavailable)
			return
		}
		s.logger.Error("failed_to_inject_event", zap.String("trace_id", getTraceID(r.Context())), zap.Error(err))
		http.Error(w, `{"error":"internal_server_error"}`, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(w).Encode(InjectResponse{Status: "accepted", Type: string(ev.Type)})
}

func (s *Server) handleStatic() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.staticFS == nil {
			http.NotFound(w, r)
			return
		}

		path := r.URL.Path

		// Skip API routes
		if strings.HasPrefix(path, "/v1/") {
			http.NotFound(w, r)
			return
		}

		// Try to serve the file directly
		name := strings.TrimPrefix(path, "/")
		if name != "" {
			if file, err := s.staticFS.Open(name); err == nil {
				defer file.Close()
				if stat, err := file.Stat(); err == nil && !stat.IsDir() {
					// Set content type based on extension
					if strings.HasSuffix(name, ".css") {
						w.Header().Set("Content-Type", "text/css")
					} else if strings.HasSuffix(name, ".js") {
						w.Header().Set("Content-Type", "application/javascript")
					} else if strings.HasSuffix(name, ".html") {
						w.Header().Set("Content-Type", "text/html")
					}
					io.Copy(w, file)
					return
				}
			}
		}

		// Fallback to index.html
		if indexFile, err := s.staticFS.Open("index.html"); err == nil {
			defer indexFile.Close()
			w.Header().Set("Content-Type", "text/html")
			io.Copy(w, indexFile)
			return
		}

		http.NotFound(w, r)
	})
}

// handleHealth returns simple status
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, `{"error":"method_not_allowed"}`, http.StatusMethodNotAllowed)
		return
	}
	resp := HealthResponse{Status: "ok"}
	if s.hub != nil {
		resp.Peers = s.hub.PeerCount()
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(resp)
}

// Middleware: Panic Recovery
func (s *Server) withRecovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				s.logger.Error("panic_recovered", zap.Any("error", err), zap.String("path", r.URL.Path))
				http.Error(w, `{"error":"internal_server_error"}`, http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// Middleware: Request Logging
func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		// 1. Extract or Generate Trace ID
		traceID := r.Header.Get("X-Trace-ID")
		if traceID == "" {
			traceID = generateTraceID()
		}

		// 2. Inject into Context
		ctx := context.WithValue(r.Context(), traceIDKey, traceID)
		r = r.WithContext(ctx)

		// Wrap writer to capture status code
		ww := &statusWriter{ResponseWriter: w, status: http.StatusOK}

		// 3. Set response header
		w.Header().Set("X-Trace-ID", traceID)

		next.ServeHTTP(ww, r)

		s.logger.Info("http_request",
			zap.String("trace_id", traceID),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.status),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
		)
	})
}

func generateTraceID() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		// Fallback if random fails (unlikely)
		return fmt.Sprintf("%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(b)
}

func getTraceID(ctx context.Context) string {
	if v, ok := ctx.Value(traceIDKey).(string); ok {
		return v
	}
	return ""
}

// statusWriter captures HTTP status code
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

// Hijack lets the websocket handler take over the connection.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	w.status = http.StatusSwitchingProtocols
	return hj.Hijack()
}

// contentSecurityPolicy allows the graph page to open its live websocket on host.
// Older browsers do not match ws:// and wss:// against 'self'.
func contentSecurityPolicy(host string) string {
	connect := "connect-src 'self'"
	if host != "" {
		connect += " ws://" + host + " wss://" + host
	}
	return "default-src 'self'; script-src 'self' 'unsafe-inline'; style-src 'self' 'unsafe-inline'; img-src 'self' data:; " + connect + ";"
}

// Middleware: Secure Headers
func withSecureHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Security-Policy", contentSecurityPolicy(r.Host))
		w.Header().Set("Strict-Transport-Security", "max-age=63072000; includeSubDomains")
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "no-referrer")
		w.Header().Set("X-XSS-Protection", "1; mode=block")

		next.ServeHTTP(w, r)
	})
}
