// Package dashboard serves the live port view over HTTP: a JSON API, a
// WebSocket event stream, Prometheus metrics and a small HTML page.
package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/jongio/portwatch/src/internal/actions"
	"github.com/jongio/portwatch/src/internal/logging"
	"github.com/jongio/portwatch/src/internal/metrics"
	"github.com/jongio/portwatch/src/internal/monitor"
	"github.com/jongio/portwatch/src/internal/portscan"
	"github.com/jongio/portwatch/src/internal/scanner"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

const (
	clientBuffer      = 64
	writeTimeout      = 5 * time.Second
	readHeaderTimeout = 10 * time.Second
)

// originPatterns limits WebSocket upgrades to pages served from this machine.
// Requests without an Origin header (non-browser clients) are always allowed.
var originPatterns = []string{"localhost:*", "127.0.0.1:*"}

// Monitor is the live view the dashboard streams.
type Monitor interface {
	IsActive() bool
	CurrentPorts() []portscan.PortRecord
	Refresh(ctx context.Context) error
	SubscribeChan(buffer int) (<-chan monitor.Event, func())
}

// Lookuper finds the record on one port.
type Lookuper interface {
	Lookup(ctx context.Context, port int) (*portscan.PortRecord, error)
}

// Actions performs the port actions exposed over the API.
type Actions interface {
	Terminate(ctx context.Context, port int, force bool) actions.Result
	OpenInBrowser(ctx context.Context, port int, protocol string) actions.Result
}

// message is one WebSocket frame. The first frame has type "snapshot" and
// carries Records; later frames carry one event each, typed by its kind.
type message struct {
	Type     string                `json:"type"`
	Records  []portscan.PortRecord `json:"records,omitempty"`
	Record   *portscan.PortRecord  `json:"record,omitempty"`
	Previous *portscan.PortRecord  `json:"previous,omitempty"`
}

func eventMessage(ev monitor.Event) message {
	return message{Type: string(ev.Type), Record: &ev.Record, Previous: ev.Previous}
}

type portsResponse struct {
	Active  bool                  `json:"active"`
	Records []portscan.PortRecord `json:"records"`
}

type errorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

// Server is the dashboard HTTP server.
type Server struct {
	mux      *http.ServeMux
	server   *http.Server
	monitor  Monitor
	lookuper Lookuper
	actions  Actions
	metrics  *metrics.Metrics

	clients   map[*websocket.Conn]struct{}
	clientsMu sync.RWMutex

	stopChan  chan struct{}
	stopOnce  sync.Once
	started   bool
	startedMu sync.Mutex
}

// New creates a Server. metrics may be nil, in which case /metrics is 404.
func New(mon Monitor, lookuper Lookuper, acts Actions, m *metrics.Metrics) *Server {
	s := &Server{
		mux:      http.NewServeMux(),
		monitor:  mon,
		lookuper: lookuper,
		actions:  acts,
		metrics:  m,
		clients:  make(map[*websocket.Conn]struct{}),
		stopChan: make(chan struct{}),
	}
	s.setupRoutes()
	return s
}

// Handler returns the server's routes, for embedding or tests.
func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) setupRoutes() {
	s.mux.HandleFunc("GET /{$}", s.handleIndex)
	s.mux.HandleFunc("GET /api/ports", s.handleGetPorts)
	s.mux.HandleFunc("GET /api/ports/{port}", s.handleGetPort)
	s.mux.Handle("POST /api/ports/{port}/kill", localOnly(http.HandlerFunc(s.handleKill)))
	s.mux.Handle("POST /api/ports/{port}/open", localOnly(http.HandlerFunc(s.handleOpen)))
	s.mux.Handle("POST /api/refresh", localOnly(http.HandlerFunc(s.handleRefresh)))
	s.mux.HandleFunc("GET /api/ws", s.handleWebSocket)
	s.mux.Handle("GET /metrics", s.metrics.Handler())
}

// Start listens on addr and serves in the background. It returns the
// dashboard URL. Bind errors are returned directly.
func (s *Server) Start(addr string) (string, error) {
	s.startedMu.Lock()
	defer s.startedMu.Unlock()
	if s.started {
		return "", errors.New("dashboard server already started")
	}

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return "", fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	s.server = &http.Server{
		Handler:           s.mux,
		ReadHeaderTimeout: readHeaderTimeout,
	}
	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.Error("dashboard server error", "error", err)
		}
	}()
	s.started = true

	dashboardURL := "http://" + listener.Addr().String()
	logging.Info("dashboard listening", "url", dashboardURL)
	return dashboardURL, nil
}

// Stop disconnects WebSocket clients and shuts the server down, waiting for
// in-flight requests until ctx is done. Safe to call more than once and
// before Start.
func (s *Server) Stop(ctx context.Context) error {
	s.stopOnce.Do(func() { close(s.stopChan) })

	s.startedMu.Lock()
	wasStarted := s.started
	s.started = false
	s.startedMu.Unlock()

	if !wasStarted || s.server == nil {
		return nil
	}
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shut down dashboard: %w", err)
	}
	return nil
}

// ClientCount returns the number of connected WebSocket clients.
func (s *Server) ClientCount() int {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	return len(s.clients)
}

func (s *Server) records() []portscan.PortRecord {
	records := s.monitor.CurrentPorts()
	if records == nil {
		records = []portscan.PortRecord{}
	}
	return records
}

func (s *Server) handleGetPorts(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, portsResponse{
		Active:  s.monitor.IsActive(),
		Records: s.records(),
	})
}

func (s *Server) handleGetPort(w http.ResponseWriter, r *http.Request) {
	port, ok := pathPort(w, r)
	if !ok {
		return
	}

	rec, err := s.lookuper.Lookup(r.Context(), port)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, scanner.ErrValidation) {
			status = http.StatusBadRequest
		}
		writeJSON(w, status, errorResponse{Error: err.Error(), Kind: string(scanner.KindOf(err))})
		return
	}
	if rec == nil {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: fmt.Sprintf("no process found on port %d", port)})
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleKill(w http.ResponseWriter, r *http.Request) {
	port, ok := pathPort(w, r)
	if !ok {
		return
	}
	force, _ := strconv.ParseBool(r.URL.Query().Get("force"))

	result := s.actions.Terminate(r.Context(), port, force)
	writeJSON(w, resultStatus(result), result)
}

func (s *Server) handleOpen(w http.ResponseWriter, r *http.Request) {
	port, ok := pathPort(w, r)
	if !ok {
		return
	}

	result := s.actions.OpenInBrowser(r.Context(), port, r.URL.Query().Get("protocol"))
	writeJSON(w, resultStatus(result), result)
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	err := s.monitor.Refresh(r.Context())
	switch {
	case err == nil:
		w.WriteHeader(http.StatusNoContent)
	case errors.Is(err, monitor.ErrRefreshLimited):
		w.Header().Set("Retry-After", "1")
		writeJSON(w, http.StatusTooManyRequests, errorResponse{Error: err.Error()})
	case errors.Is(err, monitor.ErrNotRunning):
		writeJSON(w, http.StatusConflict, errorResponse{Error: err.Error()})
	default:
		writeJSON(w, http.StatusBadGateway, errorResponse{Error: err.Error(), Kind: string(scanner.KindOf(err))})
	}
}

// handleWebSocket sends the current records, then every monitor event until
// the client leaves, the monitor is cleaned up or the server stops.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: originPatterns})
	if err != nil {
		logging.Warn("websocket upgrade failed", "origin", r.Header.Get("Origin"), "error", err)
		return
	}
	defer conn.CloseNow()

	s.addClient(conn)
	defer s.removeClient(conn)

	// Subscribe before reading the snapshot so no change falls in between.
	events, unsubscribe := s.monitor.SubscribeChan(clientBuffer)
	defer unsubscribe()

	ctx := conn.CloseRead(r.Context())
	if err := send(ctx, conn, message{Type: "snapshot", Records: s.records()}); err != nil {
		logging.Debug("websocket send failed", "error", err)
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopChan:
			_ = conn.Close(websocket.StatusGoingAway, "server shutting down")
			return
		case ev, ok := <-events:
			if !ok {
				_ = conn.Close(websocket.StatusNormalClosure, "monitor stopped")
				return
			}
			if err := send(ctx, conn, eventMessage(ev)); err != nil {
				logging.Debug("websocket send failed", "error", err)
				return
			}
		}
	}
}

func (s *Server) addClient(conn *websocket.Conn) {
	s.clientsMu.Lock()
	s.clients[conn] = struct{}{}
	s.clientsMu.Unlock()
}

func (s *Server) removeClient(conn *websocket.Conn) {
	s.clientsMu.Lock()
	delete(s.clients, conn)
	s.clientsMu.Unlock()
}

func send(ctx context.Context, conn *websocket.Conn, msg message) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return wsjson.Write(ctx, conn, msg)
}

var indexTemplate = template.Must(template.New("index").Parse(`<!DOCTYPE html>
<html>
<head>
    <title>portwatch</title>
    <meta charset="utf-8">
    <meta name="viewport" content="width=device-width, initial-scale=1">
    <style>
        body { font-family: system-ui, -apple-system, sans-serif; max-width: 1200px; margin: 40px auto; padding: 20px; }
        h1 { color: #0078d4; }
        table { border-collapse: collapse; width: 100%; }
        th, td { text-align: left; padding: 6px 10px; border-bottom: 1px solid #eee; }
        td.cmd { color: #666; font-family: monospace; font-size: 12px; }
        a { color: #0078d4; text-decoration: none; }
    </style>
</head>
<body>
    <h1>portwatch</h1>
    {{if .Active}}<p>Watching for changes.</p>{{else}}<p>The monitor is not running.</p>{{end}}
    {{if .Records}}
    <table>
        <tr><th>Port</th><th>Proto</th><th>PID</th><th>Process</th><th>State</th><th>Framework</th><th>Command</th></tr>
        {{range .Records}}
        <tr><td>{{.Port}}</td><td>{{.Protocol}}</td><td>{{.PID}}</td><td>{{.ProcessName}}</td><td>{{.State}}</td><td>{{.Framework}}</td><td class="cmd">{{.Command}}</td></tr>
        {{end}}
    </table>
    {{else}}
    <p>No processes are listening in the watched range.</p>
    {{end}}
    <hr>
    <p style="color: #666; font-size: 14px;"><a href="/api/ports">View JSON</a> | <a href="/metrics">Metrics</a></p>
    <script>
        const ws = new WebSocket((location.protocol === "https:" ? "wss://" : "ws://") + location.host + "/api/ws");
        ws.onmessage = (e) => { if (JSON.parse(e.data).type !== "snapshot") location.reload(); };
    </script>
</body>
</html>
`))

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	data := portsResponse{Active: s.monitor.IsActive(), Records: s.records()}
	if err := indexTemplate.Execute(w, data); err != nil {
		logging.Warn("failed to render dashboard page", "error", err)
	}
}

// localOnly rejects state-changing requests sent by pages from other origins.
func localOnly(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !isLocalOrigin(r.Header.Get("Origin")) {
			writeJSON(w, http.StatusForbidden, errorResponse{Error: "cross-origin request rejected"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// isLocalOrigin accepts an empty origin and http(s) origins on localhost.
func isLocalOrigin(origin string) bool {
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return false
	}
	switch u.Hostname() {
	case "localhost", "127.0.0.1", "::1":
		return true
	}
	return false
}

func pathPort(w http.ResponseWriter, r *http.Request) (int, bool) {
	port, err := strconv.Atoi(r.PathValue("port"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{
			Error: fmt.Sprintf("invalid port %q", r.PathValue("port")),
			Kind:  string(scanner.KindValidation),
		})
		return 0, false
	}
	return port, true
}

func resultStatus(r actions.Result) int {
	switch r.Reason {
	case actions.ReasonNone:
		return http.StatusOK
	case actions.ReasonNotFound:
		return http.StatusNotFound
	case actions.ReasonElevationRequired:
		return http.StatusForbidden
	case actions.ReasonInvalidPort:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Debug("failed to write response", "error", err)
	}
}
