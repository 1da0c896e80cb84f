package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jongio/portwatch/src/internal/actions"
	"github.com/jongio/portwatch/src/internal/metrics"
	"github.com/jongio/portwatch/src/internal/monitor"
	"github.com/jongio/portwatch/src/internal/portscan"
	"github.com/jongio/portwatch/src/internal/scanner"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	nodeRecord = portscan.PortRecord{
		Port: 3000, Protocol: portscan.ProtocolTCP, PID: 1234, ProcessName: "node",
		Command: "node server.js", State: "LISTEN", LocalAddress: "127.0.0.1", Framework: "Node.js",
	}
	viteRecord = portscan.PortRecord{
		Port: 5173, Protocol: portscan.ProtocolTCP, PID: 2222, ProcessName: "vite",
		State: "LISTEN", LocalAddress: "::1",
	}
)

type fakeMonitor struct {
	mu         sync.Mutex
	active     bool
	records    []portscan.PortRecord
	refreshErr error
	refreshes  int
	subs       []chan monitor.Event
}

func (f *fakeMonitor) IsActive() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.active
}

func (f *fakeMonitor) CurrentPorts() []portscan.PortRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.records
}

func (f *fakeMonitor) Refresh(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshes++
	return f.refreshErr
}

func (f *fakeMonitor) SubscribeChan(buffer int) (<-chan monitor.Event, func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch := make(chan monitor.Event, buffer)
	f.subs = append(f.subs, ch)
	return ch, func() {}
}

func (f *fakeMonitor) emit(ev monitor.Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, ch := range f.subs {
		ch <- ev
	}
}

func (f *fakeMonitor) closeSubscribers() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, ch := range f.subs {
		close(ch)
	}
	f.subs = nil
}

type fakeLookuper struct {
	records map[int]portscan.PortRecord
	err     error
}

func (f *fakeLookuper) Lookup(ctx context.Context, port int) (*portscan.PortRecord, error) {
	if f.err != nil {
		return nil, f.err
	}
	rec, ok := f.records[port]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

type fakeActions struct {
	mu        sync.Mutex
	result    actions.Result
	lastPort  int
	lastForce bool
	lastProto string
}

func (f *fakeActions) Terminate(ctx context.Context, port int, force bool) actions.Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastPort, f.lastForce = port, force
	return f.result
}

func (f *fakeActions) OpenInBrowser(ctx context.Context, port int, protocol string) actions.Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastPort, f.lastProto = port, protocol
	return f.result
}

func newTestServer(t *testing.T) (*Server, *fakeMonitor, *fakeActions) {
	t.Helper()
	mon := &fakeMonitor{active: true, records: []portscan.PortRecord{nodeRecord, viteRecord}}
	lookuper := &fakeLookuper{records: map[int]portscan.PortRecord{3000: nodeRecord}}
	acts := &fakeActions{result: actions.Result{Success: true, Message: "ok", Port: 3000}}
	return New(mon, lookuper, acts, nil), mon, acts
}

func do(t *testing.T, srv *Server, method, target string, header http.Header) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	for k, v := range header {
		req.Header[k] = v
	}
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHandleGetPorts(t *testing.T) {
	srv, _, _ := newTestServer(t)

	rec := do(t, srv, http.MethodGet, "/api/ports", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var got portsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.True(t, got.Active)
	assert.Equal(t, []portscan.PortRecord{nodeRecord, viteRecord}, got.Records)
}

func TestHandleGetPortsEmpty(t *testing.T) {
	srv := New(&fakeMonitor{}, &fakeLookuper{}, &fakeActions{}, nil)

	rec := do(t, srv, http.MethodGet, "/api/ports", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"active":false,"records":[]}`, rec.Body.String())
}

func TestHandleGetPort(t *testing.T) {
	srv, _, _ := newTestServer(t)

	rec := do(t, srv, http.MethodGet, "/api/ports/3000", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var got portscan.PortRecord
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, nodeRecord, got)

	rec = do(t, srv, http.MethodGet, "/api/ports/4000", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "no process found on port 4000")

	rec = do(t, srv, http.MethodGet, "/api/ports/abc", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleGetPortErrors(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantKind   string
	}{
		{"validation", &scanner.Error{Kind: scanner.KindValidation, Message: "port 80 is outside 1024-65535"}, http.StatusBadRequest, "validation"},
		{"command", &scanner.Error{Kind: scanner.KindCommandNotFound, Message: "lsof not found"}, http.StatusInternalServerError, "command_not_found"},
		{"other", errors.New("boom"), http.StatusInternalServerError, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := New(&fakeMonitor{}, &fakeLookuper{err: tt.err}, &fakeActions{}, nil)

			rec := do(t, srv, http.MethodGet, "/api/ports/80", nil)
			assert.Equal(t, tt.wantStatus, rec.Code)

			var got errorResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
			assert.Equal(t, tt.wantKind, got.Kind)
			assert.NotEmpty(t, got.Error)
		})
	}
}

func TestHandleKill(t *testing.T) {
	srv, _, acts := newTestServer(t)

	rec := do(t, srv, http.MethodPost, "/api/ports/3000/kill?force=true", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 3000, acts.lastPort)
	assert.True(t, acts.lastForce)

	var got actions.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.True(t, got.Success)

	rec = do(t, srv, http.MethodPost, "/api/ports/3000/kill", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, acts.lastForce)
}

func TestHandleKillReasons(t *testing.T) {
	tests := []struct {
		reason actions.Reason
		want   int
	}{
		{actions.ReasonNotFound, http.StatusNotFound},
		{actions.ReasonElevationRequired, http.StatusForbidden},
		{actions.ReasonInvalidPort, http.StatusBadRequest},
		{actions.ReasonError, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(string(tt.reason), func(t *testing.T) {
			srv, _, acts := newTestServer(t)
			acts.result = actions.Result{Reason: tt.reason, Message: "nope"}

			rec := do(t, srv, http.MethodPost, "/api/ports/3000/kill", nil)
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}

func TestMutationsRejectForeignOrigin(t *testing.T) {
	srv, mon, acts := newTestServer(t)
	evil := http.Header{"Origin": []string{"https://evil.example"}}

	for _, target := range []string{"/api/ports/3000/kill", "/api/ports/3000/open", "/api/refresh"} {
		rec := do(t, srv, http.MethodPost, target, evil)
		assert.Equal(t, http.StatusForbidden, rec.Code, target)
	}
	assert.Zero(t, acts.lastPort)
	assert.Zero(t, mon.refreshes)

	local := http.Header{"Origin": []string{"http://localhost:4280"}}
	rec := do(t, srv, http.MethodPost, "/api/ports/3000/kill", local)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestMutationsRequirePost(t *testing.T) {
	srv, _, acts := newTestServer(t)

	rec := do(t, srv, http.MethodGet, "/api/ports/3000/kill", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.Zero(t, acts.lastPort)
}

func TestHandleOpen(t *testing.T) {
	srv, _, acts := newTestServer(t)
	acts.result = actions.Result{Success: true, Port: 3000, URL: "https://localhost:3000"}

	rec := do(t, srv, http.MethodPost, "/api/ports/3000/open?protocol=https", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "https", acts.lastProto)
	assert.Contains(t, rec.Body.String(), "https://localhost:3000")
}

func TestHandleRefresh(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"ok", nil, http.StatusNoContent},
		{"limited", monitor.ErrRefreshLimited, http.StatusTooManyRequests},
		{"idle", monitor.ErrNotRunning, http.StatusConflict},
		{"scan failed", &scanner.Error{Kind: scanner.KindPermission, Message: "denied"}, http.StatusBadGateway},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mon := &fakeMonitor{refreshErr: tt.err}
			srv := New(mon, &fakeLookuper{}, &fakeActions{}, nil)

			rec := do(t, srv, http.MethodPost, "/api/refresh", nil)
			assert.Equal(t, tt.want, rec.Code)
			assert.Equal(t, 1, mon.refreshes)
		})
	}
}

func TestMetricsEndpoint(t *testing.T) {
	m := metrics.New()
	m.ObserveScan("ok")
	srv := New(&fakeMonitor{}, &fakeLookuper{}, &fakeActions{}, m)

	rec := do(t, srv, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `portwatch_scans_total{outcome="ok"} 1`)
}

func TestMetricsEndpointDisabled(t *testing.T) {
	srv, _, _ := newTestServer(t)

	rec := do(t, srv, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleIndex(t *testing.T) {
	mon := &fakeMonitor{records: []portscan.PortRecord{{
		Port: 3000, Protocol: portscan.ProtocolTCP, PID: 1, ProcessName: "<script>x</script>",
	}}}
	srv := New(mon, &fakeLookuper{}, &fakeActions{}, nil)

	rec := do(t, srv, http.MethodGet, "/", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "portwatch")
	assert.Contains(t, body, "The monitor is not running")
	assert.Contains(t, body, "&lt;script&gt;x&lt;/script&gt;")
	assert.NotContains(t, body, "<script>x</script>")

	rec = do(t, srv, http.MethodGet, "/nope", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestIsLocalOrigin(t *testing.T) {
	tests := []struct {
		origin string
		want   bool
	}{
		{"", true},
		{"http://localhost:4280", true},
		{"https://localhost:3000", true},
		{"http://127.0.0.1:8080", true},
		{"http://[::1]:8080", true},
		{"http://localhost", true},
		{"https://evil.example", false},
		{"http://localhost.evil.example", false},
		{"file://localhost/etc", false},
		{"null", false},
	}

	for _, tt := range tests {
		t.Run(tt.origin, func(t *testing.T) {
			assert.Equal(t, tt.want, isLocalOrigin(tt.origin))
		})
	}
}

func wsURL(ts *httptest.Server) string {
	return "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/ws"
}

func TestWebSocketSnapshotThenEvents(t *testing.T) {
	srv, mon, _ := newTestServer(t)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, wsURL(ts), nil)
	require.NoError(t, err)
	defer conn.CloseNow()

	var snapshot message
	require.NoError(t, wsjson.Read(ctx, conn, &snapshot))
	assert.Equal(t, "snapshot", snapshot.Type)
	assert.Equal(t, []portscan.PortRecord{nodeRecord, viteRecord}, snapshot.Records)
	assert.Equal(t, 1, srv.ClientCount())

	mon.emit(monitor.Event{Type: monitor.EventRemoved, Record: viteRecord})

	var event message
	require.NoError(t, wsjson.Read(ctx, conn, &event))
	assert.Equal(t, "removed", event.Type)
	require.NotNil(t, event.Record)
	assert.Equal(t, viteRecord, *event.Record)
	assert.Nil(t, event.Previous)

	updated := nodeRecord
	updated.State = "CLOSE_WAIT"
	mon.emit(monitor.Event{Type: monitor.EventUpdated, Record: updated, Previous: &nodeRecord})

	require.NoError(t, wsjson.Read(ctx, conn, &event))
	assert.Equal(t, "updated", event.Type)
	require.NotNil(t, event.Previous)
	assert.Equal(t, "LISTEN", event.Previous.State)
	assert.Equal(t, "CLOSE_WAIT", event.Record.State)
}

func TestWebSocketClosesWhenMonitorStops(t *testing.T) {
	srv, mon, _ := newTestServer(t)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, wsURL(ts), nil)
	require.NoError(t, err)
	defer conn.CloseNow()

	var snapshot message
	require.NoError(t, wsjson.Read(ctx, conn, &snapshot))

	mon.closeSubscribers()

	_, _, err = conn.Read(ctx)
	require.Error(t, err)
	assert.Equal(t, websocket.StatusNormalClosure, websocket.CloseStatus(err))
}

func TestWebSocketRejectsForeignOrigin(t *testing.T) {
	srv, _, _ := newTestServer(t)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, resp, err := websocket.Dial(ctx, wsURL(ts), &websocket.DialOptions{
		HTTPHeader: http.Header{"Origin": []string{"https://evil.example"}},
	})
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestStartStop(t *testing.T) {
	srv, _, _ := newTestServer(t)

	url, err := srv.Start("127.0.0.1:0")
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(url, "http://127.0.0.1:"))

	_, err = srv.Start("127.0.0.1:0")
	require.Error(t, err, "second Start is rejected")

	resp, err := http.Get(url + "/api/ports")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `"processName":"node"`)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, srv.Stop(ctx))
	require.NoError(t, srv.Stop(ctx), "Stop is idempotent")

	_, err = http.Get(url + "/api/ports")
	assert.Error(t, err)
}

func TestStopBeforeStart(t *testing.T) {
	srv, _, _ := newTestServer(t)
	assert.NoError(t, srv.Stop(context.Background()))
}

func TestStartBindError(t *testing.T) {
	first, _, _ := newTestServer(t)
	url, err := first.Start("127.0.0.1:0")
	require.NoError(t, err)
	defer first.Stop(context.Background())

	second, _, _ := newTestServer(t)
	_, err = second.Start(strings.TrimPrefix(url, "http://"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to listen")
}
