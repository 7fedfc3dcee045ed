package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ftahirops/qplane/bus"
	"github.com/ftahirops/qplane/config"
	"github.com/ftahirops/qplane/control"
	"github.com/ftahirops/qplane/model"
)

func newTestServer(t *testing.T) (*control.Runtime, *Server) {
	t.Helper()
	clock := bus.NewVirtualClock(1_000_000)
	rt := control.NewRuntime(clock, config.Default())
	return rt, NewServer(rt, "127.0.0.1:0")
}

func postJSON(t *testing.T, h http.Handler, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	buf, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(buf))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func getJSON(t *testing.T, h http.Handler, path string, out any) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if out != nil && rec.Code == http.StatusOK {
		if err := json.Unmarshal(rec.Body.Bytes(), out); err != nil {
			t.Fatalf("decode %s response: %v", path, err)
		}
	}
	return rec
}

func moduleBody(module string, p95 float64) model.ModuleMetrics {
	return model.ModuleMetrics{
		Module:            model.ModuleID(module),
		LatencyP50:        p95 * 0.5,
		LatencyP95:        p95,
		LatencyP99:        p95 * 1.6,
		Throughput:        120,
		ErrorRate:         0.01,
		Availability:      0.99,
		CPUUtilization:    0.4,
		MemoryUtilization: 0.3,
	}
}

func TestServerHealth(t *testing.T) {
	_, srv := newTestServer(t)
	h := srv.Handler()

	var out map[string]any
	rec := getJSON(t, h, "/health", &out)
	if rec.Code != http.StatusOK {
		t.Fatalf("health status = %d, want 200", rec.Code)
	}
	if out["status"] != "ok" {
		t.Fatalf("health body = %v", out)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("content type = %q", ct)
	}
}

func TestServerIngestToSnapshot(t *testing.T) {
	_, srv := newTestServer(t)
	h := srv.Handler()

	rec := postJSON(t, h, "/api/v1/metrics", moduleBody("qflow", 850))
	if rec.Code != http.StatusAccepted {
		t.Fatalf("ingest status = %d, body %s", rec.Code, rec.Body.String())
	}
	postJSON(t, h, "/api/v1/metrics", moduleBody("qindex", 320))

	var snap model.ControlSnapshot
	rec = getJSON(t, h, "/api/v1/snapshot", &snap)
	if rec.Code != http.StatusOK {
		t.Fatalf("snapshot status = %d", rec.Code)
	}
	if len(snap.Modules) != 2 {
		t.Fatalf("snapshot modules = %d, want 2", len(snap.Modules))
	}
	if snap.Modules[0].Module != "qflow" || snap.Modules[1].Module != "qindex" {
		t.Fatalf("snapshot module order = %v, %v", snap.Modules[0].Module, snap.Modules[1].Module)
	}
	if snap.Modules[0].LatencyP95 != 850 {
		t.Fatalf("qflow p95 = %v, want 850", snap.Modules[0].LatencyP95)
	}
}

func TestServerIngestValidation(t *testing.T) {
	_, srv := newTestServer(t)
	h := srv.Handler()

	rec := postJSON(t, h, "/api/v1/metrics", map[string]any{"latency_p95": 100})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("missing module status = %d, want 400", rec.Code)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/metrics", strings.NewReader("{not json"))
	malformed := httptest.NewRecorder()
	h.ServeHTTP(malformed, req)
	if malformed.Code != http.StatusBadRequest {
		t.Fatalf("malformed body status = %d, want 400", malformed.Code)
	}

	rec = postJSON(t, h, "/api/v1/latency", map[string]any{"duration_ms": 12.5})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("latency without operation status = %d, want 400", rec.Code)
	}

	rec = postJSON(t, h, "/api/v1/flows", map[string]any{"duration_ms": 40})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("flow without id status = %d, want 400", rec.Code)
	}
}

func TestServerBudgetTracksRequests(t *testing.T) {
	_, srv := newTestServer(t)
	h := srv.Handler()

	for i := 0; i < 99; i++ {
		postJSON(t, h, "/api/v1/requests", requestIngest{Operation: "enqueue", Success: true})
	}
	postJSON(t, h, "/api/v1/requests", requestIngest{Operation: "enqueue", Success: false})

	var budget model.ErrorBudget
	rec := getJSON(t, h, "/api/v1/budget/enqueue", &budget)
	if rec.Code != http.StatusOK {
		t.Fatalf("budget status = %d", rec.Code)
	}
	if budget.Operation != "enqueue" {
		t.Fatalf("budget operation = %q", budget.Operation)
	}
	if budget.Requests != 100 || budget.Errors != 1 {
		t.Fatalf("budget counts = %d/%d, want 100/1", budget.Requests, budget.Errors)
	}

	// Never-seen operations report an untouched budget, not an error.
	rec = getJSON(t, h, "/api/v1/budget/ghost", &budget)
	if rec.Code != http.StatusOK {
		t.Fatalf("unknown budget status = %d", rec.Code)
	}
	if budget.Requests != 0 {
		t.Fatalf("unknown budget requests = %d", budget.Requests)
	}
}

func TestServerFlowIngestFeedsHourlyCost(t *testing.T) {
	rt, srv := newTestServer(t)
	h := srv.Handler()

	for i := 0; i < 10; i++ {
		rec := postJSON(t, h, "/api/v1/flows", model.FlowExecutionMetrics{
			FlowID:     fmt.Sprintf("flow-%d", i),
			DurationMs: 42,
			StepCount:  3,
			Success:    true,
		})
		if rec.Code != http.StatusAccepted {
			t.Fatalf("flow ingest status = %d", rec.Code)
		}
	}
	if got := rt.Aggregator.FlowsLastHour(); got != 10 {
		t.Fatalf("flows last hour = %d, want 10", got)
	}
}

func TestServerCorrelations(t *testing.T) {
	rt, srv := newTestServer(t)
	h := srv.Handler()

	clock := rt.Clock.(*bus.VirtualClock)
	for i := 0; i < 12; i++ {
		postJSON(t, h, "/api/v1/metrics", moduleBody("qflow", 800+float64(i)*10))
		postJSON(t, h, "/api/v1/metrics", moduleBody("qindex", 300+float64(i)*12))
		clock.Advance(time.Minute)
	}
	rt.Correlator.Tick()

	var out struct {
		Correlations []model.CorrelationAnalysis `json:"correlations"`
		Paths        []model.CriticalPath        `json:"paths"`
	}
	rec := getJSON(t, h, "/api/v1/correlations", &out)
	if rec.Code != http.StatusOK {
		t.Fatalf("correlations status = %d", rec.Code)
	}
	if len(out.Correlations) == 0 {
		t.Fatalf("no correlations after tick")
	}
}

func TestServerLadderOverride(t *testing.T) {
	rt, srv := newTestServer(t)
	h := srv.Handler()

	rec := postJSON(t, h, "/api/v1/ladder/override", overrideRequest{Level: 2, Reason: "drill"})
	if rec.Code != http.StatusOK {
		t.Fatalf("override status = %d, body %s", rec.Code, rec.Body.String())
	}
	var status model.LadderStatus
	if err := json.Unmarshal(rec.Body.Bytes(), &status); err != nil {
		t.Fatalf("decode override response: %v", err)
	}
	if status.CurrentLevel != 2 || !status.ManualOverride {
		t.Fatalf("override status = %+v", status)
	}
	if rt.Ladder.Level() != 2 {
		t.Fatalf("ladder level = %d, want 2", rt.Ladder.Level())
	}

	rec = postJSON(t, h, "/api/v1/ladder/override", overrideRequest{Level: 99, Reason: "bad"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("out-of-range override status = %d, want 400", rec.Code)
	}
}

func TestServerPrometheusScrape(t *testing.T) {
	_, srv := newTestServer(t)
	h := srv.Handler()

	postJSON(t, h, "/api/v1/metrics", moduleBody("qflow", 850))

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("scrape status = %d", rec.Code)
	}
	body := rec.Body.String()
	for _, want := range []string{
		"qplane_burn_rate",
		"qplane_degradation_level",
		"qplane_cache_hit_rate",
		`qplane_module_metric{metric="latency_p95_ms",module="qflow"} 850`,
		"qplane_http_requests_total",
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("scrape output missing %q", want)
		}
	}
}

func TestServerExportExposition(t *testing.T) {
	_, srv := newTestServer(t)
	h := srv.Handler()

	postJSON(t, h, "/api/v1/latency", map[string]any{"operation": "flow.execute", "duration_ms": 125.0})
	postJSON(t, h, "/api/v1/requests", map[string]any{"operation": "flow.execute", "success": true})
	postJSON(t, h, "/api/v1/requests", map[string]any{"operation": "flow.execute", "success": false})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/export", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("export status = %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Fatalf("export content type = %q", ct)
	}
	body := rec.Body.String()
	for _, want := range []string{
		"qplane_up 1",
		`qplane_requests_total{operation="flow.execute"} 2`,
		`qplane_errors_total{operation="flow.execute"} 1`,
		`qplane_latency_seconds{operation="flow.execute",quantile="0.95"}`,
		`qplane_latency_seconds_count{operation="flow.execute"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("export output missing %q in:\n%s", want, body)
		}
	}
}

func TestServerStreamControl(t *testing.T) {
	rt, srv := newTestServer(t)
	h := srv.Handler()

	conn := &recordingConn{}
	id, err := rt.Hub.Register(conn)
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	rec := postJSON(t, h, "/api/v1/stream/"+id+"/control", control.ClientMessage{
		Type:    "subscribe",
		Streams: []string{control.StreamSnapshot, control.StreamBurnRate},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("control status = %d, body %s", rec.Code, rec.Body.String())
	}
	var out struct {
		Subscriptions []string `json:"subscriptions"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode control response: %v", err)
	}
	if len(out.Subscriptions) != 2 {
		t.Fatalf("subscriptions = %v, want 2 streams", out.Subscriptions)
	}

	rec = postJSON(t, h, "/api/v1/stream/nobody/control", control.ClientMessage{Type: "heartbeat"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("unknown client status = %d, want 400", rec.Code)
	}
}

func TestServerStreamDeliversWelcomeAndBroadcast(t *testing.T) {
	rt, srv := newTestServer(t)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/api/v1/stream", nil)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("open stream: %v", err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content type = %q", ct)
	}

	reader := bufio.NewReader(resp.Body)
	frame := readSSEFrame(t, reader)
	if frame.Type != "welcome" {
		t.Fatalf("first frame type = %q, want welcome", frame.Type)
	}
	welcome, ok := frame.Payload.(map[string]any)
	if !ok {
		t.Fatalf("welcome payload = %v", frame.Payload)
	}
	clientID, _ := welcome["client_id"].(string)
	if clientID == "" {
		t.Fatalf("welcome payload missing client_id: %v", welcome)
	}

	// Subscribe over the control endpoint, then push a broadcast
	// through the hub and expect it on the wire.
	body, _ := json.Marshal(control.ClientMessage{Type: "subscribe", Streams: []string{control.StreamBurnRate}})
	ctrl, err := http.Post(ts.URL+"/api/v1/stream/"+clientID+"/control", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("control post: %v", err)
	}
	io.Copy(io.Discard, ctrl.Body)
	ctrl.Body.Close()
	if ctrl.StatusCode != http.StatusOK {
		t.Fatalf("control status = %d", ctrl.StatusCode)
	}

	if n := rt.Hub.Broadcast(control.StreamBurnRate, model.BurnRateMetrics{Overall: 0.42}); n != 1 {
		t.Fatalf("broadcast reached %d clients, want 1", n)
	}
	frame = readSSEFrame(t, reader)
	if frame.Type != "update" || frame.Stream != control.StreamBurnRate {
		t.Fatalf("broadcast frame = %+v", frame)
	}
}

// readSSEFrame consumes one event from the stream. Fails the test on
// EOF rather than blocking forever.
func readSSEFrame(t *testing.T, reader *bufio.Reader) control.Frame {
	t.Helper()
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			t.Fatalf("read stream: %v", err)
		}
		line = strings.TrimRight(line, "\n")
		if strings.HasPrefix(line, "data: ") {
			var frame control.Frame
			if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &frame); err != nil {
				t.Fatalf("decode frame: %v", err)
			}
			return frame
		}
	}
}

type recordingConn struct {
	frames []control.Frame
}

func (c *recordingConn) Send(f control.Frame) error {
	c.frames = append(c.frames, f)
	return nil
}

func (c *recordingConn) Close() {}
