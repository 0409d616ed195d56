package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/kalambet/switchboard/internal/api"
	"github.com/kalambet/switchboard/internal/config"
	"github.com/kalambet/switchboard/internal/intent"
	"github.com/kalambet/switchboard/internal/tracing"
)

type recordedRequest struct {
	Method string
	Path   string
	Body   string
	Auth   string
}

type testServer struct {
	server   *httptest.Server
	requests []recordedRequest
}

func newTestServer(t *testing.T, responses map[string]string) *testServer {
	t.Helper()
	ts := &testServer{}

	ts.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body bytes.Buffer
		body.ReadFrom(r.Body)

		ts.requests = append(ts.requests, recordedRequest{
			Method: r.Method,
			Path:   r.URL.RequestURI(),
			Body:   body.String(),
			Auth:   r.Header.Get("Authorization"),
		})

		key := r.Method + " " + r.URL.Path
		if resp, ok := responses[key]; ok {
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(resp))
			return
		}

		w.WriteHeader(404)
		w.Write([]byte(`{"error":{"message":"not found","type":"not_found"}}`))
	}))

	t.Cleanup(ts.server.Close)
	return ts
}

func (ts *testServer) client() *apiClient {
	return &apiClient{
		baseURL:    ts.server.URL,
		token:      "test-token",
		httpClient: ts.server.Client(),
	}
}

var ctx = context.Background()

func withoutColor(t *testing.T) {
	t.Helper()
	old := noColor
	noColor = true
	t.Cleanup(func() { noColor = old })
}

func TestSendMessage(t *testing.T) {
	withoutColor(t)
	ts := newTestServer(t, map[string]string{
		"POST /v1/messages": `{"trace_id":"tr-1","response":{"text":"<b>Deploy?</b>","format":"rich","buttons":[{"text":"Yes","data":"confirm:s1:yes"}]}}`,
	})

	out, err := sendMessage(ctx, ts.client(), api.MessageRequest{UserID: "admin", ChatID: "admin", Text: "/ops deploy"})
	if err != nil {
		t.Fatalf("sendMessage: %v", err)
	}
	if out.TraceID != "tr-1" {
		t.Errorf("trace id = %q", out.TraceID)
	}

	r := ts.requests[0]
	if r.Auth != "Bearer test-token" {
		t.Errorf("auth = %q", r.Auth)
	}
	var body map[string]any
	if err := json.Unmarshal([]byte(r.Body), &body); err != nil {
		t.Fatalf("body parse error: %v", err)
	}
	if body["user_id"] != "admin" || body["text"] != "/ops deploy" {
		t.Errorf("body = %v", body)
	}

	var buf bytes.Buffer
	printReply(&buf, out)
	got := buf.String()
	if !strings.Contains(got, "Deploy?") || strings.Contains(got, "<b>") {
		t.Errorf("reply not rendered as plain text: %q", got)
	}
	if !strings.Contains(got, "[Yes] confirm:s1:yes") {
		t.Errorf("buttons missing: %q", got)
	}
	if !strings.Contains(got, "trace: tr-1") {
		t.Errorf("trace id missing: %q", got)
	}
}

func TestSendMessage_ServerError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"trace_id":"tr-2","error":"queue full"}`))
	}))
	defer ts.Close()

	c := &apiClient{baseURL: ts.URL, token: "t", httpClient: ts.Client()}
	_, err := sendMessage(ctx, c, api.MessageRequest{UserID: "u", ChatID: "c", Text: "hi"})
	if err == nil || !strings.Contains(err.Error(), "429") {
		t.Fatalf("err = %v, want 429", err)
	}
}

func TestListTraces_Paths(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"GET /v1/traces/active":     `[]`,
		"GET /v1/users/a b/traces": `[]`,
	})
	c := ts.client()

	if err := listTraces(ctx, c, "/v1/traces/active"); err != nil {
		t.Fatalf("active: %v", err)
	}
	if err := listTraces(ctx, c, "/v1/users/a%20b/traces?limit=5"); err != nil {
		t.Fatalf("user: %v", err)
	}
	if got := ts.requests[1].Path; got != "/v1/users/a%20b/traces?limit=5" {
		t.Errorf("path = %q", got)
	}
}

func TestFetchMetrics(t *testing.T) {
	withoutColor(t)
	ts := newTestServer(t, map[string]string{
		"GET /v1/traces/metrics": `{"total_requests":4,"successful_requests":3,"failed_requests":1,"success_rate":0.75,"active_traces":1,"completed_traces":4,"avg_duration_ms":12.5,"per_component_avg_ms":{"router":2,"agent":10}}`,
	})

	m, err := fetchMetrics(ctx, ts.client())
	if err != nil {
		t.Fatalf("fetchMetrics: %v", err)
	}
	if m.Total != 4 || m.Failed != 1 || m.Active != 1 {
		t.Errorf("metrics = %+v", m)
	}

	var buf bytes.Buffer
	printMetrics(&buf, m)
	got := buf.String()
	if !strings.Contains(got, "75.0% success") {
		t.Errorf("output = %q", got)
	}
	if strings.Index(got, "agent") > strings.Index(got, "router") {
		t.Errorf("components not sorted: %q", got)
	}
}

func TestPrintTrace(t *testing.T) {
	withoutColor(t)
	start := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	end := start.Add(250 * time.Millisecond)
	d := 40.0
	tr := tracing.Trace{
		ID:        "tr-9",
		UserID:    "u1",
		SessionID: "c1",
		StartTime: start,
		EndTime:   &end,
		Status:    tracing.StatusFailed,
		Events: []tracing.Event{
			{Timestamp: start, Component: tracing.Component("router"), Step: tracing.Step("routed"), Success: true},
			{Timestamp: start, Component: tracing.Component("agent"), Step: tracing.Step("processing"), DurationMs: &d, Error: "boom"},
		},
	}

	var buf bytes.Buffer
	printTrace(&buf, tr)
	got := buf.String()
	for _, want := range []string{"tr-9", "failed", "250ms", "user u1", "chat c1", "40.0ms boom", "2 events"} {
		if !strings.Contains(got, want) {
			t.Errorf("output missing %q:\n%s", want, got)
		}
	}
}

func TestTraceLine_InFlight(t *testing.T) {
	withoutColor(t)
	line := traceLine(tracing.Trace{ID: "tr-1", Status: tracing.StatusInProgress, StartTime: time.Now()})
	if !strings.Contains(line, " - ") {
		t.Errorf("in-flight trace should have no duration: %q", line)
	}
}

func TestPrintClassification(t *testing.T) {
	withoutColor(t)
	c := intent.NewDefault()

	tests := []struct {
		text string
		want string
	}{
		{"/ops status", "command: ops/status"},
		{"покажи приложения", "command: digitalocean/list_apps"},
		{"нарисуй картинку кота", "intent: media_generation"},
	}
	for _, tt := range tests {
		var buf bytes.Buffer
		printClassification(&buf, c, tt.text)
		if !strings.Contains(buf.String(), tt.want) {
			t.Errorf("classify(%q) = %q, want it to contain %q", tt.text, buf.String(), tt.want)
		}
	}
}

func TestOfflineClassifier_Rules(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	rules := "rules:\n  - intent: general_question\n    keywords: [zebrafish]\n    patterns: ['(?i)zebra\\w+']\n"
	if err := os.WriteFile(path, []byte(rules), 0o600); err != nil {
		t.Fatal(err)
	}

	c, err := offlineClassifier(path)
	if err != nil {
		t.Fatalf("offlineClassifier: %v", err)
	}
	if r := c.Classify("zebrafish"); r.Intent != intent.GeneralQuestion {
		t.Errorf("intent = %s, want general_question", r.Intent)
	}

	if _, err := offlineClassifier(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("missing rule file should fail")
	}
}

func TestEnsureAPIToken(t *testing.T) {
	cfg := config.Config{}
	cfg.Storage.DataDir = filepath.Join(t.TempDir(), "data")

	first, err := ensureAPIToken(cfg)
	if err != nil {
		t.Fatalf("ensureAPIToken: %v", err)
	}
	if first == "" {
		t.Fatal("empty token")
	}
	info, err := os.Stat(tokenFilePath(cfg.Storage.DataDir))
	if err != nil {
		t.Fatalf("token file: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("token file mode = %o, want 600", perm)
	}

	second, err := ensureAPIToken(cfg)
	if err != nil || second != first {
		t.Errorf("second call = %q, %v; want %q", second, err, first)
	}
	if got, err := readAPIToken(cfg); err != nil || got != first {
		t.Errorf("readAPIToken = %q, %v", got, err)
	}
}

func TestEnsureAPIToken_Configured(t *testing.T) {
	cfg := config.Config{}
	cfg.Storage.DataDir = t.TempDir()
	cfg.Server.APIToken = "from-env"

	got, err := ensureAPIToken(cfg)
	if err != nil || got != "from-env" {
		t.Fatalf("ensureAPIToken = %q, %v", got, err)
	}
	if _, err := os.Stat(tokenFilePath(cfg.Storage.DataDir)); !os.IsNotExist(err) {
		t.Error("configured token must not create a token file")
	}
}

func TestStatusCommand_Stopped(t *testing.T) {
	ts := newTestServer(t, map[string]string{})
	ts.server.Close()

	_, err := ts.client().get(ctx, "/health")
	if err == nil {
		t.Fatal("expected error for stopped server")
	}
	if !strings.Contains(err.Error(), "not reachable") {
		t.Errorf("error = %q, want it to mention 'not reachable'", err.Error())
	}
}

func TestDecodeJSON_ErrorResponse(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(401)
		w.Write([]byte(`{"error":{"message":"unauthorized","type":"authentication_error"}}`))
	}))
	defer ts.Close()

	c := &apiClient{baseURL: ts.URL, token: "bad-token", httpClient: ts.Client()}
	resp, err := c.get(ctx, "/v1/traces/metrics")
	if err != nil {
		t.Fatalf("unexpected transport error: %v", err)
	}

	var result any
	err = decodeJSON(resp, &result)
	if err == nil {
		t.Fatal("expected error for 401 response")
	}
	if !strings.Contains(err.Error(), "401") {
		t.Errorf("error = %q, want it to contain '401'", err.Error())
	}
}

func TestNoColorFlag(t *testing.T) {
	old := noColor
	defer func() { noColor = old }()

	noColor = true
	result := colorize(colorGreen, "test message")
	if result != "test message" {
		t.Errorf("result = %q, want %q", result, "test message")
	}

	noColor = false
	result = colorize(colorGreen, "test message")
	if !strings.Contains(result, "\033[") {
		t.Errorf("colorize with noColor=false should contain ANSI codes, got %q", result)
	}
}

func TestNotices(t *testing.T) {
	withoutColor(t)
	var buf bytes.Buffer
	old := stderr
	stderr = &buf
	t.Cleanup(func() { stderr = old })

	printSuccess("Set %s = %s", "server.port", "9000")
	printWarning("already running (PID %d)", 42)
	printStatus("Server", "running on port %d", 9000)
	printStatus("Pending confirmations", "%d", 1)

	want := "✓ Set server.port = 9000\n" +
		"⚠ already running (PID 42)\n" +
		"  Server:                 running on port 9000\n" +
		"  Pending confirmations:  1\n"
	if buf.String() != want {
		t.Errorf("output =\n%s\nwant\n%s", buf.String(), want)
	}
}

func TestStatusColor(t *testing.T) {
	tests := []struct {
		status tracing.Status
		want   string
	}{
		{tracing.StatusCompleted, colorGreen},
		{tracing.StatusTimedOut, colorRed},
		{tracing.StatusInProgress, colorYellow},
		{tracing.Status("bogus"), ""},
	}
	for _, tt := range tests {
		if got := statusColor(tt.status); got != tt.want {
			t.Errorf("statusColor(%s) = %q, want %q", tt.status, got, tt.want)
		}
	}
}

func TestCommandArgs(t *testing.T) {
	defer rootCmd.SetArgs(nil)

	for _, args := range [][]string{
		{"config", "set", "server.port"},
		{"traces", "show"},
		{"classify"},
	} {
		rootCmd.SetArgs(args)
		err := rootCmd.Execute()
		if err == nil {
			t.Errorf("%v: expected argument error", args)
			continue
		}
		if !strings.Contains(err.Error(), "arg") {
			t.Errorf("%v: error = %q, want an argument error", args, err)
		}
	}
}

func TestLogLevel(t *testing.T) {
	tests := map[string]string{
		"debug": "DEBUG",
		"WARN":  "WARN",
		"error": "ERROR",
		"":      "INFO",
		"bogus": "INFO",
	}
	for in, want := range tests {
		if got := logLevel(in).String(); got != want {
			t.Errorf("logLevel(%q) = %s, want %s", in, got, want)
		}
	}
}
