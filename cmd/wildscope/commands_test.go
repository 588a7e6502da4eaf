package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/wildscope/wildscope/internal/config"
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

func TestAskCommand_PostsQuestion(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"POST /api/chat": `{"answer":"Two deer and a fox."}`,
	})

	client := ts.client()
	resp, err := client.post(ctx, "/api/chat", map[string]string{"question": "how many animals?"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var result struct {
		Answer string `json:"answer"`
	}
	if err := decodeJSON(resp, &result); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if result.Answer != "Two deer and a fox." {
		t.Errorf("answer = %q, want %q", result.Answer, "Two deer and a fox.")
	}

	if len(ts.requests) != 1 {
		t.Fatalf("expected 1 request, got %d", len(ts.requests))
	}

	r := ts.requests[0]
	if r.Method != "POST" {
		t.Errorf("method = %q, want POST", r.Method)
	}
	if r.Path != "/api/chat" {
		t.Errorf("path = %q, want /api/chat", r.Path)
	}
	if r.Auth != "Bearer test-token" {
		t.Errorf("auth = %q, want Bearer test-token", r.Auth)
	}

	var body map[string]any
	if err := json.Unmarshal([]byte(r.Body), &body); err != nil {
		t.Fatalf("body parse error: %v", err)
	}
	if body["question"] != "how many animals?" {
		t.Errorf("body.question = %v, want 'how many animals?'", body["question"])
	}
}

func TestAskCommand_MissingArgs(t *testing.T) {
	defer rootCmd.SetArgs(nil)

	rootCmd.SetArgs([]string{"ask"})
	err := rootCmd.Execute()
	if err == nil {
		t.Fatal("expected error for missing args")
	}
	if !strings.Contains(err.Error(), "requires at least 1 arg") {
		t.Errorf("error = %q, want it to mention the missing argument", err.Error())
	}
}

func TestAnalyzeCommand_MissingArgs(t *testing.T) {
	defer rootCmd.SetArgs(nil)

	rootCmd.SetArgs([]string{"analyze"})
	err := rootCmd.Execute()
	if err == nil {
		t.Fatal("expected error for missing args")
	}
	if !strings.Contains(err.Error(), "accepts 1 arg") {
		t.Errorf("error = %q, want it to mention the missing argument", err.Error())
	}
}

func TestSessionShow(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"GET /api/session": `{"video_id":"vid-1","filename":"deer.mp4","turns":2,"video_metadata":{"duration_seconds":8}}`,
	})

	client := ts.client()
	resp, err := client.get(ctx, "/api/session")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var sess map[string]any
	if err := decodeJSON(resp, &sess); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if sess["filename"] != "deer.mp4" {
		t.Errorf("filename = %v, want deer.mp4", sess["filename"])
	}
}

func TestSessionClear(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"DELETE /api/session": `{"status":"cleared"}`,
	})

	client := ts.client()
	resp, err := client.delete(ctx, "/api/session")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var result map[string]string
	if err := decodeJSON(resp, &result); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if result["status"] != "cleared" {
		t.Errorf("status = %q, want cleared", result["status"])
	}

	if len(ts.requests) != 1 {
		t.Fatalf("expected 1 request, got %d", len(ts.requests))
	}
	if ts.requests[0].Method != "DELETE" {
		t.Errorf("method = %q, want DELETE", ts.requests[0].Method)
	}
	if ts.requests[0].Body != "" {
		t.Errorf("body = %q, want empty", ts.requests[0].Body)
	}
}

func TestStatusCommand_Running(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"GET /api/health": `{"status":"ok","version":"1.2.3","ffmpeg":true,"model":"test-model"}`,
	})

	client := ts.client()
	resp, err := client.get(ctx, "/api/health")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		t.Errorf("status code = %d, want 200", resp.StatusCode)
	}
}

func TestStatusCommand_Stopped(t *testing.T) {
	ts := newTestServer(t, map[string]string{})
	ts.server.Close()

	client := ts.client()
	_, err := client.get(ctx, "/api/health")
	if err == nil {
		t.Fatal("expected error for stopped server")
	}
	if !strings.Contains(err.Error(), "not reachable") {
		t.Errorf("error = %q, want it to mention 'not reachable'", err.Error())
	}
}

func TestAPIClientAuth(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"GET /api/health": `{"status":"ok"}`,
	})

	client := ts.client()
	client.token = "my-secret-token"

	_, err := client.get(ctx, "/api/health")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(ts.requests) != 1 {
		t.Fatalf("expected 1 request, got %d", len(ts.requests))
	}
	if ts.requests[0].Auth != "Bearer my-secret-token" {
		t.Errorf("auth = %q, want 'Bearer my-secret-token'", ts.requests[0].Auth)
	}
}

func TestAPIClient_NoTokenOmitsAuth(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"GET /api/health": `{"status":"ok"}`,
	})

	client := ts.client()
	client.token = ""

	_, err := client.get(ctx, "/api/health")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(ts.requests) != 1 {
		t.Fatalf("expected 1 request, got %d", len(ts.requests))
	}
	if ts.requests[0].Auth != "" {
		t.Errorf("auth = %q, want no Authorization header", ts.requests[0].Auth)
	}
}

func TestDecodeJSON_ErrorEnvelope(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(422)
		w.Write([]byte(`{"error":{"message":"unreadable video: moov atom not found","type":"invalid_request_error"}}`))
	}))
	defer ts.Close()

	client := &apiClient{
		baseURL:    ts.URL,
		httpClient: ts.Client(),
	}

	resp, err := client.post(ctx, "/api/analysis", map[string]string{})
	if err != nil {
		t.Fatalf("unexpected transport error: %v", err)
	}

	err = decodeJSON(resp, &struct{}{})
	if err == nil {
		t.Fatal("expected error for 422 response")
	}
	if !strings.Contains(err.Error(), "422") {
		t.Errorf("error = %q, want it to contain '422'", err.Error())
	}
	if !strings.Contains(err.Error(), "moov atom") {
		t.Errorf("error = %q, want the server's message surfaced", err.Error())
	}
}

func TestDecodeJSON_PlainErrorBody(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(500)
		w.Write([]byte("boom"))
	}))
	defer ts.Close()

	client := &apiClient{
		baseURL:    ts.URL,
		httpClient: ts.Client(),
	}

	resp, err := client.get(ctx, "/api/session")
	if err != nil {
		t.Fatalf("unexpected transport error: %v", err)
	}

	err = decodeJSON(resp, nil)
	if err == nil {
		t.Fatal("expected error for 500 response")
	}
	if !strings.Contains(err.Error(), "500") || !strings.Contains(err.Error(), "boom") {
		t.Errorf("error = %q, want it to contain the status and raw body", err.Error())
	}
}

func TestNoColorFlag(t *testing.T) {
	old := noColor
	defer func() { noColor = old }()

	noColor = true
	result := colorize(colorGreen, "test message")
	if strings.Contains(result, "\033[") {
		t.Errorf("colorize with noColor=true should not contain ANSI codes, got %q", result)
	}
	if result != "test message" {
		t.Errorf("result = %q, want %q", result, "test message")
	}

	noColor = false
	result = colorize(colorGreen, "test message")
	if !strings.Contains(result, "\033[") {
		t.Errorf("colorize with noColor=false should contain ANSI codes, got %q", result)
	}
}

func TestConfigShowAll(t *testing.T) {
	cfg := config.Config{}
	cfg.Server.Port = 4000
	cfg.Provider.APIKey = "sk-secret"

	keys := config.ShowAll(cfg)
	if len(keys) == 0 {
		t.Fatal("expected non-empty keys from ShowAll")
	}

	var foundPort, foundKey bool
	for _, k := range keys {
		if k.Key == "server.port" && k.Value == "4000" {
			foundPort = true
		}
		if k.Key == "provider.api_key" {
			foundKey = true
			if k.Value != "********" {
				t.Errorf("api key shown as %q, want it masked", k.Value)
			}
		}
	}
	if !foundPort {
		t.Error("expected to find server.port=4000 in ShowAll output")
	}
	if !foundKey {
		t.Error("expected provider.api_key in ShowAll output")
	}
}

func TestPIDFileRoundTrip(t *testing.T) {
	path := pidFilePath(t.TempDir())

	if err := writePIDFile(path); err != nil {
		t.Fatalf("write error: %v", err)
	}
	pid, err := readPIDFile(path)
	if err != nil {
		t.Fatalf("read error: %v", err)
	}
	if pid != os.Getpid() {
		t.Errorf("pid = %d, want %d", pid, os.Getpid())
	}

	removePIDFile(path)
	if _, err := readPIDFile(path); err == nil {
		t.Error("expected read to fail after remove")
	}
}
