package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestGetSession_NoSession(t *testing.T) {
	env := setupAPI(t, nil)

	rr := httptest.NewRecorder()
	env.handler.ServeHTTP(rr, jsonReq(http.MethodGet, "/api/session", ""))

	if rr.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusNotFound)
	}
}

func TestSession_Lifecycle(t *testing.T) {
	env := setupAPI(t, nil)
	videoID := uploadTestVideo(t, env)

	// Fresh session: video bound, nothing analyzed.
	rr := httptest.NewRecorder()
	env.handler.ServeHTTP(rr, jsonReq(http.MethodGet, "/api/session", ""))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rr.Code, rr.Body.String())
	}
	var resp sessionResponse
	json.NewDecoder(rr.Body).Decode(&resp)
	if resp.VideoID != videoID {
		t.Errorf("video_id = %q, want %q", resp.VideoID, videoID)
	}
	if resp.Turns != 0 {
		t.Errorf("turns = %d, want 0", resp.Turns)
	}
	if resp.LastAnalysis != nil {
		t.Errorf("last_analysis = %+v, want absent", resp.LastAnalysis)
	}

	// After an analysis the summary appears.
	env.analyzer.res = testResult()
	rr = httptest.NewRecorder()
	env.handler.ServeHTTP(rr, jsonReq(http.MethodPost, "/api/analysis", `{}`))
	if rr.Code != http.StatusOK {
		t.Fatalf("analysis status = %d", rr.Code)
	}

	rr = httptest.NewRecorder()
	env.handler.ServeHTTP(rr, jsonReq(http.MethodGet, "/api/session", ""))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	resp = sessionResponse{}
	json.NewDecoder(rr.Body).Decode(&resp)
	if resp.Turns != 2 {
		t.Errorf("turns = %d, want 2", resp.Turns)
	}
	if resp.LastAnalysis == nil {
		t.Fatal("last_analysis missing after a run")
	}
	if len(resp.LastAnalysis.Species) != 2 || resp.LastAnalysis.Species[0] != "Fox" {
		t.Errorf("last_analysis.species = %v", resp.LastAnalysis.Species)
	}

	// Deleting the session clears rows and files.
	rr = httptest.NewRecorder()
	env.handler.ServeHTTP(rr, jsonReq(http.MethodDelete, "/api/session", ""))
	if rr.Code != http.StatusOK {
		t.Fatalf("delete status = %d, body = %s", rr.Code, rr.Body.String())
	}
	var del map[string]string
	json.NewDecoder(rr.Body).Decode(&del)
	if del["status"] != "cleared" {
		t.Errorf("status = %q, want %q", del["status"], "cleared")
	}
	if files := uploadArtifacts(t, env); len(files) != 0 {
		t.Errorf("uploads dir = %v, want empty after delete", files)
	}

	rr = httptest.NewRecorder()
	env.handler.ServeHTTP(rr, jsonReq(http.MethodGet, "/api/session", ""))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("status after delete = %d, want %d", rr.Code, http.StatusNotFound)
	}
}

func TestDeleteSession_Idempotent(t *testing.T) {
	env := setupAPI(t, nil)

	rr := httptest.NewRecorder()
	env.handler.ServeHTTP(rr, jsonReq(http.MethodDelete, "/api/session", ""))

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d with no session", rr.Code, http.StatusOK)
	}
}

func TestBearerAuth_ProtectsMutations(t *testing.T) {
	env := setupAPI(t, func(d *Deps) {
		d.Token = "secret-token"
	})

	// No token.
	rr := httptest.NewRecorder()
	env.handler.ServeHTTP(rr, jsonReq(http.MethodPost, "/api/analysis", `{}`))
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("status without token = %d, want %d", rr.Code, http.StatusUnauthorized)
	}

	// Wrong token.
	req := jsonReq(http.MethodPost, "/api/analysis", `{}`)
	req.Header.Set("Authorization", "Bearer wrong")
	rr = httptest.NewRecorder()
	env.handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("status with wrong token = %d, want %d", rr.Code, http.StatusUnauthorized)
	}

	// Correct token clears auth and hits the real handler.
	req = jsonReq(http.MethodPost, "/api/analysis", `{}`)
	req.Header.Set("Authorization", "Bearer secret-token")
	rr = httptest.NewRecorder()
	env.handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("status with valid token = %d, want %d (no session yet)", rr.Code, http.StatusNotFound)
	}

	// Reads stay open.
	rr = httptest.NewRecorder()
	env.handler.ServeHTTP(rr, jsonReq(http.MethodGet, "/api/health", ""))
	if rr.Code != http.StatusOK {
		t.Fatalf("health status = %d, want %d", rr.Code, http.StatusOK)
	}
}

func TestHealth(t *testing.T) {
	env := setupAPI(t, func(d *Deps) {
		d.Version = "1.2.3"
		d.Model = "test-model"
	})

	rr := httptest.NewRecorder()
	env.handler.ServeHTTP(rr, jsonReq(http.MethodGet, "/api/health", ""))

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusOK)
	}
	raw := rr.Body.String()
	var resp struct {
		Status  string `json:"status"`
		Version string `json:"version"`
		Model   string `json:"model"`
	}
	if err := json.Unmarshal([]byte(raw), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Status != "ok" {
		t.Errorf("status = %q, want %q", resp.Status, "ok")
	}
	if resp.Version != "1.2.3" {
		t.Errorf("version = %q", resp.Version)
	}
	if resp.Model != "test-model" {
		t.Errorf("model = %q", resp.Model)
	}
	if !strings.Contains(raw, "ffmpeg") {
		t.Error("response missing the ffmpeg field")
	}
}

func TestMetricsEndpoint(t *testing.T) {
	env := setupAPI(t, nil)

	rr := httptest.NewRecorder()
	env.handler.ServeHTTP(rr, jsonReq(http.MethodGet, "/metrics", ""))

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusOK)
	}
}
