package app

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"doodle/cmd/internal/chat"
	"doodle/cmd/internal/engine"
	"doodle/cmd/internal/feed"
	"doodle/cmd/internal/snapshot"
)

// newControlServer wires a real engine against a fake upstream feed and
// mounts the control API on an httptest server.
func newControlServer(t *testing.T, upstream http.Handler) (*httptest.Server, *snapshot.MemoryStore) {
	t.Helper()

	feedSrv := httptest.NewServer(upstream)
	t.Cleanup(feedSrv.Close)

	store := snapshot.NewMemoryStore()
	client := feed.NewClient(feed.Config{BaseURL: feedSrv.URL, Token: "test-token"}, feedSrv.Client())

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	registry := prometheus.NewRegistry()
	eng := engine.New(engine.Config{Author: "me", PollInterval: time.Hour}, log, client, store, registry)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = eng.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	mux := http.NewServeMux()
	registerHTTP(mux, eng, registry)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	waitReady(t, srv)
	return srv, store
}

func waitReady(t *testing.T, srv *httptest.Server) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		resp, err := http.Get(srv.URL + "/readyz")
		if err == nil {
			_ = resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return
			}
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("engine never became ready")
}

func getState(t *testing.T, srv *httptest.Server) engine.View {
	t.Helper()
	resp, err := http.Get(srv.URL + "/v1/state")
	if err != nil {
		t.Fatalf("state: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("state status=%d", resp.StatusCode)
	}
	var v engine.View
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatalf("decode state: %v", err)
	}
	return v
}

func postJSON(t *testing.T, srv *httptest.Server, path, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(srv.URL+path, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("post %s: %v", path, err)
	}
	return resp
}

// fakeFeed serves the upstream /messages contract from a canned page and
// echoes posts back as confirmed records.
func fakeFeed(messages []map[string]any) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /messages", func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"data": messages})
	})
	mux.HandleFunc("POST /messages", func(w http.ResponseWriter, r *http.Request) {
		var req map[string]any
		_ = json.NewDecoder(r.Body).Decode(&req)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":        "srv-confirmed",
			"author":    req["author"],
			"message":   req["message"],
			"createdAt": "2024-06-01T10:00:05Z",
		})
	})
	return mux
}

func TestControlAPIStateAndSend(t *testing.T) {
	t.Parallel()

	srv, store := newControlServer(t, fakeFeed([]map[string]any{
		{"id": "1", "author": "alice", "message": "hi", "createdAt": "2024-06-01T10:00:00Z"},
		{"id": "2", "author": "bob", "message": "yo", "createdAt": "2024-06-01T10:00:01Z"},
	}))

	v := getState(t, srv)
	if v.Status != engine.StatusReady {
		t.Fatalf("status=%q want=%q", v.Status, engine.StatusReady)
	}
	if len(v.Messages) != 2 {
		t.Fatalf("messages=%d want=2", len(v.Messages))
	}
	if v.CanSend {
		t.Fatal("can_send must be false with an empty draft")
	}

	resp := postJSON(t, srv, "/v1/draft", `{"draft":"hello there"}`)
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("draft status=%d", resp.StatusCode)
	}
	if v := getState(t, srv); !v.CanSend || v.Draft != "hello there" {
		t.Fatalf("after draft: can_send=%v draft=%q", v.CanSend, v.Draft)
	}

	resp = postJSON(t, srv, "/v1/send", "")
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("send status=%d", resp.StatusCode)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		v = getState(t, srv)
		if containsID(v.Messages, "srv-confirmed") && v.Draft == "" {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("send never confirmed, messages=%v", v.Messages)
		}
		time.Sleep(10 * time.Millisecond)
	}

	// snapshot mirrors the confirmed timeline
	state, err := store.Load(context.Background())
	if err != nil {
		t.Fatalf("load snapshot: %v", err)
	}
	if !containsID(state.Messages, "srv-confirmed") {
		t.Fatal("snapshot missing confirmed message")
	}
}

func TestControlAPIViewportAndScrollAck(t *testing.T) {
	t.Parallel()

	srv, _ := newControlServer(t, fakeFeed([]map[string]any{
		{"id": "1", "author": "alice", "message": "hi", "createdAt": "2024-06-01T10:00:00Z"},
	}))

	if v := getState(t, srv); !v.ScrollToLatest {
		t.Fatal("initial load must flag scroll_to_latest")
	}

	resp := postJSON(t, srv, "/v1/scroll-ack", "")
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("scroll-ack status=%d", resp.StatusCode)
	}
	if v := getState(t, srv); v.ScrollToLatest {
		t.Fatal("scroll_to_latest must clear after ack")
	}

	resp = postJSON(t, srv, "/v1/viewport", `{"at_bottom":false}`)
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("viewport status=%d", resp.StatusCode)
	}
}

func TestControlAPIBadJSON(t *testing.T) {
	t.Parallel()

	srv, _ := newControlServer(t, fakeFeed([]map[string]any{
		{"id": "1", "author": "alice", "message": "hi", "createdAt": "2024-06-01T10:00:00Z"},
	}))

	resp := postJSON(t, srv, "/v1/draft", `{"draft":`)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status=%d want=%d", resp.StatusCode, http.StatusBadRequest)
	}
	var body errorResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	if body.Error.Code != "bad_request" {
		t.Fatalf("code=%q want=%q", body.Error.Code, "bad_request")
	}
}

func TestHealthAndMetrics(t *testing.T) {
	t.Parallel()

	srv, _ := newControlServer(t, fakeFeed([]map[string]any{
		{"id": "1", "author": "alice", "message": "hi", "createdAt": "2024-06-01T10:00:00Z"},
	}))

	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatalf("healthz: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("healthz status=%d", resp.StatusCode)
	}

	resp, err = http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(raw), "doodle_engine_polls_total") {
		t.Fatal("metrics output missing engine counters")
	}
}

func containsID(msgs []chat.Message, id string) bool {
	for _, m := range msgs {
		if m.ID == id {
			return true
		}
	}
	return false
}
