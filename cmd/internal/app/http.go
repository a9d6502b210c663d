package app

import (
	"encoding/json"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"doodle/cmd/internal/engine"
)

// registerHTTP mounts the ops endpoints and the v1 control API.
//
// The control API is the presentation boundary: the UI process reads the
// engine's state and invokes its operations here. It is the only mutation
// surface; nothing else reaches into the engine.
func registerHTTP(mux *http.ServeMux, eng *engine.Controller, registry *prometheus.Registry) {
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})

	mux.HandleFunc("GET /readyz", func(w http.ResponseWriter, _ *http.Request) {
		if eng.View().Status != engine.StatusReady {
			http.Error(w, "engine not ready", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready\n"))
	})

	mux.Handle("GET /metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	mux.HandleFunc("GET /v1/state", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, eng.View())
	})

	mux.HandleFunc("POST /v1/draft", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Draft string `json:"draft"`
		}
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "bad_request", err.Error())
			return
		}
		eng.SetDraft(r.Context(), req.Draft)
		writeJSON(w, http.StatusOK, eng.View())
	})

	mux.HandleFunc("POST /v1/send", func(w http.ResponseWriter, r *http.Request) {
		eng.Send(r.Context())
		writeJSON(w, http.StatusOK, eng.View())
	})

	mux.HandleFunc("POST /v1/older", func(w http.ResponseWriter, r *http.Request) {
		eng.LoadOlder(r.Context())
		writeJSON(w, http.StatusOK, eng.View())
	})

	mux.HandleFunc("POST /v1/viewport", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			AtBottom bool `json:"at_bottom"`
		}
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "bad_request", err.Error())
			return
		}
		eng.SetViewportAtBottom(req.AtBottom)
		writeJSON(w, http.StatusOK, eng.View())
	})

	mux.HandleFunc("POST /v1/scroll-ack", func(w http.ResponseWriter, _ *http.Request) {
		eng.AckScroll()
		w.WriteHeader(http.StatusNoContent)
	})

}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type errorResponse struct {
	Error apiError `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, errorResponse{Error: apiError{Code: code, Message: msg}})
}

const maxBodyBytes = 64 << 10

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	defer func() { _ = r.Body.Close() }()

	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}
