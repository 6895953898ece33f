package server

import (
	"encoding/json"
	"net/http"
)

// ReadinessProbe reports whether the process can serve traffic. A nil error
// means ready.
type ReadinessProbe interface {
	Ready() error
}

// ReadinessFunc adapts a function to ReadinessProbe.
type ReadinessFunc func() error

func (f ReadinessFunc) Ready() error { return f() }

type statusBody struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// NewOpsHandler routes /metrics, /healthz and /readyz. A nil metrics handler
// leaves /metrics unrouted; a nil probe is always ready.
func NewOpsHandler(metrics http.Handler, probe ReadinessProbe) http.Handler {
	mux := http.NewServeMux()
	if metrics != nil {
		mux.Handle("GET /metrics", metrics)
	}
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeStatus(w, http.StatusOK, statusBody{Status: "ok"})
	})
	mux.HandleFunc("GET /readyz", func(w http.ResponseWriter, _ *http.Request) {
		if probe != nil {
			if err := probe.Ready(); err != nil {
				writeStatus(w, http.StatusServiceUnavailable, statusBody{Status: "unavailable", Error: err.Error()})
				return
			}
		}
		writeStatus(w, http.StatusOK, statusBody{Status: "ready"})
	})
	return mux
}

func writeStatus(w http.ResponseWriter, status int, body statusBody) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
