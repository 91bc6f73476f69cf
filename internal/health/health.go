// Package health exposes the liveness and readiness endpoints of the
// daemon. Readiness reflects the cold store: the process serves from the
// hot tier regardless, but is not "ready" until durable storage answers.
package health

import (
	"context"
	"encoding/json"
	"net/http"
)

func Liveness() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}
}

type ReadinessReporter interface {
	Ready(ctx context.Context) error
}

func Readiness(rr ReadinessReporter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		type resp struct {
			Status string `json:"status"`
			Reason string `json:"reason,omitempty"`
		}
		out := resp{Status: "ready"}
		if err := rr.Ready(r.Context()); err != nil {
			out = resp{Status: "not_ready", Reason: err.Error()}
		}
		w.Header().Set("Content-Type", "application/json")
		if out.Status != "ready" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(out)
	}
}
