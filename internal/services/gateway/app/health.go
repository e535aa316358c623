package app

import (
	"context"
	"net/http"
	"sort"
	"time"
)

// GET /healthz: liveness, sempre 200; riporta lo stato del breaker verso il device.
func (g *Gateway) HandleHealth(w http.ResponseWriter, _ *http.Request) {
	st := healthResponse{Status: "ok", Breaker: "disabled"}
	if g.cfg.BreakerState != nil {
		st.Breaker = g.cfg.BreakerState()
	}
	if st.Breaker == "open" {
		st.Status = "degraded"
	}
	g.cfg.Metrics.SetBreakerState("device", st.Breaker)
	writeJSON(w, http.StatusOK, st)
}

// GET /readyz: 200 solo se tutte le dipendenze rispondono.
func (g *Gateway) HandleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	ready, checks := g.Ready(ctx)
	status := http.StatusOK
	if !ready {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, readyResponse{Ready: ready, Checks: checks})
}

// Ready runs every readiness check in name order.
func (g *Gateway) Ready(ctx context.Context) (bool, map[string]string) {
	names := make([]string, 0, len(g.cfg.Checks))
	for name := range g.cfg.Checks {
		names = append(names, name)
	}
	sort.Strings(names)

	ready := true
	out := make(map[string]string, len(names))
	for _, name := range names {
		if err := g.cfg.Checks[name](ctx); err != nil {
			ready = false
			out[name] = err.Error()
			g.log.Warn("readiness check failed", "check", name, "error", err)
			continue
		}
		out[name] = "ok"
	}
	return ready, out
}
