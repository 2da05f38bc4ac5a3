package app

import (
	"net/http"
	"time"

	authapi "leaderlite/cmd/internal/auth/api"
	"leaderlite/cmd/internal/board"
	"leaderlite/cmd/internal/realtime"
	"leaderlite/cmd/internal/web"
)

func (a *App) routes(auth *authapi.Handler, boards *board.Handler, pages *web.Handler, gateway *realtime.WSGateway) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", a.handleHealthz)
	mux.HandleFunc("GET /readyz", a.handleReadyz)
	mux.Handle("GET /metrics", a.metrics.Handler())

	auth.Register(mux)
	boards.Register(mux)
	pages.Register(mux)

	mux.Handle("GET /ws", gateway)

	return mux
}

func (a *App) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("ok"))
}

// handleReadyz reports readiness. When ReadinessRequireDB is set, a
// missing or unreachable database makes the instance not ready.
func (a *App) handleReadyz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")

	if a.cfg.ReadinessRequireDB {
		if a.pool == nil {
			http.Error(w, "database required but not configured", http.StatusServiceUnavailable)
			return
		}
		if err := PingDB(r.Context(), a.pool, 2*time.Second); err != nil {
			a.log.Warn("readiness db ping failed", "err", err)
			http.Error(w, "database unreachable", http.StatusServiceUnavailable)
			return
		}
	}

	_, _ = w.Write([]byte("ready"))
}
