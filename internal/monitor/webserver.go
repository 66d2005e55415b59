// Package monitor serves the pipeline's HTTP debug surface and its gRPC
// health service.
package monitor

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"time"

	"tailscale.com/tsweb"

	"github.com/banshee-data/depthbridge/internal/diagdb"
	"github.com/banshee-data/depthbridge/internal/diagnostics"
	"github.com/banshee-data/depthbridge/internal/httputil"
	"github.com/banshee-data/depthbridge/internal/render"
	"github.com/banshee-data/depthbridge/internal/version"
)

// StatsFunc returns a JSON-encodable snapshot of one component.
type StatsFunc func() any

// CloudSource provides the renderer's current point cloud.
type CloudSource interface {
	Snapshot() render.CloudSnapshot
}

// HistorySource provides the throttled cloud statistics.
type HistorySource interface {
	History() []diagnostics.CloudStats
}

// WebServerConfig contains configuration options for the web server.
type WebServerConfig struct {
	Address string
	// Stats maps a component name to its snapshot function.
	Stats   map[string]StatsFunc
	Cloud   CloudSource
	History HistorySource
	DB      *diagdb.DB
}

// WebServer serves /health, /api/stats and the /debug/ pages.
type WebServer struct {
	address string
	stats   map[string]StatsFunc
	cloud   CloudSource
	history HistorySource
	db      *diagdb.DB
	server  *http.Server
	started time.Time
}

// NewWebServer builds the routes. It fails only when the diagnostics
// database admin routes cannot be mounted.
func NewWebServer(config WebServerConfig) (*WebServer, error) {
	ws := &WebServer{
		address: config.Address,
		stats:   config.Stats,
		cloud:   config.Cloud,
		history: config.History,
		db:      config.DB,
		started: time.Now(),
	}
	mux, err := ws.setupRoutes()
	if err != nil {
		return nil, err
	}
	ws.server = &http.Server{
		Addr:              ws.address,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return ws, nil
}

// Handler returns the root handler.
func (ws *WebServer) Handler() http.Handler { return ws.server.Handler }

// Start serves until ctx is done, then shuts the server down.
func (ws *WebServer) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		opsf("starting HTTP server on %s", ws.address)
		if err := ws.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return err
		}
	case <-ctx.Done():
	}
	diagf("shutting down HTTP server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := ws.server.Shutdown(shutdownCtx); err != nil {
		opsf("HTTP server shutdown error: %v", err)
		if err := ws.server.Close(); err != nil {
			opsf("HTTP server force close error: %v", err)
		}
	}
	diagf("HTTP server routine stopped")
	return nil
}

func (ws *WebServer) setupRoutes() (*http.ServeMux, error) {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", ws.handleHealth)
	mux.HandleFunc("/api/stats", ws.handleStats)

	debug := tsweb.Debugger(mux)
	debug.HandleFunc("pipeline", "Pipeline component stats (JSON)", ws.handleStats)
	debug.HandleFunc("pointcount", "Point count and average depth history", ws.handlePointCountChart)
	debug.HandleFunc("topdown.png", "Top-down scatter of the latest point cloud", ws.handleTopDown)

	if ws.db != nil {
		if err := ws.db.AttachAdminRoutes(mux); err != nil {
			return nil, err
		}
	}
	return mux, nil
}

func (ws *WebServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"uptime":  time.Since(ws.started).Round(time.Second).String(),
		"version": version.Get(),
	})
}

func (ws *WebServer) handleStats(w http.ResponseWriter, r *http.Request) {
	if !httputil.AllowMethods(w, r, http.MethodGet) {
		return
	}
	names := make([]string, 0, len(ws.stats))
	for name := range ws.stats {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make(map[string]any, len(names))
	if only := r.URL.Query().Get("component"); only != "" {
		fn, ok := ws.stats[only]
		if !ok {
			httputil.WriteJSONError(w, http.StatusNotFound, "unknown component "+only)
			return
		}
		out[only] = fn()
	} else {
		for _, name := range names {
			out[name] = ws.stats[name]()
		}
	}
	httputil.WriteJSON(w, http.StatusOK, out)
}
