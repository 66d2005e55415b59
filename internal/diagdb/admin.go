package diagdb

import (
	"compress/gzip"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/tailscale/tailsql/server/tailsql"
	"tailscale.com/tsweb"

	"github.com/banshee-data/depthbridge/internal/httputil"
)

// AttachAdminRoutes mounts the SQL console, a backup download and the
// recent UX events under /debug/ on mux.
func (db *DB) AttachAdminRoutes(mux *http.ServeMux) error {
	debug := tsweb.Debugger(mux)
	tsql, err := tailsql.NewServer(tailsql.Options{
		RoutePrefix: "/debug/tailsql/",
	})
	if err != nil {
		return fmt.Errorf("failed to create tailsql server: %w", err)
	}
	tsql.SetDB("sqlite://diagnostics.db", db.DB, &tailsql.DBOptions{
		Label: "Diagnostics DB",
	})
	debug.Handle("tailsql/", "SQL live debugging", tsql.NewMux())

	debug.HandleFunc("ux-events", "Recent UX exceptions (JSON)", db.handleUXEvents)
	debug.Handle("diag-backup", "Create and download a backup of the diagnostics database now", http.HandlerFunc(db.handleBackup))
	return nil
}

func (db *DB) handleUXEvents(w http.ResponseWriter, r *http.Request) {
	limit, err := httputil.QueryInt(r, "limit", 100, 1, 10000)
	if err != nil {
		httputil.WriteJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	events, err := db.RecentUXEvents(limit)
	if err != nil {
		httputil.WriteJSONError(w, http.StatusInternalServerError, fmt.Sprintf("failed to query UX events: %v", err))
		return
	}
	if events == nil {
		events = []UXEvent{}
	}
	httputil.WriteJSON(w, http.StatusOK, events)
}

func (db *DB) handleBackup(w http.ResponseWriter, r *http.Request) {
	name := fmt.Sprintf("diagnostics-backup-%d.db", time.Now().Unix())
	backupPath := filepath.Join(os.TempDir(), name)
	if _, err := db.Exec("VACUUM INTO ?", backupPath); err != nil {
		http.Error(w, fmt.Sprintf("Failed to create backup: %v", err), http.StatusInternalServerError)
		return
	}
	defer func() {
		if err := os.Remove(backupPath); err != nil {
			opsf("failed to remove backup file: %v", err)
		}
	}()

	f, err := os.Open(backupPath)
	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to open backup file: %v", err), http.StatusInternalServerError)
		return
	}
	defer f.Close()

	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s.gz", name))
	w.Header().Set("Content-Type", "application/gzip")
	gz := gzip.NewWriter(w)
	defer gz.Close()
	if _, err := io.Copy(gz, f); err != nil {
		opsf("failed to stream backup: %v", err)
	}
}
