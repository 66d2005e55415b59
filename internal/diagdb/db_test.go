package diagdb

import (
	"net/http"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/depthbridge/internal/diagnostics"
	"github.com/banshee-data/depthbridge/internal/testutil"
)

var _ diagnostics.Recorder = (*DB)(nil)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "diag.db"))
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestOpenMigrates(t *testing.T) {
	db := openTestDB(t)

	version, dirty, err := db.MigrateVersion()
	if err != nil {
		t.Fatalf("MigrateVersion: %v", err)
	}
	if version != 1 || dirty {
		t.Errorf("version = %d dirty = %v, want 1 clean", version, dirty)
	}
	// A second migrate is a no-op.
	if err := db.MigrateUp(); err != nil {
		t.Errorf("MigrateUp again: %v", err)
	}

	for _, table := range []string{"ux_events", "session_events", "cloud_stats"} {
		var name string
		err := db.QueryRow(`SELECT name FROM sqlite_master WHERE type='table' AND name=?`, table).Scan(&name)
		if err != nil {
			t.Errorf("table %s missing: %v", table, err)
		}
	}
}

func TestMigrateDown(t *testing.T) {
	db := openTestDB(t)
	if err := db.MigrateDown(); err != nil {
		t.Fatalf("MigrateDown: %v", err)
	}
	var n int
	if err := db.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='ux_events'`).Scan(&n); err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Errorf("ux_events still present after down migration")
	}
}

func TestExceptionPairing(t *testing.T) {
	db := openTestDB(t)
	db.SetSession("session-1")
	base := time.Unix(1700000000, 0)

	detected := diagnostics.Exception{
		ID:        uuid.New(),
		Type:      diagnostics.ExceptionMovingTooFast,
		Status:    diagnostics.StatusDetected,
		Timestamp: 10.5,
		Value:     3.2,
		At:        base,
	}
	other := diagnostics.Exception{
		ID:        uuid.New(),
		Type:      diagnostics.ExceptionFewFeatures,
		Status:    diagnostics.StatusDetected,
		Timestamp: 11,
		At:        base.Add(time.Second),
	}
	resolved := diagnostics.Exception{
		ID:        uuid.New(),
		Type:      diagnostics.ExceptionMovingTooFast,
		Status:    diagnostics.StatusResolved,
		Timestamp: 12,
		At:        base.Add(2 * time.Second),
	}
	for _, e := range []diagnostics.Exception{detected, other, resolved} {
		if err := db.RecordException(e); err != nil {
			t.Fatalf("RecordException(%s): %v", e.Message(), err)
		}
	}

	events, err := db.RecentUXEvents(10)
	if err != nil {
		t.Fatalf("RecentUXEvents: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2", len(events))
	}
	// Newest detection first.
	if events[0].ExceptionType != "few_features" || !events[0].Open() {
		t.Errorf("events[0] = %+v, want open few_features", events[0])
	}
	fast := events[1]
	if fast.EventID != detected.ID.String() {
		t.Errorf("event id = %s, want %s", fast.EventID, detected.ID)
	}
	if fast.Open() || *fast.ResolvedAt != 12 {
		t.Errorf("moving_too_fast not resolved at 12: %+v", fast)
	}
	if fast.SessionID != "session-1" || fast.Value != 3.2 {
		t.Errorf("unexpected row %+v", fast)
	}
	if !fast.Detected.Equal(base) {
		t.Errorf("detected = %v, want %v", fast.Detected, base)
	}

	// A resolution with nothing open is accepted.
	resolved.Type = diagnostics.ExceptionLyingOnSurface
	if err := db.RecordException(resolved); err != nil {
		t.Errorf("unpaired resolve: %v", err)
	}
}

func TestSessionEventsAndCloudStats(t *testing.T) {
	db := openTestDB(t)
	base := time.Unix(1700000000, 0)

	for i, state := range []string{"connecting", "connected", "disconnected"} {
		if err := db.RecordSessionEvent("s", state, base.Add(time.Duration(i)*time.Second)); err != nil {
			t.Fatalf("RecordSessionEvent: %v", err)
		}
	}
	events, err := db.SessionEvents(2)
	if err != nil {
		t.Fatalf("SessionEvents: %v", err)
	}
	if len(events) != 2 || events[0].State != "connected" || events[1].State != "disconnected" {
		t.Errorf("SessionEvents(2) = %+v", events)
	}

	for i := 0; i < 3; i++ {
		s := diagnostics.CloudStats{Timestamp: float64(i), Points: 100 + i, AverageDepth: 1.5, At: base}
		if err := db.RecordCloudStats(s); err != nil {
			t.Fatalf("RecordCloudStats: %v", err)
		}
	}
	stats, err := db.CloudStats(10)
	if err != nil {
		t.Fatalf("CloudStats: %v", err)
	}
	if len(stats) != 3 || stats[0].Points != 100 || stats[2].Timestamp != 2 {
		t.Errorf("CloudStats = %+v", stats)
	}
}

func TestAdminRoutes(t *testing.T) {
	db := openTestDB(t)
	if err := db.RecordException(diagnostics.Exception{
		ID:     uuid.New(),
		Type:   diagnostics.ExceptionFisheyeOverExposed,
		Status: diagnostics.StatusDetected,
		At:     time.Unix(1, 0),
	}); err != nil {
		t.Fatal(err)
	}

	mux := http.NewServeMux()
	if err := db.AttachAdminRoutes(mux); err != nil {
		t.Fatalf("AttachAdminRoutes: %v", err)
	}

	w := testutil.Serve(mux, testutil.LocalHostRequest(http.MethodGet, "/debug/ux-events?limit=5"))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	if !strings.Contains(w.Body.String(), "fisheye_over_exposed") {
		t.Errorf("body missing event: %s", w.Body.String())
	}

	w = testutil.Serve(mux, testutil.LocalHostRequest(http.MethodGet, "/debug/ux-events?limit=-1"))
	testutil.AssertStatusCode(t, w, http.StatusBadRequest)

	w = testutil.Serve(mux, testutil.LocalHostRequest(http.MethodGet, "/debug/diag-backup"))
	testutil.AssertStatusCode(t, w, http.StatusOK)
	if got := w.Header().Get("Content-Type"); got != "application/gzip" {
		t.Errorf("backup Content-Type = %q", got)
	}
}
