package metrics

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetrics_Counters(t *testing.T) {
	m := New()

	m.RecordDecision("due")
	m.RecordDecision("due")
	m.RecordDecision("not_due")
	m.RecordSnapshotCreated()
	m.RecordSnapshotDeleted()
	m.RecordSnapshotDeleted()
	m.RecordItemError("take_snapshots")

	if got := testutil.ToFloat64(m.decisions.WithLabelValues("due")); got != 2 {
		t.Errorf("Expected 2 due decisions, got %v", got)
	}
	if got := testutil.ToFloat64(m.snapshotsCreated); got != 1 {
		t.Errorf("Expected 1 created snapshot, got %v", got)
	}
	if got := testutil.ToFloat64(m.snapshotsDeleted); got != 2 {
		t.Errorf("Expected 2 deleted snapshots, got %v", got)
	}
	if got := testutil.ToFloat64(m.itemErrors.WithLabelValues("take_snapshots")); got != 1 {
		t.Errorf("Expected 1 item error, got %v", got)
	}
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics

	m.RecordDecision("due")
	m.RecordSnapshotCreated()
	m.RecordSnapshotDeleted()
	m.RecordItemError("delete_snapshots")
	m.RecordRun("delete_snapshots", 1)

	if err := m.Push(context.Background(), "http://localhost:9091", "job"); err != nil {
		t.Errorf("Push() on nil metrics error = %v", err)
	}
}

func TestMetrics_Push(t *testing.T) {
	var body string
	var path string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		data, _ := io.ReadAll(r.Body)
		body = string(data)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	m := New()
	m.RecordSnapshotCreated()

	if err := m.Push(context.Background(), server.URL, "take_snapshots"); err != nil {
		t.Fatalf("Push() error = %v", err)
	}
	if !strings.Contains(path, "/metrics/job/take_snapshots") {
		t.Errorf("Unexpected push path %q", path)
	}
	if body == "" {
		t.Error("Expected a non-empty push body")
	}

	if err := m.Push(context.Background(), "", "take_snapshots"); err != nil {
		t.Errorf("Push() with empty url error = %v", err)
	}
}
