package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"qencode/internal/logging"
	"qencode/internal/progress"
)

func scrape(t *testing.T, h http.Handler) string {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("scrape status %d", rec.Code)
	}
	return rec.Body.String()
}

func TestMetricsExposition(t *testing.T) {
	m := New()
	m.SetPlan(3, 1000, 2)
	m.ObserveAggregate(progress.Aggregate{Done: 600, Total: 1000, FPS: 12.5})
	m.ObserveChunk(ResultVerified, 28, 3*time.Second)
	m.ObserveChunk(ResultFailed, -1, time.Second)
	m.ObserveStage("plan", 500*time.Millisecond)

	body := scrape(t, m.Handler())
	for _, want := range []string{
		"qencode_chunks_planned 3",
		"qencode_frames_total 1000",
		"qencode_frames_done 600",
		"qencode_encode_fps 12.5",
		"qencode_workers 2",
		`qencode_chunks_total{result="verified"} 1`,
		`qencode_chunks_total{result="failed"} 1`,
		"qencode_chunk_encode_seconds_count 1",
		"qencode_chunk_cq_count 1",
		`qencode_stage_seconds_count{stage="plan"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("missing %q in scrape output", want)
		}
	}
}

func TestRegistriesAreIndependent(t *testing.T) {
	a, b := New(), New()
	a.SetPlan(5, 0, 0)
	if strings.Contains(scrape(t, b.Handler()), "qencode_chunks_planned 5") {
		t.Fatal("jobs share collectors")
	}
}

func TestServe(t *testing.T) {
	m := New()
	m.SetPlan(7, 1, 1)
	srv, err := m.Serve("127.0.0.1:0", logging.NewNop())
	if err != nil {
		t.Fatalf("Serve: %v", err)
	}
	defer srv.Close()

	resp, err := http.Get("http://" + srv.Addr() + "/metrics")
	if err != nil {
		t.Fatalf("scrape: %v", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(body), "qencode_chunks_planned 7") {
		t.Fatalf("unexpected scrape body: %s", body)
	}

	if _, err := m.Serve("127.0.0.1:-1", logging.NewNop()); err == nil {
		t.Fatal("expected listen error for a bad address")
	}
}
