package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.ConnectionOpened()
	m.Candidate("offerer", "buffered")
	m.UpstreamFailed(ReasonTimeout)
}

func TestCountersAndHandler(t *testing.T) {
	m := New()
	m.ConnectionOpened()
	m.ConnectionOpened()
	m.ConnectionClosed()
	m.Candidate("offerer", "buffered")
	m.Candidate("offerer", "buffered")
	m.UpstreamFailed(ReasonDial)

	if got := testutil.ToFloat64(m.Connections); got != 1 {
		t.Fatalf("connections=%v, want 1", got)
	}
	if got := testutil.ToFloat64(m.Candidates.WithLabelValues("offerer", "buffered")); got != 2 {
		t.Fatalf("candidates=%v, want 2", got)
	}

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), `callrelay_upstream_connect_failures_total{reason="dial"} 1`) {
		t.Fatalf("metrics body missing upstream failure counter:\n%s", body)
	}
}
