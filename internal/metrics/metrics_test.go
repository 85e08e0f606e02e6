package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetrics_Counters(t *testing.T) {
	m := New()
	m.ConnOpened()
	m.ConnOpened()
	m.SetActive(1)
	m.Command(ResultSent)
	m.Command(ResultNoClient)
	m.Command(ResultSent)

	if got := testutil.ToFloat64(m.totalConns); got != 2 {
		t.Fatalf("total=%v", got)
	}
	if got := testutil.ToFloat64(m.activeConns); got != 1 {
		t.Fatalf("active=%v", got)
	}
	if got := testutil.ToFloat64(m.commands.WithLabelValues(ResultSent)); got != 2 {
		t.Fatalf("sent=%v", got)
	}

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), `whip_commands_total{result="no_client"} 1`) {
		t.Fatalf("exposition missing counter:\n%s", body)
	}
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	m.ConnOpened()
	m.SetActive(3)
	m.Command(ResultInvalid)
}
