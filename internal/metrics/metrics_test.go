package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.PaymentCreated("btc", nil)
	m.Notification("webhook", "confirmed")
	m.GateDecision("allow")
	m.HTTPRequest(http.MethodGet, http.StatusOK, time.Millisecond)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 from nil metrics handler got %d", rec.Code)
	}
}

func TestCountersAndExposition(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewWithRegistry(reg, reg)

	m.PaymentCreated("btc", nil)
	m.PaymentCreated("btc", errors.New("boom"))
	m.Notification("webhook", "finished")
	m.EntitlementGranted("webhook")
	m.GateDecision("not_entitled")
	m.ObserveGateway("create_payment", nil, 20*time.Millisecond)

	if got := testutil.ToFloat64(m.paymentsCreated.WithLabelValues("btc", "error")); got != 1 {
		t.Fatalf("expected one failed payment got %v", got)
	}
	if got := testutil.ToFloat64(m.entitlementGrants.WithLabelValues("webhook")); got != 1 {
		t.Fatalf("expected one grant got %v", got)
	}

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "alphacourse_stream_gate_decisions_total") {
		t.Fatalf("gate decisions missing from exposition:\n%s", rec.Body.String())
	}
}
