package observability

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
)

func TestTradeTransitionCounters(t *testing.T) {
	m := Trade()
	before := testutil.ToFloat64(m.transitions.WithLabelValues("metrics_test_fund", "error"))
	m.RecordTransition("metrics_test_fund", errors.New("boom"), time.Millisecond)
	m.RecordTransition("metrics_test_fund", nil, time.Millisecond)
	if got := testutil.ToFloat64(m.transitions.WithLabelValues("metrics_test_fund", "error")); got != before+1 {
		t.Fatalf("error outcome = %v, want %v", got, before+1)
	}
	if got := testutil.ToFloat64(m.transitions.WithLabelValues("metrics_test_fund", "success")); got < 1 {
		t.Fatalf("success outcome not recorded")
	}
}

func TestRelayAndRPCCounters(t *testing.T) {
	Relay().RecordTimeout("metrics-test-channel")
	if got := testutil.ToFloat64(Relay().timeouts.WithLabelValues("metrics-test-channel")); got != 1 {
		t.Fatalf("timeouts = %v", got)
	}
	RPC().RecordThrottle("")
	if got := testutil.ToFloat64(RPC().throttles.WithLabelValues("unknown")); got < 1 {
		t.Fatalf("blank reason should be recorded as unknown")
	}
	var nilMetrics *rpcMetrics
	nilMetrics.Observe("x", true, time.Second)
}

func findHistogram(t *testing.T, family, label, value string) *dto.Histogram {
	t.Helper()
	families, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	for _, mf := range families {
		if mf.GetName() != family {
			continue
		}
		for _, metric := range mf.GetMetric() {
			for _, pair := range metric.GetLabel() {
				if pair.GetName() == label && pair.GetValue() == value {
					return metric.GetHistogram()
				}
			}
		}
	}
	return nil
}

func TestRPCLatencyHistogram(t *testing.T) {
	RPC().Observe("metrics_test_method", false, 20*time.Millisecond)
	RPC().Observe("metrics_test_method", true, 3*time.Second)

	hist := findHistogram(t, "escrow_rpc_request_duration_seconds", "method", "metrics_test_method")
	if hist == nil {
		t.Fatalf("histogram for metrics_test_method not gathered")
	}
	if hist.GetSampleCount() != 2 {
		t.Fatalf("sample count = %d, want 2", hist.GetSampleCount())
	}
	if sum := hist.GetSampleSum(); sum < 3.0 || sum > 3.1 {
		t.Fatalf("sample sum = %v", sum)
	}
}
