package observability

import (
	"errors"
	"testing"
	"time"

	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestObserveActionSplitsOutcome(t *testing.T) {
	m := Lending()
	successBefore := testutil.ToFloat64(m.actions.WithLabelValues("metrics_test_supply", "success"))
	errorBefore := testutil.ToFloat64(m.actions.WithLabelValues("metrics_test_supply", "error"))

	m.ObserveAction("metrics_test_supply", time.Millisecond, nil)
	m.ObserveAction("metrics_test_supply", time.Millisecond, errors.New("boom"))
	m.ObserveAction("metrics_test_supply", time.Millisecond, nil)

	if got := testutil.ToFloat64(m.actions.WithLabelValues("metrics_test_supply", "success")) - successBefore; got != 2 {
		t.Fatalf("expected 2 successes, got %v", got)
	}
	if got := testutil.ToFloat64(m.actions.WithLabelValues("metrics_test_supply", "error")) - errorBefore; got != 1 {
		t.Fatalf("expected 1 error, got %v", got)
	}
}

func TestRecordReserveGauges(t *testing.T) {
	ray := new(uint256.Int).Exp(uint256.NewInt(10), uint256.NewInt(27))
	Lending().RecordReserve(ReserveSnapshot{
		Asset:               "metrics-test-asset",
		AvailableLiquidity:  uint256.NewInt(750),
		TotalDebt:           uint256.NewInt(250),
		LiquidityIndex:      ray,
		VariableBorrowIndex: new(uint256.Int).Mul(ray, uint256.NewInt(2)),
	})
	m := Lending()
	if got := testutil.ToFloat64(m.utilization.WithLabelValues("metrics-test-asset")); got != 0.25 {
		t.Fatalf("utilization = %v, want 0.25", got)
	}
	if got := testutil.ToFloat64(m.indexes.WithLabelValues("metrics-test-asset", "liquidity")); got != 1 {
		t.Fatalf("liquidity index = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.indexes.WithLabelValues("metrics-test-asset", "variable_borrow")); got != 2 {
		t.Fatalf("borrow index = %v, want 2", got)
	}
}

func TestModuleMetricsCountsErrorsAndThrottles(t *testing.T) {
	m := ModuleMetrics()
	m.Observe("metrics_test", "GET /x", 500, time.Millisecond)
	m.Observe("metrics_test", "GET /x", 200, time.Millisecond)
	m.RecordThrottle("metrics_test", "")

	if got := testutil.ToFloat64(m.errors.WithLabelValues("metrics_test", "GET /x", "500")); got != 1 {
		t.Fatalf("errors = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.requests.WithLabelValues("metrics_test", "GET /x", "success")); got != 1 {
		t.Fatalf("successes = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.throttles.WithLabelValues("metrics_test", "unspecified")); got != 1 {
		t.Fatalf("throttles = %v, want 1", got)
	}
}

func TestRecordEventNormalizesType(t *testing.T) {
	Events().RecordEvent("  Lending.Supply ")
	Events().RecordEvent("")
	if got := testutil.ToFloat64(Events().emitted.WithLabelValues("lending.supply")); got < 1 {
		t.Fatalf("normalized event not counted: %v", got)
	}
	if got := testutil.ToFloat64(Events().emitted.WithLabelValues("unknown")); got < 1 {
		t.Fatalf("empty event type not counted as unknown: %v", got)
	}
}
