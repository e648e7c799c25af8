package saga

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func TestMetricsRecorder_Init(t *testing.T) {
	recorder := NewMetricsRecorder("test")
	if recorder == nil {
		t.Fatal("expected non-nil recorder")
	}
	if recorder.meterName != "test" {
		t.Errorf("expected meterName 'test', got %q", recorder.meterName)
	}
}

func TestMetricsRecorder_NilSafe(t *testing.T) {
	var recorder *MetricsRecorder
	ctx := context.Background()

	// All methods are no-ops on nil.
	recorder.RecordRunStart(ctx, "s")
	recorder.RecordRunEnd(ctx, "s", OutcomeSuccess, time.Second)
	recorder.RecordStep(ctx, "s", "step", ResultSuccess, time.Millisecond)
	recorder.RecordCompensation(ctx, "s", "step", ResultFailure, time.Millisecond)
	recorder.RecordManualIntervention(ctx, "s", "step")
}

func TestMetricsRecorder_ActiveRuns(t *testing.T) {
	recorder := NewMetricsRecorder("test")
	ctx := context.Background()

	recorder.RecordRunStart(ctx, "test-saga")
	recorder.RecordRunStart(ctx, "test-saga")
	if atomic.LoadInt64(&recorder.activeRuns) != 2 {
		t.Errorf("expected activeRuns 2, got %d", recorder.activeRuns)
	}

	recorder.RecordRunEnd(ctx, "test-saga", OutcomeSuccess, time.Second)
	recorder.RecordRunEnd(ctx, "test-saga", OutcomeCompensated, time.Second)
	if atomic.LoadInt64(&recorder.activeRuns) != 0 {
		t.Errorf("expected activeRuns 0, got %d", recorder.activeRuns)
	}
}

func TestMetricsRecorder_RecordStep(t *testing.T) {
	recorder := NewMetricsRecorder("test")
	ctx := context.Background()

	// Should not panic, including the skipped path that records no duration.
	recorder.RecordStep(ctx, "test-saga", "step1", ResultSuccess, 100*time.Millisecond)
	recorder.RecordStep(ctx, "test-saga", "step2", ResultFailure, 50*time.Millisecond)
	recorder.RecordStep(ctx, "test-saga", "step3", ResultSkipped, 0)
	recorder.RecordCompensation(ctx, "test-saga", "step1", ResultSuccess, time.Millisecond)
	recorder.RecordManualIntervention(ctx, "test-saga", "step1")
}

func TestOrchestratorWithMetrics_Success(t *testing.T) {
	recorder := NewMetricsRecorder("test")
	trace := &callTrace{}
	steps := []*mockStep{{name: "a", trace: trace}, {name: "b", trace: trace}}

	o, err := New("test-saga", asSteps(steps), WithMetrics(recorder))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	res := o.Run(context.Background(), "run-1", newRunContext())
	if !res.Success {
		t.Fatalf("unexpected failure: %q", res.Message)
	}
	if atomic.LoadInt64(&recorder.activeRuns) != 0 {
		t.Errorf("expected activeRuns 0 after completion, got %d", recorder.activeRuns)
	}
}

func TestOrchestratorWithMetrics_CompensatedRun(t *testing.T) {
	recorder := NewMetricsRecorder("test")
	trace := &callTrace{}
	steps := []*mockStep{
		{name: "a", trace: trace, compensateFail: true},
		{name: "b", trace: trace, failAlways: "b failed"},
	}

	o, err := New("test-saga", asSteps(steps), WithMetrics(recorder))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	res := o.Run(context.Background(), "run-1", newRunContext())
	if res.Success {
		t.Fatal("expected failure")
	}
	if atomic.LoadInt64(&recorder.activeRuns) != 0 {
		t.Errorf("expected activeRuns 0 after compensated run, got %d", recorder.activeRuns)
	}
}
