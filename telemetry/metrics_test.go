package telemetry

import (
	"context"
	"testing"
)

func TestInitIdempotent(t *testing.T) {
	Init()
	Init() // second call must not re-register (promauto panics on duplicates)
	if CommandsDispatched == nil || PausedGauge == nil {
		t.Fatal("metrics not initialized")
	}
}

func TestCorrelationRoundTrip(t *testing.T) {
	ctx := context.Background()
	if got := GetCorrelation(ctx); got != "" {
		t.Errorf("empty context correlation = %q", got)
	}
	ctx = WithCorrelation(ctx, "abc-123")
	if got := GetCorrelation(ctx); got != "abc-123" {
		t.Errorf("correlation = %q, want abc-123", got)
	}
}

func TestTimeFunc(t *testing.T) {
	Init()
	ran := false
	d := TimeFunc(DispatchDuration, func() { ran = true })
	if !ran {
		t.Fatal("fn not invoked")
	}
	if d < 0 {
		t.Fatalf("negative duration %v", d)
	}
}
