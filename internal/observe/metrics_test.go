package observe

import (
	"context"
	"errors"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// newTestMetrics returns a Metrics instance backed by a ManualReader for
// programmatic metric inspection.
func newTestMetrics(t *testing.T) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

// collect gathers all metric data from the reader.
func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	return rm
}

// findMetric searches for a metric by name across all scope metrics.
func findMetric(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

// sumWhere returns the value of the int64 sum data point whose attribute key
// has the given string value (formatted with %v for bools).
func sumWhere(t *testing.T, rm metricdata.ResourceMetrics, name, key, value string) int64 {
	t.Helper()
	met := findMetric(rm, name)
	if met == nil {
		t.Fatalf("metric %q not found", name)
	}
	sum, ok := met.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("metric %q is not an int64 sum", name)
	}
	for _, dp := range sum.DataPoints {
		for _, kv := range dp.Attributes.ToSlice() {
			if string(kv.Key) == key && kv.Value.Emit() == value {
				return dp.Value
			}
		}
	}
	t.Fatalf("metric %q has no data point with %s=%s", name, key, value)
	return 0
}

func TestNewMetrics_CreatesWithoutError(t *testing.T) {
	m, _ := newTestMetrics(t)
	if m == nil {
		t.Fatal("NewMetrics returned nil")
	}
}

func TestRecordInbound(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordInbound(ctx, "audio")
	m.RecordInbound(ctx, "audio")
	m.RecordInbound(ctx, "transcript")

	rm := collect(t, reader)
	if got := sumWhere(t, rm, "voxgate.inbound.events", "kind", "audio"); got != 2 {
		t.Errorf("audio events = %d, want 2", got)
	}
	if got := sumWhere(t, rm, "voxgate.inbound.events", "kind", "transcript"); got != 1 {
		t.Errorf("transcript events = %d, want 1", got)
	}
}

func TestRecordOutbound(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordOutbound(ctx, "sent")
	m.RecordOutbound(ctx, "dropped")
	m.RecordOutbound(ctx, "dropped")

	rm := collect(t, reader)
	if got := sumWhere(t, rm, "voxgate.outbound.frames", "result", "dropped"); got != 2 {
		t.Errorf("dropped frames = %d, want 2", got)
	}
}

func TestRecordFeed_CountsBytesOnlyOnSuccess(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordFeed(ctx, 4800, nil)
	m.RecordFeed(ctx, 9600, errors.New("device busy"))

	rm := collect(t, reader)
	if got := sumWhere(t, rm, "voxgate.playback.feeds", "status", "error"); got != 1 {
		t.Errorf("failed feeds = %d, want 1", got)
	}
	met := findMetric(rm, "voxgate.playback.bytes")
	if met == nil {
		t.Fatal("playback bytes metric not found")
	}
	sum := met.Data.(metricdata.Sum[int64])
	if len(sum.DataPoints) != 1 || sum.DataPoints[0].Value != 4800 {
		t.Errorf("playback bytes = %+v, want 4800", sum.DataPoints)
	}
}

func TestRecordMicTransition(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordMicTransition(ctx, false)
	m.RecordMicTransition(ctx, true)
	m.RecordMicTransition(ctx, false)

	rm := collect(t, reader)
	if got := sumWhere(t, rm, "voxgate.mic.transitions", "open", "false"); got != 2 {
		t.Errorf("close transitions = %d, want 2", got)
	}
}

func TestHistograms(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordResumeDelay(ctx, "computed", 1600*time.Millisecond)
	m.RecordResumeDelay(ctx, "fallback", 3*time.Second)
	m.RecordSessionEnd(ctx, "local", 90*time.Second)
	m.RecordStartFailure(ctx, "auth_failure")

	rm := collect(t, reader)
	for _, tc := range []struct {
		name  string
		count uint64
	}{
		{"voxgate.turn.resume_delay", 2},
		{"voxgate.session.duration", 1},
	} {
		t.Run(tc.name, func(t *testing.T) {
			met := findMetric(rm, tc.name)
			if met == nil {
				t.Fatalf("metric %q not found", tc.name)
			}
			hist, ok := met.Data.(metricdata.Histogram[float64])
			if !ok {
				t.Fatalf("metric %q is not a histogram", tc.name)
			}
			var total uint64
			for _, dp := range hist.DataPoints {
				total += dp.Count
			}
			if total != tc.count {
				t.Errorf("sample count = %d, want %d", total, tc.count)
			}
		})
	}
	if got := sumWhere(t, rm, "voxgate.start.failures", "kind", "auth_failure"); got != 1 {
		t.Errorf("start failures = %d, want 1", got)
	}
}

func TestActiveSessions(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.ActiveSessions.Add(ctx, 1)
	m.ActiveSessions.Add(ctx, 1)
	m.ActiveSessions.Add(ctx, -1)

	rm := collect(t, reader)
	met := findMetric(rm, "voxgate.active_sessions")
	if met == nil {
		t.Fatal("metric not found")
	}
	sum := met.Data.(metricdata.Sum[int64])
	if len(sum.DataPoints) == 0 || sum.DataPoints[0].Value != 1 {
		t.Errorf("active sessions = %+v, want 1", sum.DataPoints)
	}
}

func TestDefaultMetrics_ReturnsSameInstance(t *testing.T) {
	a := DefaultMetrics()
	b := DefaultMetrics()
	if a != b {
		t.Error("DefaultMetrics returned different pointers")
	}
}
