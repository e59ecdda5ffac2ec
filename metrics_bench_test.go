package tokenauth

import (
	"context"
	"testing"
	"time"

	"github.com/abrahamahn/abe-stack-sub006/session"
)

// rotationOutcomeMix approximates refresh traffic: nearly every presentation
// rotates, a few miss, and replays are rare.
var rotationOutcomeMix = [...]RotationKind{
	RotationRotated, RotationRotated, RotationRotated, RotationRotated,
	RotationRotated, RotationRotated, RotationRotated, RotationRotated,
	RotationRotated, RotationRotated, RotationRotated, RotationRotated,
	RotationNotFound, RotationNotFound, RotationFamilyRevoked, RotationReuseDetected,
}

var revocationReasonMix = [...]string{
	session.ReasonLogout,
	session.ReasonLogout,
	session.ReasonLogout,
	session.ReasonSessionLimit,
	session.ReasonLogoutAll,
	session.ReasonAdmin,
	session.ReasonReuseDetected,
	"manual_revoke",
}

// rotateLatencyMix spreads samples over the low buckets a healthy store hits.
var rotateLatencyMix = [...]time.Duration{
	800 * time.Microsecond,
	2 * time.Millisecond,
	4 * time.Millisecond,
	7 * time.Millisecond,
	12 * time.Millisecond,
	30 * time.Millisecond,
	90 * time.Millisecond,
	600 * time.Millisecond,
}

func benchFinishRotation(b *testing.B, metricsEnabled bool) {
	cfg := testConfig(b)
	cfg.Metrics.Enabled = metricsEnabled
	env := newTestEnv(b, cfg)
	ctx := context.Background()

	b.ReportAllocs()
	b.ResetTimer()

	b.RunParallel(func(pb *testing.PB) {
		i := 0
		for pb.Next() {
			env.engine.finishRotation(ctx, RotationResult{
				Kind:     rotationOutcomeMix[i%len(rotationOutcomeMix)],
				FamilyID: "family-bench",
				UserID:   "user-bench",
			}, nil)
			i++
		}
	})
}

func BenchmarkFinishRotationOutcomeMixParallel(b *testing.B) {
	benchFinishRotation(b, true)
}

func BenchmarkFinishRotationMetricsDisabledParallel(b *testing.B) {
	benchFinishRotation(b, false)
}

func BenchmarkRevocationReasonCountingParallel(b *testing.B) {
	m := NewMetrics(MetricsConfig{Enabled: true})
	b.ReportAllocs()
	b.ResetTimer()

	b.RunParallel(func(pb *testing.PB) {
		i := 0
		for pb.Next() {
			m.Inc(MetricFamilyRevoked)
			m.Inc(revocationMetric(revocationReasonMix[i%len(revocationReasonMix)]))
			i++
		}
	})
}

func BenchmarkObserveRotateLatencyParallel(b *testing.B) {
	m := NewMetrics(MetricsConfig{
		Enabled:                 true,
		EnableLatencyHistograms: true,
	})
	b.ReportAllocs()
	b.ResetTimer()

	b.RunParallel(func(pb *testing.PB) {
		i := 0
		for pb.Next() {
			m.Observe(MetricRotateLatency, rotateLatencyMix[i%len(rotateLatencyMix)])
			i++
		}
	})
}

// BenchmarkSnapshotDuringRotations measures scrapes taken while other
// goroutines keep counting rotation outcomes.
func BenchmarkSnapshotDuringRotations(b *testing.B) {
	m := NewMetrics(MetricsConfig{Enabled: true, EnableLatencyHistograms: true})
	outcomes := [...]MetricID{
		MetricRefreshSuccess,
		MetricRefreshNotFound,
		MetricRefreshFamilyRevoked,
		MetricRefreshReuseDetected,
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; ; i++ {
			select {
			case <-stop:
				return
			default:
			}
			m.Inc(outcomes[i%len(outcomes)])
			m.Observe(MetricRotateLatency, rotateLatencyMix[i%len(rotateLatencyMix)])
		}
	}()

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = m.Snapshot()
	}
	b.StopTimer()

	close(stop)
	<-done
}
