package authcore

import (
	"sync"
	"testing"
	"time"
)

func TestMetricsDisabledNoIncrement(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: false})

	m.Inc(MetricLoginSuccess)
	m.Observe(MetricValidateLatency, 3*time.Millisecond)

	if got := m.Value(MetricLoginSuccess); got != 0 {
		t.Fatalf("disabled metrics must not count, got %d", got)
	}
	snap := m.Snapshot()
	if len(snap.Counters) != 0 || len(snap.Histograms) != 0 {
		t.Fatalf("disabled snapshot must be empty: %+v", snap)
	}
}

func TestMetricsIncAndValue(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: true})

	m.Inc(MetricLoginSuccess)
	m.Inc(MetricLoginSuccess)
	m.Inc(MetricRefreshFailure)

	if got := m.Value(MetricLoginSuccess); got != 2 {
		t.Fatalf("login_success = %d, want 2", got)
	}
	if got := m.Value(MetricRefreshFailure); got != 1 {
		t.Fatalf("refresh_failure = %d, want 1", got)
	}
	if got := m.Value(MetricLogout); got != 0 {
		t.Fatalf("logout = %d, want 0", got)
	}
	// Out-of-range IDs are ignored, not panics.
	m.Inc(MetricID(10000))
	if got := m.Value(MetricID(10000)); got != 0 {
		t.Fatalf("out-of-range id returned %d", got)
	}
}

func TestMetricsSnapshotIsCopy(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: true, EnableLatencyHistograms: true})

	m.Inc(MetricTokenIssued)
	m.Observe(MetricValidateLatency, 3*time.Millisecond)

	snap := m.Snapshot()
	if snap.Counters[MetricTokenIssued] != 1 {
		t.Fatalf("snapshot token_issued = %d", snap.Counters[MetricTokenIssued])
	}
	buckets := snap.Histograms[MetricValidateLatency]
	if len(buckets) != 8 || buckets[0] != 1 {
		t.Fatalf("snapshot buckets = %v", buckets)
	}

	m.Inc(MetricTokenIssued)
	m.Observe(MetricValidateLatency, 3*time.Millisecond)
	if snap.Counters[MetricTokenIssued] != 1 || buckets[0] != 1 {
		t.Fatal("snapshot must not track live counters")
	}
}

func TestObserveRequiresLatencyHistograms(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: true})

	m.Observe(MetricValidateLatency, time.Millisecond)
	snap := m.Snapshot()
	if len(snap.Histograms) != 0 {
		t.Fatalf("histograms disabled but snapshot has %v", snap.Histograms)
	}
}

func TestBucketIndexBoundaries(t *testing.T) {
	cases := []struct {
		d    time.Duration
		want int
	}{
		{0, 0},
		{5 * time.Millisecond, 0},
		{6 * time.Millisecond, 1},
		{10 * time.Millisecond, 1},
		{25 * time.Millisecond, 2},
		{50 * time.Millisecond, 3},
		{100 * time.Millisecond, 4},
		{250 * time.Millisecond, 5},
		{500 * time.Millisecond, 6},
		{501 * time.Millisecond, 7},
		{10 * time.Second, 7},
	}
	for _, tc := range cases {
		if got := bucketIndex(tc.d); got != tc.want {
			t.Fatalf("bucketIndex(%v) = %d, want %d", tc.d, got, tc.want)
		}
	}
}

func TestMetricsConcurrentInc(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: true})

	const workers = 8
	const perWorker = 1000

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for n := 0; n < perWorker; n++ {
				m.Inc(MetricLoginFailure)
			}
		}()
	}
	wg.Wait()

	if got := m.Value(MetricLoginFailure); got != workers*perWorker {
		t.Fatalf("login_failure = %d, want %d", got, workers*perWorker)
	}
}

func TestMetricNames(t *testing.T) {
	if got := MetricName(MetricLoginSuccess); got != "login_success" {
		t.Fatalf("MetricName(MetricLoginSuccess) = %q", got)
	}
	if got := MetricName(MetricID(10000)); got != "unknown" {
		t.Fatalf("MetricName(out of range) = %q", got)
	}
	seen := make(map[string]bool, MetricCount())
	for id := MetricID(0); id < MetricID(MetricCount()); id++ {
		name := MetricName(id)
		if name == "" || name == "unknown" {
			t.Fatalf("metric %d has no name", id)
		}
		if seen[name] {
			t.Fatalf("duplicate metric name %q", name)
		}
		seen[name] = true
	}
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics

	m.Inc(MetricLoginSuccess)
	m.Observe(MetricValidateLatency, time.Millisecond)
	if m.Enabled() || m.LatencyEnabled() {
		t.Fatal("nil metrics must report disabled")
	}
	if got := m.Value(MetricLoginSuccess); got != 0 {
		t.Fatalf("nil metrics value = %d", got)
	}
	snap := m.Snapshot()
	if len(snap.Counters) != 0 {
		t.Fatalf("nil snapshot = %+v", snap)
	}
}
