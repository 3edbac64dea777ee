package monitor

import (
	"context"
	"fmt"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/xtxerr/netmon/internal/errors"
	"github.com/xtxerr/netmon/internal/storage/types"
	"github.com/xtxerr/netmon/internal/telemetry"
	testutil "github.com/xtxerr/netmon/internal/testing"
)

type memWriter struct {
	mu      sync.Mutex
	samples []types.Sample
	windows []types.MetricsWindow
	fail    bool
}

func (w *memWriter) AppendSample(s types.Sample) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.fail {
		return fmt.Errorf("disk full: %w", errors.ErrStorageWrite)
	}
	w.samples = append(w.samples, s)
	return nil
}

func (w *memWriter) AppendWindow(win types.MetricsWindow) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.fail {
		return fmt.Errorf("disk full: %w", errors.ErrStorageWrite)
	}
	w.windows = append(w.windows, win)
	return nil
}

var t0 = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestMonitor(w Writer, clock *testutil.Clock) *Monitor {
	cfg := Config{Window: time.Minute, MaxAge: 72 * time.Hour, MaxSamples: 1000, MaxWindows: 100}
	return New([]string{"8.8.8.8", "1.1.1.1"}, w, cfg,
		WithClock(clock.Now), WithMetrics(telemetry.New()))
}

func TestMonitor_SampleFansOut(t *testing.T) {
	w := &memWriter{}
	clock := testutil.NewClock(t0)
	m := newTestMonitor(w, clock)
	ctx := context.Background()

	for _, s := range testutil.Samples("8.8.8.8", "HomeWiFi", t0, 10*time.Second, 6, 0) {
		m.Sample(ctx, s)
	}

	st, err := m.State("8.8.8.8")
	if err != nil {
		t.Fatalf("State: %v", err)
	}
	if st.Samples.Len() != 6 || len(w.samples) != 6 {
		t.Errorf("memory = %d, storage = %d, want 6 each", st.Samples.Len(), len(w.samples))
	}

	// The seventh sample crosses the 12:01 boundary.
	m.Sample(ctx, types.NewSuccess(t0.Add(time.Minute), "8.8.8.8", "HomeWiFi", 20))

	if st.Windows.Len() != 1 || len(w.windows) != 1 {
		t.Fatalf("windows in memory = %d, storage = %d, want 1", st.Windows.Len(), len(w.windows))
	}
	win := w.windows[0]
	if !win.Timestamp.Equal(t0.Add(time.Minute)) || win.SampleCount != 6 || win.Network != "HomeWiFi" {
		t.Errorf("window = %+v", win)
	}
	if m.Stats().WindowsEmitted != 1 || m.Stats().SamplesSeen != 7 {
		t.Errorf("stats = %+v", m.Stats())
	}
}

func TestMonitor_StorageFailureKeepsMemory(t *testing.T) {
	w := &memWriter{fail: true}
	m := newTestMonitor(w, testutil.NewClock(t0))
	ctx := context.Background()

	m.Sample(ctx, types.NewSuccess(t0, "1.1.1.1", "lab", 5))
	m.Sample(ctx, types.NewLoss(t0.Add(time.Second), "1.1.1.1", "lab"))
	m.Tick(ctx, "1.1.1.1", t0.Add(time.Minute))

	st, _ := m.State("1.1.1.1")
	if st.Samples.Len() != 2 || st.Windows.Len() != 1 {
		t.Errorf("memory samples = %d windows = %d", st.Samples.Len(), st.Windows.Len())
	}
	if got := m.Stats().StorageErrors; got != 3 {
		t.Errorf("storage errors = %d, want 3", got)
	}
}

func TestMonitor_TickAndClose(t *testing.T) {
	w := &memWriter{}
	clock := testutil.NewClock(t0.Add(30 * time.Second))
	m := newTestMonitor(w, clock)
	ctx := context.Background()

	m.Sample(ctx, types.NewSuccess(t0, "8.8.8.8", "lab", 10))
	m.Tick(ctx, "8.8.8.8", t0.Add(30*time.Second))
	if len(w.windows) != 0 {
		t.Fatal("tick before the boundary closed a window")
	}

	m.Sample(ctx, types.NewSuccess(t0.Add(10*time.Second), "1.1.1.1", "lab", 10))
	m.Close(ctx)

	if len(w.windows) != 2 {
		t.Fatalf("Close flushed %d windows, want 2", len(w.windows))
	}
	for _, win := range w.windows {
		if !win.Timestamp.Equal(t0.Add(30 * time.Second)) {
			t.Errorf("flushed window at %v, want flush time", win.Timestamp)
		}
	}

	// Unknown targets are ignored.
	m.Tick(ctx, "9.9.9.9", t0.Add(time.Hour))
	m.Sample(ctx, types.NewSuccess(t0, "9.9.9.9", "lab", 1))
	if m.Has("9.9.9.9") {
		t.Error("unknown target became known")
	}
}

func TestMonitor_TickExpiresByWallClock(t *testing.T) {
	clock := testutil.NewClock(t0)
	m := newTestMonitor(nil, clock)
	ctx := context.Background()

	for _, s := range testutil.Samples("8.8.8.8", "HomeWiFi", t0, 10*time.Second, 12, 0) {
		m.Sample(ctx, s)
	}
	m.Tick(ctx, "8.8.8.8", t0.Add(2*time.Minute))

	st, _ := m.State("8.8.8.8")
	if st.Samples.Len() != 12 || st.Windows.Len() != 2 {
		t.Fatalf("buffered %d samples, %d windows", st.Samples.Len(), st.Windows.Len())
	}

	// No samples for longer than MaxAge, e.g. after a suspend.
	m.Tick(ctx, "8.8.8.8", t0.Add(73*time.Hour))
	if st.Samples.Len() != 0 || st.Windows.Len() != 0 {
		t.Errorf("after MaxAge: %d samples, %d windows buffered", st.Samples.Len(), st.Windows.Len())
	}
}

func TestMonitor_NetworkChangeClosesWindow(t *testing.T) {
	w := &memWriter{}
	m := newTestMonitor(w, testutil.NewClock(t0))
	ctx := context.Background()

	m.Sample(ctx, types.NewSuccess(t0.Add(5*time.Second), "8.8.8.8", "Home", 10))
	m.Sample(ctx, types.NewSuccess(t0.Add(20*time.Second), "8.8.8.8", "Office", 30))

	if len(w.windows) != 1 {
		t.Fatalf("windows = %d, want 1", len(w.windows))
	}
	if w.windows[0].Network != "Home" || !w.windows[0].Timestamp.Equal(t0.Add(20*time.Second)) {
		t.Errorf("early window = %+v", w.windows[0])
	}
}

func TestMonitor_Snapshot(t *testing.T) {
	clock := testutil.NewClock(t0.Add(2 * time.Minute))
	m := newTestMonitor(nil, clock)
	ctx := context.Background()

	if _, err := m.Snapshot("10.0.0.1"); !errors.Is(err, errors.ErrTargetNotFound) {
		t.Errorf("Snapshot(unknown) = %v", err)
	}

	empty, err := m.Snapshot("8.8.8.8")
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if empty.LatestSample != nil || empty.Live.PacketLossPercent != 100 || empty.Live.AverageLatency != nil {
		t.Errorf("empty snapshot = %+v", empty)
	}

	// Only the last minute counts towards live stats.
	m.Sample(ctx, types.NewLoss(t0, "8.8.8.8", "lab"))
	m.Sample(ctx, types.NewSuccess(t0.Add(90*time.Second), "8.8.8.8", "lab", 10))
	m.Sample(ctx, types.NewSuccess(t0.Add(100*time.Second), "8.8.8.8", "lab", 20))
	m.Sample(ctx, types.NewLoss(t0.Add(110*time.Second), "8.8.8.8", "lab"))

	snap, _ := m.Snapshot("8.8.8.8")
	if snap.LatestSample == nil || !snap.LatestSample.Lost {
		t.Errorf("latest sample = %+v", snap.LatestSample)
	}
	if snap.LatestWindow == nil {
		t.Fatal("expected the 12:01 window")
	}
	live := snap.Live
	if live.SampleCount != 3 || math.Abs(live.PacketLossPercent-33.33) > 0.01 {
		t.Errorf("live = %+v", live)
	}
	if live.AverageLatency == nil || *live.AverageLatency != 15 || *live.Jitter != 10 {
		t.Errorf("live latency = %+v", live)
	}
}

func TestMonitor_Queries(t *testing.T) {
	m := newTestMonitor(nil, testutil.NewClock(t0))
	ctx := context.Background()

	m.Sample(ctx, types.NewSuccess(t0, "8.8.8.8", "Home", 10))
	m.Sample(ctx, types.NewSuccess(t0.Add(time.Second), "8.8.8.8", "Office", 10))
	m.Sample(ctx, types.NewSuccess(t0.Add(2*time.Second), "8.8.8.8", "Office", 10))

	got, err := m.SamplesSince("8.8.8.8", "Office", t0)
	if err != nil || len(got) != 2 {
		t.Errorf("SamplesSince(Office) = %d, %v", len(got), err)
	}
	got, _ = m.SamplesSince("8.8.8.8", "", t0.Add(time.Second))
	if len(got) != 2 {
		t.Errorf("SamplesSince(all) = %d", len(got))
	}

	wins, _ := m.WindowsSince("8.8.8.8", "Home", t0)
	if len(wins) != 1 {
		t.Errorf("WindowsSince(Home) = %d", len(wins))
	}

	oldest, _, err := m.Horizon("8.8.8.8")
	if err != nil || !oldest.Equal(t0) {
		t.Errorf("Horizon = %v, %v", oldest, err)
	}

	nets := m.Networks()
	if len(nets) != 2 || nets[0] != "Home" || nets[1] != "Office" {
		t.Errorf("Networks = %v", nets)
	}
}

func TestMonitor_ConcurrentReaders(t *testing.T) {
	m := newTestMonitor(nil, testutil.NewClock(t0))
	gt := testutil.NewGoroutineTest(t)

	gt.Go(func() error {
		for _, s := range testutil.Samples("8.8.8.8", "lab", t0, time.Second, 500, 7) {
			m.Sample(context.Background(), s)
		}
		return nil
	})
	for i := 0; i < 4; i++ {
		gt.Go(func() error {
			for j := 0; j < 100; j++ {
				samples, err := m.SamplesSince("8.8.8.8", "", time.Time{})
				if err != nil {
					return err
				}
				for k := 1; k < len(samples); k++ {
					if samples[k].Timestamp.Before(samples[k-1].Timestamp) {
						return fmt.Errorf("reader saw unordered samples")
					}
				}
			}
			return nil
		})
	}
	gt.Wait()
}

func TestSamplesFor(t *testing.T) {
	if got := SamplesFor(72*time.Hour, time.Second); got != 259200 {
		t.Errorf("SamplesFor(3d, 1s) = %d", got)
	}
	if got := SamplesFor(365*24*time.Hour, time.Second); got != 300000 {
		t.Errorf("SamplesFor(1y, 1s) = %d, want cap", got)
	}
	if got := SamplesFor(time.Second, time.Minute); got != 1 {
		t.Errorf("SamplesFor(1s, 1m) = %d", got)
	}
}
