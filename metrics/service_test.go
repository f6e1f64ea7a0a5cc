package metrics

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/fring-app/fring-core/eventbus"
	"github.com/fring-app/fring-core/events"
)

func newTestService(t *testing.T) (*Service, *eventbus.Bus) {
	t.Helper()
	bus := eventbus.New(zap.NewNop())
	t.Cleanup(func() { bus.Close() })
	return NewService(Config{}, bus, zap.NewNop()), bus
}

func TestKey_SortsTags(t *testing.T) {
	tests := []struct {
		name string
		tags map[string]string
		want string
	}{
		{"no tags", nil, "x"},
		{"empty tags", map[string]string{}, "x"},
		{"sorted", map[string]string{"b": "2", "a": "1"}, "x|a:1,b:2"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Key("x", tt.tags))
		})
	}
}

func TestService_CounterTagOrderIndependent(t *testing.T) {
	svc, _ := newTestService(t)

	svc.IncrementCounter("x", 1, map[string]string{"a": "1", "b": "2"})
	svc.IncrementCounter("x", 1, map[string]string{"b": "2", "a": "1"})

	v, ok := svc.MetricValue("x", map[string]string{"a": "1", "b": "2"})
	require.True(t, ok)
	assert.Equal(t, 2.0, v)
	assert.Len(t, svc.Snapshot(), 1)
}

func TestService_CounterKeyProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("tag insertion order never splits a series", prop.ForAll(
		func(keys []string, increments int) bool {
			svc := NewService(Config{}, nil, zap.NewNop())

			forward := make(map[string]string, len(keys))
			for i, k := range keys {
				forward[k] = fmt.Sprint(i)
			}
			backward := make(map[string]string, len(keys))
			for i := len(keys) - 1; i >= 0; i-- {
				backward[keys[i]] = forward[keys[i]]
			}

			for i := 0; i < increments; i++ {
				if i%2 == 0 {
					svc.IncrementCounter("x", 1, forward)
				} else {
					svc.IncrementCounter("x", 1, backward)
				}
			}
			v, ok := svc.MetricValue("x", forward)
			return ok && v == float64(increments) && len(svc.Snapshot()) == 1
		},
		gen.SliceOf(gen.Identifier()),
		gen.IntRange(1, 20),
	))

	properties.TestingRun(t)
}

func TestService_GaugeAndHistogramOverwrite(t *testing.T) {
	svc, bus := newTestService(t)

	var recorded []events.HistogramRecorded
	bus.Subscribe(events.TopicHistogramRecorded, func(_ context.Context, e events.Event) error {
		recorded = append(recorded, e.Data.(events.HistogramRecorded))
		return nil
	})

	svc.SetGauge("queue", 5, nil)
	svc.SetGauge("queue", 3, nil)
	svc.RecordHistogram("latency", 10, map[string]string{"route": "/a"})
	svc.RecordHistogram("latency", 20, map[string]string{"route": "/a"})

	v, _ := svc.MetricValue("queue", nil)
	assert.Equal(t, 3.0, v)
	v, _ = svc.MetricValue("latency", map[string]string{"route": "/a"})
	assert.Equal(t, 20.0, v)

	require.Len(t, recorded, 2)
	assert.Equal(t, 20.0, recorded[1].Value)
	assert.Equal(t, "histogram", recorded[1].Type)
}

func TestService_MetricValueMissing(t *testing.T) {
	svc, _ := newTestService(t)
	_, ok := svc.MetricValue("missing", nil)
	assert.False(t, ok)
}

func TestService_Timer(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	bus := eventbus.New(zap.NewNop())
	defer bus.Close()
	svc := NewService(Config{}, bus, zap.New(core))

	var stopped []events.TimerStopped
	bus.Subscribe(events.TopicTimerStopped, func(_ context.Context, e events.Event) error {
		stopped = append(stopped, e.Data.(events.TimerStopped))
		return nil
	})

	svc.StartTimer("load", nil)
	time.Sleep(5 * time.Millisecond)
	d := svc.StopTimer("load", nil)
	assert.Greater(t, d, 0.0)

	assert.Equal(t, -1.0, svc.StopTimer("load", nil))
	assert.Equal(t, 1, logs.FilterMessage("timer stopped without start").Len())

	require.Len(t, stopped, 1)
	assert.Equal(t, d, stopped[0].DurationMs)
	v, _ := svc.MetricValue("load", nil)
	assert.Equal(t, d, v)
}

func TestService_TimerWithClock(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	svc := NewService(Config{}, nil, zap.NewNop()).WithClock(func() time.Time { return now })

	tags := map[string]string{"page": "wardrobe"}
	svc.StartTimer("render", tags)
	now = now.Add(250 * time.Millisecond)
	assert.Equal(t, 250.0, svc.StopTimer("render", tags))
}

func TestService_HistoryIsBounded(t *testing.T) {
	svc := NewService(Config{MaxHistory: 3}, nil, zap.NewNop())
	for i := 1; i <= 5; i++ {
		svc.SetGauge("g", float64(i), nil)
	}

	hist := svc.MetricHistory("g", nil)
	require.Len(t, hist, 3)
	assert.Equal(t, []float64{3, 4, 5}, []float64{hist[0].Value, hist[1].Value, hist[2].Value})
}

func TestService_MetricHistoryFiltersByTags(t *testing.T) {
	svc, _ := newTestService(t)
	svc.IncrementCounter("calls", 1, map[string]string{"route": "/a"})
	svc.IncrementCounter("calls", 1, map[string]string{"route": "/b"})
	svc.IncrementCounter("calls", 1, map[string]string{"route": "/a"})
	svc.IncrementCounter("other", 1, nil)

	assert.Len(t, svc.MetricHistory("calls", nil), 3)
	assert.Len(t, svc.MetricHistory("calls", map[string]string{"route": "/a"}), 2)
	// History records each increment, not the running total.
	for _, m := range svc.MetricHistory("calls", map[string]string{"route": "/a"}) {
		assert.Equal(t, 1.0, m.Value)
	}
}

func TestService_ReportMetrics(t *testing.T) {
	svc, bus := newTestService(t)

	var reports []events.MetricsReport
	bus.Subscribe(events.TopicMetricsReport, func(_ context.Context, e events.Event) error {
		reports = append(reports, e.Data.(events.MetricsReport))
		return nil
	})

	svc.IncrementCounter("b", 1, nil)
	svc.SetGauge("a", 2, nil)
	report := svc.ReportMetrics(context.Background())

	require.Len(t, reports, 1)
	assert.Equal(t, report, reports[0])
	require.Len(t, report.Metrics, 2)
	assert.Equal(t, "a", report.Metrics[0].Name)
	assert.Equal(t, "counter", report.Metrics[1].Type)
}

func TestService_ClearAllMetrics(t *testing.T) {
	svc, _ := newTestService(t)
	svc.IncrementCounter("x", 1, nil)
	svc.StartTimer("t", nil)

	svc.ClearAllMetrics()

	assert.Empty(t, svc.Snapshot())
	assert.Empty(t, svc.MetricHistory("x", nil))
	assert.Equal(t, -1.0, svc.StopTimer("t", nil))
}

func TestService_StartStopReporter(t *testing.T) {
	svc := NewService(Config{ReportInterval: time.Second}, nil, zap.NewNop())
	require.NoError(t, svc.Start())
	require.NoError(t, svc.Start())
	svc.Stop()
	svc.Stop()
}
