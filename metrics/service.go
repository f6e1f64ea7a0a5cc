// Package metrics keeps counters, gauges, histograms and timers keyed by name
// plus tags, with a bounded update history and a periodic report.
package metrics

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/fring-app/fring-core/events"
)

// Type 指标类型
type Type string

const (
	Counter   Type = "counter"
	Gauge     Type = "gauge"
	Histogram Type = "histogram"
	Timer     Type = "timer"
)

// Metric 指标
type Metric struct {
	Name      string            `json:"name"`
	Value     float64           `json:"value"`
	Type      Type              `json:"type"`
	Tags      map[string]string `json:"tags,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

// Sample converts m to its event form.
func (m Metric) Sample() events.MetricSample {
	return events.MetricSample{
		Name:      m.Name,
		Value:     m.Value,
		Type:      string(m.Type),
		Tags:      copyTags(m.Tags),
		Timestamp: events.Millis(m.Timestamp),
	}
}

// Config 指标配置
type Config struct {
	ReportInterval time.Duration `mapstructure:"report-interval" json:"report-interval" yaml:"report-interval" default:"60s"`
	MaxHistory     int           `mapstructure:"max-history" json:"max-history" yaml:"max-history" default:"1000"`
	// Namespace prefixes the Prometheus metric names.
	Namespace string `mapstructure:"namespace" json:"namespace" yaml:"namespace" default:"fring"`
}

// DefaultMaxHistory is the update-history capacity.
const DefaultMaxHistory = 1000

// Publisher is the part of the event bus the service publishes through.
type Publisher interface {
	Publish(ctx context.Context, topic string, data events.Payload) error
}

type historyEntry struct {
	key string
	Metric
}

// Service 指标服务
type Service struct {
	cfg    Config
	logger *zap.Logger
	bus    Publisher
	now    func() time.Time

	mu      sync.RWMutex
	metrics map[string]*Metric
	history []historyEntry
	timers  map[string]time.Time

	cronMu sync.Mutex
	cron   *cron.Cron
}

// NewService 创建指标服务. bus may be nil.
func NewService(cfg Config, bus Publisher, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxHistory < 1 {
		cfg.MaxHistory = DefaultMaxHistory
	}
	if cfg.ReportInterval <= 0 {
		cfg.ReportInterval = time.Minute
	}
	return &Service{
		cfg:     cfg,
		logger:  logger,
		bus:     bus,
		now:     time.Now,
		metrics: make(map[string]*Metric),
		timers:  make(map[string]time.Time),
	}
}

// WithClock overrides the time source, for tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Key builds the identity of a series: name plus tags sorted by key as
// "k:v" joined with ",".
func Key(name string, tags map[string]string) string {
	if len(tags) == 0 {
		return name
	}
	keys := make([]string, 0, len(tags))
	for k := range tags {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	sb.WriteString(name)
	for i, k := range keys {
		if i == 0 {
			sb.WriteByte('|')
		} else {
			sb.WriteByte(',')
		}
		sb.WriteString(k)
		sb.WriteByte(':')
		sb.WriteString(tags[k])
	}
	return sb.String()
}

// record stores an update and appends it to the history. Counters add value,
// every other type overwrites. Caller must hold s.mu.
func (s *Service) record(name string, value float64, typ Type, tags map[string]string) Metric {
	key := Key(name, tags)
	now := s.now()

	m, ok := s.metrics[key]
	if !ok {
		m = &Metric{Name: name, Type: typ, Tags: copyTags(tags)}
		s.metrics[key] = m
	}
	if typ == Counter && m.Type == Counter {
		m.Value += value
	} else {
		m.Value = value
	}
	m.Type = typ
	m.Timestamp = now

	s.history = append(s.history, historyEntry{
		key:    key,
		Metric: Metric{Name: name, Value: value, Type: typ, Tags: copyTags(tags), Timestamp: now},
	})
	if over := len(s.history) - s.cfg.MaxHistory; over > 0 {
		s.history = append([]historyEntry(nil), s.history[over:]...)
	}

	out := *m
	out.Tags = copyTags(m.Tags)
	return out
}

// IncrementCounter 增加计数器
func (s *Service) IncrementCounter(name string, value float64, tags map[string]string) {
	s.mu.Lock()
	s.record(name, value, Counter, tags)
	s.mu.Unlock()
}

// SetGauge 设置仪表值
func (s *Service) SetGauge(name string, value float64, tags map[string]string) {
	s.mu.Lock()
	s.record(name, value, Gauge, tags)
	s.mu.Unlock()
}

// RecordHistogram stores the last observed value and publishes
// metrics:histogram_recorded.
func (s *Service) RecordHistogram(name string, value float64, tags map[string]string) {
	s.mu.Lock()
	m := s.record(name, value, Histogram, tags)
	s.mu.Unlock()

	s.publish(context.Background(), events.HistogramRecorded{MetricSample: m.Sample()})
}

// StartTimer 开始计时. Starting a running timer restarts it.
func (s *Service) StartTimer(name string, tags map[string]string) {
	s.mu.Lock()
	s.timers[Key(name, tags)] = s.now()
	s.mu.Unlock()
}

// StopTimer returns the elapsed milliseconds since the matching StartTimer,
// or -1 when there is none.
func (s *Service) StopTimer(name string, tags map[string]string) float64 {
	key := Key(name, tags)

	s.mu.Lock()
	started, ok := s.timers[key]
	if !ok {
		s.mu.Unlock()
		s.logger.Warn("timer stopped without start", zap.String("metric", key))
		return -1
	}
	delete(s.timers, key)
	now := s.now()
	duration := float64(now.Sub(started)) / float64(time.Millisecond)
	s.record(name, duration, Timer, tags)
	s.mu.Unlock()

	s.publish(context.Background(), events.TimerStopped{
		Name:       name,
		Tags:       copyTags(tags),
		DurationMs: duration,
		Timestamp:  events.Millis(now),
	})
	return duration
}

// MetricValue returns the current value of the series.
func (s *Service) MetricValue(name string, tags map[string]string) (float64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.metrics[Key(name, tags)]
	if !ok {
		return 0, false
	}
	return m.Value, true
}

// MetricHistory returns the updates of one series, oldest first. With nil
// tags it returns the updates of every series named name.
func (s *Service) MetricHistory(name string, tags map[string]string) []Metric {
	key := Key(name, tags)

	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Metric
	for _, h := range s.history {
		if tags == nil {
			if h.Name != name {
				continue
			}
		} else if h.key != key {
			continue
		}
		m := h.Metric
		m.Tags = copyTags(h.Tags)
		out = append(out, m)
	}
	return out
}

// Snapshot returns every current series sorted by key.
func (s *Service) Snapshot() []Metric {
	s.mu.RLock()
	keys := make([]string, 0, len(s.metrics))
	for k := range s.metrics {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]Metric, 0, len(keys))
	for _, k := range keys {
		m := *s.metrics[k]
		m.Tags = copyTags(m.Tags)
		out = append(out, m)
	}
	s.mu.RUnlock()
	return out
}

// ReportMetrics logs the snapshot and publishes metrics:report.
func (s *Service) ReportMetrics(ctx context.Context) events.MetricsReport {
	snapshot := s.Snapshot()
	report := events.MetricsReport{
		Metrics:   make([]events.MetricSample, 0, len(snapshot)),
		Timestamp: events.Millis(s.now()),
	}
	for _, m := range snapshot {
		report.Metrics = append(report.Metrics, m.Sample())
	}

	s.logger.Info("metrics report",
		zap.Int("series", len(report.Metrics)),
		zap.Any("metrics", report.Metrics))
	s.publish(ctx, report)
	return report
}

// ClearAllMetrics drops values, history and running timers.
func (s *Service) ClearAllMetrics() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metrics = make(map[string]*Metric)
	s.history = nil
	s.timers = make(map[string]time.Time)
}

// Start schedules ReportMetrics every ReportInterval. Calling Start twice is
// a no-op.
func (s *Service) Start() error {
	s.cronMu.Lock()
	defer s.cronMu.Unlock()
	if s.cron != nil {
		return nil
	}

	c := cron.New()
	spec := fmt.Sprintf("@every %s", s.cfg.ReportInterval)
	if _, err := c.AddFunc(spec, func() { s.ReportMetrics(context.Background()) }); err != nil {
		return fmt.Errorf("schedule metrics report: %w", err)
	}
	c.Start()
	s.cron = c
	s.logger.Info("metrics reporter started", zap.Duration("interval", s.cfg.ReportInterval))
	return nil
}

// Stop halts the reporter and waits for a running report to finish.
func (s *Service) Stop() {
	s.cronMu.Lock()
	c := s.cron
	s.cron = nil
	s.cronMu.Unlock()

	if c == nil {
		return
	}
	<-c.Stop().Done()
}

func (s *Service) publish(ctx context.Context, p events.Payload) {
	if s.bus == nil {
		return
	}
	if err := s.bus.Publish(ctx, p.Topic(), p); err != nil {
		s.logger.Debug("metrics event not published", zap.String("topic", p.Topic()), zap.Error(err))
	}
}

func copyTags(tags map[string]string) map[string]string {
	if tags == nil {
		return nil
	}
	out := make(map[string]string, len(tags))
	for k, v := range tags {
		out[k] = v
	}
	return out
}
