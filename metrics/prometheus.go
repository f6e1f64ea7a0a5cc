package metrics

import (
	"net/http"
	"sort"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusCollector exposes the service's current values. Series sharing a
// name form one family: labels are the union of their tag keys (missing tags
// export as ""), and the family is a counter only when every series is one.
type PrometheusCollector struct {
	svc       *Service
	namespace string
}

func NewPrometheusCollector(svc *Service, namespace string) *PrometheusCollector {
	return &PrometheusCollector{svc: svc, namespace: namespace}
}

// Describe sends nothing, which registers the collector as unchecked: the
// series set is only known at collection time.
func (c *PrometheusCollector) Describe(chan<- *prometheus.Desc) {}

type family struct {
	name    string
	counter bool
	labels  map[string]struct{}
	series  []Metric
}

func (c *PrometheusCollector) Collect(ch chan<- prometheus.Metric) {
	families := make(map[string]*family)
	var order []string
	for _, m := range c.svc.Snapshot() {
		fqName := prometheus.BuildFQName(c.namespace, "", sanitize(m.Name, true))
		f, ok := families[fqName]
		if !ok {
			f = &family{name: m.Name, counter: true, labels: make(map[string]struct{})}
			families[fqName] = f
			order = append(order, fqName)
		}
		if m.Type != Counter {
			f.counter = false
		}
		for k := range m.Tags {
			f.labels[sanitize(k, false)] = struct{}{}
		}
		f.series = append(f.series, m)
	}
	sort.Strings(order)

	for _, fqName := range order {
		c.collectFamily(ch, fqName, families[fqName])
	}
}

func (c *PrometheusCollector) collectFamily(ch chan<- prometheus.Metric, fqName string, f *family) {
	labels := make([]string, 0, len(f.labels))
	for l := range f.labels {
		labels = append(labels, l)
	}
	sort.Strings(labels)

	valueType := prometheus.GaugeValue
	if f.counter {
		valueType = prometheus.CounterValue
	}
	desc := prometheus.NewDesc(fqName, "fring metric "+f.name, labels, nil)

	seen := make(map[string]struct{}, len(f.series))
	for _, m := range f.series {
		values := labelValues(labels, m.Tags)
		key := strings.Join(values, "\xff")
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}

		metric, err := prometheus.NewConstMetric(desc, valueType, m.Value, values...)
		if err != nil {
			ch <- prometheus.NewInvalidMetric(desc, err)
			continue
		}
		ch <- metric
	}
}

// labelValues orders tags by the family's label names. Tags whose names
// sanitize to the same label keep the value of the first key in sort order.
func labelValues(labels []string, tags map[string]string) []string {
	keys := make([]string, 0, len(tags))
	for k := range tags {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	byLabel := make(map[string]string, len(tags))
	for _, k := range keys {
		l := sanitize(k, false)
		if _, ok := byLabel[l]; !ok {
			byLabel[l] = tags[k]
		}
	}
	values := make([]string, len(labels))
	for i, l := range labels {
		values[i] = byLabel[l]
	}
	return values
}

// NewRegistry returns a registry with the service collector plus the Go and
// process collectors.
func NewRegistry(svc *Service, namespace string) *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		NewPrometheusCollector(svc, namespace),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
	return reg
}

// Handler serves the registry in the Prometheus text format.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{ErrorHandling: promhttp.ContinueOnError})
}

// sanitize maps s onto the Prometheus name alphabet. Metric names may also
// contain ':'.
func sanitize(s string, metricName bool) string {
	var sb strings.Builder
	for i, r := range s {
		valid := r == '_' ||
			(r >= 'a' && r <= 'z') ||
			(r >= 'A' && r <= 'Z') ||
			(i > 0 && r >= '0' && r <= '9') ||
			(metricName && r == ':')
		if valid {
			sb.WriteRune(r)
		} else {
			sb.WriteByte('_')
		}
	}
	if sb.Len() == 0 {
		return "_"
	}
	return sb.String()
}
