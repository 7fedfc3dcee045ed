package control

import (
	"fmt"
	"io"
	"sort"
	"strings"
)

// WritePrometheus renders the aggregator state in Prometheus text
// format. Names are emitted in sorted order so scrapes and golden
// tests see a stable layout. Latency summaries are in seconds.
func (a *Aggregator) WritePrometheus(w io.Writer) {
	write := func(format string, args ...interface{}) {
		_, _ = fmt.Fprintf(w, format, args...)
	}

	write("# TYPE qplane_up gauge\n")
	write("qplane_up 1\n")

	a.mu.RLock()
	defer a.mu.RUnlock()

	gaugeNames := make([]string, 0, len(a.gauges))
	for name := range a.gauges {
		gaugeNames = append(gaugeNames, name)
	}
	sort.Strings(gaugeNames)
	for _, name := range gaugeNames {
		metric := "qplane_" + sanitizeMetricName(name)
		write("# TYPE %s gauge\n", metric)
		write("%s %f\n", metric, a.gauges[name])
	}

	ops := make([]string, 0, len(a.ops))
	for op := range a.ops {
		ops = append(ops, op)
	}
	sort.Strings(ops)
	if len(ops) > 0 {
		write("# TYPE qplane_requests_total counter\n")
		for _, op := range ops {
			write("qplane_requests_total{operation=%q} %d\n", op, a.ops[op].requests)
		}
		write("# TYPE qplane_errors_total counter\n")
		for _, op := range ops {
			write("qplane_errors_total{operation=%q} %d\n", op, a.ops[op].errors)
		}
	}

	histNames := make([]string, 0, len(a.histograms))
	for name := range a.histograms {
		histNames = append(histNames, name)
	}
	sort.Strings(histNames)
	if len(histNames) > 0 {
		write("# TYPE qplane_latency_seconds summary\n")
		for _, name := range histNames {
			op := strings.TrimPrefix(name, "latency_")
			h := a.histograms[name]
			write("qplane_latency_seconds{operation=%q,quantile=\"0.5\"} %f\n", op, h.percentile(0.50)/1000)
			write("qplane_latency_seconds{operation=%q,quantile=\"0.95\"} %f\n", op, h.percentile(0.95)/1000)
			write("qplane_latency_seconds{operation=%q,quantile=\"0.99\"} %f\n", op, h.percentile(0.99)/1000)
			write("qplane_latency_seconds_sum{operation=%q} %f\n", op, h.sum/1000)
			write("qplane_latency_seconds_count{operation=%q} %d\n", op, h.count)
		}
	}
}

// sanitizeMetricName maps characters outside [a-zA-Z0-9_] to
// underscores so dynamic series names stay scrapeable.
func sanitizeMetricName(name string) string {
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}
