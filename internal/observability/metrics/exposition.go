package metrics

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
)

const namespace = "stayrelay"

var defaultBuckets = []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30}

// family is one named metric rendered in Prometheus text format.
type family interface {
	write(builder *strings.Builder)
}

var (
	familiesMu sync.Mutex
	families   []family
)

func register[F family](f F) F {
	familiesMu.Lock()
	defer familiesMu.Unlock()
	families = append(families, f)
	return f
}

func render() string {
	familiesMu.Lock()
	registered := append([]family(nil), families...)
	familiesMu.Unlock()

	var builder strings.Builder
	builder.Grow(4096)
	for _, f := range registered {
		f.write(&builder)
	}
	return builder.String()
}

type histogram struct {
	buckets []float64
	counts  []uint64
	sum     float64
	count   uint64
}

func newHistogram() *histogram {
	return &histogram{
		buckets: defaultBuckets,
		counts:  make([]uint64, len(defaultBuckets)),
	}
}

// observe counts value in every bucket whose bound is >= value; +Inf is h.count.
func (h *histogram) observe(value float64) {
	h.count++
	h.sum += value
	for idx, bound := range h.buckets {
		if value <= bound {
			for i := idx; i < len(h.counts); i++ {
				h.counts[i]++
			}
			return
		}
	}
}

// sample is one label combination of a vector.
type sample[V any] struct {
	values []string
	value  V
}

// vec holds samples keyed by their label values.
type vec[V any] struct {
	name   string
	help   string
	kind   string
	labels []string

	mu      sync.Mutex
	samples map[string]*sample[V]
	init    func() V
}

func newVec[V any](name, help, kind string, init func() V, labels ...string) *vec[V] {
	return &vec[V]{
		name:    name,
		help:    help,
		kind:    kind,
		labels:  labels,
		samples: make(map[string]*sample[V]),
		init:    init,
	}
}

// with runs fn on the sample for values, creating it on first use.
func (v *vec[V]) with(values []string, fn func(*V)) {
	if len(values) != len(v.labels) {
		panic(fmt.Sprintf("metrics: %s expects %d label values, got %d", v.name, len(v.labels), len(values)))
	}
	key := strings.Join(values, "\xff")

	v.mu.Lock()
	defer v.mu.Unlock()
	s, ok := v.samples[key]
	if !ok {
		s = &sample[V]{values: append([]string(nil), values...), value: v.init()}
		v.samples[key] = s
	}
	fn(&s.value)
}

func (v *vec[V]) sorted() []*sample[V] {
	keys := make([]string, 0, len(v.samples))
	for key := range v.samples {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	out := make([]*sample[V], 0, len(keys))
	for _, key := range keys {
		out = append(out, v.samples[key])
	}
	return out
}

// counterVec is a monotonically increasing counter partitioned by labels.
type counterVec struct {
	*vec[uint64]
}

func newCounterVec(name, help string, labels ...string) counterVec {
	return register(counterVec{newVec(name, help, "counter", func() uint64 { return 0 }, labels...)})
}

func (c counterVec) inc(values ...string) { c.add(1, values...) }

func (c counterVec) add(n uint64, values ...string) {
	c.with(values, func(v *uint64) { *v += n })
}

func (c counterVec) write(builder *strings.Builder) {
	c.mu.Lock()
	defer c.mu.Unlock()
	writeHeader(builder, c.name, c.help, c.kind)
	if len(c.labels) == 0 && len(c.samples) == 0 {
		fmt.Fprintf(builder, "%s_%s 0\n", namespace, c.name)
		return
	}
	for _, s := range c.sorted() {
		fmt.Fprintf(builder, "%s_%s%s %d\n", namespace, c.name, braces(formatLabels(c.labels, s.values)), s.value)
	}
}

// histogramVec is a duration histogram partitioned by labels.
type histogramVec struct {
	*vec[*histogram]
}

func newHistogramVec(name, help string, labels ...string) histogramVec {
	return register(histogramVec{newVec(name, help, "histogram", newHistogram, labels...)})
}

func (h histogramVec) observe(seconds float64, values ...string) {
	h.with(values, func(v **histogram) { (*v).observe(seconds) })
}

func (h histogramVec) write(builder *strings.Builder) {
	h.mu.Lock()
	defer h.mu.Unlock()
	writeHeader(builder, h.name, h.help, h.kind)
	for _, s := range h.sorted() {
		writeHistogram(builder, h.name, formatLabels(h.labels, s.values), s.value)
	}
}

func writeHeader(builder *strings.Builder, name, help, kind string) {
	fmt.Fprintf(builder, "# HELP %s_%s %s\n", namespace, name, help)
	fmt.Fprintf(builder, "# TYPE %s_%s %s\n", namespace, name, kind)
}

func writeHistogram(builder *strings.Builder, name, labels string, h *histogram) {
	prefix := labels
	if prefix != "" {
		prefix += ","
	}
	for idx, bound := range h.buckets {
		fmt.Fprintf(builder, "%s_%s_bucket{%sle=\"%s\"} %d\n", namespace, name, prefix, formatFloat(bound), h.counts[idx])
	}
	fmt.Fprintf(builder, "%s_%s_bucket{%sle=\"+Inf\"} %d\n", namespace, name, prefix, h.count)
	fmt.Fprintf(builder, "%s_%s_sum%s %s\n", namespace, name, braces(labels), formatFloat(h.sum))
	fmt.Fprintf(builder, "%s_%s_count%s %d\n", namespace, name, braces(labels), h.count)
}

func formatLabels(names, values []string) string {
	parts := make([]string, len(names))
	for i, name := range names {
		parts[i] = fmt.Sprintf("%s=\"%s\"", name, escape(values[i]))
	}
	return strings.Join(parts, ",")
}

func braces(labels string) string {
	if labels == "" {
		return ""
	}
	return "{" + labels + "}"
}

func escape(value string) string {
	value = strings.ReplaceAll(value, "\\", "\\\\")
	value = strings.ReplaceAll(value, "\"", "\\\"")
	value = strings.ReplaceAll(value, "\n", "")
	return value
}

func formatFloat(value float64) string {
	return strconv.FormatFloat(value, 'f', -1, 64)
}
