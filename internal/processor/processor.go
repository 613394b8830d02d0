// Package processor transforms Records into EventGroups through an
// ordered chain of processors honoring a uniform contract: regex,
// delimiter, JSON, timestamp, and tag-injection parsers.
package processor

import (
	"time"

	"github.com/estuary/logtail/internal/protocol"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// EventKind discriminates the shape of events a processor expects as
// input. Each Processor declares it through InputKind; Pipeline does
// not check it, so a misordered chain runs in the order given.
type EventKind int

const (
	// KindRaw is an EventGroup whose Events carry only Raw bytes and no
	// parsed Fields yet.
	KindRaw EventKind = iota
	// KindParsed is an EventGroup whose Events carry parsed Fields.
	KindParsed
)

// Processor is the uniform contract every pipeline stage implements.
type Processor interface {
	Name() string
	InputKind() EventKind
	Process(group protocol.EventGroup) (protocol.EventGroup, error)
	Metrics() *InstanceMetrics
}

// InstanceMetrics are the per-instance counters every processor
// carries, mirroring the network proxy's per-connection prometheus
// vectors but scoped to one processor instance via the "processor"
// label.
type InstanceMetrics struct {
	inputEvents    prometheus.Counter
	outputEvents   prometheus.Counter
	inputBytes     prometheus.Counter
	outputBytes    prometheus.Counter
	processingTime prometheus.Observer
	discarded      prometheus.Counter
	parseErrors    prometheus.Counter
}

var (
	processorInputEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "logtail_processor_input_events_total",
		Help: "count of events fed into a processor instance",
	}, []string{"processor"})

	processorOutputEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "logtail_processor_output_events_total",
		Help: "count of events emitted by a processor instance",
	}, []string{"processor"})

	processorInputBytes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "logtail_processor_input_bytes_total",
		Help: "count of raw bytes fed into a processor instance",
	}, []string{"processor"})

	processorOutputBytes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "logtail_processor_output_bytes_total",
		Help: "count of bytes produced by a processor instance",
	}, []string{"processor"})

	processorDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "logtail_processor_duration_seconds",
		Help:    "time spent inside a processor instance's Process call",
		Buckets: prometheus.DefBuckets,
	}, []string{"processor"})

	processorDiscarded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "logtail_processor_discarded_total",
		Help: "count of records discarded by a processor instance after a total parse failure",
	}, []string{"processor"})

	processorParseErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "logtail_processor_parse_errors_total",
		Help: "count of parse errors observed by a processor instance",
	}, []string{"processor"})
)

// NewInstanceMetrics registers (or reuses) the metric vectors labeled
// for one processor instance name.
func NewInstanceMetrics(name string) *InstanceMetrics {
	return &InstanceMetrics{
		inputEvents:    processorInputEvents.WithLabelValues(name),
		outputEvents:   processorOutputEvents.WithLabelValues(name),
		inputBytes:     processorInputBytes.WithLabelValues(name),
		outputBytes:    processorOutputBytes.WithLabelValues(name),
		processingTime: processorDuration.WithLabelValues(name),
		discarded:      processorDiscarded.WithLabelValues(name),
		parseErrors:    processorParseErrors.WithLabelValues(name),
	}
}

func (m *InstanceMetrics) observeInput(events int, bytes int) {
	m.inputEvents.Add(float64(events))
	m.inputBytes.Add(float64(bytes))
}

func (m *InstanceMetrics) observeOutput(events int, bytes int) {
	m.outputEvents.Add(float64(events))
	m.outputBytes.Add(float64(bytes))
}

func (m *InstanceMetrics) observeDuration(d time.Duration) {
	m.processingTime.Observe(d.Seconds())
}

func (m *InstanceMetrics) incDiscarded()  { m.discarded.Inc() }
func (m *InstanceMetrics) incParseError() { m.parseErrors.Inc() }

// Pipeline applies an ordered chain of Processors to an EventGroup. A
// processor that produces no fields for an Event marks it discarded
// unless keepSourceOnParseFail retains the raw bytes under rawFieldKey.
type Pipeline struct {
	stages                 []Processor
	keepSourceOnParseFail  bool
	rawFieldKey            string
}

// NewPipeline returns a Pipeline applying stages in the given order.
func NewPipeline(keepSourceOnParseFail bool, rawFieldKey string, stages ...Processor) *Pipeline {
	return &Pipeline{stages: stages, keepSourceOnParseFail: keepSourceOnParseFail, rawFieldKey: rawFieldKey}
}

// Run feeds group through every stage in order, measuring per-stage
// metrics and applying the discard-on-total-parse-failure rule after
// each stage completes.
func (p *Pipeline) Run(group protocol.EventGroup) (protocol.EventGroup, error) {
	for _, stage := range p.stages {
		var m = stage.Metrics()
		var inputBytes int
		for _, e := range group.Events {
			inputBytes += len(e.Raw)
		}
		m.observeInput(len(group.Events), inputBytes)

		var start = time.Now()
		out, err := stage.Process(group)
		m.observeDuration(time.Since(start))
		if err != nil {
			m.incParseError()
			return group, err
		}
		group = out

		var outputBytes int
		for i := range group.Events {
			var e = &group.Events[i]
			if len(e.Fields) == 0 && !e.ParseFailed {
				e.ParseFailed = true
				if p.keepSourceOnParseFail && p.rawFieldKey != "" {
					if e.Fields == nil {
						e.Fields = make(map[string]protocol.FieldValue)
					}
					e.Fields[p.rawFieldKey] = protocol.StringValue(string(e.Raw))
				} else {
					m.incDiscarded()
				}
			}
			outputBytes += len(e.Raw)
		}
		m.observeOutput(len(group.Events), outputBytes)
	}
	return group, nil
}
