package nvxinlet

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics contains Prometheus metrics for the acquisition loop and the
// consumer side of an Inlet. An Inlet given a nil *Metrics records nothing.
type Metrics struct {
	polls       *prometheus.CounterVec
	emptyPolls  *prometheus.CounterVec
	accepted    *prometheus.CounterVec
	rejected    *prometheus.CounterVec
	overwritten *prometheus.CounterVec
	gaps        *prometheus.CounterVec
	lost        *prometheus.CounterVec
	pulls       *prometheus.CounterVec
	faults      *prometheus.CounterVec
	ringFill    *prometheus.GaugeVec
	state       *prometheus.GaugeVec

	// collectors is a slice of all collectors for easier iteration
	collectors []prometheus.Collector
}

// NewMetrics creates and registers new inlet metrics
func NewMetrics(registry prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Metrics) initMetrics() {
	device := []string{"device"}
	counter := func(name, help string) *prometheus.CounterVec {
		return prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "nvxinlet",
			Name:      name,
			Help:      help,
		}, device)
	}
	m.polls = counter("samples_polled_total", "Raw samples returned by the device")
	m.emptyPolls = counter("empty_polls_total", "Polls that found no sample pending")
	m.accepted = counter("samples_accepted_total", "Samples kept by the rate converter")
	m.rejected = counter("samples_rejected_total", "Samples dropped by the rate converter")
	m.overwritten = counter("samples_overwritten_total", "Accepted samples lost because the ring buffer was full")
	m.gaps = counter("counter_gaps_total", "Discontinuities in the hardware sequence counter")
	m.lost = counter("counter_lost_total", "Hardware counter values skipped across all gaps")
	m.pulls = counter("pulls_total", "Calls to PullChunk")
	m.faults = counter("faults_total", "Acquisition runs ended by a hardware error")
	m.ringFill = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "nvxinlet",
		Name:      "ring_fill",
		Help:      "Samples waiting in the ring buffer after the last pull",
	}, device)
	m.state = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "nvxinlet",
		Name:      "acquisition_state",
		Help:      "Acquisition state: 0 stopped, 1 starting, 2 running, 3 stopping",
	}, device)

	m.collectors = []prometheus.Collector{
		m.polls, m.emptyPolls, m.accepted, m.rejected, m.overwritten,
		m.gaps, m.lost, m.pulls, m.faults, m.ringFill, m.state,
	}
}

// Describe implements the Collector interface
func (m *Metrics) Describe(ch chan<- *prometheus.Desc) {
	for _, collector := range m.collectors {
		collector.Describe(ch)
	}
}

// Collect implements the Collector interface
func (m *Metrics) Collect(ch chan<- prometheus.Metric) {
	for _, collector := range m.collectors {
		collector.Collect(ch)
	}
}

// deviceMetrics binds Metrics to one device label, so the hot loop does no
// label lookups. The zero value records nothing.
type deviceMetrics struct {
	polls, emptyPolls, accepted, rejected, overwritten prometheus.Counter
	gaps, lost, pulls, faults                          prometheus.Counter
	ringFill, state                                    prometheus.Gauge
}

func (m *Metrics) forDevice(index int) deviceMetrics {
	if m == nil {
		return deviceMetrics{}
	}
	label := strconv.Itoa(index)
	return deviceMetrics{
		polls:       m.polls.WithLabelValues(label),
		emptyPolls:  m.emptyPolls.WithLabelValues(label),
		accepted:    m.accepted.WithLabelValues(label),
		rejected:    m.rejected.WithLabelValues(label),
		overwritten: m.overwritten.WithLabelValues(label),
		gaps:        m.gaps.WithLabelValues(label),
		lost:        m.lost.WithLabelValues(label),
		pulls:       m.pulls.WithLabelValues(label),
		faults:      m.faults.WithLabelValues(label),
		ringFill:    m.ringFill.WithLabelValues(label),
		state:       m.state.WithLabelValues(label),
	}
}

func inc(c prometheus.Counter) {
	if c != nil {
		c.Inc()
	}
}

func add(c prometheus.Counter, v float64) {
	if c != nil {
		c.Add(v)
	}
}

func set(g prometheus.Gauge, v float64) {
	if g != nil {
		g.Set(v)
	}
}
