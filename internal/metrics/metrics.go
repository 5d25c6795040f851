// Package metrics exports tick, session, script and persistence counters
// to Prometheus and serves the operator admin endpoints.
package metrics

import (
	"time"

	coresys "github.com/l1jgo/realm/internal/core/system"
	"github.com/l1jgo/realm/internal/dbproxy"
	"github.com/l1jgo/realm/internal/faultlog"
	"github.com/l1jgo/realm/internal/net"
	"github.com/l1jgo/realm/internal/scripting"
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "realm"

// Sources are read at scrape time. Nil fields are skipped.
type Sources struct {
	Sessions func() int
	Entities func() int
	Scripts  *scripting.Engine
	Queue    *dbproxy.Queue
	Cache    *dbproxy.Cache
	Faults   *faultlog.Log
}

// Metrics owns a private registry so tests can build as many as they like.
type Metrics struct {
	reg      *prometheus.Registry
	tick     prometheus.Histogram
	phase    *prometheus.HistogramVec
	overruns prometheus.Counter
	lastTick prometheus.Gauge
}

func New(src Sources) *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		tick: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tick_duration_seconds",
			Help:      "Wall time spent running one tick.",
			Buckets:   []float64{.001, .0025, .005, .01, .025, .05, .1, .2, .5},
		}),
		phase: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "phase_duration_seconds",
			Help:      "Wall time spent in each tick phase.",
			Buckets:   []float64{.0001, .0005, .001, .0025, .005, .01, .025, .05},
		}, []string{"phase"}),
		overruns: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tick_overruns_total",
			Help:      "Ticks that took longer than the tick period.",
		}),
		lastTick: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "tick_current",
			Help:      "Number of the last completed tick.",
		}),
	}
	m.reg.MustRegister(m.tick, m.phase, m.overruns, m.lastTick)
	m.reg.MustRegister(
		counterFunc("frames_in_total", "Client frames decoded.", func() uint64 { return net.FramesIn() }),
		counterFunc("frames_out_total", "Frames written to clients.", func() uint64 { return net.FramesOut() }),
	)

	if src.Sessions != nil {
		m.reg.MustRegister(gaugeFunc("sessions", "Connections holding a session slot.", src.Sessions))
	}
	if src.Entities != nil {
		m.reg.MustRegister(gaugeFunc("entities", "Live entities in the world registry.", src.Entities))
	}
	if e := src.Scripts; e != nil {
		m.reg.MustRegister(
			counterFunc("script_invocations_total", "Script calls made.", func() uint64 { return e.Stats().Invocations }),
			counterFunc("script_faults_total", "Script calls that faulted.", func() uint64 { return e.Stats().Faults }),
			counterFunc("script_reloads_total", "Successful script reloads.", func() uint64 { return e.Stats().Reloads }),
		)
	}
	if q := src.Queue; q != nil {
		m.reg.MustRegister(
			gaugeFunc("db_queue_depth", "Commands waiting for a worker.", func() int { return int(q.Stats().Depth) }),
			gaugeFunc("db_inflight", "Commands being executed.", func() int { return int(q.Stats().InFlight) }),
			counterFunc("db_commands_total", "Commands enqueued.", func() uint64 { return q.Stats().Enqueued }),
			counterFunc("db_retries_total", "Command retries after transient failures.", func() uint64 { return q.Stats().Retries }),
			counterFunc("db_failures_total", "Commands that failed for good.", func() uint64 { return q.Stats().Failures }),
		)
	}
	if c := src.Cache; c != nil {
		m.reg.MustRegister(
			counterFunc("cache_hits_total", "Reference cache hits.", func() uint64 { return c.Stats().Hits }),
			counterFunc("cache_misses_total", "Reference cache misses.", func() uint64 { return c.Stats().Misses }),
			counterFunc("cache_invalidations_total", "Reference cache invalidations.", func() uint64 { return c.Stats().Invalidations }),
		)
	}
	if f := src.Faults; f != nil {
		m.reg.MustRegister(newFaultCollector(f))
	}
	return m
}

// Registry is what /metrics serves.
func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

// ObserveTick matches coresys.Loop.OnTick.
func (m *Metrics) ObserveTick(tick uint64, took time.Duration) {
	m.tick.Observe(took.Seconds())
	m.lastTick.Set(float64(tick))
}

// ObservePhase matches coresys.Runner.OnPhaseTiming.
func (m *Metrics) ObservePhase(p coresys.Phase, took time.Duration) {
	m.phase.WithLabelValues(p.String()).Observe(took.Seconds())
}

func (m *Metrics) Overrun(coresys.Overrun) { m.overruns.Inc() }

func counterFunc(name, help string, fn func() uint64) prometheus.CounterFunc {
	return prometheus.NewCounterFunc(prometheus.CounterOpts{Namespace: namespace, Name: name, Help: help},
		func() float64 { return float64(fn()) })
}

func gaugeFunc(name, help string, fn func() int) prometheus.GaugeFunc {
	return prometheus.NewGaugeFunc(prometheus.GaugeOpts{Namespace: namespace, Name: name, Help: help},
		func() float64 { return float64(fn()) })
}

var faultKinds = []faultlog.Kind{
	faultlog.KindFrame,
	faultlog.KindProtocolState,
	faultlog.KindHandshake,
	faultlog.KindHandlerPanic,
	faultlog.KindScript,
	faultlog.KindPersistence,
	faultlog.KindTickOverrun,
	faultlog.KindBackpressure,
}

// faultCollector reports fault log counts per kind.
type faultCollector struct {
	log  *faultlog.Log
	desc *prometheus.Desc
}

func newFaultCollector(log *faultlog.Log) *faultCollector {
	return &faultCollector{
		log: log,
		desc: prometheus.NewDesc(prometheus.BuildFQName(namespace, "", "faults_total"),
			"Contained failures recorded in the fault log.", []string{"kind"}, nil),
	}
}

func (c *faultCollector) Describe(ch chan<- *prometheus.Desc) { ch <- c.desc }

func (c *faultCollector) Collect(ch chan<- prometheus.Metric) {
	for _, k := range faultKinds {
		ch <- prometheus.MustNewConstMetric(c.desc, prometheus.CounterValue, float64(c.log.Count(k)), string(k))
	}
}
