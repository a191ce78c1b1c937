package surface

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics are the prometheus gauges and counters of one Controller. All
// observe helpers accept a nil receiver, so a Controller without metrics
// costs nothing but a nil check.
type Metrics struct {

	// track current occupancy
	SurfacesActive  prometheus.Gauge // currently granted surfaces
	SurfacesPending prometheus.Gauge // requests waiting for a slot

	// count admission decisions
	Grants    prometheus.Counter   // granted requests, immediate and drained
	Denials   prometheus.CounterVec // denied requests, partitioned by reason
	Evictions prometheus.Counter   // preempted holders
	Releases  prometheus.Counter   // voluntary releases of active grants
}

const (
	denialDuplicate = "duplicate"
	denialWithdrawn = "withdrawn"
)

// NewMetrics creates and registers the controller gauges on the default
// registry. Call at most once per process.
func NewMetrics() *Metrics {
	m := &Metrics{}

	m.SurfacesActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "meshbridge_surfaces_active",
		Help: "currently granted map surfaces",
	})
	m.SurfacesPending = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "meshbridge_surfaces_pending",
		Help: "surface requests waiting for a free slot",
	})

	m.Grants = promauto.NewCounter(prometheus.CounterOpts{
		Name: "meshbridge_surface_grants_total",
		Help: "surface requests granted, immediate and drained",
	})
	m.Denials = *promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "meshbridge_surface_denials_total",
		Help: "surface requests denied; partitioned by reason",
	}, []string{"reason"})
	m.Evictions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "meshbridge_surface_evictions_total",
		Help: "active surfaces preempted by higher-priority requests",
	})
	m.Releases = promauto.NewCounter(prometheus.CounterOpts{
		Name: "meshbridge_surface_releases_total",
		Help: "voluntary releases of active surfaces",
	})

	return m
}

func (m *Metrics) observeState(active, pending int) {
	if m == nil {
		return
	}
	m.SurfacesActive.Set(float64(active))
	m.SurfacesPending.Set(float64(pending))
}

func (m *Metrics) observeGrant() {
	if m == nil {
		return
	}
	m.Grants.Inc()
}

func (m *Metrics) observeDenial(reason string) {
	if m == nil {
		return
	}
	m.Denials.With(prometheus.Labels{"reason": reason}).Inc()
}

func (m *Metrics) observeEviction() {
	if m == nil {
		return
	}
	m.Evictions.Inc()
}

func (m *Metrics) observeRelease() {
	if m == nil {
		return
	}
	m.Releases.Inc()
}
