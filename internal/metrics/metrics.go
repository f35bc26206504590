package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Mohsinsiddi/w3sale/internal/sale"
)

// Recorder holds the Prometheus collectors of a sale. It implements
// sale.Observer.
type Recorder struct {
	registry *prometheus.Registry

	// Invocations by entry point and outcome
	Invocations *prometheus.CounterVec

	// Rejections by wire kind code
	Rejections *prometheus.CounterVec

	AmountRaised prometheus.Gauge
	Balance      prometheus.Gauge
	MaximumRaise prometheus.Gauge
	Contributors prometheus.Gauge
	Whitelisted  prometheus.Gauge
	Paused       prometheus.Gauge
	Ended        prometheus.Gauge
}

// New creates a Recorder with its own registry, so several sales (or tests)
// never collide on the global one.
func New() *Recorder {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)

	r := &Recorder{
		registry: reg,
		Invocations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "w3sale_invocations_total",
			Help: "Total entry point invocations by entry point and outcome",
		}, []string{"entry_point", "outcome"}), // outcome: applied, rejected, reverted

		Rejections: f.NewCounterVec(prometheus.CounterOpts{
			Name: "w3sale_rejections_total",
			Help: "Total rejected invocations by error kind",
		}, []string{"kind"}),

		AmountRaised: f.NewGauge(prometheus.GaugeOpts{
			Name: "w3sale_amount_raised",
			Help: "Cumulative accepted contributions",
		}),
		Balance: f.NewGauge(prometheus.GaugeOpts{
			Name: "w3sale_balance",
			Help: "Funds held in custody",
		}),
		MaximumRaise: f.NewGauge(prometheus.GaugeOpts{
			Name: "w3sale_maximum_raise",
			Help: "Aggregate raise ceiling",
		}),
		Contributors: f.NewGauge(prometheus.GaugeOpts{
			Name: "w3sale_contributors",
			Help: "Number of addresses with an accepted contribution",
		}),
		Whitelisted: f.NewGauge(prometheus.GaugeOpts{
			Name: "w3sale_whitelisted",
			Help: "Number of whitelisted addresses",
		}),
		Paused: f.NewGauge(prometheus.GaugeOpts{
			Name: "w3sale_paused",
			Help: "1 while the sale is paused",
		}),
		Ended: f.NewGauge(prometheus.GaugeOpts{
			Name: "w3sale_ended",
			Help: "1 once the sale has ended",
		}),
	}
	// Pre-create one series per kind so dashboards see zeros.
	for _, k := range sale.Kinds() {
		r.Rejections.WithLabelValues(k.String())
	}
	return r
}

// Observe records one invocation and refreshes the sale gauges from s.
func (r *Recorder) Observe(e sale.Entry, s *sale.State) {
	if r == nil {
		return
	}
	r.Invocations.WithLabelValues(string(e.EntryPoint), string(e.Outcome)).Inc()
	if e.Outcome == sale.OutcomeRejected && e.Kind != 0 {
		r.Rejections.WithLabelValues(e.Kind.String()).Inc()
	}
	if s != nil {
		r.Sync(s)
	}
}

// Sync sets the gauges from s.
func (r *Recorder) Sync(s *sale.State) {
	r.AmountRaised.Set(s.AmountRaised.Float64())
	r.Balance.Set(s.Balance.Float64())
	r.MaximumRaise.Set(s.MaximumRaise.Float64())
	r.Contributors.Set(float64(len(s.Contributions)))
	r.Whitelisted.Set(float64(len(s.Whitelist)))
	r.Paused.Set(boolGauge(s.Paused))
	r.Ended.Set(boolGauge(s.Ended))
}

// Registry returns the registry holding the collectors.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// Handler serves the collectors in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
