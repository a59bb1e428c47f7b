package metrics

import "github.com/prometheus/client_golang/prometheus"

// Prom implements Recorder and exports Prometheus counters.
// Safe for concurrent use; all Prometheus metric types are goroutine-safe.
type Prom struct {
	hits        prometheus.Counter
	misses      prometheus.Counter
	warmed      prometheus.Counter
	purged      prometheus.Counter
	rateLimited prometheus.Counter
}

// NewProm constructs a Prometheus metrics adapter.
//   - reg: registry to register metrics with (nil => prometheus.DefaultRegisterer)
func NewProm(reg prometheus.Registerer) *Prom {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	p := &Prom{
		hits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "pagevault",
			Name:      "hits_total",
			Help:      "Requests served from the page cache",
		}),
		misses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "pagevault",
			Name:      "misses_total",
			Help:      "Requests rendered by the origin",
		}),
		warmed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "pagevault",
			Name:      "warmed_pages_total",
			Help:      "Pages captured through warm fetches",
		}),
		purged: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "pagevault",
			Name:      "purged_total",
			Help:      "Purge operations executed",
		}),
		rateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "pagevault",
			Name:      "rate_limited_total",
			Help:      "Requests denied by the rate limiter",
		}),
	}
	reg.MustRegister(p.hits, p.misses, p.warmed, p.purged, p.rateLimited)
	return p
}

func (p *Prom) Hit()         { p.hits.Inc() }
func (p *Prom) Miss()        { p.misses.Inc() }
func (p *Prom) Warmed()      { p.warmed.Inc() }
func (p *Prom) Purged()      { p.purged.Inc() }
func (p *Prom) RateLimited() { p.rateLimited.Inc() }

var _ Recorder = (*Prom)(nil)
