package promhooks

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/unkn0wn-root/ddbcache"
)

// Hooks exports accelerator events as Prometheus counters. Cache keys are
// never used as labels: tables and reasons are bounded, keys are not.
type Hooks struct {
	hits         *prometheus.CounterVec
	misses       *prometheus.CounterVec
	fallbacks    *prometheus.CounterVec
	selfHeals    *prometheus.CounterVec
	fillSkips    *prometheus.CounterVec
	schemaMisses *prometheus.CounterVec
	tombstones   *prometheus.CounterVec
}

var _ ddbcache.Hooks = (*Hooks)(nil)

// New registers the counters with reg and returns the hook set. Pass
// prometheus.DefaultRegisterer unless you scope registries per component.
// Registering the same namespace twice on one registry panics, same as any
// duplicate MustRegister.
func New(reg prometheus.Registerer, namespace string) *Hooks {
	h := &Hooks{
		hits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "ddbcache",
				Name:      "hits_total",
				Help:      "Cacheable lookups answered from the cache provider",
			},
			[]string{"table", "kind"},
		),
		misses: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "ddbcache",
				Name:      "misses_total",
				Help:      "Cacheable lookups that went to DynamoDB",
			},
			[]string{"table", "kind"},
		),
		fallbacks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "ddbcache",
				Name:      "provider_fallbacks_total",
				Help:      "Cache provider call failures absorbed as misses",
			},
			[]string{"op"},
		),
		selfHeals: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "ddbcache",
				Name:      "self_heals_total",
				Help:      "Entries deleted on read because they were corrupt, expired or undecodable",
			},
			[]string{"reason"},
		),
		fillSkips: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "ddbcache",
				Name:      "fill_skips_total",
				Help:      "Fresh values not written back to the cache",
			},
			[]string{"table", "reason"},
		),
		schemaMisses: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "ddbcache",
				Name:      "schema_misses_total",
				Help:      "Operations on tables with no known key schema",
			},
			[]string{"table"},
		),
		tombstones: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "ddbcache",
				Name:      "tombstones_served_total",
				Help:      "Reads answered not-found by a delete tombstone",
			},
			[]string{"table"},
		),
	}
	reg.MustRegister(
		h.hits,
		h.misses,
		h.fallbacks,
		h.selfHeals,
		h.fillSkips,
		h.schemaMisses,
		h.tombstones,
	)
	return h
}

func (h *Hooks) CacheHit(table string, kind ddbcache.OpKind) {
	h.hits.WithLabelValues(table, kind.String()).Inc()
}

func (h *Hooks) CacheMiss(table string, kind ddbcache.OpKind) {
	h.misses.WithLabelValues(table, kind.String()).Inc()
}

func (h *Hooks) CacheFallback(op string, _ error) {
	h.fallbacks.WithLabelValues(op).Inc()
}

func (h *Hooks) SelfHeal(_, reason string) {
	h.selfHeals.WithLabelValues(reason).Inc()
}

func (h *Hooks) FillSkipped(table, reason string) {
	h.fillSkips.WithLabelValues(table, reason).Inc()
}

func (h *Hooks) SchemaMiss(table string) {
	h.schemaMisses.WithLabelValues(table).Inc()
}

func (h *Hooks) TombstoneServed(table string) {
	h.tombstones.WithLabelValues(table).Inc()
}
