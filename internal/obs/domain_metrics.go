package obs

import "github.com/prometheus/client_golang/prometheus"

// DomainMetrics counts business-level outcomes: checkouts, promotion
// activations and catalog cache lookups.
type DomainMetrics struct {
	CheckoutTotal            *prometheus.CounterVec
	CheckoutAmount           prometheus.Histogram
	PromotionActivationTotal *prometheus.CounterVec
	CatalogCacheTotal        *prometheus.CounterVec
}

// NewDomainMetrics registers the domain collectors on the given registry.
func NewDomainMetrics(reg prometheus.Registerer, namespace string) *DomainMetrics {
	m := &DomainMetrics{
		CheckoutTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "checkout",
			Name:      "total",
			Help:      "Checkout attempts by result (completed, invalid_sku, failed).",
		}, []string{"result"}),
		CheckoutAmount: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "checkout",
			Name:      "amount",
			Help:      "Completed sale totals in currency units.",
			Buckets:   []float64{1, 5, 10, 25, 50, 100, 250, 500},
		}),
		PromotionActivationTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "promotion",
			Name:      "activations_total",
			Help:      "Promotion activations by result (activated, conflict, failed).",
		}, []string{"result"}),
		CatalogCacheTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "catalog",
			Name:      "cache_total",
			Help:      "Catalog cache lookups by outcome (hit, miss, error).",
		}, []string{"outcome"}),
	}
	mustRegister(reg, m.CheckoutTotal, m.CheckoutAmount, m.PromotionActivationTotal, m.CatalogCacheTotal)
	return m
}
