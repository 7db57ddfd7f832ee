package introspection

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	layerMemory  = "memory"
	layerCluster = "cluster"

	resultHit  = "hit"
	resultMiss = "miss"

	outcomeActive    = "active"
	outcomeRejected  = "rejected"
	outcomeTransport = "transport_error"
)

// Metrics counts cache lookups and IDP calls. A nil *Metrics is a no-op.
type Metrics struct {
	lookups  *prometheus.CounterVec
	requests *prometheus.CounterVec
}

func NewMetrics(registerer prometheus.Registerer) (*Metrics, error) {
	lookups := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "statelessauth",
		Subsystem: "introspection_cache",
		Name:      "lookups_total",
		Help:      "Introspection cache lookups by layer and result.",
	}, []string{"layer", "result"})

	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "statelessauth",
		Subsystem: "introspection",
		Name:      "requests_total",
		Help:      "Token introspection calls to the identity provider by outcome.",
	}, []string{"outcome"})

	if registerer != nil {
		var err error
		if lookups, err = register(registerer, lookups); err != nil {
			return nil, err
		}
		if requests, err = register(registerer, requests); err != nil {
			return nil, err
		}
	}

	return &Metrics{lookups: lookups, requests: requests}, nil
}

func register(registerer prometheus.Registerer, collector *prometheus.CounterVec) (*prometheus.CounterVec, error) {
	if err := registerer.Register(collector); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
		}
		return nil, err
	}
	return collector, nil
}

func (m *Metrics) lookup(layer string, hit bool) {
	if m == nil {
		return
	}
	result := resultMiss
	if hit {
		result = resultHit
	}
	m.lookups.WithLabelValues(layer, result).Inc()
}

func (m *Metrics) request(outcome string) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(outcome).Inc()
}
