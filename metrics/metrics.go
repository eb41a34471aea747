package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
}

type MetricName string

const (
	MetricNameProofsGenerated  MetricName = "proofs_generated"
	MetricNameProofsVerified   MetricName = "proofs_verified"
	MetricNameRecordsAccepted  MetricName = "records_accepted"
	MetricNameRecordsRejected  MetricName = "records_rejected"
	MetricNameConfirmsAccepted MetricName = "confirms_accepted"
	MetricNameConfirmsRejected MetricName = "confirms_rejected"
)

func (m MetricName) String() string {
	return string(m)
}

const (
	NamespaceZkDelegate = "zkdelegate"
	SubsystemZK         = "zk"
	SubsystemRegistry   = "registry"
)

var (
	counters = map[MetricName]prometheus.Counter{
		MetricNameProofsGenerated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: NamespaceZkDelegate,
			Subsystem: SubsystemZK,
			Name:      MetricNameProofsGenerated.String(),
			Help:      "Number of proofs generated",
		}),
		MetricNameProofsVerified: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: NamespaceZkDelegate,
			Subsystem: SubsystemZK,
			Name:      MetricNameProofsVerified.String(),
			Help:      "Number of proofs verified",
		}),
		MetricNameRecordsAccepted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: NamespaceZkDelegate,
			Subsystem: SubsystemRegistry,
			Name:      MetricNameRecordsAccepted.String(),
			Help:      "Number of delegation records accepted",
		}),
		MetricNameRecordsRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: NamespaceZkDelegate,
			Subsystem: SubsystemRegistry,
			Name:      MetricNameRecordsRejected.String(),
			Help:      "Number of delegation records rejected",
		}),
		MetricNameConfirmsAccepted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: NamespaceZkDelegate,
			Subsystem: SubsystemRegistry,
			Name:      MetricNameConfirmsAccepted.String(),
			Help:      "Number of delegation confirmations accepted",
		}),
		MetricNameConfirmsRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: NamespaceZkDelegate,
			Subsystem: SubsystemRegistry,
			Name:      MetricNameConfirmsRejected.String(),
			Help:      "Number of delegation confirmations rejected",
		}),
	}
)

func NewMetrics() *Metrics {
	for _, counter := range counters {
		prometheus.Register(counter)
	}
	return &Metrics{}
}

// IncrCounter is a no-op on a nil receiver so metrics stay optional.
func (m *Metrics) IncrCounter(name MetricName) {
	if m == nil {
		return
	}
	if counter, ok := counters[name]; ok {
		counter.Inc()
	}
}

func RegisterHandlers(mux *http.ServeMux) {
	mux.Handle("/metrics", promhttp.Handler())
}
