package reader

import "github.com/prometheus/client_golang/prometheus"

// Metrics counts query work. A nil *Metrics records nothing.
type Metrics struct {
	Queries         prometheus.Counter
	NodesRead       prometheus.Counter
	RecordsReturned prometheus.Counter
}

// NewMetrics creates query metrics and registers them with reg when reg is
// non-nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Queries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "genomeidx",
			Subsystem: "query",
			Name:      "queries_total",
			Help:      "Range queries answered.",
		}),
		NodesRead: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "genomeidx",
			Subsystem: "query",
			Name:      "nodes_read_total",
			Help:      "Node data blocks decoded while answering queries.",
		}),
		RecordsReturned: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "genomeidx",
			Subsystem: "query",
			Name:      "records_returned_total",
			Help:      "Records returned by range queries.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.Queries, m.NodesRead, m.RecordsReturned)
	}
	return m
}

func (m *Metrics) queried() {
	if m == nil {
		return
	}
	m.Queries.Inc()
}

func (m *Metrics) nodeRead() {
	if m == nil {
		return
	}
	m.NodesRead.Inc()
}

func (m *Metrics) returned(n int) {
	if m == nil {
		return
	}
	m.RecordsReturned.Add(float64(n))
}
