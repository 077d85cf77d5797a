package builder

import "github.com/prometheus/client_golang/prometheus"

// Metrics counts build progress. A nil *Metrics records nothing.
type Metrics struct {
	Records      prometheus.Counter
	NodesFlushed prometheus.Counter
	BytesWritten *prometheus.CounterVec
}

// NewMetrics creates build metrics and registers them with reg when reg is
// non-nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Records: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "genomeidx",
			Subsystem: "build",
			Name:      "records_total",
			Help:      "Records inserted into interval trees.",
		}),
		NodesFlushed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "genomeidx",
			Subsystem: "build",
			Name:      "nodes_flushed_total",
			Help:      "Tree nodes written to node tables.",
		}),
		BytesWritten: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "genomeidx",
			Subsystem: "build",
			Name:      "bytes_written_total",
			Help:      "Bytes written per output stream.",
		}, []string{"stream"}),
	}
	if reg != nil {
		reg.MustRegister(m.Records, m.NodesFlushed, m.BytesWritten)
	}
	return m
}

func (m *Metrics) recordAdded() {
	if m == nil {
		return
	}
	m.Records.Inc()
}

func (m *Metrics) nodeFlushed(indexBytes, dataBytes int64) {
	if m == nil {
		return
	}
	m.NodesFlushed.Inc()
	m.bytesWritten(indexBytes, dataBytes)
}

func (m *Metrics) bytesWritten(indexBytes, dataBytes int64) {
	if m == nil {
		return
	}
	m.BytesWritten.WithLabelValues("index").Add(float64(indexBytes))
	m.BytesWritten.WithLabelValues("data").Add(float64(dataBytes))
}
