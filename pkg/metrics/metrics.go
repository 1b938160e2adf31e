// Package metrics exports networking controller activity as Prometheus
// metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/backkem/blemesh/pkg/networking"
)

const namespace = "blemesh"

// Collector implements networking.Metrics with Prometheus collectors.
type Collector struct {
	pdusSent         *prometheus.CounterVec
	pdusReceived     *prometheus.CounterVec
	pdusDropped      *prometheus.CounterVec
	reliable         *prometheus.CounterVec
	reliableDuration prometheus.Histogram
	segmented        *prometheus.CounterVec
	queueDepth       prometheus.Gauge
	sequence         prometheus.Gauge
	ivIndex          prometheus.Gauge
}

// New creates a Collector and registers it with reg. labels are attached to
// every series, so several controllers can share one registry when their
// labels differ (for example by local address).
func New(reg prometheus.Registerer, labels prometheus.Labels) (*Collector, error) {
	c := &Collector{
		pdusSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "pdus_sent_total",
			Help:        "PDUs handed to the bearer, by kind.",
			ConstLabels: labels,
		}, []string{"kind"}),
		pdusReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "pdus_received_total",
			Help:        "PDUs accepted from the bearer, by kind.",
			ConstLabels: labels,
		}, []string{"kind"}),
		pdusDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "pdus_dropped_total",
			Help:        "Inbound PDUs discarded, by reason.",
			ConstLabels: labels,
		}, []string{"reason"}),
		reliable: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "reliable_messages_total",
			Help:        "Completed reliable messages, by result.",
			ConstLabels: labels,
		}, []string{"result"}),
		reliableDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace:   namespace,
			Name:        "reliable_message_duration_seconds",
			Help:        "Time from first send to completion of reliable messages.",
			Buckets:     []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 4, 8},
			ConstLabels: labels,
		}),
		segmented: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "segmented_messages_total",
			Help:        "Completed outbound segmented messages, by result.",
			ConstLabels: labels,
		}, []string{"result"}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   namespace,
			Name:        "queue_depth",
			Help:        "Network PDUs waiting for the pacer.",
			ConstLabels: labels,
		}),
		sequence: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   namespace,
			Name:        "sequence_number",
			Help:        "Last persisted sequence number.",
			ConstLabels: labels,
		}),
		ivIndex: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   namespace,
			Name:        "iv_index",
			Help:        "Last persisted IV index.",
			ConstLabels: labels,
		}),
	}

	if reg != nil {
		for _, col := range []prometheus.Collector{
			c.pdusSent, c.pdusReceived, c.pdusDropped,
			c.reliable, c.reliableDuration, c.segmented,
			c.queueDepth, c.sequence, c.ivIndex,
		} {
			if err := reg.Register(col); err != nil {
				return nil, err
			}
		}
	}
	return c, nil
}

func result(success bool) string {
	if success {
		return "success"
	}
	return "failure"
}

func (c *Collector) PDUSent(kind string) {
	c.pdusSent.WithLabelValues(kind).Inc()
}

func (c *Collector) PDUReceived(kind string) {
	c.pdusReceived.WithLabelValues(kind).Inc()
}

func (c *Collector) PDUDropped(reason string) {
	c.pdusDropped.WithLabelValues(reason).Inc()
}

func (c *Collector) ReliableCompleted(success bool, d time.Duration) {
	c.reliable.WithLabelValues(result(success)).Inc()
	c.reliableDuration.Observe(d.Seconds())
}

func (c *Collector) SegmentedCompleted(success bool) {
	c.segmented.WithLabelValues(result(success)).Inc()
}

func (c *Collector) QueueDepth(n int) {
	c.queueDepth.Set(float64(n))
}

func (c *Collector) NetworkInfo(seq, ivIndex uint32) {
	c.sequence.Set(float64(seq))
	c.ivIndex.Set(float64(ivIndex))
}

var _ networking.Metrics = (*Collector)(nil)
