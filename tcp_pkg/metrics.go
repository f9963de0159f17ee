package tcp_protocol

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics counts protocol events. A nil *Metrics records nothing, so the core
// works without prometheus being set up.
type Metrics struct {
	SegmentsSent   *prometheus.CounterVec
	Retransmits    prometheus.Counter
	InvalidAcks    prometheus.Counter
	Resets         *prometheus.CounterVec
	BytesDelivered prometheus.Counter
}

func NewMetrics() *Metrics {
	return &Metrics{
		SegmentsSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tcpcore_segments_sent_total",
			Help: "Segments handed to the transmit function, by kind",
		}, []string{"kind"}),
		Retransmits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tcpcore_retransmissions_total",
			Help: "Segments retransmitted after the retransmission timer expired",
		}),
		InvalidAcks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tcpcore_invalid_acks_total",
			Help: "Acknowledgements dropped because they covered unsent sequence numbers",
		}),
		Resets: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tcpcore_resets_total",
			Help: "RST flags observed from the peer, by direction",
		}, []string{"direction"}),
		BytesDelivered: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tcpcore_bytes_delivered_total",
			Help: "Payload bytes the receiver wrote into the inbound stream",
		}),
	}
}

// Register adds every collector to reg.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{m.SegmentsSent, m.Retransmits, m.InvalidAcks, m.Resets, m.BytesDelivered} {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

func (m *Metrics) segmentSent(msg TCPSenderMessage) {
	if m == nil {
		return
	}
	kind := "data"
	switch {
	case msg.SYN:
		kind = "syn"
	case msg.FIN && len(msg.Payload) == 0:
		kind = "fin"
	case msg.SequenceLength() == 0:
		kind = "empty"
	}
	m.SegmentsSent.WithLabelValues(kind).Inc()
}

func (m *Metrics) retransmitted() {
	if m == nil {
		return
	}
	m.Retransmits.Inc()
}

func (m *Metrics) invalidAck() {
	if m == nil {
		return
	}
	m.InvalidAcks.Inc()
}

func (m *Metrics) reset(direction string) {
	if m == nil {
		return
	}
	m.Resets.WithLabelValues(direction).Inc()
}

func (m *Metrics) delivered(n uint64) {
	if m == nil || n == 0 {
		return
	}
	m.BytesDelivered.Add(float64(n))
}
