package networking

import "time"

// Metrics records controller activity. pkg/metrics provides a Prometheus
// implementation.
type Metrics interface {
	PDUSent(kind string)
	PDUReceived(kind string)
	PDUDropped(reason string)
	ReliableCompleted(success bool, d time.Duration)
	SegmentedCompleted(success bool)
	QueueDepth(n int)
	NetworkInfo(seq, ivIndex uint32)
}

// PDU kinds and drop reasons reported to Metrics.
const (
	KindNetwork     = "network"
	KindBeacon      = "beacon"
	KindProxyConfig = "proxy_config"
	KindSegmentAck  = "segment_ack"
	KindHeartbeat   = "heartbeat"
	KindAccess      = "access"

	DropDecrypt     = "decrypt"
	DropReplay      = "replay"
	DropNotForUs    = "not_for_us"
	DropMalformed   = "malformed"
	DropBusy        = "busy"
	DropDuplicate   = "duplicate"
	DropNoKey       = "no_key"
	DropUnsupported = "unsupported"
)

type nopMetrics struct{}

func (nopMetrics) PDUSent(string) {}
func (nopMetrics) PDUReceived(string) {}
func (nopMetrics) PDUDropped(string) {}
func (nopMetrics) ReliableCompleted(bool, time.Duration) {}
func (nopMetrics) SegmentedCompleted(bool) {}
func (nopMetrics) QueueDepth(int) {}
func (nopMetrics) NetworkInfo(uint32, uint32) {}
