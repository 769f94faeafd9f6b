package prom

import (
	"github.com/YiuTerran/go-gamenet/network/stats"
	"github.com/prometheus/client_golang/prometheus"
)

/**  把引擎的统计快照导出为prometheus指标
  *  每次抓取时取一次快照，不额外持有计数
**/

const DefaultNamespace = "gamenet"

type SnapshotFunc func() stats.Snapshot

type counterDesc struct {
	desc  *prometheus.Desc
	value func(s stats.Snapshot) float64
}

type Collector struct {
	snapshot SnapshotFunc
	counters []counterDesc
	dropped  *prometheus.Desc
	sessions *prometheus.Desc
	queued   *prometheus.Desc
	maxDepth *prometheus.Desc
}

func NewCollector(namespace string, snapshot SnapshotFunc) *Collector {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	counter := func(name, help string, value func(s stats.Snapshot) float64) counterDesc {
		return counterDesc{
			desc:  prometheus.NewDesc(prometheus.BuildFQName(namespace, "", name), help, nil, nil),
			value: value,
		}
	}
	return &Collector{
		snapshot: snapshot,
		counters: []counterDesc{
			counter("read_bytes_total", "Bytes read from all sessions.",
				func(s stats.Snapshot) float64 { return float64(s.ReadBytes) }),
			counter("read_packets_total", "Frames decoded from all sessions.",
				func(s stats.Snapshot) float64 { return float64(s.ReadPackets) }),
			counter("written_bytes_total", "Bytes written to all sessions.",
				func(s stats.Snapshot) float64 { return float64(s.WrittenBytes) }),
			counter("written_packets_total", "Packets fully written to all sessions.",
				func(s stats.Snapshot) float64 { return float64(s.WrittenPackets) }),
			counter("encode_failures_total", "Packets dropped because they could not be encoded.",
				func(s stats.Snapshot) float64 { return float64(s.EncodeFailures) }),
			counter("corrupt_frames_total", "Sessions closed because of a corrupt frame.",
				func(s stats.Snapshot) float64 { return float64(s.CorruptFrames) }),
			counter("accepted_connections_total", "Connections accepted by the filter.",
				func(s stats.Snapshot) float64 { return float64(s.AcceptedConnects) }),
			counter("refused_connections_total", "Connections refused by the filter.",
				func(s stats.Snapshot) float64 { return float64(s.RefusedConnects) }),
			counter("partial_writes_total", "Writes that could not flush a whole frame.",
				func(s stats.Snapshot) float64 { return float64(s.PartialWrites) }),
		},
		dropped: prometheus.NewDesc(prometheus.BuildFQName(namespace, "", "dropped_packets_total"),
			"Outgoing packets dropped, by reason.", []string{"reason"}, nil),
		sessions: prometheus.NewDesc(prometheus.BuildFQName(namespace, "", "sessions"),
			"Current number of sessions.", nil, nil),
		queued: prometheus.NewDesc(prometheus.BuildFQName(namespace, "", "queued_packets"),
			"Packets waiting in all send queues.", nil, nil),
		maxDepth: prometheus.NewDesc(prometheus.BuildFQName(namespace, "", "max_queue_depth"),
			"Deepest send queue of a single session.", nil, nil),
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, cd := range c.counters {
		ch <- cd.desc
	}
	ch <- c.dropped
	ch <- c.sessions
	ch <- c.queued
	ch <- c.maxDepth
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	s := c.snapshot()
	for _, cd := range c.counters {
		ch <- prometheus.MustNewConstMetric(cd.desc, prometheus.CounterValue, cd.value(s))
	}
	ch <- prometheus.MustNewConstMetric(c.dropped, prometheus.CounterValue, float64(s.DroppedByPolicy), "policy")
	ch <- prometheus.MustNewConstMetric(c.dropped, prometheus.CounterValue, float64(s.DroppedByFull), "full")
	ch <- prometheus.MustNewConstMetric(c.dropped, prometheus.CounterValue, float64(s.DroppedInactive), "inactive")
	ch <- prometheus.MustNewConstMetric(c.sessions, prometheus.GaugeValue, float64(s.Sessions))

	total, deepest := 0, 0
	for _, d := range s.QueueDepths {
		total += d
		if d > deepest {
			deepest = d
		}
	}
	ch <- prometheus.MustNewConstMetric(c.queued, prometheus.GaugeValue, float64(total))
	ch <- prometheus.MustNewConstMetric(c.maxDepth, prometheus.GaugeValue, float64(deepest))
}
