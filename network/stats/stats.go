package stats

import (
	"go.uber.org/atomic"
)

// Stats 引擎级别的全局计数，所有字段单调递增（Sessions除外）
type Stats struct {
	ReadBytes      atomic.Uint64
	ReadPackets    atomic.Uint64
	WrittenBytes   atomic.Uint64
	WrittenPackets atomic.Uint64
	// DroppedByPolicy 被策略拒绝或挤掉
	DroppedByPolicy atomic.Uint64
	// DroppedByFull 队列满
	DroppedByFull atomic.Uint64
	// DroppedInactive 会话已经关闭
	DroppedInactive  atomic.Uint64
	EncodeFailures   atomic.Uint64
	CorruptFrames    atomic.Uint64
	RefusedConnects  atomic.Uint64
	AcceptedConnects atomic.Uint64
	PartialWrites    atomic.Uint64
	Sessions         atomic.Int64
}

func New() *Stats {
	return &Stats{}
}

// Snapshot 某个时刻的计数
type Snapshot struct {
	ReadBytes        uint64         `json:"readBytes"`
	ReadPackets      uint64         `json:"readPackets"`
	WrittenBytes     uint64         `json:"writtenBytes"`
	WrittenPackets   uint64         `json:"writtenPackets"`
	DroppedByPolicy  uint64         `json:"droppedByPolicy"`
	DroppedByFull    uint64         `json:"droppedByFull"`
	DroppedInactive  uint64         `json:"droppedInactive"`
	EncodeFailures   uint64         `json:"encodeFailures"`
	CorruptFrames    uint64         `json:"corruptFrames"`
	RefusedConnects  uint64         `json:"refusedConnects"`
	AcceptedConnects uint64         `json:"acceptedConnects"`
	PartialWrites    uint64         `json:"partialWrites"`
	Sessions         int64          `json:"sessions"`
	QueueDepths      map[string]int `json:"queueDepths,omitempty"`
}

// Dropped 所有原因丢弃的包数
func (s Snapshot) Dropped() uint64 {
	return s.DroppedByPolicy + s.DroppedByFull + s.DroppedInactive
}

// Snapshot depths为各会话当前的队列长度，可以为nil
func (s *Stats) Snapshot(depths map[string]int) Snapshot {
	return Snapshot{
		ReadBytes:        s.ReadBytes.Load(),
		ReadPackets:      s.ReadPackets.Load(),
		WrittenBytes:     s.WrittenBytes.Load(),
		WrittenPackets:   s.WrittenPackets.Load(),
		DroppedByPolicy:  s.DroppedByPolicy.Load(),
		DroppedByFull:    s.DroppedByFull.Load(),
		DroppedInactive:  s.DroppedInactive.Load(),
		EncodeFailures:   s.EncodeFailures.Load(),
		CorruptFrames:    s.CorruptFrames.Load(),
		RefusedConnects:  s.RefusedConnects.Load(),
		AcceptedConnects: s.AcceptedConnects.Load(),
		PartialWrites:    s.PartialWrites.Load(),
		Sessions:         s.Sessions.Load(),
		QueueDepths:      depths,
	}
}
