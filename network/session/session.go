package session

import (
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/YiuTerran/go-gamenet/network"
	"github.com/YiuTerran/go-gamenet/network/codec"
	"github.com/YiuTerran/go-gamenet/network/packet"
	"github.com/YiuTerran/go-gamenet/network/queue"
	"github.com/google/uuid"
	"go.uber.org/atomic"
)

/**  一个连接（或UDP对端）的服务端状态
  *  handle在创建时确定，之后不会再变
**/

var (
	// ErrSessionInactive 会话已经被标记为关闭，不再接收新的包
	ErrSessionInactive = errors.New("session is not activated")
	// ErrDuplicateHandle 同一个句柄重复注册
	ErrDuplicateHandle = errors.New("handle already registered")
	// ErrIdleTimeout 空闲超时被清理
	ErrIdleTimeout = errors.New("session idle timeout")
	// ErrAlreadyAssociated 已经绑定过玩家
	ErrAlreadyAssociated = errors.New("session already associated")
)

// AssociationState 与上层玩家身份的绑定状态
type AssociationState int32

const (
	NotAssociated AssociationState = iota
	Associated
	Done
)

func (s AssociationState) String() string {
	switch s {
	case NotAssociated:
		return "not-associated"
	case Associated:
		return "associated"
	case Done:
		return "done"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// Counters 会话计数的快照
type Counters struct {
	ReadBytes      uint64
	ReadPackets    uint64
	WrittenBytes   uint64
	WrittenPackets uint64
	Dropped        uint64
}

type Session struct {
	id        string
	kind      network.TransportKind
	handle    network.Handle
	queue     *queue.PacketQueue
	framer    *codec.Framer
	createdAt time.Time

	state       atomic.Int32
	owner       atomic.String
	activated   atomic.Bool
	neverDeport atomic.Bool
	// 是否已经在writer的待写队列里
	scheduled atomic.Bool

	readBytes      atomic.Uint64
	readPackets    atomic.Uint64
	writtenBytes   atomic.Uint64
	writtenPackets atomic.Uint64
	dropped        atomic.Uint64

	lastRead     atomic.Int64
	lastWrite    atomic.Int64
	lastActivity atomic.Int64
}

// New framer为nil表示报文式传输，不需要拆包
func New(h network.Handle, q *queue.PacketQueue, framer *codec.Framer, now time.Time) *Session {
	s := &Session{
		id:        uuid.NewString(),
		kind:      h.Kind(),
		handle:    h,
		queue:     q,
		framer:    framer,
		createdAt: now,
	}
	s.activated.Store(true)
	s.lastActivity.Store(now.UnixNano())
	return s
}

func (s *Session) ID() string {
	return s.id
}

func (s *Session) Kind() network.TransportKind {
	return s.kind
}

func (s *Session) Handle() network.Handle {
	return s.handle
}

func (s *Session) Queue() *queue.PacketQueue {
	return s.queue
}

// Framer 只有reader使用
func (s *Session) Framer() *codec.Framer {
	return s.framer
}

func (s *Session) RemoteAddr() net.Addr {
	return s.handle.RemoteAddr()
}

func (s *Session) CreatedAt() time.Time {
	return s.createdAt
}

// Associate 绑定上层的玩家标识
func (s *Session) Associate(owner string) error {
	if !s.Activated() {
		return ErrSessionInactive
	}
	if !s.state.CompareAndSwap(int32(NotAssociated), int32(Associated)) {
		return ErrAlreadyAssociated
	}
	s.owner.Store(owner)
	return nil
}

func (s *Session) Owner() string {
	return s.owner.Load()
}

func (s *Session) State() AssociationState {
	return AssociationState(s.state.Load())
}

func (s *Session) Activated() bool {
	return s.activated.Load()
}

// Deactivate 标记关闭，只有第一次调用返回true
func (s *Session) Deactivate() bool {
	if !s.activated.CompareAndSwap(true, false) {
		return false
	}
	s.state.Store(int32(Done))
	return true
}

func (s *Session) SetNeverDeport(v bool) {
	s.neverDeport.Store(v)
}

func (s *Session) NeverDeport() bool {
	return s.neverDeport.Load()
}

// Enqueue 放入发送队列，被拒绝或被挤掉的包都计入丢弃数
func (s *Session) Enqueue(p *packet.Packet) (evicted []*packet.Packet, err error) {
	if !s.Activated() {
		s.dropped.Inc()
		return nil, ErrSessionInactive
	}
	evicted, err = s.queue.Put(p)
	if n := len(evicted); n > 0 {
		s.dropped.Add(uint64(n))
	}
	if err != nil {
		s.dropped.Inc()
	}
	return
}

// TrySchedule 会话没有在待写队列里时返回true，调用方负责放入
func (s *Session) TrySchedule() bool {
	return s.scheduled.CompareAndSwap(false, true)
}

func (s *Session) Unschedule() {
	s.scheduled.Store(false)
}

func (s *Session) Scheduled() bool {
	return s.scheduled.Load()
}

// OnRead reader每收到一段数据调用一次，packets是其中完整帧的个数
func (s *Session) OnRead(n int, packets int, now time.Time) {
	s.readBytes.Add(uint64(n))
	s.readPackets.Add(uint64(packets))
	ts := now.UnixNano()
	s.lastRead.Store(ts)
	s.lastActivity.Store(ts)
}

// OnWrite writer每次写出n字节调用，packetDone表示一个包已经完整发出
func (s *Session) OnWrite(n int, packetDone bool, now time.Time) {
	s.writtenBytes.Add(uint64(n))
	if packetDone {
		s.writtenPackets.Inc()
	}
	ts := now.UnixNano()
	s.lastWrite.Store(ts)
	s.lastActivity.Store(ts)
}

func (s *Session) AddDropped(n int) {
	if n > 0 {
		s.dropped.Add(uint64(n))
	}
}

func (s *Session) Counters() Counters {
	return Counters{
		ReadBytes:      s.readBytes.Load(),
		ReadPackets:    s.readPackets.Load(),
		WrittenBytes:   s.writtenBytes.Load(),
		WrittenPackets: s.writtenPackets.Load(),
		Dropped:        s.dropped.Load(),
	}
}

func unixNano(ts int64) time.Time {
	if ts == 0 {
		return time.Time{}
	}
	return time.Unix(0, ts)
}

func (s *Session) LastReadTime() time.Time {
	return unixNano(s.lastRead.Load())
}

func (s *Session) LastWriteTime() time.Time {
	return unixNano(s.lastWrite.Load())
}

func (s *Session) LastActivityTime() time.Time {
	return unixNano(s.lastActivity.Load())
}

// IdleFor 距离上次读写过了多久
func (s *Session) IdleFor(now time.Time) time.Duration {
	return now.Sub(s.LastActivityTime())
}

func (s *Session) String() string {
	return fmt.Sprintf("Session{id=%s, kind=%s, remote=%v, owner=%q, state=%s, activated=%v}",
		s.id, s.kind, s.handle.RemoteAddr(), s.Owner(), s.State(), s.Activated())
}
