package session

import (
	"time"

	"github.com/YiuTerran/go-gamenet/base/log"
	"github.com/YiuTerran/go-gamenet/base/structs/syncmap"
	"github.com/YiuTerran/go-gamenet/network"
	"github.com/YiuTerran/go-gamenet/network/codec"
	"github.com/YiuTerran/go-gamenet/network/pool"
	"github.com/YiuTerran/go-gamenet/network/queue"
)

/**  handle -> Session的注册表
  *  一个session只有完整构造以后才会放进map
**/

const DefaultQueueCapacity = 1024

// RemoveHook 会话被移除后调用，reason为nil表示正常关闭
type RemoveHook func(s *Session, reason error)

type Option func(m *Manager)

func WithQueueCapacity(capacity int) Option {
	return func(m *Manager) {
		if capacity > 0 {
			m.queueCapacity = capacity
		}
	}
}

// WithPolicy 所有会话共享的队列策略，策略实现必须无状态
func WithPolicy(policy queue.Policy) Option {
	return func(m *Manager) {
		m.policy = policy
	}
}

// WithFramer 流式传输的会话需要codec拆包
func WithFramer(c *codec.Codec, p *pool.Pool) Option {
	return func(m *Manager) {
		m.codec = c
		m.pool = p
	}
}

func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

func WithRemoveHook(hook RemoveHook) Option {
	return func(m *Manager) {
		m.onRemove = hook
	}
}

type Manager struct {
	byHandle syncmap.Map[network.Handle, *Session]
	byID     syncmap.Map[string, *Session]

	queueCapacity int
	policy        queue.Policy
	codec         *codec.Codec
	pool          *pool.Pool
	now           func() time.Time
	onRemove      RemoveHook
	logger        log.Fields
}

func NewManager(opts ...Option) *Manager {
	m := &Manager{
		queueCapacity: DefaultQueueCapacity,
		policy:        queue.DefaultPolicy{},
		now:           time.Now,
		logger:        log.Fields{}.WithPrefix("session"),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Register 为新句柄创建会话
func (m *Manager) Register(h network.Handle) (*Session, error) {
	if _, ok := m.byHandle.Load(h); ok {
		return nil, ErrDuplicateHandle
	}
	var framer *codec.Framer
	if h.Kind().Streamed() && m.codec != nil {
		framer = codec.NewFramer(m.codec, m.pool)
	}
	s := New(h, queue.New(m.queueCapacity, m.policy), framer, m.now())
	if _, loaded := m.byHandle.LoadOrStore(h, s); loaded {
		return nil, ErrDuplicateHandle
	}
	m.byID.LoadOrStore(s.id, s)
	m.logger.Debug("session %s registered, remote %v", s.id, h.RemoteAddr())
	return s, nil
}

func (m *Manager) Lookup(h network.Handle) (*Session, bool) {
	return m.byHandle.Load(h)
}

func (m *Manager) LookupByID(id string) (*Session, bool) {
	return m.byID.Load(id)
}

// Remove 标记关闭并从注册表移除，队列中未发送的包被丢弃
// 只有真正执行移除的那次调用返回true
func (m *Manager) Remove(s *Session, reason error) bool {
	s.Deactivate()
	if !m.byHandle.CompareAndDelete(s.handle, s) {
		return false
	}
	m.byID.CompareAndDelete(s.id, s)
	s.AddDropped(len(s.queue.Close()))
	if reason != nil {
		m.logger.Info("session %s removed: %v", s.id, reason)
	} else {
		m.logger.Debug("session %s removed", s.id)
	}
	if m.onRemove != nil {
		m.onRemove(s, reason)
	}
	return true
}

// SweepIdle 关闭空闲超时的会话；NeverDeport的会话使用maxIdleNeverDeport
// 上限<=0表示不限制
func (m *Manager) SweepIdle(maxIdle, maxIdleNeverDeport time.Duration) []*Session {
	now := m.now()
	var closed []*Session
	m.byHandle.Range(func(_ network.Handle, s *Session) bool {
		limit := maxIdle
		if s.NeverDeport() {
			limit = maxIdleNeverDeport
		}
		if limit <= 0 || s.IdleFor(now) <= limit {
			return true
		}
		if m.Remove(s, ErrIdleTimeout) {
			closed = append(closed, s)
		}
		return true
	})
	if len(closed) > 0 {
		m.logger.Info("idle sweep closed %d session(s)", len(closed))
	}
	return closed
}

func (m *Manager) Range(f func(s *Session) bool) {
	m.byHandle.Range(func(_ network.Handle, s *Session) bool {
		return f(s)
	})
}

func (m *Manager) Sessions() []*Session {
	return m.byHandle.Values()
}

func (m *Manager) Count() int {
	return m.byHandle.Size()
}

// QueueDepths 每个会话当前的队列长度
func (m *Manager) QueueDepths() map[string]int {
	depths := make(map[string]int, m.Count())
	m.Range(func(s *Session) bool {
		depths[s.id] = s.queue.Len()
		return true
	})
	return depths
}

// Now 注册表使用的时钟
func (m *Manager) Now() time.Time {
	return m.now()
}
