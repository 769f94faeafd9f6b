package queue

import (
	"errors"
	"sync"

	"github.com/YiuTerran/go-gamenet/base/structs/ringbuffer"
	"github.com/YiuTerran/go-gamenet/network/packet"
)

// ErrQueueClosed 会话已经关闭
var ErrQueueClosed = errors.New("packet queue is closed")

// PacketQueue 每个会话一个的有界FIFO发送队列
// 队列锁是生产者和writer之间唯一的互斥边界
type PacketQueue struct {
	mu       sync.Mutex
	notEmpty *sync.Cond
	rb       *ringbuffer.RingBuffer[*packet.Packet]
	policy   Policy
	// 队头被writer占用时不为nil
	inflight *packet.Packet
	closed   bool
}

func New(capacity int, policy Policy) *PacketQueue {
	if policy == nil {
		policy = DefaultPolicy{}
	}
	q := &PacketQueue{
		rb:     ringbuffer.New[*packet.Packet](capacity),
		policy: policy,
	}
	q.notEmpty = sync.NewCond(&q.mu)
	return q
}

// view 只在持锁时使用
type view struct {
	q *PacketQueue
}

func (v view) Len() int { return v.q.rb.Length() }
func (v view) Cap() int { return v.q.rb.Capacity() }

func (v view) At(i int) *packet.Packet {
	p, _ := v.q.rb.At(i)
	return p
}

func (v view) Evict(i int) *packet.Packet {
	p, _ := v.q.rb.RemoveAt(i)
	return p
}

func (v view) Pinned() int {
	if v.q.inflight != nil {
		return 1
	}
	return 0
}

// Put 入队，策略拒绝时返回ErrQueueFull或*PolicyViolationError
// evicted是策略为腾出空间而丢弃的旧包
func (q *PacketQueue) Put(p *packet.Packet) (evicted []*packet.Packet, err error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil, ErrQueueClosed
	}
	evicted, err = q.policy.Admit(view{q}, p)
	if err != nil {
		return evicted, err
	}
	if err = q.rb.WriteItem(p); err != nil {
		return evicted, ErrQueueFull
	}
	q.notEmpty.Signal()
	return evicted, nil
}

// Take 阻塞直到有包或者队列关闭，关闭时返回false
func (q *PacketQueue) Take() (*packet.Packet, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for q.rb.IsEmpty() && !q.closed {
		q.notEmpty.Wait()
	}
	return q.pollLocked()
}

// Poll 非阻塞地取出队头
func (q *PacketQueue) Poll() (*packet.Packet, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.pollLocked()
}

func (q *PacketQueue) pollLocked() (*packet.Packet, bool) {
	p, err := q.rb.ReadItem()
	if err != nil {
		return nil, false
	}
	if p == q.inflight {
		q.inflight = nil
	}
	return p, true
}

// Peek 查看队头但不移除
func (q *PacketQueue) Peek() (*packet.Packet, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	p, err := q.rb.PeekItem()
	return p, err == nil
}

// Claim 取得队头的发送权，直到Complete之前策略都不会移除它
func (q *PacketQueue) Claim() (*packet.Packet, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	p, err := q.rb.PeekItem()
	if err != nil {
		return nil, false
	}
	q.inflight = p
	return p, true
}

// Complete 队头发送完毕（或放弃发送），移除它；p不是队头时只解除占用
func (q *PacketQueue) Complete(p *packet.Packet) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.inflight == p {
		q.inflight = nil
	}
	if head, err := q.rb.PeekItem(); err == nil && head == p {
		_, _ = q.rb.ReadItem()
		return true
	}
	return false
}

func (q *PacketQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.rb.Length()
}

func (q *PacketQueue) Cap() int {
	return q.rb.Capacity()
}

func (q *PacketQueue) IsEmpty() bool {
	return q.Len() == 0
}

func (q *PacketQueue) IsFull() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.rb.IsFull()
}

// PercentageUsed 已用容量百分比
func (q *PacketQueue) PercentageUsed() float64 {
	return float64(q.Len()) * 100 / float64(q.Cap())
}

// Clear 清空并返回被丢弃的包
func (q *PacketQueue) Clear() []*packet.Packet {
	q.mu.Lock()
	defer q.mu.Unlock()
	items := q.rb.Items()
	q.rb.Reset()
	q.inflight = nil
	return items
}

// Close 关闭后Put失败，阻塞在Take上的调用返回；剩余的包被丢弃
func (q *PacketQueue) Close() []*packet.Packet {
	q.mu.Lock()
	q.closed = true
	items := q.rb.Items()
	q.rb.Reset()
	q.inflight = nil
	q.notEmpty.Broadcast()
	q.mu.Unlock()
	return items
}

func (q *PacketQueue) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

// PolicyName 当前使用的策略
func (q *PacketQueue) PolicyName() string {
	return q.policy.Name()
}
