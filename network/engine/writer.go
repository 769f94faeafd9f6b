package engine

import (
	"errors"
	"sync"
	"time"

	"github.com/YiuTerran/go-gamenet/base/log"
	"github.com/YiuTerran/go-gamenet/base/structs/wg"
	"github.com/YiuTerran/go-gamenet/network/codec"
	"github.com/YiuTerran/go-gamenet/network/packet"
	"github.com/YiuTerran/go-gamenet/network/queue"
	"github.com/YiuTerran/go-gamenet/network/session"
	"github.com/YiuTerran/go-gamenet/network/stats"
	eaqueue "github.com/eapache/queue"
)

/**  writer：会话有数据要写时把会话放进待写队列（ticket），worker逐个取出写
  *  一个会话同时最多只有一个ticket，所以同一时刻只有一个worker在写它的队头
**/

// 每个ticket最多连续写的包数，写完还有剩余就重新排队，避免一个会话占住worker
const packetsPerTicket = 16

type lookupFunc func(id string) (*session.Session, bool)

type Writer struct {
	mu      sync.Mutex
	cond    *sync.Cond
	tickets *eaqueue.Queue
	closed  bool

	workers       int
	codec         *codec.Codec
	stats         *stats.Stats
	close         closeFunc
	lookup        lookupFunc
	now           func() time.Time
	retryInterval time.Duration
	// maxChunk 流式连接单次写入的最大字节数，<=0不限制
	maxChunk int
	wg       *wg.WaitGroup
	logger   log.Fields
}

func NewWriter(workers int, c *codec.Codec, st *stats.Stats, closer closeFunc, lookup lookupFunc) *Writer {
	w := &Writer{
		tickets:       eaqueue.New(),
		workers:       workers,
		codec:         c,
		stats:         st,
		close:         closer,
		lookup:        lookup,
		now:           time.Now,
		retryInterval: DefaultWriteRetryInterval,
		wg:            wg.NewWaitGroup("writer"),
		logger:        log.Fields{}.WithPrefix("writer"),
	}
	w.cond = sync.NewCond(&w.mu)
	return w
}

func (w *Writer) Start() {
	w.mu.Lock()
	w.closed = false
	w.tickets = eaqueue.New()
	w.mu.Unlock()
	for i := 0; i < w.workers; i++ {
		w.wg.Go(w.loop)
	}
}

// Stop 唤醒所有worker并等待退出；待写队列中剩余的会话不再处理
func (w *Writer) Stop(grace time.Duration) bool {
	w.mu.Lock()
	w.closed = true
	w.cond.Broadcast()
	w.mu.Unlock()
	return w.wg.WaitTimeout(grace)
}

// Pending 待写的会话数
func (w *Writer) Pending() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.tickets.Length()
}

// Enqueue 按接收者复制后放入各自的发送队列
// 返回成功入队的接收者数
func (w *Writer) Enqueue(p *packet.Packet) int {
	recipients := p.Recipients
	copies := p.Fork()
	accepted := 0
	for i, r := range recipients {
		s, ok := r.(*session.Session)
		if !ok {
			if s, ok = w.lookup(r.ID()); !ok {
				w.stats.DroppedInactive.Inc()
				continue
			}
		}
		if w.EnqueueTo(s, copies[i]) == nil {
			accepted++
		}
	}
	return accepted
}

// EnqueueTo 放入一个会话的发送队列，并在需要时安排写
func (w *Writer) EnqueueTo(s *session.Session, p *packet.Packet) error {
	evicted, err := s.Enqueue(p)
	if n := len(evicted); n > 0 {
		w.stats.DroppedByPolicy.Add(uint64(n))
	}
	if err != nil {
		var pv *queue.PolicyViolationError
		switch {
		case errors.Is(err, queue.ErrQueueFull):
			w.stats.DroppedByFull.Inc()
		case errors.As(err, &pv):
			w.stats.DroppedByPolicy.Inc()
		default:
			w.stats.DroppedInactive.Inc()
		}
		w.logger.Debug("drop packet for session %s: %v", s.ID(), err)
		return err
	}
	if s.TrySchedule() {
		w.push(s)
	}
	return nil
}

func (w *Writer) push(s *session.Session) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	w.tickets.Add(s)
	w.cond.Signal()
}

func (w *Writer) take() (*session.Session, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for w.tickets.Length() == 0 && !w.closed {
		w.cond.Wait()
	}
	if w.closed {
		return nil, false
	}
	return w.tickets.Remove().(*session.Session), true
}

func (w *Writer) loop() {
	for {
		s, ok := w.take()
		if !ok {
			return
		}
		w.process(s)
	}
}

// release 放弃ticket；放弃之后如果又有新包进来，重新排队
func (w *Writer) release(s *session.Session) {
	s.Unschedule()
	if s.Activated() && !s.Queue().IsEmpty() && s.TrySchedule() {
		w.push(s)
	}
}

func (w *Writer) process(s *session.Session) {
	defer func() {
		if r := recover(); r != nil {
			log.PanicStack("writer", r)
			w.close(s, errors.New("writer panic"))
		}
	}()
	if !s.Activated() {
		s.Unschedule()
		return
	}
	q := s.Queue()
	for i := 0; i < packetsPerTicket; i++ {
		p, ok := q.Claim()
		if !ok {
			w.release(s)
			return
		}
		if p.Frame() == nil {
			frame, err := w.codec.EncodePacket(p)
			if err != nil {
				w.stats.EncodeFailures.Inc()
				s.AddDropped(1)
				q.Complete(p)
				w.logger.Error("fail to encode packet for session %s: %v", s.ID(), err)
				continue
			}
			p.SetFrame(frame)
		}
		chunk := p.Remaining()
		if w.maxChunk > 0 && len(chunk) > w.maxChunk && s.Kind().Streamed() {
			chunk = chunk[:w.maxChunk]
		}
		n, err := s.Handle().Write(chunk)
		if n > 0 {
			w.stats.WrittenBytes.Add(uint64(n))
		}
		if err != nil {
			w.close(s, err)
			return
		}
		done := p.Advance(n)
		s.OnWrite(n, done, w.now())
		if !done {
			// 写缓冲满了，保留剩余部分，稍后重试；ticket一直由这个会话持有
			if n < len(chunk) {
				w.stats.PartialWrites.Inc()
				time.AfterFunc(w.retryInterval, func() {
					w.push(s)
				})
				return
			}
			i--
			continue
		}
		q.Complete(p)
		w.stats.WrittenPackets.Inc()
		if p.Last {
			w.close(s, nil)
			return
		}
	}
	// 还有数据，让出worker
	w.push(s)
}
