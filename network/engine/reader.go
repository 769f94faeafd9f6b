package engine

import (
	"time"

	"github.com/YiuTerran/go-gamenet/base/log"
	"github.com/YiuTerran/go-gamenet/network/codec"
	"github.com/YiuTerran/go-gamenet/network/session"
	"github.com/YiuTerran/go-gamenet/network/stats"
)

// Request 一条完整的客户端消息
type Request struct {
	Session    *session.Session
	Payload    []byte
	Header     codec.Header
	ReceivedAt time.Time
}

// Handler 应用层入口，会在读协程中同步调用，不要阻塞
type Handler interface {
	HandleRequest(req *Request)
}

type HandlerFunc func(req *Request)

func (f HandlerFunc) HandleRequest(req *Request) {
	f(req)
}

// SessionListener Handler可以选择实现，接收会话的建立和关闭
type SessionListener interface {
	OnSessionOpen(s *session.Session)
	// OnSessionClose reason为nil表示正常关闭
	OnSessionClose(s *session.Session, reason error)
}

type closeFunc func(s *session.Session, reason error)

// Reader 把传输层的原始数据拆成帧、解码后交给Handler
type Reader struct {
	codec   *codec.Codec
	stats   *stats.Stats
	handler Handler
	close   closeFunc
	now     func() time.Time
	logger  log.Fields
}

func NewReader(c *codec.Codec, st *stats.Stats, handler Handler, closer closeFunc, now func() time.Time) *Reader {
	return &Reader{
		codec:   c,
		stats:   st,
		handler: handler,
		close:   closer,
		now:     now,
		logger:  log.Fields{}.WithPrefix("reader"),
	}
}

// OnData b只在调用期间有效
// 流式传输的数据喂给会话的拆包器，报文式传输一个报文就是一帧
func (r *Reader) OnData(s *session.Session, b []byte) {
	if !s.Activated() {
		return
	}
	now := r.now()
	r.stats.ReadBytes.Add(uint64(len(b)))
	var (
		frames int
		err    error
	)
	if f := s.Framer(); f != nil {
		err = f.Feed(b, func(h codec.Header, body []byte) error {
			raw, err := r.codec.Open(h, body)
			if err != nil {
				return err
			}
			frames++
			r.dispatch(s, h, raw, now)
			return nil
		})
	} else {
		var (
			h   codec.Header
			raw []byte
		)
		if h, raw, err = r.codec.Decode(b); err == nil {
			frames++
			r.dispatch(s, h, raw, now)
		}
	}
	s.OnRead(len(b), frames, now)
	r.stats.ReadPackets.Add(uint64(frames))
	if err != nil {
		r.stats.CorruptFrames.Inc()
		r.logger.Warn("session %s sent a bad frame: %v", s.ID(), err)
		r.close(s, err)
	}
}

func (r *Reader) dispatch(s *session.Session, h codec.Header, raw []byte, now time.Time) {
	defer func() {
		if rec := recover(); rec != nil {
			log.PanicStack("handle request", rec)
		}
	}()
	// raw可能引用读缓冲或者池里的缓冲
	payload := make([]byte, len(raw))
	copy(payload, raw)
	r.handler.HandleRequest(&Request{
		Session:    s,
		Payload:    payload,
		Header:     h,
		ReceivedAt: now,
	})
}
