package engine

import (
	"sync"
	"time"

	"github.com/YiuTerran/go-gamenet/base/structs/mock"
	"github.com/YiuTerran/go-gamenet/network"
	"github.com/YiuTerran/go-gamenet/network/codec"
	"github.com/YiuTerran/go-gamenet/network/packet"
	"github.com/YiuTerran/go-gamenet/network/session"
	"github.com/YiuTerran/go-gamenet/network/stats"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

type recorder struct {
	mu       sync.Mutex
	requests []*Request
}

func (r *recorder) HandleRequest(req *Request) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.requests = append(r.requests, req)
}

func (r *recorder) payloads() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.requests))
	for _, req := range r.requests {
		out = append(out, string(req.Payload))
	}
	return out
}

var _ = Describe("Reader", func() {
	var (
		c      *codec.Codec
		st     *stats.Stats
		mgr    *session.Manager
		rec    *recorder
		reader *Reader
	)

	BeforeEach(func() {
		c = codec.New(codec.WithCompressor(codec.Zlib{}), codec.WithCompressionThreshold(16))
		st = stats.New()
		mgr = session.NewManager(session.WithFramer(c, nil))
		rec = &recorder{}
		reader = NewReader(c, st, rec, func(s *session.Session, reason error) {
			mgr.Remove(s, reason)
		}, time.Now)
	})

	It("should dispatch a stream frame only when it is complete", func() {
		s, err := mgr.Register(mock.NewHandle(network.TCP, "10.0.0.1:1"))
		Expect(err).ToNot(HaveOccurred())
		raw := make([]byte, 300)
		for i := range raw {
			raw[i] = byte(i % 7)
		}
		frame, err := c.Encode(raw, packet.Binary, true, false, false)
		Expect(err).ToNot(HaveOccurred())

		for i := range frame {
			reader.OnData(s, frame[i:i+1])
			if i < len(frame)-1 {
				Expect(rec.payloads()).To(BeEmpty())
			}
		}
		Expect(rec.payloads()).To(Equal([]string{string(raw)}))
		Expect(rec.requests[0].Session).To(BeIdenticalTo(s))
		Expect(rec.requests[0].Header.Compressed).To(BeTrue())
		Expect(s.Counters().ReadBytes).To(Equal(uint64(len(frame))))
		Expect(s.Counters().ReadPackets).To(Equal(uint64(1)))
		Expect(st.ReadPackets.Load()).To(Equal(uint64(1)))
	})

	It("should dispatch several frames from one chunk in order", func() {
		s, _ := mgr.Register(mock.NewHandle(network.TCP, "10.0.0.1:1"))
		var chunk []byte
		for _, p := range []string{"a", "bb", "ccc"} {
			frame, _ := c.Encode([]byte(p), packet.Binary, false, false, false)
			chunk = append(chunk, frame...)
		}
		reader.OnData(s, chunk)
		Expect(rec.payloads()).To(Equal([]string{"a", "bb", "ccc"}))
	})

	It("should treat a datagram as exactly one frame", func() {
		s, _ := mgr.Register(mock.NewHandle(network.UDP, "10.0.0.1:1"))
		frame, _ := c.Encode([]byte("ping"), packet.Binary, false, false, false)
		reader.OnData(s, frame)
		Expect(rec.payloads()).To(Equal([]string{"ping"}))

		reader.OnData(s, append(frame, 'x'))
		Expect(s.Activated()).To(BeFalse())
		Expect(st.CorruptFrames.Load()).To(Equal(uint64(1)))
	})

	It("should close the session on a corrupt frame without dispatching", func() {
		h := mock.NewHandle(network.TCP, "10.0.0.1:1")
		s, _ := mgr.Register(h)
		reader.OnData(s, []byte{0x18, 0x00})
		Expect(rec.payloads()).To(BeEmpty())
		Expect(s.Activated()).To(BeFalse())
		_, ok := mgr.Lookup(h)
		Expect(ok).To(BeFalse())
		Expect(st.CorruptFrames.Load()).To(Equal(uint64(1)))

		// 已关闭的会话不再处理
		frame, _ := c.Encode([]byte("late"), packet.Binary, false, false, false)
		reader.OnData(s, frame)
		Expect(rec.payloads()).To(BeEmpty())
	})

	It("should survive a panicking handler", func() {
		s, _ := mgr.Register(mock.NewHandle(network.TCP, "10.0.0.1:1"))
		reader.handler = HandlerFunc(func(*Request) { panic("boom") })
		frame, _ := c.Encode([]byte("x"), packet.Binary, false, false, false)
		Expect(func() { reader.OnData(s, frame) }).ToNot(Panic())
		Expect(s.Activated()).To(BeTrue())
	})
})
