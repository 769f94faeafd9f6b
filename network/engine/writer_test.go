package engine

import (
	"errors"
	"sync"
	"time"

	"github.com/YiuTerran/go-gamenet/base/structs/mock"
	"github.com/YiuTerran/go-gamenet/network"
	"github.com/YiuTerran/go-gamenet/network/codec"
	"github.com/YiuTerran/go-gamenet/network/packet"
	"github.com/YiuTerran/go-gamenet/network/queue"
	"github.com/YiuTerran/go-gamenet/network/session"
	"github.com/YiuTerran/go-gamenet/network/stats"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func encodeAll(c *codec.Codec, payloads ...string) []byte {
	var out []byte
	for _, p := range payloads {
		frame, err := c.Encode([]byte(p), packet.Binary, false, false, false)
		Expect(err).ToNot(HaveOccurred())
		out = append(out, frame...)
	}
	return out
}

var _ = Describe("Writer", func() {
	var (
		c       *codec.Codec
		st      *stats.Stats
		mgr     *session.Manager
		w       *Writer
		reasons *sync.Map
	)

	reasonOf := func(s *session.Session) error {
		Eventually(func() bool {
			_, ok := reasons.Load(s.ID())
			return ok
		}).Should(BeTrue(), "session was not closed by the writer")
		r, _ := reasons.Load(s.ID())
		if r == nil {
			return nil
		}
		return r.(error)
	}

	BeforeEach(func() {
		c = codec.New()
		st = stats.New()
		reasons = &sync.Map{}
		mgr = session.NewManager(
			session.WithQueueCapacity(4),
			session.WithRemoveHook(func(s *session.Session, reason error) {
				_ = s.Handle().Close()
			}),
		)
		w = NewWriter(2, c, st, func(s *session.Session, reason error) {
			if mgr.Remove(s, reason) {
				reasons.Store(s.ID(), reason)
			}
		}, mgr.LookupByID)
		w.retryInterval = 5 * time.Millisecond
	})

	register := func(remote string) (*session.Session, *mock.Handle) {
		h := mock.NewHandle(network.TCP, remote)
		s, err := mgr.Register(h)
		Expect(err).ToNot(HaveOccurred())
		return s, h
	}

	Context("when started", func() {
		BeforeEach(func() {
			w.Start()
		})
		AfterEach(func() {
			Expect(w.Stop(time.Second)).To(BeTrue())
		})

		It("should write packets in submission order", func() {
			s, h := register("10.0.0.1:1")
			for _, p := range []string{"p1", "p2", "p3"} {
				Expect(w.EnqueueTo(s, packet.New([]byte(p)))).To(Succeed())
			}
			Eventually(h.Written).Should(Equal(encodeAll(c, "p1", "p2", "p3")))
			Eventually(func() uint64 { return st.WrittenPackets.Load() }).Should(Equal(uint64(3)))
			Expect(s.Counters().WrittenPackets).To(Equal(uint64(3)))
			Eventually(s.Queue().IsEmpty).Should(BeTrue())
		})

		It("should keep the unsent remainder of a partial write and retry", func() {
			s, h := register("10.0.0.1:1")
			calls := 0
			h.OnWrite(func(b []byte) (int, error) {
				calls++
				if calls == 1 {
					return 2, nil
				}
				return len(b), nil
			})
			payload := string(make([]byte, 100))
			Expect(w.EnqueueTo(s, packet.New([]byte(payload)))).To(Succeed())
			Expect(w.EnqueueTo(s, packet.New([]byte("next")))).To(Succeed())
			Eventually(h.Written).Should(Equal(encodeAll(c, payload, "next")))
			Expect(st.PartialWrites.Load()).To(Equal(uint64(1)))
			Expect(h.Writes()).To(Equal(3))
		})

		It("should close the session after the last packet is flushed", func() {
			s, h := register("10.0.0.1:1")
			p := packet.New([]byte("bye"))
			p.Last = true
			Expect(w.EnqueueTo(s, p)).To(Succeed())
			Eventually(h.Closed).Should(BeTrue())
			Expect(s.Activated()).To(BeFalse())
			frame, _ := c.Encode([]byte("bye"), packet.Binary, false, false, true)
			Expect(h.Written()).To(Equal(frame))
			Expect(reasonOf(s)).To(BeNil())
		})

		It("should tear the session down on write errors", func() {
			s, h := register("10.0.0.1:1")
			broken := errors.New("broken pipe")
			h.OnWrite(func([]byte) (int, error) { return 0, broken })
			Expect(w.EnqueueTo(s, packet.New([]byte("x")))).To(Succeed())
			Eventually(s.Activated).Should(BeFalse())
			Expect(reasonOf(s)).To(MatchError(broken))
			_, ok := mgr.Lookup(h)
			Expect(ok).To(BeFalse())
		})

		It("should drop packets that cannot be encoded", func() {
			s, h := register("10.0.0.1:1")
			bad := packet.New([]byte("secret"))
			bad.Encrypt = true
			Expect(w.EnqueueTo(s, bad)).To(Succeed())
			Expect(w.EnqueueTo(s, packet.New([]byte("plain")))).To(Succeed())
			Eventually(h.Written).Should(Equal(encodeAll(c, "plain")))
			Expect(st.EncodeFailures.Load()).To(Equal(uint64(1)))
			Expect(s.Counters().Dropped).To(Equal(uint64(1)))
			Expect(s.Activated()).To(BeTrue())
		})

		It("should fan a packet out to every recipient", func() {
			s1, h1 := register("10.0.0.1:1")
			s2, h2 := register("10.0.0.2:1")
			Expect(w.Enqueue(packet.New([]byte("broadcast"), s1, s2))).To(Equal(2))
			want := encodeAll(c, "broadcast")
			Eventually(h1.Written).Should(Equal(want))
			Eventually(h2.Written).Should(Equal(want))
		})
	})

	Context("when the queue is full", func() {
		It("should reject exactly the overflowing packet", func() {
			s, _ := register("10.0.0.1:1")
			var rejected []error
			for i := 0; i < 5; i++ {
				if err := w.EnqueueTo(s, packet.New([]byte{byte(i)})); err != nil {
					rejected = append(rejected, err)
				}
			}
			Expect(rejected).To(HaveLen(1))
			Expect(rejected[0]).To(MatchError(queue.ErrQueueFull))
			Expect(s.Queue().Len()).To(Equal(4))
			Expect(st.DroppedByFull.Load()).To(Equal(uint64(1)))
			Expect(s.Counters().Dropped).To(Equal(uint64(1)))
			Expect(w.Pending()).To(Equal(1))
		})

		It("should count inactive sessions separately", func() {
			s, _ := register("10.0.0.1:1")
			mgr.Remove(s, nil)
			Expect(w.EnqueueTo(s, packet.New([]byte("late")))).To(MatchError(session.ErrSessionInactive))
			Expect(st.DroppedInactive.Load()).To(Equal(uint64(1)))
		})
	})
})
