package engine

import (
	"context"
	"net"
	"net/http"
	"runtime"
	"sync"
	"time"

	"github.com/YiuTerran/go-gamenet/base/util/netutil"
	"github.com/YiuTerran/go-gamenet/network"
	"github.com/YiuTerran/go-gamenet/network/client"
	"github.com/YiuTerran/go-gamenet/network/packet"
	"github.com/YiuTerran/go-gamenet/network/session"
	"go.uber.org/atomic"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

// echoHandler 原样回复，并记录会话的建立和关闭
type echoHandler struct {
	svc    *Service
	opened atomic.Int32
	closed atomic.Int32

	mu      sync.Mutex
	reasons []error
}

func (e *echoHandler) HandleRequest(req *Request) {
	_ = e.svc.Reply(req.Session, req.Payload, packet.Binary)
}

func (e *echoHandler) OnSessionOpen(*session.Session) {
	e.opened.Inc()
}

func (e *echoHandler) OnSessionClose(_ *session.Session, reason error) {
	e.closed.Inc()
	e.mu.Lock()
	e.reasons = append(e.reasons, reason)
	e.mu.Unlock()
}

func startService(cfg Config) (*Service, *echoHandler) {
	h := &echoHandler{}
	svc, err := New(cfg, h)
	Expect(err).ToNot(HaveOccurred())
	h.svc = svc
	Expect(svc.Start(context.Background())).To(Succeed())
	DeferCleanup(svc.Stop)
	return svc, h
}

func addrOf(svc *Service, kind network.TransportKind) string {
	addr, ok := svc.Addrs()[kind]
	Expect(ok).To(BeTrue(), "%s not bound", kind)
	return addr.String()
}

func dial(svc *Service, kind network.TransportKind) *client.Client {
	c, err := client.Dial(kind, addrOf(svc, kind), client.WithPath("/game"))
	Expect(err).ToNot(HaveOccurred())
	DeferCleanup(c.Close)
	return c
}

var _ = Describe("Service", func() {
	var cfg Config

	BeforeEach(func() {
		cfg = DefaultConfig()
		cfg.Transports = []TransportConfig{
			{Kind: network.TCP, Address: "127.0.0.1:0"},
			{Kind: network.UDP, Address: "127.0.0.1:0"},
			{Kind: network.WebSocket, Address: "127.0.0.1:0", Path: "/game"},
			{Kind: network.ReliableUDP, Address: "127.0.0.1:0"},
		}
		cfg.IdleScanInterval = 0
		cfg.ShutdownGrace = 2 * time.Second
	})

	DescribeTable("should echo a request",
		func(kind network.TransportKind) {
			svc, h := startService(cfg)
			c := dial(svc, kind)
			frame, err := c.Request([]byte("ping"), packet.Binary)
			Expect(err).ToNot(HaveOccurred())
			Expect(string(frame.Payload)).To(Equal("ping"))
			Expect(h.opened.Load()).To(Equal(int32(1)))
			Expect(svc.Manager().Count()).To(Equal(1))
			snap := svc.Stats()
			Expect(snap.ReadPackets).To(BeNumerically(">=", 1))
			Expect(snap.AcceptedConnects).To(Equal(uint64(1)))
		},
		Entry("over tcp", network.TCP),
		Entry("over udp", network.UDP),
		Entry("over websocket", network.WebSocket),
		Entry("over kcp", network.ReliableUDP),
	)

	It("should keep the order of replies on a stream", func() {
		svc, _ := startService(cfg)
		c := dial(svc, network.TCP)
		for _, p := range []string{"1", "2", "3", "4", "5"} {
			Expect(c.Send([]byte(p), packet.Binary, false, false)).To(Succeed())
		}
		for _, want := range []string{"1", "2", "3", "4", "5"} {
			frame, err := c.Recv()
			Expect(err).ToNot(HaveOccurred())
			Expect(string(frame.Payload)).To(Equal(want))
		}
	})

	It("should reassemble large compressed frames", func() {
		cfg.CompressionThreshold = 64
		svc, _ := startService(cfg)
		c := dial(svc, network.TCP)
		big := make([]byte, 200*1024)
		for i := range big {
			big[i] = byte(i % 13)
		}
		Expect(c.Send(big, packet.Binary, true, false)).To(Succeed())
		frame, err := c.Recv()
		Expect(err).ToNot(HaveOccurred())
		Expect(frame.Payload).To(Equal(big))
	})

	It("should broadcast to sessions of different transports", func() {
		svc, h := startService(cfg)
		tcpClient := dial(svc, network.TCP)
		wsClient := dial(svc, network.WebSocket)
		_, err := tcpClient.Request([]byte("hi"), packet.Binary)
		Expect(err).ToNot(HaveOccurred())
		_, err = wsClient.Request([]byte("hi"), packet.Binary)
		Expect(err).ToNot(HaveOccurred())
		Expect(h.opened.Load()).To(Equal(int32(2)))

		n, err := svc.Write(Response{
			Payload:    []byte("news"),
			DataType:   packet.Binary,
			Recipients: svc.Manager().Sessions(),
		})
		Expect(err).ToNot(HaveOccurred())
		Expect(n).To(Equal(2))
		for _, c := range []*client.Client{tcpClient, wsClient} {
			frame, err := c.Recv()
			Expect(err).ToNot(HaveOccurred())
			Expect(string(frame.Payload)).To(Equal("news"))
		}

		_, err = svc.Write(Response{Payload: []byte("x")})
		Expect(err).To(MatchError(ErrNoRecipients))
	})

	It("should close the session after the last response", func() {
		svc, h := startService(cfg)
		c := dial(svc, network.TCP)
		_, err := c.Request([]byte("hi"), packet.Binary)
		Expect(err).ToNot(HaveOccurred())

		_, err = svc.Write(Response{
			Payload:    []byte("bye"),
			DataType:   packet.Binary,
			Recipients: svc.Manager().Sessions(),
			Last:       true,
		})
		Expect(err).ToNot(HaveOccurred())
		frame, err := c.Recv()
		Expect(err).ToNot(HaveOccurred())
		Expect(string(frame.Payload)).To(Equal("bye"))
		Expect(frame.Header.Last).To(BeTrue())
		Eventually(svc.Manager().Count).Should(BeZero())
		Eventually(h.closed.Load).Should(Equal(int32(1)))
	})

	It("should close a session that sends a corrupt frame", func() {
		svc, h := startService(cfg)
		c := dial(svc, network.TCP)
		_, err := c.Request([]byte("hi"), packet.Binary)
		Expect(err).ToNot(HaveOccurred())
		Expect(c.SendRaw([]byte{0xff})).To(Succeed())
		_, err = c.Recv()
		Expect(err).To(HaveOccurred())
		Eventually(func() uint64 { return svc.Stats().CorruptFrames }).Should(Equal(uint64(1)))
		Eventually(h.closed.Load).Should(Equal(int32(1)))
	})

	It("should refuse connections over the per address limit", func() {
		cfg.MaxConnectionsPerAddress = 1
		svc, _ := startService(cfg)
		first := dial(svc, network.TCP)
		_, err := first.Request([]byte("hi"), packet.Binary)
		Expect(err).ToNot(HaveOccurred())

		second := dial(svc, network.TCP)
		_, err = second.Request([]byte("hi"), packet.Binary)
		Expect(err).To(HaveOccurred())
		Eventually(func() uint64 { return svc.Stats().RefusedConnects }).Should(Equal(uint64(1)))
		Expect(svc.Manager().Count()).To(Equal(1))
		Expect(svc.Filter().Count("127.0.0.1")).To(Equal(1))

		Expect(first.Close()).To(Succeed())
		Eventually(svc.Manager().Count).Should(BeZero())
		Eventually(func() int { return svc.Filter().Count("127.0.0.1") }).Should(BeZero())
		third := dial(svc, network.TCP)
		_, err = third.Request([]byte("hi"), packet.Binary)
		Expect(err).ToNot(HaveOccurred())
	})

	It("should accept concurrent connections from different addresses", func() {
		if runtime.GOOS != "linux" {
			Skip("needs the whole 127.0.0.0/8 on loopback")
		}
		cfg.MaxConnectionsPerAddress = 1
		cfg.AcceptorWorkers = 4
		svc, _ := startService(cfg)
		addr := addrOf(svc, network.TCP)

		var wg sync.WaitGroup
		conns := make(chan net.Conn, 6)
		for _, ip := range []string{"127.0.0.2", "127.0.0.3", "127.0.0.4", "127.0.0.5", "127.0.0.6", "127.0.0.6"} {
			ip := ip
			wg.Add(1)
			go func() {
				defer GinkgoRecover()
				defer wg.Done()
				d := net.Dialer{LocalAddr: &net.TCPAddr{IP: net.ParseIP(ip)}, Timeout: time.Second}
				conn, err := d.Dial("tcp", addr)
				Expect(err).ToNot(HaveOccurred())
				conns <- conn
			}()
		}
		wg.Wait()
		close(conns)
		for conn := range conns {
			DeferCleanup(conn.Close)
		}
		Eventually(func() uint64 { return svc.Stats().RefusedConnects }).Should(Equal(uint64(1)))
		Eventually(svc.Manager().Count).Should(Equal(5))
		Expect(svc.Stats().AcceptedConnects).To(Equal(uint64(5)))
	})

	It("should refuse banned addresses", func() {
		svc, _ := startService(cfg)
		Expect(svc.Filter().Ban("127.0.0.1")).To(Succeed())
		c := dial(svc, network.TCP)
		_, err := c.Request([]byte("hi"), packet.Binary)
		Expect(err).To(HaveOccurred())
		Eventually(func() uint64 { return svc.Stats().RefusedConnects }).Should(Equal(uint64(1)))
		Expect(svc.Manager().Count()).To(BeZero())
	})

	It("should ignore forwarded headers from untrusted peers", func() {
		cfg.MaxConnectionsPerAddress = 1
		svc, _ := startService(cfg)
		Expect(svc.Filter().Ban("127.0.0.1")).To(Succeed())
		c, err := client.Dial(network.WebSocket, addrOf(svc, network.WebSocket), client.WithPath("/game"),
			client.WithHeader(http.Header{"X-Forwarded-For": {"8.8.8.1"}, "X-Real-IP": {"8.8.8.2"}}))
		Expect(err).ToNot(HaveOccurred())
		DeferCleanup(c.Close)
		_, err = c.Request([]byte("hi"), packet.Binary)
		Expect(err).To(HaveOccurred())
		Eventually(func() uint64 { return svc.Stats().RefusedConnects }).Should(Equal(uint64(1)))
		Expect(svc.Manager().Count()).To(BeZero())
		Expect(svc.Filter().Count("8.8.8.1")).To(BeZero())
	})

	It("should use forwarded headers from trusted proxies", func() {
		proxies, err := netutil.ParseTrustedProxies([]string{"127.0.0.1"})
		Expect(err).ToNot(HaveOccurred())
		cfg.Transports = []TransportConfig{
			{Kind: network.WebSocket, Address: "127.0.0.1:0", Path: "/game", TrustedProxies: proxies},
		}
		svc, _ := startService(cfg)
		Expect(svc.Filter().Ban("127.0.0.1")).To(Succeed())
		c, err := client.Dial(network.WebSocket, addrOf(svc, network.WebSocket), client.WithPath("/game"),
			client.WithHeader(http.Header{"X-Forwarded-For": {"8.8.8.1"}}))
		Expect(err).ToNot(HaveOccurred())
		DeferCleanup(c.Close)
		frame, err := c.Request([]byte("hi"), packet.Binary)
		Expect(err).ToNot(HaveOccurred())
		Expect(string(frame.Payload)).To(Equal("hi"))
		Expect(svc.Filter().Count("8.8.8.1")).To(Equal(1))
		sessions := svc.Manager().Sessions()
		Expect(sessions).To(HaveLen(1))
		Expect(netutil.HostOf(sessions[0].RemoteAddr())).To(Equal("8.8.8.1"))
	})

	It("should keep serving other sessions while one peer stops reading", func() {
		cfg.WriteTimeout = 0
		cfg.WriterWorkers = 1
		cfg.Transports = []TransportConfig{{Kind: network.TCP, Address: "127.0.0.1:0"}}
		svc, _ := startService(cfg)
		Expect(svc.cfg.WriteTimeout).To(Equal(DefaultWriteTimeout))

		stalled, err := net.Dial("tcp", addrOf(svc, network.TCP))
		Expect(err).ToNot(HaveOccurred())
		DeferCleanup(stalled.Close)
		var target *session.Session
		Eventually(func() bool {
			for _, sess := range svc.Manager().Sessions() {
				if sess.RemoteAddr().String() == stalled.LocalAddr().String() {
					target = sess
					return true
				}
			}
			return false
		}).Should(BeTrue())

		big := make([]byte, 900*1024)
		for i := 0; i < 40; i++ {
			_, _ = svc.Write(Response{Payload: big, Recipients: []*session.Session{target}})
		}
		live := dial(svc, network.TCP)
		frame, err := live.Request([]byte("still here"), packet.Binary)
		Expect(err).ToNot(HaveOccurred())
		Expect(string(frame.Payload)).To(Equal("still here"))
	})

	It("should sweep idle sessions", func() {
		cfg.MaxIdle = 100 * time.Millisecond
		cfg.IdleScanInterval = 20 * time.Millisecond
		svc, h := startService(cfg)
		c := dial(svc, network.TCP)
		_, err := c.Request([]byte("hi"), packet.Binary)
		Expect(err).ToNot(HaveOccurred())
		Eventually(svc.Manager().Count).Should(BeZero())
		Eventually(h.closed.Load).Should(Equal(int32(1)))
		h.mu.Lock()
		Expect(h.reasons[0]).To(MatchError(session.ErrIdleTimeout))
		h.mu.Unlock()
		_, err = c.Recv()
		Expect(err).To(HaveOccurred())
	})

	It("should close every session on stop", func() {
		h := &echoHandler{}
		svc, err := New(cfg, h)
		Expect(err).ToNot(HaveOccurred())
		h.svc = svc
		ctx, cancel := context.WithCancel(context.Background())
		Expect(svc.Start(ctx)).To(Succeed())

		c, err := client.Dial(network.TCP, addrOf(svc, network.TCP))
		Expect(err).ToNot(HaveOccurred())
		defer c.Close()
		_, err = c.Request([]byte("hi"), packet.Binary)
		Expect(err).ToNot(HaveOccurred())

		cancel()
		Eventually(svc.Manager().Count).Should(BeZero())
		Eventually(h.closed.Load).Should(Equal(int32(1)))
		_, err = c.Recv()
		Expect(err).To(HaveOccurred())
	})

	It("should fail to start without any bound transport", func() {
		l, err := net.Listen("tcp", "127.0.0.1:0")
		Expect(err).ToNot(HaveOccurred())
		defer l.Close()
		cfg.Transports = []TransportConfig{{Kind: network.TCP, Address: l.Addr().String()}}
		svc, err := New(cfg, &echoHandler{})
		Expect(err).ToNot(HaveOccurred())
		Expect(svc.Start(context.Background())).To(MatchError(ErrNoListener))
	})

	It("should reject unknown transports", func() {
		cfg.Transports = []TransportConfig{{Kind: network.TransportKind(42), Address: ":0"}}
		_, err := New(cfg, &echoHandler{})
		Expect(err).To(HaveOccurred())
	})
})
