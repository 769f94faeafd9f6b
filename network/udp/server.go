package udp

import (
	"context"
	"errors"
	"net"

	"github.com/YiuTerran/go-gamenet/base/log"
	"github.com/YiuTerran/go-gamenet/base/structs/syncmap"
	"github.com/YiuTerran/go-gamenet/base/structs/wg"
	"github.com/YiuTerran/go-gamenet/base/util/netutil"
	"github.com/YiuTerran/go-gamenet/network"
	"go.uber.org/atomic"
	"golang.org/x/net/ipv4"
)

type Options struct {
	// Readers 同时读socket的协程数
	Readers int
	// BatchSize 一次ReadBatch读取的最大报文数
	BatchSize int
	// ReadBufferSize 单个报文的最大长度
	ReadBufferSize int
	// SocketBufferSize 内核收发缓冲区，<=0表示使用系统默认值
	SocketBufferSize int
}

// Server 一个UDP端口，每个对端地址第一次发来数据时视为一个新连接
type Server struct {
	addr string
	opts Options

	conn   *net.UDPConn
	pc     *ipv4.PacketConn
	peers  syncmap.Map[string, *Peer]
	wg     *wg.WaitGroup
	closed atomic.Bool
	logger log.Fields
}

func NewServer(addr string, opts Options) *Server {
	if opts.Readers <= 0 {
		opts.Readers = DefaultReaders
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if opts.ReadBufferSize <= 0 || opts.ReadBufferSize > MaxPacketSize {
		opts.ReadBufferSize = MaxPacketSize
	}
	return &Server{
		addr:   addr,
		opts:   opts,
		wg:     wg.NewWaitGroup("udp-readers"),
		logger: log.Fields{}.WithPrefix("udp"),
	}
}

func (server *Server) Kind() network.TransportKind {
	return network.UDP
}

func (server *Server) Bind() error {
	lc := net.ListenConfig{Control: netutil.ReuseAddrControl}
	pc, err := lc.ListenPacket(context.Background(), "udp", server.addr)
	if err != nil {
		return err
	}
	server.conn = pc.(*net.UDPConn)
	if size := server.opts.SocketBufferSize; size > 0 {
		_ = server.conn.SetReadBuffer(size)
		_ = server.conn.SetWriteBuffer(size)
	}
	server.pc = ipv4.NewPacketConn(server.conn)
	server.logger.Info("listening on %v", server.conn.LocalAddr())
	return nil
}

func (server *Server) Addr() net.Addr {
	if server.conn == nil {
		return nil
	}
	return server.conn.LocalAddr()
}

// Serve 阻塞直到Close，返回前对所有对端回调OnClose
func (server *Server) Serve(events network.Events) error {
	if server.conn == nil {
		return ErrNotBound
	}
	for i := 0; i < server.opts.Readers; i++ {
		server.wg.Go(func() {
			server.readLoop(events)
		})
	}
	server.wg.Wait()
	server.peers.Range(func(key string, p *Peer) bool {
		if server.peers.CompareAndDelete(key, p) {
			p.closed.Store(true)
			events.OnClose(p, nil)
		}
		return true
	})
	return nil
}

func (server *Server) readLoop(events network.Events) {
	defer func() {
		if r := recover(); r != nil {
			log.PanicStack("udp read loop", r)
		}
	}()
	msgs := make([]ipv4.Message, server.opts.BatchSize)
	for i := range msgs {
		msgs[i].Buffers = [][]byte{make([]byte, server.opts.ReadBufferSize)}
	}
	for {
		n, err := server.pc.ReadBatch(msgs, 0)
		if err != nil {
			if server.closed.Load() || errors.Is(err, net.ErrClosed) {
				return
			}
			server.logger.Error("fail to read udp msg:%v", err)
			continue
		}
		for i := 0; i < n; i++ {
			msg := &msgs[i]
			if msg.Addr == nil {
				continue
			}
			p, ok := server.peer(msg.Addr, events)
			if !ok {
				continue
			}
			events.OnData(p, msg.Buffers[0][:msg.N])
		}
	}
}

// peer 找到或创建对端，新对端被拒绝时返回false
// 其他读协程在OnOpen完成之前拿到同一个对端时会等待，保证数据不早于会话到达
func (server *Server) peer(addr net.Addr, events network.Events) (*Peer, bool) {
	key := addr.String()
	if p, ok := server.peers.Load(key); ok {
		return p.wait()
	}
	p := &Peer{server: server, addr: addr, key: key, ready: make(chan struct{})}
	if actual, loaded := server.peers.LoadOrStore(key, p); loaded {
		return actual.wait()
	}
	if err := events.OnOpen(p); err != nil {
		server.logger.Debug("refuse %v: %v", addr, err)
		p.refused.Store(true)
		server.peers.CompareAndDelete(key, p)
		close(p.ready)
		return nil, false
	}
	close(p.ready)
	return p, true
}

// Peers 当前对端数
func (server *Server) Peers() int {
	return server.peers.Size()
}

func (server *Server) Close() error {
	if !server.closed.CompareAndSwap(false, true) {
		return nil
	}
	if server.conn == nil {
		return nil
	}
	return server.conn.Close()
}

// Peer 一个UDP对端的写句柄，关闭只是把它从对端表中移除
type Peer struct {
	server *Server
	addr   net.Addr
	key    string
	closed atomic.Bool
	// OnOpen返回后关闭
	ready   chan struct{}
	refused atomic.Bool
}

func (p *Peer) wait() (*Peer, bool) {
	<-p.ready
	if p.refused.Load() {
		return nil, false
	}
	return p, true
}

func (p *Peer) Kind() network.TransportKind {
	return network.UDP
}

// Write 一次写一个完整报文
func (p *Peer) Write(b []byte) (int, error) {
	if p.closed.Load() {
		return 0, net.ErrClosed
	}
	return p.server.conn.WriteTo(b, p.addr)
}

func (p *Peer) LocalAddr() net.Addr {
	return p.server.conn.LocalAddr()
}

func (p *Peer) RemoteAddr() net.Addr {
	return p.addr
}

func (p *Peer) Close() error {
	if p.closed.CompareAndSwap(false, true) {
		p.server.peers.CompareAndDelete(p.key, p)
	}
	return nil
}
