package tcp

import (
	"context"
	"errors"
	"io"
	"net"
	"time"

	"github.com/YiuTerran/go-gamenet/base/log"
	"github.com/YiuTerran/go-gamenet/base/structs/set"
	"github.com/YiuTerran/go-gamenet/base/structs/wg"
	"github.com/YiuTerran/go-gamenet/base/util/netutil"
	"github.com/YiuTerran/go-gamenet/network"
	"github.com/YiuTerran/go-gamenet/network/pool"
	"go.uber.org/atomic"
)

const (
	DefaultReadBufferSize = 4096
	DefaultAcceptWorkers  = 1
)

// ListenFunc 创建底层监听器，kcp用它复用同一套accept/read逻辑
type ListenFunc func(addr string) (net.Listener, error)

type Options struct {
	// AcceptWorkers 同时调用Accept的协程数
	AcceptWorkers  int
	ReadBufferSize int
	// SocketBufferSize 内核收发缓冲区，<=0表示使用系统默认值
	SocketBufferSize int
	WriteTimeout     time.Duration
	Pool             *pool.Pool
	// OnConn 新连接建立后对底层连接做额外设置
	OnConn func(net.Conn)
}

// Server 流式传输的监听器
type Server struct {
	kind   network.TransportKind
	addr   string
	opts   Options
	listen ListenFunc

	ln      net.Listener
	conns   *set.Set[*Conn]
	wgLn    *wg.WaitGroup
	wgConns *wg.WaitGroup
	closed  atomic.Bool
	logger  log.Fields
}

// NewServer tcp监听器
func NewServer(addr string, opts Options) *Server {
	return NewStreamServer(network.TCP, addr, listenTCP, opts)
}

func NewStreamServer(kind network.TransportKind, addr string, listen ListenFunc, opts Options) *Server {
	if opts.AcceptWorkers <= 0 {
		opts.AcceptWorkers = DefaultAcceptWorkers
	}
	if opts.ReadBufferSize <= 0 {
		opts.ReadBufferSize = DefaultReadBufferSize
	}
	if opts.Pool == nil {
		opts.Pool = pool.New(0, 0)
	}
	return &Server{
		kind:    kind,
		addr:    addr,
		opts:    opts,
		listen:  listen,
		conns:   set.NewSet[*Conn](),
		wgLn:    wg.NewWaitGroup(kind.String() + "-accept"),
		wgConns: wg.NewWaitGroup(kind.String() + "-conns"),
		logger:  log.Fields{}.WithPrefix(kind.String()),
	}
}

func listenTCP(addr string) (net.Listener, error) {
	lc := net.ListenConfig{Control: netutil.ReuseAddrControl}
	return lc.Listen(context.Background(), "tcp", addr)
}

func (server *Server) Kind() network.TransportKind {
	return server.kind
}

func (server *Server) Bind() error {
	ln, err := server.listen(server.addr)
	if err != nil {
		return err
	}
	server.ln = ln
	server.logger.Info("listening on %v", ln.Addr())
	return nil
}

func (server *Server) Addr() net.Addr {
	if server.ln == nil {
		return nil
	}
	return server.ln.Addr()
}

// Serve 阻塞直到Close，返回前所有连接都已经关闭并退出读循环
func (server *Server) Serve(events network.Events) error {
	if server.ln == nil {
		return errors.New("listener not bound")
	}
	for i := 0; i < server.opts.AcceptWorkers; i++ {
		server.wgLn.Go(func() {
			server.acceptLoop(events)
		})
	}
	server.wgLn.Wait()

	server.conns.ForEach(func(c *Conn) {
		_ = c.Close()
	})
	server.wgConns.Wait()
	return nil
}

func (server *Server) acceptLoop(events network.Events) {
	defer func() {
		if r := recover(); r != nil {
			log.PanicStack("accept loop", r)
		}
	}()
	var tempDelay time.Duration
	for {
		conn, err := server.ln.Accept()
		if err != nil {
			if server.closed.Load() || errors.Is(err, net.ErrClosed) {
				return
			}
			if tempDelay == 0 {
				tempDelay = 5 * time.Millisecond
			} else {
				tempDelay *= 2
			}
			if max := 1 * time.Second; tempDelay > max {
				tempDelay = max
			}
			server.logger.Info("accept error: %v; retrying in %v", err, tempDelay)
			time.Sleep(tempDelay)
			continue
		}
		tempDelay = 0
		server.setup(conn)

		c := NewConn(conn, server.kind, server.opts.WriteTimeout)
		if err = events.OnOpen(c); err != nil {
			server.logger.Debug("refuse %v: %v", conn.RemoteAddr(), err)
			_ = c.CloseRead()
			_ = c.CloseWrite()
			_ = c.Close()
			continue
		}
		server.conns.AddItem(c)
		server.wgConns.Go(func() {
			err := ReadLoop(c, c, events, server.opts.Pool, server.opts.ReadBufferSize)
			server.conns.RemoveItem(c)
			_ = c.Close()
			events.OnClose(c, err)
		})
	}
}

func (server *Server) setup(conn net.Conn) {
	if tc, ok := conn.(*net.TCPConn); ok {
		_ = tc.SetNoDelay(true)
		if size := server.opts.SocketBufferSize; size > 0 {
			_ = tc.SetReadBuffer(size)
			_ = tc.SetWriteBuffer(size)
		}
	}
	if server.opts.OnConn != nil {
		server.opts.OnConn(conn)
	}
}

func (server *Server) Close() error {
	if !server.closed.CompareAndSwap(false, true) {
		return nil
	}
	if server.ln == nil {
		return nil
	}
	return server.ln.Close()
}

// ReadLoop 把r读到的数据交给events，直到出错；正常EOF返回nil
func ReadLoop(h network.Handle, r io.Reader, events network.Events, bufPool *pool.Pool, size int) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			log.PanicStack("read loop", rec)
			err = errors.New("read loop panic")
		}
	}()
	buf := bufPool.Get(size)
	defer bufPool.Put(buf)
	buf = buf[:cap(buf)]
	for {
		n, rerr := r.Read(buf)
		if n > 0 {
			events.OnData(h, buf[:n])
		}
		if rerr != nil {
			if errors.Is(rerr, io.EOF) {
				return nil
			}
			if errors.Is(rerr, net.ErrClosed) {
				return nil
			}
			return rerr
		}
		if n == 0 {
			return nil
		}
	}
}
