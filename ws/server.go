package ws

import (
	"context"
	"crypto/tls"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/YiuTerran/go-gamenet/base/log"
	"github.com/YiuTerran/go-gamenet/base/structs/set"
	"github.com/YiuTerran/go-gamenet/base/structs/wg"
	"github.com/YiuTerran/go-gamenet/base/util/netutil"
	"github.com/YiuTerran/go-gamenet/network"
	"github.com/gorilla/websocket"
	"go.uber.org/atomic"
)

/**
  *  @author tryao
  *  @date 2022/03/22 11:32
**/

const (
	DefaultMaxMsgLen   = 1024000
	DefaultHTTPTimeout = 10 * time.Second
	DefaultPath        = "/"
)

// Server 是websocket服务端
type Server struct {
	Address     string
	Path        string
	MaxMsgLen   uint32
	HTTPTimeout time.Duration
	// WriteTimeout 单条消息的写超时
	WriteTimeout time.Duration
	//证书路径
	CertFile string
	//密钥路径
	KeyFile    string
	TextFormat bool //纯文本还是二进制
	// TrustedProxies 只有来自这些地址的连接才使用X-Forwarded-For取客户端地址
	TrustedProxies []*net.IPNet

	ln         net.Listener
	mu         sync.Mutex
	httpServer *http.Server
	handler    *handlerDTO
	closed     atomic.Bool
	logger     log.Fields
}

type handlerDTO struct {
	textFormat   bool
	trusted      []*net.IPNet
	maxMsgLen    uint32
	writeTimeout time.Duration
	events       network.Events
	upgrader     websocket.Upgrader
	conns        *set.Set[*Conn]
	wg           *wg.WaitGroup
	closed       *atomic.Bool
	logger       log.Fields
}

type Option func(*Server)

func NewServer(addr string, options ...Option) *Server {
	server := &Server{
		Address:     addr,
		Path:        DefaultPath,
		MaxMsgLen:   DefaultMaxMsgLen,
		HTTPTimeout: DefaultHTTPTimeout,
		TextFormat:  false,
		logger:      log.Fields{}.WithPrefix("websocket"),
	}
	for _, option := range options {
		option(server)
	}
	return server
}

func WithPath(path string) Option {
	return func(server *Server) {
		if path != "" {
			server.Path = path
		}
	}
}

func WithMaxMsgLen(num uint32) Option {
	return func(server *Server) {
		server.MaxMsgLen = num
	}
}

func WithWriteTimeout(duration time.Duration) Option {
	return func(server *Server) {
		server.WriteTimeout = duration
	}
}

func WithHttpsCert(cert, key string) Option {
	return func(server *Server) {
		server.CertFile = cert
		server.KeyFile = key
	}
}

func WithTrustedProxies(nets []*net.IPNet) Option {
	return func(server *Server) {
		server.TrustedProxies = nets
	}
}

func WithTextFormat(usingText bool) Option {
	return func(server *Server) {
		server.TextFormat = usingText
	}
}

func (handler *handlerDTO) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if handler.closed.Load() {
		http.Error(w, "Service unavailable", http.StatusServiceUnavailable)
		return
	}
	conn, err := handler.upgrader.Upgrade(w, r, nil)
	if err != nil {
		handler.logger.Debug("upgrade error: %v", err)
		return
	}
	conn.SetReadLimit(int64(handler.maxMsgLen))

	handler.wg.Add(1)
	defer handler.wg.Done()

	wsConn := newWSConn(conn, handler.textFormat, handler.writeTimeout)
	wsConn.remoteOriginIP = netutil.RealIP(r, handler.trusted)
	if err = handler.events.OnOpen(wsConn); err != nil {
		handler.logger.Debug("refuse %v: %v", wsConn.RemoteAddr(), err)
		_ = wsConn.Destroy()
		return
	}
	handler.conns.AddItem(wsConn)
	if handler.closed.Load() {
		_ = wsConn.Close()
	}
	err = handler.readLoop(wsConn)

	// cleanup
	_ = wsConn.Close()
	handler.conns.RemoveItem(wsConn)
	handler.events.OnClose(wsConn, err)
}

func (handler *handlerDTO) readLoop(wsConn *Conn) (err error) {
	defer func() {
		if r := recover(); r != nil {
			log.PanicStack("websocket read loop", r)
			err = errors.New("websocket read loop panic")
		}
	}()
	for {
		b, err := wsConn.ReadMsg()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) ||
				errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		handler.events.OnData(wsConn, b)
	}
}

func (server *Server) Kind() network.TransportKind {
	return network.WebSocket
}

func (server *Server) Bind() error {
	lc := net.ListenConfig{Control: netutil.ReuseAddrControl}
	ln, err := lc.Listen(context.Background(), "tcp", server.Address)
	if err != nil {
		return err
	}
	if server.MaxMsgLen <= 0 {
		server.MaxMsgLen = DefaultMaxMsgLen
		server.logger.Info("invalid MaxMsgLen, reset to %v", server.MaxMsgLen)
	}
	if server.HTTPTimeout <= 0 {
		server.HTTPTimeout = DefaultHTTPTimeout
		server.logger.Info("invalid HTTPTimeout, reset to %v", server.HTTPTimeout)
	}
	if server.CertFile != "" || server.KeyFile != "" {
		config := &tls.Config{}
		config.NextProtos = []string{"http/1.1"}
		config.Certificates = make([]tls.Certificate, 1)
		config.Certificates[0], err = tls.LoadX509KeyPair(server.CertFile, server.KeyFile)
		if err != nil {
			_ = ln.Close()
			return err
		}
		ln = tls.NewListener(ln, config)
	}
	server.ln = ln
	server.logger.Info("listening on %v%s", ln.Addr(), server.Path)
	return nil
}

func (server *Server) Addr() net.Addr {
	if server.ln == nil {
		return nil
	}
	return server.ln.Addr()
}

// Serve 阻塞直到Close，返回前所有连接都已经关闭
func (server *Server) Serve(events network.Events) error {
	if server.ln == nil {
		return errors.New("listener not bound")
	}
	server.handler = &handlerDTO{
		textFormat:   server.TextFormat,
		trusted:      server.TrustedProxies,
		maxMsgLen:    server.MaxMsgLen,
		writeTimeout: server.WriteTimeout,
		events:       events,
		conns:        set.NewSet[*Conn](),
		wg:           wg.NewWaitGroup("websocket-conns"),
		closed:       &server.closed,
		logger:       server.logger,
		upgrader: websocket.Upgrader{
			HandshakeTimeout: server.HTTPTimeout,
			CheckOrigin:      func(_ *http.Request) bool { return true },
		},
	}
	mux := http.NewServeMux()
	mux.Handle(server.Path, server.handler)
	httpServer := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: server.HTTPTimeout,
		MaxHeaderBytes:    4096,
	}
	server.mu.Lock()
	server.httpServer = httpServer
	server.mu.Unlock()
	if server.closed.Load() {
		_ = server.ln.Close()
	}
	err := httpServer.Serve(server.ln)
	if errors.Is(err, http.ErrServerClosed) || server.closed.Load() {
		err = nil
	}
	server.handler.conns.ForEach(func(c *Conn) {
		_ = c.Close()
	})
	server.handler.wg.Wait()
	return err
}

func (server *Server) Close() error {
	if !server.closed.CompareAndSwap(false, true) {
		return nil
	}
	server.mu.Lock()
	httpServer := server.httpServer
	server.mu.Unlock()
	if httpServer != nil {
		return httpServer.Close()
	}
	if server.ln != nil {
		return server.ln.Close()
	}
	return nil
}
