package engine

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/YiuTerran/go-gamenet/base/log"
	"github.com/YiuTerran/go-gamenet/network"
	"github.com/YiuTerran/go-gamenet/network/codec"
	"github.com/YiuTerran/go-gamenet/network/filter"
	"github.com/YiuTerran/go-gamenet/network/kcp"
	"github.com/YiuTerran/go-gamenet/network/packet"
	"github.com/YiuTerran/go-gamenet/network/pool"
	"github.com/YiuTerran/go-gamenet/network/session"
	"github.com/YiuTerran/go-gamenet/network/stats"
	"github.com/YiuTerran/go-gamenet/network/tcp"
	"github.com/YiuTerran/go-gamenet/network/udp"
	"github.com/YiuTerran/go-gamenet/ws"
	"github.com/samber/lo"
	"go.uber.org/zap"
)

var (
	ErrNoRecipients   = errors.New("response has no recipients")
	ErrServiceStopped = errors.New("network service stopped")
	ErrNotRunning     = errors.New("network service not running")
)

// Response 应用层要发出的一条消息
type Response struct {
	Payload    []byte
	DataType   packet.DataType
	Recipients []*session.Session
	Compress   bool
	Encrypt    bool
	Priority   packet.Priority
	// Last 发送完后关闭会话
	Last bool
}

// ListenerFactory 根据配置创建某种传输的监听器
type ListenerFactory func(tc TransportConfig, cfg Config, p *pool.Pool) network.Listener

var listenerFactories = map[network.TransportKind]ListenerFactory{
	network.TCP: func(tc TransportConfig, cfg Config, p *pool.Pool) network.Listener {
		return tcp.NewServer(tc.Address, streamOptions(cfg, p))
	},
	network.ReliableUDP: func(tc TransportConfig, cfg Config, p *pool.Pool) network.Listener {
		return kcp.NewServer(tc.Address, kcp.Options{Options: streamOptions(cfg, p)})
	},
	network.UDP: func(tc TransportConfig, cfg Config, _ *pool.Pool) network.Listener {
		return udp.NewServer(tc.Address, udp.Options{
			Readers:          cfg.ReaderWorkers,
			SocketBufferSize: cfg.AcceptBufferSize,
		})
	},
	network.WebSocket: func(tc TransportConfig, cfg Config, _ *pool.Pool) network.Listener {
		return ws.NewServer(tc.Address,
			ws.WithPath(tc.Path),
			ws.WithHttpsCert(tc.CertFile, tc.KeyFile),
			ws.WithTextFormat(tc.TextFormat),
			ws.WithMaxMsgLen(uint32(cfg.MaxFrameSize+codec.MaxHeaderLen)),
			ws.WithWriteTimeout(cfg.WriteTimeout),
			ws.WithTrustedProxies(tc.TrustedProxies),
		)
	},
}

func streamOptions(cfg Config, p *pool.Pool) tcp.Options {
	return tcp.Options{
		AcceptWorkers:    cfg.AcceptorWorkers,
		ReadBufferSize:   cfg.ReadBufferSize,
		SocketBufferSize: cfg.AcceptBufferSize,
		WriteTimeout:     cfg.WriteTimeout,
		Pool:             p,
	}
}

type Option func(s *Service)

// WithListener 额外的监听器，不经过配置
func WithListener(l network.Listener) Option {
	return func(s *Service) {
		s.extra = append(s.extra, l)
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// Service 网络服务，持有引擎的全部组件
type Service struct {
	cfg     Config
	handler Handler
	now     func() time.Time
	extra   []network.Listener

	codec    *codec.Codec
	pool     *pool.Pool
	stats    *stats.Stats
	filter   *filter.Filter
	manager  *session.Manager
	reader   *Reader
	writer   *Writer
	acceptor *Acceptor

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	logger  log.Fields
}

func New(cfg Config, handler Handler, opts ...Option) (*Service, error) {
	if handler == nil {
		return nil, errors.New("nil handler")
	}
	cfg.normalize()
	s := &Service{
		cfg:     cfg,
		handler: handler,
		now:     time.Now,
		stats:   stats.New(),
		logger:  log.Fields{}.WithPrefix("service"),
	}
	for _, opt := range opts {
		opt(s)
	}

	codecOpts := []codec.Option{
		codec.WithCompressionThreshold(cfg.CompressionThreshold),
		codec.WithMaxFrameSize(cfg.MaxFrameSize),
	}
	if cfg.Compressor != nil {
		codecOpts = append(codecOpts, codec.WithCompressor(cfg.Compressor))
	}
	if cfg.Encryptor != nil {
		codecOpts = append(codecOpts, codec.WithEncryptor(cfg.Encryptor))
	}
	s.codec = codec.New(codecOpts...)
	s.pool = pool.New(cfg.MaxFrameSize, 0)

	filterOpts := []filter.Option{
		filter.WithMaxConnectionsPerAddress(cfg.MaxConnectionsPerAddress),
		filter.WithAcceptRate(cfg.AcceptRate, cfg.AcceptBurst),
	}
	if cfg.BanList != nil {
		filterOpts = append(filterOpts, filter.WithBanList(cfg.BanList))
	}
	s.filter = filter.New(filterOpts...)

	s.manager = session.NewManager(
		session.WithQueueCapacity(cfg.QueueCapacity),
		session.WithPolicy(cfg.QueuePolicy),
		session.WithFramer(s.codec, s.pool),
		session.WithClock(s.now),
		session.WithRemoveHook(s.onRemove),
	)
	s.reader = NewReader(s.codec, s.stats, handler, s.closeSession, s.now)
	s.writer = NewWriter(cfg.WriterWorkers, s.codec, s.stats, s.closeSession, s.manager.LookupByID)
	s.writer.now = s.now
	s.writer.retryInterval = cfg.WriteRetryInterval
	s.writer.maxChunk = cfg.WriteBufferSize

	listeners := make([]network.Listener, 0, len(cfg.Transports)+len(s.extra))
	for _, tc := range cfg.Transports {
		factory, ok := listenerFactories[tc.Kind]
		if !ok {
			return nil, fmt.Errorf("unsupported transport %s", tc.Kind)
		}
		listeners = append(listeners, factory(tc, cfg, s.pool))
	}
	listeners = append(listeners, s.extra...)
	if len(listeners) == 0 {
		return nil, errors.New("no transport configured")
	}
	s.acceptor = NewAcceptor(&events{s}, listeners...)
	return s, nil
}

// Start 绑定端口并开始服务；部分端口绑定失败只记录日志
// ctx结束时自动Stop
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}
	if err := s.acceptor.Setup(); err != nil {
		if errors.Is(err, ErrNoListener) {
			return err
		}
		s.logger.Warn("some transports are unavailable: %v", err)
	}
	s.writer.Start()
	if err := s.acceptor.Start(); err != nil {
		return err
	}
	s.stopCh = make(chan struct{})
	s.running = true
	if s.cfg.IdleScanInterval > 0 {
		go s.sweepLoop(s.stopCh)
	}
	if ctx != nil && ctx.Done() != nil {
		go func(stop chan struct{}) {
			select {
			case <-ctx.Done():
				s.Stop()
			case <-stop:
			}
		}(s.stopCh)
	}
	s.logger.Info("network service started: %v", s.acceptor.Addrs())
	return nil
}

func (s *Service) sweepLoop(stop chan struct{}) {
	ticker := time.NewTicker(s.cfg.IdleScanInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			s.SweepIdle()
		}
	}
}

// Stop 停止监听，关闭所有会话，等待writer退出
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	s.running = false
	close(s.stopCh)
	if !s.acceptor.Stop(s.cfg.ShutdownGrace) {
		s.logger.Warn("listeners did not stop within %v", s.cfg.ShutdownGrace)
	}
	s.manager.Range(func(sess *session.Session) bool {
		s.closeSession(sess, ErrServiceStopped)
		return true
	})
	if !s.writer.Stop(s.cfg.ShutdownGrace) {
		s.logger.Warn("writers did not stop within %v", s.cfg.ShutdownGrace)
	}
	if err := s.filter.Close(); err != nil {
		s.logger.Warn("fail to close filter: %v", err)
	}
	s.logger.Info("network service stopped")
}

// Write 按传输类型分组后放入各会话的发送队列，返回成功入队的会话数
func (s *Service) Write(resp Response) (int, error) {
	if len(resp.Recipients) == 0 {
		return 0, ErrNoRecipients
	}
	if !resp.DataType.Valid() {
		return 0, codec.ErrUnknownDataType
	}
	accepted := 0
	groups := lo.GroupBy(resp.Recipients, func(sess *session.Session) network.TransportKind {
		return sess.Kind()
	})
	for _, group := range groups {
		p := packet.New(resp.Payload, lo.Map(group, func(sess *session.Session, _ int) packet.Recipient {
			return sess
		})...)
		p.DataType = resp.DataType
		p.Compress = resp.Compress
		p.Encrypt = resp.Encrypt
		p.Priority = resp.Priority
		p.Last = resp.Last
		accepted += s.writer.Enqueue(p)
	}
	return accepted, nil
}

// Reply 回复单个会话的快捷方式
func (s *Service) Reply(sess *session.Session, payload []byte, dataType packet.DataType) error {
	p := packet.New(payload)
	p.DataType = dataType
	return s.writer.EnqueueTo(sess, p)
}

// Associate 绑定玩家标识
func (s *Service) Associate(sess *session.Session, owner string) error {
	return sess.Associate(owner)
}

// Close 立即关闭会话，未发送的包被丢弃
func (s *Service) Close(sess *session.Session) {
	s.closeSession(sess, nil)
}

// SweepIdle 关闭空闲超时的会话，顺带回收过滤器中闲置的限速器
func (s *Service) SweepIdle() []*session.Session {
	closed := s.manager.SweepIdle(s.cfg.MaxIdle, s.cfg.MaxIdleNeverDeport)
	if n := s.filter.SweepLimiters(); n > 0 {
		s.logger.Debug("swept %d idle rate limiter(s)", n)
	}
	return closed
}

func (s *Service) Stats() stats.Snapshot {
	return s.stats.Snapshot(s.manager.QueueDepths())
}

// Health 未运行时返回ErrNotRunning
func (s *Service) Health() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return ErrNotRunning
	}
	return nil
}

func (s *Service) Manager() *session.Manager {
	return s.manager
}

func (s *Service) Filter() *filter.Filter {
	return s.filter
}

func (s *Service) Codec() *codec.Codec {
	return s.codec
}

func (s *Service) Addrs() map[network.TransportKind]net.Addr {
	return s.acceptor.Addrs()
}

func (s *Service) closeSession(sess *session.Session, reason error) {
	s.manager.Remove(sess, reason)
}

// onRemove 会话从注册表移除后释放资源
func (s *Service) onRemove(sess *session.Session, reason error) {
	s.stats.Sessions.Dec()
	s.filter.Release(sess.RemoteAddr())
	if err := sess.Handle().Close(); err != nil {
		s.logger.Debug("close handle of session %s: %v", sess.ID(), err)
	}
	c := sess.Counters()
	log.JsonInfo("session_closed",
		zap.String("session", sess.ID()),
		zap.Stringer("transport", sess.Kind()),
		zap.String("remote", sess.RemoteAddr().String()),
		zap.String("owner", sess.Owner()),
		zap.Duration("lifetime", s.now().Sub(sess.CreatedAt())),
		zap.Uint64("readBytes", c.ReadBytes),
		zap.Uint64("writtenBytes", c.WrittenBytes),
		zap.Uint64("dropped", c.Dropped),
		zap.NamedError("reason", reason),
	)
	if sl, ok := s.handler.(SessionListener); ok {
		sl.OnSessionClose(sess, reason)
	}
}

// events 传输层回调
type events struct {
	s *Service
}

func (e *events) OnOpen(h network.Handle) error {
	s := e.s
	if err := s.filter.Validate(h.RemoteAddr()); err != nil {
		s.stats.RefusedConnects.Inc()
		return err
	}
	sess, err := s.manager.Register(h)
	if err != nil {
		s.filter.Release(h.RemoteAddr())
		return err
	}
	s.stats.AcceptedConnects.Inc()
	s.stats.Sessions.Inc()
	log.JsonInfo("session_opened",
		zap.String("session", sess.ID()),
		zap.Stringer("transport", sess.Kind()),
		zap.String("remote", h.RemoteAddr().String()),
	)
	if sl, ok := s.handler.(SessionListener); ok {
		sl.OnSessionOpen(sess)
	}
	return nil
}

func (e *events) OnData(h network.Handle, b []byte) {
	if sess, ok := e.s.manager.Lookup(h); ok {
		e.s.reader.OnData(sess, b)
	}
}

func (e *events) OnClose(h network.Handle, err error) {
	if sess, ok := e.s.manager.Lookup(h); ok {
		e.s.closeSession(sess, err)
	}
}
