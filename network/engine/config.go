package engine

import (
	"net"
	"time"

	"github.com/YiuTerran/go-gamenet/network"
	"github.com/YiuTerran/go-gamenet/network/codec"
	"github.com/YiuTerran/go-gamenet/network/filter"
	"github.com/YiuTerran/go-gamenet/network/queue"
)

// TransportConfig 一个监听端口
type TransportConfig struct {
	Kind    network.TransportKind
	Address string
	// 以下只对websocket有效
	Path       string
	CertFile   string
	KeyFile    string
	TextFormat bool
	// TrustedProxies 为空时过滤器总是按TCP对端地址计数
	TrustedProxies []*net.IPNet
}

// Config 引擎运行参数，零值字段在New中会被替换为默认值
// 以下零值有自己的含义，不会被替换：CompressionThreshold为0关闭压缩，
// MaxIdle/MaxIdleNeverDeport为0不限制，IdleScanInterval为0不扫描，
// AcceptBufferSize/WriteBufferSize为0使用系统默认和整帧写入
type Config struct {
	Transports []TransportConfig

	// AcceptorWorkers 每个流式监听器的accept协程数
	AcceptorWorkers int
	// ReaderWorkers 每个UDP端口的读协程数；流式连接每个连接一个读协程
	ReaderWorkers int
	WriterWorkers int

	// AcceptBufferSize 内核socket缓冲区大小
	AcceptBufferSize int
	// ReadBufferSize 单次读取的缓冲大小
	ReadBufferSize int
	// WriteBufferSize 单次写入的最大字节数，超出的部分下次再写
	WriteBufferSize int

	QueueCapacity int
	QueuePolicy   queue.Policy

	CompressionThreshold int
	Compressor           codec.Compressor
	Encryptor            codec.Encryptor
	MaxFrameSize         int

	MaxIdle            time.Duration
	MaxIdleNeverDeport time.Duration
	// IdleScanInterval <=0表示不启动内置的空闲扫描
	IdleScanInterval time.Duration

	MaxConnectionsPerAddress int
	AcceptRate               float64
	AcceptBurst              int
	BanList                  filter.BanList

	WriteTimeout       time.Duration
	WriteRetryInterval time.Duration
	ShutdownGrace      time.Duration
}

const (
	DefaultWorkers            = 1
	DefaultReadBufferSize     = 4096
	DefaultWriteTimeout       = 100 * time.Millisecond
	DefaultWriteRetryInterval = 10 * time.Millisecond
	DefaultShutdownGrace      = 5 * time.Second
)

func DefaultConfig() Config {
	return Config{
		AcceptorWorkers:      DefaultWorkers,
		ReaderWorkers:        DefaultWorkers,
		WriterWorkers:        DefaultWorkers,
		ReadBufferSize:       DefaultReadBufferSize,
		QueueCapacity:        1024,
		QueuePolicy:          queue.DefaultPolicy{},
		CompressionThreshold: codec.DefaultCompressionThreshold,
		MaxFrameSize:         codec.DefaultMaxFrameSize,
		MaxIdle:              3 * time.Minute,
		MaxIdleNeverDeport:   time.Hour,
		WriteTimeout:         DefaultWriteTimeout,
		WriteRetryInterval:   DefaultWriteRetryInterval,
		ShutdownGrace:        DefaultShutdownGrace,
	}
}

func (cfg *Config) normalize() {
	def := DefaultConfig()
	if cfg.AcceptorWorkers <= 0 {
		cfg.AcceptorWorkers = def.AcceptorWorkers
	}
	if cfg.ReaderWorkers <= 0 {
		cfg.ReaderWorkers = def.ReaderWorkers
	}
	if cfg.WriterWorkers <= 0 {
		cfg.WriterWorkers = def.WriterWorkers
	}
	if cfg.ReadBufferSize <= 0 {
		cfg.ReadBufferSize = def.ReadBufferSize
	}
	if cfg.QueueCapacity <= 0 {
		cfg.QueueCapacity = def.QueueCapacity
	}
	if cfg.QueuePolicy == nil {
		cfg.QueuePolicy = def.QueuePolicy
	}
	if cfg.MaxFrameSize <= 0 {
		cfg.MaxFrameSize = def.MaxFrameSize
	}
	// 没有写超时时一个不读数据的对端会一直占住writer
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}
	if cfg.WriteRetryInterval <= 0 {
		cfg.WriteRetryInterval = def.WriteRetryInterval
	}
	if cfg.ShutdownGrace <= 0 {
		cfg.ShutdownGrace = def.ShutdownGrace
	}
}
