package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/YiuTerran/go-gamenet/base/log"
	"github.com/YiuTerran/go-gamenet/base/util/netutil"
	"github.com/YiuTerran/go-gamenet/network"
	"github.com/YiuTerran/go-gamenet/network/codec"
	"github.com/YiuTerran/go-gamenet/network/engine"
	"github.com/YiuTerran/go-gamenet/network/filter"
	"github.com/YiuTerran/go-gamenet/network/queue"
	"github.com/spf13/viper"
	"go.uber.org/multierr"
)

/**  服务配置，yaml文件 + GAMENET_ 前缀的环境变量
  *  环境变量中的.换成_，例如 GAMENET_NETWORK_QUEUE_CAPACITY
**/

const EnvPrefix = "GAMENET"

type Transport struct {
	Kind    string `mapstructure:"kind"`
	Address string `mapstructure:"address"`
	// 以下只对websocket有效
	Path       string `mapstructure:"path"`
	CertFile   string `mapstructure:"cert_file"`
	KeyFile    string `mapstructure:"key_file"`
	TextFormat bool   `mapstructure:"text_format"`
	// TrustedProxies 反向代理的IP或CIDR，只有这些对端发来的X-Forwarded-For才会被采信
	TrustedProxies []string `mapstructure:"trusted_proxies"`
}

type Network struct {
	Transports []Transport `mapstructure:"transports"`

	AcceptorWorkers int `mapstructure:"acceptor_workers"`
	ReaderWorkers   int `mapstructure:"reader_workers"`
	WriterWorkers   int `mapstructure:"writer_workers"`

	AcceptBufferSize int `mapstructure:"accept_buffer_size"`
	ReadBufferSize   int `mapstructure:"read_buffer_size"`
	WriteBufferSize  int `mapstructure:"write_buffer_size"`

	QueueCapacity int    `mapstructure:"queue_capacity"`
	QueuePolicy   string `mapstructure:"queue_policy"`

	CompressionThreshold int    `mapstructure:"compression_threshold"`
	Compressor           string `mapstructure:"compressor"`
	Encryptor            string `mapstructure:"encryptor"`
	// EncryptionKey hex编码
	EncryptionKey string `mapstructure:"encryption_key"`
	MaxFrameSize  int    `mapstructure:"max_frame_size"`

	MaxIdle            time.Duration `mapstructure:"max_idle"`
	MaxIdleNeverDeport time.Duration `mapstructure:"max_idle_never_deport"`
	IdleScanInterval   time.Duration `mapstructure:"idle_scan_interval"`

	MaxConnectionsPerAddress int      `mapstructure:"max_connections_per_address"`
	AcceptRate               float64  `mapstructure:"accept_rate"`
	AcceptBurst              int      `mapstructure:"accept_burst"`
	BannedAddresses          []string `mapstructure:"banned_addresses"`
	// BanListPath 不为空时封禁列表持久化到bbolt文件
	BanListPath string `mapstructure:"ban_list_path"`

	WriteTimeout       time.Duration `mapstructure:"write_timeout"`
	WriteRetryInterval time.Duration `mapstructure:"write_retry_interval"`
	ShutdownGrace      time.Duration `mapstructure:"shutdown_grace"`
}

type Metrics struct {
	Enable    bool   `mapstructure:"enable"`
	Address   string `mapstructure:"address"`
	Namespace string `mapstructure:"namespace"`
}

type Config struct {
	Log     log.Config `mapstructure:"log"`
	Network Network    `mapstructure:"network"`
	Metrics Metrics    `mapstructure:"metrics"`
}

// setDefaults 环境变量只能覆盖有默认值（或文件中出现过）的键
func setDefaults(v *viper.Viper) {
	def := engine.DefaultConfig()
	v.SetDefault("log.name", "gamenet")
	v.SetDefault("log.path", "logs")
	v.SetDefault("log.level", string(log.LevelInfo))
	v.SetDefault("log.out", "console")
	v.SetDefault("log.max_size", 100)
	v.SetDefault("log.max_age", 7)
	v.SetDefault("log.max_backups", 10)
	v.SetDefault("log.enable_rotate", true)

	v.SetDefault("network.transports", []map[string]any{
		{"kind": "tcp", "address": ":8032"},
		{"kind": "websocket", "address": ":8033", "path": "/"},
	})
	v.SetDefault("network.acceptor_workers", def.AcceptorWorkers)
	v.SetDefault("network.reader_workers", def.ReaderWorkers)
	v.SetDefault("network.writer_workers", def.WriterWorkers)
	v.SetDefault("network.accept_buffer_size", 0)
	v.SetDefault("network.read_buffer_size", def.ReadBufferSize)
	v.SetDefault("network.write_buffer_size", 0)
	v.SetDefault("network.queue_capacity", def.QueueCapacity)
	v.SetDefault("network.queue_policy", def.QueuePolicy.Name())
	v.SetDefault("network.compression_threshold", def.CompressionThreshold)
	v.SetDefault("network.compressor", "zlib")
	v.SetDefault("network.encryptor", "")
	v.SetDefault("network.encryption_key", "")
	v.SetDefault("network.max_frame_size", def.MaxFrameSize)
	v.SetDefault("network.max_idle", def.MaxIdle)
	v.SetDefault("network.max_idle_never_deport", def.MaxIdleNeverDeport)
	v.SetDefault("network.idle_scan_interval", 10*time.Second)
	v.SetDefault("network.max_connections_per_address", 0)
	v.SetDefault("network.accept_rate", 0)
	v.SetDefault("network.accept_burst", 0)
	v.SetDefault("network.banned_addresses", []string{})
	v.SetDefault("network.ban_list_path", "")
	v.SetDefault("network.write_timeout", def.WriteTimeout)
	v.SetDefault("network.write_retry_interval", def.WriteRetryInterval)
	v.SetDefault("network.shutdown_grace", def.ShutdownGrace)

	v.SetDefault("metrics.enable", true)
	v.SetDefault("metrics.address", ":9100")
	v.SetDefault("metrics.namespace", "gamenet")
}

func newViper() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Default 只有默认值和环境变量
func Default() (*Config, error) {
	return decode(newViper())
}

// Load path为空时等同于Default
func Load(path string) (*Config, error) {
	v := newViper()
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	return decode(v)
}

func decode(v *viper.Viper) (*Config, error) {
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate 返回所有不合法的配置项
func (cfg *Config) Validate() error {
	var errs error
	n := cfg.Network
	if len(n.Transports) == 0 {
		errs = multierr.Append(errs, errors.New("network.transports is empty"))
	}
	for i, t := range n.Transports {
		if _, err := network.ParseTransportKind(t.Kind); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("network.transports[%d]: %w", i, err))
		}
		if t.Address == "" {
			errs = multierr.Append(errs, fmt.Errorf("network.transports[%d]: empty address", i))
		}
		if (t.CertFile == "") != (t.KeyFile == "") {
			errs = multierr.Append(errs, fmt.Errorf("network.transports[%d]: cert_file and key_file must be set together", i))
		}
		if _, err := netutil.ParseTrustedProxies(t.TrustedProxies); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("network.transports[%d].trusted_proxies: %w", i, err))
		}
	}
	if n.QueueCapacity <= 0 {
		errs = multierr.Append(errs, fmt.Errorf("network.queue_capacity must be positive, got %d", n.QueueCapacity))
	}
	if _, err := queue.ParsePolicy(n.QueuePolicy); err != nil {
		errs = multierr.Append(errs, fmt.Errorf("network.queue_policy: %w", err))
	}
	if n.MaxFrameSize <= 0 {
		errs = multierr.Append(errs, fmt.Errorf("network.max_frame_size must be positive, got %d", n.MaxFrameSize))
	}
	if _, err := codec.NewCompressor(n.Compressor, n.MaxFrameSize); err != nil {
		errs = multierr.Append(errs, fmt.Errorf("network.compressor: %w", err))
	}
	if n.Encryptor != "" {
		if _, err := n.encryptor(); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("network.encryptor: %w", err))
		}
	}
	if n.MaxConnectionsPerAddress < 0 {
		errs = multierr.Append(errs, errors.New("network.max_connections_per_address must not be negative"))
	}
	if n.AcceptRate < 0 {
		errs = multierr.Append(errs, errors.New("network.accept_rate must not be negative"))
	}
	if cfg.Metrics.Enable && cfg.Metrics.Address == "" {
		errs = multierr.Append(errs, errors.New("metrics.address is empty"))
	}
	return errs
}

func (n Network) encryptor() (codec.Encryptor, error) {
	key, err := hex.DecodeString(n.EncryptionKey)
	if err != nil {
		return nil, fmt.Errorf("bad hex key: %w", err)
	}
	return codec.NewEncryptor(n.Encryptor, key)
}

// Engine 转换为引擎配置；封禁列表需要调用方在服务停止时关闭（engine.Service.Stop会关闭）
func (cfg *Config) Engine() (engine.Config, error) {
	n := cfg.Network
	ec := engine.Config{
		AcceptorWorkers:          n.AcceptorWorkers,
		ReaderWorkers:            n.ReaderWorkers,
		WriterWorkers:            n.WriterWorkers,
		AcceptBufferSize:         n.AcceptBufferSize,
		ReadBufferSize:           n.ReadBufferSize,
		WriteBufferSize:          n.WriteBufferSize,
		QueueCapacity:            n.QueueCapacity,
		CompressionThreshold:     n.CompressionThreshold,
		MaxFrameSize:             n.MaxFrameSize,
		MaxIdle:                  n.MaxIdle,
		MaxIdleNeverDeport:       n.MaxIdleNeverDeport,
		IdleScanInterval:         n.IdleScanInterval,
		MaxConnectionsPerAddress: n.MaxConnectionsPerAddress,
		AcceptRate:               n.AcceptRate,
		AcceptBurst:              n.AcceptBurst,
		WriteTimeout:             n.WriteTimeout,
		WriteRetryInterval:       n.WriteRetryInterval,
		ShutdownGrace:            n.ShutdownGrace,
	}
	for _, t := range n.Transports {
		kind, err := network.ParseTransportKind(t.Kind)
		if err != nil {
			return ec, err
		}
		proxies, err := netutil.ParseTrustedProxies(t.TrustedProxies)
		if err != nil {
			return ec, err
		}
		ec.Transports = append(ec.Transports, engine.TransportConfig{
			Kind:           kind,
			Address:        t.Address,
			Path:           t.Path,
			CertFile:       t.CertFile,
			KeyFile:        t.KeyFile,
			TextFormat:     t.TextFormat,
			TrustedProxies: proxies,
		})
	}
	var err error
	if ec.QueuePolicy, err = queue.ParsePolicy(n.QueuePolicy); err != nil {
		return ec, err
	}
	if ec.Compressor, err = codec.NewCompressor(n.Compressor, n.MaxFrameSize); err != nil {
		return ec, err
	}
	if n.Encryptor != "" {
		if ec.Encryptor, err = n.encryptor(); err != nil {
			return ec, err
		}
	}

	var bans filter.BanList
	if n.BanListPath != "" {
		if bans, err = filter.OpenBoltBanList(n.BanListPath); err != nil {
			return ec, err
		}
		for _, host := range n.BannedAddresses {
			if err = bans.Ban(host); err != nil {
				_ = bans.Close()
				return ec, err
			}
		}
	} else {
		bans = filter.NewMemoryBanList(n.BannedAddresses...)
	}
	ec.BanList = bans
	return ec, nil
}
