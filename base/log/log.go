package log

import (
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/samber/lo"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

type (
	Level   string
	OutType int
)

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"

	infoFileOutName  = "service"
	errorFileOutName = "error"
	trackFileOutName = "track"
	panicFileOutName = "panic"

	// ConsoleOut 控制台输出
	ConsoleOut OutType = 1
	// InfoFileOut 一般日志
	InfoFileOut OutType = 2
	// ErrorFileOut 错误日志
	ErrorFileOut OutType = 4
	// TrackFileOut json日志
	TrackFileOut OutType = 8

	// NormalOut 一般输出
	NormalOut = InfoFileOut | ErrorFileOut
	// NormalOutWithTrack 有一般输出，也有json的track
	NormalOutWithTrack = NormalOut | TrackFileOut
)

var (
	levelMapping = map[Level]zapcore.Level{
		LevelDebug: zap.DebugLevel,
		LevelInfo:  zap.InfoLevel,
		LevelWarn:  zap.WarnLevel,
		LevelError: zap.ErrorLevel,
	}
	aliasMap = map[string]OutType{
		"console": ConsoleOut,
		"file":    NormalOut,
		"track":   TrackFileOut,
	}
	proxy *loggerProxy
	once  sync.Once
)

// Config 日志配置，字段和配置文件的log节一一对应
type Config struct {
	Name string `mapstructure:"name"`
	Path string `mapstructure:"path"`
	// Level debug/info/warn/error
	Level Level `mapstructure:"level"`
	// Out 输出方式，console|file|track，可以用|组合
	Out          string `mapstructure:"out"`
	MaxSize      int    `mapstructure:"max_size"` //单位Mb
	MaxAge       int    `mapstructure:"max_age"`  //单位天
	MaxBackUps   int    `mapstructure:"max_backups"`
	EnableRotate bool   `mapstructure:"enable_rotate"`
}

// OutTypeAlias 为了方便记忆，可以使用文本配置，用|分割
func OutTypeAlias(name string) OutType {
	names := strings.Split(strings.ToLower(name), "|")
	var r OutType
	for _, s := range names {
		r |= aliasMap[strings.TrimSpace(s)]
	}
	return lo.Ternary(r == 0, ConsoleOut, r)
}

type loggerProxy struct {
	cfg      Config
	out      OutType
	zapLevel zap.AtomicLevel
	logger   atomic.Pointer[zap.SugaredLogger]
	dLogger  *zap.SugaredLogger
	nLogger  *zap.SugaredLogger
	tracker  *zap.Logger
}

func (lp *loggerProxy) changeLevel(level Level) {
	lvl, ok := levelMapping[level]
	if !ok {
		lvl = zap.InfoLevel
	}
	lp.zapLevel.SetLevel(lvl)
	// debug模式下打印caller
	if lvl == zap.DebugLevel {
		lp.logger.Store(lp.dLogger)
	} else {
		lp.logger.Store(lp.nLogger)
	}
}

// ChangeLogLevel 运行时切换日志级别
func ChangeLogLevel(level Level) {
	proxy.changeLevel(level)
}

// IsDebugEnabled 是否打开了debug
func IsDebugEnabled() bool {
	return proxy.zapLevel.Enabled(zapcore.DebugLevel)
}

// Init 按配置初始化全局日志，只有第一次调用生效
func Init(cfg Config) {
	once.Do(func() {
		proxy = build(cfg)
	})
}

func getTrackEncodeConf() zapcore.EncoderConfig {
	encoderCfg := zap.NewProductionEncoderConfig()
	// meta数据，按ECS规定的格式来
	encoderCfg.TimeKey = "@timestamp"
	encoderCfg.LevelKey = "log.level"
	encoderCfg.MessageKey = "message"
	encoderCfg.EncodeTime = timeEncoder
	return encoderCfg
}

func fileName(cfg Config, suffix string, plain bool) string {
	if cfg.Name == "" {
		return suffix + ".log"
	}
	if plain {
		return cfg.Name + ".log"
	}
	return cfg.Name + "-" + suffix + ".log"
}

func build(cfg Config) *loggerProxy {
	p := &loggerProxy{cfg: cfg, out: OutTypeAlias(cfg.Out)}
	if p.out&NormalOutWithTrack > 0 {
		if p.cfg.Path == "" {
			p.cfg.Path = "./log"
		}
		if !exists(p.cfg.Path) && os.MkdirAll(p.cfg.Path, 0755) != nil {
			panic("fail to create log directory")
		}
		// 将panic日志重定向到文件，不然的话都会打到stderr里
		if err := redirectStderr(filepath.Join(p.cfg.Path, fileName(p.cfg, panicFileOutName, false))); err != nil {
			panic("fail to redirect panic log to file:" + err.Error())
		}
	}
	if p.cfg.Level == "" {
		p.cfg.Level = LevelInfo
	}
	p.zapLevel = zap.NewAtomicLevelAt(levelMapping[p.cfg.Level])

	var trackSink zapcore.WriteSyncer = zapcore.AddSync(os.Stdout)
	if p.out&TrackFileOut > 0 {
		trackSink = zapcore.AddSync(p.writer(fileName(p.cfg, trackFileOutName, false)))
	}
	p.tracker = zap.New(zapcore.NewCore(zapcore.NewJSONEncoder(getTrackEncodeConf()), trackSink, zap.DebugLevel))

	// 高优先级
	hp := zap.LevelEnablerFunc(func(lvl zapcore.Level) bool {
		return lvl >= zapcore.WarnLevel
	})
	encoder := zapcore.NewConsoleEncoder(zap.NewDevelopmentEncoderConfig())
	cores := make([]zapcore.Core, 0, 3)
	if p.out&ConsoleOut > 0 {
		cores = append(cores, zapcore.NewCore(encoder, zapcore.AddSync(os.Stdout), p.zapLevel))
	}
	if p.out&InfoFileOut > 0 {
		cores = append(cores, zapcore.NewCore(encoder,
			zapcore.AddSync(p.writer(fileName(p.cfg, infoFileOutName, true))), p.zapLevel))
	}
	if p.out&ErrorFileOut > 0 {
		cores = append(cores, zapcore.NewCore(encoder,
			zapcore.AddSync(p.writer(fileName(p.cfg, errorFileOutName, false))), hp))
	}
	lg := zap.New(zapcore.NewTee(cores...))
	p.nLogger = lg.Sugar()
	p.dLogger = lg.WithOptions(zap.AddCaller(), zap.AddCallerSkip(1)).Sugar()
	p.changeLevel(p.cfg.Level)
	return p
}

// 判断所给路径文件/文件夹是否存在=>避免循环依赖fs
func exists(path string) bool {
	_, err := os.Stat(path)
	if err != nil {
		return os.IsExist(err)
	}
	return true
}

func timeEncoder(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
	enc.AppendString(t.Format("2006-01-02T15:04:05.000Z"))
}

func (lp *loggerProxy) writer(name string) io.Writer {
	fullName := filepath.Join(lp.cfg.Path, name)
	if !lp.cfg.EnableRotate {
		f, err := os.OpenFile(fullName, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0644)
		if err != nil {
			panic("fail to open log file")
		}
		return f
	}
	return &lumberjack.Logger{
		Filename:   fullName,
		MaxSize:    lp.cfg.MaxSize,
		MaxAge:     lp.cfg.MaxAge,
		MaxBackups: lp.cfg.MaxBackUps,
	}
}

func sugar() *zap.SugaredLogger {
	return proxy.logger.Load()
}

// Debug 会调试模式下打印caller，其他忽略，减少开销
func Debug(format string, a ...any) {
	sugar().Debugf(format, a...)
}

func Info(format string, a ...any) {
	sugar().Infof(format, a...)
}

func Warn(format string, a ...any) {
	sugar().Warnf(format, a...)
}

func Error(format string, a ...any) {
	sugar().Errorf(format, a...)
}

func Fatal(format string, a ...any) {
	sugar().Fatalf(format, a...)
}

// JsonInfo 输出json格式的track日志（会话的建立和关闭等），track输出时在单独的文件里
func JsonInfo(msg string, fields ...zap.Field) {
	proxy.tracker.Info(msg, fields...)
}

// PanicStack 从panic中恢复并打印日志
// 注意recover必须在当前函数调用
func PanicStack(prefix string, r any) {
	buf := make([]byte, 4096)
	l := runtime.Stack(buf, false)
	Error("%s: %v-> %s", prefix, r, buf[:l])
}

func Flush() {
	_ = proxy.dLogger.Sync()
	_ = proxy.nLogger.Sync()
	_ = proxy.tracker.Sync()
}

func init() {
	// 默认情况下初始化一个仅输出到控制台的日志方便测试
	proxy = build(Config{Out: "console", Level: LevelDebug})
}
