package network

import (
	"errors"
	"fmt"
	"net"
	"strings"
)

// TransportKind 传输层类型，Session创建时确定，之后不会变化
type TransportKind uint8

const (
	TCP TransportKind = iota + 1
	UDP
	WebSocket
	ReliableUDP
)

var kindNames = map[TransportKind]string{
	TCP:         "tcp",
	UDP:         "udp",
	WebSocket:   "websocket",
	ReliableUDP: "kcp",
}

func (k TransportKind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("transport(%d)", uint8(k))
}

// Streamed 流式传输需要自己拆包，报文式传输一条消息就是一帧
func (k TransportKind) Streamed() bool {
	return k == TCP || k == ReliableUDP
}

// ParseTransportKind 配置文件里的名称转为TransportKind
func ParseTransportKind(name string) (TransportKind, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	for k, v := range kindNames {
		if v == name {
			return k, nil
		}
	}
	switch name {
	case "ws", "wss":
		return WebSocket, nil
	case "reliable-udp", "rudp":
		return ReliableUDP, nil
	}
	return 0, fmt.Errorf("unknown transport %q", name)
}

// ErrListenerClosed 监听器已经关闭
var ErrListenerClosed = errors.New("listener closed")

// Handle 是某个连接（或UDP对端）的写句柄，对引擎屏蔽具体传输
// 实现必须可比较（一般是指针），引擎用它做会话索引
type Handle interface {
	Kind() TransportKind
	// Write 尽力写入，返回实际写入的字节数；超时的部分写入不是错误，引擎会重试剩余部分
	Write(b []byte) (int, error)
	LocalAddr() net.Addr
	RemoteAddr() net.Addr
	Close() error
}

// HalfCloser 支持半关闭的句柄，拒绝连接时先关闭读写再关闭连接
type HalfCloser interface {
	CloseRead() error
	CloseWrite() error
}

// Events 传输层向引擎回调
type Events interface {
	// OnOpen 新连接（或UDP的新对端），返回错误时传输层负责关闭句柄
	OnOpen(h Handle) error
	// OnData b只在回调期间有效，实现方需要自己复制
	OnData(h Handle, b []byte)
	// OnClose 连接断开，err为nil表示正常关闭
	OnClose(h Handle, err error)
}

// Listener 每种传输一个实现
type Listener interface {
	Kind() TransportKind
	// Bind 绑定端口，失败时该传输不可用
	Bind() error
	// Serve 阻塞直到Close被调用
	Serve(events Events) error
	Addr() net.Addr
	Close() error
}

// MsgProcessor 是消息处理器
type MsgProcessor interface {
	// Route 路由消息 must goroutine safe
	Route(msg any, userData any) error
	// Unmarshal 反序列化消息，must goroutine safe
	Unmarshal(data []byte) (any, error)
	// Marshal 序列化消息 must goroutine safe
	Marshal(msg any) ([]byte, error)
}
