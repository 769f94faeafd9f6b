package mock

import (
	"errors"
	"net"
	"sync"

	"github.com/YiuTerran/go-gamenet/network"
)

/**  测试用的内存句柄，记录所有写入
  *  @author tryao
  *  @date 2022/08/03 14:10
**/

var ErrClosed = errors.New("mock handle closed")

// WriteFunc 自定义单次写入的行为，返回实际写入的字节数
type WriteFunc func(b []byte) (int, error)

type Handle struct {
	kind   network.TransportKind
	local  net.Addr
	remote net.Addr

	mu      sync.Mutex
	written []byte
	writes  int
	closed  bool
	onWrite WriteFunc
	// 每次写入后通知
	notify chan struct{}
}

func NewHandle(kind network.TransportKind, remote string) *Handle {
	addr, _ := net.ResolveTCPAddr("tcp", remote)
	return &Handle{
		kind:   kind,
		local:  &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 9000},
		remote: addr,
		notify: make(chan struct{}, 1024),
	}
}

// OnWrite 替换写入行为，用于模拟部分写入或写错误
func (h *Handle) OnWrite(f WriteFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onWrite = f
}

func (h *Handle) Kind() network.TransportKind {
	return h.kind
}

func (h *Handle) Write(b []byte) (int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return 0, ErrClosed
	}
	n, err := len(b), error(nil)
	if h.onWrite != nil {
		n, err = h.onWrite(b)
	}
	h.written = append(h.written, b[:n]...)
	h.writes++
	select {
	case h.notify <- struct{}{}:
	default:
	}
	return n, err
}

// Written 目前为止写入的全部字节
func (h *Handle) Written() []byte {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]byte(nil), h.written...)
}

func (h *Handle) Writes() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.writes
}

// Notify 每次写入都会尝试发送一个信号
func (h *Handle) Notify() <-chan struct{} {
	return h.notify
}

func (h *Handle) LocalAddr() net.Addr {
	return h.local
}

func (h *Handle) RemoteAddr() net.Addr {
	return h.remote
}

func (h *Handle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	return nil
}

func (h *Handle) Closed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closed
}
