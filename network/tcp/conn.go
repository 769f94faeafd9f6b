package tcp

import (
	"errors"
	"net"
	"os"
	"time"

	"github.com/YiuTerran/go-gamenet/network"
	"go.uber.org/atomic"
)

// Conn 流式连接的写句柄，tcp和kcp共用
type Conn struct {
	conn         net.Conn
	kind         network.TransportKind
	writeTimeout time.Duration
	closeFlag    atomic.Bool
}

func NewConn(conn net.Conn, kind network.TransportKind, writeTimeout time.Duration) *Conn {
	return &Conn{conn: conn, kind: kind, writeTimeout: writeTimeout}
}

func (c *Conn) Kind() network.TransportKind {
	return c.kind
}

// Write 写超时且只写出一部分时不返回错误，剩余部分由调用方稍后重试
func (c *Conn) Write(b []byte) (int, error) {
	if c.closeFlag.Load() {
		return 0, net.ErrClosed
	}
	if c.writeTimeout > 0 {
		_ = c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	}
	n, err := c.conn.Write(b)
	if err != nil && isTimeout(err) && n < len(b) {
		return n, nil
	}
	return n, err
}

func isTimeout(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func (c *Conn) Read(b []byte) (int, error) {
	return c.conn.Read(b)
}

func (c *Conn) LocalAddr() net.Addr {
	return c.conn.LocalAddr()
}

func (c *Conn) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

func (c *Conn) CloseRead() error {
	if tc, ok := c.conn.(*net.TCPConn); ok {
		return tc.CloseRead()
	}
	return nil
}

func (c *Conn) CloseWrite() error {
	if tc, ok := c.conn.(*net.TCPConn); ok {
		return tc.CloseWrite()
	}
	return nil
}

// Destroy 丢弃未发送的数据直接关闭
func (c *Conn) Destroy() error {
	if tc, ok := c.conn.(*net.TCPConn); ok {
		_ = tc.SetLinger(0)
	}
	return c.Close()
}

func (c *Conn) Close() error {
	if !c.closeFlag.CompareAndSwap(false, true) {
		return nil
	}
	return c.conn.Close()
}

func (c *Conn) Closed() bool {
	return c.closeFlag.Load()
}
