package kcp

import (
	"net"

	"github.com/YiuTerran/go-gamenet/network"
	"github.com/YiuTerran/go-gamenet/network/tcp"
	kcpgo "github.com/xtaci/kcp-go/v5"
)

/**  可靠UDP，基于kcp
  *  kcp会话本身就是一个net.Conn，accept和读循环与tcp共用
**/

// Options kcp协议参数，零值使用游戏场景常用的快速模式
type Options struct {
	tcp.Options
	// NoDelay kcp的nodelay参数组
	NoDelay  int
	Interval int
	Resend   int
	NoCC     int
	SndWnd   int
	RcvWnd   int
	MTU      int
	// DataShards/ParityShards 前向纠错，0表示关闭
	DataShards   int
	ParityShards int
}

func (o *Options) normalize() {
	if o.Interval <= 0 {
		o.NoDelay, o.Interval, o.Resend, o.NoCC = 1, 10, 2, 1
	}
	if o.SndWnd <= 0 {
		o.SndWnd = 128
	}
	if o.RcvWnd <= 0 {
		o.RcvWnd = 128
	}
	if o.MTU <= 0 {
		o.MTU = 1400
	}
}

// NewServer 返回一个ReliableUDP类型的流式监听器
func NewServer(addr string, opts Options) *tcp.Server {
	opts.normalize()
	streamOpts := opts.Options
	onConn := streamOpts.OnConn
	streamOpts.OnConn = func(conn net.Conn) {
		if sess, ok := conn.(*kcpgo.UDPSession); ok {
			sess.SetStreamMode(true)
			sess.SetNoDelay(opts.NoDelay, opts.Interval, opts.Resend, opts.NoCC)
			sess.SetWindowSize(opts.SndWnd, opts.RcvWnd)
			sess.SetMtu(opts.MTU)
			sess.SetACKNoDelay(true)
		}
		if onConn != nil {
			onConn(conn)
		}
	}
	return tcp.NewStreamServer(network.ReliableUDP, addr, func(addr string) (net.Listener, error) {
		ln, err := kcpgo.ListenWithOptions(addr, nil, opts.DataShards, opts.ParityShards)
		if err != nil {
			return nil, err
		}
		if size := opts.SocketBufferSize; size > 0 {
			_ = ln.SetReadBuffer(size)
			_ = ln.SetWriteBuffer(size)
		}
		return ln, nil
	}, streamOpts)
}

// Dial 客户端连接，参数与服务端保持一致
func Dial(addr string, opts Options) (net.Conn, error) {
	opts.normalize()
	sess, err := kcpgo.DialWithOptions(addr, nil, opts.DataShards, opts.ParityShards)
	if err != nil {
		return nil, err
	}
	sess.SetStreamMode(true)
	sess.SetNoDelay(opts.NoDelay, opts.Interval, opts.Resend, opts.NoCC)
	sess.SetWindowSize(opts.SndWnd, opts.RcvWnd)
	sess.SetMtu(opts.MTU)
	sess.SetACKNoDelay(true)
	return sess, nil
}
