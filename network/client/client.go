package client

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/YiuTerran/go-gamenet/network"
	"github.com/YiuTerran/go-gamenet/network/codec"
	"github.com/YiuTerran/go-gamenet/network/kcp"
	"github.com/YiuTerran/go-gamenet/network/packet"
	"github.com/gorilla/websocket"
	"go.uber.org/atomic"
)

/**  同步客户端，按服务端相同的帧格式收发
  *  主要用于压测、联调和测试
**/

const DefaultTimeout = 3 * time.Second

type Option func(c *Client)

func WithCodec(cd *codec.Codec) Option {
	return func(c *Client) {
		c.codec = cd
	}
}

// WithPath websocket的路径
func WithPath(path string) Option {
	return func(c *Client) {
		c.path = path
	}
}

// WithHeader websocket握手时附带的头部
func WithHeader(h http.Header) Option {
	return func(c *Client) {
		c.header = h
	}
}

func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.timeout = d
	}
}

// Frame 收到的一帧
type Frame struct {
	Header  codec.Header
	Payload []byte
}

type Client struct {
	kind    network.TransportKind
	codec   *codec.Codec
	path    string
	header  http.Header
	timeout time.Duration

	conn    net.Conn
	wsConn  *websocket.Conn
	framer  *codec.Framer
	pending []Frame
	buf     []byte
	closed  atomic.Bool
}

// Dial 连接服务端
func Dial(kind network.TransportKind, addr string, options ...Option) (*Client, error) {
	c := &Client{
		kind:    kind,
		path:    "/",
		timeout: DefaultTimeout,
		buf:     make([]byte, 64*1024),
	}
	for _, option := range options {
		option(c)
	}
	if c.codec == nil {
		c.codec = codec.New()
	}
	var err error
	switch kind {
	case network.TCP:
		c.conn, err = net.DialTimeout("tcp", addr, c.timeout)
	case network.UDP:
		c.conn, err = net.DialTimeout("udp", addr, c.timeout)
	case network.ReliableUDP:
		c.conn, err = kcp.Dial(addr, kcp.Options{})
	case network.WebSocket:
		dialer := websocket.Dialer{HandshakeTimeout: c.timeout}
		c.wsConn, _, err = dialer.Dial(fmt.Sprintf("ws://%s%s", addr, c.path), c.header)
	default:
		err = fmt.Errorf("unsupported transport %s", kind)
	}
	if err != nil {
		return nil, err
	}
	if kind.Streamed() {
		c.framer = codec.NewFramer(c.codec, nil)
	}
	return c, nil
}

// Send 编码后发送一帧
func (c *Client) Send(payload []byte, dataType packet.DataType, compress, encrypt bool) error {
	frame, err := c.codec.Encode(payload, dataType, compress, encrypt, false)
	if err != nil {
		return err
	}
	return c.SendRaw(frame)
}

// SendRaw 发送原始字节，不做编码
func (c *Client) SendRaw(b []byte) error {
	deadline := time.Now().Add(c.timeout)
	if c.wsConn != nil {
		_ = c.wsConn.SetWriteDeadline(deadline)
		return c.wsConn.WriteMessage(websocket.BinaryMessage, b)
	}
	_ = c.conn.SetWriteDeadline(deadline)
	_, err := c.conn.Write(b)
	return err
}

// Recv 阻塞直到收到一帧或超时
func (c *Client) Recv() (Frame, error) {
	deadline := time.Now().Add(c.timeout)
	for len(c.pending) == 0 {
		var data []byte
		if c.wsConn != nil {
			_ = c.wsConn.SetReadDeadline(deadline)
			_, msg, err := c.wsConn.ReadMessage()
			if err != nil {
				return Frame{}, err
			}
			data = msg
		} else {
			_ = c.conn.SetReadDeadline(deadline)
			n, err := c.conn.Read(c.buf)
			if err != nil {
				return Frame{}, err
			}
			data = c.buf[:n]
		}
		if err := c.feed(data); err != nil {
			return Frame{}, err
		}
	}
	f := c.pending[0]
	c.pending = c.pending[1:]
	return f, nil
}

func (c *Client) feed(data []byte) error {
	if c.framer == nil {
		h, raw, err := c.codec.Decode(data)
		if err != nil {
			return err
		}
		c.pending = append(c.pending, Frame{Header: h, Payload: append([]byte(nil), raw...)})
		return nil
	}
	return c.framer.Feed(data, func(h codec.Header, body []byte) error {
		raw, err := c.codec.Open(h, body)
		if err != nil {
			return err
		}
		c.pending = append(c.pending, Frame{Header: h, Payload: append([]byte(nil), raw...)})
		return nil
	})
}

// Request 发送后等待一帧回复
func (c *Client) Request(payload []byte, dataType packet.DataType) (Frame, error) {
	if err := c.Send(payload, dataType, false, false); err != nil {
		return Frame{}, err
	}
	return c.Recv()
}

func (c *Client) LocalAddr() net.Addr {
	if c.wsConn != nil {
		return c.wsConn.LocalAddr()
	}
	return c.conn.LocalAddr()
}

// Close 可以重复调用，只有第一次真正关闭连接
func (c *Client) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	if c.wsConn != nil {
		return c.wsConn.Close()
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return errors.New("not connected")
}
