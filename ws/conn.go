package ws

/**
  *  @author tryao
  *  @date 2022/03/22 11:33
**/
import (
	"net"
	"sync"
	"time"

	"github.com/YiuTerran/go-gamenet/network"
	"github.com/gorilla/websocket"
	"go.uber.org/atomic"
)

// Conn websocket连接的写句柄，一个消息就是一帧
type Conn struct {
	sync.Mutex
	conn           *websocket.Conn
	msgType        int
	writeTimeout   time.Duration
	closeFlag      atomic.Bool
	remoteOriginIP net.Addr
}

func newWSConn(conn *websocket.Conn, textFormat bool, writeTimeout time.Duration) *Conn {
	msgType := websocket.BinaryMessage
	if textFormat {
		msgType = websocket.TextMessage
	}
	return &Conn{conn: conn, msgType: msgType, writeTimeout: writeTimeout}
}

func (wsConn *Conn) Kind() network.TransportKind {
	return network.WebSocket
}

// Write 整条消息要么写完要么出错，websocket写失败后连接不可再用
func (wsConn *Conn) Write(b []byte) (int, error) {
	wsConn.Lock()
	defer wsConn.Unlock()
	if wsConn.closeFlag.Load() {
		return 0, net.ErrClosed
	}
	if wsConn.writeTimeout > 0 {
		_ = wsConn.conn.SetWriteDeadline(time.Now().Add(wsConn.writeTimeout))
	}
	if err := wsConn.conn.WriteMessage(wsConn.msgType, b); err != nil {
		return 0, err
	}
	return len(b), nil
}

// ReadMsg goroutine not safe
func (wsConn *Conn) ReadMsg() ([]byte, error) {
	_, b, err := wsConn.conn.ReadMessage()
	return b, err
}

func (wsConn *Conn) LocalAddr() net.Addr {
	return wsConn.conn.LocalAddr()
}

// RemoteAddr 经可信代理转发时是X-Forwarded-For里的地址
func (wsConn *Conn) RemoteAddr() net.Addr {
	if wsConn.remoteOriginIP != nil {
		return wsConn.remoteOriginIP
	}
	return wsConn.conn.RemoteAddr()
}

func (wsConn *Conn) Close() error {
	if !wsConn.closeFlag.CompareAndSwap(false, true) {
		return nil
	}
	wsConn.Lock()
	_ = wsConn.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	wsConn.Unlock()
	return wsConn.conn.Close()
}

// Destroy 不发关闭帧直接断开
func (wsConn *Conn) Destroy() error {
	wsConn.closeFlag.Store(true)
	if tc, ok := wsConn.conn.UnderlyingConn().(*net.TCPConn); ok {
		_ = tc.SetLinger(0)
	}
	return wsConn.conn.Close()
}
