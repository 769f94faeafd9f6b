package processor

import (
	"errors"
	"fmt"
	"reflect"

	"github.com/YiuTerran/go-gamenet/base/log"
	"github.com/YiuTerran/go-gamenet/network"
	"github.com/YiuTerran/go-gamenet/network/engine"
)

/**  应用层消息的序列化与分发
  *  Unmarshal得到的消息交给Route，按消息类型找到注册的回调
**/

var ErrNotRegistered = errors.New("message not registered")

// MsgHandler 消息回调，userData一般是*engine.Request
type MsgHandler func(msg any, userData any)

// RawHandler 不反序列化，直接拿到消息体
type RawHandler func(id any, data []byte, userData any)

// ErrorFunc 消息无法处理时回调
type ErrorFunc func(req *engine.Request, err error)

// Handler 把处理器适配成引擎的Handler
// onError为nil时只记日志
func Handler(p network.MsgProcessor, onError ErrorFunc) engine.Handler {
	logger := log.Fields{}.WithPrefix("processor")
	if onError == nil {
		onError = func(req *engine.Request, err error) {
			logger.Warn("drop message from session %s: %v", req.Session.ID(), err)
		}
	}
	return engine.HandlerFunc(func(req *engine.Request) {
		msg, err := p.Unmarshal(req.Payload)
		if err != nil {
			onError(req, err)
			return
		}
		if err = p.Route(msg, req); err != nil {
			onError(req, err)
		}
	})
}

func msgPointerType(msg any) (reflect.Type, error) {
	msgType := reflect.TypeOf(msg)
	if msgType == nil || msgType.Kind() != reflect.Ptr {
		return nil, fmt.Errorf("message pointer required, got %T", msg)
	}
	return msgType, nil
}
