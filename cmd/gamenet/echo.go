package main

import (
	"time"

	"github.com/YiuTerran/go-gamenet/base/log"
	"github.com/YiuTerran/go-gamenet/network/engine"
	"github.com/YiuTerran/go-gamenet/network/packet"
	"github.com/YiuTerran/go-gamenet/network/processor"
	"github.com/YiuTerran/go-gamenet/network/session"
)

// 示例应用的消息

type Echo struct {
	Text string `json:"text"`
}

type Ping struct {
	Seq    int64 `json:"seq"`
	SentAt int64 `json:"sentAt"`
}

type Pong struct {
	Seq        int64 `json:"seq"`
	SentAt     int64 `json:"sentAt"`
	ServerTime int64 `json:"serverTime"`
}

// Login 绑定玩家id
type Login struct {
	Player string `json:"player"`
}

// Bye 回复后关闭连接
type Bye struct{}

// echoApp 把收到的JSON消息原样或加工后回复
type echoApp struct {
	svc    *engine.Service
	proc   *processor.JsonProcessor
	logger log.Fields
}

func newEchoApp() (*echoApp, error) {
	app := &echoApp{
		proc:   processor.NewJsonProcessor(),
		logger: log.Fields{}.WithPrefix("echo"),
	}
	for _, msg := range []any{&Echo{}, &Ping{}, &Pong{}, &Login{}, &Bye{}} {
		if _, err := app.proc.Register(msg); err != nil {
			return nil, err
		}
	}
	handlers := map[any]processor.MsgHandler{
		&Echo{}: func(msg any, userData any) {
			app.reply(userData, msg, false)
		},
		&Ping{}: func(msg any, userData any) {
			ping := msg.(*Ping)
			app.reply(userData, &Pong{Seq: ping.Seq, SentAt: ping.SentAt, ServerTime: time.Now().UnixMilli()}, false)
		},
		&Login{}: func(msg any, userData any) {
			req := userData.(*engine.Request)
			if err := app.svc.Associate(req.Session, msg.(*Login).Player); err != nil {
				app.logger.Warn("login of session %s: %v", req.Session.ID(), err)
				return
			}
			app.reply(userData, msg, false)
		},
		&Bye{}: func(msg any, userData any) {
			app.reply(userData, msg, true)
		},
	}
	for msg, h := range handlers {
		if err := app.proc.SetHandler(msg, h); err != nil {
			return nil, err
		}
	}
	return app, nil
}

func (app *echoApp) reply(userData any, msg any, last bool) {
	req := userData.(*engine.Request)
	data, err := app.proc.Marshal(msg)
	if err != nil {
		app.logger.Error("marshal %T: %v", msg, err)
		return
	}
	_, err = app.svc.Write(engine.Response{
		Payload:    data,
		DataType:   packet.JSON,
		Recipients: []*session.Session{req.Session},
		Compress:   true,
		Encrypt:    req.Header.Encrypted,
		Last:       last,
	})
	if err != nil {
		app.logger.Warn("reply to session %s: %v", req.Session.ID(), err)
	}
}

// Handler 交给引擎的入口
func (app *echoApp) Handler() engine.Handler {
	return &echoHandler{
		Handler: processor.Handler(app.proc, nil),
		logger:  app.logger,
	}
}

type echoHandler struct {
	engine.Handler
	logger log.Fields
}

func (h *echoHandler) OnSessionOpen(s *session.Session) {
	h.logger.Debug("session opened: %s", s)
}

func (h *echoHandler) OnSessionClose(s *session.Session, reason error) {
	h.logger.Debug("session closed: %s, reason: %v", s, reason)
}
