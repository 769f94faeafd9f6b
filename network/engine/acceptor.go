package engine

import (
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/YiuTerran/go-gamenet/base/log"
	"github.com/YiuTerran/go-gamenet/base/structs/wg"
	"github.com/YiuTerran/go-gamenet/network"
	"go.uber.org/atomic"
	"go.uber.org/multierr"
)

// State 监听组件的生命周期
type State int32

const (
	Stopped State = iota
	SettingUp
	Running
	Stopping
)

func (s State) String() string {
	switch s {
	case Stopped:
		return "stopped"
	case SettingUp:
		return "setup"
	case Running:
		return "running"
	case Stopping:
		return "stopping"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

var (
	ErrInvalidState = errors.New("invalid acceptor state")
	ErrNoListener   = errors.New("no listener bound")
)

// Acceptor 管理所有监听器的绑定、服务和关闭
type Acceptor struct {
	state     atomic.Int32
	listeners []network.Listener
	bound     []network.Listener
	events    network.Events
	wg        *wg.WaitGroup
	logger    log.Fields
}

func NewAcceptor(events network.Events, listeners ...network.Listener) *Acceptor {
	return &Acceptor{
		listeners: listeners,
		events:    events,
		wg:        wg.NewWaitGroup("acceptor"),
		logger:    log.Fields{}.WithPrefix("acceptor"),
	}
}

func (a *Acceptor) State() State {
	return State(a.state.Load())
}

// Setup 绑定所有端口，单个端口失败只影响该传输；全部失败时返回ErrNoListener
// 返回的错误包含所有绑定失败的原因
func (a *Acceptor) Setup() error {
	if !a.state.CompareAndSwap(int32(Stopped), int32(SettingUp)) {
		return ErrInvalidState
	}
	var errs error
	a.bound = a.bound[:0]
	for _, l := range a.listeners {
		if err := l.Bind(); err != nil {
			a.logger.Error("fail to bind %s: %v", l.Kind(), err)
			errs = multierr.Append(errs, fmt.Errorf("bind %s: %w", l.Kind(), err))
			continue
		}
		a.bound = append(a.bound, l)
	}
	if len(a.bound) == 0 {
		a.state.Store(int32(Stopped))
		return multierr.Append(ErrNoListener, errs)
	}
	return errs
}

// Start 每个监听器一个协程
func (a *Acceptor) Start() error {
	if !a.state.CompareAndSwap(int32(SettingUp), int32(Running)) {
		return ErrInvalidState
	}
	for _, l := range a.bound {
		l := l
		a.wg.Go(func() {
			if err := l.Serve(a.events); err != nil {
				a.logger.Error("%s listener stopped: %v", l.Kind(), err)
			}
		})
	}
	return nil
}

// Stop 关闭所有监听器并等待它们退出，超时返回false
func (a *Acceptor) Stop(grace time.Duration) bool {
	if !a.state.CompareAndSwap(int32(Running), int32(Stopping)) &&
		!a.state.CompareAndSwap(int32(SettingUp), int32(Stopping)) {
		return true
	}
	for _, l := range a.bound {
		if err := l.Close(); err != nil {
			a.logger.Warn("fail to close %s listener: %v", l.Kind(), err)
		}
	}
	done := a.wg.WaitTimeout(grace)
	a.state.Store(int32(Stopped))
	return done
}

// Addrs 已绑定的地址
func (a *Acceptor) Addrs() map[network.TransportKind]net.Addr {
	addrs := make(map[network.TransportKind]net.Addr, len(a.bound))
	for _, l := range a.bound {
		addrs[l.Kind()] = l.Addr()
	}
	return addrs
}
