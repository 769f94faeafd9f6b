package module

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/YiuTerran/go-gamenet/base/log"
	"go.uber.org/multierr"
)

/**  进程内的模块，按顺序启动，收到退出信号后逆序销毁
  *  @author tryao
  *  @date 2022/03/21 11:06
**/

type Module interface {
	Name() string
	// OnInit 失败时已经启动的模块会被逆序销毁
	OnInit() error
	// Run 阻塞直到closeSig被关闭
	Run(closeSig chan struct{})
	OnDestroy()
}

type mod struct {
	mi       Module
	closeSig chan struct{}
	wg       sync.WaitGroup
}

// Server 一组静态加载的模块
type Server struct {
	lock sync.Mutex
	mods []*mod
}

func NewServer() *Server {
	return &Server{}
}

// Load 按顺序初始化并运行模块
func (s *Server) Load(mis ...Module) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	for _, mi := range mis {
		if err := initMod(mi); err != nil {
			s.destroyAll()
			return fmt.Errorf("init module %s: %w", mi.Name(), err)
		}
		m := &mod{mi: mi, closeSig: make(chan struct{})}
		m.wg.Add(1)
		go run(m)
		s.mods = append(s.mods, m)
		log.Info("module registered: %s", mi.Name())
	}
	return nil
}

func initMod(mi Module) (err error) {
	defer func() {
		if r := recover(); r != nil {
			log.PanicStack(fmt.Sprintf("panic when init module %s", mi.Name()), r)
			err = multierr.Append(err, fmt.Errorf("panic: %v", r))
		}
	}()
	return mi.OnInit()
}

// Destroy 逆序销毁所有模块
func (s *Server) Destroy() {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.destroyAll()
}

func (s *Server) destroyAll() {
	for i := len(s.mods) - 1; i >= 0; i-- {
		destroyMod(s.mods[i])
	}
	s.mods = nil
}

func destroyMod(m *mod) {
	defer func() {
		if r := recover(); r != nil {
			log.PanicStack(fmt.Sprintf("panic when destroy module %s", m.mi.Name()), r)
		}
	}()
	close(m.closeSig)
	m.wg.Wait()
	m.mi.OnDestroy()
	log.Info("module destroyed: %s", m.mi.Name())
}

func run(m *mod) {
	defer m.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			log.PanicStack(fmt.Sprintf("module %s", m.mi.Name()), r)
		}
	}()
	m.mi.Run(m.closeSig)
}

// Run 加载模块后阻塞，直到ctx结束或者收到SIGINT/SIGTERM
// beforeClose在所有模块销毁前执行
func Run(ctx context.Context, mis []Module, beforeClose func()) error {
	log.Info("Server starting up...")
	s := NewServer()
	if err := s.Load(mis...); err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()
	if beforeClose != nil {
		beforeClose()
	}
	s.Destroy()
	log.Info("Server closing down...")
	return nil
}
