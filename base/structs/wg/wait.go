package wg

import (
	"sync"
	"time"

	"github.com/YiuTerran/go-gamenet/base/log"
	"go.uber.org/atomic"
)

/**  可以监控还剩多少job的waiter
  *  @author tryao
  *  @date 2022/04/28 17:04
**/

const progressInterval = 3 * time.Second

type WaitGroup struct {
	real    sync.WaitGroup
	cnt     atomic.Int64
	name    string
	warnCnt atomic.Int64
}

func NewWaitGroup(name ...string) *WaitGroup {
	wg := &WaitGroup{name: "wg"}
	if len(name) > 0 {
		wg.name = name[0]
	}
	return wg
}

func (wg *WaitGroup) SetWarnCnt(warnCnt int64) {
	wg.warnCnt.Store(warnCnt)
}

func (wg *WaitGroup) Current() int64 {
	return wg.cnt.Load()
}

// Wait 阻塞直到所有任务完成，期间定时打印剩余任务数
func (wg *WaitGroup) Wait() {
	wg.WaitTimeout(0)
}

// WaitTimeout 最多等待timeout，返回是否全部完成；timeout<=0表示一直等
func (wg *WaitGroup) WaitTimeout(timeout time.Duration) bool {
	ch := make(chan struct{})
	go func() {
		wg.real.Wait()
		close(ch)
	}()
	var deadline <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		deadline = timer.C
	}
	ticker := time.NewTicker(progressInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ch:
			return true
		case <-deadline:
			log.Warn("%s still has %d task(s) after %v", wg.name, wg.Current(), timeout)
			return false
		case <-ticker.C:
			log.Info("%s waiting %d task to be done...", wg.name, wg.Current())
		}
	}
}

func (wg *WaitGroup) Add(delta int) {
	cur := wg.cnt.Add(int64(delta))
	if threshold := wg.warnCnt.Load(); threshold > 0 && cur > threshold {
		log.Warn("waitgroup %s wait %d, threshold:%d", wg.name, cur, threshold)
	}
	wg.real.Add(delta)
}

// Go 在新协程中执行f并自动计数
func (wg *WaitGroup) Go(f func()) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		f()
	}()
}

func (wg *WaitGroup) Done() {
	wg.cnt.Dec()
	wg.real.Done()
}
