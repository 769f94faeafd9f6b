package filter

import (
	"fmt"
	"net"
	"sync"

	"github.com/YiuTerran/go-gamenet/base/log"
	"github.com/YiuTerran/go-gamenet/base/util/netutil"
	"golang.org/x/time/rate"
)

/**  连接过滤：封禁地址、单个地址的最大连接数、单个地址的建连速率
**/

// RefusedAddressError 连接被过滤器拒绝
type RefusedAddressError struct {
	Host   string
	Reason string
}

func (e *RefusedAddressError) Error() string {
	return fmt.Sprintf("address %s refused: %s", e.Host, e.Reason)
}

const (
	ReasonBanned   = "banned"
	ReasonTooMany  = "too many connections"
	ReasonTooOften = "accept rate exceeded"
)

type Option func(f *Filter)

// WithMaxConnectionsPerAddress <=0表示不限制
func WithMaxConnectionsPerAddress(max int) Option {
	return func(f *Filter) {
		f.maxPerAddress = max
	}
}

// WithAcceptRate 每个地址每秒最多建立perSecond个连接，<=0表示不限制
func WithAcceptRate(perSecond float64, burst int) Option {
	return func(f *Filter) {
		f.acceptRate = rate.Limit(perSecond)
		if burst <= 0 {
			burst = 1
		}
		f.burst = burst
	}
}

func WithBanList(bans BanList) Option {
	return func(f *Filter) {
		f.bans = bans
	}
}

type Filter struct {
	mu       sync.Mutex
	counts   map[string]int
	limiters map[string]*rate.Limiter

	maxPerAddress int
	acceptRate    rate.Limit
	burst         int
	bans          BanList
	logger        log.Fields
}

func New(opts ...Option) *Filter {
	f := &Filter{
		counts:   make(map[string]int),
		limiters: make(map[string]*rate.Limiter),
		bans:     NewMemoryBanList(),
		logger:   log.Fields{}.WithPrefix("filter"),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Validate 通过时占用该地址的一个名额，会话结束后必须调用Release
func (f *Filter) Validate(addr net.Addr) error {
	host := netutil.HostOf(addr)
	if f.bans.IsBanned(host) {
		return &RefusedAddressError{Host: host, Reason: ReasonBanned}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.maxPerAddress > 0 && f.counts[host] >= f.maxPerAddress {
		return &RefusedAddressError{Host: host, Reason: ReasonTooMany}
	}
	if f.acceptRate > 0 {
		limiter, ok := f.limiters[host]
		if !ok {
			limiter = rate.NewLimiter(f.acceptRate, f.burst)
			f.limiters[host] = limiter
		}
		if !limiter.Allow() {
			return &RefusedAddressError{Host: host, Reason: ReasonTooOften}
		}
	}
	f.counts[host]++
	return nil
}

// Release 归还Validate占用的名额
func (f *Filter) Release(addr net.Addr) {
	host := netutil.HostOf(addr)
	f.mu.Lock()
	defer f.mu.Unlock()
	n, ok := f.counts[host]
	if !ok {
		return
	}
	if n <= 1 {
		delete(f.counts, host)
		// 令牌已经回满的限速器可以丢掉，下次重新创建效果一样
		if limiter, ok := f.limiters[host]; ok && limiter.Tokens() >= float64(f.burst) {
			delete(f.limiters, host)
		}
		return
	}
	f.counts[host] = n - 1
}

// SweepLimiters 丢掉没有活跃连接且令牌已经回满的限速器，返回丢掉的个数
// 被限速拒绝的地址从未占用名额，它们的限速器只能在这里回收
func (f *Filter) SweepLimiters() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	swept := 0
	for host, limiter := range f.limiters {
		if f.counts[host] > 0 || limiter.Tokens() < float64(f.burst) {
			continue
		}
		delete(f.limiters, host)
		swept++
	}
	return swept
}

// Limiters 当前保留的限速器个数
func (f *Filter) Limiters() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.limiters)
}

func (f *Filter) Count(host string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.counts[host]
}

func (f *Filter) Ban(host string) error {
	f.logger.Info("ban %s", host)
	return f.bans.Ban(host)
}

func (f *Filter) Unban(host string) error {
	f.logger.Info("unban %s", host)
	return f.bans.Unban(host)
}

func (f *Filter) IsBanned(host string) bool {
	return f.bans.IsBanned(host)
}

func (f *Filter) Banned() []string {
	return f.bans.List()
}

func (f *Filter) Close() error {
	return f.bans.Close()
}
