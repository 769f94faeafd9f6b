package queue

import (
	"errors"
	"fmt"
	"strings"

	"github.com/YiuTerran/go-gamenet/network/packet"
)

// ErrQueueFull 默认策略下队列已满
var ErrQueueFull = errors.New("packet queue is full")

// PolicyViolationError 策略拒绝了该包（不一定是满了）
type PolicyViolationError struct {
	Policy string
	Reason string
}

func (err *PolicyViolationError) Error() string {
	return fmt.Sprintf("packet queue policy %s violated: %s", err.Policy, err.Reason)
}

// View 策略在队列锁内看到的视图
type View interface {
	Len() int
	Cap() int
	// At 第i个（从队头算起）
	At(i int) *packet.Packet
	// Evict 移除第i个并返回
	Evict(i int) *packet.Packet
	// Pinned 队头正在被writer发送的包数（0或1），这些包不能被移除
	Pinned() int
}

// Policy 准入策略，在Put持有队列锁时同步调用
// 返回nil表示可以入队（调用方保证此时队列有空位）；策略可以先腾出空间
type Policy interface {
	Name() string
	Admit(q View, p *packet.Packet) (evicted []*packet.Packet, err error)
}

const warnUsage = 0.9

// DefaultPolicy 满了拒绝；使用率超过90%时拒绝最低优先级的包
type DefaultPolicy struct{}

func (DefaultPolicy) Name() string { return "default" }

func (d DefaultPolicy) Admit(q View, p *packet.Packet) ([]*packet.Packet, error) {
	if q.Len() >= q.Cap() {
		return nil, ErrQueueFull
	}
	if p.Priority <= packet.Lowest && float64(q.Len()) >= warnUsage*float64(q.Cap()) {
		return nil, &PolicyViolationError{Policy: d.Name(), Reason: "queue almost full, lowest priority packet refused"}
	}
	return nil, nil
}

// DropOldestPolicy 满了丢弃队头，保证最新的状态能发出去
type DropOldestPolicy struct{}

func (DropOldestPolicy) Name() string { return "drop-oldest" }

func (DropOldestPolicy) Admit(q View, _ *packet.Packet) ([]*packet.Packet, error) {
	if q.Len() < q.Cap() {
		return nil, nil
	}
	// 队头可能正在被writer发送，不能丢
	start := q.Pinned()
	if start >= q.Len() {
		return nil, ErrQueueFull
	}
	return []*packet.Packet{q.Evict(start)}, nil
}

// PriorityPolicy 满了丢弃最旧的一个比新包优先级低的包，找不到则拒绝
type PriorityPolicy struct{}

func (PriorityPolicy) Name() string { return "priority" }

func (pp PriorityPolicy) Admit(q View, p *packet.Packet) ([]*packet.Packet, error) {
	if q.Len() < q.Cap() {
		return nil, nil
	}
	for i := q.Pinned(); i < q.Len(); i++ {
		if q.At(i).Priority >= p.Priority {
			continue
		}
		return []*packet.Packet{q.Evict(i)}, nil
	}
	return nil, &PolicyViolationError{Policy: pp.Name(), Reason: "no lower priority packet to evict"}
}

// ParsePolicy 配置名称转策略
func ParsePolicy(name string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "default", "reject":
		return DefaultPolicy{}, nil
	case "drop-oldest", "drop_oldest":
		return DropOldestPolicy{}, nil
	case "priority":
		return PriorityPolicy{}, nil
	}
	return nil, fmt.Errorf("unknown queue policy %q", name)
}
