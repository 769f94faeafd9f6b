package session

import (
	"sync"
	"testing"
	"time"

	"github.com/YiuTerran/go-gamenet/base/structs/mock"
	"github.com/YiuTerran/go-gamenet/network"
	"github.com/YiuTerran/go-gamenet/network/codec"
	"github.com/YiuTerran/go-gamenet/network/packet"
	"github.com/YiuTerran/go-gamenet/network/queue"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestRegisterAndLookup(t *testing.T) {
	m := NewManager(WithFramer(codec.New(), nil))
	h := mock.NewHandle(network.TCP, "10.0.0.1:5000")
	s, err := m.Register(h)
	require.NoError(t, err)
	assert.NotEmpty(t, s.ID())
	assert.Equal(t, network.TCP, s.Kind())
	assert.Same(t, h, s.Handle().(*mock.Handle))
	assert.NotNil(t, s.Framer())
	assert.True(t, s.Activated())
	assert.Equal(t, NotAssociated, s.State())

	got, ok := m.Lookup(h)
	require.True(t, ok)
	assert.Same(t, s, got)
	got, ok = m.LookupByID(s.ID())
	require.True(t, ok)
	assert.Same(t, s, got)
	assert.Equal(t, 1, m.Count())

	_, err = m.Register(h)
	assert.ErrorIs(t, err, ErrDuplicateHandle)

	ws, err := m.Register(mock.NewHandle(network.WebSocket, "10.0.0.1:5001"))
	require.NoError(t, err)
	assert.Nil(t, ws.Framer())
}

func TestRemove(t *testing.T) {
	var removed []*Session
	m := NewManager(WithRemoveHook(func(s *Session, _ error) {
		removed = append(removed, s)
	}))
	h := mock.NewHandle(network.TCP, "10.0.0.1:5000")
	s, err := m.Register(h)
	require.NoError(t, err)
	_, err = s.Enqueue(packet.New([]byte("pending")))
	require.NoError(t, err)

	assert.True(t, m.Remove(s, nil))
	assert.False(t, m.Remove(s, nil))
	assert.False(t, s.Activated())
	assert.Equal(t, Done, s.State())
	assert.Equal(t, 0, m.Count())
	assert.Len(t, removed, 1)
	assert.Equal(t, uint64(1), s.Counters().Dropped)

	_, ok := m.Lookup(h)
	assert.False(t, ok)
	_, ok = m.LookupByID(s.ID())
	assert.False(t, ok)

	_, err = s.Enqueue(packet.New([]byte("late")))
	assert.ErrorIs(t, err, ErrSessionInactive)
	assert.ErrorIs(t, s.Associate("player"), ErrSessionInactive)
}

func TestSweepIdle(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1000, 0)}
	m := NewManager(WithClock(clock.Now))
	normal, _ := m.Register(mock.NewHandle(network.TCP, "10.0.0.1:1"))
	vip, _ := m.Register(mock.NewHandle(network.TCP, "10.0.0.1:2"))
	vip.SetNeverDeport(true)
	busy, _ := m.Register(mock.NewHandle(network.UDP, "10.0.0.1:3"))

	clock.Advance(20 * time.Second)
	busy.OnRead(10, 1, clock.Now())
	clock.Advance(15 * time.Second)

	// 普通上限30s，never deport上限60s
	closed := m.SweepIdle(30*time.Second, 60*time.Second)
	require.Len(t, closed, 1)
	assert.Same(t, normal, closed[0])
	assert.True(t, vip.Activated())
	assert.True(t, busy.Activated())

	clock.Advance(30 * time.Second)
	closed = m.SweepIdle(30*time.Second, 60*time.Second)
	assert.ElementsMatch(t, []*Session{vip, busy}, closed)
	assert.Equal(t, 0, m.Count())
}

func TestSweepIdleDisabled(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1000, 0)}
	m := NewManager(WithClock(clock.Now))
	_, _ = m.Register(mock.NewHandle(network.TCP, "10.0.0.1:1"))
	clock.Advance(time.Hour)
	assert.Empty(t, m.SweepIdle(0, 0))
	assert.Equal(t, 1, m.Count())
}

func TestCountersAndQueueDepths(t *testing.T) {
	m := NewManager(WithQueueCapacity(2), WithPolicy(queue.DefaultPolicy{}))
	s, _ := m.Register(mock.NewHandle(network.TCP, "10.0.0.1:1"))
	now := time.Now()
	s.OnRead(100, 2, now)
	s.OnRead(50, 1, now)
	s.OnWrite(30, false, now)
	s.OnWrite(20, true, now)

	for i := 0; i < 3; i++ {
		_, _ = s.Enqueue(packet.New([]byte{byte(i)}))
	}
	c := s.Counters()
	assert.Equal(t, uint64(150), c.ReadBytes)
	assert.Equal(t, uint64(3), c.ReadPackets)
	assert.Equal(t, uint64(50), c.WrittenBytes)
	assert.Equal(t, uint64(1), c.WrittenPackets)
	assert.Equal(t, uint64(1), c.Dropped)
	assert.Equal(t, map[string]int{s.ID(): 2}, m.QueueDepths())
	assert.False(t, s.LastReadTime().IsZero())
	assert.False(t, s.LastWriteTime().IsZero())
}

func TestAssociateAndSchedule(t *testing.T) {
	m := NewManager()
	s, _ := m.Register(mock.NewHandle(network.TCP, "10.0.0.1:1"))
	require.NoError(t, s.Associate("player-1"))
	assert.Equal(t, "player-1", s.Owner())
	assert.Equal(t, Associated, s.State())
	assert.ErrorIs(t, s.Associate("player-2"), ErrAlreadyAssociated)

	assert.True(t, s.TrySchedule())
	assert.False(t, s.TrySchedule())
	s.Unschedule()
	assert.True(t, s.TrySchedule())
}

func TestConcurrentRegister(t *testing.T) {
	m := NewManager()
	h := mock.NewHandle(network.TCP, "10.0.0.1:1")
	var wg sync.WaitGroup
	var mu sync.Mutex
	success := 0
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := m.Register(h); err == nil {
				mu.Lock()
				success++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, success)
	assert.Equal(t, 1, m.Count())
}
