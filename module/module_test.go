package module

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type journal struct {
	mu      sync.Mutex
	entries []string
}

func (j *journal) add(s string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries = append(j.entries, s)
}

func (j *journal) get() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]string(nil), j.entries...)
}

type testMod struct {
	name    string
	initErr error
	j       *journal
}

func (m *testMod) Name() string { return m.name }

func (m *testMod) OnInit() error {
	m.j.add("init " + m.name)
	return m.initErr
}

func (m *testMod) Run(closeSig chan struct{}) {
	<-closeSig
	m.j.add("stop " + m.name)
}

func (m *testMod) OnDestroy() {
	m.j.add("destroy " + m.name)
}

func TestLoadAndDestroyOrder(t *testing.T) {
	j := &journal{}
	s := NewServer()
	require.NoError(t, s.Load(&testMod{name: "a", j: j}, &testMod{name: "b", j: j}))
	s.Destroy()
	assert.Equal(t, []string{"init a", "init b", "stop b", "destroy b", "stop a", "destroy a"}, j.get())
}

func TestInitFailureRollsBack(t *testing.T) {
	j := &journal{}
	boom := errors.New("boom")
	err := NewServer().Load(&testMod{name: "a", j: j}, &testMod{name: "b", j: j, initErr: boom})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, []string{"init a", "init b", "stop a", "destroy a"}, j.get())
}

func TestRunUntilContextDone(t *testing.T) {
	j := &journal{}
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	closed := false
	require.NoError(t, Run(ctx, []Module{&testMod{name: "a", j: j}}, func() { closed = true }))
	assert.True(t, closed)
	assert.Equal(t, []string{"init a", "stop a", "destroy a"}, j.get())
}
