package stats

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSnapshot(t *testing.T) {
	s := New()
	s.ReadBytes.Add(10)
	s.DroppedByFull.Inc()
	s.DroppedByPolicy.Add(2)
	s.DroppedInactive.Inc()
	s.Sessions.Inc()

	snap := s.Snapshot(map[string]int{"a": 3})
	assert.Equal(t, uint64(10), snap.ReadBytes)
	assert.Equal(t, uint64(4), snap.Dropped())
	assert.Equal(t, int64(1), snap.Sessions)
	assert.Equal(t, 3, snap.QueueDepths["a"])

	// 快照不随后续修改变化
	s.ReadBytes.Add(5)
	assert.Equal(t, uint64(10), snap.ReadBytes)
}
