package ringbuffer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRingBufferFIFO(t *testing.T) {
	rb := New[int](3)
	require.NoError(t, rb.WriteItem(1))
	require.NoError(t, rb.WriteItem(2))
	require.NoError(t, rb.WriteItem(3))
	assert.True(t, rb.IsFull())
	assert.ErrorIs(t, rb.WriteItem(4), ErrIsFull)

	v, err := rb.ReadItem()
	require.NoError(t, err)
	assert.Equal(t, 1, v)

	require.NoError(t, rb.WriteItem(4))
	assert.Equal(t, []int{2, 3, 4}, rb.Items())

	head, err := rb.PeekItem()
	require.NoError(t, err)
	assert.Equal(t, 2, head)
	assert.Equal(t, 3, rb.Length())
}

func TestRingBufferEmpty(t *testing.T) {
	rb := New[string](2)
	_, err := rb.ReadItem()
	assert.ErrorIs(t, err, ErrIsEmpty)
	_, err = rb.PeekItem()
	assert.ErrorIs(t, err, ErrIsEmpty)
	assert.Equal(t, 2, rb.FreeLength())
}

func TestRingBufferRemoveAt(t *testing.T) {
	rb := New[int](4)
	for i := 1; i <= 4; i++ {
		require.NoError(t, rb.WriteItem(i))
	}
	// 制造回绕
	_, _ = rb.ReadItem()
	_, _ = rb.ReadItem()
	require.NoError(t, rb.WriteItem(5))
	require.NoError(t, rb.WriteItem(6))
	assert.Equal(t, []int{3, 4, 5, 6}, rb.Items())

	v, err := rb.RemoveAt(2)
	require.NoError(t, err)
	assert.Equal(t, 5, v)
	assert.Equal(t, []int{3, 4, 6}, rb.Items())

	_, err = rb.RemoveAt(3)
	assert.ErrorIs(t, err, ErrOutOfRange)

	v, err = rb.At(1)
	require.NoError(t, err)
	assert.Equal(t, 4, v)

	rb.Reset()
	assert.True(t, rb.IsEmpty())
}
