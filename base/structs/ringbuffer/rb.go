package ringbuffer

//参考smallnest/ringbuffer的泛型版本
//容量固定，写满以后返回ErrIsFull，不会覆盖旧数据
//RingBuffer本身不加锁，由调用方（如发送队列）在自己的锁内使用

import (
	"errors"
)

var (
	ErrIsFull     = errors.New("ring buffer is full")
	ErrIsEmpty    = errors.New("ring buffer is empty")
	ErrOutOfRange = errors.New("ring buffer index out of range")
)

// RingBuffer is a fixed-size circular FIFO of T.
type RingBuffer[T any] struct {
	buf    []T
	size   int
	r      int // next position to read
	w      int // next position to write
	isFull bool
}

// New returns a new RingBuffer whose buffer has the given size.
func New[T any](size int) *RingBuffer[T] {
	if size <= 0 {
		size = 1
	}
	return &RingBuffer[T]{
		buf:  make([]T, size),
		size: size,
	}
}

// WriteItem appends one item, ErrIsFull if there is no room.
func (r *RingBuffer[T]) WriteItem(c T) error {
	if r.isFull {
		return ErrIsFull
	}
	r.buf[r.w] = c
	r.w = r.next(r.w)
	if r.w == r.r {
		r.isFull = true
	}
	return nil
}

// ReadItem removes and returns the oldest item or ErrIsEmpty.
func (r *RingBuffer[T]) ReadItem() (b T, err error) {
	if r.IsEmpty() {
		err = ErrIsEmpty
		return
	}
	var zero T
	b = r.buf[r.r]
	// 释放引用，避免大对象迟迟不能回收
	r.buf[r.r] = zero
	r.r = r.next(r.r)
	r.isFull = false
	return
}

// PeekItem returns the oldest item without removing it.
func (r *RingBuffer[T]) PeekItem() (b T, err error) {
	if r.IsEmpty() {
		err = ErrIsEmpty
		return
	}
	return r.buf[r.r], nil
}

// At returns the i-th item counted from the read position.
func (r *RingBuffer[T]) At(i int) (b T, err error) {
	if i < 0 || i >= r.Length() {
		err = ErrOutOfRange
		return
	}
	return r.buf[(r.r+i)%r.size], nil
}

// RemoveAt removes the i-th item counted from the read position, keeping the order of the rest.
func (r *RingBuffer[T]) RemoveAt(i int) (b T, err error) {
	n := r.Length()
	if i < 0 || i >= n {
		err = ErrOutOfRange
		return
	}
	if i == 0 {
		return r.ReadItem()
	}
	b = r.buf[(r.r+i)%r.size]
	for j := i; j < n-1; j++ {
		r.buf[(r.r+j)%r.size] = r.buf[(r.r+j+1)%r.size]
	}
	var zero T
	r.w = (r.w - 1 + r.size) % r.size
	r.buf[r.w] = zero
	r.isFull = false
	return b, nil
}

// Length return the length of available read items.
func (r *RingBuffer[T]) Length() int {
	if r.w == r.r {
		if r.isFull {
			return r.size
		}
		return 0
	}
	if r.w > r.r {
		return r.w - r.r
	}
	return r.size - r.r + r.w
}

// Capacity returns the size of the underlying buffer.
func (r *RingBuffer[T]) Capacity() int {
	return r.size
}

// FreeLength returns the length of available items to write.
func (r *RingBuffer[T]) FreeLength() int {
	return r.size - r.Length()
}

// Items returns a copy of all available items in read order.
func (r *RingBuffer[T]) Items() []T {
	n := r.Length()
	buf := make([]T, n)
	for i := 0; i < n; i++ {
		buf[i] = r.buf[(r.r+i)%r.size]
	}
	return buf
}

func (r *RingBuffer[T]) IsFull() bool {
	return r.isFull
}

func (r *RingBuffer[T]) IsEmpty() bool {
	return !r.isFull && r.w == r.r
}

// Reset drops every item.
func (r *RingBuffer[T]) Reset() {
	var zero T
	for i := range r.buf {
		r.buf[i] = zero
	}
	r.r = 0
	r.w = 0
	r.isFull = false
}

func (r *RingBuffer[T]) next(i int) int {
	i++
	if i == r.size {
		return 0
	}
	return i
}
