package pool

import (
	"math/bits"

	"go.uber.org/atomic"
)

/**  按尺寸分级的字节缓冲池
  *  每一级是一个有界的空闲链表（带缓冲的channel），满了直接丢弃交给GC
**/

const (
	minShift = 6 // 64B
	// DefaultMaxSize 超过这个尺寸的缓冲不入池
	DefaultMaxSize = 1 << 20
	// DefaultPerClass 每一级最多缓存的个数
	DefaultPerClass = 256
)

type Pool struct {
	classes []chan []byte
	maxSize int

	hits   atomic.Uint64
	misses atomic.Uint64
}

// New maxSize会被向上取整到2的幂；perClass<=0时使用默认值
func New(maxSize, perClass int) *Pool {
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	if perClass <= 0 {
		perClass = DefaultPerClass
	}
	top := classOf(maxSize)
	p := &Pool{
		classes: make([]chan []byte, top+1),
		maxSize: 1 << (top + minShift),
	}
	for i := range p.classes {
		p.classes[i] = make(chan []byte, perClass)
	}
	return p
}

// classOf 返回能装下n字节的最小级别
func classOf(n int) int {
	if n <= 1<<minShift {
		return 0
	}
	return bits.Len(uint(n-1)) - minShift
}

// ClassSize 第class级缓冲的容量
func ClassSize(class int) int {
	return 1 << (class + minShift)
}

// Get 返回长度为n的缓冲，容量是n所在级别的大小
func (p *Pool) Get(n int) []byte {
	if n > p.maxSize {
		p.misses.Inc()
		return make([]byte, n)
	}
	c := classOf(n)
	select {
	case b := <-p.classes[c]:
		p.hits.Inc()
		return b[:n]
	default:
		p.misses.Inc()
		return make([]byte, n, ClassSize(c))
	}
}

// Put 归还缓冲，容量不是某一级大小的缓冲会被丢弃
func (p *Pool) Put(b []byte) {
	size := cap(b)
	if size < 1<<minShift || size > p.maxSize || size&(size-1) != 0 {
		return
	}
	select {
	case p.classes[classOf(size)] <- b[:0]:
	default:
	}
}

// Stats 命中与未命中次数
func (p *Pool) Stats() (hits, misses uint64) {
	return p.hits.Load(), p.misses.Load()
}

// MaxSize 入池的最大缓冲尺寸
func (p *Pool) MaxSize() int {
	return p.maxSize
}
