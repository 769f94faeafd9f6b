package set

/**
  *  @author tryao
  *  @date 2022/03/18 14:15
**/

import "sync"

// Set 是基于map做的并发安全Set
// 零值不可用，使用NewSet构造
type Set[T comparable] struct {
	mu     sync.RWMutex
	values map[T]struct{}
}

func NewSet[T comparable](items ...T) *Set[T] {
	r := &Set[T]{values: make(map[T]struct{}, len(items))}
	for _, item := range items {
		r.values[item] = struct{}{}
	}
	return r
}

func (set *Set[T]) AddItem(items ...T) *Set[T] {
	set.mu.Lock()
	for _, item := range items {
		set.values[item] = struct{}{}
	}
	set.mu.Unlock()
	return set
}

// TryAdd 仅当item不存在时添加，返回是否添加成功
func (set *Set[T]) TryAdd(item T) bool {
	set.mu.Lock()
	defer set.mu.Unlock()
	if _, ok := set.values[item]; ok {
		return false
	}
	set.values[item] = struct{}{}
	return true
}

func (set *Set[T]) RemoveItem(items ...T) *Set[T] {
	set.mu.Lock()
	for _, item := range items {
		delete(set.values, item)
	}
	set.mu.Unlock()
	return set
}

func (set *Set[T]) Contains(item T) bool {
	set.mu.RLock()
	_, ok := set.values[item]
	set.mu.RUnlock()
	return ok
}

func (set *Set[T]) Size() int {
	set.mu.RLock()
	defer set.mu.RUnlock()
	return len(set.values)
}

// ToArray 转为数组，顺序不固定
func (set *Set[T]) ToArray() []T {
	set.mu.RLock()
	defer set.mu.RUnlock()
	r := make([]T, 0, len(set.values))
	for t := range set.values {
		r = append(r, t)
	}
	return r
}

// ForEach 遍历快照，回调里可以安全地修改set
func (set *Set[T]) ForEach(f func(T)) {
	for _, t := range set.ToArray() {
		f(t)
	}
}

// Drain 清空并返回清空前的所有元素
func (set *Set[T]) Drain() []T {
	set.mu.Lock()
	defer set.mu.Unlock()
	r := make([]T, 0, len(set.values))
	for t := range set.values {
		r = append(r, t)
	}
	set.values = make(map[T]struct{})
	return r
}
