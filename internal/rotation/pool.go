// Package rotation 提供轮询选择器，用于在多个API密钥、代理出口之间分摊调用。
package rotation

import (
	"sync"
)

// Pool 单个轮询池。构造时过滤零值，之后只能通过Next推进游标，不允许扩缩容。
type Pool[T comparable] struct {
	mu     sync.Mutex
	values []T
	cursor int
}

// NewPool 创建轮询池，零值（nil、空字符串等）在此处被丢弃
func NewPool[T comparable](values []T) *Pool[T] {
	var zero T
	filtered := make([]T, 0, len(values))
	for _, v := range values {
		if v != zero {
			filtered = append(filtered, v)
		}
	}
	return &Pool[T]{values: filtered}
}

// Next 返回游标处的元素并将游标前移一位（对长度取模）。
// 池为空时始终返回零值，调用方必须把零值视为"无可用凭证"。
func (p *Pool[T]) Next() T {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.nextLocked()
}

func (p *Pool[T]) nextLocked() T {
	var zero T
	n := len(p.values)
	// 最多扫描一整圈，跳过漏网的零值
	for i := 0; i < n; i++ {
		v := p.values[p.cursor]
		p.cursor = (p.cursor + 1) % n
		if v != zero {
			return v
		}
	}
	return zero
}

// CurrentIndex 返回下一次Next将要读取的下标，仅用于诊断
func (p *Pool[T]) CurrentIndex() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cursor
}

// Len 返回池中有效元素数量
func (p *Pool[T]) Len() int {
	return len(p.values)
}

// Values 返回池中元素的副本（按插入顺序）
func (p *Pool[T]) Values() []T {
	out := make([]T, len(p.values))
	copy(out, p.values)
	return out
}

// Registry 按整数池编号管理多个相互独立的轮询池（例如每个数据源一个）。
// 所有池的游标读写由同一把互斥锁串行化。
type Registry[T comparable] struct {
	mu    sync.Mutex
	pools map[int]*Pool[T]
}

// NewRegistry 创建轮询池注册表
func NewRegistry[T comparable]() *Registry[T] {
	return &Registry[T]{pools: make(map[int]*Pool[T])}
}

// Register 以给定编号注册轮询池，同一编号只能注册一次，重复注册返回false
func (r *Registry[T]) Register(index int, values []T) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.pools[index]; exists {
		return false
	}
	r.pools[index] = NewPool(values)
	return true
}

// Next 从指定编号的池中取下一个值；未注册的编号返回零值
func (r *Registry[T]) Next(index int) T {
	r.mu.Lock()
	defer r.mu.Unlock()

	pool, ok := r.pools[index]
	if !ok {
		var zero T
		return zero
	}
	return pool.nextLocked()
}

// CurrentIndex 返回指定编号池的游标位置；未注册的编号返回-1
func (r *Registry[T]) CurrentIndex(index int) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	pool, ok := r.pools[index]
	if !ok {
		return -1
	}
	return pool.cursor
}

// Len 返回已注册的池数量
func (r *Registry[T]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pools)
}
