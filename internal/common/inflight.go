package common

import "sync/atomic"

// Gate 单槽闸门：同一时刻最多一个持有者。
//
// TryEnter 失败时调用方直接返回（不排队、不阻塞），
// 用于保护每个市场状态机的转移函数。
type Gate struct {
	busy atomic.Bool
}

// TryEnter 尝试占用；成功返回 true，调用方必须随后 Leave。
func (g *Gate) TryEnter() bool {
	return g.busy.CompareAndSwap(false, true)
}

// Leave 释放占用；未占用时调用是 no-op。
func (g *Gate) Leave() {
	g.busy.Store(false)
}

// Busy 当前是否被占用
func (g *Gate) Busy() bool {
	return g.busy.Load()
}
