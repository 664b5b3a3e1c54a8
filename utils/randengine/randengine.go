// 随机数引擎，包装了golang.org/x/exp/rand，提供了一些常用的随机数生成方法
package randengine

import (
	"flag"
	"sync"

	"golang.org/x/exp/rand"
)

var (
	seedOffset = flag.Uint64("rand.seed_offset", 0, "seed offset") // 种子偏移量，用于调整随机数生成
)

// Engine 随机数引擎
// 功能：提供可复现的随机数生成功能，支持线程安全操作
// 说明：基于golang.org/x/exp/rand库，设备内所有随机行为（权重合成、
// 扰动索引选择、SIM模式车流采样）共用一个引擎以便回放
type Engine struct {
	*rand.Rand            // 底层随机数生成器
	mtx        sync.Mutex // 互斥锁，用于线程安全操作
}

// New 创建随机数引擎
// 功能：初始化一个新的随机数引擎实例
// 参数：seed-随机数种子
// 返回：随机数引擎指针
// 说明：种子偏移量允许在不修改代码的情况下调整随机数序列
func New(seed uint64) *Engine {
	return &Engine{Rand: rand.New(rand.NewSource(seed + *seedOffset))}
}

// Float64Safe 随机生成浮点数（线程安全）
// 功能：生成[0.0, 1.0)范围内的随机浮点数，支持多线程安全访问
// 返回：[0.0, 1.0)范围内的随机浮点数
func (e *Engine) Float64Safe() float64 {
	e.mtx.Lock()
	defer e.mtx.Unlock()
	return e.Float64()
}

// IntnSafe 随机生成整数（线程安全）
// 功能：在指定范围内生成随机整数，支持多线程安全访问
// 参数：n-范围上限（不包含）
// 返回：[0, n)范围内的随机整数
func (e *Engine) IntnSafe(n int) int {
	e.mtx.Lock()
	defer e.mtx.Unlock()
	return e.Intn(n)
}

// UniformSafe 随机生成指定区间内的浮点数（线程安全）
// 功能：生成[lo, hi)范围内的均匀分布随机浮点数
// 参数：lo-下界，hi-上界
// 返回：[lo, hi)范围内的随机浮点数
func (e *Engine) UniformSafe(lo, hi float64) float64 {
	e.mtx.Lock()
	defer e.mtx.Unlock()
	return lo + (hi-lo)*e.Float64()
}

// PermSafe 随机生成排列（线程安全）
// 功能：生成[0, n)的随机排列，用于无放回抽取索引子集
// 参数：n-排列长度
// 返回：长度为n的随机排列切片
func (e *Engine) PermSafe(n int) []int {
	e.mtx.Lock()
	defer e.mtx.Unlock()
	return e.Perm(n)
}
