package clock

import (
	"fmt"
	"sync/atomic"

	"github.com/tsinghua-fib-lab/roadside-agent/utils/config"
)

// Clock 设备时钟管理器
// 功能：管理控制器tick的推进，维护当前tick数与运行时间
// 说明：tick数由tick循环单写，其他协程（状态推送、本地API）只读
type Clock struct {
	DT float64 // 每个tick的时间间隔（秒）

	step atomic.Int32 // 当前tick数
}

// New 根据配置创建新的时钟实例
// 功能：根据控制步配置初始化时钟
// 参数：stepConfig-控制步配置，包含tick时间间隔
// 返回：初始化完成的时钟实例
func New(stepConfig config.ControlStep) *Clock {
	return &Clock{DT: stepConfig.Interval}
}

// Tick 推进一个tick
// 功能：tick数加一，由tick循环在每个周期调用一次
// 返回：推进后的tick数
func (c *Clock) Tick() int32 {
	return c.step.Add(1)
}

// Step 获取当前tick数
func (c *Clock) Step() int32 {
	return c.step.Load()
}

// T 获取当前运行时间（秒）
func (c *Clock) T() float64 {
	return float64(c.step.Load()) * c.DT
}

// String 获取时钟的字符串表示
// 功能：将当前运行时间格式化为可读的字符串
// 返回：格式化的时间字符串（HH:MM:SS）
func (c *Clock) String() string {
	t := c.T()
	h := int(t / 3600)
	t -= float64(h * 3600)
	m := int(t / 60)
	t -= float64(m * 60)
	s := int(t)
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}
