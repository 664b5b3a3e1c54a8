// 路口信号控制器
// 每tick根据各方向车流计数决定放行方向，保证最小绿灯时长与
// 黄灯过渡，并强制执行"至多一个非红"安全不变式
package signal

import (
	"errors"
	"flag"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/samber/lo"
	"github.com/tsinghua-fib-lab/roadside-agent/event"
)

var (
	minGreenTicks = flag.Int("tl.min_green_ticks", 3, "绿灯最小保持tick数")
	yellowTicks   = flag.Int("tl.yellow_ticks", 1, "黄灯保持tick数")
)

var (
	ErrBadApproach = errors.New("signal: approach index out of range")
)

// mode 控制器运行阶段
type mode int32

const (
	modeUninitialized mode = iota // 未初始化（全红）
	modeGreen                     // 绿灯保持阶段
	modeYellow                    // 黄灯过渡阶段
)

// Controller 路口信号控制器
// 功能：维护4个方向的信号相位状态机，按tick推进
// 并发说明：Update仅由tick循环调用；counts由外部写入（本机计数来自
// 检测管线/本地API，邻居计数来自同步客户端），states由Update写入、
// 外部只读，均为逐字段原子访问，tick循环内不做任何阻塞I/O
type Controller struct {
	bus *event.Bus

	counts [ApproachCount]atomic.Int32 // 各方向最近一次车流计数
	states [ApproachCount]atomic.Int32 // 已提交的各方向信号状态（LightState编码）

	// 以下字段仅tick循环访问
	committed [ApproachCount]LightState // 上一次提交的全局状态，用于冗余抑制
	mode      mode                      // 当前运行阶段
	timer     int32                     // 相位计时器，每次相位切换归零
	active    int                       // 当前绿灯/黄灯方向，-1表示无
	pending   int                       // 黄灯结束后转绿的目标方向，-1表示无

	transitions atomic.Int64 // 已提交的相位切换次数
}

// New 创建路口信号控制器
// 参数：bus-事件总线，可为nil（不发布事件）
// 返回：初始化完成的控制器实例，初始状态为全红
func New(bus *event.Bus) *Controller {
	return &Controller{bus: bus, active: -1, pending: -1}
}

// Update 推进一个tick
// 功能：执行相位状态机的核心逻辑，决定本tick的全局状态并提交
// 参数：step-当前tick数，仅用于日志与事件
// 算法说明：
// 1. 读取各方向最新计数，选出计数最大的目标方向（并列取索引最小者）
// 2. 未初始化：目标方向转绿，进入绿灯阶段
// 3. 绿灯阶段：目标方向变化且绿灯已保持满最小时长时，当前方向转黄，
//    进入黄灯阶段；未满最小时长则本tick不切换（防止绿灯被立即抢占）
// 4. 黄灯阶段：黄灯保持满时长后当前方向转红，黄灯开始时锁定的目标
//    方向转绿，回到绿灯阶段
// 5. 提交前校验"至少3个方向为红"不变式，违例则强制回到全红
// 6. 与上次提交逐元素相同的状态直接跳过，不产生日志与事件
func (c *Controller) Update(step int32) {
	var counts [ApproachCount]int32
	for i := range counts {
		counts[i] = c.counts[i].Load()
	}
	target := targetApproach(counts)

	next := c.committed
	c.timer++
	switch c.mode {
	case modeUninitialized:
		next = [ApproachCount]LightState{}
		next[target] = LightStateGreen
		c.active = target
		c.mode = modeGreen
	case modeGreen:
		if target != c.active && c.timer >= int32(*minGreenTicks) {
			next[c.active] = LightStateYellow
			c.pending = target
			c.mode = modeYellow
		}
	case modeYellow:
		if c.timer >= int32(*yellowTicks) {
			next[c.active] = LightStateRed
			next[c.pending] = LightStateGreen
			c.active = c.pending
			c.pending = -1
			c.mode = modeGreen
		}
	}

	// 安全不变式：至多一个非红
	if !validate(next) {
		log.Errorf("critical: step %d computed state %s violates red invariant, force all-red reset", step, formatState(next))
		c.mode = modeUninitialized
		c.active, c.pending = -1, -1
		c.timer = 0
		next = [ApproachCount]LightState{}
		if next != c.committed {
			c.commit(step, next, counts)
		}
		return
	}

	if next == c.committed {
		// 冗余抑制：状态无变化时不提交
		return
	}
	c.commit(step, next, counts)
	c.timer = 0
}

// commit 提交新的全局状态
// 功能：写入状态快照、记录切换日志并发布事件
func (c *Controller) commit(step int32, next [ApproachCount]LightState, counts [ApproachCount]int32) {
	c.committed = next
	for i, s := range next {
		c.states[i].Store(int32(s))
	}
	c.transitions.Add(1)
	log.Infof("step %d: %s", step, formatState(next))
	if c.bus != nil {
		states := make([]int32, ApproachCount)
		for i, s := range next {
			states[i] = int32(s)
		}
		c.bus.Publish(event.Event{
			Kind:    event.KindSignalChanged,
			Step:    step,
			States:  states,
			Counts:  counts[:],
			Message: formatState(next),
		})
	}
}

// targetApproach 选出目标放行方向
// 功能：返回计数最大的方向索引，并列时取索引最小者
func targetApproach(counts [ApproachCount]int32) int {
	indices := []int{0, 1, 2, 3}
	return lo.MaxBy(indices, func(a, b int) bool {
		return counts[a] > counts[b]
	})
}

// validate 校验全局状态的安全不变式
// 功能：检查至少3个方向为红（等价于至多一个非红）
func validate(states [ApproachCount]LightState) bool {
	red := 0
	for _, s := range states {
		if s == LightStateRed {
			red++
		}
	}
	return red >= ApproachCount-1
}

// formatState 生成全局状态的可读描述
func formatState(states [ApproachCount]LightState) string {
	parts := lo.Map(states[:], func(s LightState, i int) string {
		return fmt.Sprintf("%s=%s", ApproachName(i), s)
	})
	return strings.Join(parts, " ")
}

// SetSelfCount 写入本机方向的车流计数
// 参数：n-最新计数，负值按0处理
func (c *Controller) SetSelfCount(n int32) {
	if n < 0 {
		n = 0
	}
	c.counts[ApproachSelf].Store(n)
}

// SetNeighborCount 写入邻居方向的车流计数
// 参数：i-方向索引（1..3），n-最新计数
// 返回：索引越界时返回ErrBadApproach
func (c *Controller) SetNeighborCount(i int, n int32) error {
	if i <= ApproachSelf || i >= ApproachCount {
		return ErrBadApproach
	}
	if n < 0 {
		n = 0
	}
	c.counts[i].Store(n)
	return nil
}

// Count 获取指定方向的最新车流计数
func (c *Controller) Count(i int) int32 {
	if i < 0 || i >= ApproachCount {
		return 0
	}
	return c.counts[i].Load()
}

// SelfCount 获取本机方向的最新车流计数
func (c *Controller) SelfCount() int32 {
	return c.counts[ApproachSelf].Load()
}

// SelfSignal 获取本机方向的当前信号状态
func (c *Controller) SelfSignal() LightState {
	return LightState(c.states[ApproachSelf].Load())
}

// Snapshot 获取已提交的全局状态快照
func (c *Controller) Snapshot() [ApproachCount]LightState {
	var out [ApproachCount]LightState
	for i := range out {
		out[i] = LightState(c.states[i].Load())
	}
	return out
}

// Transitions 获取已提交的相位切换次数
func (c *Controller) Transitions() int64 {
	return c.transitions.Load()
}
