// 提供类型化的事件总线，解耦控制器/同步客户端与UI、记录等下游消费者
package event

import (
	"time"

	"github.com/sirupsen/logrus"
)

// log 事件模块的日志记录器
var log = logrus.WithField("module", "event")

// Kind 事件类型
type Kind int32

const (
	KindRegistered     Kind = iota // 注册成功
	KindConnected                  // 双工通道建立
	KindDisconnected               // 双工通道断开
	KindReconnecting               // 进入重连等待
	KindSignalChanged              // 信号相位切换
	KindNeighborUpdate             // 收到邻居广播
	KindUpdateAccepted             // 模型更新被接受
	KindUpdateRejected             // 模型更新被拒绝（哈希不一致等）
	KindUpdateFailed               // 模型更新提交失败（网络错误）
)

// String 获取事件类型的字符串表示
func (k Kind) String() string {
	switch k {
	case KindRegistered:
		return "registered"
	case KindConnected:
		return "connected"
	case KindDisconnected:
		return "disconnected"
	case KindReconnecting:
		return "reconnecting"
	case KindSignalChanged:
		return "signal_changed"
	case KindNeighborUpdate:
		return "neighbor_update"
	case KindUpdateAccepted:
		return "update_accepted"
	case KindUpdateRejected:
		return "update_rejected"
	case KindUpdateFailed:
		return "update_failed"
	default:
		return "unknown"
	}
}

// Event 带标签的事件
// 功能：承载一次状态变化的全部信息，按Kind区分有效字段
// 说明：替代原设计中面向UI框架的回调，下游只依赖本结构
type Event struct {
	Kind Kind      // 事件类型
	Time time.Time // 事件发生时间

	Message string // 人类可读描述

	// KindSignalChanged
	Step   int32   // 发生切换的tick数
	States []int32 // 切换后的全局状态编码（-1黄|0红|1绿）
	Counts []int32 // 切换时各方向车流计数

	// KindUpdateAccepted / KindUpdateRejected
	Digest     string // 本地计算的内容哈希
	ServerHash string // 协调服务器回报的哈希（拒绝诊断用）

	// KindNeighborUpdate
	ActiveDevices int32 // 协调服务器侧在线设备数
}

// Bus 事件总线
// 功能：提供非阻塞的事件发布与单消费者订阅
// 说明：缓冲满时丢弃新事件并记录debug日志，发布方（tick循环、
// 通道读协程）绝不因下游消费慢而阻塞
type Bus struct {
	ch chan Event
}

// NewBus 创建事件总线
// 参数：size-缓冲区大小
func NewBus(size int) *Bus {
	return &Bus{ch: make(chan Event, size)}
}

// Publish 发布事件（非阻塞）
// 功能：将事件写入缓冲区，缓冲区满时丢弃
// 参数：e-待发布事件
func (b *Bus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	select {
	case b.ch <- e:
	default:
		log.Debugf("bus full, drop event %v", e.Kind)
	}
}

// Events 获取事件读取通道
func (b *Bus) Events() <-chan Event {
	return b.ch
}

// Close 关闭事件总线
// 说明：仅在所有发布方停止后由拥有者调用
func (b *Bus) Close() {
	close(b.ch)
}
