package signal

// LightState 信号灯状态
// 说明：取值与跨tick持久化的全局状态编码一致（-1黄|0红|1绿），
// 红灯为零值，保证未初始化状态即为全红
type LightState int32

const (
	LightStateYellow LightState = -1 // 黄灯
	LightStateRed    LightState = 0  // 红灯
	LightStateGreen  LightState = 1  // 绿灯
)

// String 获取信号灯状态的字符串表示
// 说明：与协调服务器status帧中的signal字段取值一致
func (s LightState) String() string {
	switch s {
	case LightStateYellow:
		return "YELLOW"
	case LightStateGreen:
		return "GREEN"
	default:
		return "RED"
	}
}

const (
	// ApproachCount 单个路口参与协调的信号方向数（本机+至多3个邻居）
	ApproachCount = 4
	// ApproachSelf 本机方向的固定索引
	ApproachSelf = 0
)

// ApproachName 获取方向的可读名称
// 参数：i-方向索引（0本机，1..3邻居）
func ApproachName(i int) string {
	if i == ApproachSelf {
		return "self"
	}
	return "n" + string(rune('0'+i))
}
