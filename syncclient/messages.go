package syncclient

import "encoding/json"

// 协调服务器接口报文定义
// HTTP接口：POST /register、POST /fl-update
// 双工通道：ws://.../ws/{client_id}，JSON帧，按type字段区分

// RegistrationRequest 注册请求
type RegistrationRequest struct {
	Name             string `json:"name"`              // 设备展示名
	IntersectionType string `json:"intersection_type"` // 路口类型（3-way|4-way）
	Position         string `json:"position"`          // 路口位置槽位
}

// RegistrationResponse 注册响应
type RegistrationResponse struct {
	ClientID       string    `json:"client_id"`                 // 协调服务器分配的客户端ID
	InitialWeights []float64 `json:"initial_weights,omitempty"` // 初始权重向量，可为空
	Message        string    `json:"message,omitempty"`         // 附加说明
}

// UpdateMetadata 模型更新元数据
type UpdateMetadata struct {
	Timestamp    int64  `json:"timestamp"`     // 更新产生时间（unix秒）
	ModelVersion string `json:"model_version"` // 模型版本标签
}

// UpdateRequest 模型更新请求
// 说明：UpdatedWeights保存序列化后的原始字节，签名对这些字节计算，
// 保证哈希范围与实际传输内容严格一致
type UpdateRequest struct {
	ClientID       string          `json:"client_id"`       // 客户端ID
	UpdatedWeights json.RawMessage `json:"updated_weights"` // 传输的权重子集（JSON数组原始字节）
	Metadata       UpdateMetadata  `json:"metadata"`        // 元数据
	Signature      string          `json:"signature"`       // 子集内容的sha256十六进制摘要
}

// UpdateResponse 模型更新响应
type UpdateResponse struct {
	Status     string `json:"status"`                // accepted或其他
	Verified   bool   `json:"verified"`              // 服务器侧哈希校验结果
	ServerHash string `json:"server_hash,omitempty"` // 服务器侧计算的哈希（诊断用）
	Error      string `json:"error,omitempty"`       // 错误说明
}

// Neighbor 邻居信号描述
// 说明：来自neighbor_update帧，列表顺序即邻居方向顺序
type Neighbor struct {
	Pos    string `json:"pos,omitempty"` // 路口位置槽位
	Name   string `json:"name"`          // 设备展示名
	IP     string `json:"ip"`            // 设备地址
	Signal string `json:"signal"`        // 信号状态（RED|YELLOW|GREEN）
	Count  int32  `json:"count"`         // 车流计数
}

// 双工通道帧type取值
const (
	frameTypeRequestUpdate  = "request_update"  // 服务器→客户端：触发一轮模型更新
	frameTypeNeighborUpdate = "neighbor_update" // 服务器→客户端：邻居状态广播
	frameTypeStatus         = "status"          // 客户端→服务器：本机状态上报
)

// inboundFrame 服务器下行帧
type inboundFrame struct {
	Type          string     `json:"type"`
	Neighbors     []Neighbor `json:"neighbors,omitempty"`
	ActiveDevices int32      `json:"active_devices,omitempty"`
}

// statusFrame 客户端上行状态帧
type statusFrame struct {
	Type   string `json:"type"`
	Signal string `json:"signal"`
	Count  int32  `json:"count"`
}
