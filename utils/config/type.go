package config

// Coordinator 远程协调服务器配置
// 功能：定义注册、模型更新与双工通道所使用的协调服务器地址
// 说明：URL为HTTP地址（如http://10.10.0.1:8000），websocket地址由其推导
type Coordinator struct {
	URL         string `yaml:"url"`                    // 协调服务器HTTP地址
	AutoConnect bool   `yaml:"auto_connect,omitempty"` // 注册成功后是否自动建立双工通道
}

// Device 设备身份配置
// 功能：定义设备注册时上报的身份信息
// 说明：注册之前由运维人员配置，注册之后不可变更
type Device struct {
	Name             string `yaml:"name"`              // 设备展示名
	IntersectionType string `yaml:"intersection_type"` // 路口类型（3-way|4-way）
	Position         string `yaml:"position"`          // 路口位置槽位（Signal 1..Signal 4）
}

// ControlStep 指定tick周期的配置项
type ControlStep struct {
	Interval float64 `yaml:"interval"` // 每个tick的时间间隔（秒）
}

// Control 控制器配置
// 功能：定义信号控制器的tick推进参数
type Control struct {
	Step ControlStep `yaml:"step"`
}

// Model 本地模型配置
// 功能：定义本地权重向量的长度与版本标签
// 说明：注册响应携带initial_weights时以其长度为准，否则本地按VectorSize合成
type Model struct {
	VectorSize int    `yaml:"vector_size"`       // 本地合成权重向量长度
	Version    string `yaml:"version,omitempty"` // 上报metadata中的model_version
}

// Detector 车流检测配置
// 功能：定义本机车流计数的来源
// 说明：real模式下计数由检测管线通过本地API写入，sim模式下每tick随机采样
type Detector struct {
	Mode string `yaml:"mode,omitempty"` // real|sim
}

// Output 本地记录输出配置（MongoDB）
// 功能：定义相位切换与更新轮次记录的落库位置
// 说明：URI为空则禁用记录功能
type Output struct {
	URI string `yaml:"uri,omitempty"` // MongoDB连接字符串
	DB  string `yaml:"db,omitempty"`  // 数据库名
	Col string `yaml:"col,omitempty"` // 集合名
}

// API 本地控制API配置
// 功能：定义面向UI/检测管线的本地HTTP服务监听地址
type API struct {
	Addr string `yaml:"addr,omitempty"` // 监听地址，为空则禁用本地API
}

// Config YAML配置文件的根结构
// 功能：定义路侧设备的全部配置项
type Config struct {
	Coordinator Coordinator `yaml:"coordinator"`        // 协调服务器
	Device      Device      `yaml:"device"`             // 设备身份
	Control     Control     `yaml:"control"`            // tick控制
	Model       Model       `yaml:"model,omitempty"`    // 本地模型
	Detector    Detector    `yaml:"detector,omitempty"` // 车流检测
	Output      Output      `yaml:"output,omitempty"`   // 本地记录
	API         API         `yaml:"api,omitempty"`      // 本地控制API
}
