package config

import "fmt"

// RuntimeConfig 运行时配置
// 功能：存储设备运行时的配置信息，补齐默认值后的结果
// 说明：将YAML配置转换为运行时可用的配置对象
type RuntimeConfig struct {
	All Config  // 全部配置
	C   Control // 全局控制配置
}

// NewRuntimeConfig 根据配置初始化运行时配置
// 功能：创建运行时配置对象，进行配置验证并补齐默认值
// 参数：config-原始配置对象
// 返回：初始化的运行时配置指针与校验错误
// 算法说明：
// 1. 校验必填项：协调服务器地址、设备名、路口类型
// 2. 设置默认值：tick间隔默认1秒，权重向量长度默认30000，检测模式默认sim
func NewRuntimeConfig(config Config) (*RuntimeConfig, error) {
	if config.Coordinator.URL == "" {
		return nil, fmt.Errorf("config: coordinator.url must be specified")
	}
	if config.Device.Name == "" {
		return nil, fmt.Errorf("config: device.name must be specified")
	}
	switch config.Device.IntersectionType {
	case "3-way", "4-way":
	default:
		return nil, fmt.Errorf("config: device.intersection_type must be 3-way or 4-way, got %q", config.Device.IntersectionType)
	}
	if config.Device.Position == "" {
		config.Device.Position = "Signal 1"
	}
	if config.Control.Step.Interval <= 0 {
		config.Control.Step.Interval = 1
	}
	if config.Model.VectorSize <= 0 {
		config.Model.VectorSize = 30000
	}
	if config.Model.Version == "" {
		config.Model.Version = "v1"
	}
	switch config.Detector.Mode {
	case "":
		config.Detector.Mode = "sim"
	case "sim", "real":
	default:
		return nil, fmt.Errorf("config: detector.mode must be sim or real, got %q", config.Detector.Mode)
	}

	rc := &RuntimeConfig{}
	rc.All = config
	rc.C = config.Control
	return rc, nil
}
