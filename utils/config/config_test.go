package config_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tsinghua-fib-lab/roadside-agent/utils/config"
	"gopkg.in/yaml.v2"
)

const sampleYAML = `
coordinator:
  url: http://10.10.0.1:8000
  auto_connect: true
device:
  name: Edge-1
  intersection_type: 4-way
  position: Signal 2
control:
  step:
    interval: 0.5
model:
  vector_size: 50000
  version: v2
detector:
  mode: real
api:
  addr: :8080
`

func TestLoadYAML(t *testing.T) {
	var c config.Config
	require.NoError(t, yaml.UnmarshalStrict([]byte(sampleYAML), &c))
	rc, err := config.NewRuntimeConfig(c)
	require.NoError(t, err)
	assert.Equal(t, "http://10.10.0.1:8000", rc.All.Coordinator.URL)
	assert.True(t, rc.All.Coordinator.AutoConnect)
	assert.Equal(t, "Signal 2", rc.All.Device.Position)
	assert.Equal(t, 0.5, rc.C.Step.Interval)
	assert.Equal(t, 50000, rc.All.Model.VectorSize)
	assert.Equal(t, "real", rc.All.Detector.Mode)
}

func TestUnknownFieldRejected(t *testing.T) {
	var c config.Config
	err := yaml.UnmarshalStrict([]byte("coordinator:\n  bad_field: 1\n"), &c)
	assert.Error(t, err)
}

func TestDefaults(t *testing.T) {
	rc, err := config.NewRuntimeConfig(config.Config{
		Coordinator: config.Coordinator{URL: "http://localhost:8000"},
		Device:      config.Device{Name: "Edge-1", IntersectionType: "3-way"},
	})
	require.NoError(t, err)
	assert.Equal(t, "Signal 1", rc.All.Device.Position)
	assert.Equal(t, 1.0, rc.C.Step.Interval)
	assert.Equal(t, 30000, rc.All.Model.VectorSize)
	assert.Equal(t, "v1", rc.All.Model.Version)
	assert.Equal(t, "sim", rc.All.Detector.Mode)
}

func TestValidation(t *testing.T) {
	_, err := config.NewRuntimeConfig(config.Config{})
	assert.Error(t, err)

	_, err = config.NewRuntimeConfig(config.Config{
		Coordinator: config.Coordinator{URL: "http://localhost:8000"},
		Device:      config.Device{Name: "Edge-1", IntersectionType: "5-way"},
	})
	assert.Error(t, err)

	_, err = config.NewRuntimeConfig(config.Config{
		Coordinator: config.Coordinator{URL: "http://localhost:8000"},
		Device:      config.Device{Name: "Edge-1", IntersectionType: "4-way"},
		Detector:    config.Detector{Mode: "camera"},
	})
	assert.Error(t, err)
}
