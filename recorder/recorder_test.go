package recorder_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tsinghua-fib-lab/roadside-agent/event"
	"github.com/tsinghua-fib-lab/roadside-agent/recorder"
	"github.com/tsinghua-fib-lab/roadside-agent/utils/config"
)

func TestDisabledRecorder(t *testing.T) {
	r, err := recorder.New(context.Background(), config.Output{})
	require.NoError(t, err)
	assert.False(t, r.Enabled())

	// 禁用态下所有操作为空操作
	r.Record(event.Event{Kind: event.KindSignalChanged, Step: 1})
	r.Record(event.Event{Kind: event.KindUpdateAccepted, Digest: "abc"})
	r.Close()
}
