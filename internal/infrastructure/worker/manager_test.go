package worker

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type stubWorker struct {
	name     string
	startErr error
	log      *[]string
}

func (w *stubWorker) Name() string { return w.name }

func (w *stubWorker) Start(ctx context.Context) error {
	if w.startErr != nil {
		return w.startErr
	}
	*w.log = append(*w.log, "start "+w.name)
	return nil
}

func (w *stubWorker) Stop() error {
	*w.log = append(*w.log, "stop "+w.name)
	return nil
}

func TestWorkerManager_Lifecycle(t *testing.T) {
	var log []string
	m := NewWorkerManager(zap.NewNop())
	m.Register(&stubWorker{name: "a", log: &log})
	m.Register(&stubWorker{name: "broken", startErr: errors.New("boom"), log: &log})
	m.Register(&stubWorker{name: "b", log: &log})
	assert.Equal(t, 3, m.GetWorkerCount())

	err := m.StartAll(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken: boom")
	assert.True(t, m.IsRunning())
	assert.Equal(t, "a,b", m.Running())

	assert.EqualError(t, m.StartAll(context.Background()), "workers already running")

	require.NoError(t, m.StopAll())
	assert.False(t, m.IsRunning())
	assert.Equal(t, []string{"start a", "start b", "stop b", "stop a"}, log)
	assert.Empty(t, m.Running())

	require.NoError(t, m.StopAll())
}
