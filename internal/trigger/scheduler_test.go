package trigger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockRunner struct {
	calls []string
}

func (m *mockRunner) RunFromTrigger(ctx context.Context, actorID, autonomy, prompt, invocationType string) error {
	m.calls = append(m.calls, actorID+":"+autonomy+":"+prompt+":"+invocationType)
	return nil
}

var _ SessionRunner = (*mockRunner)(nil)

func TestRegisterSchedules_AddsEntries(t *testing.T) {
	runner := &mockRunner{}
	sched := NewScheduler(runner)

	cfg := &Config{
		Schedules: []ScheduleTrigger{
			{Cron: "0 9 * * *", Prompt: "Morning report", Description: "daily", Actor: "scheduler", Autonomy: "assisted"},
			{Cron: "0 17 * * *", Prompt: "Evening summary", Description: "daily", Actor: "scheduler", Autonomy: "assisted"},
		},
	}

	err := sched.RegisterSchedules(cfg)
	require.NoError(t, err)
	assert.Equal(t, 2, sched.Entries())
}

func TestRegisterSchedules_InvalidCron(t *testing.T) {
	runner := &mockRunner{}
	sched := NewScheduler(runner)

	cfg := &Config{
		Schedules: []ScheduleTrigger{
			{Cron: "not a valid cron", Prompt: "test"},
		},
	}

	err := sched.RegisterSchedules(cfg)
	assert.Error(t, err)
}

func TestRegisterSchedules_NilConfig(t *testing.T) {
	sched := NewScheduler(&mockRunner{})
	require.NoError(t, sched.RegisterSchedules(nil))
	assert.Equal(t, 0, sched.Entries())
}

func TestStartStop(t *testing.T) {
	runner := &mockRunner{}
	sched := NewScheduler(runner)
	sched.Start()
	sched.Stop()
}
