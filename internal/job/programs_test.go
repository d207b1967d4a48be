package job_test

import (
	"context"
	"testing"
	"time"

	"coopsched/internal/job"
	"coopsched/internal/kernel"
	"coopsched/internal/sched"
	"coopsched/internal/syscall"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func boot(t *testing.T, timer *sched.ManualTimer) *kernel.Kernel {
	t.Helper()
	cfg := sched.DefaultConfig()
	cfg.TickMS = 1
	cfg.IdleLimit = 1
	return kernel.Boot(cfg, kernel.Options{Timer: timer, Frames: 16})
}

func runIdle(t *testing.T, k *kernel.Kernel) {
	t.Helper()
	done := make(chan error, 1)
	go func() { done <- k.Run(context.Background()) }()
	select {
	case err := <-done:
		require.ErrorIs(t, err, sched.ErrNoReadyTask)
	case <-time.After(5 * time.Second):
		t.Fatal("kernel did not go idle")
	}
}

func dispatchCounter(k *kernel.Kernel) map[sched.TaskID]int {
	counts := make(map[sched.TaskID]int)
	k.Sched.OnEvent(func(ev sched.StatusEvent) {
		if ev.Kind == sched.StatusDispatch {
			counts[ev.TaskID]++
		}
	})
	return counts
}

func TestYieldN(t *testing.T) {
	k := boot(t, &sched.ManualTimer{})
	counts := dispatchCounter(k)

	task, err := k.Spawn("yield3", func(env job.Env) func() { return job.YieldN(env, 3) })
	require.NoError(t, err)
	runIdle(t, k)

	assert.Equal(t, 4, counts[task.ID])
	assert.Equal(t, sched.Exited, task.Status())
	assert.Equal(t, int32(0), task.ExitCode())
}

func TestSleepWork(t *testing.T) {
	timer := &sched.ManualTimer{}
	k := boot(t, timer)
	counts := dispatchCounter(k)
	k.Sched.OnEvent(func(ev sched.StatusEvent) {
		if ev.Kind == sched.StatusDispatch {
			timer.Advance(time.Millisecond)
		}
	})

	sleeper, err := k.Spawn("sleep", func(env job.Env) func() { return job.SleepWork(env, 5) })
	require.NoError(t, err)
	runIdle(t, k)

	assert.Equal(t, sched.Exited, sleeper.Status())
	assert.Equal(t, int32(0), sleeper.ExitCode())
	assert.Equal(t, 6, counts[sleeper.ID], "one dispatch per elapsed ms plus the first")
}

func TestProbeReportsOwnInfo(t *testing.T) {
	k := boot(t, &sched.ManualTimer{})

	var got *syscall.TaskInfo
	_, err := k.Spawn("probe", func(env job.Env) func() {
		return job.Probe(env, 2, func(info *syscall.TaskInfo) { got = info })
	})
	require.NoError(t, err)
	_, err = k.Spawn("peer", func(env job.Env) func() { return job.YieldN(env, 2) })
	require.NoError(t, err)
	runIdle(t, k)

	require.NotNil(t, got)
	assert.Equal(t, sched.Running, got.Status)
	assert.Equal(t, uint32(2), got.SyscallTimes[syscall.SysYield])
	assert.Equal(t, uint32(1), got.SyscallTimes[syscall.SysMmap])
	assert.Equal(t, uint32(1), got.SyscallTimes[syscall.SysTaskInfo])
}

func TestProgramExitsOnScratchFailure(t *testing.T) {
	k := boot(t, &sched.ManualTimer{})

	// Occupy the scratch page first so the program's own mmap fails.
	task, err := k.Spawn("clash", func(env job.Env) func() {
		probe := job.Probe(env, 0, func(*syscall.TaskInfo) {})
		return func() {
			_ = env.MapScratch()
			probe()
		}
	})
	require.NoError(t, err)
	runIdle(t, k)

	assert.Equal(t, int32(-1), task.ExitCode())
}
