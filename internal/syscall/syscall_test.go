package syscall_test

import (
	"context"
	"testing"
	"time"

	"coopsched/internal/job"
	"coopsched/internal/kernel"
	"coopsched/internal/mm"
	"coopsched/internal/sched"
	"coopsched/internal/syscall"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func bootTest(t *testing.T, timer sched.Timer) *kernel.Kernel {
	t.Helper()
	cfg := sched.DefaultConfig()
	cfg.TickMS = 1
	cfg.IdleLimit = 1
	return kernel.Boot(cfg, kernel.Options{Timer: timer, Frames: 64})
}

func spawn(t *testing.T, k *kernel.Kernel, name string, body func(env job.Env)) *sched.Task {
	t.Helper()
	task, err := k.Spawn(name, func(env job.Env) func() {
		return func() { body(env) }
	})
	require.NoError(t, err)
	return task
}

func run(t *testing.T, k *kernel.Kernel) {
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

func TestSyscallCounting(t *testing.T) {
	k := bootTest(t, &sched.ManualTimer{})

	var info *syscall.TaskInfo
	task := spawn(t, k, "counter", func(env job.Env) {
		assert.NoError(t, env.MapScratch())
		env.Yield()
		env.Yield()
		for i := 0; i < 3; i++ {
			_, err := env.GetTime()
			assert.NoError(t, err)
		}
		var err error
		info, err = env.TaskInfo()
		assert.NoError(t, err)
		env.Exit(0)
	})
	run(t, k)

	require.NotNil(t, info)
	assert.Equal(t, sched.Running, info.Status)
	assert.Equal(t, uint32(1), info.SyscallTimes[syscall.SysMmap])
	assert.Equal(t, uint32(2), info.SyscallTimes[syscall.SysYield])
	assert.Equal(t, uint32(3), info.SyscallTimes[syscall.SysGetTime])
	assert.Equal(t, uint32(1), info.SyscallTimes[syscall.SysTaskInfo], "task_info counts itself")
	assert.Zero(t, info.SyscallTimes[syscall.SysExit])

	assert.Equal(t, uint32(1), task.SyscallTimes()[syscall.SysExit], "exit is counted before the task leaves")
	assert.Equal(t, 2.0, testutil.ToFloat64(k.Metrics.Syscalls.WithLabelValues("yield")))
}

func TestCountsIndependentAcrossTasks(t *testing.T) {
	k := bootTest(t, &sched.ManualTimer{})

	yields := []int{1, 4, 2}
	tasks := make([]*sched.Task, len(yields))
	for i, n := range yields {
		n := n
		tasks[i] = spawn(t, k, "yielder", func(env job.Env) {
			for j := 0; j < n; j++ {
				env.Yield()
			}
		})
	}
	run(t, k)

	for i, n := range yields {
		assert.Equal(t, uint32(n), tasks[i].SyscallTimes()[syscall.SysYield])
	}
}

func TestGetTime(t *testing.T) {
	timer := &sched.ManualTimer{}
	timer.Advance(3*time.Second + 500_123*time.Microsecond)
	k := bootTest(t, timer)

	var (
		tv      syscall.TimeVal
		badAddr int64
	)
	task := spawn(t, k, "clock", func(env job.Env) {
		assert.NoError(t, env.MapScratch())
		var err error
		tv, err = env.GetTime()
		assert.NoError(t, err)
		badAddr = env.Trap.Dispatch(syscall.SysGetTime, [3]uint64{0x42, 0})
	})
	run(t, k)

	assert.Equal(t, syscall.TimeVal{Sec: 3, Usec: 500_123}, tv)
	assert.Equal(t, int64(-1), badAddr, "unmapped destination is rejected")
	assert.Equal(t, uint32(2), task.SyscallTimes()[syscall.SysGetTime], "failed calls are still counted")
}

func TestGetTimeMonotonicAcrossTasks(t *testing.T) {
	k := bootTest(t, sched.NewMonotonicTimer())

	var seen []uint64
	for i := 0; i < 3; i++ {
		spawn(t, k, "reader", func(env job.Env) {
			assert.NoError(t, env.MapScratch())
			for j := 0; j < 4; j++ {
				tv, err := env.GetTime()
				assert.NoError(t, err)
				seen = append(seen, tv.Micros())
				env.Yield()
			}
		})
	}
	run(t, k)

	require.Len(t, seen, 12)
	for i := 1; i < len(seen); i++ {
		assert.GreaterOrEqual(t, seen[i], seen[i-1])
	}
}

func TestTaskInfoTime(t *testing.T) {
	timer := &sched.ManualTimer{}
	k := bootTest(t, timer)

	var times []uint64
	spawn(t, k, "probe", func(env job.Env) {
		assert.NoError(t, env.MapScratch())
		for i := 0; i < 3; i++ {
			timer.Advance(4 * time.Millisecond)
			env.Yield()
			info, err := env.TaskInfo()
			assert.NoError(t, err)
			times = append(times, info.Time)
		}
	})
	spawn(t, k, "neighbour", func(env job.Env) {
		for i := 0; i < 3; i++ {
			timer.Advance(time.Millisecond)
			env.Yield()
		}
	})
	run(t, k)

	assert.Equal(t, []uint64{5, 10, 15}, times)
}

func TestTaskInfoRejectsReadOnlyDestination(t *testing.T) {
	k := bootTest(t, &sched.ManualTimer{})

	var res int64
	spawn(t, k, "ro", func(env job.Env) {
		assert.Equal(t, int64(0), env.Mmap(job.ScratchBase, mm.PageSize, 0b001))
		res = env.Trap.Dispatch(syscall.SysTaskInfo, [3]uint64{uint64(job.ScratchBase)})
	})
	run(t, k)
	assert.Equal(t, int64(-1), res)
}

func TestExitNeverReturns(t *testing.T) {
	k := bootTest(t, &sched.ManualTimer{})

	reached := false
	task := spawn(t, k, "quitter", func(env job.Env) {
		env.Exit(3)
		reached = true
	})
	run(t, k)

	assert.False(t, reached)
	assert.Equal(t, sched.Exited, task.Status())
	assert.Equal(t, int32(3), task.ExitCode())
}

func TestNegativeExitCode(t *testing.T) {
	k := bootTest(t, &sched.ManualTimer{})
	task := spawn(t, k, "failing", func(env job.Env) { env.Exit(-2) })
	run(t, k)
	assert.Equal(t, int32(-2), task.ExitCode())
}

func TestMmapMunmap(t *testing.T) {
	k := bootTest(t, &sched.ManualTimer{})

	var results []int64
	spawn(t, k, "mapper", func(env job.Env) {
		const va = 0x2000_0000
		results = append(results,
			env.Mmap(va, mm.PageSize, 0b1000),
			env.Mmap(va+1, mm.PageSize, 0b011),
			env.Mmap(va, 2*mm.PageSize, 0b011),
			env.Mmap(va+mm.PageSize, mm.PageSize, 0b011),
			env.Munmap(va, 3*mm.PageSize),
			env.Munmap(va, 2*mm.PageSize),
			env.Munmap(va, mm.PageSize),
			env.Mmap(^uintptr(0)&^(mm.PageSize-1), 1, 0b011),
		)
	})
	run(t, k)

	assert.Equal(t, []int64{-1, -1, 0, -1, -1, 0, -1, -1}, results)
}

func TestUnknownSyscall(t *testing.T) {
	k := bootTest(t, &sched.ManualTimer{})

	var res int64
	task := spawn(t, k, "odd", func(env job.Env) {
		res = env.Trap.Dispatch(64, [3]uint64{})
		env.Trap.Dispatch(sched.MaxSyscallNum+10, [3]uint64{})
	})
	run(t, k)

	assert.Equal(t, int64(-1), res)
	assert.Equal(t, uint32(1), task.SyscallTimes()[64])
}

func TestTranslateCurrentTask(t *testing.T) {
	k := bootTest(t, &sched.ManualTimer{})

	var (
		pa        uintptr
		errMapped error
		errHole   error
	)
	spawn(t, k, "translator", func(env job.Env) {
		assert.NoError(t, env.MapScratch())
		pa, errMapped = k.Sched.TranslateUserAddr(job.ScratchBase + 0x18)
		_, errHole = k.Sched.TranslateUserAddr(job.ScratchBase + mm.PageSize)
	})
	run(t, k)

	require.NoError(t, errMapped)
	assert.Equal(t, uintptr(0x18), pa%mm.PageSize)
	assert.ErrorIs(t, errHole, mm.ErrNotMapped)
}
