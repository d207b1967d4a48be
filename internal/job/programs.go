package job

import (
	"time"

	"coopsched/internal/syscall"
)

// YieldN yields n times and exits with code 0.
func YieldN(env Env, n int) func() {
	return func() {
		for i := 0; i < n; i++ {
			env.Yield()
		}
		env.Exit(0)
	}
}

// SleepWork returns a program that gives up the processor until ms have
// passed on the kernel clock, then exits.
func SleepWork(env Env, ms int64) func() {
	wait := uint64(time.Duration(ms) * time.Millisecond / time.Microsecond)
	return func() {
		if err := env.MapScratch(); err != nil {
			env.Exit(-1)
		}
		start, err := env.GetTime()
		if err != nil {
			env.Exit(-1)
		}
		for {
			now, err := env.GetTime()
			if err != nil {
				env.Exit(-1)
			}
			if now.Micros()-start.Micros() >= wait {
				break
			}
			env.Yield()
		}
		env.Exit(0)
	}
}

// Probe yields the given number of times, then reports its own TaskInfo.
func Probe(env Env, yields int, report func(*syscall.TaskInfo)) func() {
	return func() {
		if err := env.MapScratch(); err != nil {
			env.Exit(-1)
		}
		for i := 0; i < yields; i++ {
			env.Yield()
		}
		info, err := env.TaskInfo()
		if err != nil {
			env.Exit(-1)
		}
		report(info)
		env.Exit(0)
	}
}
