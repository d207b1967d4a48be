// Package kernel wires the scheduler, the syscall layer and the address-space
// manager into one bootable unit.
package kernel

import (
	"context"
	"log/slog"

	"coopsched/internal/job"
	"coopsched/internal/logging"
	"coopsched/internal/metrics"
	"coopsched/internal/mm"
	"coopsched/internal/sched"
	"coopsched/internal/syscall"

	"github.com/prometheus/client_golang/prometheus"
)

// DefaultFrames is the physical memory size used when Options.Frames is unset.
const DefaultFrames = 256

// Options carries the collaborators shared by every component.
type Options struct {
	Logger  *slog.Logger
	Metrics *metrics.Metrics
	Timer   sched.Timer
	Frames  int
}

// Kernel owns one scheduler and everything its syscalls reach.
type Kernel struct {
	Sched    *sched.Scheduler
	Syscalls *syscall.Layer
	Phys     *mm.PhysMemory
	Metrics  *metrics.Metrics
}

// Boot builds a kernel. Nothing runs until Run is called.
func Boot(cfg sched.Config, o Options) *Kernel {
	if o.Logger == nil {
		o.Logger = logging.Discard()
	}
	if o.Metrics == nil {
		o.Metrics = metrics.New(prometheus.NewRegistry())
	}
	if o.Frames <= 0 {
		o.Frames = DefaultFrames
	}

	opts := []sched.Option{
		sched.WithLogger(logging.Component(o.Logger, "sched")),
		sched.WithMetrics(o.Metrics),
	}
	if o.Timer != nil {
		opts = append(opts, sched.WithTimer(o.Timer))
	}
	s := sched.New(cfg, opts...)

	return &Kernel{
		Sched:    s,
		Syscalls: syscall.New(s, logging.Component(o.Logger, "syscall"), o.Metrics),
		Phys:     mm.NewPhysMemory(o.Frames),
		Metrics:  o.Metrics,
	}
}

// Spawn gives program a fresh address space and queues it as a new task.
func (k *Kernel) Spawn(name string, program func(job.Env) func()) (*sched.Task, error) {
	memory := mm.NewMemorySet(k.Phys)
	env := job.Env{Trap: k.Syscalls, Mem: memory}
	t := sched.NewTask(name, program(env), memory)
	if err := k.Sched.Add(t); err != nil {
		return nil, err
	}
	return t, nil
}

// Run enters the idle loop on the calling goroutine.
func (k *Kernel) Run(ctx context.Context) error {
	return k.Sched.RunTasks(ctx)
}
