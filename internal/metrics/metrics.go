// Package metrics provides Prometheus metrics for the cooperative scheduler.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics groups the scheduler's collectors. Each instance registers on its
// own Registerer so several schedulers can coexist in one process.
type Metrics struct {
	ContextSwitches prometheus.Counter
	Syscalls        *prometheus.CounterVec
	ReadyQueueDepth prometheus.Gauge
	IdlePolls       prometheus.Counter
	TasksExited     prometheus.Counter
}

// New registers the collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		ContextSwitches: f.NewCounter(prometheus.CounterOpts{
			Name: "sched_context_switches_total",
			Help: "Total number of switches from the idle loop into a task",
		}),
		Syscalls: f.NewCounterVec(prometheus.CounterOpts{
			Name: "sched_syscalls_total",
			Help: "Total number of syscalls handled, by syscall name",
		}, []string{"name"}),
		ReadyQueueDepth: f.NewGauge(prometheus.GaugeOpts{
			Name: "sched_ready_queue_depth",
			Help: "Current number of tasks waiting in the ready queue",
		}),
		IdlePolls: f.NewCounter(prometheus.CounterOpts{
			Name: "sched_idle_polls_total",
			Help: "Total number of idle-loop polls that found no runnable task",
		}),
		TasksExited: f.NewCounter(prometheus.CounterOpts{
			Name: "sched_tasks_exited_total",
			Help: "Total number of tasks that exited",
		}),
	}
}

func (m *Metrics) RecordSwitch() {
	m.ContextSwitches.Inc()
}

func (m *Metrics) RecordSyscall(name string) {
	m.Syscalls.WithLabelValues(name).Inc()
}

func (m *Metrics) UpdateQueueDepth(depth int) {
	m.ReadyQueueDepth.Set(float64(depth))
}

func (m *Metrics) RecordIdle() {
	m.IdlePolls.Inc()
}

func (m *Metrics) RecordExit() {
	m.TasksExited.Inc()
}
