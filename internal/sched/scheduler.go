// internal/sched/scheduler.go

package sched

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"coopsched/internal/logging"
	"coopsched/internal/metrics"

	"github.com/prometheus/client_golang/prometheus"
)

// ErrNoReadyTask is returned by RunTasks once the configured number of
// consecutive idle polls found the ready queue empty.
var ErrNoReadyTask = errors.New("no runnable task")

// Scheduler is the uniprocessor's scheduling core. Build one per kernel with
// New and pass it to whoever needs it.
type Scheduler struct {
	cfg     Config
	log     *slog.Logger
	timer   Timer
	metrics *metrics.Metrics

	processor *UPCell[Processor]
	ready     *UPCell[ReadyQueue]
	nextID    atomic.Uint64

	hooks []func(StatusEvent)
	csv   *csvLog
}

// Option customizes a Scheduler.
type Option func(*Scheduler)

// WithLogger sets the logger. The default discards everything.
func WithLogger(l *slog.Logger) Option { return func(s *Scheduler) { s.log = l } }

// WithTimer sets the boot clock. The default is a MonotonicTimer.
func WithTimer(t Timer) Option { return func(s *Scheduler) { s.timer = t } }

// WithMetrics sets the collectors. The default registers on a private registry.
func WithMetrics(m *metrics.Metrics) Option { return func(s *Scheduler) { s.metrics = m } }

// New creates a new Scheduler instance with the given configuration.
func New(cfg Config, opts ...Option) *Scheduler {
	s := &Scheduler{
		cfg:       cfg,
		processor: NewUPCell("processor", Processor{}),
		ready:     NewUPCell("ready queue", *NewReadyQueue()),
	}
	for _, o := range opts {
		o(s)
	}
	if s.log == nil {
		s.log = logging.Discard()
	}
	if s.timer == nil {
		s.timer = NewMonotonicTimer()
	}
	if s.metrics == nil {
		s.metrics = metrics.New(prometheus.NewRegistry())
	}
	if s.cfg.TickMS <= 0 {
		s.cfg.TickMS = DefaultConfig().TickMS
	}
	return s
}

// EnableCSVLogging opens the given file path for CSV logging of events.
// Must be called before RunTasks.
func (s *Scheduler) EnableCSVLogging(path string) error {
	l, err := openCSVLog(path)
	if err != nil {
		return fmt.Errorf("open csv log: %w", err)
	}
	s.csv = l
	return nil
}

// OnEvent registers fn to receive every StatusEvent, synchronously, on the
// flow that caused it. Must be called before RunTasks.
func (s *Scheduler) OnEvent(fn func(StatusEvent)) {
	s.hooks = append(s.hooks, fn)
}

// Now returns microseconds since boot.
func (s *Scheduler) Now() uint64 { return s.timer.Micros() }

// Add assigns t an ID and queues it as Ready.
func (s *Scheduler) Add(t *Task) error {
	if t.cx.entry == nil {
		return fmt.Errorf("task %q has no entry point", t.Name)
	}
	var err error
	t.inner.With(func(in *taskInner) {
		if in.status != UnInit {
			err = fmt.Errorf("task %q is %s, not %s", t.Name, in.status, UnInit)
			return
		}
		in.status = Ready
	})
	if err != nil {
		return err
	}

	t.ID = TaskID(s.nextID.Add(1))
	entry := t.cx.entry
	t.cx.entry = func() {
		entry()
		s.ExitCurrentAndRunNext(0)
	}

	s.push(t)
	s.emit(StatusEvent{Kind: StatusEnqueue, TaskID: t.ID})
	return nil
}

func (s *Scheduler) push(t *Task) {
	s.ready.With(func(rq *ReadyQueue) {
		rq.Push(t)
		s.metrics.UpdateQueueDepth(rq.Len())
	})
}

func (s *Scheduler) fetchTask() (t *Task, ok bool) {
	s.ready.With(func(rq *ReadyQueue) {
		t, ok = rq.Fetch()
		s.metrics.UpdateQueueDepth(rq.Len())
	})
	return t, ok
}

// QueuedIDs lists the ready queue head first.
func (s *Scheduler) QueuedIDs() []TaskID {
	var ids []TaskID
	s.ready.With(func(rq *ReadyQueue) { ids = rq.IDs() })
	return ids
}

// TakeCurrent removes and returns the current task.
func (s *Scheduler) TakeCurrent() *Task {
	p := s.processor.ExclusiveAccess()
	defer s.processor.Release()
	return p.TakeCurrent()
}

// Current returns the current task, or nil while idle.
func (s *Scheduler) Current() *Task {
	p := s.processor.ExclusiveAccess()
	defer s.processor.Release()
	return p.Current()
}

// RunTasks is the idle loop. It must be called once, on the flow that will act
// as the idle context, and only returns when ctx is done or, with IdleLimit
// set, after that many consecutive empty polls.
func (s *Scheduler) RunTasks(ctx context.Context) error {
	p := s.processor.ExclusiveAccess()
	if p.idleCx != nil {
		s.processor.Release()
		return errors.New("idle loop already running")
	}
	idle := newIdleContext()
	p.idleCx = idle
	s.processor.Release()

	clock := NewTickClock(1)
	clock.Start(time.Duration(s.cfg.TickMS) * time.Millisecond)
	defer func() {
		clock.Stop()
		s.log.Debug("idle loop stopped", "idle_ticks", clock.Count())
		s.shutdown()
	}()

	idlePolls := 0
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		p := s.processor.ExclusiveAccess()
		task, ok := s.fetchTask()
		if !ok {
			s.processor.Release()
			idlePolls++
			s.metrics.RecordIdle()
			if idlePolls == 1 {
				s.log.Warn("no tasks available in run_tasks")
			}
			s.emit(StatusEvent{Kind: StatusIdle})
			if s.cfg.IdleLimit > 0 && idlePolls >= s.cfg.IdleLimit {
				return ErrNoReadyTask
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-clock.Ch:
			}
			continue
		}
		idlePolls = 0

		now := millis(s.timer)
		task.inner.With(func(in *taskInner) {
			in.status = Running
			if !in.started {
				in.started = true
				in.startTime = now
			}
		})
		p.current = task
		s.processor.Release()

		s.metrics.RecordSwitch()
		s.emit(StatusEvent{Kind: StatusDispatch, TaskID: task.ID})
		s.log.Debug("dispatch", "task", task.ID, "name", task.Name)
		switchContext(idle, task.cx)
	}
}

// shutdown releases the flows of tasks still parked in the ready queue.
func (s *Scheduler) shutdown() {
	for {
		t, ok := s.fetchTask()
		if !ok {
			break
		}
		t.cx.kill()
	}
	s.processor.With(func(p *Processor) { p.idleCx = nil })
	if s.csv != nil {
		if err := s.csv.close(); err != nil {
			s.log.Error("close csv log", "error", err)
		}
		s.csv = nil
	}
}

// Schedule switches from the calling task's context back into the idle loop.
// It returns when the task is dispatched again.
func (s *Scheduler) Schedule(switched *TaskContext) {
	idle := s.idleContext()
	switchContext(switched, idle)
}

func (s *Scheduler) idleContext() *TaskContext {
	p := s.processor.ExclusiveAccess()
	defer s.processor.Release()
	return p.idleCx
}

// SuspendCurrentAndRunNext re-queues the current task at the tail and runs the
// next one.
func (s *Scheduler) SuspendCurrentAndRunNext() {
	task := s.TakeCurrent()
	if task == nil {
		panic(ErrNoCurrentTask)
	}
	task.inner.With(func(in *taskInner) { in.status = Ready })
	s.push(task)
	s.emit(StatusEvent{Kind: StatusYield, TaskID: task.ID})
	s.Schedule(task.cx)
}

// ExitCurrentAndRunNext marks the current task Exited and hands the processor
// to the idle loop. It never returns.
func (s *Scheduler) ExitCurrentAndRunNext(code int32) {
	task := s.TakeCurrent()
	if task == nil {
		panic(ErrNoCurrentTask)
	}
	task.inner.With(func(in *taskInner) {
		in.status = Exited
		in.exitCode = code
	})
	s.log.Info("application exited", "task", task.ID, "name", task.Name, "code", code)
	s.metrics.RecordExit()
	s.emit(StatusEvent{Kind: StatusExit, TaskID: task.ID, ExitCode: code})
	exitContext(task.cx, s.idleContext())
}

// GetTaskTime returns ms since the current task was first dispatched.
func (s *Scheduler) GetTaskTime() (uint64, error) {
	p := s.processor.ExclusiveAccess()
	defer s.processor.Release()
	return p.taskTime(millis(s.timer))
}

// GetSyscallTimes returns the current task's syscall counters.
func (s *Scheduler) GetSyscallTimes() ([MaxSyscallNum]uint32, error) {
	p := s.processor.ExclusiveAccess()
	defer s.processor.Release()
	return p.syscallTimes()
}

// IncreaseSyscallTime bumps the current task's counter for id by one.
func (s *Scheduler) IncreaseSyscallTime(id int) error {
	p := s.processor.ExclusiveAccess()
	defer s.processor.Release()
	return p.increaseSyscallTime(id)
}

// CurrentStatus reads the stored status of the current task.
func (s *Scheduler) CurrentStatus() (TaskStatus, error) {
	p := s.processor.ExclusiveAccess()
	defer s.processor.Release()
	return p.status()
}

func (s *Scheduler) currentMemory() (AddressSpace, error) {
	p := s.processor.ExclusiveAccess()
	defer s.processor.Release()
	return p.memory()
}

// Mmap maps [start, start+length) in the current task's address space.
func (s *Scheduler) Mmap(start, length uintptr, port uint8) error {
	as, err := s.currentMemory()
	if err != nil {
		return err
	}
	return as.Mmap(start, length, port)
}

// Munmap unmaps [start, start+length) in the current task's address space.
func (s *Scheduler) Munmap(start, length uintptr) error {
	as, err := s.currentMemory()
	if err != nil {
		return err
	}
	return as.Munmap(start, length)
}

// TranslateUserAddr resolves va in the current task's address space.
func (s *Scheduler) TranslateUserAddr(va uintptr) (uintptr, error) {
	as, err := s.currentMemory()
	if err != nil {
		return 0, err
	}
	return as.Translate(va)
}

// CopyToUser writes data at va in the current task's address space. Nothing is
// written unless the whole range is mapped and writable.
func (s *Scheduler) CopyToUser(va uintptr, data []byte) error {
	as, err := s.currentMemory()
	if err != nil {
		return err
	}
	return as.CopyOut(va, data)
}

func (s *Scheduler) emit(ev StatusEvent) {
	ev.Time = time.Now()
	ev.Micros = s.timer.Micros()
	s.ready.With(func(rq *ReadyQueue) { ev.QueueDepth = rq.Len() })

	for _, fn := range s.hooks {
		fn(ev)
	}
	if s.csv != nil {
		if err := s.csv.write(ev); err != nil {
			s.log.Error("write csv event", "error", err)
		}
	}
}
