// internal/sched/processor.go

package sched

import (
	"errors"
	"fmt"
)

// ErrNoCurrentTask is returned by accessors that need a running task while the
// processor is idle.
var ErrNoCurrentTask = errors.New("no current task on processor")

// Processor is the single scheduling seat: the task holding the CPU and the
// idle loop's own context.
type Processor struct {
	current *Task
	idleCx  *TaskContext
}

// TakeCurrent removes the current task, leaving the slot empty.
func (p *Processor) TakeCurrent() *Task {
	t := p.current
	p.current = nil
	return t
}

// Current returns the current task without clearing the slot.
func (p *Processor) Current() *Task { return p.current }

func (p *Processor) withCurrent(fn func(in *taskInner) error) error {
	if p.current == nil {
		return ErrNoCurrentTask
	}
	in := p.current.inner.ExclusiveAccess()
	defer p.current.inner.Release()
	return fn(in)
}

func (p *Processor) taskTime(nowMS uint64) (ms uint64, err error) {
	err = p.withCurrent(func(in *taskInner) error {
		if in.started {
			ms = nowMS - in.startTime
		}
		return nil
	})
	return ms, err
}

func (p *Processor) syscallTimes() (times [MaxSyscallNum]uint32, err error) {
	err = p.withCurrent(func(in *taskInner) error {
		times = in.syscallTimes
		return nil
	})
	return times, err
}

func (p *Processor) increaseSyscallTime(id int) error {
	if id < 0 || id >= MaxSyscallNum {
		return fmt.Errorf("syscall id %d outside [0, %d)", id, MaxSyscallNum)
	}
	return p.withCurrent(func(in *taskInner) error {
		in.syscallTimes[id]++
		return nil
	})
}

func (p *Processor) status() (st TaskStatus, err error) {
	err = p.withCurrent(func(in *taskInner) error {
		st = in.status
		return nil
	})
	return st, err
}

func (p *Processor) memory() (AddressSpace, error) {
	var as AddressSpace
	err := p.withCurrent(func(in *taskInner) error {
		as = in.memory
		return nil
	})
	if err != nil {
		return nil, err
	}
	if as == nil {
		return nil, errors.New("current task has no address space")
	}
	return as, nil
}
