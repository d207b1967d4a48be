// Package syscall turns process-control syscalls into scheduler operations and
// moves their results across the user/kernel boundary.
package syscall

import (
	"log/slog"

	"coopsched/internal/logging"
	"coopsched/internal/sched"
)

// Scheduler is the part of sched.Scheduler the syscall layer drives.
type Scheduler interface {
	Now() uint64
	IncreaseSyscallTime(id int) error
	GetSyscallTimes() ([sched.MaxSyscallNum]uint32, error)
	GetTaskTime() (uint64, error)
	CurrentStatus() (sched.TaskStatus, error)
	SuspendCurrentAndRunNext()
	ExitCurrentAndRunNext(code int32)
	Mmap(start, length uintptr, port uint8) error
	Munmap(start, length uintptr) error
	CopyToUser(va uintptr, data []byte) error
}

// Recorder observes handled syscalls. *metrics.Metrics satisfies it.
type Recorder interface {
	RecordSyscall(name string)
}

// Layer is the syscall entry point the trap layer calls into.
type Layer struct {
	sched    Scheduler
	log      *slog.Logger
	recorder Recorder
}

// New builds a Layer. log and rec may be nil.
func New(s Scheduler, log *slog.Logger, rec Recorder) *Layer {
	if log == nil {
		log = logging.Discard()
	}
	return &Layer{sched: s, log: log, recorder: rec}
}

// Dispatch is the trap entry: it counts the call against the current task and
// runs the handler. The result is 0 on success and -1 on failure.
func (l *Layer) Dispatch(id uint64, args [3]uint64) int64 {
	if id < sched.MaxSyscallNum {
		if err := l.sched.IncreaseSyscallTime(int(id)); err != nil {
			l.log.Error("count syscall", "id", id, "error", err)
		}
	}
	if l.recorder != nil {
		l.recorder.RecordSyscall(Name(id))
	}

	switch id {
	case SysExit:
		l.Exit(int32(args[0]))
		panic("unreachable after exit")
	case SysYield:
		return l.Yield()
	case SysGetTime:
		return l.GetTime(uintptr(args[0]), uintptr(args[1]))
	case SysTaskInfo:
		return l.TaskInfo(uintptr(args[0]))
	case SysMmap:
		return l.Mmap(uintptr(args[0]), uintptr(args[1]), args[2])
	case SysMunmap:
		return l.Munmap(uintptr(args[0]), uintptr(args[1]))
	default:
		l.log.Warn("unsupported syscall", "id", id)
		return -1
	}
}

// Exit ends the current task. It never returns.
func (l *Layer) Exit(code int32) {
	l.log.Debug("kernel: sys_exit", "code", code)
	l.sched.ExitCurrentAndRunNext(code)
	panic("unreachable in sys_exit")
}

// Yield gives the processor to the next ready task.
func (l *Layer) Yield() int64 {
	l.log.Debug("kernel: sys_yield")
	l.sched.SuspendCurrentAndRunNext()
	return 0
}

// GetTime writes a TimeVal at ts. The second argument is reserved.
func (l *Layer) GetTime(ts uintptr, _ uintptr) int64 {
	l.log.Debug("kernel: sys_get_time")
	tv := timeValFromMicros(l.sched.Now())
	if err := l.sched.CopyToUser(ts, tv.Encode()); err != nil {
		l.log.Warn("sys_get_time: bad destination", "addr", ts, "error", err)
		return -1
	}
	return 0
}

// TaskInfo writes the current task's TaskInfo at ti.
func (l *Layer) TaskInfo(ti uintptr) int64 {
	l.log.Debug("kernel: sys_task_info")
	info, err := l.currentInfo()
	if err != nil {
		l.log.Error("sys_task_info", "error", err)
		return -1
	}
	if err := l.sched.CopyToUser(ti, info.Encode()); err != nil {
		l.log.Warn("sys_task_info: bad destination", "addr", ti, "error", err)
		return -1
	}
	return 0
}

func (l *Layer) currentInfo() (*TaskInfo, error) {
	status, err := l.sched.CurrentStatus()
	if err != nil {
		return nil, err
	}
	times, err := l.sched.GetSyscallTimes()
	if err != nil {
		return nil, err
	}
	ms, err := l.sched.GetTaskTime()
	if err != nil {
		return nil, err
	}
	return &TaskInfo{Status: status, SyscallTimes: times, Time: ms}, nil
}

// Mmap maps [start, start+length) with the R/W/X bits in port.
func (l *Layer) Mmap(start, length uintptr, port uint64) int64 {
	if port > 0xff {
		return -1
	}
	if err := l.sched.Mmap(start, length, uint8(port)); err != nil {
		l.log.Debug("sys_mmap", "start", start, "len", length, "error", err)
		return -1
	}
	return 0
}

// Munmap unmaps [start, start+length).
func (l *Layer) Munmap(start, length uintptr) int64 {
	if err := l.sched.Munmap(start, length); err != nil {
		l.log.Debug("sys_munmap", "start", start, "len", length, "error", err)
		return -1
	}
	return 0
}
