package sched

// TaskID uniquely identifies a task in the scheduler.
type TaskID uint64

// MaxSyscallNum bounds the syscall identifiers tracked per task.
const MaxSyscallNum = 500

// TaskStatus is the life-cycle state of a task.
type TaskStatus uint32

const (
	UnInit TaskStatus = iota
	Ready
	Running
	Exited
)

func (s TaskStatus) String() string {
	switch s {
	case UnInit:
		return "UnInit"
	case Ready:
		return "Ready"
	case Running:
		return "Running"
	case Exited:
		return "Exited"
	default:
		return "Unknown"
	}
}

// AddressSpace is the memory-management collaborator owned by each task.
type AddressSpace interface {
	Mmap(start, length uintptr, port uint8) error
	Munmap(start, length uintptr) error
	Translate(va uintptr) (pa uintptr, err error)
	CopyOut(va uintptr, data []byte) error
}

// Task represents one schedulable task unit.
// The record is shared by pointer; at any instant it is either in the ready
// queue or in the processor's current slot, never both.
type Task struct {
	ID   TaskID
	Name string

	cx    *TaskContext // touched only by the switch primitive
	inner *UPCell[taskInner]
}

type taskInner struct {
	status       TaskStatus
	memory       AddressSpace
	startTime    uint64 // ms, valid once started is set
	started      bool
	exitCode     int32
	syscallTimes [MaxSyscallNum]uint32
}

// NewTask creates a task in UnInit. The ID is assigned when the task is added
// to a Scheduler.
// NOTE: if entry returns without calling exit, the task exits with code 0.
func NewTask(name string, entry func(), memory AddressSpace) *Task {
	t := &Task{
		Name:  name,
		inner: NewUPCell("task "+name, taskInner{memory: memory}),
	}
	t.cx = newTaskContext(entry)
	return t
}

// Status returns the stored status.
func (t *Task) Status() TaskStatus {
	var st TaskStatus
	t.inner.With(func(in *taskInner) { st = in.status })
	return st
}

// StartTime returns the time in ms the task first ran and whether it has run.
func (t *Task) StartTime() (uint64, bool) {
	var (
		ms uint64
		ok bool
	)
	t.inner.With(func(in *taskInner) { ms, ok = in.startTime, in.started })
	return ms, ok
}

// SyscallTimes returns a copy of the per-syscall invocation counters.
func (t *Task) SyscallTimes() [MaxSyscallNum]uint32 {
	var times [MaxSyscallNum]uint32
	t.inner.With(func(in *taskInner) { times = in.syscallTimes })
	return times
}

// ExitCode is meaningful once Status reports Exited.
func (t *Task) ExitCode() int32 {
	var code int32
	t.inner.With(func(in *taskInner) { code = in.exitCode })
	return code
}
