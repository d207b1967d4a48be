package syscall

import (
	"encoding/binary"
	"fmt"

	"coopsched/internal/sched"
)

// Syscall identifiers.
const (
	SysExit     = 93
	SysYield    = 124
	SysGetTime  = 169
	SysMunmap   = 215
	SysMmap     = 222
	SysTaskInfo = 410
)

// Name returns the syscall's name, or "unknown".
func Name(id uint64) string {
	switch id {
	case SysExit:
		return "exit"
	case SysYield:
		return "yield"
	case SysGetTime:
		return "get_time"
	case SysTaskInfo:
		return "task_info"
	case SysMmap:
		return "mmap"
	case SysMunmap:
		return "munmap"
	default:
		return "unknown"
	}
}

// TimeVal is the get_time result.
type TimeVal struct {
	Sec  uint64
	Usec uint64
}

// TimeValSize is the encoded size of a TimeVal.
const TimeValSize = 16

// TaskInfo is the task_info result.
type TaskInfo struct {
	Status       sched.TaskStatus
	SyscallTimes [sched.MaxSyscallNum]uint32
	Time         uint64 // ms since first dispatch
}

// Encoded TaskInfo layout: status, counters, padding to 8, time.
const (
	taskInfoTimesOff = 4
	taskInfoTimeOff  = 2008
	TaskInfoSize     = 2016
)

var le = binary.LittleEndian

// Encode returns the fixed little-endian layout.
func (tv TimeVal) Encode() []byte {
	b := make([]byte, TimeValSize)
	le.PutUint64(b[0:], tv.Sec)
	le.PutUint64(b[8:], tv.Usec)
	return b
}

// DecodeTimeVal parses the layout produced by Encode.
func DecodeTimeVal(b []byte) (TimeVal, error) {
	if len(b) < TimeValSize {
		return TimeVal{}, fmt.Errorf("timeval: need %d bytes, got %d", TimeValSize, len(b))
	}
	return TimeVal{Sec: le.Uint64(b[0:]), Usec: le.Uint64(b[8:])}, nil
}

// Micros folds the value back into microseconds.
func (tv TimeVal) Micros() uint64 { return tv.Sec*1_000_000 + tv.Usec }

func timeValFromMicros(us uint64) TimeVal {
	return TimeVal{Sec: us / 1_000_000, Usec: us % 1_000_000}
}

// Encode returns the fixed little-endian layout.
func (ti *TaskInfo) Encode() []byte {
	b := make([]byte, TaskInfoSize)
	le.PutUint32(b[0:], uint32(ti.Status))
	for i, n := range ti.SyscallTimes {
		le.PutUint32(b[taskInfoTimesOff+4*i:], n)
	}
	le.PutUint64(b[taskInfoTimeOff:], ti.Time)
	return b
}

// DecodeTaskInfo parses the layout produced by Encode.
func DecodeTaskInfo(b []byte) (*TaskInfo, error) {
	if len(b) < TaskInfoSize {
		return nil, fmt.Errorf("taskinfo: need %d bytes, got %d", TaskInfoSize, len(b))
	}
	ti := &TaskInfo{
		Status: sched.TaskStatus(le.Uint32(b[0:])),
		Time:   le.Uint64(b[taskInfoTimeOff:]),
	}
	for i := range ti.SyscallTimes {
		ti.SyscallTimes[i] = le.Uint32(b[taskInfoTimesOff+4*i:])
	}
	return ti, nil
}
