package job

import (
	"fmt"

	"coopsched/internal/mm"
	"coopsched/internal/syscall"
)

// Scratch layout inside the page each program maps for syscall results.
const (
	ScratchBase  uintptr = 0x1000_0000
	timeValSlot          = ScratchBase
	taskInfoSlot         = ScratchBase + 64
)

const scratchPortRW = 0b011

// Trap delivers a syscall into the kernel. *syscall.Layer implements it.
type Trap interface {
	Dispatch(id uint64, args [3]uint64) int64
}

// UserMemory is the program's view of its own address space.
type UserMemory interface {
	CopyIn(va uintptr, n int) ([]byte, error)
}

// Env is what a user program runs against.
type Env struct {
	Trap Trap
	Mem  UserMemory
}

func (e Env) Exit(code int32) {
	e.Trap.Dispatch(syscall.SysExit, [3]uint64{uint64(code)})
}

func (e Env) Yield() int64 {
	return e.Trap.Dispatch(syscall.SysYield, [3]uint64{})
}

func (e Env) Mmap(start, length uintptr, port uint64) int64 {
	return e.Trap.Dispatch(syscall.SysMmap, [3]uint64{uint64(start), uint64(length), port})
}

func (e Env) Munmap(start, length uintptr) int64 {
	return e.Trap.Dispatch(syscall.SysMunmap, [3]uint64{uint64(start), uint64(length)})
}

// MapScratch maps the page GetTime and TaskInfo write into.
func (e Env) MapScratch() error {
	if e.Mmap(ScratchBase, mm.PageSize, scratchPortRW) != 0 {
		return fmt.Errorf("mmap scratch page at %#x failed", ScratchBase)
	}
	return nil
}

// GetTime calls get_time into the scratch page and reads the result back.
func (e Env) GetTime() (syscall.TimeVal, error) {
	if e.Trap.Dispatch(syscall.SysGetTime, [3]uint64{uint64(timeValSlot), 0}) != 0 {
		return syscall.TimeVal{}, fmt.Errorf("get_time into %#x failed", timeValSlot)
	}
	b, err := e.Mem.CopyIn(timeValSlot, syscall.TimeValSize)
	if err != nil {
		return syscall.TimeVal{}, err
	}
	return syscall.DecodeTimeVal(b)
}

// TaskInfo calls task_info into the scratch page and reads the result back.
func (e Env) TaskInfo() (*syscall.TaskInfo, error) {
	if e.Trap.Dispatch(syscall.SysTaskInfo, [3]uint64{uint64(taskInfoSlot)}) != 0 {
		return nil, fmt.Errorf("task_info into %#x failed", taskInfoSlot)
	}
	b, err := e.Mem.CopyIn(taskInfoSlot, syscall.TaskInfoSize)
	if err != nil {
		return nil, err
	}
	return syscall.DecodeTaskInfo(b)
}
