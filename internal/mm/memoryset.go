// Package mm is a small in-memory address-space manager: per-task page tables
// over a simulated pool of physical frames.
package mm

import (
	"errors"
	"fmt"

	"github.com/emirpasic/gods/trees/redblacktree"
	"github.com/emirpasic/gods/utils"
)

// Perm holds page permission bits. The low three bits match the mmap port
// argument.
type Perm uint8

const (
	PermR Perm = 1 << iota
	PermW
	PermX
	PermU
)

var (
	ErrUnaligned  = errors.New("address not page aligned")
	ErrBadPerm    = errors.New("invalid permission bits")
	ErrMapped     = errors.New("page already mapped")
	ErrNotMapped  = errors.New("page not mapped")
	ErrBadAddress = errors.New("bad user address")
)

type pte struct {
	ppn  uintptr
	perm Perm
}

// MemorySet is one task's address space. The page table is kept ordered by
// virtual page number.
type MemorySet struct {
	phys  *PhysMemory
	pages *redblacktree.Tree // vpn (uint64) -> pte
}

// NewMemorySet creates an empty address space backed by phys.
func NewMemorySet(phys *PhysMemory) *MemorySet {
	return &MemorySet{
		phys:  phys,
		pages: redblacktree.NewWith(utils.UInt64Comparator),
	}
}

// maxRangeEnd is the highest end address whose page round-up does not wrap.
const maxRangeEnd = ^uintptr(0) - (PageSize - 1)

// validRange reports whether [start, start+length) can be covered by whole
// pages without wrapping the address space.
func validRange(start, length uintptr) bool {
	return start+length >= start && start+length <= maxRangeEnd
}

// vpnRange returns the half-open page range covering [start, start+length).
// The range must satisfy validRange.
func vpnRange(start, length uintptr) (uint64, uint64) {
	return uint64(start / PageSize), uint64((start + length + PageSize - 1) / PageSize)
}

func (ms *MemorySet) lookup(vpn uint64) (pte, bool) {
	v, ok := ms.pages.Get(vpn)
	if !ok {
		return pte{}, false
	}
	return v.(pte), true
}

// Mmap maps fresh zeroed frames over [start, start+length). port carries the
// R/W/X bits; at least one must be set and no other bit may be.
func (ms *MemorySet) Mmap(start, length uintptr, port uint8) error {
	if start%PageSize != 0 {
		return fmt.Errorf("mmap %#x: %w", start, ErrUnaligned)
	}
	if port&^0x7 != 0 || port&0x7 == 0 {
		return fmt.Errorf("mmap port %#x: %w", port, ErrBadPerm)
	}
	if !validRange(start, length) {
		return fmt.Errorf("mmap %#x+%#x: %w", start, length, ErrBadAddress)
	}
	lo, hi := vpnRange(start, length)
	if node, ok := ms.pages.Ceiling(lo); ok && node.Key.(uint64) < hi {
		return fmt.Errorf("mmap vpn %#x: %w", node.Key.(uint64), ErrMapped)
	}

	perm := Perm(port) | PermU
	for vpn := lo; vpn < hi; vpn++ {
		ppn, err := ms.phys.alloc()
		if err != nil {
			ms.unmapRange(lo, vpn)
			return fmt.Errorf("mmap vpn %#x: %w", vpn, err)
		}
		ms.pages.Put(vpn, pte{ppn: ppn, perm: perm})
	}
	return nil
}

// Munmap releases [start, start+length). Every page in the range must be
// mapped; otherwise nothing is released.
func (ms *MemorySet) Munmap(start, length uintptr) error {
	if start%PageSize != 0 {
		return fmt.Errorf("munmap %#x: %w", start, ErrUnaligned)
	}
	if !validRange(start, length) {
		return fmt.Errorf("munmap %#x+%#x: %w", start, length, ErrBadAddress)
	}
	lo, hi := vpnRange(start, length)
	for vpn := lo; vpn < hi; vpn++ {
		if _, ok := ms.lookup(vpn); !ok {
			return fmt.Errorf("munmap vpn %#x: %w", vpn, ErrNotMapped)
		}
	}
	ms.unmapRange(lo, hi)
	return nil
}

func (ms *MemorySet) unmapRange(lo, hi uint64) {
	for vpn := lo; vpn < hi; vpn++ {
		if e, ok := ms.lookup(vpn); ok {
			ms.phys.dealloc(e.ppn)
			ms.pages.Remove(vpn)
		}
	}
}

// Translate returns the physical address backing va.
func (ms *MemorySet) Translate(va uintptr) (uintptr, error) {
	e, ok := ms.lookup(uint64(va / PageSize))
	if !ok {
		return 0, fmt.Errorf("translate %#x: %w", va, ErrNotMapped)
	}
	return e.ppn*PageSize + va%PageSize, nil
}

// chunk is the part of a user range that falls in one page.
type chunk struct {
	frame []byte
	off   uintptr
	n     uintptr
}

// chunks validates [va, va+n) against need and splits it per page.
func (ms *MemorySet) chunks(va, n uintptr, need Perm) ([]chunk, error) {
	if va+n < va {
		return nil, fmt.Errorf("range %#x+%#x: %w", va, n, ErrBadAddress)
	}
	var out []chunk
	for cur, end := va, va+n; cur < end; {
		e, ok := ms.lookup(uint64(cur / PageSize))
		if !ok || e.perm&(need|PermU) != need|PermU {
			return nil, fmt.Errorf("user range %#x+%#x at %#x: %w", va, n, cur, ErrBadAddress)
		}
		off := cur % PageSize
		size := min(PageSize-off, end-cur)
		out = append(out, chunk{frame: ms.phys.frame(e.ppn), off: off, n: size})
		cur += size
	}
	return out, nil
}

// CopyOut writes data at va. The whole range must be mapped user-writable;
// otherwise nothing is written.
func (ms *MemorySet) CopyOut(va uintptr, data []byte) error {
	cs, err := ms.chunks(va, uintptr(len(data)), PermW)
	if err != nil {
		return err
	}
	for _, c := range cs {
		copy(c.frame[c.off:c.off+c.n], data[:c.n])
		data = data[c.n:]
	}
	return nil
}

// CopyIn reads n bytes at va from user-readable pages.
func (ms *MemorySet) CopyIn(va uintptr, n int) ([]byte, error) {
	cs, err := ms.chunks(va, uintptr(n), PermR)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, n)
	for _, c := range cs {
		out = append(out, c.frame[c.off:c.off+c.n]...)
	}
	return out, nil
}

// MappedPages reports how many pages are mapped.
func (ms *MemorySet) MappedPages() int { return ms.pages.Size() }
