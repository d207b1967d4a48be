package mm

import "errors"

// PageSize is the size of one page and one physical frame.
const PageSize = 4096

// ErrOutOfFrames is returned when physical memory is exhausted.
var ErrOutOfFrames = errors.New("out of physical frames")

// PhysMemory simulates a fixed pool of physical frames with a stack allocator:
// recycled frames are reused before fresh ones.
type PhysMemory struct {
	frames   [][]byte
	next     uintptr
	recycled []uintptr
}

// NewPhysMemory creates a pool of n frames.
func NewPhysMemory(n int) *PhysMemory {
	return &PhysMemory{frames: make([][]byte, n)}
}

func (m *PhysMemory) alloc() (uintptr, error) {
	var ppn uintptr
	switch {
	case len(m.recycled) > 0:
		ppn = m.recycled[len(m.recycled)-1]
		m.recycled = m.recycled[:len(m.recycled)-1]
	case int(m.next) < len(m.frames):
		ppn = m.next
		m.next++
	default:
		return 0, ErrOutOfFrames
	}
	m.frames[ppn] = make([]byte, PageSize)
	return ppn, nil
}

func (m *PhysMemory) dealloc(ppn uintptr) {
	if int(ppn) >= int(m.next) || m.frames[ppn] == nil {
		panic("dealloc of a frame that is not allocated")
	}
	m.frames[ppn] = nil
	m.recycled = append(m.recycled, ppn)
}

// FreeFrames reports how many frames can still be allocated.
func (m *PhysMemory) FreeFrames() int {
	return len(m.frames) - int(m.next) + len(m.recycled)
}

func (m *PhysMemory) frame(ppn uintptr) []byte { return m.frames[ppn] }
