// internal/sched/upcell.go

package sched

import (
	"fmt"
	"sync/atomic"
)

// ReentryError is the panic value raised when a UPCell is acquired while it
// is already held. On a single processor this is always a logic error.
type ReentryError struct {
	Cell string
}

func (e *ReentryError) Error() string {
	return fmt.Sprintf("exclusive access to %s re-entered while held", e.Cell)
}

// UPCell grants single-writer access to a value on a uniprocessor.
// It never blocks: acquiring a held cell panics with *ReentryError.
type UPCell[T any] struct {
	name  string
	held  atomic.Bool
	value T
}

// NewUPCell wraps v. The name shows up in reentry panics.
func NewUPCell[T any](name string, v T) *UPCell[T] {
	return &UPCell[T]{name: name, value: v}
}

// ExclusiveAccess takes the guard and returns the protected value.
// The caller must call Release before issuing a context switch.
func (c *UPCell[T]) ExclusiveAccess() *T {
	if !c.held.CompareAndSwap(false, true) {
		panic(&ReentryError{Cell: c.name})
	}
	return &c.value
}

// Release drops the guard taken by ExclusiveAccess.
func (c *UPCell[T]) Release() {
	if !c.held.CompareAndSwap(true, false) {
		panic(fmt.Sprintf("release of %s which is not held", c.name))
	}
}

// With runs fn while holding the guard.
func (c *UPCell[T]) With(fn func(v *T)) {
	v := c.ExclusiveAccess()
	defer c.Release()
	fn(v)
}

// Held reports whether the guard is currently taken.
func (c *UPCell[T]) Held() bool { return c.held.Load() }
