// internal/sched/timer.go

package sched

import (
	"sync/atomic"
	"time"
)

// Timer reports microseconds elapsed since boot.
type Timer interface {
	Micros() uint64
}

// MonotonicTimer measures from the moment it was created.
type MonotonicTimer struct {
	boot time.Time
}

func NewMonotonicTimer() *MonotonicTimer {
	return &MonotonicTimer{boot: time.Now()}
}

func (t *MonotonicTimer) Micros() uint64 {
	return uint64(time.Since(t.boot).Microseconds())
}

// ManualTimer only moves when told to. Used by tests and replays.
type ManualTimer struct {
	us atomic.Uint64
}

func (t *ManualTimer) Micros() uint64 { return t.us.Load() }

// Advance moves the timer forward by d.
func (t *ManualTimer) Advance(d time.Duration) {
	t.us.Add(uint64(d.Microseconds()))
}

func millis(t Timer) uint64 { return t.Micros() / 1000 }
