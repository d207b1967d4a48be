package sched

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSwitchPingPong(t *testing.T) {
	var trace []string
	idle := newIdleContext()

	var cx *TaskContext
	cx = newTaskContext(func() {
		for i := 0; i < 3; i++ {
			trace = append(trace, "task")
			switchContext(cx, idle)
		}
		exitContext(cx, idle)
	})

	for i := 0; i < 4; i++ {
		switchContext(idle, cx)
		trace = append(trace, "idle")
	}

	assert.Equal(t, []string{"task", "idle", "task", "idle", "task", "idle", "idle"}, trace)
	assert.True(t, cx.Exited())
	assert.PanicsWithValue(t, ErrExitedContext, func() { switchContext(idle, cx) })
}

func TestSwitchIntoUninitializedContext(t *testing.T) {
	idle := newIdleContext()
	assert.PanicsWithValue(t, ErrUninitContext, func() { handOff(idle, &TaskContext{}) })
	assert.PanicsWithValue(t, ErrUninitContext, func() { handOff(idle, nil) })
	assert.True(t, idle.live, "a rejected switch leaves the caller live")
}

func TestKillParkedFlow(t *testing.T) {
	idle := newIdleContext()
	gone := make(chan struct{})

	var cx *TaskContext
	cx = newTaskContext(func() {
		defer close(gone)
		for {
			switchContext(cx, idle)
		}
	})

	switchContext(idle, cx)
	cx.kill()

	select {
	case <-gone:
	case <-time.After(5 * time.Second):
		t.Fatal("killed flow did not terminate")
	}
	require.True(t, cx.Exited())
}

func TestKillNeverStarted(t *testing.T) {
	cx := newTaskContext(func() {})
	cx.kill()
	assert.True(t, cx.Exited())
}

func TestExitUnwindsBeforeHandOff(t *testing.T) {
	var trace []string
	idle := newIdleContext()

	var cx *TaskContext
	cx = newTaskContext(func() {
		defer func() {
			time.Sleep(10 * time.Millisecond)
			trace = append(trace, "deferred")
		}()
		exitContext(cx, idle)
		trace = append(trace, "after exit")
	})

	switchContext(idle, cx)
	trace = append(trace, "idle")

	assert.Equal(t, []string{"deferred", "idle"}, trace)
	select {
	case <-cx.done:
	default:
		t.Fatal("exited flow has not finished unwinding")
	}
}

func TestExitIntoUninitializedContext(t *testing.T) {
	from := newIdleContext()
	assert.PanicsWithValue(t, ErrUninitContext, func() { exitContext(from, nil) })
	assert.False(t, from.Exited(), "a rejected exit leaves the flow alive")
}

func TestKillWaitsForDeferred(t *testing.T) {
	idle := newIdleContext()
	unwound := false

	var cx *TaskContext
	cx = newTaskContext(func() {
		defer func() {
			time.Sleep(10 * time.Millisecond)
			unwound = true
		}()
		for {
			switchContext(cx, idle)
		}
	})

	switchContext(idle, cx)
	cx.kill()
	assert.True(t, unwound, "kill returns only after the flow has unwound")
}
