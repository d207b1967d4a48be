// internal/sched/context.go

package sched

import (
	"errors"
	"runtime"
)

var (
	// ErrExitedContext is the panic value for a switch into a flow that has exited.
	ErrExitedContext = errors.New("switch into exited context")
	// ErrUninitContext is the panic value for a switch into a context that has
	// neither an entry point nor a live flow behind it.
	ErrUninitContext = errors.New("switch into uninitialized context")
)

// resumeMsg is what a suspended flow receives when it is switched back in.
type resumeMsg struct {
	kill bool // terminate the flow instead of resuming it
}

// TaskContext is the saved execution state of one logical flow. Each flow is
// backed by a goroutine that is parked on resume whenever it is not live, so
// exactly one of the flows taking part in a switch runs at a time.
type TaskContext struct {
	entry   func()
	resume  chan resumeMsg
	done    chan struct{} // closed once the flow's goroutine has fully unwound
	exitTo  *TaskContext  // where control goes after the flow unwinds on exit
	started bool
	live    bool
	exited  bool
}

// newTaskContext returns a context that starts running entry the first time
// it is switched into.
func newTaskContext(entry func()) *TaskContext {
	return &TaskContext{
		entry:  entry,
		resume: make(chan resumeMsg),
		done:   make(chan struct{}),
	}
}

// newIdleContext returns the context of the flow that is calling it. It is
// already live and has no entry point.
func newIdleContext() *TaskContext {
	return &TaskContext{
		resume:  make(chan resumeMsg),
		done:    make(chan struct{}),
		started: true,
		live:    true,
	}
}

// Exited reports whether the flow behind cx has terminated.
func (cx *TaskContext) Exited() bool { return cx.exited }

// run is the body of a flow's goroutine. Control leaves the flow only after
// every deferred call of entry has completed.
func (cx *TaskContext) run() {
	defer func() {
		close(cx.done)
		if cx.exitTo != nil {
			handOff(cx, cx.exitTo)
		}
	}()
	cx.entry()
	panic("flow returned without exiting")
}

// switchContext suspends the calling flow, whose context is from, and resumes
// to. It returns once some later switch targets from again.
func switchContext(from, to *TaskContext) {
	handOff(from, to)
	if msg := <-from.resume; msg.kill {
		runtime.Goexit()
	}
}

// exitContext terminates the calling flow and then hands the processor to to.
// It never returns.
func exitContext(from, to *TaskContext) {
	checkTarget(from, to)
	from.exited = true
	from.exitTo = to
	runtime.Goexit()
}

func checkTarget(from, to *TaskContext) {
	switch {
	case to == nil || (!to.started && to.entry == nil):
		panic(ErrUninitContext)
	case to.exited:
		panic(ErrExitedContext)
	case from == to:
		panic("switch from a context into itself")
	}
}

func handOff(from, to *TaskContext) {
	checkTarget(from, to)

	from.live = false
	to.live = true
	if !to.started {
		to.started = true
		go to.run()
		return
	}
	to.resume <- resumeMsg{}
}

// kill terminates a suspended flow and waits until it has unwound. Contexts
// that never started are simply marked exited.
func (cx *TaskContext) kill() {
	if cx.exited || cx.live {
		return
	}
	cx.exited = true
	if cx.started {
		cx.resume <- resumeMsg{kill: true}
		<-cx.done
	}
}
