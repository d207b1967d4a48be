// internal/sched/schedulerEvent.go

package sched

import (
	"encoding/csv"
	"os"
	"strconv"
	"time"
)

// StatusKind represents the type of scheduler event
type StatusKind int

const (
	StatusIdle StatusKind = iota
	StatusEnqueue
	StatusDispatch
	StatusYield
	StatusExit
)

// StatusEvent is emitted on every scheduling action.
type StatusEvent struct {
	Time       time.Time
	Kind       StatusKind
	TaskID     TaskID
	Micros     uint64 // scheduler timer at emission
	QueueDepth int
	ExitCode   int32
}

func (sk StatusKind) String() string {
	switch sk {
	case StatusIdle:
		return "Idle"
	case StatusEnqueue:
		return "Enqueued"
	case StatusDispatch:
		return "Dispatch"
	case StatusYield:
		return "Yield"
	case StatusExit:
		return "Exit"
	default:
		return "Unknown"
	}
}

// csvLog streams events to a CSV file.
type csvLog struct {
	f *os.File
	w *csv.Writer
}

func openCSVLog(path string) (*csvLog, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	w := csv.NewWriter(f)

	// write header
	if err := w.Write([]string{"timestamp", "micros", "event", "task_id", "queue_depth", "exit_code"}); err != nil {
		f.Close()
		return nil, err
	}
	w.Flush()
	return &csvLog{f: f, w: w}, nil
}

func (l *csvLog) write(ev StatusEvent) error {
	rec := []string{
		ev.Time.Format(time.RFC3339Nano),
		strconv.FormatUint(ev.Micros, 10),
		ev.Kind.String(),
		strconv.FormatUint(uint64(ev.TaskID), 10),
		strconv.Itoa(ev.QueueDepth),
		strconv.FormatInt(int64(ev.ExitCode), 10),
	}
	if err := l.w.Write(rec); err != nil {
		return err
	}
	l.w.Flush()
	return l.w.Error()
}

func (l *csvLog) close() error {
	l.w.Flush()
	return l.f.Close()
}
