package rtos

import (
	"sort"

	"github.com/sandiphembram2021/kronos-operating-system/internal/kernel/kerr"
)

var (
	ErrPeriodicTableFull = kerr.New(kerr.CodeError, "periodic task table full")
	ErrNoSuchTask        = kerr.New(kerr.CodeInvalidParam, "no such periodic task")
)

// TaskFunc is the body of a periodic task.
type TaskFunc func()

// PeriodicTask is one entry of the periodic-task table.
type PeriodicTask struct {
	ID            int
	Name          string
	Fn            TaskFunc
	PeriodMs      uint32
	PeriodTicks   uint64
	Priority      uint32
	NextExecution uint64
	Active        bool
	Runs          uint64
	Missed        uint64
	LastRun       uint64
}

// PeriodicTable holds registered periodic tasks.
type PeriodicTable struct {
	tasks []*PeriodicTask
	limit int
}

// NewPeriodicTable creates a table with room for limit tasks.
func NewPeriodicTable(limit int) *PeriodicTable {
	return &PeriodicTable{limit: limit}
}

// Register adds a task first due one period after now.
func (t *PeriodicTable) Register(name string, fn TaskFunc, periodMs uint32, periodTicks uint64, priority uint32, now uint64) (int, error) {
	if fn == nil || periodTicks == 0 {
		return -1, kerr.ErrInvalidParam
	}
	if len(t.tasks) >= t.limit {
		return -1, ErrPeriodicTableFull
	}
	task := &PeriodicTask{
		ID:            len(t.tasks),
		Name:          name,
		Fn:            fn,
		PeriodMs:      periodMs,
		PeriodTicks:   periodTicks,
		Priority:      priority,
		NextExecution: now + periodTicks,
		Active:        true,
	}
	t.tasks = append(t.tasks, task)
	return task.ID, nil
}

// SetActive enables or disables a task. Re-enabling schedules it one period
// from now.
func (t *PeriodicTable) SetActive(id int, active bool, now uint64) error {
	if id < 0 || id >= len(t.tasks) {
		return ErrNoSuchTask
	}
	task := t.tasks[id]
	if active && !task.Active {
		task.NextExecution = now + task.PeriodTicks
	}
	task.Active = active
	return nil
}

// Due returns the tasks to execute at now, most urgent first and in
// registration order among equal priority, and reschedules each one period
// after now. It returns how many of them ran late.
func (t *PeriodicTable) Due(now uint64) ([]*PeriodicTask, uint64) {
	var (
		due  []*PeriodicTask
		late uint64
	)
	for _, task := range t.tasks {
		if !task.Active || now < task.NextExecution {
			continue
		}
		if now > task.NextExecution {
			task.Missed++
			late++
		}
		task.Runs++
		task.LastRun = now
		task.NextExecution = now + task.PeriodTicks
		due = append(due, task)
	}
	sort.SliceStable(due, func(i, j int) bool {
		return due[i].Priority < due[j].Priority
	})
	return due, late
}

// Tasks returns a snapshot of the table.
func (t *PeriodicTable) Tasks() []PeriodicTask {
	out := make([]PeriodicTask, len(t.tasks))
	for i, task := range t.tasks {
		out[i] = *task
		out[i].Fn = nil
	}
	return out
}

// Len returns the number of registered tasks.
func (t *PeriodicTable) Len() int {
	return len(t.tasks)
}
