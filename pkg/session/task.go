package session

import (
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// TaskResult is the terminal disposition of a print task.
type TaskResult string

const (
	ResultActive    TaskResult = "active"
	ResultComplete  TaskResult = "complete"
	ResultCancelled TaskResult = "cancelled"
	ResultFailed    TaskResult = "failed"
)

// Task describes one print job. Percent-done is read by pipeline
// stages on the communication loop through a single atomic word, so a
// stage can never observe a torn value.
type Task struct {
	ID       string
	Filename string

	percentBits atomic.Uint64 // float64 bits, 0-100

	mu                sync.Mutex
	result            TaskResult
	failReason        string
	startTime         time.Time
	lastPauseTime     time.Time
	prevPauseDuration time.Duration
}

// NewTask creates a print task for the given job file.
func NewTask(filename string) *Task {
	return &Task{
		ID:        uuid.NewString(),
		Filename:  filename,
		result:    ResultActive,
		startTime: time.Now(),
	}
}

// PercentDone returns the current percent-done (0-100).
func (t *Task) PercentDone() float64 {
	return math.Float64frombits(t.percentBits.Load())
}

// SetPercentDone updates percent-done. The value is clamped to [0,100]
// and never decreases while the task is active.
func (t *Task) SetPercentDone(percent float64) {
	if percent < 0 {
		percent = 0
	} else if percent > 100 {
		percent = 100
	}
	for {
		old := t.percentBits.Load()
		if percent <= math.Float64frombits(old) {
			return
		}
		if t.percentBits.CompareAndSwap(old, math.Float64bits(percent)) {
			return
		}
	}
}

// Result returns the task's disposition and failure reason, if any.
func (t *Task) Result() (TaskResult, string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.result, t.failReason
}

// NotePause records the start of a pause interval.
func (t *Task) NotePause() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.lastPauseTime.IsZero() {
		t.lastPauseTime = time.Now()
	}
}

// NoteResume records the end of a pause interval.
func (t *Task) NoteResume() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.lastPauseTime.IsZero() {
		t.prevPauseDuration += time.Since(t.lastPauseTime)
		t.lastPauseTime = time.Time{}
	}
}

// Complete marks the task as successfully finished.
func (t *Task) Complete() {
	t.finish(ResultComplete, "")
}

// Cancel marks the task as cancelled by the user.
func (t *Task) Cancel() {
	t.finish(ResultCancelled, "")
}

// Fail marks the task as failed with a reason.
func (t *Task) Fail(reason string) {
	t.finish(ResultFailed, reason)
}

func (t *Task) finish(result TaskResult, reason string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.result != ResultActive {
		return
	}
	t.result = result
	t.failReason = reason
	if !t.lastPauseTime.IsZero() {
		t.prevPauseDuration += time.Since(t.lastPauseTime)
		t.lastPauseTime = time.Time{}
	}
}

// Durations returns the total elapsed time and the time spent paused.
func (t *Task) Durations() (total, paused time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	total = time.Since(t.startTime)
	paused = t.prevPauseDuration
	if !t.lastPauseTime.IsZero() {
		paused += time.Since(t.lastPauseTime)
	}
	return total, paused
}

// GetStatus returns a status snapshot for tooling.
func (t *Task) GetStatus() map[string]any {
	result, reason := t.Result()
	total, paused := t.Durations()
	return map[string]any{
		"id":             t.ID,
		"filename":       t.Filename,
		"percent_done":   t.PercentDone(),
		"result":         string(result),
		"message":        reason,
		"total_duration": total.Seconds(),
		"pause_duration": paused.Seconds(),
	}
}
