package domain

import (
	"time"

	"github.com/google/uuid"
)

type TaskState string

const (
	StatePending    TaskState = "PENDING"
	StateSubmitted  TaskState = "SUBMITTED"
	StateExtracting TaskState = "EXTRACTING"
	StateCompleted  TaskState = "COMPLETED"
	StateFailed     TaskState = "FAILED"
)

// Step identifies one remote-facing stage of an archive workflow. Retry
// attempts are counted per step, never across steps.
type Step string

const (
	StepSubmit  Step = "submit"
	StepPoll    Step = "poll"
	StepCollect Step = "collect"
	StepMove    Step = "move"
	StepCleanup Step = "cleanup"
)

// ExtractState is the lifecycle of a server-side extraction task as
// reported by status polls.
type ExtractState string

const (
	ExtractPending ExtractState = "PENDING"
	ExtractDone    ExtractState = "DONE"
	ExtractFailed  ExtractState = "FAILED"
)

// ExtractStatus is one poll snapshot of a remote extraction task.
type ExtractStatus struct {
	State     ExtractState
	SavedFids []string // top-level fids produced by the task, set when Done
	Reason    string   // server-side failure reason, set when Failed
}

// ArchiveTask tracks one archive through the extraction workflow. A task is
// owned by exactly one worker goroutine at a time; the orchestrator hands it
// out and collects it back, so the struct carries no locking.
type ArchiveTask struct {
	ID           string         `json:"id"`
	Fid          string         `json:"fid"`
	Name         string         `json:"name"`
	State        TaskState      `json:"state"`
	RemoteTaskID string         `json:"remoteTaskId,omitempty"`
	StagingFid   string         `json:"stagingFid,omitempty"`
	ResultFids   []string       `json:"resultFids,omitempty"`
	Attempts     map[Step]int   `json:"attempts,omitempty"`
	FailedStep   Step           `json:"failedStep,omitempty"`
	LastError    string         `json:"lastError,omitempty"`
	StartedAt    time.Time      `json:"startedAt"`
	FinishedAt   time.Time      `json:"finishedAt,omitempty"`
}

// NewArchiveTask builds a Pending task for an archive node found in the
// target directory.
func NewArchiveTask(node RemoteNode) *ArchiveTask {
	return &ArchiveTask{
		ID:       uuid.NewString(),
		Fid:      node.Fid,
		Name:     node.Name,
		State:    StatePending,
		Attempts: make(map[Step]int),
	}
}

// RecordAttempt bumps the attempt counter for one step. The first execution
// counts as attempt 1.
func (t *ArchiveTask) RecordAttempt(step Step) {
	if t.Attempts == nil {
		t.Attempts = make(map[Step]int)
	}
	t.Attempts[step]++
}

// Fail moves the task to its terminal failed state, recording which step
// gave up and why. Calling Fail on an already failed task keeps the first
// failure.
func (t *ArchiveTask) Fail(step Step, err error) {
	if t.State == StateFailed {
		return
	}
	t.State = StateFailed
	t.FailedStep = step
	if err != nil {
		t.LastError = err.Error()
	}
}

// Terminal reports whether the task reached a final state.
func (t *ArchiveTask) Terminal() bool {
	return t.State == StateCompleted || t.State == StateFailed
}
