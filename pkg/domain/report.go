package domain

import "time"

// OrganizeResult summarizes what the organizer did for one task.
type OrganizeResult struct {
	Moved   int `json:"moved"`
	Renamed int `json:"renamed"`
}

// CleanupResult summarizes the tidy-up after a successful move.
type CleanupResult struct {
	StagingDeleted  bool `json:"stagingDeleted"`
	OriginalDeleted bool `json:"originalDeleted"`
}

// TaskOutcome is the per-archive line of a batch report.
type TaskOutcome struct {
	Name            string        `json:"name"`
	Fid             string        `json:"fid"`
	State           TaskState     `json:"state"`
	FailedStep      Step          `json:"failedStep,omitempty"`
	Reason          string        `json:"reason,omitempty"`
	Moved           int           `json:"moved"`
	Renamed         int           `json:"renamed,omitempty"`
	StagingDeleted  bool          `json:"stagingDeleted"`
	OriginalDeleted bool          `json:"originalDeleted"`
	Duration        time.Duration `json:"duration"`
}

// BatchReport is the immutable result of one run. Skipped counts archives
// that were never started because the run context was canceled first.
type BatchReport struct {
	TargetPath string        `json:"targetPath"`
	TargetFid  string        `json:"targetFid"`
	Started    time.Time     `json:"started"`
	Finished   time.Time     `json:"finished"`
	Completed  int           `json:"completed"`
	Failed     int           `json:"failed"`
	Skipped    int           `json:"skipped"`
	Outcomes   []TaskOutcome `json:"outcomes"`
}

// Success reports whether every discovered archive completed and was
// cleaned up. A skipped task counts as a failure for exit-code purposes.
func (r *BatchReport) Success() bool {
	return r.Failed == 0 && r.Skipped == 0
}

// Total is the number of archives the run discovered.
func (r *BatchReport) Total() int {
	return r.Completed + r.Failed + r.Skipped
}
