package domain

import (
	"errors"
	"fmt"
	"testing"
)

func TestIsArchiveName(t *testing.T) {
	exts := DefaultArchiveExtensions
	tests := []struct {
		name string
		want bool
	}{
		{"movie.zip", true},
		{"Movie.ZIP", true},
		{"backup.tar", true},
		{"backup.tar.gz", true},
		{"season.rar", true},
		{"disk.7z", true},
		{"notes.txt", false},
		{"zip", false},
		{"archive.zip.txt", false},
		{"", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsArchiveName(tt.name, exts); got != tt.want {
				t.Errorf("IsArchiveName(%q) = %v, want %v", tt.name, got, tt.want)
			}
		})
	}
}

func TestIsArchiveNameCustomExtensions(t *testing.T) {
	if !IsArchiveName("data.cbz", []string{"cbz"}) {
		t.Error("expected custom extension to match")
	}
	if IsArchiveName("data.zip", []string{"cbz"}) {
		t.Error("expected default extension not to match custom set")
	}
}

func TestStem(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"movie.zip", "movie"},
		{"movie.tar.gz", "movie.tar"},
		{"noext", "noext"},
		{".hidden", ".hidden"},
		{"a.b", "a"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := Stem(tt.in); got != tt.want {
				t.Errorf("Stem(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestNewArchiveTask(t *testing.T) {
	node := RemoteNode{Fid: "f1", Name: "movie.zip"}
	task := NewArchiveTask(node)

	if task.ID == "" {
		t.Error("expected a generated task id")
	}
	if task.Fid != "f1" || task.Name != "movie.zip" {
		t.Errorf("task carries wrong node identity: %+v", task)
	}
	if task.State != StatePending {
		t.Errorf("new task state = %s, want %s", task.State, StatePending)
	}
	if task.Terminal() {
		t.Error("new task must not be terminal")
	}
}

func TestRecordAttempt(t *testing.T) {
	task := NewArchiveTask(RemoteNode{Fid: "f1", Name: "a.zip"})
	task.RecordAttempt(StepSubmit)
	task.RecordAttempt(StepSubmit)
	task.RecordAttempt(StepPoll)

	if got := task.Attempts[StepSubmit]; got != 2 {
		t.Errorf("submit attempts = %d, want 2", got)
	}
	if got := task.Attempts[StepPoll]; got != 1 {
		t.Errorf("poll attempts = %d, want 1", got)
	}

	var zero ArchiveTask
	zero.RecordAttempt(StepMove) // nil map must not panic
	if zero.Attempts[StepMove] != 1 {
		t.Error("attempt on zero-value task not recorded")
	}
}

func TestFailKeepsFirstFailure(t *testing.T) {
	task := NewArchiveTask(RemoteNode{Fid: "f1", Name: "a.zip"})
	task.Fail(StepSubmit, errors.New("first"))
	task.Fail(StepMove, errors.New("second"))

	if task.FailedStep != StepSubmit || task.LastError != "first" {
		t.Errorf("second Fail overwrote the first: step=%s err=%q", task.FailedStep, task.LastError)
	}
	if !task.Terminal() {
		t.Error("failed task must be terminal")
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"transport", &TransportError{Op: "file/sort", Err: errors.New("boom")}, true},
		{"wrapped transport", fmt.Errorf("listing: %w", &TransportError{Op: "file/sort", Err: errors.New("boom")}), true},
		{"path not found", &PathNotFoundError{Path: "/a", Segment: "a"}, false},
		{"not a directory", &NotADirectoryError{Path: "/a/b", Segment: "a"}, false},
		{"submission rejected", &SubmissionRejectedError{Code: 31001, Message: "bad archive"}, false},
		{"partial move", &PartialMoveError{Moved: 2, FailedFids: []string{"id3"}}, false},
		{"timeout", &TimeoutError{}, false},
		{"plain", errors.New("boom"), false},
		{"nil", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRetryable(tt.err); got != tt.want {
				t.Errorf("IsRetryable(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestRetriesExhaustedUnwrap(t *testing.T) {
	cause := &TransportError{Op: "file/move", Err: errors.New("connection reset")}
	err := &RetriesExhaustedError{Attempts: 3, Last: cause}

	var te *TransportError
	if !errors.As(err, &te) {
		t.Fatal("expected RetriesExhaustedError to unwrap to TransportError")
	}
	if te.Op != "file/move" {
		t.Errorf("unwrapped op = %q, want file/move", te.Op)
	}
}

func TestBatchReportSuccess(t *testing.T) {
	tests := []struct {
		name   string
		report BatchReport
		want   bool
	}{
		{"all completed", BatchReport{Completed: 3}, true},
		{"empty run", BatchReport{}, true},
		{"one failed", BatchReport{Completed: 2, Failed: 1}, false},
		{"one skipped", BatchReport{Completed: 2, Skipped: 1}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.report.Success(); got != tt.want {
				t.Errorf("Success() = %v, want %v", got, tt.want)
			}
			if tt.report.Total() != tt.report.Completed+tt.report.Failed+tt.report.Skipped {
				t.Error("Total() does not add up")
			}
		})
	}
}
