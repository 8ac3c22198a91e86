package services

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/unzipq/unzipq/internal/backoff"
	"github.com/unzipq/unzipq/internal/retry"
	"github.com/unzipq/unzipq/pkg/domain"
)

func fixedRetry(maxAttempts int) retry.Config {
	return retry.Config{
		MaxAttempts: maxAttempts,
		Policy:      backoff.PolicyFixed,
		Base:        time.Second,
		Max:         time.Second,
	}
}

type extractFixture struct {
	drive  *fakeDrive
	clock  *fakeClock
	target string
	svc    ExtractService
}

func newExtractFixture(t *testing.T, maxAttempts int, pollBudget time.Duration) *extractFixture {
	t.Helper()
	drive := newFakeDrive()
	clock := newFakeClock()
	target := drive.addDir(domain.RootFid, "Incoming")
	svc := NewExtractService(drive, fixedRetry(maxAttempts),
		3*time.Second, 30*time.Second, pollBudget, clock.Now, clock.Sleep, testLogger())
	return &extractFixture{drive: drive, clock: clock, target: target, svc: svc}
}

func (fx *extractFixture) newTask(fid, name string) *domain.ArchiveTask {
	return domain.NewArchiveTask(domain.RemoteNode{Fid: fid, Name: name})
}

func TestExtractHappyPath(t *testing.T) {
	fx := newExtractFixture(t, 3, 10*time.Minute)
	arc := fx.drive.addArchive(fx.target, "movie.zip", extractScript{
		entries:      []string{"movie.mkv", "movie.srt", "movie.nfo"},
		pendingPolls: 2,
	})
	task := fx.newTask(arc, "movie.zip")

	if err := fx.svc.Extract(context.Background(), task, fx.target); err != nil {
		t.Fatalf("Extract returned %v", err)
	}

	if task.State != domain.StateCompleted {
		t.Errorf("state = %s, want %s", task.State, domain.StateCompleted)
	}
	if len(task.ResultFids) != 3 {
		t.Errorf("result fids = %d, want 3", len(task.ResultFids))
	}
	if task.StagingFid == "" {
		t.Error("staging fid not recorded")
	}
	if got := task.Attempts[domain.StepSubmit]; got != 1 {
		t.Errorf("submit attempts = %d, want 1", got)
	}
	if got := task.Attempts[domain.StepPoll]; got != 3 {
		t.Errorf("poll attempts = %d, want 3 (two pending, one done)", got)
	}

	// Progress waits double from the base: 3s then 6s.
	want := []time.Duration{3 * time.Second, 6 * time.Second}
	got := fx.clock.recorded()
	if len(got) != len(want) {
		t.Fatalf("sleeps = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sleep[%d] = %s, want %s", i, got[i], want[i])
		}
	}
}

func TestExtractCompletedImpliesResults(t *testing.T) {
	fx := newExtractFixture(t, 3, 10*time.Minute)
	arc := fx.drive.addArchive(fx.target, "hollow.zip", extractScript{pendingPolls: 1})
	task := fx.newTask(arc, "hollow.zip")

	err := fx.svc.Extract(context.Background(), task, fx.target)
	if err == nil {
		t.Fatal("expected an error for an empty extraction")
	}
	if task.State != domain.StateFailed {
		t.Errorf("state = %s, want %s", task.State, domain.StateFailed)
	}
	if task.FailedStep != domain.StepCollect {
		t.Errorf("failed step = %s, want %s", task.FailedStep, domain.StepCollect)
	}
	if len(task.ResultFids) != 0 {
		t.Error("a failed task must not carry result fids")
	}
}

func TestExtractSubmitRecoversAfterTransientFailures(t *testing.T) {
	fx := newExtractFixture(t, 3, 10*time.Minute)
	arc := fx.drive.addArchive(fx.target, "show.rar", extractScript{
		entries:      []string{"e1.mkv"},
		pendingPolls: 1,
	})
	fx.drive.failNext("unarchive", 2)
	task := fx.newTask(arc, "show.rar")

	if err := fx.svc.Extract(context.Background(), task, fx.target); err != nil {
		t.Fatalf("Extract returned %v", err)
	}
	if task.State != domain.StateCompleted {
		t.Errorf("state = %s, want %s", task.State, domain.StateCompleted)
	}
	if got := task.Attempts[domain.StepSubmit]; got != 3 {
		t.Errorf("submit attempts = %d, want 3", got)
	}
}

func TestExtractSubmitExhaustsRetries(t *testing.T) {
	fx := newExtractFixture(t, 3, 10*time.Minute)
	arc := fx.drive.addArchive(fx.target, "show.rar", extractScript{entries: []string{"e1.mkv"}})
	fx.drive.failNext("unarchive", 5)
	task := fx.newTask(arc, "show.rar")

	err := fx.svc.Extract(context.Background(), task, fx.target)
	var exhausted *domain.RetriesExhaustedError
	if !errors.As(err, &exhausted) {
		t.Fatalf("error = %v, want RetriesExhaustedError", err)
	}
	if exhausted.Attempts != 3 {
		t.Errorf("attempts = %d, want 3", exhausted.Attempts)
	}
	if task.FailedStep != domain.StepSubmit {
		t.Errorf("failed step = %s, want %s", task.FailedStep, domain.StepSubmit)
	}
	if task.Attempts[domain.StepSubmit] != 3 {
		t.Errorf("recorded submit attempts = %d, want 3", task.Attempts[domain.StepSubmit])
	}
}

func TestExtractSubmitRejectedIsTerminal(t *testing.T) {
	fx := newExtractFixture(t, 3, 10*time.Minute)
	arc := fx.drive.addArchive(fx.target, "broken.7z", extractScript{rejectSubmit: true})
	task := fx.newTask(arc, "broken.7z")

	err := fx.svc.Extract(context.Background(), task, fx.target)
	var rejected *domain.SubmissionRejectedError
	if !errors.As(err, &rejected) {
		t.Fatalf("error = %v, want SubmissionRejectedError", err)
	}
	if got := task.Attempts[domain.StepSubmit]; got != 1 {
		t.Errorf("submit attempts = %d, want 1 (no retry on rejection)", got)
	}
	if task.State != domain.StateFailed || task.FailedStep != domain.StepSubmit {
		t.Errorf("task = %s at %s, want failed at submit", task.State, task.FailedStep)
	}
}

func TestExtractPollTimeout(t *testing.T) {
	fx := newExtractFixture(t, 3, time.Minute)
	arc := fx.drive.addArchive(fx.target, "endless.zip", extractScript{
		entries:      []string{"x"},
		pendingPolls: 1000,
	})
	task := fx.newTask(arc, "endless.zip")

	err := fx.svc.Extract(context.Background(), task, fx.target)
	var timeout *domain.TimeoutError
	if !errors.As(err, &timeout) {
		t.Fatalf("error = %v, want TimeoutError", err)
	}
	if timeout.Elapsed != time.Minute {
		t.Errorf("elapsed = %s, want the full budget", timeout.Elapsed)
	}
	if task.State != domain.StateFailed || task.FailedStep != domain.StepPoll {
		t.Errorf("task = %s at %s, want failed at poll", task.State, task.FailedStep)
	}

	// Doubling waits capped at the poll ceiling, last one clipped to the
	// budget: 3+6+12+24+15 = 60s of simulated waiting, no real sleeping.
	want := []time.Duration{3 * time.Second, 6 * time.Second, 12 * time.Second, 24 * time.Second, 15 * time.Second}
	got := fx.clock.recorded()
	if len(got) != len(want) {
		t.Fatalf("sleeps = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sleep[%d] = %s, want %s", i, got[i], want[i])
		}
	}
}

func TestExtractRemoteFailureReported(t *testing.T) {
	fx := newExtractFixture(t, 3, 10*time.Minute)
	arc := fx.drive.addArchive(fx.target, "corrupt.zip", extractScript{
		pendingPolls: 1,
		failReason:   "damaged archive header",
	})
	task := fx.newTask(arc, "corrupt.zip")

	err := fx.svc.Extract(context.Background(), task, fx.target)
	if err == nil || task.State != domain.StateFailed {
		t.Fatalf("err = %v, state = %s; want failure", err, task.State)
	}
	if task.FailedStep != domain.StepPoll {
		t.Errorf("failed step = %s, want %s", task.FailedStep, domain.StepPoll)
	}
	if !strings.Contains(task.LastError, "damaged archive header") {
		t.Errorf("lastError = %q, want the remote reason", task.LastError)
	}
}

func TestExtractPollSurvivesTransientFailures(t *testing.T) {
	fx := newExtractFixture(t, 3, 10*time.Minute)
	arc := fx.drive.addArchive(fx.target, "movie.zip", extractScript{
		entries:      []string{"movie.mkv"},
		pendingPolls: 1,
	})
	fx.drive.failNext("task", 2)
	task := fx.newTask(arc, "movie.zip")

	if err := fx.svc.Extract(context.Background(), task, fx.target); err != nil {
		t.Fatalf("Extract returned %v", err)
	}
	if task.State != domain.StateCompleted {
		t.Errorf("state = %s, want %s", task.State, domain.StateCompleted)
	}
}

func TestExtractFindsStagingWithoutSavedFid(t *testing.T) {
	fx := newExtractFixture(t, 3, 10*time.Minute)
	arc := fx.drive.addArchive(fx.target, "movie.zip", extractScript{
		entries:      []string{"movie.mkv"},
		pendingPolls: 1,
		omitSavedFid: true,
	})
	task := fx.newTask(arc, "movie.zip")

	if err := fx.svc.Extract(context.Background(), task, fx.target); err != nil {
		t.Fatalf("Extract returned %v", err)
	}
	if task.StagingFid == "" {
		t.Error("staging fid not discovered from the destination listing")
	}
	if len(task.ResultFids) != 1 {
		t.Errorf("result fids = %d, want 1", len(task.ResultFids))
	}
}
