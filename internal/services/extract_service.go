package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/unzipq/unzipq/internal/backoff"
	"github.com/unzipq/unzipq/internal/metrics"
	"github.com/unzipq/unzipq/internal/quark"
	"github.com/unzipq/unzipq/internal/retry"
	"github.com/unzipq/unzipq/pkg/domain"
)

// ExtractService drives one archive from Pending to a terminal state:
// submit the server-side extraction, poll it to completion, and collect the
// extracted nodes from the staging folder.
type ExtractService interface {
	Extract(ctx context.Context, task *domain.ArchiveTask, toDirFid string) error
}

type extractService struct {
	api        quark.API
	retryCfg   retry.Config
	pollBase   time.Duration
	pollMax    time.Duration
	pollBudget time.Duration
	now        func() time.Time
	sleep      func(ctx context.Context, d time.Duration) error
	rng        *rand.Rand
	logger     *slog.Logger
}

// NewExtractService builds the workflow service. now and sleep are
// injectable so tests can drive the polling loop without real waiting; nil
// selects the wall clock.
func NewExtractService(api quark.API, retryCfg retry.Config, pollBase, pollMax, pollBudget time.Duration, now func() time.Time, sleep func(ctx context.Context, d time.Duration) error, logger *slog.Logger) ExtractService {
	if pollBase <= 0 {
		pollBase = 3 * time.Second
	}
	if pollMax <= 0 {
		pollMax = 30 * time.Second
	}
	if pollBudget <= 0 {
		pollBudget = 10 * time.Minute
	}
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &extractService{
		api:        api,
		retryCfg:   retryCfg,
		pollBase:   pollBase,
		pollMax:    pollMax,
		pollBudget: pollBudget,
		now:        now,
		sleep:      sleep,
		rng:        backoff.NewLockedRand(time.Now().UnixNano()),
		logger:     logger,
	}
	if s.sleep == nil {
		s.sleep = s.timerSleep
	}
	return s
}

// Extract mutates task through the state machine and returns the error that
// ended it, if any. The task is terminal when Extract returns: Completed
// with a non-empty ResultFids, or Failed with the step and reason recorded.
func (s *extractService) Extract(ctx context.Context, task *domain.ArchiveTask, toDirFid string) error {
	taskID, err := retry.DoValue(ctx, s.stepRetry(task, domain.StepSubmit), func(ctx context.Context) (string, error) {
		task.RecordAttempt(domain.StepSubmit)
		return s.api.SubmitExtract(ctx, task.Fid, toDirFid)
	})
	if err != nil {
		task.Fail(domain.StepSubmit, err)
		return err
	}
	task.RemoteTaskID = taskID
	task.State = domain.StateSubmitted
	s.logger.Info("extraction submitted", "archive", task.Name, "remoteTask", taskID)

	task.State = domain.StateExtracting
	status, err := s.awaitRemote(ctx, task)
	if err != nil {
		task.Fail(domain.StepPoll, err)
		return err
	}
	if status.State == domain.ExtractFailed {
		err := fmt.Errorf("remote extraction failed: %s", status.Reason)
		task.Fail(domain.StepPoll, err)
		return err
	}

	stagingFid, err := s.findStaging(ctx, task, status, toDirFid)
	if err != nil {
		task.Fail(domain.StepCollect, err)
		return err
	}
	task.StagingFid = stagingFid

	children, err := retry.DoValue(ctx, s.stepRetry(task, domain.StepCollect), func(ctx context.Context) ([]domain.RemoteNode, error) {
		task.RecordAttempt(domain.StepCollect)
		return s.api.ListChildren(ctx, stagingFid)
	})
	if err != nil {
		task.Fail(domain.StepCollect, err)
		return err
	}
	if len(children) == 0 {
		err := errors.New("extraction produced no files")
		task.Fail(domain.StepCollect, err)
		return err
	}

	fids := make([]string, len(children))
	for i, child := range children {
		fids[i] = child.Fid
	}
	task.ResultFids = fids
	task.State = domain.StateCompleted
	s.logger.Info("extraction completed", "archive", task.Name, "files", len(fids))
	return nil
}

// awaitRemote polls the remote task until it leaves the pending state or the
// polling budget runs out. The interval doubles from pollBase up to pollMax;
// progress waiting is deliberately jitter-free so test runs are exactly
// reproducible.
func (s *extractService) awaitRemote(ctx context.Context, task *domain.ArchiveTask) (domain.ExtractStatus, error) {
	started := s.now()
	deadline := started.Add(s.pollBudget)

	for poll := 0; ; poll++ {
		status, err := retry.DoValue(ctx, s.stepRetry(task, domain.StepPoll), func(ctx context.Context) (domain.ExtractStatus, error) {
			task.RecordAttempt(domain.StepPoll)
			return s.api.PollStatus(ctx, task.RemoteTaskID)
		})
		if err != nil {
			return domain.ExtractStatus{}, err
		}
		if status.State != domain.ExtractPending {
			metrics.ExtractWaitSeconds.Observe(s.now().Sub(started).Seconds())
			return status, nil
		}

		remaining := deadline.Sub(s.now())
		if remaining <= 0 {
			return domain.ExtractStatus{}, &domain.TimeoutError{Elapsed: s.now().Sub(started)}
		}
		wait := backoff.Compute(backoff.PolicyExponential, s.pollBase, s.pollMax, poll, s.rng)
		if wait > remaining {
			wait = remaining
		}
		s.logger.Debug("extraction pending", "archive", task.Name, "nextPoll", wait)
		if err := s.sleep(ctx, wait); err != nil {
			return domain.ExtractStatus{}, err
		}
	}
}

// findStaging locates the folder the server extracted into. Recent servers
// report it in the task status; older responses omit it, in which case the
// folder named after the archive stem is looked up in the destination.
func (s *extractService) findStaging(ctx context.Context, task *domain.ArchiveTask, status domain.ExtractStatus, toDirFid string) (string, error) {
	if len(status.SavedFids) > 0 {
		return status.SavedFids[0], nil
	}

	stem := domain.Stem(task.Name)
	children, err := retry.DoValue(ctx, s.stepRetry(task, domain.StepCollect), func(ctx context.Context) ([]domain.RemoteNode, error) {
		task.RecordAttempt(domain.StepCollect)
		return s.api.ListChildren(ctx, toDirFid)
	})
	if err != nil {
		return "", err
	}
	for _, child := range children {
		if child.Dir && child.Name == stem {
			return child.Fid, nil
		}
	}
	return "", fmt.Errorf("staging folder %q not found after extraction", stem)
}

func (s *extractService) stepRetry(task *domain.ArchiveTask, step domain.Step) retry.Config {
	cfg := s.retryCfg
	cfg.Rng = s.rng
	if cfg.Sleep == nil {
		cfg.Sleep = s.sleep
	}
	cfg.OnRetry = func(attempt int, delay time.Duration, err error) {
		metrics.StepRetriesTotal.WithLabelValues(string(step)).Inc()
		s.logger.Warn("step failed, retrying",
			"archive", task.Name, "step", step, "attempt", attempt, "delay", delay, "error", err)
	}
	return cfg
}

func (s *extractService) timerSleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
