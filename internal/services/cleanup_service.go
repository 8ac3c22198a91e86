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

// CleanupService removes what a fully organized task leaves behind: the
// now-empty staging folder and, when asked, the original archive. It runs
// only after every extracted file reached the destination.
type CleanupService interface {
	Cleanup(ctx context.Context, task *domain.ArchiveTask, deleteOriginal bool) (domain.CleanupResult, error)
}

type cleanupService struct {
	api      quark.API
	retryCfg retry.Config
	sleep    func(ctx context.Context, d time.Duration) error
	rng      *rand.Rand
	logger   *slog.Logger
}

func NewCleanupService(api quark.API, retryCfg retry.Config, sleep func(ctx context.Context, d time.Duration) error, logger *slog.Logger) CleanupService {
	if logger == nil {
		logger = slog.Default()
	}
	return &cleanupService{
		api:      api,
		retryCfg: retryCfg,
		sleep:    sleep,
		rng:      backoff.NewLockedRand(time.Now().UnixNano()),
		logger:   logger,
	}
}

// Cleanup verifies the staging folder is empty before deleting it. A
// non-empty folder is never deleted; the error reports what was left so the
// user can inspect it remotely. Failures here leave a safe, merely untidy
// account; nothing is rolled back.
func (s *cleanupService) Cleanup(ctx context.Context, task *domain.ArchiveTask, deleteOriginal bool) (domain.CleanupResult, error) {
	var res domain.CleanupResult
	if task.StagingFid == "" {
		return res, errors.New("no staging folder recorded for task")
	}

	children, err := retry.DoValue(ctx, s.stepRetry(task), func(ctx context.Context) ([]domain.RemoteNode, error) {
		task.RecordAttempt(domain.StepCleanup)
		return s.api.ListChildren(ctx, task.StagingFid)
	})
	if err != nil {
		return res, err
	}
	if len(children) > 0 {
		return res, fmt.Errorf("staging folder still holds %d nodes, refusing to delete it", len(children))
	}

	err = retry.Do(ctx, s.stepRetry(task), func(ctx context.Context) error {
		task.RecordAttempt(domain.StepCleanup)
		return s.api.DeleteNodes(ctx, []string{task.StagingFid})
	})
	if err != nil {
		return res, err
	}
	res.StagingDeleted = true

	if deleteOriginal {
		err = retry.Do(ctx, s.stepRetry(task), func(ctx context.Context) error {
			task.RecordAttempt(domain.StepCleanup)
			return s.api.DeleteNodes(ctx, []string{task.Fid})
		})
		if err != nil {
			return res, err
		}
		res.OriginalDeleted = true
	}

	s.logger.Info("cleanup finished",
		"archive", task.Name, "originalDeleted", res.OriginalDeleted)
	return res, nil
}

func (s *cleanupService) stepRetry(task *domain.ArchiveTask) retry.Config {
	cfg := s.retryCfg
	cfg.Rng = s.rng
	if cfg.Sleep == nil {
		cfg.Sleep = s.sleep
	}
	cfg.OnRetry = func(attempt int, delay time.Duration, err error) {
		metrics.StepRetriesTotal.WithLabelValues(string(domain.StepCleanup)).Inc()
		s.logger.Warn("step failed, retrying",
			"archive", task.Name, "step", domain.StepCleanup, "attempt", attempt, "delay", delay, "error", err)
	}
	return cfg
}
