package services

import (
	"context"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/unzipq/unzipq/internal/backoff"
	"github.com/unzipq/unzipq/internal/metrics"
	"github.com/unzipq/unzipq/internal/quark"
	"github.com/unzipq/unzipq/internal/retry"
	"github.com/unzipq/unzipq/pkg/domain"
)

// PathResolver turns an account path into a fid. Satisfied by
// resolver.Resolver.
type PathResolver interface {
	Resolve(ctx context.Context, path string) (string, error)
}

// RunHooks lets the caller observe task lifecycle events during a run,
// typically to draw progress output. Either hook may be nil.
type RunHooks struct {
	OnTaskStart func(task *domain.ArchiveTask)
	OnTaskDone  func(outcome domain.TaskOutcome)
}

// BatchService discovers the archives in a target directory and drives each
// through extraction, organization and cleanup. One archive failing never
// stops the others.
type BatchService interface {
	Run(ctx context.Context, targetPath string, deleteOriginal bool) (*domain.BatchReport, error)
	// Snapshot reports the live state of the current run, or nil between
	// runs. The metrics collector reads it on scrape.
	Snapshot() *metrics.RunSnapshot
}

type batchService struct {
	api         quark.API
	paths       PathResolver
	extractor   ExtractService
	organizer   OrganizeService
	cleaner     CleanupService
	extensions  []string
	concurrency int
	retryCfg    retry.Config
	hooks       RunHooks
	now         func() time.Time
	rng         *rand.Rand
	tracer      trace.Tracer
	logger      *slog.Logger

	mu   sync.Mutex
	snap *metrics.RunSnapshot
}

func NewBatchService(api quark.API, paths PathResolver, extractor ExtractService, organizer OrganizeService, cleaner CleanupService, extensions []string, concurrency int, retryCfg retry.Config, hooks RunHooks, now func() time.Time, logger *slog.Logger) BatchService {
	if len(extensions) == 0 {
		extensions = domain.DefaultArchiveExtensions
	}
	if concurrency < 1 {
		concurrency = 3
	}
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &batchService{
		api:         api,
		paths:       paths,
		extractor:   extractor,
		organizer:   organizer,
		cleaner:     cleaner,
		extensions:  extensions,
		concurrency: concurrency,
		retryCfg:    retryCfg,
		hooks:       hooks,
		now:         now,
		rng:         backoff.NewLockedRand(time.Now().UnixNano()),
		tracer:      otel.Tracer("github.com/unzipq/unzipq/internal/services"),
		logger:      logger,
	}
}

// Run resolves the target, enumerates candidate archives and fans their
// workflows out over a bounded worker pool. Canceling ctx lets running tasks
// finish their current step; archives not yet started are reported skipped.
func (s *batchService) Run(ctx context.Context, targetPath string, deleteOriginal bool) (*domain.BatchReport, error) {
	ctx, span := s.tracer.Start(ctx, "batch.run", trace.WithAttributes(
		attribute.String("target.path", targetPath),
		attribute.Bool("delete_original", deleteOriginal),
	))
	defer span.End()

	started := s.now()

	targetFid, err := retry.DoValue(ctx, s.runRetry("resolve"), func(ctx context.Context) (string, error) {
		return s.paths.Resolve(ctx, targetPath)
	})
	if err != nil {
		span.SetStatus(codes.Error, "resolve failed")
		return nil, err
	}

	listing, err := retry.DoValue(ctx, s.runRetry("discover"), func(ctx context.Context) ([]domain.RemoteNode, error) {
		return s.api.ListChildren(ctx, targetFid)
	})
	if err != nil {
		span.SetStatus(codes.Error, "listing failed")
		return nil, err
	}

	var archives []domain.RemoteNode
	for _, node := range listing {
		if !node.Dir && domain.IsArchiveName(node.Name, s.extensions) {
			archives = append(archives, node)
		}
	}
	metrics.ArchivesDiscoveredTotal.Add(float64(len(archives)))
	span.SetAttributes(attribute.Int("archives.count", len(archives)))
	s.logger.Info("target scanned",
		"path", targetPath, "fid", targetFid, "archives", len(archives))

	report := &domain.BatchReport{
		TargetPath: targetPath,
		TargetFid:  targetFid,
		Started:    started,
	}
	if len(archives) == 0 {
		report.Finished = s.now()
		return report, nil
	}

	s.setSnapshot(&metrics.RunSnapshot{Discovered: len(archives), Pending: len(archives)})
	defer s.setSnapshot(nil)

	tasks := make([]*domain.ArchiveTask, len(archives))
	for i, node := range archives {
		tasks[i] = domain.NewArchiveTask(node)
	}

	outcomes := make([]domain.TaskOutcome, len(tasks))
	sem := make(chan struct{}, s.concurrency)
	var wg sync.WaitGroup

	canceled := false
	for i, task := range tasks {
		if !canceled {
			select {
			case <-ctx.Done():
				canceled = true
			case sem <- struct{}{}:
				if ctx.Err() != nil {
					// The slot freed at the same instant the run was canceled.
					<-sem
					canceled = true
				}
			}
		}
		if canceled {
			outcomes[i] = domain.TaskOutcome{
				Name:   task.Name,
				Fid:    task.Fid,
				State:  domain.StatePending,
				Reason: "run canceled before start",
			}
			continue
		}
		wg.Add(1)
		go func(i int, task *domain.ArchiveTask) {
			defer wg.Done()
			defer func() { <-sem }()
			outcomes[i] = s.processOne(ctx, task, targetFid, deleteOriginal)
		}(i, task)
	}
	wg.Wait()

	for _, outcome := range outcomes {
		switch outcome.State {
		case domain.StateCompleted:
			report.Completed++
		case domain.StateFailed:
			report.Failed++
		default:
			report.Skipped++
			metrics.ArchiveOutcomesTotal.WithLabelValues("skipped").Inc()
		}
	}
	report.Outcomes = outcomes
	report.Finished = s.now()

	metrics.RunDurationSeconds.Observe(report.Finished.Sub(report.Started).Seconds())
	span.SetAttributes(
		attribute.Int("archives.completed", report.Completed),
		attribute.Int("archives.failed", report.Failed),
		attribute.Int("archives.skipped", report.Skipped),
	)
	if !report.Success() {
		span.SetStatus(codes.Error, "run finished with failures")
	}
	s.logger.Info("run finished",
		"completed", report.Completed, "failed", report.Failed, "skipped", report.Skipped,
		"duration", report.Finished.Sub(report.Started))
	return report, nil
}

func (s *batchService) processOne(ctx context.Context, task *domain.ArchiveTask, targetFid string, deleteOriginal bool) domain.TaskOutcome {
	ctx, span := s.tracer.Start(ctx, "archive.process", trace.WithAttributes(
		attribute.String("archive.name", task.Name),
		attribute.String("archive.fid", task.Fid),
	))
	defer span.End()

	if s.hooks.OnTaskStart != nil {
		s.hooks.OnTaskStart(task)
	}
	s.updateSnapshot(func(sn *metrics.RunSnapshot) { sn.Pending--; sn.Running++ })
	task.StartedAt = s.now()
	s.logger.Info("processing archive", "archive", task.Name)

	outcome := domain.TaskOutcome{Name: task.Name, Fid: task.Fid}
	if err := s.extractor.Extract(ctx, task, targetFid); err == nil {
		orgRes, orgErr := s.organizer.Organize(ctx, task, targetFid)
		outcome.Moved, outcome.Renamed = orgRes.Moved, orgRes.Renamed
		if orgErr != nil {
			task.Fail(domain.StepMove, orgErr)
		} else {
			clnRes, clnErr := s.cleaner.Cleanup(ctx, task, deleteOriginal)
			outcome.StagingDeleted = clnRes.StagingDeleted
			outcome.OriginalDeleted = clnRes.OriginalDeleted
			if clnErr != nil {
				task.Fail(domain.StepCleanup, clnErr)
			}
		}
	}
	task.FinishedAt = s.now()

	outcome.State = task.State
	outcome.FailedStep = task.FailedStep
	outcome.Reason = task.LastError
	outcome.Duration = task.FinishedAt.Sub(task.StartedAt)

	if task.State == domain.StateCompleted {
		metrics.ArchiveOutcomesTotal.WithLabelValues("completed").Inc()
		s.updateSnapshot(func(sn *metrics.RunSnapshot) { sn.Running--; sn.Completed++ })
		span.SetStatus(codes.Ok, "")
		s.logger.Info("archive done",
			"archive", task.Name, "moved", outcome.Moved, "duration", outcome.Duration)
	} else {
		metrics.ArchiveOutcomesTotal.WithLabelValues("failed").Inc()
		s.updateSnapshot(func(sn *metrics.RunSnapshot) { sn.Running--; sn.Failed++ })
		span.SetStatus(codes.Error, outcome.Reason)
		s.logger.Error("archive failed",
			"archive", task.Name, "step", task.FailedStep, "reason", task.LastError)
	}

	if s.hooks.OnTaskDone != nil {
		s.hooks.OnTaskDone(outcome)
	}
	return outcome
}

func (s *batchService) Snapshot() *metrics.RunSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.snap == nil {
		return nil
	}
	cp := *s.snap
	return &cp
}

func (s *batchService) setSnapshot(sn *metrics.RunSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap = sn
}

func (s *batchService) updateSnapshot(fn func(*metrics.RunSnapshot)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.snap != nil {
		fn(s.snap)
	}
}

// runRetry is the retry configuration for run-level steps that happen before
// any task exists; label names the step for the retry counter.
func (s *batchService) runRetry(label string) retry.Config {
	cfg := s.retryCfg
	cfg.Rng = s.rng
	cfg.OnRetry = func(attempt int, delay time.Duration, err error) {
		metrics.StepRetriesTotal.WithLabelValues(label).Inc()
		s.logger.Warn("step failed, retrying",
			"step", label, "attempt", attempt, "delay", delay, "error", err)
	}
	return cfg
}
