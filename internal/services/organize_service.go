package services

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/unzipq/unzipq/internal/backoff"
	"github.com/unzipq/unzipq/internal/metrics"
	"github.com/unzipq/unzipq/internal/quark"
	"github.com/unzipq/unzipq/internal/retry"
	"github.com/unzipq/unzipq/pkg/domain"
)

// OrganizeService relocates the extracted files of a completed task from the
// staging folder into the destination directory. Existing destination nodes
// are never overwritten or deleted; colliding names are rewritten before the
// move.
type OrganizeService interface {
	Organize(ctx context.Context, task *domain.ArchiveTask, targetFid string) (domain.OrganizeResult, error)
}

type organizeService struct {
	api      quark.API
	retryCfg retry.Config
	sleep    func(ctx context.Context, d time.Duration) error
	rng      *rand.Rand
	logger   *slog.Logger

	// claimed tracks destination names taken by this process, per target
	// directory, so archives extracting files with equal names cannot race
	// each other into a collision the snapshots would miss.
	mu      sync.Mutex
	claimed map[string]map[string]bool
}

func NewOrganizeService(api quark.API, retryCfg retry.Config, sleep func(ctx context.Context, d time.Duration) error, logger *slog.Logger) OrganizeService {
	if logger == nil {
		logger = slog.Default()
	}
	return &organizeService{
		api:      api,
		retryCfg: retryCfg,
		sleep:    sleep,
		rng:      backoff.NewLockedRand(time.Now().UnixNano()),
		logger:   logger,
		claimed:  make(map[string]map[string]bool),
	}
}

// Organize moves every node out of the staging folder into targetFid, one
// move per node so partial failures stay attributable. It returns
// PartialMoveError when some nodes could not be renamed or moved after
// retries; the files already moved stay where they are.
func (s *organizeService) Organize(ctx context.Context, task *domain.ArchiveTask, targetFid string) (domain.OrganizeResult, error) {
	var res domain.OrganizeResult
	if task.State != domain.StateCompleted {
		return res, fmt.Errorf("archive %q is %s, nothing to organize", task.Name, task.State)
	}

	snapshot, err := retry.DoValue(ctx, s.stepRetry(task), func(ctx context.Context) ([]domain.RemoteNode, error) {
		task.RecordAttempt(domain.StepMove)
		return s.api.ListChildren(ctx, targetFid)
	})
	if err != nil {
		return res, err
	}
	taken := make(map[string]bool, len(snapshot))
	for _, node := range snapshot {
		taken[node.Name] = true
	}

	children, err := retry.DoValue(ctx, s.stepRetry(task), func(ctx context.Context) ([]domain.RemoteNode, error) {
		task.RecordAttempt(domain.StepMove)
		return s.api.ListChildren(ctx, task.StagingFid)
	})
	if err != nil {
		return res, err
	}

	var failed []string
	for _, child := range children {
		finalName := s.claimName(targetFid, taken, child)
		if finalName != child.Name {
			err := retry.Do(ctx, s.stepRetry(task), func(ctx context.Context) error {
				task.RecordAttempt(domain.StepMove)
				return s.api.RenameNode(ctx, child.Fid, finalName)
			})
			if err != nil {
				s.logger.Warn("rename failed, leaving node in staging",
					"archive", task.Name, "node", child.Name, "error", err)
				failed = append(failed, child.Fid)
				continue
			}
			res.Renamed++
			s.logger.Info("renamed to avoid collision",
				"archive", task.Name, "from", child.Name, "to", finalName)
		}

		err = retry.Do(ctx, s.stepRetry(task), func(ctx context.Context) error {
			task.RecordAttempt(domain.StepMove)
			return s.api.MoveNodes(ctx, []string{child.Fid}, targetFid)
		})
		if err != nil {
			s.logger.Warn("move failed, leaving node in staging",
				"archive", task.Name, "node", finalName, "error", err)
			failed = append(failed, child.Fid)
			continue
		}
		res.Moved++
	}

	if len(failed) > 0 {
		return res, &domain.PartialMoveError{Moved: res.Moved, FailedFids: failed}
	}
	return res, nil
}

// claimName reserves a collision-free destination name for node. The claim
// is serialized across tasks, so the outcome is deterministic in claim
// order: first claimer keeps the plain name, later ones get the lowest free
// " (k)" suffix.
func (s *organizeService) claimName(targetFid string, taken map[string]bool, node domain.RemoteNode) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	claimed := s.claimed[targetFid]
	if claimed == nil {
		claimed = make(map[string]bool)
		s.claimed[targetFid] = claimed
	}
	inUse := func(name string) bool { return taken[name] || claimed[name] }

	name := node.Name
	if inUse(name) {
		base, ext := suffixPoint(node)
		for k := 1; ; k++ {
			candidate := fmt.Sprintf("%s (%d)%s", base, k, ext)
			if !inUse(candidate) {
				name = candidate
				break
			}
		}
	}
	claimed[name] = true
	return name
}

// suffixPoint decides where the collision suffix goes: files keep their
// final extension, directories take the suffix at the end.
func suffixPoint(node domain.RemoteNode) (base, ext string) {
	if node.Dir {
		return node.Name, ""
	}
	base = domain.Stem(node.Name)
	return base, node.Name[len(base):]
}

func (s *organizeService) stepRetry(task *domain.ArchiveTask) retry.Config {
	cfg := s.retryCfg
	cfg.Rng = s.rng
	if cfg.Sleep == nil {
		cfg.Sleep = s.sleep
	}
	cfg.OnRetry = func(attempt int, delay time.Duration, err error) {
		metrics.StepRetriesTotal.WithLabelValues(string(domain.StepMove)).Inc()
		s.logger.Warn("step failed, retrying",
			"archive", task.Name, "step", domain.StepMove, "attempt", attempt, "delay", delay, "error", err)
	}
	return cfg
}
