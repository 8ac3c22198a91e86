// Package resolver maps slash-separated account paths to fids by walking
// remote directory listings.
package resolver

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"github.com/unzipq/unzipq/internal/quark"
	"github.com/unzipq/unzipq/pkg/domain"
)

// Resolver caches resolved paths for its own lifetime, which is one run.
// Fids are stable within a run; nothing guarantees them across runs, so the
// cache is never persisted.
type Resolver struct {
	api    quark.API
	logger *slog.Logger

	mu    sync.Mutex
	cache map[string]string // canonical path -> directory fid
}

func New(api quark.API, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		api:    api,
		logger: logger,
		cache:  map[string]string{"/": domain.RootFid},
	}
}

// Resolve walks path segment by segment from the root and returns the fid of
// the named directory. Every resolved prefix is cached, so a path is walked
// remotely at most once per run; later calls are pure cache reads. A missing
// segment fails with PathNotFoundError, a segment that exists as a file with
// NotADirectoryError. The walk is serialized: concurrent calls for the same
// path trigger a single remote resolution.
func (r *Resolver) Resolve(ctx context.Context, path string) (string, error) {
	segments := split(path)
	canonical := "/" + strings.Join(segments, "/")

	r.mu.Lock()
	defer r.mu.Unlock()

	fid := domain.RootFid
	prefix := ""
	for _, segment := range segments {
		prefix += "/" + segment
		if cached, ok := r.cache[prefix]; ok {
			fid = cached
			continue
		}
		children, err := r.api.ListChildren(ctx, fid)
		if err != nil {
			return "", err
		}
		var match *domain.RemoteNode
		for i := range children {
			if children[i].Name == segment {
				match = &children[i]
				break
			}
		}
		if match == nil {
			return "", &domain.PathNotFoundError{Path: canonical, Segment: segment}
		}
		if !match.Dir {
			return "", &domain.NotADirectoryError{Path: canonical, Segment: segment}
		}
		r.cache[prefix] = match.Fid
		fid = match.Fid
	}

	r.logger.Debug("path resolved", "path", canonical, "fid", fid)
	return fid, nil
}

// split breaks a user-supplied path into segments, dropping blank ones so
// "/a//b/" and "a/b" resolve identically.
func split(path string) []string {
	var segments []string
	for _, part := range strings.Split(strings.TrimSpace(path), "/") {
		if part != "" {
			segments = append(segments, part)
		}
	}
	return segments
}
