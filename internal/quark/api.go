// Package quark is a typed client for the Quark Drive HTTP API. It owns the
// wire format only: one method is one round trip, errors are classified into
// the domain taxonomy, and retries are left to callers.
package quark

import (
	"context"
	"encoding/json"

	"github.com/unzipq/unzipq/pkg/domain"
)

// API is the surface the rest of the tool programs against. *Client is the
// production implementation; tests substitute fakes.
type API interface {
	// ListChildren returns a snapshot of the direct children of a directory.
	ListChildren(ctx context.Context, parentFid string) ([]domain.RemoteNode, error)
	// SubmitExtract asks the server to extract an archive into a directory
	// and returns the opaque id of the server-side task.
	SubmitExtract(ctx context.Context, archiveFid, toDirFid string) (string, error)
	// PollStatus reports the current state of a server-side extraction task.
	// It never blocks waiting for progress.
	PollStatus(ctx context.Context, taskID string) (domain.ExtractStatus, error)
	// MoveNodes reparents nodes under a new directory.
	MoveNodes(ctx context.Context, fids []string, toDirFid string) error
	// DeleteNodes removes nodes. Directories are removed with their contents,
	// so callers check emptiness first when that matters.
	DeleteNodes(ctx context.Context, fids []string) error
	// RenameNode changes the display name of a node in place.
	RenameNode(ctx context.Context, fid, newName string) error
}

// envelope is the wrapper on every API response. A response is a business
// error when both code and status are non-zero; data is opaque until the
// operation decodes it.
type envelope struct {
	Code    int             `json:"code"`
	Status  int             `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type sortData struct {
	List []domain.RemoteNode `json:"list"`
}

type unarchiveData struct {
	TaskID string `json:"task_id"`
}

// Remote task states as they appear on the wire. Anything above running is
// terminal; anything unknown is treated as failed.
const (
	wireTaskQueued  = 0
	wireTaskRunning = 1
	wireTaskDone    = 2
)

type taskData struct {
	Status  int    `json:"status"`
	Message string `json:"message"`
	SaveAs  struct {
		SaveAsTopFids []string `json:"save_as_top_fids"`
	} `json:"save_as"`
}
