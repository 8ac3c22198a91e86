package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/unzipq/unzipq/pkg/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// extractScript tells the fake drive how to behave for one archive.
type extractScript struct {
	entries      []string // file names materialized in the staging folder
	pendingPolls int      // polls answered Pending before the task finishes
	failReason   string   // non-empty: task ends Failed with this reason
	rejectSubmit bool     // server refuses the unarchive request outright
	omitSavedFid bool     // Done status reports no staging fid
}

type fakeExtract struct {
	script     extractScript
	archiveFid string
	toDirFid   string
	polls      int
	stagingFid string
}

// fakeDrive is an in-memory drive with scripted extraction tasks and fault
// injection. All methods are safe for concurrent use.
type fakeDrive struct {
	mu sync.Mutex

	nodes    map[string]*domain.RemoteNode
	children map[string][]string
	scripts  map[string]extractScript
	tasks    map[string]*fakeExtract
	seq      int

	failNextByOp  map[string]int // op -> remaining transport failures
	failNextByFid map[string]int // op+":"+fid -> remaining transport failures
	deleted       []string
	onPoll        func(taskID string, poll int)
}

func newFakeDrive() *fakeDrive {
	return &fakeDrive{
		nodes:         make(map[string]*domain.RemoteNode),
		children:      make(map[string][]string),
		scripts:       make(map[string]extractScript),
		tasks:         make(map[string]*fakeExtract),
		failNextByOp:  make(map[string]int),
		failNextByFid: make(map[string]int),
	}
}

func (f *fakeDrive) nextFid(kind string) string {
	f.seq++
	return fmt.Sprintf("%s%d", kind, f.seq)
}

func (f *fakeDrive) addDir(parentFid, name string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.addNode(parentFid, name, true)
}

func (f *fakeDrive) addFile(parentFid, name string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.addNode(parentFid, name, false)
}

func (f *fakeDrive) addNode(parentFid, name string, dir bool) string {
	fid := f.nextFid("n")
	f.nodes[fid] = &domain.RemoteNode{Fid: fid, Name: name, Dir: dir, PdirFid: parentFid}
	f.children[parentFid] = append(f.children[parentFid], fid)
	return fid
}

// addArchive creates an archive file node and scripts its extraction.
func (f *fakeDrive) addArchive(parentFid, name string, script extractScript) string {
	fid := f.addFile(parentFid, name)
	f.mu.Lock()
	f.scripts[fid] = script
	f.mu.Unlock()
	return fid
}

// failNext makes the next n calls of op fail with a transport error.
// Ops: sort, unarchive, task, move, delete, rename.
func (f *fakeDrive) failNext(op string, n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failNextByOp[op] = n
}

// failNextFid targets failures at one node for per-node operations.
func (f *fakeDrive) failNextFid(op, fid string, n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failNextByFid[op+":"+fid] = n
}

func (f *fakeDrive) gate(op string, fids ...string) error {
	if n := f.failNextByOp[op]; n > 0 {
		f.failNextByOp[op] = n - 1
		return &domain.TransportError{Op: op, Err: errors.New("injected failure")}
	}
	for _, fid := range fids {
		key := op + ":" + fid
		if n := f.failNextByFid[key]; n > 0 {
			f.failNextByFid[key] = n - 1
			return &domain.TransportError{Op: op, Err: fmt.Errorf("injected failure for %s", fid)}
		}
	}
	return nil
}

func (f *fakeDrive) ListChildren(_ context.Context, parentFid string) ([]domain.RemoteNode, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.gate("sort", parentFid); err != nil {
		return nil, err
	}
	fids := f.children[parentFid]
	out := make([]domain.RemoteNode, 0, len(fids))
	for _, fid := range fids {
		out = append(out, *f.nodes[fid])
	}
	return out, nil
}

func (f *fakeDrive) SubmitExtract(_ context.Context, archiveFid, toDirFid string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.gate("unarchive", archiveFid); err != nil {
		return "", err
	}
	script, ok := f.scripts[archiveFid]
	if !ok {
		return "", &domain.SubmissionRejectedError{Code: 31001, Message: "not an archive"}
	}
	if script.rejectSubmit {
		return "", &domain.SubmissionRejectedError{Code: 31005, Message: "unsupported format"}
	}
	taskID := f.nextFid("task")
	f.tasks[taskID] = &fakeExtract{script: script, archiveFid: archiveFid, toDirFid: toDirFid}
	return taskID, nil
}

func (f *fakeDrive) PollStatus(_ context.Context, taskID string) (domain.ExtractStatus, error) {
	f.mu.Lock()
	task, ok := f.tasks[taskID]
	if !ok {
		f.mu.Unlock()
		return domain.ExtractStatus{}, fmt.Errorf("task: unknown task %q", taskID)
	}
	if err := f.gate("task"); err != nil {
		f.mu.Unlock()
		return domain.ExtractStatus{}, err
	}
	task.polls++
	poll := task.polls
	onPoll := f.onPoll

	if poll <= task.script.pendingPolls {
		f.mu.Unlock()
		if onPoll != nil {
			onPoll(taskID, poll)
		}
		return domain.ExtractStatus{State: domain.ExtractPending}, nil
	}
	if task.script.failReason != "" {
		f.mu.Unlock()
		if onPoll != nil {
			onPoll(taskID, poll)
		}
		return domain.ExtractStatus{State: domain.ExtractFailed, Reason: task.script.failReason}, nil
	}
	if task.stagingFid == "" {
		archive := f.nodes[task.archiveFid]
		stagingFid := f.addNode(task.toDirFid, domain.Stem(archive.Name), true)
		for _, entry := range task.script.entries {
			f.addNode(stagingFid, entry, false)
		}
		task.stagingFid = stagingFid
	}
	status := domain.ExtractStatus{State: domain.ExtractDone, SavedFids: []string{task.stagingFid}}
	if task.script.omitSavedFid {
		status.SavedFids = nil
	}
	f.mu.Unlock()
	if onPoll != nil {
		onPoll(taskID, poll)
	}
	return status, nil
}

func (f *fakeDrive) MoveNodes(_ context.Context, fids []string, toDirFid string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.gate("move", fids...); err != nil {
		return err
	}
	for _, fid := range fids {
		node, ok := f.nodes[fid]
		if !ok {
			return fmt.Errorf("file/move: unknown fid %q", fid)
		}
		f.unlink(fid)
		node.PdirFid = toDirFid
		f.children[toDirFid] = append(f.children[toDirFid], fid)
	}
	return nil
}

func (f *fakeDrive) DeleteNodes(_ context.Context, fids []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.gate("delete", fids...); err != nil {
		return err
	}
	for _, fid := range fids {
		if _, ok := f.nodes[fid]; !ok {
			return fmt.Errorf("file/delete: unknown fid %q", fid)
		}
		f.unlink(fid)
		delete(f.nodes, fid)
		f.deleted = append(f.deleted, fid)
	}
	return nil
}

func (f *fakeDrive) RenameNode(_ context.Context, fid, newName string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.gate("rename", fid); err != nil {
		return err
	}
	node, ok := f.nodes[fid]
	if !ok {
		return fmt.Errorf("file/rename: unknown fid %q", fid)
	}
	node.Name = newName
	return nil
}

func (f *fakeDrive) unlink(fid string) {
	parent := f.nodes[fid].PdirFid
	siblings := f.children[parent]
	for i, sibling := range siblings {
		if sibling == fid {
			f.children[parent] = append(siblings[:i:i], siblings[i+1:]...)
			break
		}
	}
}

// childNames lists the names under a directory, in storage order.
func (f *fakeDrive) childNames(parentFid string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var names []string
	for _, fid := range f.children[parentFid] {
		names = append(names, f.nodes[fid].Name)
	}
	return names
}

func (f *fakeDrive) exists(fid string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.nodes[fid]
	return ok
}

func (f *fakeDrive) wasDeleted(fid string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, deleted := range f.deleted {
		if deleted == fid {
			return true
		}
	}
	return false
}

// fakeClock provides an instantly advancing clock for the poll loop.
type fakeClock struct {
	mu     sync.Mutex
	t      time.Time
	sleeps []time.Duration
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
	c.sleeps = append(c.sleeps, d)
	return nil
}

func (c *fakeClock) recorded() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Duration(nil), c.sleeps...)
}
