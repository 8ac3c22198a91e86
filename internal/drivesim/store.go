// Package drivesim is an in-memory stand-in for the drive API, wire
// compatible with the endpoints the client calls. It exists so the whole
// pipeline can be exercised end to end without an account, and so failure
// modes (outages, rejected archives, slow extractions) can be scripted.
package drivesim

import (
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/unzipq/unzipq/pkg/domain"
)

// Business error codes returned inside the response envelope. The values
// follow the ones the production service is known to use.
const (
	codeFileNotFound  = 23003
	codeNotAnArchive  = 31001
	codeNotADirectory = 23008
)

type businessError struct {
	code    int
	message string
}

func (e *businessError) Error() string {
	return fmt.Sprintf("code %d: %s", e.code, e.message)
}

// Manifest scripts what extracting one archive produces. Nodes without a
// manifest are rejected at submission, the way the production service
// rejects files it cannot extract.
type Manifest struct {
	// Entries are file names created in the staging folder.
	Entries []string
	// PendingPolls is how many status polls report the task still running
	// before it finishes.
	PendingPolls int
	// FailReason, when set, fails the extraction with this message instead
	// of producing files.
	FailReason string
	// OmitSavedFid leaves save_as_top_fids out of the final status, as
	// older server versions did.
	OmitSavedFid bool
}

type extractJob struct {
	id       string
	archive  string
	toDir    string
	manifest Manifest
	polls    int
	staging  string
}

// Store holds the simulated account state. All methods are safe for
// concurrent use.
type Store struct {
	mu        sync.Mutex
	nodes     map[string]*domain.RemoteNode
	children  map[string][]string
	manifests map[string]Manifest
	jobs      map[string]*extractJob
	outages   map[string]int
}

func NewStore() *Store {
	s := &Store{}
	s.reset()
	return s
}

func (s *Store) reset() {
	s.nodes = map[string]*domain.RemoteNode{
		domain.RootFid: {Fid: domain.RootFid, Name: "", Dir: true},
	}
	s.children = make(map[string][]string)
	s.manifests = make(map[string]Manifest)
	s.jobs = make(map[string]*extractJob)
	s.outages = make(map[string]int)
}

// Reset drops every node, job and scripted outage, leaving only the root.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reset()
}

// FailNext makes the next n calls of op answer with a simulated outage.
// Ops use the endpoint names: sort, unarchive, task, move, delete, rename.
func (s *Store) FailNext(op string, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outages[op] = n
}

// TakeOutage reports whether this call of op should fail, consuming one
// scripted outage if so.
func (s *Store) TakeOutage(op string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.outages[op] > 0 {
		s.outages[op]--
		return true
	}
	return false
}

func newFid() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

func (s *Store) addNode(parentFid, name string, dir bool, size int64) string {
	fid := newFid()
	s.nodes[fid] = &domain.RemoteNode{Fid: fid, Name: name, Dir: dir, PdirFid: parentFid, Size: size}
	s.children[parentFid] = append(s.children[parentFid], fid)
	return fid
}

// AddDir creates a directory under parentFid and returns its fid.
func (s *Store) AddDir(parentFid, name string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addNode(parentFid, name, true, 0)
}

// AddFile creates a plain file under parentFid and returns its fid.
func (s *Store) AddFile(parentFid, name string, size int64) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addNode(parentFid, name, false, size)
}

// AddArchive creates a file and scripts its extraction.
func (s *Store) AddArchive(parentFid, name string, m Manifest) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	fid := s.addNode(parentFid, name, false, 64<<20)
	s.manifests[fid] = m
	return fid
}

// List returns the children of parentFid. The second result reports whether
// the directory exists.
func (s *Store) List(parentFid string) ([]domain.RemoteNode, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	parent, ok := s.nodes[parentFid]
	if !ok || !parent.Dir {
		return nil, false
	}
	out := make([]domain.RemoteNode, 0, len(s.children[parentFid]))
	for _, fid := range s.children[parentFid] {
		out = append(out, *s.nodes[fid])
	}
	return out, true
}

// Unarchive starts an extraction job for fid into toDir.
func (s *Store) Unarchive(fid, toDir string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	node, ok := s.nodes[fid]
	if !ok {
		return "", &businessError{codeFileNotFound, "file not found"}
	}
	dest, ok := s.nodes[toDir]
	if !ok || !dest.Dir {
		return "", &businessError{codeNotADirectory, "destination is not a directory"}
	}
	m, ok := s.manifests[fid]
	if !ok {
		return "", &businessError{codeNotAnArchive, fmt.Sprintf("%q cannot be extracted", node.Name)}
	}
	job := &extractJob{id: newFid(), archive: fid, toDir: toDir, manifest: m}
	s.jobs[job.id] = job
	return job.id, nil
}

// JobStatus is the wire-level outcome of one status poll.
type JobStatus struct {
	Status  int
	Message string
	Saved   []string
}

// Poll advances the job one step and reports its current status: 0 queued on
// the first pending poll, 1 running on later ones, 2 done, 3 failed. The
// staging folder and its entries materialize on the poll that reports done.
func (s *Store) Poll(taskID string) (JobStatus, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[taskID]
	if !ok {
		return JobStatus{}, false
	}
	job.polls++
	if job.polls <= job.manifest.PendingPolls {
		if job.polls == 1 {
			return JobStatus{Status: 0}, true
		}
		return JobStatus{Status: 1}, true
	}
	if job.manifest.FailReason != "" {
		return JobStatus{Status: 3, Message: job.manifest.FailReason}, true
	}
	if job.staging == "" {
		archive := s.nodes[job.archive]
		job.staging = s.addNode(job.toDir, domain.Stem(archive.Name), true, 0)
		for _, entry := range job.manifest.Entries {
			s.addNode(job.staging, entry, false, 4<<20)
		}
	}
	status := JobStatus{Status: 2, Saved: []string{job.staging}}
	if job.manifest.OmitSavedFid {
		status.Saved = nil
	}
	return status, true
}

// Move reparents fids under toDir.
func (s *Store) Move(fids []string, toDir string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	dest, ok := s.nodes[toDir]
	if !ok || !dest.Dir {
		return &businessError{codeNotADirectory, "destination is not a directory"}
	}
	for _, fid := range fids {
		node, ok := s.nodes[fid]
		if !ok {
			return &businessError{codeFileNotFound, "file not found"}
		}
		s.unlink(fid)
		node.PdirFid = toDir
		s.children[toDir] = append(s.children[toDir], fid)
	}
	return nil
}

// Delete removes fids and everything under them.
func (s *Store) Delete(fids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, fid := range fids {
		if _, ok := s.nodes[fid]; !ok {
			return &businessError{codeFileNotFound, "file not found"}
		}
		s.unlink(fid)
		s.drop(fid)
	}
	return nil
}

// Rename changes the name of fid in place.
func (s *Store) Rename(fid, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	node, ok := s.nodes[fid]
	if !ok {
		return &businessError{codeFileNotFound, "file not found"}
	}
	node.Name = name
	return nil
}

func (s *Store) unlink(fid string) {
	parent := s.nodes[fid].PdirFid
	siblings := s.children[parent]
	for i, sibling := range siblings {
		if sibling == fid {
			s.children[parent] = append(siblings[:i:i], siblings[i+1:]...)
			break
		}
	}
}

func (s *Store) drop(fid string) {
	for _, child := range s.children[fid] {
		s.drop(child)
	}
	delete(s.children, fid)
	delete(s.nodes, fid)
	delete(s.manifests, fid)
}

// SeedDir creates every missing directory along path and returns the fid of
// the last one.
func (s *Store) SeedDir(path string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.seedDir(path)
}

func (s *Store) seedDir(path string) (string, error) {
	fid := domain.RootFid
	for _, segment := range splitPath(path) {
		child := s.childByName(fid, segment)
		if child == nil {
			fid = s.addNode(fid, segment, true, 0)
			continue
		}
		if !child.Dir {
			return "", fmt.Errorf("%q is a file, not a directory", segment)
		}
		fid = child.Fid
	}
	return fid, nil
}

// SeedFile creates a plain file at path, with intermediate directories.
func (s *Store) SeedFile(path string, size int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	dir, name, err := s.seedParent(path)
	if err != nil {
		return err
	}
	s.addNode(dir, name, false, size)
	return nil
}

// SeedArchive creates an archive at path with a scripted extraction.
func (s *Store) SeedArchive(path string, m Manifest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	dir, name, err := s.seedParent(path)
	if err != nil {
		return err
	}
	fid := s.addNode(dir, name, false, 64<<20)
	s.manifests[fid] = m
	return nil
}

func (s *Store) seedParent(path string) (dirFid, name string, err error) {
	segments := splitPath(path)
	if len(segments) == 0 {
		return "", "", fmt.Errorf("path %q has no file name", path)
	}
	name = segments[len(segments)-1]
	dirFid, err = s.seedDir(strings.Join(segments[:len(segments)-1], "/"))
	if err != nil {
		return "", "", err
	}
	return dirFid, name, nil
}

func (s *Store) childByName(parentFid, name string) *domain.RemoteNode {
	for _, fid := range s.children[parentFid] {
		if s.nodes[fid].Name == name {
			return s.nodes[fid]
		}
	}
	return nil
}

func splitPath(path string) []string {
	var segments []string
	for _, segment := range strings.Split(path, "/") {
		if strings.TrimSpace(segment) != "" {
			segments = append(segments, segment)
		}
	}
	return segments
}
