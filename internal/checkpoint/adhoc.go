package checkpoint

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/estuary/logtail/internal/protocol"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// NewJobID mints a fresh ad-hoc job identifier, used by callers
// starting a one-off collection run rather than resuming an existing one.
func NewJobID() string {
	return uuid.NewString()
}

// AdhocStore persists one JobCheckpoint document per job under a
// dedicated directory, as ad-hoc mode requires: a fixed file list per
// job with per-file offset and status.
type AdhocStore struct {
	mu  sync.RWMutex
	dir string
}

// NewAdhocStore returns an AdhocStore rooted at dir.
func NewAdhocStore(dir string) *AdhocStore {
	return &AdhocStore{dir: dir}
}

func (s *AdhocStore) jobPath(jobID string) string {
	return filepath.Join(s.dir, jobID+".json")
}

// Load reads the JobCheckpoint for jobID. A missing document is not an
// error; it returns a freshly initialized checkpoint instead.
func (s *AdhocStore) Load(jobID string) (protocol.JobCheckpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var doc protocol.JobCheckpoint
	data, err := os.ReadFile(s.jobPath(jobID))
	if os.IsNotExist(err) {
		return protocol.JobCheckpoint{JobID: jobID, Files: make(map[string]protocol.JobFileEntry)}, nil
	} else if err != nil {
		return doc, errors.Wrapf(err, "reading job checkpoint %q", jobID)
	}

	if err := json.Unmarshal(data, &doc); err != nil {
		return doc, errors.Wrapf(err, "parsing job checkpoint %q", jobID)
	}
	if doc.Files == nil {
		doc.Files = make(map[string]protocol.JobFileEntry)
	}
	return doc, nil
}

// Save atomically persists doc under its job ID.
func (s *AdhocStore) Save(doc protocol.JobCheckpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return errors.Wrap(err, "creating ad-hoc checkpoint directory")
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return errors.Wrapf(err, "marshaling job checkpoint %q", doc.JobID)
	}
	return atomicWrite(s.jobPath(doc.JobID), data)
}

// MarkDone transitions a single file entry within a job to JobDone,
// recording its final offset.
func (s *AdhocStore) MarkDone(jobID, path string, offset int64) error {
	doc, err := s.Load(jobID)
	if err != nil {
		return err
	}
	doc.Files[path] = protocol.JobFileEntry{Path: path, Offset: offset, Status: protocol.JobDone}
	return s.Save(doc)
}

// MarkLost transitions a single file entry to JobLost, used when the
// recovery protocol cannot resolve or verify the file on restart.
func (s *AdhocStore) MarkLost(jobID, path string) error {
	doc, err := s.Load(jobID)
	if err != nil {
		return err
	}
	var entry = doc.Files[path]
	entry.Path = path
	entry.Status = protocol.JobLost
	doc.Files[path] = entry
	return s.Save(doc)
}

// Remove deletes the on-disk document for a completed job.
func (s *AdhocStore) Remove(jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.Remove(s.jobPath(jobID)); err != nil && !os.IsNotExist(err) {
		return errors.Wrapf(err, "removing job checkpoint %q", jobID)
	}
	return nil
}
