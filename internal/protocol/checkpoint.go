package protocol

import (
	"time"

	"github.com/pkg/errors"
)

// CheckpointRecord is the normal-mode, one-per-active-file checkpoint
// entry of the aggregate checkpoint document.
type CheckpointRecord struct {
	Identity   FileIdentity
	RealPath   string
	Offset     int64
	Signature  Signature
	UpdateTime time.Time
	ConfigName string
}

// Validate returns an error if the CheckpointRecord is malformed.
func (c *CheckpointRecord) Validate() error {
	if c.RealPath == "" {
		return errors.New("CheckpointRecord: RealPath is required")
	}
	if c.Offset < 0 {
		return errors.New("CheckpointRecord: Offset must be non-negative")
	}
	return nil
}

// CommitState is the state of a RangeCheckpoint slot.
type CommitState int

const (
	CommitPending CommitState = iota
	CommitCommitted
)

func (s CommitState) String() string {
	if s == CommitCommitted {
		return "committed"
	}
	return "pending"
}

// RangeCheckpoint is one per-slot read-window record enabling
// exactly-once replay. N RangeCheckpoints exist per file, where N is
// the configured per-file concurrency.
type RangeCheckpoint struct {
	Identity        FileIdentity
	ConcurrencySlot int
	ReadOffset      int64
	ReadLength      int64
	CommitState     CommitState
	Sequence        uint64
}

// Validate returns an error if the RangeCheckpoint is malformed.
func (r *RangeCheckpoint) Validate() error {
	if r.ReadOffset < 0 || r.ReadLength < 0 {
		return errors.New("RangeCheckpoint: offsets and lengths must be non-negative")
	}
	if r.ConcurrencySlot < 0 {
		return errors.New("RangeCheckpoint: ConcurrencySlot must be non-negative")
	}
	return nil
}

// CheckpointAggregate is the single versioned document persisted in
// normal mode: schema version, composite-key-addressed checkpoint
// records, and the pending-subdirectory watch map.
type CheckpointAggregate struct {
	Version       int
	CheckPoint    map[string]CheckpointRecord
	DirCheckPoint map[string]DirCheckpoint
}

// DirCheckpoint records the pending-subdirectory watch state for one
// directory path.
type DirCheckpoint struct {
	UpdateTime time.Time
	SubDirs    []string
}

// JobFileStatus is the status of one file within an ad-hoc job.
type JobFileStatus int

const (
	JobWaiting JobFileStatus = iota
	JobReading
	JobDone
	JobLost
)

// JobCheckpoint is one ad-hoc-mode document: a fixed file list with
// per-file progress and status.
type JobCheckpoint struct {
	JobID string
	Files map[string]JobFileEntry
}

// JobFileEntry is the per-file progress record within a JobCheckpoint.
type JobFileEntry struct {
	Path   string
	Offset int64
	Status JobFileStatus
}

// ExactlyOnceDocument is the exactly-once store's key-value document:
// a primary key mapping to a fixed-size vector of RangeCheckpoints.
type ExactlyOnceDocument struct {
	PrimaryKey string
	Signature  Signature
	Ranges     []RangeCheckpoint
}

// Validate returns an error if the ExactlyOnceDocument is malformed.
func (d *ExactlyOnceDocument) Validate() error {
	if d.PrimaryKey == "" {
		return errors.New("ExactlyOnceDocument: PrimaryKey is required")
	}
	for i := range d.Ranges {
		if err := d.Ranges[i].Validate(); err != nil {
			return errors.Wrapf(err, "range %d", i)
		}
	}
	return nil
}
