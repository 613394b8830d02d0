// Package checkpoint persists per-file read progress so that restarts
// and crashes do not lose or duplicate data beyond a bounded window:
// an aggregate document for normal mode, per-job documents for ad-hoc
// mode, and a key-value store for exactly-once range checkpoints.
package checkpoint

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/estuary/logtail/internal/protocol"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// DefaultCapacity is the default cap on active checkpoints retained in
// the aggregate document.
const DefaultCapacity = 100000

// DefaultLoadTTL is the default staleness bound applied when loading
// checkpoints from disk.
const DefaultLoadTTL = 300 * time.Second

// DefaultMemoryTTL is the default staleness bound applied to in-memory
// checkpoint entries.
const DefaultMemoryTTL = 7200 * time.Second

// AggregateStore is the single-writer, versioned aggregate checkpoint
// document described in §6. Reads see a consistent snapshot thanks to
// the atomic-rename write discipline.
type AggregateStore struct {
	mu       sync.RWMutex
	path     string
	doc      protocol.CheckpointAggregate
	capacity int
}

// NewAggregateStore returns an AggregateStore backed by the document at
// path, with the given capacity (DefaultCapacity if zero).
func NewAggregateStore(path string, capacity int) *AggregateStore {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &AggregateStore{
		path:     path,
		capacity: capacity,
		doc: protocol.CheckpointAggregate{
			Version:       1,
			CheckPoint:    make(map[string]protocol.CheckpointRecord),
			DirCheckPoint: make(map[string]protocol.DirCheckpoint),
		},
	}
}

// aggregateOnDisk is the JSON wire shape of the aggregate document.
type aggregateOnDisk struct {
	Version       int                                    `json:"version"`
	CheckPoint    map[string]checkpointRecordOnDisk       `json:"check_point"`
	DirCheckPoint map[string]protocol.DirCheckpoint       `json:"dir_check_point"`
}

// checkpointRecordOnDisk mirrors §6's field layout, storing the offset
// as a string as the external format specifies.
type checkpointRecordOnDisk struct {
	FileName     string    `json:"file_name"`
	RealFileName string    `json:"real_file_name"`
	Offset       string    `json:"offset"`
	SigSize      uint32    `json:"sig_size"`
	SigHash      uint64    `json:"sig_hash"`
	UpdateTime   time.Time `json:"update_time"`
	Inode        uint64    `json:"inode"`
	Dev          uint64    `json:"dev"`
	ConfigName   string    `json:"config_name"`
}

// Load reads the aggregate document from disk, discarding entries
// older than ttl (DefaultLoadTTL if zero).
func (s *AggregateStore) Load(ttl time.Duration) error {
	if ttl <= 0 {
		ttl = DefaultLoadTTL
	}

	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil
	} else if err != nil {
		return errors.Wrap(err, "reading checkpoint aggregate")
	}

	var onDisk aggregateOnDisk
	if err := json.Unmarshal(data, &onDisk); err != nil {
		return errors.Wrap(err, "parsing checkpoint aggregate")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.doc.Version = onDisk.Version
	s.doc.CheckPoint = make(map[string]protocol.CheckpointRecord, len(onDisk.CheckPoint))
	s.doc.DirCheckPoint = onDisk.DirCheckPoint
	if s.doc.DirCheckPoint == nil {
		s.doc.DirCheckPoint = make(map[string]protocol.DirCheckpoint)
	}

	var now = time.Now()
	for key, rec := range onDisk.CheckPoint {
		if now.Sub(rec.UpdateTime) > ttl {
			log.WithField("key", key).Info("discarding stale checkpoint record on load")
			continue
		}
		offset, err := strconv.ParseInt(rec.Offset, 10, 64)
		if err != nil {
			log.WithField("key", key).WithError(err).Warn("discarding checkpoint record with unparseable offset")
			continue
		}
		s.doc.CheckPoint[key] = protocol.CheckpointRecord{
			RealPath:   rec.RealFileName,
			Offset:     offset,
			Signature:  protocol.Signature{Length: rec.SigSize, Hash: rec.SigHash},
			UpdateTime: rec.UpdateTime,
			ConfigName: rec.ConfigName,
			Identity:   protocol.FileIdentity{Device: rec.Dev, Inode: rec.Inode, ConfigName: rec.ConfigName},
		}
	}
	return nil
}

// Put inserts or updates the checkpoint record for key.
func (s *AggregateStore) Put(key string, rec protocol.CheckpointRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.doc.CheckPoint[key] = rec
}

// Get returns the checkpoint record for key, if any.
func (s *AggregateStore) Get(key string) (protocol.CheckpointRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.doc.CheckPoint[key]
	return rec, ok
}

// Delete removes the checkpoint record for key.
func (s *AggregateStore) Delete(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.doc.CheckPoint, key)
}

// Dump atomically persists the aggregate document: write to
// "<path>.bak", fsync, then rename over "<path>". If the number of
// active checkpoints exceeds capacity, only the most-recently-updated
// subset is written and an alarm-worthy count is returned.
func (s *AggregateStore) Dump() (overflowCount int, err error) {
	s.mu.RLock()
	var onDisk = aggregateOnDisk{
		Version:       s.doc.Version,
		CheckPoint:    make(map[string]checkpointRecordOnDisk, len(s.doc.CheckPoint)),
		DirCheckPoint: s.doc.DirCheckPoint,
	}

	var keys = make([]string, 0, len(s.doc.CheckPoint))
	for k := range s.doc.CheckPoint {
		keys = append(keys, k)
	}

	if len(keys) > s.capacity {
		sort.Slice(keys, func(i, j int) bool {
			return s.doc.CheckPoint[keys[i]].UpdateTime.After(s.doc.CheckPoint[keys[j]].UpdateTime)
		})
		overflowCount = len(keys) - s.capacity
		keys = keys[:s.capacity]
	}

	for _, k := range keys {
		var rec = s.doc.CheckPoint[k]
		onDisk.CheckPoint[k] = checkpointRecordOnDisk{
			FileName:     k,
			RealFileName: rec.RealPath,
			Offset:       strconv.FormatInt(rec.Offset, 10),
			SigSize:      rec.Signature.Length,
			SigHash:      rec.Signature.Hash,
			UpdateTime:   rec.UpdateTime,
			Inode:        rec.Identity.Inode,
			Dev:          rec.Identity.Device,
			ConfigName:   rec.ConfigName,
		}
	}
	s.mu.RUnlock()

	data, err := json.MarshalIndent(onDisk, "", "  ")
	if err != nil {
		return overflowCount, errors.Wrap(err, "marshaling checkpoint aggregate")
	}

	if err := atomicWrite(s.path, data); err != nil {
		return overflowCount, err
	}

	if overflowCount > 0 {
		log.WithField("overflow", overflowCount).Warn("checkpoint aggregate exceeded capacity; oldest entries dropped from dump")
	}
	return overflowCount, nil
}

// atomicWrite implements the "<path>.bak" + fsync + rename discipline.
func atomicWrite(path string, data []byte) error {
	var tmp = path + ".bak"
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return errors.Wrap(err, "creating checkpoint directory")
	}

	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0640)
	if err != nil {
		return errors.Wrap(err, "opening checkpoint temp file")
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return errors.Wrap(err, "writing checkpoint temp file")
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return errors.Wrap(err, "fsyncing checkpoint temp file")
	}
	if err := f.Close(); err != nil {
		return errors.Wrap(err, "closing checkpoint temp file")
	}
	if err := os.Rename(tmp, path); err != nil {
		return errors.Wrap(err, "renaming checkpoint temp file into place")
	}
	return nil
}
