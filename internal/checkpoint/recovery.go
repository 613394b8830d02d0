package checkpoint

import (
	"os"
	"path/filepath"

	"github.com/estuary/logtail/internal/protocol"
	"github.com/estuary/logtail/internal/reader"
	log "github.com/sirupsen/logrus"
)

// maxResolveCandidates bounds how many files in the parent directory
// are stat'd while searching for a (dev, inode) match.
const maxResolveCandidates = 4096

// Resolved is the outcome of applying the recovery protocol to one
// persisted CheckpointRecord.
type Resolved struct {
	Record protocol.CheckpointRecord
	Path   string
}

// Recover applies the recovery protocol of §4.5 to every persisted
// CheckpointRecord: resolve the real path (preferring the recorded
// path, falling back to a bounded (dev, inode) search of its parent
// directory), then verify the head signature before trusting the
// recorded offset. Records that cannot be resolved or whose signature
// disagrees are discarded.
func Recover(records map[string]protocol.CheckpointRecord) []Resolved {
	var out []Resolved
	for key, rec := range records {
		path, ok := resolvePath(rec)
		if !ok {
			log.WithField("key", key).Info("discarding checkpoint: file could not be resolved")
			continue
		}

		head, err := readHead(path)
		if err != nil {
			log.WithField("key", key).WithError(err).Info("discarding checkpoint: could not read file head")
			continue
		}

		var liveSig = reader.ComputeSignature(head)
		if !signatureCompatible(liveSig, rec.Signature, head) {
			log.WithField("key", key).Info("discarding checkpoint: signature mismatch")
			continue
		}

		rec.RealPath = path
		out = append(out, Resolved{Record: rec, Path: path})
	}
	return out
}

func resolvePath(rec protocol.CheckpointRecord) (string, bool) {
	if rec.RealPath != "" {
		if info, err := os.Stat(rec.RealPath); err == nil && !info.IsDir() {
			if id, err := reader.IdentityOf(rec.RealPath, rec.ConfigName); err == nil && id.Device == rec.Identity.Device && id.Inode == rec.Identity.Inode {
				return rec.RealPath, true
			}
		}
	}

	// Fall back to searching the parent directory by (dev, inode).
	var dir = filepath.Dir(rec.RealPath)
	if dir == "" || dir == "." {
		return "", false
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", false
	}
	if len(entries) > maxResolveCandidates {
		entries = entries[:maxResolveCandidates]
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		var candidate = filepath.Join(dir, e.Name())
		id, err := reader.IdentityOf(candidate, rec.ConfigName)
		if err != nil {
			continue
		}
		if id.Device == rec.Identity.Device && id.Inode == rec.Identity.Inode {
			return candidate, true
		}
	}
	return "", false
}

func readHead(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var buf = make([]byte, 4096)
	n, err := f.Read(buf)
	if err != nil && n == 0 {
		return nil, err
	}
	return buf[:n], nil
}

// signatureCompatible implements: signature matches exactly, or the
// file's current size is at least signature_length and the recomputed
// hash over that many bytes agrees.
func signatureCompatible(live, recorded protocol.Signature, head []byte) bool {
	if live.Equal(recorded) {
		return true
	}
	if uint64(len(head)) < uint64(recorded.Length) {
		return false
	}
	return reader.ComputeSignature(head[:recorded.Length]).Equal(recorded)
}
