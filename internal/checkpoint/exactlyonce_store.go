package checkpoint

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	jsonpatch "github.com/evanphx/json-patch/v5"
	"github.com/estuary/logtail/internal/protocol"
	"github.com/pkg/errors"
)

// ExactlyOnceStore persists the exactly-once controller's per-file
// documents: a primary key mapping to a fixed-size vector of
// RangeCheckpoints, one document per file under a dedicated directory.
//
// Updates are applied as JSON merge patches (RFC 7386), the same
// read-modify-write discipline the connector state reducer uses for
// partial state updates. A merge patch replaces a JSON array as a
// whole, so a RangePatch carries the full ranges vector and writes
// sibling slots back as they stood in the document it was built from.
type ExactlyOnceStore struct {
	mu  sync.Mutex
	dir string
}

// NewExactlyOnceStore returns an ExactlyOnceStore rooted at dir.
func NewExactlyOnceStore(dir string) *ExactlyOnceStore {
	return &ExactlyOnceStore{dir: dir}
}

func (s *ExactlyOnceStore) docPath(primaryKey string) string {
	return filepath.Join(s.dir, protocol.SafeFileName(primaryKey)+".json")
}

// Load reads the ExactlyOnceDocument for primaryKey. A missing document
// returns ok=false rather than an error.
func (s *ExactlyOnceStore) Load(primaryKey string) (doc protocol.ExactlyOnceDocument, ok bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.docPath(primaryKey))
	if os.IsNotExist(err) {
		return doc, false, nil
	} else if err != nil {
		return doc, false, errors.Wrapf(err, "reading exactly-once document %q", primaryKey)
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return doc, false, errors.Wrapf(err, "parsing exactly-once document %q", primaryKey)
	}
	return doc, true, nil
}

// Save atomically persists the full document, overwriting any prior
// revision. Used to seed a new primary key or to fully rewrite a
// document after recovery has pruned stale slots.
func (s *ExactlyOnceStore) Save(doc protocol.ExactlyOnceDocument) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeLocked(doc)
}

func (s *ExactlyOnceStore) writeLocked(doc protocol.ExactlyOnceDocument) error {
	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return errors.Wrap(err, "creating exactly-once checkpoint directory")
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return errors.Wrapf(err, "marshaling exactly-once document %q", doc.PrimaryKey)
	}
	return atomicWrite(s.docPath(doc.PrimaryKey), data)
}

// ApplyPatch merges patch (a JSON merge-patch document, RFC 7386) into
// the document's current on-disk revision and persists the result.
// The store's lock serializes ApplyPatch calls; it is not held between
// the Load a caller builds a patch from and the ApplyPatch that writes it.
func (s *ExactlyOnceStore) ApplyPatch(primaryKey string, patch []byte) (protocol.ExactlyOnceDocument, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var current []byte
	data, err := os.ReadFile(s.docPath(primaryKey))
	if err != nil && !os.IsNotExist(err) {
		return protocol.ExactlyOnceDocument{}, errors.Wrapf(err, "reading exactly-once document %q", primaryKey)
	}
	if os.IsNotExist(err) {
		current = []byte(`{}`)
	} else {
		current = data
	}

	merged, err := jsonpatch.MergePatch(current, patch)
	if err != nil {
		return protocol.ExactlyOnceDocument{}, errors.Wrapf(err, "merging patch for %q", primaryKey)
	}

	var doc protocol.ExactlyOnceDocument
	if err := json.Unmarshal(merged, &doc); err != nil {
		return doc, errors.Wrapf(err, "parsing merged exactly-once document %q", primaryKey)
	}
	if err := doc.Validate(); err != nil {
		return doc, errors.Wrapf(err, "validating merged exactly-once document %q", primaryKey)
	}

	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return doc, errors.Wrap(err, "creating exactly-once checkpoint directory")
	}
	if err := atomicWrite(s.docPath(primaryKey), merged); err != nil {
		return doc, err
	}
	return doc, nil
}

// RangePatch builds a JSON merge patch that replaces a single
// concurrency slot's RangeCheckpoint within doc's ranges. The patch
// carries doc's full ranges vector, with every sibling slot as it
// stands in doc.
func RangePatch(doc protocol.ExactlyOnceDocument, slot protocol.RangeCheckpoint) ([]byte, error) {
	var ranges = make([]protocol.RangeCheckpoint, len(doc.Ranges))
	copy(ranges, doc.Ranges)

	var found bool
	for i := range ranges {
		if ranges[i].ConcurrencySlot == slot.ConcurrencySlot {
			ranges[i] = slot
			found = true
			break
		}
	}
	if !found {
		ranges = append(ranges, slot)
	}

	return json.Marshal(protocol.ExactlyOnceDocument{
		PrimaryKey: doc.PrimaryKey,
		Signature:  doc.Signature,
		Ranges:     ranges,
	})
}
