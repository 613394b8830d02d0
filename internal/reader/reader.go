// Package reader owns one open file handle per FileIdentity, advances
// through file bytes, and maintains the authoritative ReaderState.
package reader

import (
	"io"
	"os"
	"time"

	"github.com/estuary/logtail/internal/protocol"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// InitialOffsetPolicy selects where a newly-opened Reader begins.
type InitialOffsetPolicy int

const (
	FromBeginning InitialOffsetPolicy = iota
	FromEnd
	FromFixedTailKiB
	FromSystemBootTime
)

// RotationVerdict is the outcome of a rotation check.
type RotationVerdict int

const (
	UnchangedIdentity RotationVerdict = iota
	SignatureChanged
	InodeChanged
	Gone
	RotationError
)

// defaultReadSlice is the default bounded read size per read_once call.
const defaultReadSlice = 1 << 20 // 1 MiB

// State is the authoritative, resumable state of one Reader.
type State struct {
	Identity     protocol.FileIdentity
	Offset       int64
	LastSize     int64
	Signature    protocol.Signature
	RealPath     string
	LastActivity time.Time

	// PendingCarry holds the trailing unterminated bytes from the last
	// Feed call, logically starting at Offset. ReadOnce prepends it to
	// the next disk read instead of re-reading that span from file, so
	// callers set it from a Framer Result's unconsumed tail after every
	// Feed (see Tracker.stepNormal).
	PendingCarry    []byte
	EncodingKind    SourceEncoding
	ExactlyOnceSlot *string // primary key when bound to an EOOption; nil otherwise
}

// Reader owns one open file descriptor for one FileIdentity.
type Reader struct {
	State    State
	file     *os.File
	readSize int
}

// Open creates a Reader for the file at path with the given identity,
// applying the initial-offset policy and computing the file signature.
func Open(path string, id protocol.FileIdentity, policy InitialOffsetPolicy, tailKiB int64) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "opening %s", path)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, errors.Wrapf(err, "stat %s", path)
	}

	var head = make([]byte, maxSignatureBytes)
	n, err := f.ReadAt(head, 0)
	if err != nil && err != io.EOF {
		f.Close()
		return nil, errors.Wrapf(err, "reading head of %s", path)
	}
	var sig = ComputeSignature(head[:n])

	var offset int64
	switch policy {
	case FromBeginning:
		offset = 0
	case FromEnd:
		offset = info.Size()
	case FromFixedTailKiB:
		offset = info.Size() - tailKiB*1024
		if offset < 0 {
			offset = 0
		}
	case FromSystemBootTime:
		// The caller resolves boot time to an approximate byte offset
		// externally (requires scanning modification times across the
		// file, which the Reader itself cannot do); treat as from-end
		// fallback when no better offset is supplied.
		offset = info.Size()
	}

	var r = &Reader{
		State: State{
			Identity:     id,
			Offset:       offset,
			LastSize:     info.Size(),
			Signature:    sig,
			RealPath:     path,
			LastActivity: time.Now(),
		},
		file:     f,
		readSize: defaultReadSlice,
	}

	if offset > 0 {
		if err := r.seekToRecordBoundary(); err != nil {
			log.WithError(err).WithField("path", path).Warn("failed to align backward seek to a record boundary")
		}
	}

	return r, nil
}

// seekToRecordBoundary scans forward from the current offset for the
// next line feed, so a backward-initialized Reader never emits a
// half-record. Container-format Readers align the same way, since the
// format is itself line-oriented.
func (r *Reader) seekToRecordBoundary() error {
	var buf = make([]byte, 4096)
	for {
		n, err := r.file.ReadAt(buf, r.State.Offset)
		if n == 0 && err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}
		for i := 0; i < n; i++ {
			if buf[i] == '\n' {
				r.State.Offset += int64(i) + 1
				return nil
			}
		}
		r.State.Offset += int64(n)
		if err == io.EOF {
			return nil
		}
	}
}

// ReadOnce reads up to the configured slice size starting at the
// current offset, without advancing past available data. It does not
// itself advance State.Offset; callers advance it by the Consumed
// count the Framer reports. Any carry-over from the previous call
// (State.PendingCarry) is prepended to the fresh disk read rather than
// re-read from file.
func (r *Reader) ReadOnce() (data []byte, offset int64, moreAvailable bool, err error) {
	info, err := r.file.Stat()
	if err != nil {
		return nil, 0, false, errors.Wrap(err, "stat")
	}

	if r.State.Offset > info.Size() {
		// Truncation: reset to 0 and re-verify signature.
		r.State.Offset = 0
		r.State.PendingCarry = nil
		var head = make([]byte, maxSignatureBytes)
		n, rerr := r.file.ReadAt(head, 0)
		if rerr != nil && rerr != io.EOF {
			return nil, 0, false, errors.Wrap(rerr, "re-reading head after truncation")
		}
		r.State.Signature = ComputeSignature(head[:n])
	}

	var carryLen = int64(len(r.State.PendingCarry))
	var buf = make([]byte, r.readSize)
	n, rerr := r.file.ReadAt(buf, r.State.Offset+carryLen)
	if rerr != nil && rerr != io.EOF {
		return nil, 0, false, errors.Wrap(rerr, "read_once")
	}

	r.State.LastSize = info.Size()
	r.State.LastActivity = time.Now()

	var combined = buf[:n]
	if carryLen > 0 {
		combined = append(append([]byte(nil), r.State.PendingCarry...), buf[:n]...)
	}

	var more = n == len(buf) && r.State.Offset+carryLen+int64(n) < info.Size()
	return combined, r.State.Offset, more, nil
}

// Advance moves the Reader's offset forward by n committed bytes, as
// directed by the Framer's Consumed count.
func (r *Reader) Advance(n int64) {
	r.State.Offset += n
}

// ReadRange reads exactly length bytes at offset, for exactly-once
// replay of a specific recorded range. It does not touch State.Offset;
// callers driving replay advance the Reader separately once the replay
// set is exhausted.
func (r *Reader) ReadRange(offset, length int64) ([]byte, error) {
	var buf = make([]byte, length)
	n, err := r.file.ReadAt(buf, offset)
	if err != nil && err != io.EOF {
		return nil, errors.Wrap(err, "read_range")
	}
	return buf[:n], nil
}

// CheckRotation compares the live file at State.RealPath against the
// Reader's recorded identity and signature.
func (r *Reader) CheckRotation(liveIdentity protocol.FileIdentity, liveHead []byte) RotationVerdict {
	if liveIdentity.Device != r.State.Identity.Device || liveIdentity.Inode != r.State.Identity.Inode {
		return InodeChanged
	}
	var liveSig = ComputeSignature(liveHead)
	if !liveSig.Equal(r.State.Signature) {
		return SignatureChanged
	}
	return UnchangedIdentity
}

// Close releases the file descriptor while preserving State for
// resumption by a later Open call using the same offset.
func (r *Reader) Close() error {
	if r.file == nil {
		return nil
	}
	var err = r.file.Close()
	r.file = nil
	return err
}
