// Package protocol defines the wire and on-disk types shared across the
// log engine's components: file identity, records, event groups,
// routing keys, and the checkpoint and status-IPC formats.
package protocol

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
)

// FileIdentity is the unique key of a log source under the engine: a
// tuple of (device, inode, config name). Two files with identical path
// but different inodes are distinct identities.
type FileIdentity struct {
	Device     uint64
	Inode      uint64
	ConfigName string
}

// String renders the identity as "dev=<dev>,inode=<inode>,config=<name>".
// It is not the aggregate checkpoint store's composite key, which also
// needs the path; see CompositeKey for that.
func (id FileIdentity) String() string {
	return fmt.Sprintf("dev=%d,inode=%d,config=%s", id.Device, id.Inode, id.ConfigName)
}

// CompositeKey returns the aggregate checkpoint store's composite key
// for a file at the given path under this identity.
func CompositeKey(path string, id FileIdentity) string {
	return fmt.Sprintf("%s*%d*%d*%s", path, id.Device, id.Inode, id.ConfigName)
}

// ExactlyOncePrimaryKey returns the exactly-once store's primary key
// for a file at the given path under this identity.
func ExactlyOncePrimaryKey(path string, id FileIdentity) string {
	return fmt.Sprintf("%s-%s-%d-%d", id.ConfigName, path, id.Device, id.Inode)
}

// SafeFileName derives a filesystem-safe file name from an arbitrary
// primary key, since primary keys are built from file paths and may
// contain path separators.
func SafeFileName(primaryKey string) string {
	var sum = sha1.Sum([]byte(primaryKey))
	return hex.EncodeToString(sum[:])
}

// Signature is a short head-of-file fingerprint used to detect
// truncation-to-zero-then-grow and inode reuse.
type Signature struct {
	Length uint32
	Hash   uint64
}

// Equal reports whether two signatures match.
func (s Signature) Equal(o Signature) bool {
	return s.Length == o.Length && s.Hash == o.Hash
}
