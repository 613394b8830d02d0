package reader

import (
	"github.com/estuary/logtail/internal/protocol"
	"github.com/minio/highwayhash"
)

// signatureKey is a fixed 32-byte key used to make the head-of-file
// signature hash stable across process restarts, matching the
// deterministic-weight technique the rest of the engine uses for
// routing (see internal/queue's rendezvous scheduler).
var signatureKey = [32]byte{
	0x4c, 0x6f, 0x67, 0x74, 0x61, 0x69, 0x6c, 0x2d,
	0x73, 0x69, 0x67, 0x6e, 0x61, 0x74, 0x75, 0x72,
	0x65, 0x2d, 0x6b, 0x65, 0x79, 0x2d, 0x76, 0x31,
	0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
}

// maxSignatureBytes bounds how many head-of-file bytes participate in
// the signature, matching the "first_line_bytes_length" framing of the
// data model: it is the length up to and including the first newline,
// capped to avoid hashing unbounded data for a file with no newlines.
const maxSignatureBytes = 4096

// ComputeSignature derives a FileSignature from the head of a file: the
// byte length up to (and including) the first newline, or up to
// maxSignatureBytes if none is found, and a 64-bit hash of those bytes.
func ComputeSignature(head []byte) protocol.Signature {
	var n = len(head)
	for i, b := range head {
		if b == '\n' {
			n = i + 1
			break
		}
	}
	if n > maxSignatureBytes {
		n = maxSignatureBytes
	}
	var slice = head[:n]
	return protocol.Signature{
		Length: uint32(n),
		Hash:   highwayhash.Sum64(slice, signatureKey[:]),
	}
}
