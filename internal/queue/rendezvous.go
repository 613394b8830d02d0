package queue

import (
	"crypto/aes"
	"crypto/cipher"
	"encoding/binary"
)

// stableWeights generates a deterministic pseudo-random sequence of
// weights used to break ties between routing keys that land in the
// same priority level and round, so that round-robin fairness among
// them doesn't always favor keys in map-iteration order. This is the
// same fixed-key AES-CTR technique the shuffle subsystem uses to
// derive stable rendezvous-hashing weights.
func stableWeights(n int) []uint32 {
	var aesKey = [32]byte{
		0x6c, 0x6f, 0x67, 0x74, 0x61, 0x69, 0x6c, 0x2d,
		0x71, 0x75, 0x65, 0x75, 0x65, 0x2d, 0x77, 0x65,
		0x69, 0x67, 0x68, 0x74, 0x2d, 0x6b, 0x65, 0x79,
		0x2d, 0x76, 0x31, 0x2d, 0x00, 0x00, 0x00, 0x00,
	}
	var aesIV = [aes.BlockSize]byte{
		0x6c, 0x6f, 0x67, 0x74, 0x61, 0x69, 0x6c, 0x2d,
		0x69, 0x76, 0x2d, 0x76, 0x31, 0x00, 0x00, 0x00,
	}

	block, err := aes.NewCipher(aesKey[:])
	if err != nil {
		panic(err) // Should never error given the fixed key size.
	}

	var b = make([]byte, n*4)
	cipher.NewCTR(block, aesIV[:]).XORKeyStream(b, b)

	var out = make([]uint32, n)
	for i := range out {
		out[i] = binary.LittleEndian.Uint32(b[i*4:])
	}
	return out
}

// hashCombine mixes a routing key's hash with its stable weight,
// matching the shuffle subsystem's boost::hash_combine-derived mixer.
func hashCombine(a, b uint32) uint32 {
	return a ^ (b + 0x9e3779b9 + (a << 6) + (a >> 2))
}
