package fileio

import (
	"crypto/sha256"
	"hash"
	"hash/crc32"
)

// Checksum methods.
const (
	HashNone   uint8 = iota // 0: disabled
	HashCRC32               // 1: crc32
	HashSHA256              // 2: sha256
)

// NewHash returns running hash for method or nil when hashing is disabled
func NewHash(method uint8) hash.Hash {
	switch method {
	case HashCRC32:
		return crc32.New(crc32.IEEETable)
	case HashSHA256:
		return sha256.New()
	}
	return nil
}

// Checksum returns checksum of data using method
func Checksum(data []byte, method uint8) []byte {
	h := NewHash(method)
	if h == nil {
		return nil
	}
	return progressiveChecksum(h, data).Sum(nil)
}

// progressiveChecksum incrementally calculates checksum
func progressiveChecksum(h hash.Hash, data []byte) hash.Hash {
	if len(data) > 0 {
		h.Write(data)
	}
	return h
}
