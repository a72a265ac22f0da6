// Package wire holds the little-endian packed-binary primitives shared by
// the on-device root record, the log entry header, and the to_bytes/
// post_object/applyLogTail wire format. marketstore's utils/io leans on
// unsafe pointer casts (ToInt64, ToUInt64, ...) for this job; we use
// encoding/binary instead since every value here is a fixed-width integer
// or byte array and there is no payload type genericity to justify unsafe.
package wire

import (
	"crypto/md5" //nolint:gosec // content-addressed integrity check, not a security boundary
	"encoding/binary"
)

// PutInt64 appends the little-endian encoding of v to buf.
func PutInt64(buf []byte, v int64) []byte {
	var tmp [8]byte
	binary.LittleEndian.PutUint64(tmp[:], uint64(v))
	return append(buf, tmp[:]...)
}

// PutUint64 appends the little-endian encoding of v to buf.
func PutUint64(buf []byte, v uint64) []byte {
	var tmp [8]byte
	binary.LittleEndian.PutUint64(tmp[:], v)
	return append(buf, tmp[:]...)
}

// PutUint32 appends the little-endian encoding of v to buf.
func PutUint32(buf []byte, v uint32) []byte {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], v)
	return append(buf, tmp[:]...)
}

func Int64(b []byte) int64 {
	return int64(binary.LittleEndian.Uint64(b))
}

func Uint64(b []byte) uint64 {
	return binary.LittleEndian.Uint64(b)
}

func Uint32(b []byte) uint32 {
	return binary.LittleEndian.Uint32(b)
}

// Checksum128 returns the MD5 digest of buf, used as the root record's
// per-generation integrity check (spec'd as `checksum` in the on-device
// layout; MD5 is sized for a cheap fixed 16-byte field, not for defending
// against a malicious disk).
func Checksum128(buf []byte) [16]byte {
	return md5.Sum(buf) //nolint:gosec
}
