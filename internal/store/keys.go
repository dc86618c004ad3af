package store

import "encoding/binary"

// Composite keys mix two integer fields and MUST be big-endian so that
// lexicographic byte order matches numeric order per field.

// EncodeKey64_32 encodes (a, b) as a 12-byte big-endian key, used for
// PERM_SERVICE's (principal_id, service_id).
func EncodeKey64_32(a uint64, b uint32) []byte {
	buf := make([]byte, 12)
	binary.BigEndian.PutUint64(buf[0:8], a)
	binary.BigEndian.PutUint32(buf[8:12], b)
	return buf
}

func DecodeKey64_32(k []byte) (a uint64, b uint32) {
	a = binary.BigEndian.Uint64(k[0:8])
	b = binary.BigEndian.Uint32(k[8:12])
	return
}

// PrefixKey64 returns the 8-byte big-endian prefix for scanning all
// (a, *) keys produced by EncodeKey64_32.
func PrefixKey64(a uint64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, a)
	return buf
}

// EncodeKey32_64 encodes (a, b) as a 12-byte big-endian key, used for
// LOG_ENTRIES/LOG_CONSOLE's (service_id, log_id).
func EncodeKey32_64(a uint32, b uint64) []byte {
	buf := make([]byte, 12)
	binary.BigEndian.PutUint32(buf[0:4], a)
	binary.BigEndian.PutUint64(buf[4:12], b)
	return buf
}

func DecodeKey32_64(k []byte) (a uint32, b uint64) {
	a = binary.BigEndian.Uint32(k[0:4])
	b = binary.BigEndian.Uint64(k[4:12])
	return
}

// PrefixKey32 returns the 4-byte big-endian prefix for scanning all
// (a, *) keys produced by EncodeKey32_64.
func PrefixKey32(a uint32) []byte {
	buf := make([]byte, 4)
	binary.BigEndian.PutUint32(buf, a)
	return buf
}

func EncodeUint64(v uint64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, v)
	return buf
}

func DecodeUint64(b []byte) uint64 {
	return binary.BigEndian.Uint64(b)
}
