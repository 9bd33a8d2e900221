package queue

import "encoding/binary"

var (
	metaKey     = []byte("q/m")
	entryPrefix = []byte("q/e/")
	// entryEnd sorts after every entry key.
	entryEnd = []byte("q/e0")
)

func appendBE8(dst []byte, v uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	return append(dst, b[:]...)
}

// KeyEntry builds the entry key with a big-endian version for proper ordering.
func KeyEntry(version uint64) []byte {
	k := make([]byte, 0, len(entryPrefix)+8)
	k = append(k, entryPrefix...)
	return appendBE8(k, version)
}

// versionFromKey extracts the version from an entry key.
func versionFromKey(k []byte) (uint64, bool) {
	if len(k) != len(entryPrefix)+8 {
		return 0, false
	}
	return binary.BigEndian.Uint64(k[len(entryPrefix):]), true
}

// entryUpper is the exclusive upper bound for entries with version <= v.
func entryUpper(v uint64) []byte {
	if v == ^uint64(0) {
		return append([]byte(nil), entryEnd...)
	}
	return KeyEntry(v + 1)
}
