package queue

import (
	"encoding/binary"
	"hash/crc32"
)

// Record encoding: varint headerLen | header | payload | crc32c(header|payload)
// The header is version_be8 | flags.

const headerLen = 9

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

func encodeRecord(version uint64, flags byte, payload []byte) []byte {
	var header [headerLen]byte
	binary.BigEndian.PutUint64(header[:8], version)
	header[8] = flags

	out := make([]byte, 0, 1+headerLen+len(payload)+4)
	out = binary.AppendUvarint(out, headerLen)
	out = append(out, header[:]...)
	out = append(out, payload...)

	crc := crc32.Update(0, castagnoli, header[:])
	crc = crc32.Update(crc, castagnoli, payload)
	return binary.BigEndian.AppendUint32(out, crc)
}

type decoded struct {
	version uint64
	flags   byte
	payload []byte
}

func decodeRecord(b []byte) (decoded, bool) {
	if len(b) < 1+4 {
		return decoded{}, false
	}
	hlen, n := binary.Uvarint(b)
	if n <= 0 || hlen != headerLen {
		return decoded{}, false
	}
	if n+int(hlen)+4 > len(b) {
		return decoded{}, false
	}
	header := b[n : n+int(hlen)]
	payload := b[n+int(hlen) : len(b)-4]
	expect := binary.BigEndian.Uint32(b[len(b)-4:])
	crc := crc32.Update(0, castagnoli, header)
	crc = crc32.Update(crc, castagnoli, payload)
	if crc != expect {
		return decoded{}, false
	}
	return decoded{
		version: binary.BigEndian.Uint64(header[:8]),
		flags:   header[8],
		payload: append([]byte(nil), payload...),
	}, true
}
