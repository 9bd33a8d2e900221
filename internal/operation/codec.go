package operation

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/klauspost/compress/zstd"
)

// Compression selects how operation payloads are stored on disk.
type Compression uint8

const (
	CompressionNone Compression = iota
	CompressionZstd
)

// FlagZstd marks a payload compressed with zstd.
const FlagZstd byte = 1 << 0

func (c Compression) String() string {
	switch c {
	case CompressionZstd:
		return "zstd"
	default:
		return "none"
	}
}

// ParseCompression accepts "none", "" and "zstd".
func ParseCompression(s string) (Compression, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none":
		return CompressionNone, nil
	case "zstd":
		return CompressionZstd, nil
	default:
		return CompressionNone, fmt.Errorf("unknown compression %q", s)
	}
}

// Codec serializes operations to payload bytes. Decoding honours the flags
// stored with each payload, so a log written with zstd stays readable by a
// codec configured without it.
//
// A Codec is safe for concurrent use.
type Codec struct {
	compression Compression
	enc         *zstd.Encoder
	dec         *zstd.Decoder
}

// NewCodec builds a codec writing with the given compression.
func NewCodec(c Compression) (*Codec, error) {
	dec, err := zstd.NewReader(nil, zstd.WithDecoderConcurrency(1))
	if err != nil {
		return nil, fmt.Errorf("create zstd decoder: %w", err)
	}
	codec := &Codec{compression: c, dec: dec}
	if c == CompressionZstd {
		enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault), zstd.WithEncoderConcurrency(1))
		if err != nil {
			dec.Close()
			return nil, fmt.Errorf("create zstd encoder: %w", err)
		}
		codec.enc = enc
	}
	return codec, nil
}

// Encode returns the payload for op and the flags describing it.
func (c *Codec) Encode(op Operation) ([]byte, byte, error) {
	b, err := json.Marshal(op)
	if err != nil {
		return nil, 0, fmt.Errorf("marshal operation: %w", err)
	}
	if c.enc == nil {
		return b, 0, nil
	}
	return c.enc.EncodeAll(b, make([]byte, 0, len(b)/2)), FlagZstd, nil
}

// Decode reverses Encode.
func (c *Codec) Decode(payload []byte, flags byte) (Operation, error) {
	if flags&FlagZstd != 0 {
		raw, err := c.dec.DecodeAll(payload, nil)
		if err != nil {
			return Operation{}, fmt.Errorf("decompress operation: %w", err)
		}
		payload = raw
	}
	var op Operation
	if err := json.Unmarshal(payload, &op); err != nil {
		return Operation{}, fmt.Errorf("unmarshal operation: %w", err)
	}
	return op, nil
}

// Compression reports the write-side compression.
func (c *Codec) Compression() Compression { return c.compression }

// Close releases encoder and decoder resources.
func (c *Codec) Close() {
	if c.enc != nil {
		_ = c.enc.Close()
	}
	if c.dec != nil {
		c.dec.Close()
	}
}
