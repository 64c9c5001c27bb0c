// Package codec encodes primary documents for storage: a 6-byte header,
// then the msgpack body, lz4-compressed once it grows past a threshold.
package codec

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/pierrec/lz4/v4"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/adfharrison1/go-odm/pkg/domain"
)

const (
	// MagicBytes identify an encoded document
	MagicBytes = "GODC"
	// FormatVersion is the current body version
	FormatVersion = 1

	// DefaultCompressThreshold is the body size above which lz4 is tried
	DefaultCompressThreshold = 1024

	headerSize           = 6
	flagCompressed uint8 = 1 << 0
)

var ErrInvalidFormat = errors.New("codec: invalid document format")

// Codec turns documents into store values and back
type Codec struct {
	threshold int
}

type Option func(*Codec)

// WithCompressThreshold sets the encoded size above which bodies are
// compressed; zero or less disables compression.
func WithCompressThreshold(n int) Option {
	return func(c *Codec) {
		c.threshold = n
	}
}

func New(opts ...Option) *Codec {
	c := &Codec{threshold: DefaultCompressThreshold}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Encode writes doc as header + body. Compressed bodies carry their raw
// size so decoding can size the buffer up front.
func (c *Codec) Encode(doc domain.Document) ([]byte, error) {
	payload, err := msgpack.Marshal(map[string]interface{}(doc))
	if err != nil {
		return nil, fmt.Errorf("failed to encode MessagePack: %w", err)
	}

	if c.threshold > 0 && len(payload) > c.threshold {
		compressed := make([]byte, lz4.CompressBlockBound(len(payload)))
		var hashTable [1 << 16]int
		n, err := lz4.CompressBlock(payload, compressed, hashTable[:])
		if err != nil {
			return nil, fmt.Errorf("failed to compress data: %w", err)
		}
		if n > 0 && n+4 < len(payload) {
			out := make([]byte, headerSize+4+n)
			writeHeader(out, flagCompressed)
			binary.LittleEndian.PutUint32(out[headerSize:], uint32(len(payload)))
			copy(out[headerSize+4:], compressed[:n])
			return out, nil
		}
	}

	out := make([]byte, headerSize+len(payload))
	writeHeader(out, 0)
	copy(out[headerSize:], payload)
	return out, nil
}

// Decode reverses Encode
func (c *Codec) Decode(data []byte) (domain.Document, error) {
	if len(data) < headerSize || string(data[:4]) != MagicBytes {
		return nil, fmt.Errorf("%w: bad header", ErrInvalidFormat)
	}
	if data[4] != FormatVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrInvalidFormat, data[4])
	}

	payload := data[headerSize:]
	if data[5]&flagCompressed != 0 {
		if len(payload) < 4 {
			return nil, fmt.Errorf("%w: truncated body", ErrInvalidFormat)
		}
		raw := make([]byte, binary.LittleEndian.Uint32(payload))
		n, err := lz4.UncompressBlock(payload[4:], raw)
		if err != nil {
			return nil, fmt.Errorf("failed to decompress data: %w", err)
		}
		payload = raw[:n]
	}

	var doc map[string]interface{}
	if err := msgpack.Unmarshal(payload, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode MessagePack: %w", err)
	}
	return domain.Document(doc), nil
}

func writeHeader(b []byte, flags uint8) {
	copy(b, MagicBytes)
	b[4] = FormatVersion
	b[5] = flags
}
