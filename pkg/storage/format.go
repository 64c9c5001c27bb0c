package storage

import (
	"encoding/binary"
	"fmt"
	"io"
)

const (
	// Magic bytes to identify a snapshot file
	MagicBytes = "GODB"
	// Current snapshot version
	FormatVersion = 2
	// File extension for snapshot files
	FileExtension = ".godb"

	flagCompressed uint8 = 1 << 0
)

// FileHeader represents the header of a snapshot file
type FileHeader struct {
	Magic    [4]byte // "GODB"
	Version  uint8   // Format version
	Flags    uint8   // flagCompressed
	Reserved [2]byte
	RawSize  uint32 // Uncompressed payload size
}

// WriteHeader writes the file header to the given writer
func WriteHeader(w io.Writer, flags uint8, rawSize uint32) error {
	header := FileHeader{
		Magic:   [4]byte{'G', 'O', 'D', 'B'},
		Version: FormatVersion,
		Flags:   flags,
		RawSize: rawSize,
	}

	return binary.Write(w, binary.LittleEndian, header)
}

// ReadHeader reads and validates the file header
func ReadHeader(r io.Reader) (*FileHeader, error) {
	var header FileHeader
	if err := binary.Read(r, binary.LittleEndian, &header); err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}

	if string(header.Magic[:]) != MagicBytes {
		return nil, fmt.Errorf("invalid file format: expected %s, got %s", MagicBytes, string(header.Magic[:]))
	}

	if header.Version != FormatVersion {
		return nil, fmt.Errorf("unsupported file version: %d", header.Version)
	}

	return &header, nil
}

// snapshotEntry is one key of a snapshot
type snapshotEntry struct {
	Value []byte `msgpack:"v"`
	CAS   uint64 `msgpack:"c"`
}

// snapshotData is the payload of a snapshot file
type snapshotData struct {
	Entries map[string]snapshotEntry `msgpack:"entries"`
	LastCAS uint64                   `msgpack:"last_cas"`
}
