package storage

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/adfharrison1/go-odm/pkg/domain"
	"github.com/pierrec/lz4/v4"
	"github.com/vmihailenco/msgpack/v5"
)

// SaveSnapshot writes every entry to filename: header, then the msgpack
// payload, lz4-compressed when that makes it smaller. The file is
// written next to the target and renamed into place.
func (s *MemoryStore) SaveSnapshot(filename string) error {
	data := snapshotData{Entries: make(map[string]snapshotEntry)}
	for _, sh := range s.shards {
		sh.mu.RLock()
		for k, e := range sh.entries {
			data.Entries[k] = snapshotEntry{Value: e.value, CAS: uint64(e.cas)}
		}
		sh.mu.RUnlock()
	}
	data.LastCAS = s.lastCAS.Load()

	payload, err := msgpack.Marshal(&data)
	if err != nil {
		return fmt.Errorf("failed to encode MessagePack: %w", err)
	}

	var flags uint8
	body := payload
	compressed := make([]byte, lz4.CompressBlockBound(len(payload)))
	var hashTable [1 << 16]int
	n, err := lz4.CompressBlock(payload, compressed, hashTable[:])
	if err != nil {
		return fmt.Errorf("failed to compress data: %w", err)
	}
	if n > 0 && n < len(payload) {
		body = compressed[:n]
		flags |= flagCompressed
	}

	var buf bytes.Buffer
	if err := WriteHeader(&buf, flags, uint32(len(payload))); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	buf.Write(body)

	tmp, err := os.CreateTemp(filepath.Dir(filename), filepath.Base(filename)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	if _, err := tmp.Write(buf.Bytes()); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to close snapshot: %w", err)
	}
	if err := os.Rename(tmp.Name(), filename); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to move snapshot into place: %w", err)
	}
	s.dirty.Store(false)
	return nil
}

// LoadSnapshot replaces the store contents with the snapshot in
// filename. A missing file leaves the store empty.
func (s *MemoryStore) LoadSnapshot(filename string) error {
	file, err := os.Open(filename)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	header, err := ReadHeader(file)
	if err != nil {
		return fmt.Errorf("invalid file header: %w", err)
	}
	body, err := io.ReadAll(file)
	if err != nil {
		return fmt.Errorf("failed to read snapshot: %w", err)
	}

	payload := body
	if header.Flags&flagCompressed != 0 {
		payload = make([]byte, header.RawSize)
		n, err := lz4.UncompressBlock(body, payload)
		if err != nil {
			return fmt.Errorf("failed to decompress data: %w", err)
		}
		payload = payload[:n]
	}

	var data snapshotData
	if err := msgpack.Unmarshal(payload, &data); err != nil {
		return fmt.Errorf("failed to decode MessagePack: %w", err)
	}

	for _, sh := range s.shards {
		sh.mu.Lock()
		sh.entries = make(map[string]memEntry)
		sh.mu.Unlock()
	}
	for k, e := range data.Entries {
		sh := s.shard(k)
		sh.mu.Lock()
		sh.entries[k] = memEntry{value: e.Value, cas: domain.CAS(e.CAS)}
		sh.mu.Unlock()
	}
	s.lastCAS.Store(data.LastCAS)
	s.dirty.Store(false)
	return nil
}
