package refdoc

import (
	"fmt"
	"sort"

	"github.com/vmihailenco/msgpack/v5"
)

// body is the stored form of a reference document
type body struct {
	Keys []string `msgpack:"keys"`
}

func encodeOwners(owners []string) ([]byte, error) {
	data, err := msgpack.Marshal(&body{Keys: owners})
	if err != nil {
		return nil, fmt.Errorf("failed to encode reference document: %w", err)
	}
	return data, nil
}

func decodeOwners(data []byte) ([]string, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var b body
	if err := msgpack.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("failed to decode reference document: %w", err)
	}
	return normalizeOwners(b.Keys), nil
}

// normalizeOwners sorts and dedupes an owner list in place
func normalizeOwners(owners []string) []string {
	if len(owners) == 0 {
		return nil
	}
	sort.Strings(owners)
	out := owners[:1]
	for _, k := range owners[1:] {
		if k != out[len(out)-1] {
			out = append(out, k)
		}
	}
	return out
}

func contains(owners []string, key string) bool {
	i := sort.SearchStrings(owners, key)
	return i < len(owners) && owners[i] == key
}

func with(owners []string, key string) []string {
	out := make([]string, 0, len(owners)+1)
	out = append(out, owners...)
	out = append(out, key)
	sort.Strings(out)
	return out
}

func without(owners []string, key string) []string {
	out := make([]string, 0, len(owners))
	for _, k := range owners {
		if k != key {
			out = append(out, k)
		}
	}
	return out
}
