package domain

import "fmt"

// Cardinality tells whether an indexed field holds one value or many
type Cardinality uint8

const (
	Single Cardinality = iota
	Multi
)

func (c Cardinality) String() string {
	switch c {
	case Single:
		return "single"
	case Multi:
		return "multi"
	default:
		return fmt.Sprintf("cardinality(%d)", uint8(c))
	}
}

// IndexSpec describes one indexed field of a model. Specs are derived
// once at model registration and never change afterwards.
type IndexSpec struct {
	FieldPath   string      `json:"field_path"`
	IndexName   string      `json:"index_name"`
	Cardinality Cardinality `json:"cardinality"`
	IsRef       bool        `json:"is_ref"`
	RefModel    string      `json:"ref_model,omitempty"`
	Unique      bool        `json:"unique,omitempty"`
}

// IndexValues maps a spec's field path to the canonical values the
// document currently holds for it.
type IndexValues map[string][]string

// SyncOp names the reference document mutation that was attempted
type SyncOp string

const (
	SyncOpAdd    SyncOp = "add"
	SyncOpRemove SyncOp = "remove"
)

// SyncMutation is one owner change on the reference document of a value
type SyncMutation struct {
	Spec  IndexSpec
	Value string
	Op    SyncOp
}

// SyncFailure records one failed reference document mutation
type SyncFailure struct {
	Spec  IndexSpec
	Value string
	Op    SyncOp
	Err   error
}

// Mutation returns the mutation that failed
func (f SyncFailure) Mutation() SyncMutation {
	return SyncMutation{Spec: f.Spec, Value: f.Value, Op: f.Op}
}

// SyncResult lists the specs that were fully synchronized and the
// individual mutations that failed.
type SyncResult struct {
	Succeeded []IndexSpec
	Failed    []SyncFailure
	Added     int
	Removed   int
}

// OK reports whether every mutation succeeded
func (r *SyncResult) OK() bool {
	return len(r.Failed) == 0
}
