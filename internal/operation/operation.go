// Package operation defines the records carried by the operation log.
//
// An Operation is produced by the object-model layer and is opaque to the
// queue and processor: they only move it, persist it and hand it to the
// backend. A Versioned pairs an Operation with the per-session sequence
// number assigned at enqueue time.
package operation

import "encoding/json"

// Operation is one mutation of a tracked object's state.
type Operation struct {
	Kind  string          `json:"kind"`
	Path  []string        `json:"path,omitempty"`
	Value json.RawMessage `json:"value,omitempty"`
}

// Versioned is an Operation with its enqueue version. Versions start at 1
// and strictly increase within a session.
type Versioned struct {
	Op      Operation
	Version uint64
}

// Ops strips versions, preserving order.
func Ops(batch []Versioned) []Operation {
	out := make([]Operation, len(batch))
	for i := range batch {
		out[i] = batch[i].Op
	}
	return out
}
