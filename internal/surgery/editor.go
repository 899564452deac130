// Package surgery appends layers to, and detaches trailing operators from, a
// graph.Model.
//
// Every append reads the subgraph's current first output, wires a new
// operator onto it and makes the operator's output the new graph output.
// Appends are transactional: a call that returns an error leaves the model
// exactly as it was.
package surgery

import (
	"github.com/samcharles93/graft/internal/graph"
	"github.com/samcharles93/graft/internal/logger"
)

// Editor mutates one model. It is not safe for concurrent use.
type Editor struct {
	model *graph.Model
	log   logger.Logger
}

// NewEditor wraps m. A nil log discards debug traces.
func NewEditor(m *graph.Model, log logger.Logger) *Editor {
	if log == nil {
		log = logger.Discard()
	}
	return &Editor{model: m, log: log}
}

// Model returns the model being edited.
func (e *Editor) Model() *graph.Model {
	return e.model
}
