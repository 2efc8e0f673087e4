package model

import (
	"strings"

	"github.com/sorrycc/elasticdl/pkg/tensor"
)

// Model is the versioned variable set owned by the master. It carries
// no lock of its own: every mutation and read goes through the
// master's single critical section.
type Model struct {
	version   int64
	variables map[string]*tensor.Tensor
}

// Snapshot is an immutable copy of the model at one version.
type Snapshot struct {
	Version   int64                    `json:"version" cbor:"1,keyasint"`
	Variables map[string]tensor.Tensor `json:"variables" cbor:"2,keyasint"`
}

func New() *Model {
	return &Model{
		variables: make(map[string]*tensor.Tensor),
	}
}

// NewFromVariables initializes the model from an explicit variable
// list at version 0.
func NewFromVariables(vars []tensor.Tensor) *Model {
	m := New()
	for i := range vars {
		m.SetVariable(vars[i].Name, &vars[i])
	}

	return m
}

// NewFromSnapshot restores the model from a checkpoint snapshot,
// keeping the checkpointed version.
func NewFromSnapshot(snap Snapshot) *Model {
	m := New()
	m.version = snap.Version
	for name, v := range snap.Variables {
		m.SetVariable(name, &v)
	}

	return m
}

// EncodeVarName makes a variable name safe for use as a map and
// checkpoint key.
func EncodeVarName(name string) string {
	return strings.ReplaceAll(name, ":", "-")
}

func (m *Model) Version() int64 {
	return m.version
}

func (m *Model) Initialized() bool {
	return len(m.variables) > 0
}

func (m *Model) Variable(name string) (*tensor.Tensor, bool) {
	v, ok := m.variables[EncodeVarName(name)]

	return v, ok
}

// SetVariable adds or replaces a model variable. Shapes are fixed by
// first set; callers validate against the existing variable before
// replacing it.
func (m *Model) SetVariable(name string, t *tensor.Tensor) {
	encoded := EncodeVarName(name)
	c := t.Clone()
	c.Name = encoded
	m.variables[encoded] = c
}

// BumpVersion is called by the master at the end of a successful
// update cycle, inside the critical section.
func (m *Model) BumpVersion() {
	m.version++
}

// Snapshot deep-copies the current version and variables so readers
// never observe a mid-update state.
func (m *Model) Snapshot() Snapshot {
	vars := make(map[string]tensor.Tensor, len(m.variables))
	for name, v := range m.variables {
		vars[name] = *v.Clone()
	}

	return Snapshot{Version: m.version, Variables: vars}
}
