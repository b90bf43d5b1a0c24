// Package artifact defines ProgramArtifact, the compiled-program input the
// engine and indexer consume but never produce — the assembler front end
// that builds one is out of scope (spec §1).
package artifact

import (
	"github.com/evochora/evochora/geom"
	"github.com/rs/xid"
)

// WorldObject is an initial placement the seeding step applies when a
// program is loaded into the environment (e.g. a pre-placed ENERGY or
// STRUCTURE molecule alongside the code layout).
type WorldObject struct {
	MoleculeType  int32
	MoleculeValue int32
}

// DebugSymbol carries one line of source-level debug information, keyed by
// the absolute coordinate of the instruction it describes. Only the
// Indexer (C4) reads these; the engine never does.
type DebugSymbol struct {
	SourceFile string
	SourceLine int
	Text       string
}

// ProgramArtifact is the opaque (to the engine) output of the out-of-scope
// assembler/compiler front end: a machine-code layout plus the metadata the
// Indexer needs to disassemble and resolve call frames.
type ProgramArtifact struct {
	ProgramID string

	// Layout maps an absolute coordinate to the machine-code molecule int
	// placed there.
	Layout map[string]int32

	// InitialObjects maps an absolute coordinate to the initial world
	// object placed there at seed time.
	InitialObjects map[string]WorldObject

	// Procedures maps a procedure name to its ordered list of formal
	// parameter symbolic names, used by the Indexer to render
	// "NAME[%DRk]" call-frame displays (spec §4.4).
	Procedures map[string][]string

	// DebugSymbols maps an absolute coordinate to its source-level debug
	// info. Auxiliary; used only by the Indexer.
	DebugSymbols map[string]DebugSymbol

	// CallSites maps the coordinate of a CALL instruction to the name of
	// the procedure it invokes. The assembler front end registers these at
	// compile time; the engine has no other way to resolve a CALL's target
	// since Procedures is keyed by name, not by any runtime-visible operand
	// (spec §4.4).
	CallSites map[string]string
}

// New returns an empty ProgramArtifact for the given program id. An empty
// programID is replaced with a collision-resistant id minted by xid.New().
func New(programID string) *ProgramArtifact {
	if programID == "" {
		programID = xid.New().String()
	}
	return &ProgramArtifact{
		ProgramID:      programID,
		Layout:         make(map[string]int32),
		InitialObjects: make(map[string]WorldObject),
		Procedures:     make(map[string][]string),
		DebugSymbols:   make(map[string]DebugSymbol),
		CallSites:      make(map[string]string),
	}
}

// Key canonicalizes a coordinate into the string key used by the artifact's
// maps.
func Key(c geom.Coord) string {
	return c.String()
}

// MoleculeAt returns the machine-code molecule int at c, and whether the
// layout defines one there.
func (p *ProgramArtifact) MoleculeAt(c geom.Coord) (int32, bool) {
	v, ok := p.Layout[Key(c)]
	return v, ok
}

// FormalParams returns the ordered formal-parameter names declared for
// procName, or nil if procName is unknown.
func (p *ProgramArtifact) FormalParams(procName string) []string {
	return p.Procedures[procName]
}

// ProcedureAt resolves the name of the procedure a CALL instruction at c
// invokes, and whether one is registered there.
func (p *ProgramArtifact) ProcedureAt(c geom.Coord) (string, bool) {
	name, ok := p.CallSites[Key(c)]
	return name, ok
}
