// Package organism defines the embodied agent that executes instructions
// against the environment: its register banks, stacks, call frames, and
// per-tick transient flags (spec §3).
package organism

import (
	"github.com/evochora/evochora/geom"
	"github.com/evochora/evochora/mol"
)

// Value is a tagged register/stack slot: either a scalar molecule int or an
// N-vector of ints, per the "Stacks holding either scalars or vectors"
// re-architecture note in spec §9 — a tagged value, not a generic
// interface{}, with exhaustive handling required at every consumer.
type Value struct {
	IsVector bool         `json:"isVector"`
	Scalar   mol.Molecule `json:"scalar"`
	Vector   geom.Coord   `json:"vector,omitempty"`
}

// ScalarValue builds a scalar Value wrapping a molecule.
func ScalarValue(m mol.Molecule) Value { return Value{Scalar: m} }

// VectorValue builds a vector Value.
func VectorValue(v geom.Coord) Value { return Value{IsVector: true, Vector: v.Clone()} }

// Clone returns an independent copy of the value.
func (v Value) Clone() Value {
	if v.IsVector {
		return VectorValue(v.Vector)
	}
	return v
}

// Display renders the value the way the indexer renders register and stack
// slots: scalars as "<TYPE>:<value>", vectors as "[v0,v1,...]" (spec §4.4).
func (v Value) Display() string {
	if v.IsVector {
		return v.Vector.String()
	}
	return v.Scalar.String()
}

// ProcFrame is a call-stack frame: the procedure's name, its absolute
// return IP, snapshots of the PR/FPR banks at entry, and the FPR→DR
// binding map recording which caller DR each formal parameter resolved to
// (spec §3, §9 "Call-stack frames with an FPR-to-DR binding map").
type ProcFrame struct {
	ProcName    string  `json:"procName"`
	ReturnIP    geom.Coord `json:"returnIp"`
	PRsAtEntry  []Value `json:"prsAtEntry,omitempty"`
	FPRsAtEntry []Value `json:"fprsAtEntry,omitempty"`
	// FPRToDR maps an FPR bank index to the DR bank index it was bound to
	// at CALL time. Resolution at the indexer is a pure lookup into this
	// map, never reflective introspection.
	FPRToDR map[int]int `json:"fprToDr"`
}

// Clone deep-copies a ProcFrame for transport into a RawTickState.
func (f ProcFrame) Clone() ProcFrame {
	out := ProcFrame{
		ProcName: f.ProcName,
		ReturnIP: f.ReturnIP.Clone(),
		FPRToDR:  make(map[int]int, len(f.FPRToDR)),
	}
	for _, v := range f.PRsAtEntry {
		out.PRsAtEntry = append(out.PRsAtEntry, v.Clone())
	}
	for _, v := range f.FPRsAtEntry {
		out.FPRsAtEntry = append(out.FPRsAtEntry, v.Clone())
	}
	for k, v := range f.FPRToDR {
		out.FPRToDR[k] = v
	}
	return out
}

// Organism is the embodied agent: identity, position/heading, register
// banks, stacks, energy, and the per-tick transient state the engine uses
// to track planning/execution outcomes.
type Organism struct {
	ID        int64  `json:"id"`
	ParentID  int64  `json:"parentId"` // 0 if none
	BirthTick int64  `json:"birthTick"`
	ProgramID string `json:"programId"`

	IP geom.Coord `json:"ip"`
	DV geom.DV    `json:"dv"`

	DPs         []geom.Coord `json:"dps"`
	ActiveDPIdx int          `json:"activeDpIndex"`

	ER int64 `json:"er"` // energy register

	DRs  []Value `json:"drs"`
	PRs  []Value `json:"prs"`
	FPRs []Value `json:"fprs"`
	LRs  []Value `json:"lrs"`

	DataStack     []Value      `json:"dataStack"`
	LocationStack []geom.Coord `json:"locationStack"`
	CallStack     []ProcFrame  `json:"callStack"`

	IsDead bool `json:"isDead"`

	// Per-tick transient flags, reset at the start of each Plan phase.
	InstructionFailed bool       `json:"instructionFailed"`
	FailureReason     string     `json:"failureReason"`
	SkipIPAdvance     bool       `json:"skipIpAdvance"`
	IPBeforeFetch     geom.Coord `json:"ipBeforeFetch"`
	DVBeforeFetch     geom.DV    `json:"dvBeforeFetch"`
}

// Alive reports whether the organism is alive: ER > 0 and not flagged dead
// (spec §3 invariant).
func (o *Organism) Alive() bool {
	return o.ER > 0 && !o.IsDead
}

// ResetTickFlags clears the per-tick transient flags before a new Plan
// phase, snapshotting IP/DV as they stood before this tick's fetch.
func (o *Organism) ResetTickFlags() {
	o.InstructionFailed = false
	o.FailureReason = ""
	o.SkipIPAdvance = false
	o.IPBeforeFetch = o.IP.Clone()
	o.DVBeforeFetch = o.DV.Clone()
}

// Fail marks the organism's current instruction as failed with a
// human-readable reason, per spec §4.1 "Failure semantics".
func (o *Organism) Fail(reason string) {
	o.InstructionFailed = true
	o.FailureReason = reason
}

// ActiveDP returns the currently active data pointer, and false if none is
// set.
func (o *Organism) ActiveDP() (geom.Coord, bool) {
	if o.ActiveDPIdx < 0 || o.ActiveDPIdx >= len(o.DPs) {
		return nil, false
	}
	return o.DPs[o.ActiveDPIdx], true
}

// Snapshot deep-copies the organism for inclusion in a RawTickState. No
// field aliases the live organism (spec §5).
func (o *Organism) Snapshot() *Organism {
	out := *o
	out.IP = o.IP.Clone()
	out.DV = o.DV.Clone()
	out.IPBeforeFetch = o.IPBeforeFetch.Clone()
	out.DVBeforeFetch = o.DVBeforeFetch.Clone()

	out.DPs = cloneCoords(o.DPs)
	out.DRs = CloneValues(o.DRs)
	out.PRs = CloneValues(o.PRs)
	out.FPRs = CloneValues(o.FPRs)
	out.LRs = CloneValues(o.LRs)
	out.DataStack = CloneValues(o.DataStack)
	out.LocationStack = cloneCoords(o.LocationStack)

	out.CallStack = make([]ProcFrame, len(o.CallStack))
	for i, f := range o.CallStack {
		out.CallStack[i] = f.Clone()
	}

	return &out
}

func cloneCoords(in []geom.Coord) []geom.Coord {
	if in == nil {
		return nil
	}
	out := make([]geom.Coord, len(in))
	for i, c := range in {
		out[i] = c.Clone()
	}
	return out
}

// CloneValues deep-copies a register/stack bank, used by ProcFrame snapshots
// as well as Organism.Snapshot so a CALL frame's PRsAtEntry/FPRsAtEntry never
// alias the live banks they were captured from.
func CloneValues(in []Value) []Value {
	if in == nil {
		return nil
	}
	out := make([]Value, len(in))
	for i, v := range in {
		out[i] = v.Clone()
	}
	return out
}

// BankSizes configures the fixed size of each register bank, a
// configuration constant per spec §3.
type BankSizes struct {
	DR, PR, FPR, LR int
}

// New creates a fresh organism with its register banks and stacks
// allocated to the given sizes, alive with the given initial energy.
func New(id, parentID, birthTick int64, programID string, ip geom.Coord, dv geom.DV, er int64, banks BankSizes) *Organism {
	return &Organism{
		ID:          id,
		ParentID:    parentID,
		BirthTick:   birthTick,
		ProgramID:   programID,
		IP:          ip.Clone(),
		DV:          dv.Clone(),
		DPs:         []geom.Coord{ip.Clone()},
		ActiveDPIdx: 0,
		ER:          er,
		DRs:         make([]Value, banks.DR),
		PRs:         make([]Value, banks.PR),
		FPRs:        make([]Value, banks.FPR),
		LRs:         make([]Value, banks.LR),
	}
}
