// Package isa implements the instruction set as a tagged enumeration rather
// than an inheritance hierarchy of opcode subtypes, per the re-architecture
// note in spec §9: each Opcode is a value in a closed enum whose Def carries
// its Plan function, looked up through an explicit InstructionSet built at
// startup and threaded through the engine. Plan produces an Action that the
// engine's Execute phase applies generically, whatever the opcode — no
// process-global mutable state, generalizing the teacher's registered-ISA
// idiom in instr/isa.go and program/isa.go.
package isa

import (
	"fmt"

	"github.com/evochora/evochora/artifact"
	"github.com/evochora/evochora/geom"
	"github.com/evochora/evochora/mol"
	"github.com/evochora/evochora/organism"
)

// Opcode identifies one instruction kind. The zero value is NOP.
type Opcode int32

const (
	NOP Opcode = iota
	POKE
	PEEK
	ADD
	SUB
	JMPIF
	FORK
	CALL
	RET
	HARVEST
)

var opcodeNames = map[Opcode]string{
	NOP: "NOP", POKE: "POKE", PEEK: "PEEK", ADD: "ADD", SUB: "SUB",
	JMPIF: "JMPIF", FORK: "FORK", CALL: "CALL", RET: "RET", HARVEST: "HARVEST",
}

// Name returns the opcode's mnemonic, or a numeric placeholder if unknown.
func (op Opcode) Name() string {
	if n, ok := opcodeNames[op]; ok {
		return n
	}
	return fmt.Sprintf("OP%d", int32(op))
}

// Def describes one instruction's shape: how many operand cells it reads
// and how to turn those operands into a PlannedAction. Def is immutable
// data, not a subtype — the ISA is a data table, not a class graph.
type Def struct {
	Opcode Opcode
	Name   string
	// Arity is the number of operand molecules read by advancing along DV
	// from IP, one per operand, before planning.
	Arity int
	// Cost is the base energy deduction for executing (or failing) this
	// instruction.
	Cost int64
	Plan func(ctx *PlanContext, operands []mol.Molecule) Action
}

// InstructionSet is an explicit, immutable table from Opcode to Def,
// constructed once at startup and passed into the engine — never a
// registered singleton (spec §9).
type InstructionSet struct {
	defs map[Opcode]Def
}

// NewInstructionSet builds an InstructionSet from the given definitions.
func NewInstructionSet(defs ...Def) *InstructionSet {
	is := &InstructionSet{defs: make(map[Opcode]Def, len(defs))}
	for _, d := range defs {
		is.defs[d.Opcode] = d
	}
	return is
}

// Lookup returns the Def for op, and whether it is known to this ISA.
func (is *InstructionSet) Lookup(op Opcode) (Def, bool) {
	d, ok := is.defs[op]
	return d, ok
}

// Default returns the built-in ten-instruction ISA described in spec §4.1
// and exercised by scenarios S1-S4.
func Default() *InstructionSet {
	return NewInstructionSet(
		Def{Opcode: NOP, Name: "NOP", Arity: 0, Cost: 1, Plan: planNOP},
		Def{Opcode: POKE, Name: "POKE", Arity: 1, Cost: 2, Plan: planPOKE},
		Def{Opcode: PEEK, Name: "PEEK", Arity: 0, Cost: 1, Plan: planPEEK},
		Def{Opcode: ADD, Name: "ADD", Arity: 1, Cost: 1, Plan: planADD},
		Def{Opcode: SUB, Name: "SUB", Arity: 1, Cost: 1, Plan: planSUB},
		Def{Opcode: JMPIF, Name: "JMPIF", Arity: 0, Cost: 1, Plan: planJMPIF},
		Def{Opcode: FORK, Name: "FORK", Arity: 0, Cost: 10, Plan: planFORK},
		Def{Opcode: CALL, Name: "CALL", Arity: 0, Cost: 1, Plan: planCALL},
		Def{Opcode: RET, Name: "RET", Arity: 0, Cost: 1, Plan: planRET},
		Def{Opcode: HARVEST, Name: "HARVEST", Arity: 0, Cost: 1, Plan: planHARVEST},
	)
}

// PlanContext is the read-only view of an organism and its environment
// available while planning. Planning must not mutate world cells (spec
// §4.1); ctx.Peek is the only way a plan function observes the world.
type PlanContext struct {
	Org *organism.Organism
	// Artifact is the ProgramArtifact the organism was seeded from, or nil
	// if none was registered with the engine. CALL resolves its target
	// procedure through this reference rather than any operand, since
	// Procedures is keyed by name and carries no runtime-visible index.
	Artifact *artifact.ProgramArtifact
	// Peek returns the molecule and owner at c, and whether c is
	// addressable (in range / wraps successfully).
	Peek func(c geom.Coord) (mol.Molecule, int64, bool)
	// Step resolves the next coordinate from c along d per the
	// environment's toroidal/bounded policy.
	Step func(c geom.Coord, d geom.DV) (geom.Coord, bool)
}

// CellWrite is a planned write of one molecule to one coordinate. If it
// commits, the engine records the writing organism as the cell's owner.
type CellWrite struct {
	Pos      geom.Coord
	Molecule mol.Molecule
}

// ForkRequest describes a child organism a FORK plan intends to spawn.
type ForkRequest struct {
	IP geom.Coord
	DV geom.DV
	ER int64
}

// Action is the pure description of one organism's intended effects for
// this tick, produced by Plan and applied (or discarded) by Execute. It
// never touches the environment directly.
type Action struct {
	Opcode Opcode

	Failed bool
	Reason string

	RegWrites map[int]organism.Value // DR index -> new value
	DataPush  []organism.Value
	DataPop   int

	CellWrite *CellWrite

	// NextIP/NextDV are the planned post-instruction IP/DV. SkipIPAdvance
	// suppresses the normal one-step advance when the plan already moved
	// IP itself (e.g. a taken JMPIF skip).
	NextIP        geom.Coord
	NextDV        geom.DV
	SkipIPAdvance bool

	EnergyDelta int64

	Fork *ForkRequest

	PushFrame *organism.ProcFrame
	PopFrame  bool
}

// readScalar extracts the scalar half of a tagged Value, defaulting to 0
// for a vector (callers needing vectors use the Vector field directly).
func readScalar(v organism.Value) int32 {
	if v.IsVector {
		return 0
	}
	return v.Scalar.Value()
}

func planNOP(ctx *PlanContext, _ []mol.Molecule) Action {
	return Action{Opcode: NOP}
}

// planPOKE writes the organism's DR0 value to the cell one step ahead of
// IP along DV, as exercised by scenario S2.
func planPOKE(ctx *PlanContext, _ []mol.Molecule) Action {
	target, ok := ctx.Step(ctx.Org.IP, ctx.Org.DV)
	if !ok {
		return Action{Opcode: POKE, Failed: true, Reason: "POKE target out of range"}
	}
	if len(ctx.Org.DRs) == 0 {
		return Action{Opcode: POKE, Failed: true, Reason: "POKE requires DR0"}
	}
	val := readScalar(ctx.Org.DRs[0])
	return Action{
		Opcode:    POKE,
		CellWrite: &CellWrite{Pos: target, Molecule: mol.New(mol.DATA, val)},
	}
}

// planPEEK reads the molecule at the organism's active data pointer into
// DR0.
func planPEEK(ctx *PlanContext, _ []mol.Molecule) Action {
	dp, ok := ctx.Org.ActiveDP()
	if !ok {
		return Action{Opcode: PEEK, Failed: true, Reason: "no active data pointer"}
	}
	m, _, ok := ctx.Peek(dp)
	if !ok {
		return Action{Opcode: PEEK, Failed: true, Reason: "PEEK target out of range"}
	}
	return Action{
		Opcode:    PEEK,
		RegWrites: map[int]organism.Value{0: organism.ScalarValue(m)},
	}
}

func arith(ctx *PlanContext, operands []mol.Molecule, op Opcode, combine func(a, b int32) int32) Action {
	if len(ctx.Org.DRs) == 0 || len(operands) != 1 {
		return Action{Opcode: op, Failed: true, Reason: fmt.Sprintf("%s requires DR0 and one operand", op.Name())}
	}
	result := combine(readScalar(ctx.Org.DRs[0]), operands[0].Value())
	return Action{
		Opcode:    op,
		RegWrites: map[int]organism.Value{0: organism.ScalarValue(mol.New(mol.DATA, result))},
	}
}

func planADD(ctx *PlanContext, operands []mol.Molecule) Action {
	return arith(ctx, operands, ADD, func(a, b int32) int32 { return a + b })
}

func planSUB(ctx *PlanContext, operands []mol.Molecule) Action {
	return arith(ctx, operands, SUB, func(a, b int32) int32 { return a - b })
}

// planJMPIF skips the immediately following instruction when DR0 is zero,
// by advancing the planned IP two steps instead of one (spec §4.1: "decide
// whether the immediately following instruction is skipped by advancing IP
// appropriately in the planned IP update").
func planJMPIF(ctx *PlanContext, _ []mol.Molecule) Action {
	if len(ctx.Org.DRs) == 0 {
		return Action{Opcode: JMPIF, Failed: true, Reason: "JMPIF requires DR0"}
	}
	cond := readScalar(ctx.Org.DRs[0]) != 0
	next, ok := ctx.Step(ctx.Org.IP, ctx.Org.DV)
	if !ok {
		return Action{Opcode: JMPIF, Failed: true, Reason: "JMPIF out of range"}
	}
	if cond {
		return Action{Opcode: JMPIF, SkipIPAdvance: true, NextIP: next, NextDV: ctx.Org.DV.Clone()}
	}
	skip, ok := ctx.Step(next, ctx.Org.DV)
	if !ok {
		return Action{Opcode: JMPIF, Failed: true, Reason: "JMPIF skip out of range"}
	}
	return Action{Opcode: JMPIF, SkipIPAdvance: true, NextIP: skip, NextDV: ctx.Org.DV.Clone()}
}

// planFORK requests a child be spawned one step ahead along DV, inheriting
// half the parent's remaining energy.
func planFORK(ctx *PlanContext, _ []mol.Molecule) Action {
	childIP, ok := ctx.Step(ctx.Org.IP, ctx.Org.DV)
	if !ok {
		return Action{Opcode: FORK, Failed: true, Reason: "FORK target out of range"}
	}
	give := ctx.Org.ER / 2
	if give <= 0 {
		return Action{Opcode: FORK, Failed: true, Reason: "insufficient energy to FORK"}
	}
	return Action{
		Opcode: FORK,
		Fork:   &ForkRequest{IP: childIP, DV: ctx.Org.DV.Clone(), ER: give},
	}
}

// planCALL pushes a ProcFrame binding FPRs to the organism's current DRs in
// order, matching §4.4's "NAME[%DRk]" resolution contract. The invoked
// procedure's name comes from the artifact's CallSites registration at the
// organism's current IP. CALL itself carries no operand: Procedures is
// keyed by name, and the artifact is the only thing that knows which CALL
// site means which procedure.
func planCALL(ctx *PlanContext, _ []mol.Molecule) Action {
	if ctx.Artifact == nil {
		return Action{Opcode: CALL, Failed: true, Reason: "CALL requires a registered program artifact"}
	}
	name, ok := ctx.Artifact.ProcedureAt(ctx.Org.IP)
	if !ok {
		return Action{Opcode: CALL, Failed: true, Reason: "no procedure registered at this CALL site"}
	}
	returnIP, ok := ctx.Step(ctx.Org.IP, ctx.Org.DV)
	if !ok {
		return Action{Opcode: CALL, Failed: true, Reason: "CALL return address out of range"}
	}

	frame := &organism.ProcFrame{
		ProcName:    name,
		ReturnIP:    returnIP,
		PRsAtEntry:  organism.CloneValues(ctx.Org.PRs),
		FPRsAtEntry: organism.CloneValues(ctx.Org.FPRs),
		FPRToDR:     map[int]int{},
	}
	for i := range ctx.Org.FPRs {
		if i < len(ctx.Org.DRs) {
			frame.FPRToDR[i] = i
		}
	}
	return Action{Opcode: CALL, PushFrame: frame}
}

// planRET pops the topmost call frame and returns to its recorded IP.
func planRET(ctx *PlanContext, _ []mol.Molecule) Action {
	if len(ctx.Org.CallStack) == 0 {
		return Action{Opcode: RET, Failed: true, Reason: "RET with empty call stack"}
	}
	top := ctx.Org.CallStack[len(ctx.Org.CallStack)-1]
	return Action{
		Opcode:        RET,
		PopFrame:      true,
		SkipIPAdvance: true,
		NextIP:        top.ReturnIP.Clone(),
		NextDV:        ctx.Org.DV.Clone(),
	}
}

// planHARVEST converts an ENERGY molecule at the organism's IP into energy
// gain, clearing the cell.
func planHARVEST(ctx *PlanContext, _ []mol.Molecule) Action {
	m, _, ok := ctx.Peek(ctx.Org.IP)
	if !ok || m.Type() != mol.ENERGY {
		return Action{Opcode: HARVEST, Failed: true, Reason: "no ENERGY at IP"}
	}
	return Action{
		Opcode:      HARVEST,
		CellWrite:   &CellWrite{Pos: ctx.Org.IP.Clone(), Molecule: mol.Empty},
		EnergyDelta: int64(m.Value()),
	}
}
