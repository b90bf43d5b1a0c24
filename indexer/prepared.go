// Package indexer implements the Debug Indexer (C4): it re-reads raw tick
// snapshots, enriches them with disassembly and call-frame resolution, and
// writes a query-ready PreparedTickState to a second store (spec §4.4).
package indexer

import (
	"fmt"
	"strings"

	"github.com/evochora/evochora/artifact"
	"github.com/evochora/evochora/geom"
	"github.com/evochora/evochora/isa"
	"github.com/evochora/evochora/mol"
	"github.com/evochora/evochora/organism"
)

// PreparedOrganism mirrors RawOrganismState but with every register/stack
// slot rendered to its display string, plus the indexer's own enrichments
// (spec §3 "PreparedTickState").
type PreparedOrganism struct {
	ID        int64  `json:"id"`
	ParentID  int64  `json:"parentId"`
	BirthTick int64  `json:"birthTick"`
	ProgramID string `json:"programId"`

	IP string `json:"ip"`
	DV string `json:"dv"`

	DRs  []string `json:"drs"`
	PRs  []string `json:"prs"`
	FPRs []string `json:"fprs"`
	LRs  []string `json:"lrs"`

	DataStack     []string `json:"dataStack"`
	LocationStack []string `json:"locationStack"`
	CallStack     []string `json:"callStack"`

	IsDead            bool   `json:"isDead"`
	InstructionFailed bool   `json:"instructionFailed"`
	FailureReason     string `json:"failureReason"`

	NextInstruction string `json:"nextInstruction"`
}

// PreparedCell mirrors RawCellState with the molecule already rendered.
type PreparedCell struct {
	Pos      string `json:"pos"`
	Molecule string `json:"molecule"`
	OwnerID  int64  `json:"ownerId"`
}

// PreparedTickState is the indexer's enriched, query-ready representation
// of one tick (spec §3, §4.4).
type PreparedTickState struct {
	TickNumber int64              `json:"tickNumber"`
	Organisms  []PreparedOrganism `json:"organisms"`
	Cells      []PreparedCell     `json:"cells"`
}

func renderValues(vs []organism.Value) []string {
	out := make([]string, len(vs))
	for i, v := range vs {
		out[i] = v.Display()
	}
	return out
}

func renderCoords(cs []geom.Coord) []string {
	out := make([]string, len(cs))
	for i, c := range cs {
		out[i] = c.String()
	}
	return out
}

// renderCallFrame produces the "PROC_NAME WITH arg1[%DRk]=<val>, ..."
// display line for one call frame, resolving each formal parameter name to
// its bound DR's current rendered value via the frame's FPR→DR binding map
// (spec §4.4, scenario S4); a parameter with no valid binding renders as
// "arg=?". bound is the organism's current DR bank.
func renderCallFrame(frame organism.ProcFrame, params []string, bound []organism.Value) string {
	var args []string
	for fprIdx, name := range params {
		drIdx, ok := frame.FPRToDR[fprIdx]
		if !ok || drIdx < 0 || drIdx >= len(bound) {
			args = append(args, fmt.Sprintf("%s=?", name))
			continue
		}
		args = append(args, fmt.Sprintf("%s[%%DR%d]=%s", name, drIdx, bound[drIdx].Display()))
	}
	if len(args) == 0 {
		return frame.ProcName
	}
	return fmt.Sprintf("%s WITH %s", frame.ProcName, strings.Join(args, ", "))
}

// disassemble renders the mnemonic and operand forms of the instruction at
// ip, reading the static machine-code layout from art — never the live
// environment, which the indexer does not own (spec §4.4 step 2). If an
// operand's decoded value falls within the formal-parameter range of the
// topmost call frame, it is substituted with that frame's "NAME[%DRk]"
// binding instead of its natural rendering.
func disassemble(is *isa.InstructionSet, art *artifact.ProgramArtifact, ip geom.Coord, dv geom.DV, top *organism.ProcFrame, params []string) string {
	opVal, ok := art.MoleculeAt(ip)
	if !ok {
		return "?"
	}
	def, ok := is.Lookup(isa.Opcode(opVal))
	if !ok {
		return fmt.Sprintf("UNKNOWN(%d)", opVal)
	}

	var operands []string
	cursor := ip
	for i := 0; i < def.Arity; i++ {
		next := make(geom.Coord, len(cursor))
		for a := range cursor {
			next[a] = cursor[a] + dv[a]
		}
		cursor = next

		raw, ok := art.MoleculeAt(cursor)
		if !ok {
			operands = append(operands, "?")
			continue
		}
		operands = append(operands, renderOperand(raw, top, params))
	}

	if len(operands) == 0 {
		return def.Name
	}
	return fmt.Sprintf("%s %s", def.Name, strings.Join(operands, ", "))
}

// renderOperand substitutes an FPR-range operand with its call-frame
// binding display, or falls back to the operand's natural "<TYPE>:<value>"
// rendering otherwise.
func renderOperand(raw int32, top *organism.ProcFrame, params []string) string {
	m := mol.Molecule(raw)
	idx := int(m.Value())
	if top != nil && m.Type() == mol.DATA && idx >= 0 && idx < len(params) {
		if drIdx, ok := top.FPRToDR[idx]; ok {
			return fmt.Sprintf("%s[%%DR%d]", params[idx], drIdx)
		}
	}
	return m.String()
}
