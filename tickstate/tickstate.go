// Package tickstate defines RawTickState, the queue/persistence transport
// unit: a deep-copied, self-contained snapshot of one completed tick (spec
// §3). It carries no references back into the live engine.
package tickstate

import (
	"github.com/evochora/evochora/env"
	"github.com/evochora/evochora/organism"
)

// RawTickState is the per-tick snapshot the engine enqueues and persistence
// writes verbatim.
type RawTickState struct {
	TickNumber int64                `json:"tickNumber"`
	Organisms  []*organism.Organism `json:"organisms"`
	Cells      []env.CellSnapshot   `json:"cells"`
}

// EstimateBytes is the byte-accounted cost the tick queue uses for its
// capacity heuristic (spec §4.2). It is a cheap structural estimate, not an
// exact serialized size.
func (r *RawTickState) EstimateBytes() int64 {
	const (
		baseOverhead    = 64
		perOrganismBase = 256
		perRegisterSlot = 24
		perStackFrame   = 96
		perCell         = 40
	)

	size := int64(baseOverhead)
	for _, o := range r.Organisms {
		size += perOrganismBase
		size += int64(len(o.DRs)+len(o.PRs)+len(o.FPRs)+len(o.LRs)) * perRegisterSlot
		size += int64(len(o.DataStack)) * perRegisterSlot
		size += int64(len(o.LocationStack)) * perRegisterSlot
		size += int64(len(o.CallStack)) * perStackFrame
	}
	size += int64(len(r.Cells)) * perCell
	return size
}
