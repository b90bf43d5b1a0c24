// Package engine implements the Simulation Engine (C1): a deterministic,
// three-phase (Plan / Resolve / Execute) tick loop over organisms sharing
// an N-dimensional environment. The tick-stepping shape mirrors the
// teacher's Core.Tick(now sim.VTimeInSec) (madeProgress bool) method in
// core/core.go, generalized from a single-opcode-per-call emulator into
// the spec's three explicit phases.
package engine

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/sarchlab/akita/v4/sim"

	"github.com/evochora/evochora/artifact"
	"github.com/evochora/evochora/env"
	"github.com/evochora/evochora/geom"
	"github.com/evochora/evochora/isa"
	"github.com/evochora/evochora/mol"
	"github.com/evochora/evochora/organism"
	"github.com/evochora/evochora/queue"
	"github.com/evochora/evochora/tickstate"
)

// State is the engine's lifecycle state, a small enum plus non-blocking
// signal per the re-architecture note in spec §9, rather than
// exception-based control flow.
type State int

const (
	Created State = iota
	Running
	Paused
	Stopped
)

func (s State) String() string {
	switch s {
	case Created:
		return "NOT_STARTED"
	case Running:
		return "started"
	case Paused:
		return "paused"
	case Stopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// EnergyDistributor is the capability the engine depends on for
// energy-distribution plugins: "mutate environment given tick and rng"
// (spec §4.1). Implementations are external collaborators; the engine only
// knows this interface.
type EnergyDistributor interface {
	Distribute(e *env.Environment, tick int64, rng *rand.Rand)
}

// Seeder places the initial organisms and world objects for a
// ProgramArtifact into the environment, assigning the first organism ids.
type Seeder func(e *env.Environment, art *artifact.ProgramArtifact, at geom.Coord, banks organism.BankSizes, er int64, nextID func() int64) (*organism.Organism, error)

// Builder constructs an Engine, mirroring the teacher's chained builder
// idiom (config/config.go DeviceBuilder, core/builder.go Builder).
type Builder struct {
	env          *env.Environment
	is           *isa.InstructionSet
	queue        *queue.TickQueue
	seed         int64
	freq         sim.Freq
	distributors []EnergyDistributor
	banks        organism.BankSizes
	publishEmpty bool
	artifacts    map[string]*artifact.ProgramArtifact
}

// NewBuilder returns an Engine Builder defaulted to the Default ISA and a
// 1GHz nominal tick frequency (unused for scheduling math, carried only to
// match the teacher's component-frequency convention).
func NewBuilder() Builder {
	return Builder{
		is:           isa.Default(),
		freq:         1 * sim.GHz,
		publishEmpty: true,
		banks:        organism.BankSizes{DR: 8, PR: 4, FPR: 4, LR: 4},
		artifacts:    map[string]*artifact.ProgramArtifact{},
	}
}

// WithEnvironment sets the environment the engine owns exclusively.
func (b Builder) WithEnvironment(e *env.Environment) Builder { b.env = e; return b }

// WithInstructionSet overrides the default ISA.
func (b Builder) WithInstructionSet(is *isa.InstructionSet) Builder { b.is = is; return b }

// WithQueue sets the tick queue the engine publishes RawTickStates to.
func (b Builder) WithQueue(q *queue.TickQueue) Builder { b.queue = q; return b }

// WithSeed sets the single seed all engine randomness derives from (spec
// §4.1 determinism contract).
func (b Builder) WithSeed(seed int64) Builder { b.seed = seed; return b }

// WithFreq sets the nominal tick frequency, matching the teacher's
// WithFreq(sim.Freq) convention.
func (b Builder) WithFreq(freq sim.Freq) Builder { b.freq = freq; return b }

// WithEnergyDistributors registers energy-distribution plugin instances.
func (b Builder) WithEnergyDistributors(ds ...EnergyDistributor) Builder {
	b.distributors = append(b.distributors, ds...)
	return b
}

// WithRegisterBanks sets the fixed size of each register bank.
func (b Builder) WithRegisterBanks(banks organism.BankSizes) Builder { b.banks = banks; return b }

// WithPublishEmptyTicks controls whether a tick with zero live organisms is
// still published. Resolved to true by default per SPEC_FULL.md §5.
func (b Builder) WithPublishEmptyTicks(v bool) Builder { b.publishEmpty = v; return b }

// WithArtifact registers a ProgramArtifact the engine resolves CALL targets
// against for organisms seeded from it, keyed by its ProgramID, the same
// registration shape indexer.Builder.WithArtifact uses for disassembly.
func (b Builder) WithArtifact(a *artifact.ProgramArtifact) Builder {
	b.artifacts[a.ProgramID] = a
	return b
}

// Build constructs the Engine.
func (b Builder) Build() (*Engine, error) {
	if b.env == nil {
		return nil, fmt.Errorf("engine: environment is required")
	}
	if b.queue == nil {
		return nil, fmt.Errorf("engine: queue is required")
	}
	return &Engine{
		env:          b.env,
		is:           b.is,
		queue:        b.queue,
		rng:          rand.New(rand.NewSource(b.seed)),
		freq:         b.freq,
		distributors: b.distributors,
		banks:        b.banks,
		publishEmpty: b.publishEmpty,
		artifacts:    b.artifacts,
		nextOrgID:    1,
	}, nil
}

// Engine owns the environment exclusively and advances it one tick at a
// time; no other component holds a reference to it (spec §5).
type Engine struct {
	env   *env.Environment
	is    *isa.InstructionSet
	queue *queue.TickQueue
	rng   *rand.Rand
	freq  sim.Freq

	distributors []EnergyDistributor
	banks        organism.BankSizes
	publishEmpty bool
	artifacts    map[string]*artifact.ProgramArtifact

	organisms []*organism.Organism
	nextOrgID int64
	tick      int64

	mu    sync.Mutex
	state State
	// pauseRequested/stopRequested are checked only at tick boundaries,
	// never mid-tick (spec §4.1 "State machine").
	pauseRequested bool
	stopRequested  bool
}

// Environment returns the engine's owned environment, for test setup and
// seeding only — no other long-lived component may hold this reference.
func (e *Engine) Environment() *env.Environment { return e.env }

// NextOrganismID allocates the next monotonic organism id, starting at 1.
func (e *Engine) NextOrganismID() int64 {
	id := e.nextOrgID
	e.nextOrgID++
	return id
}

// AddOrganism registers a live organism with the engine, keeping the
// organism list sorted by ascending id as required by the determinism
// contract.
func (e *Engine) AddOrganism(o *organism.Organism) {
	e.organisms = append(e.organisms, o)
	sort.Slice(e.organisms, func(i, j int) bool { return e.organisms[i].ID < e.organisms[j].ID })
}

// RegisterArtifact makes a ProgramArtifact available to CALL resolution for
// any organism whose ProgramID matches it, keyed by a.ProgramID. Seeders
// call this alongside AddOrganism so a freshly loaded program's CALL sites
// resolve from tick one.
func (e *Engine) RegisterArtifact(a *artifact.ProgramArtifact) {
	e.artifacts[a.ProgramID] = a
}

// Lifecycle returns the engine's current lifecycle state as the State enum.
func (e *Engine) Lifecycle() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// State returns the engine's current lifecycle state as a status string,
// satisfying the same manager.Service surface persistence.Service and
// indexer.Service expose.
func (e *Engine) State() string {
	return e.Lifecycle().String()
}

// Start transitions Created -> Running. Idempotent if already running.
func (e *Engine) Start() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == Created || e.state == Stopped {
		e.state = Running
	}
}

// Pause requests a transition to Paused at the next tick boundary.
func (e *Engine) Pause() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.pauseRequested = true
}

// Resume requests a transition back to Running.
func (e *Engine) Resume() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.pauseRequested = false
	if e.state == Paused {
		e.state = Running
	}
}

// Stop requests a transition to Stopped at the next tick boundary.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stopRequested = true
}

// IsPaused reports whether the engine has completed its boundary transition
// into Paused (spec §4.5: isPaused() becomes true only after that
// boundary).
func (e *Engine) IsPaused() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state == Paused
}

// checkBoundary applies any pending pause/stop request. It must only be
// called between ticks.
func (e *Engine) checkBoundary() (shouldStop bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stopRequested {
		e.state = Stopped
		return true
	}
	if e.pauseRequested {
		e.state = Paused
		return false
	}
	if e.state == Paused {
		return false
	}
	e.state = Running
	return false
}

// Run drives the engine's tick loop until Stop is requested or ctx is
// canceled. It blocks in an idle wait while paused, checking boundary
// signals cooperatively, never mid-tick.
func (e *Engine) Run(ctx context.Context) error {
	e.Start()
	for {
		if ctx.Err() != nil {
			e.mu.Lock()
			e.state = Stopped
			e.mu.Unlock()
			return ctx.Err()
		}
		if stop := e.checkBoundary(); stop {
			return nil
		}
		if e.Lifecycle() == Paused {
			time.Sleep(10 * time.Millisecond)
			continue
		}
		if err := e.RunTick(ctx); err != nil {
			return err
		}
	}
}

// RunTick executes exactly one Plan/Resolve/Execute cycle and publishes the
// resulting RawTickState. It is the engine's "atomic unit of work" for
// pause/stop quiescence (spec §4.5).
func (e *Engine) RunTick(ctx context.Context) error {
	for _, d := range e.distributors {
		d.Distribute(e.env, e.tick, e.rng)
	}

	if len(e.organisms) == 0 && !e.publishEmpty {
		return nil
	}

	actions := e.plan()
	e.resolve(actions)
	forked := e.execute(actions)

	raw := e.snapshot()

	if err := e.queue.Put(ctx, raw); err != nil {
		return fmt.Errorf("engine: publishing tick %d: %w", e.tick, err)
	}

	e.organisms = append(e.excise(), forked...)
	sort.Slice(e.organisms, func(i, j int) bool { return e.organisms[i].ID < e.organisms[j].ID })

	e.tick++
	return nil
}

// plannedAction pairs an organism with the action its instruction planned.
type plannedAction struct {
	org    *organism.Organism
	action isa.Action
}

// plan runs the Plan phase: each live organism plans exactly one
// instruction, in ascending id order, without mutating any world cell
// (spec §4.1).
func (e *Engine) plan() []plannedAction {
	out := make([]plannedAction, 0, len(e.organisms))
	for _, o := range e.organisms {
		if !o.Alive() {
			continue
		}
		o.ResetTickFlags()
		out = append(out, plannedAction{org: o, action: e.planOne(o)})
	}
	return out
}

func (e *Engine) planOne(o *organism.Organism) isa.Action {
	m, _, ok := e.peek(o.IP)
	if !ok || m.Type() != mol.CODE {
		o.Fail("no instruction at IP")
		return isa.Action{Failed: true, Reason: "no instruction at IP"}
	}
	op := isa.Opcode(m.Value())
	def, ok := e.is.Lookup(op)
	if !ok {
		o.Fail(fmt.Sprintf("unknown opcode %d", op))
		return isa.Action{Failed: true, Reason: "unknown opcode"}
	}

	operands := make([]mol.Molecule, 0, def.Arity)
	cursor := o.IP
	dv := o.DV
	for i := 0; i < def.Arity; i++ {
		next, ok := e.env.Step(cursor, dv)
		if !ok {
			o.Fail("operand fetch out of range")
			return isa.Action{Opcode: op, Failed: true, Reason: "operand fetch out of range"}
		}
		om, _, _ := e.peek(next)
		operands = append(operands, om)
		cursor = next
	}

	ctx := &isa.PlanContext{Org: o, Artifact: e.artifacts[o.ProgramID], Peek: e.peek, Step: e.env.Step}
	action := def.Plan(ctx, operands)
	action.EnergyDelta -= def.Cost
	return action
}

func (e *Engine) peek(c geom.Coord) (mol.Molecule, int64, bool) {
	m, owner, err := e.env.Get(c)
	if err != nil {
		return 0, 0, false
	}
	return m, owner, true
}

// resolve runs the Resolve phase: for each coordinate planned as a write
// target by more than one organism, the lowest organism id wins and all
// others are marked failed (spec §4.1, scenario S2).
func (e *Engine) resolve(actions []plannedAction) {
	writers := map[string][]int{} // coord key -> indices into actions, in plan order (already ascending id)
	for i, pa := range actions {
		if pa.action.Failed || pa.action.CellWrite == nil {
			continue
		}
		key := pa.action.CellWrite.Pos.String()
		writers[key] = append(writers[key], i)
	}
	for _, idxs := range writers {
		if len(idxs) <= 1 {
			continue
		}
		// actions is already in ascending organism-id order (plan phase
		// iterates e.organisms, which AddOrganism keeps sorted), so the
		// first entry is the lowest id.
		for _, i := range idxs[1:] {
			actions[i].action.Failed = true
			actions[i].action.Reason = fmt.Sprintf("conflict: lost cell write to organism %d", actions[idxs[0]].org.ID)
			actions[i].action.CellWrite = nil
		}
	}
}

// execute runs the Execute phase: apply surviving planned actions, spawn
// forked children, and mark the dead (spec §4.1); RunTick excises them
// after publishing. It returns the newly spawned children, not yet merged
// into e.organisms.
func (e *Engine) execute(actions []plannedAction) []*organism.Organism {
	var forked []*organism.Organism

	for _, pa := range actions {
		o, a := pa.org, pa.action

		if a.Failed {
			o.Fail(a.Reason)
			o.ER += a.EnergyDelta
			if o.ER <= 0 {
				o.IsDead = true
			}
			continue
		}

		for idx, v := range a.RegWrites {
			if idx >= 0 && idx < len(o.DRs) {
				o.DRs[idx] = v
			}
		}
		for _, v := range a.DataPush {
			o.DataStack = append(o.DataStack, v)
		}
		for i := 0; i < a.DataPop && len(o.DataStack) > 0; i++ {
			o.DataStack = o.DataStack[:len(o.DataStack)-1]
		}

		if a.CellWrite != nil {
			_ = e.env.Set(a.CellWrite.Pos, a.CellWrite.Molecule, o.ID)
		}

		if a.PushFrame != nil {
			o.CallStack = append(o.CallStack, *a.PushFrame)
		}
		if a.PopFrame && len(o.CallStack) > 0 {
			o.CallStack = o.CallStack[:len(o.CallStack)-1]
		}

		if a.SkipIPAdvance {
			o.IP = a.NextIP
			o.DV = a.NextDV
		} else {
			next, ok := e.env.Step(o.IP, o.DV)
			if ok {
				o.IP = next
			}
		}

		o.ER += a.EnergyDelta
		if o.ER <= 0 {
			o.IsDead = true
		}

		if a.Fork != nil && o.ER > 0 {
			child := organism.New(e.NextOrganismID(), o.ID, e.tick+1, o.ProgramID, a.Fork.IP, a.Fork.DV, a.Fork.ER, e.banks)
			forked = append(forked, child)
		}
	}

	return forked
}

// excise drops every organism no longer alive, preserving ascending-id
// order.
func (e *Engine) excise() []*organism.Organism {
	out := e.organisms[:0:0]
	for _, o := range e.organisms {
		if o.Alive() {
			out = append(out, o)
		}
	}
	return out
}

// snapshot deep-copies the post-execution state of every live organism plus
// every non-empty cell into a RawTickState, per spec §4.1's "Between
// ticks" paragraph.
func (e *Engine) snapshot() *tickstate.RawTickState {
	raw := &tickstate.RawTickState{TickNumber: e.tick}
	for _, o := range e.organisms {
		if !o.Alive() {
			continue
		}
		raw.Organisms = append(raw.Organisms, o.Snapshot())
	}
	raw.Cells = e.env.Snapshot()
	return raw
}

// Tick advances the engine by exactly one tick, matching the teacher's
// Core.Tick(now sim.VTimeInSec) (madeProgress bool) signature so the engine
// can be driven by the same kind of fixed-frequency outer loop used for
// akita components elsewhere in the pack.
func (e *Engine) Tick(now sim.VTimeInSec) (madeProgress bool) {
	if e.checkBoundary() || e.Lifecycle() != Running {
		return false
	}
	if err := e.RunTick(context.Background()); err != nil {
		return false
	}
	return true
}
