package indexer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/evochora/evochora/artifact"
	"github.com/evochora/evochora/isa"
	"github.com/evochora/evochora/organism"
	"github.com/evochora/evochora/store"
	"github.com/evochora/evochora/tickstate"
)

// ErrTransform wraps a per-tick transformation failure, per spec §4.4
// "Ordering guarantee" and §7.
var ErrTransform = errors.New("indexer: transformation failed")

// Policy controls the indexer's optional skip-and-log behavior and its
// worker pool, matching the config-toggle texture of pipeline.indexer.* in
// spec §6.
type Policy struct {
	// HaltOnTransformError halts advancement past a failing tick,
	// preserving order (default true per spec §7). When false, the
	// failing tick is skipped and logged, leaving a gap the read API
	// must tolerate.
	HaltOnTransformError bool
	ParallelProcessing   bool
	WorkerCount          int
}

// DefaultPolicy matches spec §7's default: halt on transform error, no
// parallel processing.
func DefaultPolicy() Policy {
	return Policy{HaltOnTransformError: true, WorkerCount: 1}
}

// Builder constructs a Service.
type Builder struct {
	reader    *store.Reader
	writer    *store.Writer
	is        *isa.InstructionSet
	artifacts map[string]*artifact.ProgramArtifact
	batchSize int
	policy    Policy
	logger    *slog.Logger
}

// NewBuilder returns a Builder defaulted to batchSize 1000 and
// DefaultPolicy.
func NewBuilder() Builder {
	return Builder{
		is:        isa.Default(),
		artifacts: map[string]*artifact.ProgramArtifact{},
		batchSize: 1000,
		policy:    DefaultPolicy(),
		logger:    slog.Default(),
	}
}

// WithReader sets the read-only handle to the raw store.
func (b Builder) WithReader(r *store.Reader) Builder { b.reader = r; return b }

// WithWriter sets the write-capable handle to the prepared store.
func (b Builder) WithWriter(w *store.Writer) Builder { b.writer = w; return b }

// WithInstructionSet overrides the default ISA used for disassembly.
func (b Builder) WithInstructionSet(is *isa.InstructionSet) Builder { b.is = is; return b }

// WithArtifact registers a ProgramArtifact the indexer can disassemble
// against, keyed by its ProgramID.
func (b Builder) WithArtifact(a *artifact.ProgramArtifact) Builder {
	b.artifacts[a.ProgramID] = a
	return b
}

// WithBatchSize overrides the rows-per-read/commit batch size.
func (b Builder) WithBatchSize(n int) Builder { b.batchSize = n; return b }

// WithPolicy overrides the transform-error and parallelism policy.
func (b Builder) WithPolicy(p Policy) Builder { b.policy = p; return b }

// WithLogger overrides the structured logger.
func (b Builder) WithLogger(l *slog.Logger) Builder { b.logger = l; return b }

// Build constructs the Service, restoring lastProcessedTick from the
// prepared store's high-water mark (spec §4.4 "Restart semantics").
func (b Builder) Build(ctx context.Context) (*Service, error) {
	if b.reader == nil || b.writer == nil {
		return nil, fmt.Errorf("indexer: reader and writer are required")
	}
	last, err := b.writer.MaxTickNumber(ctx)
	if err != nil {
		return nil, fmt.Errorf("indexer: restoring high-water mark: %w", err)
	}
	return &Service{
		reader:            b.reader,
		writer:            b.writer,
		is:                b.is,
		artifacts:         b.artifacts,
		batchSize:         b.batchSize,
		policy:            b.policy,
		log:               b.logger,
		lastProcessedTick: last,
	}, nil
}

type lifecycleState int

const (
	stateNotStarted lifecycleState = iota
	stateRunning
	statePaused
	stateStopped
)

// Service is the Debug Indexer's single long-lived worker, optionally
// backed by a bounded transformation worker pool whose commits are gated
// to strict ascending tick order (spec §4.4, §5).
type Service struct {
	reader *store.Reader
	writer *store.Writer
	is     *isa.InstructionSet

	artifacts map[string]*artifact.ProgramArtifact

	batchSize int
	policy    Policy
	log       *slog.Logger

	state          lifecycleState
	pauseRequested bool
	stopRequested  bool

	lastProcessedTick int64
}

// LastProcessedTick returns the indexer's high-water mark (spec §4.4).
func (s *Service) LastProcessedTick() int64 { return s.lastProcessedTick }

// Pause requests the service pause after its current batch completes.
func (s *Service) Pause() { s.pauseRequested = true }

// Resume clears a pending/active pause.
func (s *Service) Resume() { s.pauseRequested = false }

// Stop requests the service drain and stop after its current batch.
func (s *Service) Stop() { s.stopRequested = true }

// IsPaused reports whether the service has completed its boundary
// transition into paused.
func (s *Service) IsPaused() bool { return s.state == statePaused }

// State reports the service's lifecycle state as a status string.
func (s *Service) State() string {
	switch s.state {
	case stateNotStarted:
		return "NOT_STARTED"
	case stateRunning:
		return "started"
	case statePaused:
		return "paused"
	case stateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Run drives the indexer's read/transform/write loop until Stop is
// requested or ctx is canceled. When no new raw rows are available it
// backs off briefly before polling again (spec §5).
func (s *Service) Run(ctx context.Context) error {
	s.state = stateRunning
	for {
		if s.stopRequested {
			s.state = stateStopped
			return nil
		}
		if s.pauseRequested {
			s.state = statePaused
			time.Sleep(10 * time.Millisecond)
			continue
		}
		s.state = stateRunning

		n, err := s.RunBatch(ctx)
		if err != nil {
			return err
		}
		if n == 0 {
			time.Sleep(50 * time.Millisecond)
		}
	}
}

// RunBatch reads up to batchSize raw rows past lastProcessedTick,
// transforms them (optionally in parallel), and commits them in strict
// ascending tick order. It returns the number of rows it committed.
func (s *Service) RunBatch(ctx context.Context) (int, error) {
	rows, err := s.reader.ReadFrom(ctx, s.lastProcessedTick, s.batchSize)
	if err != nil {
		return 0, fmt.Errorf("indexer: reading raw rows: %w", err)
	}
	if len(rows) == 0 {
		return 0, nil
	}

	prepared, committable, err := s.transformBatch(rows)
	if err != nil && s.policy.HaltOnTransformError {
		return 0, err
	}

	if len(prepared) == 0 {
		s.lastProcessedTick = committable
		return 0, nil
	}

	out := make([]store.Row, 0, len(prepared))
	for _, p := range prepared {
		data, merr := json.Marshal(p)
		if merr != nil {
			s.log.Error("indexer: dropping unserializable prepared tick", "tick", p.TickNumber, "error", merr)
			continue
		}
		out = append(out, store.Row{TickNumber: p.TickNumber, Data: string(data)})
	}

	if err := s.writer.WriteBatch(ctx, out); err != nil {
		return 0, fmt.Errorf("indexer: committing batch: %w", err)
	}

	s.lastProcessedTick = committable
	return len(out), nil
}

// transformBatch transforms every row in rows, honoring the ordered-commit
// gate: with ParallelProcessing enabled, rows are transformed concurrently
// by a bounded worker pool but the results returned are always a
// contiguous ascending-tick prefix (spec §4.4 "Ordering guarantee"). It
// returns that prefix plus the new high-water mark it implies, and a
// non-nil error if the first row in the batch failed to transform.
func (s *Service) transformBatch(rows []store.Row) ([]PreparedTickState, int64, error) {
	sort.Slice(rows, func(i, j int) bool { return rows[i].TickNumber < rows[j].TickNumber })

	results := make([]*PreparedTickState, len(rows))
	errs := make([]error, len(rows))

	workers := s.policy.WorkerCount
	if !s.policy.ParallelProcessing || workers < 1 {
		workers = 1
	}

	var wg sync.WaitGroup
	sem := make(chan struct{}, workers)
	for i, row := range rows {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, row store.Row) {
			defer wg.Done()
			defer func() { <-sem }()
			p, err := s.transformOne(row)
			results[i] = p
			errs[i] = err
		}(i, row)
	}
	wg.Wait()

	var out []PreparedTickState
	watermark := s.lastProcessedTick
	for i, err := range errs {
		if err != nil {
			s.log.Error("indexer: transform failed", "tick", rows[i].TickNumber, "error", err)
			if s.policy.HaltOnTransformError {
				if i == 0 {
					return nil, watermark, fmt.Errorf("%w: tick %d: %v", ErrTransform, rows[i].TickNumber, err)
				}
				// Stop at the contiguous prefix before the failure;
				// lastProcessedTick must not advance past it.
				return out, watermark, nil
			}
			// Skip-and-log: leave a gap, keep advancing.
			watermark = rows[i].TickNumber
			continue
		}
		out = append(out, *results[i])
		watermark = rows[i].TickNumber
	}
	return out, watermark, nil
}

func (s *Service) transformOne(row store.Row) (*PreparedTickState, error) {
	raw, err := tickstate.Unmarshal(row.Data)
	if err != nil {
		return nil, fmt.Errorf("deserializing tick %d: %w", row.TickNumber, err)
	}

	prepared := &PreparedTickState{TickNumber: raw.TickNumber}
	for _, o := range raw.Organisms {
		prepared.Organisms = append(prepared.Organisms, s.renderOrganism(o, s.artifacts[o.ProgramID]))
	}
	for _, c := range raw.Cells {
		prepared.Cells = append(prepared.Cells, PreparedCell{
			Pos:      c.Pos.String(),
			Molecule: c.Molecule.String(),
			OwnerID:  c.OwnerID,
		})
	}
	return prepared, nil
}

// renderOrganism produces the display-ready form of one organism's
// registers, stacks, and next-instruction disassembly. art may be nil if no
// artifact was registered for the organism's program, in which case
// disassembly degrades to "?" rather than failing the whole tick.
func (s *Service) renderOrganism(o *organism.Organism, art *artifact.ProgramArtifact) PreparedOrganism {
	p := PreparedOrganism{
		ID:                o.ID,
		ParentID:          o.ParentID,
		BirthTick:         o.BirthTick,
		ProgramID:         o.ProgramID,
		IP:                o.IP.String(),
		DV:                o.DV.String(),
		DRs:               renderValues(o.DRs),
		PRs:               renderValues(o.PRs),
		FPRs:              renderValues(o.FPRs),
		LRs:               renderValues(o.LRs),
		DataStack:         renderValues(o.DataStack),
		LocationStack:     renderCoords(o.LocationStack),
		IsDead:            o.IsDead,
		InstructionFailed: o.InstructionFailed,
		FailureReason:     o.FailureReason,
	}

	var top *organism.ProcFrame
	if len(o.CallStack) > 0 {
		top = &o.CallStack[len(o.CallStack)-1]
	}

	for _, frame := range o.CallStack {
		params := []string(nil)
		if art != nil {
			params = art.FormalParams(frame.ProcName)
		}
		p.CallStack = append(p.CallStack, renderCallFrame(frame, params, o.DRs))
	}

	if art == nil {
		p.NextInstruction = "?"
		return p
	}

	var topParams []string
	if top != nil {
		topParams = art.FormalParams(top.ProcName)
	}
	p.NextInstruction = disassemble(s.is, art, o.IP, o.DV, top, topParams)
	return p
}
