// Package env implements the N-dimensional molecular environment: two
// parallel flat arrays (molecules and owner ids) addressed by coordinate,
// with toroidal or bounded edge semantics.
//
// The Environment is owned exclusively by the engine (spec §5); every other
// component only ever sees deep-copied snapshots produced by Snapshot,
// never a live reference.
package env

import (
	"errors"

	"github.com/evochora/evochora/geom"
	"github.com/evochora/evochora/mol"
)

// ErrOutOfRange is returned by bounded-world accesses outside the shape.
var ErrOutOfRange = errors.New("env: coordinate out of range")

// Environment is the N-dimensional molecular grid plus its parallel owner
// grid. The two arrays are always the same length and indexed identically
// (spec §3 invariant).
type Environment struct {
	shape    geom.Shape
	toroidal bool

	molecules []mol.Molecule
	owners    []int64
}

// Builder constructs an Environment, mirroring the teacher's chained
// DeviceBuilder idiom in config/config.go.
type Builder struct {
	shape    geom.Shape
	toroidal bool
}

// NewBuilder returns an empty environment Builder.
func NewBuilder() Builder {
	return Builder{}
}

// WithShape sets the per-axis extents of the environment.
func (b Builder) WithShape(shape geom.Shape) Builder {
	b.shape = shape
	return b
}

// WithToroidal sets whether the environment wraps at its edges.
func (b Builder) WithToroidal(toroidal bool) Builder {
	b.toroidal = toroidal
	return b
}

// Build allocates the environment's backing arrays.
func (b Builder) Build() (*Environment, error) {
	if len(b.shape) == 0 {
		return nil, errors.New("env: shape must have at least one dimension")
	}
	for _, d := range b.shape {
		if d <= 0 {
			return nil, errors.New("env: shape extents must be positive")
		}
	}
	n := b.shape.Volume()
	return &Environment{
		shape:     b.shape,
		toroidal:  b.toroidal,
		molecules: make([]mol.Molecule, n),
		owners:    make([]int64, n),
	}, nil
}

// Shape returns the environment's per-axis extents.
func (e *Environment) Shape() geom.Shape { return e.shape }

// Toroidal reports whether the environment wraps at its edges.
func (e *Environment) Toroidal() bool { return e.toroidal }

// resolve applies the toroidal/bounded addressing rule and returns the flat
// index for c.
func (e *Environment) resolve(c geom.Coord) (int64, error) {
	if len(c) != len(e.shape) {
		return 0, ErrOutOfRange
	}
	resolved := make(geom.Coord, len(c))
	for i, v := range c {
		extent := e.shape[i]
		if e.toroidal {
			resolved[i] = ((v % extent) + extent) % extent
		} else if v < 0 || v >= extent {
			return 0, ErrOutOfRange
		} else {
			resolved[i] = v
		}
	}
	return geom.Index(resolved, e.shape), nil
}

// Get returns the molecule and owner id at c.
func (e *Environment) Get(c geom.Coord) (mol.Molecule, int64, error) {
	idx, err := e.resolve(c)
	if err != nil {
		return 0, 0, err
	}
	return e.molecules[idx], e.owners[idx], nil
}

// Set writes a molecule and its owner id at c.
func (e *Environment) Set(c geom.Coord, m mol.Molecule, ownerID int64) error {
	idx, err := e.resolve(c)
	if err != nil {
		return err
	}
	e.molecules[idx] = m
	e.owners[idx] = ownerID
	return nil
}

// Step resolves the next coordinate from c along d, honoring the
// environment's toroidal/bounded policy (spec §4.1 "Addressing").
func (e *Environment) Step(c geom.Coord, d geom.DV) (geom.Coord, bool) {
	return geom.Step(c, d, e.shape, e.toroidal)
}

// CellSnapshot is one non-empty cell as carried in a RawTickState.
type CellSnapshot struct {
	Pos      geom.Coord   `json:"pos"`
	Molecule mol.Molecule `json:"molecule"`
	OwnerID  int64        `json:"ownerId"`
}

// Snapshot deep-copies every non-empty cell of the environment, in
// ascending flat-index order, for inclusion in a RawTickState. The
// returned cells never alias the live environment (spec §5).
func (e *Environment) Snapshot() []CellSnapshot {
	var out []CellSnapshot
	coord := make(geom.Coord, len(e.shape))
	for idx := int64(0); idx < int64(len(e.molecules)); idx++ {
		if e.molecules[idx].IsEmpty() {
			continue
		}
		unflatten(idx, e.shape, coord)
		out = append(out, CellSnapshot{
			Pos:      coord.Clone(),
			Molecule: e.molecules[idx],
			OwnerID:  e.owners[idx],
		})
	}
	return out
}

// unflatten is the inverse of geom.Index.
func unflatten(idx int64, shape geom.Shape, out geom.Coord) {
	for i := len(shape) - 1; i >= 0; i-- {
		out[i] = int32(idx % int64(shape[i]))
		idx /= int64(shape[i])
	}
}
