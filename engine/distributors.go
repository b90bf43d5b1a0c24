package engine

import (
	"math/rand"

	"github.com/evochora/evochora/env"
	"github.com/evochora/evochora/geom"
	"github.com/evochora/evochora/mol"
)

// UniformEnergySource is the reference EnergyDistributor: each tick it
// scatters a fixed number of ENERGY molecules onto uniformly-random empty
// cells. It is deterministic given the engine's seeded rng (spec §4.1
// determinism contract).
type UniformEnergySource struct {
	PerTick int
	Value   int32
}

// NewUniformEnergySource returns a UniformEnergySource depositing perTick
// ENERGY molecules of the given value each tick.
func NewUniformEnergySource(perTick int, value int32) *UniformEnergySource {
	return &UniformEnergySource{PerTick: perTick, Value: value}
}

// Distribute implements EnergyDistributor.
func (u *UniformEnergySource) Distribute(e *env.Environment, tick int64, rng *rand.Rand) {
	shape := e.Shape()
	if len(shape) == 0 {
		return
	}
	for i := 0; i < u.PerTick; i++ {
		c := randomCoord(shape, rng)
		existing, _, err := e.Get(c)
		if err != nil || !existing.IsEmpty() {
			continue
		}
		_ = e.Set(c, mol.New(mol.ENERGY, u.Value), 0)
	}
}

func randomCoord(shape geom.Shape, rng *rand.Rand) geom.Coord {
	c := make(geom.Coord, len(shape))
	for i, dim := range shape {
		if dim <= 0 {
			continue
		}
		c[i] = rng.Int31n(dim)
	}
	return c
}
