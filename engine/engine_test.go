package engine_test

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/evochora/evochora/artifact"
	"github.com/evochora/evochora/engine"
	"github.com/evochora/evochora/env"
	"github.com/evochora/evochora/geom"
	"github.com/evochora/evochora/isa"
	"github.com/evochora/evochora/mol"
	"github.com/evochora/evochora/organism"
	"github.com/evochora/evochora/queue"
)

func buildEngine() (*engine.Engine, *queue.TickQueue) {
	e, err := env.Builder{}.WithShape(geom.Shape{8, 8}).WithToroidal(true).Build()
	Expect(err).NotTo(HaveOccurred())

	q := queue.NewBuilder().Build()
	eng, err := engine.NewBuilder().
		WithEnvironment(e).
		WithQueue(q).
		WithSeed(42).
		WithRegisterBanks(organism.BankSizes{DR: 2}).
		Build()
	Expect(err).NotTo(HaveOccurred())
	return eng, q
}

func placeProgram(e *env.Environment, at geom.Coord, op isa.Opcode) {
	_ = e.Set(at, mol.New(mol.CODE, int32(op)), 0)
}

func digest(v interface{}) string {
	b, err := json.Marshal(v)
	Expect(err).NotTo(HaveOccurred())
	sum := sha256.Sum256(b)
	return string(sum[:])
}

var _ = Describe("Engine", func() {
	It("is deterministic across two independent runs from the same seed", func() {
		run := func() string {
			eng, q := buildEngine()
			env := eng.Environment()
			placeProgram(env, geom.Coord{0, 0}, isa.NOP)

			o := organism.New(eng.NextOrganismID(), 0, 0, "p", geom.Coord{0, 0}, geom.DV{1, 0}, 10, organism.BankSizes{DR: 2})
			eng.AddOrganism(o)

			ctx := context.Background()
			Expect(eng.RunTick(ctx)).To(Succeed())
			raw, err := q.Take(ctx)
			Expect(err).NotTo(HaveOccurred())
			return digest(raw)
		}

		Expect(run()).To(Equal(run()))
	})

	It("resolves a write conflict in favor of the lowest organism id", func() {
		eng, q := buildEngine()
		e := eng.Environment()
		placeProgram(e, geom.Coord{0, 0}, isa.POKE)
		placeProgram(e, geom.Coord{2, 0}, isa.POKE)

		o1 := organism.New(eng.NextOrganismID(), 0, 0, "p", geom.Coord{0, 0}, geom.DV{1, 0}, 10, organism.BankSizes{DR: 2})
		o1.DRs[0] = organism.ScalarValue(mol.New(mol.DATA, 111))
		o2 := organism.New(eng.NextOrganismID(), 0, 0, "p", geom.Coord{2, 0}, geom.DV{-1, 0}, 10, organism.BankSizes{DR: 2})
		o2.DRs[0] = organism.ScalarValue(mol.New(mol.DATA, 222))

		eng.AddOrganism(o2)
		eng.AddOrganism(o1)

		ctx := context.Background()
		Expect(eng.RunTick(ctx)).To(Succeed())

		got, _, err := e.Get(geom.Coord{1, 0})
		Expect(err).NotTo(HaveOccurred())
		Expect(got.Value()).To(Equal(int32(111)))

		raw, err := q.Take(ctx)
		Expect(err).NotTo(HaveOccurred())

		var loser *organism.Organism
		for _, o := range raw.Organisms {
			if o.ID == o2.ID {
				loser = o
			}
		}
		Expect(loser).NotTo(BeNil())
		Expect(loser.InstructionFailed).To(BeTrue())
	})

	It("resolves CALL against a registered artifact and returns past it, not back into it, on RET", func() {
		e, err := env.Builder{}.WithShape(geom.Shape{8, 8}).WithToroidal(true).Build()
		Expect(err).NotTo(HaveOccurred())
		q := queue.NewBuilder().Build()

		art := artifact.New("p")
		art.CallSites[artifact.Key(geom.Coord{0, 0})] = "MOVE"
		art.Procedures["MOVE"] = []string{"dx"}

		eng, err := engine.NewBuilder().
			WithEnvironment(e).
			WithQueue(q).
			WithSeed(1).
			WithRegisterBanks(organism.BankSizes{DR: 1, FPR: 1}).
			WithArtifact(art).
			Build()
		Expect(err).NotTo(HaveOccurred())

		placeProgram(e, geom.Coord{0, 0}, isa.CALL)
		placeProgram(e, geom.Coord{1, 0}, isa.RET)

		o := organism.New(eng.NextOrganismID(), 0, 0, "p", geom.Coord{0, 0}, geom.DV{1, 0}, 1000, organism.BankSizes{DR: 1, FPR: 1})
		eng.AddOrganism(o)

		ctx := context.Background()

		Expect(eng.RunTick(ctx)).To(Succeed())
		raw, err := q.Take(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(raw.Organisms).To(HaveLen(1))
		Expect(raw.Organisms[0].InstructionFailed).To(BeFalse())
		Expect(raw.Organisms[0].CallStack).To(HaveLen(1))
		Expect(raw.Organisms[0].CallStack[0].ProcName).To(Equal("MOVE"))
		Expect(raw.Organisms[0].IP).To(Equal(geom.Coord{1, 0}))

		Expect(eng.RunTick(ctx)).To(Succeed())
		raw, err = q.Take(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(raw.Organisms[0].InstructionFailed).To(BeFalse())
		Expect(raw.Organisms[0].CallStack).To(BeEmpty())
		Expect(raw.Organisms[0].IP).NotTo(Equal(geom.Coord{0, 0}))
	})

	It("reaches Paused only at a tick boundary", func() {
		eng, q := buildEngine()
		e := eng.Environment()
		placeProgram(e, geom.Coord{0, 0}, isa.NOP)
		o := organism.New(eng.NextOrganismID(), 0, 0, "p", geom.Coord{0, 0}, geom.DV{1, 0}, 1000, organism.BankSizes{DR: 2})
		eng.AddOrganism(o)

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		go func() {
			_ = eng.Run(ctx)
		}()

		go func() {
			for {
				if _, err := q.Take(ctx); err != nil {
					return
				}
			}
		}()

		eng.Pause()
		Eventually(eng.IsPaused, time.Second).Should(BeTrue())
	})

	It("stops cleanly and Run returns", func() {
		eng, q := buildEngine()
		e := eng.Environment()
		placeProgram(e, geom.Coord{0, 0}, isa.NOP)
		o := organism.New(eng.NextOrganismID(), 0, 0, "p", geom.Coord{0, 0}, geom.DV{1, 0}, 1000, organism.BankSizes{DR: 2})
		eng.AddOrganism(o)

		ctx := context.Background()
		done := make(chan error, 1)
		go func() { done <- eng.Run(ctx) }()

		go func() {
			for {
				if _, err := q.Take(ctx); err != nil {
					return
				}
			}
		}()

		eng.Stop()
		Eventually(done, time.Second).Should(Receive(BeNil()))
	})
})
