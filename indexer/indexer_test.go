package indexer_test

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/evochora/evochora/artifact"
	"github.com/evochora/evochora/engine"
	"github.com/evochora/evochora/env"
	"github.com/evochora/evochora/geom"
	"github.com/evochora/evochora/indexer"
	"github.com/evochora/evochora/isa"
	"github.com/evochora/evochora/mol"
	"github.com/evochora/evochora/organism"
	"github.com/evochora/evochora/queue"
	"github.com/evochora/evochora/store"
	"github.com/evochora/evochora/tickstate"
)

func TestIndexerPackage(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Indexer Service Suite")
}

var _ = Describe("Service.RunBatch", func() {
	It("transforms and commits raw rows in ascending tick order", func() {
		dir := GinkgoT().TempDir()
		rawW, err := store.OpenWriter(filepath.Join(dir, "raw.db"), "raw_ticks", store.DefaultTuning())
		Expect(err).NotTo(HaveOccurred())
		defer rawW.Close()

		ctx := context.Background()
		for i := int64(0); i < 3; i++ {
			raw := &tickstate.RawTickState{
				TickNumber: i,
				Organisms: []*organism.Organism{
					organism.New(1, 0, 0, "p", geom.Coord{0, 0}, geom.DV{1, 0}, 10, organism.BankSizes{DR: 1}),
				},
			}
			data, err := raw.Marshal()
			Expect(err).NotTo(HaveOccurred())
			Expect(rawW.WriteBatch(ctx, []store.Row{{TickNumber: i, Data: data}})).To(Succeed())
		}

		rawR, err := store.OpenReader(filepath.Join(dir, "raw.db"), "raw_ticks", store.DefaultTuning())
		Expect(err).NotTo(HaveOccurred())
		defer rawR.Close()

		preparedW, err := store.OpenWriter(filepath.Join(dir, "prepared.db"), "prepared_ticks", store.DefaultTuning())
		Expect(err).NotTo(HaveOccurred())
		defer preparedW.Close()

		svc, err := indexer.NewBuilder().
			WithReader(rawR).
			WithWriter(preparedW).
			WithBatchSize(1000).
			Build(ctx)
		Expect(err).NotTo(HaveOccurred())

		n, err := svc.RunBatch(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(n).To(Equal(3))

		count, err := preparedW.Count(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(count).To(Equal(int64(3)))

		max, err := preparedW.MaxTickNumber(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(max).To(Equal(int64(2)))
		Expect(svc.LastProcessedTick()).To(Equal(int64(2)))
	})

	It("restores lastProcessedTick from the prepared store's high-water mark", func() {
		dir := GinkgoT().TempDir()
		preparedW, err := store.OpenWriter(filepath.Join(dir, "prepared.db"), "prepared_ticks", store.DefaultTuning())
		Expect(err).NotTo(HaveOccurred())
		defer preparedW.Close()

		ctx := context.Background()
		body, err := json.Marshal(map[string]any{"tickNumber": 7})
		Expect(err).NotTo(HaveOccurred())
		Expect(preparedW.WriteBatch(ctx, []store.Row{{TickNumber: 7, Data: string(body)}})).To(Succeed())

		rawR, err := store.OpenWriter(filepath.Join(dir, "raw.db"), "raw_ticks", store.DefaultTuning())
		Expect(err).NotTo(HaveOccurred())
		rawR.Close()
		reader, err := store.OpenReader(filepath.Join(dir, "raw.db"), "raw_ticks", store.DefaultTuning())
		Expect(err).NotTo(HaveOccurred())
		defer reader.Close()

		svc, err := indexer.NewBuilder().
			WithReader(reader).
			WithWriter(preparedW).
			Build(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(svc.LastProcessedTick()).To(Equal(int64(7)))
	})

	It("renders a real engine-executed CALL's bound formal parameter end to end", func() {
		dir := GinkgoT().TempDir()
		ctx := context.Background()

		e, err := env.Builder{}.WithShape(geom.Shape{8, 8}).WithToroidal(true).Build()
		Expect(err).NotTo(HaveOccurred())

		art := artifact.New("p")
		art.CallSites[artifact.Key(geom.Coord{0, 0})] = "MOVE"
		art.Procedures["MOVE"] = []string{"dx"}

		q := queue.NewBuilder().Build()
		eng, err := engine.NewBuilder().
			WithEnvironment(e).
			WithQueue(q).
			WithSeed(1).
			WithRegisterBanks(organism.BankSizes{DR: 1, FPR: 1}).
			WithArtifact(art).
			Build()
		Expect(err).NotTo(HaveOccurred())

		Expect(e.Set(geom.Coord{0, 0}, mol.New(mol.CODE, int32(isa.CALL)), 0)).To(Succeed())

		o := organism.New(eng.NextOrganismID(), 0, 0, "p", geom.Coord{0, 0}, geom.DV{1, 0}, 100, organism.BankSizes{DR: 1, FPR: 1})
		o.DRs[0] = organism.ScalarValue(mol.New(mol.DATA, 5))
		eng.AddOrganism(o)

		Expect(eng.RunTick(ctx)).To(Succeed())
		raw, err := q.Take(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(raw.Organisms[0].CallStack).To(HaveLen(1))
		Expect(raw.Organisms[0].CallStack[0].ProcName).To(Equal("MOVE"))

		rawW, err := store.OpenWriter(filepath.Join(dir, "raw.db"), "raw_ticks", store.DefaultTuning())
		Expect(err).NotTo(HaveOccurred())
		defer rawW.Close()
		data, err := raw.Marshal()
		Expect(err).NotTo(HaveOccurred())
		Expect(rawW.WriteBatch(ctx, []store.Row{{TickNumber: raw.TickNumber, Data: data}})).To(Succeed())

		rawR, err := store.OpenReader(filepath.Join(dir, "raw.db"), "raw_ticks", store.DefaultTuning())
		Expect(err).NotTo(HaveOccurred())
		defer rawR.Close()

		preparedW, err := store.OpenWriter(filepath.Join(dir, "prepared.db"), "prepared_ticks", store.DefaultTuning())
		Expect(err).NotTo(HaveOccurred())
		defer preparedW.Close()

		svc, err := indexer.NewBuilder().
			WithReader(rawR).
			WithWriter(preparedW).
			WithArtifact(art).
			Build(ctx)
		Expect(err).NotTo(HaveOccurred())

		n, err := svc.RunBatch(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(n).To(Equal(1))

		preparedR, err := store.OpenReader(filepath.Join(dir, "prepared.db"), "prepared_ticks", store.DefaultTuning())
		Expect(err).NotTo(HaveOccurred())
		defer preparedR.Close()

		rows, err := preparedR.ReadFrom(ctx, -1, 10)
		Expect(err).NotTo(HaveOccurred())
		Expect(rows).To(HaveLen(1))

		var p indexer.PreparedTickState
		Expect(json.Unmarshal([]byte(rows[0].Data), &p)).To(Succeed())
		Expect(p.Organisms).To(HaveLen(1))
		Expect(p.Organisms[0].CallStack).To(HaveLen(1))
		Expect(p.Organisms[0].CallStack[0]).To(ContainSubstring("MOVE"))
		Expect(p.Organisms[0].CallStack[0]).To(ContainSubstring("dx[%DR0]=DATA:5"))
	})
})
