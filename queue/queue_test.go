package queue_test

import (
	"context"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/evochora/evochora/queue"
	"github.com/evochora/evochora/tickstate"
)

func tick(n int64) *tickstate.RawTickState {
	return &tickstate.RawTickState{TickNumber: n}
}

var _ = Describe("TickQueue", func() {
	It("delivers messages FIFO", func() {
		q := queue.NewBuilder().Build()
		ctx := context.Background()

		Expect(q.Put(ctx, tick(0))).To(Succeed())
		Expect(q.Put(ctx, tick(1))).To(Succeed())

		m0, err := q.Take(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(m0.TickNumber).To(Equal(int64(0)))

		m1, err := q.Take(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(m1.TickNumber).To(Equal(int64(1)))
	})

	It("blocks Put under byte pressure and unblocks after a Take", func() {
		q := queue.NewBuilder().WithBudgetBytes(1).Build()
		ctx := context.Background()

		Expect(q.Put(ctx, tick(0))).To(Succeed())

		putDone := make(chan error, 1)
		go func() {
			putDone <- q.Put(ctx, tick(1))
		}()

		Consistently(putDone, 100*time.Millisecond).ShouldNot(Receive())

		_, err := q.Take(ctx)
		Expect(err).NotTo(HaveOccurred())

		Eventually(putDone, time.Second).Should(Receive(BeNil()))
	})

	It("fails Put on a closed queue and drains remaining Takes", func() {
		q := queue.NewBuilder().Build()
		ctx := context.Background()

		Expect(q.Put(ctx, tick(0))).To(Succeed())
		q.Close()

		Expect(q.Put(ctx, tick(1))).To(MatchError(queue.ErrClosed))

		m, err := q.Take(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(m.TickNumber).To(Equal(int64(0)))

		_, err = q.Take(ctx)
		Expect(err).To(MatchError(queue.ErrDrained))
	})

	It("reports size and supports non-blocking Poll", func() {
		q := queue.NewBuilder().Build()
		ctx := context.Background()

		_, ok := q.Poll()
		Expect(ok).To(BeFalse())

		Expect(q.Put(ctx, tick(0))).To(Succeed())
		Expect(q.Size()).To(Equal(1))

		m, ok := q.Poll()
		Expect(ok).To(BeTrue())
		Expect(m.TickNumber).To(Equal(int64(0)))
		Expect(q.Size()).To(Equal(0))
	})
})
