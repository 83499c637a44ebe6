package queue_test

import (
	"context"
	"testing"
	"time"

	queue "github.com/avalem/pricewatch/internal/adapters/mq/queue"
	"github.com/avalem/pricewatch/internal/domain/model"
	. "github.com/smartystreets/goconvey/convey"
)

func event(id string) queue.Event {
	return model.PriceEvent{
		ProductID:   id,
		Marketplace: model.MarketplaceAmazon,
		OldPrice:    10_000,
		NewPrice:    8_500,
		Direction:   model.DirectionDrop,
	}
}

func TestInMemoryQueue(t *testing.T) {
	Convey("Given an in-memory event queue", t, func() {
		ctx := context.Background()

		Convey("When enqueuing within capacity", func() {
			q := queue.NewInMemoryQueue(queue.WithCapacity(4))

			So(q.Enqueue(ctx, event("p1")), ShouldBeTrue)
			So(q.Enqueue(ctx, event("p2")), ShouldBeTrue)

			Convey("Then Len reflects the queued events", func() {
				So(q.Len(ctx), ShouldEqual, 2)
			})

			Convey("And Dequeue yields them in order", func() {
				out := q.Dequeue(ctx)
				So((<-out).ProductID, ShouldEqual, "p1")
				So((<-out).ProductID, ShouldEqual, "p2")
			})
		})

		Convey("When the queue is full", func() {
			q := queue.NewInMemoryQueue(queue.WithCapacity(1))
			So(q.Enqueue(ctx, event("p1")), ShouldBeTrue)

			Convey("Then further enqueues are rejected without blocking", func() {
				So(q.Enqueue(ctx, event("p2")), ShouldBeFalse)
				So(q.Len(ctx), ShouldEqual, 1)
			})
		})

		Convey("When the queue is closed", func() {
			q := queue.NewInMemoryQueue(queue.WithCapacity(4))
			So(q.Enqueue(ctx, event("p1")), ShouldBeTrue)
			So(q.Close(), ShouldBeNil)

			Convey("Then new enqueues are rejected", func() {
				So(q.IsClosed(), ShouldBeTrue)
				So(q.Enqueue(ctx, event("p2")), ShouldBeFalse)
			})

			Convey("And already queued events stay consumable", func() {
				out := q.Dequeue(ctx)
				So((<-out).ProductID, ShouldEqual, "p1")

				_, open := <-out
				So(open, ShouldBeFalse)
			})

			Convey("And closing again is a no-op", func() {
				So(q.Close(), ShouldBeNil)
			})
		})

		Convey("When the consumer context is cancelled", func() {
			q := queue.NewInMemoryQueue(queue.WithCapacity(4))
			consumeCtx, cancel := context.WithCancel(ctx)

			out := q.Dequeue(consumeCtx)
			cancel()

			Convey("Then the dequeue channel closes without delivery", func() {
				So(q.Enqueue(ctx, event("p1")), ShouldBeTrue)

				// Give the consumer goroutine time to observe the cancel.
				time.Sleep(50 * time.Millisecond)

				select {
				case _, open := <-out:
					So(open, ShouldBeFalse)
				case <-time.After(time.Second):
					t.Fatal("dequeue channel did not close after cancel")
				}
			})
		})
	})
}
