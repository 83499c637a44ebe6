package repository_test

import (
	"context"
	"testing"
	"time"

	repository "github.com/avalem/pricewatch/internal/adapters/repository"
	"github.com/avalem/pricewatch/internal/domain/model"
	. "github.com/smartystreets/goconvey/convey"
)

func TestMemoryStores(t *testing.T) {
	ctx := context.Background()

	Convey("Given an in-memory store bundle", t, func() {
		stores := repository.NewMemoryStores()

		Convey("When managing tracked products", func() {
			p1 := model.TrackedProduct{ID: "p1", Name: "Keyboard",
				ExternalIDs: map[model.Marketplace]string{model.MarketplaceAmazon: "B001"}}
			p2 := model.TrackedProduct{ID: "p2", Name: "Mouse"}

			So(stores.Products.Put(ctx, p1), ShouldBeNil)
			So(stores.Products.Put(ctx, p2), ShouldBeNil)

			Convey("Then List returns them ordered by id", func() {
				products, err := stores.Products.List(ctx)
				So(err, ShouldBeNil)
				So(products, ShouldHaveLength, 2)
				So(products[0].ID, ShouldEqual, "p1")
				So(products[1].ID, ShouldEqual, "p2")
			})

			Convey("And Get returns the stored product", func() {
				got, err := stores.Products.Get(ctx, "p1")
				So(err, ShouldBeNil)
				So(got.Name, ShouldEqual, "Keyboard")
			})

			Convey("And Get on an unknown id reports not found", func() {
				_, err := stores.Products.Get(ctx, "nope")
				So(err, ShouldWrap, repository.ErrNotFound)
			})

			Convey("And Delete removes the product", func() {
				So(stores.Products.Delete(ctx, "p1"), ShouldBeNil)
				_, err := stores.Products.Get(ctx, "p1")
				So(err, ShouldWrap, repository.ErrNotFound)
			})
		})

		Convey("When replacing baselines for a product", func() {
			base := model.PriceBaseline{ProductID: "p1", Marketplace: model.MarketplaceAmazon, Price: 10_000}
			So(stores.Baselines.ReplaceForProduct(ctx, "p1", []model.PriceBaseline{base}), ShouldBeNil)

			Convey("Then GetByProduct returns them keyed by marketplace", func() {
				got, err := stores.Baselines.GetByProduct(ctx, "p1")
				So(err, ShouldBeNil)
				So(got[model.MarketplaceAmazon].Price, ShouldEqual, 10_000)
			})

			Convey("And unlisted marketplaces keep their baseline", func() {
				shopee := model.PriceBaseline{ProductID: "p1", Marketplace: model.MarketplaceShopee, Price: 9_000}
				So(stores.Baselines.ReplaceForProduct(ctx, "p1", []model.PriceBaseline{shopee}), ShouldBeNil)

				got, err := stores.Baselines.GetByProduct(ctx, "p1")
				So(err, ShouldBeNil)
				So(got, ShouldHaveLength, 2)
				So(got[model.MarketplaceAmazon].Price, ShouldEqual, 10_000)
			})

			Convey("And DeleteForProduct clears all monitoring state", func() {
				So(stores.Baselines.DeleteForProduct(ctx, "p1"), ShouldBeNil)
				got, err := stores.Baselines.GetByProduct(ctx, "p1")
				So(err, ShouldBeNil)
				So(got, ShouldBeEmpty)
			})
		})

		Convey("When managing subscriptions", func() {
			So(stores.Subscriptions.Put(ctx, model.Subscription{UserID: "u2", ProductID: "p1", Phone: "+2"}), ShouldBeNil)
			So(stores.Subscriptions.Put(ctx, model.Subscription{UserID: "u1", ProductID: "p1", Phone: "+1"}), ShouldBeNil)

			Convey("Then ListByProduct returns them ordered by user", func() {
				subs, err := stores.Subscriptions.ListByProduct(ctx, "p1")
				So(err, ShouldBeNil)
				So(subs, ShouldHaveLength, 2)
				So(subs[0].UserID, ShouldEqual, "u1")
			})

			Convey("And Put replaces a (user, product) pair in place", func() {
				So(stores.Subscriptions.Put(ctx, model.Subscription{UserID: "u1", ProductID: "p1", CeilingPrice: 5_000}), ShouldBeNil)
				subs, _ := stores.Subscriptions.ListByProduct(ctx, "p1")
				So(subs, ShouldHaveLength, 2)
				So(subs[0].CeilingPrice, ShouldEqual, 5_000)
			})
		})

		Convey("When creating delivery records", func() {
			rec := model.DeliveryRecord{EventKey: "e1", SubscriberID: "u1", Status: model.DeliveryAttempted}

			created, err := stores.Deliveries.Create(ctx, rec)
			So(err, ShouldBeNil)
			So(created, ShouldBeTrue)

			Convey("Then a second create for the same pair is rejected", func() {
				again, err := stores.Deliveries.Create(ctx, rec)
				So(err, ShouldBeNil)
				So(again, ShouldBeFalse)
			})

			Convey("And Update moves the record to its terminal status", func() {
				rec.Status = model.DeliverySent
				rec.Attempts = 2
				So(stores.Deliveries.Update(ctx, rec), ShouldBeNil)

				got, err := stores.Deliveries.Get(ctx, "e1", "u1")
				So(err, ShouldBeNil)
				So(got.Status, ShouldEqual, model.DeliverySent)
				So(got.Attempts, ShouldEqual, 2)
			})

			Convey("And Update on an absent record reports not found", func() {
				missing := model.DeliveryRecord{EventKey: "e9", SubscriberID: "u9"}
				So(stores.Deliveries.Update(ctx, missing), ShouldWrap, repository.ErrNotFound)
			})
		})

		Convey("When recording cycle runs", func() {
			Convey("And no cycle has ever run", func() {
				_, err := stores.Cycles.Last(ctx)
				So(err, ShouldWrap, repository.ErrNotFound)
			})

			Convey("And several cycles are recorded", func() {
				t0 := time.Now()
				So(stores.Cycles.Put(ctx, model.CycleRun{ID: "c1", StartedAt: t0, Status: model.CycleCompleted}), ShouldBeNil)
				So(stores.Cycles.Put(ctx, model.CycleRun{ID: "c2", StartedAt: t0.Add(time.Minute), Status: model.CycleRunning}), ShouldBeNil)

				Convey("Then Last returns the most recently started", func() {
					last, err := stores.Cycles.Last(ctx)
					So(err, ShouldBeNil)
					So(last.ID, ShouldEqual, "c2")
				})

				Convey("And updating a run in place keeps it the latest", func() {
					So(stores.Cycles.Put(ctx, model.CycleRun{ID: "c2", StartedAt: t0.Add(time.Minute), Status: model.CycleCompleted}), ShouldBeNil)
					last, _ := stores.Cycles.Last(ctx)
					So(last.Status, ShouldEqual, model.CycleCompleted)
				})
			})
		})
	})
}
