package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/angelmondragon/craftstock-backend/api/controllers"
	"github.com/angelmondragon/craftstock-backend/api/middleware"
	"github.com/angelmondragon/craftstock-backend/internal/app"
	"github.com/angelmondragon/craftstock-backend/pkg/config"
	"github.com/angelmondragon/craftstock-backend/pkg/logger"
	"github.com/angelmondragon/craftstock-backend/pkg/redis"
)

// Dependencies are the collaborators the HTTP surface needs beyond the domain services.
type Dependencies struct {
	Services    *app.Services
	Idempotency redis.IdempotencyStore
	Readiness   map[string]controllers.Pinger
	Metrics     http.Handler
}

func NewRouter(cfg *config.Config, logg *logger.Logger, deps Dependencies) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(cfg.App.CORSOrigins),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, deps.Readiness))
	})
	if deps.Metrics != nil {
		r.Handle("/metrics", deps.Metrics)
	}

	svc := deps.Services
	if svc == nil {
		svc = &app.Services{}
	}
	metadataReplay := middleware.Idempotency(deps.Idempotency, logg, middleware.MetadataReplayTTL)
	stockReplay := middleware.Idempotency(deps.Idempotency, logg, middleware.StockReplayTTL)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))

		r.Get("/whoami", controllers.WhoAmI(logg))
		r.Post("/costing/preview", controllers.CostingPreview(svc.Costing, logg))

		r.Route("/batches", func(r chi.Router) {
			r.With(metadataReplay).Post("/", controllers.RegisterBatch(svc.Batches, logg))
			r.Get("/hierarchy", controllers.HierarchyTree(svc.Hierarchy, logg))
			r.Get("/hierarchy/leaf", controllers.HierarchyLeaf(svc.Hierarchy, logg))
			r.Get("/{batchId}", controllers.GetBatch(svc.Batches, logg))
		})

		r.Route("/production", func(r chi.Router) {
			r.With(stockReplay).Post("/", controllers.ProduceRun(svc.Production, logg))
			r.Post("/feasibility", controllers.ProductionFeasibility(svc.Production, logg))
		})

		r.Route("/skus/{skuId}", func(r chi.Router) {
			r.Get("/", controllers.GetSku(svc.Skus, logg))
			r.With(metadataReplay).Patch("/", controllers.UpdateSku(svc.Skus, logg))
			r.Get("/history", controllers.SkuHistory(svc.Inventory, logg))
			r.Get("/history/{entryId}", controllers.SkuEntry(svc.Inventory, logg))
			r.Get("/production-records", controllers.SkuProductionRecords(svc.Production, logg))
			r.Get("/changes", controllers.SkuChanges(svc.Skus, logg))
			r.Get("/verify", controllers.SkuVerify(svc.Inventory, logg))

			r.Group(func(r chi.Router) {
				r.Use(stockReplay)
				r.Post("/sell", controllers.SkuSell(svc.Inventory, logg))
				r.Post("/destroy", controllers.SkuDestroy(svc.Inventory, logg))
				r.Post("/refund", controllers.SkuRefund(svc.Inventory, logg))
				r.Post("/adjust", controllers.SkuAdjust(svc.Inventory, logg))
			})
		})
	})

	return r
}
