package router

import (
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kiwari-pos/splitbill/internal/config"
	"github.com/kiwari-pos/splitbill/internal/database"
	"github.com/kiwari-pos/splitbill/internal/enum"
	"github.com/kiwari-pos/splitbill/internal/handler"
	mw "github.com/kiwari-pos/splitbill/internal/middleware"
	"github.com/kiwari-pos/splitbill/internal/service"
	"github.com/kiwari-pos/splitbill/internal/ws"
)

// New creates a Chi router with all application routes wired up.
// kitchen may be nil when no broker is configured.
func New(cfg *config.Config, queries *database.Queries, pool *pgxpool.Pool, hub *ws.Hub, kitchen service.KitchenNotifier) chi.Router {
	r := chi.NewRouter()

	// Standard middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300, // 5 minutes
	}))

	// Public routes
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	})

	// WebSocket route (handles auth internally via query param)
	r.Get("/ws/outlets/{oid}/orders", func(w http.ResponseWriter, r *http.Request) {
		ws.ServeWS(hub, cfg.JWTSecret, w, r)
	})

	// Protected routes (require authentication)
	r.Group(func(r chi.Router) {
		r.Use(mw.Authenticate(cfg.JWTSecret))
		r.Use(mw.RequireRole(enum.UserRoleOwner, enum.UserRoleManager, enum.UserRoleCashier, enum.UserRoleWaiter))

		r.Route("/outlets/{oid}", func(r chi.Router) {
			r.Use(mw.RequireOutlet)

			splitService := service.NewSplitService(
				pool,
				queries,
				func(db database.DBTX) service.SplitStore {
					return database.New(db)
				},
				hub,
				kitchen,
			)
			splitHandler := handler.NewSplitHandler(splitService)
			r.Route("/orders", splitHandler.RegisterRoutes)
		})
	})

	log.Println("Router initialized with split bill handlers")
	return r
}
