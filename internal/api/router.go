package api

import (
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

type RouterConfig struct {
	AllowedOrigins []string
	RequestTimeout time.Duration
}

func NewRouter(h *Handlers, cfg RouterConfig) chi.Router {
	if len(cfg.AllowedOrigins) == 0 {
		cfg.AllowedOrigins = []string{"*"}
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 60 * time.Second
	}

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(cfg.RequestTimeout))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		ExposedHeaders:   []string{"Link", "Content-Disposition"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/health", h.Health)

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/page", func(r chi.Router) {
			r.Post("/check", h.CheckPage)
			r.Post("/extract", h.ExtractPage)
			r.Post("/navigate", h.Navigate)
			r.Post("/analyze", h.AnalyzePage)
			r.Post("/message", h.Message)
		})

		r.Get("/debug", h.GetDebugInfo)
		r.Delete("/debug", h.FlushDebugInfo)

		r.Get("/settings", h.GetSettings)
		r.Put("/settings", h.UpdateSettings)

		r.Route("/products/{site}", func(r chi.Router) {
			r.Get("/", h.GetProducts)
			r.Delete("/", h.ClearProducts)
			r.Get("/export.{format}", h.DownloadExport)
			r.Post("/export", h.SaveExport)
		})
	})

	r.Route("/system/product", func(r chi.Router) {
		r.Post("/", h.SaveProducts)
		r.Get("/list", h.ListProducts)
	})

	return r
}
