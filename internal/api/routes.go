package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/ignite/campaign-mailer/internal/pkg/logger"
	"github.com/ignite/campaign-mailer/internal/tracking"
)

// SetupRoutes configures all routes. A nil tracking handler or health
// checker leaves those routes unmounted.
func SetupRoutes(h *Handlers, th *tracking.Handler, hc *HealthChecker, allowedOrigins []string) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)

	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/", h.Welcome)
	if hc != nil {
		r.Get("/health", hc.HandleHealth)
	}

	r.Route("/clients", func(r chi.Router) {
		r.Post("/", h.CreateClient)
		r.Get("/", h.ListClients)
		r.Delete("/{id}", h.DeleteClient)
	})

	r.Route("/campaign", func(r chi.Router) {
		r.Post("/", h.CreateCampaign)
		r.Get("/", h.ListCampaigns)
		r.Get("/{id}", h.GetCampaign)
		r.Delete("/{id}", h.DeleteCampaign)
	})

	r.Route("/contact-lists", func(r chi.Router) {
		r.Post("/", h.CreateContactList)
		r.Get("/", h.ListContactLists)
		r.Delete("/{id}", h.DeleteContactList)
	})

	r.Route("/investors", func(r chi.Router) {
		r.Post("/", h.CreateInvestors)
		r.Get("/", h.ListInvestors)
		r.Put("/{id}", h.UpdateInvestor)
		r.Delete("/{id}", h.DeleteInvestor)
	})

	r.Post("/upload-csv", h.UploadCSV)
	r.Get("/stats", h.Stats)

	r.Post("/send-email", h.SendEmail)
	r.Get("/email-stats", h.ListEmailStats)
	r.Get("/email-stats/{campaignId}", h.GetEmailStats)

	if th != nil {
		th.Mount(r)
	}

	return r
}

// SetupTrackingRoutes serves only the open pixel, the provider webhook and
// the health check, for running the tracking edge on its own host.
func SetupTrackingRoutes(th *tracking.Handler, hc *HealthChecker) *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)

	if hc != nil {
		r.Get("/health", hc.HandleHealth)
	}
	th.Mount(r)
	return r
}

// requestLogger logs one line per request through the structured logger.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start).Round(time.Millisecond),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
