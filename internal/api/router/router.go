package router

import (
	"context"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/wolfman30/clinic-scheduler/internal/availability"
	"github.com/wolfman30/clinic-scheduler/internal/bookings"
	httpmiddleware "github.com/wolfman30/clinic-scheduler/internal/http/middleware"
	"github.com/wolfman30/clinic-scheduler/internal/http/respond"
	"github.com/wolfman30/clinic-scheduler/internal/payments"
	"github.com/wolfman30/clinic-scheduler/internal/provisional"
	"github.com/wolfman30/clinic-scheduler/internal/scheduling"
	"github.com/wolfman30/clinic-scheduler/pkg/logging"
)

// ReadinessCheck reports whether a dependency can serve traffic.
type ReadinessCheck func(ctx context.Context) error

// Config holds router configuration
type Config struct {
	Logger             *logging.Logger
	Availability       *availability.Handler
	Bookings           *bookings.Handler
	Holds              *provisional.Handler
	Scheduling         *scheduling.Handler
	PayHereWebhook     *payments.WebhookHandler
	ReadinessChecks    map[string]ReadinessCheck
	MetricsHandler     http.Handler
	CORSAllowedOrigins []string
	// WebhookRateLimit is requests per minute per client IP on the
	// payment webhook; zero disables the limit.
	WebhookRateLimit int
}

// New creates a new Chi router with all routes configured
func New(cfg *Config) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	if len(cfg.CORSAllowedOrigins) > 0 {
		r.Use(httpmiddleware.CORS(cfg.CORSAllowedOrigins))
	}
	r.Use(httpmiddleware.RequestLogger(cfg.Logger))

	r.Get("/health", health)
	r.Get("/ready", ready(cfg.ReadinessChecks))
	if cfg.MetricsHandler != nil {
		r.Handle("/metrics", cfg.MetricsHandler)
	}

	if cfg.PayHereWebhook != nil {
		r.With(httpmiddleware.RateLimitByIP(cfg.WebhookRateLimit, time.Minute)).
			Post("/webhooks/payhere", cfg.PayHereWebhook.Handle)
	}

	r.Route("/api", func(api chi.Router) {
		if cfg.Availability != nil {
			api.Get("/availability", cfg.Availability.Get)
			api.Post("/availability", cfg.Availability.Post)
		}
		api.Route("/bookings", func(b chi.Router) {
			if cfg.Holds != nil {
				b.Post("/holds", cfg.Holds.Create)
			}
			if cfg.Bookings != nil {
				b.Post("/", cfg.Bookings.Create)
				b.Get("/{bookingID}", cfg.Bookings.Get)
			}
		})
		if cfg.Scheduling != nil {
			api.Mount("/schedule-requests", cfg.Scheduling.RequestRoutes())
			api.Mount("/schedule-cancellations", cfg.Scheduling.CancellationRoutes())
			api.Route("/doctors/{doctorID}", cfg.Scheduling.DoctorRoutes)
		}
	})

	return r
}

func health(w http.ResponseWriter, r *http.Request) {
	respond.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func ready(checks map[string]ReadinessCheck) http.HandlerFunc {
	names := make([]string, 0, len(checks))
	for name := range checks {
		names = append(names, name)
	}
	sort.Strings(names)

	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		status := http.StatusOK
		results := make(map[string]string, len(names))
		for _, name := range names {
			if err := checks[name](ctx); err != nil {
				status = http.StatusServiceUnavailable
				results[name] = "unavailable"
				continue
			}
			results[name] = "ok"
		}
		body := map[string]any{"status": "ok", "checks": results}
		if status != http.StatusOK {
			body["status"] = "unavailable"
		}
		respond.JSON(w, status, body)
	}
}
