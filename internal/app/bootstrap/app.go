package bootstrap

import (
	"net/http"

	"github.com/redis/go-redis/v9"

	"github.com/wolfman30/clinic-scheduler/internal/api/router"
	"github.com/wolfman30/clinic-scheduler/internal/availability"
	"github.com/wolfman30/clinic-scheduler/internal/bookings"
	"github.com/wolfman30/clinic-scheduler/internal/clock"
	appconfig "github.com/wolfman30/clinic-scheduler/internal/config"
	"github.com/wolfman30/clinic-scheduler/internal/database"
	"github.com/wolfman30/clinic-scheduler/internal/notify"
	"github.com/wolfman30/clinic-scheduler/internal/observability/metrics"
	"github.com/wolfman30/clinic-scheduler/internal/payhere"
	"github.com/wolfman30/clinic-scheduler/internal/payments"
	"github.com/wolfman30/clinic-scheduler/internal/provisional"
	"github.com/wolfman30/clinic-scheduler/internal/scheduling"
	"github.com/wolfman30/clinic-scheduler/pkg/logging"
)

// Dependencies are the connections and shared services the API needs.
type Dependencies struct {
	Pool            database.Pool
	Redis           *redis.Client
	SMS             notify.SMSSender
	Clock           clock.Clock
	Metrics         *metrics.BookingMetrics
	MetricsHandler  http.Handler
	ReadinessChecks map[string]router.ReadinessCheck
}

// BuildRouter wires repositories, workflows and handlers into the HTTP
// router.
func BuildRouter(cfg *appconfig.Config, deps Dependencies, logger *logging.Logger) http.Handler {
	if logger == nil {
		logger = logging.Default()
	}
	clk := clock.OrReal(deps.Clock)
	creds := payhere.Credentials{MerchantID: cfg.PayHereMerchantID, Secret: cfg.PayHereMerchantSecret}
	if !creds.Configured() {
		logger.Warn("payhere credentials missing; payment notifications will be rejected")
	}

	scheduleStore := scheduling.NewPostgresStore(deps.Pool)
	catalog := scheduling.NewCatalog(scheduleStore)
	bookingRepo := bookings.NewRepository(deps.Pool)

	directory := notify.NewPostgresDirectory(deps.Pool)
	notifier := notify.NewService(deps.SMS, directory, directory, cfg.PerSlotMinutes, logger)

	bookingService := bookings.NewService(bookingRepo, deps.Pool, bookings.ServiceOptions{
		Schedules:       catalog,
		Clock:           clk,
		FreshnessWindow: cfg.PendingPaymentFreshness,
		Metrics:         deps.Metrics,
		Logger:          logger,
	})
	calculator := availability.NewCalculator(catalog, bookingRepo, clk, cfg.PendingPaymentFreshness, deps.Metrics, logger)

	requests := scheduling.NewRequestWorkflow(scheduleStore, clk, deps.Metrics, logger)
	cancellations := scheduling.NewCancellationWorkflow(scheduleStore, bookingRepo, scheduling.CancellationOptions{
		Notifier: notifier,
		Clock:    clk,
		Location: cfg.Location(),
		Metrics:  deps.Metrics,
		Logger:   logger,
	})

	holdStore := provisional.NewRedisStore(deps.Redis)
	holds := provisional.NewHoldService(holdStore, provisional.HoldOptions{
		Schedules:   catalog,
		Credentials: creds,
		Currency:    cfg.PayHereCurrency,
		NotifyURL:   cfg.PayHereNotifyURL,
		TTL:         cfg.ProvisionalHoldTTL,
		Clock:       clk,
		Metrics:     deps.Metrics,
		Logger:      logger,
	})
	reconciler := payments.NewReconciler(holdStore, bookingService, notifier, deps.Metrics, logger)

	return router.New(&router.Config{
		Logger:             logger,
		Availability:       availability.NewHandler(calculator, logger),
		Bookings:           bookings.NewHandler(bookingService, logger),
		Holds:              provisional.NewHandler(holds, logger),
		Scheduling:         scheduling.NewHandler(catalog, requests, cancellations, logger),
		PayHereWebhook:     payments.NewWebhookHandler(creds, reconciler, deps.Metrics, logger),
		ReadinessChecks:    deps.ReadinessChecks,
		MetricsHandler:     deps.MetricsHandler,
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
		WebhookRateLimit:   cfg.WebhookRateLimit,
	})
}
