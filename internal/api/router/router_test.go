package router

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/clinic-scheduler/internal/apperr"
	"github.com/wolfman30/clinic-scheduler/internal/availability"
	"github.com/wolfman30/clinic-scheduler/internal/bookings"
	"github.com/wolfman30/clinic-scheduler/internal/clock"
	"github.com/wolfman30/clinic-scheduler/internal/payhere"
	"github.com/wolfman30/clinic-scheduler/internal/payments"
	"github.com/wolfman30/clinic-scheduler/internal/provisional"
	"github.com/wolfman30/clinic-scheduler/internal/scheduling"
	"github.com/wolfman30/clinic-scheduler/pkg/logging"
)

type emptySchedules struct{}

func (emptySchedules) Resolve(ctx context.Context, doctorID uuid.UUID, day scheduling.Weekday, branchID *uuid.UUID) (*scheduling.ScheduleBlock, error) {
	return nil, apperr.NotFound("no schedule found for this doctor on this day")
}

func (emptySchedules) IsCancelled(ctx context.Context, doctorID, branchID uuid.UUID, date time.Time) (bool, error) {
	return false, nil
}

type emptyBookings struct{}

func (emptyBookings) ListForDoctorDate(ctx context.Context, doctorID uuid.UUID, date time.Time) ([]bookings.Booking, error) {
	return nil, nil
}

type noopBookingService struct{}

func (noopBookingService) Promote(ctx context.Context, in bookings.PromoteInput) (*bookings.PromoteResult, error) {
	return &bookings.PromoteResult{Outcome: bookings.Created, Booking: &bookings.Booking{ID: uuid.New()}}, nil
}

func (noopBookingService) ApplyPayment(ctx context.Context, id uuid.UUID, outcome bookings.PaymentStatus, paymentID, method string, amountCents int64) (*bookings.PaymentResult, error) {
	return nil, apperr.NotFound("booking not found")
}

func newTestRouter(t *testing.T, checks map[string]ReadinessCheck, webhookLimit int) http.Handler {
	t.Helper()
	logger := logging.New("error")

	mr := miniredis.RunT(t)
	holds := provisional.NewRedisStore(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	creds := payhere.Credentials{MerchantID: "1211149", Secret: "secret"}
	reconciler := payments.NewReconciler(holds, noopBookingService{}, nil, nil, logger)
	calc := availability.NewCalculator(emptySchedules{}, emptyBookings{}, clock.NewFixed(time.Date(2024, 6, 3, 6, 0, 0, 0, time.UTC)), 30*time.Minute, nil, logger)

	return New(&Config{
		Logger:           logger,
		Availability:     availability.NewHandler(calc, logger),
		PayHereWebhook:   payments.NewWebhookHandler(creds, reconciler, nil, logger),
		ReadinessChecks:  checks,
		MetricsHandler:   http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { _, _ = w.Write([]byte("# metrics")) }),
		WebhookRateLimit: webhookLimit,
	})
}

func TestRouterHealthEndpoint(t *testing.T) {
	router := newTestRouter(t, nil, 0)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))

	require.Equal(t, http.StatusOK, rr.Code)
	var resp map[string]string
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp["status"])
	assert.NotEmpty(t, rr.Header().Get("Content-Type"))
}

func TestRouterReadyReportsFailingDependency(t *testing.T) {
	router := newTestRouter(t, map[string]ReadinessCheck{
		"postgres": func(context.Context) error { return nil },
		"redis":    func(context.Context) error { return errors.New("connection refused") },
	}, 0)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/ready", nil))

	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	assert.Contains(t, rr.Body.String(), `"redis":"unavailable"`)
	assert.Contains(t, rr.Body.String(), `"postgres":"ok"`)
	assert.NotContains(t, rr.Body.String(), "connection refused")
}

func TestRouterReadyOK(t *testing.T) {
	router := newTestRouter(t, map[string]ReadinessCheck{"postgres": func(context.Context) error { return nil }}, 0)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestRouterMetrics(t *testing.T) {
	router := newTestRouter(t, nil, 0)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, "# metrics", rr.Body.String())
}

func TestRouterAvailabilityNotFound(t *testing.T) {
	router := newTestRouter(t, nil, 0)
	target := "/api/availability?doctor_id=" + uuid.NewString() + "&appointment_date=2024-06-03&schedule_day=Monday"
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, target, nil))
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestRouterWebhookMissingFields(t *testing.T) {
	router := newTestRouter(t, nil, 0)
	req := httptest.NewRequest(http.MethodPost, "/webhooks/payhere", strings.NewReader(url.Values{"order_id": {"TEMP_A"}}.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Contains(t, rr.Body.String(), "missing required fields")
}

func TestRouterWebhookRateLimited(t *testing.T) {
	router := newTestRouter(t, nil, 1)
	var last int
	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodPost, "/webhooks/payhere", strings.NewReader(""))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)
		last = rr.Code
	}
	assert.Equal(t, http.StatusTooManyRequests, last)
}

func TestRouterUnknownRoute(t *testing.T) {
	router := newTestRouter(t, nil, 0)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/leads", nil))
	assert.Equal(t, http.StatusNotFound, rr.Code)
}
