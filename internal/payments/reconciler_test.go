package payments

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/clinic-scheduler/internal/apperr"
	"github.com/wolfman30/clinic-scheduler/internal/bookings"
	"github.com/wolfman30/clinic-scheduler/internal/observability/metrics"
	"github.com/wolfman30/clinic-scheduler/internal/payhere"
	"github.com/wolfman30/clinic-scheduler/internal/provisional"
	"github.com/wolfman30/clinic-scheduler/pkg/logging"
)

var testCreds = payhere.Credentials{MerchantID: "1211149", Secret: "secret"}

type stubBookings struct {
	mu          sync.Mutex
	promoted    map[string]*bookings.Booking
	promotes    int
	conflict    bool
	applies     []applyCall
	applyResult *bookings.PaymentResult
	applyErr    error
}

type applyCall struct {
	ID      uuid.UUID
	Outcome bookings.PaymentStatus
	Payment string
	Method  string
	Cents   int64
}

func (s *stubBookings) Promote(ctx context.Context, in bookings.PromoteInput) (*bookings.PromoteResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.promotes++
	if s.conflict {
		return nil, apperr.Conflict("slot no longer available")
	}
	if s.promoted == nil {
		s.promoted = map[string]*bookings.Booking{}
	}
	if b, ok := s.promoted[in.OrderRef]; ok {
		return &bookings.PromoteResult{Outcome: bookings.AlreadyPromoted, Booking: b}, nil
	}
	b := &bookings.Booking{
		ID: uuid.New(), DoctorID: in.DoctorID, PatientID: in.PatientID, SlotNumber: in.SlotNumber,
		Status: bookings.StatusBooked, PaymentStatus: bookings.PaymentPaid, PaymentID: in.PaymentID,
		PaymentMethod: in.PaymentMethod, AmountPaidCents: in.AmountCents, OrderRef: in.OrderRef,
	}
	s.promoted[in.OrderRef] = b
	return &bookings.PromoteResult{Outcome: bookings.Created, Booking: b}, nil
}

func (s *stubBookings) ApplyPayment(ctx context.Context, id uuid.UUID, outcome bookings.PaymentStatus, paymentID, method string, amountCents int64) (*bookings.PaymentResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.applies = append(s.applies, applyCall{ID: id, Outcome: outcome, Payment: paymentID, Method: method, Cents: amountCents})
	if s.applyErr != nil {
		return nil, s.applyErr
	}
	return s.applyResult, nil
}

type stubNotifier struct {
	confirmed   []*bookings.Booking
	unavailable []*provisional.Hold
	slotLost    []*bookings.Booking
}

func (n *stubNotifier) AppointmentConfirmed(ctx context.Context, b *bookings.Booking) {
	n.confirmed = append(n.confirmed, b)
}

func (n *stubNotifier) SlotUnavailable(ctx context.Context, h *provisional.Hold) {
	n.unavailable = append(n.unavailable, h)
}

func (n *stubNotifier) BookingSlotLost(ctx context.Context, b *bookings.Booking) {
	n.slotLost = append(n.slotLost, b)
}

type webhookFixture struct {
	mr       *miniredis.Miniredis
	holds    *provisional.RedisStore
	bookings *stubBookings
	notifier *stubNotifier
	registry *prometheus.Registry
	handler  *WebhookHandler
	hold     *provisional.Hold
}

func newWebhookFixture(t *testing.T) *webhookFixture {
	t.Helper()
	mr := miniredis.RunT(t)
	holds := provisional.NewRedisStore(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	svc := &stubBookings{}
	notifier := &stubNotifier{}
	logger := logging.New("error")
	reg := prometheus.NewRegistry()
	m := metrics.NewBookingMetrics(reg)
	reconciler := NewReconciler(holds, svc, notifier, m, logger)

	hold := &provisional.Hold{
		OrderID: "TEMP_0123456789ABCDEF0123", DoctorID: uuid.New(), BranchID: uuid.New(),
		ScheduleID: uuid.New(), PatientID: uuid.New(), AppointmentDate: "2024-06-03",
		SlotNumber: 3, Amount: "1500.00", Currency: "LKR",
	}
	require.NoError(t, holds.Put(context.Background(), hold, 30*time.Minute))

	return &webhookFixture{
		mr: mr, holds: holds, bookings: svc, notifier: notifier, registry: reg, hold: hold,
		handler: NewWebhookHandler(testCreds, reconciler, m, logger),
	}
}

func signedForm(orderID, statusCode string) url.Values {
	return url.Values{
		"merchant_id":      {testCreds.MerchantID},
		"order_id":         {orderID},
		"payment_id":       {"320025071234"},
		"payhere_amount":   {"1500.00"},
		"payhere_currency": {"LKR"},
		"status_code":      {statusCode},
		"md5sig":           {testCreds.NotificationSignature(orderID, "1500.00", "LKR", statusCode)},
		"custom_1":         {orderID},
		"method":           {"VISA"},
	}
}

func (f *webhookFixture) post(form url.Values) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/webhooks/payhere", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rr := httptest.NewRecorder()
	f.handler.Handle(rr, req)
	return rr
}

func (f *webhookFixture) amountMismatches(t *testing.T) float64 {
	t.Helper()
	families, err := f.registry.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() == "clinic_payments_amount_mismatch_total" {
			return mf.GetMetric()[0].GetCounter().GetValue()
		}
	}
	return 0
}

func (f *webhookFixture) holdExists() bool {
	return f.mr.Exists("provisional:booking:" + f.hold.OrderID)
}

func TestWebhookPromotesPaidHold(t *testing.T) {
	f := newWebhookFixture(t)

	rr := f.post(signedForm(f.hold.OrderID, payhere.StatusSuccess))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"status":"success"}`, rr.Body.String())

	assert.Equal(t, 1, f.bookings.promotes)
	b := f.bookings.promoted[f.hold.OrderID]
	require.NotNil(t, b)
	assert.Equal(t, f.hold.PatientID, b.PatientID)
	assert.Equal(t, "320025071234", b.PaymentID)
	assert.Equal(t, "VISA", b.PaymentMethod)
	assert.Equal(t, int64(150000), b.AmountPaidCents)
	assert.False(t, f.holdExists())
	assert.Len(t, f.notifier.confirmed, 1)
}

func TestWebhookDuplicateDeliveryPromotesOnce(t *testing.T) {
	f := newWebhookFixture(t)
	form := signedForm(f.hold.OrderID, payhere.StatusSuccess)

	require.Equal(t, http.StatusOK, f.post(form).Code)
	rr := f.post(form)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"status":"success"}`, rr.Body.String())

	assert.Equal(t, 1, f.bookings.promotes)
	assert.Len(t, f.bookings.promoted, 1)
	assert.Len(t, f.notifier.confirmed, 1)
}

func TestReconcileAlreadyPromotedDeletesHoldWithoutSMS(t *testing.T) {
	f := newWebhookFixture(t)
	f.bookings.promoted = map[string]*bookings.Booking{f.hold.OrderID: {ID: uuid.New()}}

	outcome, err := f.handler.reconciler.Reconcile(context.Background(), Notification{
		OrderID: f.hold.OrderID, Custom1: f.hold.OrderID, StatusCode: payhere.StatusSuccess, Amount: "1500.00", PaymentID: "p1",
	})
	require.NoError(t, err)
	assert.Equal(t, OutcomeAlreadyPromoted, outcome)
	assert.False(t, f.holdExists())
	assert.Empty(t, f.notifier.confirmed)
}

func TestWebhookTamperedSignatureLeavesStateAlone(t *testing.T) {
	f := newWebhookFixture(t)
	form := signedForm(f.hold.OrderID, payhere.StatusSuccess)
	form.Set("payhere_amount", "1.00")

	rr := f.post(form)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Contains(t, rr.Body.String(), "invalid signature")
	assert.Zero(t, f.bookings.promotes)
	assert.True(t, f.holdExists())
}

func TestWebhookForeignMerchantRejected(t *testing.T) {
	f := newWebhookFixture(t)
	form := signedForm(f.hold.OrderID, payhere.StatusSuccess)
	form.Set("merchant_id", "999")

	assert.Equal(t, http.StatusBadRequest, f.post(form).Code)
	assert.Zero(t, f.bookings.promotes)
}

func TestWebhookMissingFields(t *testing.T) {
	f := newWebhookFixture(t)
	form := signedForm(f.hold.OrderID, payhere.StatusSuccess)
	form.Del("payment_id")
	form.Del("md5sig")

	rr := f.post(form)
	require.Equal(t, http.StatusBadRequest, rr.Code)
	var body struct {
		Status  string   `json:"status"`
		Message string   `json:"message"`
		Missing []string `json:"missing"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, "error", body.Status)
	assert.Equal(t, "missing required fields", body.Message)
	assert.Equal(t, []string{"payment_id", "md5sig"}, body.Missing)
	assert.True(t, f.holdExists())
}

func TestWebhookSlotConflictNotifiesPatient(t *testing.T) {
	f := newWebhookFixture(t)
	f.bookings.conflict = true

	rr := f.post(signedForm(f.hold.OrderID, payhere.StatusSuccess))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.False(t, f.holdExists())
	require.Len(t, f.notifier.unavailable, 1)
	assert.Equal(t, f.hold.OrderID, f.notifier.unavailable[0].OrderID)
	assert.Empty(t, f.notifier.confirmed)
}

func TestWebhookFailedPaymentDiscardsHold(t *testing.T) {
	f := newWebhookFixture(t)

	rr := f.post(signedForm(f.hold.OrderID, payhere.StatusFailed))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Zero(t, f.bookings.promotes)
	assert.False(t, f.holdExists())
}

func TestWebhookAcceptsJSON(t *testing.T) {
	f := newWebhookFixture(t)
	form := signedForm(f.hold.OrderID, payhere.StatusSuccess)
	payload := map[string]string{}
	for k := range form {
		payload[k] = form.Get(k)
	}
	body, err := json.Marshal(payload)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/webhooks/payhere", strings.NewReader(string(body)))
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	rr := httptest.NewRecorder()
	f.handler.Handle(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, 1, f.bookings.promotes)
}

func TestWebhookAppliesPaymentToPersistedBooking(t *testing.T) {
	f := newWebhookFixture(t)
	id := uuid.New()
	f.bookings.applyResult = &bookings.PaymentResult{
		Booking: &bookings.Booking{ID: id, Status: bookings.StatusBooked, PaymentStatus: bookings.PaymentPaid},
		Changed: true,
	}
	form := signedForm(id.String(), payhere.StatusSuccess)
	form.Del("custom_1")

	require.Equal(t, http.StatusOK, f.post(form).Code)
	require.Len(t, f.bookings.applies, 1)
	assert.Equal(t, applyCall{ID: id, Outcome: bookings.PaymentPaid, Payment: "320025071234", Method: "VISA", Cents: 150000}, f.bookings.applies[0])
	assert.Len(t, f.notifier.confirmed, 1)
	assert.Zero(t, f.bookings.promotes)
}

func TestReconcileStatusCodesForPersistedBooking(t *testing.T) {
	cases := map[string]bookings.PaymentStatus{
		payhere.StatusPending:     bookings.PaymentPending,
		payhere.StatusCancelled:   bookings.PaymentCancelled,
		payhere.StatusFailed:      bookings.PaymentFailed,
		payhere.StatusChargedBack: bookings.PaymentChargedBack,
	}
	for code, want := range cases {
		f := newWebhookFixture(t)
		id := uuid.New()
		f.bookings.applyResult = &bookings.PaymentResult{Booking: &bookings.Booking{ID: id, Status: bookings.StatusPendingPayment}, Changed: true}

		outcome, err := f.handler.reconciler.Reconcile(context.Background(), Notification{OrderID: id.String(), StatusCode: code, Amount: "1500.00"})
		require.NoError(t, err, code)
		assert.Equal(t, OutcomePaymentApplied, outcome, code)
		assert.Equal(t, want, f.bookings.applies[0].Outcome, code)
		assert.Zero(t, f.bookings.applies[0].Cents, code)
		assert.Empty(t, f.notifier.confirmed, code)
	}
}

func TestReconcileUnknownBookingIsNoop(t *testing.T) {
	f := newWebhookFixture(t)
	f.bookings.applyErr = apperr.NotFound("booking not found")

	outcome, err := f.handler.reconciler.Reconcile(context.Background(), Notification{OrderID: uuid.NewString(), StatusCode: payhere.StatusSuccess, Amount: "10.00"})
	require.NoError(t, err)
	assert.Equal(t, OutcomeUnknownBooking, outcome)

	outcome, err = f.handler.reconciler.Reconcile(context.Background(), Notification{OrderID: "not-a-booking", StatusCode: payhere.StatusSuccess})
	require.NoError(t, err)
	assert.Equal(t, OutcomeIgnored, outcome)
}

func TestNotificationKeyPrefersCustom1(t *testing.T) {
	assert.Equal(t, "TEMP_X", Notification{OrderID: "ORD1", Custom1: "TEMP_X"}.Key())
	assert.Equal(t, "ORD1", Notification{OrderID: "ORD1"}.Key())
}

func TestWebhookPaidStaleBookingWithLostSlotNotifiesPatient(t *testing.T) {
	f := newWebhookFixture(t)
	id := uuid.New()
	f.bookings.applyResult = &bookings.PaymentResult{
		Booking:  &bookings.Booking{ID: id, Status: bookings.StatusPendingPayment, PaymentStatus: bookings.PaymentPaid},
		Changed:  true,
		SlotLost: true,
	}

	outcome, err := f.handler.reconciler.Reconcile(context.Background(), Notification{
		OrderID: id.String(), StatusCode: payhere.StatusSuccess, Amount: "1500.00", PaymentID: "320025071234",
	})
	require.NoError(t, err)
	assert.Equal(t, OutcomeSlotConflict, outcome)
	require.Len(t, f.notifier.slotLost, 1)
	assert.Equal(t, id, f.notifier.slotLost[0].ID)
	assert.Empty(t, f.notifier.confirmed)
}

func TestReconcileCountsAmountMismatch(t *testing.T) {
	f := newWebhookFixture(t)

	outcome, err := f.handler.reconciler.Reconcile(context.Background(), Notification{
		OrderID: f.hold.OrderID, Custom1: f.hold.OrderID, StatusCode: payhere.StatusSuccess, Amount: "1000.00", PaymentID: "p1",
	})
	require.NoError(t, err)
	assert.Equal(t, OutcomePromoted, outcome)
	assert.Equal(t, int64(100000), f.bookings.promoted[f.hold.OrderID].AmountPaidCents)
	assert.Equal(t, 1.0, f.amountMismatches(t))
}

func TestReconcileMatchingAmountIsNotCounted(t *testing.T) {
	f := newWebhookFixture(t)

	_, err := f.handler.reconciler.Reconcile(context.Background(), Notification{
		OrderID: f.hold.OrderID, Custom1: f.hold.OrderID, StatusCode: payhere.StatusSuccess, Amount: "1500.00", PaymentID: "p1",
	})
	require.NoError(t, err)
	assert.Zero(t, f.amountMismatches(t))
}
