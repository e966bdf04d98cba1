package provisional

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/clinic-scheduler/internal/apperr"
	"github.com/wolfman30/clinic-scheduler/internal/clock"
	"github.com/wolfman30/clinic-scheduler/internal/payhere"
	"github.com/wolfman30/clinic-scheduler/internal/scheduling"
	"github.com/wolfman30/clinic-scheduler/pkg/logging"
)

type stubSchedules struct {
	block     *scheduling.ScheduleBlock
	cancelled bool
}

func (s *stubSchedules) Get(ctx context.Context, id uuid.UUID) (*scheduling.ScheduleBlock, error) {
	if s.block == nil || s.block.ID != id {
		return nil, apperr.NotFound("schedule not found")
	}
	return s.block, nil
}

func (s *stubSchedules) IsCancelled(ctx context.Context, doctorID, branchID uuid.UUID, date time.Time) (bool, error) {
	return s.cancelled, nil
}

var holdNow = time.Date(2024, 5, 30, 8, 0, 0, 0, time.UTC)

type holdFixture struct {
	mr        *miniredis.Miniredis
	store     *RedisStore
	schedules *stubSchedules
	svc       *HoldService
	block     *scheduling.ScheduleBlock
}

func newHoldFixture(t *testing.T) *holdFixture {
	t.Helper()
	mr := miniredis.RunT(t)
	store := NewRedisStore(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	block := &scheduling.ScheduleBlock{
		ID: uuid.New(), DoctorID: uuid.New(), BranchID: uuid.New(),
		Day: scheduling.Monday, StartTime: "09:00", MaxPatients: 5, Active: true,
	}
	schedules := &stubSchedules{block: block}
	svc := NewHoldService(store, HoldOptions{
		Schedules:   schedules,
		Credentials: payhere.Credentials{MerchantID: "1211149", Secret: "secret"},
		Currency:    "lkr",
		NotifyURL:   "https://clinic.example/webhooks/payhere",
		TTL:         30 * time.Minute,
		Clock:       clock.NewFixed(holdNow),
		Logger:      logging.New("error"),
	})
	svc.newKey = func() (string, error) { return "TEMP_ABC", nil }
	return &holdFixture{mr: mr, store: store, schedules: schedules, svc: svc, block: block}
}

func (f *holdFixture) request() HoldRequest {
	return HoldRequest{
		DoctorID: f.block.DoctorID, BranchID: f.block.BranchID, ScheduleID: f.block.ID,
		PatientID: uuid.New(), AppointmentDate: "2024-06-03", SlotNumber: 3, Amount: "1500",
	}
}

func TestNewKeyFormat(t *testing.T) {
	key, err := NewKey()
	require.NoError(t, err)
	assert.Regexp(t, `^TEMP_[0-9A-F]{20}$`, key)
	assert.True(t, IsKey(key))
	assert.False(t, IsKey(uuid.NewString()))
}

func TestRedisStoreRoundTripAndExpiry(t *testing.T) {
	f := newHoldFixture(t)
	ctx := context.Background()
	h := &Hold{OrderID: "TEMP_XYZ", DoctorID: uuid.New(), AppointmentDate: "2024-06-03", SlotNumber: 2, Amount: "1500.00", Currency: "LKR"}

	require.NoError(t, f.store.Put(ctx, h, time.Minute))
	assert.True(t, f.mr.Exists("provisional:booking:TEMP_XYZ"))

	got, err := f.store.Get(ctx, "TEMP_XYZ")
	require.NoError(t, err)
	assert.Equal(t, h.DoctorID, got.DoctorID)
	assert.Equal(t, 2, got.SlotNumber)

	f.mr.FastForward(2 * time.Minute)
	_, err = f.store.Get(ctx, "TEMP_XYZ")
	assert.ErrorIs(t, err, ErrHoldNotFound)
}

func TestRedisStoreDeleteIsIdempotent(t *testing.T) {
	f := newHoldFixture(t)
	ctx := context.Background()
	require.NoError(t, f.store.Put(ctx, &Hold{OrderID: "TEMP_DEL"}, time.Minute))
	require.NoError(t, f.store.Delete(ctx, "TEMP_DEL"))
	require.NoError(t, f.store.Delete(ctx, "TEMP_DEL"))
	_, err := f.store.Get(ctx, "TEMP_DEL")
	assert.True(t, errors.Is(err, ErrHoldNotFound))
}

func TestRedisStorePutRequiresOrderID(t *testing.T) {
	f := newHoldFixture(t)
	assert.Error(t, f.store.Put(context.Background(), &Hold{}, time.Minute))
}

func TestHoldCreatesSignedSession(t *testing.T) {
	f := newHoldFixture(t)
	req := f.request()

	session, err := f.svc.Hold(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "TEMP_ABC", session.OrderID)
	assert.Equal(t, "1500.00", session.Amount)
	assert.Equal(t, "LKR", session.Currency)
	assert.Equal(t, "1211149", session.MerchantID)
	assert.Equal(t, "47864846A2F18A800FAEE541737878F4", session.Hash)
	assert.Equal(t, holdNow.Add(30*time.Minute), session.ExpiresAt)

	assert.Equal(t, 30*time.Minute, f.mr.TTL("provisional:booking:TEMP_ABC"))
	stored, err := f.store.Get(context.Background(), "TEMP_ABC")
	require.NoError(t, err)
	assert.Equal(t, req.PatientID, stored.PatientID)
	assert.Equal(t, "2024-06-03", stored.AppointmentDate)
	cents, err := stored.AmountCents()
	require.NoError(t, err)
	assert.Equal(t, int64(150000), cents)
}

func TestHoldSkipsOccupancyButChecksCapacity(t *testing.T) {
	f := newHoldFixture(t)
	req := f.request()
	req.SlotNumber = 6

	_, err := f.svc.Hold(context.Background(), req)
	assert.ErrorIs(t, err, apperr.ErrValidation)
	assert.False(t, f.mr.Exists("provisional:booking:TEMP_ABC"))
}

func TestHoldRejectsWrongWeekdayAndCancelledDate(t *testing.T) {
	f := newHoldFixture(t)
	req := f.request()
	req.AppointmentDate = "2024-06-04"
	_, err := f.svc.Hold(context.Background(), req)
	assert.ErrorIs(t, err, apperr.ErrValidation)

	f.schedules.cancelled = true
	_, err = f.svc.Hold(context.Background(), f.request())
	assert.ErrorIs(t, err, apperr.ErrBlocked)
}

func TestHoldUnknownSchedule(t *testing.T) {
	f := newHoldFixture(t)
	req := f.request()
	req.ScheduleID = uuid.New()
	_, err := f.svc.Hold(context.Background(), req)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestHoldValidation(t *testing.T) {
	f := newHoldFixture(t)
	_, err := f.svc.Hold(context.Background(), HoldRequest{AppointmentDate: "03/06/2024", Amount: "abc"})
	require.ErrorIs(t, err, apperr.ErrValidation)
	var appErr *apperr.Error
	require.True(t, errors.As(err, &appErr))
	assert.Contains(t, appErr.Fields, "doctor_id")
	assert.Contains(t, appErr.Fields, "appointment_date")
	assert.Contains(t, appErr.Fields, "amount")
}

func TestHandlerCreate(t *testing.T) {
	f := newHoldFixture(t)
	req := f.request()
	body := `{"doctor_id":"` + req.DoctorID.String() + `","branch_id":"` + req.BranchID.String() +
		`","schedule_id":"` + req.ScheduleID.String() + `","patient_id":"` + req.PatientID.String() +
		`","appointment_date":"2024-06-03","slot_number":3,"amount":"1500.00"}`

	rr := httptest.NewRecorder()
	NewHandler(f.svc, logging.New("error")).Create(rr, httptest.NewRequest(http.MethodPost, "/api/bookings/holds", strings.NewReader(body)))

	require.Equal(t, http.StatusCreated, rr.Code)
	assert.Contains(t, rr.Body.String(), `"order_id":"TEMP_ABC"`)
	assert.Contains(t, rr.Body.String(), `"hash":"47864846A2F18A800FAEE541737878F4"`)
}
