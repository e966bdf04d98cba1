package provisional

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/clinic-scheduler/internal/apperr"
	"github.com/wolfman30/clinic-scheduler/internal/clock"
	"github.com/wolfman30/clinic-scheduler/internal/observability/metrics"
	"github.com/wolfman30/clinic-scheduler/internal/payhere"
	"github.com/wolfman30/clinic-scheduler/internal/scheduling"
	"github.com/wolfman30/clinic-scheduler/internal/validation"
	"github.com/wolfman30/clinic-scheduler/pkg/logging"
)

var provisionalTracer = otel.Tracer("clinic.internal.provisional")

// ScheduleSource resolves the schedule a hold is placed against.
type ScheduleSource interface {
	Get(ctx context.Context, id uuid.UUID) (*scheduling.ScheduleBlock, error)
	IsCancelled(ctx context.Context, doctorID, branchID uuid.UUID, date time.Time) (bool, error)
}

// HoldRequest is a completed booking form awaiting payment.
type HoldRequest struct {
	DoctorID        uuid.UUID `json:"doctor_id" validate:"required"`
	BranchID        uuid.UUID `json:"branch_id" validate:"required"`
	ScheduleID      uuid.UUID `json:"schedule_id" validate:"required"`
	PatientID       uuid.UUID `json:"patient_id" validate:"required"`
	AppointmentDate string    `json:"appointment_date" validate:"required,datetime=2006-01-02"`
	SlotNumber      int       `json:"slot_number" validate:"gte=1"`
	Amount          string    `json:"amount" validate:"required,numeric"`
}

// PaymentSession carries what the client needs to start a PayHere checkout.
type PaymentSession struct {
	OrderID    string    `json:"order_id"`
	ExpiresAt  time.Time `json:"expires_at"`
	MerchantID string    `json:"merchant_id"`
	Amount     string    `json:"amount"`
	Currency   string    `json:"currency"`
	Hash       string    `json:"hash"`
	NotifyURL  string    `json:"notify_url,omitempty"`
}

// HoldOptions configures NewHoldService.
type HoldOptions struct {
	Schedules   ScheduleSource
	Credentials payhere.Credentials
	Currency    string
	NotifyURL   string
	TTL         time.Duration
	Clock       clock.Clock
	Metrics     *metrics.BookingMetrics
	Logger      *logging.Logger
}

// HoldService writes provisional holds and signs their checkout sessions.
// No slot uniqueness check happens here; it is deferred to promotion.
type HoldService struct {
	store     Store
	schedules ScheduleSource
	creds     payhere.Credentials
	currency  string
	notifyURL string
	ttl       time.Duration
	clock     clock.Clock
	newKey    func() (string, error)
	metrics   *metrics.BookingMetrics
	logger    *logging.Logger
}

// NewHoldService constructs a HoldService.
func NewHoldService(store Store, opts HoldOptions) *HoldService {
	if store == nil {
		panic("provisional: store required")
	}
	if opts.Logger == nil {
		opts.Logger = logging.Default()
	}
	if opts.TTL <= 0 {
		opts.TTL = 30 * time.Minute
	}
	currency := strings.ToUpper(strings.TrimSpace(opts.Currency))
	if currency == "" {
		currency = "LKR"
	}
	return &HoldService{
		store:     store,
		schedules: opts.Schedules,
		creds:     opts.Credentials,
		currency:  currency,
		notifyURL: opts.NotifyURL,
		ttl:       opts.TTL,
		clock:     clock.OrReal(opts.Clock),
		newKey:    NewKey,
		metrics:   opts.Metrics,
		logger:    opts.Logger,
	}
}

// Hold validates the request, stores a hold under a fresh TEMP_ key and
// returns the signed payment session.
func (s *HoldService) Hold(ctx context.Context, req HoldRequest) (*PaymentSession, error) {
	ctx, span := provisionalTracer.Start(ctx, "provisional.hold")
	defer span.End()
	span.SetAttributes(
		attribute.String("clinic.doctor_id", req.DoctorID.String()),
		attribute.Int("clinic.slot_number", req.SlotNumber),
	)

	session, err := s.hold(ctx, req)
	switch {
	case err == nil:
		s.metrics.ObserveHold("created")
	case apperr.KindOf(err) == apperr.KindUnexpected:
		span.RecordError(err)
		s.metrics.ObserveHold("error")
	default:
		s.metrics.ObserveHold(string(apperr.KindOf(err)))
	}
	return session, err
}

func (s *HoldService) hold(ctx context.Context, req HoldRequest) (*PaymentSession, error) {
	if err := validation.Struct(req); err != nil {
		return nil, err
	}
	date, err := scheduling.ParseDate(req.AppointmentDate)
	if err != nil {
		return nil, err
	}
	cents, err := payhere.ParseAmount(req.Amount)
	if err != nil || cents <= 0 {
		return nil, apperr.Validation("amount must be a positive decimal", "amount")
	}
	if err := s.checkSchedule(ctx, req, date); err != nil {
		return nil, err
	}

	key, err := s.newKey()
	if err != nil {
		return nil, err
	}
	now := s.clock.Now()
	h := &Hold{
		OrderID:         key,
		DoctorID:        req.DoctorID,
		BranchID:        req.BranchID,
		ScheduleID:      req.ScheduleID,
		PatientID:       req.PatientID,
		AppointmentDate: date.Format(scheduling.DateLayout),
		SlotNumber:      req.SlotNumber,
		Amount:          payhere.FormatAmount(cents),
		Currency:        s.currency,
		CreatedAt:       now,
		ExpiresAt:       now.Add(s.ttl),
	}
	if err := s.store.Put(ctx, h, s.ttl); err != nil {
		return nil, fmt.Errorf("provisional: store hold: %w", err)
	}
	s.logger.Info("provisional hold created", "order_id", h.OrderID, "doctor_id", h.DoctorID, "date", h.AppointmentDate, "slot", h.SlotNumber)

	return &PaymentSession{
		OrderID:    h.OrderID,
		ExpiresAt:  h.ExpiresAt,
		MerchantID: s.creds.MerchantID,
		Amount:     h.Amount,
		Currency:   h.Currency,
		Hash:       s.creds.CheckoutHash(h.OrderID, h.Amount, h.Currency),
		NotifyURL:  s.notifyURL,
	}, nil
}

func (s *HoldService) checkSchedule(ctx context.Context, req HoldRequest, date time.Time) error {
	if s.schedules == nil {
		return nil
	}
	block, err := s.schedules.Get(ctx, req.ScheduleID)
	if err != nil {
		return err
	}
	if !block.Active || block.DoctorID != req.DoctorID || block.BranchID != req.BranchID {
		return apperr.NotFound("schedule not found")
	}
	if scheduling.WeekdayOf(date) != block.Day {
		return apperr.Validation("appointment_date does not fall on the schedule day", "appointment_date")
	}
	if !block.HasSlot(req.SlotNumber) {
		return apperr.Validation("slot_number is outside the schedule capacity", "slot_number")
	}
	cancelled, err := s.schedules.IsCancelled(ctx, req.DoctorID, req.BranchID, date)
	if err != nil {
		return err
	}
	if cancelled {
		return apperr.Blocked("schedule cancelled for this date")
	}
	return nil
}
