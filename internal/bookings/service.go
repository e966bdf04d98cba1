package bookings

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/clinic-scheduler/internal/apperr"
	"github.com/wolfman30/clinic-scheduler/internal/clock"
	"github.com/wolfman30/clinic-scheduler/internal/database"
	"github.com/wolfman30/clinic-scheduler/internal/observability/metrics"
	"github.com/wolfman30/clinic-scheduler/internal/scheduling"
	"github.com/wolfman30/clinic-scheduler/internal/validation"
	"github.com/wolfman30/clinic-scheduler/pkg/logging"
)

var bookingsTracer = otel.Tracer("clinic.internal.bookings")

// ScheduleSource resolves the schedule a booking is made against.
type ScheduleSource interface {
	Get(ctx context.Context, id uuid.UUID) (*scheduling.ScheduleBlock, error)
	IsCancelled(ctx context.Context, doctorID, branchID uuid.UUID, date time.Time) (bool, error)
}

// PromoteOutcome reports what Promote did.
type PromoteOutcome string

const (
	Created         PromoteOutcome = "created"
	AlreadyPromoted PromoteOutcome = "already_promoted"
)

// PromoteInput is a paid provisional booking ready to persist.
type PromoteInput struct {
	OrderRef        string
	DoctorID        uuid.UUID
	BranchID        uuid.UUID
	ScheduleID      uuid.UUID
	PatientID       uuid.UUID
	AppointmentDate time.Time
	SlotNumber      int
	PaymentID       string
	PaymentMethod   string
	AmountCents     int64
}

// PromoteResult carries the outcome and the booking row.
type PromoteResult struct {
	Outcome PromoteOutcome
	Booking *Booking
}

// DirectRequest books a slot without a provisional hold.
type DirectRequest struct {
	DoctorID        uuid.UUID `json:"doctor_id" validate:"required"`
	BranchID        uuid.UUID `json:"branch_id" validate:"required"`
	ScheduleID      uuid.UUID `json:"schedule_id" validate:"required"`
	PatientID       uuid.UUID `json:"patient_id" validate:"required"`
	AppointmentDate string    `json:"appointment_date" validate:"required,datetime=2006-01-02"`
	SlotNumber      int       `json:"slot_number" validate:"gte=1"`
	PayLater        bool      `json:"pay_later"`
}

// PaymentResult is the outcome of ApplyPayment. SlotLost is set when a
// payment arrived for a stale pending booking whose slot another booking
// now occupies; the payment is recorded but the booking is not confirmed.
type PaymentResult struct {
	Booking  *Booking
	Changed  bool
	SlotLost bool
}

// Service creates bookings under the slot exclusivity guard.
type Service struct {
	repo      *Repository
	pool      database.Pool
	schedules ScheduleSource
	clock     clock.Clock
	window    time.Duration
	metrics   *metrics.BookingMetrics
	logger    *logging.Logger
}

// ServiceOptions configures NewService.
type ServiceOptions struct {
	Schedules       ScheduleSource
	Clock           clock.Clock
	FreshnessWindow time.Duration
	Metrics         *metrics.BookingMetrics
	Logger          *logging.Logger
}

// NewService constructs a bookings service.
func NewService(repo *Repository, pool database.Pool, opts ServiceOptions) *Service {
	if repo == nil {
		panic("bookings: repository required")
	}
	if pool == nil {
		panic("bookings: pgx pool required")
	}
	if opts.Logger == nil {
		opts.Logger = logging.Default()
	}
	if opts.FreshnessWindow <= 0 {
		opts.FreshnessWindow = 30 * time.Minute
	}
	return &Service{
		repo:      repo,
		pool:      pool,
		schedules: opts.Schedules,
		clock:     clock.OrReal(opts.Clock),
		window:    opts.FreshnessWindow,
		metrics:   opts.Metrics,
		logger:    opts.Logger,
	}
}

// FreshnessWindow is how long a pending-payment booking holds its slot.
func (s *Service) FreshnessWindow() time.Duration {
	return s.window
}

// Promote persists a paid provisional booking. Repeated calls for the same
// order return AlreadyPromoted. A lost slot race returns a conflict error.
func (s *Service) Promote(ctx context.Context, in PromoteInput) (*PromoteResult, error) {
	ctx, span := bookingsTracer.Start(ctx, "bookings.promote")
	defer span.End()
	span.SetAttributes(
		attribute.String("clinic.order_ref", in.OrderRef),
		attribute.String("clinic.doctor_id", in.DoctorID.String()),
		attribute.Int("clinic.slot_number", in.SlotNumber),
	)

	if in.OrderRef == "" {
		return nil, apperr.Validation("order reference is required", "order_id")
	}
	if err := s.checkSession(ctx, in.DoctorID, in.BranchID, in.AppointmentDate); err != nil {
		s.metrics.ObservePromotion("webhook", "conflict")
		return nil, err
	}

	now := s.clock.Now()
	b := &Booking{
		ID:              uuid.New(),
		DoctorID:        in.DoctorID,
		BranchID:        in.BranchID,
		ScheduleID:      in.ScheduleID,
		PatientID:       in.PatientID,
		AppointmentDate: in.AppointmentDate,
		SlotNumber:      in.SlotNumber,
		Status:          StatusBooked,
		PaymentStatus:   PaymentPaid,
		PaymentID:       in.PaymentID,
		PaymentMethod:   in.PaymentMethod,
		AmountPaidCents: in.AmountCents,
		TokenNumber:     in.SlotNumber,
		OrderRef:        in.OrderRef,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	err := database.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		return s.repo.Insert(ctx, tx, b, now.Add(-s.window))
	})
	switch {
	case errors.Is(err, ErrDuplicateOrder):
		s.metrics.ObservePromotion("webhook", string(AlreadyPromoted))
		s.logger.Info("booking already promoted", "order_id", in.OrderRef, "booking_id", b.ID)
		return &PromoteResult{Outcome: AlreadyPromoted, Booking: b}, nil
	case err != nil:
		span.RecordError(err)
		if errors.Is(err, apperr.ErrConflict) {
			s.metrics.ObservePromotion("webhook", "conflict")
		}
		return nil, err
	}

	s.metrics.ObservePromotion("webhook", string(Created))
	s.logger.Info("booking promoted", "order_id", in.OrderRef, "booking_id", b.ID, "slot", b.SlotNumber)
	return &PromoteResult{Outcome: Created, Booking: b}, nil
}

// CreateDirect books a slot for walk-in or pay-later patients.
func (s *Service) CreateDirect(ctx context.Context, req DirectRequest) (*Booking, error) {
	ctx, span := bookingsTracer.Start(ctx, "bookings.create_direct")
	defer span.End()

	if err := validation.Struct(req); err != nil {
		return nil, err
	}
	date, err := scheduling.ParseDate(req.AppointmentDate)
	if err != nil {
		return nil, err
	}
	if s.schedules != nil {
		block, err := s.schedules.Get(ctx, req.ScheduleID)
		if err != nil {
			return nil, err
		}
		if !block.Active || block.DoctorID != req.DoctorID || block.BranchID != req.BranchID {
			return nil, apperr.NotFound("schedule not found")
		}
		if scheduling.WeekdayOf(date) != block.Day {
			return nil, apperr.Validation("appointment_date does not fall on the schedule day", "appointment_date")
		}
		if !block.HasSlot(req.SlotNumber) {
			return nil, apperr.Validation("slot_number is outside the schedule capacity", "slot_number")
		}
	}
	if err := s.checkSession(ctx, req.DoctorID, req.BranchID, date); err != nil {
		return nil, err
	}

	now := s.clock.Now()
	b := &Booking{
		ID:              uuid.New(),
		DoctorID:        req.DoctorID,
		BranchID:        req.BranchID,
		ScheduleID:      req.ScheduleID,
		PatientID:       req.PatientID,
		AppointmentDate: date,
		SlotNumber:      req.SlotNumber,
		Status:          StatusBooked,
		PaymentStatus:   PaymentUnpaid,
		TokenNumber:     req.SlotNumber,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if req.PayLater {
		b.Status = StatusPendingPayment
		b.PaymentStatus = PaymentPending
		b.OrderRef = b.ID.String()
	}

	err = database.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		return s.repo.Insert(ctx, tx, b, now.Add(-s.window))
	})
	if err != nil {
		span.RecordError(err)
		if errors.Is(err, apperr.ErrConflict) {
			s.metrics.ObservePromotion("direct", "conflict")
		}
		return nil, err
	}
	s.metrics.ObservePromotion("direct", string(Created))
	s.logger.Info("booking created", "booking_id", b.ID, "status", b.Status, "slot", b.SlotNumber)
	return b, nil
}

// Get returns a booking by id.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Booking, error) {
	return s.repo.GetByID(ctx, nil, id, false)
}

// ApplyPayment records a gateway outcome on an existing booking. A success
// confirms the booking; other outcomes only update the payment status.
// Cancelled bookings keep their status and replays of an already recorded
// payment are no-ops. A pending booking past the freshness window is only
// confirmed if its slot is still free.
func (s *Service) ApplyPayment(ctx context.Context, id uuid.UUID, outcome PaymentStatus, paymentID, method string, amountCents int64) (*PaymentResult, error) {
	ctx, span := bookingsTracer.Start(ctx, "bookings.apply_payment")
	defer span.End()
	span.SetAttributes(
		attribute.String("clinic.booking_id", id.String()),
		attribute.String("clinic.payment_status", string(outcome)),
	)

	var result PaymentResult
	err := database.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		b, err := s.repo.GetByID(ctx, tx, id, true)
		if err != nil {
			return err
		}
		result.Booking = b
		if b.PaymentStatus == PaymentPaid && b.PaymentID == paymentID && outcome == PaymentPaid {
			return nil
		}

		now := s.clock.Now()
		next := b.Status
		if outcome == PaymentPaid && b.Status == StatusPendingPayment {
			next = StatusBooked
			if !b.Occupies(now, s.window) {
				if err := s.repo.lockSlot(ctx, tx, b); err != nil {
					return err
				}
				taken, err := s.repo.slotTaken(ctx, tx, b, now.Add(-s.window))
				if err != nil {
					return err
				}
				if taken {
					next = StatusPendingPayment
					result.SlotLost = true
				}
			}
		}
		amount := b.AmountPaidCents
		if outcome == PaymentPaid {
			amount = amountCents
		}
		update := PaymentUpdate{
			Status:        next,
			PaymentStatus: outcome,
			PaymentID:     paymentID,
			PaymentMethod: method,
			AmountCents:   amount,
			At:            now,
		}
		if err := s.repo.ApplyPayment(ctx, tx, id, update); err != nil {
			return err
		}
		b.Status = update.Status
		b.PaymentStatus = update.PaymentStatus
		if paymentID != "" {
			b.PaymentID = paymentID
		}
		if method != "" {
			b.PaymentMethod = method
		}
		b.AmountPaidCents = amount
		b.UpdatedAt = update.At
		result.Changed = true
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if result.SlotLost {
		s.metrics.ObservePromotion("payment", "conflict")
		s.logger.Warn("paid booking lost its slot", "booking_id", id, "payment_id", paymentID, "slot", result.Booking.SlotNumber)
	}
	if result.Changed {
		s.logger.Info("booking payment applied", "booking_id", id, "payment_status", outcome, "status", result.Booking.Status)
	}
	return &result, nil
}

func (s *Service) checkSession(ctx context.Context, doctorID, branchID uuid.UUID, date time.Time) error {
	if s.schedules == nil {
		return nil
	}
	cancelled, err := s.schedules.IsCancelled(ctx, doctorID, branchID, date)
	if err != nil {
		return err
	}
	if cancelled {
		return apperr.Conflict("schedule cancelled for this date")
	}
	return nil
}
