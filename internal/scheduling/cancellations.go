package scheduling

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/clinic-scheduler/internal/apperr"
	"github.com/wolfman30/clinic-scheduler/internal/clock"
	"github.com/wolfman30/clinic-scheduler/internal/database"
	"github.com/wolfman30/clinic-scheduler/internal/observability/metrics"
	"github.com/wolfman30/clinic-scheduler/pkg/logging"
)

// BookingCascader cancels the live bookings of one schedule occurrence.
// It runs on the caller's transaction.
type BookingCascader interface {
	CancelActiveForOccurrence(ctx context.Context, q database.Querier, occ Occurrence) ([]CancelledBooking, error)
}

// CancellationNotifier informs patients whose bookings were cancelled.
// Implementations must not fail the caller.
type CancellationNotifier interface {
	AppointmentsCancelled(ctx context.Context, occ Occurrence, cancelled []CancelledBooking)
}

// CancellationInput is the input of RequestCancellation.
type CancellationInput struct {
	DoctorID   uuid.UUID `json:"doctor_id"`
	BranchID   uuid.UUID `json:"branch_id"`
	ScheduleID uuid.UUID `json:"schedule_id"`
	Date       string    `json:"date"`
	Reason     string    `json:"reason"`
}

// ApprovalResult describes an approved cancellation and its cascade.
type ApprovalResult struct {
	Cancellation *ScheduleCancellation
	Cancelled    []CancelledBooking
}

// Message summarises the cascade for staff.
func (r ApprovalResult) Message() string {
	if len(r.Cancelled) == 0 {
		return "no active appointments found"
	}
	return fmt.Sprintf("%d appointments cancelled", len(r.Cancelled))
}

// CancellationWorkflow handles per-date cancellation of schedule blocks.
type CancellationWorkflow struct {
	store    *PostgresStore
	cascader BookingCascader
	notifier CancellationNotifier
	clock    clock.Clock
	location *time.Location
	metrics  *metrics.BookingMetrics
	logger   *logging.Logger
}

// CancellationOptions configures NewCancellationWorkflow.
type CancellationOptions struct {
	Notifier CancellationNotifier
	Clock    clock.Clock
	Location *time.Location
	Metrics  *metrics.BookingMetrics
	Logger   *logging.Logger
}

// NewCancellationWorkflow constructs the workflow.
func NewCancellationWorkflow(store *PostgresStore, cascader BookingCascader, opts CancellationOptions) *CancellationWorkflow {
	if store == nil {
		panic("scheduling: store required")
	}
	if cascader == nil {
		panic("scheduling: booking cascader required")
	}
	if opts.Logger == nil {
		opts.Logger = logging.Default()
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	return &CancellationWorkflow{
		store:    store,
		cascader: cascader,
		notifier: opts.Notifier,
		clock:    clock.OrReal(opts.Clock),
		location: opts.Location,
		metrics:  opts.Metrics,
		logger:   opts.Logger,
	}
}

// RequestCancellation records a pending cancellation of one block on one date.
func (w *CancellationWorkflow) RequestCancellation(ctx context.Context, in CancellationInput) (*ScheduleCancellation, error) {
	ctx, span := schedulingTracer.Start(ctx, "scheduling.cancellation.request")
	defer span.End()
	span.SetAttributes(
		attribute.String("clinic.schedule_id", in.ScheduleID.String()),
		attribute.String("clinic.date", in.Date),
	)

	var missing []string
	if in.DoctorID == uuid.Nil {
		missing = append(missing, "doctor_id")
	}
	if in.BranchID == uuid.Nil {
		missing = append(missing, "branch_id")
	}
	if in.ScheduleID == uuid.Nil {
		missing = append(missing, "schedule_id")
	}
	if strings.TrimSpace(in.Date) == "" {
		missing = append(missing, "date")
	}
	if len(missing) > 0 {
		return nil, apperr.Validation("missing required fields", missing...)
	}
	date, err := ParseDate(in.Date)
	if err != nil {
		return nil, apperr.Validation("date must be in YYYY-MM-DD format", "date")
	}

	block, err := w.store.GetBlock(ctx, nil, in.ScheduleID)
	if err != nil {
		return nil, err
	}
	if !block.Active || block.DoctorID != in.DoctorID || block.BranchID != in.BranchID {
		return nil, apperr.NotFound("schedule not found")
	}
	if WeekdayOf(date) != block.Day {
		return nil, apperr.Validation(fmt.Sprintf("date falls on %s but the schedule runs on %s", WeekdayOf(date), block.Day), "date")
	}
	if date.Before(w.today()) {
		return nil, apperr.Validation("cannot cancel a past date", "date")
	}

	existing, err := w.store.FindOpenCancellation(ctx, block.ID, date)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		if existing.Status == CancellationApproved {
			return nil, apperr.Conflict("this date is already cancelled")
		}
		return nil, apperr.Conflict("a cancellation request for this date already exists")
	}

	c := &ScheduleCancellation{
		ID:         uuid.New(),
		DoctorID:   block.DoctorID,
		BranchID:   block.BranchID,
		ScheduleID: block.ID,
		Date:       date,
		Reason:     strings.TrimSpace(in.Reason),
		Status:     CancellationPending,
		CreatedAt:  w.clock.Now(),
	}
	if err := w.store.InsertCancellation(ctx, c); err != nil {
		span.RecordError(err)
		return nil, err
	}
	w.metrics.ObserveTransition("cancellation", string(CancellationPending))
	w.logger.Info("schedule cancellation requested", "cancellation_id", c.ID, "schedule_id", c.ScheduleID, "date", c.DateString())
	return c, nil
}

// Approve cancels the occurrence's live bookings and marks the cancellation
// approved atomically. Patients are notified after commit.
func (w *CancellationWorkflow) Approve(ctx context.Context, id, approverID uuid.UUID) (*ApprovalResult, error) {
	ctx, span := schedulingTracer.Start(ctx, "scheduling.cancellation.approve")
	defer span.End()
	span.SetAttributes(attribute.String("clinic.cancellation_id", id.String()))

	if approverID == uuid.Nil {
		return nil, apperr.Validation("approver_id is required", "approver_id")
	}

	var result ApprovalResult
	err := w.store.WithTx(ctx, func(tx pgx.Tx) error {
		c, err := w.store.GetCancellation(ctx, tx, id, true)
		if err != nil {
			return err
		}
		if c.Status != CancellationPending {
			return apperr.AlreadyProcessed("cancellation already processed")
		}

		cancelled, err := w.cascader.CancelActiveForOccurrence(ctx, tx, c.Occurrence())
		if err != nil {
			return fmt.Errorf("scheduling: cascade cancellation: %w", err)
		}

		now := w.clock.Now()
		ok, err := w.store.ApproveCancellation(ctx, tx, c.ID, approverID, now)
		if err != nil {
			return err
		}
		if !ok {
			return apperr.AlreadyProcessed("cancellation already processed")
		}
		c.Status = CancellationApproved
		c.ApprovedAt = &now
		c.ApprovedBy = &approverID
		result = ApprovalResult{Cancellation: c, Cancelled: cancelled}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	span.SetAttributes(attribute.Int("clinic.cancelled_bookings", len(result.Cancelled)))
	w.metrics.ObserveTransition("cancellation", string(CancellationApproved))
	w.metrics.ObserveCascade(len(result.Cancelled))
	w.logger.Info("schedule cancellation approved",
		"cancellation_id", id,
		"approved_by", approverID,
		"cancelled_bookings", len(result.Cancelled),
	)

	if w.notifier != nil && len(result.Cancelled) > 0 {
		w.notifier.AppointmentsCancelled(ctx, result.Cancellation.Occurrence(), result.Cancelled)
	}
	return &result, nil
}

// Reject closes a pending cancellation without touching bookings.
func (w *CancellationWorkflow) Reject(ctx context.Context, id uuid.UUID, reason string) (*ScheduleCancellation, error) {
	c, err := w.store.GetCancellation(ctx, nil, id, false)
	if err != nil {
		return nil, err
	}
	if c.Status != CancellationPending {
		return nil, apperr.AlreadyProcessed("cancellation already processed")
	}
	reason = strings.TrimSpace(reason)
	ok, err := w.store.RejectCancellation(ctx, id, reason)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperr.AlreadyProcessed("cancellation already processed")
	}
	c.Status = CancellationRejected
	c.RejectReason = reason
	w.metrics.ObserveTransition("cancellation", string(CancellationRejected))
	w.logger.Info("schedule cancellation rejected", "cancellation_id", id)
	return c, nil
}

// ListAll returns every cancellation, newest first.
func (w *CancellationWorkflow) ListAll(ctx context.Context) ([]CancellationView, error) {
	return w.store.ListCancellations(ctx, nil)
}

// ListByDoctor returns a doctor's cancellations, newest first.
func (w *CancellationWorkflow) ListByDoctor(ctx context.Context, doctorID uuid.UUID) ([]CancellationView, error) {
	return w.store.ListCancellations(ctx, &doctorID)
}

func (w *CancellationWorkflow) today() time.Time {
	now := w.clock.Now().In(w.location)
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
}
