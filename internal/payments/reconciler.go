// Package payments reconciles PayHere payment notifications with
// provisional holds and persisted bookings.
package payments

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/clinic-scheduler/internal/apperr"
	"github.com/wolfman30/clinic-scheduler/internal/bookings"
	"github.com/wolfman30/clinic-scheduler/internal/observability/metrics"
	"github.com/wolfman30/clinic-scheduler/internal/payhere"
	"github.com/wolfman30/clinic-scheduler/internal/provisional"
	"github.com/wolfman30/clinic-scheduler/pkg/logging"
)

var paymentsTracer = otel.Tracer("clinic.internal.payments")

// Notification is a PayHere server-to-server payment notification.
type Notification struct {
	MerchantID string `json:"merchant_id"`
	OrderID    string `json:"order_id"`
	PaymentID  string `json:"payment_id"`
	MD5Sig     string `json:"md5sig"`
	Amount     string `json:"payhere_amount"`
	Currency   string `json:"payhere_currency"`
	StatusCode string `json:"status_code"`
	Custom1    string `json:"custom_1"`
	Custom2    string `json:"custom_2"`
	Method     string `json:"method"`
	StatusMsg  string `json:"status_message"`
}

// Key is the order key the notification refers to: custom_1 when the
// checkout carried it, order_id otherwise.
func (n Notification) Key() string {
	if n.Custom1 != "" {
		return n.Custom1
	}
	return n.OrderID
}

func (n Notification) values() map[string]string {
	return map[string]string{
		"merchant_id":      n.MerchantID,
		"order_id":         n.OrderID,
		"payment_id":       n.PaymentID,
		"md5sig":           n.MD5Sig,
		"payhere_amount":   n.Amount,
		"payhere_currency": n.Currency,
		"status_code":      n.StatusCode,
	}
}

// Outcome reports what Reconcile did with a notification.
type Outcome string

const (
	OutcomePromoted         Outcome = "promoted"
	OutcomeAlreadyPromoted  Outcome = "already_promoted"
	OutcomeSlotConflict     Outcome = "slot_conflict"
	OutcomeDiscarded        Outcome = "discarded"
	OutcomeHoldMissing      Outcome = "hold_missing"
	OutcomePaymentApplied   Outcome = "payment_applied"
	OutcomePaymentUnchanged Outcome = "payment_unchanged"
	OutcomeUnknownBooking   Outcome = "unknown_booking"
	OutcomeIgnored          Outcome = "ignored"
)

// BookingService is the part of bookings.Service the reconciler drives.
type BookingService interface {
	Promote(ctx context.Context, in bookings.PromoteInput) (*bookings.PromoteResult, error)
	ApplyPayment(ctx context.Context, id uuid.UUID, outcome bookings.PaymentStatus, paymentID, method string, amountCents int64) (*bookings.PaymentResult, error)
}

// Notifier sends best-effort patient messages. Implementations log their
// own failures.
type Notifier interface {
	AppointmentConfirmed(ctx context.Context, b *bookings.Booking)
	SlotUnavailable(ctx context.Context, h *provisional.Hold)
	BookingSlotLost(ctx context.Context, b *bookings.Booking)
}

// Reconciler turns verified notifications into booking state.
type Reconciler struct {
	holds    provisional.Store
	bookings BookingService
	notifier Notifier
	metrics  *metrics.BookingMetrics
	logger   *logging.Logger
}

// NewReconciler constructs a Reconciler. notifier and m may be nil.
func NewReconciler(holds provisional.Store, svc BookingService, notifier Notifier, m *metrics.BookingMetrics, logger *logging.Logger) *Reconciler {
	if holds == nil || svc == nil {
		panic("payments: hold store and booking service required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Reconciler{holds: holds, bookings: svc, notifier: notifier, metrics: m, logger: logger}
}

// Reconcile applies a verified notification. Redelivery of the same
// notification is safe.
func (r *Reconciler) Reconcile(ctx context.Context, n Notification) (Outcome, error) {
	ctx, span := paymentsTracer.Start(ctx, "payments.reconcile")
	defer span.End()
	key := n.Key()
	span.SetAttributes(
		attribute.String("clinic.order_id", n.OrderID),
		attribute.String("clinic.order_key", key),
		attribute.String("clinic.status_code", n.StatusCode),
	)

	var (
		outcome Outcome
		err     error
	)
	if provisional.IsKey(key) {
		outcome, err = r.reconcileHold(ctx, key, n)
	} else {
		outcome, err = r.reconcileBooking(ctx, key, n)
	}
	if err != nil {
		span.RecordError(err)
	}
	span.SetAttributes(attribute.String("clinic.outcome", string(outcome)))
	return outcome, err
}

func (r *Reconciler) reconcileHold(ctx context.Context, key string, n Notification) (Outcome, error) {
	hold, err := r.holds.Get(ctx, key)
	if errors.Is(err, provisional.ErrHoldNotFound) {
		r.logger.Info("hold missing, treating as already reconciled", "order_id", n.OrderID, "key", key, "status_code", n.StatusCode)
		return OutcomeHoldMissing, nil
	}
	if err != nil {
		return "", fmt.Errorf("payments: load hold: %w", err)
	}

	if n.StatusCode != payhere.StatusSuccess {
		r.deleteHold(ctx, key)
		r.logger.Info("payment not successful, hold discarded", "order_id", n.OrderID, "key", key, "status_code", n.StatusCode)
		return OutcomeDiscarded, nil
	}

	in, err := r.promoteInput(key, hold, n)
	if err != nil {
		return "", err
	}
	result, err := r.bookings.Promote(ctx, in)
	switch {
	case errors.Is(err, apperr.ErrConflict):
		r.deleteHold(ctx, key)
		r.logger.Warn("paid hold lost its slot", "order_id", n.OrderID, "key", key, "payment_id", n.PaymentID, "slot", hold.SlotNumber)
		if r.notifier != nil {
			r.notifier.SlotUnavailable(ctx, hold)
		}
		return OutcomeSlotConflict, nil
	case err != nil:
		return "", fmt.Errorf("payments: promote hold: %w", err)
	}

	r.deleteHold(ctx, key)
	if result.Outcome == bookings.AlreadyPromoted {
		return OutcomeAlreadyPromoted, nil
	}
	if r.notifier != nil {
		r.notifier.AppointmentConfirmed(ctx, result.Booking)
	}
	return OutcomePromoted, nil
}

func (r *Reconciler) promoteInput(key string, hold *provisional.Hold, n Notification) (bookings.PromoteInput, error) {
	date, err := hold.Date()
	if err != nil {
		return bookings.PromoteInput{}, fmt.Errorf("payments: hold %s: %w", key, err)
	}
	amount, err := payhere.ParseAmount(n.Amount)
	if err != nil {
		return bookings.PromoteInput{}, fmt.Errorf("payments: notification amount: %w", err)
	}
	if expected, err := hold.AmountCents(); err == nil && expected != amount {
		r.metrics.ObserveAmountMismatch()
		r.logger.Warn("paid amount differs from hold", "order_id", n.OrderID, "key", key, "paid", n.Amount, "expected", hold.Amount)
	}
	return bookings.PromoteInput{
		OrderRef:        key,
		DoctorID:        hold.DoctorID,
		BranchID:        hold.BranchID,
		ScheduleID:      hold.ScheduleID,
		PatientID:       hold.PatientID,
		AppointmentDate: date,
		SlotNumber:      hold.SlotNumber,
		PaymentID:       n.PaymentID,
		PaymentMethod:   n.Method,
		AmountCents:     amount,
	}, nil
}

func (r *Reconciler) reconcileBooking(ctx context.Context, key string, n Notification) (Outcome, error) {
	id, err := uuid.Parse(key)
	if err != nil {
		r.logger.Warn("notification for unknown order key", "order_id", n.OrderID, "key", key)
		return OutcomeIgnored, nil
	}
	status, ok := paymentStatus(n.StatusCode)
	if !ok {
		r.logger.Warn("unknown payhere status code", "order_id", n.OrderID, "status_code", n.StatusCode)
		return OutcomeIgnored, nil
	}
	var amount int64
	if status == bookings.PaymentPaid {
		if amount, err = payhere.ParseAmount(n.Amount); err != nil {
			return "", fmt.Errorf("payments: notification amount: %w", err)
		}
	}

	result, err := r.bookings.ApplyPayment(ctx, id, status, n.PaymentID, n.Method, amount)
	if errors.Is(err, apperr.ErrNotFound) {
		r.logger.Warn("notification for unknown booking", "order_id", n.OrderID, "booking_id", id)
		return OutcomeUnknownBooking, nil
	}
	if err != nil {
		return "", fmt.Errorf("payments: apply payment: %w", err)
	}
	if !result.Changed {
		return OutcomePaymentUnchanged, nil
	}
	if result.SlotLost {
		if r.notifier != nil {
			r.notifier.BookingSlotLost(ctx, result.Booking)
		}
		return OutcomeSlotConflict, nil
	}
	if status == bookings.PaymentPaid && result.Booking.Status == bookings.StatusBooked && r.notifier != nil {
		r.notifier.AppointmentConfirmed(ctx, result.Booking)
	}
	return OutcomePaymentApplied, nil
}

func (r *Reconciler) deleteHold(ctx context.Context, key string) {
	if err := r.holds.Delete(ctx, key); err != nil {
		r.logger.Warn("delete hold failed", "key", key, "error", err)
	}
}

func paymentStatus(code string) (bookings.PaymentStatus, bool) {
	switch code {
	case payhere.StatusSuccess:
		return bookings.PaymentPaid, true
	case payhere.StatusPending:
		return bookings.PaymentPending, true
	case payhere.StatusCancelled:
		return bookings.PaymentCancelled, true
	case payhere.StatusFailed:
		return bookings.PaymentFailed, true
	case payhere.StatusChargedBack:
		return bookings.PaymentChargedBack, true
	default:
		return "", false
	}
}
