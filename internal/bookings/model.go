package bookings

import (
	"time"

	"github.com/google/uuid"

	"github.com/wolfman30/clinic-scheduler/internal/scheduling"
)

// Status is the lifecycle state of a booking.
type Status string

const (
	StatusBooked         Status = "booked"
	StatusPendingPayment Status = "pending_payment"
	StatusCancelled      Status = "cancelled"
	StatusRescheduled    Status = "rescheduled"
	StatusCompleted      Status = "completed"
	StatusNoShow         Status = "no_show"
)

// PaymentStatus tracks the money side of a booking.
type PaymentStatus string

const (
	PaymentUnpaid      PaymentStatus = "unpaid"
	PaymentPending     PaymentStatus = "pending"
	PaymentPaid        PaymentStatus = "paid"
	PaymentFailed      PaymentStatus = "failed"
	PaymentCancelled   PaymentStatus = "cancelled"
	PaymentChargedBack PaymentStatus = "charged_back"
)

// Booking is a persisted appointment in one slot of a doctor's session.
type Booking struct {
	ID              uuid.UUID     `json:"id"`
	DoctorID        uuid.UUID     `json:"doctor_id"`
	BranchID        uuid.UUID     `json:"branch_id"`
	ScheduleID      uuid.UUID     `json:"schedule_id"`
	PatientID       uuid.UUID     `json:"patient_id"`
	AppointmentDate time.Time     `json:"-"`
	SlotNumber      int           `json:"slot_number"`
	Status          Status        `json:"status"`
	PaymentStatus   PaymentStatus `json:"payment_status"`
	PaymentID       string        `json:"payment_id,omitempty"`
	PaymentMethod   string        `json:"payment_method,omitempty"`
	AmountPaidCents int64         `json:"amount_paid_cents"`
	TokenNumber     int           `json:"token_number"`
	OrderRef        string        `json:"order_ref,omitempty"`
	CreatedAt       time.Time     `json:"created_at"`
	UpdatedAt       time.Time     `json:"updated_at"`
}

// Occupies reports whether the booking holds its slot at now. A booking
// awaiting payment only holds the slot inside the freshness window.
func (b Booking) Occupies(now time.Time, window time.Duration) bool {
	switch b.Status {
	case StatusCancelled, StatusRescheduled:
		return false
	case StatusPendingPayment:
		return now.Sub(b.CreatedAt) < window
	default:
		return true
	}
}

// DateString renders the appointment date.
func (b Booking) DateString() string {
	return b.AppointmentDate.Format(scheduling.DateLayout)
}

// View is the JSON shape returned by the API.
type View struct {
	Booking
	AppointmentDate string `json:"appointment_date"`
}

// View pairs the booking with its rendered date for JSON responses.
func (b Booking) View() View {
	return View{Booking: b, AppointmentDate: b.DateString()}
}
