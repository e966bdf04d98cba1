// Package notify sends best-effort patient SMS about booking outcomes.
package notify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/wolfman30/clinic-scheduler/internal/bookings"
	"github.com/wolfman30/clinic-scheduler/internal/provisional"
	"github.com/wolfman30/clinic-scheduler/internal/scheduling"
	"github.com/wolfman30/clinic-scheduler/pkg/logging"
)

var _ scheduling.CancellationNotifier = (*Service)(nil)

// Service formats and sends patient notifications. Failures are logged and
// never returned; callers have already committed their state.
type Service struct {
	sms       SMSSender
	patients  PatientDirectory
	schedules ScheduleLookup
	perSlot   time.Duration
	logger    *logging.Logger
}

// NewService creates a notification service. perSlotMinutes is the length
// of one slot used to derive appointment times.
func NewService(sms SMSSender, patients PatientDirectory, schedules ScheduleLookup, perSlotMinutes int, logger *logging.Logger) *Service {
	if logger == nil {
		logger = logging.Default()
	}
	if sms == nil {
		sms = NewLogSender(logger)
	}
	if perSlotMinutes <= 0 {
		perSlotMinutes = 10
	}
	return &Service{
		sms:       sms,
		patients:  patients,
		schedules: schedules,
		perSlot:   time.Duration(perSlotMinutes) * time.Minute,
		logger:    logger,
	}
}

// AppointmentTime is the session start plus slot × slot length.
func AppointmentTime(startTime string, slot int, perSlot time.Duration) (string, error) {
	start, err := time.Parse("15:04", startTime)
	if err != nil {
		return "", fmt.Errorf("notify: invalid start time %q: %w", startTime, err)
	}
	return start.Add(time.Duration(slot) * perSlot).Format("15:04"), nil
}

// AppointmentConfirmed tells the patient their booking is confirmed.
func (s *Service) AppointmentConfirmed(ctx context.Context, b *bookings.Booking) {
	if b == nil {
		return
	}
	contact, ok := s.contact(ctx, b.PatientID, "booking_id", b.ID)
	if !ok {
		return
	}
	session := s.session(ctx, b.ScheduleID)

	var sb strings.Builder
	fmt.Fprintf(&sb, "Hi %s, your appointment", greetingName(contact.Name))
	if session.DoctorName != "" {
		fmt.Fprintf(&sb, " with Dr. %s", session.DoctorName)
	}
	fmt.Fprintf(&sb, " on %s", b.DateString())
	if at, err := AppointmentTime(session.StartTime, b.SlotNumber, s.perSlot); err == nil {
		fmt.Fprintf(&sb, " at %s", at)
	}
	fmt.Fprintf(&sb, " is confirmed. Token number: %d.", b.TokenNumber)
	s.send(ctx, contact.Phone, sb.String(), "confirmed", "booking_id", b.ID)
}

// AppointmentsCancelled tells every affected patient that the session was
// cancelled.
func (s *Service) AppointmentsCancelled(ctx context.Context, occ scheduling.Occurrence, cancelled []scheduling.CancelledBooking) {
	if len(cancelled) == 0 {
		return
	}
	session := s.session(ctx, occ.ScheduleID)
	date := occ.Date.Format(scheduling.DateLayout)
	for _, c := range cancelled {
		contact, ok := s.contact(ctx, c.PatientID, "booking_id", c.ID)
		if !ok {
			continue
		}
		var sb strings.Builder
		fmt.Fprintf(&sb, "Hi %s, your appointment", greetingName(contact.Name))
		if session.DoctorName != "" {
			fmt.Fprintf(&sb, " with Dr. %s", session.DoctorName)
		}
		fmt.Fprintf(&sb, " on %s (token %d) has been cancelled because the doctor is unavailable. Please contact the clinic to rebook.", date, c.SlotNumber)
		s.send(ctx, contact.Phone, sb.String(), "cancelled", "booking_id", c.ID)
	}
}

// SlotUnavailable tells a patient who paid for a hold that the slot was
// taken before the payment arrived.
func (s *Service) SlotUnavailable(ctx context.Context, h *provisional.Hold) {
	if h == nil {
		return
	}
	contact, ok := s.contact(ctx, h.PatientID, "order_id", h.OrderID)
	if !ok {
		return
	}
	body := fmt.Sprintf("Hi %s, the slot you paid for on %s is no longer available. Your payment reference is %s; please contact the clinic for a refund or a new slot.",
		greetingName(contact.Name), h.AppointmentDate, h.OrderID)
	s.send(ctx, contact.Phone, body, "slot_unavailable", "order_id", h.OrderID)
}

// BookingSlotLost tells a pay-later patient whose payment arrived after the
// slot was given to someone else that the booking was not confirmed.
func (s *Service) BookingSlotLost(ctx context.Context, b *bookings.Booking) {
	if b == nil {
		return
	}
	contact, ok := s.contact(ctx, b.PatientID, "booking_id", b.ID)
	if !ok {
		return
	}
	ref := b.PaymentID
	if ref == "" {
		ref = b.ID.String()
	}
	body := fmt.Sprintf("Hi %s, your payment for the appointment on %s arrived after the slot was released and the booking could not be confirmed. Your payment reference is %s; please contact the clinic for a refund or a new slot.",
		greetingName(contact.Name), b.DateString(), ref)
	s.send(ctx, contact.Phone, body, "slot_lost", "booking_id", b.ID)
}

func (s *Service) contact(ctx context.Context, patientID uuid.UUID, refKey string, ref any) (*Contact, bool) {
	if s.patients == nil {
		s.logger.Debug("notify: patient directory not configured")
		return nil, false
	}
	contact, err := s.patients.Contact(ctx, patientID)
	if err != nil {
		s.logger.Warn("notify: patient contact unavailable", "error", err, "patient_id", patientID, refKey, ref)
		return nil, false
	}
	return contact, true
}

func (s *Service) session(ctx context.Context, scheduleID uuid.UUID) Session {
	if s.schedules == nil {
		return Session{}
	}
	session, err := s.schedules.Session(ctx, scheduleID)
	if err != nil {
		s.logger.Warn("notify: schedule lookup failed", "error", err, "schedule_id", scheduleID)
		return Session{}
	}
	return *session
}

func (s *Service) send(ctx context.Context, to, body, kind, refKey string, ref any) {
	if err := s.sms.SendSMS(ctx, to, body); err != nil {
		s.logger.Error("notify: sms failed", "error", err, "kind", kind, refKey, ref)
		return
	}
	s.logger.Info("notify: sms sent", "kind", kind, refKey, ref)
}

func greetingName(name string) string {
	if name = strings.TrimSpace(name); name == "" {
		return "there"
	}
	return name
}
