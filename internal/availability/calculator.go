// Package availability computes which slots of a doctor's session are free
// on a given date.
package availability

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/clinic-scheduler/internal/apperr"
	"github.com/wolfman30/clinic-scheduler/internal/bookings"
	"github.com/wolfman30/clinic-scheduler/internal/clock"
	"github.com/wolfman30/clinic-scheduler/internal/observability/metrics"
	"github.com/wolfman30/clinic-scheduler/internal/scheduling"
	"github.com/wolfman30/clinic-scheduler/pkg/logging"
)

var availabilityTracer = otel.Tracer("clinic.internal.availability")

// ErrScheduleCancelled is returned when an approved cancellation covers the
// requested date.
var ErrScheduleCancelled = apperr.Blocked("schedule cancelled for this date")

// ScheduleResolver finds the block a doctor works on a weekday.
type ScheduleResolver interface {
	Resolve(ctx context.Context, doctorID uuid.UUID, day scheduling.Weekday, branchID *uuid.UUID) (*scheduling.ScheduleBlock, error)
	IsCancelled(ctx context.Context, doctorID, branchID uuid.UUID, date time.Time) (bool, error)
}

// BookingLister lists a doctor's non-cancelled bookings on a date in
// storage order.
type BookingLister interface {
	ListForDoctorDate(ctx context.Context, doctorID uuid.UUID, date time.Time) ([]bookings.Booking, error)
}

// Query identifies the session to inspect.
type Query struct {
	DoctorID    uuid.UUID
	Date        time.Time
	ScheduleDay scheduling.Weekday
	BranchID    *uuid.UUID
}

// Availability is the slot breakdown of one session.
type Availability struct {
	ScheduleID     uuid.UUID          `json:"schedule_id"`
	ScheduleDay    scheduling.Weekday `json:"schedule_day"`
	StartTime      string             `json:"start_time"`
	BranchID       uuid.UUID          `json:"branch_id"`
	AllSlots       []int              `json:"all_slots"`
	BookedSlots    []int              `json:"booked_slots"`
	AvailableSlots []int              `json:"available_slots"`
}

// Calculator computes slot availability. Results are advisory: the booking
// insert re-checks occupancy under its own lock.
type Calculator struct {
	schedules ScheduleResolver
	bookings  BookingLister
	clock     clock.Clock
	window    time.Duration
	metrics   *metrics.BookingMetrics
	logger    *logging.Logger
}

// NewCalculator constructs a Calculator. window is the pending-payment
// freshness window.
func NewCalculator(schedules ScheduleResolver, lister BookingLister, clk clock.Clock, window time.Duration, m *metrics.BookingMetrics, logger *logging.Logger) *Calculator {
	if schedules == nil || lister == nil {
		panic("availability: schedule resolver and booking lister required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	if window <= 0 {
		window = 30 * time.Minute
	}
	return &Calculator{
		schedules: schedules,
		bookings:  lister,
		clock:     clock.OrReal(clk),
		window:    window,
		metrics:   m,
		logger:    logger,
	}
}

// GetAvailability returns the all/booked/available slot sets of the
// doctor's session on q.Date.
func (c *Calculator) GetAvailability(ctx context.Context, q Query) (*Availability, error) {
	ctx, span := availabilityTracer.Start(ctx, "availability.get")
	defer span.End()
	span.SetAttributes(
		attribute.String("clinic.doctor_id", q.DoctorID.String()),
		attribute.String("clinic.date", q.Date.Format(scheduling.DateLayout)),
	)

	result, err := c.compute(ctx, q)
	switch {
	case err == nil:
		c.metrics.ObserveAvailability("ok")
	case apperr.KindOf(err) == apperr.KindUnexpected:
		span.RecordError(err)
		c.metrics.ObserveAvailability("error")
	default:
		c.metrics.ObserveAvailability(string(apperr.KindOf(err)))
	}
	return result, err
}

func (c *Calculator) compute(ctx context.Context, q Query) (*Availability, error) {
	block, err := c.schedules.Resolve(ctx, q.DoctorID, q.ScheduleDay, q.BranchID)
	if err != nil {
		return nil, err
	}
	if day := scheduling.WeekdayOf(q.Date); day != q.ScheduleDay {
		return nil, apperr.Validation(fmt.Sprintf("appointment_date falls on %s, not %s", day, q.ScheduleDay), "schedule_day")
	}

	cancelled, err := c.schedules.IsCancelled(ctx, q.DoctorID, block.BranchID, q.Date)
	if err != nil {
		return nil, err
	}
	if cancelled {
		return nil, ErrScheduleCancelled
	}

	rows, err := c.bookings.ListForDoctorDate(ctx, q.DoctorID, q.Date)
	if err != nil {
		return nil, err
	}

	all := block.Slots()
	booked := OccupiedSlots(rows, block.MaxPatients, c.clock.Now(), c.window)
	return &Availability{
		ScheduleID:     block.ID,
		ScheduleDay:    block.Day,
		StartTime:      block.StartTime,
		BranchID:       block.BranchID,
		AllSlots:       all,
		BookedSlots:    booked,
		AvailableSlots: Subtract(all, booked),
	}, nil
}

// OccupiedSlots returns the slot numbers held at now, in the order of rows,
// without duplicates or numbers outside 1..capacity.
func OccupiedSlots(rows []bookings.Booking, capacity int, now time.Time, window time.Duration) []int {
	seen := make(map[int]struct{}, len(rows))
	out := []int{}
	for _, b := range rows {
		if !b.Occupies(now, window) {
			continue
		}
		if b.SlotNumber < 1 || b.SlotNumber > capacity {
			continue
		}
		if _, dup := seen[b.SlotNumber]; dup {
			continue
		}
		seen[b.SlotNumber] = struct{}{}
		out = append(out, b.SlotNumber)
	}
	return out
}

// Subtract returns the members of all not in taken, keeping all's order.
func Subtract(all, taken []int) []int {
	skip := make(map[int]struct{}, len(taken))
	for _, n := range taken {
		skip[n] = struct{}{}
	}
	out := []int{}
	for _, n := range all {
		if _, ok := skip[n]; !ok {
			out = append(out, n)
		}
	}
	return out
}
