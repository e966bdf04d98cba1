package scheduling

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/wolfman30/clinic-scheduler/internal/apperr"
)

// DateLayout is the wire format for calendar dates.
const DateLayout = "2006-01-02"

// EntityDoctorSchedule is the entity type recorded on schedule requests.
const EntityDoctorSchedule = "doctor_schedule"

// Weekday is the day a recurring schedule block repeats on.
type Weekday string

const (
	Monday    Weekday = "Monday"
	Tuesday   Weekday = "Tuesday"
	Wednesday Weekday = "Wednesday"
	Thursday  Weekday = "Thursday"
	Friday    Weekday = "Friday"
	Saturday  Weekday = "Saturday"
	Sunday    Weekday = "Sunday"
)

var weekdays = map[string]Weekday{
	"monday":    Monday,
	"tuesday":   Tuesday,
	"wednesday": Wednesday,
	"thursday":  Thursday,
	"friday":    Friday,
	"saturday":  Saturday,
	"sunday":    Sunday,
}

// ParseWeekday accepts a day name in any case.
func ParseWeekday(s string) (Weekday, error) {
	day, ok := weekdays[strings.ToLower(strings.TrimSpace(s))]
	if !ok {
		return "", apperr.Validation(fmt.Sprintf("invalid schedule day %q", s), "schedule_day")
	}
	return day, nil
}

// WeekdayOf returns the schedule day of a calendar date.
func WeekdayOf(date time.Time) Weekday {
	return Weekday(date.Weekday().String())
}

// ParseDate parses a YYYY-MM-DD calendar date as midnight UTC.
func ParseDate(s string) (time.Time, error) {
	d, err := time.Parse(DateLayout, strings.TrimSpace(s))
	if err != nil {
		return time.Time{}, apperr.Validation("date must be in YYYY-MM-DD format", "appointment_date")
	}
	return d, nil
}

// ScheduleBlock is a doctor's recurring weekly session at a branch.
type ScheduleBlock struct {
	ID          uuid.UUID `json:"id"`
	DoctorID    uuid.UUID `json:"doctor_id"`
	BranchID    uuid.UUID `json:"branch_id"`
	Day         Weekday   `json:"schedule_day"`
	StartTime   string    `json:"start_time"`
	MaxPatients int       `json:"max_patients"`
	Active      bool      `json:"active"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Slots returns every slot number of the block, 1..MaxPatients.
func (b ScheduleBlock) Slots() []int {
	if b.MaxPatients < 1 {
		return []int{}
	}
	slots := make([]int, b.MaxPatients)
	for i := range slots {
		slots[i] = i + 1
	}
	return slots
}

// HasSlot reports whether n is a valid slot number for the block.
func (b ScheduleBlock) HasSlot(n int) bool {
	return n >= 1 && n <= b.MaxPatients
}

// StartOn returns the session start on the given date in loc.
func (b ScheduleBlock) StartOn(date time.Time, loc *time.Location) (time.Time, error) {
	t, err := time.Parse("15:04", b.StartTime)
	if err != nil {
		return time.Time{}, fmt.Errorf("scheduling: parse start time %q: %w", b.StartTime, err)
	}
	if loc == nil {
		loc = time.UTC
	}
	return time.Date(date.Year(), date.Month(), date.Day(), t.Hour(), t.Minute(), 0, 0, loc), nil
}

// CandidateSchedule is the block a schedule request proposes.
type CandidateSchedule struct {
	DoctorID    uuid.UUID `json:"doctor_id" validate:"required"`
	BranchID    uuid.UUID `json:"branch_id" validate:"required"`
	ScheduleDay string    `json:"schedule_day" validate:"required,oneof=Monday Tuesday Wednesday Thursday Friday Saturday Sunday"`
	StartTime   string    `json:"start_time" validate:"required,hhmm"`
	MaxPatients int       `json:"max_patients" validate:"gte=1,lte=500"`
}

// RequestAction is the change a schedule request proposes.
type RequestAction string

const (
	ActionCreate RequestAction = "create"
	ActionUpdate RequestAction = "update"
	ActionRetire RequestAction = "retire"
)

func (a RequestAction) Valid() bool {
	switch a {
	case ActionCreate, ActionUpdate, ActionRetire:
		return true
	}
	return false
}

// RequestStatus is the lifecycle state of a schedule request.
type RequestStatus string

const (
	RequestPending   RequestStatus = "pending"
	RequestApproved  RequestStatus = "approved"
	RequestRejected  RequestStatus = "rejected"
	RequestWithdrawn RequestStatus = "withdrawn"
)

// Terminal reports whether no further transition is allowed.
func (s RequestStatus) Terminal() bool {
	switch s {
	case RequestApproved, RequestRejected, RequestWithdrawn:
		return true
	}
	return false
}

// ScheduleRequest proposes a create, update or retirement of a block and
// waits for staff approval.
type ScheduleRequest struct {
	ID            uuid.UUID         `json:"id"`
	EntityType    string            `json:"entity_type"`
	Action        RequestAction     `json:"action"`
	ScheduleID    *uuid.UUID        `json:"schedule_id,omitempty"`
	RequestedBy   uuid.UUID         `json:"requested_by"`
	Payload       CandidateSchedule `json:"payload"`
	Status        RequestStatus     `json:"status"`
	Reason        string            `json:"reason,omitempty"`
	ApprovalNotes string            `json:"approval_notes,omitempty"`
	ReviewedBy    *uuid.UUID        `json:"reviewed_by,omitempty"`
	RequestedAt   time.Time         `json:"requested_at"`
	ReviewedAt    *time.Time        `json:"reviewed_at,omitempty"`
}

// RequestView is the staff listing projection of a schedule request.
type RequestView struct {
	ScheduleRequest
	DoctorName string `json:"doctor_name,omitempty"`
}

// CancellationStatus is the lifecycle state of a per-date cancellation.
type CancellationStatus string

const (
	CancellationPending  CancellationStatus = "pending"
	CancellationApproved CancellationStatus = "approved"
	CancellationRejected CancellationStatus = "rejected"
)

// ScheduleCancellation cancels one block's occurrence on one date.
type ScheduleCancellation struct {
	ID           uuid.UUID          `json:"id"`
	DoctorID     uuid.UUID          `json:"doctor_id"`
	BranchID     uuid.UUID          `json:"branch_id"`
	ScheduleID   uuid.UUID          `json:"schedule_id"`
	Date         time.Time          `json:"-"`
	Reason       string             `json:"reason"`
	Status       CancellationStatus `json:"status"`
	RejectReason string             `json:"reject_reason,omitempty"`
	ApprovedAt   *time.Time         `json:"approved_at,omitempty"`
	ApprovedBy   *uuid.UUID         `json:"approved_by,omitempty"`
	CreatedAt    time.Time          `json:"created_at"`
}

// DateString renders the cancelled date.
func (c ScheduleCancellation) DateString() string {
	return c.Date.Format(DateLayout)
}

// Occurrence identifies one dated instance of a schedule block.
func (c ScheduleCancellation) Occurrence() Occurrence {
	return Occurrence{DoctorID: c.DoctorID, BranchID: c.BranchID, ScheduleID: c.ScheduleID, Date: c.Date}
}

// CancellationView joins a cancellation with display fields for staff.
type CancellationView struct {
	ScheduleCancellation
	DateText    string  `json:"date"`
	DoctorName  string  `json:"doctor_name,omitempty"`
	BranchName  string  `json:"branch_name,omitempty"`
	ScheduleDay Weekday `json:"schedule_day,omitempty"`
	StartTime   string  `json:"start_time,omitempty"`
}

// Occurrence identifies a schedule block on a concrete date.
type Occurrence struct {
	DoctorID   uuid.UUID
	BranchID   uuid.UUID
	ScheduleID uuid.UUID
	Date       time.Time
}

// CancelledBooking is a booking transitioned by a cancellation cascade.
type CancelledBooking struct {
	ID         uuid.UUID
	PatientID  uuid.UUID
	SlotNumber int
}
