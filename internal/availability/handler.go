package availability

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/wolfman30/clinic-scheduler/internal/apperr"
	"github.com/wolfman30/clinic-scheduler/internal/http/respond"
	"github.com/wolfman30/clinic-scheduler/internal/scheduling"
	"github.com/wolfman30/clinic-scheduler/internal/validation"
	"github.com/wolfman30/clinic-scheduler/pkg/logging"
)

// Request is the availability lookup accepted as JSON or query parameters.
type Request struct {
	DoctorID        string `json:"doctor_id" validate:"required,uuid"`
	AppointmentDate string `json:"appointment_date" validate:"required,datetime=2006-01-02"`
	ScheduleDay     string `json:"schedule_day" validate:"required"`
	BranchID        string `json:"branch_id,omitempty" validate:"omitempty,uuid"`
}

func (r Request) query() (Query, error) {
	if err := validation.Struct(r); err != nil {
		return Query{}, err
	}
	day, err := scheduling.ParseWeekday(r.ScheduleDay)
	if err != nil {
		return Query{}, err
	}
	date, err := scheduling.ParseDate(r.AppointmentDate)
	if err != nil {
		return Query{}, err
	}
	q := Query{DoctorID: uuid.MustParse(r.DoctorID), Date: date, ScheduleDay: day}
	if r.BranchID != "" {
		branch := uuid.MustParse(r.BranchID)
		q.BranchID = &branch
	}
	return q, nil
}

// Handler serves availability lookups.
type Handler struct {
	calc   *Calculator
	logger *logging.Logger
}

// NewHandler creates an availability handler.
func NewHandler(calc *Calculator, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{calc: calc, logger: logger}
}

// Get handles GET /api/availability.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	values := r.URL.Query()
	h.serve(w, r, Request{
		DoctorID:        values.Get("doctor_id"),
		AppointmentDate: values.Get("appointment_date"),
		ScheduleDay:     values.Get("schedule_day"),
		BranchID:        values.Get("branch_id"),
	})
}

// Post handles POST /api/availability.
func (h *Handler) Post(w http.ResponseWriter, r *http.Request) {
	var req Request
	if err := respond.Decode(r, &req); err != nil {
		respond.Error(w, err)
		return
	}
	h.serve(w, r, req)
}

func (h *Handler) serve(w http.ResponseWriter, r *http.Request, req Request) {
	q, err := req.query()
	if err != nil {
		respond.Error(w, err)
		return
	}
	result, err := h.calc.GetAvailability(r.Context(), q)
	if err != nil {
		if apperr.KindOf(err) == apperr.KindUnexpected {
			h.logger.Error("availability lookup failed", "error", err, "doctor_id", req.DoctorID, "date", req.AppointmentDate)
			respond.Message(w, http.StatusBadRequest, "unable to load availability", nil)
			return
		}
		respond.Error(w, err)
		return
	}
	respond.JSON(w, http.StatusOK, map[string]any{"status": http.StatusOK, "data": result})
}
