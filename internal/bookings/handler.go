package bookings

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/wolfman30/clinic-scheduler/internal/apperr"
	"github.com/wolfman30/clinic-scheduler/internal/http/respond"
	"github.com/wolfman30/clinic-scheduler/pkg/logging"
)

// Handler exposes direct booking over HTTP.
type Handler struct {
	service *Service
	logger  *logging.Logger
}

// NewHandler creates a bookings handler.
func NewHandler(service *Service, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{service: service, logger: logger}
}

// Create handles POST /api/bookings.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var req DirectRequest
	if err := respond.Decode(r, &req); err != nil {
		respond.Error(w, err)
		return
	}
	b, err := h.service.CreateDirect(r.Context(), req)
	if err != nil {
		if apperr.KindOf(err) == apperr.KindUnexpected {
			h.logger.Error("failed to create booking", "error", err, "doctor_id", req.DoctorID, "slot", req.SlotNumber)
		}
		respond.Error(w, err)
		return
	}
	respond.JSON(w, http.StatusCreated, map[string]any{"status": http.StatusCreated, "data": b.View()})
}

// Get handles GET /api/bookings/{bookingID}.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "bookingID"))
	if err != nil {
		respond.Error(w, apperr.Validation("bookingID must be a uuid", "bookingID"))
		return
	}
	b, err := h.service.Get(r.Context(), id)
	if err != nil {
		if apperr.KindOf(err) == apperr.KindUnexpected {
			h.logger.Error("failed to load booking", "error", err, "booking_id", id)
		}
		respond.Error(w, err)
		return
	}
	respond.JSON(w, http.StatusOK, map[string]any{"status": http.StatusOK, "data": b.View()})
}
