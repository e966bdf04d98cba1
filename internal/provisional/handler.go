package provisional

import (
	"net/http"

	"github.com/wolfman30/clinic-scheduler/internal/apperr"
	"github.com/wolfman30/clinic-scheduler/internal/http/respond"
	"github.com/wolfman30/clinic-scheduler/pkg/logging"
)

// Handler exposes hold creation over HTTP.
type Handler struct {
	holds  *HoldService
	logger *logging.Logger
}

// NewHandler creates a hold handler.
func NewHandler(holds *HoldService, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{holds: holds, logger: logger}
}

// Create handles POST /api/bookings/holds.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var req HoldRequest
	if err := respond.Decode(r, &req); err != nil {
		respond.Error(w, err)
		return
	}
	session, err := h.holds.Hold(r.Context(), req)
	if err != nil {
		if apperr.KindOf(err) == apperr.KindUnexpected {
			h.logger.Error("create provisional hold failed", "error", err, "doctor_id", req.DoctorID)
		}
		respond.Error(w, err)
		return
	}
	respond.JSON(w, http.StatusCreated, map[string]any{"status": http.StatusCreated, "data": session})
}
