package scheduling

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/wolfman30/clinic-scheduler/internal/apperr"
	"github.com/wolfman30/clinic-scheduler/internal/http/respond"
	"github.com/wolfman30/clinic-scheduler/pkg/logging"
)

// Handler exposes the schedule catalog and both staff workflows over HTTP.
type Handler struct {
	catalog       *Catalog
	requests      *RequestWorkflow
	cancellations *CancellationWorkflow
	logger        *logging.Logger
}

// NewHandler creates a scheduling handler.
func NewHandler(catalog *Catalog, requests *RequestWorkflow, cancellations *CancellationWorkflow, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{catalog: catalog, requests: requests, cancellations: cancellations, logger: logger}
}

// RequestRoutes mounts under /api/schedule-requests.
func (h *Handler) RequestRoutes() chi.Router {
	r := chi.NewRouter()
	r.Post("/", h.SubmitRequest)
	r.Get("/", h.ListRequests)
	r.Route("/{requestID}", func(r chi.Router) {
		r.Get("/", h.GetRequest)
		r.Put("/", h.UpdateRequest)
		r.Post("/withdraw", h.WithdrawRequest)
		r.Post("/approve", h.ApproveRequest)
		r.Post("/reject", h.RejectRequest)
	})
	return r
}

// CancellationRoutes mounts under /api/schedule-cancellations.
func (h *Handler) CancellationRoutes() chi.Router {
	r := chi.NewRouter()
	r.Post("/", h.RequestCancellation)
	r.Get("/", h.ListCancellations)
	r.Post("/{cancellationID}/approve", h.ApproveCancellation)
	r.Post("/{cancellationID}/reject", h.RejectCancellation)
	return r
}

// DoctorRoutes mounts under /api/doctors/{doctorID}.
func (h *Handler) DoctorRoutes(r chi.Router) {
	r.Get("/schedules", h.ListDoctorSchedules)
	r.Get("/schedule-cancellations", h.ListDoctorCancellations)
}

func (h *Handler) SubmitRequest(w http.ResponseWriter, r *http.Request) {
	var in SubmitRequest
	if err := respond.Decode(r, &in); err != nil {
		respond.Error(w, err)
		return
	}
	req, err := h.requests.Submit(r.Context(), in)
	if err != nil {
		h.fail(w, "submit schedule request", err)
		return
	}
	respond.Message(w, http.StatusOK, "schedule request submitted", map[string]any{"id": req.ID})
}

func (h *Handler) UpdateRequest(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "requestID")
	if err != nil {
		respond.Error(w, err)
		return
	}
	var payload CandidateSchedule
	if err := respond.Decode(r, &payload); err != nil {
		respond.Error(w, err)
		return
	}
	req, err := h.requests.UpdateWhilePending(r.Context(), id, payload)
	if err != nil {
		h.fail(w, "update schedule request", err)
		return
	}
	respond.Message(w, http.StatusOK, "schedule request updated", map[string]any{"id": req.ID})
}

type withdrawBody struct {
	DoctorID uuid.UUID `json:"doctor_id"`
}

func (h *Handler) WithdrawRequest(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "requestID")
	if err != nil {
		respond.Error(w, err)
		return
	}
	var body withdrawBody
	if err := respond.Decode(r, &body); err != nil {
		respond.Error(w, err)
		return
	}
	if err := h.requests.Withdraw(r.Context(), id, body.DoctorID); err != nil {
		h.fail(w, "withdraw schedule request", err)
		return
	}
	respond.Message(w, http.StatusOK, "schedule request withdrawn", map[string]any{"id": id})
}

type reviewBody struct {
	ReviewerID uuid.UUID `json:"reviewer_id"`
	Notes      string    `json:"notes"`
	Reason     string    `json:"reason"`
}

func (h *Handler) ApproveRequest(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "requestID")
	if err != nil {
		respond.Error(w, err)
		return
	}
	var body reviewBody
	if err := respond.Decode(r, &body); err != nil {
		respond.Error(w, err)
		return
	}
	block, err := h.requests.Approve(r.Context(), id, body.ReviewerID, body.Notes)
	if err != nil {
		h.fail(w, "approve schedule request", err)
		return
	}
	respond.Message(w, http.StatusOK, "schedule request approved", map[string]any{"id": id, "schedule": block})
}

func (h *Handler) RejectRequest(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "requestID")
	if err != nil {
		respond.Error(w, err)
		return
	}
	var body reviewBody
	if err := respond.Decode(r, &body); err != nil {
		respond.Error(w, err)
		return
	}
	if err := h.requests.Reject(r.Context(), id, body.ReviewerID, body.Reason); err != nil {
		h.fail(w, "reject schedule request", err)
		return
	}
	respond.Message(w, http.StatusOK, "schedule request rejected", map[string]any{"id": id})
}

func (h *Handler) GetRequest(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "requestID")
	if err != nil {
		respond.Error(w, err)
		return
	}
	req, err := h.requests.Get(r.Context(), id)
	if err != nil {
		h.fail(w, "get schedule request", err)
		return
	}
	respond.JSON(w, http.StatusOK, map[string]any{"status": http.StatusOK, "data": req})
}

func (h *Handler) ListRequests(w http.ResponseWriter, r *http.Request) {
	var filter RequestFilter
	if status := r.URL.Query().Get("status"); status != "" {
		filter.Status = RequestStatus(status)
	}
	if by := r.URL.Query().Get("requested_by"); by != "" {
		id, err := uuid.Parse(by)
		if err != nil {
			respond.Error(w, apperr.Validation("requested_by must be a uuid", "requested_by"))
			return
		}
		filter.RequestedBy = &id
	}
	views, err := h.requests.List(r.Context(), filter)
	if err != nil {
		h.fail(w, "list schedule requests", err)
		return
	}
	respond.JSON(w, http.StatusOK, map[string]any{"status": http.StatusOK, "data": views})
}

func (h *Handler) ListDoctorSchedules(w http.ResponseWriter, r *http.Request) {
	doctorID, err := pathUUID(r, "doctorID")
	if err != nil {
		respond.Error(w, err)
		return
	}
	blocks, err := h.catalog.ListForDoctor(r.Context(), doctorID)
	if err != nil {
		h.fail(w, "list doctor schedules", err)
		return
	}
	respond.JSON(w, http.StatusOK, map[string]any{"status": http.StatusOK, "data": blocks})
}

func (h *Handler) RequestCancellation(w http.ResponseWriter, r *http.Request) {
	var in CancellationInput
	if err := respond.Decode(r, &in); err != nil {
		respond.Error(w, err)
		return
	}
	c, err := h.cancellations.RequestCancellation(r.Context(), in)
	if err != nil {
		h.fail(w, "request schedule cancellation", err)
		return
	}
	respond.Message(w, http.StatusOK, "cancellation request submitted", map[string]any{"id": c.ID})
}

type approveCancellationBody struct {
	ApproverID uuid.UUID `json:"approver_id"`
}

func (h *Handler) ApproveCancellation(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "cancellationID")
	if err != nil {
		respond.Error(w, err)
		return
	}
	var body approveCancellationBody
	if err := respond.Decode(r, &body); err != nil {
		respond.Error(w, err)
		return
	}
	result, err := h.cancellations.Approve(r.Context(), id, body.ApproverID)
	if err != nil {
		h.fail(w, "approve schedule cancellation", err)
		return
	}
	respond.Message(w, http.StatusOK, result.Message(), map[string]any{
		"id":                 id,
		"cancelled_bookings": len(result.Cancelled),
	})
}

type rejectCancellationBody struct {
	RejectReason string `json:"reject_reason"`
}

func (h *Handler) RejectCancellation(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "cancellationID")
	if err != nil {
		respond.Error(w, err)
		return
	}
	var body rejectCancellationBody
	if err := respond.Decode(r, &body); err != nil {
		respond.Error(w, err)
		return
	}
	if _, err := h.cancellations.Reject(r.Context(), id, body.RejectReason); err != nil {
		h.fail(w, "reject schedule cancellation", err)
		return
	}
	respond.Message(w, http.StatusOK, "cancellation rejected", map[string]any{"id": id})
}

func (h *Handler) ListCancellations(w http.ResponseWriter, r *http.Request) {
	views, err := h.cancellations.ListAll(r.Context())
	if err != nil {
		h.fail(w, "list schedule cancellations", err)
		return
	}
	respond.JSON(w, http.StatusOK, map[string]any{"status": http.StatusOK, "data": views})
}

func (h *Handler) ListDoctorCancellations(w http.ResponseWriter, r *http.Request) {
	doctorID, err := pathUUID(r, "doctorID")
	if err != nil {
		respond.Error(w, err)
		return
	}
	views, err := h.cancellations.ListByDoctor(r.Context(), doctorID)
	if err != nil {
		h.fail(w, "list doctor cancellations", err)
		return
	}
	respond.JSON(w, http.StatusOK, map[string]any{"status": http.StatusOK, "data": views})
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	if apperr.KindOf(err) == apperr.KindUnexpected {
		h.logger.Error("scheduling request failed", "op", op, "error", err)
	}
	respond.Error(w, err)
}

func pathUUID(r *http.Request, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		return uuid.Nil, apperr.Validation(name+" must be a uuid", name)
	}
	return id, nil
}
