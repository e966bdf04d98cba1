package scheduling

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/clinic-scheduler/internal/apperr"
	"github.com/wolfman30/clinic-scheduler/internal/clock"
	"github.com/wolfman30/clinic-scheduler/internal/observability/metrics"
	"github.com/wolfman30/clinic-scheduler/internal/validation"
	"github.com/wolfman30/clinic-scheduler/pkg/logging"
)

var schedulingTracer = otel.Tracer("clinic.internal.scheduling")

// SubmitRequest is the input of RequestWorkflow.Submit.
type SubmitRequest struct {
	RequestedBy uuid.UUID         `json:"requested_by"`
	Action      RequestAction     `json:"action"`
	ScheduleID  *uuid.UUID        `json:"schedule_id,omitempty"`
	Payload     CandidateSchedule `json:"payload"`
	Reason      string            `json:"reason"`
}

// RequestWorkflow drives schedule requests from pending to a terminal
// status and applies approved changes to the catalog.
type RequestWorkflow struct {
	store   *PostgresStore
	clock   clock.Clock
	metrics *metrics.BookingMetrics
	logger  *logging.Logger
}

// NewRequestWorkflow constructs the workflow.
func NewRequestWorkflow(store *PostgresStore, clk clock.Clock, m *metrics.BookingMetrics, logger *logging.Logger) *RequestWorkflow {
	if store == nil {
		panic("scheduling: store required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &RequestWorkflow{store: store, clock: clock.OrReal(clk), metrics: m, logger: logger}
}

// Submit records a pending request.
func (w *RequestWorkflow) Submit(ctx context.Context, in SubmitRequest) (*ScheduleRequest, error) {
	ctx, span := schedulingTracer.Start(ctx, "scheduling.request.submit")
	defer span.End()
	span.SetAttributes(attribute.String("clinic.request_action", string(in.Action)))

	if in.RequestedBy == uuid.Nil {
		return nil, apperr.Validation("requested_by is required", "requested_by")
	}
	if !in.Action.Valid() {
		return nil, apperr.Validation("action must be one of create, update, retire", "action")
	}

	req := &ScheduleRequest{
		ID:          uuid.New(),
		EntityType:  EntityDoctorSchedule,
		Action:      in.Action,
		RequestedBy: in.RequestedBy,
		Status:      RequestPending,
		Reason:      strings.TrimSpace(in.Reason),
		RequestedAt: w.clock.Now(),
	}

	switch in.Action {
	case ActionCreate:
		payload, err := normalizePayload(in.Payload)
		if err != nil {
			return nil, err
		}
		req.Payload = payload
	case ActionUpdate, ActionRetire:
		if in.ScheduleID == nil {
			return nil, apperr.Validation("schedule_id is required", "schedule_id")
		}
		block, err := w.store.GetBlock(ctx, nil, *in.ScheduleID)
		if err != nil {
			span.RecordError(err)
			return nil, err
		}
		if !block.Active {
			return nil, apperr.NotFound("schedule not found")
		}
		req.ScheduleID = &block.ID
		if in.Action == ActionRetire {
			req.Payload = snapshot(block)
			break
		}
		payload, err := normalizePayload(in.Payload)
		if err != nil {
			return nil, err
		}
		if payload.DoctorID != block.DoctorID {
			return nil, apperr.Validation("doctor_id does not match the schedule", "doctor_id")
		}
		req.Payload = payload
	}

	if err := w.store.InsertRequest(ctx, req); err != nil {
		span.RecordError(err)
		return nil, err
	}
	w.metrics.ObserveTransition("request", string(RequestPending))
	w.logger.Info("schedule request submitted", "request_id", req.ID, "action", req.Action, "requested_by", req.RequestedBy)
	return req, nil
}

// UpdateWhilePending replaces the proposed block of a pending request.
func (w *RequestWorkflow) UpdateWhilePending(ctx context.Context, id uuid.UUID, payload CandidateSchedule) (*ScheduleRequest, error) {
	req, err := w.store.GetRequest(ctx, nil, id, false)
	if err != nil {
		return nil, err
	}
	if req.Status != RequestPending {
		return nil, apperr.AlreadyProcessed("schedule request already processed")
	}
	if req.Action == ActionRetire {
		return nil, apperr.Validation("retire requests carry no editable payload", "payload")
	}
	payload, err = normalizePayload(payload)
	if err != nil {
		return nil, err
	}
	if req.Action == ActionUpdate && payload.DoctorID != req.Payload.DoctorID {
		return nil, apperr.Validation("doctor_id does not match the schedule", "doctor_id")
	}

	ok, err := w.store.UpdatePendingPayload(ctx, id, payload)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperr.AlreadyProcessed("schedule request already processed")
	}
	req.Payload = payload
	return req, nil
}

// Withdraw lets the requesting doctor retract a pending request.
func (w *RequestWorkflow) Withdraw(ctx context.Context, id, doctorID uuid.UUID) error {
	req, err := w.store.GetRequest(ctx, nil, id, false)
	if err != nil {
		return err
	}
	if req.RequestedBy != doctorID {
		return apperr.NotFound("schedule request not found")
	}
	return w.close(ctx, req, RequestReview{Status: RequestWithdrawn, At: w.clock.Now()})
}

// Reject closes a pending request without touching the catalog.
func (w *RequestWorkflow) Reject(ctx context.Context, id, reviewerID uuid.UUID, reason string) error {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return apperr.Validation("reason is required", "reason")
	}
	req, err := w.store.GetRequest(ctx, nil, id, false)
	if err != nil {
		return err
	}
	return w.close(ctx, req, RequestReview{
		Status:     RequestRejected,
		ReviewedBy: &reviewerID,
		Reason:     reason,
		At:         w.clock.Now(),
	})
}

func (w *RequestWorkflow) close(ctx context.Context, req *ScheduleRequest, review RequestReview) error {
	if req.Status != RequestPending {
		return apperr.AlreadyProcessed("schedule request already processed")
	}
	ok, err := w.store.CloseRequest(ctx, nil, req.ID, review)
	if err != nil {
		return err
	}
	if !ok {
		return apperr.AlreadyProcessed("schedule request already processed")
	}
	w.metrics.ObserveTransition("request", string(review.Status))
	w.logger.Info("schedule request closed", "request_id", req.ID, "status", review.Status)
	return nil
}

// Approve applies a pending request to the catalog and closes it in one
// transaction. It returns the created, updated or retired block.
func (w *RequestWorkflow) Approve(ctx context.Context, id, reviewerID uuid.UUID, notes string) (*ScheduleBlock, error) {
	ctx, span := schedulingTracer.Start(ctx, "scheduling.request.approve")
	defer span.End()
	span.SetAttributes(attribute.String("clinic.request_id", id.String()))

	var result *ScheduleBlock
	err := w.store.WithTx(ctx, func(tx pgx.Tx) error {
		req, err := w.store.GetRequest(ctx, tx, id, true)
		if err != nil {
			return err
		}
		if req.Status != RequestPending {
			return apperr.AlreadyProcessed("schedule request already processed")
		}

		now := w.clock.Now()
		block, err := w.apply(ctx, tx, req, now)
		if err != nil {
			return err
		}

		ok, err := w.store.CloseRequest(ctx, tx, req.ID, RequestReview{
			Status:     RequestApproved,
			ReviewedBy: &reviewerID,
			Notes:      strings.TrimSpace(notes),
			ScheduleID: &block.ID,
			At:         now,
		})
		if err != nil {
			return err
		}
		if !ok {
			return apperr.AlreadyProcessed("schedule request already processed")
		}
		result = block
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	w.metrics.ObserveTransition("request", string(RequestApproved))
	w.logger.Info("schedule request approved", "request_id", id, "schedule_id", result.ID, "reviewed_by", reviewerID)
	return result, nil
}

func (w *RequestWorkflow) apply(ctx context.Context, tx pgx.Tx, req *ScheduleRequest, now time.Time) (*ScheduleBlock, error) {
	switch req.Action {
	case ActionCreate:
		block := &ScheduleBlock{
			ID:          uuid.New(),
			DoctorID:    req.Payload.DoctorID,
			BranchID:    req.Payload.BranchID,
			Day:         Weekday(req.Payload.ScheduleDay),
			StartTime:   req.Payload.StartTime,
			MaxPatients: req.Payload.MaxPatients,
			Active:      true,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := w.store.InsertBlock(ctx, tx, block); err != nil {
			return nil, err
		}
		return block, nil
	case ActionUpdate, ActionRetire:
		if req.ScheduleID == nil {
			return nil, apperr.Validation("schedule_id is required", "schedule_id")
		}
		block, err := w.store.GetBlock(ctx, tx, *req.ScheduleID)
		if err != nil {
			return nil, err
		}
		block.UpdatedAt = now
		if req.Action == ActionRetire {
			if err := w.store.RetireBlock(ctx, tx, block.ID, now); err != nil {
				return nil, err
			}
			block.Active = false
			return block, nil
		}
		block.BranchID = req.Payload.BranchID
		block.Day = Weekday(req.Payload.ScheduleDay)
		block.StartTime = req.Payload.StartTime
		block.MaxPatients = req.Payload.MaxPatients
		if err := w.store.UpdateBlock(ctx, tx, block); err != nil {
			return nil, err
		}
		return block, nil
	}
	return nil, apperr.Validation("unknown request action", "action")
}

// Get returns a single request.
func (w *RequestWorkflow) Get(ctx context.Context, id uuid.UUID) (*ScheduleRequest, error) {
	return w.store.GetRequest(ctx, nil, id, false)
}

// List returns requests matching filter, newest first.
func (w *RequestWorkflow) List(ctx context.Context, filter RequestFilter) ([]RequestView, error) {
	return w.store.ListRequests(ctx, filter)
}

func normalizePayload(p CandidateSchedule) (CandidateSchedule, error) {
	if day, err := ParseWeekday(p.ScheduleDay); err == nil {
		p.ScheduleDay = string(day)
	}
	p.StartTime = strings.TrimSpace(p.StartTime)
	if err := validation.Struct(p); err != nil {
		return CandidateSchedule{}, err
	}
	return p, nil
}

func snapshot(b *ScheduleBlock) CandidateSchedule {
	return CandidateSchedule{
		DoctorID:    b.DoctorID,
		BranchID:    b.BranchID,
		ScheduleDay: string(b.Day),
		StartTime:   b.StartTime,
		MaxPatients: b.MaxPatients,
	}
}
