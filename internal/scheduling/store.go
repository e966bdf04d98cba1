package scheduling

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/wolfman30/clinic-scheduler/internal/apperr"
	"github.com/wolfman30/clinic-scheduler/internal/database"
)

const pendingCancellationIndex = "schedule_cancellations_one_pending_idx"

const blockColumns = `id, doctor_id, branch_id, schedule_day, start_time, max_patients, active, created_at, updated_at`

const requestColumns = `id, entity_type, action, schedule_id, requested_by, payload, status, reason, approval_notes, reviewed_by, requested_at, reviewed_at`

const cancellationColumns = `id, doctor_id, branch_id, schedule_id, cancel_date, reason, status, reject_reason, approved_at, approved_by, created_at`

// RequestFilter narrows ListRequests.
type RequestFilter struct {
	Status      RequestStatus
	RequestedBy *uuid.UUID
}

// PostgresStore persists schedule blocks, requests and cancellations.
// Methods that accept a database.Querier run on it when non-nil so callers
// can compose them inside a transaction.
type PostgresStore struct {
	pool database.Pool
}

// NewPostgresStore creates a store backed by pool.
func NewPostgresStore(pool database.Pool) *PostgresStore {
	if pool == nil {
		panic("scheduling: pgx pool required")
	}
	return &PostgresStore{pool: pool}
}

// WithTx runs fn in a transaction on the store's pool.
func (s *PostgresStore) WithTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	return database.WithTx(ctx, s.pool, fn)
}

func (s *PostgresStore) db(q database.Querier) database.Querier {
	if q != nil {
		return q
	}
	return s.pool
}

type scanner interface {
	Scan(dest ...any) error
}

func scanBlock(row scanner) (*ScheduleBlock, error) {
	var b ScheduleBlock
	var day string
	if err := row.Scan(&b.ID, &b.DoctorID, &b.BranchID, &day, &b.StartTime, &b.MaxPatients, &b.Active, &b.CreatedAt, &b.UpdatedAt); err != nil {
		return nil, err
	}
	b.Day = Weekday(day)
	return &b, nil
}

// GetBlock loads a block by id regardless of its active flag.
func (s *PostgresStore) GetBlock(ctx context.Context, q database.Querier, id uuid.UUID) (*ScheduleBlock, error) {
	row := s.db(q).QueryRow(ctx, `SELECT `+blockColumns+` FROM schedule_blocks WHERE id = $1`, id)
	b, err := scanBlock(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("schedule not found")
	}
	if err != nil {
		return nil, fmt.Errorf("scheduling: get block: %w", err)
	}
	return b, nil
}

// FindBlockForDay returns the earliest active block of a doctor on day,
// optionally restricted to a branch.
func (s *PostgresStore) FindBlockForDay(ctx context.Context, doctorID uuid.UUID, day Weekday, branchID *uuid.UUID) (*ScheduleBlock, error) {
	query := `SELECT ` + blockColumns + ` FROM schedule_blocks
		WHERE doctor_id = $1 AND schedule_day = $2 AND active = TRUE`
	args := []any{doctorID, string(day)}
	if branchID != nil {
		query += ` AND branch_id = $3`
		args = append(args, *branchID)
	}
	query += ` ORDER BY start_time ASC, created_at ASC LIMIT 1`

	b, err := scanBlock(s.pool.QueryRow(ctx, query, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("no schedule found for this doctor on this day")
	}
	if err != nil {
		return nil, fmt.Errorf("scheduling: find block: %w", err)
	}
	return b, nil
}

// ListBlocksByDoctor returns a doctor's active blocks in weekly order.
func (s *PostgresStore) ListBlocksByDoctor(ctx context.Context, doctorID uuid.UUID) ([]ScheduleBlock, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+blockColumns+` FROM schedule_blocks
		WHERE doctor_id = $1 AND active = TRUE
		ORDER BY array_position(ARRAY['Monday','Tuesday','Wednesday','Thursday','Friday','Saturday','Sunday'], schedule_day), start_time`, doctorID)
	if err != nil {
		return nil, fmt.Errorf("scheduling: list blocks: %w", err)
	}
	defer rows.Close()

	blocks := []ScheduleBlock{}
	for rows.Next() {
		b, err := scanBlock(rows)
		if err != nil {
			return nil, fmt.Errorf("scheduling: scan block: %w", err)
		}
		blocks = append(blocks, *b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("scheduling: list blocks: %w", err)
	}
	return blocks, nil
}

// InsertBlock creates a new block.
func (s *PostgresStore) InsertBlock(ctx context.Context, q database.Querier, b *ScheduleBlock) error {
	_, err := s.db(q).Exec(ctx, `INSERT INTO schedule_blocks (`+blockColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		b.ID, b.DoctorID, b.BranchID, string(b.Day), b.StartTime, b.MaxPatients, b.Active, b.CreatedAt, b.UpdatedAt)
	if err != nil {
		return fmt.Errorf("scheduling: insert block: %w", err)
	}
	return nil
}

// UpdateBlock rewrites the mutable fields of an active block.
func (s *PostgresStore) UpdateBlock(ctx context.Context, q database.Querier, b *ScheduleBlock) error {
	tag, err := s.db(q).Exec(ctx, `UPDATE schedule_blocks
		SET branch_id = $2, schedule_day = $3, start_time = $4, max_patients = $5, updated_at = $6
		WHERE id = $1 AND active = TRUE`,
		b.ID, b.BranchID, string(b.Day), b.StartTime, b.MaxPatients, b.UpdatedAt)
	if err != nil {
		return fmt.Errorf("scheduling: update block: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("schedule not found")
	}
	return nil
}

// RetireBlock marks a block inactive.
func (s *PostgresStore) RetireBlock(ctx context.Context, q database.Querier, id uuid.UUID, at time.Time) error {
	tag, err := s.db(q).Exec(ctx, `UPDATE schedule_blocks SET active = FALSE, updated_at = $2
		WHERE id = $1 AND active = TRUE`, id, at)
	if err != nil {
		return fmt.Errorf("scheduling: retire block: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("schedule not found")
	}
	return nil
}

func scanRequest(row scanner) (*ScheduleRequest, error) {
	var (
		req        ScheduleRequest
		action     string
		status     string
		payload    []byte
		scheduleID pgtype.UUID
		reviewedBy pgtype.UUID
		reviewedAt pgtype.Timestamptz
	)
	if err := row.Scan(&req.ID, &req.EntityType, &action, &scheduleID, &req.RequestedBy, &payload, &status,
		&req.Reason, &req.ApprovalNotes, &reviewedBy, &req.RequestedAt, &reviewedAt); err != nil {
		return nil, err
	}
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &req.Payload); err != nil {
			return nil, fmt.Errorf("decode payload: %w", err)
		}
	}
	req.Action = RequestAction(action)
	req.Status = RequestStatus(status)
	req.ScheduleID = database.UUIDPtr(scheduleID)
	req.ReviewedBy = database.UUIDPtr(reviewedBy)
	req.ReviewedAt = database.TimePtr(reviewedAt)
	return &req, nil
}

// InsertRequest stores a new schedule request.
func (s *PostgresStore) InsertRequest(ctx context.Context, req *ScheduleRequest) error {
	payload, err := json.Marshal(req.Payload)
	if err != nil {
		return fmt.Errorf("scheduling: encode payload: %w", err)
	}
	_, err = s.pool.Exec(ctx, `INSERT INTO schedule_requests
		(id, entity_type, action, schedule_id, requested_by, payload, status, reason, requested_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		req.ID, req.EntityType, string(req.Action), database.UUID(req.ScheduleID), req.RequestedBy,
		payload, string(req.Status), req.Reason, req.RequestedAt)
	if err != nil {
		return fmt.Errorf("scheduling: insert request: %w", err)
	}
	return nil
}

// GetRequest loads a request, locking the row when forUpdate is set.
func (s *PostgresStore) GetRequest(ctx context.Context, q database.Querier, id uuid.UUID, forUpdate bool) (*ScheduleRequest, error) {
	query := `SELECT ` + requestColumns + ` FROM schedule_requests WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	req, err := scanRequest(s.db(q).QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("schedule request not found")
	}
	if err != nil {
		return nil, fmt.Errorf("scheduling: get request: %w", err)
	}
	return req, nil
}

// UpdatePendingPayload replaces the payload of a still-pending request.
// It reports false when the request is no longer pending.
func (s *PostgresStore) UpdatePendingPayload(ctx context.Context, id uuid.UUID, payload CandidateSchedule) (bool, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return false, fmt.Errorf("scheduling: encode payload: %w", err)
	}
	tag, err := s.pool.Exec(ctx, `UPDATE schedule_requests SET payload = $2
		WHERE id = $1 AND status = 'pending'`, id, data)
	if err != nil {
		return false, fmt.Errorf("scheduling: update payload: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// RequestReview is the terminal transition recorded on a request.
type RequestReview struct {
	Status     RequestStatus
	ReviewedBy *uuid.UUID
	Notes      string
	Reason     string
	ScheduleID *uuid.UUID
	At         time.Time
}

// CloseRequest moves a pending request to a terminal status. It reports
// false when the request was no longer pending.
func (s *PostgresStore) CloseRequest(ctx context.Context, q database.Querier, id uuid.UUID, review RequestReview) (bool, error) {
	tag, err := s.db(q).Exec(ctx, `UPDATE schedule_requests
		SET status = $2, reviewed_by = $3, approval_notes = $4,
			reason = CASE WHEN $5 = '' THEN reason ELSE $5 END,
			schedule_id = COALESCE($6, schedule_id), reviewed_at = $7
		WHERE id = $1 AND status = 'pending'`,
		id, string(review.Status), database.UUID(review.ReviewedBy), review.Notes, review.Reason,
		database.UUID(review.ScheduleID), review.At)
	if err != nil {
		return false, fmt.Errorf("scheduling: close request: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// ListRequests returns requests newest first with the requesting doctor's name.
func (s *PostgresStore) ListRequests(ctx context.Context, filter RequestFilter) ([]RequestView, error) {
	cols := make([]string, 0, 12)
	for _, c := range strings.Split(requestColumns, ", ") {
		cols = append(cols, "r."+c)
	}
	query := `SELECT ` + strings.Join(cols, ", ") + `, COALESCE(d.name, '')
		FROM schedule_requests r
		LEFT JOIN doctors d ON d.id = r.requested_by
		WHERE 1 = 1`
	var args []any
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		query += fmt.Sprintf(" AND r.status = $%d", len(args))
	}
	if filter.RequestedBy != nil {
		args = append(args, *filter.RequestedBy)
		query += fmt.Sprintf(" AND r.requested_by = $%d", len(args))
	}
	query += ` ORDER BY r.requested_at DESC`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("scheduling: list requests: %w", err)
	}
	defer rows.Close()

	views := []RequestView{}
	for rows.Next() {
		var name string
		req, err := scanRequest(rowWithTail{rows: rows, tail: []any{&name}})
		if err != nil {
			return nil, fmt.Errorf("scheduling: scan request: %w", err)
		}
		views = append(views, RequestView{ScheduleRequest: *req, DoctorName: name})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("scheduling: list requests: %w", err)
	}
	return views, nil
}

// rowWithTail appends extra scan targets after the entity columns.
type rowWithTail struct {
	rows pgx.Rows
	tail []any
}

func (r rowWithTail) Scan(dest ...any) error {
	return r.rows.Scan(append(dest, r.tail...)...)
}

func scanCancellation(row scanner) (*ScheduleCancellation, error) {
	var (
		c          ScheduleCancellation
		status     string
		approvedAt pgtype.Timestamptz
		approvedBy pgtype.UUID
	)
	if err := row.Scan(&c.ID, &c.DoctorID, &c.BranchID, &c.ScheduleID, &c.Date, &c.Reason, &status,
		&c.RejectReason, &approvedAt, &approvedBy, &c.CreatedAt); err != nil {
		return nil, err
	}
	c.Status = CancellationStatus(status)
	c.ApprovedAt = database.TimePtr(approvedAt)
	c.ApprovedBy = database.UUIDPtr(approvedBy)
	return &c, nil
}

// InsertCancellation stores a pending cancellation. A concurrent duplicate
// caught by the partial unique index is reported as a conflict.
func (s *PostgresStore) InsertCancellation(ctx context.Context, c *ScheduleCancellation) error {
	_, err := s.pool.Exec(ctx, `INSERT INTO schedule_cancellations
		(id, doctor_id, branch_id, schedule_id, cancel_date, reason, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		c.ID, c.DoctorID, c.BranchID, c.ScheduleID, c.Date, c.Reason, string(c.Status), c.CreatedAt)
	if database.IsUniqueViolation(err, pendingCancellationIndex) {
		return apperr.Conflict("a cancellation request for this date already exists")
	}
	if err != nil {
		return fmt.Errorf("scheduling: insert cancellation: %w", err)
	}
	return nil
}

// GetCancellation loads a cancellation, locking the row when forUpdate is set.
func (s *PostgresStore) GetCancellation(ctx context.Context, q database.Querier, id uuid.UUID, forUpdate bool) (*ScheduleCancellation, error) {
	query := `SELECT ` + cancellationColumns + ` FROM schedule_cancellations WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	c, err := scanCancellation(s.db(q).QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("cancellation not found")
	}
	if err != nil {
		return nil, fmt.Errorf("scheduling: get cancellation: %w", err)
	}
	return c, nil
}

// FindOpenCancellation returns the pending or approved cancellation for a
// block on date, or nil when there is none.
func (s *PostgresStore) FindOpenCancellation(ctx context.Context, scheduleID uuid.UUID, date time.Time) (*ScheduleCancellation, error) {
	c, err := scanCancellation(s.pool.QueryRow(ctx, `SELECT `+cancellationColumns+` FROM schedule_cancellations
		WHERE schedule_id = $1 AND cancel_date = $2 AND status IN ('pending', 'approved')
		ORDER BY created_at DESC LIMIT 1`, scheduleID, date))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scheduling: find open cancellation: %w", err)
	}
	return c, nil
}

// HasApprovedCancellation reports whether a doctor's session at a branch is
// cancelled on date.
func (s *PostgresStore) HasApprovedCancellation(ctx context.Context, doctorID, branchID uuid.UUID, date time.Time) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM schedule_cancellations
		WHERE doctor_id = $1 AND branch_id = $2 AND cancel_date = $3 AND status = 'approved')`,
		doctorID, branchID, date).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("scheduling: check cancellation: %w", err)
	}
	return exists, nil
}

// ApproveCancellation flips a pending cancellation to approved. It reports
// false when the row was no longer pending.
func (s *PostgresStore) ApproveCancellation(ctx context.Context, q database.Querier, id, approverID uuid.UUID, at time.Time) (bool, error) {
	tag, err := s.db(q).Exec(ctx, `UPDATE schedule_cancellations
		SET status = 'approved', approved_at = $2, approved_by = $3
		WHERE id = $1 AND status = 'pending'`, id, at, approverID)
	if err != nil {
		return false, fmt.Errorf("scheduling: approve cancellation: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// RejectCancellation flips a pending cancellation to rejected. It reports
// false when the row was no longer pending.
func (s *PostgresStore) RejectCancellation(ctx context.Context, id uuid.UUID, reason string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `UPDATE schedule_cancellations
		SET status = 'rejected', reject_reason = $2
		WHERE id = $1 AND status = 'pending'`, id, reason)
	if err != nil {
		return false, fmt.Errorf("scheduling: reject cancellation: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// ListCancellations returns cancellation views newest first, optionally for
// a single doctor.
func (s *PostgresStore) ListCancellations(ctx context.Context, doctorID *uuid.UUID) ([]CancellationView, error) {
	cols := make([]string, 0, 11)
	for _, c := range strings.Split(cancellationColumns, ", ") {
		cols = append(cols, "c."+c)
	}
	query := `SELECT ` + strings.Join(cols, ", ") + `,
			COALESCE(d.name, ''), COALESCE(br.name, ''), COALESCE(b.schedule_day, ''), COALESCE(b.start_time, '')
		FROM schedule_cancellations c
		LEFT JOIN doctors d ON d.id = c.doctor_id
		LEFT JOIN branches br ON br.id = c.branch_id
		LEFT JOIN schedule_blocks b ON b.id = c.schedule_id`
	var args []any
	if doctorID != nil {
		query += ` WHERE c.doctor_id = $1`
		args = append(args, *doctorID)
	}
	query += ` ORDER BY c.created_at DESC`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("scheduling: list cancellations: %w", err)
	}
	defer rows.Close()

	views := []CancellationView{}
	for rows.Next() {
		var doctorName, branchName, day, start string
		c, err := scanCancellation(rowWithTail{rows: rows, tail: []any{&doctorName, &branchName, &day, &start}})
		if err != nil {
			return nil, fmt.Errorf("scheduling: scan cancellation: %w", err)
		}
		views = append(views, CancellationView{
			ScheduleCancellation: *c,
			DateText:             c.DateString(),
			DoctorName:           doctorName,
			BranchName:           branchName,
			ScheduleDay:          Weekday(day),
			StartTime:            start,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("scheduling: list cancellations: %w", err)
	}
	return views, nil
}
