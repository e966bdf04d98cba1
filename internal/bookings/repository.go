package bookings

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/wolfman30/clinic-scheduler/internal/apperr"
	"github.com/wolfman30/clinic-scheduler/internal/database"
	"github.com/wolfman30/clinic-scheduler/internal/scheduling"
)

// ErrDuplicateOrder is returned by Insert when a booking already exists for
// the gateway order.
var ErrDuplicateOrder = errors.New("bookings: order already promoted")

// ErrSlotTaken is the conflict returned when the slot is occupied.
var ErrSlotTaken = apperr.Conflict("slot no longer available")

const orderRefIndex = "bookings_order_ref_key"

const bookingColumns = `id, doctor_id, branch_id, schedule_id, patient_id, appointment_date, slot_number, status, payment_status, payment_id, payment_method, amount_paid_cents, token_number, order_ref, created_at, updated_at`

// Repository provides persistence helpers for bookings.
type Repository struct {
	pool database.Pool
}

// NewRepository creates a repository backed by a pgx pool.
func NewRepository(pool database.Pool) *Repository {
	if pool == nil {
		panic("bookings: pgx pool required")
	}
	return &Repository{pool: pool}
}

func (r *Repository) db(q database.Querier) database.Querier {
	if q != nil {
		return q
	}
	return r.pool
}

type scanner interface {
	Scan(dest ...any) error
}

func scanBooking(row scanner) (*Booking, error) {
	var (
		b                                  Booking
		status, paymentStatus              string
		paymentID, paymentMethod, orderRef pgtype.Text
	)
	if err := row.Scan(&b.ID, &b.DoctorID, &b.BranchID, &b.ScheduleID, &b.PatientID, &b.AppointmentDate, &b.SlotNumber,
		&status, &paymentStatus, &paymentID, &paymentMethod, &b.AmountPaidCents, &b.TokenNumber, &orderRef,
		&b.CreatedAt, &b.UpdatedAt); err != nil {
		return nil, err
	}
	b.Status = Status(status)
	b.PaymentStatus = PaymentStatus(paymentStatus)
	b.PaymentID = paymentID.String
	b.PaymentMethod = paymentMethod.String
	b.OrderRef = orderRef.String
	return &b, nil
}

// ListForDoctorDate returns the doctor's bookings on date that are not
// cancelled or rescheduled, oldest first.
func (r *Repository) ListForDoctorDate(ctx context.Context, doctorID uuid.UUID, date time.Time) ([]Booking, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+bookingColumns+` FROM bookings
		WHERE doctor_id = $1 AND appointment_date = $2 AND status NOT IN ('cancelled', 'rescheduled')
		ORDER BY created_at ASC, id ASC`, doctorID, date)
	if err != nil {
		return nil, fmt.Errorf("bookings: list for doctor date: %w", err)
	}
	defer rows.Close()

	var out []Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, fmt.Errorf("bookings: scan: %w", err)
		}
		out = append(out, *b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("bookings: list for doctor date: %w", err)
	}
	return out, nil
}

// Insert writes b unless its order was already promoted or its slot is
// occupied. It must run inside a transaction: the advisory lock taken on
// (doctor, date, slot) is held until the caller commits or rolls back.
// Pending-payment bookings created after freshSince count as occupying.
func (r *Repository) Insert(ctx context.Context, q database.Querier, b *Booking, freshSince time.Time) error {
	if q == nil {
		return errors.New("bookings: insert requires a transaction")
	}

	if err := r.lockSlot(ctx, q, b); err != nil {
		return err
	}

	if b.OrderRef != "" {
		var existing uuid.UUID
		err := q.QueryRow(ctx, `SELECT id FROM bookings WHERE order_ref = $1`, b.OrderRef).Scan(&existing)
		if err == nil {
			b.ID = existing
			return ErrDuplicateOrder
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("bookings: check order: %w", err)
		}
	}

	taken, err := r.slotTaken(ctx, q, b, freshSince)
	if err != nil {
		return err
	}
	if taken {
		return ErrSlotTaken
	}

	_, err = q.Exec(ctx, `INSERT INTO bookings (`+bookingColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
		b.ID, b.DoctorID, b.BranchID, b.ScheduleID, b.PatientID, b.AppointmentDate, b.SlotNumber,
		string(b.Status), string(b.PaymentStatus), database.Text(b.PaymentID), database.Text(b.PaymentMethod),
		b.AmountPaidCents, b.TokenNumber, database.Text(b.OrderRef), b.CreatedAt, b.UpdatedAt)
	if database.IsUniqueViolation(err, orderRefIndex) {
		return ErrDuplicateOrder
	}
	if err != nil {
		return fmt.Errorf("bookings: insert: %w", err)
	}
	return nil
}

// lockSlot takes the transaction-scoped advisory lock on b's
// (doctor, date, slot).
func (r *Repository) lockSlot(ctx context.Context, q database.Querier, b *Booking) error {
	lockKey := fmt.Sprintf("%s|%s|%d", b.DoctorID, b.DateString(), b.SlotNumber)
	if _, err := q.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, lockKey); err != nil {
		return fmt.Errorf("bookings: lock slot: %w", err)
	}
	return nil
}

// slotTaken reports whether a booking other than b occupies b's slot.
func (r *Repository) slotTaken(ctx context.Context, q database.Querier, b *Booking, freshSince time.Time) (bool, error) {
	var taken bool
	err := q.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM bookings
		WHERE doctor_id = $1 AND appointment_date = $2 AND slot_number = $3 AND id <> $5
		AND (status IN ('booked', 'completed', 'no_show') OR (status = 'pending_payment' AND created_at > $4)))`,
		b.DoctorID, b.AppointmentDate, b.SlotNumber, freshSince, b.ID).Scan(&taken)
	if err != nil {
		return false, fmt.Errorf("bookings: check slot: %w", err)
	}
	return taken, nil
}

// CancelActiveForOccurrence cancels the booked and pending-payment bookings
// of one schedule occurrence. Completed, no-show and rescheduled bookings are
// left alone.
func (r *Repository) CancelActiveForOccurrence(ctx context.Context, q database.Querier, occ scheduling.Occurrence) ([]scheduling.CancelledBooking, error) {
	rows, err := r.db(q).Query(ctx, `UPDATE bookings SET status = 'cancelled', updated_at = NOW()
		WHERE doctor_id = $1 AND branch_id = $2 AND schedule_id = $3 AND appointment_date = $4
		AND status IN ('booked', 'pending_payment')
		RETURNING id, patient_id, slot_number`,
		occ.DoctorID, occ.BranchID, occ.ScheduleID, occ.Date)
	if err != nil {
		return nil, fmt.Errorf("bookings: cascade cancel: %w", err)
	}
	defer rows.Close()

	cancelled := []scheduling.CancelledBooking{}
	for rows.Next() {
		var c scheduling.CancelledBooking
		if err := rows.Scan(&c.ID, &c.PatientID, &c.SlotNumber); err != nil {
			return nil, fmt.Errorf("bookings: scan cancelled: %w", err)
		}
		cancelled = append(cancelled, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("bookings: cascade cancel: %w", err)
	}
	return cancelled, nil
}

// GetByID loads a booking, locking it when forUpdate is set.
func (r *Repository) GetByID(ctx context.Context, q database.Querier, id uuid.UUID, forUpdate bool) (*Booking, error) {
	query := `SELECT ` + bookingColumns + ` FROM bookings WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	b, err := scanBooking(r.db(q).QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("booking not found")
	}
	if err != nil {
		return nil, fmt.Errorf("bookings: get: %w", err)
	}
	return b, nil
}

// PaymentUpdate carries the gateway outcome applied to an existing booking.
type PaymentUpdate struct {
	Status        Status
	PaymentStatus PaymentStatus
	PaymentID     string
	PaymentMethod string
	AmountCents   int64
	At            time.Time
}

// ApplyPayment records a payment outcome on a booking.
func (r *Repository) ApplyPayment(ctx context.Context, q database.Querier, id uuid.UUID, u PaymentUpdate) error {
	tag, err := r.db(q).Exec(ctx, `UPDATE bookings
		SET status = $2, payment_status = $3, payment_id = COALESCE($4, payment_id),
			payment_method = COALESCE($5, payment_method), amount_paid_cents = $6, updated_at = $7
		WHERE id = $1`,
		id, string(u.Status), string(u.PaymentStatus), database.Text(u.PaymentID), database.Text(u.PaymentMethod),
		u.AmountCents, u.At)
	if err != nil {
		return fmt.Errorf("bookings: apply payment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("booking not found")
	}
	return nil
}
