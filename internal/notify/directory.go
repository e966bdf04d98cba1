package notify

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/wolfman30/clinic-scheduler/internal/database"
)

// ErrNoContact is returned when a patient has no phone number on file.
var ErrNoContact = errors.New("notify: patient has no phone number")

// Contact is a patient's display name and phone.
type Contact struct {
	Name  string
	Phone string
}

// Session describes the schedule a booking belongs to.
type Session struct {
	StartTime  string
	DoctorName string
	BranchName string
}

// PatientDirectory resolves patient contact details.
type PatientDirectory interface {
	Contact(ctx context.Context, patientID uuid.UUID) (*Contact, error)
}

// ScheduleLookup resolves the session a schedule block describes.
type ScheduleLookup interface {
	Session(ctx context.Context, scheduleID uuid.UUID) (*Session, error)
}

// PostgresDirectory reads patients, doctors and branches. The joined tables
// may be missing rows; names then come back empty.
type PostgresDirectory struct {
	db database.Querier
}

// NewPostgresDirectory creates a directory over db.
func NewPostgresDirectory(db database.Querier) *PostgresDirectory {
	if db == nil {
		panic("notify: querier required")
	}
	return &PostgresDirectory{db: db}
}

func (d *PostgresDirectory) Contact(ctx context.Context, patientID uuid.UUID) (*Contact, error) {
	var name, phone pgtype.Text
	err := d.db.QueryRow(ctx, `SELECT name, phone FROM patients WHERE id = $1`, patientID).Scan(&name, &phone)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNoContact
	}
	if err != nil {
		return nil, fmt.Errorf("notify: load patient: %w", err)
	}
	if !phone.Valid || phone.String == "" {
		return nil, ErrNoContact
	}
	return &Contact{Name: name.String, Phone: phone.String}, nil
}

func (d *PostgresDirectory) Session(ctx context.Context, scheduleID uuid.UUID) (*Session, error) {
	var (
		s                  Session
		doctorName, branch pgtype.Text
	)
	err := d.db.QueryRow(ctx, `
		SELECT sb.start_time, d.name, b.name
		FROM schedule_blocks sb
		LEFT JOIN doctors d ON d.id = sb.doctor_id
		LEFT JOIN branches b ON b.id = sb.branch_id
		WHERE sb.id = $1`, scheduleID).Scan(&s.StartTime, &doctorName, &branch)
	if err != nil {
		return nil, fmt.Errorf("notify: load schedule %s: %w", scheduleID, err)
	}
	s.DoctorName = doctorName.String
	s.BranchName = branch.String
	return &s, nil
}
