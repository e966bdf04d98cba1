// Package provisional keeps unpaid booking holds in Redis until the payment
// gateway reports the outcome.
package provisional

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/wolfman30/clinic-scheduler/internal/payhere"
	"github.com/wolfman30/clinic-scheduler/internal/scheduling"
)

// KeyPrefix marks order ids that refer to a provisional hold rather than a
// persisted booking.
const KeyPrefix = "TEMP_"

// ErrHoldNotFound is returned when a hold expired or was already consumed.
var ErrHoldNotFound = errors.New("provisional: hold not found")

// Hold is the booking payload waiting for payment.
type Hold struct {
	OrderID         string    `json:"order_id"`
	DoctorID        uuid.UUID `json:"doctor_id"`
	BranchID        uuid.UUID `json:"branch_id"`
	ScheduleID      uuid.UUID `json:"schedule_id"`
	PatientID       uuid.UUID `json:"patient_id"`
	AppointmentDate string    `json:"appointment_date"`
	SlotNumber      int       `json:"slot_number"`
	Amount          string    `json:"amount"`
	Currency        string    `json:"currency"`
	CreatedAt       time.Time `json:"created_at"`
	ExpiresAt       time.Time `json:"expires_at"`
}

// Date parses AppointmentDate.
func (h *Hold) Date() (time.Time, error) {
	return scheduling.ParseDate(h.AppointmentDate)
}

// AmountCents parses Amount.
func (h *Hold) AmountCents() (int64, error) {
	return payhere.ParseAmount(h.Amount)
}

// Store persists holds with a TTL.
type Store interface {
	Put(ctx context.Context, h *Hold, ttl time.Duration) error
	Get(ctx context.Context, key string) (*Hold, error)
	Delete(ctx context.Context, key string) error
}

// IsKey reports whether an order id names a provisional hold.
func IsKey(orderID string) bool {
	return strings.HasPrefix(orderID, KeyPrefix)
}

// NewKey returns TEMP_ followed by 20 upper-case hex characters.
func NewKey() (string, error) {
	var buf [10]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "", fmt.Errorf("provisional: generate key: %w", err)
	}
	return KeyPrefix + strings.ToUpper(hex.EncodeToString(buf[:])), nil
}
