package scheduling

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/clinic-scheduler/internal/apperr"
)

func TestParseWeekday(t *testing.T) {
	day, err := ParseWeekday(" monday ")
	require.NoError(t, err)
	assert.Equal(t, Monday, day)

	_, err = ParseWeekday("Funday")
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestWeekdayOf(t *testing.T) {
	date, err := ParseDate("2024-06-03")
	require.NoError(t, err)
	assert.Equal(t, Monday, WeekdayOf(date))
}

func TestParseDateRejectsGarbage(t *testing.T) {
	_, err := ParseDate("03/06/2024")
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestSlots(t *testing.T) {
	assert.Equal(t, []int{1, 2, 3}, ScheduleBlock{MaxPatients: 3}.Slots())
	assert.Empty(t, ScheduleBlock{MaxPatients: 0}.Slots())

	b := ScheduleBlock{MaxPatients: 2}
	assert.True(t, b.HasSlot(2))
	assert.False(t, b.HasSlot(0))
	assert.False(t, b.HasSlot(3))
}

func TestStartOn(t *testing.T) {
	loc, err := time.LoadLocation("Asia/Colombo")
	require.NoError(t, err)
	date, _ := ParseDate("2024-06-03")

	start, err := ScheduleBlock{StartTime: "09:30"}.StartOn(date, loc)
	require.NoError(t, err)
	assert.Equal(t, 9, start.Hour())
	assert.Equal(t, 30, start.Minute())
	assert.Equal(t, loc, start.Location())

	_, err = ScheduleBlock{StartTime: "9am"}.StartOn(date, loc)
	assert.Error(t, err)
}

func TestApprovalResultMessage(t *testing.T) {
	assert.Equal(t, "no active appointments found", ApprovalResult{}.Message())
	assert.Equal(t, "2 appointments cancelled", ApprovalResult{Cancelled: make([]CancelledBooking, 2)}.Message())
}
