package slots

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mahdimonir/professionals-bd-sub001/internal/models"
)

type stubBusy struct {
	bookings []models.Booking
	err      error
	calls    int
}

func (s *stubBusy) LiveBookings(ctx context.Context, professionalID uuid.UUID, from, to time.Time) ([]models.Booking, error) {
	s.calls++
	return s.bookings, s.err
}

func mondayMorning() models.Schedule {
	return models.Schedule{
		"monday": {Enabled: true, Windows: []models.TimeWindow{{Start: 9 * 60, End: 12 * 60}}},
	}
}

func TestCandidates_Dhaka(t *testing.T) {
	dhaka, err := time.LoadLocation("Asia/Dhaka")
	require.NoError(t, err)

	// 2024-06-03 - понедельник.
	date := Date{Year: 2024, Month: time.June, Day: 3}
	slots := Candidates(mondayMorning(), date, dhaka, time.Hour)

	require.Len(t, slots, 3)
	for i, hour := range []int{9, 10, 11} {
		local := slots[i].StartTime.In(dhaka)
		assert.Equal(t, hour, local.Hour())
		assert.Equal(t, 0, local.Minute())
		assert.Equal(t, time.UTC, slots[i].StartTime.Location())
		assert.Equal(t, time.Hour, slots[i].EndTime.Sub(slots[i].StartTime))
	}
	assert.Equal(t, time.Date(2024, 6, 3, 3, 0, 0, 0, time.UTC), slots[0].StartTime)
}

func TestCandidates_PartialTailDropped(t *testing.T) {
	s := models.Schedule{
		"monday": {Enabled: true, Windows: []models.TimeWindow{{Start: 9 * 60, End: 11*60 + 30}}},
	}
	slots := Candidates(s, Date{Year: 2024, Month: time.June, Day: 3}, time.UTC, time.Hour)
	assert.Len(t, slots, 2)
}

func TestCandidates_DisabledOrMissingDay(t *testing.T) {
	s := models.Schedule{
		"monday":  {Enabled: false, Windows: []models.TimeWindow{{Start: 540, End: 720}}},
		"tuesday": {Enabled: true},
	}
	assert.Empty(t, Candidates(s, Date{Year: 2024, Month: time.June, Day: 3}, time.UTC, time.Hour))
	assert.Empty(t, Candidates(s, Date{Year: 2024, Month: time.June, Day: 4}, time.UTC, time.Hour))
	assert.Empty(t, Candidates(s, Date{Year: 2024, Month: time.June, Day: 5}, time.UTC, time.Hour))
}

func TestCandidates_OverlappingWindowsDeduplicated(t *testing.T) {
	s := models.Schedule{
		"monday": {Enabled: true, Windows: []models.TimeWindow{
			{Start: 10 * 60, End: 12 * 60},
			{Start: 9 * 60, End: 11 * 60},
		}},
	}
	slots := Candidates(s, Date{Year: 2024, Month: time.June, Day: 3}, time.UTC, time.Hour)
	require.Len(t, slots, 3)
	assert.Equal(t, 9, slots[0].StartTime.Hour())
	assert.Equal(t, 10, slots[1].StartTime.Hour())
	assert.Equal(t, 11, slots[2].StartTime.Hour())
}

func TestCandidates_SpringForwardSkipsMissingHour(t *testing.T) {
	ny, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	// 2024-03-10 - воскресенье, 02:00–03:00 по местному времени не существует.
	s := models.Schedule{
		"sunday": {Enabled: true, Windows: []models.TimeWindow{{Start: 0, End: 5 * 60}}},
	}
	slots := Candidates(s, Date{Year: 2024, Month: time.March, Day: 10}, ny, time.Hour)

	require.Len(t, slots, 4)
	hours := make([]int, len(slots))
	for i, slot := range slots {
		hours[i] = slot.StartTime.In(ny).Hour()
	}
	assert.Equal(t, []int{0, 1, 3, 4}, hours)
	// 01:00 EST -> 03:00 EDT длится реальный час.
	assert.Equal(t, time.Hour, slots[1].EndTime.Sub(slots[1].StartTime))
}

func TestCandidates_FallBackKeepsOrder(t *testing.T) {
	ny, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	s := models.Schedule{
		"sunday": {Enabled: true, Windows: []models.TimeWindow{{Start: 0, End: 4 * 60}}},
	}
	slots := Candidates(s, Date{Year: 2024, Month: time.November, Day: 3}, ny, time.Hour)

	require.Len(t, slots, 4)
	for i := 1; i < len(slots); i++ {
		assert.True(t, slots[i].StartTime.After(slots[i-1].StartTime))
	}
}

func TestGenerator_FiltersBusyAndPast(t *testing.T) {
	dhaka, err := time.LoadLocation("Asia/Dhaka")
	require.NoError(t, err)

	profID := uuid.New()
	prof := &models.Professional{UserID: profID, Timezone: "Asia/Dhaka", Schedule: mondayMorning()}
	date := Date{Year: 2024, Month: time.June, Day: 3}

	busy := &stubBusy{bookings: []models.Booking{{
		ProfessionalID: profID,
		StartTime:      time.Date(2024, 6, 3, 10, 30, 0, 0, dhaka),
		EndTime:        time.Date(2024, 6, 3, 10, 45, 0, 0, dhaka),
		Status:         models.BookingStatusConfirmed,
	}}}
	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	gen := NewGenerator(busy, time.Hour).WithClock(func() time.Time { return now })

	slots, err := gen.Available(context.Background(), prof, date)
	require.NoError(t, err)
	require.Len(t, slots, 2)
	assert.Equal(t, 9, slots[0].StartTime.In(dhaka).Hour())
	assert.Equal(t, 11, slots[1].StartTime.In(dhaka).Hour())

	// После 09:00 первый слот уже в прошлом.
	now = time.Date(2024, 6, 3, 9, 5, 0, 0, dhaka)
	slots, err = gen.Available(context.Background(), prof, date)
	require.NoError(t, err)
	require.Len(t, slots, 1)
	assert.Equal(t, 11, slots[0].StartTime.In(dhaka).Hour())
}

func TestGenerator_NoWindowsSkipsLookup(t *testing.T) {
	busy := &stubBusy{}
	prof := &models.Professional{UserID: uuid.New(), Schedule: mondayMorning()}

	slots, err := NewGenerator(busy, 0).Available(context.Background(), prof, Date{Year: 2024, Month: time.June, Day: 4})
	require.NoError(t, err)
	assert.Empty(t, slots)
	assert.Zero(t, busy.calls)
}

func TestGenerator_PropagatesLookupError(t *testing.T) {
	busy := &stubBusy{err: errors.New("db down")}
	prof := &models.Professional{UserID: uuid.New(), Schedule: mondayMorning()}
	gen := NewGenerator(busy, time.Hour).WithClock(func() time.Time { return time.Time{} })

	_, err := gen.Available(context.Background(), prof, Date{Year: 2024, Month: time.June, Day: 3})
	assert.Error(t, err)
}

func TestParseDate(t *testing.T) {
	d, err := ParseDate("2024-06-03")
	require.NoError(t, err)
	assert.Equal(t, time.Monday, d.Weekday())
	assert.Equal(t, "2024-06-03", d.String())

	_, err = ParseDate("03.06.2024")
	assert.Error(t, err)
}
