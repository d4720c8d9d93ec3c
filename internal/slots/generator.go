// Package slots строит сетку слотов специалиста на конкретную дату.
package slots

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/mahdimonir/professionals-bd-sub001/internal/models"
)

// DefaultDuration - длина слота, если не задана иная.
const DefaultDuration = 60 * time.Minute

// Slot - кандидат на бронирование в UTC.
type Slot struct {
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`
}

// Date - календарная дата без привязки к часовому поясу.
type Date struct {
	Year  int
	Month time.Month
	Day   int
}

// ParseDate разбирает дату в формате YYYY-MM-DD.
func ParseDate(v string) (Date, error) {
	t, err := time.Parse("2006-01-02", v)
	if err != nil {
		return Date{}, fmt.Errorf("slots: неверная дата %q: %w", v, err)
	}
	return Date{Year: t.Year(), Month: t.Month(), Day: t.Day()}, nil
}

func (d Date) String() string {
	return fmt.Sprintf("%04d-%02d-%02d", d.Year, d.Month, d.Day)
}

// Weekday возвращает день недели даты. От часового пояса он не зависит.
func (d Date) Weekday() time.Weekday {
	return time.Date(d.Year, d.Month, d.Day, 12, 0, 0, 0, time.UTC).Weekday()
}

// at переводит локальное время даты в момент времени с учётом зоны.
// ok=false, если такого локального времени не существует (переход на летнее время).
func (d Date) at(minuteOfDay int, loc *time.Location) (time.Time, bool) {
	t := time.Date(d.Year, d.Month, d.Day, 0, minuteOfDay, 0, 0, loc)
	if minuteOfDay == 24*60 {
		return t, true
	}
	return t, t.Hour()*60+t.Minute() == minuteOfDay && t.Day() == d.Day
}

// Candidates возвращает упорядоченные кандидаты для даты без учёта занятости.
// Пересекающиеся окна дают одинаковые слоты, дубликаты отбрасываются.
func Candidates(schedule models.Schedule, date Date, loc *time.Location, duration time.Duration) []Slot {
	windows, ok := schedule.Day(date.Weekday())
	if !ok {
		return nil
	}
	if duration <= 0 {
		duration = DefaultDuration
	}
	step := int(duration / time.Minute)

	seen := make(map[int64]struct{})
	var slots []Slot
	for _, w := range windows {
		for cursor := w.Start; cursor+step <= w.End; cursor += step {
			start, ok := date.at(cursor, loc)
			if !ok {
				continue
			}
			end, ok := date.at(cursor+step, loc)
			if !ok {
				end = start.Add(duration)
			}
			if !end.After(start) {
				continue
			}
			key := start.Unix()
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			slots = append(slots, Slot{StartTime: start.UTC(), EndTime: end.UTC()})
		}
	}

	sort.Slice(slots, func(i, j int) bool {
		return slots[i].StartTime.Before(slots[j].StartTime)
	})
	return slots
}

// BusyLister возвращает живые брони специалиста, пересекающие интервал.
type BusyLister interface {
	LiveBookings(ctx context.Context, professionalID uuid.UUID, from, to time.Time) ([]models.Booking, error)
}

// Generator отдаёт свободные слоты специалиста.
type Generator struct {
	busy     BusyLister
	duration time.Duration
	now      func() time.Time
}

// NewGenerator создаёт генератор слотов.
func NewGenerator(busy BusyLister, duration time.Duration) *Generator {
	if duration <= 0 {
		duration = DefaultDuration
	}
	return &Generator{busy: busy, duration: duration, now: time.Now}
}

// WithClock подменяет источник текущего времени.
func (g *Generator) WithClock(now func() time.Time) *Generator {
	g.now = now
	return g
}

// Available возвращает слоты даты, которые не пересекаются с живыми бронями
// и ещё не начались.
func (g *Generator) Available(ctx context.Context, professional *models.Professional, date Date) ([]Slot, error) {
	loc, err := professional.Location()
	if err != nil {
		return nil, fmt.Errorf("slots: часовой пояс %q: %w", professional.Timezone, err)
	}

	candidates := Candidates(professional.Schedule, date, loc, g.duration)
	if len(candidates) == 0 {
		return nil, nil
	}

	from := candidates[0].StartTime
	to := candidates[len(candidates)-1].EndTime
	busy, err := g.busy.LiveBookings(ctx, professional.UserID, from, to)
	if err != nil {
		return nil, fmt.Errorf("slots: занятость: %w", err)
	}

	now := g.now()
	free := make([]Slot, 0, len(candidates))
	for _, slot := range candidates {
		if slot.StartTime.Before(now) {
			continue
		}
		if overlapsAny(slot, busy) {
			continue
		}
		free = append(free, slot)
	}
	return free, nil
}

func overlapsAny(slot Slot, bookings []models.Booking) bool {
	for i := range bookings {
		if bookings[i].Overlaps(slot.StartTime, slot.EndTime) {
			return true
		}
	}
	return false
}
