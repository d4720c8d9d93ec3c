package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const minutesPerDay = 24 * 60

var weekdayNames = map[string]time.Weekday{
	"sunday":    time.Sunday,
	"monday":    time.Monday,
	"tuesday":   time.Tuesday,
	"wednesday": time.Wednesday,
	"thursday":  time.Thursday,
	"friday":    time.Friday,
	"saturday":  time.Saturday,
}

// ErrInvalidSchedule возвращается при некорректном расписании.
var ErrInvalidSchedule = errors.New("invalid schedule")

// WeekdayName возвращает ключ дня недели в расписании.
func WeekdayName(d time.Weekday) string {
	return strings.ToLower(d.String())
}

// TimeWindow - окно доступности в минутах от начала суток.
type TimeWindow struct {
	Start int
	End   int
}

// Validate проверяет, что окно лежит внутри суток и start < end.
func (w TimeWindow) Validate() error {
	if w.Start < 0 || w.End > minutesPerDay {
		return fmt.Errorf("%w: окно %s выходит за пределы суток", ErrInvalidSchedule, w)
	}
	if w.Start >= w.End {
		return fmt.Errorf("%w: начало окна %s должно быть раньше конца", ErrInvalidSchedule, w)
	}
	return nil
}

// Contains сообщает, помещается ли интервал [start, end) в окно.
func (w TimeWindow) Contains(start, end int) bool {
	return w.Start <= start && end <= w.End
}

func (w TimeWindow) String() string {
	return formatClock(w.Start) + "-" + formatClock(w.End)
}

type timeWindowJSON struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// MarshalJSON сериализует окно в виде {"start":"09:00","end":"12:00"}.
func (w TimeWindow) MarshalJSON() ([]byte, error) {
	return json.Marshal(timeWindowJSON{Start: formatClock(w.Start), End: formatClock(w.End)})
}

// UnmarshalJSON разбирает окно и сразу валидирует его.
func (w *TimeWindow) UnmarshalJSON(data []byte) error {
	var raw timeWindowJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSchedule, err)
	}
	start, err := ParseClock(raw.Start)
	if err != nil {
		return err
	}
	end, err := ParseClock(raw.End)
	if err != nil {
		return err
	}
	parsed := TimeWindow{Start: start, End: end}
	if err := parsed.Validate(); err != nil {
		return err
	}
	*w = parsed
	return nil
}

// DaySchedule - настройки одного дня недели.
type DaySchedule struct {
	Enabled bool         `json:"enabled"`
	Windows []TimeWindow `json:"windows"`
}

// UnmarshalJSON принимает также устаревшее поле "slots" вместо "windows".
func (d *DaySchedule) UnmarshalJSON(data []byte) error {
	var raw struct {
		Enabled bool         `json:"enabled"`
		Windows []TimeWindow `json:"windows"`
		Slots   []TimeWindow `json:"slots"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	d.Enabled = raw.Enabled
	d.Windows = raw.Windows
	if len(d.Windows) == 0 {
		d.Windows = raw.Slots
	}
	return nil
}

// Schedule - недельное расписание специалиста: день недели -> окна.
type Schedule map[string]DaySchedule

// UnmarshalJSON нормализует ключи и отбрасывает неизвестные дни.
func (s *Schedule) UnmarshalJSON(data []byte) error {
	var raw map[string]DaySchedule
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	out := make(Schedule, len(raw))
	for key, day := range raw {
		name := strings.ToLower(strings.TrimSpace(key))
		if _, ok := weekdayNames[name]; !ok {
			return fmt.Errorf("%w: неизвестный день недели %q", ErrInvalidSchedule, key)
		}
		out[name] = day
	}
	*s = out
	return nil
}

// Validate проверяет все окна расписания.
func (s Schedule) Validate() error {
	for name, day := range s {
		if _, ok := weekdayNames[name]; !ok {
			return fmt.Errorf("%w: неизвестный день недели %q", ErrInvalidSchedule, name)
		}
		for _, w := range day.Windows {
			if err := w.Validate(); err != nil {
				return err
			}
		}
	}
	return nil
}

// Day возвращает окна для дня недели, если день включён и окна заданы.
func (s Schedule) Day(d time.Weekday) ([]TimeWindow, bool) {
	day, ok := s[WeekdayName(d)]
	if !ok || !day.Enabled || len(day.Windows) == 0 {
		return nil, false
	}
	return day.Windows, true
}

// Covers сообщает, попадает ли интервал целиком в одно из окон
// соответствующего дня в часовом поясе специалиста.
func (s Schedule) Covers(start, end time.Time, loc *time.Location) bool {
	localStart := start.In(loc)
	localEnd := end.In(loc)

	startMin := localStart.Hour()*60 + localStart.Minute()
	endMin := localEnd.Hour()*60 + localEnd.Minute()
	if localEnd.Second() > 0 || localEnd.Nanosecond() > 0 {
		endMin++
	}
	if !sameDate(localStart, localEnd) {
		// Конец ровно в полночь следующего дня допустим.
		next := localStart.AddDate(0, 0, 1)
		if !sameDate(next, localEnd) || endMin != 0 {
			return false
		}
		endMin = minutesPerDay
	}

	windows, ok := s.Day(localStart.Weekday())
	if !ok {
		return false
	}
	for _, w := range windows {
		if w.Contains(startMin, endMin) {
			return true
		}
	}
	return false
}

// Value сохраняет расписание как JSONB.
func (s Schedule) Value() (driver.Value, error) {
	if s == nil {
		return nil, nil
	}
	return json.Marshal(s)
}

// Scan читает расписание из JSONB.
func (s *Schedule) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*s = nil
		return nil
	case []byte:
		return json.Unmarshal(v, s)
	case string:
		return json.Unmarshal([]byte(v), s)
	default:
		return fmt.Errorf("schedule: неподдерживаемый тип %T", src)
	}
}

func sameDate(a, b time.Time) bool {
	y1, m1, d1 := a.Date()
	y2, m2, d2 := b.Date()
	return y1 == y2 && m1 == m2 && d1 == d2
}

// ParseClock разбирает "HH:MM" в минуты от начала суток. "24:00" допустимо.
func ParseClock(v string) (int, error) {
	parts := strings.Split(strings.TrimSpace(v), ":")
	if len(parts) != 2 {
		return 0, fmt.Errorf("%w: неверный формат времени %q", ErrInvalidSchedule, v)
	}
	hour, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, fmt.Errorf("%w: неверный час %q", ErrInvalidSchedule, v)
	}
	minute, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, fmt.Errorf("%w: неверные минуты %q", ErrInvalidSchedule, v)
	}
	if hour < 0 || hour > 24 || minute < 0 || minute > 59 || (hour == 24 && minute != 0) {
		return 0, fmt.Errorf("%w: время вне диапазона %q", ErrInvalidSchedule, v)
	}
	return hour*60 + minute, nil
}

func formatClock(minutes int) string {
	return fmt.Sprintf("%02d:%02d", minutes/60, minutes%60)
}
