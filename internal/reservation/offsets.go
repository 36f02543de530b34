package reservation

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/KITA-DS12/hackathon-mentor-bot/internal/chat"
)

// Symbolic reservation offsets.
const (
	OffsetNow             = "now"
	Offset15Min           = "15min"
	Offset30Min           = "30min"
	Offset1Hour           = "1hour"
	Offset2Hours          = "2hours"
	OffsetTomorrowMorning = "tomorrow_morning"
)

// Offsets holds the fixed offsets. OffsetTomorrowMorning is computed from
// the wall clock instead.
var Offsets = map[string]time.Duration{
	OffsetNow:    0,
	Offset15Min:  15 * time.Minute,
	Offset30Min:  30 * time.Minute,
	Offset1Hour:  time.Hour,
	Offset2Hours: 2 * time.Hour,
}

// Choices lists the offsets in display order for the reservation form.
func Choices(morningHour int) []chat.Option {
	return []chat.Option{
		{Value: OffsetNow, Label: "今すぐ"},
		{Value: Offset15Min, Label: "15分後"},
		{Value: Offset30Min, Label: "30分後"},
		{Value: Offset1Hour, Label: "1時間後"},
		{Value: Offset2Hours, Label: "2時間後"},
		{Value: OffsetTomorrowMorning, Label: fmt.Sprintf("明日の朝 (%d時)", morningHour)},
	}
}

// Calendar resolves symbolic offsets into delays.
type Calendar struct {
	morning cron.Schedule
	loc     *time.Location
}

// NewCalendar builds a Calendar whose morning is morningHour:00 in loc.
func NewCalendar(morningHour int, loc *time.Location) (*Calendar, error) {
	if loc == nil {
		loc = time.Local
	}
	sched, err := cron.ParseStandard(fmt.Sprintf("0 %d * * *", morningHour))
	if err != nil {
		return nil, fmt.Errorf("reservation: morning hour %d: %w", morningHour, err)
	}
	return &Calendar{morning: sched, loc: loc}, nil
}

// Delay returns how long after now the offset falls due.
func (c *Calendar) Delay(offset string, now time.Time) (time.Duration, error) {
	if offset == OffsetTomorrowMorning {
		local := now.In(c.loc)
		tomorrow := time.Date(local.Year(), local.Month(), local.Day()+1, 0, 0, 0, 0, c.loc)
		return c.morning.Next(tomorrow.Add(-time.Second)).Sub(now), nil
	}
	d, ok := Offsets[offset]
	if !ok {
		return 0, fmt.Errorf("reservation: unknown offset %q", offset)
	}
	return d, nil
}

// Valid reports whether offset is a known value.
func Valid(offset string) bool {
	if offset == OffsetTomorrowMorning {
		return true
	}
	_, ok := Offsets[offset]
	return ok
}
