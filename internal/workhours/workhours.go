// Package workhours provides business-time arithmetic over a
// configurable weekly schedule.
package workhours

import "time"

// Schedule is a weekly working-hours calendar: a set of working days
// and a daily window [StartHour, EndHour).
type Schedule struct {
	Days      map[time.Weekday]bool
	StartHour int // inclusive, 0-23
	EndHour   int // exclusive, 1-24
}

// Default returns the standard Monday-Friday, 9-to-5 schedule.
func Default() Schedule {
	return Schedule{
		Days: map[time.Weekday]bool{
			time.Monday:    true,
			time.Tuesday:   true,
			time.Wednesday: true,
			time.Thursday:  true,
			time.Friday:    true,
		},
		StartHour: 9,
		EndHour:   17,
	}
}

// IsWorkingDay reports whether d is part of the schedule.
func (s Schedule) IsWorkingDay(d time.Weekday) bool {
	return s.Days[d]
}

// Between returns the amount of working time between from and to.
// Time outside the daily window or on non-working days does not count,
// so an overnight or weekend gap contributes nothing. Returns zero when
// to is not after from.
func (s Schedule) Between(from, to time.Time) time.Duration {
	if !to.After(from) {
		return 0
	}
	to = to.In(from.Location())

	var total time.Duration
	day := time.Date(from.Year(), from.Month(), from.Day(), 0, 0, 0, 0, from.Location())
	for !day.After(to) {
		if s.IsWorkingDay(day.Weekday()) {
			windowStart := day.Add(time.Duration(s.StartHour) * time.Hour)
			windowEnd := day.Add(time.Duration(s.EndHour) * time.Hour)

			start := windowStart
			if from.After(start) {
				start = from
			}
			end := windowEnd
			if to.Before(end) {
				end = to
			}
			if end.After(start) {
				total += end.Sub(start)
			}
		}
		day = day.AddDate(0, 0, 1)
	}
	return total
}
