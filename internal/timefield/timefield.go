// Package timefield holds the pure date/time helpers shared by the event
// editors: lenient parsing of "HH:MM" field text, 12-hour display
// formatting, and composition of a calendar day plus a time of day into a
// single instant.
package timefield

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"
)

// ParseTimeOfDay parses "HH:MM" field text into hour and minute. Malformed
// input (empty string, missing colon, non-numeric parts, out-of-range
// values) falls back to 00:00 and is logged; the editor must never fail on
// whatever text a time field currently contains.
func ParseTimeOfDay(text string, logger *slog.Logger) (hour, minute int) {
	if logger == nil {
		logger = slog.Default()
	}
	parts := strings.SplitN(text, ":", 2)
	if len(parts) != 2 {
		logger.Warn("malformed time of day", "text", text)
		return 0, 0
	}
	h, errH := strconv.Atoi(strings.TrimSpace(parts[0]))
	m, errM := strconv.Atoi(strings.TrimSpace(parts[1]))
	if errH != nil || errM != nil || h < 0 || h > 23 || m < 0 || m > 59 {
		logger.Warn("malformed time of day", "text", text)
		return 0, 0
	}
	return h, m
}

// Format12Hour renders 24-hour values as "h:mm AM"/"h:mm PM" display text.
// Hour 0 displays as 12 AM and hour 12 as 12 PM.
func Format12Hour(hour, minute int) string {
	period := "AM"
	if hour >= 12 {
		period = "PM"
	}
	display := hour
	switch {
	case hour == 0:
		display = 12
	case hour > 12:
		display = hour - 12
	}
	return fmt.Sprintf("%d:%02d %s", display, minute, period)
}

// ComposeInstant builds an instant from the year/month/day fields of day
// combined with the supplied hour and minute, evaluated in loc. The day is
// read field-by-field and never re-derived from an adjusted instant, so the
// result's calendar day always equals day's calendar day regardless of how
// the offset falls around midnight.
func ComposeInstant(day time.Time, hour, minute int, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.Local
	}
	y, mo, d := day.Year(), day.Month(), day.Day()
	return time.Date(y, mo, d, hour, minute, 0, 0, loc)
}
