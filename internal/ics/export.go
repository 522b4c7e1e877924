// Package ics renders the edited event collection as an iCalendar document
// locally, so a preview/download exists without a backend round-trip. When
// the schedule spans multiple weeks each event carries a weekly recurrence
// covering the span.
package ics

import (
	"fmt"
	"io"
	"log/slog"
	"time"

	ical "github.com/emersion/go-ical"
	"github.com/teambition/rrule-go"

	"github.com/schedulesnap/schedulesnap/internal/domain"
)

const (
	productID = "-//schedulesnap//schedulesnap//EN"
	dateOnly  = "20060102"
)

type Options struct {
	// Weeks > 1 attaches RRULE:FREQ=WEEKLY;COUNT=Weeks to every event.
	Weeks  int
	Logger *slog.Logger
	Now    func() time.Time
}

// Encode writes the collection as a VCALENDAR. An empty collection still
// produces a valid, empty calendar.
func Encode(w io.Writer, events []domain.EventRecord, opts Options) error {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if len(events) == 0 {
		opts.Logger.Warn("no events to export, generating empty calendar")
	}

	var rule *rrule.RRule
	if opts.Weeks > 1 {
		var err error
		rule, err = rrule.NewRRule(rrule.ROption{Freq: rrule.WEEKLY, Count: opts.Weeks})
		if err != nil {
			return fmt.Errorf("building weekly recurrence: %w", err)
		}
	}

	cal := ical.NewCalendar()
	cal.Props.SetText(ical.PropVersion, "2.0")
	cal.Props.SetText(ical.PropProductID, productID)

	for _, rec := range events {
		ev := ical.NewEvent()
		ev.Props.SetText(ical.PropUID, fmt.Sprintf("%d@schedulesnap", rec.ID))
		ev.Props.SetDateTime(ical.PropDateTimeStamp, opts.Now().UTC())
		if rec.AllDay {
			// Calendar consumers ignore the stored time of day; export
			// the bare dates.
			setDate(ev, ical.PropDateTimeStart, rec.Start)
			setDate(ev, ical.PropDateTimeEnd, rec.End)
		} else {
			ev.Props.SetDateTime(ical.PropDateTimeStart, rec.Start.UTC())
			ev.Props.SetDateTime(ical.PropDateTimeEnd, rec.End.UTC())
		}
		ev.Props.SetText(ical.PropSummary, rec.Name)
		if rec.Location != "" {
			ev.Props.SetText(ical.PropLocation, rec.Location)
		}
		if rec.Description != "" {
			ev.Props.SetText(ical.PropDescription, rec.Description)
		}
		if rec.URL != "" {
			ev.Props.SetText(ical.PropURL, rec.URL)
		}
		if rule != nil {
			ev.Props.SetText(ical.PropRecurrenceRule, rule.String())
		}
		cal.Children = append(cal.Children, ev.Component)
	}

	return ical.NewEncoder(w).Encode(cal)
}

func setDate(ev *ical.Event, name string, t time.Time) {
	prop := ical.NewProp(name)
	prop.SetValueType(ical.ValueDate)
	prop.Value = t.Format(dateOnly)
	ev.Props.Set(prop)
}
