// Package editor implements the per-event edit buffer: a local editable
// copy of one event's fields that reconciles against externally pushed
// updates and emits debounced commits upward.
//
// Ownership is explicit. A buffer in the External state mirrors whatever
// record the parent pushes at it; the moment a field setter runs, ownership
// flips to Local and external updates are suppressed until the edit ends.
// This closes the race where a debounced commit round-trips through the
// parent and clobbers an in-progress keystroke.
package editor

import (
	"log/slog"
	"sync"
	"time"

	"github.com/schedulesnap/schedulesnap/internal/domain"
	"github.com/schedulesnap/schedulesnap/internal/timefield"
)

// Ownership says who currently owns the buffer's field values.
type Ownership int

const (
	// OwnerExternal: fields track the parent's record; Reconcile applies.
	OwnerExternal Ownership = iota
	// OwnerLocal: the user is mid-edit; Reconcile is suppressed entirely.
	OwnerLocal
)

// Windows are the quiescence intervals after the last edit of each input
// kind before the buffer commits on its own. Text fields have no window;
// they commit on Blur. Date pickers get the longest window because users
// routinely correct a date several times in sequence.
type Windows struct {
	Date   time.Duration
	Time   time.Duration
	Toggle time.Duration
}

func DefaultWindows() Windows {
	return Windows{Date: 3 * time.Second, Time: time.Second, Toggle: 500 * time.Millisecond}
}

type Options struct {
	Windows Windows
	// DefaultDuration is the span applied when end-before-start is
	// auto-corrected. Zero means one hour.
	DefaultDuration time.Duration
	// AutoCorrectEnd turns on the documented end-before-start policy: at
	// commit, an end before the start becomes start+DefaultDuration.
	AutoCorrectEnd bool
	// Location is the zone days and times are composed in. Nil means local.
	Location *time.Location
	Logger   *slog.Logger
	// OnUpdate receives the fully composed record on every commit.
	OnUpdate func(domain.EventRecord)
	// OnDelete is a pure notification to the parent; the buffer holds no
	// deletion state itself.
	OnDelete func(id int64)
}

// Buffer owns the editable copy of one event. Safe for concurrent use; the
// debounce timer fires on its own goroutine.
type Buffer struct {
	mu   sync.Mutex
	opts Options
	id   int64

	name        string
	beginDate   time.Time
	endDate     time.Time
	beginTime   string // "HH:MM" field text
	endTime     string
	allDay      bool
	description string
	location    string
	url         string

	owner Ownership
	timer *time.Timer
	gen   uint64 // invalidates callbacks from replaced timers
}

func New(rec domain.EventRecord, opts Options) *Buffer {
	def := DefaultWindows()
	if opts.Windows.Date <= 0 {
		opts.Windows.Date = def.Date
	}
	if opts.Windows.Time <= 0 {
		opts.Windows.Time = def.Time
	}
	if opts.Windows.Toggle <= 0 {
		opts.Windows.Toggle = def.Toggle
	}
	if opts.DefaultDuration <= 0 {
		opts.DefaultDuration = time.Hour
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	b := &Buffer{opts: opts, id: rec.ID}
	b.applyLocked(rec)
	return b
}

func (b *Buffer) ID() int64 { return b.id }

// Editing reports whether the user currently owns the buffer.
func (b *Buffer) Editing() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.owner == OwnerLocal
}

// Text field setters. The ownership flip happens before the mutation so a
// reconciliation racing with the first keystroke can never win.

func (b *Buffer) SetName(v string)        { b.setText(&b.name, v) }
func (b *Buffer) SetLocation(v string)    { b.setText(&b.location, v) }
func (b *Buffer) SetDescription(v string) { b.setText(&b.description, v) }
func (b *Buffer) SetURL(v string)         { b.setText(&b.url, v) }

func (b *Buffer) setText(dst *string, v string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.owner = OwnerLocal
	*dst = v
}

// Picker setters re-arm the buffer's single owned timer; a new edit cancels
// and reschedules rather than stacking, so only the value present at expiry
// is committed.

func (b *Buffer) SetBeginDate(day time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.owner = OwnerLocal
	b.beginDate = b.normalizeDay(day)
	b.armLocked(b.opts.Windows.Date)
}

func (b *Buffer) SetEndDate(day time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.owner = OwnerLocal
	b.endDate = b.normalizeDay(day)
	b.armLocked(b.opts.Windows.Date)
}

// normalizeDay rebuilds the picked day from its own calendar fields. A zone
// conversion of the instant could cross midnight and land the pick on the
// wrong day.
func (b *Buffer) normalizeDay(day time.Time) time.Time {
	return time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, b.opts.Location)
}

func (b *Buffer) SetBeginTime(text string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.owner = OwnerLocal
	b.beginTime = text
	b.armLocked(b.opts.Windows.Time)
}

func (b *Buffer) SetEndTime(text string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.owner = OwnerLocal
	b.endTime = text
	b.armLocked(b.opts.Windows.Time)
}

func (b *Buffer) SetAllDay(v bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.owner = OwnerLocal
	b.allDay = v
	b.armLocked(b.opts.Windows.Toggle)
}

// Blur is the "field finished" signal for text inputs: the edit ends and
// the buffer commits immediately.
func (b *Buffer) Blur() { b.commitNow() }

// Flush forces a pending edit out as if the quiescence window had already
// elapsed. The controller calls this on every buffer before reading the
// collection for submit.
func (b *Buffer) Flush() { b.commitNow() }

func (b *Buffer) commitNow() {
	b.mu.Lock()
	b.cancelTimerLocked()
	b.owner = OwnerExternal
	rec := b.composeLocked()
	cb := b.opts.OnUpdate
	b.mu.Unlock()
	if cb != nil {
		cb(rec)
	}
}

// Reconcile applies an externally pushed record. In the Local state the
// update is suppressed entirely and false is returned; in the External
// state every field is resynchronized.
func (b *Buffer) Reconcile(rec domain.EventRecord) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.owner == OwnerLocal {
		b.opts.Logger.Debug("external update suppressed mid-edit", "id", b.id)
		return false
	}
	b.applyLocked(rec)
	return true
}

// Delete notifies the parent that the user asked for this event's removal.
func (b *Buffer) Delete() {
	if cb := b.opts.OnDelete; cb != nil {
		cb(b.id)
	}
}

// Snapshot composes the record the buffer would commit right now, without
// committing it.
func (b *Buffer) Snapshot() domain.EventRecord {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.composeLocked()
}

// Display accessors for the current field values.

func (b *Buffer) Name() string        { b.mu.Lock(); defer b.mu.Unlock(); return b.name }
func (b *Buffer) Location() string    { b.mu.Lock(); defer b.mu.Unlock(); return b.location }
func (b *Buffer) Description() string { b.mu.Lock(); defer b.mu.Unlock(); return b.description }
func (b *Buffer) URL() string         { b.mu.Lock(); defer b.mu.Unlock(); return b.url }
func (b *Buffer) AllDay() bool        { b.mu.Lock(); defer b.mu.Unlock(); return b.allDay }
func (b *Buffer) BeginDate() time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.beginDate
}
func (b *Buffer) EndDate() time.Time { b.mu.Lock(); defer b.mu.Unlock(); return b.endDate }
func (b *Buffer) BeginTime() string  { b.mu.Lock(); defer b.mu.Unlock(); return b.beginTime }
func (b *Buffer) EndTime() string    { b.mu.Lock(); defer b.mu.Unlock(); return b.endTime }

// BeginTimeDisplay renders the begin time as "h:mm AM/PM" field text.
func (b *Buffer) BeginTimeDisplay() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	h, m := timefield.ParseTimeOfDay(b.beginTime, b.opts.Logger)
	return timefield.Format12Hour(h, m)
}

func (b *Buffer) EndTimeDisplay() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	h, m := timefield.ParseTimeOfDay(b.endTime, b.opts.Logger)
	return timefield.Format12Hour(h, m)
}

func (b *Buffer) applyLocked(rec domain.EventRecord) {
	loc := b.opts.Location
	start := rec.Start.In(loc)
	end := rec.End.In(loc)
	b.name = rec.Name
	b.beginDate = start
	b.endDate = end
	b.beginTime = start.Format("15:04")
	b.endTime = end.Format("15:04")
	b.allDay = rec.AllDay
	b.description = rec.Description
	b.location = rec.Location
	b.url = rec.URL
}

func (b *Buffer) armLocked(d time.Duration) {
	b.gen++
	gen := b.gen
	if b.timer != nil {
		b.timer.Stop()
	}
	b.timer = time.AfterFunc(d, func() { b.expire(gen) })
}

func (b *Buffer) cancelTimerLocked() {
	b.gen++
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
}

func (b *Buffer) expire(gen uint64) {
	b.mu.Lock()
	if gen != b.gen {
		// A newer edit re-armed the timer; this expiry is stale.
		b.mu.Unlock()
		return
	}
	b.timer = nil
	b.owner = OwnerExternal
	rec := b.composeLocked()
	cb := b.opts.OnUpdate
	b.mu.Unlock()
	if cb != nil {
		cb(rec)
	}
}

// composeLocked builds the commit record. Both endpoints are composed on
// the begin calendar day: a schedule entry's end time is always evaluated
// against its start day.
func (b *Buffer) composeLocked() domain.EventRecord {
	h, m := timefield.ParseTimeOfDay(b.beginTime, b.opts.Logger)
	start := timefield.ComposeInstant(b.beginDate, h, m, b.opts.Location)
	eh, em := timefield.ParseTimeOfDay(b.endTime, b.opts.Logger)
	end := timefield.ComposeInstant(b.beginDate, eh, em, b.opts.Location)
	if b.opts.AutoCorrectEnd && !b.allDay && !end.After(start) {
		end = start.Add(b.opts.DefaultDuration)
	}
	return domain.EventRecord{
		ID:          b.id,
		Name:        b.name,
		Start:       start,
		End:         end,
		Location:    b.location,
		Description: b.description,
		AllDay:      b.allDay,
		URL:         b.url,
	}
}
