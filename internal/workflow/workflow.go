// Package workflow drives the three-phase session: upload, edit, download.
// The controller owns the event collection and the single active session
// identifier, instantiates one edit buffer per event during the edit phase,
// and moves both across phase transitions.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"sync"
	"time"

	"github.com/schedulesnap/schedulesnap/internal/collection"
	"github.com/schedulesnap/schedulesnap/internal/domain"
	"github.com/schedulesnap/schedulesnap/internal/editor"
)

type Phase string

const (
	PhaseUpload   Phase = "upload"
	PhaseEdit     Phase = "edit"
	PhaseDownload Phase = "download"
)

var (
	ErrNoFileSelected   = errors.New("no file selected")
	ErrPermissionDenied = errors.New("permission to read the image was denied")
	ErrNoActiveSession  = errors.New("no active session")
	ErrSubmitInFlight   = errors.New("a submit is already in progress")
	ErrWrongPhase       = errors.New("operation not valid in the current phase")
	ErrInvalidWeeks     = errors.New("number of weeks must be at least 1")
)

// Collaborator is the slice of the extraction service the controller uses.
type Collaborator interface {
	UploadSchedule(ctx context.Context, image io.Reader, filename string, startDate time.Time, weeks int) ([]domain.EventRecord, string, error)
	UpdateEvents(ctx context.Context, events []domain.EventRecord, sessionID string) ([]domain.EventRecord, string, error)
	DownloadURL(sessionID string) string
}

type Options struct {
	Backend Collaborator
	// Editor carries the buffer windows and the end-before-start policy.
	Editor editor.Options
	// DefaultDuration is the span given to user-added events.
	DefaultDuration time.Duration
	Logger          *slog.Logger
	// OnError receives the user-facing message for every failed
	// collaborator call. Errors are also returned to the direct caller.
	OnError func(msg string)
	Now     func() time.Time
}

// Controller is the workflow state machine. All mutations go through its
// methods; the collection is owned exclusively by the controller and only
// copies cross the boundary.
type Controller struct {
	mu      sync.Mutex
	opts    Options
	log     *slog.Logger
	phase   Phase
	events  *collection.Collection
	buffers map[int64]*editor.Buffer
	order   []int64
	session string
	sched   domain.Schedule

	submitting bool
}

func New(opts Options) *Controller {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	c := &Controller{
		opts:    opts,
		log:     opts.Logger,
		phase:   PhaseUpload,
		buffers: map[int64]*editor.Buffer{},
	}
	c.events = c.newCollection()
	return c
}

func (c *Controller) newCollection() *collection.Collection {
	return collection.New(collection.Options{
		DefaultDuration: c.opts.DefaultDuration,
		Logger:          c.log,
		Now:             c.opts.Now,
	})
}

func (c *Controller) Phase() Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase
}

func (c *Controller) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

// Schedule returns the parameters of the current upload.
func (c *Controller) Schedule() domain.Schedule {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sched
}

// Events returns a copy of the current record set in display order.
func (c *Controller) Events() []domain.EventRecord {
	c.mu.Lock()
	col := c.events
	c.mu.Unlock()
	return col.Events()
}

// Buffer returns the edit buffer for the given event id.
func (c *Controller) Buffer(id int64) (*editor.Buffer, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	b, ok := c.buffers[id]
	return b, ok
}

// Buffers returns the active buffers in display order.
func (c *Controller) Buffers() []*editor.Buffer {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*editor.Buffer, 0, len(c.order))
	for _, id := range c.order {
		if b, ok := c.buffers[id]; ok {
			out = append(out, b)
		}
	}
	return out
}

// Upload sends the schedule image to the extraction service and, on
// success, stores the returned events and session identifier and enters
// the edit phase. On failure the controller stays in the upload phase.
func (c *Controller) Upload(ctx context.Context, image io.Reader, filename string, startDate time.Time, weeks int) error {
	c.mu.Lock()
	if c.phase != PhaseUpload {
		c.mu.Unlock()
		return ErrWrongPhase
	}
	c.mu.Unlock()

	if image == nil || filename == "" {
		return c.report(ErrNoFileSelected)
	}
	if weeks < 1 {
		return c.report(ErrInvalidWeeks)
	}

	events, session, err := c.opts.Backend.UploadSchedule(ctx, image, filename, startDate, weeks)
	if err != nil {
		if errors.Is(err, fs.ErrPermission) {
			// Reading the image itself failed, not the network call.
			return c.report(fmt.Errorf("%w: %v", ErrPermissionDenied, err))
		}
		return c.report(fmt.Errorf("processing schedule image: %w", err))
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.events.Replace(events)
	c.session = session
	c.sched = domain.Schedule{StartDate: startDate, NumberOfWeeks: weeks}
	c.rebuildBuffersLocked()
	c.phase = PhaseEdit
	c.log.Info("schedule processed", "events", len(events), "weeks", weeks)
	return nil
}

// AddEvent appends a user-created event with defaults and gives it a
// buffer. Valid only in the edit phase.
func (c *Controller) AddEvent() (domain.EventRecord, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.phase != PhaseEdit {
		return domain.EventRecord{}, ErrWrongPhase
	}
	rec := c.events.Add()
	c.buffers[rec.ID] = c.newBuffer(rec)
	c.order = append(c.order, rec.ID)
	return rec, nil
}

// UpdateEvent pushes an external (non-buffer) update: the collection record
// is replaced and the buffer reconciles, unless the user is mid-edit there.
func (c *Controller) UpdateEvent(id int64, rec domain.EventRecord) error {
	c.mu.Lock()
	if c.phase != PhaseEdit {
		c.mu.Unlock()
		return ErrWrongPhase
	}
	b := c.buffers[id]
	col := c.events
	c.mu.Unlock()

	if !col.UpdateByID(id, rec) {
		return fmt.Errorf("no event with id %d", id)
	}
	if b != nil {
		b.Reconcile(rec)
	}
	return nil
}

// RemoveEvent deletes the record and its buffer; a miss is a no-op.
func (c *Controller) RemoveEvent(id int64) {
	c.mu.Lock()
	delete(c.buffers, id)
	for i, oid := range c.order {
		if oid == id {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
	col := c.events
	c.mu.Unlock()
	col.RemoveByID(id)
}

// Submit flushes every active buffer, then sends the full collection and
// the current session identifier to the update endpoint. On success the
// returned events and session identifier replace the current ones and the
// workflow enters the download phase. A submit while another is outstanding
// is rejected. Failure leaves the phase unchanged.
func (c *Controller) Submit(ctx context.Context) error {
	c.mu.Lock()
	if c.phase != PhaseEdit {
		c.mu.Unlock()
		return ErrWrongPhase
	}
	if c.submitting {
		c.mu.Unlock()
		return c.report(ErrSubmitInFlight)
	}
	c.submitting = true
	buffers := make([]*editor.Buffer, 0, len(c.order))
	for _, id := range c.order {
		if b, ok := c.buffers[id]; ok {
			buffers = append(buffers, b)
		}
	}
	session := c.session
	col := c.events
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.submitting = false
		c.mu.Unlock()
	}()

	// Freshly typed values must reach the collection before it is read;
	// this ordering is the safety-critical part of the whole submit path.
	for _, b := range buffers {
		b.Flush()
	}
	events := col.Events()

	updated, newSession, err := c.opts.Backend.UpdateEvents(ctx, events, session)
	if err != nil {
		return c.report(fmt.Errorf("updating events: %w", err))
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.phase != PhaseEdit || c.events != col {
		// The workflow was reset while the call was in flight; the
		// response belongs to a discarded session.
		c.log.Warn("dropping update response after reset")
		return nil
	}
	c.events.Replace(updated)
	c.session = newSession
	for _, rec := range c.events.Events() {
		if b, ok := c.buffers[rec.ID]; ok {
			b.Reconcile(rec)
		}
	}
	c.phase = PhaseDownload
	c.log.Info("events submitted", "events", len(updated))
	return nil
}

// Back navigates one phase backwards. Moving from edit to upload discards
// the collection, the buffers, and the session identifier; download back to
// edit keeps everything.
func (c *Controller) Back() {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch c.phase {
	case PhaseDownload:
		c.phase = PhaseEdit
	case PhaseEdit:
		c.events = c.newCollection()
		c.buffers = map[int64]*editor.Buffer{}
		c.order = nil
		c.session = ""
		c.sched = domain.Schedule{}
		c.phase = PhaseUpload
		c.log.Info("workflow reset")
	}
}

// DownloadURL returns the collaborator link for the calendar file of the
// current session.
func (c *Controller) DownloadURL() (string, error) {
	c.mu.Lock()
	session := c.session
	c.mu.Unlock()
	if session == "" {
		return "", ErrNoActiveSession
	}
	return c.opts.Backend.DownloadURL(session), nil
}

func (c *Controller) rebuildBuffersLocked() {
	c.buffers = map[int64]*editor.Buffer{}
	c.order = nil
	for _, rec := range c.events.Events() {
		c.buffers[rec.ID] = c.newBuffer(rec)
		c.order = append(c.order, rec.ID)
	}
}

func (c *Controller) newBuffer(rec domain.EventRecord) *editor.Buffer {
	opts := c.opts.Editor
	opts.Logger = c.log
	opts.OnUpdate = c.applyCommit
	opts.OnDelete = c.RemoveEvent
	return editor.New(rec, opts)
}

// applyCommit lands a buffer commit in whatever collection is current.
// Commits racing a workflow reset hit the discarded collection and vanish
// with it.
func (c *Controller) applyCommit(rec domain.EventRecord) {
	c.mu.Lock()
	col := c.events
	c.mu.Unlock()
	col.UpdateByID(rec.ID, rec)
}

// report logs the failure, hands the user-facing message to the error
// callback, and returns the error unchanged. The phase is never touched.
func (c *Controller) report(err error) error {
	c.log.Error("workflow error", "err", err)
	if cb := c.opts.OnError; cb != nil {
		cb(err.Error())
	}
	return err
}
