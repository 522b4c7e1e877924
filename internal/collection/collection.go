// Package collection holds the ordered set of event records for the current
// workflow session. The collection is the single source of truth handed to
// and received from the extraction service; editors feed mutations through
// UpdateByID and never hold references into its storage.
package collection

import (
	"log/slog"
	"sync"
	"time"

	"github.com/schedulesnap/schedulesnap/internal/domain"
)

const DefaultEventDuration = time.Hour

type Options struct {
	// DefaultDuration is the span given to user-added events. Zero means
	// DefaultEventDuration.
	DefaultDuration time.Duration
	Logger          *slog.Logger
	// Now is injectable for tests.
	Now func() time.Time
}

// Collection is an ordered sequence of EventRecord with ids unique within
// the collection. Display order is insertion order; user additions append.
// Safe for use from editor timer callbacks.
type Collection struct {
	mu      sync.RWMutex
	opts    Options
	records []domain.EventRecord
	nextID  int64
}

func New(opts Options) *Collection {
	if opts.DefaultDuration <= 0 {
		opts.DefaultDuration = DefaultEventDuration
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	// Local ids are timestamp-seeded so they cannot collide with the small
	// integers the server assigns to extracted events.
	return &Collection{opts: opts, nextID: opts.Now().UnixMilli()}
}

// Replace adopts a full snapshot, e.g. the record set returned by the
// extraction service. The slice is copied.
func (c *Collection) Replace(records []domain.EventRecord) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.records = append([]domain.EventRecord(nil), records...)
	for _, r := range c.records {
		if r.ID >= c.nextID {
			c.nextID = r.ID + 1
		}
	}
}

// Add appends a new record with a fresh locally unique id, a default
// duration starting now, and empty optional fields.
func (c *Collection) Add() domain.EventRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	start := c.opts.Now()
	rec := domain.EventRecord{
		ID:    c.allocateID(),
		Start: start,
		End:   start.Add(c.opts.DefaultDuration),
	}
	c.records = append(c.records, rec)
	return rec
}

func (c *Collection) allocateID() int64 {
	for _, r := range c.records {
		if r.ID >= c.nextID {
			c.nextID = r.ID + 1
		}
	}
	id := c.nextID
	c.nextID++
	return id
}

// UpdateByID replaces the record whose id matches. Identity is preserved
// regardless of the id carried by the replacement. A miss is a loggable
// anomaly but not an error: the record may have been deleted while an edit
// was still in flight.
func (c *Collection) UpdateByID(id int64, rec domain.EventRecord) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.records {
		if c.records[i].ID == id {
			rec.ID = id
			c.records[i] = rec
			return true
		}
	}
	c.opts.Logger.Warn("update for unknown event id", "id", id)
	return false
}

// RemoveByID removes the matching record; a miss is a no-op.
func (c *Collection) RemoveByID(id int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.records {
		if c.records[i].ID == id {
			c.records = append(c.records[:i], c.records[i+1:]...)
			return true
		}
	}
	return false
}

// Get returns the record with the given id.
func (c *Collection) Get(id int64) (domain.EventRecord, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, r := range c.records {
		if r.ID == id {
			return r, true
		}
	}
	return domain.EventRecord{}, false
}

// Events returns a copy of the records in display order. Callers never see
// the internal storage.
func (c *Collection) Events() []domain.EventRecord {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]domain.EventRecord(nil), c.records...)
}

func (c *Collection) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.records)
}
