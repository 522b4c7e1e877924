package collection

import (
	"testing"
	"time"

	"github.com/schedulesnap/schedulesnap/internal/domain"
)

func fixedNow() time.Time {
	return time.Date(2026, 9, 1, 10, 0, 0, 0, time.UTC)
}

func seeded(t *testing.T) *Collection {
	t.Helper()
	c := New(Options{Now: fixedNow})
	c.Replace([]domain.EventRecord{
		{ID: 1, Name: "Sample Event", Start: fixedNow(), End: fixedNow().Add(time.Hour)},
		{ID: 2, Name: "Another Event", Start: fixedNow().Add(2 * time.Hour), End: fixedNow().Add(3 * time.Hour)},
	})
	return c
}

func TestAddDefaults(t *testing.T) {
	c := seeded(t)
	rec := c.Add()
	if rec.ID == 1 || rec.ID == 2 {
		t.Fatalf("local id collides with server ids: %d", rec.ID)
	}
	if got := rec.End.Sub(rec.Start); got != time.Hour {
		t.Fatalf("default duration = %v, want 1h", got)
	}
	if rec.Name != "" || rec.Location != "" || rec.Description != "" || rec.URL != "" || rec.AllDay {
		t.Fatalf("expected empty optional fields: %+v", rec)
	}
	events := c.Events()
	if events[len(events)-1].ID != rec.ID {
		t.Fatalf("added record is not last: %+v", events)
	}
	if other := c.Add(); other.ID == rec.ID {
		t.Fatalf("ids not unique: %d", other.ID)
	}
}

func TestUpdateByIDLastPatchWins(t *testing.T) {
	c := seeded(t)
	if !c.UpdateByID(1, domain.EventRecord{ID: 1, Name: "First"}) {
		t.Fatal("expected update to hit")
	}
	if !c.UpdateByID(1, domain.EventRecord{ID: 1, Name: "Math 101"}) {
		t.Fatal("expected update to hit")
	}
	got, ok := c.Get(1)
	if !ok || got.Name != "Math 101" {
		t.Fatalf("unexpected record after updates: %+v", got)
	}
}

func TestUpdateByIDPreservesIdentity(t *testing.T) {
	c := seeded(t)
	c.UpdateByID(2, domain.EventRecord{ID: 99, Name: "Renamed"})
	if _, ok := c.Get(99); ok {
		t.Fatal("identity must be immutable")
	}
	got, _ := c.Get(2)
	if got.Name != "Renamed" {
		t.Fatalf("unexpected record: %+v", got)
	}
}

func TestUpdateAndRemoveMisses(t *testing.T) {
	c := seeded(t)
	if c.UpdateByID(42, domain.EventRecord{}) {
		t.Fatal("expected miss")
	}
	if c.RemoveByID(42) {
		t.Fatal("expected remove miss to be a no-op")
	}
	if c.Len() != 2 {
		t.Fatalf("collection changed on miss: %d", c.Len())
	}
}

func TestRemoveByIDKeepsOrder(t *testing.T) {
	c := seeded(t)
	rec := c.Add()
	if !c.RemoveByID(1) {
		t.Fatal("expected removal")
	}
	events := c.Events()
	if len(events) != 2 || events[0].ID != 2 || events[1].ID != rec.ID {
		t.Fatalf("unexpected order after removal: %+v", events)
	}
}

func TestEventsReturnsCopy(t *testing.T) {
	c := seeded(t)
	events := c.Events()
	events[0].Name = "mutated"
	got, _ := c.Get(events[0].ID)
	if got.Name == "mutated" {
		t.Fatal("Events must not expose internal storage")
	}
}
