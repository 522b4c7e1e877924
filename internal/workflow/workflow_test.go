package workflow

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"strings"
	"testing"
	"time"

	"github.com/schedulesnap/schedulesnap/internal/domain"
	"github.com/schedulesnap/schedulesnap/internal/editor"
)

type fakeBackend struct {
	uploadEvents  []domain.EventRecord
	uploadSession string
	uploadErr     error

	updateEvents  []domain.EventRecord
	updateSession string
	updateErr     error
	updateEcho    bool // return the submitted events unchanged

	submitted      [][]domain.EventRecord
	submittedWith  []string
	uploadedNames  []string
	uploadedWeeks  []int
	updateStarted  chan struct{}
	updateContinue chan struct{}
}

func (f *fakeBackend) UploadSchedule(_ context.Context, _ io.Reader, filename string, _ time.Time, weeks int) ([]domain.EventRecord, string, error) {
	f.uploadedNames = append(f.uploadedNames, filename)
	f.uploadedWeeks = append(f.uploadedWeeks, weeks)
	if f.uploadErr != nil {
		return nil, "", f.uploadErr
	}
	return f.uploadEvents, f.uploadSession, nil
}

func (f *fakeBackend) UpdateEvents(_ context.Context, events []domain.EventRecord, sessionID string) ([]domain.EventRecord, string, error) {
	if f.updateStarted != nil {
		f.updateStarted <- struct{}{}
		<-f.updateContinue
	}
	f.submitted = append(f.submitted, events)
	f.submittedWith = append(f.submittedWith, sessionID)
	if f.updateErr != nil {
		return nil, "", f.updateErr
	}
	if f.updateEcho {
		return events, f.updateSession, nil
	}
	return f.updateEvents, f.updateSession, nil
}

func (f *fakeBackend) DownloadURL(sessionID string) string {
	return "http://backend.test/api/download-ics?session_id=" + sessionID
}

func twoEvents() []domain.EventRecord {
	start := time.Date(2026, 9, 1, 9, 0, 0, 0, time.UTC)
	return []domain.EventRecord{
		{ID: 1, Name: "Sample Event", Start: start, End: start.Add(time.Hour), Location: "Room 12"},
		{ID: 2, Name: "Another Event", Start: start.Add(2 * time.Hour), End: start.Add(3 * time.Hour)},
	}
}

func newController(f *fakeBackend, onError func(string)) *Controller {
	return New(Options{
		Backend: f,
		Editor: editor.Options{
			Windows:        editor.Windows{Date: 20 * time.Millisecond, Time: 10 * time.Millisecond, Toggle: 5 * time.Millisecond},
			AutoCorrectEnd: true,
			Location:       time.UTC,
		},
		OnError: onError,
	})
}

func uploaded(t *testing.T, f *fakeBackend) *Controller {
	t.Helper()
	c := newController(f, nil)
	err := c.Upload(context.Background(), strings.NewReader("png"), "schedule.png", time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC), 2)
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	return c
}

func TestUploadTransition(t *testing.T) {
	f := &fakeBackend{uploadEvents: twoEvents(), uploadSession: "sess-1"}
	c := uploaded(t, f)

	if c.Phase() != PhaseEdit {
		t.Fatalf("phase = %s, want edit", c.Phase())
	}
	if c.SessionID() != "sess-1" {
		t.Fatalf("session = %q", c.SessionID())
	}
	if got := len(c.Buffers()); got != 2 {
		t.Fatalf("expected one buffer per event, got %d", got)
	}
	if sched := c.Schedule(); sched.NumberOfWeeks != 2 {
		t.Fatalf("schedule params not stored: %+v", sched)
	}
}

func TestUploadRejectsMissingFileAndBadWeeks(t *testing.T) {
	var msgs []string
	f := &fakeBackend{uploadEvents: twoEvents(), uploadSession: "s"}
	c := newController(f, func(m string) { msgs = append(msgs, m) })

	if err := c.Upload(context.Background(), nil, "", time.Now(), 1); !errors.Is(err, ErrNoFileSelected) {
		t.Fatalf("err = %v, want ErrNoFileSelected", err)
	}
	if err := c.Upload(context.Background(), strings.NewReader("x"), "a.png", time.Now(), 0); !errors.Is(err, ErrInvalidWeeks) {
		t.Fatalf("err = %v, want ErrInvalidWeeks", err)
	}
	if c.Phase() != PhaseUpload {
		t.Fatal("failed validation must not change phase")
	}
	if len(msgs) != 2 {
		t.Fatalf("error callback calls = %d", len(msgs))
	}
	if len(f.uploadedNames) != 0 {
		t.Fatal("collaborator must not be called on validation failure")
	}
}

func TestUploadPermissionFailure(t *testing.T) {
	var msg string
	f := &fakeBackend{uploadErr: fmt.Errorf("reading schedule image: %w", fs.ErrPermission)}
	c := newController(f, func(m string) { msg = m })

	err := c.Upload(context.Background(), strings.NewReader("x"), "a.png", time.Now(), 1)
	if !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("err = %v, want ErrPermissionDenied", err)
	}
	if c.Phase() != PhaseUpload {
		t.Fatalf("phase = %s after failure", c.Phase())
	}
	if !strings.Contains(msg, "permission") {
		t.Fatalf("error message not surfaced: %q", msg)
	}
}

func TestUploadFailureKeepsPhase(t *testing.T) {
	var msg string
	f := &fakeBackend{uploadErr: errors.New("server exploded")}
	c := newController(f, func(m string) { msg = m })

	err := c.Upload(context.Background(), strings.NewReader("x"), "a.png", time.Now(), 1)
	if err == nil {
		t.Fatal("expected upload error")
	}
	if c.Phase() != PhaseUpload {
		t.Fatalf("phase = %s after failure", c.Phase())
	}
	if !strings.Contains(msg, "server exploded") {
		t.Fatalf("error message not surfaced: %q", msg)
	}
}

// Scenario A: the user renames event 1 and blurs; submit must carry the new
// name for event 1 and leave event 2 untouched.
func TestSubmitCarriesEditedName(t *testing.T) {
	f := &fakeBackend{uploadEvents: twoEvents(), uploadSession: "sess-1", updateEcho: true, updateSession: "sess-2"}
	c := uploaded(t, f)

	b, ok := c.Buffer(1)
	if !ok {
		t.Fatal("missing buffer for event 1")
	}
	b.SetName("Math 101")
	b.Blur()

	if err := c.Submit(context.Background()); err != nil {
		t.Fatalf("submit: %v", err)
	}

	if len(f.submitted) != 1 {
		t.Fatalf("submit calls = %d", len(f.submitted))
	}
	payload := f.submitted[0]
	if payload[0].Name != "Math 101" {
		t.Fatalf("event 1 name = %q", payload[0].Name)
	}
	if payload[1].Name != "Another Event" || payload[1].ID != 2 {
		t.Fatalf("event 2 changed: %+v", payload[1])
	}
	if f.submittedWith[0] != "sess-1" {
		t.Fatalf("submitted with session %q", f.submittedWith[0])
	}
	if c.SessionID() != "sess-2" {
		t.Fatal("session identifier must be superseded by the response")
	}
	if c.Phase() != PhaseDownload {
		t.Fatalf("phase = %s, want download", c.Phase())
	}
}

// The flush-before-read property: a value typed moments before submit, with
// its debounce window still open, must appear in the payload.
func TestSubmitFlushesPendingEdits(t *testing.T) {
	f := &fakeBackend{uploadEvents: twoEvents(), uploadSession: "s", updateEcho: true}
	c := uploaded(t, f)

	b, _ := c.Buffer(1)
	b.SetBeginTime("11:45") // window still open, no blur
	if err := c.Submit(context.Background()); err != nil {
		t.Fatalf("submit: %v", err)
	}

	got := f.submitted[0][0].Start.Format("15:04")
	if got != "11:45" {
		t.Fatalf("payload start = %q, pending edit was dropped", got)
	}
}

// Scenario B: a user-added event gets a fresh id, a one hour duration, and
// lands last in the list.
func TestAddEventDefaults(t *testing.T) {
	f := &fakeBackend{uploadEvents: twoEvents(), uploadSession: "s"}
	c := uploaded(t, f)

	rec, err := c.AddEvent()
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if rec.ID == 1 || rec.ID == 2 {
		t.Fatalf("id %d collides", rec.ID)
	}
	if rec.End.Sub(rec.Start) != time.Hour {
		t.Fatalf("duration = %v", rec.End.Sub(rec.Start))
	}
	events := c.Events()
	if events[len(events)-1].ID != rec.ID {
		t.Fatal("added event must appear last")
	}
	if _, ok := c.Buffer(rec.ID); !ok {
		t.Fatal("added event must get a buffer")
	}
}

// Scenario C is covered field-level in the editor tests; here the corrected
// end must survive all the way into the submitted payload.
func TestSubmitAppliesEndBeforeStartPolicy(t *testing.T) {
	f := &fakeBackend{uploadEvents: twoEvents(), uploadSession: "s", updateEcho: true}
	c := uploaded(t, f)

	b, _ := c.Buffer(1)
	b.SetBeginTime("09:00")
	b.SetEndTime("08:00")
	if err := c.Submit(context.Background()); err != nil {
		t.Fatalf("submit: %v", err)
	}

	got := f.submitted[0][0]
	if got.End.Sub(got.Start) != time.Hour {
		t.Fatalf("end-before-start not corrected: start=%v end=%v", got.Start, got.End)
	}
}

func TestSubmitInFlightRejected(t *testing.T) {
	f := &fakeBackend{
		uploadEvents:   twoEvents(),
		uploadSession:  "s",
		updateEcho:     true,
		updateStarted:  make(chan struct{}, 1),
		updateContinue: make(chan struct{}),
	}
	c := uploaded(t, f)

	done := make(chan error, 1)
	go func() { done <- c.Submit(context.Background()) }()
	<-f.updateStarted

	if err := c.Submit(context.Background()); !errors.Is(err, ErrSubmitInFlight) {
		t.Fatalf("err = %v, want ErrSubmitInFlight", err)
	}
	close(f.updateContinue)
	if err := <-done; err != nil {
		t.Fatalf("first submit: %v", err)
	}
}

func TestSubmitFailureKeepsEditPhase(t *testing.T) {
	var msg string
	f := &fakeBackend{uploadEvents: twoEvents(), uploadSession: "sess-1", updateErr: errors.New("timeout")}
	c := newController(f, func(m string) { msg = m })
	if err := c.Upload(context.Background(), strings.NewReader("x"), "a.png", time.Now(), 1); err != nil {
		t.Fatal(err)
	}

	if err := c.Submit(context.Background()); err == nil {
		t.Fatal("expected submit error")
	}
	if c.Phase() != PhaseEdit {
		t.Fatalf("phase = %s, failed call must not transition", c.Phase())
	}
	if c.SessionID() != "sess-1" {
		t.Fatal("session must be unchanged after failure")
	}
	if msg == "" {
		t.Fatal("error message not surfaced")
	}
}

func TestBackNavigation(t *testing.T) {
	f := &fakeBackend{uploadEvents: twoEvents(), uploadSession: "s", updateEcho: true, updateSession: "s2"}
	c := uploaded(t, f)
	if err := c.Submit(context.Background()); err != nil {
		t.Fatal(err)
	}

	c.Back()
	if c.Phase() != PhaseEdit {
		t.Fatalf("phase = %s, want edit", c.Phase())
	}
	if len(c.Events()) != 2 || c.SessionID() != "s2" {
		t.Fatal("download→edit must keep events and session")
	}

	c.Back()
	if c.Phase() != PhaseUpload {
		t.Fatalf("phase = %s, want upload", c.Phase())
	}
	if len(c.Events()) != 0 || c.SessionID() != "" {
		t.Fatal("edit→upload must discard events and session")
	}

	c.Back() // no-op at the first phase
	if c.Phase() != PhaseUpload {
		t.Fatal("back in upload must be a no-op")
	}
}

func TestDeleteThroughBuffer(t *testing.T) {
	f := &fakeBackend{uploadEvents: twoEvents(), uploadSession: "s"}
	c := uploaded(t, f)

	b, _ := c.Buffer(2)
	b.Delete()
	events := c.Events()
	if len(events) != 1 || events[0].ID != 1 {
		t.Fatalf("unexpected events after delete: %+v", events)
	}
	if _, ok := c.Buffer(2); ok {
		t.Fatal("buffer must be gone after delete")
	}
}

func TestExternalUpdateReconciles(t *testing.T) {
	f := &fakeBackend{uploadEvents: twoEvents(), uploadSession: "s"}
	c := uploaded(t, f)

	rec := twoEvents()[0]
	rec.Name = "Refetched"
	if err := c.UpdateEvent(1, rec); err != nil {
		t.Fatal(err)
	}
	b, _ := c.Buffer(1)
	if b.Name() != "Refetched" {
		t.Fatalf("buffer not reconciled: %q", b.Name())
	}

	// Mid-edit the same push must leave the buffer alone.
	b.SetName("typing...")
	rec.Name = "Refetched again"
	if err := c.UpdateEvent(1, rec); err != nil {
		t.Fatal(err)
	}
	if b.Name() != "typing..." {
		t.Fatalf("mid-edit value clobbered: %q", b.Name())
	}
	events := c.Events()
	if events[0].Name != "Refetched again" {
		t.Fatal("collection must still take the external update")
	}
}

func TestDownloadURL(t *testing.T) {
	f := &fakeBackend{uploadEvents: twoEvents(), uploadSession: "sess-9"}
	c := newController(f, nil)

	if _, err := c.DownloadURL(); !errors.Is(err, ErrNoActiveSession) {
		t.Fatalf("err = %v, want ErrNoActiveSession", err)
	}
	if err := c.Upload(context.Background(), strings.NewReader("x"), "a.png", time.Now(), 1); err != nil {
		t.Fatal(err)
	}
	url, err := c.DownloadURL()
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(url, "sess-9") {
		t.Fatalf("url = %q", url)
	}
}

func TestSubmitOutsideEditPhase(t *testing.T) {
	f := &fakeBackend{}
	c := newController(f, nil)
	if err := c.Submit(context.Background()); !errors.Is(err, ErrWrongPhase) {
		t.Fatalf("err = %v, want ErrWrongPhase", err)
	}
	if _, err := c.AddEvent(); !errors.Is(err, ErrWrongPhase) {
		t.Fatalf("add err = %v, want ErrWrongPhase", err)
	}
}
