package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/schedulesnap/schedulesnap/internal/backend"
	"github.com/schedulesnap/schedulesnap/internal/domain"
	"github.com/schedulesnap/schedulesnap/internal/ics"
	"github.com/schedulesnap/schedulesnap/internal/security"
	"github.com/schedulesnap/schedulesnap/internal/workflow"
)

// Server exposes the workflow over a local control API. Every route except
// the health check sits behind the token guard.
type Server struct {
	ctrl    *workflow.Controller
	auth    security.TokenGuard
	log     *slog.Logger
	httpSrv *http.Server
}

type Options struct {
	Controller *workflow.Controller
	Auth       security.TokenGuard
	Logger     *slog.Logger
}

func New(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{ctrl: opts.Controller, auth: opts.Auth, log: logger}
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/v1/state", s.handleState)
	mux.HandleFunc("/v1/upload", s.handleUpload)
	mux.HandleFunc("/v1/events", s.handleEvents)
	mux.HandleFunc("/v1/events/add", s.handleAddEvent)
	mux.HandleFunc("/v1/events/update", s.handleUpdateEvent)
	mux.HandleFunc("/v1/events/delete", s.handleDeleteEvent)
	mux.HandleFunc("/v1/edit", s.handleEdit)
	mux.HandleFunc("/v1/submit", s.handleSubmit)
	mux.HandleFunc("/v1/back", s.handleBack)
	mux.HandleFunc("/v1/download", s.handleDownload)
	mux.HandleFunc("/v1/calendar.ics", s.handleCalendarFile)
	s.httpSrv = &http.Server{Handler: s.wrapAuth(mux), ReadHeaderTimeout: 5 * time.Second}
	return s
}

// Handler exposes the wrapped mux for tests.
func (s *Server) Handler() http.Handler { return s.httpSrv.Handler }

func (s *Server) ServeTCP(ctx context.Context, bind string) error {
	if bind == "" {
		return errors.New("bind required")
	}
	ln, err := net.Listen("tcp", bind)
	if err != nil {
		return err
	}
	go s.shutdownOnContext(ctx)
	return s.httpSrv.Serve(ln)
}

func (s *Server) ServeUnix(ctx context.Context, path string) error {
	if path == "" {
		return errors.New("socket path required")
	}
	_ = os.Remove(path)
	ln, err := net.Listen("unix", path)
	if err != nil {
		return err
	}
	if err := os.Chmod(path, 0o600); err != nil {
		return err
	}
	go s.shutdownOnContext(ctx)
	return s.httpSrv.Serve(ln)
}

func (s *Server) wrapAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/healthz" && !s.auth.Allow(r) {
			writeErr(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) shutdownOnContext(ctx context.Context) {
	<-ctx.Done()
	timeout, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	_ = s.httpSrv.Shutdown(timeout)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type stateResponse struct {
	Phase     workflow.Phase `json:"phase"`
	SessionID string         `json:"session_id,omitempty"`
	Events    int            `json:"events"`
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	writeJSON(w, http.StatusOK, stateResponse{
		Phase:     s.ctrl.Phase(),
		SessionID: s.ctrl.SessionID(),
		Events:    len(s.ctrl.Events()),
	})
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	file, header, err := r.FormFile("image")
	var (
		image    io.Reader
		filename string
	)
	if err == nil {
		defer file.Close()
		image = file
		filename = header.Filename
	}
	startDate, err := time.Parse("2006-01-02", r.FormValue("startDate"))
	if err != nil {
		writeErr(w, http.StatusBadRequest, "startDate must be YYYY-MM-DD")
		return
	}
	weeks, err := strconv.Atoi(r.FormValue("numberOfWeeks"))
	if err != nil {
		writeErr(w, http.StatusBadRequest, "numberOfWeeks must be an integer")
		return
	}
	if err := s.ctrl.Upload(r.Context(), image, filename, startDate, weeks); err != nil {
		s.writeWorkflowErr(w, err)
		return
	}
	s.writeEvents(w)
}

type eventView struct {
	domain.EventRecord
	BeginTimeDisplay string `json:"beginTimeDisplay"`
	EndTimeDisplay   string `json:"endTimeDisplay"`
	Editing          bool   `json:"editing"`
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	s.writeEvents(w)
}

func (s *Server) writeEvents(w http.ResponseWriter) {
	records := s.ctrl.Events()
	views := make([]eventView, 0, len(records))
	for _, rec := range records {
		v := eventView{EventRecord: rec}
		if b, ok := s.ctrl.Buffer(rec.ID); ok {
			v.BeginTimeDisplay = b.BeginTimeDisplay()
			v.EndTimeDisplay = b.EndTimeDisplay()
			v.Editing = b.Editing()
		}
		views = append(views, v)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"phase":      s.ctrl.Phase(),
		"session_id": s.ctrl.SessionID(),
		"events":     views,
	})
}

func (s *Server) handleAddEvent(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	rec, err := s.ctrl.AddEvent()
	if err != nil {
		s.writeWorkflowErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleUpdateEvent(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var rec domain.EventRecord
	if err := json.NewDecoder(r.Body).Decode(&rec); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid json")
		return
	}
	if err := s.ctrl.UpdateEvent(rec.ID, rec); err != nil {
		s.writeWorkflowErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleDeleteEvent(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var payload struct {
		ID int64 `json:"id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid json")
		return
	}
	s.ctrl.RemoveEvent(payload.ID)
	writeJSON(w, http.StatusOK, map[string]int64{"id": payload.ID})
}

type editRequest struct {
	ID    int64  `json:"id"`
	Field string `json:"field"`
	Value string `json:"value"`
}

// handleEdit routes one field change into the event's edit buffer. Text
// fields stay pending until a "blur" edit; picker fields commit on their
// own after the quiescence window.
func (s *Server) handleEdit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var payload editRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid json")
		return
	}
	b, ok := s.ctrl.Buffer(payload.ID)
	if !ok {
		writeErr(w, http.StatusNotFound, "no such event")
		return
	}
	switch payload.Field {
	case "name":
		b.SetName(payload.Value)
	case "location":
		b.SetLocation(payload.Value)
	case "description":
		b.SetDescription(payload.Value)
	case "url":
		b.SetURL(payload.Value)
	case "beginDate", "endDate":
		day, err := time.Parse("2006-01-02", payload.Value)
		if err != nil {
			writeErr(w, http.StatusBadRequest, "date must be YYYY-MM-DD")
			return
		}
		if payload.Field == "beginDate" {
			b.SetBeginDate(day)
		} else {
			b.SetEndDate(day)
		}
	case "beginTime":
		b.SetBeginTime(payload.Value)
	case "endTime":
		b.SetEndTime(payload.Value)
	case "allDay":
		v, err := strconv.ParseBool(payload.Value)
		if err != nil {
			writeErr(w, http.StatusBadRequest, "allDay must be a boolean")
			return
		}
		b.SetAllDay(v)
	case "blur":
		b.Blur()
	default:
		writeErr(w, http.StatusBadRequest, "unknown field")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": payload.ID, "editing": b.Editing()})
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if err := s.ctrl.Submit(r.Context()); err != nil {
		s.writeWorkflowErr(w, err)
		return
	}
	s.writeEvents(w)
}

func (s *Server) handleBack(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	s.ctrl.Back()
	writeJSON(w, http.StatusOK, map[string]workflow.Phase{"phase": s.ctrl.Phase()})
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	url, err := s.ctrl.DownloadURL()
	if err != nil {
		s.writeWorkflowErr(w, err)
		return
	}
	http.Redirect(w, r, url, http.StatusFound)
}

// handleCalendarFile renders the calendar locally instead of redirecting to
// the extraction service.
func (s *Server) handleCalendarFile(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	events := s.ctrl.Events()
	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="schedule.ics"`)
	if err := ics.Encode(w, events, ics.Options{
		Weeks:  s.ctrl.Schedule().NumberOfWeeks,
		Logger: s.log,
	}); err != nil {
		s.log.Error("encoding calendar", "err", err)
	}
}

func (s *Server) writeWorkflowErr(w http.ResponseWriter, err error) {
	var srvErr *backend.ServerError
	switch {
	case errors.Is(err, workflow.ErrNoFileSelected),
		errors.Is(err, workflow.ErrInvalidWeeks):
		writeErr(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, workflow.ErrPermissionDenied):
		writeErr(w, http.StatusForbidden, err.Error())
	case errors.Is(err, workflow.ErrWrongPhase),
		errors.Is(err, workflow.ErrNoActiveSession),
		errors.Is(err, workflow.ErrSubmitInFlight):
		writeErr(w, http.StatusConflict, err.Error())
	case errors.As(err, &srvErr), errors.Is(err, backend.ErrNetwork):
		writeErr(w, http.StatusBadGateway, err.Error())
	default:
		writeErr(w, http.StatusInternalServerError, err.Error())
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
