// Package backend is the HTTP client for the schedule extraction service:
// image upload, event updates, and the calendar file download link.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/schedulesnap/schedulesnap/internal/domain"
)

// DefaultTimeout bounds every collaborator call; schedule extraction runs
// OCR server-side and is slow.
const DefaultTimeout = 30 * time.Second

// ErrNetwork wraps transport-level failures, timeouts included.
var ErrNetwork = errors.New("network failure")

// ServerError is a non-2xx response, carrying the service's message when
// the body held one.
type ServerError struct {
	Status  int
	Message string
}

func (e *ServerError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("server error (%d)", e.Status)
	}
	return fmt.Sprintf("server error (%d): %s", e.Status, e.Message)
}

type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

type Client struct {
	baseURL string
	client  HTTPDoer
	log     *slog.Logger
}

func New(baseURL string, client HTTPDoer, logger *slog.Logger) *Client {
	if client == nil {
		client = &http.Client{Timeout: DefaultTimeout}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), client: client, log: logger}
}

// schedulePayload is the success shape shared by both endpoints.
type schedulePayload struct {
	Events    []domain.EventRecord `json:"events"`
	SessionID string               `json:"session_id"`
}

type errorPayload struct {
	Message string `json:"message"`
}

// UploadSchedule posts the image with the schedule parameters and returns
// the extracted events and the new session identifier.
func (c *Client) UploadSchedule(ctx context.Context, image io.Reader, filename string, startDate time.Time, weeks int) ([]domain.EventRecord, string, error) {
	var body bytes.Buffer
	form := multipart.NewWriter(&body)
	part, err := form.CreateFormFile("image", filename)
	if err != nil {
		return nil, "", fmt.Errorf("building upload form: %w", err)
	}
	if _, err := io.Copy(part, image); err != nil {
		return nil, "", fmt.Errorf("reading schedule image: %w", err)
	}
	if err := form.WriteField("startDate", startDate.Format("2006-01-02")); err != nil {
		return nil, "", fmt.Errorf("building upload form: %w", err)
	}
	if err := form.WriteField("numberOfWeeks", strconv.Itoa(weeks)); err != nil {
		return nil, "", fmt.Errorf("building upload form: %w", err)
	}
	if err := form.Close(); err != nil {
		return nil, "", fmt.Errorf("building upload form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/convert-schedule", &body)
	if err != nil {
		return nil, "", err
	}
	req.Header.Set("Content-Type", form.FormDataContentType())
	return c.do(req)
}

// UpdateEvents sends the full event collection together with the session
// identifier it belongs to. The response supersedes both.
func (c *Client) UpdateEvents(ctx context.Context, events []domain.EventRecord, sessionID string) ([]domain.EventRecord, string, error) {
	payload, err := json.Marshal(schedulePayload{Events: events, SessionID: sessionID})
	if err != nil {
		return nil, "", fmt.Errorf("encoding events: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/update-events", bytes.NewReader(payload))
	if err != nil {
		return nil, "", err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req)
}

// DownloadURL builds the direct link for the session's calendar file.
func (c *Client) DownloadURL(sessionID string) string {
	return c.baseURL + "/api/download-ics?session_id=" + url.QueryEscape(sessionID)
}

// DownloadCalendar streams the calendar file. The caller owns the reader.
func (c *Client) DownloadCalendar(ctx context.Context, sessionID string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.DownloadURL(sessionID), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-Request-ID", uuid.NewString())
	res, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNetwork, err)
	}
	if res.StatusCode < 200 || res.StatusCode > 299 {
		defer res.Body.Close()
		return nil, c.serverError(res)
	}
	return res.Body, nil
}

func (c *Client) do(req *http.Request) ([]domain.EventRecord, string, error) {
	requestID := uuid.NewString()
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", requestID)

	res, err := c.client.Do(req)
	if err != nil {
		c.log.Error("collaborator call failed", "url", req.URL.Path, "request_id", requestID, "err", err)
		return nil, "", fmt.Errorf("%w: %v", ErrNetwork, err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode > 299 {
		return nil, "", c.serverError(res)
	}

	var payload schedulePayload
	if err := json.NewDecoder(res.Body).Decode(&payload); err != nil {
		return nil, "", fmt.Errorf("decoding response: %w", err)
	}
	c.log.Debug("collaborator call ok", "url", req.URL.Path, "request_id", requestID, "events", len(payload.Events))
	return payload.Events, payload.SessionID, nil
}

func (c *Client) serverError(res *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(res.Body, 64<<10))
	serr := &ServerError{Status: res.StatusCode}
	var payload errorPayload
	if err := json.Unmarshal(body, &payload); err == nil && payload.Message != "" {
		serr.Message = payload.Message
	} else {
		serr.Message = strings.TrimSpace(string(body))
	}
	return serr
}
