package domain

import "time"

// EventRecord is the unit of scheduling data exchanged with the extraction
// service. The JSON field names are the wire contract; Start and End are
// serialized as RFC 3339 instants. ID is assigned at creation (by the server
// for extracted events, locally for user-added ones) and never changes for
// the record's lifetime.
type EventRecord struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Start       time.Time `json:"startTime"`
	End         time.Time `json:"endTime"`
	Location    string    `json:"location"`
	Description string    `json:"description,omitempty"`
	AllDay      bool      `json:"allDay,omitempty"`
	URL         string    `json:"url,omitempty"`
}

// Schedule carries the parameters a schedule image was extracted with. The
// session token it is paired with lives on the workflow controller, which
// owns exactly one active session at a time.
type Schedule struct {
	StartDate     time.Time `json:"start_date"`
	NumberOfWeeks int       `json:"number_of_weeks"`
}
