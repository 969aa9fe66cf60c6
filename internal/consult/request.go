package consult

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// DateLayout is the wire format of the visit date.
const DateLayout = "2006-01-02"

// SubmissionRequest is one consultation form submission. It is built fresh
// per submit and not modified after it is sent.
type SubmissionRequest struct {
	PatientName string
	VisitDate   time.Time
	Notes       string
}

// Payload is the JSON body sent to the summarization endpoint.
type Payload struct {
	PatientName string `json:"patient_name"`
	DateOfVisit string `json:"date_of_visit"`
	Notes       string `json:"notes"`
}

// Validate enforces the required fields. Whitespace-only values count as
// empty.
func (r SubmissionRequest) Validate() error {
	var missing []string
	if strings.TrimSpace(r.PatientName) == "" {
		missing = append(missing, "patient name")
	}
	if r.VisitDate.IsZero() {
		missing = append(missing, "visit date")
	}
	if strings.TrimSpace(r.Notes) == "" {
		missing = append(missing, "notes")
	}
	if len(missing) > 0 {
		return &ValidationError{Fields: missing}
	}
	return nil
}

// Payload converts the request to its wire form.
func (r SubmissionRequest) Payload() Payload {
	return Payload{
		PatientName: r.PatientName,
		DateOfVisit: r.VisitDate.Format(DateLayout),
		Notes:       r.Notes,
	}
}

// MarshalJSON encodes the wire form.
func (r SubmissionRequest) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.Payload())
}

// ParseVisitDate parses a YYYY-MM-DD calendar date.
func ParseVisitDate(s string) (time.Time, error) {
	d, err := time.Parse(DateLayout, strings.TrimSpace(s))
	if err != nil {
		return time.Time{}, fmt.Errorf("consult: visit date must be YYYY-MM-DD: %w", err)
	}
	return d, nil
}
