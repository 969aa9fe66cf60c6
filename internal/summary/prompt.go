package summary

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// SystemPrompt fixes the reply to three markdown sections.
const SystemPrompt = `You are provided with notes written by a doctor from a patient's visit.
Your job is to summarize the visit for the doctor and provide an email.
Reply with exactly three sections with the headings:
### Summary of visit for the doctor's records
### Next steps for the doctor
### Draft of email to patient in patient-friendly language`

// Section headings, in reply order.
var Sections = []string{
	"Summary of visit for the doctor's records",
	"Next steps for the doctor",
	"Draft of email to patient in patient-friendly language",
}

const dateLayout = "2006-01-02"

// Visit is the consultation request body.
type Visit struct {
	PatientName string `json:"patient_name"`
	DateOfVisit string `json:"date_of_visit"`
	Notes       string `json:"notes"`
}

// Validate returns a client-facing message for the first invalid field.
func (v Visit) Validate() error {
	if strings.TrimSpace(v.PatientName) == "" {
		return errors.New("patient_name is required")
	}
	if _, err := time.Parse(dateLayout, strings.TrimSpace(v.DateOfVisit)); err != nil {
		return errors.New("date_of_visit must be YYYY-MM-DD")
	}
	if strings.TrimSpace(v.Notes) == "" {
		return errors.New("notes is required")
	}
	return nil
}

// UserPrompt embeds the visit details in the user turn.
func UserPrompt(v Visit) string {
	return fmt.Sprintf("Create the summary, next steps and draft email for:\nPatient Name: %s\nDate of Visit: %s\nNotes:\n%s",
		v.PatientName, strings.TrimSpace(v.DateOfVisit), v.Notes)
}

// BuildRequest assembles the completion request for v.
func BuildRequest(v Visit, model string, maxTokens int32, temperature float32) LLMRequest {
	return LLMRequest{
		Model:       model,
		System:      []string{SystemPrompt},
		Messages:    []ChatMessage{{Role: ChatRoleUser, Content: UserPrompt(v)}},
		MaxTokens:   maxTokens,
		Temperature: temperature,
	}
}
