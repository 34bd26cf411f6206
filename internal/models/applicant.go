// internal/models/applicant.go
package models

import "time"

// Status is the locally-owned applicant pipeline status. Sync cycles write
// StatusNew for first-seen applicants and never change it afterwards.
type Status string

const (
	StatusNew       Status = "New"
	StatusScreening Status = "Screening"
	StatusInterview Status = "Interview"
	StatusOffer     Status = "Offer"
	StatusRejected  Status = "Rejected"
	StatusHired     Status = "Hired"
)

var knownStatuses = map[Status]bool{
	StatusNew:       true,
	StatusScreening: true,
	StatusInterview: true,
	StatusOffer:     true,
	StatusRejected:  true,
	StatusHired:     true,
}

// CoerceStatus maps any value outside the recognized enumeration to StatusNew.
func CoerceStatus(raw string) Status {
	s := Status(raw)
	if knownStatuses[s] {
		return s
	}
	return StatusNew
}

// Applicant is the normalized projection of one raw form submission.
type Applicant struct {
	ExternalID      string    `json:"externalId"`
	FirstName       string    `json:"firstName"`
	LastName        string    `json:"lastName"`
	Email           string    `json:"email"`
	Phone           string    `json:"phone,omitempty"`
	PositionApplied string    `json:"positionApplied,omitempty"`
	ResumeURL       string    `json:"resumeUrl,omitempty"`
	SubmittedAt     time.Time `json:"submittedAt"`
}

// ApplicantRecord is the persisted applicant entity. ID is the
// database-assigned identity; zero means not yet persisted.
type ApplicantRecord struct {
	ID              int64     `json:"id"`
	ExternalID      string    `json:"externalId,omitempty"`
	FirstName       string    `json:"firstName"`
	LastName        string    `json:"lastName"`
	Email           string    `json:"email"`
	Phone           string    `json:"phone,omitempty"`
	PositionApplied string    `json:"positionApplied,omitempty"`
	ResumeURL       string    `json:"resumeUrl,omitempty"`
	Status          Status    `json:"status"`
	SubmittedAt     time.Time `json:"submittedAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

// ApplicantIdentity is the slim row loaded once per sync cycle to build the
// identity indexes.
type ApplicantIdentity struct {
	ID         int64
	ExternalID string
	Email      string
	ResumeURL  string
	Status     Status
}

// MatchResult links one applicant to one auxiliary compliance-form
// submission. At most one exists per (applicant, form).
type MatchResult struct {
	SubmissionID string    `json:"submissionId"`
	CreatedAt    time.Time `json:"createdAt"`
	Status       string    `json:"status"`
	SourceURL    string    `json:"sourceUrl"`
	FormURL      string    `json:"formUrl"`
}

// CallLogEntry records one upstream HTTP attempt. LimitLeft below zero means
// the upstream did not report a remaining-quota hint.
type CallLogEntry struct {
	Endpoint   string                 `json:"endpoint"`
	Success    bool                   `json:"success"`
	StatusCode int                    `json:"statusCode"`
	DurationMs int64                  `json:"durationMs"`
	LimitLeft  int                    `json:"limitLeft"`
	Error      string                 `json:"error,omitempty"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
}
