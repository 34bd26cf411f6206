// internal/formapi/types.go
package formapi

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Envelope is the standard response wrapper of the form API. HTTP 200 with a
// non-200 responseCode is an application-level error.
type Envelope struct {
	ResponseCode int             `json:"responseCode"`
	Message      string          `json:"message"`
	Content      json.RawMessage `json:"content"`
	Duration     string          `json:"duration"`
	LimitLeft    *int            `json:"limit-left,omitempty"`
}

// RawSubmission is one payload from the form API.
type RawSubmission struct {
	ID        string            `json:"id"`
	FormID    string            `json:"form_id"`
	CreatedAt APITime           `json:"created_at"`
	UpdatedAt *APITime          `json:"updated_at,omitempty"`
	Status    string            `json:"status"`
	Answers   map[string]Answer `json:"answers"`
}

// Answer is one raw answer keyed by question id. The answer payload itself
// is shape-dependent and decoded lazily by the answers package.
type Answer struct {
	Name   string          `json:"name"`
	Text   string          `json:"text"`
	Type   string          `json:"type"`
	Answer json.RawMessage `json:"answer,omitempty"`
}

// APITime parses the upstream timestamp format ("2006-01-02 15:04:05"),
// falling back to RFC3339.
type APITime struct {
	time.Time
}

func (t *APITime) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	if s == "" || s == "null" {
		return nil
	}
	parsed, err := time.Parse("2006-01-02 15:04:05", s)
	if err != nil {
		parsed, err = time.Parse(time.RFC3339, s)
		if err != nil {
			return fmt.Errorf("unrecognized timestamp %q", s)
		}
	}
	t.Time = parsed
	return nil
}

func (t APITime) MarshalJSON() ([]byte, error) {
	return []byte(`"` + t.Format("2006-01-02 15:04:05") + `"`), nil
}

// ListOptions bounds a submission listing request.
type ListOptions struct {
	Limit   int
	Offset  int
	OrderBy string
	Filter  map[string]string
}
