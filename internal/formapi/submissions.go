// internal/formapi/submissions.go
package formapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"

	"formsync/internal/common/errors"
)

// FormSubmissions fetches a bounded page of submissions for one form,
// newest-first by default. Filter is serialized as a URL-encoded JSON object
// per the upstream API contract.
func (c *Client) FormSubmissions(ctx context.Context, formID string, opts ListOptions) ([]RawSubmission, error) {
	params := url.Values{}
	if opts.Limit > 0 {
		params.Set("limit", strconv.Itoa(opts.Limit))
	}
	if opts.Offset > 0 {
		params.Set("offset", strconv.Itoa(opts.Offset))
	}
	if opts.OrderBy != "" {
		params.Set("orderby", opts.OrderBy)
	}
	if len(opts.Filter) > 0 {
		filterJSON, err := json.Marshal(opts.Filter)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal filter: %w", err)
		}
		params.Set("filter", string(filterJSON))
	}

	env, err := c.Request(ctx, fmt.Sprintf("/form/%s/submissions", formID), params)
	if err != nil {
		return nil, err
	}

	var subs []RawSubmission
	if err := json.Unmarshal(env.Content, &subs); err != nil {
		return nil, errors.NewUpstreamError(0, fmt.Sprintf("malformed submissions content: %v", err))
	}
	return subs, nil
}

// Submission fetches a single submission by id.
func (c *Client) Submission(ctx context.Context, submissionID string) (*RawSubmission, error) {
	env, err := c.Request(ctx, fmt.Sprintf("/submission/%s", submissionID), nil)
	if err != nil {
		return nil, err
	}

	var sub RawSubmission
	if err := json.Unmarshal(env.Content, &sub); err != nil {
		return nil, errors.NewUpstreamError(0, fmt.Sprintf("malformed submission content: %v", err))
	}
	return &sub, nil
}
