// internal/match/matcher.go

// Package match re-establishes the link between a primary applicant and
// submissions in separate compliance forms. Those forms carry independent
// submission ids and no foreign key back to the application, so the link is
// heuristic: email containment, then full-name containment, then structured
// name equality.
package match

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"formsync/internal/answers"
	"formsync/internal/common/errors"
	"formsync/internal/common/logger"
	"formsync/internal/common/metrics"
	"formsync/internal/formapi"
	"formsync/internal/models"
)

// SubmissionSource is the slice of the form API client the matcher needs.
type SubmissionSource interface {
	FormSubmissions(ctx context.Context, formID string, opts formapi.ListOptions) ([]formapi.RawSubmission, error)
}

// Target identifies the applicant being matched.
type Target struct {
	Email     string
	FirstName string
	LastName  string
}

type Matcher struct {
	source        SubmissionSource
	logger        logger.Logger
	publicBaseURL string
	windowSize    int
}

func New(source SubmissionSource, log logger.Logger, publicBaseURL string, windowSize int) *Matcher {
	if windowSize <= 0 {
		windowSize = 50
	}
	return &Matcher{
		source:        source,
		logger:        log.WithFields(map[string]interface{}{"component": "match"}),
		publicBaseURL: strings.TrimRight(publicBaseURL, "/"),
		windowSize:    windowSize,
	}
}

// FindMatch returns the best submission in one auxiliary form for the
// target, or nil when nothing matches. An unset form id means the feature is
// not configured for this deployment: no network call, no match.
//
// Candidates arrive newest-first from the upstream; the first one satisfying
// any predicate wins. There is no scoring beyond first-hit-wins.
func (m *Matcher) FindMatch(ctx context.Context, formID string, target Target) (*models.MatchResult, error) {
	if formID == "" {
		return nil, nil
	}

	opts := formapi.ListOptions{
		Limit:   m.windowSize,
		OrderBy: "created_at",
	}
	if target.Email != "" {
		// Server-side filter keeps the candidate set bounded.
		opts.Filter = map[string]string{"email": target.Email}
	}

	subs, err := m.source.FormSubmissions(ctx, formID, opts)
	if err != nil {
		metrics.MatchLookups.WithLabelValues("error").Inc()
		return nil, errors.NewMatchingFailedError(formID, err)
	}

	for _, sub := range subs {
		if m.matches(sub, target) {
			metrics.MatchLookups.WithLabelValues("hit").Inc()
			return &models.MatchResult{
				SubmissionID: sub.ID,
				CreatedAt:    sub.CreatedAt.Time,
				Status:       sub.Status,
				SourceURL:    fmt.Sprintf("%s/edit/%s", m.publicBaseURL, sub.ID),
				FormURL:      fmt.Sprintf("%s/%s", m.publicBaseURL, formID),
			}, nil
		}
	}

	metrics.MatchLookups.WithLabelValues("miss").Inc()
	return nil, nil
}

// matches tests the predicates in order: email containment in any answer,
// then full-name containment, then structured-name equality.
func (m *Matcher) matches(sub formapi.RawSubmission, target Target) bool {
	decoded := make([]answers.Value, 0, len(sub.Answers))
	for _, ans := range sub.Answers {
		decoded = append(decoded, answers.Decode(ans.Type, ans.Answer))
	}

	if target.Email != "" {
		for _, v := range decoded {
			if v.Contains(target.Email) {
				return true
			}
		}
	}

	if target.FirstName != "" && target.LastName != "" {
		fullName := target.FirstName + " " + target.LastName
		for _, v := range decoded {
			if v.Contains(fullName) {
				return true
			}
		}
		for _, v := range decoded {
			if first, last, ok := v.Name(); ok &&
				strings.EqualFold(first, target.FirstName) &&
				strings.EqualFold(last, target.LastName) {
				return true
			}
		}
	}

	return false
}

// FindAll fans out one FindMatch per configured auxiliary form. The lookups
// run concurrently; a failing form yields an absent result plus a diagnostic
// log entry and never cancels or delays the others.
func (m *Matcher) FindAll(ctx context.Context, target Target, forms map[string]string) map[string]*models.MatchResult {
	kinds := make([]string, 0, len(forms))
	for kind := range forms {
		kinds = append(kinds, kind)
	}

	results := make([]*models.MatchResult, len(kinds))

	var g errgroup.Group
	for i, kind := range kinds {
		i, kind := i, kind
		g.Go(func() error {
			res, err := m.FindMatch(ctx, forms[kind], target)
			if err != nil {
				m.logger.Warn("auxiliary form lookup failed", map[string]interface{}{
					"formKind": kind,
					"formId":   forms[kind],
					"error":    err.Error(),
				})
				return nil
			}
			results[i] = res
			return nil
		})
	}
	_ = g.Wait()

	out := make(map[string]*models.MatchResult, len(kinds))
	for i, kind := range kinds {
		out[kind] = results[i]
	}
	return out
}
