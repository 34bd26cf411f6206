// internal/normalize/normalizer.go

// Package normalize projects raw form submissions into the internal
// applicant shape. Contact fields are resolved by a three-stage strategy:
// exact field-name alias, then field control type, then case-insensitive
// label keyword. The first resolver producing a non-empty value wins.
package normalize

import (
	"sort"
	"strings"

	"formsync/internal/answers"
	"formsync/internal/formapi"
	"formsync/internal/models"
)

// fieldSpec describes how one applicant field is located inside a
// submission's answers.
type fieldSpec struct {
	aliases     []string // normalized field-name aliases, exact match
	controlType string   // dedicated control type, if any
	keywords    []string // label substrings, case-insensitive
}

var (
	fullNameField = fieldSpec{
		aliases:     []string{"fullname", "name", "yourname", "applicantname"},
		controlType: answers.TypeFullName,
		keywords:    []string{"name"},
	}
	emailField = fieldSpec{
		aliases:     []string{"email", "emailaddress", "mail", "youremail"},
		controlType: answers.TypeEmail,
		keywords:    []string{"email", "e-mail"},
	}
	phoneField = fieldSpec{
		aliases:     []string{"phone", "phonenumber", "mobile", "cellphone", "contactnumber"},
		controlType: answers.TypePhone,
		keywords:    []string{"phone", "mobile", "contact number"},
	}
	positionField = fieldSpec{
		aliases:  []string{"position", "positionapplied", "jobtitle", "role", "appliedfor"},
		keywords: []string{"position", "job", "role"},
	}
	resumeField = fieldSpec{
		aliases:     []string{"resume", "cv", "resumeupload", "uploadresume", "attachresume"},
		controlType: answers.TypeFileUpload,
		keywords:    []string{"resume", "cv", "curriculum"},
	}
)

// Normalize converts one raw submission into the applicant projection.
// Missing optional fields stay empty; no placeholders are substituted here.
func Normalize(raw formapi.RawSubmission) models.Applicant {
	applicant := models.Applicant{
		ExternalID:  raw.ID,
		SubmittedAt: raw.CreatedAt.Time,
	}

	if v, ok := resolve(raw, fullNameField); ok {
		applicant.FirstName, applicant.LastName = splitName(v)
	}
	if v, ok := resolve(raw, emailField); ok {
		applicant.Email = strings.TrimSpace(v.Text())
	}
	if v, ok := resolve(raw, phoneField); ok {
		applicant.Phone = strings.TrimSpace(v.Text())
	}
	if v, ok := resolve(raw, positionField); ok {
		applicant.PositionApplied = strings.TrimSpace(v.Text())
	}
	if v, ok := resolve(raw, resumeField); ok {
		if file := v.FirstFile(); file != "" {
			applicant.ResumeURL = file
		} else if v.Kind == answers.KindText {
			applicant.ResumeURL = strings.TrimSpace(v.Text())
		}
	}

	return applicant
}

// resolve runs the three resolvers in order and returns the first non-empty
// decoded value. Later resolvers are not consulted once one succeeds.
func resolve(raw formapi.RawSubmission, spec fieldSpec) (answers.Value, bool) {
	if v, ok := resolveByAlias(raw, spec.aliases); ok {
		return v, true
	}
	if spec.controlType != "" {
		if v, ok := resolveByType(raw, spec.controlType); ok {
			return v, true
		}
	}
	if v, ok := resolveByLabel(raw, spec.keywords); ok {
		return v, true
	}
	return answers.Value{}, false
}

func resolveByAlias(raw formapi.RawSubmission, aliases []string) (answers.Value, bool) {
	for _, ans := range orderedAnswers(raw) {
		key := normalizeKey(ans.Name)
		for _, alias := range aliases {
			if key == alias {
				if v := answers.Decode(ans.Type, ans.Answer); v.Text() != "" {
					return v, true
				}
			}
		}
	}
	return answers.Value{}, false
}

func resolveByType(raw formapi.RawSubmission, controlType string) (answers.Value, bool) {
	for _, ans := range orderedAnswers(raw) {
		if ans.Type == controlType {
			if v := answers.Decode(ans.Type, ans.Answer); v.Text() != "" {
				return v, true
			}
		}
	}
	return answers.Value{}, false
}

func resolveByLabel(raw formapi.RawSubmission, keywords []string) (answers.Value, bool) {
	for _, ans := range orderedAnswers(raw) {
		label := strings.ToLower(ans.Text)
		for _, kw := range keywords {
			if strings.Contains(label, kw) {
				if v := answers.Decode(ans.Type, ans.Answer); v.Text() != "" {
					return v, true
				}
			}
		}
	}
	return answers.Value{}, false
}

// orderedAnswers walks the answer map in ascending question-id order so
// resolution is deterministic across runs.
func orderedAnswers(raw formapi.RawSubmission) []formapi.Answer {
	keys := make([]string, 0, len(raw.Answers))
	for k := range raw.Answers {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return less(keys[i], keys[j]) })

	out := make([]formapi.Answer, 0, len(keys))
	for _, k := range keys {
		out = append(out, raw.Answers[k])
	}
	return out
}

// less orders numeric question ids numerically (so "10" sorts after "9")
// and falls back to lexicographic order for everything else.
func less(a, b string) bool {
	if len(a) != len(b) && isDigits(a) && isDigits(b) {
		return len(a) < len(b)
	}
	return a < b
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// normalizeKey lowercases a field name and strips separators so "Full_Name",
// "fullName" and "full-name" all resolve to the same alias.
func normalizeKey(name string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(name) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// splitName destructures a name value: structured answers keep their parts,
// plain strings split on the first space (everything after it is the last
// name).
func splitName(v answers.Value) (first, last string) {
	if f, l, ok := v.Name(); ok {
		return strings.TrimSpace(f), strings.TrimSpace(l)
	}

	full := strings.TrimSpace(v.Text())
	if full == "" {
		return "", ""
	}
	parts := strings.SplitN(full, " ", 2)
	if len(parts) == 1 {
		return parts[0], ""
	}
	return parts[0], strings.TrimSpace(parts[1])
}
