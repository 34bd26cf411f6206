// internal/reconcile/service.go

// Package reconcile orchestrates one sync cycle: fetch raw submissions from
// the upstream form API, normalize them, resolve each against the applicants
// already on record, migrate externally-hosted resume files, and upsert the
// results without disturbing locally-owned pipeline state.
package reconcile

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"formsync/internal/common/errors"
	"formsync/internal/common/logger"
	"formsync/internal/common/metrics"
	"formsync/internal/common/observability"
	"formsync/internal/formapi"
	"formsync/internal/match"
	"formsync/internal/migrate"
	"formsync/internal/models"
	"formsync/internal/normalize"
	"formsync/internal/settings"
)

// SubmissionSource is the slice of the form API client the service consumes.
type SubmissionSource interface {
	FormSubmissions(ctx context.Context, formID string, opts formapi.ListOptions) ([]formapi.RawSubmission, error)
}

// SourceFactory binds an API key to a submission source. The key lives in
// operator settings and may rotate between cycles, so a fresh source is
// derived every cycle.
type SourceFactory func(apiKey string) SubmissionSource

// MatchFinder resolves auxiliary compliance-form submissions for one target.
type MatchFinder interface {
	FindAll(ctx context.Context, target match.Target, forms map[string]string) map[string]*models.MatchResult
}

// MatcherFactory builds a match finder over a keyed submission source.
type MatcherFactory func(source SubmissionSource) MatchFinder

// Store is the applicant persistence surface the service writes through.
type Store interface {
	ListIdentities(ctx context.Context) ([]models.ApplicantIdentity, error)
	UpsertByID(ctx context.Context, records []models.ApplicantRecord) ([]models.ApplicantRecord, error)
	UpsertByEmail(ctx context.Context, records []models.ApplicantRecord) ([]models.ApplicantRecord, error)
	Insert(ctx context.Context, records []models.ApplicantRecord) ([]models.ApplicantRecord, error)
}

// Migrator moves one externally-hosted file into object storage.
type Migrator interface {
	Migrate(ctx context.Context, sourceURL, ownerKey string) migrate.Result
}

// SettingsSource provides the operator-managed key/value settings.
type SettingsSource interface {
	Values(ctx context.Context) (map[string]string, error)
}

// Summary reports the outcome of one sync cycle. Records holds every row
// written this cycle, updates first, then inserts.
type Summary struct {
	CycleID       string                   `json:"cycleId"`
	Fetched       int                      `json:"fetched"`
	Skipped       int                      `json:"skipped"`
	Deduplicated  int                      `json:"deduplicated"`
	Updated       int                      `json:"updated"`
	Inserted      int                      `json:"inserted"`
	FilesMigrated int                      `json:"filesMigrated"`
	DurationMs    int64                    `json:"durationMs"`
	Records       []models.ApplicantRecord `json:"records,omitempty"`
}

type Service struct {
	settings   SettingsSource
	sourceFor  SourceFactory
	matcherFor MatcherFactory
	store      Store
	migrator   Migrator
	isExternal func(string) bool
	obs        *observability.Observability
	logger     logger.Logger
	pageSize   int
}

type Options struct {
	Settings   SettingsSource
	SourceFor  SourceFactory
	MatcherFor MatcherFactory
	Store      Store
	Migrator   Migrator
	IsExternal func(string) bool
	Obs        *observability.Observability
	Logger     logger.Logger
	PageSize   int
}

func NewService(opts Options) *Service {
	pageSize := opts.PageSize
	if pageSize <= 0 {
		pageSize = 100
	}
	return &Service{
		settings:   opts.Settings,
		sourceFor:  opts.SourceFor,
		matcherFor: opts.MatcherFor,
		store:      opts.Store,
		migrator:   opts.Migrator,
		isExternal: opts.IsExternal,
		obs:        opts.Obs,
		logger:     opts.Logger.WithFields(map[string]interface{}{"component": "reconcile"}),
		pageSize:   pageSize,
	}
}

// Sync runs one full reconciliation cycle. It is safe to re-run: a cycle over
// already-synced submissions produces updates, not duplicates, and never
// touches applicant status.
func (s *Service) Sync(ctx context.Context) (*Summary, error) {
	cycleID := uuid.NewString()
	ctx = formapi.WithCycleID(ctx, cycleID)
	started := time.Now()

	log := s.logger.WithFields(map[string]interface{}{"syncId": cycleID})
	log.Info("sync cycle started", nil)

	summary, err := s.run(ctx, cycleID, log)

	elapsed := time.Since(started)
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	metrics.SyncCycles.WithLabelValues(outcome).Inc()
	metrics.SyncDuration.Observe(elapsed.Seconds())
	if s.obs != nil {
		s.obs.RecordCycle(ctx, outcome)
		s.obs.RecordCycleDuration(ctx, float64(elapsed.Milliseconds()))
	}

	if err != nil {
		log.Error("sync cycle failed", map[string]interface{}{"error": err.Error()})
		return nil, err
	}

	summary.DurationMs = elapsed.Milliseconds()
	log.Info("sync cycle finished", map[string]interface{}{
		"fetched":  summary.Fetched,
		"updated":  summary.Updated,
		"inserted": summary.Inserted,
		"skipped":  summary.Skipped,
	})
	return summary, nil
}

func (s *Service) run(ctx context.Context, cycleID string, log logger.Logger) (*Summary, error) {
	values, err := s.settings.Values(ctx)
	if err != nil {
		return nil, err
	}
	apiKey := values[settings.KeyFormAPIKey]
	formID := values[settings.KeyApplicationFormID]
	if apiKey == "" {
		return nil, errors.NewConfigurationError(settings.KeyFormAPIKey)
	}
	if formID == "" {
		return nil, errors.NewConfigurationError(settings.KeyApplicationFormID)
	}

	source := s.sourceFor(apiKey)

	raw, err := s.fetchAll(ctx, source, formID)
	if err != nil {
		return nil, err
	}

	identities, err := s.store.ListIdentities(ctx)
	if err != nil {
		return nil, err
	}
	byExternalID := make(map[string]models.ApplicantIdentity, len(identities))
	byEmail := make(map[string]models.ApplicantIdentity, len(identities))
	for _, ident := range identities {
		if ident.ExternalID != "" {
			byExternalID[ident.ExternalID] = ident
		}
		if ident.Email != "" {
			byEmail[strings.ToLower(ident.Email)] = ident
		}
	}

	summary := &Summary{CycleID: cycleID, Fetched: len(raw)}

	var updatesByID, updatesByEmail, inserts []models.ApplicantRecord
	seen := make(map[string]int) // lowercased email -> index into resolved

	type placed struct {
		record          models.ApplicantRecord
		hasID           bool
		storedResumeURL string
	}
	var resolved []placed

	for _, sub := range raw {
		applicant := normalize.Normalize(sub)
		if applicant.Email == "" {
			summary.Skipped++
			log.Warn("skipping submission without email", map[string]interface{}{
				"submissionId": sub.ID,
			})
			continue
		}
		emailKey := strings.ToLower(applicant.Email)

		record := models.ApplicantRecord{
			ExternalID:      applicant.ExternalID,
			FirstName:       applicant.FirstName,
			LastName:        applicant.LastName,
			Email:           applicant.Email,
			Phone:           applicant.Phone,
			PositionApplied: applicant.PositionApplied,
			ResumeURL:       applicant.ResumeURL,
			Status:          models.StatusNew,
			SubmittedAt:     applicant.SubmittedAt,
		}

		ident, matched := byExternalID[applicant.ExternalID]
		if !matched {
			ident, matched = byEmail[emailKey]
		}
		if matched {
			record.ID = ident.ID
			record.Status = models.CoerceStatus(string(ident.Status))
		}

		// In-batch dedup on email: a record resolved to an existing row
		// displaces an unresolved one; otherwise first-seen wins.
		if prev, dup := seen[emailKey]; dup {
			summary.Deduplicated++
			if matched && !resolved[prev].hasID {
				resolved[prev] = placed{record: record, hasID: true, storedResumeURL: ident.ResumeURL}
			}
			continue
		}
		seen[emailKey] = len(resolved)
		resolved = append(resolved, placed{record: record, hasID: matched, storedResumeURL: ident.ResumeURL})
	}

	// Migration happens only for records that survived dedup, so a discarded
	// duplicate can never leave an orphaned object in the bucket.
	for i := range resolved {
		resolved[i].record.ResumeURL = s.resolveResumeURL(ctx, resolved[i].record, resolved[i].storedResumeURL, summary)
	}

	for _, p := range resolved {
		switch {
		case p.hasID && p.record.ExternalID != "" && byExternalID[p.record.ExternalID].ID == p.record.ID:
			updatesByID = append(updatesByID, p.record)
		case p.hasID:
			updatesByEmail = append(updatesByEmail, p.record)
		default:
			inserts = append(inserts, p.record)
		}
	}

	updated, err := s.store.UpsertByID(ctx, updatesByID)
	if err != nil {
		return nil, err
	}
	summary.Updated += len(updated)
	summary.Records = append(summary.Records, updated...)
	metrics.SyncRecordsUpserted.WithLabelValues("by_id").Add(float64(len(updated)))

	updated, err = s.store.UpsertByEmail(ctx, updatesByEmail)
	if err != nil {
		return nil, err
	}
	summary.Updated += len(updated)
	summary.Records = append(summary.Records, updated...)
	metrics.SyncRecordsUpserted.WithLabelValues("by_email").Add(float64(len(updated)))

	inserted, err := s.store.Insert(ctx, inserts)
	if err != nil {
		return nil, err
	}
	summary.Inserted = len(inserted)
	summary.Records = append(summary.Records, inserted...)
	metrics.SyncRecordsUpserted.WithLabelValues("insert").Add(float64(len(inserted)))

	return summary, nil
}

// fetchAll pages through the application form's submissions until a short
// page signals the end.
func (s *Service) fetchAll(ctx context.Context, source SubmissionSource, formID string) ([]formapi.RawSubmission, error) {
	var all []formapi.RawSubmission
	offset := 0
	for {
		page, err := source.FormSubmissions(ctx, formID, formapi.ListOptions{
			Limit:   s.pageSize,
			Offset:  offset,
			OrderBy: "created_at",
		})
		if err != nil {
			return nil, err
		}
		all = append(all, page...)
		if len(page) < s.pageSize {
			return all, nil
		}
		offset += s.pageSize
	}
}

// resolveResumeURL decides what resume URL to persist. An already-migrated
// URL on record stays untouched; an externally-hosted URL is migrated, with
// the original kept as fallback when migration fails.
func (s *Service) resolveResumeURL(ctx context.Context, record models.ApplicantRecord, storedURL string, summary *Summary) string {
	if storedURL != "" && !s.isExternal(storedURL) {
		return storedURL
	}
	if record.ResumeURL == "" || !s.isExternal(record.ResumeURL) {
		return record.ResumeURL
	}

	ownerKey := record.ExternalID
	if ownerKey == "" {
		ownerKey = strings.ToLower(record.Email)
	}
	res := s.migrator.Migrate(ctx, record.ResumeURL, ownerKey)
	if !res.OK {
		return record.ResumeURL
	}
	summary.FilesMigrated++
	return res.StoragePath
}

// ComplianceProfile looks up the target applicant's submissions across every
// configured auxiliary compliance form. Form ids come from settings keys of
// the form "<kind>_form_id"; the application form itself is excluded.
func (s *Service) ComplianceProfile(ctx context.Context, target match.Target) (map[string]*models.MatchResult, error) {
	values, err := s.settings.Values(ctx)
	if err != nil {
		return nil, err
	}
	apiKey := values[settings.KeyFormAPIKey]
	if apiKey == "" {
		return nil, errors.NewConfigurationError(settings.KeyFormAPIKey)
	}

	forms := make(map[string]string)
	for key, value := range values {
		if key == settings.KeyApplicationFormID || value == "" {
			continue
		}
		if kind, ok := strings.CutSuffix(key, "_form_id"); ok && kind != "" {
			forms[kind] = value
		}
	}

	finder := s.matcherFor(s.sourceFor(apiKey))
	return finder.FindAll(ctx, target, forms), nil
}
