// internal/reconcile/service_test.go
package reconcile

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"formsync/internal/common/errors"
	"formsync/internal/common/logger"
	"formsync/internal/formapi"
	"formsync/internal/match"
	"formsync/internal/migrate"
	"formsync/internal/models"
)

// ==========================
// Test Fakes
// ==========================

type fakeSettings struct {
	values map[string]string
	err    error
}

func (f *fakeSettings) Values(context.Context) (map[string]string, error) {
	return f.values, f.err
}

type fakeSource struct {
	pages   [][]formapi.RawSubmission
	err     error
	gotKey  string
	fetches int
}

func (f *fakeSource) FormSubmissions(_ context.Context, _ string, opts formapi.ListOptions) ([]formapi.RawSubmission, error) {
	if f.err != nil {
		return nil, f.err
	}
	page := opts.Offset / opts.Limit
	f.fetches++
	if page >= len(f.pages) {
		return nil, nil
	}
	return f.pages[page], nil
}

type fakeStore struct {
	identities []models.ApplicantIdentity
	byID       []models.ApplicantRecord
	byEmail    []models.ApplicantRecord
	inserted   []models.ApplicantRecord
	insertErr  error
	nextID     int64
}

func (f *fakeStore) ListIdentities(context.Context) ([]models.ApplicantIdentity, error) {
	return f.identities, nil
}

func (f *fakeStore) UpsertByID(_ context.Context, records []models.ApplicantRecord) ([]models.ApplicantRecord, error) {
	f.byID = append(f.byID, records...)
	return records, nil
}

func (f *fakeStore) UpsertByEmail(_ context.Context, records []models.ApplicantRecord) ([]models.ApplicantRecord, error) {
	f.byEmail = append(f.byEmail, records...)
	return records, nil
}

func (f *fakeStore) Insert(_ context.Context, records []models.ApplicantRecord) ([]models.ApplicantRecord, error) {
	if f.insertErr != nil {
		return nil, f.insertErr
	}
	out := make([]models.ApplicantRecord, len(records))
	copy(out, records)
	for i := range out {
		f.nextID++
		out[i].ID = f.nextID
	}
	f.inserted = append(f.inserted, out...)
	return out, nil
}

type fakeMigrator struct {
	fail     bool
	migrated []string
}

func (f *fakeMigrator) Migrate(_ context.Context, sourceURL, ownerKey string) migrate.Result {
	f.migrated = append(f.migrated, sourceURL)
	if f.fail {
		return migrate.Result{Err: errors.NewMigrationFailedError(sourceURL, fmt.Errorf("download failed"))}
	}
	return migrate.Result{OK: true, StoragePath: ownerKey + "/" + ownerKey + "_1717000000000.pdf"}
}

type fakeFinder struct {
	results map[string]*models.MatchResult
	got     map[string]string
}

func (f *fakeFinder) FindAll(_ context.Context, _ match.Target, forms map[string]string) map[string]*models.MatchResult {
	f.got = forms
	return f.results
}

func isCDN(raw string) bool {
	return strings.HasPrefix(raw, "https://cdn.example.com/")
}

// ==========================
// Test Helper Functions
// ==========================

func rawSub(id, name, email, resumeURL string) formapi.RawSubmission {
	answers := map[string]formapi.Answer{
		"1": {Name: "fullName", Type: "control_fullname", Answer: json.RawMessage(`"` + name + `"`)},
		"2": {Name: "email", Type: "control_email", Answer: json.RawMessage(`"` + email + `"`)},
	}
	if resumeURL != "" {
		answers["3"] = formapi.Answer{
			Name:   "resume",
			Type:   "control_fileupload",
			Answer: json.RawMessage(`["` + resumeURL + `"]`),
		}
	}
	return formapi.RawSubmission{
		ID:        id,
		CreatedAt: formapi.APITime{Time: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)},
		Status:    "ACTIVE",
		Answers:   answers,
	}
}

func validSettings() *fakeSettings {
	return &fakeSettings{values: map[string]string{
		"form_api_key":        "secret",
		"application_form_id": "240011223344",
	}}
}

func newTestService(t *testing.T, st *fakeSettings, src *fakeSource, store *fakeStore, mig *fakeMigrator, finder *fakeFinder) *Service {
	t.Helper()
	return NewService(Options{
		Settings: st,
		SourceFor: func(apiKey string) SubmissionSource {
			src.gotKey = apiKey
			return src
		},
		MatcherFor: func(SubmissionSource) MatchFinder { return finder },
		Store:      store,
		Migrator:   mig,
		IsExternal: isCDN,
		Logger:     logger.NewTestLogger(t),
		PageSize:   100,
	})
}

// ==========================
// Configuration Tests
// ==========================

func TestSync_MissingAPIKeyIsConfigurationError(t *testing.T) {
	st := &fakeSettings{values: map[string]string{"application_form_id": "240011223344"}}
	svc := newTestService(t, st, &fakeSource{}, &fakeStore{}, &fakeMigrator{}, &fakeFinder{})

	_, err := svc.Sync(context.Background())

	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeConfiguration))
}

func TestSync_MissingFormIDIsConfigurationError(t *testing.T) {
	st := &fakeSettings{values: map[string]string{"form_api_key": "secret"}}
	svc := newTestService(t, st, &fakeSource{}, &fakeStore{}, &fakeMigrator{}, &fakeFinder{})

	_, err := svc.Sync(context.Background())

	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeConfiguration))
}

// ==========================
// Sync Cycle Tests
// ==========================

func TestSync_NewApplicantInserted(t *testing.T) {
	src := &fakeSource{pages: [][]formapi.RawSubmission{{
		rawSub("6001001", "Jane Doe", "jane@example.com", "https://cdn.example.com/resume.pdf"),
	}}}
	store := &fakeStore{}
	mig := &fakeMigrator{}
	svc := newTestService(t, validSettings(), src, store, mig, &fakeFinder{})

	summary, err := svc.Sync(context.Background())

	require.NoError(t, err)
	assert.Equal(t, "secret", src.gotKey)
	assert.Equal(t, 1, summary.Fetched)
	assert.Equal(t, 1, summary.Inserted)
	assert.Equal(t, 0, summary.Updated)
	assert.Equal(t, 1, summary.FilesMigrated)
	assert.NotEmpty(t, summary.CycleID)

	require.Len(t, store.inserted, 1)
	rec := store.inserted[0]
	assert.Equal(t, "6001001", rec.ExternalID)
	assert.Equal(t, "Jane", rec.FirstName)
	assert.Equal(t, "Doe", rec.LastName)
	assert.Equal(t, models.StatusNew, rec.Status)
	assert.Equal(t, "6001001/6001001_1717000000000.pdf", rec.ResumeURL)
}

func TestSync_ExistingByExternalIDKeepsStatus(t *testing.T) {
	src := &fakeSource{pages: [][]formapi.RawSubmission{{
		rawSub("6001001", "Jane Doe", "jane@example.com", ""),
	}}}
	store := &fakeStore{identities: []models.ApplicantIdentity{
		{ID: 7, ExternalID: "6001001", Email: "jane@example.com", Status: models.StatusInterview},
	}}
	svc := newTestService(t, validSettings(), src, store, &fakeMigrator{}, &fakeFinder{})

	summary, err := svc.Sync(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 1, summary.Updated)
	assert.Equal(t, 0, summary.Inserted)

	require.Len(t, store.byID, 1)
	assert.Equal(t, int64(7), store.byID[0].ID)
	assert.Equal(t, models.StatusInterview, store.byID[0].Status)
	assert.Empty(t, store.byEmail)
}

func TestSync_ExistingByEmailOnlyGoesThroughEmailBatch(t *testing.T) {
	// The stored row predates external id tracking.
	src := &fakeSource{pages: [][]formapi.RawSubmission{{
		rawSub("6001009", "Jane Doe", "Jane@Example.com", ""),
	}}}
	store := &fakeStore{identities: []models.ApplicantIdentity{
		{ID: 3, Email: "jane@example.com", Status: models.StatusOffer},
	}}
	svc := newTestService(t, validSettings(), src, store, &fakeMigrator{}, &fakeFinder{})

	_, err := svc.Sync(context.Background())

	require.NoError(t, err)
	require.Len(t, store.byEmail, 1)
	assert.Equal(t, int64(3), store.byEmail[0].ID)
	assert.Equal(t, models.StatusOffer, store.byEmail[0].Status)
	assert.Equal(t, "6001009", store.byEmail[0].ExternalID)
	assert.Empty(t, store.byID)
}

func TestSync_UnknownStoredStatusCoercedToNew(t *testing.T) {
	// A status outside the recognized enumeration must never be written back.
	src := &fakeSource{pages: [][]formapi.RawSubmission{{
		rawSub("6001001", "Jane Doe", "jane@example.com", ""),
	}}}
	store := &fakeStore{identities: []models.ApplicantIdentity{
		{ID: 7, ExternalID: "6001001", Email: "jane@example.com", Status: models.Status("Archived")},
	}}
	svc := newTestService(t, validSettings(), src, store, &fakeMigrator{}, &fakeFinder{})

	summary, err := svc.Sync(context.Background())

	require.NoError(t, err)
	require.Len(t, store.byID, 1)
	assert.Equal(t, models.StatusNew, store.byID[0].Status)
	require.Len(t, summary.Records, 1)
	assert.Equal(t, models.StatusNew, summary.Records[0].Status)
}

func TestSync_SkipsSubmissionsWithoutEmail(t *testing.T) {
	src := &fakeSource{pages: [][]formapi.RawSubmission{{
		rawSub("6001010", "No Email", "", ""),
		rawSub("6001011", "Jane Doe", "jane@example.com", ""),
	}}}
	store := &fakeStore{}
	svc := newTestService(t, validSettings(), src, store, &fakeMigrator{}, &fakeFinder{})

	summary, err := svc.Sync(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 2, summary.Fetched)
	assert.Equal(t, 1, summary.Skipped)
	assert.Equal(t, 1, summary.Inserted)
}

func TestSync_DeduplicatesByEmailWithinBatch(t *testing.T) {
	// Second submission carries the same email; the first-seen one wins and
	// only one row is written.
	src := &fakeSource{pages: [][]formapi.RawSubmission{{
		rawSub("6001012", "Jane Doe", "jane@example.com", ""),
		rawSub("6001013", "Jane D", "JANE@example.com", ""),
	}}}
	store := &fakeStore{}
	svc := newTestService(t, validSettings(), src, store, &fakeMigrator{}, &fakeFinder{})

	summary, err := svc.Sync(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 1, summary.Deduplicated)
	require.Len(t, store.inserted, 1)
	assert.Equal(t, "6001012", store.inserted[0].ExternalID)
}

func TestSync_DedupPrefersRecordResolvedToExistingRow(t *testing.T) {
	// Same email twice: the one whose external id is on record displaces the
	// unresolved duplicate even though it arrives later.
	src := &fakeSource{pages: [][]formapi.RawSubmission{{
		rawSub("6001014", "Jane Doe", "jane@example.com", ""),
		rawSub("6001015", "Jane Doe", "jane@example.com", ""),
	}}}
	store := &fakeStore{identities: []models.ApplicantIdentity{
		{ID: 9, ExternalID: "6001015", Email: "someoneelse@example.com", Status: models.StatusHired},
	}}
	svc := newTestService(t, validSettings(), src, store, &fakeMigrator{}, &fakeFinder{})

	_, err := svc.Sync(context.Background())

	require.NoError(t, err)
	require.Len(t, store.byID, 1)
	assert.Equal(t, "6001015", store.byID[0].ExternalID)
	assert.Equal(t, models.StatusHired, store.byID[0].Status)
	assert.Empty(t, store.inserted)
}

func TestSync_DiscardedDuplicateNotMigrated(t *testing.T) {
	// Both submissions carry an external resume; only the surviving one may
	// trigger a migration, or the bucket accumulates orphaned objects.
	src := &fakeSource{pages: [][]formapi.RawSubmission{{
		rawSub("6001016", "Jane Doe", "jane@example.com", "https://cdn.example.com/first.pdf"),
		rawSub("6001017", "Jane Doe", "jane@example.com", "https://cdn.example.com/second.pdf"),
	}}}
	store := &fakeStore{}
	mig := &fakeMigrator{}
	svc := newTestService(t, validSettings(), src, store, mig, &fakeFinder{})

	summary, err := svc.Sync(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 1, summary.Deduplicated)
	assert.Equal(t, 1, summary.FilesMigrated)
	require.Len(t, mig.migrated, 1)
	assert.Equal(t, "https://cdn.example.com/first.pdf", mig.migrated[0])
}

func TestSync_Paging(t *testing.T) {
	page1 := make([]formapi.RawSubmission, 100)
	for i := range page1 {
		page1[i] = rawSub(fmt.Sprintf("70%03d", i), "P One", fmt.Sprintf("p%d@example.com", i), "")
	}
	src := &fakeSource{pages: [][]formapi.RawSubmission{
		page1,
		{rawSub("800001", "Last One", "last@example.com", "")},
	}}
	store := &fakeStore{}
	svc := newTestService(t, validSettings(), src, store, &fakeMigrator{}, &fakeFinder{})

	summary, err := svc.Sync(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 101, summary.Fetched)
	assert.Equal(t, 2, src.fetches)
}

func TestSync_UpstreamFailureAbortsCycle(t *testing.T) {
	src := &fakeSource{err: errors.NewUpstreamError(503, "unavailable")}
	svc := newTestService(t, validSettings(), src, &fakeStore{}, &fakeMigrator{}, &fakeFinder{})

	_, err := svc.Sync(context.Background())

	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeUpstream))
}

// ==========================
// Resume Migration Tests
// ==========================

func TestSync_MigrationFailureKeepsOriginalURL(t *testing.T) {
	src := &fakeSource{pages: [][]formapi.RawSubmission{{
		rawSub("6001020", "Jane Doe", "jane@example.com", "https://cdn.example.com/resume.pdf"),
	}}}
	store := &fakeStore{}
	mig := &fakeMigrator{fail: true}
	svc := newTestService(t, validSettings(), src, store, mig, &fakeFinder{})

	summary, err := svc.Sync(context.Background())

	require.NoError(t, err, "a failed migration must not abort the cycle")
	assert.Equal(t, 0, summary.FilesMigrated)
	require.Len(t, store.inserted, 1)
	assert.Equal(t, "https://cdn.example.com/resume.pdf", store.inserted[0].ResumeURL)
}

func TestSync_AlreadyMigratedResumeNotTouched(t *testing.T) {
	src := &fakeSource{pages: [][]formapi.RawSubmission{{
		rawSub("6001021", "Jane Doe", "jane@example.com", "https://cdn.example.com/resume.pdf"),
	}}}
	store := &fakeStore{identities: []models.ApplicantIdentity{
		{ID: 4, ExternalID: "6001021", Email: "jane@example.com", ResumeURL: "6001021/6001021_1.pdf", Status: models.StatusNew},
	}}
	mig := &fakeMigrator{}
	svc := newTestService(t, validSettings(), src, store, mig, &fakeFinder{})

	_, err := svc.Sync(context.Background())

	require.NoError(t, err)
	assert.Empty(t, mig.migrated, "internal URLs are never re-migrated")
	require.Len(t, store.byID, 1)
	assert.Equal(t, "6001021/6001021_1.pdf", store.byID[0].ResumeURL)
}

func TestSync_NonCDNResumeLeftAsIs(t *testing.T) {
	src := &fakeSource{pages: [][]formapi.RawSubmission{{
		rawSub("6001022", "Jane Doe", "jane@example.com", "https://drive.example.org/own-hosting.pdf"),
	}}}
	store := &fakeStore{}
	mig := &fakeMigrator{}
	svc := newTestService(t, validSettings(), src, store, mig, &fakeFinder{})

	_, err := svc.Sync(context.Background())

	require.NoError(t, err)
	assert.Empty(t, mig.migrated)
	require.Len(t, store.inserted, 1)
	assert.Equal(t, "https://drive.example.org/own-hosting.pdf", store.inserted[0].ResumeURL)
}

// ==========================
// Idempotence Tests
// ==========================

func TestSync_SecondRunProducesUpdatesNotDuplicates(t *testing.T) {
	sub := rawSub("6001030", "Jane Doe", "jane@example.com", "")
	src := &fakeSource{pages: [][]formapi.RawSubmission{{sub}}}
	store := &fakeStore{}
	svc := newTestService(t, validSettings(), src, store, &fakeMigrator{}, &fakeFinder{})

	first, err := svc.Sync(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, first.Inserted)

	// The inserted row is now on record; replay the same upstream data.
	store.identities = []models.ApplicantIdentity{{
		ID:         store.inserted[0].ID,
		ExternalID: "6001030",
		Email:      "jane@example.com",
		Status:     models.StatusNew,
	}}
	store.inserted = nil

	second, err := svc.Sync(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, second.Inserted)
	assert.Equal(t, 1, second.Updated)
	assert.Empty(t, store.inserted)
}

// ==========================
// Compliance Profile Tests
// ==========================

func TestComplianceProfile_CollectsAuxiliaryFormIDs(t *testing.T) {
	st := &fakeSettings{values: map[string]string{
		"form_api_key":             "secret",
		"application_form_id":      "240011223344",
		"background_check_form_id": "111",
		"tax_form_id":              "222",
		"empty_form_id":            "",
		"unrelated_setting":        "x",
	}}
	finder := &fakeFinder{results: map[string]*models.MatchResult{
		"background_check": {SubmissionID: "901"},
		"tax":              nil,
	}}
	svc := newTestService(t, st, &fakeSource{}, &fakeStore{}, &fakeMigrator{}, finder)

	results, err := svc.ComplianceProfile(context.Background(), match.Target{Email: "jane@example.com"})

	require.NoError(t, err)
	assert.Equal(t, map[string]string{
		"background_check": "111",
		"tax":              "222",
	}, finder.got)
	require.NotNil(t, results["background_check"])
	assert.Equal(t, "901", results["background_check"].SubmissionID)
}

func TestComplianceProfile_MissingAPIKey(t *testing.T) {
	st := &fakeSettings{values: map[string]string{"tax_form_id": "222"}}
	svc := newTestService(t, st, &fakeSource{}, &fakeStore{}, &fakeMigrator{}, &fakeFinder{})

	_, err := svc.ComplianceProfile(context.Background(), match.Target{Email: "jane@example.com"})

	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeConfiguration))
}
