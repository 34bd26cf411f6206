// internal/store/applicants_test.go
package store

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"formsync/internal/common/errors"
	"formsync/internal/common/logger"
	"formsync/internal/models"
)

// ==========================
// Test Helper Functions
// ==========================

func testRecord(id int64, externalID, email string) models.ApplicantRecord {
	return models.ApplicantRecord{
		ID:          id,
		ExternalID:  externalID,
		FirstName:   "Jane",
		LastName:    "Doe",
		Email:       email,
		Status:      models.StatusNew,
		SubmittedAt: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

// ==========================
// ListIdentities Tests
// ==========================

func TestListIdentities(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(`SELECT id, COALESCE\(external_id, ''\), email`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "external_id", "email", "resume_url", "status"}).
			AddRow(1, "6001001", "jane@example.com", "6001001/6001001_1.pdf", "Screening").
			AddRow(2, "", "old@example.com", "", "New"))

	s := NewApplicantStore(db, logger.NewTestLogger(t))
	identities, err := s.ListIdentities(context.Background())

	require.NoError(t, err)
	require.Len(t, identities, 2)
	assert.Equal(t, int64(1), identities[0].ID)
	assert.Equal(t, "6001001", identities[0].ExternalID)
	assert.Equal(t, models.StatusScreening, identities[0].Status)
	assert.Empty(t, identities[1].ExternalID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListIdentities_CoercesUnknownStatus(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(`SELECT id, COALESCE\(external_id, ''\), email`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "external_id", "email", "resume_url", "status"}).
			AddRow(1, "6001001", "jane@example.com", "", "Archived").
			AddRow(2, "6001002", "john@example.com", "", "Interview"))

	s := NewApplicantStore(db, logger.NewTestLogger(t))
	identities, err := s.ListIdentities(context.Background())

	require.NoError(t, err)
	require.Len(t, identities, 2)
	assert.Equal(t, models.StatusNew, identities[0].Status, "unrecognized statuses collapse to New")
	assert.Equal(t, models.StatusInterview, identities[1].Status)
}

func TestListIdentities_QueryError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(`SELECT id`).WillReturnError(assertableErr("connection lost"))

	s := NewApplicantStore(db, logger.NewTestLogger(t))
	_, err = s.ListIdentities(context.Background())

	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeQueryFailed))
}

type assertableErr string

func (e assertableErr) Error() string { return string(e) }

// ==========================
// Upsert Tests
// ==========================

func TestUpsertByID(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(`INSERT INTO applicants`).
		WithArgs(
			int64(7), "6001001", "Jane", "Doe", "jane@example.com", "", "", "", "New", sqlmock.AnyArg(),
		).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(7))

	s := NewApplicantStore(db, logger.NewTestLogger(t))
	out, err := s.UpsertByID(context.Background(), []models.ApplicantRecord{
		testRecord(7, "6001001", "jane@example.com"),
	})

	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, int64(7), out[0].ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertByEmail_OmitsID(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	// Nine args: the id column is left out so the email conflict target fires.
	mock.ExpectQuery(`INSERT INTO applicants`).
		WithArgs(
			"6001002", "Jane", "Doe", "old@example.com", "", "", "", "New", sqlmock.AnyArg(),
		).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(3))

	s := NewApplicantStore(db, logger.NewTestLogger(t))
	out, err := s.UpsertByEmail(context.Background(), []models.ApplicantRecord{
		testRecord(3, "6001002", "old@example.com"),
	})

	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, int64(3), out[0].ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsert_EmptyBatchIsNoOp(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	s := NewApplicantStore(db, logger.NewTestLogger(t))

	out, err := s.UpsertByID(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, out)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// ==========================
// Insert Tests
// ==========================

func TestInsert_AssignsIDs(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(`INSERT INTO applicants`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(11).AddRow(12))

	s := NewApplicantStore(db, logger.NewTestLogger(t))
	out, err := s.Insert(context.Background(), []models.ApplicantRecord{
		testRecord(0, "6001003", "a@example.com"),
		testRecord(0, "6001004", "b@example.com"),
	})

	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, int64(11), out[0].ID)
	assert.Equal(t, int64(12), out[1].ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInsert_EmptyExternalIDStoredAsNull(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(`INSERT INTO applicants`).
		WithArgs(
			nil, "Jane", "Doe", "a@example.com", "", "", "", "New", sqlmock.AnyArg(),
		).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(13))

	s := NewApplicantStore(db, logger.NewTestLogger(t))
	_, err = s.Insert(context.Background(), []models.ApplicantRecord{
		testRecord(0, "", "a@example.com"),
	})

	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInsert_UniqueViolationIsConflict(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(`INSERT INTO applicants`).
		WillReturnError(&pq.Error{Code: "23505", Message: "duplicate key"})

	s := NewApplicantStore(db, logger.NewTestLogger(t))
	_, err = s.Insert(context.Background(), []models.ApplicantRecord{
		testRecord(0, "6001005", "dupe@example.com"),
	})

	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodePersistenceConflict))
}

func TestInsert_OtherErrorIsQueryFailure(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(`INSERT INTO applicants`).
		WillReturnError(&pq.Error{Code: "57014", Message: "canceled"})

	s := NewApplicantStore(db, logger.NewTestLogger(t))
	_, err = s.Insert(context.Background(), []models.ApplicantRecord{
		testRecord(0, "6001006", "x@example.com"),
	})

	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeQueryFailed))
}
