// internal/store/applicants.go

// Package store persists applicants and upstream call logs in Postgres.
package store

import (
	"context"
	"database/sql"
	goerrors "errors"
	"fmt"
	"strings"

	"github.com/lib/pq"

	"formsync/internal/common/errors"
	"formsync/internal/common/logger"
	"formsync/internal/models"
)

const uniqueViolation = "23505"

type ApplicantStore struct {
	db     *sql.DB
	logger logger.Logger
}

func NewApplicantStore(db *sql.DB, log logger.Logger) *ApplicantStore {
	return &ApplicantStore{
		db:     db,
		logger: log.WithFields(map[string]interface{}{"component": "store"}),
	}
}

// ListIdentities loads the slim identity projection of every applicant. The
// sync cycle reads this once and resolves all submissions against it in
// memory.
func (s *ApplicantStore) ListIdentities(ctx context.Context) ([]models.ApplicantIdentity, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, COALESCE(external_id, ''), email, COALESCE(resume_url, ''), status
		FROM applicants`)
	if err != nil {
		return nil, errors.NewQueryFailedError("list applicant identities", err)
	}
	defer rows.Close()

	var identities []models.ApplicantIdentity
	for rows.Next() {
		var ident models.ApplicantIdentity
		var status string
		if err := rows.Scan(&ident.ID, &ident.ExternalID, &ident.Email, &ident.ResumeURL, &status); err != nil {
			return nil, errors.NewQueryFailedError("scan applicant identity", err)
		}
		ident.Status = models.CoerceStatus(status)
		identities = append(identities, ident)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewQueryFailedError("iterate applicant identities", err)
	}
	return identities, nil
}

// UpsertByID writes records matched by their database id. Status is
// deliberately excluded from the update column list: the pipeline status is
// owned locally and a re-sync must not reset it.
func (s *ApplicantStore) UpsertByID(ctx context.Context, records []models.ApplicantRecord) ([]models.ApplicantRecord, error) {
	return s.upsert(ctx, records, true, "(id)")
}

// UpsertByEmail writes records matched by their lowercased email. Used when a
// submission resolved to an existing applicant that predates external id
// tracking. The id column is omitted so the email conflict target is the one
// that fires.
func (s *ApplicantStore) UpsertByEmail(ctx context.Context, records []models.ApplicantRecord) ([]models.ApplicantRecord, error) {
	return s.upsert(ctx, records, false, "(email)")
}

// Insert writes brand-new applicants in one multi-row statement. A unique
// violation fails the whole batch; the next cycle re-resolves the colliding
// rows as updates.
func (s *ApplicantStore) Insert(ctx context.Context, records []models.ApplicantRecord) ([]models.ApplicantRecord, error) {
	if len(records) == 0 {
		return nil, nil
	}

	var sb strings.Builder
	sb.WriteString(`
		INSERT INTO applicants
			(external_id, first_name, last_name, email, phone, position_applied, resume_url, status, submitted_at, updated_at)
		VALUES `)

	args := make([]interface{}, 0, len(records)*9)
	for i, rec := range records {
		if i > 0 {
			sb.WriteString(", ")
		}
		base := i * 9
		fmt.Fprintf(&sb, "($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, NOW())",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7, base+8, base+9)
		args = append(args,
			nullableString(rec.ExternalID),
			rec.FirstName, rec.LastName, rec.Email, rec.Phone,
			rec.PositionApplied, rec.ResumeURL, string(rec.Status), rec.SubmittedAt)
	}
	sb.WriteString(" RETURNING id")

	rows, err := s.db.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, classify("insert applicants", err)
	}
	defer rows.Close()

	out := make([]models.ApplicantRecord, len(records))
	copy(out, records)
	for i := 0; rows.Next(); i++ {
		if err := rows.Scan(&out[i].ID); err != nil {
			return nil, errors.NewQueryFailedError("scan inserted applicant id", err)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewQueryFailedError("iterate inserted applicants", err)
	}
	return out, nil
}

// upsert runs one multi-row INSERT ... ON CONFLICT statement. The conflict
// target varies; the update column list never includes status.
func (s *ApplicantStore) upsert(ctx context.Context, records []models.ApplicantRecord, includeID bool, conflictTarget string) ([]models.ApplicantRecord, error) {
	if len(records) == 0 {
		return nil, nil
	}

	columns := "(external_id, first_name, last_name, email, phone, position_applied, resume_url, status, submitted_at, updated_at)"
	perRow := 9
	if includeID {
		columns = "(id, external_id, first_name, last_name, email, phone, position_applied, resume_url, status, submitted_at, updated_at)"
		perRow = 10
	}

	var sb strings.Builder
	sb.WriteString("\n\t\tINSERT INTO applicants\n\t\t\t")
	sb.WriteString(columns)
	sb.WriteString("\n\t\tVALUES ")

	args := make([]interface{}, 0, len(records)*perRow)
	for i, rec := range records {
		if i > 0 {
			sb.WriteString(", ")
		}
		base := i * perRow
		sb.WriteString("(")
		for j := 0; j < perRow; j++ {
			if j > 0 {
				sb.WriteString(", ")
			}
			fmt.Fprintf(&sb, "$%d", base+j+1)
		}
		sb.WriteString(", NOW())")

		if includeID {
			args = append(args, rec.ID)
		}
		args = append(args,
			nullableString(rec.ExternalID),
			rec.FirstName, rec.LastName, rec.Email, rec.Phone,
			rec.PositionApplied, rec.ResumeURL, string(rec.Status), rec.SubmittedAt)
	}

	sb.WriteString(" ON CONFLICT ")
	sb.WriteString(conflictTarget)
	sb.WriteString(` DO UPDATE SET
		external_id = EXCLUDED.external_id,
		first_name = EXCLUDED.first_name,
		last_name = EXCLUDED.last_name,
		email = EXCLUDED.email,
		phone = EXCLUDED.phone,
		position_applied = EXCLUDED.position_applied,
		resume_url = EXCLUDED.resume_url,
		submitted_at = EXCLUDED.submitted_at,
		updated_at = NOW()
	 RETURNING id`)

	rows, err := s.db.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, classify("upsert applicants on "+conflictTarget, err)
	}
	defer rows.Close()

	out := make([]models.ApplicantRecord, len(records))
	copy(out, records)
	for i := 0; rows.Next(); i++ {
		if err := rows.Scan(&out[i].ID); err != nil {
			return nil, errors.NewQueryFailedError("scan upserted applicant id", err)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewQueryFailedError("iterate upserted applicants", err)
	}
	return out, nil
}

func classify(operation string, err error) *errors.StandardError {
	var pqErr *pq.Error
	if goerrors.As(err, &pqErr) && string(pqErr.Code) == uniqueViolation {
		return errors.NewPersistenceConflictError(err)
	}
	return errors.NewQueryFailedError(operation, err)
}

// nullableString maps an empty string to SQL NULL so the partial unique
// index on external_id never sees duplicate empty values.
func nullableString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

