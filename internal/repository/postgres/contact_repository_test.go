package postgres

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/acme/campaign-dialer/internal/domain"
)

func newMockRepo(t *testing.T) (*ContactRepository, sqlmock.Sqlmock) {
	t.Helper()
	mockDB, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { mockDB.Close() })
	db := sqlx.NewDb(mockDB, "sqlmock")
	return NewContactRepository(db, 10, 0), mock
}

func contactRows(ids ...uuid.UUID) *sqlmock.Rows {
	rows := sqlmock.NewRows([]string{
		"id", "campaign_id", "phone_number", "first_name", "last_name",
		"postal_code", "custom_fields", "status", "created_at", "updated_at",
	})
	now := time.Now().UTC()
	for _, id := range ids {
		rows.AddRow(id, uuid.New(), "+33612345678", "Ada", "Lovelace",
			"75001", []byte(`{}`), "pending", now, now)
	}
	return rows
}

const (
	candidateQuery = `SELECT .+ FROM contacts\s+WHERE campaign_id = \$1 AND status = \$2 AND id > \$3`
	lockQuery      = `SELECT id FROM contacts WHERE id = \$1 AND status = \$2 FOR UPDATE SKIP LOCKED`
	markCalled     = `UPDATE contacts SET status = \$1, updated_at = \$2 WHERE id = \$3`
)

func TestClaimNextClaimsFirstLockableRow(t *testing.T) {
	repo, mock := newMockRepo(t)
	campaignID := uuid.New()
	first, second := uuid.New(), uuid.New()

	mock.ExpectBegin()
	mock.ExpectQuery(candidateQuery).
		WithArgs(campaignID, string(domain.ContactStatusPending), uuid.Nil, 10).
		WillReturnRows(contactRows(first, second))
	// First candidate is locked by a concurrent claim: probe returns nothing
	// and the scan moves on instead of waiting.
	mock.ExpectQuery(lockQuery).
		WithArgs(first, string(domain.ContactStatusPending)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectQuery(lockQuery).
		WithArgs(second, string(domain.ContactStatusPending)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(second))
	mock.ExpectExec(markCalled).
		WithArgs(string(domain.ContactStatusCalled), sqlmock.AnyArg(), second).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	claimed, err := repo.ClaimNext(context.Background(), campaignID, nil)
	if err != nil {
		t.Fatalf("ClaimNext: %v", err)
	}
	if claimed == nil || claimed.ID != second {
		t.Fatalf("expected the second candidate claimed, got %+v", claimed)
	}
	if claimed.Status != domain.ContactStatusCalled {
		t.Fatalf("expected called status, got %s", claimed.Status)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestClaimNextEmptyPool(t *testing.T) {
	repo, mock := newMockRepo(t)
	campaignID := uuid.New()

	mock.ExpectBegin()
	mock.ExpectQuery(candidateQuery).
		WithArgs(campaignID, string(domain.ContactStatusPending), uuid.Nil, 10).
		WillReturnRows(contactRows())
	mock.ExpectCommit()

	claimed, err := repo.ClaimNext(context.Background(), campaignID, nil)
	if err != nil {
		t.Fatalf("ClaimNext: %v", err)
	}
	if claimed != nil {
		t.Fatalf("expected no claim, got %+v", claimed)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestClaimNextHonoursPredicate(t *testing.T) {
	repo, mock := newMockRepo(t)
	campaignID := uuid.New()
	first, second := uuid.New(), uuid.New()

	mock.ExpectBegin()
	mock.ExpectQuery(candidateQuery).
		WithArgs(campaignID, string(domain.ContactStatusPending), uuid.Nil, 10).
		WillReturnRows(contactRows(first, second))
	// No lock probe for the first candidate: the predicate already rejected
	// it in memory.
	mock.ExpectQuery(lockQuery).
		WithArgs(second, string(domain.ContactStatusPending)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(second))
	mock.ExpectExec(markCalled).
		WithArgs(string(domain.ContactStatusCalled), sqlmock.AnyArg(), second).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	claimed, err := repo.ClaimNext(context.Background(), campaignID, func(c *domain.Contact) bool {
		return c.ID != first
	})
	if err != nil {
		t.Fatalf("ClaimNext: %v", err)
	}
	if claimed == nil || claimed.ID != second {
		t.Fatalf("expected the second candidate, got %+v", claimed)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestQualifyNoOpWhenNotCalled(t *testing.T) {
	repo, mock := newMockRepo(t)
	contactID, agentID, qualificationID := uuid.New(), uuid.New(), uuid.New()

	mock.ExpectBegin()
	mock.ExpectQuery(`UPDATE contacts SET status = \$1, updated_at = \$2\s+WHERE id = \$3 AND status = \$4 RETURNING campaign_id`).
		WithArgs(string(domain.ContactStatusQualified), sqlmock.AnyArg(), contactID, string(domain.ContactStatusCalled)).
		WillReturnRows(sqlmock.NewRows([]string{"campaign_id"}))
	mock.ExpectCommit()

	qualified, err := repo.Qualify(context.Background(), contactID, agentID, qualificationID)
	if err != nil {
		t.Fatalf("Qualify: %v", err)
	}
	if qualified {
		t.Fatalf("expected a silent no-op for a non-called contact")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestQualifyWithCallbackIsOneTransaction(t *testing.T) {
	repo, mock := newMockRepo(t)
	contactID, agentID, qualificationID := uuid.New(), uuid.New(), uuid.New()
	campaignID := uuid.New()
	callback := domain.PersonalCallback{
		ID:          uuid.New(),
		ContactID:   contactID,
		AgentID:     agentID,
		ScheduledAt: time.Now().Add(time.Hour).UTC(),
		Note:        "call after lunch",
	}

	mock.ExpectBegin()
	mock.ExpectQuery(`UPDATE contacts SET status = \$1, updated_at = \$2\s+WHERE id = \$3 AND status = \$4 RETURNING campaign_id`).
		WithArgs(string(domain.ContactStatusQualified), sqlmock.AnyArg(), contactID, string(domain.ContactStatusCalled)).
		WillReturnRows(sqlmock.NewRows([]string{"campaign_id"}).AddRow(campaignID))
	mock.ExpectExec(`INSERT INTO contact_dispositions`).
		WithArgs(sqlmock.AnyArg(), contactID, campaignID, agentID, qualificationID, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO personal_callbacks`).
		WithArgs(callback.ID, contactID, agentID, callback.ScheduledAt, callback.Note, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	qualified, err := repo.QualifyWithCallback(context.Background(), contactID, agentID, qualificationID, callback)
	if err != nil {
		t.Fatalf("QualifyWithCallback: %v", err)
	}
	if !qualified {
		t.Fatalf("expected the contact qualified")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestReleaseOnlyTouchesCalledContacts(t *testing.T) {
	repo, mock := newMockRepo(t)
	contactID := uuid.New()

	mock.ExpectExec(regexp.QuoteMeta(`UPDATE contacts SET status = $1, updated_at = $2`)).
		WithArgs(string(domain.ContactStatusPending), sqlmock.AnyArg(), contactID, string(domain.ContactStatusCalled)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := repo.Release(context.Background(), contactID); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestRecycleReturnsAffectedCount(t *testing.T) {
	repo, mock := newMockRepo(t)
	campaignID, qualificationID := uuid.New(), uuid.New()

	mock.ExpectExec(`UPDATE contacts SET status = \$1, updated_at = \$2\s+WHERE campaign_id = \$3 AND status = \$4 AND id IN`).
		WithArgs(string(domain.ContactStatusPending), sqlmock.AnyArg(), campaignID, string(domain.ContactStatusQualified), qualificationID).
		WillReturnResult(sqlmock.NewResult(0, 3))

	n, err := repo.Recycle(context.Background(), campaignID, qualificationID)
	if err != nil {
		t.Fatalf("Recycle: %v", err)
	}
	if n != 3 {
		t.Fatalf("expected 3 recycled, got %d", n)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}
