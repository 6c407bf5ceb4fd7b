package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/acme/campaign-dialer/internal/domain"
	"github.com/acme/campaign-dialer/internal/repository"
)

const defaultCandidateBatch = 200

// ContactRepository implements repository.ContactRepository on PostgreSQL.
type ContactRepository struct {
	db        *sqlx.DB
	batchSize int
	maxRounds int
}

// NewContactRepository constructs the repository. batchSize bounds candidate
// loads per claim round; maxRounds caps the scan (0 means unbounded, i.e. one
// full pass over the pending pool).
func NewContactRepository(db *sqlx.DB, batchSize, maxRounds int) *ContactRepository {
	if batchSize <= 0 {
		batchSize = defaultCandidateBatch
	}
	return &ContactRepository{db: db, batchSize: batchSize, maxRounds: maxRounds}
}

const contactColumns = `id, campaign_id, phone_number, first_name, last_name, postal_code, custom_fields, status, created_at, updated_at`

// ClaimNext scans the campaign's pending contacts inside one transaction and
// claims the first predicate-satisfying row it can lock. Rows locked by
// concurrent transactions are skipped via FOR UPDATE SKIP LOCKED, so no
// caller ever waits behind another claim. The id ordering below exists only
// to drive the batch cursor; contact selection order between calls is not a
// guarantee of this store.
func (r *ContactRepository) ClaimNext(ctx context.Context, campaignID uuid.UUID, predicate repository.ContactPredicate) (*domain.Contact, error) {
	var claimed *domain.Contact

	err := withTx(ctx, r.db, func(tx *sqlx.Tx) error {
		cursor := uuid.Nil
		for round := 0; r.maxRounds <= 0 || round < r.maxRounds; round++ {
			candidates, err := r.fetchCandidates(ctx, tx, campaignID, cursor)
			if err != nil {
				return err
			}
			if len(candidates) == 0 {
				return nil
			}

			for i := range candidates {
				c := &candidates[i]
				cursor = c.ID

				if predicate != nil && !predicate(c) {
					continue
				}

				locked, err := lockPendingRow(ctx, tx, c.ID)
				if err != nil {
					return err
				}
				if !locked {
					// Held by a concurrent claim or no longer pending;
					// move on, never block.
					continue
				}

				now := time.Now().UTC()
				if _, err := tx.ExecContext(ctx,
					`UPDATE contacts SET status = $1, updated_at = $2 WHERE id = $3`,
					domain.ContactStatusCalled, now, c.ID,
				); err != nil {
					return fmt.Errorf("contact repo: mark called: %w", err)
				}

				c.Status = domain.ContactStatusCalled
				c.UpdatedAt = now
				claimed = c
				return nil
			}

			if len(candidates) < r.batchSize {
				return nil
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

func (r *ContactRepository) fetchCandidates(ctx context.Context, tx *sqlx.Tx, campaignID, afterID uuid.UUID) ([]domain.Contact, error) {
	rows, err := tx.QueryxContext(ctx, `SELECT `+contactColumns+`
		FROM contacts
		WHERE campaign_id = $1 AND status = $2 AND id > $3
		ORDER BY id
		LIMIT $4`,
		campaignID, domain.ContactStatusPending, afterID, r.batchSize)
	if err != nil {
		return nil, fmt.Errorf("contact repo: fetch candidates: %w", err)
	}
	defer rows.Close()

	return scanContacts(rows)
}

func lockPendingRow(ctx context.Context, tx *sqlx.Tx, contactID uuid.UUID) (bool, error) {
	var id uuid.UUID
	err := tx.QueryRowxContext(ctx,
		`SELECT id FROM contacts WHERE id = $1 AND status = $2 FOR UPDATE SKIP LOCKED`,
		contactID, domain.ContactStatusPending,
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("contact repo: lock probe: %w", err)
	}
	return true, nil
}

// BulkInsert stores accepted import records. The whole batch is one
// transaction; on error nothing is committed.
func (r *ContactRepository) BulkInsert(ctx context.Context, campaignID uuid.UUID, contacts []domain.Contact) error {
	if len(contacts) == 0 {
		return nil
	}

	query := `INSERT INTO contacts (
		id, campaign_id, phone_number, first_name, last_name, postal_code, custom_fields, status, created_at, updated_at
	) VALUES (:id, :campaign_id, :phone_number, :first_name, :last_name, :postal_code, :custom_fields, :status, :created_at, :updated_at)
	ON CONFLICT (id) DO NOTHING`

	return withTx(ctx, r.db, func(tx *sqlx.Tx) error {
		rows := make([]map[string]any, 0, len(contacts))
		for _, c := range contacts {
			custom, err := json.Marshal(c.CustomFields)
			if err != nil {
				return fmt.Errorf("contact repo: marshal custom fields: %w", err)
			}
			rows = append(rows, map[string]any{
				"id":            c.ID,
				"campaign_id":   campaignID,
				"phone_number":  c.PhoneNumber,
				"first_name":    c.FirstName,
				"last_name":     c.LastName,
				"postal_code":   c.PostalCode,
				"custom_fields": custom,
				"status":        domain.ContactStatusPending,
				"created_at":    c.CreatedAt,
				"updated_at":    c.CreatedAt,
			})
		}

		if _, err := tx.NamedExecContext(ctx, query, rows); err != nil {
			return fmt.Errorf("contact repo: bulk insert: %w", err)
		}
		return nil
	})
}

// ListByCampaign pages through a campaign's contacts in id order.
func (r *ContactRepository) ListByCampaign(ctx context.Context, campaignID uuid.UUID, afterID *uuid.UUID, limit int) ([]domain.Contact, error) {
	if limit <= 0 {
		limit = 500
	}
	cursor := uuid.Nil
	if afterID != nil {
		cursor = *afterID
	}

	rows, err := r.db.QueryxContext(ctx, `SELECT `+contactColumns+`
		FROM contacts WHERE campaign_id = $1 AND id > $2 ORDER BY id LIMIT $3`,
		campaignID, cursor, limit)
	if err != nil {
		return nil, fmt.Errorf("contact repo: list: %w", err)
	}
	defer rows.Close()

	return scanContacts(rows)
}

// Get fetches a contact by id.
func (r *ContactRepository) Get(ctx context.Context, id uuid.UUID) (*domain.Contact, error) {
	row := r.db.QueryRowxContext(ctx, `SELECT `+contactColumns+` FROM contacts WHERE id = $1`, id)

	var rec contactRecord
	if err := row.StructScan(&rec); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("contact repo: get: %w", err)
	}
	contact := rec.toDomain()
	return &contact, nil
}

// Qualify records the outcome and flips called to qualified. A contact not in
// called status is left untouched and reported as not qualified, without
// error: two racing qualification requests are expected caller behaviour.
func (r *ContactRepository) Qualify(ctx context.Context, contactID, agentID, qualificationID uuid.UUID) (bool, error) {
	var qualified bool
	err := withTx(ctx, r.db, func(tx *sqlx.Tx) error {
		var err error
		qualified, err = qualifyInTx(ctx, tx, contactID, agentID, qualificationID)
		return err
	})
	return qualified, err
}

// QualifyWithCallback persists the personal callback and the qualification as
// one transaction, closing the inconsistency window a two-step commit would
// leave.
func (r *ContactRepository) QualifyWithCallback(ctx context.Context, contactID, agentID, qualificationID uuid.UUID, callback domain.PersonalCallback) (bool, error) {
	var qualified bool
	err := withTx(ctx, r.db, func(tx *sqlx.Tx) error {
		var err error
		qualified, err = qualifyInTx(ctx, tx, contactID, agentID, qualificationID)
		if err != nil || !qualified {
			return err
		}

		if _, err := tx.ExecContext(ctx, `INSERT INTO personal_callbacks (id, contact_id, agent_id, scheduled_at, note, created_at)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			callback.ID, contactID, agentID, callback.ScheduledAt, callback.Note, time.Now().UTC(),
		); err != nil {
			return fmt.Errorf("contact repo: insert callback: %w", err)
		}
		return nil
	})
	return qualified, err
}

func qualifyInTx(ctx context.Context, tx *sqlx.Tx, contactID, agentID, qualificationID uuid.UUID) (bool, error) {
	now := time.Now().UTC()

	var campaignID uuid.UUID
	err := tx.QueryRowxContext(ctx, `UPDATE contacts SET status = $1, updated_at = $2
		WHERE id = $3 AND status = $4 RETURNING campaign_id`,
		domain.ContactStatusQualified, now, contactID, domain.ContactStatusCalled,
	).Scan(&campaignID)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("contact repo: qualify: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `INSERT INTO contact_dispositions (id, contact_id, campaign_id, agent_id, qualification_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		uuid.New(), contactID, campaignID, agentID, qualificationID, now,
	); err != nil {
		return false, fmt.Errorf("contact repo: insert disposition: %w", err)
	}

	return true, nil
}

// Release returns a called contact to the pending pool without an outcome.
func (r *ContactRepository) Release(ctx context.Context, contactID uuid.UUID) error {
	if _, err := r.db.ExecContext(ctx, `UPDATE contacts SET status = $1, updated_at = $2
		WHERE id = $3 AND status = $4`,
		domain.ContactStatusPending, time.Now().UTC(), contactID, domain.ContactStatusCalled,
	); err != nil {
		return fmt.Errorf("contact repo: release: %w", err)
	}
	return nil
}

// Recycle resets to pending every qualified contact of the campaign whose
// most recent disposition used the given qualification. Running it again once
// nothing matches is a no-op.
func (r *ContactRepository) Recycle(ctx context.Context, campaignID, qualificationID uuid.UUID) (int64, error) {
	res, err := r.db.ExecContext(ctx, `UPDATE contacts SET status = $1, updated_at = $2
		WHERE campaign_id = $3 AND status = $4 AND id IN (
			SELECT latest.contact_id FROM (
				SELECT DISTINCT ON (contact_id) contact_id, qualification_id
				FROM contact_dispositions
				WHERE campaign_id = $3
				ORDER BY contact_id, created_at DESC
			) latest
			WHERE latest.qualification_id = $5
		)`,
		domain.ContactStatusPending, time.Now().UTC(), campaignID, domain.ContactStatusQualified, qualificationID)
	if err != nil {
		return 0, fmt.Errorf("contact repo: recycle: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("contact repo: rows affected: %w", err)
	}
	return n, nil
}

func scanContacts(rows *sqlx.Rows) ([]domain.Contact, error) {
	var results []domain.Contact
	for rows.Next() {
		var rec contactRecord
		if err := rows.StructScan(&rec); err != nil {
			return nil, fmt.Errorf("contact repo: scan: %w", err)
		}
		results = append(results, rec.toDomain())
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("contact repo: rows err: %w", err)
	}
	return results, nil
}

type contactRecord struct {
	ID           uuid.UUID      `db:"id"`
	CampaignID   uuid.UUID      `db:"campaign_id"`
	PhoneNumber  string         `db:"phone_number"`
	FirstName    sql.NullString `db:"first_name"`
	LastName     sql.NullString `db:"last_name"`
	PostalCode   sql.NullString `db:"postal_code"`
	CustomFields []byte         `db:"custom_fields"`
	Status       string         `db:"status"`
	CreatedAt    time.Time      `db:"created_at"`
	UpdatedAt    time.Time      `db:"updated_at"`
}

func (r contactRecord) toDomain() domain.Contact {
	var custom map[string]string
	_ = json.Unmarshal(r.CustomFields, &custom)

	return domain.Contact{
		ID:           r.ID,
		CampaignID:   r.CampaignID,
		PhoneNumber:  r.PhoneNumber,
		FirstName:    r.FirstName.String,
		LastName:     r.LastName.String,
		PostalCode:   r.PostalCode.String,
		CustomFields: custom,
		Status:       domain.ContactStatus(r.Status),
		CreatedAt:    r.CreatedAt,
		UpdatedAt:    r.UpdatedAt,
	}
}
