package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/acme/campaign-dialer/internal/domain"
	"github.com/acme/campaign-dialer/internal/repository"
)

// QualificationRepository manages the qualification catalogue on PostgreSQL.
type QualificationRepository struct {
	db *sqlx.DB
}

// NewQualificationRepository constructs the repository.
func NewQualificationRepository(db *sqlx.DB) *QualificationRepository {
	return &QualificationRepository{db: db}
}

// Get fetches a qualification by id.
func (r *QualificationRepository) Get(ctx context.Context, id uuid.UUID) (*domain.Qualification, error) {
	row := r.db.QueryRowxContext(ctx, `SELECT id, label, type, group_id, schedule_callback
		FROM qualifications WHERE id = $1`, id)

	var rec qualificationRecord
	if err := row.StructScan(&rec); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("qualification repo: get: %w", err)
	}
	q := rec.toDomain()
	return &q, nil
}

// List returns the standard qualifications plus, when groupID is set, the
// ones scoped to that group.
func (r *QualificationRepository) List(ctx context.Context, groupID *uuid.UUID) ([]domain.Qualification, error) {
	var (
		rows *sqlx.Rows
		err  error
	)
	if groupID != nil {
		rows, err = r.db.QueryxContext(ctx, `SELECT id, label, type, group_id, schedule_callback
			FROM qualifications WHERE group_id IS NULL OR group_id = $1 ORDER BY label`, *groupID)
	} else {
		rows, err = r.db.QueryxContext(ctx, `SELECT id, label, type, group_id, schedule_callback
			FROM qualifications WHERE group_id IS NULL ORDER BY label`)
	}
	if err != nil {
		return nil, fmt.Errorf("qualification repo: list: %w", err)
	}
	defer rows.Close()

	var results []domain.Qualification
	for rows.Next() {
		var rec qualificationRecord
		if err := rows.StructScan(&rec); err != nil {
			return nil, fmt.Errorf("qualification repo: scan: %w", err)
		}
		results = append(results, rec.toDomain())
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("qualification repo: rows err: %w", err)
	}
	return results, nil
}

type qualificationRecord struct {
	ID               uuid.UUID     `db:"id"`
	Label            string        `db:"label"`
	Type             string        `db:"type"`
	GroupID          uuid.NullUUID `db:"group_id"`
	ScheduleCallback bool          `db:"schedule_callback"`
}

func (r qualificationRecord) toDomain() domain.Qualification {
	q := domain.Qualification{
		ID:               r.ID,
		Label:            r.Label,
		Type:             domain.QualificationType(r.Type),
		ScheduleCallback: r.ScheduleCallback,
	}
	if r.GroupID.Valid {
		id := r.GroupID.UUID
		q.GroupID = &id
	}
	return q
}
