package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/acme/campaign-dialer/internal/domain"
	"github.com/acme/campaign-dialer/internal/repository"
)

// CampaignRepository implements repository.CampaignRepository using PostgreSQL.
type CampaignRepository struct {
	db *sqlx.DB
}

// NewCampaignRepository constructs a new repository.
func NewCampaignRepository(db *sqlx.DB) *CampaignRepository {
	return &CampaignRepository{db: db}
}

const campaignColumns = `id, name, priority, is_active, dialing_mode, qualification_group_id, wrap_up_seconds, max_concurrent_dials, created_at, updated_at`

// Create inserts a new campaign with its rules and assignments.
func (r *CampaignRepository) Create(ctx context.Context, campaign *domain.Campaign) error {
	return withTx(ctx, r.db, func(tx *sqlx.Tx) error {
		q := `INSERT INTO campaigns (
			id, name, priority, is_active, dialing_mode, qualification_group_id, wrap_up_seconds, max_concurrent_dials, created_at, updated_at
		) VALUES (:id, :name, :priority, :is_active, :dialing_mode, :qualification_group_id, :wrap_up_seconds, :max_concurrent_dials, :created_at, :updated_at)`

		if _, err := tx.NamedExecContext(ctx, q, campaignParams(campaign)); err != nil {
			return fmt.Errorf("campaign repo: insert: %w", err)
		}
		if err := replaceRulesInTx(ctx, tx, campaign.ID, campaign.FilterRules, campaign.QuotaRules); err != nil {
			return err
		}
		return assignAgentsInTx(ctx, tx, campaign.ID, campaign.AssignedAgentIDs)
	})
}

// Get fetches a campaign by id with rules and assignments populated.
func (r *CampaignRepository) Get(ctx context.Context, id uuid.UUID) (*domain.Campaign, error) {
	row := r.db.QueryRowxContext(ctx, `SELECT `+campaignColumns+` FROM campaigns WHERE id = $1`, id)

	var rec campaignRecord
	if err := row.StructScan(&rec); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("campaign repo: get: %w", err)
	}

	campaign := rec.toDomain()
	if err := r.loadDetails(ctx, &campaign); err != nil {
		return nil, err
	}
	return &campaign, nil
}

// Update rewrites campaign metadata (rules and assignments go through
// ReplaceRules / AssignAgents).
func (r *CampaignRepository) Update(ctx context.Context, campaign *domain.Campaign) error {
	q := `UPDATE campaigns SET
		name = :name,
		priority = :priority,
		is_active = :is_active,
		dialing_mode = :dialing_mode,
		qualification_group_id = :qualification_group_id,
		wrap_up_seconds = :wrap_up_seconds,
		max_concurrent_dials = :max_concurrent_dials,
		updated_at = :updated_at
	 WHERE id = :id`

	res, err := r.db.NamedExecContext(ctx, q, campaignParams(campaign))
	if err != nil {
		return fmt.Errorf("campaign repo: update: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("campaign repo: rows affected: %w", err)
	}
	if n == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// SetActive toggles the campaign's distribution eligibility.
func (r *CampaignRepository) SetActive(ctx context.Context, id uuid.UUID, active bool) error {
	res, err := r.db.ExecContext(ctx, `UPDATE campaigns SET is_active = $1, updated_at = $2 WHERE id = $3`,
		active, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("campaign repo: set active: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("campaign repo: rows affected: %w", err)
	}
	if n == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// List returns campaigns with keyset pagination.
func (r *CampaignRepository) List(ctx context.Context, afterID *uuid.UUID, limit int) ([]*domain.Campaign, error) {
	if limit <= 0 {
		limit = 50
	}
	cursor := uuid.Nil
	if afterID != nil {
		cursor = *afterID
	}

	rows, err := r.db.QueryxContext(ctx, `SELECT `+campaignColumns+`
		FROM campaigns WHERE id > $1 ORDER BY id ASC LIMIT $2`, cursor, limit)
	if err != nil {
		return nil, fmt.Errorf("campaign repo: list: %w", err)
	}
	defer rows.Close()

	return r.collect(ctx, rows, false)
}

// ListAssignedActive returns active campaigns assigned to the agent with
// rules populated. Ordering is left to the distribution engine.
func (r *CampaignRepository) ListAssignedActive(ctx context.Context, agentID uuid.UUID) ([]*domain.Campaign, error) {
	rows, err := r.db.QueryxContext(ctx, `SELECT c.id, c.name, c.priority, c.is_active, c.dialing_mode, c.qualification_group_id, c.wrap_up_seconds, c.max_concurrent_dials, c.created_at, c.updated_at
		FROM campaigns c
		JOIN campaign_agents ca ON ca.campaign_id = c.id
		WHERE ca.agent_id = $1 AND c.is_active`, agentID)
	if err != nil {
		return nil, fmt.Errorf("campaign repo: list assigned: %w", err)
	}
	defer rows.Close()

	return r.collect(ctx, rows, true)
}

// ReplaceRules swaps the campaign's filter and quota rule sets.
func (r *CampaignRepository) ReplaceRules(ctx context.Context, campaignID uuid.UUID, filters []domain.FilterRule, quotas []domain.QuotaRule) error {
	return withTx(ctx, r.db, func(tx *sqlx.Tx) error {
		return replaceRulesInTx(ctx, tx, campaignID, filters, quotas)
	})
}

// AssignAgents replaces the campaign's agent assignment set.
func (r *CampaignRepository) AssignAgents(ctx context.Context, campaignID uuid.UUID, agentIDs []uuid.UUID) error {
	return withTx(ctx, r.db, func(tx *sqlx.Tx) error {
		return assignAgentsInTx(ctx, tx, campaignID, agentIDs)
	})
}

func (r *CampaignRepository) collect(ctx context.Context, rows *sqlx.Rows, withDetails bool) ([]*domain.Campaign, error) {
	var results []*domain.Campaign
	for rows.Next() {
		var rec campaignRecord
		if err := rows.StructScan(&rec); err != nil {
			return nil, fmt.Errorf("campaign repo: scan: %w", err)
		}
		campaign := rec.toDomain()
		results = append(results, &campaign)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("campaign repo: rows err: %w", err)
	}

	if withDetails {
		for _, c := range results {
			if err := r.loadDetails(ctx, c); err != nil {
				return nil, err
			}
		}
	}
	return results, nil
}

func (r *CampaignRepository) loadDetails(ctx context.Context, campaign *domain.Campaign) error {
	frows, err := r.db.QueryxContext(ctx, `SELECT id, rule_type, contact_field, operator, value
		FROM campaign_filter_rules WHERE campaign_id = $1 ORDER BY position`, campaign.ID)
	if err != nil {
		return fmt.Errorf("campaign repo: filter rules: %w", err)
	}
	defer frows.Close()

	for frows.Next() {
		var rec struct {
			ID           uuid.UUID `db:"id"`
			RuleType     string    `db:"rule_type"`
			ContactField string    `db:"contact_field"`
			Operator     string    `db:"operator"`
			Value        string    `db:"value"`
		}
		if err := frows.StructScan(&rec); err != nil {
			return fmt.Errorf("campaign repo: scan filter rule: %w", err)
		}
		campaign.FilterRules = append(campaign.FilterRules, domain.FilterRule{
			ID:           rec.ID,
			RuleType:     domain.FilterRuleType(rec.RuleType),
			ContactField: rec.ContactField,
			Operator:     domain.RuleOperator(rec.Operator),
			Value:        rec.Value,
		})
	}
	if err := frows.Err(); err != nil {
		return fmt.Errorf("campaign repo: filter rules err: %w", err)
	}

	qrows, err := r.db.QueryxContext(ctx, `SELECT id, contact_field, operator, value, quota_limit
		FROM campaign_quota_rules WHERE campaign_id = $1 ORDER BY position`, campaign.ID)
	if err != nil {
		return fmt.Errorf("campaign repo: quota rules: %w", err)
	}
	defer qrows.Close()

	for qrows.Next() {
		var rec struct {
			ID           uuid.UUID `db:"id"`
			ContactField string    `db:"contact_field"`
			Operator     string    `db:"operator"`
			Value        string    `db:"value"`
			QuotaLimit   int       `db:"quota_limit"`
		}
		if err := qrows.StructScan(&rec); err != nil {
			return fmt.Errorf("campaign repo: scan quota rule: %w", err)
		}
		campaign.QuotaRules = append(campaign.QuotaRules, domain.QuotaRule{
			ID:           rec.ID,
			ContactField: rec.ContactField,
			Operator:     domain.RuleOperator(rec.Operator),
			Value:        rec.Value,
			Limit:        rec.QuotaLimit,
		})
	}
	if err := qrows.Err(); err != nil {
		return fmt.Errorf("campaign repo: quota rules err: %w", err)
	}

	arows, err := r.db.QueryxContext(ctx, `SELECT agent_id FROM campaign_agents WHERE campaign_id = $1`, campaign.ID)
	if err != nil {
		return fmt.Errorf("campaign repo: agents: %w", err)
	}
	defer arows.Close()

	for arows.Next() {
		var agentID uuid.UUID
		if err := arows.Scan(&agentID); err != nil {
			return fmt.Errorf("campaign repo: scan agent: %w", err)
		}
		campaign.AssignedAgentIDs = append(campaign.AssignedAgentIDs, agentID)
	}
	return arows.Err()
}

func replaceRulesInTx(ctx context.Context, tx *sqlx.Tx, campaignID uuid.UUID, filters []domain.FilterRule, quotas []domain.QuotaRule) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM campaign_filter_rules WHERE campaign_id = $1`, campaignID); err != nil {
		return fmt.Errorf("campaign repo: delete filter rules: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM campaign_quota_rules WHERE campaign_id = $1`, campaignID); err != nil {
		return fmt.Errorf("campaign repo: delete quota rules: %w", err)
	}

	for i, f := range filters {
		id := f.ID
		if id == uuid.Nil {
			id = uuid.New()
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO campaign_filter_rules (id, campaign_id, rule_type, contact_field, operator, value, position)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			id, campaignID, f.RuleType, f.ContactField, f.Operator, f.Value, i,
		); err != nil {
			return fmt.Errorf("campaign repo: insert filter rule: %w", err)
		}
	}

	for i, q := range quotas {
		id := q.ID
		if id == uuid.Nil {
			id = uuid.New()
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO campaign_quota_rules (id, campaign_id, contact_field, operator, value, quota_limit, position)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			id, campaignID, q.ContactField, q.Operator, q.Value, q.Limit, i,
		); err != nil {
			return fmt.Errorf("campaign repo: insert quota rule: %w", err)
		}
	}
	return nil
}

func assignAgentsInTx(ctx context.Context, tx *sqlx.Tx, campaignID uuid.UUID, agentIDs []uuid.UUID) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM campaign_agents WHERE campaign_id = $1`, campaignID); err != nil {
		return fmt.Errorf("campaign repo: delete agents: %w", err)
	}
	for _, agentID := range agentIDs {
		if _, err := tx.ExecContext(ctx, `INSERT INTO campaign_agents (campaign_id, agent_id) VALUES ($1, $2)
			ON CONFLICT DO NOTHING`, campaignID, agentID); err != nil {
			return fmt.Errorf("campaign repo: insert agent: %w", err)
		}
	}
	return nil
}

func campaignParams(campaign *domain.Campaign) map[string]any {
	return map[string]any{
		"id":                     campaign.ID,
		"name":                   campaign.Name,
		"priority":               campaign.Priority,
		"is_active":              campaign.IsActive,
		"dialing_mode":           campaign.DialingMode,
		"qualification_group_id": campaign.QualificationGroupID,
		"wrap_up_seconds":        int(campaign.WrapUpTime / time.Second),
		"max_concurrent_dials":   campaign.MaxConcurrentDials,
		"created_at":             campaign.CreatedAt,
		"updated_at":             campaign.UpdatedAt,
	}
}

type campaignRecord struct {
	ID                   uuid.UUID     `db:"id"`
	Name                 string        `db:"name"`
	Priority             int           `db:"priority"`
	IsActive             bool          `db:"is_active"`
	DialingMode          string        `db:"dialing_mode"`
	QualificationGroupID uuid.NullUUID `db:"qualification_group_id"`
	WrapUpSeconds        int           `db:"wrap_up_seconds"`
	MaxConcurrentDials   int           `db:"max_concurrent_dials"`
	CreatedAt            sql.NullTime  `db:"created_at"`
	UpdatedAt            sql.NullTime  `db:"updated_at"`
}

func (r campaignRecord) toDomain() domain.Campaign {
	campaign := domain.Campaign{
		ID:                 r.ID,
		Name:               r.Name,
		Priority:           r.Priority,
		IsActive:           r.IsActive,
		DialingMode:        domain.DialingMode(r.DialingMode),
		WrapUpTime:         time.Duration(r.WrapUpSeconds) * time.Second,
		MaxConcurrentDials: r.MaxConcurrentDials,
		CreatedAt:          r.CreatedAt.Time,
		UpdatedAt:          r.UpdatedAt.Time,
	}
	if r.QualificationGroupID.Valid {
		id := r.QualificationGroupID.UUID
		campaign.QualificationGroupID = &id
	}
	return campaign
}
