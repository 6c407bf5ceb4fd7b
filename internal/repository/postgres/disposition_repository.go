package postgres

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/acme/campaign-dialer/internal/domain"
)

// DispositionRepository answers outcome-history queries on PostgreSQL.
type DispositionRepository struct {
	db *sqlx.DB
}

// NewDispositionRepository constructs the repository.
func NewDispositionRepository(db *sqlx.DB) *DispositionRepository {
	return &DispositionRepository{db: db}
}

// PositiveSegmentCounts counts, per quota rule, the distinct contacts of the
// campaign carrying a positive qualification whose field value matches the
// rule's segment. Standard qualifications (null group) always count; grouped
// qualifications count only when the campaign shares the group.
func (r *DispositionRepository) PositiveSegmentCounts(ctx context.Context, campaign *domain.Campaign) (map[string]int, error) {
	counts := make(map[string]int, len(campaign.QuotaRules))

	for _, rule := range campaign.QuotaRules {
		query, args := segmentCountQuery(campaign, rule)

		var count int
		if err := r.db.QueryRowxContext(ctx, query, args...).Scan(&count); err != nil {
			return nil, fmt.Errorf("disposition repo: segment count for rule %s: %w", rule.ID, err)
		}
		counts[rule.ID.String()] = count
	}

	return counts, nil
}

func segmentCountQuery(campaign *domain.Campaign, rule domain.QuotaRule) (string, []any) {
	args := []any{campaign.ID}

	groupCond := "q.group_id IS NULL"
	if campaign.QualificationGroupID != nil {
		args = append(args, *campaign.QualificationGroupID)
		groupCond = fmt.Sprintf("(q.group_id IS NULL OR q.group_id = $%d)", len(args))
	}

	field, fieldArgs := contactFieldExpr(rule.ContactField, len(args))
	args = append(args, fieldArgs...)

	var match string
	switch rule.Operator {
	case domain.OperatorEquals:
		args = append(args, rule.Value)
		match = fmt.Sprintf("lower(btrim(%s)) = lower(btrim($%d))", field, len(args))
	case domain.OperatorStartsWith:
		args = append(args, rule.Value)
		match = fmt.Sprintf("lower(btrim(%s)) LIKE lower(btrim($%d)) || '%%'", field, len(args))
	case domain.OperatorContains:
		args = append(args, rule.Value)
		match = fmt.Sprintf("lower(btrim(%s)) LIKE '%%' || lower(btrim($%d)) || '%%'", field, len(args))
	case domain.OperatorIsNotEmpty:
		match = fmt.Sprintf("btrim(coalesce(%s, '')) <> ''", field)
	default:
		// Unknown operator matches nothing, mirroring the in-memory evaluator.
		match = "FALSE"
	}

	query := fmt.Sprintf(`SELECT COUNT(DISTINCT d.contact_id)
		FROM contact_dispositions d
		JOIN contacts c ON c.id = d.contact_id
		JOIN qualifications q ON q.id = d.qualification_id
		WHERE d.campaign_id = $1
		  AND q.type = 'positive'
		  AND %s
		  AND %s`, groupCond, match)

	return query, args
}

// contactFieldExpr maps a rule field to a SQL expression over the contacts
// row. Standard fields resolve to columns; anything else reads the custom
// fields document, matching Contact.FieldValue.
func contactFieldExpr(field string, argOffset int) (string, []any) {
	switch field {
	case domain.FieldPhoneNumber:
		return "c.phone_number", nil
	case domain.FieldFirstName:
		return "c.first_name", nil
	case domain.FieldLastName:
		return "c.last_name", nil
	case domain.FieldPostalCode:
		return "c.postal_code", nil
	}
	return fmt.Sprintf("c.custom_fields->>$%d", argOffset+1), []any{field}
}
