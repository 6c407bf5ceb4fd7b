package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/acme/campaign-dialer/internal/domain"
	apperrors "github.com/acme/campaign-dialer/pkg/errors"
)

var (
	// ErrNotFound indicates the entity was not located.
	ErrNotFound = apperrors.ErrNotFound
	// ErrConflict indicates a unique constraint violation.
	ErrConflict = apperrors.ErrConflict
)

// ContactPredicate decides in memory whether a pending contact is a valid
// claim candidate. It must be side-effect free; the claim loop calls it once
// per scanned contact.
type ContactPredicate func(*domain.Contact) bool

// ContactRepository owns all mutation of contact state and is the sole
// enforcer of the at-most-one-agent-per-contact invariant.
type ContactRepository interface {
	// ClaimNext atomically claims the first pending contact of the campaign
	// satisfying the predicate, flipping it to called. Rows locked by
	// concurrent transactions are skipped, never waited on. Returns
	// (nil, nil) when nothing is claimable.
	ClaimNext(ctx context.Context, campaignID uuid.UUID, predicate ContactPredicate) (*domain.Contact, error)

	// BulkInsert stores accepted import records in a single transaction.
	BulkInsert(ctx context.Context, campaignID uuid.UUID, contacts []domain.Contact) error

	// ListByCampaign pages through a campaign's contacts in id order.
	ListByCampaign(ctx context.Context, campaignID uuid.UUID, afterID *uuid.UUID, limit int) ([]domain.Contact, error)

	Get(ctx context.Context, id uuid.UUID) (*domain.Contact, error)

	// Qualify records the outcome and moves the contact from called to
	// qualified. Returns false without error when the contact was not in
	// called status (harmless double-submit).
	Qualify(ctx context.Context, contactID, agentID, qualificationID uuid.UUID) (bool, error)

	// QualifyWithCallback persists the personal callback and the
	// qualification in one transaction.
	QualifyWithCallback(ctx context.Context, contactID, agentID, qualificationID uuid.UUID, callback domain.PersonalCallback) (bool, error)

	// Release returns a called contact to the pending pool without recording
	// an outcome (force-logout requeue path).
	Release(ctx context.Context, contactID uuid.UUID) error

	// Recycle resets to pending every campaign contact whose most recent
	// disposition used the given qualification. Idempotent.
	Recycle(ctx context.Context, campaignID, qualificationID uuid.UUID) (int64, error)
}

// CampaignRepository manages campaign definitions, rules and agent
// assignments.
type CampaignRepository interface {
	Create(ctx context.Context, campaign *domain.Campaign) error
	Get(ctx context.Context, id uuid.UUID) (*domain.Campaign, error)
	Update(ctx context.Context, campaign *domain.Campaign) error
	SetActive(ctx context.Context, id uuid.UUID, active bool) error
	List(ctx context.Context, afterID *uuid.UUID, limit int) ([]*domain.Campaign, error)

	// ListAssignedActive returns the active campaigns assigned to the agent
	// with filter and quota rules populated, in no particular order; the
	// distribution engine applies its own deterministic sort.
	ListAssignedActive(ctx context.Context, agentID uuid.UUID) ([]*domain.Campaign, error)

	ReplaceRules(ctx context.Context, campaignID uuid.UUID, filters []domain.FilterRule, quotas []domain.QuotaRule) error
	AssignAgents(ctx context.Context, campaignID uuid.UUID, agentIDs []uuid.UUID) error
}

// QualificationRepository manages the qualification catalogue.
type QualificationRepository interface {
	Get(ctx context.Context, id uuid.UUID) (*domain.Qualification, error)
	List(ctx context.Context, groupID *uuid.UUID) ([]domain.Qualification, error)
}

// DispositionRepository answers outcome-history questions.
type DispositionRepository interface {
	// PositiveSegmentCounts computes, for each quota rule of the campaign,
	// how many distinct contacts carry a positive qualification matching the
	// rule's segment. Counts are computed once per distribution attempt.
	PositiveSegmentCounts(ctx context.Context, campaign *domain.Campaign) (map[string]int, error)
}

// HistoryRecord is an append-only audit entry for supervisor dashboards.
type HistoryRecord struct {
	CampaignID      uuid.UUID
	ContactID       uuid.UUID
	AgentID         uuid.UUID
	Event           string
	QualificationID *uuid.UUID
	OccurredAt      time.Time
}

// HistoryStore persists claim/disposition audit records. Writes are
// best-effort and must never gate the transactional path.
type HistoryStore interface {
	Append(ctx context.Context, record HistoryRecord) error
	ListByCampaign(ctx context.Context, campaignID uuid.UUID, limit int, pagingState []byte) ([]HistoryRecord, []byte, error)
}
