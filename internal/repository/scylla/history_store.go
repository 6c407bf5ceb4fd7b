package scylla

import (
	"context"
	"fmt"
	"time"

	"github.com/gocql/gocql"
	"github.com/google/uuid"

	"github.com/acme/campaign-dialer/internal/repository"
)

// HistoryStore persists the append-only claim/disposition audit trail in
// Scylla, partitioned by campaign and day bucket for supervisor dashboards.
type HistoryStore struct {
	session *gocql.Session
}

// NewHistoryStore creates a new history store.
func NewHistoryStore(session *gocql.Session) *HistoryStore {
	return &HistoryStore{session: session}
}

// Append writes one audit record.
func (s *HistoryStore) Append(ctx context.Context, record repository.HistoryRecord) error {
	var qualificationID *string
	if record.QualificationID != nil {
		v := record.QualificationID.String()
		qualificationID = &v
	}

	if err := s.session.Query(`INSERT INTO contact_history_by_campaign (campaign_id, bucket, occurred_at, contact_id, agent_id, event, qualification_id)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		record.CampaignID.String(), bucketDate(record.OccurredAt), record.OccurredAt,
		record.ContactID.String(), record.AgentID.String(), record.Event, qualificationID,
	).WithContext(ctx).Exec(); err != nil {
		return fmt.Errorf("history store: insert: %w", err)
	}
	return nil
}

// ListByCampaign pages through a campaign's audit trail, newest first within
// each partition.
func (s *HistoryStore) ListByCampaign(ctx context.Context, campaignID uuid.UUID, limit int, pagingState []byte) ([]repository.HistoryRecord, []byte, error) {
	if limit <= 0 {
		limit = 100
	}

	query := s.session.Query(`SELECT occurred_at, contact_id, agent_id, event, qualification_id
		FROM contact_history_by_campaign WHERE campaign_id = ?`, campaignID.String()).WithContext(ctx)
	query = query.PageSize(limit)
	if len(pagingState) > 0 {
		query = query.PageState(pagingState)
	}

	iter := query.Iter()
	records := make([]repository.HistoryRecord, 0, limit)

	var (
		occurredAt      time.Time
		contactIDStr    string
		agentIDStr      string
		event           string
		qualificationID *string
	)

	for iter.Scan(&occurredAt, &contactIDStr, &agentIDStr, &event, &qualificationID) {
		contactID, err := uuid.Parse(contactIDStr)
		if err != nil {
			continue
		}
		agentID, err := uuid.Parse(agentIDStr)
		if err != nil {
			continue
		}

		record := repository.HistoryRecord{
			CampaignID: campaignID,
			ContactID:  contactID,
			AgentID:    agentID,
			Event:      event,
			OccurredAt: occurredAt,
		}
		if qualificationID != nil {
			if qid, err := uuid.Parse(*qualificationID); err == nil {
				record.QualificationID = &qid
			}
		}
		records = append(records, record)
	}

	state := iter.PageState()
	if err := iter.Close(); err != nil {
		return nil, nil, fmt.Errorf("history store: iter close: %w", err)
	}

	return records, state, nil
}

func bucketDate(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
