// Package importer validates, normalizes and deduplicates contact batches
// before they enter a campaign's pool.
package importer

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/nyaruka/phonenumbers"
	"go.uber.org/zap"

	"github.com/acme/campaign-dialer/internal/domain"
	"github.com/acme/campaign-dialer/internal/queue"
	"github.com/acme/campaign-dialer/internal/repository"
	"github.com/acme/campaign-dialer/internal/rules"
	apperrors "github.com/acme/campaign-dialer/pkg/errors"
	"github.com/acme/campaign-dialer/pkg/logger"
)

const seedPageSize = 500

// EventPublisher emits best-effort logical events.
type EventPublisher interface {
	Publish(ctx context.Context, event queue.Event) error
}

// Record is one row of an import batch.
type Record struct {
	PhoneNumber  string
	FirstName    string
	LastName     string
	PostalCode   string
	CustomFields map[string]string
}

// Rejection explains why a row was not imported.
type Rejection struct {
	Row    int
	Reason string
}

// Result summarizes an import batch.
type Result struct {
	Accepted int
	Rejected []Rejection
}

// Service is the import/dedup engine.
type Service struct {
	contacts      repository.ContactRepository
	events        EventPublisher
	log           *logger.Logger
	defaultRegion string
	maxBatchSize  int
}

// NewService wires the importer. defaultRegion is the ISO country code used
// for phone normalization of national-format numbers; empty disables
// normalization.
func NewService(contacts repository.ContactRepository, events EventPublisher, log *logger.Logger, defaultRegion string, maxBatchSize int) *Service {
	return &Service{
		contacts:      contacts,
		events:        events,
		log:           log,
		defaultRegion: defaultRegion,
		maxBatchSize:  maxBatchSize,
	}
}

// Import validates each record, drops duplicates against both the campaign's
// existing contacts and earlier rows of the same batch, and stores every
// accepted record in one transaction. Rejections carry the row index and a
// reason; a batch with rejections is still a successful import.
func (s *Service) Import(ctx context.Context, campaignID uuid.UUID, records []Record, dedupFields []string) (*Result, error) {
	if len(records) == 0 {
		return &Result{}, nil
	}
	if s.maxBatchSize > 0 && len(records) > s.maxBatchSize {
		return nil, fmt.Errorf("%w: batch of %d exceeds the maximum of %d", apperrors.ErrValidation, len(records), s.maxBatchSize)
	}

	seen, err := s.seedDedupIndex(ctx, campaignID, dedupFields)
	if err != nil {
		return nil, err
	}

	result := &Result{}
	accepted := make([]domain.Contact, 0, len(records))

	for i, record := range records {
		contact, reason := s.buildContact(campaignID, record)
		if reason != "" {
			result.Rejected = append(result.Rejected, Rejection{Row: i, Reason: reason})
			continue
		}

		key := dedupKey(contact, dedupFields)
		if key != "" {
			if seen[key] {
				result.Rejected = append(result.Rejected, Rejection{Row: i, Reason: "duplicate contact"})
				continue
			}
			// Index immediately so later rows of this batch dedup against it.
			seen[key] = true
		}

		accepted = append(accepted, *contact)
	}

	if len(accepted) > 0 {
		if err := s.contacts.BulkInsert(ctx, campaignID, accepted); err != nil {
			return nil, fmt.Errorf("importer: store batch: %w", err)
		}
		if err := s.events.Publish(ctx, queue.Event{
			Type:       queue.EventPlanningUpdated,
			CampaignID: campaignID,
		}); err != nil {
			s.log.Warn("planningUpdated publish failed",
				zap.String("campaign_id", campaignID.String()), zap.Error(err))
		}
	}

	result.Accepted = len(accepted)
	return result, nil
}

// buildContact validates and normalizes a record. A non-empty reason means
// rejection; only an empty phone number is invalid.
func (s *Service) buildContact(campaignID uuid.UUID, record Record) (*domain.Contact, string) {
	phone := strings.TrimSpace(record.PhoneNumber)
	if phone == "" {
		return nil, "empty phone number"
	}

	if s.defaultRegion != "" {
		// Best-effort normalization, not a validity gate: unparseable
		// numbers keep the trimmed input.
		if parsed, err := phonenumbers.Parse(phone, s.defaultRegion); err == nil {
			phone = phonenumbers.Format(parsed, phonenumbers.E164)
		}
	}

	custom := make(map[string]string, len(record.CustomFields))
	for k, v := range record.CustomFields {
		custom[k] = v
	}

	return &domain.Contact{
		ID:           uuid.New(),
		CampaignID:   campaignID,
		PhoneNumber:  phone,
		FirstName:    strings.TrimSpace(record.FirstName),
		LastName:     strings.TrimSpace(record.LastName),
		PostalCode:   strings.TrimSpace(record.PostalCode),
		CustomFields: custom,
		Status:       domain.ContactStatusPending,
	}, ""
}

// seedDedupIndex loads the composite keys of the campaign's existing
// contacts, once per import.
func (s *Service) seedDedupIndex(ctx context.Context, campaignID uuid.UUID, dedupFields []string) (map[string]bool, error) {
	seen := make(map[string]bool)
	if len(dedupFields) == 0 {
		return seen, nil
	}

	var cursor *uuid.UUID
	for {
		page, err := s.contacts.ListByCampaign(ctx, campaignID, cursor, seedPageSize)
		if err != nil {
			return nil, fmt.Errorf("importer: seed dedup index: %w", err)
		}
		for i := range page {
			if key := dedupKey(&page[i], dedupFields); key != "" {
				seen[key] = true
			}
		}
		if len(page) < seedPageSize {
			return seen, nil
		}
		last := page[len(page)-1].ID
		cursor = &last
	}
}

// dedupKey builds the composite key over the configured fields, normalized
// the same way rule matching normalizes. A key with no content is empty and
// never matches anything.
func dedupKey(contact *domain.Contact, dedupFields []string) string {
	parts := make([]string, 0, len(dedupFields))
	empty := true
	for _, field := range dedupFields {
		value, _ := contact.FieldValue(field)
		normalized := rules.Normalize(value)
		if normalized != "" {
			empty = false
		}
		parts = append(parts, normalized)
	}
	if empty {
		return ""
	}
	return strings.Join(parts, "|")
}
