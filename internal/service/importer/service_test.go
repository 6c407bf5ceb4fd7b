package importer

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/acme/campaign-dialer/internal/domain"
	"github.com/acme/campaign-dialer/internal/queue"
	"github.com/acme/campaign-dialer/internal/repository"
	apperrors "github.com/acme/campaign-dialer/pkg/errors"
	"github.com/acme/campaign-dialer/pkg/logger"
)

type fakeContactRepo struct {
	existing []domain.Contact
	inserted [][]domain.Contact
}

func (f *fakeContactRepo) ClaimNext(context.Context, uuid.UUID, repository.ContactPredicate) (*domain.Contact, error) {
	return nil, nil
}

func (f *fakeContactRepo) BulkInsert(_ context.Context, _ uuid.UUID, contacts []domain.Contact) error {
	f.inserted = append(f.inserted, contacts)
	return nil
}

func (f *fakeContactRepo) ListByCampaign(_ context.Context, _ uuid.UUID, afterID *uuid.UUID, limit int) ([]domain.Contact, error) {
	start := 0
	if afterID != nil {
		for i, c := range f.existing {
			if c.ID == *afterID {
				start = i + 1
				break
			}
		}
	}
	end := start + limit
	if end > len(f.existing) {
		end = len(f.existing)
	}
	return f.existing[start:end], nil
}

func (f *fakeContactRepo) Get(context.Context, uuid.UUID) (*domain.Contact, error) {
	return nil, repository.ErrNotFound
}
func (f *fakeContactRepo) Qualify(context.Context, uuid.UUID, uuid.UUID, uuid.UUID) (bool, error) {
	return false, nil
}
func (f *fakeContactRepo) QualifyWithCallback(context.Context, uuid.UUID, uuid.UUID, uuid.UUID, domain.PersonalCallback) (bool, error) {
	return false, nil
}
func (f *fakeContactRepo) Release(context.Context, uuid.UUID) error { return nil }
func (f *fakeContactRepo) Recycle(context.Context, uuid.UUID, uuid.UUID) (int64, error) {
	return 0, nil
}

type fakeEvents struct {
	events []queue.Event
}

func (f *fakeEvents) Publish(_ context.Context, e queue.Event) error {
	f.events = append(f.events, e)
	return nil
}

func newService(repo *fakeContactRepo, events *fakeEvents) *Service {
	return NewService(repo, events, &logger.Logger{Logger: zap.NewNop()}, "FR", 1000)
}

func TestImportRejectsEmptyPhone(t *testing.T) {
	repo := &fakeContactRepo{}
	events := &fakeEvents{}
	svc := newService(repo, events)

	result, err := svc.Import(context.Background(), uuid.New(), []Record{
		{PhoneNumber: "   "},
		{PhoneNumber: "+33612345678", FirstName: "Ada"},
	}, nil)
	if err != nil {
		t.Fatalf("Import: %v", err)
	}
	if result.Accepted != 1 {
		t.Fatalf("expected 1 accepted, got %d", result.Accepted)
	}
	if len(result.Rejected) != 1 || result.Rejected[0].Row != 0 || result.Rejected[0].Reason != "empty phone number" {
		t.Fatalf("unexpected rejections %+v", result.Rejected)
	}
}

func TestImportNormalizesPhoneNumbers(t *testing.T) {
	repo := &fakeContactRepo{}
	svc := newService(repo, &fakeEvents{})

	result, err := svc.Import(context.Background(), uuid.New(), []Record{
		{PhoneNumber: "06 12 34 56 78"}, // national FR format
		{PhoneNumber: "not-a-number"},   // kept as-is, still valid
	}, nil)
	if err != nil {
		t.Fatalf("Import: %v", err)
	}
	if result.Accepted != 2 {
		t.Fatalf("expected 2 accepted, got %d (%+v)", result.Accepted, result.Rejected)
	}
	batch := repo.inserted[0]
	if batch[0].PhoneNumber != "+33612345678" {
		t.Errorf("expected E.164 normalization, got %q", batch[0].PhoneNumber)
	}
	if batch[1].PhoneNumber != "not-a-number" {
		t.Errorf("unparseable number should keep trimmed input, got %q", batch[1].PhoneNumber)
	}
}

func TestImportDedupsAgainstExistingContacts(t *testing.T) {
	campaignID := uuid.New()
	repo := &fakeContactRepo{existing: []domain.Contact{{
		ID:          uuid.New(),
		CampaignID:  campaignID,
		PhoneNumber: "+33612345678",
		LastName:    "Curie",
	}}}
	svc := newService(repo, &fakeEvents{})

	result, err := svc.Import(context.Background(), campaignID, []Record{
		{PhoneNumber: "+33612345678", LastName: "  CURIE "}, // same key after normalization
		{PhoneNumber: "+33612345678", LastName: "Meitner"},
	}, []string{domain.FieldPhoneNumber, domain.FieldLastName})
	if err != nil {
		t.Fatalf("Import: %v", err)
	}
	if result.Accepted != 1 {
		t.Fatalf("expected 1 accepted, got %d", result.Accepted)
	}
	if len(result.Rejected) != 1 || result.Rejected[0].Reason != "duplicate contact" {
		t.Fatalf("unexpected rejections %+v", result.Rejected)
	}
}

func TestImportDedupsWithinBatch(t *testing.T) {
	repo := &fakeContactRepo{}
	svc := newService(repo, &fakeEvents{})

	result, err := svc.Import(context.Background(), uuid.New(), []Record{
		{PhoneNumber: "+33612345678"},
		{PhoneNumber: " +33612345678 "},
	}, []string{domain.FieldPhoneNumber})
	if err != nil {
		t.Fatalf("Import: %v", err)
	}
	if result.Accepted != 1 || len(result.Rejected) != 1 {
		t.Fatalf("expected intra-batch dedup, got %+v", result)
	}
}

func TestImportEmptyCompositeKeyNeverMatches(t *testing.T) {
	repo := &fakeContactRepo{}
	svc := newService(repo, &fakeEvents{})

	// Dedup on last name only; both rows have none. An all-empty key must
	// not collide.
	result, err := svc.Import(context.Background(), uuid.New(), []Record{
		{PhoneNumber: "+33611111111"},
		{PhoneNumber: "+33622222222"},
	}, []string{domain.FieldLastName})
	if err != nil {
		t.Fatalf("Import: %v", err)
	}
	if result.Accepted != 2 {
		t.Fatalf("expected both rows accepted, got %+v", result)
	}
}

func TestImportPublishesPlanningUpdated(t *testing.T) {
	repo := &fakeContactRepo{}
	events := &fakeEvents{}
	svc := newService(repo, events)
	campaignID := uuid.New()

	if _, err := svc.Import(context.Background(), campaignID, []Record{
		{PhoneNumber: "+33612345678"},
	}, nil); err != nil {
		t.Fatalf("Import: %v", err)
	}
	if len(events.events) != 1 || events.events[0].Type != queue.EventPlanningUpdated {
		t.Fatalf("expected planningUpdated, got %+v", events.events)
	}
	if events.events[0].CampaignID != campaignID {
		t.Fatalf("event should carry the campaign id")
	}
}

func TestImportAllRejectedSkipsInsertAndEvent(t *testing.T) {
	repo := &fakeContactRepo{}
	events := &fakeEvents{}
	svc := newService(repo, events)

	result, err := svc.Import(context.Background(), uuid.New(), []Record{
		{PhoneNumber: ""},
	}, nil)
	if err != nil {
		t.Fatalf("Import: %v", err)
	}
	if result.Accepted != 0 {
		t.Fatalf("expected 0 accepted, got %d", result.Accepted)
	}
	if len(repo.inserted) != 0 || len(events.events) != 0 {
		t.Fatalf("nothing should be stored or published for an all-rejected batch")
	}
}

func TestImportRejectsOversizedBatch(t *testing.T) {
	repo := &fakeContactRepo{}
	svc := NewService(repo, &fakeEvents{}, &logger.Logger{Logger: zap.NewNop()}, "FR", 1)

	_, err := svc.Import(context.Background(), uuid.New(), []Record{
		{PhoneNumber: "+33611111111"},
		{PhoneNumber: "+33622222222"},
	}, nil)
	if !apperrors.Is(err, apperrors.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}
