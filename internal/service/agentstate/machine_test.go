package agentstate

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"

	"github.com/acme/campaign-dialer/internal/domain"
	apperrors "github.com/acme/campaign-dialer/pkg/errors"
)

func newTestMachine(t *testing.T) (*Machine, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewMachine(client, "test:agent"), mr
}

func TestUnknownAgentIsDisconnected(t *testing.T) {
	m, _ := newTestMachine(t)
	agentID := uuid.New()

	state, err := m.Get(context.Background(), agentID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if state.Status != domain.AgentDisconnected {
		t.Fatalf("expected disconnected, got %s", state.Status)
	}
	if state.CurrentContactID != nil {
		t.Fatalf("expected no held contact")
	}
}

func TestLoginAndPause(t *testing.T) {
	m, _ := newTestMachine(t)
	ctx := context.Background()
	agentID := uuid.New()

	state, err := m.SetStatus(ctx, agentID, domain.AgentAvailable)
	if err != nil {
		t.Fatalf("SetStatus available: %v", err)
	}
	if state.Status != domain.AgentAvailable {
		t.Fatalf("expected available, got %s", state.Status)
	}

	state, err = m.SetStatus(ctx, agentID, domain.AgentPaused)
	if err != nil {
		t.Fatalf("SetStatus paused: %v", err)
	}
	if state.Status != domain.AgentPaused {
		t.Fatalf("expected paused, got %s", state.Status)
	}

	// Idempotent same-status transition.
	if _, err := m.SetStatus(ctx, agentID, domain.AgentPaused); err != nil {
		t.Fatalf("repeat SetStatus paused: %v", err)
	}
}

func TestCallStatesNotDirectlySettable(t *testing.T) {
	m, _ := newTestMachine(t)
	ctx := context.Background()
	agentID := uuid.New()

	for _, status := range []domain.AgentStatus{domain.AgentRinging, domain.AgentOnCall, domain.AgentPostCall} {
		if _, err := m.SetStatus(ctx, agentID, status); !apperrors.Is(err, apperrors.ErrInvalidTransition) {
			t.Errorf("SetStatus %s: expected invalid transition, got %v", status, err)
		}
	}
}

func TestBeginCallRequiresAvailable(t *testing.T) {
	m, _ := newTestMachine(t)
	ctx := context.Background()
	agentID := uuid.New()

	_, err := m.BeginCall(ctx, agentID, uuid.New(), uuid.New(), domain.DialingModeProgressive)
	if !apperrors.Is(err, apperrors.ErrInvalidTransition) {
		t.Fatalf("expected invalid transition from disconnected, got %v", err)
	}

	if _, err := m.SetStatus(ctx, agentID, domain.AgentAvailable); err != nil {
		t.Fatalf("SetStatus: %v", err)
	}

	contactID, campaignID := uuid.New(), uuid.New()
	state, err := m.BeginCall(ctx, agentID, contactID, campaignID, domain.DialingModeProgressive)
	if err != nil {
		t.Fatalf("BeginCall: %v", err)
	}
	if state.Status != domain.AgentRinging {
		t.Fatalf("expected ringing, got %s", state.Status)
	}
	if state.CurrentContactID == nil || *state.CurrentContactID != contactID {
		t.Fatalf("expected held contact %s", contactID)
	}
	if state.CurrentCampaignID == nil || *state.CurrentCampaignID != campaignID {
		t.Fatalf("expected current campaign %s", campaignID)
	}
}

func TestBeginCallManualStaysAvailable(t *testing.T) {
	m, _ := newTestMachine(t)
	ctx := context.Background()
	agentID := uuid.New()

	if _, err := m.SetStatus(ctx, agentID, domain.AgentAvailable); err != nil {
		t.Fatalf("SetStatus: %v", err)
	}
	state, err := m.BeginCall(ctx, agentID, uuid.New(), uuid.New(), domain.DialingModeManual)
	if err != nil {
		t.Fatalf("BeginCall: %v", err)
	}
	if state.Status != domain.AgentAvailable {
		t.Fatalf("manual mode should keep the agent available, got %s", state.Status)
	}
	if state.CurrentContactID == nil {
		t.Fatalf("expected held contact")
	}
}

func TestHeldContactBlocksStatusChange(t *testing.T) {
	m, _ := newTestMachine(t)
	ctx := context.Background()
	agentID := uuid.New()

	mustBeOnCall(t, m, agentID)

	if _, err := m.SetStatus(ctx, agentID, domain.AgentPaused); !apperrors.Is(err, apperrors.ErrContactHeld) {
		t.Fatalf("expected contact-held error, got %v", err)
	}
	// Forced transitions cannot bypass a held contact either.
	if _, err := m.ForceStatus(ctx, agentID, domain.AgentDisconnected); !apperrors.Is(err, apperrors.ErrContactHeld) {
		t.Fatalf("expected contact-held error on force, got %v", err)
	}
}

func TestCompleteCallEntersPostCall(t *testing.T) {
	m, _ := newTestMachine(t)
	ctx := context.Background()
	agentID := uuid.New()

	mustBeOnCall(t, m, agentID)

	state, err := m.CompleteCall(ctx, agentID, 30*time.Second)
	if err != nil {
		t.Fatalf("CompleteCall: %v", err)
	}
	if state.Status != domain.AgentPostCall {
		t.Fatalf("expected post-call, got %s", state.Status)
	}
	if state.CurrentContactID != nil {
		t.Fatalf("contact should be detached after completion")
	}
	if state.WrapUpDeadline == nil || !state.WrapUpDeadline.After(time.Now().UTC()) {
		t.Fatalf("expected a future wrap-up deadline, got %v", state.WrapUpDeadline)
	}

	state, err = m.FinishWrapUp(ctx, agentID)
	if err != nil {
		t.Fatalf("FinishWrapUp: %v", err)
	}
	if state.Status != domain.AgentAvailable || state.WrapUpDeadline != nil {
		t.Fatalf("expected available without deadline, got %s %v", state.Status, state.WrapUpDeadline)
	}
}

func TestCompleteCallZeroWrapUpSkipsPostCall(t *testing.T) {
	m, _ := newTestMachine(t)
	ctx := context.Background()
	agentID := uuid.New()

	mustBeOnCall(t, m, agentID)

	state, err := m.CompleteCall(ctx, agentID, 0)
	if err != nil {
		t.Fatalf("CompleteCall: %v", err)
	}
	if state.Status != domain.AgentAvailable {
		t.Fatalf("expected available, got %s", state.Status)
	}
}

func TestExpireWrapUps(t *testing.T) {
	m, _ := newTestMachine(t)
	ctx := context.Background()
	agentID := uuid.New()

	mustBeOnCall(t, m, agentID)
	if _, err := m.CompleteCall(ctx, agentID, time.Millisecond); err != nil {
		t.Fatalf("CompleteCall: %v", err)
	}

	released, err := m.ExpireWrapUps(ctx, time.Now().UTC().Add(time.Minute))
	if err != nil {
		t.Fatalf("ExpireWrapUps: %v", err)
	}
	if released != 1 {
		t.Fatalf("expected 1 released agent, got %d", released)
	}

	state, err := m.Get(ctx, agentID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if state.Status != domain.AgentAvailable {
		t.Fatalf("expected available after sweep, got %s", state.Status)
	}

	// Second sweep finds nothing.
	released, err = m.ExpireWrapUps(ctx, time.Now().UTC().Add(time.Minute))
	if err != nil {
		t.Fatalf("ExpireWrapUps: %v", err)
	}
	if released != 0 {
		t.Fatalf("expected empty sweep, got %d", released)
	}
}

func TestExpireWrapUpsRespectsDeadline(t *testing.T) {
	m, _ := newTestMachine(t)
	ctx := context.Background()
	agentID := uuid.New()

	mustBeOnCall(t, m, agentID)
	if _, err := m.CompleteCall(ctx, agentID, time.Hour); err != nil {
		t.Fatalf("CompleteCall: %v", err)
	}

	released, err := m.ExpireWrapUps(ctx, time.Now().UTC())
	if err != nil {
		t.Fatalf("ExpireWrapUps: %v", err)
	}
	if released != 0 {
		t.Fatalf("deadline not reached, expected 0 released, got %d", released)
	}
}

func TestReleaseContact(t *testing.T) {
	m, _ := newTestMachine(t)
	ctx := context.Background()
	agentID := uuid.New()

	mustBeOnCall(t, m, agentID)

	state, err := m.ReleaseContact(ctx, agentID)
	if err != nil {
		t.Fatalf("ReleaseContact: %v", err)
	}
	if state.CurrentContactID != nil || state.Status != domain.AgentAvailable {
		t.Fatalf("expected available without contact, got %s", state.Status)
	}

	// Now logout works.
	if _, err := m.SetStatus(ctx, agentID, domain.AgentDisconnected); err != nil {
		t.Fatalf("SetStatus disconnected: %v", err)
	}
}

func TestSelectDialingCampaign(t *testing.T) {
	m, _ := newTestMachine(t)
	ctx := context.Background()
	agentID := uuid.New()

	campaignID := uuid.New()
	if _, err := m.SelectDialingCampaign(ctx, agentID, &campaignID); !apperrors.Is(err, apperrors.ErrInvalidTransition) {
		t.Fatalf("expected invalid transition for disconnected agent, got %v", err)
	}

	if _, err := m.SetStatus(ctx, agentID, domain.AgentAvailable); err != nil {
		t.Fatalf("SetStatus: %v", err)
	}
	state, err := m.SelectDialingCampaign(ctx, agentID, &campaignID)
	if err != nil {
		t.Fatalf("SelectDialingCampaign: %v", err)
	}
	if state.ActiveDialingCampaignID == nil || *state.ActiveDialingCampaignID != campaignID {
		t.Fatalf("expected selected campaign %s", campaignID)
	}

	state, err = m.SelectDialingCampaign(ctx, agentID, nil)
	if err != nil {
		t.Fatalf("SelectDialingCampaign opt-out: %v", err)
	}
	if state.ActiveDialingCampaignID != nil {
		t.Fatalf("expected campaign selection cleared")
	}

	// Logout clears the selection too.
	if _, err := m.SelectDialingCampaign(ctx, agentID, &campaignID); err != nil {
		t.Fatalf("SelectDialingCampaign: %v", err)
	}
	state, err = m.SetStatus(ctx, agentID, domain.AgentDisconnected)
	if err != nil {
		t.Fatalf("SetStatus disconnected: %v", err)
	}
	if state.ActiveDialingCampaignID != nil {
		t.Fatalf("logout should clear the campaign selection")
	}
}

func mustBeOnCall(t *testing.T, m *Machine, agentID uuid.UUID) {
	t.Helper()
	ctx := context.Background()
	if _, err := m.SetStatus(ctx, agentID, domain.AgentAvailable); err != nil {
		t.Fatalf("SetStatus: %v", err)
	}
	if _, err := m.BeginCall(ctx, agentID, uuid.New(), uuid.New(), domain.DialingModeProgressive); err != nil {
		t.Fatalf("BeginCall: %v", err)
	}
	if _, err := m.MarkOnCall(ctx, agentID); err != nil {
		t.Fatalf("MarkOnCall: %v", err)
	}
}
