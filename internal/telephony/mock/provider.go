// Package mock provides a telephony provider for development and tests.
package mock

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/acme/campaign-dialer/pkg/logger"
)

// Call records one originated call attempt.
type Call struct {
	AgentID     uuid.UUID
	Destination string
	CampaignID  uuid.UUID
}

// Provider logs call attempts instead of dialing.
type Provider struct {
	log *logger.Logger

	mu    sync.Mutex
	calls []Call
}

// NewProvider constructs the mock provider.
func NewProvider(log *logger.Logger) *Provider {
	return &Provider{log: log}
}

// OriginateCall records and logs the attempt.
func (p *Provider) OriginateCall(_ context.Context, agentID uuid.UUID, destination string, campaignID uuid.UUID) error {
	p.mu.Lock()
	p.calls = append(p.calls, Call{AgentID: agentID, Destination: destination, CampaignID: campaignID})
	p.mu.Unlock()

	p.log.Info("mock call originated",
		zap.String("agent_id", agentID.String()),
		zap.String("destination", destination),
		zap.String("campaign_id", campaignID.String()))
	return nil
}

// Calls returns a copy of the recorded attempts.
func (p *Provider) Calls() []Call {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Call, len(p.calls))
	copy(out, p.calls)
	return out
}
