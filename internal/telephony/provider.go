// Package telephony abstracts the outbound voice provider.
package telephony

import (
	"context"

	"github.com/google/uuid"
)

// Provider originates outbound calls. The wire protocol behind it is out of
// scope here; implementations bridge to the actual switch.
type Provider interface {
	// OriginateCall rings the agent's line and dials the destination. It
	// returns once the call attempt is accepted by the switch, not when the
	// callee answers.
	OriginateCall(ctx context.Context, agentID uuid.UUID, destination string, campaignID uuid.UUID) error
}
