// Package dial runs the consumer that turns claimed contacts into actual
// outbound calls for progressive and predictive campaigns.
package dial

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/acme/campaign-dialer/internal/domain"
	"github.com/acme/campaign-dialer/internal/queue"
	"github.com/acme/campaign-dialer/internal/repository"
	"github.com/acme/campaign-dialer/internal/service/concurrency"
	"github.com/acme/campaign-dialer/internal/telephony"
	apperrors "github.com/acme/campaign-dialer/pkg/errors"
	"github.com/acme/campaign-dialer/pkg/logger"
)

var tracer = otel.Tracer("campaign-dialer/dialworker")

const slotRetryDelay = 250 * time.Millisecond

// AgentStates is the slice of the state machine the worker needs.
type AgentStates interface {
	MarkOnCall(ctx context.Context, agentID uuid.UUID) (*domain.AgentCallState, error)
	ReleaseContact(ctx context.Context, agentID uuid.UUID) (*domain.AgentCallState, error)
}

// Worker consumes dial messages and drives the telephony provider.
type Worker struct {
	reader      *kafka.Reader
	limiter     *concurrency.Limiter
	provider    telephony.Provider
	states      AgentStates
	contacts    repository.ContactRepository
	log         *logger.Logger
	callTimeout time.Duration
}

// NewWorker wires the dial worker.
func NewWorker(
	reader *kafka.Reader,
	limiter *concurrency.Limiter,
	provider telephony.Provider,
	states AgentStates,
	contacts repository.ContactRepository,
	log *logger.Logger,
	callTimeout time.Duration,
) *Worker {
	if callTimeout <= 0 {
		callTimeout = 15 * time.Second
	}
	return &Worker{
		reader:      reader,
		limiter:     limiter,
		provider:    provider,
		states:      states,
		contacts:    contacts,
		log:         log,
		callTimeout: callTimeout,
	}
}

// Run consumes until the context is canceled.
func (w *Worker) Run(ctx context.Context) error {
	w.log.Info("dial worker started")
	for {
		msg, err := w.reader.ReadMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				w.log.Info("dial worker stopping")
				return nil
			}
			return err
		}

		var dial queue.DialMessage
		if err := json.Unmarshal(msg.Value, &dial); err != nil {
			w.log.Error("dropping undecodable dial message",
				zap.Int64("offset", msg.Offset), zap.Error(err))
			continue
		}

		if err := w.handle(ctx, dial); err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			w.log.Error("dial failed",
				zap.String("contact_id", dial.ContactID.String()),
				zap.String("agent_id", dial.AgentID.String()),
				zap.Error(err))
		}
	}
}

func (w *Worker) handle(ctx context.Context, dial queue.DialMessage) error {
	ctx, span := tracer.Start(ctx, "dialworker.handle")
	defer span.End()
	span.SetAttributes(
		attribute.String("campaign.id", dial.CampaignID.String()),
		attribute.String("agent.id", dial.AgentID.String()),
	)

	if err := w.acquireSlot(ctx, dial); err != nil {
		return err
	}
	defer func() {
		if err := w.limiter.Release(context.WithoutCancel(ctx), dial.CampaignID, dial.ConcurrencyLimit); err != nil {
			w.log.Warn("slot release failed",
				zap.String("campaign_id", dial.CampaignID.String()), zap.Error(err))
		}
	}()

	callCtx, cancel := context.WithTimeout(ctx, w.callTimeout)
	defer cancel()
	if err := w.provider.OriginateCall(callCtx, dial.AgentID, dial.Destination, dial.CampaignID); err != nil {
		w.requeue(ctx, dial)
		return err
	}

	if _, err := w.states.MarkOnCall(ctx, dial.AgentID); err != nil {
		// The agent dropped the contact while we were dialing; nothing to do
		// beyond logging, the claim was already undone elsewhere.
		w.log.Warn("agent not ready after originate",
			zap.String("agent_id", dial.AgentID.String()), zap.Error(err))
	}
	return nil
}

// acquireSlot waits for a per-campaign dial slot, polling while the campaign
// is saturated.
func (w *Worker) acquireSlot(ctx context.Context, dial queue.DialMessage) error {
	for {
		err := w.limiter.Acquire(ctx, dial.CampaignID, dial.ConcurrencyLimit)
		if err == nil {
			return nil
		}
		if !apperrors.Is(err, apperrors.ErrUnavailable) {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(slotRetryDelay):
		}
	}
}

// requeue undoes the claim after a failed originate so another attempt can
// serve the contact.
func (w *Worker) requeue(ctx context.Context, dial queue.DialMessage) {
	ctx = context.WithoutCancel(ctx)
	if err := w.contacts.Release(ctx, dial.ContactID); err != nil {
		w.log.Error("contact requeue failed",
			zap.String("contact_id", dial.ContactID.String()), zap.Error(err))
	}
	if _, err := w.states.ReleaseContact(ctx, dial.AgentID); err != nil {
		w.log.Error("agent release failed",
			zap.String("agent_id", dial.AgentID.String()), zap.Error(err))
	}
}
