// Package app wires configuration, infrastructure and services into the
// binaries. Components are created lazily so each binary only connects to
// what it uses.
package app

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/acme/campaign-dialer/internal/api"
	"github.com/acme/campaign-dialer/internal/config"
	"github.com/acme/campaign-dialer/internal/infra/db"
	infraredis "github.com/acme/campaign-dialer/internal/infra/redis"
	"github.com/acme/campaign-dialer/internal/queue"
	"github.com/acme/campaign-dialer/internal/repository"
	pgrepo "github.com/acme/campaign-dialer/internal/repository/postgres"
	scyllarepo "github.com/acme/campaign-dialer/internal/repository/scylla"
	"github.com/acme/campaign-dialer/internal/service/agentstate"
	campaignsvc "github.com/acme/campaign-dialer/internal/service/campaign"
	"github.com/acme/campaign-dialer/internal/service/concurrency"
	"github.com/acme/campaign-dialer/internal/service/disposition"
	"github.com/acme/campaign-dialer/internal/service/distribution"
	"github.com/acme/campaign-dialer/internal/service/importer"
	"github.com/acme/campaign-dialer/internal/telephony"
	telephonymock "github.com/acme/campaign-dialer/internal/telephony/mock"
	"github.com/acme/campaign-dialer/pkg/logger"
)

// Container holds lazily constructed application components.
type Container struct {
	Cfg *config.Config
	Log *logger.Logger

	pgOnce sync.Once
	pg     *db.Postgres
	pgErr  error

	redisOnce sync.Once
	redis     *infraredis.Client
	redisErr  error

	scyllaOnce sync.Once
	scylla     *db.Scylla
	scyllaErr  error

	kafkaOnce sync.Once
	kafka     *queue.Kafka
	kafkaErr  error

	eventsOnce sync.Once
	events     *queue.EventPublisher

	dialOnce sync.Once
	dial     *queue.DialDispatcher

	statesOnce sync.Once
	states     *agentstate.Machine

	limiterOnce sync.Once
	limiter     *concurrency.Limiter

	providerOnce sync.Once
	provider     telephony.Provider
}

// New creates a container.
func New(cfg *config.Config, log *logger.Logger) *Container {
	return &Container{Cfg: cfg, Log: log}
}

// Postgres returns the shared connection pool.
func (c *Container) Postgres(ctx context.Context) (*db.Postgres, error) {
	c.pgOnce.Do(func() {
		c.pg, c.pgErr = db.NewPostgres(ctx, c.Cfg.Postgres)
	})
	return c.pg, c.pgErr
}

// Redis returns the shared redis client.
func (c *Container) Redis() (*infraredis.Client, error) {
	c.redisOnce.Do(func() {
		c.redis, c.redisErr = infraredis.NewClient(c.Cfg.Redis)
	})
	return c.redis, c.redisErr
}

// Scylla returns the shared Scylla session.
func (c *Container) Scylla() (*db.Scylla, error) {
	c.scyllaOnce.Do(func() {
		c.scylla, c.scyllaErr = db.NewScylla(c.Cfg.Scylla)
	})
	return c.scylla, c.scyllaErr
}

// Kafka returns the Kafka helper.
func (c *Container) Kafka() (*queue.Kafka, error) {
	c.kafkaOnce.Do(func() {
		c.kafka, c.kafkaErr = queue.NewKafka(c.Cfg.Kafka)
	})
	return c.kafka, c.kafkaErr
}

// EventPublisher returns the logical event publisher.
func (c *Container) EventPublisher() (*queue.EventPublisher, error) {
	k, err := c.Kafka()
	if err != nil {
		return nil, err
	}
	c.eventsOnce.Do(func() {
		c.events = queue.NewEventPublisher(k, c.Cfg.Kafka.EventTopic)
	})
	return c.events, nil
}

// DialDispatcher returns the dial message producer.
func (c *Container) DialDispatcher() (*queue.DialDispatcher, error) {
	k, err := c.Kafka()
	if err != nil {
		return nil, err
	}
	c.dialOnce.Do(func() {
		c.dial = queue.NewDialDispatcher(k, c.Cfg.Kafka.DialTopic)
	})
	return c.dial, nil
}

// ContactRepository builds the Postgres contact repository.
func (c *Container) ContactRepository(ctx context.Context) (*pgrepo.ContactRepository, error) {
	pg, err := c.Postgres(ctx)
	if err != nil {
		return nil, err
	}
	return pgrepo.NewContactRepository(pg.DB(),
		c.Cfg.Distribution.CandidateBatchSize,
		c.Cfg.Distribution.MaxCandidateRounds), nil
}

// CampaignRepository builds the Postgres campaign repository.
func (c *Container) CampaignRepository(ctx context.Context) (*pgrepo.CampaignRepository, error) {
	pg, err := c.Postgres(ctx)
	if err != nil {
		return nil, err
	}
	return pgrepo.NewCampaignRepository(pg.DB()), nil
}

// QualificationRepository builds the Postgres qualification repository.
func (c *Container) QualificationRepository(ctx context.Context) (*pgrepo.QualificationRepository, error) {
	pg, err := c.Postgres(ctx)
	if err != nil {
		return nil, err
	}
	return pgrepo.NewQualificationRepository(pg.DB()), nil
}

// DispositionRepository builds the Postgres disposition repository.
func (c *Container) DispositionRepository(ctx context.Context) (*pgrepo.DispositionRepository, error) {
	pg, err := c.Postgres(ctx)
	if err != nil {
		return nil, err
	}
	return pgrepo.NewDispositionRepository(pg.DB()), nil
}

// HistoryStore builds the Scylla history store.
func (c *Container) HistoryStore() (repository.HistoryStore, error) {
	s, err := c.Scylla()
	if err != nil {
		return nil, err
	}
	return scyllarepo.NewHistoryStore(s.Session()), nil
}

// AgentStates builds the Redis-backed agent state machine.
func (c *Container) AgentStates() (*agentstate.Machine, error) {
	r, err := c.Redis()
	if err != nil {
		return nil, err
	}
	c.statesOnce.Do(func() {
		c.states = agentstate.NewMachine(r.Inner(), c.Cfg.AgentState.KeyPrefix)
	})
	return c.states, nil
}

// DialLimiter builds the per-campaign concurrency limiter.
func (c *Container) DialLimiter() (*concurrency.Limiter, error) {
	r, err := c.Redis()
	if err != nil {
		return nil, err
	}
	c.limiterOnce.Do(func() {
		c.limiter = concurrency.NewLimiter(r.Inner(), "", c.Cfg.Dial.SlotTTL)
	})
	return c.limiter, nil
}

// TelephonyProvider returns the configured voice provider. Only the mock
// provider ships in this repository.
func (c *Container) TelephonyProvider() telephony.Provider {
	c.providerOnce.Do(func() {
		if c.Cfg.Dial.ProviderName != "" && c.Cfg.Dial.ProviderName != "mock" {
			c.Log.Warn("unknown telephony provider, using mock",
				zap.String("provider", c.Cfg.Dial.ProviderName))
		}
		c.provider = telephonymock.NewProvider(c.Log.Named("telephony"))
	})
	return c.provider
}

// DistributionService builds the distribution engine.
func (c *Container) DistributionService(ctx context.Context) (*distribution.Service, error) {
	campaigns, err := c.CampaignRepository(ctx)
	if err != nil {
		return nil, err
	}
	contacts, err := c.ContactRepository(ctx)
	if err != nil {
		return nil, err
	}
	dispositions, err := c.DispositionRepository(ctx)
	if err != nil {
		return nil, err
	}
	history, err := c.HistoryStore()
	if err != nil {
		return nil, err
	}
	states, err := c.AgentStates()
	if err != nil {
		return nil, err
	}
	dispatcher, err := c.DialDispatcher()
	if err != nil {
		return nil, err
	}
	events, err := c.EventPublisher()
	if err != nil {
		return nil, err
	}
	return distribution.NewService(campaigns, contacts, dispositions, history,
		states, dispatcher, events, c.Log.Named("distribution")), nil
}

// ImporterService builds the import engine.
func (c *Container) ImporterService(ctx context.Context) (*importer.Service, error) {
	contacts, err := c.ContactRepository(ctx)
	if err != nil {
		return nil, err
	}
	events, err := c.EventPublisher()
	if err != nil {
		return nil, err
	}
	return importer.NewService(contacts, events, c.Log.Named("importer"),
		c.Cfg.Import.DefaultRegion, c.Cfg.Import.MaxBatchSize), nil
}

// DispositionService builds the disposition service.
func (c *Container) DispositionService(ctx context.Context) (*disposition.Service, error) {
	contacts, err := c.ContactRepository(ctx)
	if err != nil {
		return nil, err
	}
	campaigns, err := c.CampaignRepository(ctx)
	if err != nil {
		return nil, err
	}
	qualifications, err := c.QualificationRepository(ctx)
	if err != nil {
		return nil, err
	}
	history, err := c.HistoryStore()
	if err != nil {
		return nil, err
	}
	states, err := c.AgentStates()
	if err != nil {
		return nil, err
	}
	events, err := c.EventPublisher()
	if err != nil {
		return nil, err
	}
	return disposition.NewService(contacts, campaigns, qualifications, history,
		states, events, c.Log.Named("disposition")), nil
}

// CampaignService builds the campaign admin service.
func (c *Container) CampaignService(ctx context.Context) (*campaignsvc.Service, error) {
	campaigns, err := c.CampaignRepository(ctx)
	if err != nil {
		return nil, err
	}
	events, err := c.EventPublisher()
	if err != nil {
		return nil, err
	}
	return campaignsvc.NewService(campaigns, events, c.Log.Named("campaign")), nil
}

// HealthChecks assembles liveness probes for every connected dependency.
func (c *Container) HealthChecks(ctx context.Context) (map[string]api.Pinger, error) {
	pg, err := c.Postgres(ctx)
	if err != nil {
		return nil, err
	}
	r, err := c.Redis()
	if err != nil {
		return nil, err
	}
	s, err := c.Scylla()
	if err != nil {
		return nil, err
	}
	return map[string]api.Pinger{
		"postgres": func(ctx context.Context) error { return pg.DB().PingContext(ctx) },
		"redis":    func(ctx context.Context) error { return r.Inner().Ping(ctx).Err() },
		"scylla": func(ctx context.Context) error {
			return s.Session().Query("SELECT release_version FROM system.local").WithContext(ctx).Exec()
		},
	}, nil
}

// Close tears down every constructed component.
func (c *Container) Close(ctx context.Context) {
	if c.events != nil {
		if err := c.events.Close(); err != nil {
			c.Log.Warn("event publisher close failed", zap.Error(err))
		}
	}
	if c.dial != nil {
		if err := c.dial.Close(); err != nil {
			c.Log.Warn("dial dispatcher close failed", zap.Error(err))
		}
	}
	if c.scylla != nil {
		_ = c.scylla.Close()
	}
	if c.redis != nil {
		_ = c.redis.Close()
	}
	if c.pg != nil {
		if err := c.pg.Close(ctx); err != nil {
			c.Log.Warn("postgres close failed", zap.Error(err))
		}
	}
}
