package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/hotpotato/go/internal/cluster"
	"github.com/mcdev12/hotpotato/go/internal/config"
	"github.com/mcdev12/hotpotato/go/internal/eventbus"
	"github.com/mcdev12/hotpotato/go/internal/gateway"
	"github.com/mcdev12/hotpotato/go/internal/health"
	"github.com/mcdev12/hotpotato/go/internal/history"
	"github.com/mcdev12/hotpotato/go/internal/payment"
	"github.com/mcdev12/hotpotato/go/internal/session"
	"github.com/mcdev12/hotpotato/go/internal/store"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"
)

type Services struct {
	App     *session.App
	Driver  *session.Driver
	Gateway *gateway.Service
	Health  *health.Checker

	consul *cluster.ConsulElector
	nc     *nats.Conn
	db     *sql.DB
}

// setupServices wires the session for one instance.
// NATS URL set: replicated store, JetStream events, per-instance consumer.
// Otherwise: in-memory store, events broadcast straight to local connections.
func setupServices(ctx context.Context, cfg *config.Config) (_ *Services, err error) {
	s := &Services{}
	defer func() {
		if err != nil {
			s.Close()
		}
	}()

	instanceID := uuid.NewString()[:8]
	clock := clockwork.NewRealClock()
	key := cfg.Scope().Key()

	cm := gateway.NewConnectionManager(gateway.DefaultConnectionConfig())

	var (
		st        store.Store
		publisher session.EventPublisher = cm
		consumer  *gateway.EventConsumer
		metrics   *eventbus.CounterMetrics
	)
	if cfg.NATS.URL != "" {
		natsCfg := cfg.StoreNATS()
		nc, js, err := store.Connect(natsCfg)
		if err != nil {
			return nil, err
		}
		s.nc = nc

		if st, err = store.NewNATSStore(ctx, js, cfg.Scope(), natsCfg); err != nil {
			return nil, err
		}

		jsPublisher, err := eventbus.NewJetStreamPublisher(ctx, js, eventbus.DefaultJetStreamConfig())
		if err != nil {
			return nil, fmt.Errorf("failed to create event publisher: %w", err)
		}
		metrics = eventbus.NewCounterMetrics()
		publisher = eventbus.NewRetryPublisher(
			eventbus.NewMetricPublisher(jsPublisher, metrics),
			metrics,
			eventbus.DefaultRetryConfig(),
		)

		consumer, err = gateway.NewEventConsumer(ctx, cm, js, gateway.DefaultJetStreamConsumerConfig(), instanceID)
		if err != nil {
			return nil, fmt.Errorf("failed to create event consumer: %w", err)
		}
	} else {
		log.Warn().Msg("no NATS url configured, session state is local to this instance")
		st = store.NewMemoryStore()
	}

	payments := payment.NewSimulatedGateway(cfg.SimulatedPayments(), clock, nil)

	appOpts := []session.Option{
		session.WithClock(clock),
		session.WithPicker(session.NewRandomPicker(cfg.Rules.Seed)),
		session.WithPublisher(publisher),
	}
	var rounds *history.Repository
	if cfg.Database.HistoryEnabled {
		db, err := setupDatabase(ctx, cfg.Database.Config)
		if err != nil {
			return nil, err
		}
		s.db = db
		rounds = history.NewRepository(db)
		appOpts = append(appOpts, session.WithRecorder(rounds))
	}

	s.App = session.NewApp(key, st, payments, cfg.SessionRules(), appOpts...)

	var elector session.Elector = cluster.Standalone{}
	if cfg.Consul.Addresses != "" {
		consulElector, err := cluster.NewConsulElector(cfg.Session.Name, cfg.ClusterConsul())
		if err != nil {
			return nil, err
		}
		s.consul = consulElector
		elector = consulElector
	}

	gwCfg := gateway.DefaultConfig()
	gwCfg.Password = cfg.Session.Password
	var historyReader gateway.HistoryReader
	if rounds != nil {
		historyReader = rounds
	}
	s.Gateway = gateway.NewService(gwCfg, s.App, cm, consumer, historyReader)
	s.Driver = session.NewDriver(s.App, elector, s.Gateway)

	healthOpts := []health.Option{
		health.WithDriver(s.Driver),
		health.WithElector(elector),
	}
	if s.nc != nil {
		healthOpts = append(healthOpts, health.WithNATS(s.nc))
	}
	if rounds != nil {
		healthOpts = append(healthOpts, health.WithDatabase(rounds))
	}
	if metrics != nil {
		healthOpts = append(healthOpts, health.WithCounters(metrics))
	}
	s.Health = health.NewChecker(s.App, healthOpts...)

	log.Info().
		Str("session", key).
		Str("instance", instanceID).
		Bool("replicated", s.nc != nil).
		Bool("elected", s.consul != nil).
		Bool("history", rounds != nil).
		Msg("session services ready")
	return s, nil
}

// Run starts the background loops. They stop when ctx is cancelled.
func (s *Services) Run(ctx context.Context) {
	if s.consul != nil {
		go s.consul.Run(ctx)
	}
	go func() {
		if err := s.Gateway.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error().Err(err).Msg("session gateway stopped")
		}
	}()
	go func() {
		if err := s.Driver.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error().Err(err).Msg("session driver stopped")
		}
	}()
}

// Close waits for pending disbursements and releases connections.
func (s *Services) Close() {
	if s.App != nil {
		s.App.Wait()
	}
	if s.nc != nil {
		if err := s.nc.Drain(); err != nil {
			log.Warn().Err(err).Msg("failed to drain NATS connection")
		}
	}
	if s.db != nil {
		s.db.Close()
	}
}
