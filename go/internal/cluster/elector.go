package cluster

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync/atomic"
	"time"

	consul "github.com/hashicorp/consul/api"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

const driverKeyFormat = "service/hotpotato/%s/driver"

// DriverKey returns the Consul lock key guarding the session driver.
func DriverKey(sessionName string) string {
	return fmt.Sprintf(driverKeyFormat, sessionName)
}

// Standalone always leads. Used when a single replica serves the session.
type Standalone struct{}

func (Standalone) IsLeader() bool { return true }

type ConsulConfig struct {
	Addresses  string // comma separated agent addresses
	SessionTTL string
	RetryWait  time.Duration
}

func DefaultConsulConfig() ConsulConfig {
	return ConsulConfig{
		Addresses:  "127.0.0.1:8500",
		SessionTTL: "15s",
		RetryWait:  10 * time.Second,
	}
}

// NewConsulClient returns a client for the first agent in addrs that knows its raft leader.
func NewConsulClient(addrs string) (*consul.Client, error) {
	for _, node := range strings.Split(addrs, ",") {
		node = strings.TrimSpace(node)
		if node == "" {
			continue
		}
		cfg := consul.DefaultConfig()
		cfg.Address = node

		client, err := consul.NewClient(cfg)
		if err != nil {
			log.Warn().Err(err).Str("address", node).Msg("failed to create consul client")
			continue
		}
		if _, err := client.Status().Leader(); err != nil {
			log.Warn().Err(err).Str("address", node).Msg("consul agent did not answer")
			continue
		}

		log.Info().Str("address", node).Msg("connected to consul")
		return client, nil
	}
	return nil, fmt.Errorf("no consul agent available in %q", addrs)
}

// ConsulElector holds a Consul session lock while this instance drives the session.
type ConsulElector struct {
	client    *consul.Client
	nodeID    string
	key       string
	cfg       ConsulConfig
	clock     clockwork.Clock
	isLeader  atomic.Bool
	campaigns atomic.Int64
}

func NewConsulElector(sessionName string, cfg ConsulConfig) (*ConsulElector, error) {
	client, err := NewConsulClient(cfg.Addresses)
	if err != nil {
		return nil, fmt.Errorf("failed to create consul client: %w", err)
	}
	return newConsulElector(client, sessionName, cfg, clockwork.NewRealClock())
}

func newConsulElector(client *consul.Client, sessionName string, cfg ConsulConfig, clock clockwork.Clock) (*ConsulElector, error) {
	hostname, err := os.Hostname()
	if err != nil {
		return nil, fmt.Errorf("failed to get hostname: %w", err)
	}
	return &ConsulElector{
		client: client,
		nodeID: fmt.Sprintf("%s-%d", hostname, os.Getpid()),
		key:    DriverKey(sessionName),
		cfg:    cfg,
		clock:  clock,
	}, nil
}

func (e *ConsulElector) IsLeader() bool {
	return e.isLeader.Load()
}

// Campaigns returns how many times this instance started campaigning.
func (e *ConsulElector) Campaigns() int64 {
	return e.campaigns.Load()
}

// Run campaigns for the driver lock until ctx is cancelled.
func (e *ConsulElector) Run(ctx context.Context) {
	for ctx.Err() == nil {
		e.campaigns.Add(1)
		log.Info().Str("key", e.key).Str("node", e.nodeID).Msg("starting leadership campaign")

		lock, lostCh, err := e.acquire(ctx)
		if err != nil {
			e.isLeader.Store(false)
			log.Warn().Err(err).Dur("retry_in", e.cfg.RetryWait).Msg("failed to acquire driver lock")
			select {
			case <-ctx.Done():
			case <-e.clock.After(e.cfg.RetryWait):
			}
			continue
		}
		if lostCh == nil {
			// Cancelled while waiting for the lock.
			break
		}

		e.isLeader.Store(true)
		log.Info().Str("key", e.key).Str("node", e.nodeID).Msg("this instance now drives the session")

		select {
		case <-lostCh:
			e.isLeader.Store(false)
			log.Warn().Str("key", e.key).Msg("driver lock lost, becoming follower")
		case <-ctx.Done():
			e.isLeader.Store(false)
			if err := lock.Unlock(); err != nil {
				log.Warn().Err(err).Msg("failed to release driver lock")
			}
		}
	}
	log.Info().Str("key", e.key).Msg("leadership campaign stopped")
}

func (e *ConsulElector) acquire(ctx context.Context) (*consul.Lock, <-chan struct{}, error) {
	lock, err := e.client.LockOpts(&consul.LockOptions{
		Key:        e.key,
		Value:      []byte(e.nodeID),
		SessionTTL: e.cfg.SessionTTL,
	})
	if err != nil {
		return nil, nil, err
	}

	// stopCh aborts the wait for the lock, it has no effect once held.
	stopCh := make(chan struct{})
	acquired := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			close(stopCh)
		case <-acquired:
		}
	}()

	lostCh, err := lock.Lock(stopCh)
	close(acquired)
	if err != nil {
		return nil, nil, err
	}
	return lock, lostCh, nil
}
