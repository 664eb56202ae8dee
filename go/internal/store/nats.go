package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog/log"
)

// NATSConfig holds configuration for the JetStream connection and key-value bucket
type NATSConfig struct {
	URL           string
	Token         string
	MaxReconnects int
	ReconnectWait time.Duration
	History       uint8 // revisions kept per key
	Replicas      int
}

// DefaultNATSConfig returns default NATS configuration
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:           nats.DefaultURL,
		MaxReconnects: -1, // Infinite
		ReconnectWait: 2 * time.Second,
		History:       5,
		Replicas:      1,
	}
}

// Connect creates a NATS connection with JetStream
func Connect(cfg NATSConfig) (*nats.Conn, jetstream.JetStream, error) {
	opts := []nats.Option{
		nats.Name("hotpotato"),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Error().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			log.Error().Err(err).Msg("NATS error")
		}),
	}
	if cfg.Token != "" {
		opts = append(opts, nats.Token(cfg.Token))
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("create JetStream context: %w", err)
	}

	return nc, js, nil
}

// NATSStore replicates session state through a JetStream key-value bucket.
type NATSStore struct {
	kv jetstream.KeyValue
}

// NewNATSStore creates or updates the bucket for scope and returns a store on top of it
func NewNATSStore(ctx context.Context, js jetstream.JetStream, scope Scope, cfg NATSConfig) (*NATSStore, error) {
	kv, err := js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      scope.Bucket(),
		Description: "Hot potato session state",
		History:     cfg.History,
		Storage:     jetstream.FileStorage,
		Replicas:    cfg.Replicas,
	})
	if err != nil {
		return nil, fmt.Errorf("ensure key-value bucket %s: %w", scope.Bucket(), err)
	}

	log.Info().
		Str("bucket", scope.Bucket()).
		Str("key", scope.Key()).
		Msg("using JetStream key-value bucket")

	return &NATSStore{kv: kv}, nil
}

func (s *NATSStore) Read(ctx context.Context, key string) (Entry, error) {
	e, err := s.kv.Get(ctx, key)
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return Entry{}, ErrNotFound
		}
		return Entry{}, fmt.Errorf("get %s: %w", key, err)
	}
	return Entry{Key: e.Key(), Value: e.Value(), Revision: e.Revision()}, nil
}

func (s *NATSStore) Write(ctx context.Context, key string, value []byte) (uint64, error) {
	rev, err := s.kv.Put(ctx, key, value)
	if err != nil {
		return 0, fmt.Errorf("put %s: %w", key, err)
	}
	return rev, nil
}

func (s *NATSStore) CompareAndWrite(ctx context.Context, key string, value []byte, revision uint64) (uint64, error) {
	var (
		rev uint64
		err error
	)
	if revision == 0 {
		rev, err = s.kv.Create(ctx, key, value)
	} else {
		rev, err = s.kv.Update(ctx, key, value, revision)
	}
	if err != nil {
		if isWrongSequence(err) {
			return 0, ErrRevisionMismatch
		}
		return 0, fmt.Errorf("compare and write %s: %w", key, err)
	}
	return rev, nil
}

func isWrongSequence(err error) bool {
	if errors.Is(err, jetstream.ErrKeyExists) {
		return true
	}
	var apiErr *jetstream.APIError
	return errors.As(err, &apiErr) && apiErr.ErrorCode == jetstream.JSErrCodeStreamWrongLastSequence
}

func (s *NATSStore) ReadParticipant(ctx context.Context, key, participantID string) ([]byte, error) {
	e, err := s.Read(ctx, participantKey(key, participantID))
	if err != nil {
		return nil, err
	}
	return e.Value, nil
}

func (s *NATSStore) WriteParticipant(ctx context.Context, key, participantID string, value []byte) error {
	_, err := s.Write(ctx, participantKey(key, participantID), value)
	return err
}

// Participants reads every participant slot by draining a watcher's initial values.
func (s *NATSStore) Participants(ctx context.Context, key string) (map[string][]byte, error) {
	prefix := participantPrefix(key)
	w, err := s.kv.Watch(ctx, prefix+"*", jetstream.IgnoreDeletes())
	if err != nil {
		return nil, fmt.Errorf("watch participants: %w", err)
	}
	defer w.Stop()

	out := make(map[string][]byte)
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case e, ok := <-w.Updates():
			if !ok || e == nil {
				// nil marks the end of the initial values
				return out, nil
			}
			out[strings.TrimPrefix(e.Key(), prefix)] = e.Value()
		}
	}
}

func (s *NATSStore) Watch(ctx context.Context, key string) (<-chan Entry, error) {
	w, err := s.kv.Watch(ctx, key, jetstream.IgnoreDeletes())
	if err != nil {
		return nil, fmt.Errorf("watch %s: %w", key, err)
	}

	ch := make(chan Entry, 1)
	go func() {
		defer close(ch)
		defer func() {
			if err := w.Stop(); err != nil {
				log.Debug().Err(err).Str("key", key).Msg("failed to stop watcher")
			}
		}()

		for {
			select {
			case <-ctx.Done():
				return
			case e, ok := <-w.Updates():
				if !ok {
					return
				}
				if e == nil {
					continue
				}
				deliverLatest(ch, Entry{Key: e.Key(), Value: e.Value(), Revision: e.Revision()})
			}
		}
	}()

	return ch, nil
}
