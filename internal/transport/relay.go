package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/amoylab/gameroom/internal/common/config"
	"github.com/amoylab/gameroom/internal/core"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const publishTimeout = 2 * time.Second

// RedisRelay is a core.Emitter for deployments where several instances share
// one redis store. Events for channels held by the local hub are delivered
// directly; the rest are published on <prefix>:events for the instance that
// holds the channel.
type RedisRelay struct {
	logger *zap.Logger
	client *redis.Client
	pubsub *redis.PubSub
	topic  string
	origin string
	hub    *Hub
	done   chan struct{}
}

var _ core.Emitter = (*RedisRelay)(nil)

type relayedEvent struct {
	Origin  string          `json:"origin"`
	Channel string          `json:"channel"`
	Type    core.EventType  `json:"type"`
	Data    json.RawMessage `json:"data"`
	Version int64           `json:"version,omitempty"`
}

// NewRedisRelay connects to redis and starts relaying events into hub.
func NewRedisRelay(logger *zap.Logger, cfg config.RedisConfig, hub *Hub) (*RedisRelay, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Username: cfg.Username,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	prefix := strings.TrimSuffix(cfg.Prefix, ":")
	if prefix == "" {
		prefix = "gameroom"
	}
	r := &RedisRelay{
		logger: logger.Named("relay"),
		client: client,
		topic:  prefix + ":events",
		origin: uuid.NewString(),
		hub:    hub,
		done:   make(chan struct{}),
	}

	r.pubsub = client.Subscribe(ctx, r.topic)
	// wait for the subscription so nothing published after return is missed
	if _, err := r.pubsub.Receive(ctx); err != nil {
		_ = r.pubsub.Close()
		_ = client.Close()
		return nil, fmt.Errorf("failed to subscribe to %s: %w", r.topic, err)
	}
	go r.handleUpdates()

	r.logger.Info("relaying events", zap.String("topic", r.topic), zap.String("origin", r.origin))
	return r, nil
}

// Emit implements core.Emitter
func (r *RedisRelay) Emit(channel string, ev core.Event) {
	if r.hub.Has(channel) {
		r.hub.Emit(channel, ev)
		return
	}

	data, err := json.Marshal(ev.Data)
	if err != nil {
		r.logger.Error("failed to marshal event", zap.String("type", string(ev.Type)), zap.Error(err))
		return
	}
	if err := r.publishUpdate(channel, ev, data); err != nil {
		r.logger.Warn("failed to relay event",
			zap.String("channel", channel),
			zap.String("type", string(ev.Type)),
			zap.Error(err))
	}
}

// publishUpdate publishes one event to the topic
func (r *RedisRelay) publishUpdate(channel string, ev core.Event, data json.RawMessage) error {
	msg, err := json.Marshal(relayedEvent{
		Origin:  r.origin,
		Channel: channel,
		Type:    ev.Type,
		Data:    data,
		Version: ev.Version,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal relayed event: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	return r.client.Publish(ctx, r.topic, msg).Err()
}

// handleUpdates delivers events published by other instances to local clients
func (r *RedisRelay) handleUpdates() {
	defer close(r.done)
	for msg := range r.pubsub.Channel() {
		var update relayedEvent
		if err := json.Unmarshal([]byte(msg.Payload), &update); err != nil {
			r.logger.Error("failed to unmarshal relayed event",
				zap.Error(err),
				zap.String("payload", msg.Payload))
			continue
		}
		if update.Origin == r.origin || !r.hub.Has(update.Channel) {
			continue
		}
		r.hub.Emit(update.Channel, core.Event{
			Type:    update.Type,
			Data:    update.Data,
			Version: update.Version,
		})
	}
}

// Close stops relaying and releases the redis connection.
func (r *RedisRelay) Close() error {
	err := r.pubsub.Close()
	<-r.done
	if cerr := r.client.Close(); err == nil {
		err = cerr
	}
	return err
}
