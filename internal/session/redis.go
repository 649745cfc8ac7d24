package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/amoylab/gameroom/internal/common/config"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisStore implements Store using Redis.
//
// Layout under the configured prefix:
//
//	<prefix>:session:<id>     JSON record
//	<prefix>:status:<status>  set of session ids
//	<prefix>:active           id of the open or active session
type RedisStore struct {
	logger *zap.Logger
	client *redis.Client
	prefix string
}

var _ Store = (*RedisStore)(nil)

// NewRedisStore creates a new Redis-based session store
func NewRedisStore(logger *zap.Logger, cfg config.RedisConfig) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Username: cfg.Username,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	// Test connection
	if err := client.Ping(context.Background()).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	prefix := strings.TrimSuffix(cfg.Prefix, ":")
	if prefix == "" {
		prefix = "gameroom"
	}
	return &RedisStore{
		logger: logger.Named("session.store.redis"),
		client: client,
		prefix: prefix + ":",
	}, nil
}

func (s *RedisStore) sessionKey(id string) string { return s.prefix + "session:" + id }
func (s *RedisStore) statusKey(st Status) string  { return s.prefix + "status:" + string(st) }
func (s *RedisStore) activeKey() string           { return s.prefix + "active" }

// CreateActive implements Store.CreateActive
func (s *RedisStore) CreateActive(ctx context.Context, sess *Session) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}

	key := s.sessionKey(sess.ID)
	for attempt := 0; attempt < 3; attempt++ {
		err = s.client.Watch(ctx, func(tx *redis.Tx) error {
			exists, err := tx.Exists(ctx, key).Result()
			if err != nil {
				return err
			}
			if exists > 0 {
				return ErrConflict
			}
			activeID, err := tx.Get(ctx, s.activeKey()).Result()
			if err != nil && !errors.Is(err, redis.Nil) {
				return err
			}
			if activeID != "" {
				live, err := s.isLive(ctx, tx, activeID)
				if err != nil {
					return err
				}
				if live {
					return ErrActiveExists
				}
				// the pointer outlived its session; take the slot over
				s.logger.Warn("replacing stale active session pointer", zap.String("id", activeID))
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, data, 0)
				pipe.SAdd(ctx, s.statusKey(sess.Status), sess.ID)
				pipe.Set(ctx, s.activeKey(), sess.ID, 0)
				return nil
			})
			return err
		}, key, s.activeKey())
		if !errors.Is(err, redis.TxFailedErr) {
			break
		}
	}

	switch {
	case err == nil:
		return nil
	case errors.Is(err, redis.TxFailedErr), errors.Is(err, ErrActiveExists):
		return ErrActiveExists
	case errors.Is(err, ErrConflict):
		return err
	default:
		return unavailable("create session", err)
	}
}

func (s *RedisStore) isLive(ctx context.Context, c redis.Cmdable, id string) (bool, error) {
	data, err := c.Get(ctx, s.sessionKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	var sess Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return false, fmt.Errorf("failed to unmarshal session %s: %w", id, err)
	}
	return sess.IsLive(), nil
}

// Get implements Store.Get
func (s *RedisStore) Get(ctx context.Context, id string) (*Session, error) {
	data, err := s.client.Get(ctx, s.sessionKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, unavailable("get session", err)
	}
	return decodeSession(data)
}

// FindActive implements Store.FindActive
func (s *RedisStore) FindActive(ctx context.Context) (*Session, error) {
	id, err := s.client.Get(ctx, s.activeKey()).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, unavailable("find active session", err)
	}
	sess, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !sess.IsLive() {
		return nil, ErrNotFound
	}
	return sess, nil
}

// List implements Store.List
func (s *RedisStore) List(ctx context.Context, statuses ...Status) ([]*Session, error) {
	if len(statuses) == 0 {
		statuses = []Status{StatusOpen, StatusActive, StatusClosed}
	}

	var ids []string
	for _, st := range statuses {
		members, err := s.client.SMembers(ctx, s.statusKey(st)).Result()
		if err != nil {
			return nil, unavailable("list session ids", err)
		}
		ids = append(ids, members...)
	}
	if len(ids) == 0 {
		return []*Session{}, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.sessionKey(id)
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, unavailable("load sessions", err)
	}

	out := make([]*Session, 0, len(values))
	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			continue
		}
		sess, err := decodeSession([]byte(raw))
		if err != nil {
			s.logger.Error("failed to decode session",
				zap.String("key", keys[i]),
				zap.Error(err))
			continue
		}
		// status sets are updated in the same transaction as the record, but
		// filter anyway so a partially applied delete never leaks through
		if matchStatus(sess, statuses) {
			out = append(out, sess)
		}
	}
	sortByCreation(out)
	return out, nil
}

// Update implements Store.Update
func (s *RedisStore) Update(ctx context.Context, sess *Session) error {
	key := s.sessionKey(sess.ID)
	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		stored, err := decodeSession(data)
		if err != nil {
			return err
		}
		if stored.Version != sess.Version {
			return ErrConflict
		}

		if sess.IsLive() && !stored.IsLive() {
			activeID, err := tx.Get(ctx, s.activeKey()).Result()
			if err != nil && !errors.Is(err, redis.Nil) {
				return err
			}
			if activeID != "" && activeID != sess.ID {
				live, err := s.isLive(ctx, tx, activeID)
				if err != nil {
					return err
				}
				if live {
					return ErrActiveExists
				}
			}
		}

		next := sess.Clone()
		next.Version++
		payload, err := json.Marshal(next)
		if err != nil {
			return fmt.Errorf("failed to marshal session: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, payload, 0)
			if stored.Status != next.Status {
				pipe.SRem(ctx, s.statusKey(stored.Status), next.ID)
				pipe.SAdd(ctx, s.statusKey(next.Status), next.ID)
			}
			switch {
			case next.IsLive():
				pipe.Set(ctx, s.activeKey(), next.ID, 0)
			case stored.IsLive():
				pipe.Del(ctx, s.activeKey())
			}
			return nil
		})
		return err
	}, key, s.activeKey())

	switch {
	case err == nil:
		sess.Version++
		return nil
	case errors.Is(err, redis.TxFailedErr):
		return ErrConflict
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrConflict), errors.Is(err, ErrActiveExists):
		return err
	default:
		return unavailable("update session", err)
	}
}

// Delete implements Store.Delete
func (s *RedisStore) Delete(ctx context.Context, id string) error {
	key := s.sessionKey(id)
	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		exists, err := tx.Exists(ctx, key).Result()
		if err != nil {
			return err
		}
		if exists == 0 {
			return ErrNotFound
		}
		activeID, err := tx.Get(ctx, s.activeKey()).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, key)
			for _, st := range []Status{StatusOpen, StatusActive, StatusClosed} {
				pipe.SRem(ctx, s.statusKey(st), id)
			}
			if activeID == id {
				pipe.Del(ctx, s.activeKey())
			}
			return nil
		})
		return err
	}, key, s.activeKey())

	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrNotFound):
		return err
	case errors.Is(err, redis.TxFailedErr):
		return ErrConflict
	default:
		return unavailable("delete session", err)
	}
}

// Close closes the Redis client
func (s *RedisStore) Close() error {
	return s.client.Close()
}

func decodeSession(data []byte) (*Session, error) {
	var sess Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session: %w", err)
	}
	if sess.Observers == nil {
		sess.Observers = []Observer{}
	}
	if sess.History == nil {
		sess.History = []Move{}
	}
	return &sess, nil
}
