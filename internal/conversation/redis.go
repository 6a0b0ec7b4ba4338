package conversation

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// redisStore keeps each session as a list of JSON encoded turns.
type redisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore connects to addr and verifies the connection with PING.
func NewRedisStore(ctx context.Context, addr, password string, db int, prefix string) (Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis %s: %w", addr, err)
	}
	return &redisStore{client: client, prefix: prefix}, nil
}

func (s *redisStore) key(sessionID string) string {
	return s.prefix + sessionID
}

// Append pushes every turn in a single RPUSH so the pair lands atomically.
func (s *redisStore) Append(ctx context.Context, sessionID string, turns ...Turn) error {
	if len(turns) == 0 {
		return nil
	}
	values := make([]any, 0, len(turns))
	for _, t := range turns {
		data, err := json.Marshal(t)
		if err != nil {
			return fmt.Errorf("encode turn: %w", err)
		}
		values = append(values, data)
	}
	if err := s.client.RPush(ctx, s.key(sessionID), values...).Err(); err != nil {
		return fmt.Errorf("rpush %s: %w", s.key(sessionID), err)
	}
	return nil
}

func (s *redisStore) Get(ctx context.Context, sessionID string) (Session, error) {
	items, err := s.client.LRange(ctx, s.key(sessionID), 0, -1).Result()
	if err != nil {
		return Session{}, fmt.Errorf("lrange %s: %w", s.key(sessionID), err)
	}
	out := Session{ID: sessionID, Chats: make([]Turn, 0, len(items))}
	for _, item := range items {
		var t Turn
		if err := json.Unmarshal([]byte(item), &t); err != nil {
			return Session{}, fmt.Errorf("decode turn: %w", err)
		}
		out.Chats = append(out.Chats, t)
	}
	return out, nil
}

func (s *redisStore) Close() error {
	return s.client.Close()
}
