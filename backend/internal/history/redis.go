package history

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps one list per session. RPUSH is atomic, so concurrent
// appends to a session are serialized by the server.
type RedisStore struct {
	client    redis.UniversalClient
	keyPrefix string
}

// NewRedisStore wraps an existing client; the caller owns its lifecycle
func NewRedisStore(client redis.UniversalClient, keyPrefix string) *RedisStore {
	if keyPrefix == "" {
		keyPrefix = "dune-rag:"
	}
	return &RedisStore{
		client:    client,
		keyPrefix: keyPrefix + "history:",
	}
}

// sessionKey returns the Redis key for a session's turn list
func (s *RedisStore) sessionKey(userID, sessionID string) string {
	return s.keyPrefix + compositeKey(userID, sessionID)
}

// Ping checks if the store is healthy
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Append pushes the serialized turn onto the session list
func (s *RedisStore) Append(ctx context.Context, turn Turn) error {
	turn = prepare(turn)

	data, err := json.Marshal(turn)
	if err != nil {
		return fmt.Errorf("failed to marshal turn: %w", err)
	}
	return s.client.RPush(ctx, s.sessionKey(turn.UserID, turn.SessionID), data).Err()
}

// Read returns every turn of the session in push order
func (s *RedisStore) Read(ctx context.Context, userID, sessionID string) ([]Turn, error) {
	items, err := s.client.LRange(ctx, s.sessionKey(userID, sessionID), 0, -1).Result()
	if err != nil {
		return nil, err
	}

	turns := make([]Turn, 0, len(items))
	for _, item := range items {
		var turn Turn
		if err := json.Unmarshal([]byte(item), &turn); err != nil {
			return nil, fmt.Errorf("failed to unmarshal turn: %w", err)
		}
		turns = append(turns, turn)
	}
	return turns, nil
}
