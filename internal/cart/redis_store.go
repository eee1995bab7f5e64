package cart

import (
	"context"
	"encoding/json"
	"time"

	redis "github.com/redis/go-redis/v9"

	"botikapos/backend/internal/domain"
)

const (
	cartKeyPrefix    = "pos:cart:"
	pendingKeyPrefix = "pos:pending:"

	// Abandoned carts expire on their own; a day covers any realistic shift.
	cartTTL = 24 * time.Hour
)

// RedisStore persists carts and the offline queue in Redis so they survive
// terminal reloads and backend restarts.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(addr string, password string, db int) *RedisStore {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return &RedisStore{client: client}
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Client exposes the underlying connection so other components (the event
// publisher) can share it.
func (s *RedisStore) Client() *redis.Client {
	return s.client
}

func (s *RedisStore) Save(ctx context.Context, cart domain.Cart) error {
	payload, err := json.Marshal(cart)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, cartKeyPrefix+cart.ID, payload, cartTTL).Err()
}

func (s *RedisStore) Get(ctx context.Context, id string) (*domain.Cart, bool, error) {
	val, err := s.client.Get(ctx, cartKeyPrefix+id).Result()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var cart domain.Cart
	if err := json.Unmarshal([]byte(val), &cart); err != nil {
		return nil, false, err
	}
	return &cart, true, nil
}

func (s *RedisStore) Delete(ctx context.Context, id string) error {
	return s.client.Del(ctx, cartKeyPrefix+id).Err()
}

func (s *RedisStore) Enqueue(ctx context.Context, pending domain.PendingCommit) error {
	payload, err := json.Marshal(pending)
	if err != nil {
		return err
	}
	return s.client.RPush(ctx, pendingKeyPrefix+pending.TerminalID, payload).Err()
}

func (s *RedisStore) Dequeue(ctx context.Context, terminalID string) ([]domain.PendingCommit, error) {
	key := pendingKeyPrefix + terminalID

	raw, err := s.client.LRange(ctx, key, 0, -1).Result()
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return nil, nil
	}
	if err := s.client.Del(ctx, key).Err(); err != nil {
		return nil, err
	}

	pending := make([]domain.PendingCommit, 0, len(raw))
	for _, entry := range raw {
		var p domain.PendingCommit
		if err := json.Unmarshal([]byte(entry), &p); err != nil {
			continue
		}
		pending = append(pending, p)
	}
	return pending, nil
}
