package session

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/meridianhq/quill/internal/models"
)

// RedisStore persists sessions as JSON blobs with a TTL, fronted by a
// small local read cache. Terminal sessions stay readable until the TTL
// expires so pollers can collect the result.
type RedisStore struct {
	client *redis.Client
	logger *zap.Logger
	ttl    time.Duration

	mu    sync.RWMutex
	cache map[string]models.Session
}

// NewRedisStore connects and pings. The REDIS_PASSWORD environment
// variable is honored when set.
func NewRedisStore(addr string, ttl time.Duration, logger *zap.Logger) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     os.Getenv("REDIS_PASSWORD"),
		DB:           0,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisStore{
		client: client,
		logger: logger,
		ttl:    ttl,
		cache:  make(map[string]models.Session),
	}, nil
}

func (r *RedisStore) key(id string) string { return "quill:session:" + id }

func (r *RedisStore) Create(ctx context.Context, query string, deadline time.Time) (*models.Session, error) {
	s := models.Session{
		ID:        uuid.New().String(),
		Query:     query,
		Status:    models.StatusFetching,
		Deadline:  deadline,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	if err := r.save(ctx, &s); err != nil {
		return nil, fmt.Errorf("failed to save session: %w", err)
	}

	r.logger.Info("Created session",
		zap.String("session_id", s.ID),
		zap.Time("deadline", deadline),
	)
	out := s
	return &out, nil
}

func (r *RedisStore) Get(ctx context.Context, id string) (*models.Session, error) {
	r.mu.RLock()
	if s, ok := r.cache[id]; ok {
		r.mu.RUnlock()
		out := s
		return &out, nil
	}
	r.mu.RUnlock()

	data, err := r.client.Get(ctx, r.key(id)).Bytes()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	var s models.Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session: %w", err)
	}

	r.mu.Lock()
	r.cache[id] = s
	r.mu.Unlock()

	out := s
	return &out, nil
}

func (r *RedisStore) Update(ctx context.Context, s *models.Session) error {
	s.UpdatedAt = time.Now()
	if err := r.save(ctx, s); err != nil {
		return fmt.Errorf("failed to update session: %w", err)
	}
	return nil
}

func (r *RedisStore) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	delete(r.cache, id)
	r.mu.Unlock()

	if err := r.client.Del(ctx, r.key(id)).Err(); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

func (r *RedisStore) save(ctx context.Context, s *models.Session) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}
	if err := r.client.Set(ctx, r.key(s.ID), data, r.ttl).Err(); err != nil {
		return err
	}

	r.mu.Lock()
	r.cache[s.ID] = *s
	r.mu.Unlock()
	return nil
}
