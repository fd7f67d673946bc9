package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/kavindya12/soa-microservices-platform/internal/domain"
	"github.com/kavindya12/soa-microservices-platform/internal/workflow"
)

const workflowKeyPrefix = "workflow:"

// RedisWorkflowStore implements workflow.Store backed by Redis.
type RedisWorkflowStore struct {
	client redis.UniversalClient
	ttl    time.Duration
}

var _ workflow.Store = (*RedisWorkflowStore)(nil)

// NewRedisWorkflowStore constructs a Redis-backed workflow context store. Entries expire after ttl.
func NewRedisWorkflowStore(client redis.UniversalClient, ttl time.Duration) *RedisWorkflowStore {
	return &RedisWorkflowStore{client: client, ttl: ttl}
}

func workflowKey(id string) string {
	return workflowKeyPrefix + id
}

// Put stores the encoded order with TTL, overwriting any previous value.
func (s *RedisWorkflowStore) Put(ctx context.Context, order domain.WorkflowOrder) error {
	payload, err := json.Marshal(order)
	if err != nil {
		return fmt.Errorf("marshal workflow: %w", err)
	}
	if err := s.client.Set(ctx, workflowKey(order.ID), payload, s.ttl).Err(); err != nil {
		return fmt.Errorf("persist workflow: %w", err)
	}
	return nil
}

// Get loads and decodes the order payload.
func (s *RedisWorkflowStore) Get(ctx context.Context, id string) (*domain.WorkflowOrder, error) {
	bytes, err := s.client.Get(ctx, workflowKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("load workflow: %w", err)
	}
	var order domain.WorkflowOrder
	if err := json.Unmarshal(bytes, &order); err != nil {
		return nil, fmt.Errorf("decode workflow: %w", err)
	}
	return &order, nil
}

// Remove deletes the workflow key.
func (s *RedisWorkflowStore) Remove(ctx context.Context, id string) error {
	if err := s.client.Del(ctx, workflowKey(id)).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("delete workflow: %w", err)
	}
	return nil
}
