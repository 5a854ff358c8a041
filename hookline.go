/*
Copyright 2025 Hookline Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package hookline

import (
	"context"
	"fmt"
	"time"

	"github.com/hookline/hookline/cache"
	"github.com/hookline/hookline/config"
	"github.com/hookline/hookline/database"
	"github.com/hookline/hookline/internal/breaker"
	"github.com/hookline/hookline/internal/ratelimit"
	redis_db "github.com/hookline/hookline/internal/redis-db"
	"github.com/hookline/hookline/model"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

var tracer trace.Tracer = otel.Tracer("hookline")

// Hookline is the delivery and recovery engine. It owns the inbound queue,
// the dead-letter store, the per-account rate limiter, the deduplication
// cache and the circuit breaker guarding the outbound sender.
type Hookline struct {
	queue      *Queue
	redis      redis.UniversalClient
	datasource database.IDataSource
	dedup      cache.Cache
	limiter    *ratelimit.Limiter
	breaker    *breaker.Breaker
	sender     WebhookSender
}

// NewHookline initializes the engine with the provided datasource. It fetches
// the configuration and wires the Redis client, dedup cache, rate limiter,
// circuit breaker, queue and outbound sender.
func NewHookline(db database.IDataSource) (*Hookline, error) {
	configuration, err := config.Fetch()
	if err != nil {
		return nil, err
	}
	redisClient, err := redis_db.NewRedisClient([]string{fmt.Sprintf("redis://%s", configuration.Redis.Dns)}, configuration.Redis.SkipTLSVerify)
	if err != nil {
		return nil, err
	}

	newQueue := NewQueue(configuration)
	dedup := cache.NewRedisCacheWithClient(redisClient)
	limiter := ratelimit.NewLimiter(
		redisClient.Client(),
		configuration.RateLimit.Limit,
		time.Duration(configuration.RateLimit.WindowSeconds)*time.Second,
	)
	cb := breaker.New(breaker.Settings{
		Name:                 "webhook-delivery",
		WindowSize:           configuration.CircuitBreaker.WindowSize,
		FailureRateThreshold: configuration.CircuitBreaker.FailureRateThreshold,
		OpenTimeout:          time.Duration(configuration.CircuitBreaker.OpenTimeoutSeconds) * time.Second,
		HalfOpenMaxCalls:     configuration.CircuitBreaker.HalfOpenMaxCalls,
	})

	newHookline := &Hookline{
		datasource: db,
		queue:      newQueue,
		redis:      redisClient.Client(),
		dedup:      dedup,
		limiter:    limiter,
		breaker:    cb,
		sender:     NewHTTPSender(),
	}
	return newHookline, nil
}

// retryPolicy builds the backoff policy from the current configuration.
func (h *Hookline) retryPolicy() model.RetryPolicy {
	cfg, err := config.Fetch()
	if err != nil {
		// Config is validated at startup; a miss here means tests forgot
		// MockConfig. Fall back to safe values.
		return model.RetryPolicy{MaxAttempts: 5, InitialDelay: 60 * time.Second, Multiplier: 2.0}
	}
	return model.RetryPolicy{
		MaxAttempts:  cfg.Retry.MaxAttempts,
		InitialDelay: cfg.Retry.InitialDelay(),
		Multiplier:   cfg.Retry.Multiplier,
	}
}

// BreakerState exposes the delivery breaker state for operators.
func (h *Hookline) BreakerState() string {
	return h.breaker.State()
}

// EnqueueEvent pushes a fresh webhook event onto the inbound stream.
func (h *Hookline) EnqueueEvent(ctx context.Context, event *model.WebhookEvent) error {
	return h.queue.Enqueue(ctx, event)
}

// GetQueuedEvent retrieves an event waiting on the inbound stream, nil when
// not queued.
func (h *Hookline) GetQueuedEvent(eventID string) (*model.WebhookEvent, error) {
	return h.queue.GetEventFromQueue(eventID)
}

// GetDeadLetterEvent retrieves a dead-letter record by event id, nil when
// absent.
func (h *Hookline) GetDeadLetterEvent(ctx context.Context, eventID string) (*model.DeadLetterRecord, error) {
	return h.datasource.GetDeadLetterEvent(ctx, eventID)
}

// ListDeadLetterEvents pages through the dead-letter store for the query
// surface. An empty status spans all statuses.
func (h *Hookline) ListDeadLetterEvents(ctx context.Context, status string, limit, offset int) ([]*model.DeadLetterRecord, error) {
	return h.datasource.ListDeadLetterEvents(ctx, status, limit, offset)
}

// GetDeadLetterEvents bulk-reads records keyed by event id. Absent ids are
// simply missing from the result.
func (h *Hookline) GetDeadLetterEvents(ctx context.Context, eventIDs []string) (map[string]*model.DeadLetterRecord, error) {
	return h.datasource.GetDeadLetterEvents(ctx, eventIDs)
}
