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
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"log"
	"time"

	"github.com/hibiken/asynq"

	"github.com/hookline/hookline/config"
	redis_db "github.com/hookline/hookline/internal/redis-db"
	"github.com/hookline/hookline/model"
)

// Queue is the inbound webhook event stream, backed by Redis.
type Queue struct {
	Client    *asynq.Client
	Inspector *asynq.Inspector
}

// NewQueue initializes a new Queue instance with the provided configuration.
func NewQueue(conf *config.Configuration) *Queue {
	redisOption, err := redis_db.ParseRedisURL(conf.Redis.Dns, conf.Redis.SkipTLSVerify)
	if err != nil {
		log.Fatalf("Error parsing Redis URL: %v", err)
	}

	queueOptions := asynq.RedisClientOpt{Addr: redisOption.Addr, Password: redisOption.Password, DB: redisOption.DB, TLSConfig: redisOption.TLSConfig}
	client := asynq.NewClient(queueOptions)
	inspector := asynq.NewInspector(queueOptions)
	return &Queue{
		Client:    client,
		Inspector: inspector,
	}
}

// Enqueue pushes a webhook event onto the inbound stream. The task ID is the
// event ID, so a re-enqueue of an event already waiting in the stream is
// rejected by the broker and treated as a no-op here.
func (q *Queue) Enqueue(ctx context.Context, event *model.WebhookEvent) error {
	ctx, span := tracer.Start(ctx, "Adding Webhook Event To Redis Queue")
	defer span.End()

	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	info, err := q.Client.EnqueueContext(ctx, q.getTask(event, payload), asynq.MaxRetry(5))
	if err != nil {
		if errors.Is(err, asynq.ErrTaskIDConflict) || errors.Is(err, asynq.ErrDuplicateTask) {
			log.Printf(" [*] Event already queued, skipping: %s", event.EventID)
			return nil
		}
		log.Println(err, info)
		return err
	}
	log.Printf(" [*] Successfully enqueued webhook event: %+v", event.EventID)

	return nil
}

// Requeue re-enqueues an event to its shard after the given delay. The task
// carries no explicit ID because the original task of the same event may still
// be active while this runs.
func (q *Queue) Requeue(ctx context.Context, event *model.WebhookEvent, delay time.Duration) error {
	cfg, err := config.Fetch()
	if err != nil {
		return err
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}

	queueIndex := hashAccountID(event.AccountID) % cfg.Queue.NumberOfQueues
	queueName := fmt.Sprintf("%s_%d", cfg.Queue.WebhookQueue, queueIndex+1)

	taskOptions := []asynq.Option{
		asynq.Queue(queueName),
		asynq.ProcessIn(delay),
	}
	task := asynq.NewTask(queueName, payload, taskOptions...)
	info, err := q.Client.EnqueueContext(ctx, task, asynq.MaxRetry(5))
	if err != nil {
		log.Println(err, info)
		return err
	}
	log.Printf(" [*] Successfully requeued webhook event: %+v", event.EventID)
	return nil
}

// getTask generates a task for a webhook event and assigns it to a specific queue
// based on the account ID. Hashing the account ID keeps all events of the same
// account in the same queue, so per-account ordering holds within a shard while
// load still spreads across queues.
func (q *Queue) getTask(event *model.WebhookEvent, payload []byte) *asynq.Task {
	cnf, err := config.Fetch()
	if err != nil {
		log.Printf("Error fetching config: %v", err)
		return q.getTaskWithDefaults(event, payload)
	}
	queueIndex := hashAccountID(event.AccountID) % cnf.Queue.NumberOfQueues
	queueName := fmt.Sprintf("%s_%d", cnf.Queue.WebhookQueue, queueIndex+1)

	taskOptions := []asynq.Option{asynq.TaskID(event.EventID), asynq.Queue(queueName)}
	return asynq.NewTask(queueName, payload, taskOptions...)
}

// Fallback function for when config fetch fails
func (q *Queue) getTaskWithDefaults(event *model.WebhookEvent, payload []byte) *asynq.Task {
	queueIndex := hashAccountID(event.AccountID) % 4
	queueName := fmt.Sprintf("new:webhook_%d", queueIndex+1) // Default prefix

	taskOptions := []asynq.Option{asynq.TaskID(event.EventID), asynq.Queue(queueName)}
	return asynq.NewTask(queueName, payload, taskOptions...)
}

// hashAccountID returns a consistent hash value for a string account ID.
func hashAccountID(accountID string) int {
	hasher := fnv.New32a()
	_, _ = hasher.Write([]byte(accountID))
	return int(hasher.Sum32())
}

// GetEventFromQueue retrieves a pending webhook event from the stream by its ID.
func (q *Queue) GetEventFromQueue(eventID string) (*model.WebhookEvent, error) {
	cfg, err := config.Fetch()
	if err != nil {
		return nil, err
	}

	// Check every shard since the owning queue depends on the account ID.
	for i := 1; i <= cfg.Queue.NumberOfQueues; i++ {
		queueName := fmt.Sprintf("%s_%d", cfg.Queue.WebhookQueue, i)
		task, err := q.Inspector.GetTaskInfo(queueName, eventID)
		if err == nil && task != nil {
			var event model.WebhookEvent
			if err := json.Unmarshal(task.Payload, &event); err != nil {
				return nil, err
			}
			return &event, nil
		}
	}
	return nil, nil // Return nil if event is not found in any queue
}
