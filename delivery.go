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
	"errors"
	"fmt"
	"sync"
	"time"

	backoff "github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"

	"github.com/hookline/hookline/config"
	"github.com/hookline/hookline/internal/breaker"
	"github.com/hookline/hookline/model"
)

const dedupKeyPrefix = "deduplicate:event:"

// DeliveryOutcome is how every pipeline invocation resolves. None of these
// propagate as errors: the caller's acknowledgment of the upstream source is
// never blocked by a single event's failure.
type DeliveryOutcome string

const (
	// OutcomeDelivered: the destination acknowledged the event.
	OutcomeDelivered DeliveryOutcome = "DELIVERED"
	// OutcomeDuplicate: a dedup marker exists for the event id; no-op.
	OutcomeDuplicate DeliveryOutcome = "DUPLICATE"
	// OutcomeRateLimited: the account is over its window limit; the event was
	// requeued to the inbound stream, not failed.
	OutcomeRateLimited DeliveryOutcome = "RATE_LIMITED"
	// OutcomeDeadLettered: delivery failed and the event entered (or updated)
	// the dead-letter store.
	OutcomeDeadLettered DeliveryOutcome = "DEAD_LETTERED"
	// OutcomeBreakerOpen: the circuit breaker short-circuited the send; the
	// event was dead-lettered immediately without consuming the immediate
	// retry budget.
	OutcomeBreakerOpen DeliveryOutcome = "BREAKER_OPEN"
)

// ProcessEvent runs one fresh event through the delivery pipeline:
// dedup check, rate-limit admission, breaker-guarded send, outcome recording.
func (h *Hookline) ProcessEvent(ctx context.Context, event *model.WebhookEvent) DeliveryOutcome {
	ctx, span := tracer.Start(ctx, "Processing Webhook Event")
	defer span.End()

	if h.dedup.Exists(ctx, dedupKeyPrefix+event.EventID) {
		logrus.Infof("Skipping duplicate event: %s", event.EventID)
		return OutcomeDuplicate
	}

	if !h.limiter.Admit(ctx, event.AccountID, 1) {
		// Rate-limited is not a failure. The event goes back to the inbound
		// stream for a later attempt instead of the dead-letter store.
		logrus.Warnf("Event %s is rate limited. Pushing back to queue.", event.EventID)
		if err := h.requeueRateLimited(ctx, event); err != nil {
			logrus.Errorf("failed to requeue rate limited event %s: %v", event.EventID, err)
		}
		return OutcomeRateLimited
	}

	err := h.guardedSend(ctx, event)
	if err == nil {
		h.markProcessed(ctx, event.EventID)
		logrus.Infof("Successfully processed event: %s", event.EventID)
		return OutcomeDelivered
	}

	if errors.Is(err, breaker.ErrOpen) {
		h.recordFailure(ctx, event, fmt.Sprintf("circuit breaker %s", h.breaker.State()))
		return OutcomeBreakerOpen
	}

	h.recordFailure(ctx, event, err.Error())
	return OutcomeDeadLettered
}

// DeliverBatch resolves every event of an inbound batch through the pipeline
// using a bounded worker pool. The batch is bounded by the configured timeout:
// events not dispatched before the deadline are skipped and left to the
// upstream source's at-least-once redelivery.
func (h *Hookline) DeliverBatch(ctx context.Context, events []*model.WebhookEvent) map[string]DeliveryOutcome {
	cfg, err := config.Fetch()
	if err != nil {
		logrus.Errorf("failed to fetch config for batch delivery: %v", err)
		return nil
	}

	batchTimeout := time.Duration(cfg.Queue.BatchTimeoutSeconds) * time.Second
	if batchTimeout <= 0 {
		batchTimeout = 30 * time.Second
	}
	concurrency := cfg.Retry.Concurrency
	if concurrency <= 0 {
		concurrency = 4
	}
	ctx, cancel := context.WithTimeout(ctx, batchTimeout)
	defer cancel()

	outcomes := make(map[string]DeliveryOutcome, len(events))
	var mu sync.Mutex
	sem := make(chan struct{}, concurrency)
	var wg sync.WaitGroup

	for _, event := range events {
		select {
		case <-ctx.Done():
			logrus.Warnf("batch delivery deadline reached, %d events left to redelivery", len(events)-len(outcomes))
			wg.Wait()
			return outcomes
		case sem <- struct{}{}:
		}

		wg.Add(1)
		go func(e *model.WebhookEvent) {
			defer wg.Done()
			defer func() { <-sem }()
			outcome := h.ProcessEvent(ctx, e)
			mu.Lock()
			outcomes[e.EventID] = outcome
			mu.Unlock()
		}(event)
	}

	wg.Wait()
	return outcomes
}

// guardedSend wraps the outbound send with the circuit breaker and a small
// immediate retry budget. Each attempt passes through the breaker, so a trip
// mid-budget aborts the remaining attempts immediately.
func (h *Hookline) guardedSend(ctx context.Context, event *model.WebhookEvent) error {
	cfg, err := config.Fetch()
	if err != nil {
		return err
	}

	attempt := func() error {
		sendErr := h.breaker.Execute(func() error {
			ok, err := h.sender.Send(ctx, event.Destination, []byte(event.Payload))
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("webhook response failed for event: %s", event.EventID)
			}
			return nil
		})
		if errors.Is(sendErr, breaker.ErrOpen) {
			// Retrying against a known-open breaker wastes effort.
			return backoff.Permanent(sendErr)
		}
		return sendErr
	}

	attempts := cfg.Retry.ImmediateAttempts
	if attempts <= 0 {
		attempts = 1
	}
	policy := backoff.WithMaxRetries(
		backoff.NewConstantBackOff(500*time.Millisecond),
		uint64(attempts-1),
	)
	return backoff.Retry(attempt, backoff.WithContext(policy, ctx))
}

// markProcessed arms the deduplication marker after a successful send and
// closes out any dead-letter record the event may have accumulated earlier.
func (h *Hookline) markProcessed(ctx context.Context, eventID string) {
	h.armDedupMarker(ctx, eventID)

	record, err := h.datasource.GetDeadLetterEvent(ctx, eventID)
	if err != nil || record == nil {
		return
	}
	record.MarkProcessed(time.Now())
	if err := h.datasource.SaveDeadLetterEvents(ctx, []*model.DeadLetterRecord{record}); err != nil {
		logrus.Errorf("failed to close dead letter record for event %s: %v", eventID, err)
	}
}

// recordFailure merges a delivery failure into the dead-letter store: the
// failed-attempt transition for a known event id, a fresh PENDING record with
// retry count zero otherwise. The read-then-write incorporates the previously
// read retry count, so a concurrent touch never loses an increment silently.
func (h *Hookline) recordFailure(ctx context.Context, event *model.WebhookEvent, reason string) {
	now := time.Now()
	policy := h.retryPolicy()

	record, err := h.datasource.GetDeadLetterEvent(ctx, event.EventID)
	if err != nil {
		logrus.Errorf("failed to look up dead letter record for event %s: %v", event.EventID, err)
		return
	}

	if record == nil {
		record = model.NewDeadLetterRecord(event.EventID, event.AccountID, event.EventType, event.Payload, reason, now, policy)
		logrus.WithFields(logrus.Fields{
			"event_id":      event.EventID,
			"account_id":    event.AccountID,
			"next_retry_at": record.NextRetryAt,
		}).Infof("Created new dead letter record: %s", event.EventID)
	} else {
		record.MarkAttemptFailed(reason, now, policy)
		logrus.WithFields(logrus.Fields{
			"event_id":    event.EventID,
			"retry_count": record.RetryCount,
			"status":      record.Status,
		}).Infof("Updated dead letter record: %s", event.EventID)
		if record.Status == model.StatusFailed {
			logrus.Errorf("Max retries exceeded for event: %s", event.EventID)
		}
	}

	if err := h.datasource.SaveDeadLetterEvents(ctx, []*model.DeadLetterRecord{record}); err != nil {
		logrus.Errorf("failed to persist dead letter record for event %s: %v", event.EventID, err)
	}
}

// requeueRateLimited pushes a rate-limited fresh event back onto the inbound
// queue with a delay roughly matching the rate limit window.
func (h *Hookline) requeueRateLimited(ctx context.Context, event *model.WebhookEvent) error {
	cfg, err := config.Fetch()
	if err != nil {
		return err
	}
	delay := time.Duration(cfg.Queue.RequeueDelaySeconds) * time.Second
	return h.queue.Requeue(ctx, event, delay)
}
