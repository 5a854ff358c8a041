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

package model

import (
	"math"
	"time"
)

// Dead letter event statuses. A record moves PENDING -> RETRYING -> PENDING
// on a failed attempt, and terminates in either FAILED (retries exhausted)
// or PROCESSED (eventually delivered).
const (
	StatusPending   = "PENDING"
	StatusRetrying  = "RETRYING"
	StatusFailed    = "FAILED"
	StatusProcessed = "PROCESSED"
)

// RetryPolicy holds the backoff parameters applied to every failed delivery.
// Values come from configuration and are validated at startup.
type RetryPolicy struct {
	MaxAttempts  int
	InitialDelay time.Duration
	Multiplier   float64
}

// DeadLetterRecord is the unit of recovery. One record exists per event id;
// re-arrival of the same id merges into the existing record.
type DeadLetterRecord struct {
	EventID          string    `json:"event_id"`
	AccountID        string    `json:"account_id"`
	EventType        string    `json:"event_type"`
	Payload          string    `json:"payload"`
	Status           string    `json:"status"`
	RetryCount       int       `json:"retry_count"`
	CreatedAt        time.Time `json:"created_at"`
	LastRetryAt      time.Time `json:"last_retry_at,omitempty"`
	NextRetryAt      time.Time `json:"next_retry_at,omitempty"`
	LastErrorMessage string    `json:"last_error_message,omitempty"`
	FailureReason    string    `json:"failure_reason,omitempty"`
}

// NextRetryTime calculates the next attempt timestamp for a given retry count
// using exponential backoff: now + initialDelay * multiplier^retryCount,
// truncated to whole seconds. retryCount 0 yields exactly initialDelay.
func NextRetryTime(now time.Time, retryCount int, initialDelay time.Duration, multiplier float64) time.Time {
	delaySeconds := int64(initialDelay.Seconds() * math.Pow(multiplier, float64(retryCount)))
	return now.Add(time.Duration(delaySeconds) * time.Second)
}

// NewDeadLetterRecord creates the record for an event entering the recovery
// path for the first time. The first scheduled retry uses retry count 0.
func NewDeadLetterRecord(eventID, accountID, eventType, payload, failureReason string, now time.Time, policy RetryPolicy) *DeadLetterRecord {
	return &DeadLetterRecord{
		EventID:          eventID,
		AccountID:        accountID,
		EventType:        eventType,
		Payload:          payload,
		Status:           StatusPending,
		RetryCount:       0,
		CreatedAt:        now,
		NextRetryAt:      NextRetryTime(now, 0, policy.InitialDelay, policy.Multiplier),
		LastErrorMessage: failureReason,
		FailureReason:    failureReason,
	}
}

// IsTerminal reports whether the record can still transition. FAILED and
// PROCESSED records are retained for audit and never move again.
func (r *DeadLetterRecord) IsTerminal() bool {
	return r.Status == StatusFailed || r.Status == StatusProcessed
}

// MarkAttemptFailed applies the failed-attempt transition: the retry count is
// bumped, the next attempt is scheduled with the updated count, and the record
// goes terminal once the retry budget is exhausted.
func (r *DeadLetterRecord) MarkAttemptFailed(errMessage string, now time.Time, policy RetryPolicy) {
	if r.IsTerminal() {
		return
	}
	r.RetryCount++
	r.LastErrorMessage = errMessage
	r.LastRetryAt = now

	if r.RetryCount >= policy.MaxAttempts {
		// Terminal: no further attempt is ever scheduled.
		r.Status = StatusFailed
		r.NextRetryAt = time.Time{}
		return
	}
	r.Status = StatusPending
	r.NextRetryAt = NextRetryTime(now, r.RetryCount, policy.InitialDelay, policy.Multiplier)
}

// MarkRetrying records that a retry attempt has just been dispatched.
func (r *DeadLetterRecord) MarkRetrying(now time.Time, policy RetryPolicy) {
	if r.IsTerminal() {
		return
	}
	r.Status = StatusRetrying
	r.LastRetryAt = now
	r.NextRetryAt = NextRetryTime(now, r.RetryCount, policy.InitialDelay, policy.Multiplier)
}

// MarkProcessed terminates the record after an eventually successful delivery.
func (r *DeadLetterRecord) MarkProcessed(now time.Time) {
	if r.Status == StatusFailed {
		return
	}
	r.Status = StatusProcessed
	r.LastRetryAt = now
}
