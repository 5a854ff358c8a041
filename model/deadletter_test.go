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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func testPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, InitialDelay: 60 * time.Second, Multiplier: 2.0}
}

func TestNewDeadLetterRecordSchedulesInitialDelay(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	record := NewDeadLetterRecord("evt_1", "acc_1", "payment.settled", `{"a":1}`, "connect refused", now, testPolicy())

	assert.Equal(t, StatusPending, record.Status)
	assert.Equal(t, 0, record.RetryCount)
	assert.Equal(t, now.Add(60*time.Second), record.NextRetryAt)
	assert.Equal(t, "connect refused", record.FailureReason)
	assert.Equal(t, "connect refused", record.LastErrorMessage)
}

func TestNextRetryTimeGrowsExponentially(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	assert.Equal(t, now.Add(60*time.Second), NextRetryTime(now, 0, 60*time.Second, 2.0))
	assert.Equal(t, now.Add(120*time.Second), NextRetryTime(now, 1, 60*time.Second, 2.0))
	assert.Equal(t, now.Add(240*time.Second), NextRetryTime(now, 2, 60*time.Second, 2.0))
	assert.Equal(t, now.Add(480*time.Second), NextRetryTime(now, 3, 60*time.Second, 2.0))
}

func TestNextRetryTimeTruncatesToWholeSeconds(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	// 10 * 1.5^1 = 15s, 10 * 1.5^3 = 33.75s -> 33s
	assert.Equal(t, now.Add(15*time.Second), NextRetryTime(now, 1, 10*time.Second, 1.5))
	assert.Equal(t, now.Add(33*time.Second), NextRetryTime(now, 3, 10*time.Second, 1.5))
}

func TestFailedAttemptsWalkTheBackoffSchedule(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	record := NewDeadLetterRecord("evt_1", "acc_1", "payment.settled", `{}`, "timeout", now, testPolicy())

	// First scheduled retry sits at +60s.
	assert.Equal(t, now.Add(60*time.Second), record.NextRetryAt)

	attempt1 := now.Add(60 * time.Second)
	record.MarkRetrying(attempt1, testPolicy())
	assert.Equal(t, StatusRetrying, record.Status)
	record.MarkAttemptFailed("timeout", attempt1, testPolicy())
	assert.Equal(t, StatusPending, record.Status)
	assert.Equal(t, 1, record.RetryCount)
	assert.Equal(t, attempt1.Add(120*time.Second), record.NextRetryAt)

	attempt2 := attempt1.Add(120 * time.Second)
	record.MarkAttemptFailed("timeout", attempt2, testPolicy())
	assert.Equal(t, StatusPending, record.Status)
	assert.Equal(t, 2, record.RetryCount)
	assert.Equal(t, attempt2.Add(240*time.Second), record.NextRetryAt)

	attempt3 := attempt2.Add(240 * time.Second)
	record.MarkAttemptFailed("timeout", attempt3, testPolicy())
	assert.Equal(t, StatusFailed, record.Status)
	assert.Equal(t, 3, record.RetryCount)
	assert.True(t, record.NextRetryAt.IsZero(), "terminal record must not carry a schedule")
}

func TestTerminalRecordsNeverMove(t *testing.T) {
	now := time.Now()
	record := NewDeadLetterRecord("evt_1", "acc_1", "payment.settled", `{}`, "boom", now, testPolicy())
	record.Status = StatusFailed

	record.MarkAttemptFailed("boom again", now, testPolicy())
	assert.Equal(t, StatusFailed, record.Status)
	assert.Equal(t, 0, record.RetryCount)

	record.MarkRetrying(now, testPolicy())
	assert.Equal(t, StatusFailed, record.Status)

	record.MarkProcessed(now)
	assert.Equal(t, StatusFailed, record.Status)
}

func TestMarkProcessedClosesActiveRecord(t *testing.T) {
	now := time.Now()
	record := NewDeadLetterRecord("evt_1", "acc_1", "payment.settled", `{}`, "boom", now, testPolicy())

	record.MarkAttemptFailed("boom", now, testPolicy())
	record.MarkProcessed(now.Add(time.Minute))

	assert.Equal(t, StatusProcessed, record.Status)
	assert.True(t, record.IsTerminal())
}
