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

package database

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hookline/hookline/model"
)

var deadLetterTestColumns = []string{
	"event_id", "account_id", "event_type", "payload", "status", "retry_count",
	"created_at", "last_retry_at", "next_retry_at", "last_error_message", "failure_reason",
}

func newTestDatasource(t *testing.T) (Datasource, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return Datasource{Conn: db}, mock
}

func TestGetDeadLetterEvent(t *testing.T) {
	d, mock := newTestDatasource(t)
	now := time.Now()

	rows := sqlmock.NewRows(deadLetterTestColumns).
		AddRow("evt_1", "acc_1", "payment.settled", `{"a":1}`, model.StatusPending, 2,
			now, now, now.Add(time.Minute), "timeout", "timeout")

	mock.ExpectQuery("(?s)SELECT .* FROM dead_letter_events.*WHERE event_id = \\$1").
		WithArgs("evt_1").
		WillReturnRows(rows)

	record, err := d.GetDeadLetterEvent(context.Background(), "evt_1")
	require.NoError(t, err)
	require.NotNil(t, record)
	assert.Equal(t, "evt_1", record.EventID)
	assert.Equal(t, model.StatusPending, record.Status)
	assert.Equal(t, 2, record.RetryCount)
	assert.Equal(t, "timeout", record.LastErrorMessage)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetDeadLetterEventNotFound(t *testing.T) {
	d, mock := newTestDatasource(t)

	mock.ExpectQuery("(?s)SELECT .* FROM dead_letter_events.*WHERE event_id = \\$1").
		WithArgs("evt_missing").
		WillReturnRows(sqlmock.NewRows(deadLetterTestColumns))

	record, err := d.GetDeadLetterEvent(context.Background(), "evt_missing")
	assert.NoError(t, err)
	assert.Nil(t, record)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetDeadLetterEventNullTimestamps(t *testing.T) {
	d, mock := newTestDatasource(t)
	now := time.Now()

	rows := sqlmock.NewRows(deadLetterTestColumns).
		AddRow("evt_1", "acc_1", "payment.settled", `{}`, model.StatusFailed, 5,
			now, now, nil, "max retries", "timeout")

	mock.ExpectQuery("(?s)SELECT .* FROM dead_letter_events.*WHERE event_id = \\$1").
		WithArgs("evt_1").
		WillReturnRows(rows)

	record, err := d.GetDeadLetterEvent(context.Background(), "evt_1")
	require.NoError(t, err)
	assert.True(t, record.NextRetryAt.IsZero())

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveDeadLetterEventsUpsertsBatch(t *testing.T) {
	d, mock := newTestDatasource(t)
	now := time.Now()
	policy := model.RetryPolicy{MaxAttempts: 5, InitialDelay: time.Minute, Multiplier: 2}

	first := model.NewDeadLetterRecord("evt_1", "acc_1", "payment.settled", `{}`, "timeout", now, policy)
	second := model.NewDeadLetterRecord("evt_2", "acc_2", "payment.settled", `{}`, "refused", now, policy)

	mock.ExpectExec("(?s)INSERT INTO dead_letter_events.*ON CONFLICT \\(event_id\\) DO UPDATE SET").
		WithArgs(
			"evt_1", "acc_1", "payment.settled", `{}`, model.StatusPending, 0,
			sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), "timeout", "timeout",
			"evt_2", "acc_2", "payment.settled", `{}`, model.StatusPending, 0,
			sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), "refused", "refused",
		).
		WillReturnResult(sqlmock.NewResult(0, 2))

	err := d.SaveDeadLetterEvents(context.Background(), []*model.DeadLetterRecord{first, second})
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveDeadLetterEventsEmptyBatchIsNoop(t *testing.T) {
	d, mock := newTestDatasource(t)

	err := d.SaveDeadLetterEvents(context.Background(), nil)
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFindEligibleForRetry(t *testing.T) {
	d, mock := newTestDatasource(t)
	now := time.Now()

	rows := sqlmock.NewRows(deadLetterTestColumns).
		AddRow("evt_1", "acc_1", "a", `{}`, model.StatusPending, 1, now, now, now.Add(-time.Minute), "x", "x").
		AddRow("evt_2", "acc_1", "a", `{}`, model.StatusPending, 2, now, now, now.Add(-time.Second), "y", "y")

	mock.ExpectQuery("(?s)SELECT .* FROM dead_letter_events.*WHERE status = \\$1.*AND retry_count < \\$2.*AND next_retry_at <= \\$3.*AND event_id > \\$4.*ORDER BY event_id.*LIMIT \\$5").
		WithArgs(model.StatusPending, 5, sqlmock.AnyArg(), "", 100).
		WillReturnRows(rows)

	records, err := d.FindEligibleForRetry(context.Background(), model.StatusPending, now, 5, "", 100)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "evt_1", records[0].EventID)
	assert.Equal(t, "evt_2", records[1].EventID)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListDeadLetterEvents(t *testing.T) {
	d, mock := newTestDatasource(t)
	now := time.Now()

	rows := sqlmock.NewRows(deadLetterTestColumns).
		AddRow("evt_9", "acc_1", "a", `{}`, model.StatusFailed, 5, now, now, nil, "x", "x")

	mock.ExpectQuery("(?s)SELECT .* FROM dead_letter_events.*WHERE status = \\$1.*ORDER BY created_at DESC, event_id.*LIMIT \\$2 OFFSET \\$3").
		WithArgs(model.StatusFailed, 50, 0).
		WillReturnRows(rows)

	records, err := d.ListDeadLetterEvents(context.Background(), model.StatusFailed, 50, 0)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, model.StatusFailed, records[0].Status)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListDeadLetterEventsAllStatuses(t *testing.T) {
	d, mock := newTestDatasource(t)

	mock.ExpectQuery("(?s)SELECT .* FROM dead_letter_events.*ORDER BY created_at DESC, event_id.*LIMIT \\$1 OFFSET \\$2").
		WithArgs(10, 20).
		WillReturnRows(sqlmock.NewRows(deadLetterTestColumns))

	records, err := d.ListDeadLetterEvents(context.Background(), "", 10, 20)
	require.NoError(t, err)
	assert.Empty(t, records)

	assert.NoError(t, mock.ExpectationsWereMet())
}
