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
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hookline/hookline/internal/apierror"
	"github.com/hookline/hookline/model"
	"github.com/lib/pq"
)

const deadLetterColumns = `event_id, account_id, event_type, payload, status, retry_count,
	created_at, last_retry_at, next_retry_at, last_error_message, failure_reason`

// GetDeadLetterEvent retrieves a single record by event ID. A missing record
// is not an error here; callers that require presence map nil to not-found.
func (d Datasource) GetDeadLetterEvent(ctx context.Context, eventID string) (*model.DeadLetterRecord, error) {
	row := d.Conn.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT %s
		FROM dead_letter_events
		WHERE event_id = $1
	`, deadLetterColumns), eventID)

	record, err := scanDeadLetterRecord(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve dead letter event", err)
	}
	return record, nil
}

// GetDeadLetterEvents bulk-reads records for the given event IDs in one query.
func (d Datasource) GetDeadLetterEvents(ctx context.Context, eventIDs []string) (map[string]*model.DeadLetterRecord, error) {
	records := make(map[string]*model.DeadLetterRecord, len(eventIDs))
	if len(eventIDs) == 0 {
		return records, nil
	}

	rows, err := d.Conn.QueryContext(ctx, fmt.Sprintf(`
		SELECT %s
		FROM dead_letter_events
		WHERE event_id = ANY($1)
	`, deadLetterColumns), pq.Array(eventIDs))
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve dead letter events", err)
	}
	defer rows.Close()

	for rows.Next() {
		record, err := scanDeadLetterRecord(rows)
		if err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan dead letter event", err)
		}
		records[record.EventID] = record
	}
	if err := rows.Err(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to read dead letter events", err)
	}

	return records, nil
}

// SaveDeadLetterEvents upserts a batch of records in a single statement.
// Existing rows are overwritten with the caller's state; the caller is
// expected to have read the row it is updating within the same pass.
func (d Datasource) SaveDeadLetterEvents(ctx context.Context, records []*model.DeadLetterRecord) error {
	if len(records) == 0 {
		return nil
	}

	valueStrings := make([]string, 0, len(records))
	valueArgs := make([]interface{}, 0, len(records)*11)
	for i, record := range records {
		base := i * 11
		valueStrings = append(valueStrings, fmt.Sprintf("($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7, base+8, base+9, base+10, base+11))
		valueArgs = append(valueArgs,
			record.EventID,
			record.AccountID,
			record.EventType,
			record.Payload,
			record.Status,
			record.RetryCount,
			record.CreatedAt,
			nullableTime(record.LastRetryAt),
			nullableTime(record.NextRetryAt),
			record.LastErrorMessage,
			record.FailureReason,
		)
	}

	query := fmt.Sprintf(`
		INSERT INTO dead_letter_events (%s)
		VALUES %s
		ON CONFLICT (event_id) DO UPDATE SET
			status = EXCLUDED.status,
			retry_count = EXCLUDED.retry_count,
			last_retry_at = EXCLUDED.last_retry_at,
			next_retry_at = EXCLUDED.next_retry_at,
			last_error_message = EXCLUDED.last_error_message,
			failure_reason = EXCLUDED.failure_reason
	`, deadLetterColumns, strings.Join(valueStrings, ", "))

	_, err := d.Conn.ExecContext(ctx, query, valueArgs...)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to save dead letter events", err)
	}
	return nil
}

// FindEligibleForRetry returns one page of records awaiting retry, in stable
// event_id order. Keyset pagination (afterEventID cursor) guarantees every
// record is visited exactly once even as processed rows drop out of the
// filter between pages.
func (d Datasource) FindEligibleForRetry(ctx context.Context, status string, before time.Time, maxRetries int, afterEventID string, limit int) ([]*model.DeadLetterRecord, error) {
	rows, err := d.Conn.QueryContext(ctx, fmt.Sprintf(`
		SELECT %s
		FROM dead_letter_events
		WHERE status = $1
		  AND retry_count < $2
		  AND next_retry_at <= $3
		  AND event_id > $4
		ORDER BY event_id
		LIMIT $5
	`, deadLetterColumns), status, maxRetries, before, afterEventID, limit)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to find events eligible for retry", err)
	}
	defer rows.Close()

	return collectDeadLetterRecords(rows)
}

// ListDeadLetterEvents returns a page of records for the query surface. An
// empty status lists across all statuses.
func (d Datasource) ListDeadLetterEvents(ctx context.Context, status string, limit, offset int) ([]*model.DeadLetterRecord, error) {
	var rows *sql.Rows
	var err error
	if status == "" {
		rows, err = d.Conn.QueryContext(ctx, fmt.Sprintf(`
			SELECT %s
			FROM dead_letter_events
			ORDER BY created_at DESC, event_id
			LIMIT $1 OFFSET $2
		`, deadLetterColumns), limit, offset)
	} else {
		rows, err = d.Conn.QueryContext(ctx, fmt.Sprintf(`
			SELECT %s
			FROM dead_letter_events
			WHERE status = $1
			ORDER BY created_at DESC, event_id
			LIMIT $2 OFFSET $3
		`, deadLetterColumns), status, limit, offset)
	}
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to list dead letter events", err)
	}
	defer rows.Close()

	return collectDeadLetterRecords(rows)
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanDeadLetterRecord(row rowScanner) (*model.DeadLetterRecord, error) {
	record := model.DeadLetterRecord{}
	var lastRetryAt, nextRetryAt sql.NullTime
	var lastErrorMessage, failureReason sql.NullString
	err := row.Scan(
		&record.EventID,
		&record.AccountID,
		&record.EventType,
		&record.Payload,
		&record.Status,
		&record.RetryCount,
		&record.CreatedAt,
		&lastRetryAt,
		&nextRetryAt,
		&lastErrorMessage,
		&failureReason,
	)
	if err != nil {
		return nil, err
	}
	if lastRetryAt.Valid {
		record.LastRetryAt = lastRetryAt.Time
	}
	if nextRetryAt.Valid {
		record.NextRetryAt = nextRetryAt.Time
	}
	record.LastErrorMessage = lastErrorMessage.String
	record.FailureReason = failureReason.String
	return &record, nil
}

func collectDeadLetterRecords(rows *sql.Rows) ([]*model.DeadLetterRecord, error) {
	records := []*model.DeadLetterRecord{}
	for rows.Next() {
		record, err := scanDeadLetterRecord(rows)
		if err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan dead letter event", err)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to read dead letter events", err)
	}
	return records, nil
}

func nullableTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}
