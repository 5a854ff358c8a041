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
	"time"

	"github.com/hookline/hookline/model"
)

// IDataSource defines the interface for data source operations, grouping related functionalities.
type IDataSource interface {
	deadLetter // Interface for dead-letter store operations
}

// deadLetter defines methods for the durable dead-letter store.
type deadLetter interface {
	GetDeadLetterEvent(ctx context.Context, eventID string) (*model.DeadLetterRecord, error)                                                                      // Retrieves a record by event ID, nil when absent
	GetDeadLetterEvents(ctx context.Context, eventIDs []string) (map[string]*model.DeadLetterRecord, error)                                                       // Bulk point-read keyed by event ID
	SaveDeadLetterEvents(ctx context.Context, records []*model.DeadLetterRecord) error                                                                            // Bulk upsert, one round trip per batch
	FindEligibleForRetry(ctx context.Context, status string, before time.Time, maxRetries int, afterEventID string, limit int) ([]*model.DeadLetterRecord, error) // Keyset-paginated eligibility scan
	ListDeadLetterEvents(ctx context.Context, status string, limit, offset int) ([]*model.DeadLetterRecord, error)                                                // Read-only query surface
}
