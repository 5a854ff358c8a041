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
	"encoding/json"
	"errors"
	"fmt"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/google/uuid"

	"github.com/hookline/hookline/model"
)

// EnqueueWebhookEvent is the request body for submitting an event to the
// inbound stream. A missing event id gets one generated, so deduplication
// only kicks in for callers that supply their own ids.
type EnqueueWebhookEvent struct {
	EventID     string          `json:"event_id"`
	AccountID   string          `json:"account_id"`
	EventType   string          `json:"event_type"`
	Payload     json.RawMessage `json:"payload"`
	Destination string          `json:"destination"`
}

func (e *EnqueueWebhookEvent) ValidateEnqueueWebhookEvent() error {
	return validation.ValidateStruct(e,
		validation.Field(&e.AccountID, validation.Required),
		validation.Field(&e.EventType, validation.Required),
		validation.Field(&e.Payload, validation.Required),
	)
}

func (e *EnqueueWebhookEvent) ToWebhookEvent() *model.WebhookEvent {
	eventID := e.EventID
	if eventID == "" {
		eventID = "evt_" + uuid.New().String()
	}
	return &model.WebhookEvent{
		EventID:     eventID,
		AccountID:   e.AccountID,
		EventType:   e.EventType,
		Payload:     string(e.Payload),
		Destination: e.Destination,
	}
}

// TriggerRetryPass is the request body for an on-demand sweep of the
// dead-letter store. All fields are optional; zero values defer to
// configuration.
type TriggerRetryPass struct {
	Status      string `json:"status"`
	AsOf        string `json:"as_of"`
	PageSize    int    `json:"page_size"`
	Concurrency int    `json:"concurrency"`
}

func (t *TriggerRetryPass) ValidateTriggerRetryPass() error {
	return validation.ValidateStruct(t,
		validation.Field(&t.Status, validation.In(model.StatusPending, model.StatusRetrying, model.StatusFailed, model.StatusProcessed)),
		validation.Field(&t.AsOf, validation.By(asOfFormatValidation(t))),
		validation.Field(&t.PageSize, validation.Min(0)),
		validation.Field(&t.Concurrency, validation.Min(0)),
	)
}

func asOfFormatValidation(t *TriggerRetryPass) validation.RuleFunc {
	return func(value interface{}) error {
		if t.AsOf == "" {
			return nil
		}
		if _, err := time.Parse(time.RFC3339, t.AsOf); err != nil {
			return errors.New("please format as_of as 'YYYY-MM-DDTHH:MM:SS+00:00' (e.g., 2024-04-22T15:28:03+00:00)")
		}
		return nil
	}
}

// ParsedAsOf returns the eligibility cutoff, or zero when not supplied.
func (t *TriggerRetryPass) ParsedAsOf() (time.Time, error) {
	if t.AsOf == "" {
		return time.Time{}, nil
	}
	asOf, err := time.Parse(time.RFC3339, t.AsOf)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid as_of: %w", err)
	}
	return asOf, nil
}
