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

// WebhookEvent is an inbound event read from the event stream. Payload is kept
// verbatim so a dead-lettered event can be replayed byte for byte.
type WebhookEvent struct {
	EventID     string `json:"event_id"`
	AccountID   string `json:"account_id"`
	EventType   string `json:"event_type"`
	Payload     string `json:"payload"`
	Destination string `json:"destination,omitempty"`
}
