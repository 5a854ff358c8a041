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
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"

	"github.com/hookline/hookline/config"
	"github.com/hookline/hookline/model"
)

// mockDataSource is an in-memory dead-letter store keyed by event id.
type mockDataSource struct {
	mu      sync.Mutex
	records map[string]*model.DeadLetterRecord

	findCalls int
	saveCalls int

	findErr error
	saveErr error
}

func newMockDataSource() *mockDataSource {
	return &mockDataSource{records: map[string]*model.DeadLetterRecord{}}
}

func (m *mockDataSource) GetDeadLetterEvent(_ context.Context, eventID string) (*model.DeadLetterRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	record, ok := m.records[eventID]
	if !ok {
		return nil, nil
	}
	clone := *record
	return &clone, nil
}

func (m *mockDataSource) GetDeadLetterEvents(_ context.Context, eventIDs []string) (map[string]*model.DeadLetterRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]*model.DeadLetterRecord, len(eventIDs))
	for _, id := range eventIDs {
		if record, ok := m.records[id]; ok {
			clone := *record
			out[id] = &clone
		}
	}
	return out, nil
}

func (m *mockDataSource) SaveDeadLetterEvents(_ context.Context, records []*model.DeadLetterRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saveCalls++
	if m.saveErr != nil {
		return m.saveErr
	}
	for _, record := range records {
		clone := *record
		m.records[record.EventID] = &clone
	}
	return nil
}

func (m *mockDataSource) FindEligibleForRetry(_ context.Context, status string, before time.Time, maxRetries int, afterEventID string, limit int) ([]*model.DeadLetterRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.findCalls++
	if m.findErr != nil {
		return nil, m.findErr
	}

	ids := make([]string, 0, len(m.records))
	for id := range m.records {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	page := []*model.DeadLetterRecord{}
	for _, id := range ids {
		record := m.records[id]
		if record.Status != status || record.RetryCount >= maxRetries {
			continue
		}
		if record.NextRetryAt.After(before) || id <= afterEventID {
			continue
		}
		clone := *record
		page = append(page, &clone)
		if len(page) == limit {
			break
		}
	}
	return page, nil
}

func (m *mockDataSource) ListDeadLetterEvents(_ context.Context, status string, limit, offset int) ([]*model.DeadLetterRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []*model.DeadLetterRecord{}
	for _, record := range m.records {
		if status == "" || record.Status == status {
			clone := *record
			out = append(out, &clone)
		}
	}
	return out, nil
}

func (m *mockDataSource) get(eventID string) *model.DeadLetterRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.records[eventID]
}

func (m *mockDataSource) put(record *model.DeadLetterRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	clone := *record
	m.records[record.EventID] = &clone
}

// mockSender scripts outbound send results per event id.
type mockSender struct {
	mu       sync.Mutex
	calls    map[string]int
	total    int
	failAll  bool
	failIDs  map[string]bool
	sendErrs map[string]error
}

func newMockSender() *mockSender {
	return &mockSender{calls: map[string]int{}, failIDs: map[string]bool{}, sendErrs: map[string]error{}}
}

func (s *mockSender) Send(_ context.Context, _ string, payload []byte) (bool, error) {
	eventID := string(payload)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls[eventID]++
	s.total++
	if err, ok := s.sendErrs[eventID]; ok {
		return false, err
	}
	if s.failAll || s.failIDs[eventID] {
		return false, nil
	}
	return true, nil
}

func (s *mockSender) callCount(eventID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[eventID]
}

func (s *mockSender) totalCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.total
}

func testConfiguration(redisAddr string) *config.Configuration {
	cnf := &config.Configuration{
		Redis: config.RedisConfig{Dns: redisAddr},
		Retry: config.RetryConfig{
			MaxAttempts:          3,
			InitialDelaySeconds:  60,
			Multiplier:           2.0,
			CheckIntervalSeconds: 1,
			PageSize:             100,
			Concurrency:          4,
			ImmediateAttempts:    1,
		},
		RateLimit:      config.RateLimitConfig{Limit: 100, WindowSeconds: 60},
		Dedup:          config.DedupConfig{TTLSeconds: 1800},
		CircuitBreaker: config.CircuitBreakerConfig{WindowSize: 1000, FailureRateThreshold: 0.5, OpenTimeoutSeconds: 30, HalfOpenMaxCalls: 1},
		Queue:          config.QueueConfig{WebhookQueue: "new:webhook", NumberOfQueues: 1, BatchTimeoutSeconds: 10, RequeueDelaySeconds: 1},
	}
	return cnf
}

// newTestEngine wires the engine against miniredis with an in-memory store
// and a scripted sender. Callers adjust the stored configuration before use
// when a test needs different limits.
func newTestEngine(t *testing.T, cnf *config.Configuration) (*Hookline, *mockDataSource, *mockSender) {
	t.Helper()

	if cnf == nil {
		mr, err := miniredis.Run()
		require.NoError(t, err)
		t.Cleanup(mr.Close)
		cnf = testConfiguration(mr.Addr())
	}
	config.MockConfig(cnf)

	ds := newMockDataSource()
	engine, err := NewHookline(ds)
	require.NoError(t, err)

	sender := newMockSender()
	engine.sender = sender
	return engine, ds, sender
}

func testEvent(eventID, accountID string) *model.WebhookEvent {
	return &model.WebhookEvent{
		EventID:     eventID,
		AccountID:   accountID,
		EventType:   "payment.settled",
		Payload:     eventID, // mockSender keys its script on the payload
		Destination: "https://example.com/webhooks",
	}
}
