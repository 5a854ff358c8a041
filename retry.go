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
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/hookline/hookline/config"
	"github.com/hookline/hookline/model"
)

// RetryPassConfig controls a single sweep of the dead-letter store.
type RetryPassConfig struct {
	// Status filters the sweep; defaults to PENDING.
	Status string
	// AsOf is the eligibility cutoff; records with next_retry_at after it are
	// skipped. Defaults to the wall clock.
	AsOf time.Time
	// Concurrency bounds the in-flight retries within a page.
	Concurrency int
	// PageSize bounds the records read per query.
	PageSize int
}

// RetryPassResult summarizes one completed sweep.
type RetryPassResult struct {
	Scanned     int      `json:"scanned"`
	Resubmitted []string `json:"resubmitted"`
	Failed      int      `json:"failed"`
	Exhausted   int      `json:"exhausted"`
}

func (h *Hookline) defaultedPassConfig(cfg RetryPassConfig) RetryPassConfig {
	if cfg.Status == "" {
		cfg.Status = model.StatusPending
	}
	if cfg.AsOf.IsZero() {
		cfg.AsOf = time.Now()
	}
	if conf, err := config.Fetch(); err == nil {
		if cfg.Concurrency <= 0 {
			cfg.Concurrency = conf.Retry.Concurrency
		}
		if cfg.PageSize <= 0 {
			cfg.PageSize = conf.Retry.PageSize
		}
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = 100
	}
	return cfg
}

// ProcessRetries sweeps the dead-letter store for records due a retry and
// re-attempts delivery for each. Pages are read with a keyset cursor on
// event_id, so each eligible record is visited exactly once per pass even as
// delivered records drop out of the filter between pages. Each page's updated
// records are written back in one batch before the next page is read.
//
// Per-record failures never abort the pass; an error reading a page or writing
// its results does.
func (h *Hookline) ProcessRetries(ctx context.Context, passCfg RetryPassConfig) (*RetryPassResult, error) {
	ctx, span := tracer.Start(ctx, "Processing Dead Letter Retries")
	defer span.End()

	passCfg = h.defaultedPassConfig(passCfg)
	policy := h.retryPolicy()
	result := &RetryPassResult{Resubmitted: []string{}}

	cursor := ""
	for {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		page, err := h.datasource.FindEligibleForRetry(ctx, passCfg.Status, passCfg.AsOf, policy.MaxAttempts, cursor, passCfg.PageSize)
		if err != nil {
			return result, err
		}
		if len(page) == 0 {
			break
		}
		cursor = page[len(page)-1].EventID

		h.retryPage(ctx, page, policy, passCfg.Concurrency, result)

		if err := h.datasource.SaveDeadLetterEvents(ctx, page); err != nil {
			return result, err
		}

		if len(page) < passCfg.PageSize {
			break
		}
	}

	logrus.WithFields(logrus.Fields{
		"scanned":     result.Scanned,
		"resubmitted": len(result.Resubmitted),
		"failed":      result.Failed,
		"exhausted":   result.Exhausted,
	}).Info("Completed dead letter retry pass")
	return result, nil
}

// retryPage re-attempts every record of a page with a bounded worker pool.
// Records are mutated in place; the caller persists the whole page afterwards.
func (h *Hookline) retryPage(ctx context.Context, page []*model.DeadLetterRecord, policy model.RetryPolicy, concurrency int, result *RetryPassResult) {
	var mu sync.Mutex
	var wg sync.WaitGroup
	sem := make(chan struct{}, concurrency)

	for _, record := range page {
		wg.Add(1)
		sem <- struct{}{}
		go func(r *model.DeadLetterRecord) {
			defer wg.Done()
			defer func() { <-sem }()
			defer func() {
				// A panic in one record's retry must not take down the pass.
				if rec := recover(); rec != nil {
					logrus.Errorf("panic retrying event %s: %v", r.EventID, rec)
					mu.Lock()
					r.MarkAttemptFailed(fmt.Sprintf("panic: %v", rec), time.Now(), policy)
					result.Failed++
					mu.Unlock()
				}
			}()

			delivered := h.retryRecord(ctx, r, policy)

			mu.Lock()
			result.Scanned++
			switch {
			case delivered:
				result.Resubmitted = append(result.Resubmitted, r.EventID)
			case r.Status == model.StatusFailed:
				result.Exhausted++
			default:
				result.Failed++
			}
			mu.Unlock()
		}(record)
	}
	wg.Wait()
}

// retryRecord performs a single retry attempt for a dead-letter record and
// applies the resulting state transition.
func (h *Hookline) retryRecord(ctx context.Context, record *model.DeadLetterRecord, policy model.RetryPolicy) bool {
	now := time.Now()
	record.MarkRetrying(now, policy)

	event := &model.WebhookEvent{
		EventID:   record.EventID,
		AccountID: record.AccountID,
		EventType: record.EventType,
		Payload:   record.Payload,
	}

	err := h.guardedSend(ctx, event)
	if err == nil {
		record.MarkProcessed(time.Now())
		h.armDedupMarker(ctx, record.EventID)
		logrus.Infof("Retry succeeded for event: %s", record.EventID)
		return true
	}

	record.MarkAttemptFailed(err.Error(), time.Now(), policy)
	if record.Status == model.StatusFailed {
		logrus.Errorf("Max retries exceeded for event: %s", record.EventID)
	} else {
		logrus.WithFields(logrus.Fields{
			"event_id":      record.EventID,
			"retry_count":   record.RetryCount,
			"next_retry_at": record.NextRetryAt,
		}).Warnf("Retry failed for event: %s", record.EventID)
	}
	return false
}

// armDedupMarker marks an event id delivered so a late duplicate arrival on
// the inbound stream is dropped.
func (h *Hookline) armDedupMarker(ctx context.Context, eventID string) {
	cfg, err := config.Fetch()
	ttl := 30 * time.Minute
	if err == nil {
		ttl = time.Duration(cfg.Dedup.TTLSeconds) * time.Second
	}
	if err := h.dedup.Set(ctx, dedupKeyPrefix+eventID, "1", ttl); err != nil {
		logrus.Errorf("failed to set dedup marker for event %s: %v", eventID, err)
	}
}

// RetryProcessor periodically sweeps the dead-letter store.
type RetryProcessor struct {
	engine   *Hookline
	interval time.Duration
	stopChan chan struct{}
	running  bool
	mu       sync.Mutex
}

// NewRetryProcessor creates a processor sweeping at the configured interval.
func NewRetryProcessor(engine *Hookline) *RetryProcessor {
	interval := 60 * time.Second
	if cfg, err := config.Fetch(); err == nil && cfg.Retry.CheckIntervalSeconds > 0 {
		interval = time.Duration(cfg.Retry.CheckIntervalSeconds) * time.Second
	}
	return &RetryProcessor{
		engine:   engine,
		interval: interval,
		stopChan: make(chan struct{}),
	}
}

// Start begins periodic retry sweeps. It returns an error if the processor
// is already running.
func (p *RetryProcessor) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return fmt.Errorf("retry processor is already running")
	}
	p.running = true
	p.mu.Unlock()

	logrus.Infof("Starting retry processor with interval %v", p.interval)

	go func() {
		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				logrus.Info("Retry processor stopping: context canceled")
				p.markStopped()
				return
			case <-p.stopChan:
				logrus.Info("Retry processor stopping")
				p.markStopped()
				return
			case <-ticker.C:
				if _, err := p.engine.ProcessRetries(ctx, RetryPassConfig{}); err != nil {
					logrus.Errorf("retry pass failed: %v", err)
				}
			}
		}
	}()

	return nil
}

// Stop halts the periodic sweeps.
func (p *RetryProcessor) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.running {
		return
	}
	close(p.stopChan)
}

func (p *RetryProcessor) markStopped() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.running = false
}

// IsRunning reports whether the processor is active.
func (p *RetryProcessor) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}
