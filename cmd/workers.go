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

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"

	"github.com/hookline/hookline"
	"github.com/hookline/hookline/config"
	redis_db "github.com/hookline/hookline/internal/redis-db"
	"github.com/hookline/hookline/model"

	"github.com/hibiken/asynq"
	"github.com/hibiken/asynqmon"
)

// processWebhookEvent resolves one queued event through the delivery pipeline.
// The pipeline never fails the task: a delivery failure lands in the
// dead-letter store, a rate limit requeues, and the broker ack goes through
// either way.
func (h *hooklineInstance) processWebhookEvent(ctx context.Context, t *asynq.Task) error {
	ctx, span := otel.Tracer("hookline.events.worker").Start(ctx, "Process Webhook Event From Redis Queue")
	defer span.End()

	var event model.WebhookEvent
	if err := json.Unmarshal(t.Payload(), &event); err != nil {
		logrus.Error(err)
		return err
	}

	outcome := h.hookline.ProcessEvent(ctx, &event)
	log.Printf(" [*] Webhook Event Resolved %s %s", event.EventID, outcome)
	return nil
}

func initializeQueues() map[string]int {
	cfg, err := config.Fetch()
	if err != nil {
		log.Printf("Error fetching config, using defaults: %v", err)
		return nil
	}

	queues := make(map[string]int)
	for i := 1; i <= cfg.Queue.NumberOfQueues; i++ {
		queueName := fmt.Sprintf("%s_%d", cfg.Queue.WebhookQueue, i)
		queues[queueName] = 1
	}
	return queues
}

func initializeWorkerServer(conf *config.Configuration, queues map[string]int) (*asynq.Server, error) {
	redisOption, err := redis_db.ParseRedisURL(conf.Redis.Dns, conf.Redis.SkipTLSVerify)
	if err != nil {
		return nil, fmt.Errorf("error parsing Redis URL: %v", err)
	}

	return asynq.NewServer(
		asynq.RedisClientOpt{
			Addr:      redisOption.Addr,
			Password:  redisOption.Password,
			DB:        redisOption.DB,
			TLSConfig: redisOption.TLSConfig,
		},
		asynq.Config{
			Concurrency: conf.Retry.Concurrency,
			Queues:      queues,
		},
	), nil
}

func initializeTaskHandlers(h *hooklineInstance, mux *asynq.ServeMux) {
	cfg, err := config.Fetch()
	if err != nil {
		log.Printf("Error fetching config, using defaults: %v", err)
		return
	}

	for i := 1; i <= cfg.Queue.NumberOfQueues; i++ {
		queueName := fmt.Sprintf("%s_%d", cfg.Queue.WebhookQueue, i)
		mux.HandleFunc(queueName, h.processWebhookEvent)
	}
}

// workerCommands defines the "workers" command. Workers consume the sharded
// inbound queues and run the periodic dead-letter retry processor.
func workerCommands(h *hooklineInstance) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "workers",
		Short: "start hookline workers",
		Run: func(cmd *cobra.Command, args []string) {
			ctx := context.Background()

			conf, err := config.Fetch()
			if err != nil {
				log.Fatal("Error fetching config:", err)
			}

			queues := initializeQueues()

			srv, err := initializeWorkerServer(conf, queues)
			if err != nil {
				log.Fatal(err)
			}

			mux := asynq.NewServeMux()
			initializeTaskHandlers(h, mux)

			// Start the periodic dead-letter sweep alongside the consumers.
			retryProcessor := hookline.NewRetryProcessor(h.hookline)
			if err := retryProcessor.Start(ctx); err != nil {
				log.Fatal(err)
			}
			defer retryProcessor.Stop()

			// Start asynqmon server for health checks and monitoring
			redisOption, _ := redis_db.ParseRedisURL(conf.Redis.Dns, conf.Redis.SkipTLSVerify)
			mon := asynqmon.New(asynqmon.Options{
				RootPath: "/monitoring",
				RedisConnOpt: asynq.RedisClientOpt{
					Addr:      redisOption.Addr,
					Password:  redisOption.Password,
					DB:        redisOption.DB,
					TLSConfig: redisOption.TLSConfig,
				},
			})

			go func() {
				monitoringAddr := fmt.Sprintf(":%s", conf.Queue.MonitoringPort)
				log.Printf("Asynqmon server listening on %s/monitoring", monitoringAddr)
				if err := http.ListenAndServe(monitoringAddr, mon); err != nil {
					log.Fatalf("could not start asynqmon server: %v", err)
				}
			}()

			if err := srv.Run(mux); err != nil {
				log.Fatalf("could not run server: %v", err)
			}
		},
	}

	return cmd
}
