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

package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/kelseyhightower/envconfig"

	"github.com/sirupsen/logrus"
)

const (
	DEFAULT_PORT = "5001"
)

var ConfigStore atomic.Value

type ServerConfig struct {
	Port      string `json:"port" envconfig:"HOOKLINE_SERVER_PORT"`
	Secure    bool   `json:"secure" envconfig:"HOOKLINE_SERVER_SECURE"`
	SecretKey string `json:"secret_key" envconfig:"HOOKLINE_SERVER_SECRET_KEY"`
}

type DataSourceConfig struct {
	Dns string `json:"dns" envconfig:"HOOKLINE_DATA_SOURCE_DNS"`
}

type RedisConfig struct {
	Dns           string `json:"dns" envconfig:"HOOKLINE_REDIS_DNS"`
	SkipTLSVerify bool   `json:"skip_tls_verify" envconfig:"HOOKLINE_REDIS_SKIP_TLS_VERIFY"`
}

// RetryConfig drives the dead-letter backoff schedule and the batch retry
// processor. InitialDelaySeconds and Multiplier feed the backoff calculator;
// MaxAttempts bounds the long-horizon retry budget per event.
type RetryConfig struct {
	MaxAttempts          int     `json:"max_attempts" envconfig:"HOOKLINE_RETRY_MAX_ATTEMPTS"`
	InitialDelaySeconds  int     `json:"initial_delay_seconds" envconfig:"HOOKLINE_RETRY_INITIAL_DELAY_SECONDS"`
	Multiplier           float64 `json:"multiplier" envconfig:"HOOKLINE_RETRY_MULTIPLIER"`
	CheckIntervalSeconds int     `json:"check_interval_seconds" envconfig:"HOOKLINE_RETRY_CHECK_INTERVAL_SECONDS"`
	PageSize             int     `json:"page_size" envconfig:"HOOKLINE_RETRY_PAGE_SIZE"`
	Concurrency          int     `json:"concurrency" envconfig:"HOOKLINE_RETRY_CONCURRENCY"`
	ImmediateAttempts    int     `json:"immediate_attempts" envconfig:"HOOKLINE_RETRY_IMMEDIATE_ATTEMPTS"`
}

// RateLimitConfig caps admitted deliveries per account within a rolling
// window, enforced through a shared Redis counter.
type RateLimitConfig struct {
	Limit         int64 `json:"limit" envconfig:"HOOKLINE_RATE_LIMIT"`
	WindowSeconds int   `json:"window_seconds" envconfig:"HOOKLINE_RATE_LIMIT_WINDOW_SECONDS"`
	// HTTP API limits. Nil disables HTTP rate limiting.
	RequestsPerSecond  *float64 `json:"requests_per_second" envconfig:"HOOKLINE_RATE_LIMIT_RPS"`
	Burst              *int     `json:"burst" envconfig:"HOOKLINE_RATE_LIMIT_BURST"`
	CleanupIntervalSec *int     `json:"cleanup_interval_sec" envconfig:"HOOKLINE_RATE_LIMIT_CLEANUP_INTERVAL_SEC"`
}

type DedupConfig struct {
	TTLSeconds int `json:"ttl_seconds" envconfig:"HOOKLINE_DEDUP_TTL_SECONDS"`
}

// CircuitBreakerConfig shapes the per-destination failure-rate state machine.
// WindowSize is the number of calls observed before the failure ratio is
// evaluated against FailureRateThreshold.
type CircuitBreakerConfig struct {
	WindowSize           uint32  `json:"window_size" envconfig:"HOOKLINE_BREAKER_WINDOW_SIZE"`
	FailureRateThreshold float64 `json:"failure_rate_threshold" envconfig:"HOOKLINE_BREAKER_FAILURE_RATE_THRESHOLD"`
	OpenTimeoutSeconds   int     `json:"open_timeout_seconds" envconfig:"HOOKLINE_BREAKER_OPEN_TIMEOUT_SECONDS"`
	HalfOpenMaxCalls     uint32  `json:"half_open_max_calls" envconfig:"HOOKLINE_BREAKER_HALF_OPEN_MAX_CALLS"`
}

type QueueConfig struct {
	WebhookQueue        string `json:"webhook_queue" envconfig:"HOOKLINE_QUEUE_WEBHOOK_QUEUE"`
	NumberOfQueues      int    `json:"number_of_queues" envconfig:"HOOKLINE_QUEUE_NUMBER_OF_QUEUES"`
	BatchTimeoutSeconds int    `json:"batch_timeout_seconds" envconfig:"HOOKLINE_QUEUE_BATCH_TIMEOUT_SECONDS"`
	RequeueDelaySeconds int    `json:"requeue_delay_seconds" envconfig:"HOOKLINE_QUEUE_REQUEUE_DELAY_SECONDS"`
	MonitoringPort      string `json:"monitoring_port" envconfig:"HOOKLINE_QUEUE_MONITORING_PORT"`
}

type SlackWebhook struct {
	WebhookUrl string `json:"webhook_url"`
}

type Notification struct {
	Slack   SlackWebhook `json:"slack"`
	Webhook struct {
		Url     string            `json:"url"`
		Headers map[string]string `json:"headers"`
	} `json:"webhook"`
}

type Configuration struct {
	ProjectName    string               `json:"project_name" envconfig:"HOOKLINE_PROJECT_NAME"`
	Server         ServerConfig         `json:"server"`
	DataSource     DataSourceConfig     `json:"data_source"`
	Redis          RedisConfig          `json:"redis"`
	Retry          RetryConfig          `json:"retry"`
	RateLimit      RateLimitConfig      `json:"rate_limit"`
	Dedup          DedupConfig          `json:"dedup"`
	CircuitBreaker CircuitBreakerConfig `json:"circuit_breaker"`
	Queue          QueueConfig          `json:"queue"`
	Notification   Notification         `json:"notification"`
}

func loadConfigFromFile(file string) error {
	var cnf Configuration
	_, err := os.Stat(file)
	if err == nil {
		f, err := os.Open(file)
		if err != nil {
			return err
		}
		err = json.NewDecoder(f).Decode(&cnf)
		if err != nil {
			return err
		}

	} else if errors.Is(err, os.ErrNotExist) {
		log.Println("config json not passed, will use env variables")
	}

	// override config from environment variables
	err = envconfig.Process("hookline", &cnf)
	if err != nil {
		return err
	}

	err = cnf.validateAndAddDefaults()
	if err != nil {
		return err
	}

	ConfigStore.Store(&cnf)
	return err
}

func InitConfig(configFile string) error {
	logger()
	return loadConfigFromFile(configFile)
}

func Fetch() (*Configuration, error) {
	config := ConfigStore.Load()
	c, ok := config.(*Configuration)
	if !ok {
		return nil, errors.New("config not loaded from file. Create a json file called hookline.json with your config ❌")
	}
	return c, nil
}

func (cnf *Configuration) validateAndAddDefaults() error {
	if cnf.ProjectName == "" {
		log.Println("Warning: Project name is empty. Setting a default name.")
		cnf.ProjectName = "Hookline Server"
	}

	if cnf.DataSource.Dns == "" {
		log.Println("Error: Data source DNS is empty. It's a required field.")
		return errors.New("data source DNS is required")
	}

	if cnf.Redis.Dns == "" {
		log.Println("Error: Redis DNS is empty. It's a required field.")
		return errors.New("redis DNS is required")
	}

	// Trim white spaces from fields
	cnf.ProjectName = strings.TrimSpace(cnf.ProjectName)
	cnf.Server.Port = strings.TrimSpace(cnf.Server.Port)
	cnf.DataSource.Dns = strings.TrimSpace(cnf.DataSource.Dns)
	cnf.Redis.Dns = strings.TrimSpace(cnf.Redis.Dns)

	if cnf.Server.Port == "" {
		cnf.Server.Port = DEFAULT_PORT
		log.Printf("Warning: Port not specified in config. Setting default port: %s", DEFAULT_PORT)
	}

	if err := cnf.Retry.validateAndAddDefaults(); err != nil {
		return err
	}

	if cnf.RateLimit.Limit <= 0 {
		cnf.RateLimit.Limit = 100
		log.Printf("Warning: Rate limit not specified. Setting default value: %d", cnf.RateLimit.Limit)
	}
	if cnf.RateLimit.WindowSeconds <= 0 {
		cnf.RateLimit.WindowSeconds = 60
	}
	if cnf.RateLimit.RequestsPerSecond != nil {
		if cnf.RateLimit.Burst == nil {
			defaultBurst := 1
			cnf.RateLimit.Burst = &defaultBurst
		}
		if cnf.RateLimit.CleanupIntervalSec == nil {
			defaultCleanup := 180
			cnf.RateLimit.CleanupIntervalSec = &defaultCleanup
		}
	}

	if cnf.Dedup.TTLSeconds <= 0 {
		cnf.Dedup.TTLSeconds = 1800
	}

	if err := cnf.CircuitBreaker.validateAndAddDefaults(); err != nil {
		return err
	}

	if cnf.Queue.WebhookQueue == "" {
		cnf.Queue.WebhookQueue = "new:webhook"
	}
	if cnf.Queue.NumberOfQueues <= 0 {
		cnf.Queue.NumberOfQueues = 4
	}
	if cnf.Queue.BatchTimeoutSeconds <= 0 {
		cnf.Queue.BatchTimeoutSeconds = 30
	}
	if cnf.Queue.RequeueDelaySeconds <= 0 {
		cnf.Queue.RequeueDelaySeconds = 30
	}
	if cnf.Queue.MonitoringPort == "" {
		cnf.Queue.MonitoringPort = "5004"
	}

	return nil
}

func (r *RetryConfig) validateAndAddDefaults() error {
	if r.MaxAttempts < 0 {
		return fmt.Errorf("retry max attempts must be positive, got %d", r.MaxAttempts)
	}
	if r.MaxAttempts == 0 {
		r.MaxAttempts = 5
		log.Printf("Warning: Retry max attempts not specified. Setting default value: %d", r.MaxAttempts)
	}
	if r.Multiplier == 0 {
		r.Multiplier = 2.0
	}
	if r.Multiplier < 1 {
		return fmt.Errorf("retry multiplier must be >= 1, got %.2f", r.Multiplier)
	}
	if r.InitialDelaySeconds <= 0 {
		r.InitialDelaySeconds = 60
	}
	if r.CheckIntervalSeconds <= 0 {
		r.CheckIntervalSeconds = 60
	}
	if r.PageSize <= 0 {
		r.PageSize = 100
	}
	if r.Concurrency <= 0 {
		r.Concurrency = 4
	}
	if r.ImmediateAttempts <= 0 {
		r.ImmediateAttempts = 3
	}
	return nil
}

func (c *CircuitBreakerConfig) validateAndAddDefaults() error {
	if c.FailureRateThreshold < 0 || c.FailureRateThreshold > 1 {
		return fmt.Errorf("breaker failure rate threshold must be between 0 and 1, got %.2f", c.FailureRateThreshold)
	}
	if c.FailureRateThreshold == 0 {
		c.FailureRateThreshold = 0.5
	}
	if c.WindowSize == 0 {
		c.WindowSize = 10
	}
	if c.OpenTimeoutSeconds <= 0 {
		c.OpenTimeoutSeconds = 30
	}
	if c.HalfOpenMaxCalls == 0 {
		c.HalfOpenMaxCalls = 1
	}
	return nil
}

// InitialDelay returns the configured initial backoff delay as a duration.
func (r RetryConfig) InitialDelay() time.Duration {
	return time.Duration(r.InitialDelaySeconds) * time.Second
}

// MockConfig sets a mock configuration for testing purposes.
func MockConfig(mockConfig *Configuration) {
	ConfigStore.Store(mockConfig)
}

func logger() {
	logger := logrus.New()
	log.SetOutput(logger.Writer())
}
