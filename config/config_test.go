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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfiguration() *Configuration {
	return &Configuration{
		DataSource: DataSourceConfig{Dns: "postgres://localhost:5432/hookline"},
		Redis:      RedisConfig{Dns: "localhost:6379"},
	}
}

func TestValidateAndAddDefaults(t *testing.T) {
	cnf := validConfiguration()
	require.NoError(t, cnf.validateAndAddDefaults())

	assert.Equal(t, DEFAULT_PORT, cnf.Server.Port)
	assert.Equal(t, 5, cnf.Retry.MaxAttempts)
	assert.Equal(t, 60, cnf.Retry.InitialDelaySeconds)
	assert.Equal(t, 2.0, cnf.Retry.Multiplier)
	assert.Equal(t, 100, cnf.Retry.PageSize)
	assert.Equal(t, 4, cnf.Retry.Concurrency)
	assert.Equal(t, 3, cnf.Retry.ImmediateAttempts)
	assert.Equal(t, int64(100), cnf.RateLimit.Limit)
	assert.Equal(t, 60, cnf.RateLimit.WindowSeconds)
	assert.Equal(t, 1800, cnf.Dedup.TTLSeconds)
	assert.Equal(t, 0.5, cnf.CircuitBreaker.FailureRateThreshold)
	assert.Equal(t, uint32(10), cnf.CircuitBreaker.WindowSize)
	assert.Equal(t, "new:webhook", cnf.Queue.WebhookQueue)
	assert.Equal(t, 4, cnf.Queue.NumberOfQueues)
}

func TestValidateRejectsSubUnityMultiplier(t *testing.T) {
	cnf := validConfiguration()
	cnf.Retry.Multiplier = 0.5

	err := cnf.validateAndAddDefaults()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "multiplier")
}

func TestValidateRejectsNegativeMaxAttempts(t *testing.T) {
	cnf := validConfiguration()
	cnf.Retry.MaxAttempts = -1

	assert.Error(t, cnf.validateAndAddDefaults())
}

func TestValidateRejectsBadBreakerThreshold(t *testing.T) {
	cnf := validConfiguration()
	cnf.CircuitBreaker.FailureRateThreshold = 1.5

	assert.Error(t, cnf.validateAndAddDefaults())
}

func TestValidateRequiresDataSource(t *testing.T) {
	cnf := &Configuration{Redis: RedisConfig{Dns: "localhost:6379"}}
	assert.Error(t, cnf.validateAndAddDefaults())
}

func TestValidateRequiresRedis(t *testing.T) {
	cnf := &Configuration{DataSource: DataSourceConfig{Dns: "postgres://localhost/hookline"}}
	assert.Error(t, cnf.validateAndAddDefaults())
}

func TestInitialDelayDuration(t *testing.T) {
	r := RetryConfig{InitialDelaySeconds: 90}
	assert.Equal(t, 90*time.Second, r.InitialDelay())
}

func TestMockConfigRoundTrip(t *testing.T) {
	MockConfig(validConfiguration())
	cnf, err := Fetch()
	assert.NoError(t, err)
	assert.Equal(t, "localhost:6379", cnf.Redis.Dns)
}
