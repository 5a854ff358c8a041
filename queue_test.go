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
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hookline/hookline/config"
)

func newTestQueue(t *testing.T) (*Queue, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	cnf := testConfiguration(mr.Addr())
	config.MockConfig(cnf)
	return NewQueue(cnf), mr
}

func TestEnqueueWebhookEvent(t *testing.T) {
	queue, mr := newTestQueue(t)

	err := queue.Enqueue(context.Background(), testEvent("evt_1", "acc_1"))
	require.NoError(t, err)

	assert.NotEmpty(t, mr.Keys())
}

func TestEnqueueDuplicateEventIsNoop(t *testing.T) {
	queue, _ := newTestQueue(t)
	ctx := context.Background()

	require.NoError(t, queue.Enqueue(ctx, testEvent("evt_1", "acc_1")))

	// Same event id again: the broker rejects the task id, we treat it as done.
	assert.NoError(t, queue.Enqueue(ctx, testEvent("evt_1", "acc_1")))
}

func TestRequeueWithDelay(t *testing.T) {
	queue, mr := newTestQueue(t)

	err := queue.Requeue(context.Background(), testEvent("evt_1", "acc_1"), 30*time.Second)
	require.NoError(t, err)

	assert.NotEmpty(t, mr.Keys())
}

func TestEventsOfOneAccountShareAShard(t *testing.T) {
	cnf := testConfiguration("localhost:6379")
	cnf.Queue.NumberOfQueues = 4
	config.MockConfig(cnf)

	q := &Queue{}
	taskA := q.getTask(testEvent("evt_1", "acc_1"), []byte(`{}`))
	taskB := q.getTask(testEvent("evt_2", "acc_1"), []byte(`{}`))
	assert.Equal(t, taskA.Type(), taskB.Type(), "same account must land on the same shard")
}
