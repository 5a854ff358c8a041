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
	"bytes"
	"context"
	"io"
	"log"
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/hookline/hookline/config"
)

// WebhookSender is the outbound send primitive. A false ack and a transport
// error are equivalent from the pipeline's perspective: both are failures.
type WebhookSender interface {
	Send(ctx context.Context, destination string, payload []byte) (bool, error)
}

// HTTPSender delivers webhook payloads via HTTP POST.
type HTTPSender struct {
	client *http.Client
}

func NewHTTPSender() *HTTPSender {
	return &HTTPSender{client: &http.Client{}}
}

// Send posts the payload to the destination with the configured headers.
// Returns true only for a 2XX response.
func (s *HTTPSender) Send(ctx context.Context, destination string, payload []byte) (bool, error) {
	conf, err := config.Fetch()
	if err != nil {
		log.Println("Error fetching config:", err)
		return false, err
	}

	if destination == "" {
		destination = conf.Notification.Webhook.Url
	}

	req, err := http.NewRequestWithContext(ctx, "POST", destination, bytes.NewBuffer(payload))
	if err != nil {
		log.Println("Error creating request:", err)
		return false, err
	}
	req.Header.Set("Content-Type", "application/json")

	for key, value := range conf.Notification.Webhook.Headers {
		req.Header.Set(key, value)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		log.Println("Error sending request:", err)
		return false, err
	}
	defer func(Body io.ReadCloser) {
		err := Body.Close()
		if err != nil {
			logrus.Error(err)
		}
	}(resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		log.Printf("Webhook to %s failed with status code: %d\n", destination, resp.StatusCode)
		return false, nil
	}

	return true, nil
}
