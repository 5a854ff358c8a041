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
package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/hookline/hookline"
	"github.com/hookline/hookline/api/middleware"
	"github.com/hookline/hookline/config"
)

type Api struct {
	hookline *hookline.Hookline
	router   *gin.Engine
}

func (a Api) Router() *gin.Engine {
	router := a.router
	router.POST("/events", a.EnqueueEvent)
	router.GET("/events/queued/:id", a.GetQueuedEvent)

	router.GET("/dlq/events", a.ListDeadLetterEvents)
	router.GET("/dlq/events/:id", a.GetDeadLetterEvent)
	router.POST("/dlq/retries", a.TriggerRetryPass)

	router.GET("/breaker", a.GetBreakerState)
	return a.router
}

func NewAPI(h *hookline.Hookline) *Api {
	gin.SetMode(gin.ReleaseMode)
	conf, err := config.Fetch()
	if err != nil {
		return nil
	}
	r := gin.Default()
	if conf.Server.Secure {
		r.Use(middleware.SecretKeyAuthMiddleware())
	}
	r.Use(middleware.RateLimitMiddleware(conf))

	r.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, "server running...")
	})

	return &Api{hookline: h, router: r}
}
