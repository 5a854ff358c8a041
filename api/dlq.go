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
	"strconv"
	"strings"

	"github.com/hookline/hookline"
	model2 "github.com/hookline/hookline/api/model"
	"github.com/hookline/hookline/internal/apierror"

	"github.com/gin-gonic/gin"
)

func (a Api) ListDeadLetterEvents(c *gin.Context) {
	// A comma-separated ids filter short-circuits to a bulk point-read.
	if ids := c.Query("ids"); ids != "" {
		resp, err := a.hookline.GetDeadLetterEvents(c.Request.Context(), strings.Split(ids, ","))
		if err != nil {
			c.JSON(apierror.MapErrorToHTTPStatus(err), gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, resp)
		return
	}

	status := c.Query("status")
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if err != nil || limit <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
		return
	}
	offset, err := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if err != nil || offset < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid offset"})
		return
	}

	resp, err := a.hookline.ListDeadLetterEvents(c.Request.Context(), status, limit, offset)
	if err != nil {
		c.JSON(apierror.MapErrorToHTTPStatus(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (a Api) GetDeadLetterEvent(c *gin.Context) {
	id, passed := c.Params.Get("id")
	if !passed {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id is required. pass id in the route /:id"})
		return
	}

	resp, err := a.hookline.GetDeadLetterEvent(c.Request.Context(), id)
	if err != nil {
		c.JSON(apierror.MapErrorToHTTPStatus(err), gin.H{"error": err.Error()})
		return
	}
	if resp == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "dead letter event not found"})
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (a Api) TriggerRetryPass(c *gin.Context) {
	var trigger model2.TriggerRetryPass
	// An empty body means a default sweep.
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&trigger); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
			return
		}
	}

	if err := trigger.ValidateTriggerRetryPass(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
		return
	}

	asOf, err := trigger.ParsedAsOf()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
		return
	}

	result, err := a.hookline.ProcessRetries(c.Request.Context(), hookline.RetryPassConfig{
		Status:      trigger.Status,
		AsOf:        asOf,
		PageSize:    trigger.PageSize,
		Concurrency: trigger.Concurrency,
	})
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, result)
}

func (a Api) GetBreakerState(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"state": a.hookline.BreakerState()})
}
