/*
 * Licensed to the Apache Software Foundation (ASF) under one or more
 * contributor license agreements.  See the NOTICE file distributed with
 * this work for additional information regarding copyright ownership.
 * The ASF licenses this file to You under the Apache License, Version 2.0
 * (the "License"); you may not use this file except in compliance with
 * the License.  You may obtain a copy of the License at
 *
 *    http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package events 提供事件总线的 SSE 订阅接口
// Package events streams event bus messages to HTTP clients over SSE
package events

import (
	"io"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/arclightx/arclightx/internal/apps/response"
	"github.com/arclightx/arclightx/internal/eventbus"
)

// DefaultKeepAlive 心跳间隔
const DefaultKeepAlive = 15 * time.Second

// Handler 事件流 HTTP 处理器
type Handler struct {
	bus        *eventbus.Bus
	bufferSize int
	keepAlive  time.Duration
}

// NewHandler 创建处理器实例
func NewHandler(bus *eventbus.Bus, bufferSize int) *Handler {
	return &Handler{bus: bus, bufferSize: bufferSize, keepAlive: DefaultKeepAlive}
}

// parseKinds 解析逗号分隔的事件类型
func parseKinds(raw string) ([]eventbus.Kind, error) {
	var kinds []eventbus.Kind
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		k, err := eventbus.ParseKind(part)
		if err != nil {
			return nil, err
		}
		kinds = append(kinds, k)
	}
	return kinds, nil
}

// Stream 以 SSE 形式推送总线事件，事件名为事件类型
// @Summary 订阅事件流
// @Tags Events
// @Produce text/event-stream
// @Param kinds query string false "事件类型过滤，逗号分隔：state_changed, log_classified, backup_progress"
// @Router /api/v1/events [get]
func (h *Handler) Stream(c *gin.Context) {
	kinds, err := parseKinds(c.Query("kinds"))
	if err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	sub := h.bus.Subscribe(h.bufferSize, kinds...)
	defer h.bus.Unsubscribe(sub)

	ticker := time.NewTicker(h.keepAlive)
	defer ticker.Stop()
	done := c.Request.Context().Done()

	c.Header("Cache-Control", "no-cache")
	c.Header("X-Accel-Buffering", "no")
	c.Stream(func(w io.Writer) bool {
		select {
		case <-done:
			return false
		case ev, ok := <-sub.C:
			if !ok {
				return false
			}
			c.SSEvent(string(ev.Kind), ev)
			return true
		case <-ticker.C:
			_, _ = io.WriteString(w, ": keep-alive\n\n")
			return true
		}
	})
}
