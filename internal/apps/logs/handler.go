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

// Package logs 提供服务器日志查询与跟踪的 HTTP 接口
// Package logs provides HTTP handlers for reading and following server logs
package logs

import (
	"io"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/arclightx/arclightx/internal/apps/response"
	"github.com/arclightx/arclightx/internal/classifier"
	"github.com/arclightx/arclightx/internal/logtail"
)

// MaxLimit 单次查询返回的最大行数
const MaxLimit = 5000

// Handler 日志 HTTP 处理器
type Handler struct {
	tailer  *logtail.Tailer
	cls     *classifier.Classifier
	logPath string
}

// NewHandler 创建处理器实例，日志文件位于 serverDir/logs/latest.log
func NewHandler(tailer *logtail.Tailer, cls *classifier.Classifier, serverDir string) *Handler {
	if cls == nil {
		cls = classifier.MustDefault()
	}
	return &Handler{
		tailer:  tailer,
		cls:     cls,
		logPath: filepath.Join(serverDir, filepath.FromSlash(logtail.LatestLog)),
	}
}

// parseCategories 解析逗号分隔的分类过滤参数
func parseCategories(raw string) (map[classifier.Category]bool, error) {
	if raw == "" {
		return nil, nil
	}
	set := make(map[classifier.Category]bool)
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		cat, err := classifier.ParseCategory(part)
		if err != nil {
			return nil, err
		}
		set[cat] = true
	}
	return set, nil
}

// LatestLogs 获取 latest.log 的最后若干行
// @Summary 获取最新日志
// @Tags Logs
// @Produce json
// @Param limit query int false "行数"
// @Param category query string false "分类过滤，逗号分隔"
// @Success 200 {object} response.Response
// @Router /api/v1/logs/latest [get]
func (h *Handler) LatestLogs(c *gin.Context) {
	limit := logtail.DefaultLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			response.BadRequest(c, "limit must be a positive integer")
			return
		}
		limit = min(n, MaxLimit)
	}
	categories, err := parseCategories(c.Query("category"))
	if err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	entries, err := h.tailer.ReadLatest(h.logPath, limit)
	if err != nil {
		response.Error(c, err, nil)
		return
	}
	if categories != nil {
		filtered := entries[:0]
		for _, e := range entries {
			if categories[e.Category] {
				filtered = append(filtered, e)
			}
		}
		entries = filtered
	}
	response.OK(c, entries)
}

// FollowLogs 以 SSE 流的形式跟踪 latest.log
// @Summary 跟踪日志
// @Tags Logs
// @Produce text/event-stream
// @Param from_start query bool false "从文件开头输出"
// @Param category query string false "分类过滤，逗号分隔"
// @Router /api/v1/logs/follow [get]
func (h *Handler) FollowLogs(c *gin.Context) {
	categories, err := parseCategories(c.Query("category"))
	if err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	fromStart, _ := strconv.ParseBool(c.Query("from_start"))

	lines, err := h.tailer.Follow(c.Request.Context(), h.logPath, fromStart)
	if err != nil {
		response.Error(c, err, nil)
		return
	}

	c.Header("Cache-Control", "no-cache")
	c.Header("X-Accel-Buffering", "no")
	c.Stream(func(w io.Writer) bool {
		line, ok := <-lines
		if !ok {
			return false
		}
		category := h.cls.Classify(line)
		if h.cls.Noise(line) {
			return true
		}
		if categories != nil && !categories[category] {
			return true
		}
		c.SSEvent("log", logtail.Entry{Line: line, Category: category})
		return true
	})
}
