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

// Package backups 提供备份与恢复的 HTTP 接口
// Package backups provides HTTP handlers for backup and restore
package backups

import (
	"context"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/arclightx/arclightx/internal/apps/response"
	"github.com/arclightx/arclightx/internal/backup"
)

// Engine 是 Handler 使用的备份引擎接口
type Engine interface {
	CreateBackup(ctx context.Context, manifest []string) (*backup.Record, error)
	RestoreBackup(ctx context.Context, idOrPath string) error
	ListBackups(ctx context.Context) ([]*backup.Record, error)
	Prune(ctx context.Context, keepLast int) ([]*backup.Record, error)
}

// Handler 备份管理 HTTP 处理器
type Handler struct {
	engine Engine
}

// NewHandler 创建处理器实例
func NewHandler(engine Engine) *Handler {
	return &Handler{engine: engine}
}

// CreateRequest 创建备份请求，paths 为空时使用默认清单
type CreateRequest struct {
	Paths []string `json:"paths"`
}

// RestoreRequest 恢复请求，id 可以是备份 ID 或归档路径
type RestoreRequest struct {
	ID string `json:"id" binding:"required"`
}

// PruneRequest 清理请求
type PruneRequest struct {
	KeepLast int `json:"keep_last" binding:"required,min=1"`
}

// ListBackups 获取备份列表
// @Summary 获取备份列表
// @Tags Backup
// @Produce json
// @Success 200 {object} response.Response
// @Router /api/v1/backups [get]
func (h *Handler) ListBackups(c *gin.Context) {
	records, err := h.engine.ListBackups(c.Request.Context())
	if err != nil {
		response.Error(c, err, nil)
		return
	}
	if status := c.Query("status"); status != "" {
		filtered := records[:0]
		for _, rec := range records {
			if string(rec.Status) == status {
				filtered = append(filtered, rec)
			}
		}
		records = filtered
	}
	response.OK(c, records)
}

// CreateBackup 创建备份
// @Summary 创建备份
// @Tags Backup
// @Accept json
// @Produce json
// @Param body body CreateRequest false "备份路径"
// @Success 200 {object} response.Response
// @Router /api/v1/backups [post]
func (h *Handler) CreateBackup(c *gin.Context) {
	var req CreateRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}
	}
	for _, p := range req.Paths {
		if strings.TrimSpace(p) == "" {
			response.BadRequest(c, "paths must not contain empty entries")
			return
		}
	}

	// 备份在客户端断开后继续执行
	rec, err := h.engine.CreateBackup(context.WithoutCancel(c.Request.Context()), req.Paths)
	if err != nil {
		response.Error(c, err, rec)
		return
	}
	response.OK(c, rec)
}

// RestoreBackup 恢复备份，服务器必须处于停止状态
// @Summary 恢复备份
// @Tags Backup
// @Accept json
// @Produce json
// @Param body body RestoreRequest true "备份 ID 或路径"
// @Success 200 {object} response.Response
// @Router /api/v1/backups/restore [post]
func (h *Handler) RestoreBackup(c *gin.Context) {
	var req RestoreRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	if err := h.engine.RestoreBackup(context.WithoutCancel(c.Request.Context()), req.ID); err != nil {
		response.Error(c, err, nil)
		return
	}
	response.OK(c, nil)
}

// PruneBackups 按保留数量清理旧备份
// @Summary 清理旧备份
// @Tags Backup
// @Accept json
// @Produce json
// @Param body body PruneRequest true "保留数量"
// @Success 200 {object} response.Response
// @Router /api/v1/backups/prune [post]
func (h *Handler) PruneBackups(c *gin.Context) {
	var req PruneRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	removed, err := h.engine.Prune(c.Request.Context(), req.KeepLast)
	if err != nil {
		response.Error(c, err, removed)
		return
	}
	response.OK(c, removed)
}
