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

// Package properties 提供 server.properties 读取与修改的 HTTP 接口
// Package properties provides HTTP handlers for reading and editing server.properties
package properties

import (
	"github.com/gin-gonic/gin"

	"github.com/arclightx/arclightx/internal/apps/response"
	"github.com/arclightx/arclightx/internal/process"
	serverprops "github.com/arclightx/arclightx/internal/properties"
)

// Handler server.properties HTTP 处理器
type Handler struct {
	store *serverprops.Store
	state func() process.State
}

// NewHandler 创建处理器实例，state 可为 nil
func NewHandler(store *serverprops.Store, state func() process.State) *Handler {
	return &Handler{store: store, state: state}
}

// PropertiesResponse server.properties 内容
type PropertiesResponse struct {
	Path    string              `json:"path"`
	Entries []serverprops.Entry `json:"entries"`
	// RestartRequired 服务器未停止时为 true，修改在下次启动后生效
	RestartRequired bool `json:"restart_required"`
}

// UpdateRequest 修改请求
type UpdateRequest struct {
	Set    map[string]string `json:"set"`
	Remove []string          `json:"remove"`
}

// Get 读取 server.properties
// @Summary 读取 server.properties
// @Tags Properties
// @Produce json
// @Success 200 {object} response.Response
// @Failure 404 {object} response.Response
// @Router /api/v1/server/properties [get]
func (h *Handler) Get(c *gin.Context) {
	entries, err := h.store.Load()
	if err != nil {
		response.Error(c, err, nil)
		return
	}
	response.OK(c, h.result(entries))
}

// Update 修改 server.properties，保留注释与键顺序
// @Summary 修改 server.properties
// @Tags Properties
// @Accept json
// @Produce json
// @Param body body UpdateRequest true "要设置与删除的键"
// @Success 200 {object} response.Response
// @Failure 400 {object} response.Response
// @Router /api/v1/server/properties [put]
func (h *Handler) Update(c *gin.Context) {
	var req UpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	if len(req.Set) == 0 && len(req.Remove) == 0 {
		response.BadRequest(c, "nothing to update")
		return
	}
	entries, err := h.store.Update(req.Set, req.Remove)
	if err != nil {
		response.Error(c, err, nil)
		return
	}
	response.OK(c, h.result(entries))
}

func (h *Handler) result(entries []serverprops.Entry) PropertiesResponse {
	resp := PropertiesResponse{Path: h.store.Path(), Entries: entries}
	if h.state != nil {
		resp.RestartRequired = h.state() != process.StateStopped
	}
	return resp
}
