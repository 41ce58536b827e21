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

// Package response 提供 API 统一响应格式和错误码映射
// Package response provides the shared API envelope and error status mapping
package response

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/arclightx/arclightx/internal/backup"
	"github.com/arclightx/arclightx/internal/logtail"
	"github.com/arclightx/arclightx/internal/process"
	"github.com/arclightx/arclightx/internal/properties"
)

// Response 标准响应格式
type Response struct {
	ErrorMsg string      `json:"error_msg"`
	Data     interface{} `json:"data"`
}

// StatusFor 将领域错误映射为 HTTP 状态码
// StatusFor maps a domain error to an HTTP status code
func StatusFor(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, process.ErrConfiguration),
		errors.Is(err, process.ErrInvalidCommand),
		errors.Is(err, properties.ErrInvalid):
		return http.StatusBadRequest
	case errors.Is(err, backup.ErrNotFound),
		errors.Is(err, logtail.ErrNoLog),
		errors.Is(err, properties.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, process.ErrAlreadyRunning),
		errors.Is(err, process.ErrNotRunning),
		errors.Is(err, backup.ErrServerRunning),
		errors.Is(err, backup.ErrRestoreInProgress):
		return http.StatusConflict
	case errors.Is(err, backup.ErrDiskSpace):
		return http.StatusInsufficientStorage
	default:
		return http.StatusInternalServerError
	}
}

// OK 返回成功响应
func OK(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Response{ErrorMsg: "", Data: data})
}

// Error 返回错误响应，data 可携带部分结果（例如失败的备份记录）
func Error(c *gin.Context, err error, data interface{}) {
	c.JSON(StatusFor(err), Response{ErrorMsg: err.Error(), Data: data})
}

// BadRequest 返回参数错误响应
func BadRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, Response{ErrorMsg: msg, Data: nil})
}
