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

// Package server 提供 Minecraft 服务器进程管理的 HTTP 接口
// Package server provides HTTP handlers for the supervised Minecraft server
package server

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/arclightx/arclightx/internal/apps/response"
	"github.com/arclightx/arclightx/internal/process"
	"github.com/arclightx/arclightx/internal/restart"
	"github.com/arclightx/arclightx/internal/schedule"
)

// Supervisor 是 Handler 使用的进程托管接口
type Supervisor interface {
	Snapshot() process.ServerProcess
	Start(ctx context.Context, cfg *process.LaunchConfig) error
	Stop(ctx context.Context, grace time.Duration) (*process.ExitInfo, error)
	Restart(ctx context.Context, grace time.Duration, cfg *process.LaunchConfig) error
	SendCommand(text string) error
}

// HandlerConfig holds the dependencies of Handler
// HandlerConfig 保存 Handler 的依赖
type HandlerConfig struct {
	Supervisor Supervisor

	// Launch returns the configured launch settings, called on every start
	// Launch 返回配置的启动参数，每次启动时调用
	Launch func() *process.LaunchConfig

	// StopTimeout is used when a request does not carry a timeout
	// StopTimeout 在请求未指定超时时使用
	StopTimeout time.Duration

	Restarter *restart.AutoRestarter
	Scheduler *schedule.Scheduler

	// DetectJava reports the java runtime, defaults to process.DetectJava
	// DetectJava 报告 Java 运行时信息，默认为 process.DetectJava
	DetectJava func(ctx context.Context, javaPath string) (*process.JavaInfo, error)
}

// Handler 服务器管理 HTTP 处理器
type Handler struct {
	cfg HandlerConfig

	// java caches the last detection per java path
	// java 按 Java 路径缓存最近一次检测结果
	javaMu sync.Mutex
	java   map[string]*process.JavaInfo
}

// NewHandler 创建处理器实例
func NewHandler(cfg HandlerConfig) *Handler {
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = process.DefaultStopTimeout
	}
	if cfg.DetectJava == nil {
		cfg.DetectJava = process.DetectJava
	}
	return &Handler{cfg: cfg, java: map[string]*process.JavaInfo{}}
}

// StatusResponse 服务器状态响应
type StatusResponse struct {
	Process     process.ServerProcess `json:"process"`
	AutoRestart *restart.History      `json:"auto_restart,omitempty"`
	Cooldown    bool                  `json:"restart_cooldown"`
	Schedules   []schedule.Entry      `json:"schedules,omitempty"`
	Java        *process.JavaInfo     `json:"java,omitempty"`
	JavaError   string                `json:"java_error,omitempty"`
}

// StartRequest 启动请求，所有字段可选，用于覆盖配置文件中的值
type StartRequest struct {
	MinMemory string   `json:"min_memory"`
	MaxMemory string   `json:"max_memory"`
	JVMArgs   []string `json:"jvm_args"`
}

// StopRequest 停止或重启请求
type StopRequest struct {
	TimeoutSeconds int `json:"timeout_seconds"`
}

// CommandRequest 控制台命令请求
type CommandRequest struct {
	Command string `json:"command" binding:"required"`
}

// Status 获取服务器状态
// @Summary 获取服务器状态
// @Tags Server
// @Produce json
// @Success 200 {object} response.Response
// @Router /api/v1/server/status [get]
func (h *Handler) Status(c *gin.Context) {
	resp := StatusResponse{Process: h.cfg.Supervisor.Snapshot()}
	if h.cfg.Restarter != nil {
		resp.AutoRestart = h.cfg.Restarter.GetRestartHistory()
		resp.Cooldown = h.cfg.Restarter.IsInCooldown()
	}
	if h.cfg.Scheduler != nil {
		resp.Schedules = h.cfg.Scheduler.Entries()
	}
	if info, err := h.javaInfo(c.Request.Context(), false); err != nil {
		resp.JavaError = err.Error()
	} else {
		resp.Java = info
	}
	response.OK(c, resp)
}

// Java 检测配置的 Java 版本
// @Summary 检测 Java 版本
// @Description 执行 java -version 并刷新状态接口中缓存的结果
// @Tags Server
// @Produce json
// @Success 200 {object} response.Response
// @Failure 400 {object} response.Response
// @Router /api/v1/server/java [get]
func (h *Handler) Java(c *gin.Context) {
	info, err := h.javaInfo(c.Request.Context(), true)
	if err != nil {
		response.Error(c, err, nil)
		return
	}
	response.OK(c, info)
}

// javaInfo returns the detected runtime of the configured java path, running detection
// only on a cache miss or when refresh is set
// javaInfo 返回配置的 Java 路径对应的运行时信息，仅在缓存未命中或 refresh 时执行检测
func (h *Handler) javaInfo(ctx context.Context, refresh bool) (*process.JavaInfo, error) {
	if h.cfg.Launch == nil {
		return nil, fmt.Errorf("%w: no launch configuration", process.ErrConfiguration)
	}
	launch := h.cfg.Launch()
	if launch == nil || launch.JavaPath == "" {
		return nil, fmt.Errorf("%w: java path is empty", process.ErrConfiguration)
	}

	h.javaMu.Lock()
	defer h.javaMu.Unlock()
	if info, ok := h.java[launch.JavaPath]; ok && !refresh {
		return info, nil
	}
	info, err := h.cfg.DetectJava(ctx, launch.JavaPath)
	if err != nil {
		delete(h.java, launch.JavaPath)
		return nil, err
	}
	h.java[launch.JavaPath] = info
	return info, nil
}

// Start 启动服务器
// @Summary 启动服务器
// @Tags Server
// @Accept json
// @Produce json
// @Param body body StartRequest false "启动参数覆盖"
// @Success 200 {object} response.Response
// @Router /api/v1/server/start [post]
func (h *Handler) Start(c *gin.Context) {
	var req StartRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}
	}

	var cfg *process.LaunchConfig
	if h.cfg.Launch != nil {
		cfg = h.cfg.Launch()
	}
	if cfg == nil {
		response.Error(c, fmt.Errorf("%w: no launch configuration", process.ErrConfiguration), nil)
		return
	}
	if req.MinMemory != "" {
		cfg.MinMemory = req.MinMemory
	}
	if req.MaxMemory != "" {
		cfg.MaxMemory = req.MaxMemory
	}
	if req.JVMArgs != nil {
		cfg.JVMArgs = req.JVMArgs
	}

	// 客户端断开不应中止服务器启动
	if err := h.cfg.Supervisor.Start(context.WithoutCancel(c.Request.Context()), cfg); err != nil {
		response.Error(c, err, nil)
		return
	}
	response.OK(c, h.cfg.Supervisor.Snapshot())
}

// Stop 停止服务器
// @Summary 停止服务器
// @Tags Server
// @Accept json
// @Produce json
// @Param body body StopRequest false "停止超时"
// @Success 200 {object} response.Response
// @Router /api/v1/server/stop [post]
func (h *Handler) Stop(c *gin.Context) {
	grace, ok := h.bindTimeout(c)
	if !ok {
		return
	}
	exit, err := h.cfg.Supervisor.Stop(context.WithoutCancel(c.Request.Context()), grace)
	if err != nil {
		response.Error(c, err, nil)
		return
	}
	response.OK(c, exit)
}

// Restart 重启服务器
// @Summary 重启服务器
// @Tags Server
// @Accept json
// @Produce json
// @Param body body StopRequest false "停止超时"
// @Success 200 {object} response.Response
// @Router /api/v1/server/restart [post]
func (h *Handler) Restart(c *gin.Context) {
	grace, ok := h.bindTimeout(c)
	if !ok {
		return
	}
	if err := h.cfg.Supervisor.Restart(context.WithoutCancel(c.Request.Context()), grace, nil); err != nil {
		response.Error(c, err, nil)
		return
	}
	response.OK(c, h.cfg.Supervisor.Snapshot())
}

// Command 向服务器控制台发送命令
// @Summary 发送控制台命令
// @Tags Server
// @Accept json
// @Produce json
// @Param body body CommandRequest true "命令"
// @Success 200 {object} response.Response
// @Router /api/v1/server/command [post]
func (h *Handler) Command(c *gin.Context) {
	var req CommandRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	if err := h.cfg.Supervisor.SendCommand(req.Command); err != nil {
		response.Error(c, err, nil)
		return
	}
	response.OK(c, nil)
}

// ResetRestarts 重置自动重启计数并退出冷却
// @Summary 重置自动重启计数
// @Tags Server
// @Produce json
// @Success 200 {object} response.Response
// @Router /api/v1/server/restarts/reset [post]
func (h *Handler) ResetRestarts(c *gin.Context) {
	if h.cfg.Restarter != nil {
		h.cfg.Restarter.ResetRestartCount()
	}
	response.OK(c, nil)
}

func (h *Handler) bindTimeout(c *gin.Context) (time.Duration, bool) {
	var req StopRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return 0, false
		}
	}
	if req.TimeoutSeconds < 0 {
		response.BadRequest(c, "timeout_seconds must not be negative")
		return 0, false
	}
	if req.TimeoutSeconds == 0 {
		return h.cfg.StopTimeout, true
	}
	return time.Duration(req.TimeoutSeconds) * time.Second, true
}
