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

// Package router 提供 HTTP 路由配置
// Package router provides HTTP routing configuration
package router

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"

	_ "github.com/arclightx/arclightx/docs"
	"github.com/arclightx/arclightx/internal/apps/backups"
	"github.com/arclightx/arclightx/internal/apps/events"
	"github.com/arclightx/arclightx/internal/apps/logs"
	propsapi "github.com/arclightx/arclightx/internal/apps/properties"
	"github.com/arclightx/arclightx/internal/apps/response"
	"github.com/arclightx/arclightx/internal/apps/server"
	"github.com/arclightx/arclightx/internal/classifier"
	"github.com/arclightx/arclightx/internal/eventbus"
	"github.com/arclightx/arclightx/internal/logtail"
	"github.com/arclightx/arclightx/internal/otel_trace"
	"github.com/arclightx/arclightx/internal/process"
	"github.com/arclightx/arclightx/internal/properties"
)

// APIPrefix 是所有 API 路由的前缀
const APIPrefix = "/api/v1"

// SwaggerPath 是调试模式下 Swagger UI 的路径
const SwaggerPath = "/api/swagger"

// Deps 路由依赖
// Deps holds everything the HTTP API needs
type Deps struct {
	Server     server.HandlerConfig
	Backups    backups.Engine
	Tailer     *logtail.Tailer
	Classifier *classifier.Classifier
	ServerDir  string
	Bus        *eventbus.Bus
	Logger     *zap.Logger
	Version    string

	// ServiceName 用于追踪 span 的服务名
	ServiceName string

	// EventBuffer 每个 SSE 订阅的队列长度
	EventBuffer int
	// Debug 为 true 时使用 gin 调试模式
	Debug bool
}

// New 创建 gin 引擎并注册所有路由
// New builds the gin engine with every route registered
func New(deps Deps) *gin.Engine {
	if !deps.Debug {
		gin.SetMode(gin.ReleaseMode)
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}

	r := gin.New()
	if deps.ServiceName == "" {
		deps.ServiceName = otel_trace.DefaultServiceName
	}
	r.Use(gin.Recovery(), otelgin.Middleware(deps.ServiceName), loggerMiddleware(deps.Logger))

	if deps.Debug {
		// Swagger
		r.GET(SwaggerPath+"/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	apiV1Router := r.Group(APIPrefix)
	{
		// Health
		apiV1Router.GET("/health", func(c *gin.Context) {
			response.OK(c, gin.H{"status": "ok", "version": deps.Version})
		})

		// Server
		server.RegisterRoutes(apiV1Router, server.NewHandler(deps.Server))

		// server.properties
		if deps.ServerDir != "" {
			var state func() process.State
			if sup := deps.Server.Supervisor; sup != nil {
				state = func() process.State { return sup.Snapshot().State }
			}
			propsapi.RegisterRoutes(apiV1Router, propsapi.NewHandler(properties.NewStore(deps.ServerDir), state))
		}

		// Backups
		if deps.Backups != nil {
			backups.RegisterRoutes(apiV1Router, backups.NewHandler(deps.Backups))
		}

		// Logs
		if deps.Tailer != nil {
			logs.RegisterRoutes(apiV1Router, logs.NewHandler(deps.Tailer, deps.Classifier, deps.ServerDir))
		}

		// Events
		if deps.Bus != nil {
			events.RegisterRoutes(apiV1Router, events.NewHandler(deps.Bus, deps.EventBuffer))
		}
	}
	return r
}

// HTTPServer 包装 http.Server，支持优雅关闭
// HTTPServer wraps http.Server with graceful shutdown
type HTTPServer struct {
	srv    *http.Server
	logger *zap.Logger
}

// NewHTTPServer 创建 HTTP 服务器
func NewHTTPServer(addr string, handler http.Handler, logger *zap.Logger) *HTTPServer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPServer{
		srv: &http.Server{
			Addr:              addr,
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
		},
		logger: logger,
	}
}

// ListenAndServe 阻塞运行直到服务器关闭，正常关闭时返回 nil
func (s *HTTPServer) ListenAndServe() error {
	s.logger.Info("HTTP server starting", zap.String("addr", s.srv.Addr))
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown 优雅关闭，SSE 等长连接在 ctx 到期后被强制关闭
func (s *HTTPServer) Shutdown(ctx context.Context) error {
	err := s.srv.Shutdown(ctx)
	if errors.Is(err, context.DeadlineExceeded) {
		s.logger.Warn("HTTP server shutdown timed out, closing connections")
		return s.srv.Close()
	}
	return err
}
