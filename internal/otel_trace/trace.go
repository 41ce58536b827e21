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

// Package otel_trace 提供可选的 OpenTelemetry 追踪
// Package otel_trace wires optional OpenTelemetry tracing.
package otel_trace

import (
	"context"
	"errors"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"
)

// DefaultServiceName is reported when no service name is configured
const DefaultServiceName = "arclightx"

const instrumentationName = "github.com/arclightx/arclightx"

// Config contains tracing settings
// Config 包含追踪设置
type Config struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Endpoint is the OTLP gRPC collector address, e.g. localhost:4317
	// Endpoint 是 OTLP gRPC 收集器地址，例如 localhost:4317
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint"`
	Insecure bool   `mapstructure:"insecure" yaml:"insecure"`

	ServiceName string `mapstructure:"service_name" yaml:"service_name"`

	// SampleRatio in [0, 1], applied to root spans
	// SampleRatio 取值 [0, 1]，作用于根 span
	SampleRatio float64 `mapstructure:"sample_ratio" yaml:"sample_ratio"`
}

// Validate checks the sampling ratio
func (c Config) Validate() error {
	if c.SampleRatio < 0 || c.SampleRatio > 1 {
		return errors.New("telemetry.sample_ratio must be between 0 and 1")
	}
	if c.Enabled && c.Endpoint == "" {
		return errors.New("telemetry.endpoint is required when telemetry is enabled")
	}
	return nil
}

var (
	mu       sync.RWMutex
	tracer   trace.Tracer = noop.NewTracerProvider().Tracer("noop")
	provider *sdktrace.TracerProvider
	enabled  bool
	shutdown []func(context.Context) error
)

// Init initializes tracing from cfg. When tracing is disabled a noop tracer is used.
// Init 根据配置初始化追踪，禁用时使用空操作追踪器。
func Init(ctx context.Context, cfg Config, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	if !cfg.Enabled {
		logger.Debug("OpenTelemetry tracing is disabled / OpenTelemetry 追踪已禁用")
		return nil
	}

	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.Endpoint)}
	if cfg.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}
	exporter, err := otlptracegrpc.New(ctx, opts...)
	if err != nil {
		return err
	}
	install(cfg, exporter)
	logger.Info("OpenTelemetry tracing initialized / OpenTelemetry 追踪已初始化",
		zap.String("endpoint", cfg.Endpoint))
	return nil
}

// install registers a tracer provider that exports to exporter
// install 注册导出到 exporter 的追踪提供者
func install(cfg Config, exporter sdktrace.SpanExporter) {
	name := cfg.ServiceName
	if name == "" {
		name = DefaultServiceName
	}
	ratio := cfg.SampleRatio
	if ratio == 0 {
		ratio = 1
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(resource.NewSchemaless(attribute.String("service.name", name))),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	mu.Lock()
	tracer = tp.Tracer(instrumentationName)
	provider = tp
	enabled = true
	shutdown = append(shutdown, tp.Shutdown)
	mu.Unlock()
}

// IsEnabled returns whether tracing is enabled.
// IsEnabled 返回追踪是否已启用。
func IsEnabled() bool {
	mu.RLock()
	defer mu.RUnlock()
	return enabled
}

// ForceFlush exports all ended spans
func ForceFlush(ctx context.Context) error {
	mu.RLock()
	tp := provider
	mu.RUnlock()
	if tp == nil {
		return nil
	}
	return tp.ForceFlush(ctx)
}

// Shutdown flushes pending spans and restores the noop tracer
// Shutdown 刷新待导出的 span 并恢复空操作追踪器
func Shutdown(ctx context.Context) error {
	mu.Lock()
	fns := shutdown
	shutdown = nil
	provider = nil
	enabled = false
	tracer = noop.NewTracerProvider().Tracer("noop")
	mu.Unlock()

	var errs []error
	for _, fn := range fns {
		errs = append(errs, fn(ctx))
	}
	return errors.Join(errs...)
}

// Start starts a span with the package tracer
func Start(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	mu.RLock()
	t := tracer
	mu.RUnlock()
	return t.Start(ctx, name, opts...)
}

// End records err on span, if any, and ends it
// End 记录错误（如有）并结束 span
func End(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
