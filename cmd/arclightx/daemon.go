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

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/arclightx/arclightx/internal/apps/server"
	"github.com/arclightx/arclightx/internal/backup"
	"github.com/arclightx/arclightx/internal/classifier"
	"github.com/arclightx/arclightx/internal/config"
	"github.com/arclightx/arclightx/internal/db"
	"github.com/arclightx/arclightx/internal/db/migrator"
	"github.com/arclightx/arclightx/internal/eventbus"
	"github.com/arclightx/arclightx/internal/logger"
	"github.com/arclightx/arclightx/internal/logtail"
	"github.com/arclightx/arclightx/internal/otel_trace"
	"github.com/arclightx/arclightx/internal/process"
	"github.com/arclightx/arclightx/internal/restart"
	"github.com/arclightx/arclightx/internal/router"
	"github.com/arclightx/arclightx/internal/schedule"
)

// shutdownTimeout bounds the whole graceful shutdown, on top of the server stop timeout
// shutdownTimeout 限制整个优雅关闭的时间，额外叠加服务器停止超时
const shutdownTimeout = 15 * time.Second

// Daemon wires every component of the supervisor together
// Daemon 将 Supervisor 的所有组件连接在一起
type Daemon struct {
	config *config.Config
	logger *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc

	classifier *classifier.Classifier
	gdb        *gorm.DB
	bus        *eventbus.Bus
	supervisor *process.Supervisor
	engine     *backup.Engine
	restarter  *restart.AutoRestarter
	scheduler  *schedule.Scheduler
	tailer     *logtail.Tailer
	httpServer *router.HTTPServer

	// wg tracks running goroutines for graceful shutdown
	// wg 跟踪运行中的 goroutine 以实现优雅关闭
	wg sync.WaitGroup

	running bool
	mu      sync.Mutex
}

// NewDaemon creates a Daemon with all components initialized
// NewDaemon 创建一个初始化所有组件的 Daemon
func NewDaemon(cfg *config.Config, log *zap.Logger) (*Daemon, error) {
	if log == nil {
		log = zap.NewNop()
	}

	cls, err := classifier.New(cfg.Classifier)
	if err != nil {
		return nil, fmt.Errorf("classifier: %w", err)
	}

	if err := otel_trace.Init(context.Background(), cfg.Telemetry, log); err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}

	gdb, err := db.Open(cfg.Database, log)
	if err != nil {
		return nil, err
	}
	if err := migrator.Migrate(gdb); err != nil {
		_ = db.Close(gdb)
		return nil, err
	}

	bus := eventbus.New(log)

	sup := process.NewSupervisor(cfg.Server.Name, cls, log)
	if cfg.Server.CrashTailLines > 0 {
		sup.SetTailLines(cfg.Server.CrashTailLines)
	}
	if cfg.Server.KillWait > 0 {
		sup.SetKillWait(cfg.Server.KillWait)
	}
	sup.SetObserver(bus)

	engine, err := backup.NewEngine(cfg.BackupEngineConfig(), sup, backup.NewRepository(gdb), log)
	if err != nil {
		bus.Close()
		_ = db.Close(gdb)
		return nil, err
	}
	engine.SetObserver(bus)
	// 恢复期间禁止启动服务器
	sup.SetStartGuard(engine.CheckStartAllowed)

	restarter := restart.NewAutoRestarter(sup, log)
	restarter.SetConfig(&restart.Config{
		Enabled:        cfg.Restart.Enabled,
		RestartDelay:   cfg.Restart.Delay,
		MaxRestarts:    cfg.Restart.MaxRestarts,
		TimeWindow:     cfg.Restart.TimeWindow,
		CooldownPeriod: cfg.Restart.Cooldown,
	})
	restarter.SetCallback(func(success bool, err error) {
		if success {
			log.Info("Server restarted after crash / 服务器崩溃后已重启")
			return
		}
		log.Warn("Auto-restart failed / 自动重启失败", zap.Error(err))
	})

	sched, err := schedule.New(schedule.Config{
		BackupSchedule:  cfg.Backup.Schedule,
		KeepLast:        cfg.Backup.KeepLast,
		RestartSchedule: cfg.Restart.Schedule,
		StopTimeout:     cfg.Server.StopTimeout,
	}, engine, sup, log)
	if err != nil {
		bus.Close()
		_ = db.Close(gdb)
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	d := &Daemon{
		config:     cfg,
		logger:     log,
		ctx:        ctx,
		cancel:     cancel,
		classifier: cls,
		gdb:        gdb,
		bus:        bus,
		supervisor: sup,
		engine:     engine,
		restarter:  restarter,
		scheduler:  sched,
		tailer:     logtail.New(cls, log),
	}

	if cfg.HTTP.Enabled {
		handler := router.New(router.Deps{
			Server:     serverHandlerConfig(cfg, sup, restarter, sched),
			Backups:    engine,
			Tailer:     d.tailer,
			Classifier: cls,
			ServerDir:  cfg.Server.Dir,
			Bus:        bus,
			Logger:     log,
			Version:    Version,
			Debug:      cfg.Log.Level == "debug",

			ServiceName: cfg.Telemetry.ServiceName,
		})
		d.httpServer = router.NewHTTPServer(cfg.HTTP.Listen, handler, log)
	}
	return d, nil
}

// Run starts all background services, optionally launching the server
// Run 启动所有后台服务，可选地启动服务器
func (d *Daemon) Run(autostart bool) error {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return errors.New("daemon is already running / Daemon 已在运行")
	}
	d.running = true
	d.mu.Unlock()

	d.logger.Info("ArcLightX starting / ArcLightX 正在启动",
		zap.String("version", Version),
		zap.String("commit", GitCommit),
		zap.String("server", d.config.Server.Name),
		zap.String("dir", d.config.Server.Dir))

	// Step 1: Reconcile backup records with the archives on disk
	// 步骤 1：将备份记录与磁盘上的归档对齐
	d.logger.Info("[1/4] Reconciling backups... / 对齐备份记录...")
	imported, err := d.engine.Reconcile(d.ctx)
	if err != nil {
		return fmt.Errorf("reconcile backups: %w", err)
	}
	if imported > 0 {
		d.logger.Info("Imported untracked archives / 已导入未登记的归档", zap.Int("count", imported))
	}

	// Step 2: Start crash watcher and scheduler
	// 步骤 2：启动崩溃监听和定时任务
	d.logger.Info("[2/4] Starting auto-restart and scheduler... / 启动自动重启和定时任务...")
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.restarter.Run(d.ctx, d.bus)
	}()
	d.scheduler.Start()

	// Step 3: Start HTTP API
	// 步骤 3：启动 HTTP API
	if d.httpServer != nil {
		d.logger.Info("[3/4] Starting HTTP API... / 启动 HTTP API...", zap.String("listen", d.config.HTTP.Listen))
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			if err := d.httpServer.ListenAndServe(); err != nil {
				d.logger.Error("HTTP server stopped / HTTP 服务已停止", zap.Error(err))
			}
		}()
	} else {
		d.logger.Info("[3/4] HTTP API disabled / HTTP API 已禁用")
	}

	// Step 4: Launch the server
	// 步骤 4：启动服务器
	if autostart {
		d.logger.Info("[4/4] Launching server... / 启动服务器...")
		if err := d.supervisor.Start(d.ctx, d.config.LaunchConfig()); err != nil {
			return fmt.Errorf("start server: %w", err)
		}
	} else {
		d.logger.Info("[4/4] Autostart disabled, waiting for commands / 未启用自动启动，等待指令")
	}

	d.logger.Info("ArcLightX started / ArcLightX 已启动")
	return nil
}

// Shutdown stops the server and every background service
// Shutdown 停止服务器和所有后台服务
func (d *Daemon) Shutdown() {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return
	}
	d.running = false
	d.mu.Unlock()

	d.logger.Info("ArcLightX shutting down / ArcLightX 正在关闭")

	stopTimeout := d.config.Server.StopTimeout
	if stopTimeout <= 0 {
		stopTimeout = process.DefaultStopTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), stopTimeout+shutdownTimeout)
	defer cancel()

	// Step 1: Stop accepting scheduled jobs and crash restarts
	// 步骤 1：停止定时任务和崩溃重启
	d.cancel()
	if err := d.scheduler.Stop(ctx); err != nil {
		d.logger.Warn("Scheduler did not stop in time / 定时任务未能及时停止", zap.Error(err))
	}

	// Step 2: Stop HTTP API
	// 步骤 2：停止 HTTP API
	if d.httpServer != nil {
		if err := d.httpServer.Shutdown(ctx); err != nil {
			d.logger.Warn("HTTP shutdown failed / HTTP 关闭失败", zap.Error(err))
		}
	}

	// Step 3: Stop the server gracefully
	// 步骤 3：优雅停止服务器
	if d.supervisor.CurrentState().Active() {
		d.logger.Info("Stopping server... / 正在停止服务器...")
		if _, err := d.supervisor.Stop(ctx, stopTimeout); err != nil && !errors.Is(err, process.ErrNotRunning) {
			d.logger.Error("Server stop failed / 服务器停止失败", zap.Error(err))
		}
	}

	// Step 4: Release event bus and database
	// 步骤 4：释放事件总线和数据库
	d.bus.Close()
	d.wg.Wait()
	if err := db.Close(d.gdb); err != nil {
		d.logger.Warn("Database close failed / 数据库关闭失败", zap.Error(err))
	}
	if err := otel_trace.Shutdown(ctx); err != nil {
		d.logger.Warn("Trace flush failed / 追踪数据刷新失败", zap.Error(err))
	}

	d.logger.Info("ArcLightX stopped / ArcLightX 已停止")
}

func serverHandlerConfig(cfg *config.Config, sup *process.Supervisor, r *restart.AutoRestarter, s *schedule.Scheduler) server.HandlerConfig {
	return server.HandlerConfig{
		Supervisor:  sup,
		Launch:      cfg.LaunchConfig,
		StopTimeout: cfg.Server.StopTimeout,
		Restarter:   r,
		Scheduler:   s,
	}
}

// newServeCmd runs the supervisor in the foreground
// newServeCmd 在前台运行 Supervisor
func newServeCmd() *cobra.Command {
	var autostart bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the supervisor daemon / 运行 Supervisor 守护进程",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configFile)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			return runDaemon(cfg, autostart, cmd.ErrOrStderr())
		},
	}
	cmd.Flags().BoolVar(&autostart, "autostart", true, "launch the server on startup / 启动时运行服务器")
	return cmd
}

// runDaemon runs until SIGINT or SIGTERM; SIGHUP restarts the server
// runDaemon 运行直到收到 SIGINT 或 SIGTERM；SIGHUP 重启服务器
func runDaemon(cfg *config.Config, autostart bool, console io.Writer) error {
	log, flush, err := logger.New(cfg.Log, console)
	if err != nil {
		return fmt.Errorf("failed to init logger: %w", err)
	}
	defer func() { _ = flush() }()

	daemon, err := NewDaemon(cfg, log)
	if err != nil {
		return err
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigChan)

	if err := daemon.Run(autostart); err != nil {
		daemon.Shutdown()
		return err
	}

	for sig := range sigChan {
		if sig == syscall.SIGHUP {
			log.Info("Received SIGHUP, restarting server / 收到 SIGHUP，重启服务器")
			if err := daemon.supervisor.Restart(daemon.ctx, cfg.Server.StopTimeout, cfg.LaunchConfig()); err != nil {
				log.Warn("Restart failed / 重启失败", zap.Error(err))
			}
			continue
		}
		log.Info("Received signal, shutting down / 收到信号，正在关闭", zap.String("signal", sig.String()))
		break
	}

	daemon.Shutdown()
	return nil
}
