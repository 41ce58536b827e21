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

// Package schedule runs periodic backups and restarts.
// schedule 包执行定时备份和定时重启。
package schedule

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/arclightx/arclightx/internal/backup"
	"github.com/arclightx/arclightx/internal/otel_trace"
	"github.com/arclightx/arclightx/internal/process"
)

// Job names
// 任务名称
const (
	JobBackup  = "backup"
	JobRestart = "restart"
)

// ErrInvalidSchedule indicates a cron expression that cannot be parsed
// ErrInvalidSchedule 表示无法解析的 cron 表达式
var ErrInvalidSchedule = errors.New("schedule: invalid cron expression")

// parser accepts standard 5-field expressions, an optional leading seconds field and descriptors like @every 1h
var parser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// Validate checks a cron expression. An empty expression is valid and disables the job.
// Validate 校验 cron 表达式，空表达式合法并表示禁用该任务。
func Validate(spec string) error {
	if spec == "" {
		return nil
	}
	if _, err := parser.Parse(spec); err != nil {
		return fmt.Errorf("%w %q: %v", ErrInvalidSchedule, spec, err)
	}
	return nil
}

// BackupRunner creates and prunes backups.
type BackupRunner interface {
	CreateBackup(ctx context.Context, manifest []string) (*backup.Record, error)
	Prune(ctx context.Context, keepLast int) ([]*backup.Record, error)
}

// ServerRestarter restarts the running server.
type ServerRestarter interface {
	Restart(ctx context.Context, grace time.Duration, cfg *process.LaunchConfig) error
}

// Config holds the scheduler settings
// Config 保存调度配置
type Config struct {
	BackupSchedule  string
	KeepLast        int
	RestartSchedule string
	StopTimeout     time.Duration
}

// Entry describes a scheduled job
// Entry 描述一个定时任务
type Entry struct {
	Name string    `json:"name"`
	Spec string    `json:"spec"`
	Next time.Time `json:"next"`
	Prev time.Time `json:"prev,omitempty"`
}

// Scheduler wraps a cron runner with the backup and restart jobs
// Scheduler 封装 cron 调度器及备份、重启任务
type Scheduler struct {
	cfg     Config
	cron    *cron.Cron
	backups BackupRunner
	server  ServerRestarter
	logger  *zap.Logger

	mu      sync.Mutex
	entries map[cron.EntryID]Entry
	ctx     context.Context
	cancel  context.CancelFunc
}

// New registers the configured jobs. Invalid expressions are rejected here so that startup fails.
// New 注册配置的任务，非法表达式在此处被拒绝以使启动失败。
func New(cfg Config, backups BackupRunner, server ServerRestarter, logger *zap.Logger) (*Scheduler, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("component", "scheduler"))

	cl := cronLogger{logger.Sugar()}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		cfg:     cfg,
		backups: backups,
		server:  server,
		logger:  logger,
		entries: make(map[cron.EntryID]Entry),
		ctx:     ctx,
		cancel:  cancel,
		cron: cron.New(
			cron.WithParser(parser),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
	}

	if cfg.BackupSchedule != "" {
		if backups == nil {
			cancel()
			return nil, errors.New("schedule: backup schedule set without a backup engine")
		}
		if err := s.add(JobBackup, cfg.BackupSchedule, s.traced(JobBackup, s.RunBackup)); err != nil {
			cancel()
			return nil, err
		}
	}
	if cfg.RestartSchedule != "" {
		if server == nil {
			cancel()
			return nil, errors.New("schedule: restart schedule set without a supervisor")
		}
		if err := s.add(JobRestart, cfg.RestartSchedule, s.traced(JobRestart, s.RunRestart)); err != nil {
			cancel()
			return nil, err
		}
	}
	return s, nil
}

// traced runs job under a root span named after it
func (s *Scheduler) traced(name string, job func(context.Context) error) func() {
	return func() {
		ctx, span := otel_trace.Start(s.ctx, "schedule."+name)
		otel_trace.End(span, job(ctx))
	}
}

func (s *Scheduler) add(name, spec string, fn func()) error {
	if err := Validate(spec); err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	id, err := s.cron.AddFunc(spec, fn)
	if err != nil {
		return fmt.Errorf("%s: %w %q: %v", name, ErrInvalidSchedule, spec, err)
	}
	s.mu.Lock()
	s.entries[id] = Entry{Name: name, Spec: spec}
	s.mu.Unlock()
	s.logger.Info("job scheduled", zap.String("job", name), zap.String("spec", spec))
	return nil
}

// Start begins running jobs in the background
// Start 在后台开始执行任务
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop prevents new runs, cancels running jobs and waits for them or ctx
// Stop 停止调度，取消正在执行的任务，并等待其结束或 ctx 结束
func (s *Scheduler) Stop(ctx context.Context) error {
	stopped := s.cron.Stop()
	s.cancel()
	select {
	case <-stopped.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Entries lists the scheduled jobs with their next run time
// Entries 列出定时任务及其下次执行时间
func (s *Scheduler) Entries() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Entry, 0, len(s.entries))
	for _, ce := range s.cron.Entries() {
		e, ok := s.entries[ce.ID]
		if !ok {
			continue
		}
		e.Next = ce.Next
		e.Prev = ce.Prev
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// RunBackup creates a backup of the default manifest, then applies retention
// RunBackup 按默认清单创建备份，然后执行保留策略
func (s *Scheduler) RunBackup(ctx context.Context) error {
	start := time.Now()
	rec, err := s.backups.CreateBackup(ctx, nil)
	if err != nil {
		s.logger.Error("scheduled backup failed", zap.Error(err))
		return err
	}
	s.logger.Info("scheduled backup completed",
		zap.String("id", rec.ID),
		zap.String("archive", rec.ArchivePath),
		zap.Bool("inconsistent", rec.InconsistentSnapshot),
		zap.Duration("took", time.Since(start)))

	if s.cfg.KeepLast <= 0 {
		return nil
	}
	removed, err := s.backups.Prune(ctx, s.cfg.KeepLast)
	if err != nil {
		s.logger.Error("backup retention failed", zap.Error(err))
		return err
	}
	if len(removed) > 0 {
		s.logger.Info("old backups pruned", zap.Int("removed", len(removed)), zap.Int("keep_last", s.cfg.KeepLast))
	}
	return nil
}

// RunRestart restarts the server if it is running. A stopped server is left alone.
// RunRestart 在服务器运行时将其重启，已停止的服务器不受影响。
func (s *Scheduler) RunRestart(ctx context.Context) error {
	err := s.server.Restart(ctx, s.cfg.StopTimeout, nil)
	switch {
	case err == nil:
		s.logger.Info("scheduled restart completed")
		return nil
	case errors.Is(err, process.ErrNotRunning):
		s.logger.Info("scheduled restart skipped, server is not running")
		return nil
	default:
		s.logger.Error("scheduled restart failed", zap.Error(err))
		return err
	}
}

// cronLogger adapts zap to cron.Logger
// cronLogger 将 zap 适配为 cron.Logger
type cronLogger struct {
	s *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.s.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.s.Errorw(msg, append(keysAndValues, "error", err)...)
}
