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

// Package restart restarts the Minecraft server after a crash.
// restart 包在 Minecraft 服务器崩溃后自动重启。
//
// This package provides:
// 此包提供：
// - Automatic restart on crash / 崩溃时自动重启
// - Restart count limiting / 重启次数限制
// - Cooldown period management / 冷却时间管理
// - Restart history tracking / 重启历史跟踪
package restart

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/arclightx/arclightx/internal/eventbus"
	"github.com/arclightx/arclightx/internal/process"
)

// Default configuration values
// 默认配置值
const (
	DefaultRestartDelay   = 10 * time.Second // 默认重启延迟 / Default restart delay
	DefaultMaxRestarts    = 3                // 默认最大重启次数 / Default max restarts
	DefaultTimeWindow     = 5 * time.Minute  // 默认时间窗口 / Default time window
	DefaultCooldownPeriod = 30 * time.Minute // 默认冷却时间 / Default cooldown period
)

// ErrRestartLimit indicates the restart limit was reached or the cooldown is active
// ErrRestartLimit 表示已达重启限制或正处于冷却期
var ErrRestartLimit = errors.New("restart: limit reached or in cooldown")

// Config holds the restart configuration
// Config 保存重启配置
type Config struct {
	Enabled        bool          `json:"enabled"`         // 是否启用自动重启 / Enable auto restart
	RestartDelay   time.Duration `json:"restart_delay"`   // 重启延迟 / Restart delay
	MaxRestarts    int           `json:"max_restarts"`    // 最大重启次数 / Max restart count
	TimeWindow     time.Duration `json:"time_window"`     // 时间窗口 / Time window
	CooldownPeriod time.Duration `json:"cooldown_period"` // 冷却时间 / Cooldown period
}

// DefaultConfig returns the default restart configuration
// DefaultConfig 返回默认重启配置
func DefaultConfig() *Config {
	return &Config{
		Enabled:        true,
		RestartDelay:   DefaultRestartDelay,
		MaxRestarts:    DefaultMaxRestarts,
		TimeWindow:     DefaultTimeWindow,
		CooldownPeriod: DefaultCooldownPeriod,
	}
}

// History tracks automatic restarts of the server
// History 跟踪服务器的自动重启历史
type History struct {
	RestartCount  int         `json:"restart_count"`
	LastRestart   time.Time   `json:"last_restart"`
	WindowStart   time.Time   `json:"window_start"`
	CooldownUntil time.Time   `json:"cooldown_until"`
	RestartTimes  []time.Time `json:"restart_times"` // 窗口内的重启时间 / Restart times within the window
}

// Callback is called after every restart attempt
// Callback 在每次重启尝试后被调用
type Callback func(success bool, err error)

// Supervisor is the part of the process supervisor the restarter drives.
type Supervisor interface {
	Start(ctx context.Context, cfg *process.LaunchConfig) error
	LastConfig() *process.LaunchConfig
	CurrentState() process.State
}

// AutoRestarter restarts the server after crashes, with limits and cooldown
// AutoRestarter 在服务器崩溃后自动重启，带次数限制和冷却
type AutoRestarter struct {
	sup      Supervisor
	config   *Config
	history  *History
	callback Callback
	logger   *zap.Logger
	now      func() time.Time
	mu       sync.RWMutex
}

// NewAutoRestarter creates a new AutoRestarter instance
// NewAutoRestarter 创建一个新的 AutoRestarter 实例
func NewAutoRestarter(sup Supervisor, logger *zap.Logger) *AutoRestarter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AutoRestarter{
		sup:    sup,
		config: DefaultConfig(),
		logger: logger.With(zap.String("component", "restarter")),
		now:    time.Now,
	}
}

// SetConfig sets the restart configuration
// SetConfig 设置重启配置
func (r *AutoRestarter) SetConfig(config *Config) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.config = config
	r.logger.Info("restart config updated",
		zap.Bool("enabled", config.Enabled),
		zap.Duration("delay", config.RestartDelay),
		zap.Int("max_restarts", config.MaxRestarts),
		zap.Duration("window", config.TimeWindow),
		zap.Duration("cooldown", config.CooldownPeriod))
}

// SetCallback sets the restart callback
// SetCallback 设置重启回调
func (r *AutoRestarter) SetCallback(callback Callback) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.callback = callback
}

// Run consumes crash notifications from bus until ctx is done
// Run 从事件总线消费崩溃通知，直到 ctx 结束
func (r *AutoRestarter) Run(ctx context.Context, bus *eventbus.Bus) {
	sub := bus.Subscribe(16, eventbus.KindStateChanged)
	defer bus.Unsubscribe(sub)

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub.C:
			if !ok {
				return
			}
			if !ev.IsCrash() {
				continue
			}
			if err := r.OnCrashed(ctx, ev.StateChanged.Exit); err != nil && !errors.Is(err, context.Canceled) {
				r.logger.Warn("automatic restart not performed", zap.Error(err))
			}
		}
	}
}

// OnCrashed handles one crash: it waits the restart delay and starts the server again
// OnCrashed 处理一次崩溃：等待重启延迟后重新启动服务器
func (r *AutoRestarter) OnCrashed(ctx context.Context, exit *process.ExitInfo) error {
	r.mu.RLock()
	config := *r.config
	r.mu.RUnlock()

	if !config.Enabled {
		r.logger.Info("auto restart disabled, skipping", zap.Stringer("exit", exit))
		return nil
	}

	if !r.ShouldRestart() {
		return ErrRestartLimit
	}

	r.logger.Info("server crashed, restarting after delay",
		zap.Stringer("exit", exit), zap.Duration("delay", config.RestartDelay))
	timer := time.NewTimer(config.RestartDelay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
	}

	// the config may have been disabled or the operator may have started the server meanwhile
	// 延迟期间配置可能被禁用，或操作员已手动启动服务器
	if !r.IsEnabled() {
		r.logger.Info("auto restart disabled after delay, skipping")
		return nil
	}
	if state := r.sup.CurrentState(); state != process.StateCrashed {
		r.logger.Info("server no longer crashed, skipping restart", zap.String("state", string(state)))
		return nil
	}

	return r.DoRestart(ctx)
}

// ShouldRestart checks the restart count within the window and the cooldown
// ShouldRestart 检查时间窗口内的重启次数和冷却时间
func (r *AutoRestarter) ShouldRestart() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.config.Enabled {
		return false
	}

	history := r.history
	if history == nil {
		return true
	}

	now := r.now()

	if now.Before(history.CooldownUntil) {
		r.logger.Warn("restart in cooldown", zap.Time("until", history.CooldownUntil))
		return false
	}

	// Cooldown passed, reset counter / 冷却已过，重置计数器
	if now.After(history.CooldownUntil) && history.CooldownUntil.After(history.WindowStart) {
		r.resetHistoryLocked()
		return true
	}

	windowStart := now.Add(-r.config.TimeWindow)
	restartsInWindow := 0
	for _, t := range history.RestartTimes {
		if t.After(windowStart) {
			restartsInWindow++
		}
	}

	if restartsInWindow >= r.config.MaxRestarts {
		history.CooldownUntil = now.Add(r.config.CooldownPeriod)
		r.logger.Warn("max restarts reached, entering cooldown",
			zap.Int("max_restarts", r.config.MaxRestarts), zap.Time("until", history.CooldownUntil))
		return false
	}

	return true
}

// DoRestart starts the server with its last launch configuration
// DoRestart 使用上一次的启动配置启动服务器
func (r *AutoRestarter) DoRestart(ctx context.Context) error {
	r.mu.RLock()
	callback := r.callback
	r.mu.RUnlock()

	cfg := r.sup.LastConfig()
	if cfg == nil {
		err := fmt.Errorf("%w: no previous launch configuration", process.ErrConfiguration)
		if callback != nil {
			callback(false, err)
		}
		return err
	}

	r.logger.Info("restarting server")
	err := r.sup.Start(ctx, cfg)
	if err != nil {
		if errors.Is(err, process.ErrAlreadyRunning) {
			r.logger.Info("server already running, treating as success")
			if callback != nil {
				callback(true, nil)
			}
			return nil
		}
		r.recordRestart()
		r.logger.Error("failed to restart server", zap.Error(err))
		if callback != nil {
			callback(false, err)
		}
		return err
	}

	r.recordRestart()
	r.logger.Info("server restarted")
	if callback != nil {
		callback(true, nil)
	}
	return nil
}

// recordRestart records a restart in history
// recordRestart 在历史中记录重启
func (r *AutoRestarter) recordRestart() {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	if r.history == nil {
		r.history = &History{WindowStart: now}
	}
	history := r.history

	history.RestartCount++
	history.LastRestart = now
	history.RestartTimes = append(history.RestartTimes, now)

	windowStart := now.Add(-r.config.TimeWindow)
	var kept []time.Time
	for _, t := range history.RestartTimes {
		if t.After(windowStart) {
			kept = append(kept, t)
		}
	}
	history.RestartTimes = kept

	r.logger.Debug("recorded restart", zap.Int("in_window", len(history.RestartTimes)))
}

// ResetRestartCount resets the restart count and leaves cooldown
// ResetRestartCount 重置重启计数并退出冷却
func (r *AutoRestarter) ResetRestartCount() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resetHistoryLocked()
}

// resetHistoryLocked must be called with the lock held
// resetHistoryLocked 必须在持有锁的情况下调用
func (r *AutoRestarter) resetHistoryLocked() {
	if r.history == nil {
		return
	}
	r.history.RestartCount = 0
	r.history.RestartTimes = nil
	r.history.WindowStart = r.now()
	r.history.CooldownUntil = time.Time{}
	r.logger.Info("restart count reset")
}

// GetRestartHistory returns a copy of the restart history, or nil when none was recorded
// GetRestartHistory 返回重启历史的副本，未记录时返回 nil
func (r *AutoRestarter) GetRestartHistory() *History {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.history == nil {
		return nil
	}
	historyCopy := *r.history
	historyCopy.RestartTimes = append([]time.Time(nil), r.history.RestartTimes...)
	return &historyCopy
}

// GetConfig returns a copy of the current configuration
// GetConfig 返回当前配置的副本
func (r *AutoRestarter) GetConfig() *Config {
	r.mu.RLock()
	defer r.mu.RUnlock()
	configCopy := *r.config
	return &configCopy
}

// IsInCooldown reports whether automatic restarts are paused
// IsInCooldown 判断自动重启是否处于冷却期
func (r *AutoRestarter) IsInCooldown() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.history != nil && r.now().Before(r.history.CooldownUntil)
}

// IsEnabled returns whether auto restart is enabled
// IsEnabled 返回是否启用了自动重启
func (r *AutoRestarter) IsEnabled() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.config.Enabled
}
