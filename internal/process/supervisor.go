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

// Package process provides Minecraft server lifecycle supervision.
// process 包提供 Minecraft 服务器生命周期托管功能。
//
// This package provides:
// 此包提供：
// - Start, Stop, Restart methods / 启动、停止、重启方法
// - Console command forwarding over stdin / 通过 stdin 转发控制台命令
// - Output streaming through the log classifier / 输出经日志分类器实时分类
// - Crash detection with tail capture / 崩溃检测并记录尾部日志
package process

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/arclightx/arclightx/internal/classifier"
)

// Common errors for server supervision
// 服务器托管的常见错误
var (
	// ErrConfiguration indicates the launch configuration is invalid
	// ErrConfiguration 表示启动配置无效
	ErrConfiguration = errors.New("invalid launch configuration")

	// ErrAlreadyRunning indicates the server is already running
	// ErrAlreadyRunning 表示服务器已在运行
	ErrAlreadyRunning = errors.New("server is already running")

	// ErrNotRunning indicates the server is not running
	// ErrNotRunning 表示服务器未运行
	ErrNotRunning = errors.New("server is not running")

	// ErrInvalidCommand indicates a console command that cannot be sent
	// ErrInvalidCommand 表示无法发送的控制台命令
	ErrInvalidCommand = errors.New("invalid console command")

	// ErrStartFailed indicates the process failed to start
	// ErrStartFailed 表示进程启动失败
	ErrStartFailed = errors.New("server failed to start")

	// ErrStopFailed indicates the process did not exit even after being killed
	// ErrStopFailed 表示进程在被强制终止后仍未退出
	ErrStopFailed = errors.New("server failed to stop")
)

// Default configuration values
// 默认配置值
const (
	// DefaultStopCommand is the console command for graceful shutdown
	// DefaultStopCommand 是优雅关闭使用的控制台命令
	DefaultStopCommand = "stop"

	// DefaultStartGrace is how long Start waits for the first output line
	// DefaultStartGrace 是 Start 等待首行输出的时间
	DefaultStartGrace = 10 * time.Second

	// DefaultStopTimeout is the default timeout for graceful shutdown (30 seconds)
	// DefaultStopTimeout 是优雅关闭的默认超时时间（30秒）
	DefaultStopTimeout = 30 * time.Second

	// DefaultKillWait bounds the wait for exit after SIGKILL
	// DefaultKillWait 是发送 SIGKILL 后等待退出的上限
	DefaultKillWait = 10 * time.Second

	// DefaultTailLines is the number of output lines kept for crash reports
	// DefaultTailLines 是崩溃报告保留的输出行数
	DefaultTailLines = 50

	maxLineBytes      = 1 << 20
	stdinWriteTimeout = 5 * time.Second
)

type observerBox struct{ Observer }

// Supervisor owns one server JVM and its lifecycle state
// Supervisor 管理一个服务器 JVM 及其生命周期状态
type Supervisor struct {
	name       string
	classifier *classifier.Classifier
	logger     *zap.Logger
	observer   atomic.Value // observerBox
	current    atomic.Value // State

	// transitionMu serializes Start, Stop and Restart
	// transitionMu 串行化 Start、Stop 和 Restart
	transitionMu sync.Mutex

	// stdinMu keeps concurrent commands from interleaving
	// stdinMu 防止并发命令交错写入
	stdinMu sync.Mutex

	// mu protects the fields below, every state write happens under it
	// mu 保护以下字段，所有状态写入都在其保护下进行
	mu         sync.Mutex
	state      State
	startGuard func() error
	tailLines  int
	killWait   time.Duration
	cmd        *exec.Cmd
	pid        int
	stdin      io.WriteCloser
	command    []string
	workDir    string
	startTime  time.Time
	lastExit   *ExitInfo
	lastConfig *LaunchConfig
	done       chan struct{}
}

// NewSupervisor creates a Supervisor in the Stopped state
// NewSupervisor 创建一个处于 Stopped 状态的 Supervisor
func NewSupervisor(name string, cls *classifier.Classifier, logger *zap.Logger) *Supervisor {
	if cls == nil {
		cls = classifier.MustDefault()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Supervisor{
		name:       name,
		classifier: cls,
		logger:     logger.With(zap.String("server", name)),
		state:      StateStopped,
		tailLines:  DefaultTailLines,
		killWait:   DefaultKillWait,
	}
	s.current.Store(StateStopped)
	s.observer.Store(observerBox{noopObserver{}})
	return s
}

// Name returns the server name.
func (s *Supervisor) Name() string { return s.name }

// SetObserver sets the event observer
// SetObserver 设置事件观察者
func (s *Supervisor) SetObserver(o Observer) {
	if o == nil {
		o = noopObserver{}
	}
	s.observer.Store(observerBox{o})
}

// SetStartGuard sets a hook that can veto Start
// SetStartGuard 设置可以否决 Start 的钩子
func (s *Supervisor) SetStartGuard(guard func() error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.startGuard = guard
}

// SetTailLines sets how many output lines a crash report carries
// SetTailLines 设置崩溃报告携带的输出行数
func (s *Supervisor) SetTailLines(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n > 0 {
		s.tailLines = n
	}
}

// SetKillWait bounds the wait for exit after a forced kill.
func (s *Supervisor) SetKillWait(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d > 0 {
		s.killWait = d
	}
}

func (s *Supervisor) notify() Observer {
	return s.observer.Load().(observerBox).Observer
}

// CurrentState returns the lifecycle state without blocking
// CurrentState 非阻塞地返回生命周期状态
func (s *Supervisor) CurrentState() State {
	return s.current.Load().(State)
}

// setState must be called with mu held
// setState 必须在持有 mu 时调用
func (s *Supervisor) setState(next State, exit *ExitInfo) {
	old := s.state
	if old == next {
		return
	}
	if !old.CanTransitionTo(next) {
		s.logger.Error("unexpected state transition", zap.String("from", string(old)), zap.String("state", string(next)))
	}
	s.state = next
	s.current.Store(next)
	s.logger.Info("server state changed", zap.String("from", string(old)), zap.String("state", string(next)))
	s.notify().StateChanged(old, next, exit)
}

// Start launches the server JVM
// Start 启动服务器 JVM
//
// The state moves Stopped/Crashed -> Starting, then Running once the first output
// line is seen or the start grace elapses with the process still alive.
// 状态从 Stopped/Crashed 变为 Starting，观察到首行输出或启动宽限期结束且进程存活后变为 Running。
func (s *Supervisor) Start(ctx context.Context, cfg *LaunchConfig) error {
	s.transitionMu.Lock()
	defer s.transitionMu.Unlock()
	return s.start(ctx, cfg)
}

func (s *Supervisor) start(ctx context.Context, cfg *LaunchConfig) error {
	if cfg == nil {
		return fmt.Errorf("%w: launch config is required", ErrConfiguration)
	}

	s.mu.Lock()
	state, guard, tailLines := s.state, s.startGuard, s.tailLines
	s.mu.Unlock()

	if state != StateStopped && state != StateCrashed {
		return fmt.Errorf("%w: server is %s", ErrAlreadyRunning, state)
	}
	if guard != nil {
		if err := guard(); err != nil {
			return err
		}
	}

	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return err
	}

	cmd := buildCommand(cfg)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("%w: stdin pipe: %v", ErrStartFailed, err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		stdin.Close()
		return fmt.Errorf("%w: stdout pipe: %v", ErrStartFailed, err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		stdin.Close()
		return fmt.Errorf("%w: stderr pipe: %v", ErrStartFailed, err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("%w: %v", ErrStartFailed, err)
	}
	pid := cmd.Process.Pid

	first := make(chan struct{})
	done := make(chan struct{})
	tail := newTailBuffer(tailLines)

	s.mu.Lock()
	s.cmd = cmd
	s.pid = pid
	s.stdin = stdin
	s.command = BuildArgs(cfg)
	s.workDir = cfg.WorkDir
	s.startTime = time.Now()
	s.lastConfig = cfg
	s.done = done
	s.setState(StateStarting, nil)
	s.mu.Unlock()

	s.logger.Info("server process spawned", zap.Int("pid", pid), zap.Strings("command", BuildArgs(cfg)))

	go s.run(cmd, tail, stdout, stderr, first, done)

	timer := time.NewTimer(cfg.StartGrace)
	defer timer.Stop()

	select {
	case <-first:
	case <-done:
	case <-timer.C:
		// No output yet, rely on liveness / 尚无输出，依据进程存活判断
		if !isProcessAlive(pid) {
			s.awaitExit(pid, done)
			return fmt.Errorf("%w: process is not alive after %s", ErrStartFailed, cfg.StartGrace)
		}
	case <-ctx.Done():
		s.abortStart(pid, done)
		return fmt.Errorf("%w: %w", ErrStartFailed, ctx.Err())
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done != done || s.state != StateStarting {
		return fmt.Errorf("%w: exited during startup (%s)", ErrStartFailed, s.lastExit)
	}
	s.setState(StateRunning, nil)
	return nil
}

// abortStart kills a process whose start was cancelled
// abortStart 终止启动被取消的进程
func (s *Supervisor) abortStart(pid int, done chan struct{}) {
	s.mu.Lock()
	if s.done == done && s.state == StateStarting {
		s.setState(StateStopping, nil)
	}
	s.mu.Unlock()

	if err := killProcessGroup(pid); err != nil {
		s.logger.Warn("failed to kill aborted process", zap.Int("pid", pid), zap.Error(err))
	}
	s.awaitExit(pid, done)
}

// awaitExit waits a bounded time for the read loop to observe the exit
// awaitExit 在有限时间内等待读取循环观察到进程退出
func (s *Supervisor) awaitExit(pid int, done chan struct{}) bool {
	s.mu.Lock()
	wait := s.killWait
	s.mu.Unlock()

	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-done:
		return true
	case <-timer.C:
		s.logger.Error("process did not exit in time", zap.Int("pid", pid), zap.Duration("wait", wait))
		return false
	}
}

// run drains stdout and stderr, then reaps the process
// run 读取 stdout 和 stderr，然后回收进程
func (s *Supervisor) run(cmd *exec.Cmd, tail *tailBuffer, stdout, stderr io.Reader, first, done chan struct{}) {
	defer close(done)

	var once sync.Once
	seen := func() { once.Do(func() { close(first) }) }

	var g errgroup.Group
	g.Go(func() error { return s.drain(stdout, classifier.StreamStdout, tail, seen) })
	g.Go(func() error { return s.drain(stderr, classifier.StreamStderr, tail, seen) })
	readErr := g.Wait()

	// All reads must complete before Wait / 所有读取必须在 Wait 之前完成
	waitErr := cmd.Wait()
	s.handleExit(cmd, tail, waitErr, readErr)
}

func (s *Supervisor) drain(r io.Reader, stream classifier.Stream, tail *tailBuffer, seen func()) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	for scanner.Scan() {
		seen()
		text := classifier.StripANSI(strings.TrimRight(scanner.Text(), "\r"))
		tail.add(text)

		line := classifier.NewLogLine(text, stream)
		if s.classifier.Noise(line) {
			continue
		}
		s.notify().LogClassified(line, s.classifier.Classify(line))
	}
	if err := scanner.Err(); err != nil {
		s.logger.Warn("output stream read error", zap.String("stream", string(stream)), zap.Error(err))
		// Keep draining so the child never blocks on a full pipe / 继续读取，避免子进程阻塞在满管道上
		_, _ = io.Copy(io.Discard, r)
		return err
	}
	return nil
}

// handleExit performs the exit transition: Stopping -> Stopped, otherwise -> Crashed
// handleExit 执行退出状态转换：Stopping -> Stopped，其他情况 -> Crashed
func (s *Supervisor) handleExit(cmd *exec.Cmd, tail *tailBuffer, waitErr, readErr error) {
	info := &ExitInfo{Code: -1, ExitedAt: time.Now()}
	if cmd.ProcessState != nil {
		info.Code = cmd.ProcessState.ExitCode()
		info.Signal = exitSignal(cmd.ProcessState)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	next := StateStopped
	if s.state != StateStopping {
		next = StateCrashed
		info.Crashed = true
		info.TailLines = tail.snapshot()
	}

	fields := []zap.Field{
		zap.Int("pid", s.pid),
		zap.Int("exit_code", info.Code),
		zap.String("signal", info.Signal),
	}
	if readErr != nil {
		fields = append(fields, zap.NamedError("read_error", readErr))
	}
	var exitErr *exec.ExitError
	if waitErr != nil && !errors.As(waitErr, &exitErr) {
		fields = append(fields, zap.NamedError("wait_error", waitErr))
	}
	if info.Crashed {
		s.logger.Warn("server exited unexpectedly", fields...)
	} else {
		s.logger.Info("server exited", fields...)
	}

	s.lastExit = info
	s.cmd, s.pid, s.stdin = nil, 0, nil
	s.setState(next, info)
}

// Stop shuts the server down gracefully, killing it when grace or ctx expires
// Stop 优雅关闭服务器，超过宽限期或 ctx 到期时强制终止
//
// Stopping a Crashed server acknowledges the crash and moves to Stopped.
// 对 Crashed 状态调用 Stop 表示确认崩溃并转为 Stopped。
func (s *Supervisor) Stop(ctx context.Context, grace time.Duration) (*ExitInfo, error) {
	s.transitionMu.Lock()
	defer s.transitionMu.Unlock()
	return s.stop(ctx, grace)
}

func (s *Supervisor) stop(ctx context.Context, grace time.Duration) (*ExitInfo, error) {
	s.mu.Lock()
	switch s.state {
	case StateStopped:
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: server is stopped", ErrNotRunning)
	case StateCrashed:
		info := s.lastExit
		s.setState(StateStopped, info)
		s.mu.Unlock()
		return info, nil
	case StateStarting, StateRunning:
		s.setState(StateStopping, nil)
	}
	pid, done, killWait := s.pid, s.done, s.killWait
	stopCommand := DefaultStopCommand
	if s.lastConfig != nil {
		stopCommand = s.lastConfig.StopCommand
	}
	s.mu.Unlock()

	s.logger.Info("stopping server", zap.Int("pid", pid), zap.Duration("grace", grace))
	if err := s.writeLine(stopCommand); err != nil {
		s.logger.Warn("failed to send stop command", zap.Int("pid", pid), zap.Error(err))
	}

	if grace > 0 {
		timer := time.NewTimer(grace)
		defer timer.Stop()
		select {
		case <-done:
			return s.exitInfo(), nil
		case <-timer.C:
			s.logger.Warn("graceful stop timed out, killing process group", zap.Int("pid", pid))
		case <-ctx.Done():
			s.logger.Warn("stop cancelled, killing process group", zap.Int("pid", pid), zap.Error(ctx.Err()))
		}
	}

	if err := killProcessGroup(pid); err != nil {
		s.logger.Error("failed to kill process group", zap.Int("pid", pid), zap.Error(err))
	}
	killTimer := time.NewTimer(killWait)
	defer killTimer.Stop()
	select {
	case <-done:
		return s.exitInfo(), nil
	case <-killTimer.C:
		return nil, fmt.Errorf("%w: pid %d still running after kill", ErrStopFailed, pid)
	}
}

func (s *Supervisor) exitInfo() *ExitInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastExit
}

// Restart stops and starts the server while holding the transition lock
// Restart 在持有状态转换锁的情况下停止并启动服务器
//
// A nil cfg reuses the last launch configuration.
// cfg 为 nil 时复用上一次的启动配置。
func (s *Supervisor) Restart(ctx context.Context, grace time.Duration, cfg *LaunchConfig) error {
	s.transitionMu.Lock()
	defer s.transitionMu.Unlock()

	s.mu.Lock()
	state := s.state
	if cfg == nil {
		cfg = s.lastConfig
	}
	s.mu.Unlock()

	if state == StateStopped {
		return fmt.Errorf("%w: server is stopped", ErrNotRunning)
	}
	if _, err := s.stop(ctx, grace); err != nil {
		return err
	}
	return s.start(ctx, cfg)
}

// SendCommand writes a console command to the server's stdin
// SendCommand 向服务器 stdin 写入控制台命令
func (s *Supervisor) SendCommand(text string) error {
	if strings.ContainsAny(text, "\r\n") {
		return fmt.Errorf("%w: command contains a line break", ErrInvalidCommand)
	}
	if strings.TrimSpace(text) == "" {
		return fmt.Errorf("%w: command is empty", ErrInvalidCommand)
	}
	switch state := s.CurrentState(); state {
	case StateRunning, StateStarting:
	default:
		return fmt.Errorf("%w: server is %s", ErrNotRunning, state)
	}
	return s.writeLine(text)
}

func (s *Supervisor) writeLine(text string) error {
	s.mu.Lock()
	stdin := s.stdin
	s.mu.Unlock()
	if stdin == nil {
		return ErrNotRunning
	}

	s.stdinMu.Lock()
	defer s.stdinMu.Unlock()
	if d, ok := stdin.(interface{ SetWriteDeadline(time.Time) error }); ok {
		_ = d.SetWriteDeadline(time.Now().Add(stdinWriteTimeout))
	}
	if _, err := io.WriteString(stdin, text+"\n"); err != nil {
		return fmt.Errorf("%w: write to stdin: %v", ErrNotRunning, err)
	}
	return nil
}

// Snapshot returns an immutable view of the supervised process
// Snapshot 返回被托管进程的不可变视图
func (s *Supervisor) Snapshot() ServerProcess {
	s.mu.Lock()
	snap := ServerProcess{
		Name:     s.name,
		PID:      s.pid,
		WorkDir:  s.workDir,
		State:    s.state,
		LastExit: s.lastExit,
	}
	if s.state.Active() {
		snap.Command = append([]string(nil), s.command...)
		snap.StartTime = s.startTime
		snap.Uptime = time.Since(s.startTime)
	}
	s.mu.Unlock()

	if snap.PID > 0 {
		snap.CPUUsage, snap.MemoryUsage = getProcessMetrics(snap.PID)
	}
	return snap
}

// Exclusive runs fn with the current state while no Start, Stop or Restart can begin
// Exclusive 在任何 Start、Stop、Restart 都无法开始的情况下以当前状态执行 fn
func (s *Supervisor) Exclusive(fn func(State) error) error {
	s.transitionMu.Lock()
	defer s.transitionMu.Unlock()
	return fn(s.CurrentState())
}

// LastConfig returns a copy of the most recent launch configuration, or nil.
func (s *Supervisor) LastConfig() *LaunchConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastConfig.Clone()
}
