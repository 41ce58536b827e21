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

package process

import (
	"fmt"
	"time"

	"github.com/arclightx/arclightx/internal/classifier"
)

// State represents the lifecycle state of the supervised server
// State 表示被托管服务器的生命周期状态
type State string

const (
	// StateStopped indicates no process is running
	// StateStopped 表示没有进程在运行
	StateStopped State = "stopped"

	// StateStarting indicates the process was spawned but has not produced output yet
	// StateStarting 表示进程已创建但尚未产生输出
	StateStarting State = "starting"

	// StateRunning indicates the process is running
	// StateRunning 表示进程正在运行
	StateRunning State = "running"

	// StateStopping indicates a stop was requested and the supervisor is waiting for exit
	// StateStopping 表示已请求停止，正在等待进程退出
	StateStopping State = "stopping"

	// StateCrashed indicates the process exited without being asked to
	// StateCrashed 表示进程在未被要求的情况下退出
	StateCrashed State = "crashed"
)

// transitions lists the valid state machine edges.
var transitions = map[State][]State{
	StateStopped:  {StateStarting},
	StateStarting: {StateRunning, StateCrashed, StateStopping},
	StateRunning:  {StateStopping, StateCrashed},
	StateStopping: {StateStopped},
	StateCrashed:  {StateStarting, StateStopped},
}

// CanTransitionTo reports whether next is a valid successor of s
// CanTransitionTo 判断 next 是否为 s 的合法后继状态
func (s State) CanTransitionTo(next State) bool {
	for _, candidate := range transitions[s] {
		if candidate == next {
			return true
		}
	}
	return false
}

// Active reports whether a child process exists in this state.
func (s State) Active() bool {
	return s == StateStarting || s == StateRunning || s == StateStopping
}

// ParseState converts a string into a State.
func ParseState(s string) (State, error) {
	for st := range transitions {
		if string(st) == s {
			return st, nil
		}
	}
	return "", fmt.Errorf("unknown server state %q", s)
}

// ExitInfo describes how the child process ended
// ExitInfo 描述子进程的结束方式
type ExitInfo struct {
	// Code is the exit code, -1 when the process was killed by a signal
	// Code 是退出码，被信号终止时为 -1
	Code int `json:"code"`

	// Signal is the terminating signal name, if any
	// Signal 是终止信号名称（如有）
	Signal string `json:"signal,omitempty"`

	// Crashed is true when the exit was not requested
	// Crashed 在退出非主动请求时为 true
	Crashed bool `json:"crashed"`

	// ExitedAt is when the exit was observed
	// ExitedAt 是观察到退出的时间
	ExitedAt time.Time `json:"exited_at"`

	// TailLines holds the last output lines before a crash
	// TailLines 保存崩溃前的最后若干行输出
	TailLines []string `json:"tail_lines,omitempty"`
}

func (e *ExitInfo) String() string {
	if e == nil {
		return "no exit"
	}
	if e.Signal != "" {
		return fmt.Sprintf("killed by %s", e.Signal)
	}
	return fmt.Sprintf("exit code %d", e.Code)
}

// ServerProcess is an immutable snapshot of the supervised child
// ServerProcess 是被托管子进程的不可变快照
type ServerProcess struct {
	Name        string        `json:"name"`
	PID         int           `json:"pid"`
	Command     []string      `json:"command,omitempty"`
	WorkDir     string        `json:"work_dir,omitempty"`
	State       State         `json:"state"`
	StartTime   time.Time     `json:"start_time,omitempty"`
	Uptime      time.Duration `json:"uptime"`
	CPUUsage    float64       `json:"cpu_usage"`
	MemoryUsage int64         `json:"memory_usage"`
	LastExit    *ExitInfo     `json:"last_exit,omitempty"`
}

// Observer receives supervisor events. Implementations must not block.
// Observer 接收 Supervisor 事件，实现不得阻塞。
type Observer interface {
	StateChanged(old, new State, exit *ExitInfo)
	LogClassified(line classifier.LogLine, category classifier.Category)
}

type noopObserver struct{}

func (noopObserver) StateChanged(State, State, *ExitInfo) {}
func (noopObserver) LogClassified(classifier.LogLine, classifier.Category) {}
