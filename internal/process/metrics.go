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
	"os"
	"os/exec"
	"runtime"
	"strconv"
	"strings"
	"sync"
)

// getProcessMetrics gets CPU and memory usage for a process, best effort
// getProcessMetrics 尽力获取进程的 CPU 和内存使用率
func getProcessMetrics(pid int) (cpuUsage float64, memoryUsage int64) {
	if pid <= 0 {
		return 0, 0
	}
	switch runtime.GOOS {
	case "linux":
		return getProcessMetricsLinux(pid)
	case "windows":
		return getProcessMetricsWindows(pid)
	default:
		return getProcessMetricsPS(pid)
	}
}

// getProcessMetricsLinux reads RSS from /proc/[pid]/statm
// getProcessMetricsLinux 从 /proc/[pid]/statm 读取 RSS
func getProcessMetricsLinux(pid int) (cpuUsage float64, memoryUsage int64) {
	data, err := os.ReadFile(fmt.Sprintf("/proc/%d/statm", pid))
	if err != nil {
		return 0, 0
	}
	fields := strings.Fields(string(data))
	if len(fields) >= 2 {
		// RSS is in pages / RSS 以页为单位
		rss, _ := strconv.ParseInt(fields[1], 10, 64)
		memoryUsage = rss * int64(os.Getpagesize())
	}
	// CPU usage needs sampling over time, ps gives a lifetime average
	// CPU 使用率需要随时间采样，ps 给出的是生命周期平均值
	cpuUsage, _ = getProcessMetricsPS(pid)
	return cpuUsage, memoryUsage
}

// getProcessMetricsPS uses the ps command (macOS and other unix systems)
// getProcessMetricsPS 使用 ps 命令（macOS 及其他 unix 系统）
func getProcessMetricsPS(pid int) (cpuUsage float64, memoryUsage int64) {
	output, err := exec.Command("ps", "-o", "rss=,pcpu=", "-p", strconv.Itoa(pid)).Output()
	if err != nil {
		return 0, 0
	}
	fields := strings.Fields(string(output))
	if len(fields) >= 2 {
		// RSS is in KB / RSS 以 KB 为单位
		rss, _ := strconv.ParseInt(fields[0], 10, 64)
		memoryUsage = rss * 1024
		cpuUsage, _ = strconv.ParseFloat(fields[1], 64)
	}
	return cpuUsage, memoryUsage
}

// getProcessMetricsWindows uses wmic for the working set size
// getProcessMetricsWindows 使用 wmic 获取工作集大小
func getProcessMetricsWindows(pid int) (cpuUsage float64, memoryUsage int64) {
	output, err := exec.Command("wmic", "process", "where", fmt.Sprintf("ProcessId=%d", pid), "get", "WorkingSetSize", "/value").Output()
	if err != nil {
		return 0, 0
	}
	for _, line := range strings.Split(string(output), "\n") {
		if value, ok := strings.CutPrefix(strings.TrimSpace(line), "WorkingSetSize="); ok {
			memoryUsage, _ = strconv.ParseInt(strings.TrimSpace(value), 10, 64)
		}
	}
	return 0, memoryUsage
}

// tailBuffer keeps the last N output lines for crash reports
// tailBuffer 保留最后 N 行输出用于崩溃报告
type tailBuffer struct {
	mu    sync.Mutex
	lines []string
	next  int
	full  bool
}

func newTailBuffer(size int) *tailBuffer {
	if size <= 0 {
		size = DefaultTailLines
	}
	return &tailBuffer{lines: make([]string, size)}
}

func (t *tailBuffer) add(line string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lines[t.next] = line
	t.next = (t.next + 1) % len(t.lines)
	if t.next == 0 {
		t.full = true
	}
}

func (t *tailBuffer) snapshot() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.full {
		return append([]string(nil), t.lines[:t.next]...)
	}
	out := make([]string, 0, len(t.lines))
	out = append(out, t.lines[t.next:]...)
	return append(out, t.lines[:t.next]...)
}
