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
	"context"
	"fmt"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
)

// LaunchConfig contains parameters for starting the server JVM
// LaunchConfig 包含启动服务器 JVM 的参数
type LaunchConfig struct {
	// JavaPath is the java executable, a name on PATH or a file path
	// JavaPath 是 java 可执行文件，可以是 PATH 中的名称或文件路径
	JavaPath string `json:"java_path"`

	// MinMemory is the initial heap size, e.g. 512M
	// MinMemory 是初始堆大小，例如 512M
	MinMemory string `json:"min_memory"`

	// MaxMemory is the maximum heap size, e.g. 2G
	// MaxMemory 是最大堆大小，例如 2G
	MaxMemory string `json:"max_memory"`

	// JarPath is the server jar, relative paths resolve against WorkDir
	// JarPath 是服务器 jar，相对路径基于 WorkDir 解析
	JarPath string `json:"jar_path"`

	// WorkDir is the server directory
	// WorkDir 是服务器目录
	WorkDir string `json:"work_dir"`

	// JVMArgs are placed between the heap flags and -jar
	// JVMArgs 位于堆参数与 -jar 之间
	JVMArgs []string `json:"jvm_args,omitempty"`

	// Environment variables to add
	// 要追加的环境变量
	Environment map[string]string `json:"environment,omitempty"`

	// StopCommand is the console command used for graceful shutdown (defaults to "stop")
	// StopCommand 是优雅关闭使用的控制台命令（默认为 "stop"）
	StopCommand string `json:"stop_command,omitempty"`

	// MinJavaVersion, when positive, requires `java -version` to report at least this feature release
	// MinJavaVersion 大于 0 时要求 `java -version` 报告的主版本不低于该值
	MinJavaVersion int `json:"min_java_version,omitempty"`

	// StartGrace bounds the wait for the first output line (defaults to DefaultStartGrace)
	// StartGrace 是等待首行输出的最长时间（默认为 DefaultStartGrace）
	StartGrace time.Duration `json:"start_grace,omitempty"`
}

var memoryPattern = regexp.MustCompile(`^(\d+)([KkMmGgTt]?)$`)

// ParseMemory converts a JVM heap size such as 512M into bytes.
// ParseMemory 将 512M 这类 JVM 堆大小转换为字节数。
func ParseMemory(s string) (int64, error) {
	m := memoryPattern.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return 0, fmt.Errorf("invalid heap size %q", s)
	}
	n, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid heap size %q: %w", s, err)
	}
	if n == 0 {
		return 0, fmt.Errorf("heap size %q must be positive", s)
	}
	var shift uint
	switch strings.ToUpper(m[2]) {
	case "K":
		shift = 10
	case "M":
		shift = 20
	case "G":
		shift = 30
	case "T":
		shift = 40
	}
	if n > math.MaxInt64>>shift {
		return 0, fmt.Errorf("heap size %q is too large", s)
	}
	return n << shift, nil
}

// Clone returns a deep copy.
func (c *LaunchConfig) Clone() *LaunchConfig {
	if c == nil {
		return nil
	}
	out := *c
	out.JVMArgs = append([]string(nil), c.JVMArgs...)
	if c.Environment != nil {
		out.Environment = make(map[string]string, len(c.Environment))
		for k, v := range c.Environment {
			out.Environment[k] = v
		}
	}
	return &out
}

func (c *LaunchConfig) withDefaults() *LaunchConfig {
	out := c.Clone()
	if out.StopCommand == "" {
		out.StopCommand = DefaultStopCommand
	}
	if out.StartGrace <= 0 {
		out.StartGrace = DefaultStartGrace
	}
	return out
}

// Validate checks the launch constraints. Every failure wraps ErrConfiguration.
// Validate 校验启动约束，所有失败均包装 ErrConfiguration。
func (c *LaunchConfig) Validate() error {
	if c == nil {
		return fmt.Errorf("%w: launch config is nil", ErrConfiguration)
	}
	if c.JavaPath == "" {
		return fmt.Errorf("%w: java path is empty", ErrConfiguration)
	}
	if _, err := exec.LookPath(c.JavaPath); err != nil {
		return fmt.Errorf("%w: java executable %q: %v", ErrConfiguration, c.JavaPath, err)
	}

	if err := checkWorkDir(c.WorkDir); err != nil {
		return err
	}
	if err := checkJar(c.resolvedJar()); err != nil {
		return err
	}

	minBytes, err := ParseMemory(c.MinMemory)
	if err != nil {
		return fmt.Errorf("%w: min memory: %v", ErrConfiguration, err)
	}
	maxBytes, err := ParseMemory(c.MaxMemory)
	if err != nil {
		return fmt.Errorf("%w: max memory: %v", ErrConfiguration, err)
	}
	if minBytes > maxBytes {
		return fmt.Errorf("%w: min memory %s exceeds max memory %s", ErrConfiguration, c.MinMemory, c.MaxMemory)
	}
	if strings.ContainsAny(c.StopCommand, "\r\n") {
		return fmt.Errorf("%w: stop command contains a line break", ErrConfiguration)
	}
	if c.MinJavaVersion > 0 {
		ctx, cancel := context.WithTimeout(context.Background(), DefaultJavaDetectTimeout)
		defer cancel()
		info, err := DetectJava(ctx, c.JavaPath)
		if err != nil {
			return err
		}
		if info.Major < c.MinJavaVersion {
			return fmt.Errorf("%w: java %s is older than the required %d", ErrConfiguration, info.Version, c.MinJavaVersion)
		}
	}
	return nil
}

func (c *LaunchConfig) resolvedJar() string {
	if c.JarPath == "" || filepath.IsAbs(c.JarPath) {
		return c.JarPath
	}
	return filepath.Join(c.WorkDir, c.JarPath)
}

func checkWorkDir(dir string) error {
	if dir == "" {
		return fmt.Errorf("%w: working directory is empty", ErrConfiguration)
	}
	info, err := os.Stat(dir)
	if err != nil {
		return fmt.Errorf("%w: working directory: %v", ErrConfiguration, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%w: working directory %s is not a directory", ErrConfiguration, dir)
	}
	// Write probe / 写入探测
	probe, err := os.CreateTemp(dir, ".arclightx-probe-*")
	if err != nil {
		return fmt.Errorf("%w: working directory %s is not writable: %v", ErrConfiguration, dir, err)
	}
	name := probe.Name()
	probe.Close()
	_ = os.Remove(name)
	return nil
}

func checkJar(path string) error {
	if path == "" {
		return fmt.Errorf("%w: jar path is empty", ErrConfiguration)
	}
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("%w: jar: %v", ErrConfiguration, err)
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("%w: jar %s is not a regular file", ErrConfiguration, path)
	}
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("%w: jar %s is not readable: %v", ErrConfiguration, path, err)
	}
	return f.Close()
}

// BuildArgs returns the argument vector used to launch the server
// BuildArgs 返回启动服务器使用的参数向量
//
// [java, -Xms<min>, -Xmx<max>, ...JVMArgs, -jar, jar, nogui]
func BuildArgs(c *LaunchConfig) []string {
	args := make([]string, 0, len(c.JVMArgs)+6)
	args = append(args, c.JavaPath, "-Xms"+c.MinMemory, "-Xmx"+c.MaxMemory)
	args = append(args, c.JVMArgs...)
	return append(args, "-jar", c.JarPath, "nogui")
}

// buildCommand builds the exec.Cmd for c
// buildCommand 为 c 构建 exec.Cmd
func buildCommand(c *LaunchConfig) *exec.Cmd {
	args := BuildArgs(c)
	cmd := exec.Command(args[0], args[1:]...)
	cmd.Dir = c.WorkDir

	env := os.Environ()
	keys := make([]string, 0, len(c.Environment))
	for k := range c.Environment {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		env = append(env, k+"="+c.Environment[k])
	}
	cmd.Env = env

	setProcGroupAttr(cmd)
	return cmd
}
