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

package config

import (
	"time"

	"github.com/arclightx/arclightx/internal/classifier"
	"github.com/arclightx/arclightx/internal/otel_trace"
)

// Config represents the supervisor configuration
// Config 表示 Supervisor 配置
type Config struct {
	Server     ServerConfig      `mapstructure:"server" yaml:"server"`
	Backup     BackupConfig      `mapstructure:"backup" yaml:"backup"`
	Restart    RestartConfig     `mapstructure:"restart" yaml:"restart"`
	Classifier classifier.Config `mapstructure:"classifier" yaml:"classifier"`
	Log        LogConfig         `mapstructure:"log" yaml:"log"`
	Database   DatabaseConfig    `mapstructure:"database" yaml:"database"`
	HTTP       HTTPConfig        `mapstructure:"http" yaml:"http"`
	Telemetry  otel_trace.Config `mapstructure:"telemetry" yaml:"telemetry"`
}

// ServerConfig describes the managed server and how to launch it
// ServerConfig 描述被管理的服务器及其启动方式
type ServerConfig struct {
	// Name is used in logs and backup records / Name 用于日志和备份记录
	Name string `mapstructure:"name" yaml:"name"`

	// Dir is the server working directory / Dir 是服务器工作目录
	Dir string `mapstructure:"dir" yaml:"dir"`

	JavaPath    string   `mapstructure:"java_path" yaml:"java_path"`
	Jar         string   `mapstructure:"jar" yaml:"jar"`
	MinMemory   string   `mapstructure:"min_memory" yaml:"min_memory"`
	MaxMemory   string   `mapstructure:"max_memory" yaml:"max_memory"`
	JVMArgs     []string `mapstructure:"jvm_args" yaml:"jvm_args"`
	StopCommand string   `mapstructure:"stop_command" yaml:"stop_command"`

	// MinJavaVersion rejects starts on an older java, 0 disables the check
	// MinJavaVersion 拒绝在较旧的 Java 上启动，0 表示不检查
	MinJavaVersion int `mapstructure:"min_java_version" yaml:"min_java_version"`

	// Environment holds extra KEY=VALUE entries for the child process
	// Environment 保存子进程额外的 KEY=VALUE 环境变量
	Environment []string `mapstructure:"environment" yaml:"environment"`

	// CrashTailLines is how many output lines a crash notification carries
	// CrashTailLines 是崩溃通知携带的输出行数
	CrashTailLines int `mapstructure:"crash_tail_lines" yaml:"crash_tail_lines"`

	StartGrace  time.Duration `mapstructure:"start_grace" yaml:"-"`
	StopTimeout time.Duration `mapstructure:"stop_timeout" yaml:"-"`
	KillWait    time.Duration `mapstructure:"kill_wait" yaml:"-"`
}

// BackupConfig contains backup settings
// BackupConfig 包含备份设置
type BackupConfig struct {
	// Dir holds the archives, relative paths resolve against the working directory
	// Dir 保存归档，相对路径基于当前工作目录解析
	Dir string `mapstructure:"dir" yaml:"dir"`

	// Include is the default manifest / Include 是默认清单
	Include []string `mapstructure:"include" yaml:"include"`

	// AllowList adds doublestar patterns such as config/**/*.toml
	// AllowList 追加 doublestar 通配模式，例如 config/**/*.toml
	AllowList []string `mapstructure:"allow_list" yaml:"allow_list"`

	// Schedule is a cron expression, empty disables scheduled backups
	// Schedule 是 cron 表达式，为空时禁用定时备份
	Schedule string `mapstructure:"schedule" yaml:"schedule"`

	// KeepLast prunes older complete backups after a scheduled run, 0 keeps all
	// KeepLast 在定时备份后清理更早的已完成备份，0 表示全部保留
	KeepLast int `mapstructure:"keep_last" yaml:"keep_last"`

	ProgressInterval time.Duration `mapstructure:"progress_interval" yaml:"-"`
}

// RestartConfig contains crash auto-restart settings
// RestartConfig 包含崩溃自动重启设置
type RestartConfig struct {
	Enabled     bool   `mapstructure:"enabled" yaml:"enabled"`
	MaxRestarts int    `mapstructure:"max_restarts" yaml:"max_restarts"`
	Schedule    string `mapstructure:"schedule" yaml:"schedule"`

	Delay      time.Duration `mapstructure:"delay" yaml:"-"`
	TimeWindow time.Duration `mapstructure:"time_window" yaml:"-"`
	Cooldown   time.Duration `mapstructure:"cooldown" yaml:"-"`
}

// LogConfig contains logging settings
// LogConfig 包含日志设置
type LogConfig struct {
	// Level is the log level (debug, info, warn, error)
	// Level 是日志级别（debug, info, warn, error）
	Level string `mapstructure:"level" yaml:"level"`

	// File is the log file path, empty logs to the console only
	// File 是日志文件路径，为空时仅输出到控制台
	File string `mapstructure:"file" yaml:"file"`

	// MaxSize is the maximum size of log file in MB before rotation
	// MaxSize 是日志文件轮转前的最大大小（MB）
	MaxSize    int  `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups int  `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge     int  `mapstructure:"max_age" yaml:"max_age"`
	Compress   bool `mapstructure:"compress" yaml:"compress"`
}

// DatabaseConfig selects where backup records are stored
// DatabaseConfig 选择备份记录的存储位置
type DatabaseConfig struct {
	Type            string `mapstructure:"type" yaml:"type"` // sqlite, mysql, postgres
	SQLitePath      string `mapstructure:"sqlite_path" yaml:"sqlite_path"`
	Host            string `mapstructure:"host" yaml:"host"`
	Port            int    `mapstructure:"port" yaml:"port"`
	Username        string `mapstructure:"username" yaml:"username"`
	Password        string `mapstructure:"password" yaml:"password"`
	Database        string `mapstructure:"database" yaml:"database"`
	MaxIdleConn     int    `mapstructure:"max_idle_conn" yaml:"max_idle_conn"`
	MaxOpenConn     int    `mapstructure:"max_open_conn" yaml:"max_open_conn"`
	ConnMaxLifetime int    `mapstructure:"conn_max_lifetime" yaml:"conn_max_lifetime"`
	LogLevel        string `mapstructure:"log_level" yaml:"log_level"`
}

// HTTPConfig contains the operator API settings
// HTTPConfig 包含运维 API 设置
type HTTPConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Listen  string `mapstructure:"listen" yaml:"listen"`
}

// Durations are written in Go duration syntax so the file can be read back by Load.
// 时长以 Go duration 语法写出，以便 Load 重新读取。

// MarshalYAML implements yaml.Marshaler.
func (s ServerConfig) MarshalYAML() (interface{}, error) {
	type plain ServerConfig
	return struct {
		Plain       plain  `yaml:",inline"`
		StartGrace  string `yaml:"start_grace"`
		StopTimeout string `yaml:"stop_timeout"`
		KillWait    string `yaml:"kill_wait"`
	}{plain(s), s.StartGrace.String(), s.StopTimeout.String(), s.KillWait.String()}, nil
}

// MarshalYAML implements yaml.Marshaler.
func (b BackupConfig) MarshalYAML() (interface{}, error) {
	type plain BackupConfig
	return struct {
		Plain            plain  `yaml:",inline"`
		ProgressInterval string `yaml:"progress_interval"`
	}{plain(b), b.ProgressInterval.String()}, nil
}

// MarshalYAML implements yaml.Marshaler.
func (r RestartConfig) MarshalYAML() (interface{}, error) {
	type plain RestartConfig
	return struct {
		Plain      plain  `yaml:",inline"`
		Delay      string `yaml:"delay"`
		TimeWindow string `yaml:"time_window"`
		Cooldown   string `yaml:"cooldown"`
	}{plain(r), r.Delay.String(), r.TimeWindow.String(), r.Cooldown.String()}, nil
}
