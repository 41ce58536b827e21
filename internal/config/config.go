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

// Package config provides configuration management for the supervisor.
// config 包提供 Supervisor 的配置管理功能。
//
// Configuration loading priority (highest to lowest):
// 配置加载优先级（从高到低）：
// 1. Environment variables prefixed with ARCLIGHTX_ / 以 ARCLIGHTX_ 为前缀的环境变量
// 2. Configuration file / 配置文件
// 3. Default values / 默认值
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/arclightx/arclightx/internal/backup"
	"github.com/arclightx/arclightx/internal/classifier"
	"github.com/arclightx/arclightx/internal/otel_trace"
	"github.com/arclightx/arclightx/internal/process"
	"github.com/arclightx/arclightx/internal/schedule"
)

// Default configuration values
// 默认配置值
const (
	DefaultConfigPath     = "arclightx.yaml"
	ConfigPathEnv         = "ARCLIGHTX_CONFIG_PATH"
	EnvPrefix             = "ARCLIGHTX"
	DefaultServerName     = "minecraft"
	DefaultServerDir      = "./server"
	DefaultJavaPath       = "java"
	DefaultJar            = "server.jar"
	DefaultMinMemory      = "1G"
	DefaultMaxMemory      = "2G"
	DefaultBackupDir      = "./backups"
	DefaultLogLevel       = "info"
	DefaultLogFile        = "./logs/arclightx.log"
	DefaultLogMaxSize     = 100 // MB
	DefaultLogMaxBackups  = 3
	DefaultLogMaxAge      = 7 // days
	DefaultDatabaseType   = "sqlite"
	DefaultSQLitePath     = "./data/arclightx.db"
	DefaultHTTPListen     = "127.0.0.1:8765"
	DefaultRestartDelay   = 10 * time.Second
	DefaultMaxRestarts    = 3
	DefaultTimeWindow     = 5 * time.Minute
	DefaultCooldownPeriod = 30 * time.Minute
)

// Load loads configuration from file and environment variables
// Load 从文件和环境变量加载配置
//
// configPath wins over ARCLIGHTX_CONFIG_PATH, which wins over ./arclightx.yaml.
// A missing file is not an error.
// configPath 优先于 ARCLIGHTX_CONFIG_PATH，后者优先于 ./arclightx.yaml，文件不存在不视为错误。
func Load(configPath string) (*Config, error) {
	v := newViper()

	if configPath == "" {
		configPath = os.Getenv(ConfigPathEnv)
	}
	if configPath == "" {
		configPath = DefaultConfigPath
	}
	v.SetConfigFile(configPath)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			if _, statErr := os.Stat(v.ConfigFileUsed()); statErr == nil {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	return unmarshal(v)
}

// LoadFromYAML loads configuration from YAML bytes
// LoadFromYAML 从 YAML 字节加载配置
func LoadFromYAML(data []byte) (*Config, error) {
	v := newViper()
	v.SetConfigType("yaml")
	if err := v.ReadConfig(strings.NewReader(string(data))); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	return unmarshal(v)
}

// Default returns the built-in configuration.
// Default 返回内置配置。
func Default() *Config {
	cfg, err := unmarshal(newViper())
	if err != nil {
		panic(err)
	}
	return cfg
}

func newViper() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

func unmarshal(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &cfg, nil
}

// setDefaults sets default configuration values
// setDefaults 设置默认配置值
func setDefaults(v *viper.Viper) {
	// Server defaults / 服务器默认值
	v.SetDefault("server.name", DefaultServerName)
	v.SetDefault("server.dir", DefaultServerDir)
	v.SetDefault("server.java_path", DefaultJavaPath)
	v.SetDefault("server.jar", DefaultJar)
	v.SetDefault("server.min_memory", DefaultMinMemory)
	v.SetDefault("server.max_memory", DefaultMaxMemory)
	v.SetDefault("server.jvm_args", []string{})
	v.SetDefault("server.environment", []string{})
	v.SetDefault("server.stop_command", process.DefaultStopCommand)
	v.SetDefault("server.min_java_version", 0)
	v.SetDefault("server.start_grace", process.DefaultStartGrace)
	v.SetDefault("server.stop_timeout", process.DefaultStopTimeout)
	v.SetDefault("server.kill_wait", process.DefaultKillWait)
	v.SetDefault("server.crash_tail_lines", process.DefaultTailLines)

	// Backup defaults / 备份默认值
	v.SetDefault("backup.dir", DefaultBackupDir)
	v.SetDefault("backup.include", backup.DefaultInclude)
	v.SetDefault("backup.allow_list", []string{})
	v.SetDefault("backup.schedule", "")
	v.SetDefault("backup.keep_last", 0)
	v.SetDefault("backup.progress_interval", backup.DefaultProgressInterval)

	// Restart defaults / 重启默认值
	v.SetDefault("restart.enabled", false)
	v.SetDefault("restart.delay", DefaultRestartDelay)
	v.SetDefault("restart.max_restarts", DefaultMaxRestarts)
	v.SetDefault("restart.time_window", DefaultTimeWindow)
	v.SetDefault("restart.cooldown", DefaultCooldownPeriod)
	v.SetDefault("restart.schedule", "")

	// Classifier defaults / 分类器默认值
	d := classifier.DefaultConfig()
	v.SetDefault("classifier.crash", d.Crash)
	v.SetDefault("classifier.error", d.Error)
	v.SetDefault("classifier.warning", d.Warning)
	v.SetDefault("classifier.mod", d.Mod)
	v.SetDefault("classifier.info", d.Info)
	v.SetDefault("classifier.noise", d.Noise)

	// Log defaults / 日志默认值
	v.SetDefault("log.level", DefaultLogLevel)
	v.SetDefault("log.file", DefaultLogFile)
	v.SetDefault("log.max_size", DefaultLogMaxSize)
	v.SetDefault("log.max_backups", DefaultLogMaxBackups)
	v.SetDefault("log.max_age", DefaultLogMaxAge)
	v.SetDefault("log.compress", false)

	// Database defaults / 数据库默认值
	v.SetDefault("database.type", DefaultDatabaseType)
	v.SetDefault("database.sqlite_path", DefaultSQLitePath)
	v.SetDefault("database.host", "127.0.0.1")
	v.SetDefault("database.port", 0)
	v.SetDefault("database.username", "")
	v.SetDefault("database.password", "")
	v.SetDefault("database.database", "arclightx")
	v.SetDefault("database.log_level", "warn")

	// HTTP defaults / HTTP 默认值
	v.SetDefault("http.enabled", true)
	v.SetDefault("http.listen", DefaultHTTPListen)

	// Telemetry defaults / 追踪默认值
	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("telemetry.endpoint", "")
	v.SetDefault("telemetry.insecure", true)
	v.SetDefault("telemetry.service_name", otel_trace.DefaultServiceName)
	v.SetDefault("telemetry.sample_ratio", 1.0)
}

// Validate validates the configuration
// Validate 验证配置
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Server.Dir) == "" {
		return errors.New("server.dir is required")
	}
	if strings.TrimSpace(c.Server.Jar) == "" {
		return errors.New("server.jar is required")
	}
	minHeap, err := process.ParseMemory(c.Server.MinMemory)
	if err != nil {
		return fmt.Errorf("server.min_memory: %w", err)
	}
	maxHeap, err := process.ParseMemory(c.Server.MaxMemory)
	if err != nil {
		return fmt.Errorf("server.max_memory: %w", err)
	}
	if minHeap > maxHeap {
		return fmt.Errorf("server.min_memory (%s) exceeds server.max_memory (%s)", c.Server.MinMemory, c.Server.MaxMemory)
	}
	for _, kv := range c.Server.Environment {
		if k, _, ok := strings.Cut(kv, "="); !ok || k == "" {
			return fmt.Errorf("server.environment entry %q must be KEY=VALUE", kv)
		}
	}
	if strings.ContainsAny(c.Server.StopCommand, "\r\n") {
		return errors.New("server.stop_command must be a single line")
	}
	if c.Server.MinJavaVersion < 0 {
		return errors.New("server.min_java_version must not be negative")
	}
	if c.Server.StartGrace <= 0 {
		return errors.New("server.start_grace must be positive")
	}
	if c.Server.StopTimeout <= 0 {
		return errors.New("server.stop_timeout must be positive")
	}
	if c.Server.KillWait <= 0 {
		return errors.New("server.kill_wait must be positive")
	}
	if c.Server.CrashTailLines < 0 {
		return errors.New("server.crash_tail_lines must not be negative")
	}

	if c.Backup.KeepLast < 0 {
		return errors.New("backup.keep_last must not be negative")
	}
	if c.Backup.ProgressInterval < 0 {
		return errors.New("backup.progress_interval must not be negative")
	}
	if err := schedule.Validate(c.Backup.Schedule); err != nil {
		return fmt.Errorf("backup.schedule: %w", err)
	}
	if err := schedule.Validate(c.Restart.Schedule); err != nil {
		return fmt.Errorf("restart.schedule: %w", err)
	}

	if c.Restart.MaxRestarts < 0 {
		return errors.New("restart.max_restarts must not be negative")
	}
	if c.Restart.Delay < 0 || c.Restart.TimeWindow < 0 || c.Restart.Cooldown < 0 {
		return errors.New("restart durations must not be negative")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Log.Level)] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.Log.Level)
	}

	switch c.Database.Type {
	case "sqlite", "mysql", "postgres":
	default:
		return fmt.Errorf("invalid database.type: %s (must be sqlite, mysql, or postgres)", c.Database.Type)
	}

	if c.HTTP.Enabled && strings.TrimSpace(c.HTTP.Listen) == "" {
		return errors.New("http.listen is required when http is enabled")
	}

	if _, err := classifier.New(c.Classifier); err != nil {
		return fmt.Errorf("classifier: %w", err)
	}
	return c.Telemetry.Validate()
}

// LaunchConfig builds the supervisor launch settings
// LaunchConfig 构建 Supervisor 启动参数
func (c *Config) LaunchConfig() *process.LaunchConfig {
	env := make(map[string]string, len(c.Server.Environment))
	for _, kv := range c.Server.Environment {
		if k, v, ok := strings.Cut(kv, "="); ok {
			env[k] = v
		}
	}
	return &process.LaunchConfig{
		JavaPath:    c.Server.JavaPath,
		MinMemory:   c.Server.MinMemory,
		MaxMemory:   c.Server.MaxMemory,
		JarPath:     c.Server.Jar,
		WorkDir:     c.Server.Dir,
		JVMArgs:     append([]string(nil), c.Server.JVMArgs...),
		Environment: env,
		StopCommand: c.Server.StopCommand,
		StartGrace:  c.Server.StartGrace,

		MinJavaVersion: c.Server.MinJavaVersion,
	}
}

// BackupEngineConfig builds the backup engine settings
// BackupEngineConfig 构建备份引擎配置
func (c *Config) BackupEngineConfig() backup.Config {
	dir := c.Backup.Dir
	if dir != "" && !filepath.IsAbs(dir) {
		if abs, err := filepath.Abs(dir); err == nil {
			dir = abs
		}
	}
	return backup.Config{
		ServerName:       c.Server.Name,
		ServerDir:        c.Server.Dir,
		BackupDir:        dir,
		Include:          append([]string(nil), c.Backup.Include...),
		AllowList:        append([]string(nil), c.Backup.AllowList...),
		ProgressInterval: c.Backup.ProgressInterval,
	}
}

// String returns a string representation of the config (for debugging)
// String 返回配置的字符串表示（用于调试）
func (c *Config) String() string {
	return fmt.Sprintf(
		"Config{Server.Name: %s, Server.Dir: %s, Backup.Dir: %s, Database.Type: %s, HTTP.Listen: %s, Log.Level: %s}",
		c.Server.Name,
		c.Server.Dir,
		c.Backup.Dir,
		c.Database.Type,
		c.HTTP.Listen,
		c.Log.Level,
	)
}

// ToYAML serializes the configuration to YAML format
// ToYAML 将配置序列化为 YAML 格式
func (c *Config) ToYAML() ([]byte, error) {
	return yaml.Marshal(c)
}
