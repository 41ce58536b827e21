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

// Package main is the entry point of the ArcLightX Minecraft server supervisor.
// main 包是 ArcLightX Minecraft 服务器托管程序的入口点。
//
// ArcLightX runs one Minecraft server JVM and:
// ArcLightX 运行一个 Minecraft 服务器 JVM，并负责：
// - Supervises its lifecycle and restarts it after crashes / 托管其生命周期并在崩溃后自动重启
// - Classifies console output / 对控制台输出进行分类
// - Takes and restores world backups / 创建和恢复世界备份
// - Exposes an HTTP API with a live event stream / 提供带实时事件流的 HTTP API
package main

import (
	"fmt"
	"os"
	"runtime"

	"github.com/spf13/cobra"
)

// Version information, set at build time
// 版本信息，在构建时设置
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

// configFile is the path to the configuration file
// configFile 是配置文件的路径
var configFile string

// newRootCmd builds the command tree
// newRootCmd 构建命令树
func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "arclightx",
		Short: "ArcLightX - Minecraft server supervisor",
		Long: `ArcLightX supervises a single Minecraft server JVM.
ArcLightX 托管单个 Minecraft 服务器 JVM。

It provides:
它提供：
- Start, stop, restart and console commands / 启动、停止、重启和控制台命令
- Crash detection with automatic restart / 崩溃检测与自动重启
- Log classification (crash, error, warning, mod, info) / 日志分类
- Atomic ZIP backups with safe restore / 原子 ZIP 备份与安全恢复`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file path (default: $ARCLIGHTX_CONFIG_PATH or ./arclightx.yaml)")

	rootCmd.AddCommand(
		newVersionCmd(),
		newServeCmd(),
		newConfigCmd(),
		newClassifyCmd(),
	)
	rootCmd.AddCommand(newClientCmds()...)
	return rootCmd
}

// newVersionCmd shows version information
// newVersionCmd 显示版本信息
func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information / 打印版本信息",
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "ArcLightX\n")
			fmt.Fprintf(out, "  Version:    %s\n", Version)
			fmt.Fprintf(out, "  Git Commit: %s\n", GitCommit)
			fmt.Fprintf(out, "  Build Time: %s\n", BuildTime)
			fmt.Fprintf(out, "  Go Version: %s\n", runtime.Version())
			fmt.Fprintf(out, "  OS/Arch:    %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	}
}

// @title ArcLightX API
// @version 1.0
// @description Minecraft server supervisor API / Minecraft 服务器托管 API
// @license.name Apache 2.0
// @license.url http://www.apache.org/licenses/LICENSE-2.0.html
// @BasePath /
func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
