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
	"bytes"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/arclightx/arclightx/internal/config"
	"github.com/arclightx/arclightx/internal/process"
	"github.com/arclightx/arclightx/internal/router"
)

// runCLI executes the command tree with args and returns the combined output
// runCLI 使用给定参数执行命令树并返回合并输出
func runCLI(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetIn(strings.NewReader(stdin))
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

// testConfig returns a config rooted in a temp dir with a minimal world
// testConfig 返回以临时目录为根、包含最小世界数据的配置
func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	serverDir := filepath.Join(dir, "server")
	require.NoError(t, os.MkdirAll(filepath.Join(serverDir, "world"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(serverDir, "world", "level.dat"), []byte("level"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(serverDir, "server.properties"), []byte("motd=test\n"), 0o644))

	cfg := config.Default()
	cfg.Server.Name = "survival"
	cfg.Server.Dir = serverDir
	cfg.Backup.Dir = filepath.Join(dir, "backups")
	cfg.Database.SQLitePath = filepath.Join(dir, "data", "arclightx.db")
	cfg.Log.File = ""
	cfg.HTTP.Enabled = false
	return cfg
}

func TestVersionCmd(t *testing.T) {
	out, err := runCLI(t, "", "version")
	require.NoError(t, err)
	assert.Contains(t, out, "ArcLightX")
	assert.Contains(t, out, "Version:    "+Version)
	assert.Contains(t, out, "OS/Arch:")
}

func TestConfigInitAndShow(t *testing.T) {
	path := filepath.Join(t.TempDir(), "arclightx.yaml")

	out, err := runCLI(t, "", "config", "init", path)
	require.NoError(t, err)
	assert.Contains(t, out, "Wrote "+path)

	_, err = runCLI(t, "", "config", "init", path)
	assert.Error(t, err, "existing file is not overwritten without --force")

	_, err = runCLI(t, "", "config", "init", "--force", path)
	require.NoError(t, err)

	out, err = runCLI(t, "", "config", "show", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, out, "name: "+config.DefaultServerName)
	assert.Contains(t, out, "listen: "+config.DefaultHTTPListen)
}

func TestClassifyCmd(t *testing.T) {
	input := strings.Join([]string{
		"---- Minecraft Crash Report ----",
		"[12:00:01] [Server thread/WARN]: Can't keep up! Is the server overloaded?",
		"[12:00:05] [Server thread/INFO]: Done (3.2s)! For help, type \"help\"",
		"\x1b[31m[ERROR]: Could not load world\x1b[0m",
	}, "\n")

	out, err := runCLI(t, input, "classify", "--config", filepath.Join(t.TempDir(), "none.yaml"))
	require.NoError(t, err)
	assert.Contains(t, out, "[crash] ---- Minecraft Crash Report ----")
	assert.Contains(t, out, "[warning] [12:00:01]")
	assert.Contains(t, out, "[info] [12:00:05]")
	assert.Contains(t, out, "[error] [ERROR]: Could not load world")

	out, err = runCLI(t, input, "classify", "--summary", "--config", filepath.Join(t.TempDir(), "none.yaml"))
	require.NoError(t, err)
	assert.Regexp(t, `crash\s+1`, out)
	assert.Regexp(t, `uncategorized\s+0`, out)
}

func TestClassifyCmd_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "latest.log")
	require.NoError(t, os.WriteFile(path, []byte("Caused by: java.io.IOException: disk\n"), 0o644))

	out, err := runCLI(t, "", "classify", path, "--config", filepath.Join(t.TempDir(), "none.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "[crash] Caused by: java.io.IOException: disk\n", out)

	_, err = runCLI(t, "", "classify", filepath.Join(t.TempDir(), "missing.log"))
	assert.Error(t, err)
}

// TestDaemonLifecycle tests Daemon creation, run and shutdown
// TestDaemonLifecycle 测试 Daemon 的创建、运行和关闭
func TestDaemonLifecycle(t *testing.T) {
	cfg := testConfig(t)

	d, err := NewDaemon(cfg, zap.NewNop())
	require.NoError(t, err)
	require.NotNil(t, d)
	assert.Nil(t, d.httpServer, "HTTP disabled in config")

	require.NoError(t, d.Run(false))
	assert.Error(t, d.Run(false), "second Run is rejected")
	assert.Equal(t, process.StateStopped, d.supervisor.CurrentState())

	d.Shutdown()
	d.Shutdown()
	assert.Error(t, d.ctx.Err(), "context cancelled on shutdown")
}

func TestNewDaemon_MissingServerDir(t *testing.T) {
	cfg := testConfig(t)
	cfg.Server.Dir = filepath.Join(t.TempDir(), "missing")

	_, err := NewDaemon(cfg, nil)
	assert.Error(t, err)
}

// startTestAPI serves the daemon routes on an httptest server
// startTestAPI 在 httptest 服务器上提供 Daemon 路由
func startTestAPI(t *testing.T) (*Daemon, string) {
	t.Helper()
	cfg := testConfig(t)
	d, err := NewDaemon(cfg, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, d.Run(false))
	t.Cleanup(d.Shutdown)

	handler := router.New(router.Deps{
		Server:     serverHandlerConfig(cfg, d.supervisor, d.restarter, d.scheduler),
		Backups:    d.engine,
		Tailer:     d.tailer,
		Classifier: d.classifier,
		ServerDir:  cfg.Server.Dir,
		Bus:        d.bus,
		Version:    Version,
	})
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return d, srv.URL
}

func TestClientCommands(t *testing.T) {
	d, addr := startTestAPI(t)

	out, err := runCLI(t, "", "status", "--addr", addr)
	require.NoError(t, err)
	assert.Regexp(t, `State:\s+stopped`, out)
	assert.Contains(t, out, "survival")

	_, err = runCLI(t, "", "stop", "--addr", addr)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HTTP 409")

	_, err = runCLI(t, "", "command", "--addr", addr, "say", "hi")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HTTP 409")

	out, err = runCLI(t, "", "backup", "create", "--addr", addr)
	require.NoError(t, err)
	assert.Contains(t, out, "Created ")
	assert.NotContains(t, out, "inconsistent")

	out, err = runCLI(t, "", "backup", "list", "--addr", addr)
	require.NoError(t, err)
	assert.Contains(t, out, "ID")
	assert.Contains(t, out, "complete")

	records, err := d.engine.ListBackups(d.ctx)
	require.NoError(t, err)
	require.Len(t, records, 1)

	out, err = runCLI(t, "", "backup", "restore", "--addr", addr, records[0].ID)
	require.NoError(t, err)
	assert.Contains(t, out, "Restored "+records[0].ID)

	_, err = runCLI(t, "", "backup", "prune", "--addr", addr, "0")
	assert.Error(t, err)

	out, err = runCLI(t, "", "backup", "prune", "--addr", addr, "1")
	require.NoError(t, err)
	assert.Contains(t, out, "Removed 0 backup(s)")

	_, err = runCLI(t, "", "events", "--addr", addr, "--kinds", "bogus")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HTTP 400")
}

func TestClientLogs(t *testing.T) {
	d, addr := startTestAPI(t)

	_, err := runCLI(t, "", "logs", "--addr", addr)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HTTP 404")

	logDir := filepath.Join(d.config.Server.Dir, "logs")
	require.NoError(t, os.MkdirAll(logDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(logDir, "latest.log"), []byte(
		"[12:00:01] [Server thread/WARN]: Can't keep up!\n"+
			"[12:00:05] [Server thread/INFO]: Done (3.2s)!\n"), 0o644))

	out, err := runCLI(t, "", "logs", "--addr", addr, "-n", "10")
	require.NoError(t, err)
	assert.Contains(t, out, "[warning] [12:00:01]")
	assert.Contains(t, out, "[info] [12:00:05]")

	out, err = runCLI(t, "", "logs", "--addr", addr, "--category", "warning")
	require.NoError(t, err)
	assert.Contains(t, out, "[warning]")
	assert.NotContains(t, out, "[info]")
}

func TestClientProperties(t *testing.T) {
	d, addr := startTestAPI(t)

	out, err := runCLI(t, "", "properties", "get", "--addr", addr)
	require.NoError(t, err)
	assert.Equal(t, "motd=test\n", out)

	out, err = runCLI(t, "", "properties", "set", "--addr", addr, "max-players=50", "motd=hello world")
	require.NoError(t, err)
	assert.Contains(t, out, "Updated "+filepath.Join(d.config.Server.Dir, "server.properties"))
	assert.NotContains(t, out, "Restart the server")

	out, err = runCLI(t, "", "properties", "get", "--addr", addr, "motd")
	require.NoError(t, err)
	assert.Equal(t, "motd=hello world\n", out)

	_, err = runCLI(t, "", "properties", "set", "--addr", addr, "--remove", "max-players")
	require.NoError(t, err)
	out, err = runCLI(t, "", "properties", "get", "--addr", addr)
	require.NoError(t, err)
	assert.NotContains(t, out, "max-players")

	_, err = runCLI(t, "", "properties", "set", "--addr", addr, "novalue")
	assert.Error(t, err)

	_, err = runCLI(t, "", "properties", "set", "--addr", addr, "bad key=1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HTTP 400")
}
