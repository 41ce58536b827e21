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
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	propsapi "github.com/arclightx/arclightx/internal/apps/properties"
	"github.com/arclightx/arclightx/internal/apps/server"
	"github.com/arclightx/arclightx/internal/backup"
	"github.com/arclightx/arclightx/internal/config"
	"github.com/arclightx/arclightx/internal/logtail"
	"github.com/arclightx/arclightx/internal/process"
	serverprops "github.com/arclightx/arclightx/internal/properties"
	"github.com/arclightx/arclightx/internal/router"
)

// clientTimeout bounds a single API call; backups and stops may take a while
// clientTimeout 限制单次 API 调用时间
const clientTimeout = 10 * time.Minute

// apiAddr overrides the API address taken from the config file
var apiAddr string

// apiError carries the error_msg of a failed call
// apiError 携带失败调用的 error_msg
type apiError struct {
	Status  int
	Message string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("%s (HTTP %d)", e.Message, e.Status)
}

// apiClient talks to a running daemon
// apiClient 与运行中的 Daemon 通信
type apiClient struct {
	base string
	http *http.Client
}

func newAPIClient() (*apiClient, error) {
	addr := apiAddr
	if addr == "" {
		cfg, err := config.Load(configFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
		addr = cfg.HTTP.Listen
		if addr == "" {
			addr = config.DefaultHTTPListen
		}
	}
	if !strings.Contains(addr, "://") {
		addr = "http://" + addr
	}
	return &apiClient{
		base: strings.TrimRight(addr, "/") + router.APIPrefix,
		http: &http.Client{Timeout: clientTimeout},
	}, nil
}

// do sends body as JSON and decodes the data field into out
// do 以 JSON 发送 body 并将 data 字段解码到 out
func (c *apiClient) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var envelope struct {
		ErrorMsg string          `json:"error_msg"`
		Data     json.RawMessage `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return fmt.Errorf("decode response (HTTP %d): %w", resp.StatusCode, err)
	}
	if resp.StatusCode >= http.StatusBadRequest || envelope.ErrorMsg != "" {
		msg := envelope.ErrorMsg
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return &apiError{Status: resp.StatusCode, Message: msg}
	}
	if out != nil && len(envelope.Data) > 0 && string(envelope.Data) != "null" {
		return json.Unmarshal(envelope.Data, out)
	}
	return nil
}

// newClientCmds returns the commands that call a running daemon
// newClientCmds 返回调用运行中 Daemon 的命令
func newClientCmds() []*cobra.Command {
	cmds := []*cobra.Command{
		newStatusCmd(),
		newStartCmd(),
		newStopCmd(),
		newRestartCmd(),
		newCommandCmd(),
		newBackupCmd(),
		newLogsCmd(),
		newEventsCmd(),
		newPropertiesCmd(),
	}
	for _, c := range cmds {
		c.PersistentFlags().StringVar(&apiAddr, "addr", "", "daemon API address (default: http.listen from config)")
	}
	return cmds
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show server status / 查看服务器状态",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newAPIClient()
			if err != nil {
				return err
			}
			var st server.StatusResponse
			if err := c.do(cmd.Context(), http.MethodGet, "/server/status", nil, &st); err != nil {
				return err
			}
			printStatus(cmd.OutOrStdout(), &st)
			return nil
		},
	}
}

func printStatus(out io.Writer, st *server.StatusResponse) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	p := st.Process
	fmt.Fprintf(w, "Server:\t%s\n", p.Name)
	fmt.Fprintf(w, "State:\t%s\n", p.State)
	if p.State.Active() {
		fmt.Fprintf(w, "PID:\t%d\n", p.PID)
		fmt.Fprintf(w, "Started:\t%s\n", humanize.Time(p.StartTime))
		fmt.Fprintf(w, "CPU:\t%.1f%%\n", p.CPUUsage)
		fmt.Fprintf(w, "Memory:\t%s\n", humanize.IBytes(uint64(max(p.MemoryUsage, 0))))
	}
	if p.LastExit != nil {
		fmt.Fprintf(w, "Last exit:\tcode %d, crashed=%t, %s\n", p.LastExit.Code, p.LastExit.Crashed, humanize.Time(p.LastExit.ExitedAt))
	}
	if st.AutoRestart != nil {
		fmt.Fprintf(w, "Auto-restarts:\t%d in window\n", st.AutoRestart.RestartCount)
	}
	if st.Cooldown {
		fmt.Fprintf(w, "Cooldown:\tactive\n")
	}
	for _, e := range st.Schedules {
		fmt.Fprintf(w, "Schedule %s:\t%s (next %s)\n", e.Name, e.Spec, humanize.Time(e.Next))
	}
	switch {
	case st.Java != nil:
		fmt.Fprintf(w, "Java:\t%s (%s)\n", st.Java.Version, st.Java.Path)
	case st.JavaError != "":
		fmt.Fprintf(w, "Java:\tunavailable: %s\n", st.JavaError)
	}
	w.Flush()
}

func newStartCmd() *cobra.Command {
	var req server.StartRequest
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start the server / 启动服务器",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newAPIClient()
			if err != nil {
				return err
			}
			var p process.ServerProcess
			if err := c.do(cmd.Context(), http.MethodPost, "/server/start", req, &p); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Server %s (pid %d)\n", p.State, p.PID)
			return nil
		},
	}
	cmd.Flags().StringVar(&req.MinMemory, "min-memory", "", "override -Xms")
	cmd.Flags().StringVar(&req.MaxMemory, "max-memory", "", "override -Xmx")
	cmd.Flags().StringSliceVar(&req.JVMArgs, "jvm-arg", nil, "override extra JVM arguments")
	return cmd
}

func newStopCmd() *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop the server gracefully / 优雅停止服务器",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newAPIClient()
			if err != nil {
				return err
			}
			req := server.StopRequest{TimeoutSeconds: int(timeout / time.Second)}
			if err := c.do(cmd.Context(), http.MethodPost, "/server/stop", req, nil); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Server stopped")
			return nil
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "grace period before the process is killed")
	return cmd
}

func newRestartCmd() *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "restart",
		Short: "Restart the server / 重启服务器",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newAPIClient()
			if err != nil {
				return err
			}
			req := server.StopRequest{TimeoutSeconds: int(timeout / time.Second)}
			if err := c.do(cmd.Context(), http.MethodPost, "/server/restart", req, nil); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Server restarted")
			return nil
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "grace period before the process is killed")
	return cmd
}

func newCommandCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "command <text>...",
		Short: "Send a console command / 发送控制台命令",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newAPIClient()
			if err != nil {
				return err
			}
			req := server.CommandRequest{Command: strings.Join(args, " ")}
			return c.do(cmd.Context(), http.MethodPost, "/server/command", req, nil)
		},
	}
}

func newBackupCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Create, list, restore and prune backups / 管理备份",
	}

	createCmd := &cobra.Command{
		Use:   "create [path]...",
		Short: "Create a backup, defaults to the configured manifest / 创建备份",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newAPIClient()
			if err != nil {
				return err
			}
			var rec backup.Record
			body := map[string][]string{"paths": args}
			if err := c.do(cmd.Context(), http.MethodPost, "/backups", body, &rec); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Created %s (%s)\n", rec.ArchivePath, humanize.IBytes(uint64(max(rec.SizeBytes, 0))))
			if rec.InconsistentSnapshot {
				fmt.Fprintln(cmd.OutOrStdout(), "Warning: server was running, snapshot may be inconsistent")
			}
			return nil
		},
	}

	var status string
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List backups / 列出备份",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newAPIClient()
			if err != nil {
				return err
			}
			path := "/backups"
			if status != "" {
				path += "?status=" + url.QueryEscape(status)
			}
			var records []*backup.Record
			if err := c.do(cmd.Context(), http.MethodGet, path, nil, &records); err != nil {
				return err
			}
			printBackups(cmd.OutOrStdout(), records)
			return nil
		},
	}
	listCmd.Flags().StringVar(&status, "status", "", "filter by status (pending, complete, failed)")

	restoreCmd := &cobra.Command{
		Use:   "restore <id|path>",
		Short: "Restore a backup, the server must be stopped / 恢复备份",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newAPIClient()
			if err != nil {
				return err
			}
			if err := c.do(cmd.Context(), http.MethodPost, "/backups/restore", map[string]string{"id": args[0]}, nil); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Restored %s\n", args[0])
			return nil
		},
	}

	pruneCmd := &cobra.Command{
		Use:   "prune <keep-last>",
		Short: "Delete all but the newest complete backups / 清理旧备份",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			keep, err := strconv.Atoi(args[0])
			if err != nil || keep < 1 {
				return errors.New("keep-last must be a positive integer")
			}
			c, err := newAPIClient()
			if err != nil {
				return err
			}
			var removed []*backup.Record
			if err := c.do(cmd.Context(), http.MethodPost, "/backups/prune", map[string]int{"keep_last": keep}, &removed); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %d backup(s)\n", len(removed))
			return nil
		},
	}

	cmd.AddCommand(createCmd, listCmd, restoreCmd, pruneCmd)
	return cmd
}

func printBackups(out io.Writer, records []*backup.Record) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSNAPSHOT\tSTATUS\tSIZE\tARCHIVE")
	for _, rec := range records {
		status := string(rec.Status)
		if rec.InconsistentSnapshot {
			status += "*"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			rec.ID,
			humanize.Time(rec.SnapshotAt),
			status,
			humanize.IBytes(uint64(max(rec.SizeBytes, 0))),
			rec.ArchivePath)
	}
	w.Flush()
}

func newLogsCmd() *cobra.Command {
	var (
		limit    int
		category string
		follow   bool
	)
	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Show classified server logs / 查看分类后的服务器日志",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newAPIClient()
			if err != nil {
				return err
			}
			q := url.Values{}
			if category != "" {
				q.Set("category", category)
			}
			if follow {
				return c.followLogs(cmd.Context(), q, cmd.OutOrStdout())
			}
			q.Set("limit", strconv.Itoa(limit))
			var entries []logtail.Entry
			if err := c.do(cmd.Context(), http.MethodGet, "/logs/latest?"+q.Encode(), nil, &entries); err != nil {
				return err
			}
			for _, e := range entries {
				fmt.Fprintf(cmd.OutOrStdout(), "[%s] %s\n", e.Category, e.Line.Text)
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", logtail.DefaultLimit, "number of lines")
	cmd.Flags().StringVar(&category, "category", "", "comma separated category filter")
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "stream new lines")
	return cmd
}

// stream reads a server-sent event stream and calls fn for every event
// stream 读取 SSE 流并对每个事件调用 fn
func (c *apiClient) stream(ctx context.Context, path string, fn func(event, data string)) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")
	// 流式请求不设超时
	resp, err := (&http.Client{Transport: c.http.Transport}).Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		var envelope struct {
			ErrorMsg string `json:"error_msg"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&envelope)
		return &apiError{Status: resp.StatusCode, Message: envelope.ErrorMsg}
	}

	var event string
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 64*1024), maxScanLine)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			event = ""
		case strings.HasPrefix(line, "event:"):
			event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			fn(event, strings.TrimSpace(strings.TrimPrefix(line, "data:")))
		}
	}
	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}

// followLogs prints each log event of the follow stream
// followLogs 输出跟踪流中的每条日志事件
func (c *apiClient) followLogs(ctx context.Context, q url.Values, out io.Writer) error {
	return c.stream(ctx, "/logs/follow?"+q.Encode(), func(_, data string) {
		var e logtail.Entry
		if err := json.Unmarshal([]byte(data), &e); err != nil {
			return
		}
		fmt.Fprintf(out, "[%s] %s\n", e.Category, e.Line.Text)
	})
}

func newEventsCmd() *cobra.Command {
	var kinds string
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Stream supervisor events / 订阅 Supervisor 事件流",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newAPIClient()
			if err != nil {
				return err
			}
			path := "/events"
			if kinds != "" {
				path += "?kinds=" + url.QueryEscape(kinds)
			}
			out := cmd.OutOrStdout()
			return c.stream(cmd.Context(), path, func(event, data string) {
				fmt.Fprintf(out, "%s %s\n", event, data)
			})
		},
	}
	cmd.Flags().StringVar(&kinds, "kinds", "", "comma separated event kinds (state_changed, log_classified, backup_progress)")
	return cmd
}

func newPropertiesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "properties",
		Short: "Show or edit server.properties / 查看或修改 server.properties",
	}

	getCmd := &cobra.Command{
		Use:   "get [key]...",
		Short: "Print properties, all of them without arguments / 打印配置项",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newAPIClient()
			if err != nil {
				return err
			}
			var resp propsapi.PropertiesResponse
			if err := c.do(cmd.Context(), http.MethodGet, "/server/properties", nil, &resp); err != nil {
				return err
			}
			printProperties(cmd.OutOrStdout(), resp.Entries, args)
			return nil
		},
	}

	var remove []string
	setCmd := &cobra.Command{
		Use:   "set key=value...",
		Short: "Set properties, effective on the next server start / 修改配置项，下次启动生效",
		RunE: func(cmd *cobra.Command, args []string) error {
			req := propsapi.UpdateRequest{Set: map[string]string{}, Remove: remove}
			for _, kv := range args {
				k, v, ok := strings.Cut(kv, "=")
				if !ok {
					return fmt.Errorf("argument %q must be key=value", kv)
				}
				req.Set[k] = v
			}
			if len(req.Set) == 0 && len(req.Remove) == 0 {
				return errors.New("nothing to update")
			}
			c, err := newAPIClient()
			if err != nil {
				return err
			}
			var resp propsapi.PropertiesResponse
			if err := c.do(cmd.Context(), http.MethodPut, "/server/properties", req, &resp); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Updated %s\n", resp.Path)
			if resp.RestartRequired {
				fmt.Fprintln(cmd.OutOrStdout(), "Restart the server to apply the changes")
			}
			return nil
		},
	}
	setCmd.Flags().StringSliceVar(&remove, "remove", nil, "keys to delete")

	cmd.AddCommand(getCmd, setCmd)
	return cmd
}

func printProperties(out io.Writer, entries []serverprops.Entry, keys []string) {
	want := map[string]bool{}
	for _, k := range keys {
		want[k] = true
	}
	for _, e := range entries {
		if len(want) == 0 || want[e.Key] {
			fmt.Fprintf(out, "%s=%s\n", e.Key, e.Value)
		}
	}
}
