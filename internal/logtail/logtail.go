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

// Package logtail reads and follows the server's logs/latest.log.
// logtail 包读取并跟踪服务器的 logs/latest.log。
package logtail

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/arclightx/arclightx/internal/classifier"
)

const (
	// DefaultLimit is the number of lines ReadLatest returns when no limit is given
	// DefaultLimit 是未指定数量时 ReadLatest 返回的行数
	DefaultLimit = 200
	// DefaultPollInterval is the fallback polling period of Follow
	// DefaultPollInterval 是 Follow 的兜底轮询周期
	DefaultPollInterval = time.Second

	// LatestLog is the log file path relative to the server directory.
	LatestLog = "logs/latest.log"

	readChunk    = 64 * 1024
	maxLineBytes = 1 << 20
)

// ErrNoLog indicates the log file or its directory does not exist.
// ErrNoLog 表示日志文件或其目录不存在。
var ErrNoLog = errors.New("logtail: log file not found")

// Entry is one classified line read from the log file
// Entry 是从日志文件读取并已分类的一行
type Entry struct {
	Line     classifier.LogLine  `json:"line"`
	Category classifier.Category `json:"category"`
}

// Tailer reads log files and classifies their lines
// Tailer 读取日志文件并对其内容分类
type Tailer struct {
	cls          *classifier.Classifier
	logger       *zap.Logger
	pollInterval time.Duration
}

// New creates a Tailer.
// New 创建 Tailer。
func New(cls *classifier.Classifier, logger *zap.Logger) *Tailer {
	if cls == nil {
		cls = classifier.MustDefault()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tailer{
		cls:          cls,
		logger:       logger.With(zap.String("component", "logtail")),
		pollInterval: DefaultPollInterval,
	}
}

// SetPollInterval changes the polling fallback period of later Follow calls.
func (t *Tailer) SetPollInterval(d time.Duration) {
	if d > 0 {
		t.pollInterval = d
	}
}

// ReadLatest returns the last limit lines of path, classified
// ReadLatest 返回 path 的最后 limit 行及其分类
func (t *Tailer) ReadLatest(path string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNoLog, path)
		}
		return nil, err
	}
	defer f.Close()

	lines, err := lastLines(f, limit)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	entries := make([]Entry, 0, len(lines))
	for _, text := range lines {
		line := classifier.LogLine{Text: classifier.StripANSI(text), Time: now, Stream: classifier.StreamFile}
		entries = append(entries, Entry{Line: line, Category: t.cls.Classify(line)})
	}
	return entries, nil
}

// lastLines reads backwards from the end of f until it has limit complete lines
// lastLines 从文件末尾向前读取，直到得到 limit 个完整行
func lastLines(f *os.File, limit int) ([]string, error) {
	info, err := f.Stat()
	if err != nil {
		return nil, err
	}

	end := info.Size()
	var buf []byte
	newlines := 0
	for end > 0 && newlines <= limit {
		start := end - readChunk
		if start < 0 {
			start = 0
		}
		chunk := make([]byte, end-start)
		if _, err := f.ReadAt(chunk, start); err != nil && err != io.EOF {
			return nil, err
		}
		newlines += bytes.Count(chunk, []byte{'\n'})
		buf = append(chunk, buf...)
		end = start
	}

	text := strings.TrimRight(string(buf), "\r\n")
	if text == "" {
		return nil, nil
	}
	lines := strings.Split(text, "\n")
	if end > 0 {
		// the first line is cut in the middle
		lines = lines[1:]
	}
	if len(lines) > limit {
		lines = lines[len(lines)-limit:]
	}
	for i := range lines {
		lines[i] = strings.TrimRight(lines[i], "\r")
	}
	return lines, nil
}

// Follow streams lines appended to path until ctx is done
// Follow 持续输出追加到 path 的行，直到 ctx 结束
//
// The file may be truncated, removed or re-created (log rotation); following continues
// with the new file from its start. fromStart also emits the existing content.
// Each call is independent and the channel is closed when ctx is done.
// 文件可以被截断、删除或重新创建（日志轮转），跟踪会从新文件开头继续。fromStart 为 true 时
// 也会输出已有内容。每次调用相互独立，ctx 结束时通道关闭。
func (t *Tailer) Follow(ctx context.Context, path string, fromStart bool) (<-chan classifier.LogLine, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	if info, err := os.Stat(filepath.Dir(abs)); err != nil || !info.IsDir() {
		return nil, fmt.Errorf("%w: directory of %s", ErrNoLog, path)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		t.logger.Warn("file watcher unavailable, falling back to polling", zap.Error(err))
		watcher = nil
	} else if err := watcher.Add(filepath.Dir(abs)); err != nil {
		t.logger.Warn("failed to watch log directory, falling back to polling", zap.String("dir", filepath.Dir(abs)), zap.Error(err))
		watcher.Close()
		watcher = nil
	}

	out := make(chan classifier.LogLine, 256)
	f := &follower{
		path:    abs,
		seekEnd: !fromStart,
		out:     out,
		logger:  t.logger.With(zap.String("path", abs)),
	}
	go f.run(ctx, watcher, t.pollInterval)
	return out, nil
}

type follower struct {
	path    string
	file    *os.File
	offset  int64
	partial []byte
	seekEnd bool
	out     chan<- classifier.LogLine
	logger  *zap.Logger
}

func (f *follower) run(ctx context.Context, w *fsnotify.Watcher, poll time.Duration) {
	defer close(f.out)
	defer f.closeFile()

	var events <-chan fsnotify.Event
	var errs <-chan error
	if w != nil {
		defer w.Close()
		events = w.Events
		errs = w.Errors
	}

	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	f.sync(ctx)
	// re-created files are always read from their start
	f.seekEnd = false

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if filepath.Clean(ev.Name) != f.path {
				continue
			}
			if ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename) {
				f.drain(ctx)
				f.closeFile()
				continue
			}
			f.sync(ctx)
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			f.logger.Warn("log watcher error", zap.Error(err))
		case <-ticker.C:
			f.sync(ctx)
		}
	}
}

// sync handles replacement and truncation, then reads whatever is new
// sync 处理文件替换与截断，然后读取新增内容
func (f *follower) sync(ctx context.Context) {
	if f.file != nil {
		pathInfo, err := os.Stat(f.path)
		if err != nil {
			f.drain(ctx)
			f.closeFile()
			return
		}
		fileInfo, err := f.file.Stat()
		switch {
		case err != nil || !os.SameFile(pathInfo, fileInfo):
			f.drain(ctx)
			f.closeFile()
		case fileInfo.Size() < f.offset:
			f.logger.Debug("log file truncated")
			if _, err := f.file.Seek(0, io.SeekStart); err != nil {
				f.closeFile()
			} else {
				f.offset = 0
				f.partial = nil
			}
		}
	}

	if f.file == nil {
		file, err := os.Open(f.path)
		if err != nil {
			return
		}
		f.file = file
		f.offset = 0
		f.partial = nil
		if f.seekEnd {
			if off, err := file.Seek(0, io.SeekEnd); err == nil {
				f.offset = off
			}
		}
	}
	f.drain(ctx)
}

func (f *follower) drain(ctx context.Context) {
	if f.file == nil {
		return
	}
	buf := make([]byte, 32*1024)
	for {
		n, err := f.file.Read(buf)
		if n > 0 {
			f.offset += int64(n)
			f.consume(ctx, buf[:n])
		}
		if err != nil || n == 0 {
			return
		}
	}
}

func (f *follower) consume(ctx context.Context, data []byte) {
	f.partial = append(f.partial, data...)
	for {
		i := bytes.IndexByte(f.partial, '\n')
		if i < 0 {
			break
		}
		f.emit(ctx, string(f.partial[:i]))
		f.partial = f.partial[i+1:]
	}
	if len(f.partial) > maxLineBytes {
		f.emit(ctx, string(f.partial))
		f.partial = nil
	}
	if len(f.partial) == 0 {
		f.partial = nil
	}
}

func (f *follower) emit(ctx context.Context, text string) {
	text = classifier.StripANSI(strings.TrimRight(text, "\r"))
	line := classifier.LogLine{Text: text, Time: time.Now(), Stream: classifier.StreamFile}
	select {
	case f.out <- line:
	case <-ctx.Done():
	}
}

func (f *follower) closeFile() {
	if f.file != nil {
		f.file.Close()
		f.file = nil
	}
	f.partial = nil
}
