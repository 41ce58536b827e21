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

package logger

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/arclightx/arclightx/internal/config"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]zapcore.Level{
		"debug":   zapcore.DebugLevel,
		"INFO":    zapcore.InfoLevel,
		"":        zapcore.InfoLevel,
		"warn":    zapcore.WarnLevel,
		"warning": zapcore.WarnLevel,
		"error":   zapcore.ErrorLevel,
	}
	for in, want := range cases {
		got, err := ParseLevel(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseLevel("loud")
	assert.Error(t, err)
}

func TestNew_WritesFileAndConsole(t *testing.T) {
	file := filepath.Join(t.TempDir(), "logs", "arclightx.log")
	var console bytes.Buffer

	log, closeFn, err := New(config.LogConfig{Level: "info", File: file, MaxSize: 1}, &console)
	require.NoError(t, err)

	log.Debug("hidden")
	log.Info("server started", zap.Int("pid", 4242))
	require.NoError(t, closeFn())

	assert.Contains(t, console.String(), "server started")
	assert.NotContains(t, console.String(), "hidden")

	data, err := os.ReadFile(file)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 1)

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
	assert.Equal(t, "server started", entry["msg"])
	assert.Equal(t, float64(4242), entry["pid"])
	assert.Equal(t, "info", entry["level"])
}

func TestNew_ConsoleOnly(t *testing.T) {
	var console bytes.Buffer
	log, closeFn, err := New(config.LogConfig{Level: "debug"}, &console)
	require.NoError(t, err)
	log.Debug("verbose")
	require.NoError(t, closeFn())
	assert.Contains(t, console.String(), "verbose")
}

func TestNew_InvalidLevel(t *testing.T) {
	_, _, err := New(config.LogConfig{Level: "chatty"}, nil)
	assert.Error(t, err)
}
