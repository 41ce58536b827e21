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

package router

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/arclightx/arclightx/internal/apps/response"
	"github.com/arclightx/arclightx/internal/apps/server"
	"github.com/arclightx/arclightx/internal/eventbus"
	"github.com/arclightx/arclightx/internal/logtail"
	"github.com/arclightx/arclightx/internal/process"
)

func TestNew_RegistersAPIRoutes(t *testing.T) {
	bus := eventbus.New(nil)
	defer bus.Close()

	r := New(Deps{
		Server:    server.HandlerConfig{Supervisor: process.NewSupervisor("test", nil, nil)},
		Tailer:    logtail.New(nil, nil),
		ServerDir: t.TempDir(),
		Bus:       bus,
		Version:   "v0.0.0-test",
	})

	routes := map[string]bool{}
	for _, ri := range r.Routes() {
		routes[ri.Method+" "+ri.Path] = true
	}
	for _, want := range []string{
		"GET /api/v1/health",
		"GET /api/v1/server/status",
		"POST /api/v1/server/start",
		"POST /api/v1/server/stop",
		"POST /api/v1/server/restart",
		"POST /api/v1/server/command",
		"GET /api/v1/logs/latest",
		"GET /api/v1/logs/follow",
		"GET /api/v1/events",
		"GET /api/v1/server/java",
		"GET /api/v1/server/properties",
		"PUT /api/v1/server/properties",
	} {
		assert.True(t, routes[want], "missing route %s", want)
	}
	assert.False(t, routes["GET /api/v1/backups"], "backup routes need an engine")
	assert.False(t, routes["GET /api/swagger/*any"], "swagger is only served in debug mode")
}

func TestNew_SwaggerInDebugMode(t *testing.T) {
	r := New(Deps{
		Server: server.HandlerConfig{Supervisor: process.NewSupervisor("test", nil, nil)},
		Debug:  true,
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, SwaggerPath+"/doc.json", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var doc struct {
		Info struct {
			Title string `json:"title"`
		} `json:"info"`
		Paths map[string]json.RawMessage `json:"paths"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &doc), w.Body.String())
	assert.Equal(t, "ArcLightX API", doc.Info.Title)
	for _, p := range []string{"/api/v1/server/status", "/api/v1/backups", "/api/v1/server/properties"} {
		assert.Contains(t, doc.Paths, p)
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, SwaggerPath+"/index.html", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestHealth(t *testing.T) {
	r := New(Deps{
		Server:  server.HandlerConfig{Supervisor: process.NewSupervisor("test", nil, nil)},
		Version: "v1.2.3",
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/health", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var resp response.Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	data := resp.Data.(map[string]interface{})
	assert.Equal(t, "ok", data["status"])
	assert.Equal(t, "v1.2.3", data["version"])
}

func TestLoggerMiddleware(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	r := New(Deps{
		Server: server.HandlerConfig{Supervisor: process.NewSupervisor("test", nil, nil)},
		Logger: zap.New(core),
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/v1/server/stop", nil))
	assert.Equal(t, http.StatusConflict, w.Code)

	entries := logs.FilterMessage("request rejected").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "/api/v1/server/stop", fields["path"])
	assert.EqualValues(t, http.StatusConflict, fields["status"])
}
