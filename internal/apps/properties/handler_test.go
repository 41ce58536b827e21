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

package properties

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arclightx/arclightx/internal/apps/response"
	"github.com/arclightx/arclightx/internal/process"
	serverprops "github.com/arclightx/arclightx/internal/properties"
)

func setupTestRouter(t *testing.T, state process.State) (*gin.Engine, string) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, serverprops.FileName),
		[]byte("#Minecraft server properties\nmotd=hello\nmax-players=20\n"), 0o644))

	r := gin.New()
	h := NewHandler(serverprops.NewStore(dir), func() process.State { return state })
	RegisterRoutes(r.Group("/api/v1"), h)
	return r, dir
}

type propsEnvelope struct {
	ErrorMsg string             `json:"error_msg"`
	Data     PropertiesResponse `json:"data"`
}

func do(t *testing.T, r http.Handler, method, path, body string) (*httptest.ResponseRecorder, propsEnvelope) {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	var resp propsEnvelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), w.Body.String())
	return w, resp
}

func TestGetProperties(t *testing.T) {
	r, dir := setupTestRouter(t, process.StateStopped)

	w, resp := do(t, r, http.MethodGet, "/api/v1/server/properties", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, resp.ErrorMsg)
	assert.Equal(t, filepath.Join(dir, serverprops.FileName), resp.Data.Path)
	assert.Equal(t, []serverprops.Entry{{Key: "motd", Value: "hello"}, {Key: "max-players", Value: "20"}}, resp.Data.Entries)
	assert.False(t, resp.Data.RestartRequired)
}

func TestGetProperties_Missing(t *testing.T) {
	r, dir := setupTestRouter(t, process.StateStopped)
	require.NoError(t, os.Remove(filepath.Join(dir, serverprops.FileName)))

	w, resp := do(t, r, http.MethodGet, "/api/v1/server/properties", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, resp.ErrorMsg, "not found")
}

func TestUpdateProperties(t *testing.T) {
	r, _ := setupTestRouter(t, process.StateRunning)

	w, resp := do(t, r, http.MethodPut, "/api/v1/server/properties", `{"set":{"max-players":"50","pvp":"false"},"remove":["motd"]}`)
	require.Equal(t, http.StatusOK, w.Code, resp.ErrorMsg)
	assert.Equal(t, []serverprops.Entry{{Key: "max-players", Value: "50"}, {Key: "pvp", Value: "false"}}, resp.Data.Entries)
	assert.True(t, resp.Data.RestartRequired, "changes apply on the next start while the server runs")

	w, resp = do(t, r, http.MethodGet, "/api/v1/server/properties", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []serverprops.Entry{{Key: "max-players", Value: "50"}, {Key: "pvp", Value: "false"}}, resp.Data.Entries)
}

func TestUpdateProperties_BadRequests(t *testing.T) {
	r, _ := setupTestRouter(t, process.StateStopped)

	tests := []struct {
		name string
		body string
	}{
		{"malformed json", `{"set":`},
		{"empty update", `{}`},
		{"invalid key", `{"set":{"bad key":"1"}}`},
		{"multiline value", `{"set":{"motd":"a\nb"}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, resp := do(t, r, http.MethodPut, "/api/v1/server/properties", tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.NotEmpty(t, resp.ErrorMsg)
		})
	}
}

func TestStatusFor_Properties(t *testing.T) {
	assert.Equal(t, http.StatusNotFound, response.StatusFor(serverprops.ErrNotFound))
	assert.Equal(t, http.StatusBadRequest, response.StatusFor(serverprops.ErrInvalid))
}
