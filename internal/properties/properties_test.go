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
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sample = `#Minecraft server properties
#Sat Oct 17 10:00:00 UTC 2026
motd=A Minecraft Server
max-players=20
level-seed=
server-port=25565
`

func newSampleStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, FileName), []byte(sample), 0o600))
	return NewStore(dir)
}

func TestStore_Load(t *testing.T) {
	s := newSampleStore(t)
	got, err := s.Load()
	require.NoError(t, err)
	assert.Equal(t, []Entry{
		{Key: "motd", Value: "A Minecraft Server"},
		{Key: "max-players", Value: "20"},
		{Key: "level-seed", Value: ""},
		{Key: "server-port", Value: "25565"},
	}, got)
}

func TestStore_LoadMissing(t *testing.T) {
	_, err := NewStore(t.TempDir()).Load()
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_Update(t *testing.T) {
	s := newSampleStore(t)

	got, err := s.Update(map[string]string{
		"max-players": "50",
		"white-list":  "true",
		"difficulty":  "hard",
	}, []string{"level-seed", "not-present"})
	require.NoError(t, err)
	assert.Equal(t, []Entry{
		{Key: "motd", Value: "A Minecraft Server"},
		{Key: "max-players", Value: "50"},
		{Key: "server-port", Value: "25565"},
		{Key: "difficulty", Value: "hard"},
		{Key: "white-list", Value: "true"},
	}, got)

	reloaded, err := s.Load()
	require.NoError(t, err)
	assert.Equal(t, got, reloaded)

	raw, err := os.ReadFile(s.Path())
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(raw), "#"), "header comment kept: %q", raw)
	assert.Contains(t, string(raw), "Minecraft server properties")

	info, err := os.Stat(s.Path())
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	items, err := os.ReadDir(filepath.Dir(s.Path()))
	require.NoError(t, err)
	assert.Len(t, items, 1, "no temporary files left behind")
}

func TestStore_UpdateCreatesFile(t *testing.T) {
	s := NewStore(t.TempDir())
	got, err := s.Update(map[string]string{"motd": "fresh"}, nil)
	require.NoError(t, err)
	assert.Equal(t, []Entry{{Key: "motd", Value: "fresh"}}, got)

	loaded, err := s.Load()
	require.NoError(t, err)
	assert.Equal(t, got, loaded)
}

func TestStore_UpdateRejectsInvalid(t *testing.T) {
	tests := []struct {
		name   string
		set    map[string]string
		remove []string
	}{
		{"empty key", map[string]string{"": "x"}, nil},
		{"key with separator", map[string]string{"a=b": "x"}, nil},
		{"key with space", map[string]string{"max players": "1"}, nil},
		{"value with newline", map[string]string{"motd": "line\nbreak"}, nil},
		{"bad remove key", nil, []string{"#comment"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newSampleStore(t)
			_, err := s.Update(tt.set, tt.remove)
			assert.ErrorIs(t, err, ErrInvalid)

			raw, err := os.ReadFile(s.Path())
			require.NoError(t, err)
			assert.Equal(t, sample, string(raw), "file untouched")
		})
	}
}

func TestStore_ValuesAreNotExpanded(t *testing.T) {
	s := NewStore(t.TempDir())
	_, err := s.Update(map[string]string{"motd": "${level-name} says hi"}, nil)
	require.NoError(t, err)

	got, err := s.Load()
	require.NoError(t, err)
	assert.Equal(t, []Entry{{Key: "motd", Value: "${level-name} says hi"}}, got)
}
