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

// Package properties reads and updates the Minecraft server.properties file
// Package properties 读取并更新 Minecraft 的 server.properties 文件
package properties

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/magiconair/properties"
)

// FileName is the properties file inside the server directory
// FileName 是服务器目录中的配置文件名
const FileName = "server.properties"

var (
	// ErrNotFound indicates server.properties does not exist
	// ErrNotFound 表示 server.properties 不存在
	ErrNotFound = errors.New("properties: server.properties not found")

	// ErrInvalid indicates a key or value that cannot be stored
	// ErrInvalid 表示无法保存的键或值
	ErrInvalid = errors.New("properties: invalid entry")
)

// Entry is one key/value pair in file order
// Entry 是按文件顺序排列的一个键值对
type Entry struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Store serializes access to one server.properties file
// Store 串行化对单个 server.properties 文件的访问
type Store struct {
	path string
	mu   sync.Mutex
}

// NewStore returns a Store for serverDir/server.properties
// NewStore 返回 serverDir/server.properties 的 Store
func NewStore(serverDir string) *Store {
	return &Store{path: filepath.Join(serverDir, FileName)}
}

// Path returns the file location
func (s *Store) Path() string { return s.path }

// Load returns every entry in file order
// Load 按文件顺序返回所有条目
func (s *Store) Load() ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, err := s.read(false)
	if err != nil {
		return nil, err
	}
	return entries(p), nil
}

// Update sets the given keys and deletes the keys in remove, then rewrites the file.
// Comments and the order of existing keys are kept. New keys are appended in sorted order.
// A missing file is created.
// Update 设置给定的键并删除 remove 中的键，然后重写文件。保留注释和已有键的顺序，
// 新键按字典序追加，文件不存在时会被创建。
func (s *Store) Update(set map[string]string, remove []string) ([]Entry, error) {
	for k, v := range set {
		if err := checkKey(k); err != nil {
			return nil, err
		}
		if strings.ContainsAny(v, "\r\n") {
			return nil, fmt.Errorf("%w: value of %q contains a line break", ErrInvalid, k)
		}
	}
	for _, k := range remove {
		if err := checkKey(k); err != nil {
			return nil, err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	p, err := s.read(true)
	if err != nil {
		return nil, err
	}

	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if _, _, err := p.Set(k, set[k]); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
		}
	}
	for _, k := range remove {
		p.Delete(k)
	}

	if err := s.write(p); err != nil {
		return nil, err
	}
	return entries(p), nil
}

func (s *Store) read(allowMissing bool) (*properties.Properties, error) {
	if _, err := os.Stat(s.path); errors.Is(err, os.ErrNotExist) {
		if !allowMissing {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, s.path)
		}
		p := properties.NewProperties()
		p.DisableExpansion = true
		return p, nil
	} else if err != nil {
		return nil, err
	}
	loader := &properties.Loader{Encoding: properties.UTF8, DisableExpansion: true}
	p, err := loader.LoadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	p.DisableExpansion = true
	return p, nil
}

// write replaces the file through a temporary sibling so readers never see a partial file
// write 通过同目录临时文件替换原文件，读者不会看到写了一半的文件
func (s *Store) write(p *properties.Properties) error {
	var buf bytes.Buffer
	if _, err := p.WriteComment(&buf, "#", properties.UTF8); err != nil {
		return err
	}

	mode := os.FileMode(0o644)
	if info, err := os.Stat(s.path); err == nil {
		mode = info.Mode().Perm()
	}
	tmp, err := os.CreateTemp(filepath.Dir(s.path), "."+FileName+".*.tmp")
	if err != nil {
		return err
	}
	name := tmp.Name()
	cleanup := func(err error) error {
		os.Remove(name)
		return err
	}
	if _, err := tmp.Write(buf.Bytes()); err != nil {
		tmp.Close()
		return cleanup(err)
	}
	if err := tmp.Close(); err != nil {
		return cleanup(err)
	}
	if err := os.Chmod(name, mode); err != nil {
		return cleanup(err)
	}
	if err := os.Rename(name, s.path); err != nil {
		return cleanup(err)
	}
	return nil
}

func checkKey(k string) error {
	if strings.TrimSpace(k) == "" {
		return fmt.Errorf("%w: empty key", ErrInvalid)
	}
	if strings.ContainsAny(k, " \t\r\n=:#!\\") {
		return fmt.Errorf("%w: key %q contains a separator", ErrInvalid, k)
	}
	return nil
}

func entries(p *properties.Properties) []Entry {
	keys := p.Keys()
	out := make([]Entry, 0, len(keys))
	for _, k := range keys {
		v, _ := p.Get(k)
		out = append(out, Entry{Key: k, Value: v})
	}
	return out
}
