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

// Package backup creates and restores ZIP archives of a server directory.
// backup 包负责创建和恢复服务器目录的 ZIP 归档。
package backup

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"

	"github.com/arclightx/arclightx/internal/process"
)

// Status represents the completion status of a backup.
// Status 表示备份的完成状态。
type Status string

const (
	// StatusInProgress indicates the archive is being written.
	// StatusInProgress 表示归档正在写入。
	StatusInProgress Status = "in_progress"
	// StatusComplete indicates the archive is final and immutable.
	// StatusComplete 表示归档已完成且不可变。
	StatusComplete Status = "complete"
	// StatusFailed indicates the backup failed, Error holds the cause.
	// StatusFailed 表示备份失败，Error 保存原因。
	StatusFailed Status = "failed"
)

// Manifest is the list of paths included in an archive, relative to the server directory.
// Manifest 是归档包含的路径列表，相对于服务器目录。
type Manifest []string

// Value implements the driver.Valuer interface for database storage.
// Value 实现 driver.Valuer 接口用于数据库存储。
func (m Manifest) Value() (driver.Value, error) {
	if m == nil {
		return "[]", nil
	}
	b, err := json.Marshal([]string(m))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements the sql.Scanner interface for database retrieval.
// Scan 实现 sql.Scanner 接口用于数据库读取。
func (m *Manifest) Scan(value interface{}) error {
	switch v := value.(type) {
	case nil:
		*m = nil
		return nil
	case []byte:
		return json.Unmarshal(v, m)
	case string:
		return json.Unmarshal([]byte(v), m)
	default:
		return errors.New("backup: failed to scan Manifest - expected []byte or string")
	}
}

// Record represents one backup archive.
// Record 表示一个备份归档。
type Record struct {
	ID          string `json:"id" gorm:"primaryKey;size:36"`
	ServerName  string `json:"server_name" gorm:"size:100;index"`
	ArchivePath string `json:"archive_path" gorm:"size:1024;not null"`

	// SnapshotAt is when the snapshot started (UTC)
	// SnapshotAt 是快照开始的时间（UTC）
	SnapshotAt time.Time `json:"snapshot_at" gorm:"not null;index"`

	Manifest   Manifest `json:"manifest" gorm:"type:text"`
	SizeBytes  int64    `json:"size_bytes"`
	TotalBytes int64    `json:"total_bytes"`
	BytesDone  int64    `json:"bytes_done"`
	Status     Status   `json:"status" gorm:"size:20;not null;index"`

	// InconsistentSnapshot is set when the server was not stopped while copying
	// InconsistentSnapshot 在复制期间服务器未停止时置为 true
	InconsistentSnapshot bool          `json:"inconsistent_snapshot"`
	ServerState          process.State `json:"server_state" gorm:"size:20"`

	Error       string     `json:"error,omitempty" gorm:"type:text"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// TableName specifies the table name for Record.
// TableName 指定 Record 的表名。
func (Record) TableName() string {
	return "backup_records"
}

// Progress returns the copied fraction in [0, 1].
func (r Record) Progress() float64 {
	if r.Status == StatusComplete {
		return 1
	}
	if r.TotalBytes <= 0 {
		return 0
	}
	p := float64(r.BytesDone) / float64(r.TotalBytes)
	if p > 1 {
		return 1
	}
	return p
}

// ListFilter narrows ListBackups results.
// ListFilter 用于筛选备份列表。
type ListFilter struct {
	Status Status
	Limit  int
}
