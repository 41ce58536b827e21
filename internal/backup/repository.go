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

package backup

import (
	"context"
	"errors"

	"gorm.io/gorm"
)

// Repository provides data access operations for backup records.
// Repository 提供备份记录的数据访问操作。
type Repository struct {
	db *gorm.DB
}

// NewRepository creates a new Repository instance.
// NewRepository 创建一个新的 Repository 实例。
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// AutoMigrate creates or updates the backup_records table.
func (r *Repository) AutoMigrate() error {
	return r.db.AutoMigrate(&Record{})
}

// Create inserts a new record.
// Create 插入新记录。
func (r *Repository) Create(ctx context.Context, rec *Record) error {
	return r.db.WithContext(ctx).Create(rec).Error
}

// Save updates all fields of an existing record.
// Save 更新现有记录的所有字段。
func (r *Repository) Save(ctx context.Context, rec *Record) error {
	return r.db.WithContext(ctx).Save(rec).Error
}

// Get retrieves a record by its ID.
// Get 通过 ID 获取记录。
// Returns ErrNotFound if the record does not exist.
// 如果记录不存在，则返回 ErrNotFound。
func (r *Repository) Get(ctx context.Context, id string) (*Record, error) {
	var rec Record
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&rec).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &rec, nil
}

// GetByArchivePath retrieves a record by its archive path.
// GetByArchivePath 通过归档路径获取记录。
func (r *Repository) GetByArchivePath(ctx context.Context, path string) (*Record, error) {
	var rec Record
	if err := r.db.WithContext(ctx).Where("archive_path = ?", path).First(&rec).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &rec, nil
}

// List returns records ordered by snapshot time, newest first.
// List 按快照时间倒序返回记录。
func (r *Repository) List(ctx context.Context, filter *ListFilter) ([]*Record, error) {
	query := r.db.WithContext(ctx).Model(&Record{})
	if filter != nil {
		if filter.Status != "" {
			query = query.Where("status = ?", filter.Status)
		}
		if filter.Limit > 0 {
			query = query.Limit(filter.Limit)
		}
	}

	var records []*Record
	if err := query.Order("snapshot_at DESC").Order("id DESC").Find(&records).Error; err != nil {
		return nil, err
	}
	return records, nil
}

// Delete removes a record.
// Delete 删除记录。
func (r *Repository) Delete(ctx context.Context, id string) error {
	result := r.db.WithContext(ctx).Where("id = ?", id).Delete(&Record{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkInterrupted fails every record still in progress, e.g. after a supervisor restart.
// MarkInterrupted 将所有仍在进行中的记录标记为失败，例如在 Supervisor 重启之后。
func (r *Repository) MarkInterrupted(ctx context.Context) (int64, error) {
	result := r.db.WithContext(ctx).Model(&Record{}).
		Where("status = ?", StatusInProgress).
		Updates(map[string]interface{}{
			"status": StatusFailed,
			"error":  "interrupted",
		})
	return result.RowsAffected, result.Error
}
