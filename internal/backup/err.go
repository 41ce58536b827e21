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

import "errors"

// Error definitions for backup and restore operations.
// 备份与恢复操作的错误定义。
var (
	// ErrServerRunning indicates a restore was requested while the server is not stopped.
	// ErrServerRunning 表示在服务器未停止时请求了恢复。
	ErrServerRunning = errors.New("backup: server must be stopped")
	// ErrIO indicates a filesystem failure or a corrupt archive.
	// ErrIO 表示文件系统故障或归档损坏。
	ErrIO = errors.New("backup: i/o error")
	// ErrDiskSpace indicates the archive could not be written.
	// ErrDiskSpace 表示归档无法写入。
	ErrDiskSpace = errors.New("backup: archive write failed")
	// ErrRestoreInProgress indicates a restore currently owns the server directory.
	// ErrRestoreInProgress 表示恢复操作正在占用服务器目录。
	ErrRestoreInProgress = errors.New("backup: restore in progress")
	// ErrNotFound indicates the requested backup does not exist.
	// ErrNotFound 表示请求的备份不存在。
	ErrNotFound = errors.New("backup: not found")
)
