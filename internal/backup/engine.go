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
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/arclightx/arclightx/internal/otel_trace"
	"github.com/arclightx/arclightx/internal/process"
)

const (
	// DefaultProgressInterval is the minimum gap between progress events
	// DefaultProgressInterval 是进度事件之间的最小间隔
	DefaultProgressInterval = 500 * time.Millisecond

	archivePrefix     = "backup-"
	archiveSuffix     = ".zip"
	archiveTimeLayout = "20060102-150405.000"
	safetyPrefix      = ".restore-safety-"
)

// DefaultInclude is the manifest used when none is given.
var DefaultInclude = []string{"world", "server.properties"}

// StateGate exposes the supervisor state to the engine
// StateGate 向引擎暴露 Supervisor 的状态
type StateGate interface {
	CurrentState() process.State
	// Exclusive runs fn while no lifecycle transition can begin
	// Exclusive 在无法开始任何生命周期转换时执行 fn
	Exclusive(fn func(process.State) error) error
}

// ProgressObserver receives record snapshots while a backup runs. Implementations must not block.
// ProgressObserver 在备份过程中接收记录快照，实现不得阻塞。
type ProgressObserver interface {
	BackupProgress(rec Record)
}

// Config contains the engine settings
// Config 包含引擎配置
type Config struct {
	ServerName string
	ServerDir  string
	BackupDir  string

	// Include is the default manifest, AllowList adds glob patterns to it
	// Include 是默认清单，AllowList 向其追加通配模式
	Include   []string
	AllowList []string

	ProgressInterval time.Duration
}

// Engine creates, restores and lists backups of one server directory
// Engine 创建、恢复并列出单个服务器目录的备份
type Engine struct {
	cfg      Config
	gate     StateGate
	repo     *Repository
	logger   *zap.Logger
	observer atomic.Value // observerBox

	// dirMu excludes backups from each other and from restores
	// dirMu 使备份之间以及备份与恢复之间互斥
	dirMu     sync.Mutex
	restoring atomic.Bool

	// backupRel is BackupDir relative to ServerDir when it lives inside it
	// backupRel 为 BackupDir 位于 ServerDir 内时的相对路径
	backupRel string

	now func() time.Time
}

type observerBox struct{ ProgressObserver }

type noopObserver struct{}

func (noopObserver) BackupProgress(Record) {}

// NewEngine creates an Engine and makes sure the backup directory exists
// NewEngine 创建 Engine 并确保备份目录存在
func NewEngine(cfg Config, gate StateGate, repo *Repository, logger *zap.Logger) (*Engine, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if gate == nil || repo == nil {
		return nil, errors.New("backup: state gate and repository are required")
	}
	if cfg.ServerDir == "" {
		return nil, fmt.Errorf("%w: server directory is empty", ErrIO)
	}
	info, err := os.Stat(cfg.ServerDir)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIO, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s is not a directory", ErrIO, cfg.ServerDir)
	}
	if cfg.BackupDir == "" {
		cfg.BackupDir = filepath.Join(cfg.ServerDir, "backups")
	}
	if err := os.MkdirAll(cfg.BackupDir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIO, err)
	}
	if len(cfg.Include) == 0 {
		cfg.Include = append([]string(nil), DefaultInclude...)
	}
	if cfg.ProgressInterval <= 0 {
		cfg.ProgressInterval = DefaultProgressInterval
	}

	e := &Engine{
		cfg:    cfg,
		gate:   gate,
		repo:   repo,
		logger: logger.With(zap.String("component", "backup")),
		now:    time.Now,

		backupRel: relativeInside(cfg.ServerDir, cfg.BackupDir),
	}
	e.observer.Store(observerBox{noopObserver{}})
	return e, nil
}

// SetObserver sets the progress observer.
// SetObserver 设置进度观察者。
func (e *Engine) SetObserver(o ProgressObserver) {
	if o == nil {
		o = noopObserver{}
	}
	e.observer.Store(observerBox{o})
}

func (e *Engine) publish(rec *Record) {
	e.observer.Load().(observerBox).BackupProgress(*rec)
}

// BackupDir returns the directory holding the archives.
func (e *Engine) BackupDir() string { return e.cfg.BackupDir }

// DefaultManifest returns Include followed by AllowList.
// DefaultManifest 返回 Include 与 AllowList 的组合。
func (e *Engine) DefaultManifest() []string {
	out := make([]string, 0, len(e.cfg.Include)+len(e.cfg.AllowList))
	out = append(out, e.cfg.Include...)
	return append(out, e.cfg.AllowList...)
}

// CheckStartAllowed vetoes server starts while a restore is running
// CheckStartAllowed 在恢复过程中否决服务器启动
func (e *Engine) CheckStartAllowed() error {
	if e.restoring.Load() {
		return ErrRestoreInProgress
	}
	return nil
}

func (e *Engine) archivePath(at time.Time) string {
	base := archivePrefix + at.Format(archiveTimeLayout)
	p := filepath.Join(e.cfg.BackupDir, base+archiveSuffix)
	for i := 1; ; i++ {
		if _, err := os.Stat(p); errors.Is(err, os.ErrNotExist) {
			return p
		}
		p = filepath.Join(e.cfg.BackupDir, fmt.Sprintf("%s-%d%s", base, i, archiveSuffix))
	}
}

// CreateBackup archives manifestPaths (or the default manifest) atomically
// CreateBackup 原子地归档 manifestPaths（或默认清单）
//
// The archive is written to a temporary file and renamed into place. On failure the
// temporary file is removed and a Failed record is kept and returned along with the error.
// 归档先写入临时文件再重命名到位。失败时删除临时文件，保留 Failed 记录并与错误一起返回。
func (e *Engine) CreateBackup(ctx context.Context, manifestPaths []string) (*Record, error) {
	ctx, span := otel_trace.Start(ctx, "backup.create")
	rec, err := e.createBackup(ctx, manifestPaths)
	if rec != nil {
		span.SetAttributes(
			attribute.String("backup.id", rec.ID),
			attribute.String("backup.status", string(rec.Status)),
			attribute.Int64("backup.size_bytes", rec.SizeBytes),
		)
	}
	otel_trace.End(span, err)
	return rec, err
}

func (e *Engine) createBackup(ctx context.Context, manifestPaths []string) (*Record, error) {
	if len(manifestPaths) == 0 {
		manifestPaths = e.DefaultManifest()
	}

	e.dirMu.Lock()
	defer e.dirMu.Unlock()

	state := e.gate.CurrentState()
	snapshotAt := e.now()
	rec := &Record{
		ID:                   uuid.NewString(),
		ServerName:           e.cfg.ServerName,
		ArchivePath:          e.archivePath(snapshotAt),
		SnapshotAt:           snapshotAt.UTC(),
		Manifest:             Manifest(manifestPaths),
		Status:               StatusInProgress,
		ServerState:          state,
		InconsistentSnapshot: state != process.StateStopped,
	}
	// records outlive the caller's context so a cancelled backup still ends as Failed
	// 记录的生命周期长于调用方上下文，取消的备份仍会以 Failed 结束
	dbCtx := context.WithoutCancel(ctx)
	if err := e.repo.Create(dbCtx, rec); err != nil {
		return nil, fmt.Errorf("backup: save record: %w", err)
	}

	log := e.logger.With(zap.String("backup_id", rec.ID), zap.String("archive", rec.ArchivePath))
	if rec.InconsistentSnapshot {
		log.Warn("backing up while the server is not stopped, snapshot may be inconsistent", zap.String("state", string(state)))
	}

	manifest, entries, skipped, err := resolveManifest(e.cfg.ServerDir, manifestPaths, e.backupRel)
	if err != nil {
		return e.fail(dbCtx, rec, "", err)
	}
	for _, p := range skipped {
		log.Warn("manifest path skipped", zap.String("path", p))
	}
	rec.Manifest = Manifest(manifest)
	rec.TotalBytes = totalSize(entries)
	e.publish(rec)

	tmp := filepath.Join(e.cfg.BackupDir, "."+filepath.Base(rec.ArchivePath)+".tmp")
	limiter := rate.NewLimiter(rate.Every(e.cfg.ProgressInterval), 1)
	var done int64
	onWrite := func(n int64) {
		done += n
		if limiter.Allow() {
			rec.BytesDone = done
			e.publish(rec)
		}
	}

	if err := writeArchive(ctx, tmp, entries, onWrite); err != nil {
		return e.fail(dbCtx, rec, tmp, err)
	}
	if err := os.Rename(tmp, rec.ArchivePath); err != nil {
		return e.fail(dbCtx, rec, tmp, fmt.Errorf("%w: %v", ErrDiskSpace, err))
	}

	info, err := os.Stat(rec.ArchivePath)
	if err != nil {
		return e.fail(dbCtx, rec, rec.ArchivePath, fmt.Errorf("%w: %v", ErrIO, err))
	}
	if after := e.gate.CurrentState(); after != process.StateStopped && !rec.InconsistentSnapshot {
		rec.InconsistentSnapshot = true
		log.Warn("server left the stopped state during the backup", zap.String("state", string(after)))
	}

	completed := e.now()
	rec.SizeBytes = info.Size()
	rec.BytesDone = rec.TotalBytes
	rec.Status = StatusComplete
	rec.CompletedAt = &completed
	if err := e.repo.Save(dbCtx, rec); err != nil {
		return rec, fmt.Errorf("backup: save record: %w", err)
	}
	e.publish(rec)

	log.Info("backup completed",
		zap.Int64("size_bytes", rec.SizeBytes),
		zap.Int("paths", len(rec.Manifest)),
		zap.Bool("inconsistent_snapshot", rec.InconsistentSnapshot))
	return rec, nil
}

// fail removes the partial file and keeps a Failed record
// fail 删除部分写入的文件并保留 Failed 记录
func (e *Engine) fail(ctx context.Context, rec *Record, partial string, cause error) (*Record, error) {
	if partial != "" {
		if err := os.Remove(partial); err != nil && !errors.Is(err, os.ErrNotExist) {
			e.logger.Error("failed to remove partial archive", zap.String("path", partial), zap.Error(err))
		}
	}
	completed := e.now()
	rec.Status = StatusFailed
	rec.Error = cause.Error()
	rec.CompletedAt = &completed
	if err := e.repo.Save(ctx, rec); err != nil {
		e.logger.Error("failed to save failed backup record", zap.String("backup_id", rec.ID), zap.Error(err))
	}
	e.publish(rec)
	e.logger.Error("backup failed", zap.String("backup_id", rec.ID), zap.Error(cause))
	return rec, cause
}

// ResolveArchive accepts a record ID or an archive path and returns the archive path
// ResolveArchive 接受记录 ID 或归档路径并返回归档路径
func (e *Engine) ResolveArchive(ctx context.Context, idOrPath string) (string, error) {
	if idOrPath == "" {
		return "", fmt.Errorf("%w: empty backup reference", ErrNotFound)
	}
	if rec, err := e.repo.Get(ctx, idOrPath); err == nil {
		if rec.Status != StatusComplete {
			return "", fmt.Errorf("%w: backup %s is %s", ErrNotFound, rec.ID, rec.Status)
		}
		idOrPath = rec.ArchivePath
	} else if !errors.Is(err, ErrNotFound) {
		return "", err
	}

	p := idOrPath
	if !filepath.IsAbs(p) {
		p = filepath.Join(e.cfg.BackupDir, p)
	}
	info, err := os.Stat(p)
	if err != nil || !info.Mode().IsRegular() {
		return "", fmt.Errorf("%w: %s", ErrNotFound, idOrPath)
	}
	return p, nil
}

// RestoreBackup extracts an archive into the server directory
// RestoreBackup 将归档解压到服务器目录
//
// The server must be Stopped. Every top-level path the archive touches is copied aside
// first; if extraction fails the directory is rolled back from that copy.
// 服务器必须处于 Stopped 状态。归档涉及的每个顶层路径会先被复制备份，解压失败时从该副本回滚。
func (e *Engine) RestoreBackup(ctx context.Context, idOrPath string) error {
	ctx, span := otel_trace.Start(ctx, "backup.restore")
	span.SetAttributes(attribute.String("backup.ref", idOrPath))
	err := e.restoreBackup(ctx, idOrPath)
	otel_trace.End(span, err)
	return err
}

func (e *Engine) restoreBackup(ctx context.Context, idOrPath string) error {
	if state := e.gate.CurrentState(); state != process.StateStopped {
		return fmt.Errorf("%w: server is %s", ErrServerRunning, state)
	}
	archive, err := e.ResolveArchive(ctx, idOrPath)
	if err != nil {
		return err
	}

	e.dirMu.Lock()
	defer e.dirMu.Unlock()

	err = e.gate.Exclusive(func(state process.State) error {
		if state != process.StateStopped {
			return fmt.Errorf("%w: server is %s", ErrServerRunning, state)
		}
		if !e.restoring.CompareAndSwap(false, true) {
			return ErrRestoreInProgress
		}
		return nil
	})
	if err != nil {
		return err
	}
	defer e.restoring.Store(false)

	log := e.logger.With(zap.String("archive", archive))
	log.Info("restoring backup")

	zr, err := zip.OpenReader(archive)
	if err != nil {
		return fmt.Errorf("%w: open archive: %v", ErrIO, err)
	}
	defer zr.Close()

	tops, err := archiveTops(&zr.Reader)
	if err != nil {
		return err
	}
	tops = slices.DeleteFunc(tops, func(top string) bool { return underDir(top, e.backupRel) })

	safety := filepath.Join(e.cfg.BackupDir, safetyPrefix+e.now().Format(archiveTimeLayout))
	absent, err := e.makeSafetyCopy(tops, safety)
	if err != nil {
		if rmErr := os.RemoveAll(safety); rmErr != nil {
			log.Error("failed to remove safety copy", zap.String("path", safety), zap.Error(rmErr))
		}
		return fmt.Errorf("%w: safety copy: %v", ErrIO, err)
	}

	if err := extractArchive(ctx, &zr.Reader, e.cfg.ServerDir, e.backupRel); err != nil {
		log.Error("restore failed, rolling back", zap.Error(err))
		if rbErr := e.rollback(tops, absent, safety); rbErr != nil {
			log.Error("rollback failed, safety copy kept", zap.String("safety_copy", safety), zap.Error(rbErr))
			return errors.Join(
				fmt.Errorf("%w: extract: %v", ErrIO, err),
				fmt.Errorf("rollback failed, original files kept in %s: %w", safety, rbErr),
			)
		}
		_ = os.RemoveAll(safety)
		return fmt.Errorf("%w: extract: %v (directory rolled back)", ErrIO, err)
	}

	if err := os.RemoveAll(safety); err != nil {
		log.Warn("failed to remove safety copy", zap.String("path", safety), zap.Error(err))
	}
	log.Info("backup restored", zap.Strings("paths", tops))
	return nil
}

// makeSafetyCopy copies every existing top-level path into dir and
// returns the paths that did not exist before the restore
// makeSafetyCopy 将所有已存在的顶层路径复制到 dir，并返回恢复前不存在的路径
func (e *Engine) makeSafetyCopy(tops []string, dir string) (map[string]bool, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, err
	}
	absent := map[string]bool{}
	for _, top := range tops {
		src := filepath.Join(e.cfg.ServerDir, top)
		if _, err := os.Lstat(src); errors.Is(err, os.ErrNotExist) {
			absent[top] = true
			continue
		} else if err != nil {
			return nil, err
		}
		if err := copyTree(src, filepath.Join(dir, top), e.keepPath(top)); err != nil {
			return nil, err
		}
	}
	return absent, nil
}

func (e *Engine) rollback(tops []string, absent map[string]bool, safety string) error {
	var errs []error
	for _, top := range tops {
		dst := filepath.Join(e.cfg.ServerDir, top)
		remove := os.RemoveAll
		if keep := e.keepPath(top); keep != "" {
			remove = func(p string) error { return removeTreeExcept(p, keep) }
		}
		if err := remove(dst); err != nil {
			errs = append(errs, err)
			continue
		}
		if absent[top] {
			continue
		}
		if err := moveTree(filepath.Join(safety, top), dst); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// keepPath returns the backup directory when it lies below top, so restores leave it alone
// keepPath 在备份目录位于 top 之下时返回其路径，恢复时不触碰该目录
func (e *Engine) keepPath(top string) string {
	if !containsDir(top, e.backupRel) {
		return ""
	}
	return filepath.Join(e.cfg.ServerDir, filepath.FromSlash(e.backupRel))
}

// ListBackups returns records ordered by snapshot time, newest first
// ListBackups 按快照时间倒序返回备份记录
func (e *Engine) ListBackups(ctx context.Context) ([]*Record, error) {
	return e.repo.List(ctx, nil)
}

// Reconcile fails interrupted records, removes stray temporary files and
// imports archives that have no record
// Reconcile 将中断的记录标记为失败，清理残留临时文件，并导入没有记录的归档
func (e *Engine) Reconcile(ctx context.Context) (imported int, err error) {
	e.dirMu.Lock()
	defer e.dirMu.Unlock()

	if n, err := e.repo.MarkInterrupted(ctx); err != nil {
		return 0, err
	} else if n > 0 {
		e.logger.Warn("marked interrupted backups as failed", zap.Int64("count", n))
	}

	items, err := os.ReadDir(e.cfg.BackupDir)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrIO, err)
	}
	for _, item := range items {
		name := item.Name()
		full := filepath.Join(e.cfg.BackupDir, name)
		switch {
		case item.Type().IsRegular() && strings.HasPrefix(name, "."+archivePrefix) && strings.HasSuffix(name, ".tmp"):
			if err := os.Remove(full); err == nil {
				e.logger.Info("removed stale temporary archive", zap.String("path", full))
			}
		case item.Type().IsRegular() && strings.HasPrefix(name, archivePrefix) && strings.HasSuffix(name, archiveSuffix):
			if _, err := e.repo.GetByArchivePath(ctx, full); err == nil {
				continue
			} else if !errors.Is(err, ErrNotFound) {
				return imported, err
			}
			rec, err := e.importArchive(full, item)
			if err != nil {
				e.logger.Warn("skipping unreadable archive", zap.String("path", full), zap.Error(err))
				continue
			}
			if err := e.repo.Create(ctx, rec); err != nil {
				return imported, err
			}
			imported++
		}
	}
	return imported, nil
}

func (e *Engine) importArchive(path string, item os.DirEntry) (*Record, error) {
	info, err := item.Info()
	if err != nil {
		return nil, err
	}
	zr, err := zip.OpenReader(path)
	if err != nil {
		return nil, err
	}
	defer zr.Close()
	tops, err := archiveTops(&zr.Reader)
	if err != nil {
		return nil, err
	}
	var total int64
	for _, f := range zr.File {
		total += int64(f.UncompressedSize64)
	}

	stamp := strings.TrimSuffix(strings.TrimPrefix(filepath.Base(path), archivePrefix), archiveSuffix)
	snapshotAt, err := time.ParseInLocation(archiveTimeLayout, stamp, time.Local)
	if err != nil {
		snapshotAt = info.ModTime()
	}
	completed := info.ModTime()
	return &Record{
		ID:          uuid.NewString(),
		ServerName:  e.cfg.ServerName,
		ArchivePath: path,
		SnapshotAt:  snapshotAt.UTC(),
		Manifest:    Manifest(tops),
		SizeBytes:   info.Size(),
		TotalBytes:  total,
		BytesDone:   total,
		Status:      StatusComplete,
		ServerState: process.StateStopped,
		CompletedAt: &completed,
	}, nil
}

// Prune deletes the oldest complete backups beyond keepLast. Failed records are kept.
// Prune 删除超出 keepLast 的最旧的已完成备份，失败记录会被保留。
func (e *Engine) Prune(ctx context.Context, keepLast int) ([]*Record, error) {
	if keepLast <= 0 {
		return nil, nil
	}
	e.dirMu.Lock()
	defer e.dirMu.Unlock()

	records, err := e.repo.List(ctx, &ListFilter{Status: StatusComplete})
	if err != nil {
		return nil, err
	}
	if len(records) <= keepLast {
		return nil, nil
	}

	var removed []*Record
	for _, rec := range records[keepLast:] {
		if err := os.Remove(rec.ArchivePath); err != nil && !errors.Is(err, os.ErrNotExist) {
			return removed, fmt.Errorf("%w: %v", ErrIO, err)
		}
		if err := e.repo.Delete(ctx, rec.ID); err != nil {
			return removed, err
		}
		removed = append(removed, rec)
		e.logger.Info("pruned backup", zap.String("backup_id", rec.ID), zap.String("archive", rec.ArchivePath))
	}
	return removed, nil
}
