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
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/arclightx/arclightx/internal/process"
)

// fakeGate is a StateGate with a settable state
// fakeGate 是状态可设置的 StateGate
type fakeGate struct {
	mu    sync.Mutex
	state process.State
}

func (g *fakeGate) CurrentState() process.State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

func (g *fakeGate) Exclusive(fn func(process.State) error) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return fn(g.state)
}

func (g *fakeGate) set(s process.State) {
	g.mu.Lock()
	g.state = s
	g.mu.Unlock()
}

type progressLog struct {
	mu      sync.Mutex
	records []Record
}

func (p *progressLog) BackupProgress(rec Record) {
	p.mu.Lock()
	p.records = append(p.records, rec)
	p.mu.Unlock()
}

func (p *progressLog) statuses() []Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Status, 0, len(p.records))
	for _, r := range p.records {
		out = append(out, r.Status)
	}
	return out
}

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	p := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
}

// seedServerDir creates a small world, a properties file and an empty directory
// seedServerDir 创建一个小型世界、配置文件和空目录
func seedServerDir(t *testing.T, root string) {
	t.Helper()
	writeFile(t, root, "server.properties", "motd=hello\nmax-players=20\n")
	writeFile(t, root, "world/level.dat", "level-data-v1")
	writeFile(t, root, "world/region/r.0.0.mca", strings.Repeat("chunk", 4096))
	writeFile(t, root, "config/forge/common.toml", "a = 1\n")
	writeFile(t, root, "config/other.json", "{}")
	require.NoError(t, os.MkdirAll(filepath.Join(root, "world", "playerdata"), 0o755))
}

// snapshotTree returns path → content for every file and "dir" for every directory below root/paths
// snapshotTree 返回 root 下给定路径的文件内容与目录映射
func snapshotTree(t *testing.T, root string, paths ...string) map[string]string {
	t.Helper()
	out := map[string]string{}
	for _, top := range paths {
		start := filepath.Join(root, top)
		err := filepath.WalkDir(start, func(p string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			rel, _ := filepath.Rel(root, p)
			rel = filepath.ToSlash(rel)
			if d.IsDir() {
				out[rel] = "dir"
				return nil
			}
			b, err := os.ReadFile(p)
			if err != nil {
				return err
			}
			out[rel] = string(b)
			return nil
		})
		require.NoError(t, err)
	}
	return out
}

type testEnv struct {
	engine    *Engine
	gate      *fakeGate
	repo      *Repository
	progress  *progressLog
	serverDir string
	backupDir string
}

func newTestEngine(t *testing.T) *testEnv {
	t.Helper()
	return newTestEngineAt(t, "")
}

// newTestEngineAt places the backup directory at backupRel inside the server directory,
// or in a separate temp directory when backupRel is empty
// newTestEngineAt 将备份目录放在服务器目录内的 backupRel 处，为空时使用独立临时目录
func newTestEngineAt(t *testing.T, backupRel string) *testEnv {
	t.Helper()
	db, cleanup := setupTestDB(t)
	t.Cleanup(cleanup)

	serverDir := t.TempDir()
	seedServerDir(t, serverDir)
	backupDir := filepath.Join(t.TempDir(), "backups")
	if backupRel != "" {
		backupDir = filepath.Join(serverDir, filepath.FromSlash(backupRel))
	}

	gate := &fakeGate{state: process.StateStopped}
	repo := NewRepository(db)
	engine, err := NewEngine(Config{
		ServerName: "survival",
		ServerDir:  serverDir,
		BackupDir:  backupDir,
		AllowList:  []string{"config/**/*.toml"},
	}, gate, repo, zap.NewNop())
	require.NoError(t, err)

	progress := &progressLog{}
	engine.SetObserver(progress)

	return &testEnv{
		engine:    engine,
		gate:      gate,
		repo:      repo,
		progress:  progress,
		serverDir: serverDir,
		backupDir: backupDir,
	}
}

func tmpFiles(t *testing.T, dir string) []string {
	t.Helper()
	items, err := os.ReadDir(dir)
	require.NoError(t, err)
	var out []string
	for _, it := range items {
		if strings.HasSuffix(it.Name(), ".tmp") {
			out = append(out, it.Name())
		}
	}
	return out
}

func TestNewEngine_MissingServerDir(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	_, err := NewEngine(Config{ServerDir: filepath.Join(t.TempDir(), "missing")},
		&fakeGate{state: process.StateStopped}, NewRepository(db), nil)
	assert.ErrorIs(t, err, ErrIO)
}

func TestEngine_DefaultManifest(t *testing.T) {
	env := newTestEngine(t)
	assert.Equal(t, []string{"world", "server.properties", "config/**/*.toml"}, env.engine.DefaultManifest())
}

func TestEngine_CreateBackup(t *testing.T) {
	env := newTestEngine(t)
	ctx := context.Background()

	rec, err := env.engine.CreateBackup(ctx, nil)
	require.NoError(t, err)

	assert.Equal(t, StatusComplete, rec.Status)
	assert.False(t, rec.InconsistentSnapshot)
	assert.Equal(t, process.StateStopped, rec.ServerState)
	assert.Equal(t, Manifest{"config/forge/common.toml", "server.properties", "world"}, rec.Manifest)
	assert.Greater(t, rec.SizeBytes, int64(0))
	assert.Equal(t, rec.TotalBytes, rec.BytesDone)
	assert.NotNil(t, rec.CompletedAt)
	assert.Equal(t, env.backupDir, filepath.Dir(rec.ArchivePath))
	assert.True(t, strings.HasPrefix(filepath.Base(rec.ArchivePath), "backup-"))
	assert.Empty(t, tmpFiles(t, env.backupDir))

	zr, err := zip.OpenReader(rec.ArchivePath)
	require.NoError(t, err)
	defer zr.Close()
	names := map[string]bool{}
	for _, f := range zr.File {
		names[f.Name] = true
	}
	assert.True(t, names["world/level.dat"])
	assert.True(t, names["world/region/r.0.0.mca"])
	assert.True(t, names["world/playerdata/"], "empty directories are archived")
	assert.True(t, names["config/forge/common.toml"])
	assert.False(t, names["config/other.json"], "allow-list pattern only matches toml files")

	stored, err := env.repo.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusComplete, stored.Status)

	statuses := env.progress.statuses()
	require.NotEmpty(t, statuses)
	assert.Equal(t, StatusInProgress, statuses[0])
	assert.Equal(t, StatusComplete, statuses[len(statuses)-1])
}

func TestEngine_RoundTrip(t *testing.T) {
	env := newTestEngine(t)
	ctx := context.Background()

	manifest := []string{"world", "server.properties"}
	before := snapshotTree(t, env.serverDir, manifest...)

	rec, err := env.engine.CreateBackup(ctx, manifest)
	require.NoError(t, err)

	writeFile(t, env.serverDir, "world/level.dat", "corrupted")
	writeFile(t, env.serverDir, "server.properties", "motd=changed\n")
	require.NoError(t, os.RemoveAll(filepath.Join(env.serverDir, "world", "region")))
	require.NoError(t, os.RemoveAll(filepath.Join(env.serverDir, "world", "playerdata")))

	require.NoError(t, env.engine.RestoreBackup(ctx, rec.ID))
	assert.Equal(t, before, snapshotTree(t, env.serverDir, manifest...))

	// restoring by path works as well
	writeFile(t, env.serverDir, "world/level.dat", "corrupted again")
	require.NoError(t, env.engine.RestoreBackup(ctx, filepath.Base(rec.ArchivePath)))
	assert.Equal(t, before, snapshotTree(t, env.serverDir, manifest...))

	items, err := os.ReadDir(env.backupDir)
	require.NoError(t, err)
	for _, it := range items {
		assert.False(t, strings.HasPrefix(it.Name(), safetyPrefix), "safety copy %s left behind", it.Name())
	}
}

func TestEngine_BackupWhileRunning(t *testing.T) {
	env := newTestEngine(t)
	env.gate.set(process.StateRunning)

	rec, err := env.engine.CreateBackup(context.Background(), []string{"world"})
	require.NoError(t, err)
	assert.Equal(t, StatusComplete, rec.Status)
	assert.True(t, rec.InconsistentSnapshot)
	assert.Equal(t, process.StateRunning, rec.ServerState)
}

func TestEngine_RestoreRequiresStoppedServer(t *testing.T) {
	env := newTestEngine(t)
	ctx := context.Background()

	rec, err := env.engine.CreateBackup(ctx, []string{"world"})
	require.NoError(t, err)
	writeFile(t, env.serverDir, "world/level.dat", "live-data")
	before := snapshotTree(t, env.serverDir, "world", "server.properties")

	for _, state := range []process.State{process.StateStarting, process.StateRunning, process.StateStopping, process.StateCrashed} {
		env.gate.set(state)
		err := env.engine.RestoreBackup(ctx, rec.ID)
		assert.ErrorIs(t, err, ErrServerRunning, "state %s", state)
		assert.Equal(t, before, snapshotTree(t, env.serverDir, "world", "server.properties"))

		// the state is checked before the reference is looked up
		err = env.engine.RestoreBackup(ctx, "no-such-backup")
		assert.ErrorIs(t, err, ErrServerRunning, "state %s", state)
		assert.NotErrorIs(t, err, ErrNotFound)
	}
}

func TestEngine_BackupDirInsideServerDir(t *testing.T) {
	env := newTestEngineAt(t, "backups")
	ctx := context.Background()

	first, err := env.engine.CreateBackup(ctx, []string{"world"})
	require.NoError(t, err)

	for _, manifest := range [][]string{{"*"}, {"."}, {"world", "backups/**"}} {
		rec, err := env.engine.CreateBackup(ctx, manifest)
		require.NoError(t, err, "manifest %v", manifest)
		for _, top := range rec.Manifest {
			assert.False(t, underDir(top, "backups"), "manifest %v recorded %s", manifest, top)
		}

		zr, err := zip.OpenReader(rec.ArchivePath)
		require.NoError(t, err)
		for _, f := range zr.File {
			assert.False(t, strings.HasPrefix(f.Name, "backups/"), "manifest %v archived %s", manifest, f.Name)
		}
		require.NoError(t, zr.Close())
	}

	all, err := env.engine.CreateBackup(ctx, []string{"*"})
	require.NoError(t, err)
	assert.Equal(t, Manifest{"config", "server.properties", "world"}, all.Manifest)

	before := snapshotTree(t, env.serverDir, "world", "server.properties", "config")
	writeFile(t, env.serverDir, "world/level.dat", "corrupted")
	require.NoError(t, env.engine.RestoreBackup(ctx, all.ID))
	assert.Equal(t, before, snapshotTree(t, env.serverDir, "world", "server.properties", "config"))

	// earlier archives survive the restore
	// 之前的归档在恢复后仍然存在
	_, err = os.Stat(first.ArchivePath)
	assert.NoError(t, err)
	_, err = os.Stat(all.ArchivePath)
	assert.NoError(t, err)
	items, err := os.ReadDir(env.backupDir)
	require.NoError(t, err)
	for _, it := range items {
		assert.False(t, strings.HasPrefix(it.Name(), safetyPrefix), "safety copy %s left behind", it.Name())
	}
}

func TestEngine_RestoreRollbackKeepsNestedBackupDir(t *testing.T) {
	env := newTestEngineAt(t, "data/backups")
	writeFile(t, env.serverDir, "data/keep.txt", "original")
	before := snapshotTree(t, env.serverDir, "data/keep.txt")

	// data/keep.txt becomes a parent directory in the second entry, so extraction fails
	archive := filepath.Join(env.backupDir, "backup-broken.zip")
	writeZip(t, archive, [][2]string{
		{"data/keep.txt", "overwritten"},
		{"data/keep.txt/child", "never written"},
		{"data/backups/injected.zip", "ignored"},
	})

	err := env.engine.RestoreBackup(context.Background(), archive)
	require.ErrorIs(t, err, ErrIO)
	assert.Equal(t, before, snapshotTree(t, env.serverDir, "data/keep.txt"))

	_, err = os.Stat(archive)
	assert.NoError(t, err, "backup directory must survive the rollback")
	_, err = os.Stat(filepath.Join(env.backupDir, "injected.zip"))
	assert.True(t, errors.Is(err, os.ErrNotExist))
	items, err := os.ReadDir(env.backupDir)
	require.NoError(t, err)
	for _, it := range items {
		assert.False(t, strings.HasPrefix(it.Name(), safetyPrefix), "safety copy %s left behind", it.Name())
	}
}

func TestEngine_CreateBackupFailures(t *testing.T) {
	env := newTestEngine(t)
	ctx := context.Background()

	t.Run("missing literal path", func(t *testing.T) {
		rec, err := env.engine.CreateBackup(ctx, []string{"world", "does-not-exist"})
		assert.ErrorIs(t, err, ErrIO)
		require.NotNil(t, rec)
		assert.Equal(t, StatusFailed, rec.Status)
		assert.NotEmpty(t, rec.Error)

		stored, err := env.repo.Get(ctx, rec.ID)
		require.NoError(t, err)
		assert.Equal(t, StatusFailed, stored.Status)
		_, statErr := os.Stat(rec.ArchivePath)
		assert.True(t, errors.Is(statErr, os.ErrNotExist))
	})

	t.Run("escaping path", func(t *testing.T) {
		_, err := env.engine.CreateBackup(ctx, []string{"../outside"})
		assert.ErrorIs(t, err, ErrIO)
	})

	t.Run("cancelled context", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		rec, err := env.engine.CreateBackup(cctx, []string{"world"})
		require.Error(t, err)
		require.NotNil(t, rec)
		assert.Equal(t, StatusFailed, rec.Status)
	})

	assert.Empty(t, tmpFiles(t, env.backupDir))
}

func TestEngine_ListBackups(t *testing.T) {
	env := newTestEngine(t)
	ctx := context.Background()

	clock := time.Date(2024, 6, 1, 10, 0, 0, 0, time.Local)
	env.engine.now = func() time.Time { return clock }

	var ids []string
	for i := 0; i < 3; i++ {
		rec, err := env.engine.CreateBackup(ctx, []string{"server.properties"})
		require.NoError(t, err)
		ids = append(ids, rec.ID)
		clock = clock.Add(time.Minute)
	}

	records, err := env.engine.ListBackups(ctx)
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, ids[2], records[0].ID)
	assert.Equal(t, ids[1], records[1].ID)
	assert.Equal(t, ids[0], records[2].ID)
}

func TestEngine_ArchiveNameCollision(t *testing.T) {
	env := newTestEngine(t)
	fixed := time.Date(2024, 6, 1, 10, 0, 0, 0, time.Local)
	env.engine.now = func() time.Time { return fixed }

	a, err := env.engine.CreateBackup(context.Background(), []string{"server.properties"})
	require.NoError(t, err)
	b, err := env.engine.CreateBackup(context.Background(), []string{"server.properties"})
	require.NoError(t, err)
	assert.NotEqual(t, a.ArchivePath, b.ArchivePath)
}

// writeZip builds an archive from ordered name/content pairs, names ending in "/" are directories
// writeZip 按顺序由名称/内容对构建归档，以 "/" 结尾的名称为目录
func writeZip(t *testing.T, path string, entries [][2]string) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	zw := zip.NewWriter(f)
	for _, e := range entries {
		w, err := zw.Create(e[0])
		require.NoError(t, err)
		if !strings.HasSuffix(e[0], "/") {
			_, err = w.Write([]byte(e[1]))
			require.NoError(t, err)
		}
	}
	require.NoError(t, zw.Close())
	require.NoError(t, f.Close())
}

func TestEngine_RestoreRollback(t *testing.T) {
	env := newTestEngine(t)
	before := snapshotTree(t, env.serverDir, "world", "server.properties")

	// the second entry collides with the existing world directory, so extraction fails midway
	archive := filepath.Join(env.backupDir, "backup-broken.zip")
	writeZip(t, archive, [][2]string{
		{"server.properties", "motd=overwritten\n"},
		{"world", "not a directory"},
		{"world/level.dat", "never written"},
	})

	err := env.engine.RestoreBackup(context.Background(), archive)
	require.ErrorIs(t, err, ErrIO)
	assert.Equal(t, before, snapshotTree(t, env.serverDir, "world", "server.properties"))
	assert.NoError(t, env.engine.CheckStartAllowed())
}

func TestEngine_RestoreRejectsZipSlip(t *testing.T) {
	env := newTestEngine(t)
	before := snapshotTree(t, env.serverDir, "world", "server.properties")

	archive := filepath.Join(env.backupDir, "backup-evil.zip")
	writeZip(t, archive, [][2]string{
		{"server.properties", "motd=evil\n"},
		{"../escaped.txt", "outside"},
	})

	err := env.engine.RestoreBackup(context.Background(), archive)
	require.ErrorIs(t, err, ErrIO)
	assert.Equal(t, before, snapshotTree(t, env.serverDir, "world", "server.properties"))
	_, statErr := os.Stat(filepath.Join(filepath.Dir(env.serverDir), "escaped.txt"))
	assert.True(t, errors.Is(statErr, os.ErrNotExist))
}

func TestEngine_RestoreCorruptArchive(t *testing.T) {
	env := newTestEngine(t)
	archive := filepath.Join(env.backupDir, "backup-corrupt.zip")
	require.NoError(t, os.WriteFile(archive, []byte("definitely not a zip"), 0o644))

	err := env.engine.RestoreBackup(context.Background(), archive)
	assert.ErrorIs(t, err, ErrIO)
}

func TestEngine_RestoreNotFound(t *testing.T) {
	env := newTestEngine(t)
	err := env.engine.RestoreBackup(context.Background(), "no-such-backup")
	assert.ErrorIs(t, err, ErrNotFound)
}

// blockingGate runs a hook inside Exclusive so the test can observe the restore flag
// blockingGate 在 Exclusive 中执行钩子以便测试观察恢复标志
type blockingGate struct {
	fakeGate
	after func()
}

func (g *blockingGate) Exclusive(fn func(process.State) error) error {
	err := g.fakeGate.Exclusive(fn)
	if err == nil && g.after != nil {
		g.after()
	}
	return err
}

func TestEngine_StartGuardDuringRestore(t *testing.T) {
	env := newTestEngine(t)
	ctx := context.Background()

	rec, err := env.engine.CreateBackup(ctx, []string{"world"})
	require.NoError(t, err)

	var duringRestore error
	gate := &blockingGate{fakeGate: fakeGate{state: process.StateStopped}}
	gate.after = func() { duringRestore = env.engine.CheckStartAllowed() }
	env.engine.gate = gate

	require.NoError(t, env.engine.RestoreBackup(ctx, rec.ID))
	assert.ErrorIs(t, duringRestore, ErrRestoreInProgress)
	assert.NoError(t, env.engine.CheckStartAllowed())
}

func TestEngine_Prune(t *testing.T) {
	env := newTestEngine(t)
	ctx := context.Background()

	clock := time.Date(2024, 6, 1, 10, 0, 0, 0, time.Local)
	env.engine.now = func() time.Time { return clock }

	var created []*Record
	for i := 0; i < 4; i++ {
		rec, err := env.engine.CreateBackup(ctx, []string{"server.properties"})
		require.NoError(t, err)
		created = append(created, rec)
		clock = clock.Add(time.Hour)
	}
	failed, err := env.engine.CreateBackup(ctx, []string{"missing"})
	require.Error(t, err)

	removed, err := env.engine.Prune(ctx, 2)
	require.NoError(t, err)
	require.Len(t, removed, 2)

	var removedIDs []string
	for _, r := range removed {
		removedIDs = append(removedIDs, r.ID)
		_, statErr := os.Stat(r.ArchivePath)
		assert.True(t, errors.Is(statErr, os.ErrNotExist))
	}
	sort.Strings(removedIDs)
	want := []string{created[0].ID, created[1].ID}
	sort.Strings(want)
	assert.Equal(t, want, removedIDs)

	records, err := env.engine.ListBackups(ctx)
	require.NoError(t, err)
	assert.Len(t, records, 3)
	_, err = env.repo.Get(ctx, failed.ID)
	assert.NoError(t, err, "failed records are retained")
}

func TestEngine_Reconcile(t *testing.T) {
	env := newTestEngine(t)
	ctx := context.Background()

	stale := &Record{
		ID:          "stale-record",
		ArchivePath: filepath.Join(env.backupDir, "backup-gone.zip"),
		SnapshotAt:  time.Now().UTC(),
		Status:      StatusInProgress,
	}
	require.NoError(t, env.repo.Create(ctx, stale))

	orphan := filepath.Join(env.backupDir, "backup-20240102-030405.000.zip")
	writeZip(t, orphan, [][2]string{
		{"world/", ""},
		{"world/level.dat", "orphan"},
		{"server.properties", "motd=orphan\n"},
	})
	tmp := filepath.Join(env.backupDir, ".backup-20240102-030405.000.zip.tmp")
	require.NoError(t, os.WriteFile(tmp, []byte("partial"), 0o644))

	imported, err := env.engine.Reconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, imported)

	got, err := env.repo.Get(ctx, stale.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, got.Status)

	rec, err := env.repo.GetByArchivePath(ctx, orphan)
	require.NoError(t, err)
	assert.Equal(t, StatusComplete, rec.Status)
	assert.Equal(t, Manifest{"server.properties", "world"}, rec.Manifest)
	assert.Equal(t, time.Date(2024, 1, 2, 3, 4, 5, 0, time.Local).UTC(), rec.SnapshotAt.UTC())

	_, statErr := os.Stat(tmp)
	assert.True(t, errors.Is(statErr, os.ErrNotExist))

	// a second pass imports nothing
	imported, err = env.engine.Reconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, imported)
}
