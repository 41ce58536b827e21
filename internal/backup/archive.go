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
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// entry is one file or directory to archive
// entry 是待归档的一个文件或目录
type entry struct {
	name string // slash separated, relative to the server dir
	abs  string
	info fs.FileInfo
}

func (e entry) isDir() bool { return e.info.IsDir() }

// isGlob reports whether p uses doublestar pattern syntax.
func isGlob(p string) bool {
	return strings.ContainsAny(p, "*?[{")
}

// cleanRelative normalizes a manifest path and rejects anything outside root
// cleanRelative 规范化清单路径并拒绝任何超出根目录的路径
func cleanRelative(p string) (string, error) {
	p = strings.TrimSpace(filepath.ToSlash(p))
	if p == "" {
		return "", fmt.Errorf("%w: empty manifest path", ErrIO)
	}
	if path.IsAbs(p) || filepath.IsAbs(p) {
		return "", fmt.Errorf("%w: manifest path %q must be relative to the server directory", ErrIO, p)
	}
	clean := path.Clean(p)
	if !filepath.IsLocal(filepath.FromSlash(clean)) {
		return "", fmt.Errorf("%w: manifest path %q escapes the server directory", ErrIO, p)
	}
	return clean, nil
}

// resolveManifest expands literal paths and glob patterns into the manifest and the entry list
// resolveManifest 将字面路径与通配模式展开为清单和条目列表
//
// Literal paths must exist. Patterns without matches are reported in skipped.
// exclude (slash path relative to root) and everything below it never enters the archive.
// 字面路径必须存在，没有匹配的模式会在 skipped 中返回。exclude 及其子路径不会进入归档。
func resolveManifest(root string, paths []string, exclude string) (manifest []string, entries []entry, skipped []string, err error) {
	seen := map[string]bool{}
	var tops []string
	for _, p := range paths {
		clean, err := cleanRelative(p)
		if err != nil {
			return nil, nil, nil, err
		}
		if isGlob(clean) {
			if !doublestar.ValidatePattern(clean) {
				return nil, nil, nil, fmt.Errorf("%w: invalid pattern %q", ErrIO, clean)
			}
			matches, err := doublestar.Glob(os.DirFS(root), clean)
			if err != nil {
				return nil, nil, nil, fmt.Errorf("%w: glob %q: %v", ErrIO, clean, err)
			}
			if len(matches) == 0 {
				skipped = append(skipped, clean)
			}
			for _, m := range matches {
				if underDir(m, exclude) {
					continue
				}
				if !seen[m] {
					seen[m] = true
					tops = append(tops, m)
				}
			}
			continue
		}
		if _, err := os.Stat(filepath.Join(root, filepath.FromSlash(clean))); err != nil {
			return nil, nil, nil, fmt.Errorf("%w: %v", ErrIO, err)
		}
		if underDir(clean, exclude) {
			skipped = append(skipped, clean)
			continue
		}
		if !seen[clean] {
			seen[clean] = true
			tops = append(tops, clean)
		}
	}

	byName := map[string]entry{}
	for _, top := range tops {
		if err := collect(root, top, exclude, byName); err != nil {
			return nil, nil, nil, err
		}
	}

	entries = make([]entry, 0, len(byName))
	for _, e := range byName {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].name < entries[j].name })
	sort.Strings(tops)
	return tops, entries, skipped, nil
}

// collect walks top and adds every regular file and directory below it
// collect 遍历 top 并添加其下所有普通文件和目录
func collect(root, top, exclude string, out map[string]entry) error {
	start := filepath.Join(root, filepath.FromSlash(top))
	return filepath.WalkDir(start, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return fmt.Errorf("%w: %v", ErrIO, walkErr)
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrIO, err)
		}
		name := filepath.ToSlash(rel)
		if name == "." {
			return nil
		}
		if underDir(name, exclude) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		info, err := os.Stat(p) // follows symlinks
		if err != nil {
			return fmt.Errorf("%w: %v", ErrIO, err)
		}
		switch {
		case info.Mode().IsRegular():
		case info.IsDir():
			if d.Type()&fs.ModeSymlink != 0 {
				// Do not follow directory links / 不跟随目录链接
				return nil
			}
		default:
			return nil
		}
		out[name] = entry{name: name, abs: p, info: info}
		return nil
	})
}

// relativeInside returns dir as a slash path relative to root, or "" when dir is not strictly below root
// relativeInside 返回 dir 相对 root 的斜杠路径，dir 不在 root 之下时返回空串
func relativeInside(root, dir string) string {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return ""
	}
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return ""
	}
	rel, err := filepath.Rel(absRoot, absDir)
	if err != nil || rel == "." || !filepath.IsLocal(rel) {
		return ""
	}
	return filepath.ToSlash(rel)
}

// underDir reports whether name is dir or lies below it; an empty dir matches nothing
// underDir 判断 name 是否为 dir 或位于其下，dir 为空时不匹配
func underDir(name, dir string) bool {
	if dir == "" {
		return false
	}
	return name == dir || strings.HasPrefix(name, dir+"/")
}

// containsDir reports whether dir lies strictly below top
// containsDir 判断 dir 是否位于 top 之下
func containsDir(top, dir string) bool {
	if dir == "" {
		return false
	}
	return top == "." || strings.HasPrefix(dir, top+"/")
}

func totalSize(entries []entry) int64 {
	var n int64
	for _, e := range entries {
		if !e.isDir() {
			n += e.info.Size()
		}
	}
	return n
}

// sourceReader remembers read failures so they can be told apart from write failures
// sourceReader 记录读取错误，以便与写入错误区分
type sourceReader struct {
	ctx context.Context
	r   io.Reader
	err error
}

func (s *sourceReader) Read(p []byte) (int, error) {
	if err := s.ctx.Err(); err != nil {
		s.err = err
		return 0, err
	}
	n, err := s.r.Read(p)
	if err != nil && err != io.EOF {
		s.err = err
	}
	return n, err
}

// progressWriter counts bytes written into the archive
// progressWriter 统计写入归档的字节数
type progressWriter struct {
	w       io.Writer
	onWrite func(n int64)
}

func (p *progressWriter) Write(b []byte) (int, error) {
	n, err := p.w.Write(b)
	if n > 0 && p.onWrite != nil {
		p.onWrite(int64(n))
	}
	return n, err
}

// writeArchive writes entries into a new ZIP file at dst
// writeArchive 将条目写入 dst 处的新 ZIP 文件
//
// Source failures wrap ErrIO, destination failures wrap ErrDiskSpace.
// 源文件错误包装 ErrIO，目标写入错误包装 ErrDiskSpace。
func writeArchive(ctx context.Context, dst string, entries []entry, onWrite func(n int64)) (err error) {
	f, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDiskSpace, err)
	}
	defer func() {
		if f != nil {
			f.Close()
		}
	}()

	zw := zip.NewWriter(f)
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := addEntry(ctx, zw, e, onWrite); err != nil {
			return err
		}
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("%w: %v", ErrDiskSpace, err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("%w: %v", ErrDiskSpace, err)
	}
	closeErr := f.Close()
	f = nil
	if closeErr != nil {
		return fmt.Errorf("%w: %v", ErrDiskSpace, closeErr)
	}
	return nil
}

func addEntry(ctx context.Context, zw *zip.Writer, e entry, onWrite func(n int64)) error {
	header, err := zip.FileInfoHeader(e.info)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrIO, err)
	}
	header.Name = e.name
	if e.isDir() {
		header.Name += "/"
		header.Method = zip.Store
		if _, err := zw.CreateHeader(header); err != nil {
			return fmt.Errorf("%w: %v", ErrDiskSpace, err)
		}
		return nil
	}
	header.Method = zip.Deflate

	src, err := os.Open(e.abs)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrIO, err)
	}
	defer src.Close()

	w, err := zw.CreateHeader(header)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDiskSpace, err)
	}
	reader := &sourceReader{ctx: ctx, r: src}
	if _, err := io.Copy(&progressWriter{w: w, onWrite: onWrite}, reader); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if reader.err != nil {
			return fmt.Errorf("%w: read %s: %v", ErrIO, e.name, reader.err)
		}
		return fmt.Errorf("%w: %v", ErrDiskSpace, err)
	}
	return nil
}

// archiveTops validates every entry name and returns the distinct top-level names
// archiveTops 校验所有条目名称并返回不重复的顶层名称
func archiveTops(zr *zip.Reader) ([]string, error) {
	seen := map[string]bool{}
	var tops []string
	for _, f := range zr.File {
		name := strings.TrimSuffix(f.Name, "/")
		if name == "" || strings.Contains(f.Name, `\`) || !filepath.IsLocal(filepath.FromSlash(name)) {
			return nil, fmt.Errorf("%w: archive entry %q escapes the server directory", ErrIO, f.Name)
		}
		top := strings.SplitN(path.Clean(name), "/", 2)[0]
		if !seen[top] {
			seen[top] = true
			tops = append(tops, top)
		}
	}
	sort.Strings(tops)
	return tops, nil
}

// extractArchive writes every entry below root, overwriting existing files.
// Entries under exclude are ignored.
// extractArchive 将所有条目写入 root，覆盖已有文件，忽略 exclude 下的条目
func extractArchive(ctx context.Context, zr *zip.Reader, root, exclude string) error {
	for _, f := range zr.File {
		if err := ctx.Err(); err != nil {
			return err
		}
		name := path.Clean(strings.TrimSuffix(f.Name, "/"))
		if underDir(name, exclude) {
			continue
		}
		target := filepath.Join(root, filepath.FromSlash(name))

		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
			continue
		}
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return err
		}
		if err := extractFile(f, target); err != nil {
			return fmt.Errorf("extract %s: %w", f.Name, err)
		}
	}
	return nil
}

func extractFile(f *zip.File, target string) error {
	src, err := f.Open()
	if err != nil {
		return err
	}
	defer src.Close()

	mode := f.Mode().Perm()
	if mode == 0 {
		mode = 0o644
	}
	dst, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, mode)
	if err != nil {
		return err
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		return err
	}
	if err := dst.Close(); err != nil {
		return err
	}
	if !f.Modified.IsZero() {
		_ = os.Chtimes(target, f.Modified, f.Modified)
	}
	return nil
}

// copyTree copies src (file or directory) to dst, preserving permissions
// copyTree 复制 src（文件或目录）到 dst，保留权限
//
// A non-empty skip names an absolute directory that is left out of the copy.
// skip 非空时为不复制的绝对目录路径。
func copyTree(src, dst, skip string) error {
	return filepath.WalkDir(src, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if skip != "" && p == skip {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		rel, err := filepath.Rel(src, p)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		info, err := d.Info()
		if err != nil {
			return err
		}
		switch {
		case d.IsDir():
			return os.MkdirAll(target, info.Mode().Perm()|0o700)
		case d.Type()&fs.ModeSymlink != 0:
			link, err := os.Readlink(p)
			if err != nil {
				return err
			}
			return os.Symlink(link, target)
		case info.Mode().IsRegular():
			return copyFile(p, target, info)
		default:
			return nil
		}
	})
}

func copyFile(src, dst string, info fs.FileInfo) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	return os.Chtimes(dst, info.ModTime(), info.ModTime())
}

// moveTree renames src to dst, copying when they live on different filesystems
// moveTree 将 src 重命名为 dst，跨文件系统时改为复制
func moveTree(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	}
	if err := copyTree(src, dst, ""); err != nil {
		return err
	}
	return os.RemoveAll(src)
}

// removeTreeExcept removes everything below root except keep and the directories leading to it
// removeTreeExcept 删除 root 下除 keep 及其上级目录以外的全部内容
func removeTreeExcept(root, keep string) error {
	if root == keep {
		return nil
	}
	if !strings.HasPrefix(keep, root+string(filepath.Separator)) {
		return os.RemoveAll(root)
	}
	items, err := os.ReadDir(root)
	if err != nil {
		return err
	}
	var errs []error
	for _, item := range items {
		if err := removeTreeExcept(filepath.Join(root, item.Name()), keep); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
