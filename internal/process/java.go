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

package process

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// DefaultJavaDetectTimeout bounds a `java -version` run
// DefaultJavaDetectTimeout 是执行 `java -version` 的超时时间
const DefaultJavaDetectTimeout = 5 * time.Second

var javaVersionPattern = regexp.MustCompile(`version "([^"]+)"`)

// JavaInfo describes a java runtime as reported by `java -version`
// JavaInfo 描述 `java -version` 报告的 Java 运行时
type JavaInfo struct {
	Path    string `json:"path"`
	Version string `json:"version"`
	Major   int    `json:"major"`
	// Raw is the unparsed version banner / Raw 是原始版本输出
	Raw string `json:"raw"`
}

// DetectJava runs `javaPath -version` and parses the reported version.
// Failures wrap ErrConfiguration.
// DetectJava 执行 `javaPath -version` 并解析版本，失败时包装 ErrConfiguration。
func DetectJava(ctx context.Context, javaPath string) (*JavaInfo, error) {
	if javaPath == "" {
		return nil, fmt.Errorf("%w: java path is empty", ErrConfiguration)
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, DefaultJavaDetectTimeout)
		defer cancel()
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, javaPath, "-version")
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.WaitDelay = time.Second
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("%w: %s -version: %v", ErrConfiguration, javaPath, err)
	}

	// java prints the banner on stderr, some wrappers use stdout
	// java 将版本信息输出到 stderr，部分包装脚本使用 stdout
	raw := strings.TrimSpace(stderr.String())
	if raw == "" {
		raw = strings.TrimSpace(stdout.String())
	}
	m := javaVersionPattern.FindStringSubmatch(raw)
	if m == nil {
		return nil, fmt.Errorf("%w: unrecognized %s -version output %q", ErrConfiguration, javaPath, firstLine(raw))
	}
	major, err := JavaMajor(m[1])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfiguration, err)
	}
	return &JavaInfo{Path: javaPath, Version: m[1], Major: major, Raw: raw}, nil
}

// JavaMajor returns the feature release of a java version string.
// Legacy "1.x" versions report x.
// JavaMajor 返回 Java 版本字符串的主版本号，旧式 "1.x" 版本返回 x。
func JavaMajor(version string) (int, error) {
	parts := strings.FieldsFunc(version, func(r rune) bool {
		return r == '.' || r == '_' || r == '-' || r == '+'
	})
	if len(parts) == 0 {
		return 0, fmt.Errorf("invalid java version %q", version)
	}
	major, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, fmt.Errorf("invalid java version %q", version)
	}
	if major == 1 && len(parts) > 1 {
		if legacy, err := strconv.Atoi(parts[1]); err == nil {
			return legacy, nil
		}
	}
	return major, nil
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(s, "\n")
	return line
}
