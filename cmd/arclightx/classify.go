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

package main

import (
	"bufio"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/arclightx/arclightx/internal/classifier"
	"github.com/arclightx/arclightx/internal/config"
)

// maxScanLine matches the longest line the log tailer accepts
const maxScanLine = 1 << 20

// newClassifyCmd classifies a log file offline with the configured rules
// newClassifyCmd 使用配置的规则离线分类日志文件
func newClassifyCmd() *cobra.Command {
	var (
		summary bool
		stderr  bool
	)
	cmd := &cobra.Command{
		Use:   "classify [file]",
		Short: "Classify log lines from a file or stdin / 对文件或标准输入中的日志行分类",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configFile)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			cls, err := classifier.New(cfg.Classifier)
			if err != nil {
				return err
			}

			in := cmd.InOrStdin()
			if len(args) == 1 && args[0] != "-" {
				f, err := os.Open(args[0])
				if err != nil {
					return err
				}
				defer f.Close()
				in = f
			}

			stream := classifier.StreamStdout
			if stderr {
				stream = classifier.StreamStderr
			}
			return classifyStream(cls, in, cmd.OutOrStdout(), stream, summary)
		},
	}
	cmd.Flags().BoolVar(&summary, "summary", false, "print per-category counts only / 仅输出各分类计数")
	cmd.Flags().BoolVar(&stderr, "stderr", false, "treat input as stderr output / 将输入视为标准错误输出")
	return cmd
}

func classifyStream(cls *classifier.Classifier, in io.Reader, out io.Writer, stream classifier.Stream, summary bool) error {
	counts := make(map[classifier.Category]int)
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 64*1024), maxScanLine)
	for scanner.Scan() {
		line := classifier.NewLogLine(classifier.StripANSI(scanner.Text()), stream)
		if cls.Noise(line) {
			continue
		}
		category := cls.Classify(line)
		counts[category]++
		if !summary {
			fmt.Fprintf(out, "[%s] %s\n", category, line.Text)
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}

	if summary {
		for _, c := range classifier.Categories() {
			fmt.Fprintf(out, "%-14s %d\n", c, counts[c])
		}
	}
	return nil
}
