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

// Package classifier categorizes Minecraft server output lines.
// classifier 包对 Minecraft 服务器输出行进行分类。
//
// Rules are evaluated in a fixed order and the first match wins:
// 规则按固定顺序匹配，第一个匹配的规则生效：
// crash > error > warning > mod > info > uncategorized
package classifier

import (
	"fmt"
	"regexp"
	"time"
)

// Stream identifies where a line came from
// Stream 标识输出行的来源
type Stream string

const (
	StreamStdout Stream = "stdout"
	StreamStderr Stream = "stderr"
	// StreamFile marks lines read back from logs/latest.log
	// StreamFile 表示从 logs/latest.log 读取的行
	StreamFile Stream = "file"
)

// Category is the classification result for one line
// Category 是单行的分类结果
type Category string

const (
	CategoryCrash         Category = "crash"
	CategoryError         Category = "error"
	CategoryWarning       Category = "warning"
	CategoryMod           Category = "mod"
	CategoryInfo          Category = "info"
	CategoryUncategorized Category = "uncategorized"
)

// precedence is the evaluation order of the rule groups.
var precedence = []Category{
	CategoryCrash,
	CategoryError,
	CategoryWarning,
	CategoryMod,
	CategoryInfo,
}

// Categories returns every category in precedence order, uncategorized last.
func Categories() []Category {
	out := make([]Category, 0, len(precedence)+1)
	out = append(out, precedence...)
	return append(out, CategoryUncategorized)
}

// ParseCategory converts a string into a Category.
func ParseCategory(s string) (Category, error) {
	for _, c := range Categories() {
		if string(c) == s {
			return c, nil
		}
	}
	return "", fmt.Errorf("unknown log category %q", s)
}

// LogLine is one immutable line of server output
// LogLine 是一行不可变的服务器输出
type LogLine struct {
	Text   string    `json:"text"`
	Time   time.Time `json:"time"`
	Stream Stream    `json:"stream"`
}

// NewLogLine stamps text with the current time.
func NewLogLine(text string, stream Stream) LogLine {
	return LogLine{Text: text, Time: time.Now(), Stream: stream}
}

// Rule is one compiled pattern. An empty Stream matches every stream.
type Rule struct {
	Category Category
	Pattern  *regexp.Regexp
	Stream   Stream
}

func (r Rule) matches(line LogLine) bool {
	if r.Stream != "" && r.Stream != line.Stream {
		return false
	}
	return r.Pattern.MatchString(line.Text)
}

// Classifier holds the compiled rule set. It is safe for concurrent use.
// Classifier 保存编译后的规则集，可并发使用。
type Classifier struct {
	rules []Rule
	noise []*regexp.Regexp
}

// New compiles cfg into a Classifier. Empty groups fall back to the defaults.
// New 将配置编译为 Classifier，空的规则组使用默认值。
func New(cfg Config) (*Classifier, error) {
	cfg = cfg.withDefaults()

	groups := map[Category][]string{
		CategoryCrash:   cfg.Crash,
		CategoryError:   cfg.Error,
		CategoryWarning: cfg.Warning,
		CategoryMod:     cfg.Mod,
		CategoryInfo:    cfg.Info,
	}

	c := &Classifier{}
	for _, category := range precedence {
		for _, expr := range groups[category] {
			re, err := compile(expr)
			if err != nil {
				return nil, fmt.Errorf("%s rule %q: %w", category, expr, err)
			}
			c.rules = append(c.rules, Rule{Category: category, Pattern: re})
		}
	}
	for _, sr := range cfg.StreamRules {
		category, err := ParseCategory(sr.Category)
		if err != nil {
			return nil, err
		}
		re, err := compile(sr.Pattern)
		if err != nil {
			return nil, fmt.Errorf("stream rule %q: %w", sr.Pattern, err)
		}
		c.insert(Rule{Category: category, Pattern: re, Stream: Stream(sr.Stream)})
	}
	for _, expr := range cfg.Noise {
		re, err := compile(expr)
		if err != nil {
			return nil, fmt.Errorf("noise rule %q: %w", expr, err)
		}
		c.noise = append(c.noise, re)
	}
	return c, nil
}

// MustDefault returns a Classifier built from DefaultConfig.
func MustDefault() *Classifier {
	c, err := New(DefaultConfig())
	if err != nil {
		panic(err)
	}
	return c
}

// insert places r after the last rule of its own or a higher-precedence category,
// keeping the group order intact.
func (c *Classifier) insert(r Rule) {
	rank := rankOf(r.Category)
	idx := len(c.rules)
	for i, existing := range c.rules {
		if rankOf(existing.Category) > rank {
			idx = i
			break
		}
	}
	c.rules = append(c.rules, Rule{})
	copy(c.rules[idx+1:], c.rules[idx:])
	c.rules[idx] = r
}

func rankOf(category Category) int {
	for i, c := range precedence {
		if c == category {
			return i
		}
	}
	return len(precedence)
}

func compile(expr string) (*regexp.Regexp, error) {
	return regexp.Compile("(?i)" + expr)
}

// Classify maps a line to exactly one category.
// Classify 将一行映射到唯一的分类。
func (c *Classifier) Classify(line LogLine) Category {
	for _, r := range c.rules {
		if r.matches(line) {
			return r.Category
		}
	}
	return CategoryUncategorized
}

// Noise reports whether the line is chatter that should not be published.
// Noise 判断该行是否为不应发布的噪声。
func (c *Classifier) Noise(line LogLine) bool {
	for _, re := range c.noise {
		if re.MatchString(line.Text) {
			return true
		}
	}
	return false
}

// Rules returns a copy of the compiled rules in evaluation order.
func (c *Classifier) Rules() []Rule {
	out := make([]Rule, len(c.rules))
	copy(out, c.rules)
	return out
}

var ansiPattern = regexp.MustCompile(`\x1b\[[0-9;?]*[A-Za-z]`)

// StripANSI removes terminal color and cursor sequences.
func StripANSI(s string) string {
	return ansiPattern.ReplaceAllString(s, "")
}
