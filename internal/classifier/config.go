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

package classifier

// Config lists the case-insensitive regular expressions of each rule group.
// Config 列出每个规则组的正则表达式（不区分大小写）。
type Config struct {
	Crash   []string `mapstructure:"crash" yaml:"crash,omitempty"`
	Error   []string `mapstructure:"error" yaml:"error,omitempty"`
	Warning []string `mapstructure:"warning" yaml:"warning,omitempty"`
	Mod     []string `mapstructure:"mod" yaml:"mod,omitempty"`
	Info    []string `mapstructure:"info" yaml:"info,omitempty"`
	Noise   []string `mapstructure:"noise" yaml:"noise,omitempty"`

	// StreamRules only apply to lines of one stream
	// StreamRules 仅作用于特定输出流的行
	StreamRules []StreamRule `mapstructure:"stream_rules" yaml:"stream_rules,omitempty"`
}

// StreamRule binds a pattern to a category for a single stream.
type StreamRule struct {
	Stream   string `mapstructure:"stream" yaml:"stream"`
	Category string `mapstructure:"category" yaml:"category"`
	Pattern  string `mapstructure:"pattern" yaml:"pattern"`
}

// Default keyword lists.
var (
	DefaultCrashPatterns = []string{
		`-+ *(begin )?(minecraft )?crash report *-+`,
		`this crash report has been saved to`,
		`exception in thread "`,
		`^\s*at\s+[\w$.<>/]+\(.*\)\s*$`,
		`^\s*caused by:`,
		`^\s*\.\.\. \d+ more\s*$`,
		`\b(?:[a-z_$][\w$]*\.)+[a-z_$][\w$]*(?:exception|error)\b`,
		`a fatal error has been detected by the java runtime environment`,
		`outofmemoryerror`,
		`encountered an unexpected exception`,
	}
	DefaultErrorPatterns = []string{
		`mod loading has failed`,
		`\b(error|severe|fatal)\b`,
		`failed to (start|load|bind)`,
	}
	DefaultWarningPatterns = []string{
		`\bwarn(ing)?\b`,
		`can't keep up!`,
	}
	DefaultModPatterns = []string{
		`\b(fml|forge|neoforge|fabric(loader)?|quilt|mixin|modlauncher|arclight|mohist)\b`,
		`\b(loading|enabling|disabling) (mod|plugin)s?\b`,
		`\[(bukkit|spigot|paper|plugin)[^\]]*\]`,
		`\bmods? (loaded|found)\b`,
	}
	DefaultInfoPatterns = []string{
		`\binfo\b`,
	}
	DefaultNoisePatterns = []string{
		`^\s*$`,
		`\bdebug:`,
		`\bfine:`,
		`java\.app\.`,
		`org\.openjdk\.nashorn`,
	}
)

// DefaultConfig returns the built-in rule set.
// DefaultConfig 返回内置规则集。
func DefaultConfig() Config {
	return Config{
		Crash:   append([]string(nil), DefaultCrashPatterns...),
		Error:   append([]string(nil), DefaultErrorPatterns...),
		Warning: append([]string(nil), DefaultWarningPatterns...),
		Mod:     append([]string(nil), DefaultModPatterns...),
		Info:    append([]string(nil), DefaultInfoPatterns...),
		Noise:   append([]string(nil), DefaultNoisePatterns...),
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if len(c.Crash) == 0 {
		c.Crash = d.Crash
	}
	if len(c.Error) == 0 {
		c.Error = d.Error
	}
	if len(c.Warning) == 0 {
		c.Warning = d.Warning
	}
	if len(c.Mod) == 0 {
		c.Mod = d.Mod
	}
	if len(c.Info) == 0 {
		c.Info = d.Info
	}
	if c.Noise == nil {
		c.Noise = d.Noise
	}
	return c
}
