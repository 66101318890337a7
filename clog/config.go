package clog

import (
	"fmt"
	"strings"
)

// Config 日志配置
type Config struct {
	// Level 日志级别：debug、info、warn、error（默认：info）
	Level string `json:"level" yaml:"level"`

	// Format 输出格式：json 或 console（默认：console）
	Format string `json:"format" yaml:"format"`

	// Output 输出目标：stdout、stderr 或文件路径（默认：stdout）
	Output string `json:"output" yaml:"output"`

	// AddSource 是否记录调用位置（默认：false）
	AddSource bool `json:"add_source" yaml:"add_source"`
}

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Level:  "info",
		Format: "console",
		Output: "stdout",
	}
}

// validate 设置默认值并验证配置
func (c *Config) validate() error {
	if c.Level == "" {
		c.Level = "info"
	}
	if c.Format == "" {
		c.Format = "console"
	}
	if c.Output == "" {
		c.Output = "stdout"
	}

	c.Level = strings.ToLower(c.Level)
	c.Format = strings.ToLower(c.Format)

	if _, err := parseLevel(c.Level); err != nil {
		return err
	}

	switch c.Format {
	case "json", "console":
	default:
		return fmt.Errorf("unsupported format: %s", c.Format)
	}

	return nil
}
