package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Duration 提供更灵活的反序列化能力，同时兼容纯秒整数与 Go Duration 字符串。
type Duration time.Duration

// UnmarshalText 使 Viper 可以识别诸如 "10ms"、"2s" 或纯数字秒值等配置写法。
func (d *Duration) UnmarshalText(text []byte) error {
	raw := strings.TrimSpace(string(text))
	if raw == "" {
		*d = Duration(0)
		return nil
	}

	if parsed, err := time.ParseDuration(raw); err == nil {
		*d = Duration(parsed)
		return nil
	}

	if intVal, err := strconv.ParseInt(raw, 10, 64); err == nil {
		*d = Duration(time.Duration(intVal) * time.Second)
		return nil
	}

	return fmt.Errorf("invalid duration value: %s", raw)
}

// DurationValue 返回真实的 time.Duration，便于调用方计算。
func (d Duration) DurationValue() time.Duration {
	return time.Duration(d)
}

// 元数据读取失败时的两种处理方式。
const (
	FallbackPermissive = "permissive"
	FallbackStrict     = "strict"
)

// GlobalConfig 描述进程级运行参数：日志、读服务端口与 artifact 根目录。
type GlobalConfig struct {
	ListenPort    int    `mapstructure:"ListenPort"`
	LogLevel      string `mapstructure:"LogLevel"`
	LogFormat     string `mapstructure:"LogFormat"`
	LogFilePath   string `mapstructure:"LogFilePath"`
	LogMaxSize    int    `mapstructure:"LogMaxSize"`
	LogMaxBackups int    `mapstructure:"LogMaxBackups"`
	LogCompress   bool   `mapstructure:"LogCompress"`

	RootDir          string   `mapstructure:"RootDir"`
	PollInterval     Duration `mapstructure:"PollInterval"`
	MetaGrace        Duration `mapstructure:"MetaGrace"`
	MetadataFallback string   `mapstructure:"MetadataFallback"`
}

// StrictMetadata 表示元数据不可读时是否直接报错而非退回 done。
func (g GlobalConfig) StrictMetadata() bool {
	return g.MetadataFallback == FallbackStrict
}

// Config 是 TOML 文件映射的整体结构。
type Config struct {
	Global GlobalConfig `mapstructure:",squash"`
}
