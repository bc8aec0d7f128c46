package config

import (
	"errors"

	"github.com/sirupsen/logrus"
)

// Validate 针对语义级别做进一步校验，防止非法配置启动服务。
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("配置为空")
	}

	g := c.Global
	if g.ListenPort <= 0 || g.ListenPort > 65535 {
		return newFieldError("Global.ListenPort", "必须在 1-65535")
	}
	if _, err := logrus.ParseLevel(g.LogLevel); err != nil {
		return newFieldError("Global.LogLevel", "无法识别的日志级别: "+g.LogLevel)
	}
	switch g.LogFormat {
	case "", "json", "text":
	default:
		return newFieldError("Global.LogFormat", "仅支持 json/text")
	}
	if g.LogMaxSize < 0 {
		return newFieldError("Global.LogMaxSize", "不能为负数")
	}
	if g.LogMaxBackups < 0 {
		return newFieldError("Global.LogMaxBackups", "不能为负数")
	}
	if g.RootDir == "" {
		return newFieldError("Global.RootDir", "不能为空")
	}
	if g.PollInterval.DurationValue() <= 0 {
		return newFieldError("Global.PollInterval", "必须大于 0")
	}
	if g.MetaGrace.DurationValue() < 0 {
		return newFieldError("Global.MetaGrace", "不能为负数")
	}
	switch g.MetadataFallback {
	case FallbackPermissive, FallbackStrict:
	default:
		return newFieldError("Global.MetadataFallback", "仅支持 permissive/strict")
	}

	return nil
}
