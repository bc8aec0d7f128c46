package main

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/any-hub/artisan/internal/artifact"
	"github.com/any-hub/artisan/internal/config"
	"github.com/any-hub/artisan/internal/meta"
	"github.com/any-hub/artisan/internal/spec"
)

func TestParseCLIFlagsPriority(t *testing.T) {
	t.Setenv("ARTISAN_CONFIG", "/tmp/env.toml")

	opts, err := parseCLIFlags([]string{})
	if err != nil {
		t.Fatalf("解析失败: %v", err)
	}
	if opts.configPath != "/tmp/env.toml" {
		t.Fatalf("应优先使用环境变量，得到 %s", opts.configPath)
	}

	opts, err = parseCLIFlags([]string{"--config", "/tmp/flag.toml", "-list"})
	if err != nil {
		t.Fatalf("解析失败: %v", err)
	}
	if opts.configPath != "/tmp/flag.toml" {
		t.Fatalf("flag 应高于环境变量，得到 %s", opts.configPath)
	}
	if !opts.listOnly {
		t.Fatalf("-list 应被解析")
	}
}

func TestParseCLIFlagsRejectsUnknown(t *testing.T) {
	if _, err := parseCLIFlags([]string{"-bogus"}); err == nil {
		t.Fatalf("未知参数应报错")
	}
}

func TestRunCheckConfigSuccess(t *testing.T) {
	useBufferWriters(t)
	code := run(cliOptions{configPath: configFixture(t, "valid.toml"), checkOnly: true})
	if code != 0 {
		t.Fatalf("期望退出码 0，得到 %d (%s)", code, stdErrBuffer().String())
	}
}

func TestRunCheckConfigFailure(t *testing.T) {
	useBufferWriters(t)
	code := run(cliOptions{configPath: configFixture(t, "invalid.toml"), checkOnly: true})
	if code == 0 {
		t.Fatalf("无效配置应返回非零退出码")
	}
	if !strings.Contains(stdErrBuffer().String(), "MetadataFallback") {
		t.Fatalf("错误输出应指出字段，得到 %s", stdErrBuffer().String())
	}
}

func TestRunVersionOutput(t *testing.T) {
	useBufferWriters(t)
	code := run(cliOptions{showVersion: true})
	if code != 0 {
		t.Fatalf("version 模式应成功退出，得到 %d", code)
	}
	if !strings.Contains(stdOutBuffer().String(), "artisan") {
		t.Fatalf("version 输出应包含 artisan 标识")
	}
}

func TestRunListPrintsArtifacts(t *testing.T) {
	root := filepath.Join(t.TempDir(), "artifacts")
	cache, err := artifact.NewCache(artifact.Options{Root: root})
	if err != nil {
		t.Fatalf("创建 cache 失败: %v", err)
	}
	if _, err := cache.Construct(context.Background(), spec.Spec{"n": 1}); err != nil {
		t.Fatalf("构建失败: %v", err)
	}

	configPath := writeConfigFile(t, "LogLevel = \"error\"\nRootDir = \""+root+"\"\n")

	useBufferWriters(t)
	code := run(cliOptions{configPath: configPath, listOnly: true})
	if code != 0 {
		t.Fatalf("list 模式应成功退出，得到 %d (%s)", code, stdErrBuffer().String())
	}
	out := stdOutBuffer().String()
	if !strings.Contains(out, "NAME") || !strings.Contains(out, "artifact_") || !strings.Contains(out, "done") {
		t.Fatalf("list 输出不完整: %s", out)
	}
}

func TestCacheOptionsFromConfig(t *testing.T) {
	g := config.GlobalConfig{
		RootDir:          t.TempDir(),
		PollInterval:     config.Duration(5 * time.Millisecond),
		MetadataFallback: config.FallbackStrict,
	}
	opts := cacheOptions(g, nil)
	if opts.Store.Fallback != meta.FallbackStrict {
		t.Fatalf("strict 配置应映射为 FallbackStrict")
	}
	if opts.MetaGrace >= 0 {
		t.Fatalf("MetaGrace 为 0 时应关闭等待窗口")
	}
	if opts.PollInterval != 5*time.Millisecond {
		t.Fatalf("PollInterval 映射错误: %v", opts.PollInterval)
	}
}
