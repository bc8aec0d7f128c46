package artifact

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/any-hub/artisan/internal/logging"
	"github.com/any-hub/artisan/internal/meta"
	"github.com/any-hub/artisan/internal/spec"
)

// ensureBuilt 先尝试创建 path：创建成功即获得构建权并执行 builder；
// 目录已存在则读取其元数据，规格一致时等待构建结束。
func (c *Cache) ensureBuilt(ctx context.Context, path string, s spec.Spec, b Builder) error {
	claimed, err := c.claim(path)
	if err != nil {
		return err
	}
	if claimed {
		return c.run(ctx, path, s, b)
	}
	return c.join(ctx, path, s)
}

// claim 创建 path 目录。只有一个调用方能成功创建，它就拥有这次构建。
func (c *Cache) claim(path string) (bool, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return false, err
	}
	if err := os.Mkdir(path, 0o755); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// run 执行一次全新构建。builder 的错误原样返回，已写入的条目保留在磁盘上。
func (c *Cache) run(ctx context.Context, path string, s spec.Spec, b Builder) error {
	if err := c.store.Write(path, meta.Record{Spec: s, Status: meta.StatusRunning}); err != nil {
		return fmt.Errorf("record build start: %w", err)
	}
	started := time.Now()
	c.logger.WithFields(logging.ArtifactFields("build_start", path, s.Type())).Info("artifact build started")

	defer func() {
		if r := recover(); r != nil {
			c.finish(path, s, meta.StatusStopped, started, fmt.Errorf("panic: %v", r))
			panic(r)
		}
	}()

	if buildErr := b.Build(ctx, c.bind(path), s.Clone()); buildErr != nil {
		c.finish(path, s, meta.StatusStopped, started, buildErr)
		return buildErr
	}
	return c.finish(path, s, meta.StatusDone, started, nil)
}

func (c *Cache) finish(path string, s spec.Spec, status meta.Status, started time.Time, cause error) error {
	fields := logging.ArtifactFields("build_done", path, s.Type())
	fields["elapsed_ms"] = time.Since(started).Milliseconds()

	writeErr := c.store.Write(path, meta.Record{Spec: s, Status: status})
	if writeErr != nil {
		fields["meta_error"] = writeErr.Error()
	}

	if status == meta.StatusStopped {
		fields["action"] = "build_stopped"
		c.logger.WithFields(fields).WithError(cause).Error("artifact build stopped")
	} else {
		c.logger.WithFields(fields).Info("artifact build finished")
	}

	if writeErr != nil {
		return fmt.Errorf("record build %s: %w", status, writeErr)
	}
	return nil
}

// join 处理已存在的目录：规格不符返回 ErrSpecMismatch，running 时轮询等待，
// stopped 返回 ErrBuildAborted。
func (c *Cache) join(ctx context.Context, path string, s spec.Spec) error {
	if err := c.awaitSidecar(ctx, path); err != nil {
		return err
	}
	rec, err := c.store.Read(path)
	if err != nil {
		return err
	}
	if !spec.Equal(rec.Spec, s) {
		return fmt.Errorf("%s: %w", path, ErrSpecMismatch)
	}

	rec, err = c.wait(ctx, path, rec)
	if err != nil {
		return err
	}
	if rec.Status == meta.StatusStopped {
		return fmt.Errorf("%s: %w", path, ErrBuildAborted)
	}
	c.logger.WithFields(logging.ArtifactFields("cache_hit", path, s.Type())).Debug("artifact reused")
	return nil
}

// wait 以固定间隔轮询，直到状态不再是 running。没有超时，只在 ctx 取消时提前返回。
func (c *Cache) wait(ctx context.Context, path string, rec meta.Record) (meta.Record, error) {
	if rec.Status != meta.StatusRunning {
		return rec, nil
	}
	c.logger.WithFields(logrus.Fields{
		"action":   "wait",
		"path":     path,
		"interval": c.poll.String(),
	}).Debug("waiting for concurrent build")

	ticker := time.NewTicker(c.poll)
	defer ticker.Stop()

	for rec.Status == meta.StatusRunning {
		select {
		case <-ctx.Done():
			return rec, ctx.Err()
		case <-ticker.C:
		}
		next, err := c.store.Read(path)
		if err != nil {
			return rec, err
		}
		rec = next
	}
	return rec, nil
}

// awaitSidecar 覆盖目录刚被另一个调用方创建、元数据尚未写入的窗口：
// 目录修改时间在 grace 之内且没有 _meta.yaml 时，等到元数据出现或 grace 用尽。
func (c *Cache) awaitSidecar(ctx context.Context, path string) error {
	if c.store.Exists(path) {
		return nil
	}
	info, err := os.Stat(path)
	if err != nil || !info.IsDir() {
		return nil
	}
	deadline := info.ModTime().Add(c.grace)
	if !time.Now().Before(deadline) {
		return nil
	}

	ticker := time.NewTicker(c.poll)
	defer ticker.Stop()

	for !c.store.Exists(path) && time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return nil
}
