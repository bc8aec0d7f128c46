package artifact

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/any-hub/artisan/internal/logging"
	"github.com/any-hub/artisan/internal/meta"
	"github.com/any-hub/artisan/internal/spec"
	"github.com/any-hub/artisan/internal/tree"
)

const (
	defaultPollInterval = 10 * time.Millisecond
	defaultMetaGrace    = 2 * time.Second
	defaultTypeName     = "artifact"
	dateLayout          = "2006-01-02"
)

// Options 是 Cache 的显式依赖，所有构造调用都通过同一个 Cache 取得根目录与注册表。
type Options struct {
	Root         string
	Registry     *Registry
	Store        *meta.Store
	PollInterval time.Duration
	// MetaGrace 是新建目录等待元数据出现的最长时间，超过后按普通目录读取。
	MetaGrace time.Duration
	Logger    *logrus.Logger
	Now       func() time.Time
}

// Cache 在 Root 下查找或构建 artifact，并通过目录创建仲裁并发构建。
type Cache struct {
	root     string
	registry *Registry
	store    *meta.Store
	poll     time.Duration
	grace    time.Duration
	logger   *logrus.Logger
	now      func() time.Time
}

// NewCache 校验 Options、补齐默认值并创建根目录。
func NewCache(opts Options) (*Cache, error) {
	if strings.TrimSpace(opts.Root) == "" {
		return nil, fmt.Errorf("%w: root directory required", ErrInvalidArgument)
	}
	root, err := filepath.Abs(opts.Root)
	if err != nil {
		return nil, fmt.Errorf("resolve root directory: %w", err)
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create root directory: %w", err)
	}

	c := &Cache{
		root:     root,
		registry: opts.Registry,
		store:    opts.Store,
		poll:     opts.PollInterval,
		grace:    opts.MetaGrace,
		logger:   opts.Logger,
		now:      opts.Now,
	}
	if c.logger == nil {
		c.logger = logrus.New()
		c.logger.SetOutput(io.Discard)
	}
	if c.registry == nil {
		c.registry = NewRegistry()
	}
	if c.store == nil {
		c.store = &meta.Store{Logger: c.logger}
	}
	if c.poll <= 0 {
		c.poll = defaultPollInterval
	}
	if c.grace < 0 {
		c.grace = 0
	} else if c.grace == 0 {
		c.grace = defaultMetaGrace
	}
	if c.now == nil {
		c.now = time.Now
	}
	return c, nil
}

// Root 返回绝对根目录。
func (c *Cache) Root() string { return c.root }

// Registry 返回 builder 注册表。
func (c *Cache) Registry() *Registry { return c.registry }

// Store 返回元数据存储。
func (c *Cache) Store() *meta.Store { return c.store }

// Construct 在根目录下查找规格匹配的 artifact：命中时等待进行中的构建并返回，
// 全部不匹配时在 {type}_{日期}_{序号} 形式的新目录中构建。
func (c *Cache) Construct(ctx context.Context, s spec.Spec) (*Artifact, error) {
	if s == nil {
		return nil, fmt.Errorf("%w: spec required", ErrInvalidArgument)
	}
	s, err := c.admit(s)
	if err != nil {
		return nil, err
	}
	builder, err := c.builderFor(s)
	if err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(c.root)
	if err != nil {
		return nil, fmt.Errorf("scan root directory: %w", err)
	}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		path := filepath.Join(c.root, entry.Name())
		err := c.ensureBuilt(ctx, path, s, builder)
		switch {
		case err == nil:
			return c.bind(path), nil
		case errors.Is(err, ErrSpecMismatch):
			continue
		case errors.Is(err, meta.ErrUnreadable):
			c.logger.WithFields(logging.ArtifactFields("scan_skip", path, s.Type())).Warn(err.Error())
			continue
		default:
			return nil, err
		}
	}

	// 逐个尝试当天的候选序号：已存在的目录同样走 claim-or-join，
	// 这样扫描之后才出现的同规格目录也会被复用，而不是被跳过。
	name, date := c.prefix(s)
	for i := 0; ; i++ {
		path := c.candidate(name, date, i)
		err := c.ensureBuilt(ctx, path, s, builder)
		switch {
		case err == nil:
			return c.bind(path), nil
		case errors.Is(err, ErrSpecMismatch), errors.Is(err, meta.ErrUnreadable):
			continue
		default:
			return nil, err
		}
	}
}

// ConstructAt 在显式路径上确保构建：路径不存在时构建，存在时校验规格。
func (c *Cache) ConstructAt(ctx context.Context, path string, s spec.Spec) (*Artifact, error) {
	if s == nil {
		return nil, fmt.Errorf("%w: spec required", ErrInvalidArgument)
	}
	abs, err := c.ResolvePath(path)
	if err != nil {
		return nil, err
	}
	s, err = c.admit(s)
	if err != nil {
		return nil, err
	}
	builder, err := c.builderFor(s)
	if err != nil {
		return nil, err
	}
	if err := c.ensureBuilt(ctx, abs, s, builder); err != nil {
		return nil, err
	}
	return c.bind(abs), nil
}

// Open 绑定到显式路径，不触发构建。
func (c *Cache) Open(path string) (*Artifact, error) {
	abs, err := c.ResolvePath(path)
	if err != nil {
		return nil, err
	}
	return c.bind(abs), nil
}

// ResolvePath 展开 "@/"（相对根目录）与 "~"（用户主目录）并转为绝对路径。
func (c *Cache) ResolvePath(path string) (string, error) {
	switch {
	case strings.TrimSpace(path) == "":
		return "", fmt.Errorf("%w: path required", ErrInvalidArgument)
	case strings.HasPrefix(path, "@/"):
		path = filepath.Join(c.root, path[2:])
	case path == "~" || strings.HasPrefix(path, "~/"):
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("expand home directory: %w", err)
		}
		path = filepath.Join(home, path[1:])
	}
	return filepath.Abs(path)
}

// NewPath 生成 {type}_{日期}_{序号} 形式的候选目录，序号取当前未被占用的最小值。
// 它只做探测不做预留，真正的仲裁发生在创建目录时。
func (c *Cache) NewPath(s spec.Spec) (string, error) {
	name, date := c.prefix(s)
	for i := 0; ; i++ {
		dst := c.candidate(name, date, i)
		if _, err := os.Lstat(dst); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return dst, nil
			}
			return "", err
		}
	}
}

func (c *Cache) prefix(s spec.Spec) (name, date string) {
	name = s.Type()
	if name == "" {
		name = defaultTypeName
	}
	return name, c.now().Format(dateLayout)
}

func (c *Cache) candidate(name, date string, i int) string {
	return filepath.Join(c.root, fmt.Sprintf("%s_%s_%04x", name, date, i))
}

// Listing 描述根目录下的一个 artifact 目录。
type Listing struct {
	Name   string
	Path   string
	Record meta.Record
	Err    error
}

// List 按名称顺序返回根目录下所有子目录及其元数据。
func (c *Cache) List() ([]Listing, error) {
	entries, err := os.ReadDir(c.root)
	if err != nil {
		return nil, fmt.Errorf("scan root directory: %w", err)
	}
	result := make([]Listing, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		path := filepath.Join(c.root, entry.Name())
		rec, err := c.store.Read(path)
		result = append(result, Listing{
			Name:   entry.Name(),
			Path:   path,
			Record: rec,
			Err:    err,
		})
	}
	return result, nil
}

func (c *Cache) bind(path string) *Artifact {
	return &Artifact{Tree: tree.New(path), cache: c}
}

// admit 在扫描或创建目录之前确认规格可以写入 _meta.yaml，并返回调用方无法再修改的副本。
func (c *Cache) admit(s spec.Spec) (spec.Spec, error) {
	if _, err := spec.Normalize(s); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}
	return s.Clone(), nil
}

func (c *Cache) builderFor(s spec.Spec) (Builder, error) {
	raw, present := s[spec.TypeField]
	name := s.Type()
	if name == "" {
		if present && raw != nil {
			if _, ok := raw.(string); !ok {
				return nil, fmt.Errorf("%w: type must be a string, got %T", ErrInvalidArgument, raw)
			}
		}
		return noopBuilder, nil
	}
	b, ok := c.registry.Resolve(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownType, name)
	}
	return b, nil
}
