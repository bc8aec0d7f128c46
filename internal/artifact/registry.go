package artifact

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/any-hub/artisan/internal/spec"
)

// Builder 在新建的 artifact 目录中写入条目，每次全新构建只调用一次。
// 返回的 error 会原样交还给发起构建的调用方。
type Builder interface {
	Build(ctx context.Context, a *Artifact, cfg spec.Spec) error
}

// BuilderFunc 让普通函数满足 Builder。
type BuilderFunc func(ctx context.Context, a *Artifact, cfg spec.Spec) error

// Build makes BuilderFunc satisfy Builder.
func (f BuilderFunc) Build(ctx context.Context, a *Artifact, cfg spec.Spec) error {
	return f(ctx, a, cfg)
}

// noopBuilder 对应没有 type 字段的规格：目录与元数据照常创建，不写任何条目。
var noopBuilder = BuilderFunc(func(context.Context, *Artifact, spec.Spec) error { return nil })

// Registry 维护 type 名称到 Builder 的映射，键大小写不敏感。
type Registry struct {
	mu       sync.RWMutex
	builders map[string]Builder
}

// NewRegistry 返回空注册表。
func NewRegistry() *Registry {
	return &Registry{builders: make(map[string]Builder)}
}

// Register 注册 builder，重复或非法的名称返回错误。
func (r *Registry) Register(name string, b Builder) error {
	key := normalizeKey(name)
	if key == "" {
		return fmt.Errorf("builder name is required")
	}
	if strings.ContainsAny(key, `/\`) || key == "." || key == ".." {
		return fmt.Errorf("builder name %q must be a single path segment", name)
	}
	if b == nil {
		return fmt.Errorf("builder %s is nil", key)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.builders[key]; exists {
		return fmt.Errorf("builder %s already registered", key)
	}
	r.builders[key] = b
	return nil
}

// MustRegister 在注册失败时 panic，适合初始化阶段调用。
func (r *Registry) MustRegister(name string, b Builder) {
	if err := r.Register(name, b); err != nil {
		panic(err)
	}
}

// Resolve 返回 name 对应的 builder。
func (r *Registry) Resolve(name string) (Builder, bool) {
	key := normalizeKey(name)
	if key == "" {
		return nil, false
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	b, ok := r.builders[key]
	return b, ok
}

// Keys 返回按名称排序的已注册类型，供诊断使用。
func (r *Registry) Keys() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(r.builders) == 0 {
		return nil
	}
	keys := make([]string, 0, len(r.builders))
	for key := range r.builders {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func normalizeKey(key string) string {
	return strings.ToLower(strings.TrimSpace(key))
}
