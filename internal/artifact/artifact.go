package artifact

import (
	"path/filepath"

	"github.com/any-hub/artisan/internal/meta"
	"github.com/any-hub/artisan/internal/tree"
)

// Artifact 是一个目录支撑的 artifact：条目读写通过内嵌的 *tree.Tree 完成，
// 元数据通过所属 Cache 的 Store 读取。
type Artifact struct {
	*tree.Tree
	cache *Cache
}

// Name 返回目录名。
func (a *Artifact) Name() string {
	return filepath.Base(a.Path())
}

// Meta 读取 {spec, status} 记录。
func (a *Artifact) Meta() (meta.Record, error) {
	return a.cache.store.Read(a.Path())
}

// Cache 返回创建该 artifact 的 Cache。
func (a *Artifact) Cache() *Cache {
	return a.cache
}
