package tree

import (
	"os"

	"github.com/any-hub/artisan/internal/arrayfile"
)

// Kind 区分条目类型，由查找时磁盘上实际存在的内容决定。
type Kind int

const (
	KindTree Kind = iota
	KindArray
	KindBlob
)

func (k Kind) String() string {
	switch k {
	case KindArray:
		return "array"
	case KindBlob:
		return "blob"
	default:
		return "tree"
	}
}

// Entry 是 Get 的结果：ArrayEntry、BlobEntry 或 *Tree。
type Entry interface {
	Kind() Kind
	Path() string
}

// ArrayEntry 指向一个 .arr 数组容器。
type ArrayEntry struct {
	path string
}

func (e ArrayEntry) Kind() Kind { return KindArray }

// Path 返回容器文件路径（带 .arr 扩展名）。
func (e ArrayEntry) Path() string { return e.path }

// Open 打开容器供读取，调用方负责 Close。
func (e ArrayEntry) Open() (*arrayfile.Reader, error) {
	return arrayfile.Open(e.path)
}

// Read 读取全部已提交的行。
func (e ArrayEntry) Read() (arrayfile.Array, error) {
	return arrayfile.Read(e.path)
}

// Len 返回已提交的行数。
func (e ArrayEntry) Len() (int, error) {
	r, err := e.Open()
	if err != nil {
		return 0, err
	}
	defer r.Close()
	return r.Len()
}

// BlobEntry 指向一个普通文件。
type BlobEntry struct {
	path string
}

func (e BlobEntry) Kind() Kind { return KindBlob }

func (e BlobEntry) Path() string { return e.path }

// Open 打开文件供读取。
func (e BlobEntry) Open() (*os.File, error) {
	return os.Open(e.path)
}

// Bytes 读取完整内容。
func (e BlobEntry) Bytes() ([]byte, error) {
	return os.ReadFile(e.path)
}

// Size 返回文件大小。
func (e BlobEntry) Size() (int64, error) {
	info, err := os.Stat(e.path)
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}
