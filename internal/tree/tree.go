// Package tree 把一个目录映射为字符串键到条目的集合：.arr 文件是数组条目，
// 其它普通文件是 blob 条目，子目录（或尚不存在的路径）是嵌套的 Tree。
// 以 "_" 开头的名字保留给元数据与临时文件，不计入公开条目。
package tree

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"iter"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/any-hub/artisan/internal/arrayfile"
)

const (
	// HiddenPrefix 标记非公开条目。
	HiddenPrefix = "_"
	// ArrayExt 是数组容器的保留扩展名，在 Keys 中会被去掉。
	ArrayExt = ".arr"
	// KeyDotMarker 在键中表示 "."，使 "name__ext" 指向 name.ext。
	KeyDotMarker = "__"

	keysBatch = 64
)

// Tree 是以 root 为根的存储树，root 可以尚不存在。
type Tree struct {
	root string
}

// New 返回以 root 为根的 Tree。
func New(root string) *Tree {
	return &Tree{root: filepath.Clean(root)}
}

func (t *Tree) Kind() Kind { return KindTree }

// Path 返回根目录路径。
func (t *Tree) Path() string { return t.root }

// Exists 报告根目录是否已经存在。
func (t *Tree) Exists() bool {
	info, err := os.Stat(t.root)
	return err == nil && info.IsDir()
}

// Keys 惰性地按批读取目录，产出公开条目名；数组条目不带 .arr。
// 根目录不存在时序列为空。
func (t *Tree) Keys() iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		dir, err := os.Open(t.root)
		if err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				yield("", err)
			}
			return
		}
		defer dir.Close()

		for {
			entries, err := dir.ReadDir(keysBatch)
			for _, entry := range entries {
				name := entry.Name()
				if strings.HasPrefix(name, HiddenPrefix) {
					continue
				}
				if !entry.IsDir() && strings.HasSuffix(name, ArrayExt) {
					name = strings.TrimSuffix(name, ArrayExt)
				}
				if !yield(name, nil) {
					return
				}
			}
			if err != nil {
				if !errors.Is(err, io.EOF) {
					yield("", err)
				}
				return
			}
		}
	}
}

// Count 返回公开条目数。
func (t *Tree) Count() (int, error) {
	n := 0
	for _, err := range t.Keys() {
		if err != nil {
			return 0, err
		}
		n++
	}
	return n, nil
}

// Get 返回 key 对应的条目：存在数组容器时为 ArrayEntry，存在普通文件时为
// BlobEntry，否则为（可能尚不存在的）*Tree。
func (t *Tree) Get(key string) (Entry, error) {
	p, err := t.resolve(key)
	if err != nil {
		return nil, err
	}
	if isRegular(p + ArrayExt) {
		return ArrayEntry{path: p + ArrayExt}, nil
	}
	if isRegular(p) {
		return BlobEntry{path: p}, nil
	}
	return New(p), nil
}

// Set 按值类型写入 key：数组覆盖写入，文件引用复制字节，字段集合递归合并。
func (t *Tree) Set(key string, v Value) error {
	if err := validateValue(v); err != nil {
		return err
	}
	p, err := t.resolve(key)
	if err != nil {
		return err
	}

	switch val := v.(type) {
	case ArrayValue:
		if err := requireNoExt(key, p); err != nil {
			return err
		}
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			return err
		}
		return arrayfile.Overwrite(p+ArrayExt, val.Array)
	case FileRef:
		if err := requireExt(key, p); err != nil {
			return err
		}
		return copyFile(p, string(val))
	case Fields:
		if err := requireNoExt(key, p); err != nil {
			return err
		}
		if err := os.MkdirAll(p, 0o755); err != nil {
			return err
		}
		sub := New(p)
		for _, k := range sortedKeys(val) {
			if err := sub.Set(k, val[k]); err != nil {
				return err
			}
		}
		return nil
	}
	return fmt.Errorf("%w: %T", ErrUnsupportedValue, v)
}

// Delete 递归删除 key 背后的所有内容；key 不存在时不报错。
func (t *Tree) Delete(key string) error {
	p, err := t.resolve(key)
	if err != nil {
		return err
	}
	if err := os.RemoveAll(p + ArrayExt); err != nil {
		return err
	}
	return os.RemoveAll(p)
}

// Extend 追加写入 key，条目不存在时先创建：数组沿首维追加，文件引用做字节拼接，
// 字段集合逐项递归追加。
func (t *Tree) Extend(key string, v Value) error {
	if err := validateValue(v); err != nil {
		return err
	}
	p, err := t.resolve(key)
	if err != nil {
		return err
	}

	switch val := v.(type) {
	case ArrayValue:
		if err := requireNoExt(key, p); err != nil {
			return err
		}
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			return err
		}
		return arrayfile.Extend(p+ArrayExt, val.Array)
	case FileRef:
		if err := requireExt(key, p); err != nil {
			return err
		}
		return appendFile(p, string(val))
	case Fields:
		if err := requireNoExt(key, p); err != nil {
			return err
		}
		if err := os.MkdirAll(p, 0o755); err != nil {
			return err
		}
		sub := New(p)
		for _, k := range sortedKeys(val) {
			if err := sub.Extend(k, val[k]); err != nil {
				return err
			}
		}
		return nil
	}
	return fmt.Errorf("%w: %T", ErrUnsupportedValue, v)
}

func (t *Tree) resolve(key string) (string, error) {
	name := strings.ReplaceAll(key, KeyDotMarker, ".")
	if strings.TrimSpace(name) == "" || filepath.IsAbs(name) {
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	clean := filepath.Clean(filepath.FromSlash(name))
	if clean == "." || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return filepath.Join(t.root, clean), nil
}

func requireNoExt(key, p string) error {
	if filepath.Ext(p) != "" {
		return fmt.Errorf("%w: %q must not have an extension", ErrKeyExtension, key)
	}
	return nil
}

func requireExt(key, p string) error {
	switch filepath.Ext(p) {
	case "":
		return fmt.Errorf("%w: %q needs an extension", ErrKeyExtension, key)
	case ArrayExt:
		return fmt.Errorf("%w: %q uses the reserved %s extension", ErrKeyExtension, key, ArrayExt)
	}
	return nil
}

func isRegular(p string) bool {
	info, err := os.Stat(p)
	return err == nil && info.Mode().IsRegular()
}

func sortedKeys(fields Fields) []string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func copyFile(dst, src string) error {
	in, err := openRegular(src)
	if err != nil {
		return err
	}
	defer in.Close()

	if err := os.RemoveAll(dst); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	_, err = io.Copy(out, in)
	closeErr := out.Close()
	if err == nil {
		err = closeErr
	}
	return err
}

func appendFile(dst, src string) error {
	in, err := openRegular(src)
	if err != nil {
		return err
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	_, err = io.Copy(out, in)
	closeErr := out.Close()
	if err == nil {
		err = closeErr
	}
	return err
}

// openRegular 打开 src 并确认它是普通文件，目录等其它类型返回 ErrUnsupportedValue。
func openRegular(src string) (*os.File, error) {
	in, err := os.Open(src)
	if err != nil {
		return nil, err
	}
	info, err := in.Stat()
	if err != nil {
		in.Close()
		return nil, err
	}
	if !info.Mode().IsRegular() {
		in.Close()
		return nil, fmt.Errorf("%w: %q is not a regular file", ErrUnsupportedValue, src)
	}
	return in, nil
}
