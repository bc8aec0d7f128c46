package tree

import (
	"errors"
	"fmt"

	"github.com/any-hub/artisan/internal/arrayfile"
)

var (
	// ErrUnsupportedValue 表示 Set/Extend 收到数组、文件引用、字段集合以外的值。
	ErrUnsupportedValue = errors.New("unsupported value type")
	// ErrInvalidKey 表示键为空、为绝对路径或越出根目录。
	ErrInvalidKey = errors.New("invalid key")
	// ErrKeyExtension 表示键的扩展名与值类型不符：数组与子树不能带扩展名，文件必须带。
	ErrKeyExtension = errors.New("key extension does not fit value")
)

// Value 是 Set/Extend 接受的值：ArrayValue、FileRef 或 Fields。
type Value interface {
	isValue()
}

// ArrayValue 写入为数组容器。
type ArrayValue struct {
	arrayfile.Array
}

// FileRef 是一个已存在的外部文件路径，写入时复制其字节。
type FileRef string

// Fields 以子树形式递归写入。
type Fields map[string]Value

func (ArrayValue) isValue() {}
func (FileRef) isValue()    {}
func (Fields) isValue()     {}

// ArrayOf 把数组包装为 Value。
func ArrayOf(a arrayfile.Array) ArrayValue {
	return ArrayValue{Array: a}
}

// validateValue 在写盘之前递归检查，避免字段集合写到一半才发现非法值。
func validateValue(v Value) error {
	switch val := v.(type) {
	case ArrayValue, FileRef:
		return nil
	case Fields:
		for k, item := range val {
			if err := validateValue(item); err != nil {
				return fmt.Errorf("%s: %w", k, err)
			}
		}
		return nil
	default:
		return fmt.Errorf("%w: %T", ErrUnsupportedValue, v)
	}
}
