// Package spec 定义 artifact 的声明式规格：字符串键到可序列化值的映射。
// 规格既用于选择 build routine（type 字段），也用于判断缓存是否命中。
package spec

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"
)

// TypeField 是规格中指定 build routine 名称的保留字段。
const TypeField = "type"

// Spec 是 artifact 的规格。值限定为标量、字符串以及嵌套的 map/slice，
// 与 _meta.yaml 可表达的内容一致。
type Spec map[string]any

// Type 返回 type 字段；缺失或不是字符串时返回空串。
func (s Spec) Type() string {
	if s == nil {
		return ""
	}
	name, _ := s[TypeField].(string)
	return strings.TrimSpace(name)
}

// Normalize 通过 YAML 往返得到与落盘后一致的结构，使 int/int64/float64(3)
// 等写法在比较时等价。nil 规格保持为 nil；含 chan、func 等无法序列化的值时返回错误。
func Normalize(s Spec) (Spec, error) {
	if s == nil {
		return nil, nil
	}
	raw, err := marshal(map[string]any(s))
	if err != nil {
		return nil, fmt.Errorf("encode spec: %w", err)
	}
	out := Spec{}
	if err := yaml.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode spec: %w", err)
	}
	return out, nil
}

// marshal 把 yaml.v3 遇到不支持类型时的 panic 转成 error。
func marshal(v any) (raw []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%v", r)
		}
	}()
	return yaml.Marshal(v)
}

// Clone 返回一份深拷贝，记录后的规格不会被调用方的后续修改影响。
func (s Spec) Clone() Spec {
	if s == nil {
		return nil
	}
	return cloneValue(map[string]any(s)).(map[string]any)
}

// Equal 判断两个规格是否结构相等。nil 只与 nil 相等；无法序列化的规格
// 视为不相等。
func Equal(a, b Spec) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	na, err := Normalize(a)
	if err != nil {
		return false
	}
	nb, err := Normalize(b)
	if err != nil {
		return false
	}
	return reflect.DeepEqual(na, nb)
}

// Decode 把规格解码到 builder 自己的配置结构体，字段使用 mapstructure tag。
func Decode(s Spec, out any) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return fmt.Errorf("build spec decoder: %w", err)
	}
	if err := decoder.Decode(map[string]any(s)); err != nil {
		return fmt.Errorf("decode spec: %w", err)
	}
	return nil
}

func cloneValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = cloneValue(item)
		}
		return out
	case Spec:
		return cloneValue(map[string]any(val))
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = cloneValue(item)
		}
		return out
	default:
		return v
	}
}
