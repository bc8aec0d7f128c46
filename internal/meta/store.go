// Package meta 负责读写每个 artifact 目录下的 _meta.yaml 旁路记录，
// 记录内容为 {spec, status}，格式保持人类可读，便于直接在磁盘上排查。
package meta

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/any-hub/artisan/internal/spec"
)

// FileName 是 artifact 目录中的元数据文件名，以 "_" 开头因此不会出现在公开条目中。
const FileName = "_meta.yaml"

// Status 描述 artifact 的构建状态。
type Status string

const (
	StatusRunning Status = "running"
	StatusDone    Status = "done"
	StatusStopped Status = "stopped"
)

// Valid 判断状态值是否为已知取值。
func (s Status) Valid() bool {
	switch s {
	case StatusRunning, StatusDone, StatusStopped:
		return true
	}
	return false
}

// Record 是一条元数据记录。Spec 在创建时写入且之后不再变化。
type Record struct {
	Spec   spec.Spec
	Status Status
}

// FallbackMode 决定元数据无法读取时的处理方式。
type FallbackMode string

const (
	// FallbackPermissive 把不可读的记录视为 {nil, done}，外来目录因此被当作已完成。
	FallbackPermissive FallbackMode = "permissive"
	// FallbackStrict 直接返回 ErrUnreadable。
	FallbackStrict FallbackMode = "strict"
)

// ErrUnreadable 表示元数据文件缺失或解析失败（仅 strict 模式返回）。
var ErrUnreadable = errors.New("metadata unreadable")

// Store 读写元数据旁路文件，零值即 permissive 模式且不输出日志。
type Store struct {
	Fallback FallbackMode
	Logger   *logrus.Logger
}

type recordFile struct {
	Spec   any    `yaml:"spec"`
	Status Status `yaml:"status"`
}

// Path 返回 dir 对应的元数据文件路径。
func Path(dir string) string {
	return filepath.Join(dir, FileName)
}

// Exists 报告元数据文件是否已经存在。
func (s *Store) Exists(dir string) bool {
	_, err := os.Stat(Path(dir))
	return err == nil
}

// Read 解析 dir 的元数据。permissive 模式下任何读取或解析失败都会返回
// {nil, done} 且 error 为 nil。
func (s *Store) Read(dir string) (Record, error) {
	rec, err := readRecord(Path(dir))
	if err == nil {
		return rec, nil
	}
	if s.mode() == FallbackStrict {
		return Record{}, fmt.Errorf("%s: %w: %v", dir, ErrUnreadable, err)
	}
	if s != nil && s.Logger != nil && !errors.Is(err, fs.ErrNotExist) {
		s.Logger.WithFields(logrus.Fields{
			"action": "meta_fallback",
			"path":   dir,
		}).Warn(err.Error())
	}
	return Record{Spec: nil, Status: StatusDone}, nil
}

// Write 覆盖写入元数据。先写同目录临时文件再 rename，轮询中的读者不会读到半条记录，
// 但不保证掉电后的持久性。
func (s *Store) Write(dir string, rec Record) error {
	if !rec.Status.Valid() {
		return fmt.Errorf("invalid status %q", rec.Status)
	}
	out := recordFile{Status: rec.Status}
	if rec.Spec != nil {
		out.Spec = map[string]any(rec.Spec)
	}
	payload, err := encodeRecord(out)
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}

	tempFile, err := os.CreateTemp(dir, "_meta-*.tmp")
	if err != nil {
		return err
	}
	tempName := tempFile.Name()

	_, err = tempFile.Write(payload)
	closeErr := tempFile.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(tempName)
		return err
	}

	if err := os.Rename(tempName, Path(dir)); err != nil {
		os.Remove(tempName)
		return err
	}
	return nil
}

func encodeRecord(out recordFile) (payload []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%v", r)
		}
	}()
	return yaml.Marshal(out)
}

func (s *Store) mode() FallbackMode {
	if s == nil || strings.TrimSpace(string(s.Fallback)) == "" {
		return FallbackPermissive
	}
	return s.Fallback
}

func readRecord(path string) (Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return Record{}, err
	}
	defer f.Close()

	raw, err := io.ReadAll(f)
	if err != nil {
		return Record{}, err
	}

	var file recordFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return Record{}, fmt.Errorf("parse metadata: %w", err)
	}
	if !file.Status.Valid() {
		return Record{}, fmt.Errorf("parse metadata: unknown status %q", file.Status)
	}

	rec := Record{Status: file.Status}
	switch v := file.Spec.(type) {
	case nil:
	case map[string]any:
		rec.Spec = spec.Spec(v)
	default:
		return Record{}, fmt.Errorf("parse metadata: spec must be a mapping, got %T", v)
	}
	return rec, nil
}
