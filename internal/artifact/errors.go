package artifact

import "errors"

var (
	// ErrInvalidArgument 表示构造调用本身不合法，例如缺少规格或路径为空。
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrSpecMismatch 表示已有目录记录的规格与请求不同。扫描候选目录时会跳过，
	// 显式指定路径时直接返回。
	ErrSpecMismatch = errors.New("incompatible spec")
	// ErrBuildAborted 表示目标目录状态为 stopped，不会自动重试。
	ErrBuildAborted = errors.New("artifact was stopped mid-build")
	// ErrUnknownType 表示规格的 type 没有注册 builder。
	ErrUnknownType = errors.New("unknown artifact type")
)
