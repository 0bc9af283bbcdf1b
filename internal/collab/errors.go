package collab

import "errors"

// 错误分级：
// - 内容操作失败必须回传给提交方（回滚本地乐观修改）
// - 光标/在线状态失败只记日志，不影响编辑
var (
	ErrNotAuthorized    = errors.New("NOT_AUTHORIZED")
	ErrDocumentNotFound = errors.New("DOCUMENT_NOT_FOUND")
	ErrInvalidOperation = errors.New("INVALID_OPERATION")
	ErrTransientStore   = errors.New("TRANSIENT_STORE_FAILURE")
	ErrStaleApply       = errors.New("STALE_APPLY")
)
