package service

import "errors"

var (
	// ErrValidation 请求校验失败（金额非法、超出应付余额等），未发生任何写入
	ErrValidation = errors.New("validation failed")

	// ErrPartialAllocation 付款行已提交但节点账本更新未完成，需人工对账
	ErrPartialAllocation = errors.New("allocation incomplete")

	// ErrReconciliation 孤儿修复中途失败，操作可安全重试
	ErrReconciliation = errors.New("reconciliation failed")
)
