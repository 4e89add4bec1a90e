package service

import (
	"fmt"
	"strconv"
)

// 预算健康状态
const (
	BudgetStatusOK       = "ok"
	BudgetStatusWarning  = "warning"
	BudgetStatusCritical = "critical"
)

// warningThreshold 剩余低于可用预算10%进入warning
const warningThreshold = 0.10

// BudgetStatusResult 预算状态分类结果
type BudgetStatusResult struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// ClassifyBudgetStatus 按可用预算与已承诺金额给出状态与提示，纯函数
func ClassifyBudgetStatus(availableBudget, committedAmount float64) BudgetStatusResult {
	remaining := availableBudget - committedAmount

	switch {
	case remaining < 0:
		return BudgetStatusResult{
			Status:  BudgetStatusCritical,
			Message: fmt.Sprintf("Exceeds budget by %s", formatAmount(-remaining)),
		}
	case remaining < warningThreshold*availableBudget:
		return BudgetStatusResult{
			Status:  BudgetStatusWarning,
			Message: fmt.Sprintf("Only %s remaining", formatAmount(remaining)),
		}
	default:
		return BudgetStatusResult{
			Status:  BudgetStatusOK,
			Message: fmt.Sprintf("%s available", formatAmount(remaining)),
		}
	}
}

// formatAmount 金额展示：整数不带小数位，其余保留两位
func formatAmount(v float64) string {
	if v == float64(int64(v)) {
		return strconv.FormatInt(int64(v), 10)
	}
	return strconv.FormatFloat(v, 'f', 2, 64)
}
