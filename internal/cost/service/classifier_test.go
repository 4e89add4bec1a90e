package service

import "testing"

func TestClassifyBudgetStatusCritical(t *testing.T) {
	result := ClassifyBudgetStatus(1000, 1800)
	if result.Status != BudgetStatusCritical {
		t.Errorf("Expected critical, got %s", result.Status)
	}
	if result.Message != "Exceeds budget by 800" {
		t.Errorf("Unexpected message: %s", result.Message)
	}
}

func TestClassifyBudgetStatusWarning(t *testing.T) {
	result := ClassifyBudgetStatus(1000, 950)
	if result.Status != BudgetStatusWarning {
		t.Errorf("Expected warning, got %s", result.Status)
	}
	if result.Message != "Only 50 remaining" {
		t.Errorf("Unexpected message: %s", result.Message)
	}
}

func TestClassifyBudgetStatusOK(t *testing.T) {
	result := ClassifyBudgetStatus(1000, 500)
	if result.Status != BudgetStatusOK {
		t.Errorf("Expected ok, got %s", result.Status)
	}
	if result.Message != "500 available" {
		t.Errorf("Unexpected message: %s", result.Message)
	}
}

func TestClassifyBudgetStatusBoundaries(t *testing.T) {
	// 剩余恰好为0：未超支，但低于10%阈值
	result := ClassifyBudgetStatus(1000, 1000)
	if result.Status != BudgetStatusWarning {
		t.Errorf("Expected warning at zero remaining, got %s", result.Status)
	}

	// 剩余恰好等于10%阈值：不触发warning
	result = ClassifyBudgetStatus(1000, 900)
	if result.Status != BudgetStatusOK {
		t.Errorf("Expected ok at exact threshold, got %s", result.Status)
	}

	// 可用预算为0且无承诺：剩余0，不为负
	result = ClassifyBudgetStatus(0, 0)
	if result.Status == BudgetStatusCritical {
		t.Errorf("Zero budget with zero commitment should not be critical")
	}
}

func TestClassifyBudgetStatusFractionalAmounts(t *testing.T) {
	result := ClassifyBudgetStatus(100, 150.5)
	if result.Status != BudgetStatusCritical {
		t.Errorf("Expected critical, got %s", result.Status)
	}
	if result.Message != "Exceeds budget by 50.50" {
		t.Errorf("Unexpected message: %s", result.Message)
	}
}
