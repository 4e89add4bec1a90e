package service

import (
	"math"
	"testing"

	"github.com/bitfantasy/nimo-cost/internal/cost/entity"
)

func strPtr(s string) *string { return &s }

func TestNodeShares(t *testing.T) {
	items := []entity.BillItem{
		{Amount: 600, CostControlItemID: strPtr("node-a")},
		{Amount: 300, CostControlItemID: strPtr("node-b")},
		{Amount: 100, CostControlItemID: strPtr("node-b")},
		{Amount: 50, CostControlItemID: nil},
		{Amount: 25, CostControlItemID: strPtr("")},
	}

	shares := NodeShares(items)
	if len(shares) != 2 {
		t.Fatalf("Expected 2 nodes, got %d", len(shares))
	}
	if shares["node-a"] != 600 {
		t.Errorf("node-a share = %v, want 600", shares["node-a"])
	}
	if shares["node-b"] != 400 {
		t.Errorf("node-b share = %v, want 400", shares["node-b"])
	}
}

func TestAttributePaymentProportional(t *testing.T) {
	shares := map[string]float64{"node-a": 600, "node-b": 400}

	attributed := AttributePayment(shares, 1000, 500)
	if math.Abs(attributed["node-a"]-300) > 1e-9 {
		t.Errorf("node-a attributed = %v, want 300", attributed["node-a"])
	}
	if math.Abs(attributed["node-b"]-200) > 1e-9 {
		t.Errorf("node-b attributed = %v, want 200", attributed["node-b"])
	}
}

func TestAttributePaymentConservation(t *testing.T) {
	// 不整除的比例下，分摊之和仍等于付款金额
	shares := map[string]float64{"a": 333.33, "b": 333.33, "c": 333.34}

	attributed := AttributePayment(shares, 1000, 700)
	var total float64
	for _, v := range attributed {
		total += v
	}
	if math.Abs(total-700) > 1e-6 {
		t.Errorf("Sum of attributed = %v, want 700", total)
	}
}

func TestAttributePaymentZeroBillAmount(t *testing.T) {
	shares := map[string]float64{"a": 100}
	if attributed := AttributePayment(shares, 0, 50); attributed != nil {
		t.Errorf("Expected nil for zero bill amount, got %v", attributed)
	}
}

func TestBillStatusFor(t *testing.T) {
	bill := &entity.Bill{Amount: 1000, Status: entity.BillStatusPending}

	if got := bill.StatusFor(0); got != entity.BillStatusPending {
		t.Errorf("StatusFor(0) = %s, want pending", got)
	}
	if got := bill.StatusFor(500); got != entity.BillStatusPartial {
		t.Errorf("StatusFor(500) = %s, want partial", got)
	}
	if got := bill.StatusFor(1000); got != entity.BillStatusPaid {
		t.Errorf("StatusFor(1000) = %s, want paid", got)
	}
	if got := bill.StatusFor(1200); got != entity.BillStatusPaid {
		t.Errorf("StatusFor(1200) = %s, want paid", got)
	}

	// draft/cancelled是显式覆盖，不随付款变化
	draft := &entity.Bill{Amount: 1000, Status: entity.BillStatusDraft}
	if got := draft.StatusFor(1000); got != entity.BillStatusDraft {
		t.Errorf("Draft StatusFor(1000) = %s, want draft", got)
	}
	cancelled := &entity.Bill{Amount: 1000, Status: entity.BillStatusCancelled}
	if got := cancelled.StatusFor(500); got != entity.BillStatusCancelled {
		t.Errorf("Cancelled StatusFor(500) = %s, want cancelled", got)
	}
}
