package service

import (
	"context"
	"testing"
	"time"

	"github.com/bitfantasy/nimo-cost/internal/cost/entity"
	"github.com/bitfantasy/nimo-cost/internal/cost/repository"
	"github.com/bitfantasy/nimo-cost/internal/cost/testutil"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

func seedBillWithPayment(t *testing.T, env *testutil.TestEnv, projectID string, amount, paid float64, status string) {
	t.Helper()
	bill := &entity.Bill{
		ID:         uuid.New().String()[:32],
		BillNumber: "BILL-T-" + uuid.New().String()[:8],
		ProjectID:  projectID,
		Amount:     amount,
		Status:     status,
	}
	if err := env.DB.Create(bill).Error; err != nil {
		t.Fatalf("Failed to seed bill: %v", err)
	}
	if paid > 0 {
		payment := &entity.BillPayment{
			ID:          uuid.New().String()[:32],
			BillID:      bill.ID,
			Amount:      paid,
			PaymentDate: time.Now(),
			Method:      "bank_transfer",
			Status:      "completed",
		}
		if err := env.DB.Create(payment).Error; err != nil {
			t.Fatalf("Failed to seed payment: %v", err)
		}
	}
}

func TestSummaryRefreshAggregates(t *testing.T) {
	db := testutil.SetupTestDB(t)
	env := &testutil.TestEnv{DB: db, T: t}
	repos := repository.NewRepositories(db)
	summary := NewSummaryService(repos, nil, zap.NewNop())
	ctx := context.Background()

	s := testutil.SeedStructure(t, db, "proj-001", "Block A", 10000)
	testutil.SeedStructure(t, db, "proj-001", "Block B", 5000)
	testutil.SeedElement(t, db, "proj-001", &s.ID, "Foundation", 6000)

	seedBillWithPayment(t, env, "proj-001", 2000, 1500, entity.BillStatusPartial)
	seedBillWithPayment(t, env, "proj-001", 1000, 0, entity.BillStatusPending)
	// 取消的账单不参与统计
	seedBillWithPayment(t, env, "proj-001", 800, 0, entity.BillStatusCancelled)

	result, err := summary.Refresh(ctx, "proj-001")
	if err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}

	if result.StructureCount != 2 {
		t.Errorf("StructureCount = %d, want 2", result.StructureCount)
	}
	if result.ElementCount != 1 {
		t.Errorf("ElementCount = %d, want 1", result.ElementCount)
	}
	if result.EstimateTotal != 15000 {
		t.Errorf("EstimateTotal = %v, want 15000", result.EstimateTotal)
	}
	if result.PaidBillsTotal != 1500 {
		t.Errorf("PaidBillsTotal = %v, want 1500", result.PaidBillsTotal)
	}
	// 未付 = 有效账单总额3000 − 已付1500
	if result.UnpaidBillsTotal != 1500 {
		t.Errorf("UnpaidBillsTotal = %v, want 1500", result.UnpaidBillsTotal)
	}
	if result.BillsDifference != 15000-1500 {
		t.Errorf("BillsDifference = %v, want 13500", result.BillsDifference)
	}

	// 汇总行已落库，Get走DB路径返回同样结果
	got, err := summary.Get(ctx, "proj-001")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.EstimateTotal != result.EstimateTotal || got.PaidBillsTotal != result.PaidBillsTotal {
		t.Errorf("Get mismatch: %+v vs %+v", got, result)
	}
}

func TestSummaryGetRebuildsWhenMissing(t *testing.T) {
	db := testutil.SetupTestDB(t)
	repos := repository.NewRepositories(db)
	summary := NewSummaryService(repos, nil, zap.NewNop())
	ctx := context.Background()

	testutil.SeedStructure(t, db, "proj-002", "Only Block", 4200)

	// 无汇总行时按需重建而非报错
	got, err := summary.Get(ctx, "proj-002")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.EstimateTotal != 4200 || got.StructureCount != 1 {
		t.Errorf("Rebuilt summary = %+v", got)
	}
}
