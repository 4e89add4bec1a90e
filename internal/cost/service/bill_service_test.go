package service

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/bitfantasy/nimo-cost/internal/cost/entity"
	"github.com/bitfantasy/nimo-cost/internal/cost/repository"
	"github.com/bitfantasy/nimo-cost/internal/cost/testutil"
	"go.uber.org/zap"
)

func TestConcurrentPaymentsCannotExceedBillAmount(t *testing.T) {
	db := testutil.SetupTestDB(t)
	repos := repository.NewRepositories(db)
	services := NewServices(db, repos, nil, zap.NewNop())
	ctx := context.Background()

	structure := testutil.SeedNode(t, db, "proj-001", "Block A", entity.NodeLevelStructure, nil, 3500)
	element := testutil.SeedNode(t, db, "proj-001", "Foundation", entity.NodeLevelElement, &structure.ID, 3500)
	nodeA := testutil.SeedNode(t, db, "proj-001", "Concrete", entity.NodeLevelItem, &element.ID, 2000)
	nodeB := testutil.SeedNode(t, db, "proj-001", "Rebar", entity.NodeLevelItem, &element.ID, 1500)

	bill, err := services.Bill.CreateBill(ctx, "user-1", &CreateBillRequest{
		ProjectID:  "proj-001",
		SupplierID: "sup-001",
		Items: []CreateBillItem{
			{Description: "C30混凝土", Quantity: 1, UnitCost: 600, CostControlItemID: &nodeA.ID},
			{Description: "螺纹钢", Quantity: 1, UnitCost: 400, CostControlItemID: &nodeB.ID},
		},
	})
	if err != nil {
		t.Fatalf("CreateBill failed: %v", err)
	}

	// 两笔600并发付1000的账单：行锁内按库内累计校验，只能成功一笔
	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = services.Bill.RecordPayment(ctx, "user-1", bill.ID,
				&RecordPaymentRequest{Amount: 600, Method: "bank_transfer"})
		}(i)
	}
	wg.Wait()

	rejected := 0
	for _, err := range errs {
		if err != nil {
			if !errors.Is(err, ErrValidation) {
				t.Errorf("Expected validation error, got %v", err)
			}
			rejected++
		}
	}
	if rejected != 1 {
		t.Errorf("Expected exactly 1 rejected payment, got %d", rejected)
	}

	var total float64
	db.Model(&entity.BillPayment{}).
		Where("bill_id = ?", bill.ID).
		Select("COALESCE(SUM(amount), 0)").
		Scan(&total)
	if total != 600 {
		t.Errorf("Sum of payments = %v, want 600 (never above bill amount)", total)
	}
}
