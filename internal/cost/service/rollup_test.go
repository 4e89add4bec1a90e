package service

import (
	"testing"

	"github.com/bitfantasy/nimo-cost/internal/cost/entity"
	"github.com/bitfantasy/nimo-cost/internal/cost/repository"
	"github.com/bitfantasy/nimo-cost/internal/cost/testutil"
)

func TestPropagateRecomputesParentChain(t *testing.T) {
	db := testutil.SetupTestDB(t)
	repos := repository.NewRepositories(db)
	rollup := NewRollupPropagator(repos.Node)

	root := testutil.SeedNode(t, db, "proj-001", "Block A", entity.NodeLevelStructure, nil, 5000)
	mid := testutil.SeedNode(t, db, "proj-001", "Foundation", entity.NodeLevelElement, &root.ID, 5000)
	leafA := testutil.SeedNode(t, db, "proj-001", "Concrete", entity.NodeLevelItem, &mid.ID, 3000)
	leafB := testutil.SeedNode(t, db, "proj-001", "Rebar", entity.NodeLevelItem, &mid.ID, 2000)

	// 直接写叶子累加器，模拟一次已完成的分摊
	db.Model(&entity.BudgetNode{}).Where("id = ?", leafA.ID).
		Updates(map[string]interface{}{"paid_bills": 1200.0, "pending_bills": 300.0})
	db.Model(&entity.BudgetNode{}).Where("id = ?", leafB.ID).
		Updates(map[string]interface{}{"paid_bills": 800.0, "wages": 150.0})

	if err := rollup.Propagate(db, []string{mid.ID}); err != nil {
		t.Fatalf("Propagate failed: %v", err)
	}

	var got entity.BudgetNode
	db.Where("id = ?", mid.ID).First(&got)
	if got.PaidBills != 2000 || got.PendingBills != 300 || got.Wages != 150 {
		t.Errorf("Mid node = paid %v pending %v wages %v", got.PaidBills, got.PendingBills, got.Wages)
	}

	db.Where("id = ?", root.ID).First(&got)
	if got.PaidBills != 2000 || got.PendingBills != 300 {
		t.Errorf("Root node = paid %v pending %v", got.PaidBills, got.PendingBills)
	}
}

func TestPropagateSharedAncestorSumsAllChains(t *testing.T) {
	db := testutil.SetupTestDB(t)
	repos := repository.NewRepositories(db)
	rollup := NewRollupPropagator(repos.Node)

	// 一个结构下两个分部，各挂一个清单项：两条父链共享祖先
	root := testutil.SeedNode(t, db, "proj-001", "Block A", entity.NodeLevelStructure, nil, 5000)
	elemA := testutil.SeedNode(t, db, "proj-001", "Foundation", entity.NodeLevelElement, &root.ID, 3000)
	elemB := testutil.SeedNode(t, db, "proj-001", "Walls", entity.NodeLevelElement, &root.ID, 2000)
	leafA := testutil.SeedNode(t, db, "proj-001", "Concrete", entity.NodeLevelItem, &elemA.ID, 3000)
	leafB := testutil.SeedNode(t, db, "proj-001", "Bricks", entity.NodeLevelItem, &elemB.ID, 2000)

	db.Model(&entity.BudgetNode{}).Where("id = ?", leafA.ID).Update("paid_bills", 100.0)
	db.Model(&entity.BudgetNode{}).Where("id = ?", leafB.ID).Update("paid_bills", 200.0)

	if err := rollup.Propagate(db, []string{elemA.ID, elemB.ID}); err != nil {
		t.Fatalf("Propagate failed: %v", err)
	}

	// First复用同一个结构体会把上一行的主键带进WHERE条件，逐个用新变量查
	var gotA entity.BudgetNode
	db.Where("id = ?", elemA.ID).First(&gotA)
	if gotA.PaidBills != 100 {
		t.Errorf("elemA paid = %v, want 100", gotA.PaidBills)
	}
	var gotB entity.BudgetNode
	db.Where("id = ?", elemB.ID).First(&gotB)
	if gotB.PaidBills != 200 {
		t.Errorf("elemB paid = %v, want 200", gotB.PaidBills)
	}
	// 共享祖先要等两个分部都算完再算，否则会漏掉后算的那条链
	var gotRoot entity.BudgetNode
	db.Where("id = ?", root.ID).First(&gotRoot)
	if gotRoot.PaidBills != 300 {
		t.Errorf("Root paid = %v, want 300 (sum of both chains)", gotRoot.PaidBills)
	}
}

func TestPropagateIsIdempotent(t *testing.T) {
	db := testutil.SetupTestDB(t)
	repos := repository.NewRepositories(db)
	rollup := NewRollupPropagator(repos.Node)

	root := testutil.SeedNode(t, db, "proj-001", "Block A", entity.NodeLevelStructure, nil, 5000)
	leaf := testutil.SeedNode(t, db, "proj-001", "Concrete", entity.NodeLevelItem, &root.ID, 3000)
	db.Model(&entity.BudgetNode{}).Where("id = ?", leaf.ID).Update("paid_bills", 999.0)

	for i := 0; i < 3; i++ {
		if err := rollup.Propagate(db, []string{root.ID}); err != nil {
			t.Fatalf("Propagate run %d failed: %v", i, err)
		}
	}

	var got entity.BudgetNode
	db.Where("id = ?", root.ID).First(&got)
	if got.PaidBills != 999 {
		t.Errorf("Root paid = %v after repeated propagate, want 999", got.PaidBills)
	}
}

func TestRecomputeProjectRepairsDrift(t *testing.T) {
	db := testutil.SetupTestDB(t)
	repos := repository.NewRepositories(db)
	rollup := NewRollupPropagator(repos.Node)

	root := testutil.SeedNode(t, db, "proj-001", "Block A", entity.NodeLevelStructure, nil, 5000)
	mid := testutil.SeedNode(t, db, "proj-001", "Foundation", entity.NodeLevelElement, &root.ID, 5000)
	leaf := testutil.SeedNode(t, db, "proj-001", "Concrete", entity.NodeLevelItem, &mid.ID, 3000)

	db.Model(&entity.BudgetNode{}).Where("id = ?", leaf.ID).Update("paid_bills", 500.0)
	// 人为漂移：父节点与子节点之和不一致
	db.Model(&entity.BudgetNode{}).Where("id = ?", mid.ID).Update("paid_bills", 9999.0)
	db.Model(&entity.BudgetNode{}).Where("id = ?", root.ID).Update("paid_bills", 1.0)

	if err := rollup.RecomputeProject(db, "proj-001"); err != nil {
		t.Fatalf("RecomputeProject failed: %v", err)
	}

	var got entity.BudgetNode
	db.Where("id = ?", mid.ID).First(&got)
	if got.PaidBills != 500 {
		t.Errorf("Mid paid = %v, want 500", got.PaidBills)
	}
	db.Where("id = ?", root.ID).First(&got)
	if got.PaidBills != 500 {
		t.Errorf("Root paid = %v, want 500", got.PaidBills)
	}
}
