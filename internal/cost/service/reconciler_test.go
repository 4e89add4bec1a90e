package service

import (
	"context"
	"testing"

	"github.com/bitfantasy/nimo-cost/internal/cost/entity"
	"github.com/bitfantasy/nimo-cost/internal/cost/repository"
	"github.com/bitfantasy/nimo-cost/internal/cost/testutil"
	"go.uber.org/zap"
)

func setupReconcilerTest(t *testing.T) (*OrphanReconciler, *repository.Repositories, *testutil.TestEnv) {
	t.Helper()
	db := testutil.SetupTestDB(t)
	repos := repository.NewRepositories(db)
	summary := NewSummaryService(repos, nil, zap.NewNop())
	reconciler := NewOrphanReconciler(repos, summary, db, zap.NewNop())
	return reconciler, repos, &testutil.TestEnv{DB: db, T: t}
}

func TestFixOrphanedElements(t *testing.T) {
	reconciler, repos, env := setupReconcilerTest(t)
	ctx := context.Background()

	s := testutil.SeedStructure(t, env.DB, "proj-001", "Block A", 5000)
	testutil.SeedElement(t, env.DB, "proj-001", &s.ID, "Foundation", 3000)
	testutil.SeedElement(t, env.DB, "proj-001", nil, "Loose One", 700)
	testutil.SeedElement(t, env.DB, "proj-001", nil, "Loose Two", 300)

	result, err := reconciler.FixOrphanedElements(ctx, "proj-001")
	if err != nil {
		t.Fatalf("FixOrphanedElements failed: %v", err)
	}
	if !result.Success || result.FixedCount != 2 {
		t.Errorf("Result = %+v, want success with 2 fixed", result)
	}

	// 兜底结构已创建，金额为孤儿之和
	fallback, err := repos.Estimate.FindStructureByName(env.DB, "proj-001", entity.UnassignedStructureName)
	if err != nil {
		t.Fatalf("Fallback structure not found: %v", err)
	}
	if fallback.Amount != 1000 {
		t.Errorf("Fallback amount = %v, want 1000", fallback.Amount)
	}

	// 孤儿已全部挂接
	orphans, err := repos.Estimate.FindOrphanElements(ctx, "proj-001")
	if err != nil {
		t.Fatalf("FindOrphanElements failed: %v", err)
	}
	if len(orphans) != 0 {
		t.Errorf("Orphans remaining = %d, want 0", len(orphans))
	}
}

func TestFixOrphanedElementsIdempotent(t *testing.T) {
	reconciler, _, env := setupReconcilerTest(t)
	ctx := context.Background()

	testutil.SeedElement(t, env.DB, "proj-001", nil, "Loose One", 500)

	if _, err := reconciler.FixOrphanedElements(ctx, "proj-001"); err != nil {
		t.Fatalf("First run failed: %v", err)
	}

	// 再次执行：无孤儿，空操作，不新建结构
	result, err := reconciler.FixOrphanedElements(ctx, "proj-001")
	if err != nil {
		t.Fatalf("Second run failed: %v", err)
	}
	if result.FixedCount != 0 || !result.Success {
		t.Errorf("Second run result = %+v, want 0 fixed", result)
	}

	var count int64
	env.DB.Model(&entity.BudgetStructure{}).
		Where("project_id = ? AND name = ?", "proj-001", entity.UnassignedStructureName).
		Count(&count)
	if count != 1 {
		t.Errorf("Fallback structure count = %d, want 1", count)
	}
}

func TestFixOrphanedElementsReusesExistingStructure(t *testing.T) {
	reconciler, _, env := setupReconcilerTest(t)
	ctx := context.Background()

	// 兜底结构已存在（此前修复过）：复用，金额不追加
	existing := testutil.SeedStructure(t, env.DB, "proj-001", entity.UnassignedStructureName, 800)
	testutil.SeedElement(t, env.DB, "proj-001", nil, "New Orphan", 250)

	result, err := reconciler.FixOrphanedElements(ctx, "proj-001")
	if err != nil {
		t.Fatalf("FixOrphanedElements failed: %v", err)
	}
	if result.FixedCount != 1 {
		t.Errorf("FixedCount = %d, want 1", result.FixedCount)
	}

	var structure entity.BudgetStructure
	env.DB.Where("id = ?", existing.ID).First(&structure)
	if structure.Amount != 800 {
		t.Errorf("Existing structure amount changed to %v", structure.Amount)
	}

	var element entity.BudgetElement
	env.DB.Where("project_id = ? AND name = ?", "proj-001", "New Orphan").First(&element)
	if element.StructureID == nil || *element.StructureID != existing.ID {
		t.Errorf("Orphan not reassigned to existing structure")
	}
}

func TestFixOrphanedElementsNoOrphans(t *testing.T) {
	reconciler, _, env := setupReconcilerTest(t)
	ctx := context.Background()

	s := testutil.SeedStructure(t, env.DB, "proj-001", "Block A", 5000)
	testutil.SeedElement(t, env.DB, "proj-001", &s.ID, "Foundation", 3000)

	result, err := reconciler.FixOrphanedElements(ctx, "proj-001")
	if err != nil {
		t.Fatalf("FixOrphanedElements failed: %v", err)
	}
	if result.FixedCount != 0 || !result.Success {
		t.Errorf("Result = %+v, want no-op success", result)
	}

	var count int64
	env.DB.Model(&entity.BudgetStructure{}).
		Where("name = ?", entity.UnassignedStructureName).Count(&count)
	if count != 0 {
		t.Errorf("No fallback structure should be created, got %d", count)
	}
}
