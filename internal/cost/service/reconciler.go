package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/bitfantasy/nimo-cost/internal/cost/entity"
	"github.com/bitfantasy/nimo-cost/internal/cost/repository"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// OrphanReconciler 孤儿分部修复器
//
// 把structure_id为空的分部批量挂到"Unassigned Elements"兜底结构下，
// 结构不存在则创建。整个修复在一个事务内完成，可安全重试，
// 无孤儿时为空操作。
type OrphanReconciler struct {
	estimateRepo *repository.EstimateRepository
	summary      *SummaryService
	db           *gorm.DB
	logger       *zap.Logger
}

func NewOrphanReconciler(repos *repository.Repositories, summary *SummaryService, db *gorm.DB, logger *zap.Logger) *OrphanReconciler {
	return &OrphanReconciler{
		estimateRepo: repos.Estimate,
		summary:      summary,
		db:           db,
		logger:       logger,
	}
}

// ReconcileResult 孤儿修复结果
type ReconcileResult struct {
	FixedCount int64 `json:"fixed_count"`
	Success    bool  `json:"success"`
}

// FixOrphanedElements 修复一个项目的全部孤儿分部
//
// 兜底结构的金额取修复时刻孤儿金额之和；再次执行时已有结构
// 直接复用，金额不追加（幂等）。
func (r *OrphanReconciler) FixOrphanedElements(ctx context.Context, projectID string) (*ReconcileResult, error) {
	orphans, err := r.estimateRepo.FindOrphanElements(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("%w: 查询孤儿分部失败: %v", ErrReconciliation, err)
	}
	if len(orphans) == 0 {
		return &ReconcileResult{FixedCount: 0, Success: true}, nil
	}

	var orphanTotal float64
	for _, e := range orphans {
		orphanTotal += e.Amount
	}

	var fixed int64
	err = r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		structure, err := r.estimateRepo.FindStructureByName(tx, projectID, entity.UnassignedStructureName)
		if errors.Is(err, repository.ErrNotFound) {
			structure = &entity.BudgetStructure{
				ID:        uuid.New().String()[:32],
				ProjectID: projectID,
				Name:      entity.UnassignedStructureName,
				Amount:    orphanTotal,
			}
			if err := r.estimateRepo.CreateStructure(tx, structure); err != nil {
				return fmt.Errorf("创建兜底结构失败: %w", err)
			}
		} else if err != nil {
			return err
		}

		n, err := r.estimateRepo.ReassignOrphans(tx, projectID, structure.ID)
		if err != nil {
			return fmt.Errorf("批量指派孤儿分部失败: %w", err)
		}
		fixed = n
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrReconciliation, err)
	}

	r.logger.Info("Fixed orphaned elements",
		zap.String("project_id", projectID),
		zap.Int64("fixed_count", fixed),
	)

	if _, err := r.summary.Refresh(ctx, projectID); err != nil {
		r.logger.Warn("Failed to refresh summary after reconciliation",
			zap.String("project_id", projectID), zap.Error(err))
	}

	return &ReconcileResult{FixedCount: fixed, Success: true}, nil
}
