package service

import (
	"errors"
	"fmt"

	"github.com/bitfantasy/nimo-cost/internal/cost/entity"
	"github.com/bitfantasy/nimo-cost/internal/cost/repository"
	"gorm.io/gorm"
)

// RollupPropagator 父链重算器
//
// 父节点累加器=直接子节点当前值之和（全量重算，非增量），
// 幂等且自愈；逐级向上直到根（本领域树深≤4层）。
type RollupPropagator struct {
	nodeRepo *repository.NodeRepository
}

func NewRollupPropagator(nodeRepo *repository.NodeRepository) *RollupPropagator {
	return &RollupPropagator{nodeRepo: nodeRepo}
}

// 父链深度上限，超出视为parent_id成环
const maxRollupDepth = 8

// Propagate 对被触及的父节点逐层向上重算
//
// 同层去重后整层算完再收集上一层：共享祖先要等它全部被触及的
// 子节点都重算完才轮到自己，不会读到子节点的旧值。
func (p *RollupPropagator) Propagate(tx *gorm.DB, parentIDs []string) error {
	frontier := make(map[string]bool, len(parentIDs))
	for _, id := range parentIDs {
		if id != "" {
			frontier[id] = true
		}
	}

	for depth := 0; len(frontier) > 0; depth++ {
		if depth >= maxRollupDepth {
			return fmt.Errorf("rollup depth exceeds %d, parent chain may be cyclic", maxRollupDepth)
		}
		next := make(map[string]bool)
		for id := range frontier {
			parent, err := p.recompute(tx, id)
			if err != nil {
				return fmt.Errorf("rollup node %s: %w", id, err)
			}
			if parent != "" {
				next[parent] = true
			}
		}
		frontier = next
	}
	return nil
}

// recompute 重算一个父节点，返回其上级id（到根返回空串）
func (p *RollupPropagator) recompute(tx *gorm.DB, nodeID string) (string, error) {
	sums, err := p.nodeRepo.SumChildren(tx, nodeID)
	if err != nil {
		return "", err
	}

	var lastErr error
	for i := 0; i < accumulatorRetries; i++ {
		node, err := p.nodeRepo.FindByIDTx(tx, nodeID)
		if err != nil {
			return "", err
		}

		node.PaidBills = sums.PaidBills
		node.PendingBills = sums.PendingBills
		node.ExternalBills = sums.ExternalBills
		node.Wages = sums.Wages

		if err := p.nodeRepo.UpdateAccumulators(tx, node); err != nil {
			if errors.Is(err, repository.ErrVersionConflict) {
				lastErr = err
				continue
			}
			return "", err
		}

		if node.ParentID != nil {
			return *node.ParentID, nil
		}
		return "", nil
	}
	return "", lastErr
}

// RecomputeProject 全量重算一个项目的非叶节点（自底向上），修复漂移用
func (p *RollupPropagator) RecomputeProject(tx *gorm.DB, projectID string) error {
	var parents []entity.BudgetNode
	err := tx.Where("project_id = ? AND is_parent = true", projectID).
		Order("level DESC").
		Find(&parents).Error
	if err != nil {
		return err
	}

	for i := range parents {
		if _, err := p.recompute(tx, parents[i].ID); err != nil {
			return err
		}
	}
	return nil
}
