package repository

import (
	"context"
	"errors"

	"github.com/bitfantasy/nimo-cost/internal/cost/entity"
	"gorm.io/gorm"
)

// NodeRepository 预算节点存取，纯数据访问，无业务规则
type NodeRepository struct {
	db *gorm.DB
}

func NewNodeRepository(db *gorm.DB) *NodeRepository {
	return &NodeRepository{db: db}
}

func (r *NodeRepository) Create(ctx context.Context, node *entity.BudgetNode) error {
	return r.db.WithContext(ctx).Create(node).Error
}

func (r *NodeRepository) FindByID(ctx context.Context, id string) (*entity.BudgetNode, error) {
	var node entity.BudgetNode
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&node).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &node, nil
}

// FindByIDTx 事务内按id读取
func (r *NodeRepository) FindByIDTx(tx *gorm.DB, id string) (*entity.BudgetNode, error) {
	var node entity.BudgetNode
	err := tx.Where("id = ?", id).First(&node).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &node, nil
}

func (r *NodeRepository) FindByProject(ctx context.Context, projectID string) ([]entity.BudgetNode, error) {
	var nodes []entity.BudgetNode
	err := r.db.WithContext(ctx).
		Where("project_id = ?", projectID).
		Order("level, name").
		Find(&nodes).Error
	return nodes, err
}

func (r *NodeRepository) FindChildren(ctx context.Context, parentID string) ([]entity.BudgetNode, error) {
	var nodes []entity.BudgetNode
	err := r.db.WithContext(ctx).Where("parent_id = ?", parentID).Find(&nodes).Error
	return nodes, err
}

// AccumulatorSums 子节点累加器求和结果
type AccumulatorSums struct {
	PaidBills     float64
	PendingBills  float64
	ExternalBills float64
	Wages         float64
}

// SumChildren 汇总直接子节点的当前累加器值（父节点重算用）
func (r *NodeRepository) SumChildren(tx *gorm.DB, parentID string) (*AccumulatorSums, error) {
	var sums AccumulatorSums
	err := tx.Raw(`
		SELECT
			COALESCE(SUM(paid_bills), 0) AS paid_bills,
			COALESCE(SUM(pending_bills), 0) AS pending_bills,
			COALESCE(SUM(external_bills), 0) AS external_bills,
			COALESCE(SUM(wages), 0) AS wages
		FROM cost_budget_nodes
		WHERE parent_id = ?
	`, parentID).Scan(&sums).Error
	if err != nil {
		return nil, err
	}
	return &sums, nil
}

// UpdateAccumulators 带乐观锁版本校验的累加器写入
//
// version不匹配时返回ErrVersionConflict，调用方重读后重试。
func (r *NodeRepository) UpdateAccumulators(tx *gorm.DB, node *entity.BudgetNode) error {
	result := tx.Model(&entity.BudgetNode{}).
		Where("id = ? AND version = ?", node.ID, node.Version).
		Updates(map[string]interface{}{
			"paid_bills":     node.PaidBills,
			"pending_bills":  node.PendingBills,
			"external_bills": node.ExternalBills,
			"wages":          node.Wages,
			"version":        node.Version + 1,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrVersionConflict
	}
	node.Version++
	return nil
}

// CountReferences 统计引用该节点的账单行项数（删除保护用）
func (r *NodeRepository) CountReferences(ctx context.Context, nodeID string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&entity.BillItem{}).
		Where("cost_control_item_id = ?", nodeID).
		Count(&count).Error
	return count, err
}

// DB 返回底层db用于事务
func (r *NodeRepository) DB() *gorm.DB {
	return r.db
}
