package service

import (
	"context"
	"fmt"

	"github.com/bitfantasy/nimo-cost/internal/cost/entity"
	"github.com/bitfantasy/nimo-cost/internal/cost/repository"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// BudgetService 成本控制树服务
type BudgetService struct {
	nodeRepo *repository.NodeRepository
	rollup   *RollupPropagator
	db       *gorm.DB
}

func NewBudgetService(repos *repository.Repositories, rollup *RollupPropagator, db *gorm.DB) *BudgetService {
	return &BudgetService{nodeRepo: repos.Node, rollup: rollup, db: db}
}

// NodeView 树节点视图，带派生字段
type NodeView struct {
	entity.BudgetNode
	Actual          float64     `json:"actual"`
	Difference      float64     `json:"difference"`
	AvailableBudget float64     `json:"available_budget"`
	Children        []*NodeView `json:"children,omitempty"`
}

// CreateNodeRequest 创建节点请求
type CreateNodeRequest struct {
	ID           string  `json:"id"`
	ProjectID    string  `json:"project_id" binding:"required"`
	Name         string  `json:"name" binding:"required"`
	ParentID     *string `json:"parent_id"`
	BudgetAmount float64 `json:"budget_amount"`
	Wages        float64 `json:"wages"`
	External     float64 `json:"external_bills"`
}

// Get 读取单个节点
func (s *BudgetService) Get(ctx context.Context, id string) (*NodeView, error) {
	node, err := s.nodeRepo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return newNodeView(node), nil
}

// Tree 一个项目的成本控制树
func (s *BudgetService) Tree(ctx context.Context, projectID string) ([]*NodeView, error) {
	nodes, err := s.nodeRepo.FindByProject(ctx, projectID)
	if err != nil {
		return nil, err
	}

	viewByID := make(map[string]*NodeView, len(nodes))
	for i := range nodes {
		viewByID[nodes[i].ID] = newNodeView(&nodes[i])
	}

	var roots []*NodeView
	for i := range nodes {
		view := viewByID[nodes[i].ID]
		if nodes[i].ParentID != nil {
			if parent, ok := viewByID[*nodes[i].ParentID]; ok {
				parent.Children = append(parent.Children, view)
				continue
			}
		}
		roots = append(roots, view)
	}
	return roots, nil
}

// CreateNode 创建节点；有父节点时层级为父级+1并标记父节点is_parent
func (s *BudgetService) CreateNode(ctx context.Context, req *CreateNodeRequest) (*NodeView, error) {
	if req.BudgetAmount < 0 {
		return nil, fmt.Errorf("%w: 预算金额不能为负", ErrValidation)
	}

	node := &entity.BudgetNode{
		ID:            req.ID,
		ProjectID:     req.ProjectID,
		Name:          req.Name,
		ParentID:      req.ParentID,
		BudgetAmount:  req.BudgetAmount,
		Wages:         req.Wages,
		ExternalBills: req.External,
	}
	if node.ID == "" {
		node.ID = uuid.New().String()[:32]
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if req.ParentID != nil {
			parent, err := s.nodeRepo.FindByIDTx(tx, *req.ParentID)
			if err != nil {
				return fmt.Errorf("父节点不存在: %w", err)
			}
			if parent.Level >= entity.NodeLevelItem {
				return fmt.Errorf("%w: 清单项下不能再挂子节点", ErrValidation)
			}
			if parent.ProjectID != req.ProjectID {
				return fmt.Errorf("%w: 父节点不属于该项目", ErrValidation)
			}
			node.Level = parent.Level + 1

			if !parent.IsParent {
				if err := tx.Model(&entity.BudgetNode{}).
					Where("id = ?", parent.ID).
					Update("is_parent", true).Error; err != nil {
					return err
				}
			}
		}
		if err := tx.Create(node).Error; err != nil {
			return fmt.Errorf("创建预算节点失败: %w", err)
		}
		// 带初始人工/外部支出时把父链拉平
		if node.ParentID != nil && (node.Wages != 0 || node.ExternalBills != 0) {
			return s.rollup.Propagate(tx, []string{*node.ParentID})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return newNodeView(node), nil
}

// DeleteNode 删除节点；有子节点或被账单行项引用时拒绝
func (s *BudgetService) DeleteNode(ctx context.Context, id string) error {
	node, err := s.nodeRepo.FindByID(ctx, id)
	if err != nil {
		return err
	}

	children, err := s.nodeRepo.FindChildren(ctx, id)
	if err != nil {
		return err
	}
	if len(children) > 0 {
		return fmt.Errorf("%w: 节点下还有子节点，不能删除", ErrValidation)
	}
	refs, err := s.nodeRepo.CountReferences(ctx, id)
	if err != nil {
		return err
	}
	if refs > 0 {
		return fmt.Errorf("%w: 节点已被账单行项引用，不能删除", ErrValidation)
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("id = ?", id).Delete(&entity.BudgetNode{}).Error; err != nil {
			return fmt.Errorf("删除预算节点失败: %w", err)
		}
		if node.ParentID == nil {
			return nil
		}

		var remaining int64
		if err := tx.Model(&entity.BudgetNode{}).
			Where("parent_id = ?", *node.ParentID).
			Count(&remaining).Error; err != nil {
			return err
		}
		if remaining == 0 {
			if err := tx.Model(&entity.BudgetNode{}).
				Where("id = ?", *node.ParentID).
				Update("is_parent", false).Error; err != nil {
				return err
			}
		}
		return s.rollup.Propagate(tx, []string{*node.ParentID})
	})
}

// Classify 对一个节点按拟承诺金额给出预算健康状态
func (s *BudgetService) Classify(ctx context.Context, nodeID string, committedAmount float64) (*BudgetStatusResult, error) {
	node, err := s.nodeRepo.FindByID(ctx, nodeID)
	if err != nil {
		return nil, err
	}
	result := ClassifyBudgetStatus(node.AvailableBudget(), committedAmount)
	return &result, nil
}

// Recompute 全量重算一个项目的父链累加器（漂移修复入口）
func (s *BudgetService) Recompute(ctx context.Context, projectID string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return s.rollup.RecomputeProject(tx, projectID)
	})
}

func newNodeView(node *entity.BudgetNode) *NodeView {
	return &NodeView{
		BudgetNode:      *node,
		Actual:          node.Actual(),
		Difference:      node.Difference(),
		AvailableBudget: node.AvailableBudget(),
	}
}
