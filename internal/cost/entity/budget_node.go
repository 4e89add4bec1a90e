package entity

import "time"

// 预算节点层级
const (
	NodeLevelStructure = 0 // 结构（栋/区）
	NodeLevelElement   = 1 // 分部
	NodeLevelItem      = 2 // 清单项（叶子）
)

// BudgetNode 成本控制树节点（结构/分部/清单项）
//
// 金额累加器只允许通过付款分摊和账单承诺写入；父节点的累加器
// 由RollupPropagator按子节点求和重算，不做增量更新。
type BudgetNode struct {
	ID       string  `json:"id" gorm:"primaryKey;size:32"`
	ProjectID string `json:"project_id" gorm:"size:32;not null;index"`
	Name     string  `json:"name" gorm:"size:200;not null"`
	Level    int     `json:"level" gorm:"not null;default:0"`
	ParentID *string `json:"parent_id" gorm:"size:32;index"`
	IsParent bool    `json:"is_parent" gorm:"default:false"`

	// 预算原值（概算导入后不可变）
	BudgetAmount float64 `json:"budget_amount" gorm:"type:decimal(15,2);default:0"`

	// 累加器
	PaidBills     float64 `json:"paid_bills" gorm:"type:decimal(15,2);default:0"`
	PendingBills  float64 `json:"pending_bills" gorm:"type:decimal(15,2);default:0"`
	ExternalBills float64 `json:"external_bills" gorm:"type:decimal(15,2);default:0"`
	Wages         float64 `json:"wages" gorm:"type:decimal(15,2);default:0"`

	// 乐观锁版本号，叶子节点并发分摊用
	Version int64 `json:"version" gorm:"not null;default:0"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (BudgetNode) TableName() string {
	return "cost_budget_nodes"
}

// Actual 实际支出 = 已付 + 外部 + 人工
func (n *BudgetNode) Actual() float64 {
	return n.PaidBills + n.ExternalBills + n.Wages
}

// Difference 预算差额 = 预算 - 实际
func (n *BudgetNode) Difference() float64 {
	return n.BudgetAmount - n.Actual()
}

// AvailableBudget 可用预算 = 预算 - (已付 + 待付 + 外部 + 人工)
func (n *BudgetNode) AvailableBudget() float64 {
	return n.BudgetAmount - (n.PaidBills + n.PendingBills + n.ExternalBills + n.Wages)
}
