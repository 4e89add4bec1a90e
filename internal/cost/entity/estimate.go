package entity

import "time"

// UnassignedStructureName 孤儿分部的兜底结构名称
const UnassignedStructureName = "Unassigned Elements"

// BudgetStructure 概算结构（预算树顶层的估算侧镜像）
type BudgetStructure struct {
	ID        string  `json:"id" gorm:"primaryKey;size:32"`
	ProjectID string  `json:"project_id" gorm:"size:32;not null;index"`
	Name      string  `json:"name" gorm:"size:200;not null"`
	Amount    float64 `json:"amount" gorm:"type:decimal(15,2);default:0"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Elements []BudgetElement `json:"elements,omitempty" gorm:"foreignKey:StructureID"`
}

func (BudgetStructure) TableName() string {
	return "cost_budget_structures"
}

// BudgetElement 概算分部；structure_id为空即为孤儿
type BudgetElement struct {
	ID          string  `json:"id" gorm:"primaryKey;size:32"`
	ProjectID   string  `json:"project_id" gorm:"size:32;not null;index"`
	StructureID *string `json:"structure_id" gorm:"size:32;index"`
	Name        string  `json:"name" gorm:"size:200;not null"`
	Amount      float64 `json:"amount" gorm:"type:decimal(15,2);default:0"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (BudgetElement) TableName() string {
	return "cost_budget_elements"
}
