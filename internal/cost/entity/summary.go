package entity

import "time"

// ProjectSummary 项目汇总缓存行，每个项目一条
//
// 不随账本写入自动重算；通过显式Refresh重建（见summary service）。
type ProjectSummary struct {
	ProjectID      string  `json:"project_id" gorm:"primaryKey;size:32"`
	StructureCount int     `json:"structure_count" gorm:"default:0"`
	ElementCount   int     `json:"element_count" gorm:"default:0"`

	EstimateTotal       float64 `json:"estimate_total" gorm:"type:decimal(15,2);default:0"`
	PaidBillsTotal      float64 `json:"paid_bills_total" gorm:"type:decimal(15,2);default:0"`
	UnpaidBillsTotal    float64 `json:"unpaid_bills_total" gorm:"type:decimal(15,2);default:0"`
	BillsDifference     float64 `json:"bills_difference" gorm:"type:decimal(15,2);default:0"`
	PurchaseOrdersTotal float64 `json:"purchase_orders_total" gorm:"type:decimal(15,2);default:0"`
	WagesTotal          float64 `json:"wages_total" gorm:"type:decimal(15,2);default:0"`

	LastUpdatedAt time.Time `json:"last_updated_at"`
}

func (ProjectSummary) TableName() string {
	return "cost_project_summaries"
}
