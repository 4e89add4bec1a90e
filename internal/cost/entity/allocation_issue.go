package entity

import "time"

// AllocationIssue 分摊异常记录
//
// 付款行已提交但节点账本更新失败时写入，供人工对账。
// 尽力写入，不参与事务。
type AllocationIssue struct {
	ID        string      `json:"id" gorm:"primaryKey;size:32"`
	ProjectID string      `json:"project_id" gorm:"size:32;not null;index"`
	BillID    string      `json:"bill_id" gorm:"size:32;not null;index"`
	PaymentID string      `json:"payment_id" gorm:"size:32;index"`
	Stage     string      `json:"stage" gorm:"size:20"` // commit/allocate/rollup/reverse
	NodeIDs   StringArray `json:"node_ids" gorm:"type:jsonb"`
	Message   string      `json:"message" gorm:"type:text"`
	Resolved  bool        `json:"resolved" gorm:"default:false;index"`
	CreatedAt time.Time   `json:"created_at"`
}

func (AllocationIssue) TableName() string {
	return "cost_allocation_issues"
}
