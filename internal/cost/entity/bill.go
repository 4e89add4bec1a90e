package entity

import "time"

// 账单状态
const (
	BillStatusDraft     = "draft"
	BillStatusPending   = "pending"
	BillStatusPartial   = "partial"
	BillStatusPaid      = "paid"
	BillStatusOverdue   = "overdue"
	BillStatusCancelled = "cancelled"
)

// Bill 供应商账单
type Bill struct {
	ID              string  `json:"id" gorm:"primaryKey;size:32"`
	BillNumber      string  `json:"bill_number" gorm:"size:32;not null;uniqueIndex:uq_cost_bills_project_number"`
	ProjectID       string  `json:"project_id" gorm:"size:32;not null;uniqueIndex:uq_cost_bills_project_number;index"`
	SupplierID      string  `json:"supplier_id" gorm:"size:32;index"`
	PurchaseOrderID *string `json:"purchase_order_id" gorm:"size:32;index"`

	// 金额 = 行项金额之和
	Amount float64 `json:"amount" gorm:"type:decimal(15,2);default:0"`
	Status string  `json:"status" gorm:"size:20;default:pending"` // draft/pending/partial/paid/overdue/cancelled

	DueDate   *time.Time `json:"due_date"`
	CreatedBy string     `json:"created_by" gorm:"size:32"`
	Notes     string     `json:"notes" gorm:"type:text"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`

	Items    []BillItem    `json:"items,omitempty" gorm:"foreignKey:BillID"`
	Payments []BillPayment `json:"payments,omitempty" gorm:"foreignKey:BillID"`
}

func (Bill) TableName() string {
	return "cost_bills"
}

// PaidAmount 已付金额（需预加载Payments）
func (b *Bill) PaidAmount() float64 {
	var paid float64
	for _, p := range b.Payments {
		paid += p.Amount
	}
	return paid
}

// EffectiveStatus 读取时派生overdue（过期未付清），不落库
func (b *Bill) EffectiveStatus(now time.Time) string {
	if (b.Status == BillStatusPending || b.Status == BillStatusPartial) &&
		b.DueDate != nil && b.DueDate.Before(now) {
		return BillStatusOverdue
	}
	return b.Status
}

// StatusFor 账单状态是金额与累计付款的纯函数；draft/cancelled为显式覆盖
func (b *Bill) StatusFor(paid float64) string {
	if b.Status == BillStatusDraft || b.Status == BillStatusCancelled {
		return b.Status
	}
	switch {
	case b.Amount > 0 && paid >= b.Amount:
		return BillStatusPaid
	case paid > 0:
		return BillStatusPartial
	default:
		return BillStatusPending
	}
}

// BillItem 账单行项，可选关联一个成本控制节点（通常为叶子）
type BillItem struct {
	ID                string  `json:"id" gorm:"primaryKey;size:32"`
	BillID            string  `json:"bill_id" gorm:"size:32;not null;index"`
	Description       string  `json:"description" gorm:"size:500"`
	Quantity          float64 `json:"quantity" gorm:"type:decimal(15,4);default:1"`
	UnitCost          float64 `json:"unit_cost" gorm:"type:decimal(15,4);default:0"`
	Amount            float64 `json:"amount" gorm:"type:decimal(15,2);default:0"` // quantity × unit_cost
	CostControlItemID *string `json:"cost_control_item_id" gorm:"size:32;index"`
	SortOrder         int     `json:"sort_order" gorm:"default:0"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (BillItem) TableName() string {
	return "cost_bill_items"
}

// BillPayment 账单付款记录
type BillPayment struct {
	ID          string    `json:"id" gorm:"primaryKey;size:32"`
	BillID      string    `json:"bill_id" gorm:"size:32;not null;index"`
	Amount      float64   `json:"amount" gorm:"type:decimal(15,2);not null"`
	PaymentDate time.Time `json:"payment_date"`
	Method      string    `json:"method" gorm:"size:50;not null"` // bank_transfer/check/cash/other
	Reference   string    `json:"reference" gorm:"size:100"`
	Note        string    `json:"note" gorm:"type:text"`
	Status      string    `json:"status" gorm:"size:20;default:completed"` // completed/allocation_pending
	CreatedBy   string    `json:"created_by" gorm:"size:32"`
	CreatedAt   time.Time `json:"created_at"`
}

func (BillPayment) TableName() string {
	return "cost_bill_payments"
}
