package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bitfantasy/nimo-cost/internal/cost/entity"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SummaryRepository 项目汇总缓存行存取
type SummaryRepository struct {
	db *gorm.DB
}

func NewSummaryRepository(db *gorm.DB) *SummaryRepository {
	return &SummaryRepository{db: db}
}

func (r *SummaryRepository) Get(ctx context.Context, projectID string) (*entity.ProjectSummary, error) {
	var summary entity.ProjectSummary
	err := r.db.WithContext(ctx).Where("project_id = ?", projectID).First(&summary).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &summary, nil
}

// Upsert 写入汇总行（refreshProjectSummary存储过程的等价实现）
func (r *SummaryRepository) Upsert(ctx context.Context, summary *entity.ProjectSummary) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "project_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"structure_count", "element_count", "estimate_total",
			"paid_bills_total", "unpaid_bills_total", "bills_difference",
			"purchase_orders_total", "wages_total", "last_updated_at",
		}),
	}).Create(summary).Error
}

// Rebuild 从底层账本按SQL聚合重建一个项目的汇总
func (r *SummaryRepository) Rebuild(ctx context.Context, projectID string) (*entity.ProjectSummary, error) {
	summary := &entity.ProjectSummary{ProjectID: projectID}

	row := r.db.WithContext(ctx).Raw(`
		SELECT
			(SELECT COUNT(*) FROM cost_budget_structures WHERE project_id = @pid) AS structure_count,
			(SELECT COUNT(*) FROM cost_budget_elements WHERE project_id = @pid) AS element_count,
			(SELECT COALESCE(SUM(amount), 0) FROM cost_budget_structures WHERE project_id = @pid) AS estimate_total,
			(SELECT COALESCE(SUM(p.amount), 0)
				FROM cost_bill_payments p
				JOIN cost_bills b ON b.id = p.bill_id
				WHERE b.project_id = @pid AND b.status <> 'cancelled') AS paid_bills_total,
			(SELECT COALESCE(SUM(amount), 0) FROM cost_bills
				WHERE project_id = @pid AND status NOT IN ('cancelled', 'draft')) AS bills_total,
			(SELECT COALESCE(SUM(amount), 0) FROM cost_bills
				WHERE project_id = @pid AND purchase_order_id IS NOT NULL
					AND status NOT IN ('cancelled', 'draft')) AS purchase_orders_total,
			(SELECT COALESCE(SUM(wages), 0) FROM cost_budget_nodes
				WHERE project_id = @pid AND level = 0) AS wages_total
	`, map[string]interface{}{"pid": projectID}).Row()

	var billsTotal float64
	if err := row.Scan(
		&summary.StructureCount,
		&summary.ElementCount,
		&summary.EstimateTotal,
		&summary.PaidBillsTotal,
		&billsTotal,
		&summary.PurchaseOrdersTotal,
		&summary.WagesTotal,
	); err != nil {
		return nil, err
	}

	summary.UnpaidBillsTotal = billsTotal - summary.PaidBillsTotal
	if summary.UnpaidBillsTotal < 0 {
		summary.UnpaidBillsTotal = 0
	}
	summary.BillsDifference = summary.EstimateTotal - summary.PaidBillsTotal
	summary.LastUpdatedAt = time.Now()

	return summary, nil
}
