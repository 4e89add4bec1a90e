package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bitfantasy/nimo-cost/internal/cost/entity"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// BillRepository 账单/行项/付款存取
type BillRepository struct {
	db *gorm.DB
}

func NewBillRepository(db *gorm.DB) *BillRepository {
	return &BillRepository{db: db}
}

// GenerateCode 生成账单编码 BILL-{year}-{4位}，项目内唯一
func (r *BillRepository) GenerateCode(ctx context.Context, projectID string) (string, error) {
	year := time.Now().Format("2006")
	prefix := fmt.Sprintf("BILL-%s-", year)

	var maxCode string
	err := r.db.WithContext(ctx).
		Model(&entity.Bill{}).
		Select("COALESCE(MAX(bill_number), '')").
		Where("project_id = ? AND bill_number LIKE ?", projectID, prefix+"%").
		Scan(&maxCode).Error
	if err != nil {
		return "", err
	}

	var seq int
	if maxCode != "" {
		fmt.Sscanf(maxCode, "BILL-"+year+"-%04d", &seq)
	}
	seq++
	return fmt.Sprintf("BILL-%s-%04d", year, seq), nil
}

func (r *BillRepository) Create(ctx context.Context, bill *entity.Bill) error {
	return r.db.WithContext(ctx).Create(bill).Error
}

func (r *BillRepository) FindByID(ctx context.Context, id string) (*entity.Bill, error) {
	var bill entity.Bill
	err := r.db.WithContext(ctx).
		Preload("Items", func(db *gorm.DB) *gorm.DB { return db.Order("sort_order") }).
		Preload("Payments", func(db *gorm.DB) *gorm.DB { return db.Order("payment_date") }).
		Where("id = ?", id).
		First(&bill).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &bill, nil
}

func (r *BillRepository) FindAll(ctx context.Context, page, pageSize int, filters map[string]string) ([]entity.Bill, int64, error) {
	query := r.db.WithContext(ctx).Model(&entity.Bill{})

	if v := filters["project_id"]; v != "" {
		query = query.Where("project_id = ?", v)
	}
	if v := filters["supplier_id"]; v != "" {
		query = query.Where("supplier_id = ?", v)
	}
	if v := filters["status"]; v != "" {
		query = query.Where("status = ?", v)
	}
	if v := filters["purchase_order_id"]; v != "" {
		query = query.Where("purchase_order_id = ?", v)
	}
	if v := filters["keyword"]; v != "" {
		kw := "%" + v + "%"
		query = query.Where("bill_number ILIKE ? OR notes ILIKE ?", kw, kw)
	}

	var total int64
	query.Count(&total)

	if page <= 0 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 20
	}

	var bills []entity.Bill
	err := query.Preload("Items").Preload("Payments").
		Order("created_at DESC").
		Offset((page - 1) * pageSize).Limit(pageSize).
		Find(&bills).Error
	return bills, total, err
}

// LockByID 事务内行锁读取账单，并发付款校验用
func (r *BillRepository) LockByID(tx *gorm.DB, id string) (*entity.Bill, error) {
	var bill entity.Bill
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).
		First(&bill).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &bill, nil
}

// SumPayments 账单累计付款金额
func (r *BillRepository) SumPayments(tx *gorm.DB, billID string) (float64, error) {
	var result struct{ Total float64 }
	err := tx.Raw(`
		SELECT COALESCE(SUM(amount), 0) AS total
		FROM cost_bill_payments
		WHERE bill_id = ?
	`, billID).Scan(&result).Error
	return result.Total, err
}

func (r *BillRepository) CreatePayment(tx *gorm.DB, payment *entity.BillPayment) error {
	return tx.Create(payment).Error
}

func (r *BillRepository) UpdateStatus(tx *gorm.DB, billID, status string) error {
	return tx.Model(&entity.Bill{}).Where("id = ?", billID).Update("status", status).Error
}

func (r *BillRepository) UpdatePaymentStatus(ctx context.Context, paymentID, status string) error {
	return r.db.WithContext(ctx).Model(&entity.BillPayment{}).
		Where("id = ?", paymentID).Update("status", status).Error
}

// Delete 级联删除付款、行项、账单（事务内）
func (r *BillRepository) Delete(tx *gorm.DB, billID string) error {
	if err := tx.Where("bill_id = ?", billID).Delete(&entity.BillPayment{}).Error; err != nil {
		return err
	}
	if err := tx.Where("bill_id = ?", billID).Delete(&entity.BillItem{}).Error; err != nil {
		return err
	}
	return tx.Where("id = ?", billID).Delete(&entity.Bill{}).Error
}

// DB 返回底层db用于事务
func (r *BillRepository) DB() *gorm.DB {
	return r.db
}
