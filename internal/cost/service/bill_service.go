package service

import (
	"context"
	"fmt"
	"time"

	"github.com/bitfantasy/nimo-cost/internal/cost/entity"
	"github.com/bitfantasy/nimo-cost/internal/cost/repository"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// 付款金额比较容差
const amountEpsilon = 0.005

// BillService 账单台账服务
//
// 建单（含承诺登记）、付款（含分摊）、删单各自在一个事务内提交。
// 付款行提交后分摊失败不回滚付款，写AllocationIssue并向调用方
// 返回非致命警告。
type BillService struct {
	billRepo  *repository.BillRepository
	issueRepo *repository.IssueRepository
	allocator *PaymentAllocator
	summary   *SummaryService
	db        *gorm.DB
	logger    *zap.Logger
}

func NewBillService(repos *repository.Repositories, allocator *PaymentAllocator, summary *SummaryService, db *gorm.DB, logger *zap.Logger) *BillService {
	return &BillService{
		billRepo:  repos.Bill,
		issueRepo: repos.Issue,
		allocator: allocator,
		summary:   summary,
		db:        db,
		logger:    logger,
	}
}

// CreateBillItem 账单行项请求
type CreateBillItem struct {
	Description       string  `json:"description"`
	Quantity          float64 `json:"quantity"`
	UnitCost          float64 `json:"unit_cost"`
	CostControlItemID *string `json:"cost_control_item_id"`
}

// CreateBillRequest 创建账单请求
type CreateBillRequest struct {
	ProjectID       string           `json:"project_id" binding:"required"`
	SupplierID      string           `json:"supplier_id"`
	BillNumber      string           `json:"bill_number"`
	PurchaseOrderID *string          `json:"purchase_order_id"`
	DueDate         *time.Time       `json:"due_date"`
	Draft           bool             `json:"draft"`
	Notes           string           `json:"notes"`
	Items           []CreateBillItem `json:"items"`
}

// RecordPaymentRequest 登记付款请求
type RecordPaymentRequest struct {
	Amount      float64    `json:"amount" binding:"required"`
	PaymentDate *time.Time `json:"payment_date"`
	Method      string     `json:"method" binding:"required"`
	Reference   string     `json:"reference"`
	Note        string     `json:"note"`
}

// PaymentResult 付款结果；Warning非空表示付款已入账但预算数字可能延迟
type PaymentResult struct {
	Payment *entity.BillPayment `json:"payment"`
	Bill    *entity.Bill        `json:"bill"`
	Warning string              `json:"warning,omitempty"`
}

func (s *BillService) List(ctx context.Context, page, pageSize int, filters map[string]string) ([]entity.Bill, int64, error) {
	bills, total, err := s.billRepo.FindAll(ctx, page, pageSize, filters)
	if err != nil {
		return nil, 0, err
	}
	now := time.Now()
	for i := range bills {
		bills[i].Status = bills[i].EffectiveStatus(now)
	}
	return bills, total, nil
}

func (s *BillService) Get(ctx context.Context, id string) (*entity.Bill, error) {
	bill, err := s.billRepo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	bill.Status = bill.EffectiveStatus(time.Now())
	return bill, nil
}

// CreateBill 创建账单及行项，并对每个被引用节点登记承诺（建单即承诺）
func (s *BillService) CreateBill(ctx context.Context, userID string, req *CreateBillRequest) (*entity.Bill, error) {
	if len(req.Items) == 0 {
		return nil, fmt.Errorf("%w: 账单至少需要一个行项", ErrValidation)
	}

	billNumber := req.BillNumber
	if billNumber == "" {
		code, err := s.billRepo.GenerateCode(ctx, req.ProjectID)
		if err != nil {
			return nil, fmt.Errorf("生成账单编码失败: %w", err)
		}
		billNumber = code
	}

	status := entity.BillStatusPending
	if req.Draft {
		status = entity.BillStatusDraft
	}

	bill := &entity.Bill{
		ID:              uuid.New().String()[:32],
		BillNumber:      billNumber,
		ProjectID:       req.ProjectID,
		SupplierID:      req.SupplierID,
		PurchaseOrderID: req.PurchaseOrderID,
		Status:          status,
		DueDate:         req.DueDate,
		CreatedBy:       userID,
		Notes:           req.Notes,
	}

	var totalAmount float64
	for i, item := range req.Items {
		quantity := item.Quantity
		if quantity == 0 {
			quantity = 1
		}
		amount := quantity * item.UnitCost
		if amount < 0 {
			return nil, fmt.Errorf("%w: 行项金额不能为负", ErrValidation)
		}
		totalAmount += amount
		bill.Items = append(bill.Items, entity.BillItem{
			ID:                uuid.New().String()[:32],
			BillID:            bill.ID,
			Description:       item.Description,
			Quantity:          quantity,
			UnitCost:          item.UnitCost,
			Amount:            amount,
			CostControlItemID: item.CostControlItemID,
			SortOrder:         i + 1,
		})
	}
	bill.Amount = totalAmount

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(bill).Error; err != nil {
			return fmt.Errorf("创建账单失败: %w", err)
		}
		// 草稿不登记承诺，正式提交时再记
		if bill.Status == entity.BillStatusDraft {
			return nil
		}
		return s.allocator.CommitOnCreate(tx, bill)
	})
	if err != nil {
		return nil, err
	}

	s.summary.Invalidate(ctx, bill.ProjectID)
	return s.billRepo.FindByID(ctx, bill.ID)
}

// RecordPayment 登记付款并触发一次分摊
//
// 校验失败不产生任何写入；付款行提交后的分摊失败不回滚付款，
// 记AllocationIssue并在结果中携带警告。
func (s *BillService) RecordPayment(ctx context.Context, userID, billID string, req *RecordPaymentRequest) (*PaymentResult, error) {
	bill, err := s.billRepo.FindByID(ctx, billID)
	if err != nil {
		return nil, err
	}

	if req.Amount <= 0 {
		return nil, fmt.Errorf("%w: 付款金额必须大于0", ErrValidation)
	}
	if req.Method == "" {
		return nil, fmt.Errorf("%w: 付款方式必填", ErrValidation)
	}
	if bill.Status == entity.BillStatusDraft || bill.Status == entity.BillStatusCancelled {
		return nil, fmt.Errorf("%w: 当前账单状态不允许付款", ErrValidation)
	}

	paymentDate := time.Now()
	if req.PaymentDate != nil {
		paymentDate = *req.PaymentDate
	}

	payment := &entity.BillPayment{
		ID:          uuid.New().String()[:32],
		BillID:      bill.ID,
		Amount:      req.Amount,
		PaymentDate: paymentDate,
		Method:      req.Method,
		Reference:   req.Reference,
		Note:        req.Note,
		Status:      "completed",
		CreatedBy:   userID,
	}

	// 第一步：付款行与账单状态一起提交（财务事实先落地）。
	// 余额校验在行锁内基于库内累计付款做，并发付款串行通过，
	// 后到的超额付款在这里被拒。
	var newStatus string
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		locked, err := s.billRepo.LockByID(tx, bill.ID)
		if err != nil {
			return err
		}
		paid, err := s.billRepo.SumPayments(tx, bill.ID)
		if err != nil {
			return fmt.Errorf("统计已付金额失败: %w", err)
		}
		remaining := locked.Amount - paid
		if req.Amount > remaining+amountEpsilon {
			return fmt.Errorf("%w: 付款金额 %.2f 超出应付余额 %.2f", ErrValidation, req.Amount, remaining)
		}

		newStatus = locked.StatusFor(paid + req.Amount)
		if err := s.billRepo.CreatePayment(tx, payment); err != nil {
			return fmt.Errorf("写入付款记录失败: %w", err)
		}
		return s.billRepo.UpdateStatus(tx, bill.ID, newStatus)
	})
	if err != nil {
		return nil, err
	}
	bill.Status = newStatus

	result := &PaymentResult{Payment: payment, Bill: bill}

	// 第二步：分摊+父链重算，单独事务整体提交
	fullyPaid := newStatus == entity.BillStatusPaid
	allocErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return s.allocator.AllocatePayment(tx, bill, payment, fullyPaid)
	})
	if allocErr != nil {
		s.recordAllocationIssue(ctx, bill, payment, "allocate",
			fmt.Errorf("%w: %v", ErrPartialAllocation, allocErr))
		result.Warning = "payment recorded, budget figures may be delayed"
	}

	s.summary.Invalidate(ctx, bill.ProjectID)
	return result, nil
}

// DeleteBill 删除账单（级联行项与付款）
//
// 显式策略（原系统遗留问题）：删除前回冲未清承诺，保持守恒；
// 已有付款的账单默认拒绝删除，force时放行但不回冲已付金额。
func (s *BillService) DeleteBill(ctx context.Context, id string, force bool) error {
	bill, err := s.billRepo.FindByID(ctx, id)
	if err != nil {
		return err
	}

	paid := bill.PaidAmount()
	if paid > 0 && !force {
		return fmt.Errorf("%w: 账单已有付款记录，不能直接删除", ErrValidation)
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if bill.Status != entity.BillStatusDraft {
			if err := s.allocator.ReverseCommitments(tx, bill, paid); err != nil {
				return err
			}
		}
		return s.billRepo.Delete(tx, bill.ID)
	})
	if err != nil {
		return fmt.Errorf("删除账单失败: %w", err)
	}

	s.summary.Invalidate(ctx, bill.ProjectID)
	return nil
}

// Cancel 取消账单（显式状态覆盖），回冲未清承诺
func (s *BillService) Cancel(ctx context.Context, id string) (*entity.Bill, error) {
	bill, err := s.billRepo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if bill.Status == entity.BillStatusPaid {
		return nil, fmt.Errorf("%w: 已付清的账单不能取消", ErrValidation)
	}

	paid := bill.PaidAmount()
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if bill.Status != entity.BillStatusDraft {
			if err := s.allocator.ReverseCommitments(tx, bill, paid); err != nil {
				return err
			}
		}
		return s.billRepo.UpdateStatus(tx, bill.ID, entity.BillStatusCancelled)
	})
	if err != nil {
		return nil, err
	}

	s.summary.Invalidate(ctx, bill.ProjectID)
	bill.Status = entity.BillStatusCancelled
	return bill, nil
}

// recordAllocationIssue 尽力写入分摊异常记录并打日志
func (s *BillService) recordAllocationIssue(ctx context.Context, bill *entity.Bill, payment *entity.BillPayment, stage string, cause error) {
	nodeIDs := make(entity.StringArray, 0)
	for nodeID := range NodeShares(bill.Items) {
		nodeIDs = append(nodeIDs, nodeID)
	}

	issue := &entity.AllocationIssue{
		ID:        uuid.New().String()[:32],
		ProjectID: bill.ProjectID,
		BillID:    bill.ID,
		PaymentID: payment.ID,
		Stage:     stage,
		NodeIDs:   nodeIDs,
		Message:   cause.Error(),
	}
	if err := s.issueRepo.Create(ctx, issue); err != nil {
		s.logger.Error("Failed to record allocation issue",
			zap.String("bill_id", bill.ID),
			zap.String("payment_id", payment.ID),
			zap.Error(err),
		)
	}

	s.logger.Error("Payment allocation failed",
		zap.String("bill_id", bill.ID),
		zap.String("payment_id", payment.ID),
		zap.String("stage", stage),
		zap.Strings("node_ids", nodeIDs),
		zap.Error(cause),
	)

	// 付款行标记待分摊，便于检索
	if err := s.billRepo.UpdatePaymentStatus(ctx, payment.ID, "allocation_pending"); err != nil {
		s.logger.Warn("Failed to flag payment as allocation_pending",
			zap.String("payment_id", payment.ID), zap.Error(err))
	}
}
