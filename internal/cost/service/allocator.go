package service

import (
	"errors"
	"fmt"

	"github.com/bitfantasy/nimo-cost/internal/cost/entity"
	"github.com/bitfantasy/nimo-cost/internal/cost/repository"
	"gorm.io/gorm"
)

// 乐观锁冲突重试次数
const accumulatorRetries = 3

// PaymentAllocator 付款分摊器
//
// 把一笔付款按账单行项占比折算到各成本控制节点，只改叶子累加器，
// 父链重算交给RollupPropagator。
type PaymentAllocator struct {
	nodeRepo *repository.NodeRepository
	rollup   *RollupPropagator
}

func NewPaymentAllocator(nodeRepo *repository.NodeRepository, rollup *RollupPropagator) *PaymentAllocator {
	return &PaymentAllocator{nodeRepo: nodeRepo, rollup: rollup}
}

// NodeShares 按节点汇总账单行项金额，无节点引用的行项丢弃
func NodeShares(items []entity.BillItem) map[string]float64 {
	shares := make(map[string]float64)
	for _, item := range items {
		if item.CostControlItemID == nil || *item.CostControlItemID == "" {
			continue
		}
		shares[*item.CostControlItemID] += item.Amount
	}
	return shares
}

// AttributePayment 付款在各节点间的比例分配，Σ结果 = paymentAmount
//
// billAmount为0时无比例可言，返回空。
func AttributePayment(shares map[string]float64, billAmount, paymentAmount float64) map[string]float64 {
	if billAmount == 0 {
		return nil
	}
	attributed := make(map[string]float64, len(shares))
	for nodeID, itemTotal := range shares {
		attributed[nodeID] = paymentAmount * (itemTotal / billAmount)
	}
	return attributed
}

// CommitOnCreate 建单即承诺：每个被引用节点 pending_bills += 行项小计
func (a *PaymentAllocator) CommitOnCreate(tx *gorm.DB, bill *entity.Bill) error {
	shares := NodeShares(bill.Items)
	if len(shares) == 0 {
		return nil
	}

	touched := make([]string, 0, len(shares))
	for nodeID, itemTotal := range shares {
		total := itemTotal
		node, err := a.applyWithRetry(tx, nodeID, func(n *entity.BudgetNode) {
			n.PendingBills += total
		})
		if err != nil {
			return fmt.Errorf("commit pending for node %s: %w", nodeID, err)
		}
		if node.ParentID != nil {
			touched = append(touched, *node.ParentID)
		}
	}

	return a.rollup.Propagate(tx, touched)
}

// AllocatePayment 一次付款分摊（spec的单次分摊过程）
//
// 账单全额付清时，该节点的全部承诺金额从pending清除，而不只是
// 本次付款的折算份额；部分付款只清折算份额。
func (a *PaymentAllocator) AllocatePayment(tx *gorm.DB, bill *entity.Bill, payment *entity.BillPayment, fullyPaid bool) error {
	shares := NodeShares(bill.Items)
	if len(shares) == 0 || bill.Amount == 0 {
		return nil
	}

	attributed := AttributePayment(shares, bill.Amount, payment.Amount)

	touched := make([]string, 0, len(shares))
	for nodeID := range shares {
		itemTotal := shares[nodeID]
		attr := attributed[nodeID]

		node, err := a.applyWithRetry(tx, nodeID, func(n *entity.BudgetNode) {
			n.PaidBills += attr
			cleared := attr
			if fullyPaid {
				cleared = itemTotal
			}
			n.PendingBills -= cleared
			if n.PendingBills < 0 {
				n.PendingBills = 0
			}
		})
		if err != nil {
			return fmt.Errorf("allocate payment %s to node %s: %w", payment.ID, nodeID, err)
		}
		if node.ParentID != nil {
			touched = append(touched, *node.ParentID)
		}
	}

	return a.rollup.Propagate(tx, touched)
}

// ReverseCommitments 删除账单时回冲未清承诺
//
// 已清除份额 = 累计付款 × 节点占比，未清份额 = 行项小计 − 已清份额。
// 已付金额不回冲（付款已真实发生）。
func (a *PaymentAllocator) ReverseCommitments(tx *gorm.DB, bill *entity.Bill, paidSoFar float64) error {
	shares := NodeShares(bill.Items)
	if len(shares) == 0 || bill.Amount == 0 {
		return nil
	}

	paidFraction := paidSoFar / bill.Amount
	if paidFraction > 1 {
		paidFraction = 1
	}

	touched := make([]string, 0, len(shares))
	for nodeID, itemTotal := range shares {
		uncleared := itemTotal * (1 - paidFraction)
		if uncleared <= 0 {
			continue
		}
		node, err := a.applyWithRetry(tx, nodeID, func(n *entity.BudgetNode) {
			n.PendingBills -= uncleared
			if n.PendingBills < 0 {
				n.PendingBills = 0
			}
		})
		if err != nil {
			return fmt.Errorf("reverse commitment for node %s: %w", nodeID, err)
		}
		if node.ParentID != nil {
			touched = append(touched, *node.ParentID)
		}
	}

	return a.rollup.Propagate(tx, touched)
}

// applyWithRetry 读-改-写一个节点，乐观锁冲突时重读重试
func (a *PaymentAllocator) applyWithRetry(tx *gorm.DB, nodeID string, mutate func(*entity.BudgetNode)) (*entity.BudgetNode, error) {
	var lastErr error
	for i := 0; i < accumulatorRetries; i++ {
		node, err := a.nodeRepo.FindByIDTx(tx, nodeID)
		if err != nil {
			return nil, err
		}
		mutate(node)
		if err := a.nodeRepo.UpdateAccumulators(tx, node); err != nil {
			if errors.Is(err, repository.ErrVersionConflict) {
				lastErr = err
				continue
			}
			return nil, err
		}
		return node, nil
	}
	return nil, lastErr
}
