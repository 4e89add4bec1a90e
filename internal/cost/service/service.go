package service

import (
	"github.com/bitfantasy/nimo-cost/internal/cost/repository"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Services 成本模块服务集合
type Services struct {
	Budget     *BudgetService
	Bill       *BillService
	Summary    *SummaryService
	Projector  *SummaryProjector
	Reconciler *OrphanReconciler
}

// NewServices 创建服务集合
func NewServices(db *gorm.DB, repos *repository.Repositories, rdb *redis.Client, logger *zap.Logger) *Services {
	rollup := NewRollupPropagator(repos.Node)
	allocator := NewPaymentAllocator(repos.Node, rollup)
	summary := NewSummaryService(repos, rdb, logger)

	return &Services{
		Budget:     NewBudgetService(repos, rollup, db),
		Bill:       NewBillService(repos, allocator, summary, db, logger),
		Summary:    summary,
		Projector:  NewSummaryProjector(repos, rdb),
		Reconciler: NewOrphanReconciler(repos, summary, db, logger),
	}
}
