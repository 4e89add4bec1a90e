package repository

import (
	"errors"

	"gorm.io/gorm"
)

var (
	ErrNotFound        = errors.New("record not found")
	ErrVersionConflict = errors.New("version conflict")
)

// Repositories 成本模块仓库集合
type Repositories struct {
	Node     *NodeRepository
	Bill     *BillRepository
	Estimate *EstimateRepository
	Summary  *SummaryRepository
	Issue    *IssueRepository
}

// NewRepositories 创建成本模块仓库集合
func NewRepositories(db *gorm.DB) *Repositories {
	return &Repositories{
		Node:     NewNodeRepository(db),
		Bill:     NewBillRepository(db),
		Estimate: NewEstimateRepository(db),
		Summary:  NewSummaryRepository(db),
		Issue:    NewIssueRepository(db),
	}
}
