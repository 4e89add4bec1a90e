package repository

import (
	"context"

	"github.com/bitfantasy/nimo-cost/internal/cost/entity"
	"gorm.io/gorm"
)

// IssueRepository 分摊异常记录存取
type IssueRepository struct {
	db *gorm.DB
}

func NewIssueRepository(db *gorm.DB) *IssueRepository {
	return &IssueRepository{db: db}
}

func (r *IssueRepository) Create(ctx context.Context, issue *entity.AllocationIssue) error {
	return r.db.WithContext(ctx).Create(issue).Error
}

func (r *IssueRepository) FindAll(ctx context.Context, page, pageSize int, filters map[string]string) ([]entity.AllocationIssue, int64, error) {
	query := r.db.WithContext(ctx).Model(&entity.AllocationIssue{})

	if v := filters["project_id"]; v != "" {
		query = query.Where("project_id = ?", v)
	}
	if v := filters["bill_id"]; v != "" {
		query = query.Where("bill_id = ?", v)
	}
	if v := filters["resolved"]; v != "" {
		query = query.Where("resolved = ?", v == "true")
	}

	var total int64
	query.Count(&total)

	if page <= 0 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 20
	}

	var issues []entity.AllocationIssue
	err := query.Order("created_at DESC").
		Offset((page - 1) * pageSize).Limit(pageSize).
		Find(&issues).Error
	return issues, total, err
}

func (r *IssueRepository) Resolve(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Model(&entity.AllocationIssue{}).
		Where("id = ?", id).Update("resolved", true).Error
}
