package repository

import (
	"context"
	"errors"

	"github.com/bitfantasy/nimo-cost/internal/cost/entity"
	"gorm.io/gorm"
)

// EstimateRepository 概算结构/分部存取
type EstimateRepository struct {
	db *gorm.DB
}

func NewEstimateRepository(db *gorm.DB) *EstimateRepository {
	return &EstimateRepository{db: db}
}

func (r *EstimateRepository) FindStructures(ctx context.Context, projectID string) ([]entity.BudgetStructure, error) {
	var structures []entity.BudgetStructure
	err := r.db.WithContext(ctx).
		Where("project_id = ?", projectID).
		Order("created_at").
		Find(&structures).Error
	return structures, err
}

func (r *EstimateRepository) FindElements(ctx context.Context, projectID string) ([]entity.BudgetElement, error) {
	var elements []entity.BudgetElement
	err := r.db.WithContext(ctx).
		Where("project_id = ?", projectID).
		Order("created_at").
		Find(&elements).Error
	return elements, err
}

// FindOrphanElements 查询structure_id为空的分部
func (r *EstimateRepository) FindOrphanElements(ctx context.Context, projectID string) ([]entity.BudgetElement, error) {
	var elements []entity.BudgetElement
	err := r.db.WithContext(ctx).
		Where("project_id = ? AND structure_id IS NULL", projectID).
		Find(&elements).Error
	return elements, err
}

func (r *EstimateRepository) FindStructureByName(tx *gorm.DB, projectID, name string) (*entity.BudgetStructure, error) {
	var structure entity.BudgetStructure
	err := tx.Where("project_id = ? AND name = ?", projectID, name).First(&structure).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &structure, nil
}

func (r *EstimateRepository) CreateStructure(tx *gorm.DB, structure *entity.BudgetStructure) error {
	return tx.Create(structure).Error
}

func (r *EstimateRepository) CreateElement(ctx context.Context, element *entity.BudgetElement) error {
	return r.db.WithContext(ctx).Create(element).Error
}

// ReassignOrphans 将项目内所有孤儿分部批量指向目标结构，返回修复条数
func (r *EstimateRepository) ReassignOrphans(tx *gorm.DB, projectID, structureID string) (int64, error) {
	result := tx.Model(&entity.BudgetElement{}).
		Where("project_id = ? AND structure_id IS NULL", projectID).
		Update("structure_id", structureID)
	return result.RowsAffected, result.Error
}

// ProjectIDs 有概算数据的项目id列表（全量汇总重建用）
func (r *EstimateRepository) ProjectIDs(ctx context.Context) ([]string, error) {
	var ids []string
	err := r.db.WithContext(ctx).
		Model(&entity.BudgetStructure{}).
		Distinct("project_id").
		Pluck("project_id", &ids).Error
	return ids, err
}

// DB 返回底层db用于事务
func (r *EstimateRepository) DB() *gorm.DB {
	return r.db
}
