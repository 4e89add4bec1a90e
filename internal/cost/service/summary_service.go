package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/bitfantasy/nimo-cost/internal/cost/entity"
	"github.com/bitfantasy/nimo-cost/internal/cost/repository"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// 汇总缓存TTL
const summaryCacheTTL = 5 * time.Minute

// SummaryService 项目汇总服务
//
// 读路径：redis → 汇总表 → 按需重建；写路径由账本操作调用
// Invalidate，汇总行只在显式Refresh时重建。rdb允许为nil（测试
// 环境不依赖redis），此时直接走数据库。
type SummaryService struct {
	summaryRepo  *repository.SummaryRepository
	estimateRepo *repository.EstimateRepository
	rdb          *redis.Client
	logger       *zap.Logger
}

func NewSummaryService(repos *repository.Repositories, rdb *redis.Client, logger *zap.Logger) *SummaryService {
	return &SummaryService{
		summaryRepo:  repos.Summary,
		estimateRepo: repos.Estimate,
		rdb:          rdb,
		logger:       logger,
	}
}

func summaryCacheKey(projectID string) string {
	return "cost:summary:" + projectID
}

// Get 读取项目汇总，缓存与汇总表都没有时触发一次重建
func (s *SummaryService) Get(ctx context.Context, projectID string) (*entity.ProjectSummary, error) {
	if s.rdb != nil {
		cached, err := s.rdb.Get(ctx, summaryCacheKey(projectID)).Result()
		if err == nil {
			var summary entity.ProjectSummary
			if err := json.Unmarshal([]byte(cached), &summary); err == nil {
				return &summary, nil
			}
		}
	}

	summary, err := s.summaryRepo.Get(ctx, projectID)
	if err == repository.ErrNotFound {
		return s.Refresh(ctx, projectID)
	}
	if err != nil {
		return nil, err
	}

	s.cache(ctx, summary)
	return summary, nil
}

// Refresh 从账本重建汇总行并写入缓存
func (s *SummaryService) Refresh(ctx context.Context, projectID string) (*entity.ProjectSummary, error) {
	summary, err := s.summaryRepo.Rebuild(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("重建项目汇总失败: %w", err)
	}
	if err := s.summaryRepo.Upsert(ctx, summary); err != nil {
		return nil, fmt.Errorf("写入项目汇总失败: %w", err)
	}

	s.cache(ctx, summary)
	return summary, nil
}

// RefreshAll 重建所有有概算数据的项目汇总（定时任务/运维入口）
func (s *SummaryService) RefreshAll(ctx context.Context) (int, error) {
	projectIDs, err := s.estimateRepo.ProjectIDs(ctx)
	if err != nil {
		return 0, err
	}

	refreshed := 0
	for _, pid := range projectIDs {
		if _, err := s.Refresh(ctx, pid); err != nil {
			s.logger.Error("Failed to refresh project summary",
				zap.String("project_id", pid), zap.Error(err))
			continue
		}
		refreshed++
	}
	return refreshed, nil
}

// Invalidate 账本写入后失效缓存，下次读取触发重建
func (s *SummaryService) Invalidate(ctx context.Context, projectID string) {
	if s.rdb == nil {
		return
	}
	if err := s.rdb.Del(ctx, summaryCacheKey(projectID)).Err(); err != nil {
		s.logger.Warn("Failed to invalidate summary cache",
			zap.String("project_id", projectID), zap.Error(err))
	}
}

func (s *SummaryService) cache(ctx context.Context, summary *entity.ProjectSummary) {
	if s.rdb == nil {
		return
	}
	data, err := json.Marshal(summary)
	if err != nil {
		return
	}
	if err := s.rdb.Set(ctx, summaryCacheKey(summary.ProjectID), data, summaryCacheTTL).Err(); err != nil {
		s.logger.Warn("Failed to cache project summary",
			zap.String("project_id", summary.ProjectID), zap.Error(err))
	}
}
