package handler

import (
	"github.com/bitfantasy/nimo-cost/internal/cost/repository"
	"github.com/bitfantasy/nimo-cost/internal/cost/service"
	"github.com/gin-gonic/gin"
)

// BudgetHandler 成本控制树处理器
type BudgetHandler struct {
	svc        *service.BudgetService
	reconciler *service.OrphanReconciler
	issueRepo  *repository.IssueRepository
}

func NewBudgetHandler(svc *service.BudgetService, reconciler *service.OrphanReconciler, issueRepo *repository.IssueRepository) *BudgetHandler {
	return &BudgetHandler{svc: svc, reconciler: reconciler, issueRepo: issueRepo}
}

// Tree 项目成本控制树
// GET /api/v1/cost/projects/:project_id/tree
func (h *BudgetHandler) Tree(c *gin.Context) {
	roots, err := h.svc.Tree(c.Request.Context(), c.Param("project_id"))
	if err != nil {
		InternalError(c, "获取成本树失败: "+err.Error())
		return
	}
	Success(c, gin.H{"items": roots})
}

// Get 节点详情
// GET /api/v1/cost/nodes/:id
func (h *BudgetHandler) Get(c *gin.Context) {
	node, err := h.svc.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		ServiceError(c, err)
		return
	}
	Success(c, node)
}

// Create 创建节点
// POST /api/v1/cost/nodes
func (h *BudgetHandler) Create(c *gin.Context) {
	var req service.CreateNodeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "参数错误: "+err.Error())
		return
	}

	node, err := h.svc.CreateNode(c.Request.Context(), &req)
	if err != nil {
		ServiceError(c, err)
		return
	}
	Created(c, node)
}

// Delete 删除节点（有子节点或被账单引用时拒绝）
// DELETE /api/v1/cost/nodes/:id
func (h *BudgetHandler) Delete(c *gin.Context) {
	if err := h.svc.DeleteNode(c.Request.Context(), c.Param("id")); err != nil {
		ServiceError(c, err)
		return
	}
	Success(c, gin.H{"id": c.Param("id")})
}

type classifyRequest struct {
	CommittedAmount float64 `json:"committed_amount"`
}

// Classify 节点预算健康状态
// POST /api/v1/cost/nodes/:id/classify
func (h *BudgetHandler) Classify(c *gin.Context) {
	var req classifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "参数错误: "+err.Error())
		return
	}

	result, err := h.svc.Classify(c.Request.Context(), c.Param("id"), req.CommittedAmount)
	if err != nil {
		ServiceError(c, err)
		return
	}
	Success(c, result)
}

// Recompute 全量重算项目父链累加器
// POST /api/v1/cost/projects/:project_id/recompute
func (h *BudgetHandler) Recompute(c *gin.Context) {
	if err := h.svc.Recompute(c.Request.Context(), c.Param("project_id")); err != nil {
		InternalError(c, "重算失败: "+err.Error())
		return
	}
	Success(c, gin.H{"message": "重算完成"})
}

// FixOrphans 修复孤儿分部
// POST /api/v1/cost/projects/:project_id/fix-orphans
func (h *BudgetHandler) FixOrphans(c *gin.Context) {
	result, err := h.reconciler.FixOrphanedElements(c.Request.Context(), c.Param("project_id"))
	if err != nil {
		InternalError(c, "孤儿修复失败: "+err.Error())
		return
	}
	Success(c, result)
}

// ListIssues 分摊异常记录列表
// GET /api/v1/cost/issues?project_id=&resolved=
func (h *BudgetHandler) ListIssues(c *gin.Context) {
	page, pageSize := GetPagination(c)
	filters := map[string]string{
		"project_id": c.Query("project_id"),
		"bill_id":    c.Query("bill_id"),
		"resolved":   c.Query("resolved"),
	}

	issues, total, err := h.issueRepo.FindAll(c.Request.Context(), page, pageSize, filters)
	if err != nil {
		InternalError(c, "获取异常记录失败: "+err.Error())
		return
	}
	Success(c, gin.H{
		"items":      issues,
		"pagination": newPagination(page, pageSize, total),
	})
}

// ResolveIssue 标记异常已处理
// POST /api/v1/cost/issues/:id/resolve
func (h *BudgetHandler) ResolveIssue(c *gin.Context) {
	if err := h.issueRepo.Resolve(c.Request.Context(), c.Param("id")); err != nil {
		InternalError(c, "标记失败: "+err.Error())
		return
	}
	Success(c, gin.H{"message": "已标记处理"})
}
