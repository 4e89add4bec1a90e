package handler

import (
	"fmt"

	"github.com/bitfantasy/nimo-cost/internal/cost/service"
	"github.com/gin-gonic/gin"
)

// SummaryHandler 项目汇总与分组视图处理器
type SummaryHandler struct {
	summary   *service.SummaryService
	projector *service.SummaryProjector
}

func NewSummaryHandler(summary *service.SummaryService, projector *service.SummaryProjector) *SummaryHandler {
	return &SummaryHandler{summary: summary, projector: projector}
}

// Get 项目汇总
// GET /api/v1/cost/projects/:project_id/summary
func (h *SummaryHandler) Get(c *gin.Context) {
	summary, err := h.summary.Get(c.Request.Context(), c.Param("project_id"))
	if err != nil {
		ServiceError(c, err)
		return
	}
	Success(c, summary)
}

// Refresh 重建项目汇总
// POST /api/v1/cost/projects/:project_id/summary/refresh
func (h *SummaryHandler) Refresh(c *gin.Context) {
	summary, err := h.summary.Refresh(c.Request.Context(), c.Param("project_id"))
	if err != nil {
		InternalError(c, "汇总重建失败: "+err.Error())
		return
	}
	Success(c, summary)
}

// RefreshAll 重建全部项目汇总
// POST /api/v1/cost/summaries/refresh
func (h *SummaryHandler) RefreshAll(c *gin.Context) {
	count, err := h.summary.RefreshAll(c.Request.Context())
	if err != nil {
		InternalError(c, "汇总重建失败: "+err.Error())
		return
	}
	Success(c, gin.H{"refreshed": count})
}

// Projection 分组汇总视图（按展开状态扁平化）
//
// 合计来自ProjectSummary缓存行，与分组树相互独立，
// 不从树上重新求和。
// GET /api/v1/cost/projects/:project_id/projection
func (h *SummaryHandler) Projection(c *gin.Context) {
	ctx := c.Request.Context()
	projectID := c.Param("project_id")

	proj, err := h.projector.BuildProjection(ctx, projectID)
	if err != nil {
		InternalError(c, "构建汇总视图失败: "+err.Error())
		return
	}

	state, err := h.projector.LoadExpansion(ctx, projectID, GetUserID(c))
	if err != nil {
		InternalError(c, "读取展开状态失败: "+err.Error())
		return
	}

	totals, err := h.summary.Get(ctx, projectID)
	if err != nil {
		ServiceError(c, err)
		return
	}

	Success(c, gin.H{
		"rows":   service.Flatten(proj, state),
		"totals": totals,
	})
}

type expandRequest struct {
	RowID    string `json:"row_id" binding:"required"`
	Expanded bool   `json:"expanded"`
}

// SetExpanded 记录结构行展开/收起
// POST /api/v1/cost/projects/:project_id/projection/expand
func (h *SummaryHandler) SetExpanded(c *gin.Context) {
	var req expandRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "参数错误: "+err.Error())
		return
	}

	err := h.projector.SetExpanded(c.Request.Context(), c.Param("project_id"), GetUserID(c), req.RowID, req.Expanded)
	if err != nil {
		InternalError(c, "记录展开状态失败: "+err.Error())
		return
	}
	Success(c, gin.H{"row_id": req.RowID, "expanded": req.Expanded})
}

// Export 汇总视图导出，输出调用方当前可见的行
// GET /api/v1/cost/projects/:project_id/projection/export?format=csv
func (h *SummaryHandler) Export(c *gin.Context) {
	ctx := c.Request.Context()
	projectID := c.Param("project_id")

	state, err := h.projector.LoadExpansion(ctx, projectID, GetUserID(c))
	if err != nil {
		InternalError(c, "读取展开状态失败: "+err.Error())
		return
	}

	if c.DefaultQuery("format", "csv") == "xlsx" {
		f, err := h.projector.ExportExcel(ctx, projectID, state)
		if err != nil {
			InternalError(c, "导出失败: "+err.Error())
			return
		}
		filename := fmt.Sprintf("cost-summary-%s.xlsx", projectID)
		c.Header("Content-Disposition", "attachment; filename="+filename)
		c.Header("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
		if err := f.Write(c.Writer); err != nil {
			InternalError(c, "导出失败: "+err.Error())
		}
		return
	}

	data, err := h.projector.ExportCSV(ctx, projectID, state)
	if err != nil {
		InternalError(c, "导出失败: "+err.Error())
		return
	}
	filename := fmt.Sprintf("cost-summary-%s.csv", projectID)
	c.Header("Content-Disposition", "attachment; filename="+filename)
	c.Data(200, "text/csv", data)
}
