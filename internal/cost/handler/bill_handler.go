package handler

import (
	"github.com/bitfantasy/nimo-cost/internal/cost/service"
	"github.com/gin-gonic/gin"
)

// BillHandler 账单处理器
type BillHandler struct {
	svc *service.BillService
}

func NewBillHandler(svc *service.BillService) *BillHandler {
	return &BillHandler{svc: svc}
}

// List 账单列表
// GET /api/v1/cost/bills?project_id=&supplier_id=&status=&keyword=
func (h *BillHandler) List(c *gin.Context) {
	page, pageSize := GetPagination(c)
	filters := map[string]string{
		"project_id":        c.Query("project_id"),
		"supplier_id":       c.Query("supplier_id"),
		"status":            c.Query("status"),
		"purchase_order_id": c.Query("purchase_order_id"),
		"keyword":           c.Query("keyword"),
	}

	bills, total, err := h.svc.List(c.Request.Context(), page, pageSize, filters)
	if err != nil {
		InternalError(c, "获取账单列表失败: "+err.Error())
		return
	}
	Success(c, gin.H{
		"items":      bills,
		"pagination": newPagination(page, pageSize, total),
	})
}

// Get 账单详情（含行项与付款记录）
// GET /api/v1/cost/bills/:id
func (h *BillHandler) Get(c *gin.Context) {
	bill, err := h.svc.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		ServiceError(c, err)
		return
	}
	Success(c, bill)
}

// Create 创建账单
// POST /api/v1/cost/bills
func (h *BillHandler) Create(c *gin.Context) {
	var req service.CreateBillRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "参数错误: "+err.Error())
		return
	}

	bill, err := h.svc.CreateBill(c.Request.Context(), GetUserID(c), &req)
	if err != nil {
		ServiceError(c, err)
		return
	}
	Created(c, bill)
}

// RecordPayment 登记付款
// POST /api/v1/cost/bills/:id/payments
func (h *BillHandler) RecordPayment(c *gin.Context) {
	var req service.RecordPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "参数错误: "+err.Error())
		return
	}

	result, err := h.svc.RecordPayment(c.Request.Context(), GetUserID(c), c.Param("id"), &req)
	if err != nil {
		ServiceError(c, err)
		return
	}
	Created(c, result)
}

// Delete 删除账单
// DELETE /api/v1/cost/bills/:id?force=true
func (h *BillHandler) Delete(c *gin.Context) {
	force := c.Query("force") == "true"
	if err := h.svc.DeleteBill(c.Request.Context(), c.Param("id"), force); err != nil {
		ServiceError(c, err)
		return
	}
	Success(c, gin.H{"message": "账单已删除"})
}

// Cancel 取消账单
// POST /api/v1/cost/bills/:id/cancel
func (h *BillHandler) Cancel(c *gin.Context) {
	bill, err := h.svc.Cancel(c.Request.Context(), c.Param("id"))
	if err != nil {
		ServiceError(c, err)
		return
	}
	Success(c, bill)
}
