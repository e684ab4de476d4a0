package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/sshcollectorpro/acsconsole/addone/acs"
	"github.com/sshcollectorpro/acsconsole/internal/database"
	"github.com/sshcollectorpro/acsconsole/internal/service"
	acsssh "github.com/sshcollectorpro/acsconsole/pkg/ssh"
)

// PoolStats 连接池统计来源
type PoolStats interface {
	Stats() acsssh.PoolStats
}

// ConsoleHandler 控制台任务处理器
type ConsoleHandler struct {
	svc  *service.ConsoleService
	pool PoolStats
}

// NewConsoleHandler 创建处理器，pool 可为 nil
func NewConsoleHandler(svc *service.ConsoleService, pool PoolStats) *ConsoleHandler {
	return &ConsoleHandler{svc: svc, pool: pool}
}

// Execute 执行一次控制台任务
// @Router /api/v1/console/exec [post]
func (h *ConsoleHandler) Execute(c *gin.Context) {
	var req service.ExecRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Code:    "INVALID_REQUEST",
			Message: "请求参数错误: " + err.Error(),
		})
		return
	}

	result, err := h.svc.Execute(c.Request.Context(), req)
	if err != nil {
		if result == nil {
			// 等待执行名额时请求被取消
			c.JSON(http.StatusServiceUnavailable, ErrorResponse{Code: "BUSY", Message: err.Error()})
			return
		}
		c.JSON(http.StatusBadGateway, SuccessResponse{
			Code:    "CONNECT_FAILED",
			Message: err.Error(),
			Data:    result,
		})
		return
	}

	c.JSON(http.StatusOK, SuccessResponse{
		Code:    "SUCCESS",
		Message: "执行完成",
		Data:    result,
	})
}

// Platforms 已注册的设备平台
// @Router /api/v1/console/platforms [get]
func (h *ConsoleHandler) Platforms(c *gin.Context) {
	names := acs.Names()
	type platform struct {
		Name          string `json:"name"`
		PagingCommand string `json:"paging_command"`
		Delimiters    string `json:"delimiters,omitempty"`
	}
	out := make([]platform, 0, len(names))
	for _, name := range names {
		d := acs.Get(name).Defaults()
		out = append(out, platform{Name: name, PagingCommand: d.PagingCommand, Delimiters: d.Delimiters})
	}
	c.JSON(http.StatusOK, SuccessResponse{Code: "SUCCESS", Message: "ok", Data: out})
}

// Runs 最近的任务记录
// @Router /api/v1/console/runs [get]
func (h *ConsoleHandler) Runs(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	runs, err := h.svc.Runs(c.Request.Context(), c.Query("host"), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Code: "QUERY_FAILED", Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, SuccessResponse{Code: "SUCCESS", Message: "ok", Data: runs})
}

// GetRun 单个任务记录及命令输出
// @Router /api/v1/console/runs/{id} [get]
func (h *ConsoleHandler) GetRun(c *gin.Context) {
	run, err := h.svc.Run(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, ErrorResponse{Code: "NOT_FOUND", Message: "任务不存在"})
			return
		}
		c.JSON(http.StatusInternalServerError, ErrorResponse{Code: "QUERY_FAILED", Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, SuccessResponse{Code: "SUCCESS", Message: "ok", Data: run})
}

// Health 健康检查
// @Router /api/v1/health [get]
func (h *ConsoleHandler) Health(c *gin.Context) {
	data := gin.H{}
	if db := h.svc.DB(); db != nil {
		if err := database.Health(db); err != nil {
			c.JSON(http.StatusServiceUnavailable, ErrorResponse{Code: "SERVICE_UNAVAILABLE", Message: "数据库不可用: " + err.Error()})
			return
		}
		data["database"] = "ok"
	}
	if h.pool != nil {
		data["ssh_pool"] = h.pool.Stats()
	}
	c.JSON(http.StatusOK, SuccessResponse{Code: "SUCCESS", Message: "服务正常", Data: data})
}
