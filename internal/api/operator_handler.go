package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/taoyao-code/fieldsync/internal/coordinator"
)

// Operator 协调器的操作员入口
type Operator interface {
	Select(index int) (uuid.UUID, error)
	Touch(x, y int) (int, uuid.UUID, error)
	SeedClock(epoch uint32) error
	Now() time.Time
	Grid() coordinator.Grid
}

// NodeReader 节点表只读视图
type NodeReader interface {
	Snapshot() []coordinator.Node
	Get(index int) (coordinator.Node, bool)
}

// AttemptHistory 尝试历史来源（内存或 PostgreSQL）
type AttemptHistory interface {
	Attempts(ctx context.Context, index, limit int) ([]coordinator.AttemptReport, error)
}

// OperatorHandler 操作员 API 处理器
type OperatorHandler struct {
	op      Operator
	nodes   NodeReader
	history AttemptHistory
	logger  *zap.Logger
}

// NewOperatorHandler 创建操作员 API 处理器
func NewOperatorHandler(op Operator, nodes NodeReader, history AttemptHistory, logger *zap.Logger) *OperatorHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OperatorHandler{op: op, nodes: nodes, history: history, logger: logger}
}

// SelectResponse 选择结果
type SelectResponse struct {
	Index       int    `json:"index"`
	HandshakeID string `json:"handshake_id"`
}

// TouchRequest 触摸坐标
type TouchRequest struct {
	X *int `json:"x" binding:"required"`
	Y *int `json:"y" binding:"required"`
}

// ClockRequest 时钟播种
type ClockRequest struct {
	Epoch uint32 `json:"epoch" binding:"required"`
}

// ListNodes 查询全部节点
// @Summary 查询全部节点
// @Tags 节点
// @Produce json
// @Security ApiKeyAuth
// @Success 200 {object} map[string]interface{}
// @Router /api/nodes [get]
func (h *OperatorHandler) ListNodes(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"nodes": h.nodes.Snapshot(),
		"now":   h.op.Now().Unix(),
	})
}

// GetNode 查询单个节点
// @Summary 查询单个节点
// @Tags 节点
// @Produce json
// @Security ApiKeyAuth
// @Param index path int true "节点索引"
// @Success 200 {object} coordinator.Node
// @Failure 404 {object} map[string]interface{}
// @Router /api/nodes/{index} [get]
func (h *OperatorHandler) GetNode(c *gin.Context) {
	index, ok := parseIndex(c)
	if !ok {
		return
	}
	n, found := h.nodes.Get(index)
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"error": "node not found"})
		return
	}
	c.JSON(http.StatusOK, n)
}

// ListAttempts 节点最近的握手尝试
// @Summary 节点握手历史
// @Tags 节点
// @Produce json
// @Security ApiKeyAuth
// @Param index path int true "节点索引"
// @Param limit query int false "条数(默认20)"
// @Success 200 {object} map[string]interface{}
// @Router /api/nodes/{index}/attempts [get]
func (h *OperatorHandler) ListAttempts(c *gin.Context) {
	index, ok := parseIndex(c)
	if !ok {
		return
	}
	if _, found := h.nodes.Get(index); !found {
		c.JSON(http.StatusNotFound, gin.H{"error": "node not found"})
		return
	}
	limit := 20
	if v := c.Query("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}
	if h.history == nil {
		c.JSON(http.StatusOK, gin.H{"attempts": []coordinator.AttemptReport{}})
		return
	}
	list, err := h.history.Attempts(c.Request.Context(), index, limit)
	if err != nil {
		h.logger.Error("load attempt history failed", zap.Int("index", index), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if list == nil {
		list = []coordinator.AttemptReport{}
	}
	c.JSON(http.StatusOK, gin.H{"attempts": list})
}

// SelectNode 选择节点：未记录则同步，记录中则停止
// @Summary 选择节点
// @Tags 操作
// @Produce json
// @Security ApiKeyAuth
// @Param index path int true "节点索引"
// @Success 202 {object} SelectResponse
// @Failure 404 {object} map[string]interface{}
// @Failure 409 {object} map[string]interface{}
// @Failure 503 {object} map[string]interface{}
// @Router /api/nodes/{index}/select [post]
func (h *OperatorHandler) SelectNode(c *gin.Context) {
	index, ok := parseIndex(c)
	if !ok {
		return
	}
	id, err := h.op.Select(index)
	if err != nil {
		h.selectError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, SelectResponse{Index: index, HandshakeID: id.String()})
}

// Touch 按屏幕坐标选择节点
// @Summary 触摸选择
// @Tags 操作
// @Accept json
// @Produce json
// @Security ApiKeyAuth
// @Param body body TouchRequest true "坐标"
// @Success 202 {object} SelectResponse
// @Failure 400 {object} map[string]interface{}
// @Failure 409 {object} map[string]interface{}
// @Router /api/touch [post]
func (h *OperatorHandler) Touch(c *gin.Context) {
	var req TouchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	index, id, err := h.op.Touch(*req.X, *req.Y)
	if err != nil {
		h.selectError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, SelectResponse{Index: index, HandshakeID: id.String()})
}

// SeedClock 播种协调器时钟
// @Summary 设置协调器时钟
// @Tags 操作
// @Accept json
// @Produce json
// @Security ApiKeyAuth
// @Param body body ClockRequest true "Unix 秒"
// @Success 200 {object} map[string]interface{}
// @Router /api/clock [post]
func (h *OperatorHandler) SeedClock(c *gin.Context) {
	var req ClockRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.op.SeedClock(req.Epoch); err != nil {
		code := http.StatusInternalServerError
		if errors.Is(err, coordinator.ErrInvalidEpoch) {
			code = http.StatusBadRequest
		}
		c.JSON(code, gin.H{"error": err.Error()})
		return
	}
	h.logger.Info("clock seeded via api", zap.Uint32("epoch", req.Epoch))
	c.JSON(http.StatusOK, gin.H{"now": h.op.Now().Unix()})
}

// GetClock 协调器当前时间
// @Summary 协调器时钟
// @Tags 操作
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Router /api/clock [get]
func (h *OperatorHandler) GetClock(c *gin.Context) {
	now := h.op.Now()
	c.JSON(http.StatusOK, gin.H{"now": now.Unix(), "time": now.UTC().Format(time.RFC3339)})
}

// GetGrid 触摸布局
// @Summary 触摸布局
// @Tags 操作
// @Produce json
// @Success 200 {object} coordinator.Grid
// @Router /api/grid [get]
func (h *OperatorHandler) GetGrid(c *gin.Context) {
	c.JSON(http.StatusOK, h.op.Grid())
}

func (h *OperatorHandler) selectError(c *gin.Context, err error) {
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, coordinator.ErrUnknownNode):
		code = http.StatusNotFound
	case errors.Is(err, coordinator.ErrOutsideGrid):
		code = http.StatusBadRequest
	case errors.Is(err, coordinator.ErrCommandInFlight):
		code = http.StatusConflict
	case errors.Is(err, coordinator.ErrQueueFull):
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, gin.H{"error": err.Error()})
}

func parseIndex(c *gin.Context) (int, bool) {
	index, err := strconv.Atoi(c.Param("index"))
	if err != nil || index < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid node index"})
		return 0, false
	}
	return index, true
}
