package handler

import (
	"net/http"

	"github.com/IoanaComaniciu00/Lets-Fit-It/model"
	"github.com/IoanaComaniciu00/Lets-Fit-It/service"
	"github.com/gin-gonic/gin"
)

// StateReporter 报告分割模型状态
type StateReporter interface {
	State() service.ModelState
}

// BuildInfo 构建信息
type BuildInfo struct {
	Version   string
	BuildTime string
	BuildID   string
	GitCommit string
	GitBranch string
}

type HealthHandler struct {
	model string
	state StateReporter
	build BuildInfo
}

func NewHealthHandler(modelName string, state StateReporter, build BuildInfo) *HealthHandler {
	return &HealthHandler{
		model: modelName,
		state: state,
		build: build,
	}
}

// Health 服务始终可达，status 反映模型是否加载完成
func (h *HealthHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, model.HealthResponse{
		Status:  h.state.State().String(),
		Message: "Clothing segmentation server is running",
		Model:   h.model,
		Version: h.build.Version,
	})
}

func (h *HealthHandler) Version(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"version":    h.build.Version,
		"build_time": h.build.BuildTime,
		"build_id":   h.build.BuildID,
		"git_commit": h.build.GitCommit,
		"git_branch": h.build.GitBranch,
	})
}
