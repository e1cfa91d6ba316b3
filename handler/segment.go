package handler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/IoanaComaniciu00/Lets-Fit-It/config"
	"github.com/IoanaComaniciu00/Lets-Fit-It/model"
	"github.com/IoanaComaniciu00/Lets-Fit-It/service"
	"github.com/IoanaComaniciu00/Lets-Fit-It/utils"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	// JSON 包装与 multipart 头部的余量
	jsonBodySlack      = 64 << 10
	multipartBodySlack = 1 << 20
)

// ResultCache 结果缓存，未启用时为 nil
type ResultCache interface {
	GetResult(ctx context.Context, md5 string) (*model.SegmentResult, error)
	SetResult(ctx context.Context, md5 string, result *model.SegmentResult) error
}

type SegmentHandler struct {
	cfg            *config.Config
	garmentService *service.GarmentService
	cache          ResultCache
}

func NewSegmentHandler(cfg *config.Config, garment *service.GarmentService, cache ResultCache) *SegmentHandler {
	return &SegmentHandler{
		cfg:            cfg,
		garmentService: garment,
		cache:          cache,
	}
}

// Segment 处理服装分割请求，支持 JSON data URI 与 multipart 上传
func (h *SegmentHandler) Segment(c *gin.Context) {
	data, err := h.readImage(c)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			utils.Logger.Warn("request body too large", zap.Int64("limit", tooLarge.Limit))
			c.JSON(http.StatusRequestEntityTooLarge, model.ErrorResponse{
				Success: false,
				Message: "Image too large",
				Error:   fmt.Sprintf("image exceeds size limit (%d MB)", h.cfg.Upload.MaxSize/(1024*1024)),
			})
			return
		}

		utils.Logger.Warn("invalid segment request", zap.Error(err))
		c.JSON(http.StatusBadRequest, model.ErrorResponse{
			Success: false,
			Message: "No valid image data provided",
			Error:   err.Error(),
		})
		return
	}

	ctx := c.Request.Context()
	md5 := utils.BytesMD5(data)

	if h.cache != nil {
		cached, err := h.cache.GetResult(ctx, md5)
		if err != nil {
			utils.Logger.Warn("failed to get cache", zap.Error(err))
		}
		if cached != nil {
			utils.Logger.Info("cache hit", zap.String("md5", md5))
			c.JSON(http.StatusOK, cached)
			return
		}
	}

	result, err := h.garmentService.Process(ctx, data)
	if err != nil {
		h.fail(c, err)
		return
	}

	if h.cache != nil {
		if err := h.cache.SetResult(ctx, md5, result); err != nil {
			utils.Logger.Warn("failed to set cache", zap.Error(err))
		}
	}

	c.JSON(http.StatusOK, result)
}

// GetByMD5 根据MD5获取缓存的抠图结果
func (h *SegmentHandler) GetByMD5(c *gin.Context) {
	md5 := c.Param("md5")
	if md5 == "" {
		c.JSON(http.StatusBadRequest, model.ErrorResponse{
			Success: false,
			Message: "md5 parameter is required",
		})
		return
	}

	if h.cache == nil {
		c.JSON(http.StatusNotFound, model.ErrorResponse{
			Success: false,
			Message: "result cache is disabled",
		})
		return
	}

	result, err := h.cache.GetResult(c.Request.Context(), md5)
	if err != nil {
		utils.Logger.Error("failed to get cached result", zap.Error(err))
		c.JSON(http.StatusInternalServerError, model.ErrorResponse{
			Success: false,
			Message: "cache lookup failed",
			Error:   err.Error(),
		})
		return
	}

	if result == nil {
		c.JSON(http.StatusNotFound, model.ErrorResponse{
			Success: false,
			Message: "no result for this image",
		})
		return
	}

	c.JSON(http.StatusOK, result)
}

func (h *SegmentHandler) readImage(c *gin.Context) ([]byte, error) {
	if strings.HasPrefix(c.ContentType(), "multipart/form-data") {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.cfg.Upload.MaxSize+multipartBodySlack)
		return h.readUpload(c)
	}

	// base64 体积约为原图的 4/3
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.cfg.Upload.MaxSize/3*4+jsonBodySlack)

	var req model.SegmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		return nil, err
	}

	data, err := service.DecodeDataURI(req.Image)
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > h.cfg.Upload.MaxSize {
		return nil, fmt.Errorf("image exceeds size limit (%d MB)", h.cfg.Upload.MaxSize/(1024*1024))
	}
	return data, nil
}

func (h *SegmentHandler) readUpload(c *gin.Context) ([]byte, error) {
	file, err := c.FormFile("image")
	if err != nil {
		return nil, err
	}

	// 验证文件大小
	if file.Size > h.cfg.Upload.MaxSize {
		return nil, fmt.Errorf("image exceeds size limit (%d MB)", h.cfg.Upload.MaxSize/(1024*1024))
	}

	// 验证文件类型
	contentType := file.Header.Get("Content-Type")
	if !h.isAllowedType(contentType) {
		return nil, fmt.Errorf("unsupported content type %q, only JPEG/PNG", contentType)
	}

	f, err := file.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()

	return io.ReadAll(io.LimitReader(f, h.cfg.Upload.MaxSize))
}

func (h *SegmentHandler) isAllowedType(contentType string) bool {
	for _, allowed := range h.cfg.Upload.AllowedTypes {
		if strings.EqualFold(contentType, allowed) {
			return true
		}
	}
	return false
}

// fail 将服务错误映射为 HTTP 状态码
func (h *SegmentHandler) fail(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	message := "Image processing failed"

	switch {
	case errors.Is(err, service.ErrMalformedInput):
		status = http.StatusBadRequest
		message = "Invalid image data"
	case errors.Is(err, service.ErrCapabilityUnavailable):
		status = http.StatusServiceUnavailable
		message = "Model not initialized"
	case errors.Is(err, service.ErrQueueFull):
		status = http.StatusServiceUnavailable
		message = "Server busy, retry later"
	}

	if status == http.StatusInternalServerError {
		utils.Logger.Error("failed to process image", zap.Error(err))
	} else {
		utils.Logger.Warn("segment request rejected", zap.Int("status", status), zap.Error(err))
	}

	c.JSON(status, model.ErrorResponse{
		Success: false,
		Message: message,
		Error:   err.Error(),
	})
}
