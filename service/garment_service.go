package service

import (
	"context"
	"fmt"
	"time"

	"github.com/IoanaComaniciu00/Lets-Fit-It/config"
	"github.com/IoanaComaniciu00/Lets-Fit-It/model"
	"github.com/IoanaComaniciu00/Lets-Fit-It/utils"
	"go.uber.org/zap"
)

const noItem = "none"

// GarmentService 负责单张图片的服装检测与抠图
type GarmentService struct {
	segmenter    Segmenter
	selector     *CandidateSelector
	compositor   *MaskCompositor
	semaphore    chan struct{}
	queueTimeout time.Duration
}

func NewGarmentService(cfg *config.Config, segmenter Segmenter) *GarmentService {
	maxConcurrent := cfg.Segmenter.MaxConcurrent
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}

	return &GarmentService{
		segmenter:    segmenter,
		selector:     NewCandidateSelector(&cfg.Selector),
		compositor:   NewMaskCompositor(&cfg.Compositor),
		semaphore:    make(chan struct{}, maxConcurrent),
		queueTimeout: cfg.Segmenter.QueueTimeout,
	}
}

// ModelState 当前分割模型状态
func (s *GarmentService) ModelState() ModelState {
	return s.segmenter.State()
}

// Process 解码图片、调用分割模型、挑选服装并生成抠图。
// 无候选或合成失败时返回原图。
func (s *GarmentService) Process(ctx context.Context, data []byte) (*model.SegmentResult, error) {
	if s.segmenter.State() != ModelReady {
		return nil, ErrCapabilityUnavailable
	}

	img, err := DecodeImage(data)
	if err != nil {
		return nil, err
	}
	defer img.Close()

	// 并发控制
	queueCtx, cancel := context.WithTimeout(ctx, s.queueTimeout)
	defer cancel()

	select {
	case s.semaphore <- struct{}{}:
		defer func() { <-s.semaphore }()
	case <-queueCtx.Done():
		return nil, ErrQueueFull
	}

	startTime := time.Now()
	md5 := utils.BytesMD5(data)
	width := img.Cols()
	height := img.Rows()

	utils.Logger.Info("processing image",
		zap.String("md5", md5),
		zap.Int("width", width),
		zap.Int("height", height))

	regions, err := s.segmenter.Segment(ctx, &img)
	if err != nil {
		return nil, fmt.Errorf("segment image: %w", err)
	}
	defer model.CloseRegions(regions)

	for i, region := range regions {
		utils.Logger.Debug("segmentation region",
			zap.Int("index", i),
			zap.String("label", region.Label),
			zap.Float64("model_score", region.Score),
			zap.Bool("has_mask", region.Mask != nil))
	}

	selection := s.selector.Select(regions)

	output := &img
	cutout := false
	if selection.Best != nil {
		composed, err := s.compositor.Compose(&img, selection.Best.Mask)
		if err != nil {
			utils.Logger.Warn("compositing failed, returning original image",
				zap.String("md5", md5),
				zap.String("label", selection.Best.Label),
				zap.Error(err))
		} else {
			defer composed.Close()
			output = &composed
			cutout = true
		}
	}

	encoded, err := EncodePNGDataURI(output)
	if err != nil {
		return nil, fmt.Errorf("encode result: %w", err)
	}

	result := &model.SegmentResult{
		Success:        true,
		DetectedItems:  selection.Candidates,
		PrimaryItem:    noItem,
		SegmentedImage: encoded,
		ImageSize:      [2]int{width, height},
		MD5:            md5,
		Cutout:         cutout,
	}
	if selection.Best != nil {
		result.PrimaryItem = selection.Best.Label
		result.Confidence = selection.Best.Confidence
	}
	if len(selection.Candidates) > 0 {
		result.Message = fmt.Sprintf("Found %d items", len(selection.Candidates))
	} else {
		result.Message = "No clothing detected"
	}

	utils.Logger.Info("image processed successfully",
		zap.String("md5", md5),
		zap.Duration("duration", time.Since(startTime)),
		zap.Int("regions", len(regions)),
		zap.Int("candidates", len(selection.Candidates)),
		zap.String("primary_item", result.PrimaryItem),
		zap.Float64("confidence", result.Confidence),
		zap.Bool("cutout", cutout))

	return result, nil
}
