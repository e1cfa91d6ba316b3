package service

import (
	"context"
	"fmt"

	"github.com/IoanaComaniciu00/Lets-Fit-It/config"
	"github.com/IoanaComaniciu00/Lets-Fit-It/model"
	"gocv.io/x/gocv"
)

// Segmenter 外部分割能力：输入图像，返回带标签的区域掩码。
// 调用方负责释放返回区域中的掩码。
type Segmenter interface {
	Start(ctx context.Context) error
	Segment(ctx context.Context, img *gocv.Mat) ([]model.SegmentationRegion, error)
	State() ModelState
	Stop() error
}

// NewSegmenter 根据配置选择后端
func NewSegmenter(cfg *config.SegmenterConfig) (Segmenter, error) {
	switch cfg.Backend {
	case "", "worker":
		return NewSegformerWorker(cfg)
	case "http":
		return NewHTTPSegmenter(cfg)
	default:
		return nil, fmt.Errorf("unknown segmenter backend %q", cfg.Backend)
	}
}

// wireRegion 模型返回的区域，mask 为 PNG 字节（JSON 中为 base64）
type wireRegion struct {
	Label string   `msgpack:"label" json:"label"`
	Score *float64 `msgpack:"score" json:"score"`
	Mask  []byte   `msgpack:"mask" json:"mask"`
}

// toRegions 解码掩码；缺失的 score 视为 0
func toRegions(wire []wireRegion) ([]model.SegmentationRegion, error) {
	regions := make([]model.SegmentationRegion, 0, len(wire))
	for _, w := range wire {
		region := model.SegmentationRegion{Label: w.Label}
		if w.Score != nil {
			region.Score = *w.Score
		}

		if len(w.Mask) > 0 {
			mask, err := gocv.IMDecode(w.Mask, gocv.IMReadGrayScale)
			if err != nil || mask.Empty() {
				if err == nil {
					mask.Close()
					err = fmt.Errorf("empty mask")
				}
				model.CloseRegions(regions)
				return nil, fmt.Errorf("%w: decode mask for %q: %v", ErrSegmentation, w.Label, err)
			}
			region.Mask = &mask
		}

		regions = append(regions, region)
	}
	return regions, nil
}
