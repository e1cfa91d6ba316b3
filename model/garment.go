package model

import "gocv.io/x/gocv"

// SegmentationRegion 分割模型输出的单个区域
type SegmentationRegion struct {
	Label string
	// Mask 单通道 8 位掩码，尺寸与原图一致；nil 表示模型未给出掩码
	Mask *gocv.Mat
	// Score 模型自带置信度，缺失时为 0，不参与排序
	Score float64
}

// Close 释放区域持有的掩码
func (r *SegmentationRegion) Close() error {
	if r.Mask == nil {
		return nil
	}
	err := r.Mask.Close()
	r.Mask = nil
	return err
}

// CloseRegions 释放一组区域
func CloseRegions(regions []SegmentationRegion) {
	for i := range regions {
		_ = regions[i].Close()
	}
}

// GarmentCandidate 通过筛选的服装候选
type GarmentCandidate struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"score"`
}

// BestCandidate 面积占比最大的候选，Mask 借用自原区域，不负责释放
type BestCandidate struct {
	GarmentCandidate
	Mask *gocv.Mat
}

// Selection 候选筛选结果
type Selection struct {
	Candidates []GarmentCandidate
	Best       *BestCandidate
}
