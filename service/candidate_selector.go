package service

import (
	"strings"

	"github.com/IoanaComaniciu00/Lets-Fit-It/config"
	"github.com/IoanaComaniciu00/Lets-Fit-It/model"
	"gocv.io/x/gocv"
)

// CandidateSelector 根据标签词表和掩码面积挑选服装区域
type CandidateSelector struct {
	areaThreshold   float64
	garmentTerms    []string
	backgroundTerms []string
}

func NewCandidateSelector(cfg *config.SelectorConfig) *CandidateSelector {
	return &CandidateSelector{
		areaThreshold:   cfg.AreaThreshold,
		garmentTerms:    lowerAll(cfg.GarmentTerms),
		backgroundTerms: lowerAll(cfg.BackgroundTerms),
	}
}

// Select 按输入顺序筛选候选，并返回面积占比严格最大的一个。
// 占比相同时保留先出现的；占比为 0 的候选不会成为 best。
func (s *CandidateSelector) Select(regions []model.SegmentationRegion) model.Selection {
	selection := model.Selection{
		Candidates: make([]model.GarmentCandidate, 0, len(regions)),
	}
	bestConfidence := 0.0

	for i := range regions {
		region := &regions[i]
		if region.Mask == nil {
			continue
		}

		confidence := AreaRatio(region.Mask)
		if !s.accept(region.Label, confidence) {
			continue
		}

		candidate := model.GarmentCandidate{
			Label:      region.Label,
			Confidence: confidence,
		}
		selection.Candidates = append(selection.Candidates, candidate)

		if confidence > bestConfidence {
			bestConfidence = confidence
			selection.Best = &model.BestCandidate{
				GarmentCandidate: candidate,
				Mask:             region.Mask,
			}
		}
	}

	return selection
}

// accept 服装标签直接通过；其他非背景标签需要面积占比超过阈值
func (s *CandidateSelector) accept(label string, confidence float64) bool {
	label = strings.ToLower(label)
	if s.IsGarment(label) {
		return true
	}
	return confidence > s.areaThreshold && !s.IsBackground(label)
}

func (s *CandidateSelector) IsGarment(label string) bool {
	return containsAny(strings.ToLower(label), s.garmentTerms)
}

func (s *CandidateSelector) IsBackground(label string) bool {
	return containsAny(strings.ToLower(label), s.backgroundTerms)
}

// AreaRatio 掩码中大于 0 的像素占比，空掩码返回 0。
// 掩码必须是单通道。
func AreaRatio(mask *gocv.Mat) float64 {
	if mask == nil || mask.Empty() {
		return 0
	}
	total := mask.Total()
	if total == 0 {
		return 0
	}
	return float64(gocv.CountNonZero(*mask)) / float64(total)
}

func containsAny(s string, terms []string) bool {
	for _, term := range terms {
		if strings.Contains(s, term) {
			return true
		}
	}
	return false
}

func lowerAll(terms []string) []string {
	out := make([]string, 0, len(terms))
	for _, term := range terms {
		if term = strings.ToLower(strings.TrimSpace(term)); term != "" {
			out = append(out, term)
		}
	}
	return out
}
