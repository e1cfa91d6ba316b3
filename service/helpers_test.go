package service

import (
	"context"
	"image"
	"testing"

	"github.com/IoanaComaniciu00/Lets-Fit-It/config"
	"github.com/IoanaComaniciu00/Lets-Fit-It/model"
	"gocv.io/x/gocv"
)

// newMask 返回 rows*cols 的单通道掩码，前 positive 个像素（按行优先）为 value，其余为 0
func newMask(t *testing.T, rows, cols, positive int, value uint8) *gocv.Mat {
	t.Helper()
	m := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(0, 0, 0, 0), rows, cols, gocv.MatTypeCV8U)
	for i := 0; i < positive; i++ {
		m.SetUCharAt(i/cols, i%cols, value)
	}
	return &m
}

// halfMask 左半部分为 value
func halfMask(rows, cols int, value uint8) *gocv.Mat {
	m := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(0, 0, 0, 0), rows, cols, gocv.MatTypeCV8U)
	left := m.Region(image.Rect(0, 0, cols/2, rows))
	left.SetTo(gocv.NewScalar(float64(value), 0, 0, 0))
	left.Close()
	return &m
}

func filledMask(rows, cols int, value uint8) *gocv.Mat {
	m := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(float64(value), 0, 0, 0), rows, cols, gocv.MatTypeCV8U)
	return &m
}

// newImage 返回带渐变的 BGR 图像
func newImage(rows, cols int) gocv.Mat {
	img := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(10, 20, 30, 0), rows, cols, gocv.MatTypeCV8UC3)
	for y := 0; y < rows; y++ {
		for x := 0; x < cols; x++ {
			img.SetUCharAt(y, x*3, uint8(x*7))
			img.SetUCharAt(y, x*3+1, uint8(y*5))
			img.SetUCharAt(y, x*3+2, uint8((x+y)*3))
		}
	}
	return img
}

func newPNG(t *testing.T, rows, cols int) []byte {
	t.Helper()
	img := newImage(rows, cols)
	defer img.Close()
	data, err := EncodePNG(&img)
	if err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return data
}

func closeAfter(t *testing.T, mats ...*gocv.Mat) {
	t.Cleanup(func() {
		for _, m := range mats {
			if m != nil {
				m.Close()
			}
		}
	})
}

func testSelector() *CandidateSelector {
	return NewCandidateSelector(&config.Default().Selector)
}

func testCompositor() *MaskCompositor {
	return NewMaskCompositor(&config.Default().Compositor)
}

// fakeSegmenter 每次调用都通过 build 生成新的区域，由调用方释放
type fakeSegmenter struct {
	state ModelState
	build func(img *gocv.Mat) []model.SegmentationRegion
	err   error
	calls int
}

func (f *fakeSegmenter) Start(context.Context) error { return nil }
func (f *fakeSegmenter) Stop() error                 { return nil }
func (f *fakeSegmenter) State() ModelState           { return f.state }

func (f *fakeSegmenter) Segment(_ context.Context, img *gocv.Mat) ([]model.SegmentationRegion, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	if f.build == nil {
		return nil, nil
	}
	return f.build(img), nil
}
