package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/IoanaComaniciu00/Lets-Fit-It/config"
	"github.com/IoanaComaniciu00/Lets-Fit-It/model"
	"gocv.io/x/gocv"
)

func newGarmentService(seg Segmenter) *GarmentService {
	cfg := config.Default()
	cfg.Segmenter.QueueTimeout = 100 * time.Millisecond
	return NewGarmentService(cfg, seg)
}

// decodeResult 解码结果中的 PNG
func decodeResult(t *testing.T, result *model.SegmentResult) gocv.Mat {
	t.Helper()
	data, err := DecodeDataURI(result.SegmentedImage)
	if err != nil {
		t.Fatalf("decode data uri: %v", err)
	}
	img, err := gocv.IMDecode(data, gocv.IMReadUnchanged)
	if err != nil || img.Empty() {
		t.Fatalf("decode png: %v", err)
	}
	return img
}

func TestProcess_BackgroundAndUpperClothes(t *testing.T) {
	seg := &fakeSegmenter{
		state: ModelReady,
		build: func(img *gocv.Mat) []model.SegmentationRegion {
			return []model.SegmentationRegion{
				{Label: "Background", Mask: filledMask(img.Rows(), img.Cols(), 200)},
				{Label: "Upper-Clothes", Mask: halfMask(img.Rows(), img.Cols(), 255)},
			}
		},
	}

	result, err := newGarmentService(seg).Process(context.Background(), newPNG(t, 40, 40))
	if err != nil {
		t.Fatalf("process: %v", err)
	}

	if len(result.DetectedItems) != 1 {
		t.Fatalf("expected 1 detected item, got %+v", result.DetectedItems)
	}
	if result.DetectedItems[0].Label != "Upper-Clothes" || result.DetectedItems[0].Confidence != 0.5 {
		t.Fatalf("unexpected item %+v", result.DetectedItems[0])
	}
	if result.PrimaryItem != "Upper-Clothes" || result.Confidence != 0.5 {
		t.Fatalf("unexpected primary %s/%v", result.PrimaryItem, result.Confidence)
	}
	if !result.Cutout || result.Message != "Found 1 items" {
		t.Fatalf("unexpected cutout=%v message=%q", result.Cutout, result.Message)
	}
	if result.ImageSize != [2]int{40, 40} {
		t.Fatalf("unexpected image size %v", result.ImageSize)
	}

	cutout := decodeResult(t, result)
	defer cutout.Close()

	if cutout.Channels() != 4 {
		t.Fatalf("expected RGBA output, got %d channels", cutout.Channels())
	}
	if a := cutout.GetVecbAt(20, 2)[3]; a != 255 {
		t.Fatalf("expected opaque garment pixel, got %d", a)
	}
	if a := cutout.GetVecbAt(20, 37)[3]; a != 0 {
		t.Fatalf("expected transparent background pixel, got %d", a)
	}
}

func TestProcess_NoCandidateFallsBackToOriginal(t *testing.T) {
	seg := &fakeSegmenter{
		state: ModelReady,
		build: func(img *gocv.Mat) []model.SegmentationRegion {
			return []model.SegmentationRegion{
				{Label: "Background", Mask: filledMask(img.Rows(), img.Cols(), 255)},
				{Label: "Bag", Mask: filledMask(img.Rows(), img.Cols(), 0)},
				{Label: "Dress"},
			}
		},
	}

	result, err := newGarmentService(seg).Process(context.Background(), newPNG(t, 12, 18))
	if err != nil {
		t.Fatalf("process: %v", err)
	}

	if len(result.DetectedItems) != 0 || result.DetectedItems == nil {
		t.Fatalf("expected empty detected items, got %#v", result.DetectedItems)
	}
	if result.PrimaryItem != "none" || result.Confidence != 0 {
		t.Fatalf("unexpected primary %s/%v", result.PrimaryItem, result.Confidence)
	}
	if result.Cutout || result.Message != "No clothing detected" {
		t.Fatalf("unexpected cutout=%v message=%q", result.Cutout, result.Message)
	}

	out := decodeResult(t, result)
	defer out.Close()
	original := newImage(12, 18)
	defer original.Close()

	if out.Channels() != 3 {
		t.Fatalf("fallback should be the unmodified 3-channel image, got %d", out.Channels())
	}
	for y := 0; y < 12; y++ {
		for x := 0; x < 18; x++ {
			if out.GetVecbAt(y, x)[0] != original.GetVecbAt(y, x)[0] {
				t.Fatalf("fallback image differs at (%d,%d)", x, y)
			}
		}
	}
}

func TestProcess_CompositingFailureFallsBack(t *testing.T) {
	seg := &fakeSegmenter{
		state: ModelReady,
		build: func(img *gocv.Mat) []model.SegmentationRegion {
			// 尺寸与原图不一致
			return []model.SegmentationRegion{
				{Label: "Jacket", Mask: filledMask(img.Rows()+1, img.Cols(), 255)},
			}
		},
	}

	result, err := newGarmentService(seg).Process(context.Background(), newPNG(t, 10, 10))
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if result.PrimaryItem != "Jacket" || len(result.DetectedItems) != 1 {
		t.Fatalf("selection should still be reported, got %+v", result)
	}
	if result.Cutout {
		t.Fatalf("expected fallback image after compositing failure")
	}
}

func TestProcess_ModelNotReady(t *testing.T) {
	seg := &fakeSegmenter{state: ModelUninitialized}

	_, err := newGarmentService(seg).Process(context.Background(), newPNG(t, 4, 4))
	if !errors.Is(err, ErrCapabilityUnavailable) {
		t.Fatalf("expected ErrCapabilityUnavailable, got %v", err)
	}
	if seg.calls != 0 {
		t.Fatalf("segmenter must not be called when not ready")
	}
}

func TestProcess_MalformedImage(t *testing.T) {
	seg := &fakeSegmenter{state: ModelReady}

	_, err := newGarmentService(seg).Process(context.Background(), []byte("not an image"))
	if !errors.Is(err, ErrMalformedInput) {
		t.Fatalf("expected ErrMalformedInput, got %v", err)
	}
	if seg.calls != 0 {
		t.Fatalf("segmenter must not be called for malformed input")
	}
}

func TestProcess_SegmentationError(t *testing.T) {
	seg := &fakeSegmenter{state: ModelReady, err: ErrSegmentation}

	_, err := newGarmentService(seg).Process(context.Background(), newPNG(t, 4, 4))
	if !errors.Is(err, ErrSegmentation) {
		t.Fatalf("expected ErrSegmentation, got %v", err)
	}
}

func TestProcess_QueueFull(t *testing.T) {
	svc := newGarmentService(&fakeSegmenter{state: ModelReady})
	svc.semaphore <- struct{}{}
	defer func() { <-svc.semaphore }()

	_, err := svc.Process(context.Background(), newPNG(t, 4, 4))
	if !errors.Is(err, ErrQueueFull) {
		t.Fatalf("expected ErrQueueFull, got %v", err)
	}
}

func TestProcess_ReleasesRegionMasks(t *testing.T) {
	var regions []model.SegmentationRegion
	seg := &fakeSegmenter{
		state: ModelReady,
		build: func(img *gocv.Mat) []model.SegmentationRegion {
			regions = []model.SegmentationRegion{
				{Label: "Pants", Mask: halfMask(img.Rows(), img.Cols(), 255)},
			}
			return regions
		},
	}

	if _, err := newGarmentService(seg).Process(context.Background(), newPNG(t, 8, 8)); err != nil {
		t.Fatalf("process: %v", err)
	}
	if regions[0].Mask != nil {
		t.Fatalf("expected region masks to be released")
	}
}
