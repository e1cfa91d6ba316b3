package service

import (
	"fmt"
	"image"

	"github.com/IoanaComaniciu00/Lets-Fit-It/config"
	"gocv.io/x/gocv"
)

// MaskCompositor 将掩码转换为柔化的 alpha 通道并与原图合成
type MaskCompositor struct {
	threshold float32
	kernel    int
	sigma     float64
}

func NewMaskCompositor(cfg *config.CompositorConfig) *MaskCompositor {
	kernel := cfg.BlurKernel
	if kernel < 1 {
		kernel = 1
	}
	// GaussianBlur 要求奇数核
	if kernel%2 == 0 {
		kernel++
	}
	return &MaskCompositor{
		threshold: cfg.BinarizeThreshold,
		kernel:    kernel,
		sigma:     cfg.BlurSigma,
	}
}

// Compose 返回 BGRA 图像：颜色通道原样复制，alpha 为柔化后的掩码。
// 出错时返回的 Mat 无效，调用方应回退到原图。
func (mc *MaskCompositor) Compose(img, mask *gocv.Mat) (gocv.Mat, error) {
	if img == nil || img.Empty() {
		return gocv.Mat{}, ErrEmptyImage
	}
	if mask == nil || mask.Empty() {
		return gocv.Mat{}, ErrMissingMask
	}
	if mask.Rows() != img.Rows() || mask.Cols() != img.Cols() || mask.Channels() != 1 {
		return gocv.Mat{}, fmt.Errorf("%w: image %dx%d, mask %dx%dx%d", ErrMaskShape,
			img.Cols(), img.Rows(), mask.Cols(), mask.Rows(), mask.Channels())
	}
	if img.Channels() != 3 {
		return gocv.Mat{}, fmt.Errorf("%w: expected 3 channels, got %d", ErrMaskShape, img.Channels())
	}

	alpha := mc.SmoothAlpha(mask)
	defer alpha.Close()

	channels := gocv.Split(*img)
	defer func() {
		for i := range channels {
			channels[i].Close()
		}
	}()

	cutout := gocv.NewMat()
	gocv.Merge([]gocv.Mat{channels[0], channels[1], channels[2], alpha}, &cutout)
	if cutout.Empty() || cutout.Channels() != 4 {
		cutout.Close()
		return gocv.Mat{}, fmt.Errorf("merge alpha channel failed")
	}

	return cutout, nil
}

// SmoothAlpha 二值化后在浮点域做高斯模糊，再饱和取整回 8 位
func (mc *MaskCompositor) SmoothAlpha(mask *gocv.Mat) gocv.Mat {
	binary := gocv.NewMat()
	defer binary.Close()
	gocv.Threshold(*mask, &binary, mc.threshold, 255, gocv.ThresholdBinary)

	binaryF := gocv.NewMat()
	defer binaryF.Close()
	binary.ConvertTo(&binaryF, gocv.MatTypeCV32F)

	blurred := gocv.NewMat()
	defer blurred.Close()
	gocv.GaussianBlur(binaryF, &blurred, image.Point{X: mc.kernel, Y: mc.kernel}, mc.sigma, mc.sigma, gocv.BorderDefault)

	alpha := gocv.NewMat()
	blurred.ConvertTo(&alpha, gocv.MatTypeCV8U)
	return alpha
}
