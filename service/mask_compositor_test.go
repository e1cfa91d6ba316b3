package service

import (
	"errors"
	"testing"

	"gocv.io/x/gocv"
)

func alphaAt(m gocv.Mat, row, col int) uint8 {
	return m.GetVecbAt(row, col)[3]
}

func TestCompose_PreservesColorChannels(t *testing.T) {
	img := newImage(24, 32)
	mask := halfMask(24, 32, 255)
	closeAfter(t, &img, mask)

	cutout, err := testCompositor().Compose(&img, mask)
	if err != nil {
		t.Fatalf("compose: %v", err)
	}
	defer cutout.Close()

	if cutout.Rows() != img.Rows() || cutout.Cols() != img.Cols() {
		t.Fatalf("expected %dx%d, got %dx%d", img.Cols(), img.Rows(), cutout.Cols(), cutout.Rows())
	}
	if cutout.Channels() != 4 {
		t.Fatalf("expected 4 channels, got %d", cutout.Channels())
	}

	for y := 0; y < img.Rows(); y++ {
		for x := 0; x < img.Cols(); x++ {
			src := img.GetVecbAt(y, x)
			dst := cutout.GetVecbAt(y, x)
			if src[0] != dst[0] || src[1] != dst[1] || src[2] != dst[2] {
				t.Fatalf("pixel (%d,%d) color changed: %v -> %v", x, y, src, dst)
			}
		}
	}
}

func TestCompose_HalfMaskAlpha(t *testing.T) {
	img := newImage(40, 40)
	mask := halfMask(40, 40, 200)
	closeAfter(t, &img, mask)

	cutout, err := testCompositor().Compose(&img, mask)
	if err != nil {
		t.Fatalf("compose: %v", err)
	}
	defer cutout.Close()

	// 远离边界处为完全不透明/完全透明
	if a := alphaAt(cutout, 20, 2); a != 255 {
		t.Fatalf("expected opaque inside garment, got %d", a)
	}
	if a := alphaAt(cutout, 20, 37); a != 0 {
		t.Fatalf("expected transparent outside garment, got %d", a)
	}

	// 边界两侧被柔化
	inner := alphaAt(cutout, 20, 19)
	outer := alphaAt(cutout, 20, 20)
	if inner == 255 || inner == 0 || outer == 255 || outer == 0 {
		t.Fatalf("expected softened boundary, got %d / %d", inner, outer)
	}
	if inner <= outer {
		t.Fatalf("alpha should fall across the boundary, got %d then %d", inner, outer)
	}
}

// 7x7 σ=2.0 高斯核作用于 255|0 竖直边缘（边缘在第 19/20 列之间）后的取整结果
func TestCompose_BoundaryMatchesGaussianKernel(t *testing.T) {
	img := newImage(40, 40)
	mask := halfMask(40, 40, 255)
	closeAfter(t, &img, mask)

	cutout, err := testCompositor().Compose(&img, mask)
	if err != nil {
		t.Fatalf("compose: %v", err)
	}
	defer cutout.Close()

	expected := map[int]uint8{
		16: 255,
		17: 237,
		18: 204,
		19: 155,
		20: 100,
		21: 51,
		22: 18,
		23: 0,
	}
	for _, row := range []int{0, 20, 39} {
		for col, want := range expected {
			if got := alphaAt(cutout, row, col); got != want {
				t.Errorf("alpha at (%d,%d) = %d, expected %d", col, row, got, want)
			}
		}
	}
}

func TestCompose_ZeroMaskIsTransparent(t *testing.T) {
	img := newImage(16, 16)
	mask := filledMask(16, 16, 0)
	closeAfter(t, &img, mask)

	cutout, err := testCompositor().Compose(&img, mask)
	if err != nil {
		t.Fatalf("compose: %v", err)
	}
	defer cutout.Close()

	channels := gocv.Split(cutout)
	defer func() {
		for i := range channels {
			channels[i].Close()
		}
	}()
	if n := gocv.CountNonZero(channels[3]); n != 0 {
		t.Fatalf("expected fully transparent alpha, got %d non-zero pixels", n)
	}
}

func TestSmoothAlpha_BinarizeThreshold(t *testing.T) {
	tests := []struct {
		value    uint8
		expected uint8
	}{
		{0, 0},
		{128, 0},
		{129, 255},
		{255, 255},
	}

	compositor := testCompositor()
	for _, tt := range tests {
		mask := filledMask(12, 12, tt.value)
		alpha := compositor.SmoothAlpha(mask)

		if alpha.Type() != gocv.MatTypeCV8U {
			t.Fatalf("expected 8-bit alpha, got %v", alpha.Type())
		}
		if got := alpha.GetUCharAt(6, 6); got != tt.expected {
			t.Errorf("mask value %d: alpha = %d, expected %d", tt.value, got, tt.expected)
		}

		alpha.Close()
		mask.Close()
	}
}

func TestCompose_Errors(t *testing.T) {
	img := newImage(10, 10)
	empty := gocv.NewMat()
	wrongSize := filledMask(10, 12, 255)
	threeChannel := newImage(10, 10)
	gray := filledMask(10, 10, 255)
	closeAfter(t, &img, &empty, wrongSize, &threeChannel, gray)

	tests := []struct {
		name     string
		img      *gocv.Mat
		mask     *gocv.Mat
		expected error
	}{
		{"nil mask", &img, nil, ErrMissingMask},
		{"empty mask", &img, &empty, ErrMissingMask},
		{"size mismatch", &img, wrongSize, ErrMaskShape},
		{"multi-channel mask", &img, &threeChannel, ErrMaskShape},
		{"grayscale image", gray, gray, ErrMaskShape},
		{"empty image", &empty, gray, ErrEmptyImage},
	}

	compositor := testCompositor()
	for _, tt := range tests {
		_, err := compositor.Compose(tt.img, tt.mask)
		if !errors.Is(err, tt.expected) {
			t.Errorf("%s: expected %v, got %v", tt.name, tt.expected, err)
		}
	}
}
