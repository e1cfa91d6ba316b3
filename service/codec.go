package service

import (
	"encoding/base64"
	"fmt"
	"strings"

	"gocv.io/x/gocv"
)

const PNGDataURIPrefix = "data:image/png;base64,"

// DecodeDataURI 取第一个逗号之后的 base64 内容
func DecodeDataURI(s string) ([]byte, error) {
	idx := strings.IndexByte(s, ',')
	if idx < 0 {
		return nil, fmt.Errorf("%w: missing data URI prefix", ErrMalformedInput)
	}

	data, err := base64.StdEncoding.DecodeString(strings.TrimSpace(s[idx+1:]))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedInput, err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty payload", ErrMalformedInput)
	}
	return data, nil
}

// DecodeImage 解码为 3 通道 BGR 图像
func DecodeImage(data []byte) (gocv.Mat, error) {
	img, err := gocv.IMDecode(data, gocv.IMReadColor)
	if err != nil {
		return gocv.Mat{}, fmt.Errorf("%w: %v", ErrMalformedInput, err)
	}
	if img.Empty() {
		img.Close()
		return gocv.Mat{}, fmt.Errorf("%w: decoded image is empty", ErrMalformedInput)
	}
	return img, nil
}

// EncodePNG 编码为 PNG 字节，4 通道按 BGRA 写出
func EncodePNG(img *gocv.Mat) ([]byte, error) {
	if img == nil || img.Empty() {
		return nil, ErrEmptyImage
	}
	buf, err := gocv.IMEncode(gocv.PNGFileExt, *img)
	if err != nil {
		return nil, fmt.Errorf("failed to encode png: %w", err)
	}
	defer buf.Close()

	data := make([]byte, len(buf.GetBytes()))
	copy(data, buf.GetBytes())
	return data, nil
}

// EncodePNGDataURI 编码为 data:image/png;base64,... 字符串
func EncodePNGDataURI(img *gocv.Mat) (string, error) {
	data, err := EncodePNG(img)
	if err != nil {
		return "", err
	}
	return PNGDataURIPrefix + base64.StdEncoding.EncodeToString(data), nil
}
