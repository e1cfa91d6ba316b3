package service

import "errors"

var (
	// ErrCapabilityUnavailable 分割模型尚未就绪或已失效
	ErrCapabilityUnavailable = errors.New("segmentation model not initialized")
	// ErrMalformedInput 无法解码请求中的图片
	ErrMalformedInput = errors.New("malformed image payload")
	// ErrSegmentation 模型调用失败
	ErrSegmentation = errors.New("segmentation failed")
	// ErrQueueFull 排队超时
	ErrQueueFull = errors.New("processing queue is full, retry later")

	ErrMissingMask = errors.New("mask is missing")
	ErrMaskShape   = errors.New("mask shape does not match image")
	ErrEmptyImage  = errors.New("image is empty")
)
