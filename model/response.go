package model

// SegmentRequest JSON 请求体，image 为 data URI 格式的 base64 图片
type SegmentRequest struct {
	Image string `json:"image" binding:"required"`
}

// SegmentResult 分割结果
type SegmentResult struct {
	Success        bool               `json:"success"`
	DetectedItems  []GarmentCandidate `json:"detected_items"`
	PrimaryItem    string             `json:"primary_item"`
	Confidence     float64            `json:"confidence"`
	SegmentedImage string             `json:"segmented_image"`
	ImageSize      [2]int             `json:"image_size"` // [width, height]
	Message        string             `json:"message"`
	MD5            string             `json:"md5,omitempty"`
	Cutout         bool               `json:"cutout"`
}

// ErrorResponse 错误响应
type ErrorResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Error   string `json:"error,omitempty"`
}

// HealthResponse 健康检查响应
type HealthResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Model   string `json:"model,omitempty"`
	Version string `json:"version,omitempty"`
}
