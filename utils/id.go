package utils

import "github.com/google/uuid"

// GenerateID 生成请求ID
func GenerateID() string {
	return uuid.NewString()
}
