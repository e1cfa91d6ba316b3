package utils

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger 全局日志，初始化前为 no-op
var Logger = zap.NewNop()

// InitLogger release 模式输出 JSON，其余为带颜色的开发格式。
// level 为空时沿用模式默认级别（release 为 info，其余为 debug）。
func InitLogger(mode, level string) error {
	var cfg zap.Config
	if mode == "release" {
		cfg = zap.NewProductionConfig()
	} else {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	if level != "" {
		lvl, err := zap.ParseAtomicLevel(level)
		if err != nil {
			return fmt.Errorf("invalid log level %q: %w", level, err)
		}
		cfg.Level = lvl
	}

	logger, err := cfg.Build()
	if err != nil {
		return err
	}

	Logger = logger.Named("garment")
	return nil
}

func Sync() {
	if Logger != nil {
		_ = Logger.Sync()
	}
}
