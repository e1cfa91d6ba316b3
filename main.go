package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/IoanaComaniciu00/Lets-Fit-It/config"
	"github.com/IoanaComaniciu00/Lets-Fit-It/handler"
	"github.com/IoanaComaniciu00/Lets-Fit-It/service"
	"github.com/IoanaComaniciu00/Lets-Fit-It/utils"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
	BuildID   = "unknown"
	GitCommit = "unknown"
	GitBranch = "unknown"
)

func main() {
	// .env 可选，变量通过 GARMENT_ 前缀覆盖配置
	_ = godotenv.Load()

	// 加载配置
	cfg := config.New()

	// 初始化日志
	if err := utils.InitLogger(cfg.Server.Mode, cfg.Server.LogLevel); err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer utils.Sync()

	utils.Logger.Info("starting garment segmentation server",
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
		zap.String("git_commit", GitCommit),
		zap.String("git_branch", GitBranch))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 初始化分割模型，加载在后台进行，期间 /health 返回 initializing
	segmenter, err := service.NewSegmenter(&cfg.Segmenter)
	if err != nil {
		utils.Logger.Fatal("invalid segmenter config", zap.Error(err))
	}
	if err := segmenter.Start(context.Background()); err != nil {
		utils.Logger.Error("failed to start segmenter", zap.Error(err))
	}
	defer segmenter.Stop()

	// 缓存默认关闭
	var cache handler.ResultCache
	if cfg.Cache.Enabled {
		redisService := service.NewRedisService(&cfg.Cache)
		if err := redisService.Ping(ctx); err != nil {
			utils.Logger.Warn("redis connection failed, cache disabled", zap.Error(err))
		} else {
			utils.Logger.Info("redis connected successfully")
			cache = redisService
		}
		defer redisService.Close()
	}

	garmentService := service.NewGarmentService(cfg, segmenter)

	// 设置Gin模式
	gin.SetMode(cfg.Server.Mode)

	r := handler.NewRouter(
		handler.NewSegmentHandler(cfg, garmentService, cache),
		handler.NewHealthHandler(cfg.Segmenter.Model, segmenter, handler.BuildInfo{
			Version:   Version,
			BuildTime: BuildTime,
			BuildID:   BuildID,
			GitCommit: GitCommit,
			GitBranch: GitBranch,
		}),
	)

	srv := &http.Server{
		Addr:         cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		utils.Logger.Info("server starting", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			utils.Logger.Error("server stopped", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	utils.Logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		utils.Logger.Error("graceful shutdown failed", zap.Error(err))
	}
}
