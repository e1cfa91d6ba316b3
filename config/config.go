package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Upload     UploadConfig     `mapstructure:"upload"`
	Segmenter  SegmenterConfig  `mapstructure:"segmenter"`
	Selector   SelectorConfig   `mapstructure:"selector"`
	Compositor CompositorConfig `mapstructure:"compositor"`
	Cache      CacheConfig      `mapstructure:"cache"`
}

type ServerConfig struct {
	Port            string        `mapstructure:"port"`
	Mode            string        `mapstructure:"mode"`
	LogLevel        string        `mapstructure:"log_level"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type UploadConfig struct {
	MaxSize      int64    `mapstructure:"max_size"`
	AllowedTypes []string `mapstructure:"allowed_types"`
}

// SegmenterConfig 分割模型配置
// backend: worker 启动本地 Python 进程, http 调用远程推理服务
type SegmenterConfig struct {
	Backend        string        `mapstructure:"backend"`
	Model          string        `mapstructure:"model"`
	Command        string        `mapstructure:"command"`
	Args           []string      `mapstructure:"args"`
	URL            string        `mapstructure:"url"`
	HealthURL      string        `mapstructure:"health_url"`
	PollInterval   time.Duration `mapstructure:"poll_interval"`
	StartupTimeout time.Duration `mapstructure:"startup_timeout"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	MaxConcurrent  int           `mapstructure:"max_concurrent"`
	QueueTimeout   time.Duration `mapstructure:"queue_timeout"`
	RestartBackoff time.Duration `mapstructure:"restart_backoff"`
}

// SelectorConfig 候选筛选参数，AreaThreshold 默认 0.01
type SelectorConfig struct {
	AreaThreshold   float64  `mapstructure:"area_threshold"`
	GarmentTerms    []string `mapstructure:"garment_terms"`
	BackgroundTerms []string `mapstructure:"background_terms"`
}

// CompositorConfig 掩码合成参数，BinarizeThreshold 默认 128
type CompositorConfig struct {
	BinarizeThreshold float32 `mapstructure:"binarize_threshold"`
	BlurKernel        int     `mapstructure:"blur_kernel"`
	BlurSigma         float64 `mapstructure:"blur_sigma"`
}

type CacheConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	TTL      time.Duration `mapstructure:"ttl"`
}

var (
	DefaultGarmentTerms = []string{
		"upper-clothes", "shirt", "dress", "pants", "skirt",
		"coat", "jacket", "top", "t-shirt", "hoodie",
	}
	DefaultBackgroundTerms = []string{"background", "wall", "floor", "ground", "sky"}
)

// Load 从 YAML 文件加载配置，文件不存在时使用默认值，环境变量覆盖仍然生效
func Load(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")

	// 环境变量覆盖，例如 GARMENT_SERVER_PORT
	v.SetEnvPrefix("garment")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil && !isNotFound(err) {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// isNotFound SetConfigFile 指定路径时 viper 返回的是 fs 错误而非 ConfigFileNotFoundError
func isNotFound(err error) bool {
	var notFound viper.ConfigFileNotFoundError
	return errors.As(err, &notFound) || errors.Is(err, fs.ErrNotExist)
}

// New 使用默认配置路径加载配置
func New() *Config {
	cfg, err := Load("config.yaml")
	if err != nil {
		// 如果加载失败，返回默认配置
		return Default()
	}
	return cfg
}

func setDefaults(v *viper.Viper) {
	d := Default()

	v.SetDefault("server.port", d.Server.Port)
	v.SetDefault("server.mode", d.Server.Mode)
	v.SetDefault("server.read_timeout", d.Server.ReadTimeout)
	v.SetDefault("server.write_timeout", d.Server.WriteTimeout)
	v.SetDefault("server.shutdown_timeout", d.Server.ShutdownTimeout)
	v.SetDefault("server.log_level", d.Server.LogLevel)

	v.SetDefault("upload.max_size", d.Upload.MaxSize)
	v.SetDefault("upload.allowed_types", d.Upload.AllowedTypes)

	v.SetDefault("segmenter.backend", d.Segmenter.Backend)
	v.SetDefault("segmenter.model", d.Segmenter.Model)
	v.SetDefault("segmenter.command", d.Segmenter.Command)
	v.SetDefault("segmenter.args", d.Segmenter.Args)
	v.SetDefault("segmenter.url", d.Segmenter.URL)
	v.SetDefault("segmenter.health_url", d.Segmenter.HealthURL)
	v.SetDefault("segmenter.poll_interval", d.Segmenter.PollInterval)
	v.SetDefault("segmenter.startup_timeout", d.Segmenter.StartupTimeout)
	v.SetDefault("segmenter.request_timeout", d.Segmenter.RequestTimeout)
	v.SetDefault("segmenter.max_concurrent", d.Segmenter.MaxConcurrent)
	v.SetDefault("segmenter.queue_timeout", d.Segmenter.QueueTimeout)
	v.SetDefault("segmenter.restart_backoff", d.Segmenter.RestartBackoff)

	v.SetDefault("selector.area_threshold", d.Selector.AreaThreshold)
	v.SetDefault("selector.garment_terms", d.Selector.GarmentTerms)
	v.SetDefault("selector.background_terms", d.Selector.BackgroundTerms)

	v.SetDefault("compositor.binarize_threshold", d.Compositor.BinarizeThreshold)
	v.SetDefault("compositor.blur_kernel", d.Compositor.BlurKernel)
	v.SetDefault("compositor.blur_sigma", d.Compositor.BlurSigma)

	v.SetDefault("cache.enabled", d.Cache.Enabled)
	v.SetDefault("cache.addr", d.Cache.Addr)
	v.SetDefault("cache.password", d.Cache.Password)
	v.SetDefault("cache.db", d.Cache.DB)
	v.SetDefault("cache.ttl", d.Cache.TTL)
}

// Default 返回内置默认配置
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            ":5000",
			Mode:            "debug",
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    60 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Upload: UploadConfig{
			MaxSize:      10 * 1024 * 1024,
			AllowedTypes: []string{"image/jpeg", "image/png", "image/jpg"},
		},
		Segmenter: SegmenterConfig{
			Backend:        "worker",
			Model:          "mattmdjaga/segformer_b2_clothes",
			Command:        "python3",
			Args:           []string{"models/segformer_worker.py"},
			URL:            "http://127.0.0.1:8000/segment",
			HealthURL:      "http://127.0.0.1:8000/health",
			PollInterval:   2 * time.Second,
			StartupTimeout: 5 * time.Minute,
			RequestTimeout: 30 * time.Second,
			MaxConcurrent:  1,
			QueueTimeout:   30 * time.Second,
			RestartBackoff: time.Second,
		},
		Selector: SelectorConfig{
			AreaThreshold:   0.01,
			GarmentTerms:    append([]string(nil), DefaultGarmentTerms...),
			BackgroundTerms: append([]string(nil), DefaultBackgroundTerms...),
		},
		Compositor: CompositorConfig{
			BinarizeThreshold: 128,
			BlurKernel:        7,
			BlurSigma:         2.0,
		},
		Cache: CacheConfig{
			Enabled: false,
			Addr:    "localhost:6379",
			DB:      0,
			TTL:     24 * time.Hour,
		},
	}
}
