package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"sync"
	"time"

	"github.com/IoanaComaniciu00/Lets-Fit-It/config"
	"github.com/IoanaComaniciu00/Lets-Fit-It/model"
	"github.com/IoanaComaniciu00/Lets-Fit-It/utils"
	"go.uber.org/zap"
	"gocv.io/x/gocv"
)

// HTTPSegmenter 调用远程推理服务进行分割
type HTTPSegmenter struct {
	url          string
	healthURL    string
	pollInterval time.Duration
	client       *http.Client

	lifecycle modelLifecycle

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type httpSegmentResponse struct {
	Regions []wireRegion `json:"regions"`
	Error   string       `json:"error"`
}

type httpHealthResponse struct {
	Status string `json:"status"`
}

func NewHTTPSegmenter(cfg *config.SegmenterConfig) (*HTTPSegmenter, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("segmenter url is required")
	}

	pollInterval := cfg.PollInterval
	if pollInterval <= 0 {
		pollInterval = 2 * time.Second
	}

	return &HTTPSegmenter{
		url:          cfg.URL,
		healthURL:    cfg.HealthURL,
		pollInterval: pollInterval,
		client:       &http.Client{Timeout: cfg.RequestTimeout},
	}, nil
}

func (s *HTTPSegmenter) State() ModelState {
	return s.lifecycle.State()
}

// Start 未配置 health_url 时直接视为就绪，否则后台轮询远端状态
func (s *HTTPSegmenter) Start(ctx context.Context) error {
	if s.healthURL == "" {
		s.lifecycle.set(ModelReady, nil)
		return nil
	}

	ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(1)
	go s.pollHealth(ctx)
	return nil
}

func (s *HTTPSegmenter) pollHealth(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		s.checkHealth(ctx)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *HTTPSegmenter) checkHealth(ctx context.Context) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.healthURL, nil)
	if err != nil {
		s.lifecycle.set(ModelFailed, err)
		return
	}

	resp, err := s.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		s.transition(ModelUninitialized, err)
		return
	}
	defer resp.Body.Close()

	var health httpHealthResponse
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		s.transition(ModelUninitialized, fmt.Errorf("decode health response: %w", err))
		return
	}

	if resp.StatusCode == http.StatusOK && health.Status == "ready" {
		s.transition(ModelReady, nil)
		return
	}
	s.transition(ModelUninitialized, fmt.Errorf("remote segmenter status %q", health.Status))
}

func (s *HTTPSegmenter) transition(state ModelState, err error) {
	prev := s.lifecycle.State()
	s.lifecycle.set(state, err)
	if prev == state {
		return
	}
	utils.Logger.Info("remote segmenter state changed",
		zap.String("from", prev.String()),
		zap.String("to", state.String()),
		zap.Error(err))
}

// Segment 以 multipart 上传 PNG，掩码以 base64 PNG 返回
func (s *HTTPSegmenter) Segment(ctx context.Context, img *gocv.Mat) ([]model.SegmentationRegion, error) {
	if s.State() != ModelReady {
		return nil, ErrCapabilityUnavailable
	}

	data, err := EncodePNG(img)
	if err != nil {
		return nil, err
	}

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("image", "image.png")
	if err != nil {
		return nil, fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return nil, fmt.Errorf("failed to write form file: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, &body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSegmentation, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", ErrSegmentation, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: remote status %d: %s", ErrSegmentation, resp.StatusCode, string(respBody))
	}

	var parsed httpSegmentResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("%w: parse response: %v", ErrSegmentation, err)
	}
	if parsed.Error != "" {
		return nil, fmt.Errorf("%w: %s", ErrSegmentation, parsed.Error)
	}

	return toRegions(parsed.Regions)
}

func (s *HTTPSegmenter) Stop() error {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	return nil
}
