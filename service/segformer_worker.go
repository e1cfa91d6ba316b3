package service

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/IoanaComaniciu00/Lets-Fit-It/config"
	"github.com/IoanaComaniciu00/Lets-Fit-It/model"
	"github.com/IoanaComaniciu00/Lets-Fit-It/utils"
	"go.uber.org/zap"
	"gocv.io/x/gocv"
)

const (
	maxRestartBackoff = 30 * time.Second
	stopTimeout       = 5 * time.Second
	// frameBacklog 被取消请求的迟到响应最多缓存的帧数
	frameBacklog = 8
)

var errRequestTimeout = errors.New("timed out waiting for segmenter")

// workerRequest 发送给 Python 进程的请求
type workerRequest struct {
	Type  string `msgpack:"type"`
	ID    string `msgpack:"id"`
	Image []byte `msgpack:"image"`
}

// workerMessage Python 进程返回的消息，type 为 ready / error / result
type workerMessage struct {
	Type    string       `msgpack:"type"`
	ID      string       `msgpack:"id"`
	Regions []wireRegion `msgpack:"regions"`
	Error   string       `msgpack:"error"`
}

// workerProcess 一次启动的 Python 进程。
// stdout 由 readFrames 独占读取，读取结束后才调用 cmd.Wait。
type workerProcess struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	frames chan workerMessage
	exited chan struct{}
	err    error
}

func (p *workerProcess) pid() int {
	return p.cmd.Process.Pid
}

func (p *workerProcess) kill() {
	if err := p.cmd.Process.Kill(); err != nil {
		utils.Logger.Debug("failed to kill segmenter process", zap.Error(err))
	}
}

// readFrames 持续读取 stdout。无人接收时丢弃，避免阻塞进程回收。
func (p *workerProcess) readFrames(stdout io.Reader) {
	defer close(p.frames)
	for {
		var msg workerMessage
		if err := readFrame(stdout, &msg); err != nil {
			if !errors.Is(err, io.EOF) {
				utils.Logger.Debug("segmenter stdout closed", zap.Int("pid", p.pid()), zap.Error(err))
			}
			return
		}
		select {
		case p.frames <- msg:
		default:
			utils.Logger.Warn("dropping unclaimed segmenter response", zap.String("id", msg.ID))
		}
	}
}

// SegformerWorker 通过 stdin/stdout 与 Python 分割进程通信。
// 帧格式：4 字节大端长度 + msgpack。进程内模型不可重入，同一时间只处理一个请求。
// 进程在运行期间退出或卡死时会被重启；模型首次加载失败则保持 failed。
type SegformerWorker struct {
	command        string
	args           []string
	modelName      string
	startupTimeout time.Duration
	requestTimeout time.Duration
	restartBackoff time.Duration

	lifecycle modelLifecycle

	// reqMu 串行化请求；procMu 保护当前进程
	reqMu    sync.Mutex
	procMu   sync.Mutex
	proc     *workerProcess
	stopping atomic.Bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewSegformerWorker(cfg *config.SegmenterConfig) (*SegformerWorker, error) {
	if cfg.Command == "" {
		return nil, fmt.Errorf("segmenter command is required")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("segmenter model is required")
	}

	backoff := cfg.RestartBackoff
	if backoff <= 0 {
		backoff = time.Second
	}

	return &SegformerWorker{
		command:        cfg.Command,
		args:           append([]string(nil), cfg.Args...),
		modelName:      cfg.Model,
		startupTimeout: cfg.StartupTimeout,
		requestTimeout: cfg.RequestTimeout,
		restartBackoff: backoff,
	}, nil
}

func (w *SegformerWorker) State() ModelState {
	return w.lifecycle.State()
}

// Start 在后台启动并守护 Python 进程，模型加载期间状态为 initializing
func (w *SegformerWorker) Start(ctx context.Context) error {
	w.ctx, w.cancel = context.WithCancel(ctx)

	w.wg.Add(1)
	go w.supervise()
	return nil
}

func (w *SegformerWorker) current() *workerProcess {
	w.procMu.Lock()
	defer w.procMu.Unlock()
	return w.proc
}

func (w *SegformerWorker) setCurrent(p *workerProcess) {
	w.procMu.Lock()
	w.proc = p
	w.procMu.Unlock()
}

func (w *SegformerWorker) shuttingDown() bool {
	return w.stopping.Load() || w.ctx.Err() != nil
}

func (w *SegformerWorker) supervise() {
	defer w.wg.Done()

	backoff := w.restartBackoff
	loaded := false

	for {
		proc, err := w.spawn()
		if err != nil {
			w.lifecycle.set(ModelFailed, err)
			utils.Logger.Error("failed to start segmenter process", zap.Error(err))
			return
		}

		if err := w.handshake(proc); err != nil {
			proc.kill()
			<-proc.exited
			if w.shuttingDown() {
				return
			}
			if !loaded {
				w.lifecycle.set(ModelFailed, err)
				utils.Logger.Error("segmentation model failed to load", zap.Error(err))
				return
			}
			w.lifecycle.set(ModelUninitialized, err)
			utils.Logger.Warn("segmenter restart failed", zap.Error(err))
		} else {
			loaded = true
			backoff = w.restartBackoff

			w.setCurrent(proc)
			w.lifecycle.set(ModelReady, nil)

			select {
			case <-proc.exited:
			case <-w.ctx.Done():
				<-proc.exited
			}
			w.setCurrent(nil)

			if w.shuttingDown() {
				utils.Logger.Debug("segmenter process exited (shutdown)", zap.Int("pid", proc.pid()))
				return
			}

			err := proc.err
			if err == nil {
				err = fmt.Errorf("segmenter process exited")
			}
			w.lifecycle.set(ModelUninitialized, err)
			utils.Logger.Error("segmenter process exited unexpectedly",
				zap.Int("pid", proc.pid()),
				zap.Error(err))
		}

		utils.Logger.Info("restarting segmenter", zap.Duration("backoff", backoff))
		select {
		case <-w.ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > maxRestartBackoff {
			backoff = maxRestartBackoff
		}
	}
}

// spawn 启动进程；stdout 与 stderr 读完后才回收进程
func (w *SegformerWorker) spawn() (*workerProcess, error) {
	args := append(append([]string(nil), w.args...), "--model", w.modelName)
	cmd := exec.CommandContext(w.ctx, w.command, args...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start segmenter process: %w", err)
	}

	p := &workerProcess{
		cmd:    cmd,
		stdin:  stdin,
		frames: make(chan workerMessage, frameBacklog),
		exited: make(chan struct{}),
	}

	utils.Logger.Info("segmenter process spawned",
		zap.String("command", w.command),
		zap.String("model", w.modelName),
		zap.Int("pid", p.pid()))

	var streams sync.WaitGroup
	streams.Add(2)
	go func() {
		defer streams.Done()
		p.readFrames(stdout)
	}()
	go func() {
		defer streams.Done()
		logStderr(stderr)
	}()
	go func() {
		streams.Wait()
		p.err = cmd.Wait()
		close(p.exited)
	}()

	return p, nil
}

// handshake 等待第一帧：ready 或 error
func (w *SegformerWorker) handshake(p *workerProcess) error {
	started := time.Now()

	var timeout <-chan time.Time
	if w.startupTimeout > 0 {
		t := time.NewTimer(w.startupTimeout)
		defer t.Stop()
		timeout = t.C
	}

	select {
	case msg, ok := <-p.frames:
		if !ok {
			return fmt.Errorf("segmenter process exited during startup")
		}
		switch msg.Type {
		case "ready":
			utils.Logger.Info("segmentation model loaded",
				zap.String("model", w.modelName),
				zap.Int("pid", p.pid()),
				zap.Duration("duration", time.Since(started)))
			return nil
		case "error":
			return fmt.Errorf("segmenter failed to load model: %s", msg.Error)
		default:
			return fmt.Errorf("unexpected handshake message %q", msg.Type)
		}
	case <-timeout:
		return fmt.Errorf("segmenter handshake timed out after %s", w.startupTimeout)
	case <-w.ctx.Done():
		return w.ctx.Err()
	}
}

// Segment 发送 PNG 编码的图像并等待分割结果。
// 调用方取消只结束本次等待，迟到的响应由下一次请求丢弃。
func (w *SegformerWorker) Segment(ctx context.Context, img *gocv.Mat) ([]model.SegmentationRegion, error) {
	if w.State() != ModelReady {
		return nil, ErrCapabilityUnavailable
	}

	data, err := EncodePNG(img)
	if err != nil {
		return nil, err
	}

	w.reqMu.Lock()
	defer w.reqMu.Unlock()

	// 等锁期间进程可能已重启
	proc := w.current()
	if proc == nil || w.State() != ModelReady {
		return nil, ErrCapabilityUnavailable
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	req := workerRequest{
		Type:  "segment",
		ID:    utils.GenerateID(),
		Image: data,
	}

	if err := w.send(proc, req); err != nil {
		w.restart(proc, err)
		return nil, fmt.Errorf("%w: %v", ErrSegmentation, err)
	}

	msg, err := w.awaitResult(ctx, proc, req.ID)
	if err != nil {
		if errors.Is(err, errRequestTimeout) {
			w.restart(proc, err)
		}
		if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
			return nil, fmt.Errorf("wait for segmentation: %w", err)
		}
		return nil, fmt.Errorf("%w: %v", ErrSegmentation, err)
	}
	if msg.Error != "" {
		return nil, fmt.Errorf("%w: %s", ErrSegmentation, msg.Error)
	}

	return toRegions(msg.Regions)
}

// send 写入不受请求 ctx 影响，半帧会破坏后续请求
func (w *SegformerWorker) send(p *workerProcess, req workerRequest) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- writeFrame(p.stdin, req)
	}()

	var timeout <-chan time.Time
	if w.requestTimeout > 0 {
		t := time.NewTimer(w.requestTimeout)
		defer t.Stop()
		timeout = t.C
	}

	select {
	case err := <-errCh:
		return err
	case <-timeout:
		return fmt.Errorf("stdin write timeout (segmenter process may be hung)")
	}
}

func (w *SegformerWorker) awaitResult(ctx context.Context, p *workerProcess, id string) (*workerMessage, error) {
	var timeout <-chan time.Time
	if w.requestTimeout > 0 {
		t := time.NewTimer(w.requestTimeout)
		defer t.Stop()
		timeout = t.C
	}

	for {
		select {
		case msg, ok := <-p.frames:
			if !ok {
				return nil, fmt.Errorf("segmenter process exited")
			}
			if msg.ID != id {
				utils.Logger.Debug("discarding stale segmenter response",
					zap.String("id", msg.ID),
					zap.String("want", id))
				continue
			}
			return &msg, nil
		case <-timeout:
			return nil, fmt.Errorf("%w after %s", errRequestTimeout, w.requestTimeout)
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// restart 结束卡住的进程，由 supervise 重新拉起
func (w *SegformerWorker) restart(p *workerProcess, err error) {
	w.lifecycle.set(ModelUninitialized, err)
	utils.Logger.Error("segmenter unresponsive, restarting",
		zap.Int("pid", p.pid()),
		zap.Error(err))
	p.kill()
}

// logStderr 按日志级别转发 Python 进程的 stderr
func logStderr(stderr io.Reader) {
	scanner := bufio.NewScanner(stderr)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.Contains(line, "[ERROR]"), strings.Contains(line, "[CRITICAL]"):
			utils.Logger.Error("segmenter process error", zap.String("log", line))
		case strings.Contains(line, "[WARNING]"), strings.Contains(line, "[WARN]"):
			utils.Logger.Warn("segmenter process warning", zap.String("log", line))
		default:
			utils.Logger.Debug("segmenter process log", zap.String("log", line))
		}
	}
}

// Stop 关闭 stdin 等待进程退出，超时后强制结束
func (w *SegformerWorker) Stop() error {
	if w.cancel == nil {
		return nil
	}
	w.stopping.Store(true)

	if proc := w.current(); proc != nil {
		_ = proc.stdin.Close()
		select {
		case <-proc.exited:
		case <-time.After(stopTimeout):
			utils.Logger.Warn("segmenter stop timeout, killing process", zap.Int("pid", proc.pid()))
		}
	}

	w.cancel()
	w.wg.Wait()
	utils.Logger.Info("segmenter stopped")
	return nil
}
