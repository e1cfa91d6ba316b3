package service

import (
	"sync"
	"sync/atomic"
)

// ModelState 分割模型生命周期状态
type ModelState int32

const (
	ModelUninitialized ModelState = iota
	ModelReady
	ModelFailed
)

func (s ModelState) String() string {
	switch s {
	case ModelReady:
		return "ready"
	case ModelFailed:
		return "failed"
	default:
		return "initializing"
	}
}

// modelLifecycle 记录模型状态及最近一次失败原因
type modelLifecycle struct {
	state atomic.Int32
	mu    sync.Mutex
	err   error
}

func (l *modelLifecycle) State() ModelState {
	return ModelState(l.state.Load())
}

func (l *modelLifecycle) Err() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.err
}

func (l *modelLifecycle) set(state ModelState, err error) {
	l.mu.Lock()
	l.err = err
	l.mu.Unlock()
	l.state.Store(int32(state))
}
