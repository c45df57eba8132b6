package service

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// requestContext 单个请求的 context 及其取消函数
type requestContext struct {
	ctx       context.Context
	cancel    context.CancelFunc
	createdAt time.Time
}

// ContextManager 管理每个生成请求的 context，支持从前端主动取消
type ContextManager struct {
	mu       sync.Mutex
	baseCtx  context.Context
	requests map[string]requestContext
	stopOnce sync.Once
	stopChan chan struct{}
}

// NewContextManager 创建请求 context 管理器
func NewContextManager(baseCtx context.Context) *ContextManager {
	return &ContextManager{
		baseCtx:  baseCtx,
		requests: make(map[string]requestContext),
		stopChan: make(chan struct{}),
	}
}

// Create 为请求创建新的 context
// 同一请求 ID 重复创建时取消旧的 context
func (cm *ContextManager) Create(requestID string) context.Context {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if existing, ok := cm.requests[requestID]; ok {
		existing.cancel()
	}

	ctx, cancel := context.WithCancel(cm.baseCtx)
	cm.requests[requestID] = requestContext{
		ctx:       ctx,
		cancel:    cancel,
		createdAt: time.Now(),
	}
	return ctx
}

// Cancel 取消指定请求
func (cm *ContextManager) Cancel(requestID string) error {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	req, ok := cm.requests[requestID]
	if !ok {
		return fmt.Errorf("request %s not found", requestID)
	}
	req.cancel()
	delete(cm.requests, requestID)
	return nil
}

// Cleanup 请求完成后释放其 context
func (cm *ContextManager) Cleanup(requestID string) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if req, ok := cm.requests[requestID]; ok {
		req.cancel()
		delete(cm.requests, requestID)
	}
}

// cleanupExpired 释放超过 1 小时未清理的请求
func (cm *ContextManager) cleanupExpired() {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	for id, req := range cm.requests {
		if time.Since(req.createdAt) > time.Hour {
			req.cancel()
			delete(cm.requests, id)
		}
	}
}

// StartCleanupRoutine 启动定期清理协程，应用关闭时随 Stop 退出
func (cm *ContextManager) StartCleanupRoutine() {
	go func() {
		ticker := time.NewTicker(30 * time.Minute)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				cm.cleanupExpired()
			case <-cm.stopChan:
				return
			}
		}
	}()
}

// Stop 停止清理协程并取消所有在途请求
func (cm *ContextManager) Stop() {
	cm.stopOnce.Do(func() { close(cm.stopChan) })

	cm.mu.Lock()
	defer cm.mu.Unlock()
	for id, req := range cm.requests {
		req.cancel()
		delete(cm.requests, id)
	}
}
