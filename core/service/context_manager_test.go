package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContextManagerCreateAndCancel(t *testing.T) {
	cm := NewContextManager(context.Background())
	defer cm.Stop()

	ctx := cm.Create("req-1")
	require.NoError(t, ctx.Err())

	require.NoError(t, cm.Cancel("req-1"))
	assert.ErrorIs(t, ctx.Err(), context.Canceled)

	// 已取消的请求再次取消应报未找到
	assert.Error(t, cm.Cancel("req-1"))
}

func TestContextManagerRecreateCancelsOld(t *testing.T) {
	cm := NewContextManager(context.Background())
	defer cm.Stop()

	old := cm.Create("req-1")
	fresh := cm.Create("req-1")

	assert.ErrorIs(t, old.Err(), context.Canceled)
	assert.NoError(t, fresh.Err())
}

func TestContextManagerCleanup(t *testing.T) {
	cm := NewContextManager(context.Background())
	defer cm.Stop()

	ctx := cm.Create("req-1")
	cm.Cleanup("req-1")
	assert.ErrorIs(t, ctx.Err(), context.Canceled)

	// 重复清理不报错
	cm.Cleanup("req-1")
}

func TestContextManagerCleanupExpired(t *testing.T) {
	cm := NewContextManager(context.Background())
	defer cm.Stop()

	stale := cm.Create("req-stale")
	fresh := cm.Create("req-fresh")

	cm.mu.Lock()
	req := cm.requests["req-stale"]
	req.createdAt = time.Now().Add(-2 * time.Hour)
	cm.requests["req-stale"] = req
	cm.mu.Unlock()

	cm.cleanupExpired()

	assert.ErrorIs(t, stale.Err(), context.Canceled)
	assert.NoError(t, fresh.Err())
}

func TestContextManagerStopCancelsAll(t *testing.T) {
	cm := NewContextManager(context.Background())

	first := cm.Create("req-1")
	second := cm.Create("req-2")

	cm.Stop()
	// Stop 幂等
	cm.Stop()

	assert.ErrorIs(t, first.Err(), context.Canceled)
	assert.ErrorIs(t, second.Err(), context.Canceled)
}
