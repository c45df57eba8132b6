package core

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/wailsapp/wails/v2/pkg/runtime"

	"covergen/core/provider"
	"covergen/core/service"
)

// App 主应用结构，聚合各服务并向前端暴露绑定方法
// 所有绑定方法以 JSON 字符串为参数和返回值
type App struct {
	ctx            context.Context
	keyChooser     *frontendKeyChooser
	configService  *service.ConfigService
	historyService *service.HistoryService
	fileService    *service.FileService
	aiService      *service.AIService
	updateService  *service.UpdateService
}

// NewApp 创建应用实例
func NewApp() *App {
	keyChooser := &frontendKeyChooser{}
	configService := service.NewConfigService()
	historyService := service.NewHistoryService()
	aiService := service.NewAIService(configService, historyService, keyChooser)
	updateService := service.NewUpdateService(RepoOwner, RepoName, Version)

	return &App{
		keyChooser:     keyChooser,
		configService:  configService,
		historyService: historyService,
		aiService:      aiService,
		updateService:  updateService,
	}
}

// Startup 应用启动时由 Wails 调用
func (a *App) Startup(ctx context.Context) {
	a.ctx = ctx
	a.keyChooser.bind(ctx)

	if err := a.configService.Startup(ctx); err != nil {
		fmt.Printf("Failed to initialize config service: %v\n", err)
	}
	if err := a.historyService.Startup(ctx); err != nil {
		fmt.Printf("Failed to initialize history service: %v\n", err)
	}
	a.fileService = service.NewFileService(a.historyService.ImageStorage())
	a.fileService.Startup(ctx)
	a.aiService.Startup(ctx)
	a.updateService.Startup(ctx)
}

// Shutdown 应用关闭时由 Wails 调用
func (a *App) Shutdown(ctx context.Context) {
	a.aiService.Shutdown()
	if err := a.historyService.Shutdown(); err != nil {
		fmt.Printf("Failed to shutdown history service: %v\n", err)
	}
}

// ===== 生成服务方法 =====

// GenerateCover 生成封面
// paramsJSON: JSON 格式的 CoverRequest
// requestID: 请求 ID，用于取消
// 返回 JSON 格式的 GenerationResult
func (a *App) GenerateCover(paramsJSON string, requestID string) (string, error) {
	return a.aiService.GenerateCover(paramsJSON, requestID)
}

// CancelGeneration 取消指定的生成请求
func (a *App) CancelGeneration(requestID string) error {
	return a.aiService.CancelRequest(requestID)
}

// CheckProviderAvailability 检测提供商凭证可用性
// 返回 JSON 格式：{"available": bool, "message": string}
func (a *App) CheckProviderAvailability(providerID string) (string, error) {
	available, message, err := a.aiService.CheckProviderAvailability(providerID)
	if err != nil {
		return "", err
	}

	data, err := json.Marshal(map[string]interface{}{
		"available": available,
		"message":   message,
	})
	if err != nil {
		return "", fmt.Errorf("failed to serialize result: %w", err)
	}
	return string(data), nil
}

// RequestProviderSelection 触发交互式凭证选择流程（仅 Gemini 支持）
func (a *App) RequestProviderSelection(providerID string) {
	a.aiService.RequestKeySelection(providerID)
}

// GetProviderCatalog 获取全部提供商的静态配置（模型列表、占位提示等）
func (a *App) GetProviderCatalog() (string, error) {
	data, err := json.Marshal(provider.Catalog)
	if err != nil {
		return "", fmt.Errorf("failed to serialize catalog: %w", err)
	}
	return string(data), nil
}

// ===== 配置管理服务方法 =====

// SaveSettings 保存设置并重载提供商
func (a *App) SaveSettings(settingsJSON string) error {
	if err := a.configService.SaveSettings(settingsJSON); err != nil {
		return err
	}
	a.aiService.ReloadProviders()
	return nil
}

// LoadSettings 加载设置
func (a *App) LoadSettings() (string, error) {
	return a.configService.LoadSettings()
}

// ClearAllData 清除全部持久化设置并恢复默认值
func (a *App) ClearAllData() error {
	if err := a.configService.ClearAllData(); err != nil {
		return err
	}
	a.aiService.ReloadProviders()
	return nil
}

// ===== 历史记录服务方法 =====

// LoadCoverHistory 加载生成历史，返回 JSON 格式的记录数组
func (a *App) LoadCoverHistory() (string, error) {
	return a.historyService.LoadHistory()
}

// ClearCoverHistory 清空生成历史
func (a *App) ClearCoverHistory() error {
	return a.historyService.ClearHistory()
}

// LoadCoverImage 按引用加载历史封面，返回 data URL
func (a *App) LoadCoverImage(imageRef string) (string, error) {
	storage := a.historyService.ImageStorage()
	if storage == nil {
		return "", fmt.Errorf("image storage not initialized")
	}
	return storage.Load(imageRef)
}

// ===== 文件管理服务方法 =====

// ExportImage 导出单张封面
func (a *App) ExportImage(image string, suggestedName string, format string, exportDir string) (string, error) {
	return a.fileService.ExportImage(image, suggestedName, format, exportDir)
}

// ExportCoverBatch 批量导出封面
func (a *App) ExportCoverBatch(imagesJSON string) (string, error) {
	return a.fileService.ExportCoverBatch(imagesJSON)
}

// ===== 更新服务方法 =====

// CheckForUpdate 检查是否有可用更新
func (a *App) CheckForUpdate() (string, error) {
	return a.updateService.CheckForUpdateJSON()
}

// Update 执行程序内更新，进度通过 update:progress 事件推送
func (a *App) Update() error {
	return a.updateService.Update()
}

// RestartApplication 更新完成后重启应用
func (a *App) RestartApplication() error {
	return a.updateService.RestartApplication()
}

// GetCurrentVersion 获取当前版本号
func (a *App) GetCurrentVersion() string {
	return a.updateService.GetCurrentVersion()
}

// ==================== 凭证选择端口的前端实现 ====================

// frontendKeyChooser 通过 Wails 事件把凭证选择流程交给前端设置面板
// 前端完成填写后把 Key 写回设置，selected 标记本会话内已处理
type frontendKeyChooser struct {
	mu       sync.RWMutex
	ctx      context.Context
	selected bool
}

func (c *frontendKeyChooser) bind(ctx context.Context) {
	c.mu.Lock()
	c.ctx = ctx
	c.mu.Unlock()

	// 前端在设置面板保存凭证后回发此事件
	runtime.EventsOn(ctx, "provider:key-selected", func(...interface{}) {
		c.mu.Lock()
		c.selected = true
		c.mu.Unlock()
	})
}

func (c *frontendKeyChooser) Selected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.selected
}

func (c *frontendKeyChooser) RequestSelection(ctx context.Context) {
	c.mu.RLock()
	appCtx := c.ctx
	c.mu.RUnlock()

	if appCtx == nil {
		fmt.Printf("[App] Warning: key selection requested before startup\n")
		return
	}
	runtime.EventsEmit(appCtx, "provider:request-key")
}
