package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"covergen/core/provider"
	"covergen/core/types"
)

// ==================== AIService 生成编排器 ====================

// AIService 封面生成编排器
// 持有提供商注册表，按设置分发请求，结果写入历史
type AIService struct {
	ctx            context.Context
	configService  *ConfigService
	historyService *HistoryService
	chooser        provider.KeyChooser

	registry       *provider.Registry
	contextManager *ContextManager
}

// NewAIService 创建 AI 服务实例
// chooser 为宿主环境的交互式凭证选择能力，传 nil 时使用空实现
func NewAIService(configService *ConfigService, historyService *HistoryService, chooser provider.KeyChooser) *AIService {
	if chooser == nil {
		chooser = provider.NopKeyChooser()
	}
	return &AIService{
		configService:  configService,
		historyService: historyService,
		chooser:        chooser,
		registry:       provider.NewRegistry(),
	}
}

// Startup 在应用启动时调用
func (a *AIService) Startup(ctx context.Context) {
	a.ctx = ctx
	a.contextManager = NewContextManager(ctx)
	a.contextManager.StartCleanupRoutine()
	a.registerProviders()
}

// Shutdown 在应用关闭时调用
func (a *AIService) Shutdown() {
	if a.contextManager != nil {
		a.contextManager.Stop()
	}
}

// registerProviders 按当前设置注册全部提供商实现
// Gemini 依赖 Vertex 配置，设置变更后需要重新注册
func (a *AIService) registerProviders() {
	ai := a.configService.Settings().AI

	a.registry.Register(provider.NewGeminiProvider(provider.GeminiConfig{
		UseVertexAI:    ai.UseVertexAI,
		VertexProject:  ai.VertexProject,
		VertexLocation: ai.VertexLocation,
		Chooser:        a.chooser,
	}))
	a.registry.Register(provider.NewSiliconFlowProvider())
	a.registry.Register(provider.NewOpenAIProvider(""))
	a.registry.Register(provider.NewDashScopeProvider())
}

// ReloadProviders 设置变更后按最新设置重新注册提供商
// 同名覆盖写入既有注册表，注册表实例不变，与在途请求的读取互不冲突
func (a *AIService) ReloadProviders() {
	fmt.Printf("[AIService] Reloading providers due to configuration change\n")
	a.registerProviders()
}

// ==================== 公共 API 方法 ====================

// GenerateCover 生成封面
// paramsJSON: JSON 格式的 CoverRequest
// requestID: 请求 ID，用于管理 context 和取消请求
// 返回 JSON 格式的 GenerationResult；错误在此统一转为用户可读消息
func (a *AIService) GenerateCover(paramsJSON string, requestID string) (string, error) {
	var req types.CoverRequest
	if err := json.Unmarshal([]byte(paramsJSON), &req); err != nil {
		return "", fmt.Errorf("invalid parameters: %w", err)
	}

	reqCtx := a.contextManager.Create(requestID)
	defer a.contextManager.Cleanup(requestID)

	result, err := a.generate(reqCtx, req)
	if err != nil {
		return "", errors.New(provider.UserMessage(err))
	}

	data, err := json.Marshal(result)
	if err != nil {
		return "", fmt.Errorf("failed to serialize result: %w", err)
	}
	return string(data), nil
}

// generate 执行一次生成：解析设置、凭证预检、分发、记录历史
func (a *AIService) generate(ctx context.Context, req types.CoverRequest) (*types.GenerationResult, error) {
	ai := a.configService.Settings().AI

	providerID := ai.ActiveProvider
	info, ok := provider.CatalogInfo(providerID)
	if !ok {
		return nil, provider.NewError(provider.ErrKindConfig,
			fmt.Sprintf("未知的 AI 提供商: %s", providerID), nil)
	}

	model := ai.SelectedModels[providerID]
	if model == "" {
		model = provider.DefaultModel(providerID)
	}
	apiKey := ai.APIKeys[providerID]

	p, err := a.registry.Get(providerID)
	if err != nil {
		return nil, err
	}

	// 凭证预检交给适配器自行判断（如 Gemini 的 Vertex/环境变量回退），
	// 不通过时直接拒绝，不发起任何网络请求
	if !p.CheckCredential(apiKey) {
		return nil, provider.NewError(provider.ErrKindConfig,
			fmt.Sprintf("%s 的 API Key 未配置或无效，请在设置中填写", info.DisplayName), nil)
	}

	fmt.Printf("[AIService] Generating cover via %s (model=%s, platform=%s, ratio=%s)\n",
		providerID, model, req.Platform, req.AspectRatio)

	images, err := p.Generate(ctx, provider.GenerateInput{
		Request: req,
		Model:   model,
		APIKey:  apiKey,
	})
	if err != nil {
		fmt.Printf("[AIService] Generation failed (%s): %v\n", provider.KindOf(err), err)
		return nil, err
	}

	a.recordHistory(req, providerID, model, images)

	return &types.GenerationResult{
		Images:   images,
		Provider: providerID,
		Model:    model,
	}, nil
}

// recordHistory 将生成结果写入历史，失败只记日志不影响返回
func (a *AIService) recordHistory(req types.CoverRequest, providerID, model string, images []string) {
	if a.historyService == nil {
		return
	}
	err := a.historyService.Append(CoverRecord{
		ID:        uuid.NewString(),
		Request:   req,
		Provider:  providerID,
		Model:     model,
		Images:    images,
		CreatedAt: time.Now().Unix(),
	})
	if err != nil {
		fmt.Printf("[AIService] Warning: failed to record history: %v\n", err)
	}
}

// CheckProviderAvailability 检测提供商的凭证可用性（浅层检查，不发网络请求）
// 返回是否可用和不可用时的说明
func (a *AIService) CheckProviderAvailability(providerID string) (bool, string, error) {
	info, ok := provider.CatalogInfo(providerID)
	if !ok {
		return false, "", fmt.Errorf("unknown provider: %s", providerID)
	}

	p, err := a.registry.Get(providerID)
	if err != nil {
		return false, "", err
	}

	apiKey := a.configService.Settings().AI.APIKeys[providerID]
	if !p.CheckCredential(apiKey) {
		return false, fmt.Sprintf("%s 的 API Key 未配置或无效", info.DisplayName), nil
	}
	return true, "", nil
}

// RequestKeySelection 触发宿主环境的交互式凭证选择（仅 Gemini 支持）
func (a *AIService) RequestKeySelection(providerID string) {
	ctx := a.ctx
	if ctx == nil {
		ctx = context.Background()
	}
	provider.RequestKeySelection(ctx, providerID, a.chooser)
}

// CancelRequest 取消指定请求
func (a *AIService) CancelRequest(requestID string) error {
	if a.contextManager == nil {
		return fmt.Errorf("context manager not initialized")
	}
	return a.contextManager.Cancel(requestID)
}
