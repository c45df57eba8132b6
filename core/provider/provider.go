package provider

import (
	"context"
	"fmt"
	"sync"

	"covergen/core/prompt"
	"covergen/core/types"
)

// 提供商 ID 常量
const (
	ProviderGemini      = "gemini"
	ProviderSiliconFlow = "siliconflow"
	ProviderOpenAI      = "openai"
	ProviderDashScope   = "dashscope"
)

// GenerateInput 统一的生成入参
// APIKey 来自设置中当前提供商的凭证，可能为空（Gemini 有环境级回退）
type GenerateInput struct {
	Request types.CoverRequest
	Model   string
	APIKey  string
}

// Provider 封面生成提供商的统一契约
// 每个实现负责把该契约翻译为一种提供商的线上协议
type Provider interface {
	// Name 返回提供商 ID
	Name() string

	// Generate 执行一次生成，返回图像引用（data URI 或远端 URL）
	// 失败时返回带用户可读消息的 GenerationError
	Generate(ctx context.Context, input GenerateInput) ([]string, error)

	// CheckCredential 判断当前保存的凭证是否可用（浅层格式检查，不发网络请求）
	CheckCredential(savedKey string) bool
}

// buildPromptText 构建最终发给提供商的提示词文本
func buildPromptText(req types.CoverRequest) string {
	return prompt.Build(req, false)
}

// Registry 提供商注册表
// 以提供商 ID 为键做多态分发，新增提供商只需注册实现，无需改动中心分支
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
}

// NewRegistry 创建空注册表
func NewRegistry() *Registry {
	return &Registry{providers: make(map[string]Provider)}
}

// Register 注册提供商实现，同名覆盖
func (r *Registry) Register(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[p.Name()] = p
}

// Get 按 ID 查找提供商
func (r *Registry) Get(name string) (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.providers[name]
	if !ok {
		return nil, NewError(ErrKindConfig, fmt.Sprintf("未知的 AI 提供商: %s", name), nil)
	}
	return p, nil
}

// Names 返回已注册的提供商 ID 列表
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	return names
}
