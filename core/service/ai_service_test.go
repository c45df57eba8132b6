package service

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"covergen/core/provider"
	"covergen/core/types"
)

// stubProvider 记录调用并返回预设结果的提供商
type stubProvider struct {
	name   string
	images []string
	err    error
	cred   func(savedKey string) bool
	calls  int
}

func (s *stubProvider) Name() string { return s.name }

func (s *stubProvider) Generate(ctx context.Context, input provider.GenerateInput) ([]string, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return s.images, nil
}

func (s *stubProvider) CheckCredential(savedKey string) bool {
	if s.cred != nil {
		return s.cred(savedKey)
	}
	return provider.CheckCredential(s.name, savedKey, nil)
}

// newTestAIService 构造绑定临时配置目录的编排器，并用桩替换指定提供商
func newTestAIService(t *testing.T, activeProvider, apiKey string, stub *stubProvider) *AIService {
	t.Helper()

	config := newTestConfigService(t, t.TempDir())
	settings := config.Settings()
	settings.AI.ActiveProvider = activeProvider
	if apiKey != "" {
		settings.AI.APIKeys[activeProvider] = apiKey
	}
	payload, err := json.Marshal(settings)
	require.NoError(t, err)
	require.NoError(t, config.SaveSettings(string(payload)))

	a := NewAIService(config, nil, nil)
	a.Startup(context.Background())
	t.Cleanup(a.Shutdown)

	if stub != nil {
		a.registry.Register(stub)
	}
	return a
}

func coverParamsJSON(t *testing.T) string {
	t.Helper()
	data, err := json.Marshal(types.CoverRequest{
		MainTitle:   "年度总结",
		SubTitle:    "2026",
		Platform:    "bilibili",
		AspectRatio: "16:9",
	})
	require.NoError(t, err)
	return string(data)
}

func TestGenerateCoverSuccess(t *testing.T) {
	stub := &stubProvider{
		name:   provider.ProviderSiliconFlow,
		images: []string{"https://img.example.com/cover.png"},
	}
	a := newTestAIService(t, provider.ProviderSiliconFlow, "sk-test-123", stub)

	resultJSON, err := a.GenerateCover(coverParamsJSON(t), "req-1")
	require.NoError(t, err)
	assert.Equal(t, 1, stub.calls)

	var result types.GenerationResult
	require.NoError(t, json.Unmarshal([]byte(resultJSON), &result))
	assert.Equal(t, []string{"https://img.example.com/cover.png"}, result.Images)
	assert.Equal(t, provider.ProviderSiliconFlow, result.Provider)
	assert.Equal(t, "Kwai-Kolors/Kolors", result.Model)
}

func TestGenerateCoverCredentialPrecheck(t *testing.T) {
	// Key 过短，预检失败，提供商不应被调用
	stub := &stubProvider{name: provider.ProviderSiliconFlow}
	a := newTestAIService(t, provider.ProviderSiliconFlow, "abc", stub)

	_, err := a.GenerateCover(coverParamsJSON(t), "req-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SiliconFlow 硅基流动")
	assert.Contains(t, err.Error(), "API Key")
	assert.Equal(t, 0, stub.calls)
}

func TestGenerateCoverUnknownProvider(t *testing.T) {
	config := newTestConfigService(t, t.TempDir())
	a := NewAIService(config, nil, nil)
	a.Startup(context.Background())
	t.Cleanup(a.Shutdown)

	// 绕过 SaveSettings 的校正，直接注入非法设置
	a.configService.settings.AI.ActiveProvider = "midjourney"
	a.configService.settings.AI.APIKeys["midjourney"] = "sk-test-123"

	_, err := a.GenerateCover(coverParamsJSON(t), "req-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "未知的 AI 提供商")
}

func TestGenerateCoverSurfacesUserMessage(t *testing.T) {
	stub := &stubProvider{
		name: provider.ProviderDashScope,
		err:  provider.NewError(provider.ErrKindQuota, "阿里云百炼 配额已用尽", nil),
	}
	a := newTestAIService(t, provider.ProviderDashScope, "sk-test-123", stub)

	_, err := a.GenerateCover(coverParamsJSON(t), "req-1")
	require.Error(t, err)
	// 错误在编排器边界转为用户可读消息，不携带内部包装
	assert.Equal(t, "阿里云百炼 配额已用尽", err.Error())
}

func TestGenerateCoverInvalidParams(t *testing.T) {
	a := newTestAIService(t, provider.ProviderSiliconFlow, "sk-test-123", nil)

	_, err := a.GenerateCover("{bad json", "req-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid parameters")
}

func TestGenerateCoverCredentialDelegatedToAdapter(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "")

	// Vertex 模式下没有任何 API Key，凭证判断必须由适配器给出
	config := newTestConfigService(t, t.TempDir())
	settings := config.Settings()
	settings.AI.ActiveProvider = provider.ProviderGemini
	settings.AI.UseVertexAI = true
	settings.AI.VertexProject = "demo-project"
	payload, err := json.Marshal(settings)
	require.NoError(t, err)
	require.NoError(t, config.SaveSettings(string(payload)))

	a := NewAIService(config, nil, nil)
	a.Startup(context.Background())
	t.Cleanup(a.Shutdown)

	stub := &stubProvider{
		name:   provider.ProviderGemini,
		images: []string{"data:image/png;base64,aGVsbG8="},
		cred:   func(string) bool { return true },
	}
	a.registry.Register(stub)

	_, err = a.GenerateCover(coverParamsJSON(t), "req-1")
	require.NoError(t, err)
	assert.Equal(t, 1, stub.calls)
}

func TestReloadProvidersKeepsRegistryInstance(t *testing.T) {
	a := newTestAIService(t, provider.ProviderSiliconFlow, "sk-test-123", nil)
	reg := a.registry

	// 重载与在途查询并发执行，注册表实例不被替换
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			a.ReloadProviders()
		}()
		go func() {
			defer wg.Done()
			reg.Get(provider.ProviderSiliconFlow)
		}()
	}
	wg.Wait()

	assert.Same(t, reg, a.registry)
	p, err := a.registry.Get(provider.ProviderGemini)
	require.NoError(t, err)
	assert.NotNil(t, p)
}

func TestCheckProviderAvailability(t *testing.T) {
	a := newTestAIService(t, provider.ProviderSiliconFlow, "sk-test-123", nil)

	available, message, err := a.CheckProviderAvailability(provider.ProviderSiliconFlow)
	require.NoError(t, err)
	assert.True(t, available)
	assert.Empty(t, message)

	available, message, err = a.CheckProviderAvailability(provider.ProviderDashScope)
	require.NoError(t, err)
	assert.False(t, available)
	assert.Contains(t, message, "阿里云百炼")

	_, _, err = a.CheckProviderAvailability("midjourney")
	require.Error(t, err)
}

func TestCheckProviderAvailabilityVertexWithoutKey(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "")

	config := newTestConfigService(t, t.TempDir())
	settings := config.Settings()
	settings.AI.UseVertexAI = true
	settings.AI.VertexProject = "demo-project"
	settings.AI.VertexLocation = "us-central1"
	payload, err := json.Marshal(settings)
	require.NoError(t, err)
	require.NoError(t, config.SaveSettings(string(payload)))

	a := NewAIService(config, nil, nil)
	a.Startup(context.Background())
	t.Cleanup(a.Shutdown)

	// Vertex 模式下即使没有保存 Key，Gemini 也视为可用（凭证在调用时走 ADC）
	available, message, err := a.CheckProviderAvailability(provider.ProviderGemini)
	require.NoError(t, err)
	assert.True(t, available)
	assert.Empty(t, message)
}

func TestCancelRequest(t *testing.T) {
	a := newTestAIService(t, provider.ProviderSiliconFlow, "sk-test-123", nil)

	ctx := a.contextManager.Create("req-cancel")
	require.NoError(t, a.CancelRequest("req-cancel"))
	assert.ErrorIs(t, ctx.Err(), context.Canceled)

	assert.Error(t, a.CancelRequest("unknown-request"))
}

func TestGenerateCoverRecordsHistory(t *testing.T) {
	history := NewHistoryService()
	require.NoError(t, history.initialize(nil, t.TempDir()))
	t.Cleanup(func() { history.Shutdown() })

	stub := &stubProvider{
		name:   provider.ProviderSiliconFlow,
		images: []string{"data:image/png;base64,aGVsbG8="},
	}

	config := newTestConfigService(t, t.TempDir())
	settings := config.Settings()
	settings.AI.ActiveProvider = provider.ProviderSiliconFlow
	settings.AI.APIKeys[provider.ProviderSiliconFlow] = "sk-test-123"
	payload, _ := json.Marshal(settings)
	require.NoError(t, config.SaveSettings(string(payload)))

	a := NewAIService(config, history, nil)
	a.Startup(context.Background())
	t.Cleanup(a.Shutdown)
	a.registry.Register(stub)

	_, err := a.GenerateCover(coverParamsJSON(t), "req-1")
	require.NoError(t, err)

	recordsJSON, err := history.LoadHistory()
	require.NoError(t, err)

	var records []CoverRecord
	require.NoError(t, json.Unmarshal([]byte(recordsJSON), &records))
	require.Len(t, records, 1)
	assert.Equal(t, provider.ProviderSiliconFlow, records[0].Provider)
	require.Len(t, records[0].Images, 1)
	// 历史中的图像已转为本地引用
	assert.Contains(t, records[0].Images[0], "images/")
}
