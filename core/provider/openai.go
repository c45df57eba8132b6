package provider

import (
	"context"
	"errors"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// 宽高比到 OpenAI 图像尺寸的映射
// gpt-image-1 与 DALL-E 3 仅支持固定档位，按最接近的比例取值
var openAISizes = map[string]string{
	"16:9": "1792x1024",
	"9:16": "1024x1792",
	"4:3":  "1792x1024",
	"3:4":  "1024x1792",
	"1:1":  "1024x1024",
}

// OpenAIProvider OpenAI 兼容的图像生成接口（DALL-E / GPT Image 及第三方中继）
type OpenAIProvider struct {
	baseURL string

	// newClient 可替换以便单测注入假客户端
	newClient func(apiKey string) openAIImageClient
}

type openAIImageClient interface {
	CreateImage(ctx context.Context, request openai.ImageRequest) (openai.ImageResponse, error)
}

// NewOpenAIProvider 创建 OpenAI 兼容提供商
// baseURL 为空时使用官方端点
func NewOpenAIProvider(baseURL string) *OpenAIProvider {
	p := &OpenAIProvider{baseURL: baseURL}
	p.newClient = func(apiKey string) openAIImageClient {
		cfg := openai.DefaultConfig(apiKey)
		if p.baseURL != "" {
			cfg.BaseURL = strings.TrimRight(p.baseURL, "/") + "/v1"
		}
		return openai.NewClientWithConfig(cfg)
	}
	return p
}

func (p *OpenAIProvider) Name() string { return ProviderOpenAI }

func (p *OpenAIProvider) CheckCredential(savedKey string) bool {
	return CheckCredential(ProviderOpenAI, savedKey, nil)
}

// Generate 执行一次文生图调用
// 与 SiliconFlow 相同，不接受图像条件输入
func (p *OpenAIProvider) Generate(ctx context.Context, input GenerateInput) ([]string, error) {
	if strings.TrimSpace(input.APIKey) == "" {
		return nil, NewError(ErrKindConfig, "未配置 OpenAI API Key，请在设置中填写", nil)
	}

	size := openAISizes[input.Request.AspectRatio]
	if size == "" {
		size = openAISizes["1:1"]
	}

	client := p.newClient(input.APIKey)
	resp, err := client.CreateImage(ctx, openai.ImageRequest{
		Model:  input.Model,
		Prompt: buildPromptText(input.Request),
		N:      1,
		Size:   size,
	})
	if err != nil {
		return nil, classifyOpenAIError(err)
	}

	refs := make([]string, 0, len(resp.Data))
	for _, d := range resp.Data {
		switch {
		case d.URL != "":
			refs = append(refs, d.URL)
		case d.B64JSON != "":
			refs = append(refs, "data:image/png;base64,"+d.B64JSON)
		}
	}
	if len(refs) == 0 {
		return nil, NewError(ErrKindEmpty, "OpenAI 未返回任何图像数据", nil)
	}
	return refs, nil
}

// classifyOpenAIError 结合 HTTP 状态码和消息对 go-openai 错误分类
func classifyOpenAIError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		wrapped := fmt.Errorf("status %d: %s", apiErr.HTTPStatusCode, apiErr.Message)
		return ClassifyRemoteError("OpenAI", wrapped)
	}
	return ClassifyRemoteError("OpenAI", err)
}
