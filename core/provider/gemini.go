package provider

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"

	"cloud.google.com/go/auth/credentials"
	"google.golang.org/genai"
)

// GeminiConfig Gemini 提供商配置
type GeminiConfig struct {
	// Vertex AI 环境级凭证回退（无 API Key 时使用 ADC）
	UseVertexAI    bool
	VertexProject  string
	VertexLocation string

	// 宿主环境的交互式凭证选择能力，nil 时使用空实现
	Chooser KeyChooser
}

// geminiCallFn 执行一次多模态生成调用
// 独立成函数以便降级重试管线脱离网络层单测
type geminiCallFn func(ctx context.Context, apiKey, model string, parts []*genai.Part, cfg *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)

// GeminiProvider Gemini 多模态图像生成（图+文输入，同步返回内联图像）
type GeminiProvider struct {
	cfg    GeminiConfig
	callFn geminiCallFn
}

// NewGeminiProvider 创建 Gemini 提供商
func NewGeminiProvider(cfg GeminiConfig) *GeminiProvider {
	if cfg.Chooser == nil {
		cfg.Chooser = NopKeyChooser()
	}
	p := &GeminiProvider{cfg: cfg}
	p.callFn = p.callGemini
	return p
}

func (p *GeminiProvider) Name() string { return ProviderGemini }

// CheckCredential 宿主已选择凭证、保存的 Key 或环境变量任一存在即可用
// 启用 Vertex AI 时无需 API Key，凭证在调用时走应用默认凭证（ADC）解析
func (p *GeminiProvider) CheckCredential(savedKey string) bool {
	if p.cfg.UseVertexAI {
		return true
	}
	return CheckCredential(ProviderGemini, savedKey, p.cfg.Chooser)
}

// isProModel 判断模型是否为高级档（命名中带 -pro- 的图像模型）
func isProModel(model string) bool {
	return strings.Contains(model, "-pro-")
}

// Generate 执行一次封面生成
// 流程：解析凭证 -> 组装多模态 parts -> 主调用 -> 分类失败并按需降级重试一次
func (p *GeminiProvider) Generate(ctx context.Context, input GenerateInput) ([]string, error) {
	apiKey := strings.TrimSpace(input.APIKey)
	if apiKey == "" {
		apiKey = geminiEnvKey()
	}
	if apiKey == "" && !p.cfg.UseVertexAI {
		return nil, NewError(ErrKindConfig, "未配置 Gemini API Key，请在设置中填写或选择凭证", nil)
	}

	parts, err := p.buildParts(input)
	if err != nil {
		return nil, err
	}

	images, err := p.generateOnce(ctx, apiKey, input.Model, parts, input.Request.AspectRatio)
	if err == nil {
		return images, nil
	}

	// 高级档模型权限被拒时，用回退模型重试一次（复用已组装的 parts）
	// 这是该适配器唯一的重试策略：单次有界尝试，不做退避循环
	if IsPermissionError(err) && isProModel(input.Model) {
		fmt.Printf("[GeminiProvider] 模型 %s 权限被拒，降级到 %s 重试\n", input.Model, GeminiFallbackImageModel)
		images, retryErr := p.generateOnce(ctx, apiKey, GeminiFallbackImageModel, parts, input.Request.AspectRatio)
		if retryErr == nil {
			return images, nil
		}
		return nil, retryErr
	}

	return nil, err
}

// generateOnce 单次调用：发请求、分类错误、抽取内联图像
func (p *GeminiProvider) generateOnce(ctx context.Context, apiKey, model string, parts []*genai.Part, aspectRatio string) ([]string, error) {
	cfg := &genai.GenerateContentConfig{
		ResponseModalities: []string{"IMAGE", "TEXT"},
		ImageConfig:        &genai.ImageConfig{AspectRatio: aspectRatio},
	}
	// 高级档模型额外请求更大的输出尺寸
	if isProModel(model) {
		cfg.ImageConfig.ImageSize = "2K"
	}

	resp, err := p.callFn(ctx, apiKey, model, parts, cfg)
	if err != nil {
		return nil, ClassifyRemoteError("Gemini", err)
	}

	images := extractInlineImages(resp)
	if len(images) == 0 {
		// 调用成功但没有图像载荷，视为提供商侧异常而非网络错误
		return nil, NewError(ErrKindEmpty, "Gemini 未返回任何图像，请调整提示词后重试", nil)
	}
	return images, nil
}

// buildParts 组装多模态请求片段
// 固定顺序：主体图（带角色标注）、参考图（带角色标注）、提示词文本最后
func (p *GeminiProvider) buildParts(input GenerateInput) ([]*genai.Part, error) {
	var parts []*genai.Part

	if input.Request.SubjectImage != "" {
		mime, data, err := parseDataURL(input.Request.SubjectImage)
		if err != nil {
			return nil, NewError(ErrKindConfig, "主体图数据无效", err)
		}
		parts = append(parts,
			&genai.Part{InlineData: &genai.Blob{MIMEType: mime, Data: data}},
			genai.NewPartFromText("The image above is the SUBJECT image."),
		)
	}

	if input.Request.ReferenceImage != "" {
		mime, data, err := parseDataURL(input.Request.ReferenceImage)
		if err != nil {
			return nil, NewError(ErrKindConfig, "参考图数据无效", err)
		}
		parts = append(parts,
			&genai.Part{InlineData: &genai.Blob{MIMEType: mime, Data: data}},
			genai.NewPartFromText("The image above is the REFERENCE image."),
		)
	}

	parts = append(parts, genai.NewPartFromText(buildPromptText(input.Request)))
	return parts, nil
}

// callGemini 真实的网络调用实现
func (p *GeminiProvider) callGemini(ctx context.Context, apiKey, model string, parts []*genai.Part, cfg *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	clientConfig := &genai.ClientConfig{}

	if apiKey != "" {
		clientConfig.APIKey = apiKey
		clientConfig.Backend = genai.BackendGeminiAPI
	} else {
		// 环境级回退：Vertex AI + 应用默认凭证
		creds, err := credentials.DetectDefault(&credentials.DetectOptions{
			Scopes: []string{"https://www.googleapis.com/auth/cloud-platform"},
		})
		if err != nil {
			return nil, NewError(ErrKindConfig, "未找到可用的 Google 应用默认凭证", err)
		}
		clientConfig.Backend = genai.BackendVertexAI
		clientConfig.Project = p.cfg.VertexProject
		clientConfig.Location = p.cfg.VertexLocation
		clientConfig.Credentials = creds
	}

	client, err := genai.NewClient(ctx, clientConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}

	contents := []*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)}
	return client.Models.GenerateContent(ctx, model, contents, cfg)
}

// extractInlineImages 抽取首个候选中的全部内联图像，转为 data URI
// MIME 类型缺失时默认 image/png
func extractInlineImages(resp *genai.GenerateContentResponse) []string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return nil
	}

	var images []string
	for _, part := range resp.Candidates[0].Content.Parts {
		if part.InlineData == nil || len(part.InlineData.Data) == 0 {
			continue
		}
		mime := part.InlineData.MIMEType
		if mime == "" {
			mime = "image/png"
		}
		encoded := base64.StdEncoding.EncodeToString(part.InlineData.Data)
		images = append(images, fmt.Sprintf("data:%s;base64,%s", mime, encoded))
	}
	return images
}

// parseDataURL 解析 data URL，返回 MIME 类型和解码后的字节
func parseDataURL(dataURL string) (string, []byte, error) {
	if !strings.HasPrefix(dataURL, "data:") {
		return "", nil, fmt.Errorf("not a data URL")
	}

	comma := strings.IndexByte(dataURL, ',')
	if comma < 0 {
		return "", nil, fmt.Errorf("invalid data URL format")
	}

	meta := dataURL[len("data:"):comma]
	mime := strings.Split(meta, ";")[0]
	if mime == "" {
		mime = "image/png"
	}

	data, err := base64.StdEncoding.DecodeString(dataURL[comma+1:])
	if err != nil {
		return "", nil, fmt.Errorf("failed to decode base64 payload: %w", err)
	}
	return mime, data, nil
}
