package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	siliconFlowBaseURL = "https://api.siliconflow.cn"

	// 文生图推理步数，固定值
	siliconFlowSteps = 20
)

// 为文字渲染较弱的模型追加的准确性后缀
const textAccuracySuffix = "\nRender all text in the image accurately, character by character, without any spelling mistakes."

// 宽高比到 SiliconFlow image_size 参数的映射
var siliconFlowSizes = map[string]string{
	"16:9": "1280x720",
	"4:3":  "1024x768",
	"3:4":  "768x1024",
	"9:16": "720x1280",
	"1:1":  "1024x1024",
}

// SiliconFlowProvider SiliconFlow 文生图（同步 REST，不支持图像输入）
type SiliconFlowProvider struct {
	baseURL string
	client  *http.Client
}

// NewSiliconFlowProvider 创建 SiliconFlow 提供商
func NewSiliconFlowProvider() *SiliconFlowProvider {
	return &SiliconFlowProvider{
		baseURL: siliconFlowBaseURL,
		client:  &http.Client{Timeout: 120 * time.Second},
	}
}

func (p *SiliconFlowProvider) Name() string { return ProviderSiliconFlow }

func (p *SiliconFlowProvider) CheckCredential(savedKey string) bool {
	return CheckCredential(ProviderSiliconFlow, savedKey, nil)
}

type siliconFlowRequest struct {
	Model             string `json:"model"`
	Prompt            string `json:"prompt"`
	ImageSize         string `json:"image_size"`
	NumInferenceSteps int    `json:"num_inference_steps"`
}

type siliconFlowResponse struct {
	Data []struct {
		URL string `json:"url"`
	} `json:"data"`
}

type siliconFlowError struct {
	Message string `json:"message"`
	Error   struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Generate 执行一次文生图调用
// 该提供商不接受图像条件输入，附带的主体图/参考图被忽略
func (p *SiliconFlowProvider) Generate(ctx context.Context, input GenerateInput) ([]string, error) {
	if strings.TrimSpace(input.APIKey) == "" {
		return nil, NewError(ErrKindConfig, "未配置 SiliconFlow API Key，请在设置中填写", nil)
	}

	size := siliconFlowSizes[input.Request.AspectRatio]
	if size == "" {
		size = siliconFlowSizes["16:9"]
	}

	body := siliconFlowRequest{
		Model:             input.Model,
		Prompt:            buildPromptText(input.Request) + textAccuracySuffix,
		ImageSize:         size,
		NumInferenceSteps: siliconFlowSteps,
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	url := strings.TrimRight(p.baseURL, "/") + "/v1/images/generations"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+input.APIKey)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, ClassifyRemoteError("SiliconFlow", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, ClassifyRemoteError("SiliconFlow", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := parseSiliconFlowError(respBody)
		if msg == "" {
			msg = resp.Status
		}
		return nil, ClassifyRemoteError("SiliconFlow",
			fmt.Errorf("status %d: %s", resp.StatusCode, msg))
	}

	var result siliconFlowResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	urls := make([]string, 0, len(result.Data))
	for _, d := range result.Data {
		if d.URL != "" {
			urls = append(urls, d.URL)
		}
	}
	if len(urls) == 0 {
		return nil, NewError(ErrKindEmpty, "SiliconFlow 未返回任何图像数据", nil)
	}
	return urls, nil
}

// parseSiliconFlowError 从错误响应体中提取 message 字段
func parseSiliconFlowError(body []byte) string {
	var errBody siliconFlowError
	if err := json.Unmarshal(body, &errBody); err != nil {
		return strings.TrimSpace(string(body))
	}
	if errBody.Message != "" {
		return errBody.Message
	}
	return errBody.Error.Message
}
