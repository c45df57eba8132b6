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
	dashScopeBaseURL = "https://dashscope.aliyuncs.com/api/v1"

	// 轮询预算：固定间隔、固定最大次数，超出即超时
	dashScopePollInterval = time.Second
	dashScopeMaxPolls     = 30
)

// 宽高比到万相 size 参数的映射（格式为 宽*高）
var dashScopeSizes = map[string]string{
	"16:9": "1280*720",
	"4:3":  "1024*768",
	"3:4":  "768*1024",
	"9:16": "720*1280",
	"1:1":  "1024*1024",
}

// DashScopeProvider 阿里云百炼文生图（提交任务 + 轮询结果的异步模式）
type DashScopeProvider struct {
	baseURL      string
	client       *http.Client
	pollInterval time.Duration
	maxPolls     int
}

// NewDashScopeProvider 创建 DashScope 提供商
func NewDashScopeProvider() *DashScopeProvider {
	return &DashScopeProvider{
		baseURL:      dashScopeBaseURL,
		client:       &http.Client{Timeout: 60 * time.Second},
		pollInterval: dashScopePollInterval,
		maxPolls:     dashScopeMaxPolls,
	}
}

func (p *DashScopeProvider) Name() string { return ProviderDashScope }

func (p *DashScopeProvider) CheckCredential(savedKey string) bool {
	return CheckCredential(ProviderDashScope, savedKey, nil)
}

type dashScopeSubmitRequest struct {
	Model string `json:"model"`
	Input struct {
		Prompt string `json:"prompt"`
	} `json:"input"`
	Parameters struct {
		Size string `json:"size"`
		N    int    `json:"n"`
	} `json:"parameters"`
}

type dashScopeSubmitResponse struct {
	Output struct {
		TaskID string `json:"task_id"`
	} `json:"output"`
	Message string `json:"message"`
}

type dashScopeTaskResponse struct {
	Output struct {
		TaskStatus string `json:"task_status"`
		Results    []struct {
			URL string `json:"url"`
		} `json:"results"`
		Message string `json:"message"`
	} `json:"output"`
}

// Generate 提交生成任务并轮询至终态
// 状态机：PENDING/RUNNING -> SUCCEEDED | FAILED；轮询预算耗尽视为超时
func (p *DashScopeProvider) Generate(ctx context.Context, input GenerateInput) ([]string, error) {
	if strings.TrimSpace(input.APIKey) == "" {
		return nil, NewError(ErrKindConfig, "未配置阿里云百炼 API Key，请在设置中填写", nil)
	}

	taskID, err := p.submitTask(ctx, input)
	if err != nil {
		return nil, err
	}

	return p.pollTask(ctx, input.APIKey, taskID)
}

// submitTask 提交异步生成任务，返回任务 ID
func (p *DashScopeProvider) submitTask(ctx context.Context, input GenerateInput) (string, error) {
	body := dashScopeSubmitRequest{Model: input.Model}
	body.Input.Prompt = buildPromptText(input.Request) + textAccuracySuffix
	body.Parameters.Size = dashScopeSizes[input.Request.AspectRatio]
	if body.Parameters.Size == "" {
		body.Parameters.Size = dashScopeSizes["16:9"]
	}
	body.Parameters.N = 1

	payload, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	url := strings.TrimRight(p.baseURL, "/") + "/services/aigc/text2image/image-synthesis"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+input.APIKey)
	req.Header.Set("X-DashScope-Async", "enable")

	resp, err := p.client.Do(req)
	if err != nil {
		return "", ClassifyRemoteError("阿里云百炼", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", ClassifyRemoteError("阿里云百炼", err)
	}

	var result dashScopeSubmitResponse
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := resp.Status
		if json.Unmarshal(respBody, &result) == nil && result.Message != "" {
			msg = result.Message
		}
		return "", ClassifyRemoteError("阿里云百炼",
			fmt.Errorf("status %d: %s", resp.StatusCode, msg))
	}

	if err := json.Unmarshal(respBody, &result); err != nil {
		return "", fmt.Errorf("failed to parse submit response: %w", err)
	}
	if result.Output.TaskID == "" {
		return "", NewError(ErrKindProvider, "阿里云百炼未返回任务 ID", nil)
	}
	return result.Output.TaskID, nil
}

// pollTask 按固定间隔轮询任务状态直至终态或预算耗尽
// 单次轮询的瞬时 HTTP 失败计入已用次数，不视为致命错误
func (p *DashScopeProvider) pollTask(ctx context.Context, apiKey, taskID string) ([]string, error) {
	url := strings.TrimRight(p.baseURL, "/") + "/tasks/" + taskID

	for attempt := 0; attempt < p.maxPolls; attempt++ {
		select {
		case <-ctx.Done():
			return nil, ClassifyRemoteError("阿里云百炼", ctx.Err())
		case <-time.After(p.pollInterval):
		}

		status, err := p.queryTask(ctx, url, apiKey)
		if err != nil {
			fmt.Printf("[DashScopeProvider] 轮询任务 %s 失败（第 %d 次）: %v\n", taskID, attempt+1, err)
			continue
		}

		switch status.Output.TaskStatus {
		case "SUCCEEDED":
			urls := make([]string, 0, len(status.Output.Results))
			for _, r := range status.Output.Results {
				if r.URL != "" {
					urls = append(urls, r.URL)
				}
			}
			if len(urls) == 0 {
				return nil, NewError(ErrKindEmpty, "阿里云百炼任务成功但未返回图像", nil)
			}
			return urls, nil
		case "FAILED":
			msg := status.Output.Message
			if msg == "" {
				msg = "任务执行失败"
			}
			return nil, NewError(ErrKindProvider, "阿里云百炼生成失败: "+msg, nil)
		default:
			// PENDING / RUNNING，继续轮询
		}
	}

	return nil, NewError(ErrKindTimeout,
		fmt.Sprintf("阿里云百炼任务超时（等待超过 %d 秒），请稍后在控制台查看结果", p.maxPolls), nil)
}

// queryTask 查询一次任务状态
func (p *DashScopeProvider) queryTask(ctx context.Context, url, apiKey string) (*dashScopeTaskResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+apiKey)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("poll status %d", resp.StatusCode)
	}

	var result dashScopeTaskResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}
	return &result, nil
}
