package provider

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"

	"covergen/core/types"
)

func imageResponse(mime string, payloads ...[]byte) *genai.GenerateContentResponse {
	parts := make([]*genai.Part, 0, len(payloads))
	for _, p := range payloads {
		parts = append(parts, &genai.Part{InlineData: &genai.Blob{MIMEType: mime, Data: p}})
	}
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{
			{Content: &genai.Content{Parts: parts}},
		},
	}
}

type geminiCall struct {
	model string
}

// stubGemini 记录每次调用并按序返回预设结果
func stubGemini(t *testing.T, p *GeminiProvider, results []func(model string) (*genai.GenerateContentResponse, error)) *[]geminiCall {
	t.Helper()
	calls := &[]geminiCall{}
	p.callFn = func(ctx context.Context, apiKey, model string, parts []*genai.Part, cfg *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
		idx := len(*calls)
		*calls = append(*calls, geminiCall{model: model})
		require.Less(t, idx, len(results), "unexpected extra gemini call")
		return results[idx](model)
	}
	return calls
}

func geminiInput(model string) GenerateInput {
	return GenerateInput{
		Request: types.CoverRequest{MainTitle: "标题", SubTitle: "副标题", AspectRatio: "16:9"},
		Model:   model,
		APIKey:  "test-key-123",
	}
}

func TestGeminiGenerateReturnsDataURIs(t *testing.T) {
	p := NewGeminiProvider(GeminiConfig{})
	stubGemini(t, p, []func(string) (*genai.GenerateContentResponse, error){
		func(string) (*genai.GenerateContentResponse, error) {
			return imageResponse("image/jpeg", []byte("one"), []byte("two")), nil
		},
	})

	images, err := p.Generate(context.Background(), geminiInput(GeminiFallbackImageModel))
	require.NoError(t, err)
	require.Len(t, images, 2)
	assert.Contains(t, images[0], "data:image/jpeg;base64,")
	assert.Contains(t, images[1], "data:image/jpeg;base64,")
}

func TestGeminiDefaultsMimeToPNG(t *testing.T) {
	p := NewGeminiProvider(GeminiConfig{})
	stubGemini(t, p, []func(string) (*genai.GenerateContentResponse, error){
		func(string) (*genai.GenerateContentResponse, error) {
			return imageResponse("", []byte("raw")), nil
		},
	})

	images, err := p.Generate(context.Background(), geminiInput(GeminiFallbackImageModel))
	require.NoError(t, err)
	require.Len(t, images, 1)
	assert.Contains(t, images[0], "data:image/png;base64,")
}

func TestGeminiDowngradeOnProPermissionError(t *testing.T) {
	p := NewGeminiProvider(GeminiConfig{})
	calls := stubGemini(t, p, []func(string) (*genai.GenerateContentResponse, error){
		func(string) (*genai.GenerateContentResponse, error) {
			return nil, errors.New("rpc error: PERMISSION_DENIED: model access not granted")
		},
		func(model string) (*genai.GenerateContentResponse, error) {
			return imageResponse("image/png", []byte("fallback")), nil
		},
	})

	images, err := p.Generate(context.Background(), geminiInput(GeminiProImageModel))
	require.NoError(t, err)
	require.Len(t, images, 1)

	// 恰好两次调用：主尝试 + 一次固定回退模型重试
	require.Len(t, *calls, 2)
	assert.Equal(t, GeminiProImageModel, (*calls)[0].model)
	assert.Equal(t, GeminiFallbackImageModel, (*calls)[1].model)
}

func TestGeminiNoDowngradeForNonProModel(t *testing.T) {
	p := NewGeminiProvider(GeminiConfig{})
	calls := stubGemini(t, p, []func(string) (*genai.GenerateContentResponse, error){
		func(string) (*genai.GenerateContentResponse, error) {
			return nil, errors.New("PERMISSION_DENIED: bad key")
		},
	})

	_, err := p.Generate(context.Background(), geminiInput(GeminiFallbackImageModel))
	require.Error(t, err)
	assert.Equal(t, ErrKindPermission, KindOf(err))
	assert.Len(t, *calls, 1)
}

func TestGeminiQuotaErrorNoRetry(t *testing.T) {
	p := NewGeminiProvider(GeminiConfig{})
	calls := stubGemini(t, p, []func(string) (*genai.GenerateContentResponse, error){
		func(string) (*genai.GenerateContentResponse, error) {
			return nil, errors.New("RESOURCE_EXHAUSTED: quota exceeded")
		},
	})

	_, err := p.Generate(context.Background(), geminiInput(GeminiProImageModel))
	require.Error(t, err)
	assert.Equal(t, ErrKindQuota, KindOf(err))
	assert.Contains(t, UserMessage(err), "配额")
	assert.Len(t, *calls, 1)
}

func TestGeminiConnectivityErrorNoRetry(t *testing.T) {
	p := NewGeminiProvider(GeminiConfig{})
	stubGemini(t, p, []func(string) (*genai.GenerateContentResponse, error){
		func(string) (*genai.GenerateContentResponse, error) {
			return nil, errors.New("Post \"https://generativelanguage.googleapis.com\": dial tcp: no such host")
		},
	})

	_, err := p.Generate(context.Background(), geminiInput(GeminiFallbackImageModel))
	require.Error(t, err)
	assert.Equal(t, ErrKindConnectivity, KindOf(err))
}

func TestGeminiEmptyResultIsFailure(t *testing.T) {
	p := NewGeminiProvider(GeminiConfig{})
	stubGemini(t, p, []func(string) (*genai.GenerateContentResponse, error){
		func(string) (*genai.GenerateContentResponse, error) {
			// 调用成功但只有文本，没有图像
			return &genai.GenerateContentResponse{
				Candidates: []*genai.Candidate{
					{Content: &genai.Content{Parts: []*genai.Part{{Text: "sorry"}}}},
				},
			}, nil
		},
	})

	_, err := p.Generate(context.Background(), geminiInput(GeminiFallbackImageModel))
	require.Error(t, err)
	assert.Equal(t, ErrKindEmpty, KindOf(err))
}

func TestGeminiCheckCredentialVertexMode(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "")

	// Vertex 模式无需 API Key，凭证在调用时由 ADC 解析
	vertex := NewGeminiProvider(GeminiConfig{UseVertexAI: true, VertexProject: "demo-project"})
	assert.True(t, vertex.CheckCredential(""))

	plain := NewGeminiProvider(GeminiConfig{})
	assert.False(t, plain.CheckCredential(""))
	assert.True(t, plain.CheckCredential("AIza-saved-key"))
}

func TestGeminiMissingCredential(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "")

	p := NewGeminiProvider(GeminiConfig{})
	p.callFn = func(ctx context.Context, apiKey, model string, parts []*genai.Part, cfg *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
		t.Fatal("no call expected without credential")
		return nil, nil
	}

	input := geminiInput(GeminiFallbackImageModel)
	input.APIKey = ""
	_, err := p.Generate(context.Background(), input)
	require.Error(t, err)
	assert.Equal(t, ErrKindConfig, KindOf(err))
}

func TestGeminiPartsOrder(t *testing.T) {
	p := NewGeminiProvider(GeminiConfig{})

	var gotParts []*genai.Part
	p.callFn = func(ctx context.Context, apiKey, model string, parts []*genai.Part, cfg *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
		gotParts = parts
		return imageResponse("image/png", []byte("ok")), nil
	}

	input := geminiInput(GeminiFallbackImageModel)
	input.Request.SubjectImage = "data:image/jpeg;base64,c3ViamVjdA=="
	input.Request.ReferenceImage = "data:image/png;base64,cmVmZXJlbmNl"

	_, err := p.Generate(context.Background(), input)
	require.NoError(t, err)

	// 固定顺序：主体图、主体标注、参考图、参考标注、提示词
	require.Len(t, gotParts, 5)
	require.NotNil(t, gotParts[0].InlineData)
	assert.Equal(t, "image/jpeg", gotParts[0].InlineData.MIMEType)
	assert.Contains(t, gotParts[1].Text, "SUBJECT")
	require.NotNil(t, gotParts[2].InlineData)
	assert.Equal(t, "image/png", gotParts[2].InlineData.MIMEType)
	assert.Contains(t, gotParts[3].Text, "REFERENCE")
	assert.Contains(t, gotParts[4].Text, `"标题"`)
}

func TestGeminiProModelRequestsLargerOutput(t *testing.T) {
	p := NewGeminiProvider(GeminiConfig{})

	var gotCfg *genai.GenerateContentConfig
	p.callFn = func(ctx context.Context, apiKey, model string, parts []*genai.Part, cfg *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
		gotCfg = cfg
		return imageResponse("image/png", []byte("ok")), nil
	}

	_, err := p.Generate(context.Background(), geminiInput(GeminiProImageModel))
	require.NoError(t, err)
	require.NotNil(t, gotCfg.ImageConfig)
	assert.Equal(t, "16:9", gotCfg.ImageConfig.AspectRatio)
	assert.Equal(t, "2K", gotCfg.ImageConfig.ImageSize)

	// 非高级档不带尺寸提示
	_, err = p.Generate(context.Background(), geminiInput(GeminiFallbackImageModel))
	require.NoError(t, err)
	assert.Empty(t, gotCfg.ImageConfig.ImageSize)
}
