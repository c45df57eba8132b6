package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"covergen/core/types"
)

func siliconFlowInput() GenerateInput {
	return GenerateInput{
		Request: types.CoverRequest{MainTitle: "A", SubTitle: "B", AspectRatio: "16:9"},
		Model:   "Kwai-Kolors/Kolors",
		APIKey:  "sk-test-123",
	}
}

func newSiliconFlowTestProvider(handler http.HandlerFunc) (*SiliconFlowProvider, *httptest.Server) {
	srv := httptest.NewServer(handler)
	p := NewSiliconFlowProvider()
	p.baseURL = srv.URL
	return p, srv
}

func TestSiliconFlowGenerateSuccess(t *testing.T) {
	var gotBody siliconFlowRequest
	var gotAuth string

	p, srv := newSiliconFlowTestProvider(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/v1/images/generations", r.URL.Path)
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))

		json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]string{
				{"url": "https://img.example.com/1.png"},
				{"url": "https://img.example.com/2.png"},
			},
		})
	})
	defer srv.Close()

	urls, err := p.Generate(context.Background(), siliconFlowInput())
	require.NoError(t, err)
	assert.Equal(t, []string{"https://img.example.com/1.png", "https://img.example.com/2.png"}, urls)

	assert.Equal(t, "Bearer sk-test-123", gotAuth)
	assert.Equal(t, "Kwai-Kolors/Kolors", gotBody.Model)
	assert.Equal(t, "1280x720", gotBody.ImageSize)
	assert.Equal(t, siliconFlowSteps, gotBody.NumInferenceSteps)
	// 提示词包含原始标题和文字准确性后缀
	assert.Contains(t, gotBody.Prompt, `"A"`)
	assert.Contains(t, gotBody.Prompt, "without any spelling mistakes")
}

func TestSiliconFlowErrorBodyMessage(t *testing.T) {
	p, srv := newSiliconFlowTestProvider(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"message":"bad key"}`))
	})
	defer srv.Close()

	_, err := p.Generate(context.Background(), siliconFlowInput())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad key")
}

func TestSiliconFlowQuotaClassification(t *testing.T) {
	p, srv := newSiliconFlowTestProvider(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"message":"rate limit exceeded"}`))
	})
	defer srv.Close()

	_, err := p.Generate(context.Background(), siliconFlowInput())
	require.Error(t, err)
	assert.Equal(t, ErrKindQuota, KindOf(err))
}

func TestSiliconFlowEmptyData(t *testing.T) {
	p, srv := newSiliconFlowTestProvider(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":[]}`))
	})
	defer srv.Close()

	_, err := p.Generate(context.Background(), siliconFlowInput())
	require.Error(t, err)
	assert.Equal(t, ErrKindEmpty, KindOf(err))
}

func TestSiliconFlowMissingCredential(t *testing.T) {
	called := false
	p, srv := newSiliconFlowTestProvider(func(w http.ResponseWriter, r *http.Request) {
		called = true
	})
	defer srv.Close()

	input := siliconFlowInput()
	input.APIKey = ""
	_, err := p.Generate(context.Background(), input)
	require.Error(t, err)
	assert.Equal(t, ErrKindConfig, KindOf(err))
	assert.False(t, called, "凭证缺失时不应发起网络请求")
}
